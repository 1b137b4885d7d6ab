package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresBucket(t *testing.T) {
	_, err := NewClient(context.Background(), Config{Region: "us-east-1"})
	require.Error(t, err)
}

func TestPresignGet(t *testing.T) {
	c, err := NewClient(context.Background(), Config{
		Endpoint:  "http://minio.local:9000",
		Region:    "us-east-1",
		Bucket:    "invoices",
		AccessKey: "key",
		SecretKey: "secret",
	})
	require.NoError(t, err)

	url, err := c.PresignGet(context.Background(), "invoices/1/2/INV-202403-0001.pdf", 5*time.Minute)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "http://minio.local:9000/invoices/invoices/1/2/INV-202403-0001.pdf?"), url)
	require.Contains(t, url, "X-Amz-Expires=300")
	require.Contains(t, url, "X-Amz-Signature=")
}

func TestUploadPutsObject(t *testing.T) {
	var (
		mu      sync.Mutex
		gotPath string
		gotBody string
		gotType string
		gotVerb string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotVerb, gotPath, gotType, gotBody = r.Method, r.URL.Path, r.Header.Get("Content-Type"), string(body)
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), Config{
		Endpoint:  srv.URL,
		Region:    "us-east-1",
		Bucket:    "invoices",
		AccessKey: "key",
		SecretKey: "secret",
	})
	require.NoError(t, err)

	_, err = c.Upload(context.Background(), "a/b.pdf", "application/pdf", strings.NewReader("%PDF-1.7"))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, http.MethodPut, gotVerb)
	require.Equal(t, "/invoices/a/b.pdf", gotPath)
	require.Equal(t, "application/pdf", gotType)
	require.Contains(t, gotBody, "%PDF-1.7")
}
