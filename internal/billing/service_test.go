package billing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sitebill/sitebill/internal/masterdata"
	"github.com/sitebill/sitebill/internal/notify"
	"github.com/sitebill/sitebill/internal/shared"
)

type memoryState struct {
	projects  map[int64]ProjectRef
	services  map[int64]ServiceSnapshot
	invoices  map[int64]Invoice
	sequences map[string]int64
	keys      map[string]struct{}
	nextID    int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		projects:  make(map[int64]ProjectRef, len(s.projects)),
		services:  make(map[int64]ServiceSnapshot, len(s.services)),
		invoices:  make(map[int64]Invoice, len(s.invoices)),
		sequences: make(map[string]int64, len(s.sequences)),
		keys:      make(map[string]struct{}, len(s.keys)),
		nextID:    s.nextID,
	}
	for k, v := range s.projects {
		out.projects[k] = v
	}
	for k, v := range s.services {
		out.services[k] = v
	}
	for k, v := range s.invoices {
		out.invoices[k] = v
	}
	for k, v := range s.sequences {
		out.sequences[k] = v
	}
	for k := range s.keys {
		out.keys[k] = struct{}{}
	}
	return out
}

type memoryRepo struct {
	mu    sync.Mutex
	state memoryState

	failItems     error
	failWatermark error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{
		projects:  map[int64]ProjectRef{},
		services:  map[int64]ServiceSnapshot{},
		invoices:  map[int64]Invoice{},
		sequences: map[string]int64{},
		keys:      map[string]struct{}{},
		nextID:    1000,
	}}
}

func (m *memoryRepo) addProject(id, companyID int64) {
	m.state.projects[id] = ProjectRef{ID: id, CompanyID: companyID, Name: fmt.Sprintf("Project %d", id)}
}

func (m *memoryRepo) addService(projectID int64, building, price, qty string, current, invoiced float64) ServiceSnapshot {
	m.state.nextID++
	s := snapshot(m.state.nextID, building, price, qty, current, invoiced)
	s.BuildingID = projectID*100 + int64(building[0])
	m.state.services[s.ServiceID] = s
	return s
}

func (m *memoryRepo) service(id int64) ServiceSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.services[id]
}

func (m *memoryRepo) invoiceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.invoices)
}

func (m *memoryRepo) GetProject(ctx context.Context, id int64) (ProjectRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memoryTx{state: m.state}.GetProject(ctx, id)
}

func (m *memoryRepo) ListProjectServices(ctx context.Context, projectID int64) ([]ServiceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memoryTx{state: m.state}.ListProjectServices(ctx, projectID)
}

func (m *memoryRepo) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Invoice
	for _, inv := range m.state.invoices {
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if filter.ProjectID > 0 && inv.ProjectID != filter.ProjectID {
			continue
		}
		inv.Items = nil
		all = append(all, inv)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	start := filter.Offset()
	if start > total {
		start = total
	}
	end := start + filter.Limit()
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (m *memoryRepo) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.state.invoices[id]
	if !ok {
		return Invoice{}, fmt.Errorf("invoice %d: %w", id, shared.ErrNotFound)
	}
	return inv, nil
}

func (m *memoryRepo) UpdateStatus(ctx context.Context, id int64, from, to Status) (Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.state.invoices[id]
	if !ok {
		return Invoice{}, fmt.Errorf("invoice %d: %w", id, shared.ErrNotFound)
	}
	if inv.Status != from {
		return Invoice{}, fmt.Errorf("%w: invoice %d is no longer %s", shared.ErrConflict, id, from)
	}
	inv.Status = to
	m.state.invoices[id] = inv
	return inv, nil
}

func (m *memoryRepo) GetDocument(ctx context.Context, id int64) (Document, error) {
	inv, err := m.GetInvoice(ctx, id)
	if err != nil {
		return Document{}, err
	}
	return Document{
		Invoice:   inv,
		Company:   masterdata.Company{ID: inv.CompanyID, Name: "Acme Builders"},
		Project:   masterdata.Project{ID: inv.ProjectID, Name: "Harbor Towers", CompanyID: inv.CompanyID},
		Buildings: buildingCodes(inv.Items),
	}, nil
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{state: m.state.clone(), repo: m}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

type memoryTx struct {
	state memoryState
	repo  *memoryRepo
}

func (t memoryTx) GetProject(ctx context.Context, id int64) (ProjectRef, error) {
	p, ok := t.state.projects[id]
	if !ok {
		return ProjectRef{}, fmt.Errorf("project %d: %w", id, shared.ErrNotFound)
	}
	return p, nil
}

func (t memoryTx) ListProjectServices(ctx context.Context, projectID int64) ([]ServiceSnapshot, error) {
	var out []ServiceSnapshot
	for _, s := range t.state.services {
		if s.BuildingID/100 == projectID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out, nil
}

func (t *memoryTx) ClaimRequestKey(ctx context.Context, key string) error {
	if _, ok := t.state.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	t.state.keys[key] = struct{}{}
	return nil
}

func (t *memoryTx) NextSequence(ctx context.Context, prefix string) (int64, error) {
	t.state.sequences[prefix]++
	return t.state.sequences[prefix], nil
}

func (t *memoryTx) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	t.state.nextID++
	inv.ID = t.state.nextID
	inv.CreatedAt = time.Now()
	t.state.invoices[inv.ID] = inv
	return inv, nil
}

func (t *memoryTx) InsertItems(ctx context.Context, invoiceID int64, items []InvoiceItem) ([]InvoiceItem, error) {
	if t.repo.failItems != nil {
		return nil, t.repo.failItems
	}
	out := make([]InvoiceItem, 0, len(items))
	for _, it := range items {
		t.state.nextID++
		it.ID = t.state.nextID
		it.InvoiceID = invoiceID
		out = append(out, it)
	}
	inv := t.state.invoices[invoiceID]
	inv.Items = out
	t.state.invoices[invoiceID] = inv
	return out, nil
}

func (t *memoryTx) AdvanceWatermark(ctx context.Context, serviceID int64, expected, to float64) error {
	if t.repo.failWatermark != nil {
		return t.repo.failWatermark
	}
	s, ok := t.state.services[serviceID]
	if !ok || s.LastInvoicedProgress != expected || s.CurrentProgress != to {
		return fmt.Errorf("%w: service %d changed while invoicing", shared.ErrConflict, serviceID)
	}
	s.LastInvoicedProgress = to
	t.state.services[serviceID] = s
	return nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type recordingSink struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (s *recordingSink) Notify(ctx context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return nil
}

type recordingArchive struct {
	ids []int64
}

func (a *recordingArchive) EnqueueInvoiceArchive(ctx context.Context, invoiceID int64) error {
	a.ids = append(a.ids, invoiceID)
	return nil
}

type fixture struct {
	repo    *memoryRepo
	svc     *Service
	audit   *recordingAudit
	sink    *recordingSink
	archive *recordingArchive
	metrics *Metrics
	locker  *shared.Locker
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := fixture{
		repo:    newMemoryRepo(),
		audit:   &recordingAudit{},
		sink:    &recordingSink{},
		archive: &recordingArchive{},
		metrics: NewMetrics(prometheus.NewRegistry()),
		locker:  shared.NewLocker(client, time.Minute),
	}
	seq := NewSequencer("inv")
	seq.now = func() time.Time { return time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC) }
	f.svc = NewService(f.repo, Options{
		Locker:    f.locker,
		Sequencer: seq,
		Audit:     f.audit,
		Notifier:  f.sink,
		Archive:   f.archive,
		Metrics:   f.metrics,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func sumItems(items []InvoiceItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.AmountDue)
	}
	return total
}

func TestGenerateInvoiceBillsAllUnbilledProgress(t *testing.T) {
	f := newFixture(t)
	f.repo.addProject(1, 10)
	a := f.repo.addService(1, "A", "1000", "2", 45, 20)
	b := f.repo.addService(1, "B", "300", "1", 100, 0)
	actor := uuid.New()

	inv, err := f.svc.GenerateInvoice(context.Background(), GenerateRequest{ProjectID: 1, Actor: actor})
	require.NoError(t, err)
	require.Equal(t, "800", inv.Amount.String())
	require.Equal(t, StatusDraft, inv.Status)
	require.Equal(t, int64(10), inv.CompanyID)
	require.Equal(t, "INV-202403-0001", inv.Number)
	require.Len(t, inv.Items, 2)
	require.True(t, sumItems(inv.Items).Equal(inv.Amount))

	require.Equal(t, 45.0, f.repo.service(a.ServiceID).LastInvoicedProgress)
	require.Equal(t, 100.0, f.repo.service(b.ServiceID).LastInvoicedProgress)

	first := inv.Items[0]
	require.Equal(t, "A", first.BuildingCode)
	require.Equal(t, 20.0, first.PreviousPercentage)
	require.Equal(t, 45.0, first.CurrentPercentage)
	require.Equal(t, a.ServiceID, *first.ServiceID)

	require.Len(t, f.audit.logs, 1)
	require.Equal(t, actor, f.audit.logs[0].ActorID)
	require.Len(t, f.sink.got, 1)
	require.Equal(t, notify.SeveritySuccess, f.sink.got[0].Severity)
	require.Equal(t, []int64{inv.ID}, f.archive.ids)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.generations.WithLabelValues(OutcomeCreated)))
}

func TestGenerateInvoiceNeverRebills(t *testing.T) {
	f := newFixture(t)
	f.repo.addProject(1, 10)
	f.repo.addService(1, "A", "1000", "2", 45, 20)
	ctx := context.Background()

	_, err := f.svc.GenerateInvoice(ctx, GenerateRequest{ProjectID: 1})
	require.NoError(t, err)

	_, err = f.svc.GenerateInvoice(ctx, GenerateRequest{ProjectID: 1})
	require.ErrorIs(t, err, ErrNothingToInvoice)
	require.Equal(t, 1, f.repo.invoiceCount())

	scan, err := f.svc.PreviewUnbilled(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, scan.Candidates)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.generations.WithLabelValues(OutcomeNothing)))
	require.Equal(t, notify.SeverityWarning, f.sink.got[len(f.sink.got)-1].Severity)
}

func TestGenerateInvoiceBillsOnlyNewProgress(t *testing.T) {
	f := newFixture(t)
	f.repo.addProject(1, 10)
	svc := f.repo.addService(1, "A", "200", "5", 20.10, 0)
	ctx := context.Background()

	first, err := f.svc.GenerateInvoice(ctx, GenerateRequest{ProjectID: 1})
	require.NoError(t, err)
	require.Equal(t, "201", first.Amount.String())

	f.repo.mu.Lock()
	s := f.repo.state.services[svc.ServiceID]
	s.CurrentProgress = 33.33
	f.repo.state.services[svc.ServiceID] = s
	f.repo.mu.Unlock()

	second, err := f.svc.GenerateInvoice(ctx, GenerateRequest{ProjectID: 1})
	require.NoError(t, err)
	require.Equal(t, "132.3", second.Amount.String())
	require.Equal(t, "INV-202403-0002", second.Number)
	require.Equal(t, 20.10, second.Items[0].PreviousPercentage)
}

func TestGenerateInvoiceRollsBackOnItemFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.addProject(1, 10)
	a := f.repo.addService(1, "A", "1000", "2", 45, 20)
	f.repo.failItems = errors.New("insert items: connection reset")

	_, err := f.svc.GenerateInvoice(context.Background(), GenerateRequest{ProjectID: 1, IdempotencyKey: "req-1"})
	require.ErrorContains(t, err, "connection reset")
	require.Zero(t, f.repo.invoiceCount())
	require.Equal(t, 20.0, f.repo.service(a.ServiceID).LastInvoicedProgress)
	require.Empty(t, f.repo.state.sequences)
	require.Empty(t, f.repo.state.keys)
	require.Empty(t, f.audit.logs)
	require.Equal(t, notify.SeverityError, f.sink.got[0].Severity)

	f.repo.failItems = nil
	inv, err := f.svc.GenerateInvoice(context.Background(), GenerateRequest{ProjectID: 1, IdempotencyKey: "req-1"})
	require.NoError(t, err)
	require.Equal(t, "INV-202403-0001", inv.Number)
}

func TestGenerateInvoiceRollsBackOnWatermarkConflict(t *testing.T) {
	f := newFixture(t)
	f.repo.addProject(1, 10)
	a := f.repo.addService(1, "A", "1000", "2", 45, 20)
	f.repo.addService(1, "B", "300", "1", 100, 0)
	f.repo.failWatermark = fmt.Errorf("%w: service changed while invoicing", shared.ErrConflict)

	_, err := f.svc.GenerateInvoice(context.Background(), GenerateRequest{ProjectID: 1})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Zero(t, f.repo.invoiceCount())
	require.Equal(t, 20.0, f.repo.service(a.ServiceID).LastInvoicedProgress)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.generations.WithLabelValues(OutcomeConflict)))
}

func TestGenerateInvoiceRejectsHeldLock(t *testing.T) {
	f := newFixture(t)
	f.repo.addProject(1, 10)
	f.repo.addService(1, "A", "1000", "2", 45, 20)
	ctx := context.Background()

	held, err := f.locker.Acquire(ctx, shared.ProjectInvoiceLockKey(1))
	require.NoError(t, err)

	_, err = f.svc.GenerateInvoice(ctx, GenerateRequest{ProjectID: 1})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Zero(t, f.repo.invoiceCount())

	require.NoError(t, held.Release(ctx))
	_, err = f.svc.GenerateInvoice(ctx, GenerateRequest{ProjectID: 1})
	require.NoError(t, err)
}

func TestGenerateInvoiceReleasesLock(t *testing.T) {
	f := newFixture(t)
	f.repo.addProject(1, 10)
	ctx := context.Background()

	_, err := f.svc.GenerateInvoice(ctx, GenerateRequest{ProjectID: 1})
	require.ErrorIs(t, err, ErrNothingToInvoice)

	lock, err := f.locker.Acquire(ctx, shared.ProjectInvoiceLockKey(1))
	require.NoError(t, err)
	require.NoError(t, lock.Release(ctx))
}

func TestGenerateInvoiceSerialisesConcurrentCalls(t *testing.T) {
	f := newFixture(t)
	f.repo.addProject(1, 10)
	f.repo.addService(1, "A", "1000", "2", 45, 20)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.GenerateInvoice(context.Background(), GenerateRequest{ProjectID: 1})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
				return
			}
			if !errors.Is(err, shared.ErrConflict) && !errors.Is(err, ErrNothingToInvoice) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, created)
	require.Equal(t, 1, f.repo.invoiceCount())
}

func TestGenerateInvoiceIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	f.repo.addProject(1, 10)
	f.repo.addService(1, "A", "1000", "2", 45, 20)
	ctx := context.Background()

	_, err := f.svc.GenerateInvoice(ctx, GenerateRequest{ProjectID: 1, IdempotencyKey: "abc"})
	require.NoError(t, err)

	f.repo.addService(1, "B", "10", "1", 50, 0)
	_, err = f.svc.GenerateInvoice(ctx, GenerateRequest{ProjectID: 1, IdempotencyKey: "abc"})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Equal(t, 1, f.repo.invoiceCount())
}

func TestGenerateInvoiceValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GenerateInvoice(context.Background(), GenerateRequest{ProjectID: 0})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.GenerateInvoice(context.Background(), GenerateRequest{ProjectID: 99})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, f.sink.got)
}

func TestChangeStatus(t *testing.T) {
	f := newFixture(t)
	f.repo.addProject(1, 10)
	f.repo.addService(1, "A", "1000", "2", 45, 20)
	ctx := context.Background()
	inv, err := f.svc.GenerateInvoice(ctx, GenerateRequest{ProjectID: 1})
	require.NoError(t, err)

	_, err = f.svc.ChangeStatus(ctx, inv.ID, StatusChange{Status: "paid"})
	require.ErrorIs(t, err, shared.ErrValidation)

	sent, err := f.svc.ChangeStatus(ctx, inv.ID, StatusChange{Status: "pending"})
	require.NoError(t, err)
	require.Equal(t, StatusSent, sent.Status)
	require.Len(t, sent.Items, 1)

	paid, err := f.svc.ChangeStatus(ctx, inv.ID, StatusChange{Status: "PAID"})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, paid.Status)

	_, err = f.svc.ChangeStatus(ctx, inv.ID, StatusChange{Status: "cancelled"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.ChangeStatus(ctx, 4242, StatusChange{Status: "sent"})
	require.ErrorIs(t, err, shared.ErrNotFound)

	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.transitions.WithLabelValues(string(StatusPaid))))
}

func TestRenderDocumentRequiresRenderer(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.RenderDocument(context.Background(), 1)
	require.Error(t, err)
}
