package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sitebill/sitebill/internal/shared"
)

// DefaultInvoicePrefix is used when no prefix is configured.
const DefaultInvoicePrefix = "INV"

// FormatInvoiceNumber renders PREFIX-YYYYMM-NNNN. The counter is padded to
// four digits and grows wider past 9999.
func FormatInvoiceNumber(prefix string, at time.Time, seq int64) string {
	return fmt.Sprintf("%s-%04d%02d-%04d", prefix, at.Year(), int(at.Month()), seq)
}

// Sequencer issues invoice numbers from a durable per-prefix counter.
type Sequencer struct {
	prefix string
	now    func() time.Time
}

// NewSequencer builds a sequencer; an empty prefix falls back to INV.
func NewSequencer(prefix string) *Sequencer {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = DefaultInvoicePrefix
	}
	return &Sequencer{prefix: prefix, now: time.Now}
}

// Prefix returns the configured prefix.
func (s *Sequencer) Prefix() string {
	return s.prefix
}

// Next draws the next counter value from store and formats it. Run it inside
// the generation transaction so a rollback gives the value back.
func (s *Sequencer) Next(ctx context.Context, store SequenceStore) (string, error) {
	seq, err := store.NextSequence(ctx, s.prefix)
	if err != nil {
		return "", err
	}
	if seq <= 0 {
		return "", fmt.Errorf("%w: invoice sequence returned %d", shared.ErrConflict, seq)
	}
	return FormatInvoiceNumber(s.prefix, s.now().UTC(), seq), nil
}
