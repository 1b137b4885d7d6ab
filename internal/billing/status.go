package billing

import (
	"fmt"
	"strings"

	"github.com/sitebill/sitebill/internal/shared"
)

// Status is an invoice lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// statusAliases maps accepted input spellings to stored statuses.
var statusAliases = map[string]Status{
	"pending": StatusSent,
}

var transitions = map[Status][]Status{
	StatusDraft:   {StatusSent, StatusCancelled},
	StatusSent:    {StatusPaid, StatusOverdue, StatusCancelled},
	StatusOverdue: {StatusPaid, StatusCancelled},
}

// ParseStatus normalises raw input into a Status.
func ParseStatus(raw string) (Status, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := statusAliases[s]; ok {
		return alias, nil
	}
	switch st := Status(s); st {
	case StatusDraft, StatusSent, StatusPaid, StatusOverdue, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown invoice status %q", shared.ErrValidation, raw)
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// ValidateTransition checks that current may move to target.
func ValidateTransition(current, target Status) error {
	for _, next := range transitions[current] {
		if next == target {
			return nil
		}
	}
	return fmt.Errorf("%w: invoice cannot move from %s to %s", shared.ErrValidation, current, target)
}
