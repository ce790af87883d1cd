package service

import (
	"errors"
	"fmt"

	"github.com/reqstat/backend/internal/models"
)

var (
	ErrSourceUnreadable = errors.New("source unreadable")
	ErrMalformedRow     = errors.New("malformed row")
	ErrMalformedDate    = errors.New("malformed date")
)

// RowError reports a single row that could not be turned into a record.
// Kind is ErrMalformedRow or ErrMalformedDate; Row is the 1-based sheet row.
type RowError struct {
	Kind   error
	Row    int
	Reason string
	Value  string
}

func (e *RowError) Error() string {
	if e.Kind == ErrMalformedDate {
		return fmt.Sprintf("row %d: %v: %q", e.Row, e.Kind, e.Value)
	}
	return fmt.Sprintf("row %d: %v: %s", e.Row, e.Kind, e.Reason)
}

func (e *RowError) Unwrap() error {
	return e.Kind
}

// Issue converts the error into its serializable form.
func (e *RowError) Issue() models.RowIssue {
	kind := "MalformedRow"
	if e.Kind == ErrMalformedDate {
		kind = "MalformedDate"
	}
	return models.RowIssue{Row: e.Row, Kind: kind, Reason: e.Reason, Value: e.Value}
}
