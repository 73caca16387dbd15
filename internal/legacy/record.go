// internal/legacy/record.go
package legacy

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"libranexus-lending/internal/catalog"
	"libranexus-lending/internal/lifecycle"
	"libranexus-lending/internal/policy"
)

// ErrInvalidRecord is returned for lines that are not Title;Author;ISBN;Status;Type.
var ErrInvalidRecord = errors.New("invalid legacy record, expected Title;Author;ISBN;Status;Type")

// Book types understood by the old catalog.
const (
	TypeGeneral       = "General"
	TypeRareBook      = "RareBook"
	TypeAncientScript = "AncientScript"
)

// MetaType records the legacy book type on the imported asset.
const MetaType = "type"

// Record is one line of the legacy catalog export.
type Record struct {
	Title  string
	Author string
	ISBN   string
	Status string
	Type   string
}

// ParseRecord splits a legacy line. Fields are trimmed; the ISBN is required.
func ParseRecord(line string) (Record, error) {
	parts := strings.Split(line, ";")
	if len(parts) != 5 {
		return Record{}, fmt.Errorf("%w: got %d fields", ErrInvalidRecord, len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	r := Record{Title: parts[0], Author: parts[1], ISBN: parts[2], Status: parts[3], Type: parts[4]}
	if r.ISBN == "" {
		return Record{}, fmt.Errorf("%w: empty ISBN", ErrInvalidRecord)
	}
	return r, nil
}

// Metadata maps the legacy book type onto the asset flags the lending rules
// read. Unknown types import as general books.
func Metadata(bookType string) map[string]any {
	switch bookType {
	case TypeRareBook:
		return map[string]any{MetaType: TypeRareBook, lifecycle.MetaAccess: lifecycle.MetaAccessRestricted}
	case TypeAncientScript:
		return map[string]any{MetaType: TypeAncientScript, lifecycle.MetaPreservation: lifecycle.MetaPreservationHigh}
	default:
		return map[string]any{MetaType: TypeGeneral}
	}
}

// Asset converts r. Unknown status labels fall back to Available with a
// warning; borrowed records get a public-policy due date counted from now.
func (r Record) Asset(now time.Time, rates policy.Rates, logger *slog.Logger) *catalog.Asset {
	state, err := lifecycle.ParseState(r.Status)
	if err != nil {
		logger.Warn("unknown status, defaulting to Available", "isbn", r.ISBN, "status", r.Status)
	}
	a := &catalog.Asset{
		ID:       r.ISBN,
		Title:    r.Title,
		Author:   r.Author,
		Metadata: Metadata(r.Type),
		State:    state,
	}
	if state == lifecycle.Borrowed {
		due := policy.For(policy.Public, rates).DueDateFrom(now)
		a.DueDate = &due
	}
	return a
}
