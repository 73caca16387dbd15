// internal/circulation/domain.go
package circulation

import (
	"fmt"
	"time"

	"libranexus-lending/internal/catalog"
	"libranexus-lending/internal/lifecycle"
)

// ConditionReportInput is a restoration request as submitted by a librarian.
// Rating is taken as a float so non-integer ratings can be rejected.
type ConditionReportInput struct {
	Rating  float64        `json:"rating"`
	Details map[string]any `json:"details,omitempty"`
}

// QueueEntry is one restoration flag, in the order it was raised.
type QueueEntry struct {
	AssetID   string    `json:"asset_id"`
	Title     string    `json:"title"`
	Rating    int       `json:"rating"`
	FlaggedAt time.Time `json:"flagged_at"`
}

// OverdueLoan is a borrowed asset past its due date.
type OverdueLoan struct {
	Asset       *catalog.Asset `json:"asset"`
	DaysOverdue int            `json:"days_overdue"`
	LateFee     float64        `json:"late_fee"`
}

// PersistenceError reports a store failure that aborted an operation. The
// in-memory asset has already been rolled back when it is returned.
type PersistenceError struct {
	Op      string
	AssetID string
	Err     error
}

func (e *PersistenceError) Error() string {
	if e.AssetID == "" {
		return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persistence failure during %s of asset %s: %v", e.Op, e.AssetID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// snapshot holds the asset fields a compensation restores. It is taken
// before the forward action runs and never re-derived.
type snapshot struct {
	state lifecycle.State
	due   *time.Time
}

func takeSnapshot(a *catalog.Asset) snapshot {
	s := snapshot{state: a.State}
	if a.DueDate != nil {
		d := *a.DueDate
		s.due = &d
	}
	return s
}

func (s snapshot) restore(a *catalog.Asset) {
	a.State = s.state
	a.DueDate = nil
	if s.due != nil {
		d := *s.due
		a.DueDate = &d
	}
}
