// internal/catalog/domain.go
package catalog

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"libranexus-lending/internal/lifecycle"
)

var (
	ErrAssetNotFound = errors.New("asset not found")
	ErrInvalidAsset  = errors.New("invalid asset")
	ErrAssetExists   = errors.New("asset already exists")
)

// Asset represents a lendable item in the catalog.
type Asset struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Author   string          `json:"author"`
	Metadata map[string]any  `json:"metadata,omitempty"`
	State    lifecycle.State `json:"state"`
	DueDate  *time.Time      `json:"due_date,omitempty"`
}

// Clone returns a deep copy safe to hand out of the catalog's lock.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	c := *a
	c.Metadata = maps.Clone(a.Metadata)
	if a.DueDate != nil {
		d := *a.DueDate
		c.DueDate = &d
	}
	return &c
}

// Validate enforces identity and the due-date invariant: a due date is
// present exactly when the asset is borrowed.
func (a *Asset) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidAsset)
	}
	if !a.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidAsset, a.State)
	}
	if (a.State == lifecycle.Borrowed) != (a.DueDate != nil) {
		return fmt.Errorf("%w: due date must be set if and only if the asset is borrowed", ErrInvalidAsset)
	}
	return nil
}

// LendingRecord is one borrow episode.
type LendingRecord struct {
	ID         string     `json:"id"`
	AssetID    string     `json:"asset_id"`
	UserID     string     `json:"user_id"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	DueAt      time.Time  `json:"due_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	LateFee    *float64   `json:"late_fee,omitempty"`
}

// Open reports whether the asset has not been returned yet on this record.
func (r LendingRecord) Open() bool { return r.ReturnedAt == nil }

// ConditionReport justifies a restoration flag. The latest report per asset wins.
type ConditionReport struct {
	AssetID    string         `json:"asset_id"`
	Rating     int            `json:"rating"`
	Details    map[string]any `json:"details,omitempty"`
	ReportedAt time.Time      `json:"reported_at"`
}

// Filter narrows ListAssets. A zero Filter matches every asset.
type Filter struct {
	State lifecycle.State
}

func (f Filter) Match(a *Asset) bool {
	return f.State == "" || a.State == f.State
}
