// internal/catalog/store.go
package catalog

import (
	"context"
	"time"
)

// Store is the persistent backend behind the catalog. Every call is atomic on
// its own; callers treat any error as a hard failure of the current operation.
type Store interface {
	UpsertAsset(ctx context.Context, asset *Asset) error
	// GetAsset returns ErrAssetNotFound when the id is unknown.
	GetAsset(ctx context.Context, id string) (*Asset, error)
	ListAssets(ctx context.Context, filter Filter) ([]*Asset, error)

	InsertLendingRecord(ctx context.Context, record LendingRecord) error
	// CloseLendingRecord stamps the open record of (assetID, userID) with the
	// return time and fee and returns its id, or "" when no record is open.
	CloseLendingRecord(ctx context.Context, assetID, userID string, returnedAt time.Time, fee *float64) (string, error)
	// ReopenLendingRecord clears the return time and fee of a closed record.
	ReopenLendingRecord(ctx context.Context, recordID string) error
	// DeleteLendingRecord retracts a record entirely.
	DeleteLendingRecord(ctx context.Context, recordID string) error
	ListLendingRecords(ctx context.Context, assetID string) ([]LendingRecord, error)

	UpsertConditionReport(ctx context.Context, report ConditionReport) error
	// ConditionReport returns ErrAssetNotFound when no report was filed.
	ConditionReport(ctx context.Context, assetID string) (*ConditionReport, error)
}
