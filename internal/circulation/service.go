// internal/circulation/service.go
package circulation

import (
	"context"
	"time"

	"libranexus-lending/internal/catalog"
	"libranexus-lending/internal/command"
	"libranexus-lending/internal/policy"
)

// Service defines the lending operations. Borrow and Return are undoable
// through Undo; restoration flags are not.
type Service interface {
	catalog.Service

	Borrow(ctx context.Context, assetID, userID string, mode policy.Mode) (time.Time, error)
	Return(ctx context.Context, assetID, userID string) (float64, error)
	FlagForRestoration(ctx context.Context, assetID string, report ConditionReportInput) error
	Restore(ctx context.Context, assetID string) (*catalog.Asset, error)
	Undo(ctx context.Context) (command.Entry, error)

	RestorationQueue(ctx context.Context) ([]QueueEntry, error)
	Overdue(ctx context.Context) ([]OverdueLoan, error)
	History(ctx context.Context) []command.Entry
}
