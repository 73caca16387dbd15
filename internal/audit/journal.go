// internal/audit/journal.go
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kinds of audit entries written by the lending service.
const (
	KindAssetBorrowed      = "AssetBorrowed"
	KindBorrowUndone       = "BorrowUndone"
	KindAssetReturned      = "AssetReturned"
	KindReturnUndone       = "ReturnUndone"
	KindFlaggedRestoration = "AssetFlaggedForRestoration"
	KindAssetRestored      = "AssetRestored"
)

// streamNamespace derives stable stream ids from asset ids.
var streamNamespace = uuid.MustParse("6f1c3a52-8d0e-4b7a-9a47-2f4f1f0c9e11")

// StreamID maps an asset id (an ISBN, usually) to its audit stream.
func StreamID(assetID string) uuid.UUID {
	return uuid.NewSHA1(streamNamespace, []byte(assetID))
}

// Entry is one audited fact about an asset.
type Entry struct {
	AssetID   string         `json:"asset_id"`
	Kind      string         `json:"kind"`
	UserID    string         `json:"user_id,omitempty"`
	CommandID uuid.UUID      `json:"command_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}

// Journal records audit entries. Implementations must be safe for concurrent use.
type Journal interface {
	Record(ctx context.Context, entry Entry) error
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

// MemoryJournal keeps entries in process memory.
type MemoryJournal struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryJournal() *MemoryJournal { return &MemoryJournal{} }

func (j *MemoryJournal) Record(_ context.Context, entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	return nil
}

// Entries returns the entries recorded for assetID, or all entries when
// assetID is empty, in recording order.
func (j *MemoryJournal) Entries(assetID string) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Entry
	for _, e := range j.entries {
		if assetID == "" || e.AssetID == assetID {
			out = append(out, e)
		}
	}
	return out
}

// Kinds lists the entry kinds recorded for assetID in order.
func (j *MemoryJournal) Kinds(assetID string) []string {
	var kinds []string
	for _, e := range j.Entries(assetID) {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}
