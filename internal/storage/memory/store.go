// internal/storage/memory/store.go
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"libranexus-lending/internal/catalog"
)

// Store is a process-local catalog.Store. It backs tests and single-node
// deployments that do not need durability.
type Store struct {
	mu      sync.Mutex
	assets  map[string]*catalog.Asset
	records []catalog.LendingRecord
	reports map[string]catalog.ConditionReport
}

var _ catalog.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		assets:  make(map[string]*catalog.Asset),
		reports: make(map[string]catalog.ConditionReport),
	}
}

func (s *Store) UpsertAsset(_ context.Context, asset *catalog.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[asset.ID] = asset.Clone()
	return nil
}

func (s *Store) GetAsset(_ context.Context, id string) (*catalog.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return nil, catalog.ErrAssetNotFound
	}
	return a.Clone(), nil
}

func (s *Store) ListAssets(_ context.Context, filter catalog.Filter) ([]*catalog.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := slices.Sorted(maps.Keys(s.assets))
	var out []*catalog.Asset
	for _, id := range ids {
		if a := s.assets[id]; filter.Match(a) {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (s *Store) InsertLendingRecord(_ context.Context, record catalog.LendingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == record.ID {
			return fmt.Errorf("lending record %s already exists", record.ID)
		}
	}
	s.records = append(s.records, cloneRecord(record))
	return nil
}

func (s *Store) CloseLendingRecord(_ context.Context, assetID, userID string, returnedAt time.Time, fee *float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		r := &s.records[i]
		if r.AssetID == assetID && r.UserID == userID && r.Open() {
			t := returnedAt
			r.ReturnedAt = &t
			if fee != nil {
				f := *fee
				r.LateFee = &f
			}
			return r.ID, nil
		}
	}
	return "", nil
}

func (s *Store) ReopenLendingRecord(_ context.Context, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == recordID {
			s.records[i].ReturnedAt = nil
			s.records[i].LateFee = nil
			return nil
		}
	}
	return fmt.Errorf("lending record %s not found", recordID)
}

func (s *Store) DeleteLendingRecord(_ context.Context, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == recordID {
			s.records = slices.Delete(s.records, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("lending record %s not found", recordID)
}

func (s *Store) ListLendingRecords(_ context.Context, assetID string) ([]catalog.LendingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []catalog.LendingRecord
	for _, r := range s.records {
		if r.AssetID == assetID {
			out = append(out, cloneRecord(r))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].BorrowedAt.Before(out[j].BorrowedAt) })
	return out, nil
}

func (s *Store) UpsertConditionReport(_ context.Context, report catalog.ConditionReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	report.Details = maps.Clone(report.Details)
	s.reports[report.AssetID] = report
	return nil
}

func (s *Store) ConditionReport(_ context.Context, assetID string) (*catalog.ConditionReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[assetID]
	if !ok {
		return nil, catalog.ErrAssetNotFound
	}
	r.Details = maps.Clone(r.Details)
	return &r, nil
}

func cloneRecord(r catalog.LendingRecord) catalog.LendingRecord {
	if r.ReturnedAt != nil {
		t := *r.ReturnedAt
		r.ReturnedAt = &t
	}
	if r.LateFee != nil {
		f := *r.LateFee
		r.LateFee = &f
	}
	return r
}
