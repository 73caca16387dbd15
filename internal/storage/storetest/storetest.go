// internal/storage/storetest/storetest.go
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libranexus-lending/internal/catalog"
	"libranexus-lending/internal/lifecycle"
)

// Run checks the catalog.Store contract against stores built by newStore.
// Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) catalog.Store) {
	t.Run("AssetRoundTrip", func(t *testing.T) { testAssetRoundTrip(t, newStore(t)) })
	t.Run("ListFiltersByState", func(t *testing.T) { testListFiltersByState(t, newStore(t)) })
	t.Run("LendingRecordLifecycle", func(t *testing.T) { testLendingRecordLifecycle(t, newStore(t)) })
	t.Run("ConditionReportLatestWins", func(t *testing.T) { testConditionReportLatestWins(t, newStore(t)) })
}

var base = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func testAssetRoundTrip(t *testing.T, s catalog.Store) {
	ctx := context.Background()

	_, err := s.GetAsset(ctx, "missing")
	assert.True(t, errors.Is(err, catalog.ErrAssetNotFound), "got %v", err)

	due := base.Add(14 * 24 * time.Hour)
	asset := &catalog.Asset{
		ID:       "ISBN002",
		Title:    "Rare Manuscript",
		Author:   "Unknown",
		Metadata: map[string]any{"access": "Restricted"},
		State:    lifecycle.Borrowed,
		DueDate:  &due,
	}
	require.NoError(t, s.UpsertAsset(ctx, asset))

	got, err := s.GetAsset(ctx, "ISBN002")
	require.NoError(t, err)
	assert.Equal(t, "Rare Manuscript", got.Title)
	assert.Equal(t, lifecycle.Borrowed, got.State)
	assert.Equal(t, "Restricted", got.Metadata["access"])
	require.NotNil(t, got.DueDate)
	assert.True(t, due.Equal(*got.DueDate))

	got.Title = "mutated"
	again, err := s.GetAsset(ctx, "ISBN002")
	require.NoError(t, err)
	assert.Equal(t, "Rare Manuscript", again.Title, "store must not share memory with callers")

	asset.State = lifecycle.Available
	asset.DueDate = nil
	require.NoError(t, s.UpsertAsset(ctx, asset))
	got, err = s.GetAsset(ctx, "ISBN002")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Available, got.State)
	assert.Nil(t, got.DueDate)
}

func testListFiltersByState(t *testing.T, s catalog.Store) {
	ctx := context.Background()
	due := base.Add(time.Hour)
	require.NoError(t, s.UpsertAsset(ctx, &catalog.Asset{ID: "B", State: lifecycle.Borrowed, DueDate: &due}))
	require.NoError(t, s.UpsertAsset(ctx, &catalog.Asset{ID: "A", State: lifecycle.Available}))
	require.NoError(t, s.UpsertAsset(ctx, &catalog.Asset{ID: "C", State: lifecycle.RestorationNeeded}))

	all, err := s.ListAssets(ctx, catalog.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, ids(all))

	borrowed, err := s.ListAssets(ctx, catalog.Filter{State: lifecycle.Borrowed})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, ids(borrowed))
}

func testLendingRecordLifecycle(t *testing.T, s catalog.Store) {
	ctx := context.Background()
	require.NoError(t, s.UpsertAsset(ctx, &catalog.Asset{ID: "ISBN003", State: lifecycle.Available}))

	id, err := s.CloseLendingRecord(ctx, "ISBN003", "alice", base, nil)
	require.NoError(t, err)
	assert.Empty(t, id, "nothing open yet")

	first := catalog.LendingRecord{ID: "r1", AssetID: "ISBN003", UserID: "alice", BorrowedAt: base, DueAt: base.Add(14 * 24 * time.Hour)}
	require.NoError(t, s.InsertLendingRecord(ctx, first))
	assert.Error(t, s.InsertLendingRecord(ctx, first), "duplicate ids are rejected")

	fee := 1.5
	returned := base.Add(17 * 24 * time.Hour)
	id, err = s.CloseLendingRecord(ctx, "ISBN003", "bob", returned, &fee)
	require.NoError(t, err)
	assert.Empty(t, id, "bob never borrowed it")

	id, err = s.CloseLendingRecord(ctx, "ISBN003", "alice", returned, &fee)
	require.NoError(t, err)
	assert.Equal(t, "r1", id)

	records, err := s.ListLendingRecords(ctx, "ISBN003")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Open())
	assert.True(t, returned.Equal(*records[0].ReturnedAt))
	require.NotNil(t, records[0].LateFee)
	assert.Equal(t, 1.5, *records[0].LateFee)

	require.NoError(t, s.ReopenLendingRecord(ctx, "r1"))
	records, err = s.ListLendingRecords(ctx, "ISBN003")
	require.NoError(t, err)
	assert.True(t, records[0].Open())
	assert.Nil(t, records[0].LateFee)

	second := catalog.LendingRecord{ID: "r2", AssetID: "ISBN003", UserID: "alice", BorrowedAt: base.Add(time.Hour), DueAt: base.Add(2 * time.Hour)}
	require.NoError(t, s.InsertLendingRecord(ctx, second))
	records, err = s.ListLendingRecords(ctx, "ISBN003")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "r1", records[0].ID)
	assert.Equal(t, "r2", records[1].ID)

	require.NoError(t, s.DeleteLendingRecord(ctx, "r2"))
	assert.Error(t, s.DeleteLendingRecord(ctx, "r2"))
	assert.Error(t, s.ReopenLendingRecord(ctx, "r2"))

	records, err = s.ListLendingRecords(ctx, "ISBN003")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func testConditionReportLatestWins(t *testing.T, s catalog.Store) {
	ctx := context.Background()
	require.NoError(t, s.UpsertAsset(ctx, &catalog.Asset{ID: "ISBN001", State: lifecycle.RestorationNeeded}))

	_, err := s.ConditionReport(ctx, "ISBN001")
	assert.True(t, errors.Is(err, catalog.ErrAssetNotFound), "got %v", err)

	require.NoError(t, s.UpsertConditionReport(ctx, catalog.ConditionReport{
		AssetID: "ISBN001", Rating: 3, Details: map[string]any{"spine": "cracked"}, ReportedAt: base,
	}))
	require.NoError(t, s.UpsertConditionReport(ctx, catalog.ConditionReport{
		AssetID: "ISBN001", Rating: 7, Details: map[string]any{"pages": "foxing"}, ReportedAt: base.Add(time.Hour),
	}))

	report, err := s.ConditionReport(ctx, "ISBN001")
	require.NoError(t, err)
	assert.Equal(t, 7, report.Rating)
	assert.Equal(t, map[string]any{"pages": "foxing"}, report.Details)
	assert.True(t, base.Add(time.Hour).Equal(report.ReportedAt))
}

func ids(assets []*catalog.Asset) []string {
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		out = append(out, a.ID)
	}
	return out
}
