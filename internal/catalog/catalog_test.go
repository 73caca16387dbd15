package catalog_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libranexus-lending/internal/catalog"
	"libranexus-lending/internal/chaos"
	"libranexus-lending/internal/lifecycle"
	"libranexus-lending/internal/storage/memory"
)

func newCatalog(t *testing.T) (*catalog.Catalog, *memory.Store, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	return catalog.New(store, nil, logger), store, &logs
}

func TestAddDefaultsToAvailable(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newCatalog(t)

	in := &catalog.Asset{ID: "A1", Title: "Go Programming", Metadata: map[string]any{"shelf": "B2"}}
	require.NoError(t, c.Add(ctx, in))
	assert.Empty(t, in.State, "the caller's value is not modified")

	stored, err := store.GetAsset(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Available, stored.State)

	in.Metadata["shelf"] = "C9"
	a, err := c.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "B2", a.Metadata["shelf"])
}

func TestAddRejectsInvalidAssets(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newCatalog(t)
	due := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	for name, a := range map[string]*catalog.Asset{
		"empty id":              {Title: "Nameless"},
		"unknown state":         {ID: "A1", State: "Lost"},
		"borrowed without date": {ID: "A2", State: lifecycle.Borrowed},
		"available with date":   {ID: "A3", DueDate: &due},
	} {
		err := c.Add(ctx, a)
		assert.ErrorIs(t, err, catalog.ErrInvalidAsset, name)
	}

	all, err := store.ListAssets(ctx, catalog.Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAddRejectsExistingIDs(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newCatalog(t)
	require.NoError(t, c.Add(ctx, &catalog.Asset{ID: "A1", Title: "Original"}))

	err := c.Add(ctx, &catalog.Asset{ID: "A1", Title: "Replacement"})
	assert.ErrorIs(t, err, catalog.ErrAssetExists)

	require.NoError(t, store.UpsertAsset(ctx, &catalog.Asset{ID: "B1", Title: "Stored", State: lifecycle.Available}))
	err = c.Add(ctx, &catalog.Asset{ID: "B1", Title: "Replacement"})
	assert.ErrorIs(t, err, catalog.ErrAssetExists, "ids the cache has not loaded yet are checked in the store")

	for id, title := range map[string]string{"A1": "Original", "B1": "Stored"} {
		a, err := store.GetAsset(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, title, a.Title)
	}
}

func TestAddSurfacesLookupFailures(t *testing.T) {
	ctx := context.Background()
	store := chaos.Wrap(memory.New())
	c := catalog.New(store, nil, slog.New(slog.DiscardHandler))
	store.Inject(chaos.Fault{Op: chaos.OpGetAsset, Times: 1})

	err := c.Add(ctx, &catalog.Asset{ID: "A1"})
	require.ErrorIs(t, err, chaos.ErrInjected)
	assert.False(t, errors.Is(err, catalog.ErrAssetExists))

	require.NoError(t, c.Add(ctx, &catalog.Asset{ID: "A1"}))
}

func TestGetCachesLoadedAssets(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newCatalog(t)
	require.NoError(t, store.UpsertAsset(ctx, &catalog.Asset{ID: "A1", Title: "First", State: lifecycle.Available}))

	first, err := c.Get(ctx, "A1")
	require.NoError(t, err)

	require.NoError(t, store.UpsertAsset(ctx, &catalog.Asset{ID: "A1", Title: "Second", State: lifecycle.Available}))
	second, err := c.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, "First", second.Title)
}

func TestGetUnknownAsset(t *testing.T) {
	c, _, _ := newCatalog(t)

	_, err := c.Get(context.Background(), "missing")
	require.ErrorIs(t, err, catalog.ErrAssetNotFound)
	assert.Contains(t, err.Error(), "missing")
}

func TestNormalizeRepairsOldRows(t *testing.T) {
	ctx := context.Background()
	c, store, logs := newCatalog(t)
	due := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpsertAsset(ctx, &catalog.Asset{ID: "A1", State: "Misplaced"}))
	require.NoError(t, store.UpsertAsset(ctx, &catalog.Asset{ID: "A2", State: "Restoration Needed", DueDate: &due}))
	require.NoError(t, store.UpsertAsset(ctx, &catalog.Asset{ID: "A3", State: lifecycle.Borrowed}))

	a, err := c.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Available, a.State)
	assert.Contains(t, logs.String(), "unknown status label, defaulting to Available")

	a, err = c.Get(ctx, "A2")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.RestorationNeeded, a.State)
	assert.Nil(t, a.DueDate)

	a, err = c.Get(ctx, "A3")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Borrowed, a.State)
	assert.Contains(t, logs.String(), "borrowed asset has no due date")
}

func TestListPrefersCachedInstances(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newCatalog(t)
	for _, id := range []string{"A1", "A2", "A3"} {
		require.NoError(t, c.Add(ctx, &catalog.Asset{ID: id}))
	}

	live, err := c.Get(ctx, "A2")
	require.NoError(t, err)
	live.State = lifecycle.RestorationNeeded

	restoring, err := c.List(ctx, catalog.Filter{State: lifecycle.RestorationNeeded})
	require.NoError(t, err)
	require.Len(t, restoring, 1)
	assert.Same(t, live, restoring[0], "unsaved in-memory state wins over the store")

	stored, err := store.GetAsset(ctx, "A2")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Available, stored.State)

	all, err := c.List(ctx, catalog.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestNotifierOrderAndIsolation(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	n := catalog.NewNotifier(slog.New(slog.NewTextHandler(&logs, nil)))

	var seen []string
	record := func(name string) catalog.Observer {
		return catalog.ObserverFunc(func(_ context.Context, a *catalog.Asset) error {
			seen = append(seen, name)
			a.Title = "scribbled by " + name
			return nil
		})
	}
	n.Watch("A1", record("desk-1"))
	n.WatchAll(record("audit"))
	n.Watch("A1", catalog.ObserverFunc(func(context.Context, *catalog.Asset) error {
		seen = append(seen, "broken")
		return errors.New("pager offline")
	}))
	n.Watch("A1", record("desk-2"))
	n.Watch("B1", record("elsewhere"))
	n.WatchAll(record("metrics"))

	asset := &catalog.Asset{ID: "A1", Title: "Go Programming", State: lifecycle.Borrowed}
	n.Notify(ctx, asset)

	assert.Equal(t, []string{"audit", "metrics", "desk-1", "broken", "desk-2"}, seen)
	assert.Equal(t, "Go Programming", asset.Title, "observers get their own copy")
	assert.Contains(t, logs.String(), "observer notification failed")
	assert.Contains(t, logs.String(), "pager offline")
}

func TestChangedNotifiesObservers(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCatalog(t)
	require.NoError(t, c.Add(ctx, &catalog.Asset{ID: "A1"}))

	var got []lifecycle.State
	c.Notifier().WatchAll(catalog.ObserverFunc(func(_ context.Context, a *catalog.Asset) error {
		got = append(got, a.State)
		return nil
	}))

	a, err := c.Get(ctx, "A1")
	require.NoError(t, err)
	a.State = lifecycle.RestorationNeeded
	c.Changed(ctx, a)
	assert.Equal(t, []lifecycle.State{lifecycle.RestorationNeeded}, got)
}
