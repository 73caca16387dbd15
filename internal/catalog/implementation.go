// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"libranexus-lending/internal/lifecycle"
)

// Catalog is the in-memory index of assets in front of a Store. Assets are
// loaded lazily and then mutated in place, so a Catalog is not safe for
// concurrent use; its owner provides the locking.
type Catalog struct {
	store    Store
	notifier *Notifier
	logger   *slog.Logger
	assets   map[string]*Asset
}

// New creates a catalog index backed by store.
func New(store Store, notifier *Notifier, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NewNotifier(logger)
	}
	return &Catalog{
		store:    store,
		notifier: notifier,
		logger:   logger,
		assets:   make(map[string]*Asset),
	}
}

// Store exposes the backend for collaborators that write lending records.
func (c *Catalog) Store() Store { return c.store }

// Notifier exposes the observer registry.
func (c *Catalog) Notifier() *Notifier { return c.notifier }

// Add ingests an asset. New assets start Available unless a state is given.
// Ids already in the cache or the store are rejected with ErrAssetExists.
func (c *Catalog) Add(ctx context.Context, asset *Asset) error {
	a := asset.Clone()
	if a.State == "" {
		a.State = lifecycle.Available
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if _, ok := c.assets[a.ID]; ok {
		return fmt.Errorf("asset %s: %w", a.ID, ErrAssetExists)
	}
	switch _, err := c.store.GetAsset(ctx, a.ID); {
	case err == nil:
		return fmt.Errorf("asset %s: %w", a.ID, ErrAssetExists)
	case !errors.Is(err, ErrAssetNotFound):
		return fmt.Errorf("failed to load asset %s: %w", a.ID, err)
	}
	if err := c.store.UpsertAsset(ctx, a); err != nil {
		return fmt.Errorf("failed to persist asset %s: %w", a.ID, err)
	}
	c.assets[a.ID] = a
	return nil
}

// Get returns the live asset for id. Callers must not retain it past their
// critical section; hand out Clone() instead.
func (c *Catalog) Get(ctx context.Context, id string) (*Asset, error) {
	if a, ok := c.assets[id]; ok {
		return a, nil
	}
	a, err := c.store.GetAsset(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAssetNotFound) {
			return nil, fmt.Errorf("asset %s: %w", id, ErrAssetNotFound)
		}
		return nil, fmt.Errorf("failed to load asset %s: %w", id, err)
	}
	c.normalize(ctx, a)
	c.assets[id] = a
	return a, nil
}

// List returns live assets matching filter, preferring cached instances.
func (c *Catalog) List(ctx context.Context, filter Filter) ([]*Asset, error) {
	stored, err := c.store.ListAssets(ctx, Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	var out []*Asset
	for _, s := range stored {
		a, ok := c.assets[s.ID]
		if !ok {
			c.normalize(ctx, s)
			c.assets[s.ID] = s
			a = s
		}
		if filter.Match(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Save persists the current in-memory version of asset.
func (c *Catalog) Save(ctx context.Context, asset *Asset) error {
	return c.store.UpsertAsset(ctx, asset)
}

// Changed tells observers that asset moved to a new state.
func (c *Catalog) Changed(ctx context.Context, asset *Asset) {
	c.notifier.Notify(ctx, asset)
}

// normalize repairs rows written by older versions. Unknown status labels
// fall back to Available, which is surfaced as a warning.
func (c *Catalog) normalize(ctx context.Context, a *Asset) {
	if !a.State.Valid() {
		st, err := lifecycle.ParseState(string(a.State))
		if err != nil {
			c.logger.WarnContext(ctx, "unknown status label, defaulting to Available",
				"asset_id", a.ID, "status", string(a.State))
		}
		a.State = st
	}
	if a.State != lifecycle.Borrowed && a.DueDate != nil {
		a.DueDate = nil
	}
	if a.State == lifecycle.Borrowed && a.DueDate == nil {
		c.logger.WarnContext(ctx, "borrowed asset has no due date", "asset_id", a.ID)
	}
}
