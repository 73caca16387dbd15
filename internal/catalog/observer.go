// internal/catalog/observer.go
package catalog

import (
	"context"
	"log/slog"
	"sync"
)

// Observer is told about every state change of the assets it watches.
type Observer interface {
	Notify(ctx context.Context, asset *Asset) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, asset *Asset) error

func (f ObserverFunc) Notify(ctx context.Context, asset *Asset) error { return f(ctx, asset) }

// Notifier fans state changes out to observers. Catalog-wide observers are
// delivered first, then the asset's own, each group in registration order.
// Delivery is best-effort: failures are logged and never reach the caller.
type Notifier struct {
	mu       sync.RWMutex
	global   []Observer
	perAsset map[string][]Observer
	logger   *slog.Logger
}

func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{perAsset: make(map[string][]Observer), logger: logger}
}

// Watch registers an observer for a single asset.
func (n *Notifier) Watch(assetID string, o Observer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.perAsset[assetID] = append(n.perAsset[assetID], o)
}

// WatchAll registers an observer for every asset, present and future.
func (n *Notifier) WatchAll(o Observer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.global = append(n.global, o)
}

func (n *Notifier) Notify(ctx context.Context, asset *Asset) {
	n.mu.RLock()
	observers := make([]Observer, 0, len(n.global)+len(n.perAsset[asset.ID]))
	observers = append(observers, n.global...)
	observers = append(observers, n.perAsset[asset.ID]...)
	n.mu.RUnlock()

	for _, o := range observers {
		if err := o.Notify(ctx, asset.Clone()); err != nil {
			n.logger.WarnContext(ctx, "observer notification failed", "asset_id", asset.ID, "error", err)
		}
	}
}

// LogObserver is the librarian desk: it logs every state change it sees.
type LogObserver struct {
	Name   string
	Logger *slog.Logger
}

func (o LogObserver) Notify(ctx context.Context, asset *Asset) error {
	o.Logger.InfoContext(ctx, "asset status changed",
		"librarian", o.Name,
		"asset_id", asset.ID,
		"title", asset.Title,
		"state", asset.State.String(),
	)
	return nil
}
