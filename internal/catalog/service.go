// internal/catalog/service.go
package catalog

import (
	"context"
)

// Service defines the catalog operations exposed over HTTP.
type Service interface {
	AddAsset(ctx context.Context, asset *Asset) (*Asset, error)
	GetAsset(ctx context.Context, id string) (*Asset, error)
	ListAssets(ctx context.Context, filter Filter) ([]*Asset, error)
}
