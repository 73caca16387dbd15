// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the membership service.
type Service interface {
	RegisterMember(ctx context.Context, email, name, password string, role Role) (*Member, error)
	Authenticate(ctx context.Context, email, password string) (*Member, error)
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
	UpdateMemberRole(ctx context.Context, id uuid.UUID, role Role) error
	// HasCapability resolves userID as a member id or email. Unknown users
	// hold no capabilities.
	HasCapability(ctx context.Context, userID, capability string) (bool, error)
}
