// internal/membership/domain.go
package membership

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMemberNotFound     = errors.New("member not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrInvalidRole        = errors.New("invalid role")
)

// Role groups the capabilities a member holds.
type Role string

const (
	RoleLibrarian Role = "librarian"
	RoleScholar   Role = "scholar"
	RoleGuest     Role = "guest"
)

// Capabilities checked by the lending desk.
const (
	CapManageBooks      = "manage_books"
	CapNotifyOverdue    = "notify_overdue"
	CapAccessAll        = "access_all"
	CapBorrowBooks      = "borrow_books"
	CapAccessRestricted = "access_restricted"
)

var roleCapabilities = map[Role][]string{
	RoleLibrarian: {CapManageBooks, CapNotifyOverdue, CapAccessAll},
	RoleScholar:   {CapBorrowBooks, CapAccessRestricted},
	RoleGuest:     {CapBorrowBooks},
}

// ParseRole accepts a role name in any case. Empty means guest.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if r == "" {
		return RoleGuest, nil
	}
	if _, ok := roleCapabilities[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Capabilities lists what the role grants.
func (r Role) Capabilities() []string {
	return slices.Clone(roleCapabilities[r])
}

// Can reports whether the role grants capability.
func (r Role) Can(capability string) bool {
	return slices.Contains(roleCapabilities[r], capability)
}

// Member represents a library member.
type Member struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Credential represents a member's login credentials.
type Credential struct {
	MemberID     uuid.UUID `json:"member_id"`
	PasswordHash string    `json:"-"`
	Salt         string    `json:"-"`
}
