// internal/membership/implementation.go
package membership

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// service implements the Service interface over an in-process registry.
type service struct {
	mu          sync.RWMutex
	members     map[uuid.UUID]*Member
	byEmail     map[string]uuid.UUID
	credentials map[uuid.UUID]Credential

	rateLimiter *rate.Limiter
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures the service.
type Option func(*service)

// WithRateLimit bounds register and login attempts.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(s *service) { s.rateLimiter = rate.NewLimiter(limit, burst) }
}

func WithLogger(l *slog.Logger) Option { return func(s *service) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *service) { s.now = now } }

// NewService creates a new membership service instance.
func NewService(opts ...Option) Service {
	s := &service{
		members:     make(map[uuid.UUID]*Member),
		byEmail:     make(map[string]uuid.UUID),
		credentials: make(map[uuid.UUID]Credential),
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/5), 5), // 5 requests per minute
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RegisterMember creates a new member with the given role.
func (s *service) RegisterMember(ctx context.Context, email, name, password string, role Role) (*Member, error) {
	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password are required")
	}
	if _, ok := roleCapabilities[role]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	passwordHash, salt, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[email]; taken {
		return nil, ErrEmailTaken
	}

	now := s.now()
	member := &Member{
		ID:        uuid.New(),
		Email:     email,
		Name:      name,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.members[member.ID] = member
	s.byEmail[email] = member.ID
	s.credentials[member.ID] = Credential{MemberID: member.ID, PasswordHash: passwordHash, Salt: salt}

	s.logger.InfoContext(ctx, "member registered", "member_id", member.ID, "role", string(role))
	c := *member
	return &c, nil
}

// Authenticate verifies a member's credentials and returns the member if successful.
func (s *service) Authenticate(ctx context.Context, email, password string) (*Member, error) {
	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}

	s.mu.RLock()
	id, ok := s.byEmail[normalizeEmail(email)]
	credential := s.credentials[id]
	var member Member
	if ok {
		member = *s.members[id]
	}
	s.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}

	valid, err := verifyPassword(password, credential.Salt, credential.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if !valid {
		s.logger.WarnContext(ctx, "failed login", "member_id", member.ID)
		return nil, ErrInvalidCredentials
	}
	return &member, nil
}

// GetMember retrieves a member by their ID.
func (s *service) GetMember(_ context.Context, id uuid.UUID) (*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, fmt.Errorf("member %s: %w", id, ErrMemberNotFound)
	}
	c := *m
	return &c, nil
}

// UpdateMemberRole changes a member's role.
func (s *service) UpdateMemberRole(ctx context.Context, id uuid.UUID, role Role) error {
	if _, ok := roleCapabilities[role]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return fmt.Errorf("member %s: %w", id, ErrMemberNotFound)
	}
	m.Role = role
	m.UpdatedAt = s.now()
	s.logger.InfoContext(ctx, "member role changed", "member_id", id, "role", string(role))
	return nil
}

// HasCapability reports whether userID holds capability. access_all grants
// every capability.
func (s *service) HasCapability(_ context.Context, userID, capability string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, err := uuid.Parse(userID)
	if err != nil {
		var ok bool
		if id, ok = s.byEmail[normalizeEmail(userID)]; !ok {
			return false, nil
		}
	}
	m, ok := s.members[id]
	if !ok {
		return false, nil
	}
	return m.Role.Can(capability) || m.Role.Can(CapAccessAll), nil
}
