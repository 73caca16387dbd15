// internal/policy/policy.go
package policy

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"libranexus-lending/internal/catalog"
	"libranexus-lending/internal/lifecycle"
)

// Mode selects a lending policy.
type Mode string

const (
	Public     Mode = "public"
	Academic   Mode = "academic"
	Restricted Mode = "restricted"
)

// CapabilityAccessRestricted lets a user borrow restricted items and use the reading room.
const CapabilityAccessRestricted = "access_restricted"

const day = 24 * time.Hour

// ParseMode maps a caller-supplied lending mode to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case Public, Academic, Restricted:
		return m, nil
	case "":
		return Public, nil
	}
	return "", fmt.Errorf("unknown lending mode %q", s)
}

// Directory answers capability questions about users.
type Directory interface {
	HasCapability(ctx context.Context, userID, capability string) (bool, error)
}

// Rates holds the per-day late fee charged under each mode.
type Rates struct {
	Public     float64
	Academic   float64
	Restricted float64
}

// DefaultRates are used when no rates are configured.
var DefaultRates = Rates{Public: 0.50, Academic: 0.25, Restricted: 5.00}

// Policy is a lending ruleset: how long a loan lasts, what it costs to be late
// and who may borrow.
type Policy struct {
	Mode         Mode
	Duration     time.Duration
	DailyLateFee float64
}

// For returns the policy for mode, pricing late days with rates.
func For(mode Mode, rates Rates) Policy {
	switch mode {
	case Academic:
		return Policy{Mode: Academic, Duration: 30 * day, DailyLateFee: rates.Academic}
	case Restricted:
		return Policy{Mode: Restricted, Duration: 2 * time.Hour, DailyLateFee: rates.Restricted}
	default:
		return Policy{Mode: Public, Duration: 14 * day, DailyLateFee: rates.Public}
	}
}

func (p Policy) LoanDuration() time.Duration { return p.Duration }

// LoanDays is the loan duration in days; the reading room yields a fraction.
func (p Policy) LoanDays() float64 { return p.Duration.Hours() / 24 }

func (p Policy) DueDateFrom(now time.Time) time.Time { return now.Add(p.Duration) }

// NotBorrowableError explains why a borrow request was refused.
type NotBorrowableError struct {
	AssetID string
	Reason  lifecycle.Reason
}

func (e *NotBorrowableError) Error() string {
	return fmt.Sprintf("asset %s is not borrowable: %s", e.AssetID, e.Reason)
}

// CanBorrow layers the policy's permission checks over the state machine's.
// A nil error means the borrow may proceed.
func (p Policy) CanBorrow(ctx context.Context, asset *catalog.Asset, userID string, dir Directory) error {
	if ok, reason := lifecycle.CanBorrow(asset.State, asset.Metadata); !ok {
		return &NotBorrowableError{AssetID: asset.ID, Reason: reason}
	}
	if p.Mode != Restricted && !lifecycle.AccessRestricted(asset.Metadata) {
		return nil
	}
	if dir == nil {
		return &NotBorrowableError{AssetID: asset.ID, Reason: lifecycle.ReasonRestrictedAccessDenied}
	}
	ok, err := dir.HasCapability(ctx, userID, CapabilityAccessRestricted)
	if err != nil {
		return fmt.Errorf("failed to check capability: %w", err)
	}
	if !ok {
		return &NotBorrowableError{AssetID: asset.ID, Reason: lifecycle.ReasonRestrictedAccessDenied}
	}
	return nil
}

// OverdueDays counts whole days elapsed since due, never negative.
func OverdueDays(due *time.Time, now time.Time) int {
	if due == nil || !now.After(*due) {
		return 0
	}
	return int(math.Floor(float64(now.Sub(*due)) / float64(day)))
}

// LateFee prices the overdue days at the policy's daily rate.
func (p Policy) LateFee(due *time.Time, now time.Time) float64 {
	return float64(OverdueDays(due, now)) * p.DailyLateFee
}
