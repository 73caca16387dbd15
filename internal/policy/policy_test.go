package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"libranexus-lending/internal/catalog"
	"libranexus-lending/internal/lifecycle"
)

type fakeDirectory map[string][]string

func (d fakeDirectory) HasCapability(_ context.Context, userID, capability string) (bool, error) {
	for _, c := range d[userID] {
		if c == capability {
			return true, nil
		}
	}
	return false, nil
}

type brokenDirectory struct{}

func (brokenDirectory) HasCapability(context.Context, string, string) (bool, error) {
	return false, errors.New("membership unavailable")
}

func TestLoanDurations(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	pub := For(Public, DefaultRates)
	assert.Equal(t, 14*24*time.Hour, pub.LoanDuration())
	assert.Equal(t, now.AddDate(0, 0, 14), pub.DueDateFrom(now))

	acad := For(Academic, DefaultRates)
	assert.Equal(t, 30.0, acad.LoanDays())
	assert.Equal(t, now.AddDate(0, 0, 30), acad.DueDateFrom(now))

	room := For(Restricted, DefaultRates)
	assert.InDelta(t, 2.0/24.0, room.LoanDays(), 1e-9)
	assert.Equal(t, now.Add(2*time.Hour), room.DueDateFrom(now))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Academic ")
	require.NoError(t, err)
	assert.Equal(t, Academic, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Public, m)

	_, err = ParseMode("interlibrary")
	assert.Error(t, err)
}

func TestCanBorrow(t *testing.T) {
	ctx := context.Background()
	dir := fakeDirectory{"scholar": {"borrow_books", CapabilityAccessRestricted}, "guest": {"borrow_books"}}

	general := &catalog.Asset{ID: "ISBN003", State: lifecycle.Available}
	rare := &catalog.Asset{ID: "ISBN002", State: lifecycle.Available, Metadata: map[string]any{"access": "Restricted"}}
	ancient := &catalog.Asset{ID: "ISBN001", State: lifecycle.Available, Metadata: map[string]any{"preservation": "High"}}

	assert.NoError(t, For(Public, DefaultRates).CanBorrow(ctx, general, "guest", dir))
	assert.NoError(t, For(Public, DefaultRates).CanBorrow(ctx, rare, "scholar", dir))
	assertReason(t, For(Public, DefaultRates).CanBorrow(ctx, rare, "guest", dir), lifecycle.ReasonRestrictedAccessDenied)

	assert.NoError(t, For(Restricted, DefaultRates).CanBorrow(ctx, general, "scholar", dir))
	assertReason(t, For(Restricted, DefaultRates).CanBorrow(ctx, general, "guest", dir), lifecycle.ReasonRestrictedAccessDenied)
	assertReason(t, For(Restricted, DefaultRates).CanBorrow(ctx, general, "guest", nil), lifecycle.ReasonRestrictedAccessDenied)

	assertReason(t, For(Restricted, DefaultRates).CanBorrow(ctx, ancient, "scholar", dir), lifecycle.ReasonPreservationRestricted)

	borrowed := &catalog.Asset{ID: "ISBN004", State: lifecycle.Borrowed}
	assertReason(t, For(Academic, DefaultRates).CanBorrow(ctx, borrowed, "scholar", dir), lifecycle.ReasonWrongState)
}

func TestCanBorrowSurfacesDirectoryFailure(t *testing.T) {
	asset := &catalog.Asset{ID: "ISBN003", State: lifecycle.Available}
	err := For(Restricted, DefaultRates).CanBorrow(context.Background(), asset, "scholar", brokenDirectory{})
	require.Error(t, err)
	var nb *NotBorrowableError
	assert.False(t, errors.As(err, &nb))
}

func assertReason(t *testing.T, err error, want lifecycle.Reason) {
	t.Helper()
	var nb *NotBorrowableError
	require.True(t, errors.As(err, &nb), "expected NotBorrowableError, got %v", err)
	assert.Equal(t, want, nb.Reason)
}

func TestLateFee(t *testing.T) {
	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pub := For(Public, DefaultRates)

	assert.Zero(t, pub.LateFee(nil, due.Add(100*24*time.Hour)))
	assert.Zero(t, pub.LateFee(&due, due.Add(-time.Hour)))
	assert.Zero(t, pub.LateFee(&due, due.Add(23*time.Hour)))
	assert.Equal(t, 0.5, pub.LateFee(&due, due.Add(24*time.Hour)))
	assert.Equal(t, 1.5, pub.LateFee(&due, due.Add(3*24*time.Hour+5*time.Hour)))

	custom := For(Academic, Rates{Academic: 2})
	assert.Equal(t, 10.0, custom.LateFee(&due, due.Add(5*24*time.Hour)))
}

func TestOverdueDaysIsFlooredAndClamped(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		due := time.Unix(rapid.Int64Range(0, 4_000_000_000).Draw(t, "due"), 0)
		offset := time.Duration(rapid.Int64Range(-1_000_000, 10_000_000).Draw(t, "offset")) * time.Second
		now := due.Add(offset)

		days := OverdueDays(&due, now)
		if days < 0 {
			t.Fatalf("negative overdue days %d", days)
		}
		if offset <= 0 && days != 0 {
			t.Fatalf("not yet due but got %d days", days)
		}
		if offset > 0 {
			if time.Duration(days)*day > offset || time.Duration(days+1)*day <= offset {
				t.Fatalf("offset %s floored to %d days", offset, days)
			}
		}
	})
}
