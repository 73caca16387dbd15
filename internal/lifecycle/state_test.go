package lifecycle

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var (
	allStates = []State{Available, Borrowed, RestorationNeeded}
	allOps    = []Operation{Borrow, Return, FlagForRestoration, Restore}
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from State
		op   Operation
		to   State
	}{
		{Available, Borrow, Borrowed},
		{Borrowed, Return, Available},
		{Available, FlagForRestoration, RestorationNeeded},
		{Borrowed, FlagForRestoration, RestorationNeeded},
		{RestorationNeeded, Restore, Available},
	}
	for _, tc := range cases {
		got, err := Transition(tc.from, tc.op)
		require.NoError(t, err, "%s from %s", tc.op, tc.from)
		assert.Equal(t, tc.to, got)
	}
}

func TestTransitionRejectsIllegalPairs(t *testing.T) {
	illegal := []struct {
		from State
		op   Operation
	}{
		{Available, Return},
		{Available, Restore},
		{Borrowed, Borrow},
		{Borrowed, Restore},
		{RestorationNeeded, Borrow},
		{RestorationNeeded, Return},
		{RestorationNeeded, FlagForRestoration},
	}
	for _, tc := range illegal {
		got, err := Transition(tc.from, tc.op)
		var ite *IllegalTransitionError
		require.True(t, errors.As(err, &ite), "%s from %s should be illegal", tc.op, tc.from)
		assert.Equal(t, tc.from, ite.From)
		assert.Equal(t, tc.op, ite.Operation)
		assert.Equal(t, tc.from, got, "state must be left untouched")
	}
}

func TestTransitionIsTotal(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		from := rapid.SampledFrom(allStates).Draw(t, "from")
		op := rapid.SampledFrom(allOps).Draw(t, "op")

		to, err := Transition(from, op)
		if err != nil {
			var ite *IllegalTransitionError
			if !errors.As(err, &ite) {
				t.Fatalf("unexpected error type %T", err)
			}
			if to != from {
				t.Fatalf("illegal transition changed state %s -> %s", from, to)
			}
			return
		}
		if !to.Valid() {
			t.Fatalf("transition produced invalid state %q", to)
		}
	})
}

func TestAllowed(t *testing.T) {
	assert.Equal(t, []Operation{Borrow, FlagForRestoration}, Allowed(Available))
	assert.Equal(t, []Operation{Return, FlagForRestoration}, Allowed(Borrowed))
	assert.Equal(t, []Operation{Restore}, Allowed(RestorationNeeded))
}

func TestParseState(t *testing.T) {
	for label, want := range map[string]State{
		"Available":          Available,
		"Borrowed":           Borrowed,
		"Restoration Needed": RestorationNeeded,
		"RestorationNeeded":  RestorationNeeded,
	} {
		got, err := ParseState(label)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := ParseState("Lost")
	assert.ErrorIs(t, err, ErrUnknownState)
	assert.Equal(t, Available, got)
}

func TestCanBorrow(t *testing.T) {
	ok, reason := CanBorrow(Available, nil)
	assert.True(t, ok)
	assert.Equal(t, ReasonNone, reason)

	ok, reason = CanBorrow(Borrowed, map[string]any{"genre": "Fantasy"})
	assert.False(t, ok)
	assert.Equal(t, ReasonWrongState, reason)

	for _, st := range allStates {
		ok, reason = CanBorrow(st, map[string]any{MetaPreservation: MetaPreservationHigh})
		assert.False(t, ok)
		assert.Equal(t, ReasonPreservationRestricted, reason, "state %s", st)
	}

	// access=Restricted is a per-user capability check, not a base override.
	ok, _ = CanBorrow(Available, map[string]any{MetaAccess: MetaAccessRestricted})
	assert.True(t, ok)
	assert.True(t, AccessRestricted(map[string]any{MetaAccess: MetaAccessRestricted}))
	assert.False(t, AccessRestricted(map[string]any{MetaAccess: 1}))
}

func TestValidateRating(t *testing.T) {
	for _, r := range []float64{1, 5, 10} {
		got, err := ValidateRating(r)
		require.NoError(t, err)
		assert.Equal(t, int(r), got)
	}
	for _, r := range []float64{0, 11, 3.5, -1, math.NaN(), math.Inf(1)} {
		_, err := ValidateRating(r)
		var icr *InvalidConditionReportError
		assert.True(t, errors.As(err, &icr), "rating %v", r)
	}
}
