package command

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func counterCommand(n *int) (Action, Action) {
	return func(context.Context) error { *n++; return nil },
		func(context.Context) error { *n--; return nil }
}

func TestSubmitAppliesAndRecords(t *testing.T) {
	ctx := context.Background()
	log := NewLog(0)
	require.Equal(t, DefaultBound, log.Bound())

	n := 0
	apply, compensate := counterCommand(&n)
	id, err := log.Submit(ctx, "increment", apply, compensate)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, log.Len())
	assert.Equal(t, "increment", log.Entries()[0].Kind)
}

func TestSubmitDoesNotRecordFailedApply(t *testing.T) {
	log := NewLog(10)
	boom := errors.New("boom")
	compensated := false

	_, err := log.Submit(context.Background(), "fails",
		func(context.Context) error { return boom },
		func(context.Context) error { compensated = true; return nil },
	)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, log.Len())
	assert.False(t, compensated)

	_, err = log.Submit(context.Background(), "nil", nil, nil)
	assert.Error(t, err)
}

func TestUndoLastIsLIFO(t *testing.T) {
	ctx := context.Background()
	log := NewLog(10)
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		_, err := log.Submit(ctx, name,
			func(context.Context) error { return nil },
			func(context.Context) error { order = append(order, name); return nil },
		)
		require.NoError(t, err)
	}

	for range 3 {
		_, err := log.UndoLast(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"c", "b", "a"}, order)

	_, err := log.UndoLast(ctx)
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestUndoLastKeepsEntryWhenCompensationFails(t *testing.T) {
	ctx := context.Background()
	log := NewLog(10)
	fail := true
	undone := 0
	_, err := log.Submit(ctx, "flaky",
		func(context.Context) error { return nil },
		func(context.Context) error {
			if fail {
				return errors.New("store down")
			}
			undone++
			return nil
		},
	)
	require.NoError(t, err)

	_, err = log.UndoLast(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, log.Len())

	fail = false
	e, err := log.UndoLast(ctx)
	require.NoError(t, err)
	assert.Equal(t, "flaky", e.Kind)
	assert.Equal(t, 1, undone)
	assert.Zero(t, log.Len())
}

func TestBoundKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	log := NewLog(DefaultBound)
	evictedCompensations := 0
	for i := range 150 {
		_, err := log.Submit(ctx, fmt.Sprintf("cmd-%d", i),
			func(context.Context) error { return nil },
			func(context.Context) error { evictedCompensations++; return nil },
		)
		require.NoError(t, err)
	}

	require.Equal(t, 100, log.Len())
	entries := log.Entries()
	for i, e := range entries {
		assert.Equal(t, fmt.Sprintf("cmd-%d", i+50), e.Kind)
	}
	assert.Zero(t, evictedCompensations, "eviction must not compensate")
}

func TestLogNeverExceedsBound(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		bound := rapid.IntRange(1, 20).Draw(t, "bound")
		log := NewLog(bound)
		ctx := context.Background()
		value, expected := 0, 0
		var applied []int

		steps := rapid.SliceOfN(rapid.Bool(), 1, 80).Draw(t, "steps")
		for _, submit := range steps {
			if submit {
				delta := len(applied) + 1
				_, err := log.Submit(ctx, "add",
					func(context.Context) error { value += delta; return nil },
					func(context.Context) error { value -= delta; return nil },
				)
				if err != nil {
					t.Fatal(err)
				}
				expected += delta
				applied = append(applied, delta)
				if len(applied) > bound {
					applied = applied[1:]
				}
			} else {
				_, err := log.UndoLast(ctx)
				if len(applied) == 0 {
					if !errors.Is(err, ErrNoHistory) {
						t.Fatalf("expected ErrNoHistory, got %v", err)
					}
					continue
				}
				if err != nil {
					t.Fatal(err)
				}
				expected -= applied[len(applied)-1]
				applied = applied[:len(applied)-1]
			}
			if value != expected {
				t.Fatalf("value %d, expected %d", value, expected)
			}
			if log.Len() > bound {
				t.Fatalf("log length %d exceeds bound %d", log.Len(), bound)
			}
			if log.Len() != len(applied) {
				t.Fatalf("log length %d, model %d", log.Len(), len(applied))
			}
		}
	})
}
