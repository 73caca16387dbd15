package chaos

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libranexus-lending/internal/catalog"
	"libranexus-lending/internal/lifecycle"
	"libranexus-lending/internal/storage/memory"
)

func TestFaultSkipsThenFails(t *testing.T) {
	ctx := context.Background()
	s := Wrap(memory.New())
	s.Inject(Fault{Op: OpUpsertAsset, Skip: 1, Times: 1})

	require.NoError(t, s.UpsertAsset(ctx, &catalog.Asset{ID: "A", State: lifecycle.Available}))
	err := s.UpsertAsset(ctx, &catalog.Asset{ID: "B", State: lifecycle.Available})
	assert.ErrorIs(t, err, ErrInjected)
	require.NoError(t, s.UpsertAsset(ctx, &catalog.Asset{ID: "C", State: lifecycle.Available}))

	assert.Equal(t, 3, s.Calls(OpUpsertAsset))
	require.Len(t, s.Events(), 1)
	assert.Equal(t, string(OpUpsertAsset), s.Events()[0].Component)

	_, err = s.GetAsset(ctx, "B")
	assert.ErrorIs(t, err, catalog.ErrAssetNotFound, "failed write must not reach the inner store")
}

func TestClearDisarms(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	s := Wrap(memory.New())
	s.Inject(Fault{Op: OpInsertLendingRecord, Err: boom})

	assert.ErrorIs(t, s.InsertLendingRecord(ctx, catalog.LendingRecord{ID: "r1"}), boom)
	assert.ErrorIs(t, s.InsertLendingRecord(ctx, catalog.LendingRecord{ID: "r2"}), boom)
	s.Clear()
	assert.NoError(t, s.InsertLendingRecord(ctx, catalog.LendingRecord{ID: "r3"}))
}

func TestEngineRun(t *testing.T) {
	ctx := context.Background()
	store := Wrap(memory.New())
	require.NoError(t, store.UpsertAsset(ctx, &catalog.Asset{ID: "A", State: lifecycle.Available}))

	available := Probe{Name: "asset A available", Check: func(ctx context.Context) error {
		a, err := store.GetAsset(ctx, "A")
		if err != nil {
			return err
		}
		if a.State != lifecycle.Available {
			return errors.New("state is " + a.State.String())
		}
		return nil
	}}

	exp := Experiment{
		Name:        "upsert-failure",
		Hypothesis:  "a failed write leaves the asset untouched",
		SteadyState: []Probe{available},
		Method: []Action{{Type: "failure", Target: "store", Execute: func(context.Context) error {
			store.Inject(Fault{Op: OpUpsertAsset})
			return nil
		}}},
		Trigger: func(ctx context.Context) error {
			return store.UpsertAsset(ctx, &catalog.Asset{ID: "A", State: lifecycle.RestorationNeeded})
		},
		Rollback: []Action{{Type: "recover", Target: "store", Execute: func(context.Context) error {
			store.Clear()
			return nil
		}}},
	}

	engine := NewEngine()
	result, err := engine.Run(ctx, exp)
	require.NoError(t, err)
	assert.True(t, result.SteadyStateValid)
	assert.True(t, result.HypothesisHeld)
	assert.Contains(t, result.TriggerError, "injected")
	assert.Len(t, engine.Results(), 1)

	var buf bytes.Buffer
	WriteResult(&buf, exp, result)
	assert.Contains(t, buf.String(), "Hypothesis held")
}

func TestEngineAbortsOnBrokenSteadyState(t *testing.T) {
	broken := Probe{Name: "always", Check: func(context.Context) error { return errors.New("down") }}
	result, err := NewEngine().Run(context.Background(), Experiment{Name: "x", SteadyState: []Probe{broken}})
	require.Error(t, err)
	assert.False(t, result.SteadyStateValid)
	assert.Len(t, result.Violations, 1)
}
