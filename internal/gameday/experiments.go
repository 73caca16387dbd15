// internal/gameday/experiments.go
package gameday

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"libranexus-lending/internal/catalog"
	"libranexus-lending/internal/chaos"
	"libranexus-lending/internal/circulation"
	"libranexus-lending/internal/lifecycle"
	"libranexus-lending/internal/policy"
	"libranexus-lending/internal/storage/memory"
)

// Lab is an isolated lending service over a fault-injecting in-memory store.
type Lab struct {
	Inner   catalog.Store
	Store   *chaos.Store
	Service circulation.Service
}

var seed = []*catalog.Asset{
	{ID: "ISBN001", Title: "Mystic Runes", Author: "Eldoria", State: lifecycle.Available,
		Metadata: map[string]any{lifecycle.MetaPreservation: lifecycle.MetaPreservationHigh}},
	{ID: "ISBN003", Title: "Clean Code", Author: "Robert Martin", State: lifecycle.Available},
	{ID: "ISBN004", Title: "The Pragmatic Programmer", Author: "Hunt, Thomas", State: lifecycle.Available},
}

// NewLab builds a lab seeded with a handful of general and archival books.
func NewLab(ctx context.Context, logger *slog.Logger) (*Lab, error) {
	inner := memory.New()
	store := chaos.Wrap(inner)
	svc := circulation.NewService(store, nil, circulation.WithLogger(logger))
	for _, a := range seed {
		if _, err := svc.AddAsset(ctx, a.Clone()); err != nil {
			return nil, fmt.Errorf("seed %s: %w", a.ID, err)
		}
	}
	return &Lab{Inner: inner, Store: store, Service: svc}, nil
}

// Probes are the steady-state properties every experiment checks.
func (l *Lab) Probes() []chaos.Probe {
	return []chaos.Probe{
		{Name: "asset invariants", Check: l.checkInvariants},
		{Name: "store matches catalog", Check: l.checkStoreAgreement},
		{Name: "one open loan per borrowed asset", Check: l.checkOpenLoans},
	}
}

func (l *Lab) checkInvariants(ctx context.Context) error {
	assets, err := l.Service.ListAssets(ctx, catalog.Filter{})
	if err != nil {
		return err
	}
	for _, a := range assets {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("%s: %w", a.ID, err)
		}
	}
	return nil
}

func (l *Lab) checkStoreAgreement(ctx context.Context) error {
	assets, err := l.Service.ListAssets(ctx, catalog.Filter{})
	if err != nil {
		return err
	}
	for _, a := range assets {
		stored, err := l.Inner.GetAsset(ctx, a.ID)
		if err != nil {
			return err
		}
		if stored.State != a.State {
			return fmt.Errorf("%s: catalog says %s, store says %s", a.ID, a.State, stored.State)
		}
		if (stored.DueDate == nil) != (a.DueDate == nil) {
			return fmt.Errorf("%s: due dates disagree", a.ID)
		}
	}
	return nil
}

func (l *Lab) checkOpenLoans(ctx context.Context) error {
	borrowed, err := l.Service.ListAssets(ctx, catalog.Filter{State: lifecycle.Borrowed})
	if err != nil {
		return err
	}
	for _, a := range borrowed {
		records, err := l.Inner.ListLendingRecords(ctx, a.ID)
		if err != nil {
			return err
		}
		open := 0
		for _, r := range records {
			if r.Open() {
				open++
			}
		}
		if open != 1 {
			return fmt.Errorf("%s: %d open lending records", a.ID, open)
		}
	}
	return nil
}

func inject(l *Lab, f chaos.Fault) chaos.Action {
	return chaos.Action{
		Type:   "inject-fault",
		Target: string(f.Op),
		Execute: func(context.Context) error {
			l.Store.Inject(f)
			return nil
		},
	}
}

func clearFaults(l *Lab) chaos.Action {
	return chaos.Action{
		Type:   "clear-faults",
		Target: "store",
		Execute: func(context.Context) error {
			l.Store.Clear()
			return nil
		},
	}
}

var standard = []func(*Lab) chaos.Experiment{
	BorrowRecordFailure,
	ReturnCloseFailure,
	UndoCompensationFailure,
	RestorationReportFailure,
	BorrowedCopyRestoration,
	func(l *Lab) chaos.Experiment { return ConcurrentBorrowRace(l, 10, 5*time.Millisecond) },
}

// Experiments returns the standard game day against l.
func Experiments(l *Lab) []chaos.Experiment {
	out := make([]chaos.Experiment, len(standard))
	for i, build := range standard {
		out[i] = build(l)
	}
	return out
}

// BorrowRecordFailure fails the lending-record insert of a borrow.
func BorrowRecordFailure(l *Lab) chaos.Experiment {
	return chaos.Experiment{
		Name:        "borrow-record-insert-failure",
		Hypothesis:  "A borrow whose lending record cannot be written leaves the asset available",
		SteadyState: l.Probes(),
		Method:      []chaos.Action{inject(l, chaos.Fault{Op: chaos.OpInsertLendingRecord, Times: 1})},
		Trigger: func(ctx context.Context) error {
			_, err := l.Service.Borrow(ctx, "ISBN003", "reader-1", policy.Public)
			if err == nil {
				return errors.New("borrow succeeded under an injected fault")
			}
			if len(l.Service.History(ctx)) != 0 {
				return errors.New("failed borrow was recorded for undo")
			}
			return err
		},
		Rollback: []chaos.Action{clearFaults(l)},
	}
}

// ReturnCloseFailure fails closing the lending record of a return.
func ReturnCloseFailure(l *Lab) chaos.Experiment {
	return chaos.Experiment{
		Name:        "return-record-close-failure",
		Hypothesis:  "A return that cannot close its loan keeps the asset borrowed by the same reader",
		SteadyState: l.Probes(),
		Method: []chaos.Action{{
			Type:   "borrow",
			Target: "ISBN004",
			Execute: func(ctx context.Context) error {
				_, err := l.Service.Borrow(ctx, "ISBN004", "reader-2", policy.Academic)
				if err != nil {
					return err
				}
				l.Store.Inject(chaos.Fault{Op: chaos.OpCloseLendingRecord, Times: 1})
				return nil
			},
		}},
		Trigger: func(ctx context.Context) error {
			_, err := l.Service.Return(ctx, "ISBN004", "reader-2")
			return err
		},
		Rollback: []chaos.Action{clearFaults(l)},
	}
}

// UndoCompensationFailure fails the first attempt to undo a borrow.
func UndoCompensationFailure(l *Lab) chaos.Experiment {
	return chaos.Experiment{
		Name:        "undo-compensation-failure",
		Hypothesis:  "An undo that fails to persist is kept and succeeds when retried",
		SteadyState: l.Probes(),
		Method: []chaos.Action{{
			Type:   "borrow",
			Target: "ISBN003",
			Execute: func(ctx context.Context) error {
				if _, err := l.Service.Borrow(ctx, "ISBN003", "reader-3", policy.Public); err != nil {
					return err
				}
				l.Store.Inject(chaos.Fault{Op: chaos.OpDeleteLendingRecord, Times: 1})
				return nil
			},
		}},
		Trigger: func(ctx context.Context) error {
			_, err := l.Service.Undo(ctx)
			if err == nil {
				return errors.New("undo succeeded under an injected fault")
			}
			if len(l.Service.History(ctx)) != 1 {
				return errors.New("failed undo dropped the command")
			}
			return err
		},
		Rollback: []chaos.Action{
			clearFaults(l),
			{
				Type:   "retry-undo",
				Target: "command-log",
				Execute: func(ctx context.Context) error {
					_, err := l.Service.Undo(ctx)
					return err
				},
			},
		},
	}
}

// RestorationReportFailure fails saving the condition report of a flag.
func RestorationReportFailure(l *Lab) chaos.Experiment {
	return chaos.Experiment{
		Name:        "restoration-report-failure",
		Hypothesis:  "A flag whose condition report cannot be saved leaves the asset and queue untouched",
		SteadyState: l.Probes(),
		Method:      []chaos.Action{inject(l, chaos.Fault{Op: chaos.OpUpsertConditionReport})},
		Trigger: func(ctx context.Context) error {
			err := l.Service.FlagForRestoration(ctx, "ISBN004", circulation.ConditionReportInput{Rating: 3, Details: map[string]any{"damage": "water"}})
			queue, qerr := l.Service.RestorationQueue(ctx)
			if qerr != nil {
				return qerr
			}
			if len(queue) != 0 {
				return errors.New("failed flag reached the restoration queue")
			}
			return err
		},
		Rollback: []chaos.Action{clearFaults(l)},
	}
}

// BorrowedCopyRestoration pulls a borrowed copy for restoration, once through a
// failing store and once cleanly, then lends it again.
func BorrowedCopyRestoration(l *Lab) chaos.Experiment {
	return chaos.Experiment{
		Name:        "borrowed-copy-restoration",
		Hypothesis:  "A copy flagged while on loan ends that loan, so its next borrower holds the only open one",
		SteadyState: l.Probes(),
		Method: []chaos.Action{{
			Type:   "borrow",
			Target: "ISBN004",
			Execute: func(ctx context.Context) error {
				if _, err := l.Service.Borrow(ctx, "ISBN004", "reader-2", policy.Academic); err != nil {
					return err
				}
				l.Store.Inject(chaos.Fault{Op: chaos.OpCloseLendingRecord, Times: 1})
				return nil
			},
		}},
		Trigger: func(ctx context.Context) error {
			report := circulation.ConditionReportInput{Rating: 6, Details: map[string]any{"binding": "loose"}}
			injected := l.Service.FlagForRestoration(ctx, "ISBN004", report)
			if injected == nil {
				return errors.New("flag succeeded under an injected fault")
			}
			if err := l.Service.FlagForRestoration(ctx, "ISBN004", report); err != nil {
				return err
			}
			if _, err := l.Service.Restore(ctx, "ISBN004"); err != nil {
				return err
			}
			if _, err := l.Service.Borrow(ctx, "ISBN004", "reader-5", policy.Public); err != nil {
				return err
			}
			return injected
		},
		Rollback: []chaos.Action{clearFaults(l)},
	}
}

// ConcurrentBorrowRace sends n simultaneous borrows for one asset through a
// slow store.
func ConcurrentBorrowRace(l *Lab, n int, latency time.Duration) chaos.Experiment {
	return chaos.Experiment{
		Name:        "concurrent-borrow-race",
		Hypothesis:  "Simultaneous borrows of one copy produce exactly one loan",
		SteadyState: l.Probes(),
		Method:      []chaos.Action{inject(l, chaos.Fault{Op: chaos.OpUpsertAsset, Latency: latency})},
		Trigger: func(ctx context.Context) error {
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for i := range n {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := l.Service.Borrow(ctx, "ISBN003", fmt.Sprintf("reader-%d", i), policy.Public); err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			if wins != 1 {
				return fmt.Errorf("%d of %d borrows succeeded", wins, n)
			}
			return nil
		},
		Rollback: []chaos.Action{clearFaults(l)},
	}
}

// RunAll runs every experiment in a fresh lab and writes a summary to w.
func RunAll(ctx context.Context, w io.Writer, logger *slog.Logger) ([]chaos.Result, error) {
	engine := chaos.NewEngine()
	for _, build := range standard {
		lab, err := NewLab(ctx, logger)
		if err != nil {
			return nil, err
		}
		exp := build(lab)
		r, err := engine.Run(ctx, exp)
		if err != nil {
			return engine.Results(), fmt.Errorf("%s: %w", exp.Name, err)
		}
		chaos.WriteResult(w, exp, r)
	}
	return engine.Results(), nil
}

// Failed reports whether any result violated its hypothesis.
func Failed(results []chaos.Result) bool {
	for _, r := range results {
		if !r.HypothesisHeld {
			return true
		}
	}
	return false
}
