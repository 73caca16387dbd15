// internal/chaos/store.go
package chaos

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libranexus-lending/internal/catalog"
)

// Op names a catalog.Store method faults can target.
type Op string

const (
	OpUpsertAsset           Op = "upsert_asset"
	OpGetAsset              Op = "get_asset"
	OpListAssets            Op = "list_assets"
	OpInsertLendingRecord   Op = "insert_lending_record"
	OpCloseLendingRecord    Op = "close_lending_record"
	OpReopenLendingRecord   Op = "reopen_lending_record"
	OpDeleteLendingRecord   Op = "delete_lending_record"
	OpListLendingRecords    Op = "list_lending_records"
	OpUpsertConditionReport Op = "upsert_condition_report"
	OpConditionReport       Op = "condition_report"
)

// ErrInjected is the default error returned by an injected fault.
var ErrInjected = errors.New("chaos: injected store failure")

// Fault makes calls to Op fail. The first Skip calls pass through; after
// that Times calls fail (0 means every call until cleared). A fault with
// Latency and no Err only slows the calls down.
type Fault struct {
	Op      Op
	Skip    int
	Times   int
	Err     error
	Latency time.Duration
}

type activeFault struct {
	Fault
	seen   int
	failed int
}

// ErrorEvent records one injected failure.
type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Store wraps a catalog.Store and injects faults into selected operations.
type Store struct {
	inner  catalog.Store
	tracer trace.Tracer

	mu     sync.Mutex
	faults map[Op]*activeFault
	calls  map[Op]int
	events []ErrorEvent
}

var _ catalog.Store = (*Store)(nil)

func Wrap(inner catalog.Store) *Store {
	return &Store{
		inner:  inner,
		tracer: otel.Tracer("libranexus-lending/chaos"),
		faults: make(map[Op]*activeFault),
		calls:  make(map[Op]int),
	}
}

// Inject arms f, replacing any fault already set on the same operation.
func (s *Store) Inject(f Fault) {
	if f.Err == nil && f.Latency == 0 {
		f.Err = ErrInjected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[f.Op] = &activeFault{Fault: f}
}

// Clear disarms every fault.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.faults)
}

// Calls reports how many times op was invoked.
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Events returns the injected failures so far.
func (s *Store) Events() []ErrorEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ErrorEvent(nil), s.events...)
}

func (s *Store) before(ctx context.Context, op Op) error {
	s.mu.Lock()
	s.calls[op]++
	f, ok := s.faults[op]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	f.seen++
	if f.seen <= f.Skip || (f.Times > 0 && f.failed >= f.Times) {
		s.mu.Unlock()
		return nil
	}
	f.failed++
	err, latency := f.Err, f.Latency
	if err != nil {
		s.events = append(s.events, ErrorEvent{Timestamp: time.Now(), Error: err.Error(), Component: string(op)})
	}
	s.mu.Unlock()

	_, span := s.tracer.Start(ctx, "chaos.inject", trace.WithAttributes(
		attribute.String("store.op", string(op)),
		attribute.Int64("latency.ms", latency.Milliseconds()),
	))
	if err != nil {
		span.RecordError(err)
	}
	span.End()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *Store) UpsertAsset(ctx context.Context, asset *catalog.Asset) error {
	if err := s.before(ctx, OpUpsertAsset); err != nil {
		return err
	}
	return s.inner.UpsertAsset(ctx, asset)
}

func (s *Store) GetAsset(ctx context.Context, id string) (*catalog.Asset, error) {
	if err := s.before(ctx, OpGetAsset); err != nil {
		return nil, err
	}
	return s.inner.GetAsset(ctx, id)
}

func (s *Store) ListAssets(ctx context.Context, filter catalog.Filter) ([]*catalog.Asset, error) {
	if err := s.before(ctx, OpListAssets); err != nil {
		return nil, err
	}
	return s.inner.ListAssets(ctx, filter)
}

func (s *Store) InsertLendingRecord(ctx context.Context, record catalog.LendingRecord) error {
	if err := s.before(ctx, OpInsertLendingRecord); err != nil {
		return err
	}
	return s.inner.InsertLendingRecord(ctx, record)
}

func (s *Store) CloseLendingRecord(ctx context.Context, assetID, userID string, returnedAt time.Time, fee *float64) (string, error) {
	if err := s.before(ctx, OpCloseLendingRecord); err != nil {
		return "", err
	}
	return s.inner.CloseLendingRecord(ctx, assetID, userID, returnedAt, fee)
}

func (s *Store) ReopenLendingRecord(ctx context.Context, recordID string) error {
	if err := s.before(ctx, OpReopenLendingRecord); err != nil {
		return err
	}
	return s.inner.ReopenLendingRecord(ctx, recordID)
}

func (s *Store) DeleteLendingRecord(ctx context.Context, recordID string) error {
	if err := s.before(ctx, OpDeleteLendingRecord); err != nil {
		return err
	}
	return s.inner.DeleteLendingRecord(ctx, recordID)
}

func (s *Store) ListLendingRecords(ctx context.Context, assetID string) ([]catalog.LendingRecord, error) {
	if err := s.before(ctx, OpListLendingRecords); err != nil {
		return nil, err
	}
	return s.inner.ListLendingRecords(ctx, assetID)
}

func (s *Store) UpsertConditionReport(ctx context.Context, report catalog.ConditionReport) error {
	if err := s.before(ctx, OpUpsertConditionReport); err != nil {
		return err
	}
	return s.inner.UpsertConditionReport(ctx, report)
}

func (s *Store) ConditionReport(ctx context.Context, assetID string) (*catalog.ConditionReport, error) {
	if err := s.before(ctx, OpConditionReport); err != nil {
		return nil, err
	}
	return s.inner.ConditionReport(ctx, assetID)
}
