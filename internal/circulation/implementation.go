// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"libranexus-lending/internal/audit"
	"libranexus-lending/internal/catalog"
	"libranexus-lending/internal/command"
	"libranexus-lending/internal/lifecycle"
	"libranexus-lending/internal/policy"
)

const (
	kindBorrow = "borrow"
	kindReturn = "return"
)

// service implements the Service interface. A single mutex covers the asset
// index, the command log and the restoration queue: apply and compensate
// read-modify-write asset fields and the store together.
type service struct {
	mu      sync.Mutex
	catalog *catalog.Catalog
	store   catalog.Store
	log     *command.Log
	queue   []QueueEntry

	dir     policy.Directory
	rates   policy.Rates
	journal audit.Journal
	logger  *slog.Logger
	now     func() time.Time

	tracer      trace.Tracer
	instruments instruments
}

type instruments struct {
	borrows             metric.Int64Counter
	returns             metric.Int64Counter
	undos               metric.Int64Counter
	flags               metric.Int64Counter
	persistenceFailures metric.Int64Counter
}

// Option configures the service.
type Option func(*config)

type config struct {
	journal  audit.Journal
	notifier *catalog.Notifier
	logger   *slog.Logger
	rates    policy.Rates
	bound    int
	now      func() time.Time
}

func WithJournal(j audit.Journal) Option { return func(c *config) { c.journal = j } }

func WithNotifier(n *catalog.Notifier) Option { return func(c *config) { c.notifier = n } }

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

func WithRates(r policy.Rates) Option { return func(c *config) { c.rates = r } }

// WithHistoryBound sets how many commands are kept for undo.
func WithHistoryBound(n int) Option { return func(c *config) { c.bound = n } }

func WithClock(now func() time.Time) Option { return func(c *config) { c.now = now } }

// NewService creates a lending service over store. dir answers capability
// checks; a nil dir denies every restricted borrow.
func NewService(store catalog.Store, dir policy.Directory, opts ...Option) Service {
	cfg := config{
		journal: audit.Nop{},
		logger:  slog.Default(),
		rates:   policy.DefaultRates,
		bound:   command.DefaultBound,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.notifier == nil {
		cfg.notifier = catalog.NewNotifier(cfg.logger)
	}

	meter := otel.Meter("libranexus-lending/circulation")
	return &service{
		catalog: catalog.New(store, cfg.notifier, cfg.logger),
		store:   store,
		log:     command.NewLog(cfg.bound, command.WithClock(cfg.now)),
		dir:     dir,
		rates:   cfg.rates,
		journal: cfg.journal,
		logger:  cfg.logger,
		now:     cfg.now,
		tracer:  otel.Tracer("libranexus-lending/circulation"),
		instruments: instruments{
			borrows:             counter(meter, "circulation.borrows", "Applied borrow commands"),
			returns:             counter(meter, "circulation.returns", "Applied return commands"),
			undos:               counter(meter, "circulation.undos", "Compensated commands"),
			flags:               counter(meter, "circulation.restoration_flags", "Assets flagged for restoration"),
			persistenceFailures: counter(meter, "circulation.persistence_failures", "Operations aborted by a store failure"),
		},
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		otel.Handle(err)
		return noop.Int64Counter{}
	}
	return c
}

// AddAsset ingests an asset through the catalog.
func (s *service) AddAsset(ctx context.Context, asset *catalog.Asset) (*catalog.Asset, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.add_asset", trace.WithAttributes(attribute.String("asset.id", asset.ID)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.catalog.Add(ctx, asset); err != nil {
		if !errors.Is(err, catalog.ErrInvalidAsset) && !errors.Is(err, catalog.ErrAssetExists) {
			err = s.persistenceFailure(ctx, "add_asset", asset.ID, err)
		}
		return nil, fail(span, err)
	}
	added, err := s.catalog.Get(ctx, asset.ID)
	if err != nil {
		return nil, fail(span, s.classify(ctx, "get_asset", asset.ID, err))
	}
	s.logger.InfoContext(ctx, "asset added", "asset_id", added.ID, "state", added.State.String())
	return added.Clone(), nil
}

func (s *service) GetAsset(ctx context.Context, id string) (*catalog.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.catalog.Get(ctx, id)
	if err != nil {
		return nil, s.classify(ctx, "get_asset", id, err)
	}
	return a.Clone(), nil
}

func (s *service) ListAssets(ctx context.Context, filter catalog.Filter) ([]*catalog.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	assets, err := s.catalog.List(ctx, filter)
	if err != nil {
		return nil, s.persistenceFailure(ctx, "list_assets", "", err)
	}
	out := make([]*catalog.Asset, len(assets))
	for i, a := range assets {
		out[i] = a.Clone()
	}
	return out, nil
}

// Borrow lends assetID to userID under mode and returns the due date. The
// command's compensation restores the exact pre-borrow state and retracts
// the lending record it wrote.
func (s *service) Borrow(ctx context.Context, assetID, userID string, mode policy.Mode) (time.Time, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.borrow", trace.WithAttributes(
		attribute.String("asset.id", assetID),
		attribute.String("user.id", userID),
		attribute.String("lending.mode", string(mode)),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	asset, err := s.catalog.Get(ctx, assetID)
	if err != nil {
		return time.Time{}, fail(span, s.classify(ctx, "get_asset", assetID, err))
	}
	p := policy.For(mode, s.rates)
	if err := p.CanBorrow(ctx, asset, userID, s.dir); err != nil {
		return time.Time{}, fail(span, err)
	}

	before := takeSnapshot(asset)
	now := s.now()
	due := p.DueDateFrom(now)
	record := catalog.LendingRecord{
		ID:         uuid.NewString(),
		AssetID:    asset.ID,
		UserID:     userID,
		BorrowedAt: now,
		DueAt:      due,
	}
	var commandID uuid.UUID

	apply := func(ctx context.Context) error {
		next, err := lifecycle.Transition(asset.State, lifecycle.Borrow)
		if err != nil {
			return err
		}
		asset.State = next
		d := due
		asset.DueDate = &d
		if err := s.store.UpsertAsset(ctx, asset); err != nil {
			return s.rollback(ctx, asset, before, "upsert_asset", err)
		}
		if err := s.store.InsertLendingRecord(ctx, record); err != nil {
			return s.rollback(ctx, asset, before, "insert_lending_record", err)
		}
		return nil
	}
	compensate := func(ctx context.Context) error {
		after := takeSnapshot(asset)
		before.restore(asset)
		if err := s.store.UpsertAsset(ctx, asset); err != nil {
			return s.rollback(ctx, asset, after, "upsert_asset", err)
		}
		if err := s.store.DeleteLendingRecord(ctx, record.ID); err != nil {
			return s.rollback(ctx, asset, after, "delete_lending_record", err)
		}
		s.catalog.Changed(ctx, asset)
		s.audit(ctx, audit.Entry{
			AssetID:   asset.ID,
			Kind:      audit.KindBorrowUndone,
			UserID:    userID,
			CommandID: commandID,
			Data:      map[string]any{"record_id": record.ID},
		})
		return nil
	}

	commandID, err = s.log.Submit(ctx, kindBorrow, apply, compensate)
	if err != nil {
		return time.Time{}, fail(span, err)
	}

	s.catalog.Changed(ctx, asset)
	s.audit(ctx, audit.Entry{
		AssetID:   asset.ID,
		Kind:      audit.KindAssetBorrowed,
		UserID:    userID,
		CommandID: commandID,
		Data: map[string]any{
			"mode":      string(p.Mode),
			"due_date":  due,
			"record_id": record.ID,
		},
	})
	s.instruments.borrows.Add(ctx, 1, metric.WithAttributes(attribute.String("lending.mode", string(p.Mode))))
	s.logger.InfoContext(ctx, "asset borrowed", "asset_id", asset.ID, "user_id", userID, "mode", string(p.Mode), "due_date", due)
	return due, nil
}

// Return takes assetID back from userID and returns the late fee charged.
// Fees are always priced with the public policy, whatever mode the asset
// was borrowed under.
func (s *service) Return(ctx context.Context, assetID, userID string) (float64, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return", trace.WithAttributes(
		attribute.String("asset.id", assetID),
		attribute.String("user.id", userID),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	asset, err := s.catalog.Get(ctx, assetID)
	if err != nil {
		return 0, fail(span, s.classify(ctx, "get_asset", assetID, err))
	}

	now := s.now()
	fee := policy.For(policy.Public, s.rates).LateFee(asset.DueDate, now)
	before := takeSnapshot(asset)
	var recordID string
	var commandID uuid.UUID

	apply := func(ctx context.Context) error {
		next, err := lifecycle.Transition(asset.State, lifecycle.Return)
		if err != nil {
			return err
		}
		asset.State = next
		asset.DueDate = nil
		if err := s.store.UpsertAsset(ctx, asset); err != nil {
			return s.rollback(ctx, asset, before, "upsert_asset", err)
		}
		f := fee
		id, err := s.store.CloseLendingRecord(ctx, asset.ID, userID, now, &f)
		if err != nil {
			return s.rollback(ctx, asset, before, "close_lending_record", err)
		}
		if id == "" {
			s.logger.WarnContext(ctx, "no open lending record for returning user", "asset_id", asset.ID, "user_id", userID)
		}
		recordID = id
		return nil
	}
	compensate := func(ctx context.Context) error {
		after := takeSnapshot(asset)
		before.restore(asset)
		if err := s.store.UpsertAsset(ctx, asset); err != nil {
			return s.rollback(ctx, asset, after, "upsert_asset", err)
		}
		if recordID != "" {
			if err := s.store.ReopenLendingRecord(ctx, recordID); err != nil {
				return s.rollback(ctx, asset, after, "reopen_lending_record", err)
			}
		}
		s.catalog.Changed(ctx, asset)
		s.audit(ctx, audit.Entry{
			AssetID:   asset.ID,
			Kind:      audit.KindReturnUndone,
			UserID:    userID,
			CommandID: commandID,
			Data:      map[string]any{"record_id": recordID},
		})
		return nil
	}

	commandID, err = s.log.Submit(ctx, kindReturn, apply, compensate)
	if err != nil {
		return 0, fail(span, err)
	}

	s.catalog.Changed(ctx, asset)
	s.audit(ctx, audit.Entry{
		AssetID:   asset.ID,
		Kind:      audit.KindAssetReturned,
		UserID:    userID,
		CommandID: commandID,
		Data:      map[string]any{"late_fee": fee, "record_id": recordID},
	})
	s.instruments.returns.Add(ctx, 1)
	s.logger.InfoContext(ctx, "asset returned", "asset_id", asset.ID, "user_id", userID, "late_fee", fee)
	return fee, nil
}

// FlagForRestoration moves an asset to RestorationNeeded, files the
// condition report and queues the asset. It is not undoable.
func (s *service) FlagForRestoration(ctx context.Context, assetID string, report ConditionReportInput) error {
	ctx, span := s.tracer.Start(ctx, "circulation.flag_for_restoration", trace.WithAttributes(
		attribute.String("asset.id", assetID),
		attribute.Float64("report.rating", report.Rating),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	asset, err := s.catalog.Get(ctx, assetID)
	if err != nil {
		return fail(span, s.classify(ctx, "get_asset", assetID, err))
	}
	rating, err := lifecycle.ValidateRating(report.Rating)
	if err != nil {
		return fail(span, err)
	}
	next, err := lifecycle.Transition(asset.State, lifecycle.FlagForRestoration)
	if err != nil {
		return fail(span, err)
	}

	before := takeSnapshot(asset)
	now := s.now()
	asset.State = next
	asset.DueDate = nil
	if err := s.store.UpsertAsset(ctx, asset); err != nil {
		return fail(span, s.rollback(ctx, asset, before, "upsert_asset", err))
	}
	var closed []string
	if before.state == lifecycle.Borrowed {
		closed, err = s.closeLoans(ctx, asset.ID, now)
		if err != nil {
			return fail(span, s.rollback(ctx, asset, before, "close_lending_record", err))
		}
	}
	err = s.store.UpsertConditionReport(ctx, catalog.ConditionReport{
		AssetID:    asset.ID,
		Rating:     rating,
		Details:    report.Details,
		ReportedAt: now,
	})
	if err != nil {
		s.reopenLoans(ctx, asset.ID, closed)
		return fail(span, s.rollback(ctx, asset, before, "upsert_condition_report", err))
	}
	s.queue = append(s.queue, QueueEntry{AssetID: asset.ID, Title: asset.Title, Rating: rating, FlaggedAt: now})

	s.catalog.Changed(ctx, asset)
	data := map[string]any{"rating": rating, "details": report.Details, "previous_state": before.state.String()}
	if len(closed) > 0 {
		data["closed_records"] = closed
	}
	s.audit(ctx, audit.Entry{
		AssetID: asset.ID,
		Kind:    audit.KindFlaggedRestoration,
		Data:    data,
	})
	s.instruments.flags.Add(ctx, 1)
	s.logger.InfoContext(ctx, "asset flagged for restoration", "asset_id", asset.ID, "rating", rating)
	return nil
}

// Restore returns a restored asset to circulation.
func (s *service) Restore(ctx context.Context, assetID string) (*catalog.Asset, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.restore", trace.WithAttributes(attribute.String("asset.id", assetID)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	asset, err := s.catalog.Get(ctx, assetID)
	if err != nil {
		return nil, fail(span, s.classify(ctx, "get_asset", assetID, err))
	}
	next, err := lifecycle.Transition(asset.State, lifecycle.Restore)
	if err != nil {
		return nil, fail(span, err)
	}

	before := takeSnapshot(asset)
	asset.State = next
	asset.DueDate = nil
	if err := s.store.UpsertAsset(ctx, asset); err != nil {
		return nil, fail(span, s.rollback(ctx, asset, before, "upsert_asset", err))
	}

	s.catalog.Changed(ctx, asset)
	s.audit(ctx, audit.Entry{AssetID: asset.ID, Kind: audit.KindAssetRestored})
	s.logger.InfoContext(ctx, "asset restored", "asset_id", asset.ID)
	return asset.Clone(), nil
}

// Undo compensates the most recent borrow or return. An empty log yields
// command.ErrNoHistory.
func (s *service) Undo(ctx context.Context) (command.Entry, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.undo")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.log.UndoLast(ctx)
	if errors.Is(err, command.ErrNoHistory) {
		return entry, err
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "compensation failed, command kept for retry", "command_id", entry.ID, "kind", entry.Kind, "error", err)
		return entry, fail(span, err)
	}
	span.SetAttributes(attribute.String("command.id", entry.ID.String()), attribute.String("command.kind", entry.Kind))
	s.instruments.undos.Add(ctx, 1, metric.WithAttributes(attribute.String("command.kind", entry.Kind)))
	s.logger.InfoContext(ctx, "command undone", "command_id", entry.ID, "kind", entry.Kind)
	return entry, nil
}

// RestorationQueue lists flags in insertion order, keeping only assets that
// still need restoration. Repeated flags of one asset all appear.
func (s *service) RestorationQueue(ctx context.Context) ([]QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]QueueEntry, 0, len(s.queue))
	for _, e := range s.queue {
		a, err := s.catalog.Get(ctx, e.AssetID)
		if err != nil {
			return nil, s.classify(ctx, "get_asset", e.AssetID, err)
		}
		if a.State == lifecycle.RestorationNeeded {
			out = append(out, e)
		}
	}
	return out, nil
}

// Overdue lists borrowed assets past their due date with the fee a return
// would charge now.
func (s *service) Overdue(ctx context.Context) ([]OverdueLoan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	borrowed, err := s.catalog.List(ctx, catalog.Filter{State: lifecycle.Borrowed})
	if err != nil {
		return nil, s.persistenceFailure(ctx, "list_assets", "", err)
	}
	now := s.now()
	public := policy.For(policy.Public, s.rates)
	var out []OverdueLoan
	for _, a := range borrowed {
		if a.DueDate == nil || !now.After(*a.DueDate) {
			continue
		}
		out = append(out, OverdueLoan{
			Asset:       a.Clone(),
			DaysOverdue: policy.OverdueDays(a.DueDate, now),
			LateFee:     public.LateFee(a.DueDate, now),
		})
	}
	return out, nil
}

func (s *service) History(context.Context) []command.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Entries()
}

// closeLoans ends every open lending record of a borrowed asset that is
// pulled from circulation. No fee is charged. On failure the records closed
// so far are reopened.
func (s *service) closeLoans(ctx context.Context, assetID string, at time.Time) ([]string, error) {
	records, err := s.store.ListLendingRecords(ctx, assetID)
	if err != nil {
		return nil, err
	}
	var closed []string
	for _, r := range records {
		if !r.Open() {
			continue
		}
		id, err := s.store.CloseLendingRecord(ctx, assetID, r.UserID, at, nil)
		if err != nil {
			s.reopenLoans(ctx, assetID, closed)
			return nil, err
		}
		if id != "" {
			closed = append(closed, id)
		}
	}
	if len(closed) == 0 {
		s.logger.WarnContext(ctx, "borrowed asset has no open lending record", "asset_id", assetID)
	}
	return closed, nil
}

func (s *service) reopenLoans(ctx context.Context, assetID string, ids []string) {
	for _, id := range ids {
		if err := s.store.ReopenLendingRecord(ctx, id); err != nil {
			s.logger.ErrorContext(ctx, "failed to reopen lending record after store failure",
				"asset_id", assetID, "record_id", id, "error", err)
		}
	}
}

// rollback puts asset back to snap after a store failure and best-effort
// re-persists it.
func (s *service) rollback(ctx context.Context, asset *catalog.Asset, snap snapshot, op string, cause error) error {
	snap.restore(asset)
	if err := s.store.UpsertAsset(ctx, asset); err != nil {
		s.logger.ErrorContext(ctx, "failed to re-persist asset after store failure",
			"asset_id", asset.ID, "op", op, "error", err)
	}
	return s.persistenceFailure(ctx, op, asset.ID, cause)
}

func (s *service) persistenceFailure(ctx context.Context, op, assetID string, cause error) error {
	s.instruments.persistenceFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("store.op", op)))
	s.logger.ErrorContext(ctx, "store failure", "op", op, "asset_id", assetID, "error", cause)
	return &PersistenceError{Op: op, AssetID: assetID, Err: cause}
}

// classify passes AssetNotFound through and treats anything else from a
// lookup as a store failure.
func (s *service) classify(ctx context.Context, op, assetID string, err error) error {
	if errors.Is(err, catalog.ErrAssetNotFound) {
		return err
	}
	return s.persistenceFailure(ctx, op, assetID, err)
}

func (s *service) audit(ctx context.Context, e audit.Entry) {
	e.At = s.now()
	if err := s.journal.Record(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "failed to record audit entry", "asset_id", e.AssetID, "kind", e.Kind, "error", err)
	}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
