// internal/storage/sqlstore/store.go
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"libranexus-lending/internal/catalog"
	"libranexus-lending/internal/lifecycle"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	tableAssets  = "assets"
	tableRecords = "lending_records"
	tableReports = "condition_reports"
)

var (
	assetColumns  = []any{"id", "title", "author", "metadata", "state", "due_at"}
	recordColumns = []any{"id", "asset_id", "user_id", "borrowed_at", "due_at", "returned_at", "late_fee"}
	reportColumns = []any{"asset_id", "rating", "details", "reported_at"}
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store persists the catalog in Postgres or SQLite.
type Store struct {
	db     *sqlx.DB
	driver string
	sq     goqu.DialectWrapper
}

var _ catalog.Store = (*Store)(nil)

// Open connects to dsn with driver and applies the embedded migrations.
// SQLite DSNs may be a plain file path.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	var dialect, migrations string
	switch driver {
	case DriverPostgres:
		dialect, migrations = "postgres", "postgres"
	case DriverSQLite:
		dialect, migrations = "sqlite3", "sqlite"
		sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
		if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
			dsn = "file:" + dsn + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", driver, err)
	}
	if err := migrate(ctx, db, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db, driver: driver, sq: goqu.Dialect(dialect)}, nil
}

// DB exposes the handle so other stores (the audit journal) can share it.
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Driver() string { return s.driver }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type assetRow struct {
	ID       string        `db:"id"`
	Title    string        `db:"title"`
	Author   string        `db:"author"`
	Metadata string        `db:"metadata"`
	State    string        `db:"state"`
	DueAt    sql.NullInt64 `db:"due_at"`
}

type recordRow struct {
	ID         string          `db:"id"`
	AssetID    string          `db:"asset_id"`
	UserID     string          `db:"user_id"`
	BorrowedAt int64           `db:"borrowed_at"`
	DueAt      int64           `db:"due_at"`
	ReturnedAt sql.NullInt64   `db:"returned_at"`
	LateFee    sql.NullFloat64 `db:"late_fee"`
}

type reportRow struct {
	AssetID    string `db:"asset_id"`
	Rating     int    `db:"rating"`
	Details    string `db:"details"`
	ReportedAt int64  `db:"reported_at"`
}

func (s *Store) UpsertAsset(ctx context.Context, asset *catalog.Asset) error {
	metadata, err := encodeMap(asset.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	var due sql.NullInt64
	if asset.DueDate != nil {
		due = sql.NullInt64{Int64: toMillis(*asset.DueDate), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO assets (id, title, author, metadata, state, due_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			metadata = excluded.metadata,
			state = excluded.state,
			due_at = excluded.due_at`),
		asset.ID, asset.Title, asset.Author, metadata, string(asset.State), due,
	)
	if err != nil {
		return fmt.Errorf("upsert asset %s: %w", asset.ID, err)
	}
	return nil
}

func (s *Store) GetAsset(ctx context.Context, id string) (*catalog.Asset, error) {
	query, args, err := s.sq.From(tableAssets).Select(assetColumns...).
		Where(goqu.Ex{"id": id}).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build asset query: %w", err)
	}
	var row assetRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, catalog.ErrAssetNotFound
		}
		return nil, fmt.Errorf("get asset %s: %w", id, err)
	}
	return row.asset()
}

func (s *Store) ListAssets(ctx context.Context, filter catalog.Filter) ([]*catalog.Asset, error) {
	ds := s.sq.From(tableAssets).Select(assetColumns...).Order(goqu.I("id").Asc())
	if filter.State != "" {
		ds = ds.Where(goqu.Ex{"state": string(filter.State)})
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build asset list query: %w", err)
	}
	var rows []assetRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	out := make([]*catalog.Asset, 0, len(rows))
	for _, row := range rows {
		a, err := row.asset()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) InsertLendingRecord(ctx context.Context, record catalog.LendingRecord) error {
	var returned sql.NullInt64
	if record.ReturnedAt != nil {
		returned = sql.NullInt64{Int64: toMillis(*record.ReturnedAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO lending_records (id, asset_id, user_id, borrowed_at, due_at, returned_at, late_fee)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		record.ID, record.AssetID, record.UserID,
		toMillis(record.BorrowedAt), toMillis(record.DueAt), returned, nullFloat(record.LateFee),
	)
	if err != nil {
		return fmt.Errorf("insert lending record %s: %w", record.ID, err)
	}
	return nil
}

func (s *Store) CloseLendingRecord(ctx context.Context, assetID, userID string, returnedAt time.Time, fee *float64) (string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query, args, err := s.sq.From(tableRecords).Select("id").
		Where(goqu.Ex{"asset_id": assetID, "user_id": userID, "returned_at": nil}).
		Order(goqu.I("borrowed_at").Desc(), goqu.I("id").Desc()).
		Limit(1).Prepared(true).ToSQL()
	if err != nil {
		return "", fmt.Errorf("build open record query: %w", err)
	}
	var id string
	if err := tx.GetContext(ctx, &id, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("find open record: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		tx.Rebind("UPDATE lending_records SET returned_at = ?, late_fee = ? WHERE id = ?"),
		toMillis(returnedAt), nullFloat(fee), id,
	)
	if err != nil {
		return "", fmt.Errorf("close lending record %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}
	return id, nil
}

func (s *Store) ReopenLendingRecord(ctx context.Context, recordID string) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE lending_records SET returned_at = NULL, late_fee = NULL WHERE id = ?"), recordID)
	if err != nil {
		return fmt.Errorf("reopen lending record %s: %w", recordID, err)
	}
	return expectOneRow(res, recordID)
}

func (s *Store) DeleteLendingRecord(ctx context.Context, recordID string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM lending_records WHERE id = ?"), recordID)
	if err != nil {
		return fmt.Errorf("delete lending record %s: %w", recordID, err)
	}
	return expectOneRow(res, recordID)
}

func (s *Store) ListLendingRecords(ctx context.Context, assetID string) ([]catalog.LendingRecord, error) {
	query, args, err := s.sq.From(tableRecords).Select(recordColumns...).
		Where(goqu.Ex{"asset_id": assetID}).
		Order(goqu.I("borrowed_at").Asc(), goqu.I("id").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build lending record query: %w", err)
	}
	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list lending records: %w", err)
	}
	out := make([]catalog.LendingRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

func (s *Store) UpsertConditionReport(ctx context.Context, report catalog.ConditionReport) error {
	details, err := encodeMap(report.Details)
	if err != nil {
		return fmt.Errorf("encode report details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO condition_reports (asset_id, rating, details, reported_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (asset_id) DO UPDATE SET
			rating = excluded.rating,
			details = excluded.details,
			reported_at = excluded.reported_at`),
		report.AssetID, report.Rating, details, toMillis(report.ReportedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert condition report %s: %w", report.AssetID, err)
	}
	return nil
}

func (s *Store) ConditionReport(ctx context.Context, assetID string) (*catalog.ConditionReport, error) {
	query, args, err := s.sq.From(tableReports).Select(reportColumns...).
		Where(goqu.Ex{"asset_id": assetID}).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build condition report query: %w", err)
	}
	var row reportRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, catalog.ErrAssetNotFound
		}
		return nil, fmt.Errorf("get condition report %s: %w", assetID, err)
	}
	details, err := decodeMap(row.Details)
	if err != nil {
		return nil, fmt.Errorf("decode report details: %w", err)
	}
	return &catalog.ConditionReport{
		AssetID:    row.AssetID,
		Rating:     row.Rating,
		Details:    details,
		ReportedAt: fromMillis(row.ReportedAt),
	}, nil
}

// asset leaves the state label as stored; the catalog normalizes unknown labels.
func (r assetRow) asset() (*catalog.Asset, error) {
	metadata, err := decodeMap(r.Metadata)
	if err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", r.ID, err)
	}
	a := &catalog.Asset{
		ID:       r.ID,
		Title:    r.Title,
		Author:   r.Author,
		Metadata: metadata,
		State:    lifecycle.State(r.State),
	}
	if r.DueAt.Valid {
		due := fromMillis(r.DueAt.Int64)
		a.DueDate = &due
	}
	return a, nil
}

func (r recordRow) record() catalog.LendingRecord {
	rec := catalog.LendingRecord{
		ID:         r.ID,
		AssetID:    r.AssetID,
		UserID:     r.UserID,
		BorrowedAt: fromMillis(r.BorrowedAt),
		DueAt:      fromMillis(r.DueAt),
	}
	if r.ReturnedAt.Valid {
		t := fromMillis(r.ReturnedAt.Int64)
		rec.ReturnedAt = &t
	}
	if r.LateFee.Valid {
		f := r.LateFee.Float64
		rec.LateFee = &f
	}
	return rec
}

func expectOneRow(res sql.Result, recordID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("lending record %s not found", recordID)
	}
	return nil
}

func encodeMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func decodeMap(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
