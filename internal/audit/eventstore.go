// internal/audit/eventstore.go
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
)

// Schema creates the events table used by EventStore.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id BIGSERIAL PRIMARY KEY,
	stream_id UUID NOT NULL,
	asset_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_data JSONB NOT NULL,
	metadata JSONB,
	version INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (stream_id, version)
);`

// Event is a stored audit event.
type Event struct {
	ID        int64               `json:"id"`
	StreamID  uuid.UUID           `json:"stream_id"`
	AssetID   string              `json:"asset_id"`
	EventType string              `json:"event_type"`
	EventData jsoniter.RawMessage `json:"event_data"`
	Metadata  map[string]any      `json:"metadata"`
	Version   int                 `json:"version"`
	CreatedAt time.Time           `json:"created_at"`
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventStore is a Postgres-backed append-only Journal with one stream per asset.
type EventStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

var _ Journal = (*EventStore)(nil)

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{
		db:     db,
		tracer: otel.Tracer("libranexus-lending/audit"),
	}
}

// Migrate creates the audit table if it does not exist.
func (es *EventStore) Migrate(ctx context.Context) error {
	if _, err := es.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

// Record appends entry to its asset's stream, retrying once when a concurrent
// writer took the next version first.
func (es *EventStore) Record(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("marshal audit data: %w", err)
	}
	metadata := map[string]any{"user_id": entry.UserID}
	if entry.CommandID != uuid.Nil {
		metadata["command_id"] = entry.CommandID.String()
	}
	event := Event{
		AssetID:   entry.AssetID,
		EventType: entry.Kind,
		EventData: data,
		Metadata:  metadata,
		CreatedAt: entry.At,
	}

	stream := StreamID(entry.AssetID)
	for attempt := 0; attempt < 2; attempt++ {
		version, err := es.CurrentVersion(ctx, stream)
		if err != nil {
			return err
		}
		err = es.AppendEvents(ctx, stream, version, []Event{event})
		if !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
	}
	return ErrConcurrencyConflict
}

// AppendEvents atomically appends events with optimistic concurrency control.
func (es *EventStore) AppendEvents(ctx context.Context, streamID uuid.UUID, expectedVersion int, events []Event) error {
	ctx, span := es.tracer.Start(ctx, "audit.append",
		trace.WithAttributes(
			attribute.String("stream.id", streamID.String()),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("events.count", len(events)),
		),
	)
	defer span.End()

	tx, err := es.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var currentVersion int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM audit_events
		WHERE stream_id = $1
	`, streamID).Scan(&currentVersion)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("query current version: %w", err)
	}

	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_events (stream_id, asset_id, event_type, event_data, metadata, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, event := range events {
		version := expectedVersion + i + 1
		metadataJSON, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		createdAt := event.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}

		var eventID int64
		err = stmt.QueryRowContext(ctx,
			streamID,
			event.AssetID,
			event.EventType,
			string(event.EventData),
			string(metadataJSON),
			version,
			createdAt.UTC(),
		).Scan(&eventID)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", eventID),
			attribute.Int("event.version", version),
			attribute.String("event.type", event.EventType),
		))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LoadEvents returns the audit trail of one asset, oldest first.
func (es *EventStore) LoadEvents(ctx context.Context, assetID string) ([]Event, error) {
	stream := StreamID(assetID)
	ctx, span := es.tracer.Start(ctx, "audit.load",
		trace.WithAttributes(attribute.String("stream.id", stream.String())),
	)
	defer span.End()

	rows, err := es.db.QueryContext(ctx, `
		SELECT id, stream_id, asset_id, event_type, event_data, metadata, version, created_at
		FROM audit_events
		WHERE stream_id = $1
		ORDER BY version ASC
	`, stream)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var data, metadataJSON []byte
		if err := rows.Scan(
			&event.ID,
			&event.StreamID,
			&event.AssetID,
			&event.EventType,
			&data,
			&metadataJSON,
			&event.Version,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.EventData = data
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// CurrentVersion returns the latest version of a stream, 0 when empty.
func (es *EventStore) CurrentVersion(ctx context.Context, streamID uuid.UUID) (int, error) {
	ctx, span := es.tracer.Start(ctx, "audit.current_version",
		trace.WithAttributes(attribute.String("stream.id", streamID.String())),
	)
	defer span.End()

	var version int
	err := es.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM audit_events
		WHERE stream_id = $1
	`, streamID).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("query version: %w", err)
	}
	return version, nil
}
