package eventbus

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jguan/pipeline-console/pkg/unit"
)

type EventStore interface {
	Save(ctx context.Context, event unit.Event) error
	Query(ctx context.Context, filter EventQueryFilter) ([]StoredEvent, error)
	GetByID(ctx context.Context, id string) (*StoredEvent, error)
}

// BatchSaver is implemented by stores that can persist many events in one
// transaction.
type BatchSaver interface {
	SaveBatch(ctx context.Context, events []unit.Event) error
}

type EventQueryFilter struct {
	Domain        string
	Type          string
	PipelineID    string
	CorrelationID string
	StartTime     time.Time
	EndTime       time.Time
	Limit         int
}

// StoredEvent is an event read back from the store. Its payload is the
// JSON that was persisted.
type StoredEvent struct {
	ID          string          `json:"id"`
	EventType   string          `json:"type"`
	EventDomain string          `json:"domain"`
	Pipeline    string          `json:"pipeline_id,omitempty"`
	Correlation string          `json:"correlation_id,omitempty"`
	Data        json.RawMessage `json:"payload"`
	At          time.Time       `json:"timestamp"`
}

func (e *StoredEvent) Type() string          { return e.EventType }
func (e *StoredEvent) Domain() string        { return e.EventDomain }
func (e *StoredEvent) Payload() any          { return e.Data }
func (e *StoredEvent) Timestamp() time.Time  { return e.At }
func (e *StoredEvent) CorrelationID() string { return e.Correlation }
func (e *StoredEvent) PipelineID() string    { return e.Pipeline }

var (
	_ unit.Event          = (*StoredEvent)(nil)
	_ unit.PipelineScoped = (*StoredEvent)(nil)
)

const eventsSchema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	domain TEXT NOT NULL,
	pipeline_id TEXT,
	correlation_id TEXT,
	payload BLOB,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE INDEX IF NOT EXISTS idx_events_pipeline ON events(pipeline_id);
CREATE INDEX IF NOT EXISTS idx_events_correlation ON events(correlation_id);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
`

const insertEvent = `
	INSERT INTO events (id, type, domain, pipeline_id, correlation_id, payload, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?)
`

type SQLiteEventStore struct {
	db *sql.DB
}

// NewSQLiteEventStore creates the events table on db if it is missing.
func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	if _, err := db.Exec(eventsSchema); err != nil {
		return nil, fmt.Errorf("init events schema: %w", err)
	}
	return &SQLiteEventStore{db: db}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insert(ctx context.Context, ex execer, event unit.Event) error {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	var pipelineID string
	if scoped, ok := event.(unit.PipelineScoped); ok {
		pipelineID = scoped.PipelineID()
	}

	_, err = ex.ExecContext(ctx, insertEvent,
		uuid.New().String(), event.Type(), event.Domain(), pipelineID,
		event.CorrelationID(), payload, event.Timestamp().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *SQLiteEventStore) Save(ctx context.Context, event unit.Event) error {
	return insert(ctx, s.db, event)
}

func (s *SQLiteEventStore) SaveBatch(ctx context.Context, events []unit.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, event := range events {
		if err := insert(ctx, tx, event); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Query returns matching events, newest first.
func (s *SQLiteEventStore) Query(ctx context.Context, filter EventQueryFilter) ([]StoredEvent, error) {
	query := "SELECT id, type, domain, pipeline_id, correlation_id, payload, timestamp FROM events WHERE 1=1"
	args := []any{}

	if filter.Domain != "" {
		query += " AND domain = ?"
		args = append(args, filter.Domain)
	}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}
	if filter.PipelineID != "" {
		query += " AND pipeline_id = ?"
		args = append(args, filter.PipelineID)
	}
	if filter.CorrelationID != "" {
		query += " AND correlation_id = ?"
		args = append(args, filter.CorrelationID)
	}
	if !filter.StartTime.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartTime.UnixMilli())
	}
	if !filter.EndTime.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndTime.UnixMilli())
	}

	query += " ORDER BY timestamp DESC, rowid DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

func (s *SQLiteEventStore) GetByID(ctx context.Context, id string) (*StoredEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, domain, pipeline_id, correlation_id, payload, timestamp
		FROM events WHERE id = ?
	`, id)

	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, unit.NewError(unit.ErrCodeNotFound, fmt.Sprintf("event %s not found", id))
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (*StoredEvent, error) {
	var e StoredEvent
	var pipelineID, correlationID sql.NullString
	var payload []byte
	var ts int64
	if err := sc.Scan(&e.ID, &e.EventType, &e.EventDomain, &pipelineID, &correlationID, &payload, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.Pipeline = pipelineID.String
	e.Correlation = correlationID.String
	e.Data = payload
	e.At = time.UnixMilli(ts)
	return &e, nil
}
