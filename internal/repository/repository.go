package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/leafsii/nft-marketplace/internal/address"
	"github.com/leafsii/nft-marketplace/internal/marketplace"
)

const (
	insertEvent = `
		INSERT INTO marketplace_events (id, type, asset_id, actor, ts, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	insertParticipant = `
		INSERT INTO marketplace_event_participants (event_id, address)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`

	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Open connects to Postgres through the pgx stdlib driver.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// EventArchive archives committed marketplace events in Postgres.
type EventArchive struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

func NewEventArchive(db *sql.DB, logger *zap.SugaredLogger) *EventArchive {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &EventArchive{
		db:     db,
		logger: logger,
	}
}

// Notify stores a single event. Replays of an already stored id are ignored.
func (r *EventArchive) Notify(ctx context.Context, evt marketplace.Event) error {
	return r.StoreBatchEvents(ctx, []marketplace.Event{evt})
}

func (r *EventArchive) StoreBatchEvents(ctx context.Context, events []marketplace.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	eventStmt, err := tx.PrepareContext(ctx, insertEvent)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer eventStmt.Close()

	participantStmt, err := tx.PrepareContext(ctx, insertParticipant)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer participantStmt.Close()

	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		_, err = eventStmt.ExecContext(ctx,
			event.ID,
			string(event.Type),
			event.AssetID,
			event.Actor.String(),
			event.Timestamp,
			payload,
		)
		if err != nil {
			return fmt.Errorf("failed to store event: %w", err)
		}

		for _, addr := range event.Participants() {
			if _, err := participantStmt.ExecContext(ctx, event.ID, addr.String()); err != nil {
				return fmt.Errorf("failed to store participant: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Debugw("Stored batch of events", "count", len(events))
	return nil
}

// HistoryQuery narrows History. Zero values match everything.
type HistoryQuery struct {
	AssetID int64
	Address address.Address
	Types   []marketplace.EventType
	Limit   int
	// Cursor is the opaque value returned by a previous page.
	Cursor string
}

// History returns archived events newest first, with the cursor of the next
// page or "" when there is none.
func (r *EventArchive) History(ctx context.Context, q HistoryQuery) ([]marketplace.Event, string, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if q.Cursor != "" {
		seq, err := strconv.ParseInt(q.Cursor, 10, 64)
		if err != nil || seq <= 0 {
			return nil, "", fmt.Errorf("invalid cursor format: %q", q.Cursor)
		}
		where = append(where, "e.seq < "+arg(seq))
	}
	if q.AssetID != 0 {
		where = append(where, "e.asset_id = "+arg(q.AssetID))
	}
	if !q.Address.IsZero() {
		where = append(where, "EXISTS (SELECT 1 FROM marketplace_event_participants p WHERE p.event_id = e.id AND p.address = "+arg(q.Address.String())+")")
	}
	if len(q.Types) > 0 {
		placeholders := make([]string, len(q.Types))
		for i, t := range q.Types {
			placeholders[i] = arg(string(t))
		}
		where = append(where, "e.type IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := "SELECT e.seq, e.payload FROM marketplace_events e"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY e.seq DESC LIMIT " + arg(limit+1) // +1 to check if there are more

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var (
		events  []marketplace.Event
		lastSeq int64
		hasMore bool
	)
	for rows.Next() {
		if len(events) >= limit {
			hasMore = true
			break
		}

		var (
			seq     int64
			payload []byte
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, "", fmt.Errorf("failed to scan event: %w", err)
		}

		var event marketplace.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, "", fmt.Errorf("failed to unmarshal event: %w", err)
		}
		events = append(events, event)
		lastSeq = seq
	}

	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("row iteration error: %w", err)
	}

	var nextCursor string
	if hasMore {
		nextCursor = strconv.FormatInt(lastSeq, 10)
	}
	return events, nextCursor, nil
}

// Health check
func (r *EventArchive) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
