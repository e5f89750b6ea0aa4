package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"flowrelay/pkg/bus"

	_ "modernc.org/sqlite"
)

const (
	// DefaultPath is used when journal.path is empty.
	DefaultPath = "data/journal.db"

	subscriberBuffer = 256
	defaultLimit     = 50
)

// Journal appends turn events to a SQLite database.
type Journal struct {
	db  *sql.DB
	log *slog.Logger
}

// Open creates the database file and schema if needed.
func Open(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// One writer keeps SQLITE_BUSY out of the event loop.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	j := &Journal{db: db, log: slog.Default().With("component", "journal.sqlite")}
	if err := j.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize journal schema: %w", err)
	}

	return j, nil
}

func (j *Journal) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS turn_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		turn_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		client TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		update_id TEXT,
		interaction TEXT,
		category TEXT,
		blocks INTEGER NOT NULL DEFAULT 0,
		ended INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turn_events_turn ON turn_events(turn_id);
	CREATE INDEX IF NOT EXISTS idx_turn_events_chat ON turn_events(client, chat_id, at);
	`
	if _, err := j.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Record stores one event.
func (j *Journal) Record(ctx context.Context, event bus.Event) error {
	at := event.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	ended := 0
	if event.Ended {
		ended = 1
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO turn_events (turn_id, event_type, client, chat_id, update_id, interaction, category, blocks, ended, duration_ms, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.TurnID, string(event.Type), event.Client, event.ChatID,
		nullable(event.UpdateID), nullable(event.Interaction), nullable(event.Category),
		event.Blocks, ended, event.DurationMS, nullable(event.Error), at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert turn event: %w", err)
	}
	return nil
}

// Recent returns the newest events first. A blank chatID lists every chat of the client;
// a blank client lists everything.
func (j *Journal) Recent(ctx context.Context, client string, chatID string, limit int) ([]bus.Event, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	query := `
		SELECT turn_id, event_type, client, chat_id, update_id, interaction, category, blocks, ended, duration_ms, error, at
		FROM turn_events
		WHERE (? = '' OR client = ?) AND (? = '' OR chat_id = ?)
		ORDER BY at DESC, id DESC
		LIMIT ?`

	rows, err := j.db.QueryContext(ctx, query, client, client, chatID, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("query turn events: %w", err)
	}
	defer rows.Close()

	var events []bus.Event
	for rows.Next() {
		var event bus.Event
		var eventType string
		var updateID, interaction, category, errText sql.NullString
		var ended int
		var at int64

		if err := rows.Scan(
			&event.TurnID, &eventType, &event.Client, &event.ChatID,
			&updateID, &interaction, &category,
			&event.Blocks, &ended, &event.DurationMS, &errText, &at,
		); err != nil {
			return nil, fmt.Errorf("scan turn event: %w", err)
		}

		event.Type = bus.EventType(eventType)
		event.UpdateID = updateID.String
		event.Interaction = interaction.String
		event.Category = category.String
		event.Error = errText.String
		event.Ended = ended == 1
		event.At = time.UnixMilli(at).UTC()
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn events: %w", err)
	}
	return events, nil
}

// Run records every event published on messageBus until ctx is done or the bus closes.
func (j *Journal) Run(ctx context.Context, messageBus *bus.MessageBus) {
	events, unsubscribe := messageBus.SubscribeEvents(ctx, subscriberBuffer)
	defer unsubscribe()

	j.log.Info("Turn journal started")
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := j.Record(context.Background(), event); err != nil {
				j.log.Warn("Failed to record turn event", "turn_id", event.TurnID, "error", err)
			}
		}
	}
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
