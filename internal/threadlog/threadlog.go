// Package threadlog persists conversation events to an embedded SQLite
// database so thread history survives restarts.
package threadlog

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// Event is one logged thread entry. Payload holds the capsule or lock event
// as JSON.
type Event struct {
	ID        int64          `json:"id"`
	Topic     string         `json:"topic"`
	Graph     string         `json:"graph"`
	Type      string         `json:"type"`
	TS        float64        `json:"ts"`
	Direction string         `json:"direction"`
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient"`
	Payload   map[string]any `json:"payload"`
}

// Log is the durable append log.
type Log struct {
	db *sql.DB
}

// Open opens (or creates) the thread log at path and runs schema migrations.
func Open(path string) (*Log, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open thread log: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping thread log: %w", err)
	}

	l := &Log{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    topic TEXT NOT NULL,
    graph TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL,
    ts REAL NOT NULL,
    direction TEXT NOT NULL,
    sender TEXT,
    recipient TEXT,
    payload TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_topic_graph_ts ON events(topic, graph, ts);
`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate thread log: %w", err)
	}
	return nil
}

// Append writes one event. The event's ID is assigned by the database and
// not reported back; readers see it via Read.
func (l *Log) Append(ev Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		payload = []byte(`{"op":"error"}`)
	}
	_, err = l.db.Exec(
		`INSERT INTO events (topic, graph, type, ts, direction, sender, recipient, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Topic, ev.Graph, ev.Type, ev.TS, ev.Direction, ev.Sender, ev.Recipient, string(payload),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Read returns up to limit most-recent events for (topic, graph), ordered
// oldest to newest.
func (l *Log) Read(topic, graph string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.Query(
		`SELECT id, topic, graph, type, ts, direction, sender, recipient, payload
		 FROM events WHERE topic = ? AND graph = ?
		 ORDER BY ts DESC, id DESC LIMIT ?`,
		topic, graph, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var payload string
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.Graph, &ev.Type, &ev.TS, &ev.Direction, &ev.Sender, &ev.Recipient, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if payload != "" {
			_ = json.Unmarshal([]byte(payload), &ev.Payload)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	// The query selects the newest window; present it oldest-first.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}
