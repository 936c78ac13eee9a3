// Package store persists the assignment change log and the deliveries
// received by the built-in webhook sink in DuckDB.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/joeblew999/plat-lots/internal/lot"
	"github.com/joeblew999/plat-lots/internal/service"
	"github.com/joeblew999/plat-lots/internal/webhook"
)

// Config holds database configuration.
type Config struct {
	// DataDir holds the duckdb/ directory. Empty means an in-memory database.
	DataDir string
	DBName  string
}

// Store wraps the DuckDB connection.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS assignment_changes (
	id         VARCHAR PRIMARY KEY,
	shape_id   VARCHAR NOT NULL,
	from_lot   VARCHAR,
	to_lot     VARCHAR,
	changed    VARCHAR,
	duplicates VARCHAR,
	status     VARCHAR NOT NULL,
	error      VARCHAR,
	at         TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS webhook_deliveries (
	event_id    VARCHAR,
	event_type  VARCHAR,
	shape_id    VARCHAR,
	page_url    VARCHAR,
	payload     VARCHAR,
	remote_addr VARCHAR,
	received_at TIMESTAMP NOT NULL
);
`

// Open opens (creating if needed) the database and its tables.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dsn := ""
	if cfg.DataDir != "" {
		duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(duckdbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
		}
		name := cfg.DBName
		if name == "" {
			name = "lots"
		}
		dsn = filepath.Join(duckdbDir, name+".duckdb")
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tables lists the tables in the database.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// RecordChange appends a change to the log.
func (s *Store) RecordChange(ctx context.Context, c service.Change) error {
	from, err := identityJSON(c.From)
	if err != nil {
		return err
	}
	to, err := identityJSON(c.To)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assignment_changes (id, shape_id, from_lot, to_lot, changed, duplicates, status, error, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ShapeID, from, to,
		strings.Join(c.Changed, ","), strings.Join(c.Duplicates, ","),
		string(c.Status), nullString(c.Error), c.At.UTC())
	if err != nil {
		return fmt.Errorf("inserting change %s: %w", c.ID, err)
	}
	return nil
}

// ChangeFilter narrows ListChanges.
type ChangeFilter struct {
	ShapeID string
	Limit   int
	Offset  int
}

// ListChanges returns changes newest first, and the total matching count.
func (s *Store) ListChanges(ctx context.Context, f ChangeFilter) ([]service.Change, int, error) {
	where, args := "", []any{}
	if f.ShapeID != "" {
		where = " WHERE shape_id = ?"
		args = append(args, f.ShapeID)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM assignment_changes"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting changes: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, shape_id, from_lot, to_lot, changed, duplicates, status, error, at
		 FROM assignment_changes`+where+` ORDER BY at DESC, id LIMIT ? OFFSET ?`,
		append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing changes: %w", err)
	}
	defer rows.Close()

	changes := []service.Change{}
	for rows.Next() {
		var (
			c                             service.Change
			from, to, changed, dups, errs sql.NullString
			status                        string
		)
		if err := rows.Scan(&c.ID, &c.ShapeID, &from, &to, &changed, &dups, &status, &errs, &c.At); err != nil {
			return nil, 0, fmt.Errorf("scanning change: %w", err)
		}
		if c.From, err = parseIdentity(from); err != nil {
			return nil, 0, err
		}
		if c.To, err = parseIdentity(to); err != nil {
			return nil, 0, err
		}
		c.Changed = splitList(changed)
		c.Duplicates = splitList(dups)
		c.Status = service.ChangeStatus(status)
		c.Error = errs.String
		c.At = c.At.UTC()
		changes = append(changes, c)
	}
	return changes, total, rows.Err()
}

// Delivery is one request received by the webhook sink.
type Delivery struct {
	EventID    string          `json:"eventId" doc:"Webhook event id"`
	EventType  string          `json:"eventType" doc:"Event type"`
	ShapeID    string          `json:"elementSvgId" doc:"Shape id"`
	PageURL    string          `json:"pageUrl,omitempty" doc:"Page the change was made on"`
	Payload    json.RawMessage `json:"payload" doc:"Decoded event"`
	RemoteAddr string          `json:"remoteAddr,omitempty" doc:"Sender address"`
	ReceivedAt time.Time       `json:"receivedAt" doc:"When the sink received it"`
}

// RecordDelivery stores a received webhook event.
func (s *Store) RecordDelivery(ctx context.Context, ev webhook.Event, remoteAddr string, at time.Time) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding delivery: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (event_id, event_type, shape_id, page_url, payload, remote_addr, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Type, ev.ShapeID, ev.PageURL, string(payload), remoteAddr, at.UTC())
	if err != nil {
		return fmt.Errorf("inserting delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns received deliveries newest first, and the total.
func (s *Store) ListDeliveries(ctx context.Context, limit, offset int) ([]Delivery, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM webhook_deliveries").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting deliveries: %w", err)
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, event_type, shape_id, page_url, payload, remote_addr, received_at
		 FROM webhook_deliveries ORDER BY received_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing deliveries: %w", err)
	}
	defer rows.Close()

	out := []Delivery{}
	for rows.Next() {
		var (
			d                                   Delivery
			id, typ, shapeID, page, addr, body sql.NullString
		)
		if err := rows.Scan(&id, &typ, &shapeID, &page, &body, &addr, &d.ReceivedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning delivery: %w", err)
		}
		d.EventID, d.EventType, d.ShapeID, d.PageURL, d.RemoteAddr = id.String, typ.String, shapeID.String, page.String, addr.String
		d.Payload = json.RawMessage(body.String)
		d.ReceivedAt = d.ReceivedAt.UTC()
		out = append(out, d)
	}
	return out, total, rows.Err()
}

func identityJSON(id *lot.Identity) (sql.NullString, error) {
	if id == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(id)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding identity: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func parseIdentity(s sql.NullString) (*lot.Identity, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var id lot.Identity
	if err := json.Unmarshal([]byte(s.String), &id); err != nil {
		return nil, fmt.Errorf("decoding identity: %w", err)
	}
	return &id, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func splitList(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return nil
	}
	return strings.Split(s.String, ",")
}
