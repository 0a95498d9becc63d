package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Entry represents a single recorded zone attribute change.
//
// Each entry stores the value an attribute settled on and where the
// change came from. This provides a local audit trail even when the
// time-series database is unavailable.
type Entry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64

	// Zone is the two-digit zone identifier (e.g. "11", "26").
	Zone string

	// Attribute is the attribute name in topic form (e.g. "volume").
	Attribute string

	// Value is the raw protocol value of the attribute.
	Value int

	// Origin identifies how the change was initiated (mqtt, shairport, internal).
	Origin string

	// CreatedAt is the timestamp of the change (UTC).
	CreatedAt time.Time
}

// Repository stores and retrieves zone attribute change history in SQLite.
//
// All methods are safe for concurrent use; the underlying connection
// pool serialises writes.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a history repository on an open SQLite connection.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *Repository: Repository instance ready for use (call Init before recording)
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Init creates the history schema if it does not exist.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *Repository) Init(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS attribute_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			zone TEXT NOT NULL,
			attribute TEXT NOT NULL,
			value INTEGER NOT NULL,
			origin TEXT NOT NULL DEFAULT 'internal',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE INDEX IF NOT EXISTS idx_attribute_history_zone ON attribute_history(zone, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_attribute_history_time ON attribute_history(created_at DESC);
	`

	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating history schema: %w", err)
	}

	return nil
}

// RecordChange inserts a new attribute change entry.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - zone: Two-digit zone identifier
//   - attribute: Attribute name in topic form
//   - value: Raw protocol value
//   - origin: Origin of the change (mqtt, shairport, internal)
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *Repository) RecordChange(ctx context.Context, zone, attribute string, value int, origin string) error {
	if zone == "" {
		return fmt.Errorf("zone is required")
	}
	if attribute == "" {
		return fmt.Errorf("attribute is required")
	}
	if origin == "" {
		origin = "internal"
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO attribute_history (zone, attribute, value, origin) VALUES (?, ?, ?, ?)",
		zone,
		attribute,
		value,
		origin,
	)
	if err != nil {
		return fmt.Errorf("inserting attribute history: %w", err)
	}

	return nil
}

// GetHistory returns recent change entries for a zone, ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - zone: Two-digit zone identifier
//   - limit: Maximum entries to return (default 50, max 500)
//
// Returns:
//   - []Entry: History entries ordered by created_at DESC
//   - error: nil on success, otherwise the underlying query error
func (r *Repository) GetHistory(ctx context.Context, zone string, limit int) ([]Entry, error) {
	if zone == "" {
		return nil, fmt.Errorf("zone is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, zone, attribute, value, origin, created_at
		 FROM attribute_history
		 WHERE zone = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		zone,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying attribute history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var createdAt string

		if err := rows.Scan(&entry.ID, &entry.Zone, &entry.Attribute, &entry.Value, &entry.Origin, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning attribute history: %w", err)
		}

		timestamp, err := parseHistoryTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entry.CreatedAt = timestamp

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attribute history: %w", err)
	}

	return entries, nil
}

// Prune deletes history entries older than the given duration.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Duration to retain (entries older than now-olderThan are deleted)
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM attribute_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting attribute history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// parseHistoryTimestamp parses a timestamp stored in SQLite.
func parseHistoryTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
