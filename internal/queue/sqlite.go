package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// schema is the command queue table. One row per device; the commands column
// holds the full queue as a JSON array and is rewritten on every mutation.
const schema = `
	CREATE TABLE IF NOT EXISTS command_queue (
		device_id  TEXT PRIMARY KEY,
		commands   TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed queue repository and
// ensures its table exists.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteRepository: Repository instance ready for use
//   - error: If the schema cannot be created
func NewSQLiteRepository(db *sql.DB) (*SQLiteRepository, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("creating command_queue table: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// Save rewrites the persisted queue for one device.
func (r *SQLiteRepository) Save(ctx context.Context, deviceID string, cmds []Command) error {
	data, err := json.Marshal(cmds)
	if err != nil {
		return fmt.Errorf("marshalling queue for %s: %w", deviceID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO command_queue (device_id, commands, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			commands = excluded.commands,
			updated_at = excluded.updated_at`,
		deviceID, string(data), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing queue for %s: %w", deviceID, err)
	}
	return nil
}

// Delete removes the persisted queue for one device.
func (r *SQLiteRepository) Delete(ctx context.Context, deviceID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM command_queue WHERE device_id = ?", deviceID); err != nil {
		return fmt.Errorf("deleting queue for %s: %w", deviceID, err)
	}
	return nil
}

// LoadAll returns the persisted queues for every device.
// Rows that fail to decode are skipped so that corrupt state degrades to an
// empty queue instead of failing startup.
func (r *SQLiteRepository) LoadAll(ctx context.Context) (map[string][]Command, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT device_id, commands FROM command_queue")
	if err != nil {
		return nil, fmt.Errorf("querying command queue: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only iteration cleanup

	queues := make(map[string][]Command)
	for rows.Next() {
		var deviceID, data string
		if err := rows.Scan(&deviceID, &data); err != nil {
			return nil, fmt.Errorf("scanning command queue row: %w", err)
		}

		var cmds []Command
		if err := json.Unmarshal([]byte(data), &cmds); err != nil {
			// Corrupt record: drop it rather than refusing to start.
			continue
		}
		queues[deviceID] = cmds
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command queue rows: %w", err)
	}

	return queues, nil
}
