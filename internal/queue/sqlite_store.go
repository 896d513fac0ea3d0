package queue

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hearthhq/hearth/internal/events"
	"github.com/hearthhq/hearth/internal/models"
)

// schemaVersion for migrations.
const schemaVersion = 1

// SQLiteStore implements SQLite-backed queue storage.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
}

// NewSQLiteStore creates a SQLite queue store.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_sync=FULL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "write_queue"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables and indexes.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS queued_writes (
        id TEXT PRIMARY KEY,
        entity_type TEXT NOT NULL,
        operation TEXT NOT NULL,
        local_id TEXT NOT NULL,
        server_id TEXT,
        payload BLOB,
        client_timestamp TIMESTAMP NOT NULL,
        attempt_count INTEGER NOT NULL DEFAULT 0,
        status TEXT NOT NULL DEFAULT 'pending',
        last_attempt_at TIMESTAMP,
        created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE INDEX IF NOT EXISTS idx_queued_writes_order
        ON queued_writes(client_timestamp);

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (?);
    `

	if _, err := s.db.Exec(schema, schemaVersion); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// Append inserts a new pending write.
func (s *SQLiteStore) Append(write *models.QueuedWrite) error {
	if err := write.Validate(); err != nil {
		return fmt.Errorf("invalid queued write: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"id":          write.ID,
		"entity_type": write.EntityType,
		"operation":   write.Operation,
	}).Debug("Appending write")

	var serverID interface{}
	if write.Target.ServerID != "" {
		serverID = write.Target.ServerID
	}

	var lastAttempt interface{}
	if write.LastAttemptAt != nil {
		lastAttempt = write.LastAttemptAt.UTC()
	}

	_, err := s.db.Exec(`
        INSERT INTO queued_writes
            (id, entity_type, operation, local_id, server_id, payload,
             client_timestamp, attempt_count, status, last_attempt_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		write.ID, string(write.EntityType), string(write.Operation),
		write.Target.LocalID, serverID, []byte(write.Payload),
		write.ClientTimestamp.UTC(), write.AttemptCount, string(write.Status),
		lastAttempt,
	)
	if err != nil {
		return fmt.Errorf("insert queued write: %w", err)
	}

	return nil
}

// GetAll returns every queued write in submission order.
func (s *SQLiteStore) GetAll() ([]*models.QueuedWrite, error) {
	rows, err := s.db.Query(`
        SELECT id, entity_type, operation, local_id, server_id, payload,
               client_timestamp, attempt_count, status, last_attempt_at
        FROM queued_writes
        ORDER BY client_timestamp, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query queued writes: %w", err)
	}
	defer rows.Close()

	var writes []*models.QueuedWrite
	for rows.Next() {
		write, err := scanWrite(rows)
		if err != nil {
			return nil, err
		}
		writes = append(writes, write)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued writes: %w", err)
	}

	return writes, nil
}

// Remove deletes a write by id.
func (s *SQLiteStore) Remove(id string) error {
	result, err := s.db.Exec(`DELETE FROM queued_writes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete queued write: %w", err)
	}
	return requireRow(result)
}

// IncrementRetry bumps the attempt count and records the attempt.
func (s *SQLiteStore) IncrementRetry(id string, at time.Time) error {
	result, err := s.db.Exec(`
        UPDATE queued_writes
        SET attempt_count = attempt_count + 1,
            status = ?,
            last_attempt_at = ?
        WHERE id = ?`,
		string(models.StatusRetrying), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("increment retry: %w", err)
	}
	return requireRow(result)
}

// UpdateLastAttempt records an attempt time.
func (s *SQLiteStore) UpdateLastAttempt(id string, at time.Time) error {
	result, err := s.db.Exec(
		`UPDATE queued_writes SET last_attempt_at = ? WHERE id = ?`,
		at.UTC(), id)
	if err != nil {
		return fmt.Errorf("update last attempt: %w", err)
	}
	return requireRow(result)
}

// UpdateStatus sets the write's status.
func (s *SQLiteStore) UpdateStatus(id string, status models.WriteStatus) error {
	result, err := s.db.Exec(
		`UPDATE queued_writes SET status = ? WHERE id = ?`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return requireRow(result)
}

// MarkPermanentlyFailed moves the write to failed_permanent.
func (s *SQLiteStore) MarkPermanentlyFailed(id string) error {
	s.logger.WithField("id", id).Warn("Marking write permanently failed")
	return s.UpdateStatus(id, models.StatusFailedPermanent)
}

// Clear removes every queued write.
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM queued_writes`); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanWrite(rows *sql.Rows) (*models.QueuedWrite, error) {
	var (
		write       models.QueuedWrite
		entityType  string
		operation   string
		serverID    sql.NullString
		payload     []byte
		status      string
		lastAttempt sql.NullTime
	)

	err := rows.Scan(
		&write.ID, &entityType, &operation,
		&write.Target.LocalID, &serverID, &payload,
		&write.ClientTimestamp, &write.AttemptCount, &status, &lastAttempt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan queued write: %w", err)
	}

	write.EntityType = models.EntityType(entityType)
	write.Operation = models.Operation(operation)
	write.Status = models.WriteStatus(status)
	if serverID.Valid {
		write.Target.ServerID = serverID.String
	}
	if len(payload) > 0 {
		write.Payload = payload
	}
	if lastAttempt.Valid {
		t := lastAttempt.Time
		write.LastAttemptAt = &t
	}

	return &write, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrQueueEntryNotFound
	}
	return nil
}
