package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // Register SQLite driver
	"github.com/qbitspark/sms-relay/pkg/types"
	"github.com/sirupsen/logrus"
)

// Store provides SQLite-based persistence for the message outbox and the
// SIM identity set. A message row existing at all means "not yet confirmed
// delivered"; there is no separate delivered state.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewStore initializes a new SQLite store
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// A single connection keeps :memory: databases coherent and is plenty
	// for tens of in-flight records.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database connection after init error")
		}
		return nil, err
	}

	logrus.WithField("db_path", dbPath).Info("Initialized relay database")
	return store, nil
}

// initSchema applies all pending migrations
func (s *Store) initSchema() error {
	currentVersion := 0
	row := s.db.QueryRowContext(context.Background(), "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	_ = row.Scan(&currentVersion) // Ignore error - schema_version table may not exist yet

	for _, migration := range Migrations {
		if migration.Version <= currentVersion {
			continue
		}

		logrus.WithField("version", migration.Version).Info("Applying schema migration")

		if _, err := s.db.ExecContext(context.Background(), migration.SQL); err != nil {
			return fmt.Errorf("failed to apply migration v%d: %w", migration.Version, err)
		}

		if _, err := s.db.ExecContext(context.Background(),
			"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			migration.Version,
			time.Now().Unix(),
		); err != nil {
			return fmt.Errorf("failed to record migration v%d: %w", migration.Version, err)
		}

		currentVersion = migration.Version
	}

	return nil
}

// InsertMessage appends a pending message and returns its id. The row is
// durable before this returns.
func (s *Store) InsertMessage(ctx context.Context, msg *types.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (sender, receiver, body, captured_at) VALUES (?, ?, ?, ?)`,
		msg.Sender,
		msg.Receiver,
		msg.Body,
		msg.CapturedAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get message id: %w", err)
	}

	return id, nil
}

// ListPendingMessages returns a point-in-time snapshot of all pending
// messages ordered by capture time.
func (s *Store) ListPendingMessages(ctx context.Context) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender, receiver, body, captured_at
		 FROM messages ORDER BY captured_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database rows")
		}
	}()

	var messages []types.Message
	for rows.Next() {
		var msg types.Message
		var capturedAtUnix int64

		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Receiver, &msg.Body, &capturedAtUnix); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		msg.CapturedAt = time.Unix(capturedAtUnix, 0)
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// DeleteMessage removes a message after a confirmed delivery. Deleting an
// id that is already gone is not an error.
func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete message %d: %w", id, err)
	}

	return nil
}

// CountPendingMessages returns the number of pending messages.
func (s *Store) CountPendingMessages(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}

	return count, nil
}

// LoadSIMs returns the full persisted SIM identity set, present or not,
// ordered by slot then durable id.
func (s *Store) LoadSIMs(ctx context.Context) ([]types.SIMIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT durable_id, assigned_label, carrier_name, slot, subscription_id,
		        detected_number, last_seen_at, present
		 FROM sims ORDER BY slot ASC, durable_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sims: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database rows")
		}
	}()

	var sims []types.SIMIdentity
	for rows.Next() {
		var sim types.SIMIdentity
		var lastSeenUnix int64
		var present int

		if err := rows.Scan(
			&sim.DurableID,
			&sim.AssignedLabel,
			&sim.CarrierName,
			&sim.Slot,
			&sim.SubscriptionID,
			&sim.DetectedNumber,
			&lastSeenUnix,
			&present,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sim: %w", err)
		}

		sim.LastSeenAt = time.Unix(lastSeenUnix, 0)
		sim.Present = present != 0
		sims = append(sims, sim)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sims: %w", err)
	}

	return sims, nil
}

// ReplaceSIMs atomically replaces the persisted SIM set. Readers never see
// a partially written set.
func (s *Store) ReplaceSIMs(ctx context.Context, sims []types.SIMIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				logrus.WithError(rollbackErr).Warn("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM sims"); err != nil {
		return fmt.Errorf("failed to clear sims: %w", err)
	}

	for _, sim := range sims {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sims
			 (durable_id, assigned_label, carrier_name, slot, subscription_id,
			  detected_number, last_seen_at, present)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sim.DurableID,
			sim.AssignedLabel,
			sim.CarrierName,
			sim.Slot,
			sim.SubscriptionID,
			sim.DetectedNumber,
			sim.LastSeenAt.Unix(),
			boolToInt(sim.Present),
		); err != nil {
			return fmt.Errorf("failed to insert sim %s: %w", sim.DurableID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return nil
}

// UpsertSIM inserts or updates a single SIM record by durable id.
func (s *Store) UpsertSIM(ctx context.Context, sim *types.SIMIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM sims WHERE durable_id = ?", sim.DurableID).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check sim existence: %w", err)
	}

	if exists == 1 {
		_, err = s.db.ExecContext(ctx,
			`UPDATE sims
			 SET assigned_label = ?, carrier_name = ?, slot = ?, subscription_id = ?,
			     detected_number = ?, last_seen_at = ?, present = ?
			 WHERE durable_id = ?`,
			sim.AssignedLabel,
			sim.CarrierName,
			sim.Slot,
			sim.SubscriptionID,
			sim.DetectedNumber,
			sim.LastSeenAt.Unix(),
			boolToInt(sim.Present),
			sim.DurableID,
		)
	} else {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO sims
			 (durable_id, assigned_label, carrier_name, slot, subscription_id,
			  detected_number, last_seen_at, present)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sim.DurableID,
			sim.AssignedLabel,
			sim.CarrierName,
			sim.Slot,
			sim.SubscriptionID,
			sim.DetectedNumber,
			sim.LastSeenAt.Unix(),
			boolToInt(sim.Present),
		)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert sim %s: %w", sim.DurableID, err)
	}

	return nil
}

// GetSetting returns a persisted setting, or fallback when unset.
func (s *Store) GetSetting(ctx context.Context, key, fallback string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query setting %s: %w", key, err)
	}

	return value, nil
}

// SetSetting persists a setting value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	); err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}

	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
