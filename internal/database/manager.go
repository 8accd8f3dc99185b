package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"

	dbconfig "supportchat/pkg/database"
	"supportchat/pkg/interfaces"
	"supportchat/pkg/types"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("archive is closed")

// Manager is the local sqlite archive of directory snapshots and transcripts
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	migrations   *dbconfig.MigrationManager
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	stopped      chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

var _ interfaces.Archiver = (*Manager)(nil)

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// NewManager opens the archive, applies the embedded schema and starts the writer.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid archive config: %w", err)
	}
	if dir := filepath.Dir(config.DatabasePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplyOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}
	migrations := dbconfig.NewMigrationManager(db, dbconfig.Migrations())
	if err := migrations.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate archive: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive schema is incomplete: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		migrations:   migrations,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		stopped:      make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()
	defer close(m.stopped)

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: A failed write is retried exactly once after RetryDelay
			attempt := 0
			err := backoff.Retry(func() error {
				attempt++
				err := op.operation(op.ctx, m.db)
				if err != nil && attempt == 1 {
					log.Printf("Archive write failed, retrying in %s: %v", m.config.RetryDelay, err)
				}
				return err
			}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(m.config.RetryDelay), 1), op.ctx))
			if err != nil {
				log.Printf("Archive write failed after retry: %v", err)
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Archive write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-timeout.C:
		return fmt.Errorf("write operation timeout")
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrClosed
	}

	// TECHNICAL DISCOVERY: The writer may stop with this operation still buffered
	select {
	case err := <-result:
		return err
	case <-m.stopped:
		select {
		case err := <-result:
			return err
		default:
			return ErrClosed
		}
	}
}

// SaveDirectory upserts every entry of a directory snapshot
// FUNCTIONAL DISCOVERY: Sessions missing from a later poll are kept; the archive
// is a history, not a mirror
func (m *Manager) SaveDirectory(ctx context.Context, entries []types.DirectoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	archivedAt := time.Now().UTC()

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO directory_entries
				(id, customer_id, customer_name, status, last_message, last_activity, created_at, unread_count, archived_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				customer_id = excluded.customer_id,
				customer_name = excluded.customer_name,
				status = excluded.status,
				last_message = excluded.last_message,
				last_activity = excluded.last_activity,
				created_at = excluded.created_at,
				unread_count = excluded.unread_count,
				archived_at = excluded.archived_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare directory upsert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, e := range entries {
			var lastActivity sql.NullTime
			if e.LastActivity != nil {
				lastActivity = sql.NullTime{Time: e.LastActivity.UTC(), Valid: true}
			}
			_, err := stmt.ExecContext(ctx,
				e.ID,
				e.CustomerID,
				e.CustomerName,
				e.Status,
				e.LastMessage,
				lastActivity,
				e.CreatedAt.UTC(),
				e.UnreadCount,
				archivedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert session %s: %w", e.ID, err)
			}
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit directory snapshot: %w", err)
		}
		return nil
	})
}

// SaveTranscript replaces the archived transcript of one session.
func (m *Manager) SaveTranscript(ctx context.Context, sessionID string, messages []types.Message) error {
	if !types.IsValidSessionID(sessionID) {
		return types.ErrInvalidSessionID
	}

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_messages WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("failed to clear transcript: %w", err)
		}

		// TECHNICAL DISCOVERY: seq keeps backend order even when timestamps tie
		for seq, msg := range messages {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO transcript_messages (session_id, seq, message_id, sender, sender_role, text, timestamp)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, sessionID, seq, msg.ID, msg.Sender, string(msg.SenderRole), msg.Text, msg.Timestamp.UTC())
			if err != nil {
				return fmt.Errorf("failed to insert transcript message: %w", err)
			}
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transcript: %w", err)
		}
		return nil
	})
}

// ListEntries returns archived sessions, newest activity first. An empty
// status returns every entry.
func (m *Manager) ListEntries(ctx context.Context, status string) ([]types.DirectoryEntry, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	query := `
		SELECT id, customer_id, customer_name, status, last_message, last_activity, created_at, unread_count
		FROM directory_entries
	`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []types.DirectoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating archived sessions: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return lastSeen(entries[i]).After(lastSeen(entries[j]))
	})
	return entries, nil
}

// Entry returns one archived session.
func (m *Manager) Entry(ctx context.Context, sessionID string) (types.DirectoryEntry, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, customer_id, customer_name, status, last_message, last_activity, created_at, unread_count
		FROM directory_entries
		WHERE id = ?
	`, sessionID)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.DirectoryEntry{}, interfaces.ErrSessionNotFound
	}
	return entry, err
}

// Transcript returns an archived transcript in backend order.
func (m *Manager) Transcript(ctx context.Context, sessionID string) ([]types.Message, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT message_id, sender, sender_role, text, timestamp
		FROM transcript_messages
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []types.Message
	for rows.Next() {
		msg := types.Message{SessionID: sessionID}
		var role string
		if err := rows.Scan(&msg.ID, &msg.Sender, &role, &msg.Text, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transcript row: %w", err)
		}
		msg.SenderRole = types.Role(role)
		messages = append(messages, msg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transcript rows: %w", err)
	}

	if len(messages) == 0 {
		return nil, interfaces.ErrSessionNotFound
	}
	return messages, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM directory_entries").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Status summarizes an archive for the operator.
type Status struct {
	Path           string
	SchemaVersions []string
	Sessions       int
	Messages       int
}

// Status health-checks the archive and reports its schema and row counts.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	if err := m.HealthCheck(ctx); err != nil {
		return Status{}, err
	}
	versions, err := m.migrations.AppliedVersions()
	if err != nil {
		return Status{}, fmt.Errorf("failed to read schema versions: %w", err)
	}

	status := Status{Path: m.config.DatabasePath, SchemaVersions: versions}
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM directory_entries").Scan(&status.Sessions); err != nil {
		return Status{}, fmt.Errorf("failed to count sessions: %w", err)
	}
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transcript_messages").Scan(&status.Messages); err != nil {
		return Status{}, fmt.Errorf("failed to count messages: %w", err)
	}
	return status, nil
}

// Close shuts down the writer and the database. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (types.DirectoryEntry, error) {
	var entry types.DirectoryEntry
	var lastActivity sql.NullTime

	err := row.Scan(
		&entry.ID,
		&entry.CustomerID,
		&entry.CustomerName,
		&entry.Status,
		&entry.LastMessage,
		&lastActivity,
		&entry.CreatedAt,
		&entry.UnreadCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entry, err
		}
		return entry, fmt.Errorf("failed to scan archived session: %w", err)
	}
	if lastActivity.Valid {
		t := lastActivity.Time
		entry.LastActivity = &t
	}
	return entry, nil
}

func lastSeen(e types.DirectoryEntry) time.Time {
	if e.LastActivity != nil {
		return *e.LastActivity
	}
	return e.CreatedAt
}
