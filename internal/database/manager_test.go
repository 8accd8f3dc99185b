package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportchat/pkg/database"
	"supportchat/pkg/interfaces"
	"supportchat/pkg/types"
)

func setupTestDB(t *testing.T) *Manager {
	t.Helper()
	config := database.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "archive", "test.db")
	config.RetryDelay = 10 * time.Millisecond

	manager, err := NewManager(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func at(minute int) time.Time {
	return time.Date(2024, 5, 1, 12, minute, 0, 0, time.UTC)
}

// Architectural Validation Tests

func TestManager_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Archiver = (*Manager)(nil)
}

func TestNewManager_CreatesSchema(t *testing.T) {
	manager := setupTestDB(t)

	mgr := database.NewMigrationManager(manager.db, database.Migrations())
	assert.NoError(t, mgr.ValidateSchema())
	assert.NoError(t, manager.HealthCheck(context.Background()))
}

func TestNewManager_ReopenKeepsData(t *testing.T) {
	config := database.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	first, err := NewManager(config)
	require.NoError(t, err)
	require.NoError(t, first.SaveDirectory(ctx, []types.DirectoryEntry{{ID: "S1", Status: "active", CreatedAt: at(0)}}))
	require.NoError(t, first.Close())

	second, err := NewManager(config)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	entries, err := second.ListEntries(ctx, "")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestNewManager_RejectsIncompleteSchema(t *testing.T) {
	config := database.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	first, err := NewManager(config)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// Migrations are recorded as applied, so the dropped index is not recreated
	raw, err := sql.Open("sqlite3", config.DSN())
	require.NoError(t, err)
	_, err = raw.Exec("DROP INDEX idx_directory_status")
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = NewManager(config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idx_directory_status")
}

func TestManager_Status(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	status, err := manager.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, manager.config.DatabasePath, status.Path)
	assert.NotEmpty(t, status.SchemaVersions)
	assert.Equal(t, 0, status.Sessions)

	require.NoError(t, manager.SaveDirectory(ctx, []types.DirectoryEntry{
		{ID: "S1", Status: "active", CreatedAt: at(0)},
		{ID: "S2", Status: "waiting", CreatedAt: at(1)},
	}))
	require.NoError(t, manager.SaveTranscript(ctx, "S1", []types.Message{{Sender: "ada", Text: "hi", Timestamp: at(2)}}))

	status, err = manager.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Sessions)
	assert.Equal(t, 1, status.Messages)

	require.NoError(t, manager.Close())
	_, err = manager.Status(ctx)
	assert.Error(t, err)
}

func TestNewManager_Failures(t *testing.T) {
	bad := database.DefaultConfig()
	bad.DatabasePath = ""
	_, err := NewManager(bad)
	assert.Error(t, err)

	// Parent path is a regular file, so the directory cannot be created
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	blocked := database.DefaultConfig()
	blocked.DatabasePath = filepath.Join(file, "archive.db")
	_, err = NewManager(blocked)
	assert.Error(t, err)
}

// Functional Validation Tests - Directory Archive

func TestManager_SaveDirectoryRoundTrip(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	activity := at(30)
	entries := []types.DirectoryEntry{
		{ID: "S1", CustomerID: "c-1", CustomerName: "Ada", Status: "active", LastMessage: "hi", LastActivity: &activity, CreatedAt: at(0), UnreadCount: 2},
		{ID: "S2", CustomerName: "Grace", Status: "waiting", CreatedAt: at(10)},
	}
	require.NoError(t, manager.SaveDirectory(ctx, entries))

	got, err := manager.ListEntries(ctx, "")
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest activity first
	assert.Equal(t, "S1", got[0].ID)
	assert.Equal(t, "Ada", got[0].CustomerName)
	assert.Equal(t, "c-1", got[0].CustomerID)
	assert.Equal(t, 2, got[0].UnreadCount)
	require.NotNil(t, got[0].LastActivity)
	assert.True(t, activity.Equal(*got[0].LastActivity))
	assert.True(t, at(0).Equal(got[0].CreatedAt))
	assert.Nil(t, got[1].LastActivity)

	waiting, err := manager.ListEntries(ctx, "waiting")
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, "S2", waiting[0].ID)
}

func TestManager_SaveDirectoryUpserts(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, manager.SaveDirectory(ctx, []types.DirectoryEntry{
		{ID: "S1", Status: "active", CreatedAt: at(0)},
		{ID: "S2", Status: "active", CreatedAt: at(1)},
	}))
	require.NoError(t, manager.SaveDirectory(ctx, []types.DirectoryEntry{
		{ID: "S1", Status: "closed", CreatedAt: at(0)},
	}))

	entry, err := manager.Entry(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "closed", entry.Status)

	// Sessions absent from a later snapshot stay archived
	_, err = manager.Entry(ctx, "S2")
	assert.NoError(t, err)

	_, err = manager.Entry(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)

	assert.NoError(t, manager.SaveDirectory(ctx, nil))
}

// Functional Validation Tests - Transcript Archive

func TestManager_SaveTranscriptRoundTrip(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	messages := []types.Message{
		{ID: "m1", Sender: "ada", SenderRole: types.RoleCustomer, Text: "hi", Timestamp: at(1)},
		{ID: "m2", Sender: "agent", SenderRole: types.RoleAdmin, Text: "hello", Timestamp: at(1)},
		{Sender: "ada", Text: "thanks", Timestamp: at(2)},
	}
	require.NoError(t, manager.SaveTranscript(ctx, "S1", messages))

	got, err := manager.Transcript(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"hi", "hello", "thanks"}, []string{got[0].Text, got[1].Text, got[2].Text})
	assert.Equal(t, "S1", got[0].SessionID)
	assert.Equal(t, types.RoleAdmin, got[1].SenderRole)
	assert.True(t, at(2).Equal(got[2].Timestamp))
}

func TestManager_SaveTranscriptReplaces(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, manager.SaveTranscript(ctx, "S1", []types.Message{{Text: "a"}, {Text: "b"}}))
	require.NoError(t, manager.SaveTranscript(ctx, "S1", []types.Message{{Text: "c"}}))
	require.NoError(t, manager.SaveTranscript(ctx, "S2", []types.Message{{Text: "other"}}))

	got, err := manager.Transcript(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].Text)

	_, err = manager.Transcript(ctx, "S3")
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)

	assert.ErrorIs(t, manager.SaveTranscript(ctx, "", nil), types.ErrInvalidSessionID)
}

// Error Handling Validation Tests

func TestManager_CleanShutdown(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close(), "second Close is a no-op")

	err := manager.SaveDirectory(ctx, []types.DirectoryEntry{{ID: "S1", Status: "active"}})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManager_CancelledContext(t *testing.T) {
	manager := setupTestDB(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := manager.SaveTranscript(ctx, "S1", []types.Message{{Text: "a"}})
	assert.Error(t, err)
}

// Technical Validation Tests - Concurrency

func TestManager_SingleWriterPattern(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	const numWrites = 20
	var wg sync.WaitGroup
	errs := make(chan error, numWrites)

	for i := 0; i < numWrites; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			sessionID := fmt.Sprintf("S%d", id)
			if err := manager.SaveDirectory(ctx, []types.DirectoryEntry{{ID: sessionID, Status: "active", CreatedAt: at(id)}}); err != nil {
				errs <- err
				return
			}
			if err := manager.SaveTranscript(ctx, sessionID, []types.Message{{Text: "m", Timestamp: at(id)}}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent write failed: %v", err)
	}

	entries, err := manager.ListEntries(ctx, "")
	require.NoError(t, err)
	assert.Len(t, entries, numWrites)
}
