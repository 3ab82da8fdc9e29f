// Copyright 2026 The Tsurukame Authors
// SPDX-License-Identifier: Apache-2.0

// Package localcache is the offline-first local replica of the remote
// spaced-repetition service. It owns the SQLite store and its migrations,
// the pending mutation queues, the derived aggregate cache, and the sync
// orchestration that reconciles the replica with the remote service.
package localcache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/realericmc/tsurukame/wanikani"
)

// Config holds tunables for the local cache.
type Config struct {
	// ErrorLogLimit is the number of newest error-log entries retained.
	ErrorLogLimit int
}

// DefaultConfig returns the configuration used by the application shell.
func DefaultConfig() *Config {
	return &Config{ErrorLogLimit: 100}
}

// Client manages the SQLite store and all sync operations. All writes are
// serialized through writeMu; SQLite has a single writer anyway and the
// mutex keeps multi-statement transactions from interleaving.
type Client struct {
	db        *sql.DB
	gateway   wanikani.Gateway
	catalogue wanikani.Catalogue
	config    *Config
	logger    *slog.Logger
	writeMu   sync.Mutex
	events    *Hub
	busy      atomic.Bool // single-flight guard for Sync
	now       func() time.Time

	pendingProgressCount       *cachedValue[int]
	pendingStudyMaterialsCount *cachedValue[int]
	availableSubjects          *cachedValue[AvailableSubjects]
	guruKanjiCount             *cachedValue[int]
	srsCategoryCounts          *cachedValue[[wanikani.NumSRSCategories]int]
}

// Open opens or creates the store file at path and runs pending schema
// migrations. The parent directory is created if missing.
func Open(ctx context.Context, path string, gateway wanikani.Gateway, catalogue wanikani.Catalogue, config *Config) (*Client, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	client, err := New(ctx, db, gateway, catalogue, config)
	if err != nil {
		db.Close()
		return nil, err
	}
	return client, nil
}

// New wraps an already opened database. Any migration failure is fatal:
// the caller must abort startup rather than run against a half-migrated
// store.
func New(ctx context.Context, db *sql.DB, gateway wanikani.Gateway, catalogue wanikani.Catalogue, config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ErrorLogLimit <= 0 {
		config.ErrorLogLimit = DefaultConfig().ErrorLogLimit
	}

	// SQLite does not support multiple writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	c := &Client{
		db:        db,
		gateway:   gateway,
		catalogue: catalogue,
		config:    config,
		logger:    slog.Default(),
		events:    newHub(),
		now:       time.Now,
	}
	c.initAggregates()

	if err := c.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := c.purgeDeletedSubjects(ctx); err != nil {
		return nil, fmt.Errorf("failed to purge deleted subjects: %w", err)
	}
	return c, nil
}

// SetLogger replaces the default slog logger.
func (c *Client) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Subscribe registers fn to run whenever event fires. Notifications are
// delivered asynchronously, after the invalidating transaction commits.
func (c *Client) Subscribe(event Event, fn func()) {
	c.events.Subscribe(event, fn)
}

// Close closes the underlying database.
func (c *Client) Close() error {
	return c.db.Close()
}

// InstallID returns the per-install identifier generated on first open,
// attached to error-log entries for support diagnostics.
func (c *Client) InstallID(ctx context.Context) (string, error) {
	var id string
	if err := c.db.QueryRowContext(ctx, `SELECT install_id FROM sync WHERE id = 0`).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to read install id: %w", err)
	}
	return id, nil
}

// ClearAllData truncates every table and resets the fetch cursors. The
// remote service is untouched; the next full sync repopulates the store.
func (c *Client) ClearAllData(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{
		"assignments", "subject_progress", "pending_progress",
		"study_materials", "pending_study_materials",
		"user", "level_progressions", "error_log",
	} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sync SET assignments_updated_after = '', study_materials_updated_after = ''
		WHERE id = 0
	`); err != nil {
		return fmt.Errorf("failed to reset cursors: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	c.invalidate(c.pendingProgressCount, EventPendingProgressCount)
	c.invalidate(c.pendingStudyMaterialsCount, EventPendingStudyMaterialsCount)
	c.invalidate(c.availableSubjects, EventAvailableSubjects)
	c.invalidate(c.guruKanjiCount, EventGuruKanjiCount)
	c.invalidate(c.srsCategoryCounts, EventSRSCategoryCounts)
	c.events.notify(EventUserChanged)
	return nil
}

// Fetch cursor columns in the sync singleton row. Only these constants are
// ever interpolated into cursor queries.
const (
	cursorAssignments    = "assignments_updated_after"
	cursorStudyMaterials = "study_materials_updated_after"
)

func (c *Client) cursor(ctx context.Context, column string) (string, error) {
	var value string
	query := fmt.Sprintf(`SELECT %s FROM sync WHERE id = 0`, column)
	if err := c.db.QueryRowContext(ctx, query).Scan(&value); err != nil {
		return "", fmt.Errorf("failed to read %s cursor: %w", column, err)
	}
	return value, nil
}

func (c *Client) setCursor(ctx context.Context, column, value string) error {
	query := fmt.Sprintf(`UPDATE sync SET %s = ? WHERE id = 0`, column)
	if _, err := c.db.ExecContext(ctx, query, value); err != nil {
		return fmt.Errorf("failed to update %s cursor: %w", column, err)
	}
	return nil
}

func setCursorInTx(ctx context.Context, tx *sql.Tx, column, value string) error {
	query := fmt.Sprintf(`UPDATE sync SET %s = ? WHERE id = 0`, column)
	if _, err := tx.ExecContext(ctx, query, value); err != nil {
		return fmt.Errorf("failed to update %s cursor: %w", column, err)
	}
	return nil
}
