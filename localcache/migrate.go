// Copyright 2026 The Tsurukame Authors
// SPDX-License-Identifier: Apache-2.0

package localcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/realericmc/tsurukame/wanikani"
)

// migrations upgrade a store from one schema version to the next. The
// current schema version equals len(migrations); PRAGMA user_version tracks
// how far a store has been upgraded. Steps run exactly once per store, all
// pending steps inside one transaction, so a partially applied upgrade is
// never visible.
var migrations = []func(ctx context.Context, tx *sql.Tx) error{
	migrateInitialSchema,
	migrateErrorLog,
	migrateSubjectProgress,
	migrateInstallID,
}

func (c *Client) migrate(ctx context.Context) error {
	var version int
	if err := c.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("store schema version %d is newer than supported version %d", version, len(migrations))
	}
	if version == len(migrations) {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](ctx, tx); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, len(migrations))); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}
	c.logger.Debug("migrated local cache schema", "from", version, "to", len(migrations))
	return nil
}

// Version 1: the original tables. Domain records are stored as JSON blobs
// alongside the scalar columns used in WHERE/GROUP BY.
func migrateInitialSchema(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE assignments (
			subject_id   INTEGER PRIMARY KEY,
			level        INTEGER NOT NULL,
			subject_kind INTEGER NOT NULL,
			srs_stage    INTEGER NOT NULL,
			available_at INTEGER,
			data         TEXT NOT NULL
		)`,
		`CREATE INDEX idx_assignments_level ON assignments(level)`,

		`CREATE TABLE pending_progress (
			subject_id INTEGER PRIMARY KEY,
			data       TEXT NOT NULL
		)`,

		`CREATE TABLE study_materials (
			subject_id INTEGER PRIMARY KEY,
			data       TEXT NOT NULL
		)`,

		`CREATE TABLE pending_study_materials (
			subject_id INTEGER PRIMARY KEY
		)`,

		`CREATE TABLE user (
			id    INTEGER PRIMARY KEY CHECK (id = 0),
			level INTEGER NOT NULL,
			data  TEXT NOT NULL
		)`,

		`CREATE TABLE level_progressions (
			level INTEGER PRIMARY KEY,
			data  TEXT NOT NULL
		)`,

		`CREATE TABLE sync (
			id                            INTEGER PRIMARY KEY CHECK (id = 0),
			assignments_updated_after     TEXT NOT NULL DEFAULT '',
			study_materials_updated_after TEXT NOT NULL DEFAULT ''
		)`,
		`INSERT INTO sync (id) VALUES (0)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Version 2: capped diagnostics ring for failed requests.
func migrateErrorLog(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE error_log (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at INTEGER NOT NULL,
			code       INTEGER NOT NULL DEFAULT 0,
			url        TEXT NOT NULL DEFAULT '',
			request    TEXT NOT NULL DEFAULT '',
			response   TEXT NOT NULL DEFAULT '',
			message    TEXT NOT NULL DEFAULT ''
		)`)
	return err
}

// Version 3: the subject_progress index table, backfilled from every
// existing assignment and pending progress row. Pending events are applied
// after assignments because a pending report supersedes the committed row.
func migrateSubjectProgress(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE subject_progress (
			subject_id   INTEGER PRIMARY KEY,
			level        INTEGER NOT NULL,
			srs_stage    INTEGER NOT NULL,
			subject_kind INTEGER NOT NULL
		)`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `CREATE INDEX idx_subject_progress_stage ON subject_progress(srs_stage)`); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO subject_progress (subject_id, level, srs_stage, subject_kind)
		SELECT subject_id, level, srs_stage, subject_kind FROM assignments
	`); err != nil {
		return fmt.Errorf("failed to backfill from assignments: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT data FROM pending_progress`)
	if err != nil {
		return fmt.Errorf("failed to read pending progress: %w", err)
	}
	var pending []wanikani.Progress
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan pending progress: %w", err)
		}
		var p wanikani.Progress
		if err := json.Unmarshal(data, &p); err != nil {
			rows.Close()
			return fmt.Errorf("failed to decode pending progress: %w", err)
		}
		pending = append(pending, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate pending progress: %w", err)
	}

	for i := range pending {
		p := &pending[i]
		if err := upsertSubjectProgressInTx(ctx, tx, p.SubjectID, p.Level, p.SRSStage, p.SubjectKind); err != nil {
			return fmt.Errorf("failed to backfill pending subject %d: %w", p.SubjectID, err)
		}
	}
	return nil
}

// Version 4: a persisted per-install identifier for diagnostics.
func migrateInstallID(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `ALTER TABLE sync ADD COLUMN install_id TEXT NOT NULL DEFAULT ''`); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `UPDATE sync SET install_id = ? WHERE id = 0`, uuid.New().String())
	return err
}

func upsertSubjectProgressInTx(ctx context.Context, tx *sql.Tx, subjectID int64, level, stage int, kind wanikani.SubjectKind) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO subject_progress (subject_id, level, srs_stage, subject_kind)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(subject_id) DO UPDATE SET level = excluded.level,
			srs_stage = excluded.srs_stage, subject_kind = excluded.subject_kind
	`, subjectID, level, stage, int(kind))
	return err
}

// purgeDeletedSubjects removes assignment and subject_progress rows that
// reference subjects no longer in the catalogue. Runs after migration on
// every open; their remote progress reports would be rejected anyway.
func (c *Client) purgeDeletedSubjects(ctx context.Context) error {
	if c.catalogue == nil {
		return nil
	}
	deleted := c.catalogue.DeletedSubjectIDs()
	if len(deleted) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range deleted {
		if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE subject_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete assignment %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM subject_progress WHERE subject_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete subject progress %d: %w", id, err)
		}
	}
	return tx.Commit()
}
