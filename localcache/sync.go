// Copyright 2026 The Tsurukame Authors
// SPDX-License-Identifier: Apache-2.0

package localcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/realericmc/tsurukame/wanikani"
)

// Progress weights for one sync pass, 13 units in total.
const (
	weightFlushProgress  = 1
	weightFlushMaterials = 1
	weightAssignments    = 8
	weightMaterials      = 1
	weightUser           = 1
	weightProgressions   = 1
)

// Sync runs one synchronization pass: flush both pending queues, then
// fetch-and-merge every remote resource. Single-flight: a call made while
// another pass is running returns immediately and successfully without
// doing work. quick keeps the incremental assignments cursor; a full sync
// clears it first, forcing a complete re-download.
//
// Sync never propagates failures. Errors are classified at this boundary:
// unauthorized raises EventUnauthorized, connectivity failures are
// swallowed, everything else lands in the error log. prog may be nil; it
// is always driven to completion.
func (c *Client) Sync(ctx context.Context, quick bool, prog *SyncProgress) {
	if prog == nil {
		prog = NewSyncProgress(nil)
	}
	if c.gateway == nil {
		prog.finish()
		return
	}
	if !c.busy.CompareAndSwap(false, true) {
		prog.finish()
		return
	}
	defer func() {
		c.busy.Store(false)
		prog.finish()
	}()

	flushProgressUnit := prog.unit(weightFlushProgress)
	flushMaterialsUnit := prog.unit(weightFlushMaterials)
	assignmentsUnit := prog.unit(weightAssignments)
	materialsUnit := prog.unit(weightMaterials)
	userUnit := prog.unit(weightUser)
	progressionsUnit := prog.unit(weightProgressions)

	if !quick {
		if err := c.setCursor(ctx, cursorAssignments, ""); err != nil {
			c.handleSyncError(ctx, err)
			return
		}
	}

	// Phase 1: drain both pending queues. They touch disjoint tables and
	// run in parallel with each other; items within each queue go out one
	// at a time.
	var progressErr, materialsErr error
	var flush errgroup.Group
	flush.Go(func() error {
		progressErr = c.flushPendingProgress(ctx, flushProgressUnit)
		flushProgressUnit.finish()
		return nil
	})
	flush.Go(func() error {
		materialsErr = c.flushPendingStudyMaterials(ctx, flushMaterialsUnit)
		flushMaterialsUnit.finish()
		return nil
	})
	_ = flush.Wait()

	// A flush failure does not abort the fetch phase: the two phases are
	// independently fallible, and unsent items simply wait for the next
	// pass.
	if progressErr != nil {
		c.handleSyncError(ctx, progressErr)
	}
	if materialsErr != nil {
		c.handleSyncError(ctx, materialsErr)
	}

	// Phase 2: fetch-and-merge each resource concurrently. Every fetch
	// commits its own transaction, so a sibling's failure never unwinds
	// rows that already landed.
	var fetch errgroup.Group
	fetch.Go(func() error {
		defer assignmentsUnit.finish()
		return c.fetchAssignments(ctx, assignmentsUnit)
	})
	fetch.Go(func() error {
		defer materialsUnit.finish()
		return c.fetchStudyMaterials(ctx, materialsUnit)
	})
	fetch.Go(func() error {
		defer userUnit.finish()
		return c.fetchUser(ctx, userUnit)
	})
	fetch.Go(func() error {
		defer progressionsUnit.finish()
		return c.fetchLevelProgressions(ctx, progressionsUnit)
	})
	if err := fetch.Wait(); err != nil {
		c.handleSyncError(ctx, err)
		return
	}

	c.invalidate(c.availableSubjects, EventAvailableSubjects)
	c.invalidate(c.srsCategoryCounts, EventSRSCategoryCounts)
	c.invalidate(c.guruKanjiCount, EventGuruKanjiCount)
	c.events.notify(EventUserChanged)
	c.logger.Debug("sync pass completed", "quick", quick)
}

// fetchAssignments pulls assignments updated after the stored cursor and
// applies the whole page plus the cursor advance in one transaction.
// Subjects with a live pending progress event are skipped: the pending
// report is authoritative until acknowledged, and its assignment row stays
// deleted.
func (c *Client) fetchAssignments(ctx context.Context, prog wanikani.ProgressHandle) error {
	cursor, err := c.cursor(ctx, cursorAssignments)
	if err != nil {
		return err
	}
	assignments, next, err := c.gateway.Assignments(ctx, cursor, prog)
	if err != nil {
		return fmt.Errorf("failed to fetch assignments: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	pending, err := pendingSubjectIDsInTx(ctx, tx)
	if err != nil {
		return err
	}

	for i := range assignments {
		a := &assignments[i]
		if pending[a.SubjectID] {
			continue
		}
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to encode assignment %d: %w", a.SubjectID, err)
		}
		var availableAt *int64
		if a.AvailableAt != nil {
			unix := a.AvailableAt.Unix()
			availableAt = &unix
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO assignments (subject_id, level, subject_kind, srs_stage, available_at, data)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(subject_id) DO UPDATE SET level = excluded.level,
				subject_kind = excluded.subject_kind, srs_stage = excluded.srs_stage,
				available_at = excluded.available_at, data = excluded.data
		`, a.SubjectID, a.Level, int(a.SubjectKind), a.SRSStage, availableAt, data); err != nil {
			return fmt.Errorf("failed to upsert assignment %d: %w", a.SubjectID, err)
		}
		if err := upsertSubjectProgressInTx(ctx, tx, a.SubjectID, a.Level, a.SRSStage, a.SubjectKind); err != nil {
			return fmt.Errorf("failed to update subject progress %d: %w", a.SubjectID, err)
		}
	}

	if err := setCursorInTx(ctx, tx, cursorAssignments, next); err != nil {
		return err
	}
	return tx.Commit()
}

// fetchStudyMaterials merges remote study materials, preserving local
// copies that still have an unpushed edit.
func (c *Client) fetchStudyMaterials(ctx context.Context, prog wanikani.ProgressHandle) error {
	cursor, err := c.cursor(ctx, cursorStudyMaterials)
	if err != nil {
		return err
	}
	materials, next, err := c.gateway.StudyMaterials(ctx, cursor, prog)
	if err != nil {
		return fmt.Errorf("failed to fetch study materials: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range materials {
		m := &materials[i]
		var hasPending bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM pending_study_materials WHERE subject_id = ?)
		`, m.SubjectID).Scan(&hasPending); err != nil {
			return fmt.Errorf("failed to check pending study material: %w", err)
		}
		if hasPending {
			continue
		}
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to encode study material %d: %w", m.SubjectID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO study_materials (subject_id, data) VALUES (?, ?)
			ON CONFLICT(subject_id) DO UPDATE SET data = excluded.data
		`, m.SubjectID, data); err != nil {
			return fmt.Errorf("failed to upsert study material %d: %w", m.SubjectID, err)
		}
	}

	if err := setCursorInTx(ctx, tx, cursorStudyMaterials, next); err != nil {
		return err
	}
	return tx.Commit()
}

// fetchUser replaces the singleton user record wholesale.
func (c *Client) fetchUser(ctx context.Context, prog wanikani.ProgressHandle) error {
	user, err := c.gateway.User(ctx, prog)
	if err != nil {
		return fmt.Errorf("failed to fetch user: %w", err)
	}
	if user == nil {
		return errors.New("gateway returned no user record")
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.db.ExecContext(ctx, `
		INSERT INTO user (id, level, data) VALUES (0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET level = excluded.level, data = excluded.data
	`, user.Level, data); err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}
	return nil
}

// fetchLevelProgressions replaces the level history rows by level number.
func (c *Client) fetchLevelProgressions(ctx context.Context, prog wanikani.ProgressHandle) error {
	progressions, err := c.gateway.LevelProgressions(ctx, prog)
	if err != nil {
		return fmt.Errorf("failed to fetch level progressions: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range progressions {
		p := &progressions[i]
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to encode level progression %d: %w", p.Level, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO level_progressions (level, data) VALUES (?, ?)
			ON CONFLICT(level) DO UPDATE SET data = excluded.data
		`, p.Level, data); err != nil {
			return fmt.Errorf("failed to upsert level progression %d: %w", p.Level, err)
		}
	}
	return tx.Commit()
}

func pendingSubjectIDsInTx(ctx context.Context, tx *sql.Tx) (map[int64]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT subject_id FROM pending_progress`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending subjects: %w", err)
	}
	defer rows.Close()

	pending := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan pending subject: %w", err)
		}
		pending[id] = true
	}
	return pending, rows.Err()
}

// handleSyncError is the single classification point for sync failures.
// Nothing above it observes errors: unauthorized raises a re-auth signal,
// connectivity failures self-resolve on the next pass and are swallowed,
// remote-reported and protocol failures are logged with full context, and
// anything uncategorized is logged with a description only.
func (c *Client) handleSyncError(ctx context.Context, err error) {
	var apiErr *wanikani.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case wanikani.ErrorKindUnauthorized:
			c.events.notify(EventUnauthorized)
		case wanikani.ErrorKindConnectivity, wanikani.ErrorKindUnprocessable:
			c.logger.Debug("ignoring transient sync failure", "kind", apiErr.Kind.String(), "error", err)
		default:
			c.logError(ctx, apiErr)
		}
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	c.logError(ctx, &wanikani.Error{Kind: wanikani.ErrorKindOther, Message: err.Error()})
}
