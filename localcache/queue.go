// Copyright 2026 The Tsurukame Authors
// SPDX-License-Identifier: Apache-2.0

package localcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/realericmc/tsurukame/wanikani"
)

// RecordProgress durably records one completed lesson or review. Within a
// single transaction the committed assignment row is deleted (the pending
// report supersedes it), the pending queue row is upserted, and
// subject_progress is rewritten with the recomputed stage. The event's
// resulting SRSStage is assigned here from the last known stage.
//
// After the commit an immediate one-shot push is attempted; its outcome is
// classified like any sync failure and never surfaces to the caller.
func (c *Client) RecordProgress(ctx context.Context, p *wanikani.Progress) error {
	if p == nil {
		return errors.New("progress cannot be nil")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = c.now()
	}

	c.writeMu.Lock()
	err := func() error {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		var previous int
		err = tx.QueryRowContext(ctx,
			`SELECT srs_stage FROM subject_progress WHERE subject_id = ?`, p.SubjectID).Scan(&previous)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read subject progress: %w", err)
		}
		p.SRSStage = wanikani.NextStage(previous, p.IsLesson, p.AnyWrong())

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM assignments WHERE subject_id = ?`, p.SubjectID); err != nil {
			return fmt.Errorf("failed to delete assignment: %w", err)
		}

		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to encode progress: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pending_progress (subject_id, data) VALUES (?, ?)
			ON CONFLICT(subject_id) DO UPDATE SET data = excluded.data
		`, p.SubjectID, data); err != nil {
			return fmt.Errorf("failed to queue progress: %w", err)
		}

		if err := upsertSubjectProgressInTx(ctx, tx, p.SubjectID, p.Level, p.SRSStage, p.SubjectKind); err != nil {
			return fmt.Errorf("failed to update subject progress: %w", err)
		}
		return tx.Commit()
	}()
	c.writeMu.Unlock()
	if err != nil {
		return err
	}

	c.invalidateProgressAggregates()
	c.pushProgressItem(ctx, p, nil)
	return nil
}

// pushProgressItem attempts to deliver one pending progress event. Success
// and permanent rejection both retire the queue row; anything else leaves
// it for the next sync pass and reports the error to the caller.
func (c *Client) pushProgressItem(ctx context.Context, p *wanikani.Progress, prog wanikani.ProgressHandle) {
	if c.gateway == nil {
		return
	}
	err := c.gateway.SendProgress(ctx, p, prog)
	switch {
	case err == nil:
	case wanikani.IsUnprocessable(err):
		// The remote side can never accept this report, usually because a
		// duplicate already arrived from another client. Retiring it keeps
		// the queue from wedging forever.
		c.logger.Debug("discarding unprocessable progress", "subject", p.SubjectID)
	default:
		c.handleSyncError(ctx, err)
		return
	}

	if err := c.deletePending(ctx, "pending_progress", p.SubjectID); err != nil {
		c.logger.Error("failed to retire pending progress", "subject", p.SubjectID, "error", err)
		return
	}
	c.invalidate(c.pendingProgressCount, EventPendingProgressCount)
}

// UpdateStudyMaterial durably records a local study-material edit and marks
// it for push. Like RecordProgress, the immediate push attempt's outcome is
// classified, not returned.
func (c *Client) UpdateStudyMaterial(ctx context.Context, m *wanikani.StudyMaterial) error {
	if m == nil {
		return errors.New("study material cannot be nil")
	}

	c.writeMu.Lock()
	err := func() error {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to encode study material: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO study_materials (subject_id, data) VALUES (?, ?)
			ON CONFLICT(subject_id) DO UPDATE SET data = excluded.data
		`, m.SubjectID, data); err != nil {
			return fmt.Errorf("failed to store study material: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO pending_study_materials (subject_id) VALUES (?)
		`, m.SubjectID); err != nil {
			return fmt.Errorf("failed to mark study material pending: %w", err)
		}
		return tx.Commit()
	}()
	c.writeMu.Unlock()
	if err != nil {
		return err
	}

	c.invalidate(c.pendingStudyMaterialsCount, EventPendingStudyMaterialsCount)
	c.pushStudyMaterialItem(ctx, m, nil)
	return nil
}

func (c *Client) pushStudyMaterialItem(ctx context.Context, m *wanikani.StudyMaterial, prog wanikani.ProgressHandle) {
	if c.gateway == nil {
		return
	}
	if err := c.gateway.UpdateStudyMaterial(ctx, m, prog); err != nil {
		c.handleSyncError(ctx, err)
		return
	}
	if err := c.deletePending(ctx, "pending_study_materials", m.SubjectID); err != nil {
		c.logger.Error("failed to retire pending study material", "subject", m.SubjectID, "error", err)
		return
	}
	c.invalidate(c.pendingStudyMaterialsCount, EventPendingStudyMaterialsCount)
}

func (c *Client) deletePending(ctx context.Context, table string, subjectID int64) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE subject_id = ?`, table), subjectID)
	return err
}

// flushPendingProgress pushes queued progress events one at a time, in
// subject id order. Sequential delivery bounds remote load and makes the
// per-item outcome ordering deterministic; the unprocessable heuristic
// depends on the remote side seeing reports in order. The first hard
// failure aborts the rest of the queue for this pass.
func (c *Client) flushPendingProgress(ctx context.Context, prog wanikani.ProgressHandle) error {
	rows, err := c.db.QueryContext(ctx, `SELECT data FROM pending_progress ORDER BY subject_id`)
	if err != nil {
		return fmt.Errorf("failed to query pending progress: %w", err)
	}
	var items []wanikani.Progress
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
		items = append(items, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate pending progress: %w", err)
	}

	removed := false
	defer func() {
		if removed {
			c.invalidate(c.pendingProgressCount, EventPendingProgressCount)
		}
	}()

	for i := range items {
		p := &items[i]
		err := c.gateway.SendProgress(ctx, p, prog)
		if err != nil && !wanikani.IsUnprocessable(err) {
			return fmt.Errorf("failed to push progress for subject %d: %w", p.SubjectID, err)
		}
		if err != nil {
			c.logger.Debug("discarding unprocessable progress", "subject", p.SubjectID)
		}
		if err := c.deletePending(ctx, "pending_progress", p.SubjectID); err != nil {
			return fmt.Errorf("failed to retire pending progress: %w", err)
		}
		removed = true
	}
	return nil
}

// flushPendingStudyMaterials pushes queued study-material edits, one at a
// time. Touches disjoint tables from the progress flush, so the two may
// run in parallel.
func (c *Client) flushPendingStudyMaterials(ctx context.Context, prog wanikani.ProgressHandle) error {
	rows, err := c.db.QueryContext(ctx, `
		SELECT m.data FROM pending_study_materials p
		JOIN study_materials m ON m.subject_id = p.subject_id
		ORDER BY p.subject_id
	`)
	if err != nil {
		return fmt.Errorf("failed to query pending study materials: %w", err)
	}
	var items []wanikani.StudyMaterial
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan pending study material: %w", err)
		}
		var m wanikani.StudyMaterial
		if err := json.Unmarshal(data, &m); err != nil {
			rows.Close()
			return fmt.Errorf("failed to decode pending study material: %w", err)
		}
		items = append(items, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate pending study materials: %w", err)
	}

	removed := false
	defer func() {
		if removed {
			c.invalidate(c.pendingStudyMaterialsCount, EventPendingStudyMaterialsCount)
		}
	}()

	for i := range items {
		m := &items[i]
		if err := c.gateway.UpdateStudyMaterial(ctx, m, prog); err != nil {
			return fmt.Errorf("failed to push study material for subject %d: %w", m.SubjectID, err)
		}
		if err := c.deletePending(ctx, "pending_study_materials", m.SubjectID); err != nil {
			return fmt.Errorf("failed to retire pending study material: %w", err)
		}
		removed = true
	}
	return nil
}
