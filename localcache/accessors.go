// Copyright 2026 The Tsurukame Authors
// SPDX-License-Identifier: Apache-2.0

package localcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/realericmc/tsurukame/wanikani"
)

// AllAssignments returns every committed assignment row.
func (c *Client) AllAssignments(ctx context.Context) ([]wanikani.Assignment, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT data FROM assignments ORDER BY subject_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []wanikani.Assignment
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		var a wanikani.Assignment
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, fmt.Errorf("failed to decode assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// AssignmentsAtLevel returns one entry per curriculum subject at the level.
// Subjects with no real assignment yet get a synthetic not-yet-unlocked
// placeholder so the level view is always complete.
func (c *Client) AssignmentsAtLevel(ctx context.Context, level int) ([]wanikani.Assignment, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT data FROM assignments WHERE level = ?`, level)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments at level %d: %w", level, err)
	}
	defer rows.Close()

	bySubject := make(map[int64]wanikani.Assignment)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		var a wanikani.Assignment
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, fmt.Errorf("failed to decode assignment: %w", err)
		}
		bySubject[a.SubjectID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if c.catalogue != nil {
		for _, ref := range c.catalogue.SubjectsAtLevel(level).All() {
			if _, ok := bySubject[ref.ID]; ok {
				continue
			}
			bySubject[ref.ID] = wanikani.Assignment{
				SubjectID:   ref.ID,
				Level:       level,
				SubjectKind: ref.Kind,
				SRSStage:    wanikani.StageUnstarted,
			}
		}
	}

	assignments := make([]wanikani.Assignment, 0, len(bySubject))
	for _, a := range bySubject {
		assignments = append(assignments, a)
	}
	sort.Slice(assignments, func(i, j int) bool {
		return assignments[i].SubjectID < assignments[j].SubjectID
	})
	return assignments, nil
}

// Assignment returns the assignment for one subject, or nil when the
// subject has none. A pending progress event takes precedence over the
// committed row: while a report is in flight the synthesized state is the
// truth the UI must show.
func (c *Client) Assignment(ctx context.Context, subjectID int64) (*wanikani.Assignment, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT data FROM pending_progress WHERE subject_id = ?`, subjectID).Scan(&data)
	switch {
	case err == nil:
		var p wanikani.Progress
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode pending progress: %w", err)
		}
		return p.Assignment(), nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to query pending progress: %w", err)
	}

	err = c.db.QueryRowContext(ctx,
		`SELECT data FROM assignments WHERE subject_id = ?`, subjectID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query assignment: %w", err)
	}
	var a wanikani.Assignment
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode assignment: %w", err)
	}
	return &a, nil
}

// StudyMaterial returns the study material for one subject, or nil.
func (c *Client) StudyMaterial(ctx context.Context, subjectID int64) (*wanikani.StudyMaterial, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT data FROM study_materials WHERE subject_id = ?`, subjectID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query study material: %w", err)
	}
	var m wanikani.StudyMaterial
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode study material: %w", err)
	}
	return &m, nil
}

// LevelProgressions returns the full level history, lowest level first.
func (c *Client) LevelProgressions(ctx context.Context) ([]wanikani.LevelProgression, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT data FROM level_progressions ORDER BY level`)
	if err != nil {
		return nil, fmt.Errorf("failed to query level progressions: %w", err)
	}
	defer rows.Close()

	var progressions []wanikani.LevelProgression
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan level progression: %w", err)
		}
		var p wanikani.LevelProgression
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode level progression: %w", err)
		}
		progressions = append(progressions, p)
	}
	return progressions, rows.Err()
}

// User returns the singleton user record, or nil before the first sync.
func (c *Client) User(ctx context.Context) (*wanikani.User, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx, `SELECT data FROM user WHERE id = 0`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	var u wanikani.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &u, nil
}
