// Copyright 2026 The Tsurukame Authors
// SPDX-License-Identifier: Apache-2.0

package localcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/realericmc/tsurukame/wanikani"
)

// cachedValue memoizes one derived aggregate. Reads recompute synchronously
// when stale; invalidation only marks the value stale, it never recomputes
// eagerly.
type cachedValue[T any] struct {
	mu      sync.Mutex
	valid   bool
	value   T
	compute func(ctx context.Context) (T, error)
}

func newCachedValue[T any](compute func(ctx context.Context) (T, error)) *cachedValue[T] {
	return &cachedValue[T]{compute: compute}
}

func (v *cachedValue[T]) get(ctx context.Context) (T, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.valid {
		return v.value, nil
	}
	value, err := v.compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	v.value = value
	v.valid = true
	return value, nil
}

func (v *cachedValue[T]) invalidate() {
	v.mu.Lock()
	v.valid = false
	v.mu.Unlock()
}

// invalidator is the common surface invalidate() needs across value types.
type invalidator interface {
	invalidate()
}

// invalidate marks the aggregate stale and publishes its change event.
// Callers invoke this only after the invalidating transaction committed.
func (c *Client) invalidate(v invalidator, event Event) {
	v.invalidate()
	c.events.notify(event)
}

// upcomingReviewBuckets is the size of the hourly upcoming-review
// histogram. Only reviews due inside upcomingReviewWindow are bucketed;
// anything further out is dropped from the histogram entirely.
const (
	upcomingReviewBuckets = 48
	upcomingReviewWindow  = 24 * time.Hour
)

// AvailableSubjects is the lesson/review availability snapshot.
type AvailableSubjects struct {
	Lessons int
	Reviews int

	// UpcomingReviews bucket0 covers reviews due within the next hour,
	// bucket1 the hour after, and so on.
	UpcomingReviews [upcomingReviewBuckets]int
}

func (c *Client) initAggregates() {
	c.pendingProgressCount = newCachedValue(func(ctx context.Context) (int, error) {
		return c.countRows(ctx, "pending_progress")
	})
	c.pendingStudyMaterialsCount = newCachedValue(func(ctx context.Context) (int, error) {
		return c.countRows(ctx, "pending_study_materials")
	})
	c.availableSubjects = newCachedValue(c.computeAvailableSubjects)
	c.guruKanjiCount = newCachedValue(c.computeGuruKanjiCount)
	c.srsCategoryCounts = newCachedValue(c.computeSRSCategoryCounts)
}

// PendingProgressCount is the number of progress events awaiting push.
func (c *Client) PendingProgressCount(ctx context.Context) (int, error) {
	return c.pendingProgressCount.get(ctx)
}

// PendingStudyMaterialsCount is the number of study materials awaiting push.
func (c *Client) PendingStudyMaterialsCount(ctx context.Context) (int, error) {
	return c.pendingStudyMaterialsCount.get(ctx)
}

// AvailableSubjects returns the current lesson and review availability.
func (c *Client) AvailableSubjects(ctx context.Context) (AvailableSubjects, error) {
	return c.availableSubjects.get(ctx)
}

// GuruKanjiCount counts kanji at or above the guru stage.
func (c *Client) GuruKanjiCount(ctx context.Context) (int, error) {
	return c.guruKanjiCount.get(ctx)
}

// SRSCategoryCounts is a histogram of subjects per SRS category. Only
// stages >= 1 are counted; the initiate bucket stays zero.
func (c *Client) SRSCategoryCounts(ctx context.Context) ([wanikani.NumSRSCategories]int, error) {
	return c.srsCategoryCounts.get(ctx)
}

func (c *Client) countRows(ctx context.Context, table string) (int, error) {
	var count int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, nil
}

func (c *Client) computeAvailableSubjects(ctx context.Context) (AvailableSubjects, error) {
	var result AvailableSubjects

	user, err := c.User(ctx)
	if err != nil {
		return result, err
	}
	maxLevel := 0
	if user != nil {
		maxLevel = user.EffectiveLevel()
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT subject_id, level, srs_stage, available_at FROM assignments
	`)
	if err != nil {
		return result, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	now := c.now()
	for rows.Next() {
		var subjectID int64
		var level, stage int
		var availableAt *int64
		if err := rows.Scan(&subjectID, &level, &stage, &availableAt); err != nil {
			return result, fmt.Errorf("failed to scan assignment: %w", err)
		}

		// Subjects dropped from the catalogue, or moved above the user's
		// level, must not count as available: the remote service rejects
		// their progress reports, so counting them would make the same
		// reviews reappear forever.
		if c.catalogue != nil && !c.catalogue.IsValidSubject(subjectID) {
			continue
		}
		if maxLevel > 0 && level > maxLevel {
			continue
		}
		if availableAt == nil {
			continue
		}
		available := time.Unix(*availableAt, 0)

		if stage == wanikani.StageUnstarted {
			result.Lessons++
			continue
		}
		if stage >= wanikani.StageBurned {
			continue
		}
		if !available.After(now) {
			result.Reviews++
			continue
		}
		until := available.Sub(now)
		if until < upcomingReviewWindow {
			result.UpcomingReviews[int(until/time.Hour)]++
		}
	}
	return result, rows.Err()
}

func (c *Client) computeGuruKanjiCount(ctx context.Context) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM subject_progress WHERE subject_kind = ? AND srs_stage >= ?
	`, int(wanikani.SubjectKanji), wanikani.StageGuru).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count guru kanji: %w", err)
	}
	return count, nil
}

func (c *Client) computeSRSCategoryCounts(ctx context.Context) ([wanikani.NumSRSCategories]int, error) {
	var counts [wanikani.NumSRSCategories]int
	rows, err := c.db.QueryContext(ctx, `
		SELECT srs_stage, COUNT(*) FROM subject_progress WHERE srs_stage >= 1 GROUP BY srs_stage
	`)
	if err != nil {
		return counts, fmt.Errorf("failed to query subject progress: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var stage, count int
		if err := rows.Scan(&stage, &count); err != nil {
			return counts, fmt.Errorf("failed to scan stage count: %w", err)
		}
		counts[wanikani.CategoryForStage(stage)] += count
	}
	return counts, rows.Err()
}

// invalidateProgressAggregates marks every aggregate affected by a write to
// assignments, pending progress or subject progress.
func (c *Client) invalidateProgressAggregates() {
	c.invalidate(c.pendingProgressCount, EventPendingProgressCount)
	c.invalidate(c.availableSubjects, EventAvailableSubjects)
	c.invalidate(c.srsCategoryCounts, EventSRSCategoryCounts)
	c.invalidate(c.guruKanjiCount, EventGuruKanjiCount)
}
