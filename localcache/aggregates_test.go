// Copyright 2026 The Tsurukame Authors
// SPDX-License-Identifier: Apache-2.0

package localcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/realericmc/tsurukame/wanikani"
)

func TestAvailableSubjectsLessonsAndReviews(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, nil, nil)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	insertUser(t, c, wanikani.User{Username: "a", Level: 10, MaxLevelSubscription: 60})

	// Unlocked lesson.
	insertAssignment(t, c, wanikani.Assignment{
		SubjectID: 1, Level: 1, SubjectKind: wanikani.SubjectRadical,
		SRSStage: 0, AvailableAt: timePtr(now.Add(-time.Hour)),
	})
	// Review due now.
	insertAssignment(t, c, wanikani.Assignment{
		SubjectID: 2, Level: 2, SubjectKind: wanikani.SubjectKanji,
		SRSStage: 3, AvailableAt: timePtr(now.Add(-time.Minute)),
	})
	// Review due in 30 minutes: upcoming bucket 0, not yet a review.
	insertAssignment(t, c, wanikani.Assignment{
		SubjectID: 3, Level: 2, SubjectKind: wanikani.SubjectKanji,
		SRSStage: 4, AvailableAt: timePtr(now.Add(30 * time.Minute)),
	})
	// Review due in 25 hours: out of histogram range, silently dropped.
	insertAssignment(t, c, wanikani.Assignment{
		SubjectID: 4, Level: 3, SubjectKind: wanikani.SubjectVocabulary,
		SRSStage: 5, AvailableAt: timePtr(now.Add(25 * time.Hour)),
	})
	// Locked: no availability timestamp.
	insertAssignment(t, c, wanikani.Assignment{
		SubjectID: 5, Level: 3, SubjectKind: wanikani.SubjectVocabulary, SRSStage: 0,
	})
	// Burned items never come back as reviews.
	insertAssignment(t, c, wanikani.Assignment{
		SubjectID: 6, Level: 1, SubjectKind: wanikani.SubjectRadical,
		SRSStage: 9, AvailableAt: timePtr(now.Add(-time.Hour)),
	})

	available, err := c.AvailableSubjects(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, available.Lessons)
	require.Equal(t, 1, available.Reviews)

	require.Len(t, available.UpcomingReviews, 48)
	require.Equal(t, 1, available.UpcomingReviews[0])
	total := 0
	for _, n := range available.UpcomingReviews {
		total += n
	}
	require.Equal(t, 1, total)
}

func TestAvailableSubjectsExcludesInvalidAndAboveLevel(t *testing.T) {
	ctx := context.Background()
	cat := &fakeCatalogue{invalid: map[int64]bool{11: true}}
	c := newTestClient(t, nil, cat)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	insertUser(t, c, wanikani.User{Username: "a", Level: 5, MaxLevelSubscription: 60})

	// Removed from the catalogue: due review, but must not count.
	insertAssignment(t, c, wanikani.Assignment{
		SubjectID: 11, Level: 2, SubjectKind: wanikani.SubjectKanji,
		SRSStage: 2, AvailableAt: timePtr(now.Add(-time.Hour)),
	})
	// Moved above the user's level after being assigned: the remote side
	// rejects its reports, so locally it must stop counting.
	insertAssignment(t, c, wanikani.Assignment{
		SubjectID: 12, Level: 6, SubjectKind: wanikani.SubjectKanji,
		SRSStage: 2, AvailableAt: timePtr(now.Add(-time.Hour)),
	})
	// Within level and valid.
	insertAssignment(t, c, wanikani.Assignment{
		SubjectID: 13, Level: 5, SubjectKind: wanikani.SubjectKanji,
		SRSStage: 2, AvailableAt: timePtr(now.Add(-time.Hour)),
	})

	available, err := c.AvailableSubjects(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, available.Reviews)
	require.Equal(t, 0, available.Lessons)
}

func TestAvailableSubjectsSubscriptionCapsLevel(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, nil, nil)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	// Free subscription capped at level 3 even though the user reached 10.
	insertUser(t, c, wanikani.User{Username: "a", Level: 10, MaxLevelSubscription: 3})

	insertAssignment(t, c, wanikani.Assignment{
		SubjectID: 1, Level: 3, SubjectKind: wanikani.SubjectKanji,
		SRSStage: 1, AvailableAt: timePtr(now.Add(-time.Hour)),
	})
	insertAssignment(t, c, wanikani.Assignment{
		SubjectID: 2, Level: 4, SubjectKind: wanikani.SubjectKanji,
		SRSStage: 1, AvailableAt: timePtr(now.Add(-time.Hour)),
	})

	available, err := c.AvailableSubjects(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, available.Reviews)
}

func TestGuruKanjiCount(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, nil, nil)

	rows := []struct {
		id    int64
		kind  wanikani.SubjectKind
		stage int
	}{
		{1, wanikani.SubjectKanji, 5},
		{2, wanikani.SubjectKanji, 8},
		{3, wanikani.SubjectKanji, 4},      // below guru
		{4, wanikani.SubjectRadical, 6},    // not kanji
		{5, wanikani.SubjectVocabulary, 9}, // not kanji
	}
	for _, r := range rows {
		insertAssignment(t, c, wanikani.Assignment{
			SubjectID: r.id, Level: 1, SubjectKind: r.kind, SRSStage: r.stage,
		})
	}

	count, err := c.GuruKanjiCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestSRSCategoryCounts(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, nil, nil)

	stages := []int{0, 1, 2, 4, 5, 6, 7, 8, 9, 9}
	for i, stage := range stages {
		insertAssignment(t, c, wanikani.Assignment{
			SubjectID: int64(i + 1), Level: 1, SubjectKind: wanikani.SubjectKanji, SRSStage: stage,
		})
	}

	counts, err := c.SRSCategoryCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, counts[wanikani.CategoryInitiate])
	require.Equal(t, 3, counts[wanikani.CategoryApprentice])
	require.Equal(t, 2, counts[wanikani.CategoryGuru])
	require.Equal(t, 1, counts[wanikani.CategoryMaster])
	require.Equal(t, 1, counts[wanikani.CategoryEnlightened])
	require.Equal(t, 2, counts[wanikani.CategoryBurned])

	// The histogram sums to every subject with stage >= 1.
	sum := 0
	for _, n := range counts {
		sum += n
	}
	var expected int
	require.NoError(t, c.db.QueryRow(
		`SELECT COUNT(*) FROM subject_progress WHERE srs_stage >= 1`).Scan(&expected))
	require.Equal(t, expected, sum)
}

func TestAggregateMemoizationAndInvalidation(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, nil, nil)

	count, err := c.PendingProgressCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	// A direct write without invalidation is not observed: the value is
	// memoized until a writer marks it stale.
	_, err = c.db.Exec(`INSERT INTO pending_progress (subject_id, data) VALUES (1, '{}')`)
	require.NoError(t, err)
	count, err = c.PendingProgressCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	c.invalidate(c.pendingProgressCount, EventPendingProgressCount)
	count, err = c.PendingProgressCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestInvalidationFiresChangeNotification(t *testing.T) {
	c := newTestClient(t, nil, nil)

	fired := make(chan struct{}, 1)
	c.Subscribe(EventAvailableSubjects, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	c.invalidate(c.availableSubjects, EventAvailableSubjects)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expected change notification")
	}
}
