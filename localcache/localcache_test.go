// Copyright 2026 The Tsurukame Authors
// SPDX-License-Identifier: Apache-2.0

package localcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/realericmc/tsurukame/wanikani"
)

var errSentinel = errors.New("sentinel failure")

// fakeCatalogue is a canned curriculum. Zero value treats every subject as
// valid and every level as empty.
type fakeCatalogue struct {
	invalid map[int64]bool
	levels  map[int]wanikani.LevelSubjects
	deleted []int64
}

func (f *fakeCatalogue) IsValidSubject(id int64) bool {
	return !f.invalid[id]
}

func (f *fakeCatalogue) SubjectsAtLevel(level int) wanikani.LevelSubjects {
	return f.levels[level]
}

func (f *fakeCatalogue) DeletedSubjectIDs() []int64 {
	return f.deleted
}

// fakeGateway is a scripted remote service for exercising the sync paths
// without a network.
type fakeGateway struct {
	mu sync.Mutex

	assignments       []wanikani.Assignment
	assignmentsCursor string
	assignmentsErr    error
	assignmentsCalls  []string
	assignmentsBlock  chan struct{} // when set, Assignments waits on it

	materials       []wanikani.StudyMaterial
	materialsCursor string
	materialsErr    error
	materialsCalls  []string

	user    *wanikani.User
	userErr error

	progressions    []wanikani.LevelProgression
	progressionsErr error

	sendProgressErr error
	sentProgress    []wanikani.Progress

	updateMaterialErr error
	sentMaterials     []wanikani.StudyMaterial
}

func (f *fakeGateway) Assignments(ctx context.Context, updatedAfter string, prog wanikani.ProgressHandle) ([]wanikani.Assignment, string, error) {
	f.mu.Lock()
	f.assignmentsCalls = append(f.assignmentsCalls, updatedAfter)
	block := f.assignmentsBlock
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assignmentsErr != nil {
		return nil, "", f.assignmentsErr
	}
	return f.assignments, f.assignmentsCursor, nil
}

func (f *fakeGateway) StudyMaterials(ctx context.Context, updatedAfter string, prog wanikani.ProgressHandle) ([]wanikani.StudyMaterial, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.materialsCalls = append(f.materialsCalls, updatedAfter)
	if f.materialsErr != nil {
		return nil, "", f.materialsErr
	}
	return f.materials, f.materialsCursor, nil
}

func (f *fakeGateway) User(ctx context.Context, prog wanikani.ProgressHandle) (*wanikani.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userErr != nil {
		return nil, f.userErr
	}
	if f.user != nil {
		return f.user, nil
	}
	return &wanikani.User{Username: "koichi", Level: 60, MaxLevelSubscription: 60}, nil
}

func (f *fakeGateway) LevelProgressions(ctx context.Context, prog wanikani.ProgressHandle) ([]wanikani.LevelProgression, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.progressionsErr != nil {
		return nil, f.progressionsErr
	}
	return f.progressions, nil
}

func (f *fakeGateway) SendProgress(ctx context.Context, p *wanikani.Progress, prog wanikani.ProgressHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendProgressErr != nil {
		return f.sendProgressErr
	}
	f.sentProgress = append(f.sentProgress, *p)
	return nil
}

func (f *fakeGateway) UpdateStudyMaterial(ctx context.Context, m *wanikani.StudyMaterial, prog wanikani.ProgressHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateMaterialErr != nil {
		return f.updateMaterialErr
	}
	f.sentMaterials = append(f.sentMaterials, *m)
	return nil
}

func (f *fakeGateway) progressCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sentProgress)
}

func (f *fakeGateway) setSendProgressErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendProgressErr = err
}

func (f *fakeGateway) assignmentsCallCursors() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.assignmentsCalls...)
}

func newTestClient(t *testing.T, gateway *fakeGateway, catalogue *fakeCatalogue) *Client {
	t.Helper()
	if gateway == nil {
		gateway = &fakeGateway{}
	}
	if catalogue == nil {
		catalogue = &fakeCatalogue{}
	}
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	client, err := New(context.Background(), db, gateway, catalogue, nil)
	require.NoError(t, err)
	return client
}

// insertAssignment writes a committed assignment row directly, bypassing
// the gateway, the way fetch-and-merge would store it.
func insertAssignment(t *testing.T, c *Client, a wanikani.Assignment) {
	t.Helper()
	data, err := json.Marshal(&a)
	require.NoError(t, err)
	var availableAt *int64
	if a.AvailableAt != nil {
		unix := a.AvailableAt.Unix()
		availableAt = &unix
	}
	_, err = c.db.Exec(`
		INSERT INTO assignments (subject_id, level, subject_kind, srs_stage, available_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject_id) DO UPDATE SET level = excluded.level,
			subject_kind = excluded.subject_kind, srs_stage = excluded.srs_stage,
			available_at = excluded.available_at, data = excluded.data
	`, a.SubjectID, a.Level, int(a.SubjectKind), a.SRSStage, availableAt, data)
	require.NoError(t, err)
	_, err = c.db.Exec(`
		INSERT INTO subject_progress (subject_id, level, srs_stage, subject_kind)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(subject_id) DO UPDATE SET level = excluded.level,
			srs_stage = excluded.srs_stage, subject_kind = excluded.subject_kind
	`, a.SubjectID, a.Level, a.SRSStage, int(a.SubjectKind))
	require.NoError(t, err)
	c.invalidateProgressAggregates()
}

func insertUser(t *testing.T, c *Client, u wanikani.User) {
	t.Helper()
	data, err := json.Marshal(&u)
	require.NoError(t, err)
	_, err = c.db.Exec(`
		INSERT INTO user (id, level, data) VALUES (0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET level = excluded.level, data = excluded.data
	`, u.Level, data)
	require.NoError(t, err)
	c.invalidate(c.availableSubjects, EventAvailableSubjects)
}

func tableCount(t *testing.T, c *Client, table string) int {
	t.Helper()
	var count int
	require.NoError(t, c.db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&count))
	return count
}

func timePtr(t time.Time) *time.Time { return &t }
