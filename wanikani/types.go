// Copyright 2026 The Tsurukame Authors
// SPDX-License-Identifier: Apache-2.0

package wanikani

import "time"

// Assignment is the user's current scheduling state for one subject. Rows
// are replaced wholesale whenever a fresher copy arrives from the remote
// service; they are never merged field by field.
type Assignment struct {
	SubjectID   int64       `json:"subject_id"`
	Level       int         `json:"level"`
	SubjectKind SubjectKind `json:"subject_kind"`
	SRSStage    int         `json:"srs_stage"`

	// AvailableAt is when the subject's lesson (stage 0) or next review
	// (stage >= 1) becomes available. Nil means locked or burned.
	AvailableAt *time.Time `json:"available_at,omitempty"`
}

// IsLessonAvailable reports whether the assignment is an unlocked lesson
// that has not been started yet.
func (a *Assignment) IsLessonAvailable() bool {
	return a.SRSStage == StageUnstarted && a.AvailableAt != nil
}

// IsReviewStage reports whether the assignment is in the review pipeline.
func (a *Assignment) IsReviewStage() bool {
	return a.SRSStage >= 1 && a.SRSStage < StageBurned && a.AvailableAt != nil
}

// Progress is one locally recorded, not yet acknowledged lesson or review
// completion. It carries everything needed to rebuild SubjectProgress and a
// synthetic assignment while the event is in flight.
type Progress struct {
	SubjectID    int64       `json:"subject_id"`
	Level        int         `json:"level"`
	SubjectKind  SubjectKind `json:"subject_kind"`
	IsLesson     bool        `json:"is_lesson"`
	MeaningWrong bool        `json:"meaning_wrong"`
	ReadingWrong bool        `json:"reading_wrong"`

	// SRSStage is the stage after applying this event, assigned by the queue
	// when the event is recorded.
	SRSStage  int       `json:"srs_stage"`
	CreatedAt time.Time `json:"created_at"`
}

// AnyWrong reports whether any answer in the review was wrong.
func (p *Progress) AnyWrong() bool {
	return p.MeaningWrong || p.ReadingWrong
}

// Assignment synthesizes the assignment implied by this pending event. A
// pending event supersedes the committed row, so reads use this until the
// remote service acknowledges the report.
func (p *Progress) Assignment() *Assignment {
	return &Assignment{
		SubjectID:   p.SubjectID,
		Level:       p.Level,
		SubjectKind: p.SubjectKind,
		SRSStage:    p.SRSStage,
	}
}

// StudyMaterial holds the user's own annotations for a subject.
type StudyMaterial struct {
	SubjectID       int64    `json:"subject_id"`
	MeaningSynonyms []string `json:"meaning_synonyms,omitempty"`
	MeaningNote     string   `json:"meaning_note,omitempty"`
	ReadingNote     string   `json:"reading_note,omitempty"`
}

// User is the singleton account record, replaced wholesale on each fetch.
type User struct {
	Username             string `json:"username"`
	Level                int    `json:"level"`
	MaxLevelSubscription int    `json:"max_level_granted_by_subscription"`
}

// EffectiveLevel is the level usable for availability checks: the user's
// level capped by their subscription.
func (u *User) EffectiveLevel() int {
	if u.MaxLevelSubscription > 0 && u.Level > u.MaxLevelSubscription {
		return u.MaxLevelSubscription
	}
	return u.Level
}

// LevelProgression records when one level was started and completed.
type LevelProgression struct {
	Level       int        `json:"level"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	PassedAt    *time.Time `json:"passed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	AbandonedAt *time.Time `json:"abandoned_at,omitempty"`
}
