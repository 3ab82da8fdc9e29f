// Copyright 2026 The Tsurukame Authors
// SPDX-License-Identifier: Apache-2.0

// Package wanikani holds the domain model shared by the local cache and its
// external collaborators: subjects, SRS stage math, the record types the
// store persists, and the gateway/catalogue boundaries.
package wanikani

// SubjectKind identifies the curriculum item type of a subject.
type SubjectKind int

const (
	SubjectRadical SubjectKind = iota + 1
	SubjectKanji
	SubjectVocabulary
)

func (k SubjectKind) String() string {
	switch k {
	case SubjectRadical:
		return "radical"
	case SubjectKanji:
		return "kanji"
	case SubjectVocabulary:
		return "vocabulary"
	default:
		return "unknown"
	}
}

// SubjectRef pairs a subject id with its kind, used when the catalogue
// enumerates a level's curriculum.
type SubjectRef struct {
	ID   int64
	Kind SubjectKind
}

// LevelSubjects lists the subject ids that make up one level, by kind.
type LevelSubjects struct {
	RadicalIDs    []int64
	KanjiIDs      []int64
	VocabularyIDs []int64
}

// All flattens the level's subjects into refs, radicals first.
func (s LevelSubjects) All() []SubjectRef {
	refs := make([]SubjectRef, 0, len(s.RadicalIDs)+len(s.KanjiIDs)+len(s.VocabularyIDs))
	for _, id := range s.RadicalIDs {
		refs = append(refs, SubjectRef{ID: id, Kind: SubjectRadical})
	}
	for _, id := range s.KanjiIDs {
		refs = append(refs, SubjectRef{ID: id, Kind: SubjectKanji})
	}
	for _, id := range s.VocabularyIDs {
		refs = append(refs, SubjectRef{ID: id, Kind: SubjectVocabulary})
	}
	return refs
}

// Catalogue is the in-memory store of immutable curriculum metadata. It is
// implemented elsewhere; the local cache only consumes it.
type Catalogue interface {
	// IsValidSubject reports whether the subject id is currently part of the
	// curriculum.
	IsValidSubject(id int64) bool

	// SubjectsAtLevel lists the subject ids taught at the given level.
	SubjectsAtLevel(level int) LevelSubjects

	// DeletedSubjectIDs lists subjects that were removed from the curriculum
	// and whose local rows must be purged.
	DeletedSubjectIDs() []int64
}
