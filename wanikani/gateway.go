// Copyright 2026 The Tsurukame Authors
// SPDX-License-Identifier: Apache-2.0

package wanikani

import "context"

// ProgressHandle receives incremental progress while a gateway operation
// transfers data. Implementations must be safe for concurrent use.
type ProgressHandle interface {
	Advance(units int)
}

// Gateway is the remote service boundary. Fetches are incremental: given
// the last "updated after" cursor they return the changed records plus the
// cursor to use next time. Implementations perform the actual network
// calls; the local cache only consumes this interface.
//
// Push operations report permanent rejection of a progress item with an
// *Error of kind ErrorKindUnprocessable; any other error is treated as a
// transient failure and the item stays queued.
type Gateway interface {
	Assignments(ctx context.Context, updatedAfter string, prog ProgressHandle) ([]Assignment, string, error)
	StudyMaterials(ctx context.Context, updatedAfter string, prog ProgressHandle) ([]StudyMaterial, string, error)
	User(ctx context.Context, prog ProgressHandle) (*User, error)
	LevelProgressions(ctx context.Context, prog ProgressHandle) ([]LevelProgression, error)

	SendProgress(ctx context.Context, p *Progress, prog ProgressHandle) error
	UpdateStudyMaterial(ctx context.Context, m *StudyMaterial, prog ProgressHandle) error
}
