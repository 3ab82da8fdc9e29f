// Copyright 2026 The Tsurukame Authors
// SPDX-License-Identifier: Apache-2.0

package localcache

import "sync"

// SyncProgress tracks a sync pass as weighted units of work. The
// assignments fetch carries most of the weight because it is typically the
// largest and slowest resource. A sync pass always finishes the sink:
// completed equals total even when the pass failed.
type SyncProgress struct {
	mu        sync.Mutex
	total     int
	completed int
	onChange  func(completed, total int)
}

// NewSyncProgress creates a sink. onChange may be nil; when set it is
// called with the sink locked, so it must not call back into the sink.
func NewSyncProgress(onChange func(completed, total int)) *SyncProgress {
	return &SyncProgress{onChange: onChange}
}

// Completed returns the units finished so far.
func (p *SyncProgress) Completed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// Total returns the units planned for the pass.
func (p *SyncProgress) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

func (p *SyncProgress) changed() {
	if p.onChange != nil {
		p.onChange(p.completed, p.total)
	}
}

// unit reserves weight units of the pass for one operation.
func (p *SyncProgress) unit(weight int) *progressUnit {
	p.mu.Lock()
	p.total += weight
	p.changed()
	p.mu.Unlock()
	return &progressUnit{progress: p, weight: weight}
}

// finish forces the sink to completion.
func (p *SyncProgress) finish() {
	p.mu.Lock()
	if p.completed != p.total {
		p.completed = p.total
		p.changed()
	}
	p.mu.Unlock()
}

// progressUnit is one operation's share of the sink. It satisfies
// wanikani.ProgressHandle so gateway implementations can report transfer
// progress inside their allotted weight; finish tops up whatever the
// operation did not report itself.
type progressUnit struct {
	progress *SyncProgress
	mu       sync.Mutex
	weight   int
	used     int
}

// Advance reports n more units of this operation's work, clamped to the
// unit's weight.
func (u *progressUnit) Advance(n int) {
	if n <= 0 {
		return
	}
	u.mu.Lock()
	if u.used+n > u.weight {
		n = u.weight - u.used
	}
	u.used += n
	u.mu.Unlock()
	if n == 0 {
		return
	}
	u.progress.mu.Lock()
	u.progress.completed += n
	u.progress.changed()
	u.progress.mu.Unlock()
}

func (u *progressUnit) finish() {
	u.mu.Lock()
	remaining := u.weight - u.used
	u.mu.Unlock()
	u.Advance(remaining)
}
