// Copyright 2026 The Tsurukame Authors
// SPDX-License-Identifier: Apache-2.0

package localcache

import "sync"

// Event identifies a change notification published by the cache.
type Event int

const (
	EventPendingProgressCount Event = iota
	EventPendingStudyMaterialsCount
	EventAvailableSubjects
	EventSRSCategoryCounts
	EventGuruKanjiCount

	// EventUserChanged fires after a successful sync replaces the user
	// record.
	EventUserChanged

	// EventUnauthorized fires when the remote service rejects our
	// credentials; the application should prompt for re-authentication.
	EventUnauthorized
)

// Hub fans change notifications out to subscribers. The cache guarantees
// only that a notification is delivered after the invalidating transaction
// commits; delivery is asynchronous and subscribers choose their own
// execution context.
type Hub struct {
	mu   sync.Mutex
	subs map[Event][]func()
}

func newHub() *Hub {
	return &Hub{subs: make(map[Event][]func())}
}

// Subscribe registers fn for event. Subscribers must not block for long;
// each notification runs on its own goroutine.
func (h *Hub) Subscribe(event Event, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[event] = append(h.subs[event], fn)
}

func (h *Hub) notify(event Event) {
	h.mu.Lock()
	fns := make([]func(), len(h.subs[event]))
	copy(fns, h.subs[event])
	h.mu.Unlock()

	for _, fn := range fns {
		go fn()
	}
}
