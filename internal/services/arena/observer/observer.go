// Package observer buffers per-match events for a polling visualization
// consumer. The buffer is append-only; Drain hands every entry to the caller
// exactly once.
package observer

import (
	"encoding/json"
	"sync"
	"time"
)

// Kind classifies an observable match event.
type Kind string

const (
	KindRolesAssigned Kind = "roles_assigned"
	KindBoard         Kind = "board"
	KindRoundStarted  Kind = "round_started"
	KindProposal      Kind = "proposal"
	KindSpeech        Kind = "speech"
	KindMovement      Kind = "movement"
	KindVote          Kind = "vote"
	KindMission       Kind = "mission"
	KindAssassination Kind = "assassination"
	KindResult        Kind = "result"
	KindAborted       Kind = "aborted"
)

// Snapshot is one timestamped observable event.
type Snapshot struct {
	MatchID   string          `json:"match_id"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Observer is a lock-protected per-match event buffer. The referee appends
// while a visualizer drains concurrently; within one match entries keep
// emission order.
type Observer struct {
	mu      sync.Mutex
	matchID string
	clock   func() time.Time
	entries []Snapshot
}

// New creates an observer for one match.
func New(matchID string) *Observer {
	return &Observer{matchID: matchID, clock: time.Now}
}

// Append buffers one event. The payload is marshalled to JSON; payloads are
// engine-owned structs so a marshal failure is recorded as a null payload
// rather than dropping the event.
func (o *Observer) Append(kind Kind, payload any) {
	var raw json.RawMessage
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			raw = data
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, Snapshot{
		MatchID:   o.matchID,
		Timestamp: o.clock().UTC(),
		Kind:      kind,
		Payload:   raw,
	})
}

// Drain atomically returns all buffered entries and clears the buffer. Each
// entry is delivered to a consumer exactly once; entries appended after the
// call are kept for the next drain.
func (o *Observer) Drain() []Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	entries := o.entries
	o.entries = nil
	return entries
}

// Len returns the number of buffered entries.
func (o *Observer) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}
