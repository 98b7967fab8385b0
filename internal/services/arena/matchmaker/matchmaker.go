// Package matchmaker groups compatible entrants into seven-seat matches, one
// independent queue per rating division. Skill parity yields to starvation
// avoidance as entries age.
package matchmaker

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/louisbranch/quorum.games/internal/services/arena/domain/match"
	"github.com/louisbranch/quorum.games/internal/services/arena/scheduler"
	"github.com/louisbranch/quorum.games/internal/services/arena/storage"
)

// Submitter hands a formed group to the match scheduler.
type Submitter interface {
	Submit(ctx context.Context, sub scheduler.Submission) (string, error)
}

// Config tunes the matching policy. Zero fields take defaults.
type Config struct {
	// Interval is the matching cycle period per division.
	Interval time.Duration
	// InitialWindow is the allowed rating distance for a fresh anchor.
	InitialWindow int
	// WindowGrowth widens the window per second of anchor wait.
	WindowGrowth int
	// MaxWindow caps the window regardless of wait.
	MaxWindow int
	// ForceTimeout is the anchor wait after which a group is forced from the
	// longest-waiting entries, ignoring the window. Entries waiting past
	// twice this are purged.
	ForceTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.InitialWindow <= 0 {
		c.InitialWindow = 50
	}
	if c.WindowGrowth <= 0 {
		c.WindowGrowth = 5
	}
	if c.MaxWindow <= 0 {
		c.MaxWindow = 400
	}
	if c.ForceTimeout <= 0 {
		c.ForceTimeout = 2 * time.Minute
	}
	return c
}

// Entry is one waiting entrant.
type Entry struct {
	UserID     string
	AgentID    string
	Rating     int
	EnqueuedAt time.Time
}

// division is one rating pool with its own exclusion domain and cycle loop.
type division struct {
	id string

	mu      sync.Mutex
	entries []Entry

	loopMu  sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

// Matchmaker owns the per-division queues.
type Matchmaker struct {
	submitter Submitter
	ratings   storage.RatingStore
	cfg       Config
	now       func() time.Time

	mu        sync.Mutex
	divisions map[string]*division
}

// New creates a matchmaker. A nil now uses the wall clock.
func New(submitter Submitter, ratings storage.RatingStore, cfg Config, now func() time.Time) *Matchmaker {
	if now == nil {
		now = time.Now
	}
	return &Matchmaker{
		submitter: submitter,
		ratings:   ratings,
		cfg:       cfg.withDefaults(),
		now:       now,
		divisions: make(map[string]*division),
	}
}

func (m *Matchmaker) division(divisionID string) *division {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.divisions[divisionID]
	if !ok {
		d = &division{id: divisionID}
		m.divisions[divisionID] = d
	}
	return d
}

// Enqueue adds an entrant to a division queue, or refreshes their agent and
// rating if already waiting. A refresh keeps the original enqueue time so
// waiting seniority is never lost.
func (m *Matchmaker) Enqueue(ctx context.Context, userID, agentID, divisionID string) error {
	rating, err := m.ratings.Rating(ctx, userID, divisionID)
	if err != nil {
		return err
	}

	d := m.division(divisionID)
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.entries {
		if d.entries[i].UserID == userID {
			d.entries[i].AgentID = agentID
			d.entries[i].Rating = rating
			return nil
		}
	}
	d.entries = append(d.entries, Entry{
		UserID:     userID,
		AgentID:    agentID,
		Rating:     rating,
		EnqueuedAt: m.now().UTC(),
	})
	return nil
}

// Dequeue removes an entrant from a division queue. It reports whether the
// entrant was waiting.
func (m *Matchmaker) Dequeue(userID, divisionID string) bool {
	d := m.division(divisionID)
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.entries {
		if d.entries[i].UserID == userID {
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			return true
		}
	}
	return false
}

// QueueLen returns the number of waiting entrants in a division.
func (m *Matchmaker) QueueLen(divisionID string) int {
	d := m.division(divisionID)
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Start launches a division's periodic matching loop. Starting a running
// division is a no-op.
func (m *Matchmaker) Start(divisionID string) {
	d := m.division(divisionID)
	d.loopMu.Lock()
	defer d.loopMu.Unlock()
	if d.stop != nil {
		return
	}
	d.stop = make(chan struct{})
	d.stopped = make(chan struct{})

	go func(stop, stopped chan struct{}) {
		defer close(stopped)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.Cycle(context.Background(), divisionID)
			}
		}
	}(d.stop, d.stopped)
}

// Stop halts a division's matching loop. Waiting entries stay queued.
func (m *Matchmaker) Stop(divisionID string) {
	d := m.division(divisionID)
	d.loopMu.Lock()
	defer d.loopMu.Unlock()
	if d.stop == nil {
		return
	}
	close(d.stop)
	<-d.stopped
	d.stop = nil
	d.stopped = nil
}

// StopAll halts every division loop and clears all queues. Used on process
// shutdown so a restart never resumes stale state.
func (m *Matchmaker) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.divisions))
	for id := range m.divisions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Stop(id)
		d := m.division(id)
		d.mu.Lock()
		d.entries = nil
		d.mu.Unlock()
	}
}

// Cycle runs one matching pass for a division and returns the number of
// matches formed. The periodic loop calls it on every tick.
func (m *Matchmaker) Cycle(ctx context.Context, divisionID string) int {
	d := m.division(divisionID)
	now := m.now().UTC()

	d.mu.Lock()
	m.purgeLocked(d, now)
	var groups [][]Entry
	for {
		group := m.collectLocked(d, now)
		if group == nil {
			break
		}
		groups = append(groups, group)
	}
	d.mu.Unlock()

	formed := 0
	for _, group := range groups {
		if m.submitGroup(ctx, d, group) {
			formed++
		}
	}
	return formed
}

// purgeLocked drops entries waiting past twice the force timeout.
func (m *Matchmaker) purgeLocked(d *division, now time.Time) {
	cutoff := now.Add(-2 * m.cfg.ForceTimeout)
	kept := d.entries[:0]
	for _, e := range d.entries {
		if e.EnqueuedAt.After(cutoff) {
			kept = append(kept, e)
		} else {
			log.Printf("division %s: purging stale entrant %s after %s", d.id, e.UserID, now.Sub(e.EnqueuedAt))
		}
	}
	d.entries = kept
}

// collectLocked forms one group around the longest-waiting anchor, or nil if
// none can be formed this cycle. Anchors are strictly oldest-first: when the
// oldest anchor cannot fill a group, younger anchors do not jump the line.
func (m *Matchmaker) collectLocked(d *division, now time.Time) []Entry {
	if len(d.entries) < match.NumSeats {
		return nil
	}
	sort.SliceStable(d.entries, func(i, j int) bool {
		return d.entries[i].EnqueuedAt.Before(d.entries[j].EnqueuedAt)
	})

	anchor := d.entries[0]
	wait := now.Sub(anchor.EnqueuedAt)

	if wait >= m.cfg.ForceTimeout {
		// Starvation override: take the seven longest-waiting entries.
		group := append([]Entry{}, d.entries[:match.NumSeats]...)
		d.entries = append(d.entries[:0], d.entries[match.NumSeats:]...)
		return group
	}

	window := m.windowFor(wait)
	group := []Entry{anchor}
	picked := map[int]bool{0: true}
	for i := 1; i < len(d.entries) && len(group) < match.NumSeats; i++ {
		if abs(d.entries[i].Rating-anchor.Rating) <= window {
			group = append(group, d.entries[i])
			picked[i] = true
		}
	}
	if len(group) < match.NumSeats {
		return nil
	}

	kept := d.entries[:0]
	for i, e := range d.entries {
		if !picked[i] {
			kept = append(kept, e)
		}
	}
	d.entries = kept
	return group
}

// windowFor returns the allowed rating distance for an anchor wait. It is
// non-decreasing in the wait and never exceeds the cap.
func (m *Matchmaker) windowFor(wait time.Duration) int {
	window := m.cfg.InitialWindow + m.cfg.WindowGrowth*int(wait/time.Second)
	if window > m.cfg.MaxWindow {
		window = m.cfg.MaxWindow
	}
	return window
}

// submitGroup hands one formed group to the scheduler. On a rejected
// submission the entries rejoin the queue with their seniority intact.
func (m *Matchmaker) submitGroup(ctx context.Context, d *division, group []Entry) bool {
	seats := make([]match.Seat, len(group))
	for i, e := range group {
		seats[i] = match.Seat{Index: i, UserID: e.UserID, AgentID: e.AgentID, Rating: e.Rating}
	}

	matchID, err := m.submitter.Submit(ctx, scheduler.Submission{DivisionID: d.id, Seats: seats})
	if err != nil {
		log.Printf("division %s: submit group: %v", d.id, err)
		d.mu.Lock()
		d.entries = append(d.entries, group...)
		d.mu.Unlock()
		return false
	}
	log.Printf("division %s: match %s formed", d.id, matchID)
	return true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
