package matchmaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/quorum.games/internal/services/arena/domain/match"
	"github.com/louisbranch/quorum.games/internal/services/arena/scheduler"
	"github.com/louisbranch/quorum.games/internal/services/arena/storage"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	subs []scheduler.Submission
	err  error
}

func (f *fakeSubmitter) Submit(_ context.Context, sub scheduler.Submission) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.subs = append(f.subs, sub)
	return fmt.Sprintf("match-%d", len(f.subs)), nil
}

func (f *fakeSubmitter) submissions() []scheduler.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scheduler.Submission{}, f.subs...)
}

type fakeRatings struct {
	ratings map[string]int
}

func (f *fakeRatings) Rating(_ context.Context, userID, _ string) (int, error) {
	if rating, ok := f.ratings[userID]; ok {
		return rating, nil
	}
	return storage.DefaultRating, nil
}

func (f *fakeRatings) ApplyRatingDeltas(context.Context, string, []storage.RatingDelta) error {
	return nil
}

func (f *fakeRatings) ReverseRatingDeltas(context.Context, string) error {
	return nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func enqueueAll(t *testing.T, m *Matchmaker, division string, ratings map[string]int) {
	t.Helper()
	for user := range ratings {
		if err := m.Enqueue(context.Background(), user, "agent-"+user, division); err != nil {
			t.Fatalf("enqueue %s: %v", user, err)
		}
	}
}

func TestSevenCompatibleEntrantsFormOneMatch(t *testing.T) {
	ratings := map[string]int{
		"u1": 1200, "u2": 1210, "u3": 1190, "u4": 1205, "u5": 1195, "u6": 1215, "u7": 1180,
	}
	sub := &fakeSubmitter{}
	clock := newFakeClock()
	m := New(sub, &fakeRatings{ratings: ratings}, Config{}, clock.Now)

	enqueueAll(t, m, "gold", ratings)
	if formed := m.Cycle(context.Background(), "gold"); formed != 1 {
		t.Fatalf("formed = %d, want 1", formed)
	}
	if got := m.QueueLen("gold"); got != 0 {
		t.Fatalf("queue length = %d, want 0", got)
	}

	subs := sub.submissions()
	if len(subs) != 1 {
		t.Fatalf("submissions = %d", len(subs))
	}
	if subs[0].DivisionID != "gold" || len(subs[0].Seats) != match.NumSeats {
		t.Fatalf("submission = %+v", subs[0])
	}
}

func TestWindowBlocksDistantEntrant(t *testing.T) {
	ratings := map[string]int{
		"u1": 1200, "u2": 1200, "u3": 1200, "u4": 1200, "u5": 1200, "u6": 1200, "outlier": 2000,
	}
	sub := &fakeSubmitter{}
	clock := newFakeClock()
	m := New(sub, &fakeRatings{ratings: ratings}, Config{}, clock.Now)

	enqueueAll(t, m, "gold", ratings)
	if formed := m.Cycle(context.Background(), "gold"); formed != 0 {
		t.Fatal("incompatible pool must not form a match")
	}
	if got := m.QueueLen("gold"); got != 7 {
		t.Fatalf("queue length = %d, want 7", got)
	}
}

func TestWindowGrowsWithWait(t *testing.T) {
	ratings := map[string]int{
		"u1": 1200, "u2": 1200, "u3": 1200, "u4": 1200, "u5": 1200, "u6": 1200, "outlier": 2000,
	}
	sub := &fakeSubmitter{}
	clock := newFakeClock()
	cfg := Config{InitialWindow: 50, WindowGrowth: 10, MaxWindow: 1000, ForceTimeout: 10 * time.Minute}
	m := New(sub, &fakeRatings{ratings: ratings}, cfg, clock.Now)

	enqueueAll(t, m, "gold", ratings)
	if formed := m.Cycle(context.Background(), "gold"); formed != 0 {
		t.Fatal("fresh pool must not match across an 800 point gap")
	}

	// After 80s the window is 50 + 10*80 = 850, covering the outlier.
	clock.Advance(80 * time.Second)
	if formed := m.Cycle(context.Background(), "gold"); formed != 1 {
		t.Fatal("grown window must cover the outlier")
	}
	if got := m.QueueLen("gold"); got != 0 {
		t.Fatalf("queue length = %d, want 0", got)
	}
}

func TestWindowNeverExceedsCap(t *testing.T) {
	ratings := map[string]int{
		"u1": 1200, "u2": 1200, "u3": 1200, "u4": 1200, "u5": 1200, "u6": 1200, "outlier": 1400,
	}
	sub := &fakeSubmitter{}
	clock := newFakeClock()
	cfg := Config{InitialWindow: 50, WindowGrowth: 10, MaxWindow: 100, ForceTimeout: 24 * time.Hour}
	m := New(sub, &fakeRatings{ratings: ratings}, cfg, clock.Now)

	enqueueAll(t, m, "gold", ratings)
	clock.Advance(time.Hour)
	if formed := m.Cycle(context.Background(), "gold"); formed != 0 {
		t.Fatal("capped window must not cover a 200 point gap")
	}
}

func TestForcedGroupAfterTimeoutIsOldestFirst(t *testing.T) {
	sub := &fakeSubmitter{}
	clock := newFakeClock()
	cfg := Config{InitialWindow: 10, WindowGrowth: 1, MaxWindow: 20, ForceTimeout: time.Minute}
	ratings := map[string]int{}
	for i := 1; i <= 8; i++ {
		// Ratings too far apart for the window to ever group them.
		ratings[fmt.Sprintf("u%d", i)] = 1000 + 100*i
	}
	m := New(sub, &fakeRatings{ratings: ratings}, cfg, clock.Now)

	// Stagger enqueue times so seniority is unambiguous; u8 is youngest.
	for i := 1; i <= 8; i++ {
		user := fmt.Sprintf("u%d", i)
		if err := m.Enqueue(context.Background(), user, "agent-"+user, "gold"); err != nil {
			t.Fatalf("enqueue %s: %v", user, err)
		}
		clock.Advance(time.Second)
	}

	if formed := m.Cycle(context.Background(), "gold"); formed != 0 {
		t.Fatal("pool must not match before the timeout")
	}

	clock.Advance(cfg.ForceTimeout)
	if formed := m.Cycle(context.Background(), "gold"); formed != 1 {
		t.Fatal("timeout must force a group")
	}

	subs := sub.submissions()
	if len(subs) != 1 {
		t.Fatalf("submissions = %d", len(subs))
	}
	for _, seat := range subs[0].Seats {
		if seat.UserID == "u8" {
			t.Fatal("forced group must take the seven longest-waiting entries")
		}
	}
	if got := m.QueueLen("gold"); got != 1 {
		t.Fatalf("queue length = %d, want the youngest left behind", got)
	}
}

func TestStaleEntriesArePurged(t *testing.T) {
	sub := &fakeSubmitter{}
	clock := newFakeClock()
	cfg := Config{ForceTimeout: time.Minute}
	m := New(sub, &fakeRatings{ratings: map[string]int{}}, cfg, clock.Now)

	if err := m.Enqueue(context.Background(), "ghost", "agent-ghost", "gold"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	clock.Advance(3 * time.Minute)
	m.Cycle(context.Background(), "gold")

	if got := m.QueueLen("gold"); got != 0 {
		t.Fatalf("queue length = %d, want purged", got)
	}
}

func TestRefreshKeepsSeniority(t *testing.T) {
	sub := &fakeSubmitter{}
	clock := newFakeClock()
	cfg := Config{InitialWindow: 10, WindowGrowth: 1, MaxWindow: 20, ForceTimeout: time.Minute}
	ratings := map[string]int{"anchor": 1000}
	for i := 1; i <= 6; i++ {
		ratings[fmt.Sprintf("u%d", i)] = 2000
	}
	m := New(sub, &fakeRatings{ratings: ratings}, cfg, clock.Now)

	if err := m.Enqueue(context.Background(), "anchor", "agent-v1", "gold"); err != nil {
		t.Fatalf("enqueue anchor: %v", err)
	}
	clock.Advance(time.Second)
	for i := 1; i <= 6; i++ {
		user := fmt.Sprintf("u%d", i)
		if err := m.Enqueue(context.Background(), user, "agent-"+user, "gold"); err != nil {
			t.Fatalf("enqueue %s: %v", user, err)
		}
	}

	// Past the anchor's timeout; refreshing its agent must not reset the wait.
	clock.Advance(cfg.ForceTimeout)
	if err := m.Enqueue(context.Background(), "anchor", "agent-v2", "gold"); err != nil {
		t.Fatalf("refresh anchor: %v", err)
	}
	if got := m.QueueLen("gold"); got != 7 {
		t.Fatalf("queue length = %d, want 7", got)
	}

	if formed := m.Cycle(context.Background(), "gold"); formed != 1 {
		t.Fatal("refreshed anchor must still force a group on its original wait")
	}
	subs := sub.submissions()
	found := false
	for _, seat := range subs[0].Seats {
		if seat.UserID == "anchor" && seat.AgentID == "agent-v2" {
			found = true
		}
	}
	if !found {
		t.Fatal("refresh must update the agent while keeping the entry")
	}
}

func TestDequeue(t *testing.T) {
	m := New(&fakeSubmitter{}, &fakeRatings{ratings: map[string]int{}}, Config{}, newFakeClock().Now)

	if err := m.Enqueue(context.Background(), "alice", "agent-1", "gold"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !m.Dequeue("alice", "gold") {
		t.Fatal("dequeue of a waiting entrant must succeed")
	}
	if m.Dequeue("alice", "gold") {
		t.Fatal("second dequeue must report false")
	}
	if got := m.QueueLen("gold"); got != 0 {
		t.Fatalf("queue length = %d", got)
	}
}

func TestRejectedSubmissionRequeuesGroup(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("scheduler unavailable")}
	clock := newFakeClock()
	ratings := map[string]int{}
	for i := 1; i <= 7; i++ {
		ratings[fmt.Sprintf("u%d", i)] = 1200
	}
	m := New(sub, &fakeRatings{ratings: ratings}, Config{}, clock.Now)

	enqueueAll(t, m, "gold", ratings)
	if formed := m.Cycle(context.Background(), "gold"); formed != 0 {
		t.Fatal("rejected submission must not count as formed")
	}
	if got := m.QueueLen("gold"); got != 7 {
		t.Fatalf("queue length = %d, want requeued 7", got)
	}

	// Once the scheduler recovers the same pool matches.
	sub.mu.Lock()
	sub.err = nil
	sub.mu.Unlock()
	if formed := m.Cycle(context.Background(), "gold"); formed != 1 {
		t.Fatal("recovered scheduler must accept the group")
	}
}

func TestStartStopLoop(t *testing.T) {
	sub := &fakeSubmitter{}
	ratings := map[string]int{}
	for i := 1; i <= 7; i++ {
		ratings[fmt.Sprintf("u%d", i)] = 1200
	}
	m := New(sub, &fakeRatings{ratings: ratings}, Config{Interval: 10 * time.Millisecond}, nil)

	enqueueAll(t, m, "gold", ratings)
	m.Start("gold")
	m.Start("gold") // second start is a no-op

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && len(sub.submissions()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if len(sub.submissions()) != 1 {
		t.Fatalf("submissions = %d, want 1", len(sub.submissions()))
	}

	m.Stop("gold")
	m.Stop("gold") // second stop is a no-op

	// StopAll clears any remaining queue state for a clean restart.
	if err := m.Enqueue(context.Background(), "u1", "agent-u1", "gold"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	m.StopAll()
	if got := m.QueueLen("gold"); got != 0 {
		t.Fatalf("queue length after StopAll = %d", got)
	}
}
