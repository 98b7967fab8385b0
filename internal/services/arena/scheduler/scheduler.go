// Package scheduler runs accepted matches on a bounded worker pool: FIFO
// intake, at-most-one execution per match id, status and result tracking, and
// cooperative cancellation.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	apperrors "github.com/louisbranch/quorum.games/internal/platform/errors"
	"github.com/louisbranch/quorum.games/internal/platform/id"
	"github.com/louisbranch/quorum.games/internal/platform/random"
	"github.com/louisbranch/quorum.games/internal/platform/timeouts"
	"github.com/louisbranch/quorum.games/internal/services/arena/agent"
	"github.com/louisbranch/quorum.games/internal/services/arena/domain/match"
	"github.com/louisbranch/quorum.games/internal/services/arena/domain/role"
	"github.com/louisbranch/quorum.games/internal/services/arena/observer"
	"github.com/louisbranch/quorum.games/internal/services/arena/referee"
	"github.com/louisbranch/quorum.games/internal/services/arena/storage"
)

// ratingWinDelta is the rating adjustment applied per seat when a match
// completes: winners gain it, losers lose it.
const ratingWinDelta = 25

const (
	defaultWorkers   = 2
	defaultQueueSize = 64
)

// Config tunes the scheduler.
type Config struct {
	// Workers bounds concurrent match executions.
	Workers int
	// QueueSize bounds the FIFO intake queue.
	QueueSize int
	// CallTimeout caps each agent call inside a match. Zero means the
	// platform default.
	CallTimeout time.Duration
}

// Submission is one match intake request.
type Submission struct {
	// MatchID is optional; a fresh id is generated when empty.
	MatchID    string
	DivisionID string
	Seats      []match.Seat
}

type entry struct {
	id         string
	divisionID string
	seats      []match.Seat
	status     match.Status
	result     *match.Result
	obs        *observer.Observer
	logs       *referee.Logs
	cancel     context.CancelFunc
	cancelled  bool
	settled    bool
}

// Scheduler accepts, queues, runs, and cancels matches.
type Scheduler struct {
	store   storage.Store
	factory agent.Factory
	cfg     Config

	mu      sync.Mutex
	matches map[string]*entry

	tasks chan string
	quit  chan struct{}
	wg    sync.WaitGroup

	now   func() time.Time
	newID func() (string, error)
}

// New creates a scheduler. Call Start to launch the workers.
func New(store storage.Store, factory agent.Factory, cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Scheduler{
		store:   store,
		factory: factory,
		cfg:     cfg,
		matches: make(map[string]*entry),
		tasks:   make(chan string, cfg.QueueSize),
		quit:    make(chan struct{}),
		now:     time.Now,
		newID:   id.NewID,
	}
}

// Start launches the worker pool.
func (s *Scheduler) Start() {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Stop asks the workers to finish their current match and exit, waiting up to
// ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	close(s.quit)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit validates a submission, durably marks the match queued, and enqueues
// it. The returned id identifies the match from then on.
func (s *Scheduler) Submit(ctx context.Context, sub Submission) (string, error) {
	if len(sub.Seats) != match.NumSeats {
		return "", apperrors.New(apperrors.CodeMatchSeatCountInvalid,
			fmt.Sprintf("match needs %d seats, got %d", match.NumSeats, len(sub.Seats)))
	}

	seats := make([]match.Seat, len(sub.Seats))
	copy(seats, sub.Seats)
	users := make(map[string]bool, len(seats))
	for i := range seats {
		seats[i].Index = i
		if seats[i].UserID == "" || seats[i].AgentID == "" {
			return "", apperrors.New(apperrors.CodeMatchSeatDuplicate,
				fmt.Sprintf("seat %d is missing a user or agent id", i))
		}
		if users[seats[i].UserID] {
			return "", apperrors.WithMetadata(apperrors.CodeMatchSeatDuplicate,
				fmt.Sprintf("user %s holds more than one seat", seats[i].UserID),
				map[string]string{"user_id": seats[i].UserID})
		}
		users[seats[i].UserID] = true

		code, err := s.store.GetAgent(ctx, seats[i].AgentID)
		if err != nil {
			return "", apperrors.Wrap(apperrors.CodeMatchAgentUnresolved,
				fmt.Sprintf("agent %s has no stored source", seats[i].AgentID), err)
		}
		seats[i].Source = code.Source
	}

	matchID := sub.MatchID
	if matchID == "" {
		generated, err := s.newID()
		if err != nil {
			return "", apperrors.Wrap(apperrors.CodeMatchInternalFailure, "generate match id", err)
		}
		matchID = generated
	}

	s.mu.Lock()
	if _, exists := s.matches[matchID]; exists {
		s.mu.Unlock()
		return "", apperrors.WithMetadata(apperrors.CodeMatchAlreadyActive,
			fmt.Sprintf("match %s is already tracked", matchID),
			map[string]string{"match_id": matchID})
	}
	e := &entry{
		id:         matchID,
		divisionID: sub.DivisionID,
		seats:      seats,
		status:     match.StatusQueued,
		obs:        observer.New(matchID),
		logs:       referee.NewLogs(),
	}
	s.matches[matchID] = e
	s.mu.Unlock()

	now := s.now().UTC()
	rec := match.Record{
		ID:         matchID,
		DivisionID: sub.DivisionID,
		Status:     match.StatusQueued,
		Seats:      seats,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateMatch(ctx, rec); err != nil {
		s.mu.Lock()
		delete(s.matches, matchID)
		s.mu.Unlock()
		return "", apperrors.Wrap(apperrors.CodeMatchInternalFailure, "persist queued match", err)
	}

	select {
	case s.tasks <- matchID:
		return matchID, nil
	default:
		// Queue overflow: the match must not stay queued forever.
		s.finalize(e, match.Result{Reason: match.ReasonInternalError, Fault: &match.Fault{
			Seat: -1, Code: string(apperrors.CodeMatchInternalFailure), Message: "task queue full",
		}})
		return "", apperrors.New(apperrors.CodeMatchInternalFailure, "task queue is full")
	}
}

// Status returns the lifecycle state of a match, or StatusUnspecified for an
// unknown id.
func (s *Scheduler) Status(matchID string) match.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.matches[matchID]; ok {
		return e.status
	}
	return match.StatusUnspecified
}

// Result returns the final outcome of a match, if it has one.
func (s *Scheduler) Result(matchID string) (match.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.matches[matchID]; ok && e.result != nil {
		return *e.result, true
	}
	return match.Result{}, false
}

// Observer returns a match's event buffer for the polling visualizer.
func (s *Scheduler) Observer(matchID string) (*observer.Observer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.matches[matchID]; ok {
		return e.obs, true
	}
	return nil, false
}

// Cancel requests cancellation of a queued or running match. A running match
// stops at its next phase boundary; rating deltas already applied for the
// match are reversed. Cancel reports whether the request took effect: a
// request that arrives once the outcome is already settling reports false and
// the result stands.
func (s *Scheduler) Cancel(ctx context.Context, matchID, reason string) bool {
	s.mu.Lock()
	e, ok := s.matches[matchID]
	if !ok || e.status.Terminal() || e.cancelled || e.settled {
		s.mu.Unlock()
		return false
	}
	e.cancelled = true
	cancel := e.cancel
	queued := e.status == match.StatusQueued
	s.mu.Unlock()

	log.Printf("match %s cancellation requested: %s", matchID, reason)
	if cancel != nil {
		// The worker observes the cancellation and finalizes the match.
		cancel()
		return true
	}
	if queued {
		// No worker owns it yet; finalize here. The worker skips cancelled
		// entries when it eventually drains the task.
		s.finalize(e, match.Result{Reason: match.ReasonCancelled})
	}
	return true
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case matchID := <-s.tasks:
			s.runMatch(matchID)
		}
	}
}

// runMatch executes one match end to end. Terminal persistence, artifact
// archival, and slot release happen on every path, including panics.
func (s *Scheduler) runMatch(matchID string) {
	s.mu.Lock()
	e, ok := s.matches[matchID]
	if !ok || e.status != match.StatusQueued || e.cancelled {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.status = match.StatusRunning
	s.mu.Unlock()
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("match %s: worker panic: %v", matchID, r)
			s.finalize(e, match.Result{Reason: match.ReasonInternalError, Fault: &match.Fault{
				Seat:    -1,
				Code:    string(apperrors.CodeMatchInternalFailure),
				Message: fmt.Sprintf("panic: %v", r),
			}})
		}
	}()

	persistCtx, persistCancel := context.WithTimeout(context.Background(), timeouts.MatchPersist)
	err := s.store.TransitionStatus(persistCtx, matchID, match.StatusQueued, match.StatusRunning)
	persistCancel()
	if err != nil {
		s.finalize(e, match.Result{Reason: match.ReasonInternalError, Fault: &match.Fault{
			Seat: -1, Code: string(apperrors.CodeMatchInternalFailure), Message: err.Error(),
		}})
		return
	}

	agents, fault := s.buildAgents(ctx, e)
	if fault != nil {
		s.finalize(e, match.Result{Reason: match.ReasonAgentFault, Fault: fault})
		return
	}
	defer func() {
		for _, a := range agents {
			if a != nil {
				_ = a.Close()
			}
		}
	}()

	ref := referee.New(referee.Options{
		MatchID:     matchID,
		Agents:      agents,
		Observer:    e.obs,
		Logs:        e.logs,
		Seed:        drawSeed(matchID),
		CallTimeout: s.cfg.CallTimeout,
	})
	result := ref.Run(ctx)
	s.finalize(e, result)
}

// drawSeed draws a fresh seed for one match. A failed draw falls back to
// zero, which the referee replaces with a time-based seed.
func drawSeed(matchID string) int64 {
	seed, err := random.NewSeed()
	if err != nil {
		log.Printf("match %s: draw match seed: %v", matchID, err)
		return 0
	}
	return seed
}

// buildAgents instantiates one sandboxed agent per seat. A failing build is
// attributed to the seat whose source would not load.
func (s *Scheduler) buildAgents(ctx context.Context, e *entry) ([match.NumSeats]agent.Agent, *match.Fault) {
	var agents [match.NumSeats]agent.Agent
	for i, seat := range e.seats {
		a, err := s.factory.New(ctx, seat.Source, e.logs.SeatHost(i))
		if err != nil {
			for _, built := range agents {
				if built != nil {
					_ = built.Close()
				}
			}
			code := apperrors.CodeAgentScriptError
			var domainErr *apperrors.Error
			if errors.As(err, &domainErr) {
				code = domainErr.Code
			}
			return agents, &match.Fault{
				Seat:    i,
				Method:  "New",
				Code:    string(code),
				Message: err.Error(),
			}
		}
		agents[i] = a
	}
	return agents, nil
}

// finalize persists the terminal state, settles ratings, archives artifacts,
// and publishes the result. It is the single exit path for every match, and
// marking the entry settled is the commit point against a racing Cancel: a
// cancellation recorded before that point voids the result, one after it
// reports false.
func (s *Scheduler) finalize(e *entry, result match.Result) {
	s.mu.Lock()
	if e.settled {
		s.mu.Unlock()
		return
	}
	e.settled = true
	if e.cancelled && result.Reason != match.ReasonCancelled {
		result = match.Result{Reason: match.ReasonCancelled, Roles: result.Roles}
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeouts.MatchPersist)
	defer cancel()

	if err := s.store.SetOutcome(ctx, e.id, result); err != nil {
		log.Printf("match %s: persist outcome: %v", e.id, err)
	}

	switch result.Status() {
	case match.StatusCompleted:
		if err := s.store.ApplyRatingDeltas(ctx, e.id, s.ratingDeltas(e, result)); err != nil {
			log.Printf("match %s: apply rating deltas: %v", e.id, err)
		}
	case match.StatusCancelled:
		if err := s.store.ReverseRatingDeltas(ctx, e.id); err != nil {
			log.Printf("match %s: reverse rating deltas: %v", e.id, err)
		}
	}

	s.archive(ctx, e)

	s.mu.Lock()
	e.status = result.Status()
	e.result = &result
	e.cancel = nil
	s.mu.Unlock()
}

// ratingDeltas awards the fixed delta to the winning camp's seats and deducts
// it from the rest.
func (s *Scheduler) ratingDeltas(e *entry, result match.Result) []storage.RatingDelta {
	deltas := make([]storage.RatingDelta, 0, len(e.seats))
	for i, seat := range e.seats {
		delta := -ratingWinDelta
		if result.Roles[i].Camp() == result.Winner {
			delta = ratingWinDelta
		}
		deltas = append(deltas, storage.RatingDelta{
			UserID:     seat.UserID,
			DivisionID: e.divisionID,
			Delta:      delta,
		})
	}
	return deltas
}

// archive stores the public JSON event log and the per-seat private logs for
// read-back after completion.
func (s *Scheduler) archive(ctx context.Context, e *entry) {
	now := s.now().UTC()

	snapshots := e.obs.Drain()
	if data, err := json.Marshal(snapshots); err == nil {
		artifact := storage.Artifact{
			MatchID:   e.id,
			Seat:      storage.PublicArtifactSeat,
			Data:      data,
			CreatedAt: now,
		}
		if err := s.store.PutArtifact(ctx, artifact); err != nil {
			log.Printf("match %s: archive public log: %v", e.id, err)
		}
	}

	for seat := 0; seat < role.NumSeats; seat++ {
		data, err := json.Marshal(e.logs.Seat(seat))
		if err != nil {
			continue
		}
		artifact := storage.Artifact{MatchID: e.id, Seat: seat, Data: data, CreatedAt: now}
		if err := s.store.PutArtifact(ctx, artifact); err != nil {
			log.Printf("match %s: archive seat %d log: %v", e.id, seat, err)
		}
	}
}
