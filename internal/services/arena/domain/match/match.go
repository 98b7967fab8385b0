// Package match defines the match record, its status lifecycle, and the fixed
// rules schedule shared by the referee, scheduler, and persistence layers.
package match

import (
	"time"

	"github.com/louisbranch/quorum.games/internal/services/arena/domain/role"
)

// NumSeats is the fixed number of seats in a match.
const NumSeats = role.NumSeats

// WinTarget is the number of round wins a camp needs to win the match.
const WinTarget = 3

// MaxRounds caps the number of mission rounds per match.
const MaxRounds = 5

// MaxVoteAttempts caps consecutive proposal votes per round; the fifth
// proposal executes without a vote.
const MaxVoteAttempts = 5

// TeamSizes is the round-indexed team size schedule (round 1 at index 0).
var TeamSizes = [MaxRounds]int{2, 3, 3, 4, 4}

// FailThreshold returns the number of fail votes that sinks the mission for a
// 1-indexed round. Rounds 3 and 4 are protected and require two.
func FailThreshold(round int) int {
	if round == 3 || round == 4 {
		return 2
	}
	return 1
}

// Status describes the lifecycle state of a match. Transitions are monotonic.
type Status int

const (
	// StatusUnspecified represents an unknown match.
	StatusUnspecified Status = iota
	// StatusQueued indicates the match is waiting for a worker slot.
	StatusQueued
	// StatusRunning indicates a worker is executing the match.
	StatusRunning
	// StatusCompleted indicates the match finished with a winner.
	StatusCompleted
	// StatusError indicates the match aborted on an agent fault or an
	// internal failure.
	StatusError
	// StatusCancelled indicates an external cancellation request ended the match.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal, monotonic
// status change. No state is ever re-entered.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next == StatusCompleted || next == StatusError || next == StatusCancelled
	default:
		return false
	}
}

// Seat binds one of the seven positions to a user, an agent, and the rating
// the matchmaker grouped on.
type Seat struct {
	Index   int
	UserID  string
	AgentID string
	Rating  int
	// Source is the agent's code, resolved through the code-storage
	// collaborator at submission time.
	Source string
}

// Reason explains how a match reached its terminal state.
type Reason string

const (
	// ReasonThreeMissions means a camp won three mission rounds outright.
	ReasonThreeMissions Reason = "three_missions"
	// ReasonAssassination means the assassin hit the Oracle and flipped the result.
	ReasonAssassination Reason = "assassination"
	// ReasonAssassinationMissed means the assassin named a non-Oracle seat and
	// the loyal win stood.
	ReasonAssassinationMissed Reason = "assassination_missed"
	// ReasonRoundCap means neither camp reached three wins within five rounds
	// and the higher tally won.
	ReasonRoundCap Reason = "round_cap"
	// ReasonAgentFault means an agent contract violation aborted the match.
	ReasonAgentFault Reason = "agent_fault"
	// ReasonInternalError means an unexpected engine failure aborted the match.
	ReasonInternalError Reason = "internal_error"
	// ReasonCancelled means an external cancellation request ended the match.
	ReasonCancelled Reason = "cancelled"
)

// Fault attributes a fatal agent contract violation to a seat and method.
type Fault struct {
	Seat    int    `json:"seat"`
	Method  string `json:"method"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MissionOutcome records one finished mission round.
type MissionOutcome struct {
	Round     int  `json:"round"`
	TeamSize  int  `json:"team_size"`
	FailVotes int  `json:"fail_votes"`
	Succeeded bool `json:"succeeded"`
}

// Result is the final outcome of a match run.
type Result struct {
	Winner        role.Camp
	Reason        Reason
	LoyalWins     int
	AdversaryWins int
	Missions      []MissionOutcome
	Fault         *Fault
	// Roles records the per-seat assignment revealed after the match.
	Roles [NumSeats]role.Role
}

// Status maps the result's reason to the terminal lifecycle status.
func (r Result) Status() Status {
	switch r.Reason {
	case ReasonThreeMissions, ReasonAssassination, ReasonAssassinationMissed, ReasonRoundCap:
		return StatusCompleted
	case ReasonCancelled:
		return StatusCancelled
	default:
		return StatusError
	}
}

// Record is the persistence-facing view of a match.
type Record struct {
	ID         string
	DivisionID string
	Status     Status
	Seats      []Seat
	Winner     string
	Reason     string
	FaultSeat  int
	FaultInfo  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
