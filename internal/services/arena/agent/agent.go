// Package agent defines the contract every competitor-controlled seat must
// implement, and the safe-execute boundary that shields the engine from
// adversarial or buggy agent code.
package agent

import (
	"context"

	"github.com/louisbranch/quorum.games/internal/services/arena/domain/board"
	"github.com/louisbranch/quorum.games/internal/services/arena/domain/role"
)

// Message is one utterance delivered to a seat.
type Message struct {
	From int    `json:"from"`
	Text string `json:"text"`
}

// Proposal is the current round's leader and proposed team.
type Proposal struct {
	Leader  int   `json:"leader"`
	Members []int `json:"members"`
}

// Agent is the capability set the referee drives a seat through. The referee
// depends only on this interface; execution strategy (in-process Lua sandbox,
// future out-of-process isolation) is an adapter concern.
//
// All methods may be called from any goroutine but never concurrently for the
// same agent.
type Agent interface {
	// NotifySeat tells the agent which seat index it controls.
	NotifySeat(ctx context.Context, seat int) error
	// NotifyRole tells the agent its role.
	NotifyRole(ctx context.Context, r role.Role) error
	// NotifyVision delivers asymmetric night information.
	NotifyVision(ctx context.Context, v role.Vision) error
	// NotifyBoard delivers the full board after placement and after each
	// movement pass.
	NotifyBoard(ctx context.Context, positions [role.NumSeats]board.Position) error
	// NotifyMessage delivers one broadcast or range-limited utterance.
	NotifyMessage(ctx context.Context, msg Message) error
	// NotifyProposal delivers the current leader and proposed team.
	NotifyProposal(ctx context.Context, p Proposal) error

	// ProposeTeam asks the agent, as leader, for a team of exactly size seats.
	ProposeTeam(ctx context.Context, size int) ([]int, error)
	// Move asks the agent for up to board.MaxSteps movement steps.
	Move(ctx context.Context) ([]board.Direction, error)
	// Speak asks the agent for a short utterance.
	Speak(ctx context.Context) (string, error)
	// VoteProposal casts the public approve/reject vote.
	VoteProposal(ctx context.Context) (bool, error)
	// VoteMission casts the private success/fail vote.
	VoteMission(ctx context.Context) (bool, error)
	// Assassinate asks the assassin seat for its elimination target.
	Assassinate(ctx context.Context) (int, error)

	// Close releases the agent's resources.
	Close() error
}

// Host exposes the two narrow services agent code may use: a private per-seat
// append-only log and a read-only view of the match's public event log.
type Host interface {
	SeatLog(text string)
	PublicEvents() []string
}

// Factory builds one agent from its source code. The scheduler resolves
// sources through the code-storage collaborator before a match starts.
type Factory interface {
	New(ctx context.Context, source string, host Host) (Agent, error)
}
