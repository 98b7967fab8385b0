// Package agentfakes provides scripted in-memory agents for referee and
// scheduler tests.
package agentfakes

import (
	"context"

	"github.com/louisbranch/quorum.games/internal/services/arena/agent"
	"github.com/louisbranch/quorum.games/internal/services/arena/domain/board"
	"github.com/louisbranch/quorum.games/internal/services/arena/domain/role"
)

// Agent is a scripted agent. Zero-value behavior is fully cooperative: it
// proposes the first seats, stands still, stays quiet, approves every
// proposal, votes every mission up, and assassinates its night partner if it
// has one.
type Agent struct {
	Seat      int
	Role      role.Role
	Vision    role.Vision
	Boards    int
	Messages  []agent.Message
	Proposals []agent.Proposal
	Closed    bool

	ProposeFunc      func(size int) ([]int, error)
	MoveFunc         func() ([]board.Direction, error)
	SpeakFunc        func() (string, error)
	VoteProposalFunc func() (bool, error)
	VoteMissionFunc  func() (bool, error)
	AssassinateFunc  func() (int, error)
}

func (a *Agent) NotifySeat(_ context.Context, seat int) error {
	a.Seat = seat
	return nil
}

func (a *Agent) NotifyRole(_ context.Context, r role.Role) error {
	a.Role = r
	return nil
}

func (a *Agent) NotifyVision(_ context.Context, v role.Vision) error {
	a.Vision = v
	return nil
}

func (a *Agent) NotifyBoard(_ context.Context, _ [role.NumSeats]board.Position) error {
	a.Boards++
	return nil
}

func (a *Agent) NotifyMessage(_ context.Context, msg agent.Message) error {
	a.Messages = append(a.Messages, msg)
	return nil
}

func (a *Agent) NotifyProposal(_ context.Context, p agent.Proposal) error {
	a.Proposals = append(a.Proposals, p)
	return nil
}

func (a *Agent) ProposeTeam(_ context.Context, size int) ([]int, error) {
	if a.ProposeFunc != nil {
		return a.ProposeFunc(size)
	}
	team := make([]int, size)
	for i := range team {
		team[i] = i
	}
	return team, nil
}

func (a *Agent) Move(_ context.Context) ([]board.Direction, error) {
	if a.MoveFunc != nil {
		return a.MoveFunc()
	}
	return nil, nil
}

func (a *Agent) Speak(_ context.Context) (string, error) {
	if a.SpeakFunc != nil {
		return a.SpeakFunc()
	}
	return "pass", nil
}

func (a *Agent) VoteProposal(_ context.Context) (bool, error) {
	if a.VoteProposalFunc != nil {
		return a.VoteProposalFunc()
	}
	return true, nil
}

func (a *Agent) VoteMission(_ context.Context) (bool, error) {
	if a.VoteMissionFunc != nil {
		return a.VoteMissionFunc()
	}
	return true, nil
}

func (a *Agent) Assassinate(_ context.Context) (int, error) {
	if a.AssassinateFunc != nil {
		return a.AssassinateFunc()
	}
	if len(a.Vision.Partners) > 0 {
		return a.Vision.Partners[0], nil
	}
	if a.Seat == 0 {
		return 1, nil
	}
	return 0, nil
}

func (a *Agent) Close() error {
	a.Closed = true
	return nil
}

// Factory hands out agents for scheduler tests. NewFunc overrides creation;
// the default returns a fresh cooperative Agent per seat.
type Factory struct {
	NewFunc func(source string, host agent.Host) (agent.Agent, error)
	Created []*Agent
}

func (f *Factory) New(_ context.Context, source string, host agent.Host) (agent.Agent, error) {
	if f.NewFunc != nil {
		return f.NewFunc(source, host)
	}
	a := &Agent{}
	f.Created = append(f.Created, a)
	return a, nil
}
