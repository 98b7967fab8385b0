// Package referee runs one seven-seat match end-to-end against the agent
// contract, producing the final outcome plus the observable event stream.
package referee

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	apperrors "github.com/louisbranch/quorum.games/internal/platform/errors"
	"github.com/louisbranch/quorum.games/internal/services/arena/agent"
	"github.com/louisbranch/quorum.games/internal/services/arena/domain/board"
	"github.com/louisbranch/quorum.games/internal/services/arena/domain/match"
	"github.com/louisbranch/quorum.games/internal/services/arena/domain/role"
	"github.com/louisbranch/quorum.games/internal/services/arena/observer"
)

// Options configure one match run.
type Options struct {
	MatchID  string
	Agents   [match.NumSeats]agent.Agent
	Observer *observer.Observer
	Logs     *Logs
	// Seed drives role dealing, placement, and nothing else. Zero means a
	// random match.
	Seed int64
	// CallTimeout caps each agent call. Zero means the platform default.
	CallTimeout time.Duration
}

// Referee drives the match state machine. One referee runs one match, on one
// goroutine; all seven agents are invoked sequentially.
type Referee struct {
	matchID string
	agents  [match.NumSeats]agent.Agent
	obs     *observer.Observer
	logs    *Logs
	rng     *rand.Rand
	opts    agent.CallOptions

	roles  [match.NumSeats]role.Role
	board  board.Board
	leader int
}

// New creates a referee for one match.
func New(o Options) *Referee {
	seed := o.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	logs := o.Logs
	if logs == nil {
		logs = NewLogs()
	}
	obs := o.Observer
	if obs == nil {
		obs = observer.New(o.MatchID)
	}
	return &Referee{
		matchID: o.MatchID,
		agents:  o.Agents,
		obs:     obs,
		logs:    logs,
		rng:     rand.New(rand.NewSource(seed)),
		opts:    agent.CallOptions{Timeout: o.CallTimeout},
	}
}

// Run plays the match to a terminal result. Cancellation of ctx is honored at
// every phase boundary; the result then carries the cancelled reason. Run
// never returns an error: agent faults and internal failures are terminal
// results, attributed in Result.Fault.
func (r *Referee) Run(ctx context.Context) match.Result {
	log.Printf("match %s starting", r.matchID)
	result := r.run(ctx)
	result.Roles = r.roles

	switch result.Reason {
	case match.ReasonCancelled:
		r.obs.Append(observer.KindAborted, abortPayload{Reason: string(result.Reason)})
		r.logs.appendPublic("match cancelled")
	case match.ReasonAgentFault, match.ReasonInternalError:
		r.obs.Append(observer.KindAborted, abortPayload{Reason: string(result.Reason), Fault: result.Fault})
		r.logs.appendPublic("match aborted")
	default:
		r.obs.Append(observer.KindResult, resultPayload{
			Winner:        result.Winner.String(),
			Reason:        string(result.Reason),
			LoyalWins:     result.LoyalWins,
			AdversaryWins: result.AdversaryWins,
			Roles:         roleNames(r.roles),
		})
		r.logs.appendPublic(fmt.Sprintf("match over: %s camp wins (%s)", result.Winner, result.Reason))
	}
	log.Printf("match %s finished: winner=%s reason=%s", r.matchID, result.Winner, result.Reason)
	return result
}

func (r *Referee) run(ctx context.Context) match.Result {
	if err := r.setup(ctx); err != nil {
		return r.failure(err)
	}

	var missions []match.MissionOutcome
	loyalWins, adversaryWins := 0, 0

	for round := 1; round <= match.MaxRounds; round++ {
		if ctx.Err() != nil {
			return match.Result{Reason: match.ReasonCancelled, Missions: missions,
				LoyalWins: loyalWins, AdversaryWins: adversaryWins}
		}

		outcome, err := r.playRound(ctx, round)
		if err != nil {
			res := r.failure(err)
			res.Missions = missions
			res.LoyalWins = loyalWins
			res.AdversaryWins = adversaryWins
			return res
		}
		missions = append(missions, outcome)
		if outcome.Succeeded {
			loyalWins++
		} else {
			adversaryWins++
		}

		if adversaryWins == match.WinTarget {
			return match.Result{Winner: role.CampAdversary, Reason: match.ReasonThreeMissions,
				LoyalWins: loyalWins, AdversaryWins: adversaryWins, Missions: missions}
		}
		if loyalWins == match.WinTarget {
			res, err := r.assassination(ctx)
			if err != nil {
				fres := r.failure(err)
				fres.Missions = missions
				fres.LoyalWins = loyalWins
				fres.AdversaryWins = adversaryWins
				return fres
			}
			res.LoyalWins = loyalWins
			res.AdversaryWins = adversaryWins
			res.Missions = missions
			return res
		}
	}

	// Neither camp reached the target within the round cap; the higher tally
	// wins. Five rounds cannot tie.
	winner := role.CampLoyal
	if adversaryWins > loyalWins {
		winner = role.CampAdversary
	}
	return match.Result{Winner: winner, Reason: match.ReasonRoundCap,
		LoyalWins: loyalWins, AdversaryWins: adversaryWins, Missions: missions}
}

// setup deals roles, scatters seats onto the grid, and performs the one-way
// night information pushes.
func (r *Referee) setup(ctx context.Context) error {
	r.roles = role.Deal(r.rng)
	r.board = board.Place(r.rng)
	r.leader = r.rng.Intn(match.NumSeats)

	r.obs.Append(observer.KindRolesAssigned, rolesPayload{Roles: roleNames(r.roles)})
	r.logs.appendPublic("roles dealt")

	for seat := 0; seat < match.NumSeats; seat++ {
		seat := seat
		if err := agent.Notify(ctx, seat, "NotifySeat", r.opts, func(ctx context.Context) error {
			return r.agents[seat].NotifySeat(ctx, seat)
		}); err != nil {
			return err
		}
		if err := agent.Notify(ctx, seat, "NotifyRole", r.opts, func(ctx context.Context) error {
			return r.agents[seat].NotifyRole(ctx, r.roles[seat])
		}); err != nil {
			return err
		}
		r.logs.appendSeat(seat, fmt.Sprintf("role: %s (%s camp)", r.roles[seat], r.roles[seat].Camp()))
	}

	visions := role.Visions(r.roles)
	for seat := 0; seat < match.NumSeats; seat++ {
		if visions[seat].Empty() {
			continue
		}
		seat := seat
		if err := agent.Notify(ctx, seat, "NotifyVision", r.opts, func(ctx context.Context) error {
			return r.agents[seat].NotifyVision(ctx, visions[seat])
		}); err != nil {
			return err
		}
		r.logs.appendSeat(seat, fmt.Sprintf("night vision: adversaries=%v partners=%v suspects=%v",
			visions[seat].Adversaries, visions[seat].Partners, visions[seat].Suspects))
	}

	if err := r.broadcastBoard(ctx); err != nil {
		return err
	}
	r.logs.appendPublic("seats placed")
	return nil
}

// playRound runs one mission round: up to five proposal attempts, then the
// mission itself. It returns the mission outcome, or the fault that aborted
// the match.
func (r *Referee) playRound(ctx context.Context, round int) (match.MissionOutcome, error) {
	size := match.TeamSizes[round-1]
	r.obs.Append(observer.KindRoundStarted, roundPayload{Round: round, Leader: r.leader, TeamSize: size})
	r.logs.appendPublic(fmt.Sprintf("round %d started, seat %d leads, team of %d", round, r.leader, size))

	var team []int
	for attempt := 1; attempt <= match.MaxVoteAttempts; attempt++ {
		if ctx.Err() != nil {
			return match.MissionOutcome{}, apperrors.New(apperrors.CodeMatchCancelled, "match cancelled")
		}

		proposed, approved, err := r.proposalAttempt(ctx, round, attempt, size)
		if err != nil {
			return match.MissionOutcome{}, err
		}
		if approved {
			team = proposed
			break
		}
		r.leader = (r.leader + 1) % match.NumSeats
	}

	outcome, err := r.mission(ctx, round, team)
	if err != nil {
		return match.MissionOutcome{}, err
	}
	r.leader = (r.leader + 1) % match.NumSeats
	return outcome, nil
}

// proposalAttempt runs one proposal cycle: team selection, the speech and
// movement passes, and the public vote. The fifth attempt executes without a
// vote so a round can never stall.
func (r *Referee) proposalAttempt(ctx context.Context, round, attempt, size int) ([]int, bool, error) {
	leader := r.leader

	team, err := agent.Call(ctx, leader, "ProposeTeam", r.opts,
		func(ctx context.Context) ([]int, error) {
			return r.agents[leader].ProposeTeam(ctx, size)
		},
		func(team []int) error { return agent.ValidateTeam(team, size) })
	if err != nil {
		return nil, false, err
	}

	r.obs.Append(observer.KindProposal, proposalPayload{Round: round, Attempt: attempt, Leader: leader, Members: team})
	r.logs.appendPublic(fmt.Sprintf("seat %d proposes team %v (attempt %d)", leader, team, attempt))

	proposal := agent.Proposal{Leader: leader, Members: team}
	for _, seat := range r.seatOrder() {
		seat := seat
		if err := agent.Notify(ctx, seat, "NotifyProposal", r.opts, func(ctx context.Context) error {
			return r.agents[seat].NotifyProposal(ctx, proposal)
		}); err != nil {
			return nil, false, err
		}
	}

	if err := r.broadcastSpeechPass(ctx); err != nil {
		return nil, false, err
	}
	if err := r.movementPass(ctx); err != nil {
		return nil, false, err
	}
	if err := r.rangedSpeechPass(ctx); err != nil {
		return nil, false, err
	}

	if attempt == match.MaxVoteAttempts {
		r.obs.Append(observer.KindVote, forcedPayload{Round: round, Attempt: attempt, Forced: true})
		r.logs.appendPublic(fmt.Sprintf("proposal attempt %d executes without a vote", attempt))
		return team, true, nil
	}

	approvals := 0
	for _, seat := range r.seatOrder() {
		seat := seat
		approve, err := agent.Call(ctx, seat, "VoteProposal", r.opts,
			func(ctx context.Context) (bool, error) {
				return r.agents[seat].VoteProposal(ctx)
			}, nil)
		if err != nil {
			return nil, false, err
		}
		if approve {
			approvals++
		}
		r.obs.Append(observer.KindVote, votePayload{Round: round, Attempt: attempt, Seat: seat, Approve: approve})
		r.logs.appendPublic(fmt.Sprintf("seat %d votes %s", seat, voteWord(approve)))
	}

	// Strict majority of all seven seats.
	return team, approvals > match.NumSeats/2, nil
}

// mission collects the private success/fail votes of the team. A loyal seat
// voting fail is a fatal rule violation.
func (r *Referee) mission(ctx context.Context, round int, team []int) (match.MissionOutcome, error) {
	failVotes := 0
	for _, seat := range team {
		seat := seat
		success, err := agent.Call(ctx, seat, "VoteMission", r.opts,
			func(ctx context.Context) (bool, error) {
				return r.agents[seat].VoteMission(ctx)
			},
			func(success bool) error {
				if !success && r.roles[seat].Camp() == role.CampLoyal {
					return apperrors.New(apperrors.CodeAgentRuleViolation,
						"loyal seat voted to fail the mission")
				}
				return nil
			})
		if err != nil {
			return match.MissionOutcome{}, err
		}
		if !success {
			failVotes++
		}
	}

	threshold := match.FailThreshold(round)
	outcome := match.MissionOutcome{
		Round:     round,
		TeamSize:  len(team),
		FailVotes: failVotes,
		Succeeded: failVotes < threshold,
	}
	r.obs.Append(observer.KindMission, missionPayload{
		Round: round, Team: team, FailVotes: failVotes, Threshold: threshold, Succeeded: outcome.Succeeded,
	})
	if outcome.Succeeded {
		r.logs.appendPublic(fmt.Sprintf("mission %d succeeded (%d fail votes)", round, failVotes))
	} else {
		r.logs.appendPublic(fmt.Sprintf("mission %d failed (%d fail votes)", round, failVotes))
	}
	return outcome, nil
}

// assassination lets the assassin pick a target after the loyal camp reaches
// three wins. Hitting the Oracle flips the result.
func (r *Referee) assassination(ctx context.Context) (match.Result, error) {
	if ctx.Err() != nil {
		return match.Result{}, apperrors.New(apperrors.CodeMatchCancelled, "match cancelled")
	}

	assassin := r.seatWithRole(role.RoleAssassin)
	target, err := agent.Call(ctx, assassin, "Assassinate", r.opts,
		func(ctx context.Context) (int, error) {
			return r.agents[assassin].Assassinate(ctx)
		},
		func(target int) error { return agent.ValidateTarget(target, assassin) })
	if err != nil {
		return match.Result{}, err
	}

	hit := r.roles[target] == role.RoleOracle
	r.obs.Append(observer.KindAssassination, assassinationPayload{Assassin: assassin, Target: target, Hit: hit})
	r.logs.appendPublic(fmt.Sprintf("seat %d names seat %d for elimination", assassin, target))

	if hit {
		return match.Result{Winner: role.CampAdversary, Reason: match.ReasonAssassination}, nil
	}
	return match.Result{Winner: role.CampLoyal, Reason: match.ReasonAssassinationMissed}, nil
}

// broadcastSpeechPass lets every seat speak once, in seat order starting at
// the leader; each utterance reaches all other seats.
func (r *Referee) broadcastSpeechPass(ctx context.Context) error {
	for _, speaker := range r.seatOrder() {
		speaker := speaker
		text, err := agent.Call(ctx, speaker, "Speak", r.opts,
			func(ctx context.Context) (string, error) {
				return r.agents[speaker].Speak(ctx)
			}, nil)
		if err != nil {
			return err
		}

		r.obs.Append(observer.KindSpeech, speechPayload{Seat: speaker, Text: text, Broadcast: true})
		r.logs.appendPublic(fmt.Sprintf("seat %d says: %s", speaker, text))

		msg := agent.Message{From: speaker, Text: text}
		for _, listener := range r.seatOrder() {
			if listener == speaker {
				continue
			}
			listener := listener
			if err := agent.Notify(ctx, listener, "NotifyMessage", r.opts, func(ctx context.Context) error {
				return r.agents[listener].NotifyMessage(ctx, msg)
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// movementPass walks every seat through its movement steps, then shows the
// updated board to everyone. Off-grid or colliding steps abort the match.
func (r *Referee) movementPass(ctx context.Context) error {
	for _, seat := range r.seatOrder() {
		seat := seat
		_, err := agent.Call(ctx, seat, "Move", r.opts,
			func(ctx context.Context) ([]board.Direction, error) {
				return r.agents[seat].Move(ctx)
			},
			func(steps []board.Direction) error {
				return r.board.Apply(seat, steps)
			})
		if err != nil {
			return err
		}

		p := r.board.Position(seat)
		r.obs.Append(observer.KindMovement, movementPayload{Seat: seat, Position: p})
		r.logs.appendPublic(fmt.Sprintf("seat %d moves to (%d,%d)", seat, p.X, p.Y))
	}
	return r.broadcastBoard(ctx)
}

// rangedSpeechPass lets every seat whisper once; delivery is limited by the
// listener's hearing radius in Chebyshev distance. The utterance itself stays
// out of the public log so only seats in range learn it.
func (r *Referee) rangedSpeechPass(ctx context.Context) error {
	for _, speaker := range r.seatOrder() {
		speaker := speaker
		text, err := agent.Call(ctx, speaker, "Speak", r.opts,
			func(ctx context.Context) (string, error) {
				return r.agents[speaker].Speak(ctx)
			}, nil)
		if err != nil {
			return err
		}

		from := r.board.Position(speaker)
		msg := agent.Message{From: speaker, Text: text}
		var heard []int
		for _, listener := range r.seatOrder() {
			if listener == speaker {
				continue
			}
			if board.Chebyshev(from, r.board.Position(listener)) > r.roles[listener].HearingRadius() {
				continue
			}
			listener := listener
			if err := agent.Notify(ctx, listener, "NotifyMessage", r.opts, func(ctx context.Context) error {
				return r.agents[listener].NotifyMessage(ctx, msg)
			}); err != nil {
				return err
			}
			heard = append(heard, listener)
			r.logs.appendSeat(listener, fmt.Sprintf("heard seat %d whisper: %s", speaker, text))
		}

		r.obs.Append(observer.KindSpeech, speechPayload{Seat: speaker, Text: text, Broadcast: false, Heard: heard})
		r.logs.appendPublic(fmt.Sprintf("seat %d whispers", speaker))
	}
	return nil
}

func (r *Referee) broadcastBoard(ctx context.Context) error {
	positions := r.board.Positions()
	r.obs.Append(observer.KindBoard, boardPayload{Positions: positions})
	for seat := 0; seat < match.NumSeats; seat++ {
		seat := seat
		if err := agent.Notify(ctx, seat, "NotifyBoard", r.opts, func(ctx context.Context) error {
			return r.agents[seat].NotifyBoard(ctx, positions)
		}); err != nil {
			return err
		}
	}
	return nil
}

// seatOrder returns all seats starting at the current leader, wrapping.
func (r *Referee) seatOrder() []int {
	order := make([]int, match.NumSeats)
	for i := range order {
		order[i] = (r.leader + i) % match.NumSeats
	}
	return order
}

func (r *Referee) seatWithRole(target role.Role) int {
	for seat, rl := range r.roles {
		if rl == target {
			return seat
		}
	}
	return -1
}

// failure maps an error escaping a phase to a terminal result. Cancellation
// surfacing through an agent call stays a cancellation, not an agent fault.
func (r *Referee) failure(err error) match.Result {
	if fault, ok := agent.AsFault(err); ok {
		if fault.Code == apperrors.CodeMatchCancelled {
			return match.Result{Reason: match.ReasonCancelled}
		}
		log.Printf("match %s: seat %d faulted in %s: %s", r.matchID, fault.Seat, fault.Method, fault.Message)
		return match.Result{
			Reason: match.ReasonAgentFault,
			Fault: &match.Fault{
				Seat:    fault.Seat,
				Method:  fault.Method,
				Code:    string(fault.Code),
				Message: fault.Message,
			},
		}
	}
	if errors.Is(err, apperrors.New(apperrors.CodeMatchCancelled, "")) {
		return match.Result{Reason: match.ReasonCancelled}
	}
	log.Printf("match %s: internal failure: %v", r.matchID, err)
	return match.Result{Reason: match.ReasonInternalError, Fault: &match.Fault{
		Seat:    -1,
		Method:  "",
		Code:    string(apperrors.CodeMatchInternalFailure),
		Message: err.Error(),
	}}
}

func voteWord(approve bool) string {
	if approve {
		return "approve"
	}
	return "reject"
}

func roleNames(roles [match.NumSeats]role.Role) []string {
	names := make([]string, len(roles))
	for i, rl := range roles {
		names[i] = rl.String()
	}
	return names
}
