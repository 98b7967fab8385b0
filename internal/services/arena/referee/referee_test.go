package referee

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"testing"
	"time"

	apperrors "github.com/louisbranch/quorum.games/internal/platform/errors"
	"github.com/louisbranch/quorum.games/internal/services/arena/agent"
	"github.com/louisbranch/quorum.games/internal/services/arena/domain/board"
	"github.com/louisbranch/quorum.games/internal/services/arena/domain/match"
	"github.com/louisbranch/quorum.games/internal/services/arena/domain/role"
	"github.com/louisbranch/quorum.games/internal/services/arena/observer"
	"github.com/louisbranch/quorum.games/internal/testkit/agentfakes"
)

const testSeed = 42

// dealFor replays the referee's seeded randomness so tests know the role
// assignment and initial leader up front.
func dealFor(seed int64) ([match.NumSeats]role.Role, int) {
	rng := rand.New(rand.NewSource(seed))
	roles := role.Deal(rng)
	board.Place(rng)
	return roles, rng.Intn(match.NumSeats)
}

func seatsWithCamp(roles [match.NumSeats]role.Role, camp role.Camp) []int {
	var seats []int
	for seat, r := range roles {
		if r.Camp() == camp {
			seats = append(seats, seat)
		}
	}
	return seats
}

func seatWith(roles [match.NumSeats]role.Role, target role.Role) int {
	for seat, r := range roles {
		if r == target {
			return seat
		}
	}
	return -1
}

func newFakes() ([match.NumSeats]agent.Agent, [match.NumSeats]*agentfakes.Agent) {
	var agents [match.NumSeats]agent.Agent
	var fakes [match.NumSeats]*agentfakes.Agent
	for i := range fakes {
		fakes[i] = &agentfakes.Agent{}
		agents[i] = fakes[i]
	}
	return agents, fakes
}

func runMatch(t *testing.T, agents [match.NumSeats]agent.Agent, obs *observer.Observer, logs *Logs) match.Result {
	t.Helper()
	r := New(Options{
		MatchID:     "match-1",
		Agents:      agents,
		Observer:    obs,
		Logs:        logs,
		Seed:        testSeed,
		CallTimeout: 2 * time.Second,
	})
	return r.Run(context.Background())
}

func TestLoyalSweepEndsInAssassinationMiss(t *testing.T) {
	// Every seat cooperates, so three missions succeed back to back and the
	// assassin fires. The default fake targets its night partner, the Shade,
	// which can never be the Oracle.
	agents, _ := newFakes()
	result := runMatch(t, agents, nil, nil)

	if result.Winner != role.CampLoyal {
		t.Fatalf("winner = %s, want %s", result.Winner, role.CampLoyal)
	}
	if result.Reason != match.ReasonAssassinationMissed {
		t.Fatalf("reason = %s, want %s", result.Reason, match.ReasonAssassinationMissed)
	}
	if result.LoyalWins != 3 || result.AdversaryWins != 0 {
		t.Fatalf("tallies = %d/%d", result.LoyalWins, result.AdversaryWins)
	}
	if len(result.Missions) != 3 {
		t.Fatalf("missions = %d, want 3", len(result.Missions))
	}
	for _, m := range result.Missions {
		if !m.Succeeded {
			t.Fatalf("mission %d failed", m.Round)
		}
	}
	if result.Status() != match.StatusCompleted {
		t.Fatalf("status = %s", result.Status())
	}

	wantRoles, _ := dealFor(testSeed)
	if result.Roles != wantRoles {
		t.Fatalf("roles = %v, want %v", result.Roles, wantRoles)
	}
}

func TestAssassinationHitFlipsResult(t *testing.T) {
	roles, _ := dealFor(testSeed)
	oracle := seatWith(roles, role.RoleOracle)
	assassin := seatWith(roles, role.RoleAssassin)

	agents, fakes := newFakes()
	fakes[assassin].AssassinateFunc = func() (int, error) { return oracle, nil }

	result := runMatch(t, agents, nil, nil)
	if result.Winner != role.CampAdversary {
		t.Fatalf("winner = %s, want %s", result.Winner, role.CampAdversary)
	}
	if result.Reason != match.ReasonAssassination {
		t.Fatalf("reason = %s, want %s", result.Reason, match.ReasonAssassination)
	}
	if result.LoyalWins != 3 {
		t.Fatalf("loyal wins = %d, want 3", result.LoyalWins)
	}
}

func TestAdversaryFailuresWinThreeMissions(t *testing.T) {
	roles, _ := dealFor(testSeed)
	adversaries := seatsWithCamp(roles, role.CampAdversary)
	loyal := seatsWithCamp(roles, role.CampLoyal)

	// Every leader stacks the team with adversaries first; adversaries sink
	// every mission they are on.
	agents, fakes := newFakes()
	for i := range fakes {
		fake := fakes[i]
		fake.ProposeFunc = func(size int) ([]int, error) {
			pool := append(append([]int{}, adversaries...), loyal...)
			return pool[:size], nil
		}
		fake.VoteMissionFunc = func() (bool, error) {
			return fake.Role.Camp() != role.CampAdversary, nil
		}
	}

	result := runMatch(t, agents, nil, nil)
	if result.Winner != role.CampAdversary {
		t.Fatalf("winner = %s, want %s", result.Winner, role.CampAdversary)
	}
	if result.Reason != match.ReasonThreeMissions {
		t.Fatalf("reason = %s, want %s", result.Reason, match.ReasonThreeMissions)
	}
	if result.AdversaryWins != 3 || result.LoyalWins != 0 {
		t.Fatalf("tallies = %d/%d", result.LoyalWins, result.AdversaryWins)
	}
}

func TestProtectedRoundToleratesOneFail(t *testing.T) {
	roles, _ := dealFor(testSeed)
	adversaries := seatsWithCamp(roles, role.CampAdversary)
	saboteur := adversaries[0]

	// One adversary fails rounds 1 and 4. Round 1 sinks on a single fail
	// vote; round 4 is protected and needs two.
	agents, fakes := newFakes()
	round := 0
	for i := range fakes {
		fake := fakes[i]
		fake.ProposeFunc = func(size int) ([]int, error) {
			round++
			team := []int{saboteur}
			for seat := 0; len(team) < size; seat++ {
				if seat != saboteur {
					team = append(team, seat)
				}
			}
			return team, nil
		}
		fake.VoteMissionFunc = func() (bool, error) {
			if fake.Seat == saboteur {
				return round != 1 && round != 4, nil
			}
			return true, nil
		}
	}

	result := runMatch(t, agents, nil, nil)
	if result.Winner != role.CampLoyal {
		t.Fatalf("winner = %s, want %s", result.Winner, role.CampLoyal)
	}
	if len(result.Missions) != 4 {
		t.Fatalf("missions = %d, want 4", len(result.Missions))
	}

	first := result.Missions[0]
	if first.Succeeded || first.FailVotes != 1 {
		t.Fatalf("round 1 = %+v, want 1 fail vote sinking it", first)
	}
	fourth := result.Missions[3]
	if !fourth.Succeeded || fourth.FailVotes != 1 {
		t.Fatalf("round 4 = %+v, want 1 fail vote tolerated", fourth)
	}
}

func TestInvalidProposalAbortsMatch(t *testing.T) {
	_, leader := dealFor(testSeed)

	agents, fakes := newFakes()
	for i := range fakes {
		fakes[i].ProposeFunc = func(int) ([]int, error) { return []int{0, 0}, nil }
	}

	result := runMatch(t, agents, nil, nil)
	if result.Reason != match.ReasonAgentFault {
		t.Fatalf("reason = %s, want %s", result.Reason, match.ReasonAgentFault)
	}
	if result.Status() != match.StatusError {
		t.Fatalf("status = %s", result.Status())
	}
	if result.Fault == nil {
		t.Fatal("result must carry the fault")
	}
	if result.Fault.Method != "ProposeTeam" || result.Fault.Seat != leader {
		t.Fatalf("fault = %+v, want ProposeTeam by seat %d", result.Fault, leader)
	}
	if result.Fault.Code != string(apperrors.CodeAgentReturnInvalid) {
		t.Fatalf("fault code = %s", result.Fault.Code)
	}
}

func TestLoyalFailVoteIsFatal(t *testing.T) {
	roles, _ := dealFor(testSeed)
	loyal := seatsWithCamp(roles, role.CampLoyal)

	// A loyal-only team where everyone votes fail: the first team member is
	// loyal, so the match aborts on a rule violation before counting votes.
	agents, fakes := newFakes()
	for i := range fakes {
		fakes[i].ProposeFunc = func(size int) ([]int, error) {
			return append([]int{}, loyal[:size]...), nil
		}
		fakes[i].VoteMissionFunc = func() (bool, error) { return false, nil }
	}

	result := runMatch(t, agents, nil, nil)
	if result.Reason != match.ReasonAgentFault {
		t.Fatalf("reason = %s, want %s", result.Reason, match.ReasonAgentFault)
	}
	if result.Fault == nil || result.Fault.Method != "VoteMission" {
		t.Fatalf("fault = %+v", result.Fault)
	}
	if result.Fault.Seat != loyal[0] {
		t.Fatalf("fault seat = %d, want %d", result.Fault.Seat, loyal[0])
	}
	if result.Fault.Code != string(apperrors.CodeAgentRuleViolation) {
		t.Fatalf("fault code = %s", result.Fault.Code)
	}
}

func TestSlowAgentTimesOut(t *testing.T) {
	agents, fakes := newFakes()
	fakes[3].SpeakFunc = func() (string, error) {
		time.Sleep(300 * time.Millisecond)
		return "late", nil
	}

	r := New(Options{
		MatchID:     "match-1",
		Agents:      agents,
		Seed:        testSeed,
		CallTimeout: 30 * time.Millisecond,
	})
	result := r.Run(context.Background())

	if result.Reason != match.ReasonAgentFault {
		t.Fatalf("reason = %s, want %s", result.Reason, match.ReasonAgentFault)
	}
	if result.Fault == nil || result.Fault.Seat != 3 || result.Fault.Method != "Speak" {
		t.Fatalf("fault = %+v", result.Fault)
	}
	if result.Fault.Code != string(apperrors.CodeAgentCallTimeout) {
		t.Fatalf("fault code = %s", result.Fault.Code)
	}
}

func TestCancellationIsNotAFault(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agents, fakes := newFakes()
	for i := range fakes {
		fakes[i].VoteProposalFunc = func() (bool, error) {
			cancel()
			return true, nil
		}
	}

	obs := observer.New("match-1")
	r := New(Options{MatchID: "match-1", Agents: agents, Observer: obs, Seed: testSeed})
	result := r.Run(ctx)

	if result.Reason != match.ReasonCancelled {
		t.Fatalf("reason = %s, want %s", result.Reason, match.ReasonCancelled)
	}
	if result.Status() != match.StatusCancelled {
		t.Fatalf("status = %s", result.Status())
	}
	if result.Fault != nil {
		t.Fatalf("cancellation must not be attributed to a seat: %+v", result.Fault)
	}

	entries := obs.Drain()
	if len(entries) == 0 {
		t.Fatal("expected observer entries")
	}
	last := entries[len(entries)-1]
	if last.Kind != observer.KindAborted {
		t.Fatalf("last snapshot kind = %s, want %s", last.Kind, observer.KindAborted)
	}
}

func TestWhisperTextStaysOutOfPublicLog(t *testing.T) {
	agents, fakes := newFakes()
	for i := range fakes {
		fake := fakes[i]
		calls := 0
		fake.SpeakFunc = func() (string, error) {
			calls++
			if calls%2 == 1 {
				return "hello", nil
			}
			return "secret-plan", nil
		}
	}

	logs := NewLogs()
	result := runMatch(t, agents, nil, logs)
	if result.Status() != match.StatusCompleted {
		t.Fatalf("status = %s", result.Status())
	}

	public := strings.Join(logs.Public(), "\n")
	if !strings.Contains(public, "says: hello") {
		t.Fatal("broadcast speech must reach the public log")
	}
	if strings.Contains(public, "secret-plan") {
		t.Fatal("range-limited speech text leaked into the public log")
	}
}

func TestObserverStreamCoversTheMatch(t *testing.T) {
	agents, _ := newFakes()
	obs := observer.New("match-1")
	result := runMatch(t, agents, obs, nil)
	if result.Status() != match.StatusCompleted {
		t.Fatalf("status = %s", result.Status())
	}

	seen := map[observer.Kind]int{}
	for _, e := range obs.Drain() {
		seen[e.Kind]++
	}
	for _, kind := range []observer.Kind{
		observer.KindRolesAssigned,
		observer.KindBoard,
		observer.KindRoundStarted,
		observer.KindProposal,
		observer.KindSpeech,
		observer.KindMovement,
		observer.KindVote,
		observer.KindMission,
		observer.KindAssassination,
		observer.KindResult,
	} {
		if seen[kind] == 0 {
			t.Fatalf("no %s snapshot emitted", kind)
		}
	}
	if seen[observer.KindRoundStarted] != 3 {
		t.Fatalf("rounds started = %d, want 3", seen[observer.KindRoundStarted])
	}
	if seen[observer.KindMission] != 3 {
		t.Fatalf("mission snapshots = %d, want 3", seen[observer.KindMission])
	}
}

func TestNoTwoSeatsShareACell(t *testing.T) {
	agents, fakes := newFakes()
	for i := range fakes {
		fakes[i].MoveFunc = func() ([]board.Direction, error) {
			return []board.Direction{board.DirectionEast}, nil
		}
	}

	obs := observer.New("match-1")
	result := runMatch(t, agents, obs, nil)

	// Stepping east can collide with a neighbor; either the match aborts on
	// the collision fault or every board snapshot stays collision-free.
	if result.Reason == match.ReasonAgentFault {
		if result.Fault.Code != string(apperrors.CodeAgentMoveCollision) &&
			result.Fault.Code != string(apperrors.CodeAgentMoveOutOfBounds) {
			t.Fatalf("fault code = %s", result.Fault.Code)
		}
		return
	}

	for _, e := range obs.Drain() {
		if e.Kind != observer.KindBoard {
			continue
		}
		var payload struct {
			Positions []board.Position `json:"positions"`
		}
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			t.Fatalf("decode board payload: %v", err)
		}
		cells := map[board.Position]bool{}
		for _, p := range payload.Positions {
			if cells[p] {
				t.Fatalf("two seats share cell (%d,%d)", p.X, p.Y)
			}
			cells[p] = true
		}
	}
}
