package luaagent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	apperrors "github.com/louisbranch/quorum.games/internal/platform/errors"
	"github.com/louisbranch/quorum.games/internal/services/arena/agent"
	"github.com/louisbranch/quorum.games/internal/services/arena/domain/board"
	"github.com/louisbranch/quorum.games/internal/services/arena/domain/role"
)

type recordingHost struct {
	lines  []string
	events []string
}

func (h *recordingHost) SeatLog(text string)    { h.lines = append(h.lines, text) }
func (h *recordingHost) PublicEvents() []string { return h.events }

const fullScript = `
local seat = -1
local my_role = ""

function on_seat(s) seat = s end
function on_role(name, camp) my_role = name .. "/" .. camp end
function on_vision(v) seat_log("adversaries: " .. #v.adversaries) end
function on_board(positions) seat_log("board: " .. #positions) end
function on_message(from, text) seat_log("heard " .. from .. ": " .. text) end
function on_proposal(leader, members) seat_log("proposal from " .. leader) end

function propose_team(size)
	local team = {}
	for i = 1, size do team[i] = i - 1 end
	return team
end

function move() return {"north", "east"} end
function speak() return "seat " .. seat .. " as " .. my_role end
function vote_proposal() return true end
function vote_mission() return false end
function assassinate() return 0 end
`

func newTestAgent(t *testing.T, script string, host agent.Host) *Agent {
	t.Helper()
	a, err := New(script, host)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	return a
}

func TestCloseIsSafeAfterTimedOutCall(t *testing.T) {
	slowScript := `
function speak()
	local total = 0
	for i = 1, 20000000 do total = total + 1 end
	return "late " .. total
end
`
	a := newTestAgent(t, slowScript, &recordingHost{})

	_, err := agent.Call(context.Background(), 2, "Speak", agent.CallOptions{Timeout: time.Millisecond},
		func(ctx context.Context) (string, error) { return a.Speak(ctx) }, nil)
	fault, ok := agent.AsFault(err)
	if !ok || fault.Code != apperrors.CodeAgentCallTimeout {
		t.Fatalf("expected timeout fault, got %v", err)
	}

	// The abandoned call may still be inside the Lua state; closing the agent
	// must not race with it.
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := a.Speak(context.Background()); err == nil {
		t.Fatal("closed agent must refuse further calls")
	}
}

func TestCallbackRoundTrip(t *testing.T) {
	ctx := context.Background()
	host := &recordingHost{}
	a := newTestAgent(t, fullScript, host)
	defer a.Close()

	if err := a.NotifySeat(ctx, 3); err != nil {
		t.Fatalf("notify seat: %v", err)
	}
	if err := a.NotifyRole(ctx, role.RoleOracle); err != nil {
		t.Fatalf("notify role: %v", err)
	}

	text, err := a.Speak(ctx)
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	if text != "seat 3 as oracle/blue" {
		t.Fatalf("speak = %q", text)
	}
}

func TestProposeTeamReturnsOrderedSeats(t *testing.T) {
	a := newTestAgent(t, fullScript, &recordingHost{})
	defer a.Close()

	team, err := a.ProposeTeam(context.Background(), 3)
	if err != nil {
		t.Fatalf("propose team: %v", err)
	}
	want := []int{0, 1, 2}
	if len(team) != len(want) {
		t.Fatalf("team = %v, want %v", team, want)
	}
	for i := range want {
		if team[i] != want[i] {
			t.Fatalf("team = %v, want %v", team, want)
		}
	}
}

func TestMoveParsesDirections(t *testing.T) {
	a := newTestAgent(t, fullScript, &recordingHost{})
	defer a.Close()

	steps, err := a.Move(context.Background())
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(steps) != 2 || steps[0] != board.DirectionNorth || steps[1] != board.DirectionEast {
		t.Fatalf("steps = %v", steps)
	}
}

func TestVotesAndAssassination(t *testing.T) {
	ctx := context.Background()
	a := newTestAgent(t, fullScript, &recordingHost{})
	defer a.Close()

	approve, err := a.VoteProposal(ctx)
	if err != nil || !approve {
		t.Fatalf("vote proposal = %v, %v", approve, err)
	}
	success, err := a.VoteMission(ctx)
	if err != nil || success {
		t.Fatalf("vote mission = %v, %v", success, err)
	}
	target, err := a.Assassinate(ctx)
	if err != nil || target != 0 {
		t.Fatalf("assassinate = %d, %v", target, err)
	}
}

func TestVisionAndBoardReachTheScript(t *testing.T) {
	ctx := context.Background()
	host := &recordingHost{}
	a := newTestAgent(t, fullScript, host)
	defer a.Close()

	err := a.NotifyVision(ctx, role.Vision{Adversaries: []int{1, 4, 6}})
	if err != nil {
		t.Fatalf("notify vision: %v", err)
	}
	var positions [role.NumSeats]board.Position
	if err := a.NotifyBoard(ctx, positions); err != nil {
		t.Fatalf("notify board: %v", err)
	}

	if len(host.lines) != 2 {
		t.Fatalf("seat log = %v", host.lines)
	}
	if host.lines[0] != "adversaries: 3" {
		t.Fatalf("vision line = %q", host.lines[0])
	}
	if host.lines[1] != "board: 7" {
		t.Fatalf("board line = %q", host.lines[1])
	}
}

func TestRequireAllowsPureModulesOnly(t *testing.T) {
	a := newTestAgent(t, `
local m = require("math")
function speak() return tostring(m.max(1, 2)) end
`, &recordingHost{})
	defer a.Close()

	text, err := a.Speak(context.Background())
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	if text != "2" {
		t.Fatalf("speak = %q", text)
	}
}

func TestRequireBlocksHostModules(t *testing.T) {
	for _, module := range []string{"os", "io", "socket", "package"} {
		_, err := New(`local x = require("`+module+`")`, &recordingHost{})
		if err == nil {
			t.Fatalf("require(%q) must be rejected", module)
		}
		if !errors.Is(err, apperrors.New(apperrors.CodeAgentModuleBlocked, "")) {
			t.Fatalf("require(%q): expected blocked-module error, got %v", module, err)
		}
		if !strings.Contains(err.Error(), module) {
			t.Fatalf("require(%q): error must name the module, got %v", module, err)
		}
	}
}

func TestHostReachingGlobalsAreRemoved(t *testing.T) {
	for _, global := range []string{"dofile", "loadfile", "load"} {
		a := newTestAgent(t, `
function speak()
	if `+global+` == nil then return "removed" end
	return "present"
end
`, &recordingHost{})
		text, err := a.Speak(context.Background())
		a.Close()
		if err != nil {
			t.Fatalf("%s probe: %v", global, err)
		}
		if text != "removed" {
			t.Fatalf("global %q must be stripped from the sandbox", global)
		}
	}
}

func TestPublicEventsBinding(t *testing.T) {
	host := &recordingHost{events: []string{"round 1 started", "seat 0 proposed"}}
	a := newTestAgent(t, `
function speak()
	local events = public_events()
	return #events .. ":" .. events[2]
end
`, host)
	defer a.Close()

	text, err := a.Speak(context.Background())
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	if text != "2:seat 0 proposed" {
		t.Fatalf("speak = %q", text)
	}
}

func TestPrintRoutesToSeatLog(t *testing.T) {
	host := &recordingHost{}
	a := newTestAgent(t, `print("thinking", 42)`, host)
	defer a.Close()

	if len(host.lines) != 1 || host.lines[0] != "thinking\t42" {
		t.Fatalf("seat log = %v", host.lines)
	}
}

func TestMissingCallbackIsScriptError(t *testing.T) {
	a := newTestAgent(t, `function speak() return "ok" end`, &recordingHost{})
	defer a.Close()

	_, err := a.ProposeTeam(context.Background(), 2)
	if !errors.Is(err, apperrors.New(apperrors.CodeAgentScriptError, "")) {
		t.Fatalf("expected script error, got %v", err)
	}
}

func TestInvalidReturnTypes(t *testing.T) {
	tests := []struct {
		name   string
		script string
		call   func(a *Agent) error
	}{
		{
			"team not a table",
			`function propose_team(size) return "nope" end`,
			func(a *Agent) error { _, err := a.ProposeTeam(context.Background(), 2); return err },
		},
		{
			"unknown direction",
			`function move() return {"upward"} end`,
			func(a *Agent) error { _, err := a.Move(context.Background()); return err },
		},
		{
			"speech not a string",
			`function speak() return {} end`,
			func(a *Agent) error { _, err := a.Speak(context.Background()); return err },
		},
		{
			"vote not a boolean",
			`function vote_proposal() return 1 end`,
			func(a *Agent) error { _, err := a.VoteProposal(context.Background()); return err },
		},
		{
			"target not a number",
			`function assassinate() return "oracle" end`,
			func(a *Agent) error { _, err := a.Assassinate(context.Background()); return err },
		},
	}
	for _, tt := range tests {
		a := newTestAgent(t, tt.script, &recordingHost{})
		err := tt.call(a)
		a.Close()
		if !errors.Is(err, apperrors.New(apperrors.CodeAgentReturnInvalid, "")) {
			t.Fatalf("%s: expected invalid-return error, got %v", tt.name, err)
		}
	}
}

func TestScriptRuntimeErrorSurfaces(t *testing.T) {
	a := newTestAgent(t, `function speak() error("deliberate") end`, &recordingHost{})
	defer a.Close()

	_, err := a.Speak(context.Background())
	if !errors.Is(err, apperrors.New(apperrors.CodeAgentScriptError, "")) {
		t.Fatalf("expected script error, got %v", err)
	}
	if !strings.Contains(err.Error(), "deliberate") {
		t.Fatalf("error must carry the script message, got %v", err)
	}
}

func TestBrokenSourceFailsToLoad(t *testing.T) {
	if _, err := New(`function speak( return end`, &recordingHost{}); err == nil {
		t.Fatal("expected a load error for broken source")
	}
}

func TestFactoryImplementsAgentFactory(t *testing.T) {
	var factory agent.Factory = Factory{}
	a, err := factory.New(context.Background(), fullScript, &recordingHost{})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	defer a.Close()

	if err := a.NotifySeat(context.Background(), 0); err != nil {
		t.Fatalf("notify seat: %v", err)
	}
}
