// Package luaagent runs competitor code inside a restricted Lua state. The
// sandbox exposes only pure library modules (math, string patterns, tables)
// plus the two narrow host services; process, filesystem, and network
// primitives are unreachable.
package luaagent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"

	apperrors "github.com/louisbranch/quorum.games/internal/platform/errors"
	"github.com/louisbranch/quorum.games/internal/services/arena/agent"
	"github.com/louisbranch/quorum.games/internal/services/arena/domain/board"
	"github.com/louisbranch/quorum.games/internal/services/arena/domain/role"
)

const blockedModuleMarker = "is blocked by the sandbox"

// allowedModules are the only names require() resolves. Each maps to a pure
// library already opened in the state.
var allowedModules = map[string]bool{
	"math":   true,
	"string": true,
	"table":  true,
}

// removedGlobals are base-library entries that reach the host process and are
// stripped before agent code loads.
var removedGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"collectgarbage",
}

// Agent drives one seat's Lua script. The referee serializes calls into the
// state; the mutex guards only the state pointer, because a call abandoned by
// a timeout can still be draining when the match worker closes the agent.
type Agent struct {
	mu    sync.Mutex
	state *lua.State
	host  agent.Host
}

// Factory builds Lua agents from source. It implements agent.Factory.
type Factory struct{}

// New compiles the agent source inside a fresh sandboxed state.
func (Factory) New(_ context.Context, source string, host agent.Host) (agent.Agent, error) {
	return New(source, host)
}

// New creates a sandboxed agent from Lua source. The script runs once at
// load time to define its callback functions.
func New(source string, host agent.Host) (*Agent, error) {
	state := lua.NewState()
	openSandbox(state)
	bindHost(state, host)

	if err := lua.LoadString(state, source); err != nil {
		return nil, scriptError(fmt.Errorf("load agent script: %w", err))
	}
	if err := state.ProtectedCall(0, 0, 0); err != nil {
		return nil, scriptError(fmt.Errorf("run agent script: %w", err))
	}
	return &Agent{state: state, host: host}, nil
}

// openSandbox opens only the allow-listed pure libraries and removes the base
// functions that reach the host.
func openSandbox(state *lua.State) {
	lua.Require(state, "_G", lua.BaseOpen, true)
	state.Pop(1)
	lua.Require(state, "math", lua.MathOpen, true)
	state.Pop(1)
	lua.Require(state, "string", lua.StringOpen, true)
	state.Pop(1)
	lua.Require(state, "table", lua.TableOpen, true)
	state.Pop(1)

	for _, name := range removedGlobals {
		state.PushNil()
		state.SetGlobal(name)
	}

	state.Register("require", requireStub)
}

// requireStub resolves allow-listed modules to their opened globals and fails
// every other import with an error naming the blocked module.
func requireStub(state *lua.State) int {
	name := lua.CheckString(state, 1)
	if allowedModules[name] {
		state.Global(name)
		return 1
	}
	lua.Errorf(state, "module '%s' %s", name, blockedModuleMarker)
	return 0
}

func bindHost(state *lua.State, host agent.Host) {
	state.Register("seat_log", func(l *lua.State) int {
		text := lua.CheckString(l, 1)
		if host != nil {
			host.SeatLog(text)
		}
		return 0
	})

	state.Register("public_events", func(l *lua.State) int {
		var events []string
		if host != nil {
			events = host.PublicEvents()
		}
		l.CreateTable(len(events), 0)
		for i, event := range events {
			l.PushString(event)
			l.RawSetInt(-2, i+1)
		}
		return 1
	})

	// Stray prints go to the private seat log instead of host stdout.
	state.Register("print", func(l *lua.State) int {
		parts := make([]string, 0, l.Top())
		for i := 1; i <= l.Top(); i++ {
			part, _ := lua.ToStringMeta(l, i)
			l.Pop(1)
			parts = append(parts, part)
		}
		if host != nil {
			host.SeatLog(strings.Join(parts, "\t"))
		}
		return 0
	})
}

// Close releases the Lua state.
func (a *Agent) Close() error {
	// go-lua states are garbage collected; dropping the reference suffices.
	// An abandoned call holds its own reference until it drains.
	a.mu.Lock()
	a.state = nil
	a.mu.Unlock()
	return nil
}

// NotifySeat implements agent.Agent.
func (a *Agent) NotifySeat(ctx context.Context, seat int) error {
	return a.invoke(ctx, "on_seat", 0, func(l *lua.State) int {
		l.PushInteger(seat)
		return 1
	}, nil)
}

// NotifyRole implements agent.Agent.
func (a *Agent) NotifyRole(ctx context.Context, r role.Role) error {
	return a.invoke(ctx, "on_role", 0, func(l *lua.State) int {
		l.PushString(r.String())
		l.PushString(r.Camp().String())
		return 2
	}, nil)
}

// NotifyVision implements agent.Agent.
func (a *Agent) NotifyVision(ctx context.Context, v role.Vision) error {
	return a.invoke(ctx, "on_vision", 0, func(l *lua.State) int {
		l.NewTable()
		pushSeatArray(l, v.Adversaries)
		l.SetField(-2, "adversaries")
		pushSeatArray(l, v.Partners)
		l.SetField(-2, "partners")
		pushSeatArray(l, v.Suspects)
		l.SetField(-2, "suspects")
		return 1
	}, nil)
}

// NotifyBoard implements agent.Agent.
func (a *Agent) NotifyBoard(ctx context.Context, positions [role.NumSeats]board.Position) error {
	return a.invoke(ctx, "on_board", 0, func(l *lua.State) int {
		l.CreateTable(role.NumSeats, 0)
		for seat, p := range positions {
			l.NewTable()
			l.PushInteger(p.X)
			l.SetField(-2, "x")
			l.PushInteger(p.Y)
			l.SetField(-2, "y")
			l.RawSetInt(-2, seat+1)
		}
		return 1
	}, nil)
}

// NotifyMessage implements agent.Agent.
func (a *Agent) NotifyMessage(ctx context.Context, msg agent.Message) error {
	return a.invoke(ctx, "on_message", 0, func(l *lua.State) int {
		l.PushInteger(msg.From)
		l.PushString(msg.Text)
		return 2
	}, nil)
}

// NotifyProposal implements agent.Agent.
func (a *Agent) NotifyProposal(ctx context.Context, p agent.Proposal) error {
	return a.invoke(ctx, "on_proposal", 0, func(l *lua.State) int {
		l.PushInteger(p.Leader)
		pushSeatArray(l, p.Members)
		return 2
	}, nil)
}

// ProposeTeam implements agent.Agent.
func (a *Agent) ProposeTeam(ctx context.Context, size int) ([]int, error) {
	var team []int
	err := a.invoke(ctx, "propose_team", 1, func(l *lua.State) int {
		l.PushInteger(size)
		return 1
	}, func(l *lua.State) error {
		values, err := popIntArray(l, "propose_team")
		if err != nil {
			return err
		}
		team = values
		return nil
	})
	return team, err
}

// Move implements agent.Agent.
func (a *Agent) Move(ctx context.Context) ([]board.Direction, error) {
	var steps []board.Direction
	err := a.invoke(ctx, "move", 1, nil, func(l *lua.State) error {
		values, err := popStringArray(l, "move")
		if err != nil {
			return err
		}
		steps = make([]board.Direction, 0, len(values))
		for _, value := range values {
			d, ok := board.ParseDirection(value)
			if !ok {
				return apperrors.New(apperrors.CodeAgentReturnInvalid,
					fmt.Sprintf("move returned unknown direction %q", value))
			}
			steps = append(steps, d)
		}
		return nil
	})
	return steps, err
}

// Speak implements agent.Agent.
func (a *Agent) Speak(ctx context.Context) (string, error) {
	var text string
	err := a.invoke(ctx, "speak", 1, nil, func(l *lua.State) error {
		if l.TypeOf(-1) != lua.TypeString {
			l.Pop(1)
			return apperrors.New(apperrors.CodeAgentReturnInvalid, "speak must return a string")
		}
		value, _ := l.ToString(-1)
		l.Pop(1)
		text = value
		return nil
	})
	return text, err
}

// VoteProposal implements agent.Agent.
func (a *Agent) VoteProposal(ctx context.Context) (bool, error) {
	return a.popBool(ctx, "vote_proposal")
}

// VoteMission implements agent.Agent.
func (a *Agent) VoteMission(ctx context.Context) (bool, error) {
	return a.popBool(ctx, "vote_mission")
}

// Assassinate implements agent.Agent.
func (a *Agent) Assassinate(ctx context.Context) (int, error) {
	target := -1
	err := a.invoke(ctx, "assassinate", 1, nil, func(l *lua.State) error {
		if l.TypeOf(-1) != lua.TypeNumber {
			l.Pop(1)
			return apperrors.New(apperrors.CodeAgentReturnInvalid, "assassinate must return a seat number")
		}
		value, _ := l.ToInteger(-1)
		l.Pop(1)
		target = value
		return nil
	})
	return target, err
}

func (a *Agent) popBool(ctx context.Context, fn string) (bool, error) {
	var vote bool
	err := a.invoke(ctx, fn, 1, nil, func(l *lua.State) error {
		if l.TypeOf(-1) != lua.TypeBoolean {
			l.Pop(1)
			return apperrors.New(apperrors.CodeAgentReturnInvalid,
				fmt.Sprintf("%s must return a boolean", fn))
		}
		vote = l.ToBoolean(-1)
		l.Pop(1)
		return nil
	})
	return vote, err
}

// invoke calls a global script function with pushArgs-provided arguments and
// hands the results to popResults. The Lua state stack is balanced on return.
func (a *Agent) invoke(ctx context.Context, fn string, results int, pushArgs func(*lua.State) int, popResults func(*lua.State) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	state := a.state
	a.mu.Unlock()
	if state == nil {
		return apperrors.New(apperrors.CodeAgentScriptError, "agent is closed")
	}

	state.Global(fn)
	if state.TypeOf(-1) != lua.TypeFunction {
		state.Pop(1)
		return apperrors.New(apperrors.CodeAgentScriptError,
			fmt.Sprintf("agent script does not define %q", fn))
	}

	args := 0
	if pushArgs != nil {
		args = pushArgs(state)
	}
	if err := state.ProtectedCall(args, results, 0); err != nil {
		return scriptError(err)
	}
	if popResults == nil {
		state.Pop(results)
		return nil
	}
	return popResults(state)
}

// scriptError maps a Lua runtime error to a domain error, surfacing sandbox
// import rejections under their own code.
func scriptError(err error) error {
	message := err.Error()
	if strings.Contains(message, blockedModuleMarker) {
		return apperrors.New(apperrors.CodeAgentModuleBlocked, message)
	}
	return apperrors.Wrap(apperrors.CodeAgentScriptError, message, err)
}

func pushSeatArray(l *lua.State, seats []int) {
	l.CreateTable(len(seats), 0)
	for i, seat := range seats {
		l.PushInteger(seat)
		l.RawSetInt(-2, i+1)
	}
}

// popIntArray pops a table of integers off the stack, ordered by array index.
func popIntArray(l *lua.State, fn string) ([]int, error) {
	if l.TypeOf(-1) != lua.TypeTable {
		l.Pop(1)
		return nil, apperrors.New(apperrors.CodeAgentReturnInvalid,
			fmt.Sprintf("%s must return a table", fn))
	}

	indexed := map[int]int{}
	table := l.AbsIndex(-1)
	l.PushNil()
	for l.Next(table) {
		key, keyOK := l.ToInteger(-2)
		value, valueOK := l.ToInteger(-1)
		l.Pop(1)
		if !keyOK || !valueOK {
			l.Pop(1)
			return nil, apperrors.New(apperrors.CodeAgentReturnInvalid,
				fmt.Sprintf("%s must return an integer array", fn))
		}
		indexed[key] = value
	}
	l.Pop(1)

	return orderedValues(indexed), nil
}

// popStringArray pops a table of strings off the stack, ordered by array index.
func popStringArray(l *lua.State, fn string) ([]string, error) {
	if l.TypeOf(-1) != lua.TypeTable {
		l.Pop(1)
		return nil, apperrors.New(apperrors.CodeAgentReturnInvalid,
			fmt.Sprintf("%s must return a table", fn))
	}

	indexed := map[int]string{}
	table := l.AbsIndex(-1)
	l.PushNil()
	for l.Next(table) {
		key, keyOK := l.ToInteger(-2)
		if !keyOK || l.TypeOf(-1) != lua.TypeString {
			l.Pop(2)
			return nil, apperrors.New(apperrors.CodeAgentReturnInvalid,
				fmt.Sprintf("%s must return a string array", fn))
		}
		value, _ := l.ToString(-1)
		l.Pop(1)
		indexed[key] = value
	}
	l.Pop(1)

	keys := make([]int, 0, len(indexed))
	for key := range indexed {
		keys = append(keys, key)
	}
	sort.Ints(keys)
	values := make([]string, 0, len(keys))
	for _, key := range keys {
		values = append(values, indexed[key])
	}
	return values, nil
}

func orderedValues(indexed map[int]int) []int {
	keys := make([]int, 0, len(indexed))
	for key := range indexed {
		keys = append(keys, key)
	}
	sort.Ints(keys)
	values := make([]int, 0, len(keys))
	for _, key := range keys {
		values = append(values, indexed[key])
	}
	return values
}
