package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/louisbranch/quorum.games/internal/platform/errors"
	"github.com/louisbranch/quorum.games/internal/platform/timeouts"
	"github.com/louisbranch/quorum.games/internal/services/arena/domain/role"
)

// Fault is a fatal agent contract violation attributed to a seat and method.
// Any fault aborts the entire match; the engine never substitutes defaults.
type Fault struct {
	Seat    int
	Method  string
	Code    apperrors.Code
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("seat %d %s: %s", f.Seat, f.Method, f.Message)
}

// AsFault extracts a Fault from an error chain.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// CallOptions tunes the safe-execute boundary.
type CallOptions struct {
	// Timeout caps the wall-clock duration of one agent call. Zero means
	// timeouts.AgentCall.
	Timeout time.Duration
}

type callResult[T any] struct {
	value T
	err   error
}

// Call runs one agent method behind the safe-execute boundary: it enforces
// the wall-clock budget, recovers panics escaping agent code, and runs the
// caller's domain validation on the returned value. Every failure is a
// *Fault naming the seat and method.
func Call[T any](ctx context.Context, seat int, method string, opts CallOptions, fn func(context.Context) (T, error), validate func(T) error) (T, error) {
	var zero T

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = timeouts.AgentCall
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make(chan callResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- callResult[T]{err: apperrors.New(apperrors.CodeAgentCallPanic,
					fmt.Sprintf("panic in agent code: %v", r))}
			}
		}()
		value, err := fn(callCtx)
		results <- callResult[T]{value: value, err: err}
	}()

	select {
	case <-callCtx.Done():
		code := apperrors.CodeAgentCallTimeout
		message := fmt.Sprintf("call exceeded %s budget", timeout)
		if ctx.Err() != nil {
			// The surrounding match context ended, not the per-call budget.
			code = apperrors.CodeMatchCancelled
			message = "match context ended during agent call"
		}
		return zero, newFault(seat, method, apperrors.New(code, message))
	case res := <-results:
		if res.err != nil {
			return zero, newFault(seat, method, res.err)
		}
		if validate != nil {
			if err := validate(res.value); err != nil {
				return zero, newFault(seat, method, err)
			}
		}
		return res.value, nil
	}
}

// Notify wraps a value-less agent call behind the same boundary.
func Notify(ctx context.Context, seat int, method string, opts CallOptions, fn func(context.Context) error) error {
	_, err := Call(ctx, seat, method, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, nil)
	return err
}

func newFault(seat int, method string, err error) *Fault {
	code := apperrors.CodeAgentScriptError
	message := err.Error()

	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		code = domainErr.Code
		message = domainErr.Message
	}

	return &Fault{Seat: seat, Method: method, Code: code, Message: message}
}

// ValidateTeam checks a proposed team: exact size, duplicate-free, and every
// member a valid seat index.
func ValidateTeam(members []int, size int) error {
	if len(members) != size {
		return apperrors.New(apperrors.CodeAgentReturnInvalid,
			fmt.Sprintf("team has %d members, round requires %d", len(members), size))
	}
	seen := make(map[int]bool, len(members))
	for _, seat := range members {
		if seat < 0 || seat >= role.NumSeats {
			return apperrors.WithMetadata(apperrors.CodeAgentReturnInvalid,
				fmt.Sprintf("team member %d is not a valid seat", seat),
				map[string]string{"member": strconv.Itoa(seat)})
		}
		if seen[seat] {
			return apperrors.WithMetadata(apperrors.CodeAgentReturnInvalid,
				fmt.Sprintf("team lists seat %d twice", seat),
				map[string]string{"member": strconv.Itoa(seat)})
		}
		seen[seat] = true
	}
	return nil
}

// ValidateTarget checks an assassination target: a valid seat other than the
// assassin's own.
func ValidateTarget(target, self int) error {
	if target < 0 || target >= role.NumSeats {
		return apperrors.New(apperrors.CodeAgentReturnInvalid,
			fmt.Sprintf("target %d is not a valid seat", target))
	}
	if target == self {
		return apperrors.New(apperrors.CodeAgentReturnInvalid, "assassin cannot target its own seat")
	}
	return nil
}
