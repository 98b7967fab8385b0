// Package errors provides structured error handling for arena services.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Match errors
	CodeMatchSeatCountInvalid      Code = "MATCH_SEAT_COUNT_INVALID"
	CodeMatchSeatDuplicate         Code = "MATCH_SEAT_DUPLICATE"
	CodeMatchAgentUnresolved       Code = "MATCH_AGENT_UNRESOLVED"
	CodeMatchAlreadyActive         Code = "MATCH_ALREADY_ACTIVE"
	CodeMatchInvalidStatusChange   Code = "MATCH_INVALID_STATUS_CHANGE"
	CodeMatchNotCancellable        Code = "MATCH_NOT_CANCELLABLE"
	CodeMatchCancelled             Code = "MATCH_CANCELLED"
	CodeMatchInternalFailure       Code = "MATCH_INTERNAL_FAILURE"

	// Agent contract errors
	CodeAgentReturnInvalid   Code = "AGENT_RETURN_INVALID"
	CodeAgentRuleViolation   Code = "AGENT_RULE_VIOLATION"
	CodeAgentCallTimeout     Code = "AGENT_CALL_TIMEOUT"
	CodeAgentCallPanic       Code = "AGENT_CALL_PANIC"
	CodeAgentScriptError     Code = "AGENT_SCRIPT_ERROR"
	CodeAgentModuleBlocked   Code = "AGENT_MODULE_BLOCKED"
	CodeAgentMoveOutOfBounds Code = "AGENT_MOVE_OUT_OF_BOUNDS"
	CodeAgentMoveCollision   Code = "AGENT_MOVE_COLLISION"

	// Matchmaker errors
	CodeMatchmakerDivisionUnknown Code = "MATCHMAKER_DIVISION_UNKNOWN"
	CodeMatchmakerEntryInvalid    Code = "MATCHMAKER_ENTRY_INVALID"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeMatchSeatCountInvalid,
		CodeMatchSeatDuplicate,
		CodeMatchAgentUnresolved,
		CodeMatchmakerEntryInvalid:
		return codes.InvalidArgument

	// FailedPrecondition - state machine rejections
	case CodeMatchInvalidStatusChange,
		CodeMatchNotCancellable,
		CodeAgentRuleViolation,
		CodeAgentReturnInvalid,
		CodeAgentMoveOutOfBounds,
		CodeAgentMoveCollision,
		CodeAgentModuleBlocked:
		return codes.FailedPrecondition

	// AlreadyExists
	case CodeMatchAlreadyActive:
		return codes.AlreadyExists

	// NotFound
	case CodeNotFound, CodeMatchmakerDivisionUnknown:
		return codes.NotFound

	// DeadlineExceeded
	case CodeAgentCallTimeout:
		return codes.DeadlineExceeded

	// Cancelled
	case CodeMatchCancelled:
		return codes.Canceled

	default:
		return codes.Internal
	}
}
