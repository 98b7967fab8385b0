// Package storage defines persistence contracts for arena match state,
// ratings, agent code, and archived match artifacts.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/quorum.games/internal/services/arena/domain/match"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// DefaultRating is the rating assumed for a user with no recorded rating in a
// division.
const DefaultRating = 1200

// PublicArtifactSeat marks the public event log artifact of a match; seat
// artifacts use their seat index.
const PublicArtifactSeat = -1

// MatchStore persists match lifecycle state.
type MatchStore interface {
	// CreateMatch inserts a new match row. The record must be queued and its
	// id must be unused.
	CreateMatch(ctx context.Context, rec match.Record) error
	// GetMatch returns one match with its seats.
	GetMatch(ctx context.Context, id string) (match.Record, error)
	// TransitionStatus atomically moves a match from one status to another.
	// Illegal or stale transitions fail; no status is ever re-entered.
	TransitionStatus(ctx context.Context, id string, from, to match.Status) error
	// SetOutcome records the terminal result and moves the match to the
	// result's status. Legal only from queued or running.
	SetOutcome(ctx context.Context, id string, result match.Result) error
}

// RatingDelta is one per-seat rating adjustment from a finished match.
type RatingDelta struct {
	UserID     string
	DivisionID string
	Delta      int
}

// RatingStore persists per-division ratings and the per-match deltas applied
// to them, so a cancellation can reverse exactly what was applied.
type RatingStore interface {
	// Rating returns a user's rating in a division, or DefaultRating when the
	// user has none yet.
	Rating(ctx context.Context, userID, divisionID string) (int, error)
	// ApplyRatingDeltas records and applies the deltas of one match.
	ApplyRatingDeltas(ctx context.Context, matchID string, deltas []RatingDelta) error
	// ReverseRatingDeltas undoes every delta previously applied for the
	// match. Reversing twice, or reversing a match with no deltas, is a no-op.
	ReverseRatingDeltas(ctx context.Context, matchID string) error
}

// AgentCode is a stored agent: the code-storage collaborator's record.
type AgentCode struct {
	ID          string
	OwnerUserID string
	Name        string
	Source      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AgentStore resolves agent ids to their source.
type AgentStore interface {
	PutAgent(ctx context.Context, agent AgentCode) error
	GetAgent(ctx context.Context, id string) (AgentCode, error)
}

// Artifact is one archived match log: the public JSON event log
// (Seat == PublicArtifactSeat) or one seat's private JSON log.
type Artifact struct {
	MatchID   string
	Seat      int
	Data      []byte
	CreatedAt time.Time
}

// ArtifactStore archives match logs for read-back after completion.
type ArtifactStore interface {
	PutArtifact(ctx context.Context, artifact Artifact) error
	GetArtifact(ctx context.Context, matchID string, seat int) (Artifact, error)
}

// Store is the full persistence surface the arena runtime wires together.
type Store interface {
	MatchStore
	RatingStore
	AgentStore
	ArtifactStore
}
