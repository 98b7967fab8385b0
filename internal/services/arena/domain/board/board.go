// Package board implements the fixed 9x9 grid seats move on, including
// placement, movement validation, and Chebyshev hearing distance.
package board

import (
	"fmt"
	"math/rand"
	"strings"

	apperrors "github.com/louisbranch/quorum.games/internal/platform/errors"
	"github.com/louisbranch/quorum.games/internal/services/arena/domain/role"
)

// Size is the side length of the square grid.
const Size = 9

// MaxSteps is the maximum number of movement steps an agent may take per pass.
const MaxSteps = 3

// Position is an integer cell coordinate. Valid coordinates are 0..Size-1.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// InBounds reports whether the position is on the grid.
func (p Position) InBounds() bool {
	return p.X >= 0 && p.X < Size && p.Y >= 0 && p.Y < Size
}

// Chebyshev returns the Chebyshev distance between two positions.
func Chebyshev(a, b Position) int {
	dx := a.X - b.X
	if dx < 0 {
		dx = -dx
	}
	dy := a.Y - b.Y
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}

// Direction is a single compass movement step.
type Direction int

const (
	// DirectionUnspecified represents an invalid direction value.
	DirectionUnspecified Direction = iota
	// DirectionNorth decreases Y.
	DirectionNorth
	// DirectionSouth increases Y.
	DirectionSouth
	// DirectionWest decreases X.
	DirectionWest
	// DirectionEast increases X.
	DirectionEast
)

func (d Direction) String() string {
	switch d {
	case DirectionNorth:
		return "north"
	case DirectionSouth:
		return "south"
	case DirectionWest:
		return "west"
	case DirectionEast:
		return "east"
	default:
		return "unspecified"
	}
}

// ParseDirection maps an agent-supplied direction name to a Direction.
func ParseDirection(value string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "north":
		return DirectionNorth, true
	case "south":
		return DirectionSouth, true
	case "west":
		return DirectionWest, true
	case "east":
		return DirectionEast, true
	default:
		return DirectionUnspecified, false
	}
}

// Step returns the position one cell away in the given direction. The result
// may be off-grid; callers validate with InBounds.
func (p Position) Step(d Direction) Position {
	switch d {
	case DirectionNorth:
		return Position{X: p.X, Y: p.Y - 1}
	case DirectionSouth:
		return Position{X: p.X, Y: p.Y + 1}
	case DirectionWest:
		return Position{X: p.X - 1, Y: p.Y}
	case DirectionEast:
		return Position{X: p.X + 1, Y: p.Y}
	default:
		return p
	}
}

// Board tracks the current cell of every seat. No two seats ever share a cell.
type Board struct {
	positions [role.NumSeats]Position
}

// Place scatters the seven seats onto distinct random cells.
func Place(rng *rand.Rand) Board {
	var b Board
	used := make(map[Position]bool, role.NumSeats)
	for seat := 0; seat < role.NumSeats; seat++ {
		for {
			p := Position{X: rng.Intn(Size), Y: rng.Intn(Size)}
			if !used[p] {
				used[p] = true
				b.positions[seat] = p
				break
			}
		}
	}
	return b
}

// Position returns the current cell of a seat.
func (b *Board) Position(seat int) Position {
	return b.positions[seat]
}

// Positions returns a copy of every seat's current cell.
func (b *Board) Positions() [role.NumSeats]Position {
	return b.positions
}

// Apply walks a seat through up to MaxSteps movement steps. Every intermediate
// cell must stay on the grid and must not be occupied by another seat;
// violations are agent faults, never silent skips.
func (b *Board) Apply(seat int, steps []Direction) error {
	if len(steps) > MaxSteps {
		return apperrors.New(apperrors.CodeAgentReturnInvalid,
			fmt.Sprintf("movement returned %d steps, maximum is %d", len(steps), MaxSteps))
	}

	current := b.positions[seat]
	for _, d := range steps {
		if d == DirectionUnspecified {
			return apperrors.New(apperrors.CodeAgentReturnInvalid, "movement step has no direction")
		}
		next := current.Step(d)
		if !next.InBounds() {
			return apperrors.WithMetadata(apperrors.CodeAgentMoveOutOfBounds,
				fmt.Sprintf("step %s leaves the grid from (%d,%d)", d, current.X, current.Y),
				map[string]string{"direction": d.String()})
		}
		if occupant, occupied := b.occupantAt(next, seat); occupied {
			return apperrors.WithMetadata(apperrors.CodeAgentMoveCollision,
				fmt.Sprintf("cell (%d,%d) is occupied by seat %d", next.X, next.Y, occupant),
				map[string]string{"direction": d.String()})
		}
		current = next
	}

	b.positions[seat] = current
	return nil
}

func (b *Board) occupantAt(p Position, ignoreSeat int) (int, bool) {
	for seat, pos := range b.positions {
		if seat == ignoreSeat {
			continue
		}
		if pos == p {
			return seat, true
		}
	}
	return 0, false
}
