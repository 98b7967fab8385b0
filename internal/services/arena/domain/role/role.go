// Package role defines the fixed role set, camps, and night-information rules
// for a seven-seat match.
package role

import "math/rand"

// NumSeats is the fixed number of seats in a match.
const NumSeats = 7

// Role identifies one of the six roles dealt across the seven seats.
type Role int

const (
	// RoleUnspecified represents an invalid role value.
	RoleUnspecified Role = iota
	// RoleOracle is the loyal seat that learns every adversary seat at night.
	RoleOracle
	// RoleAcolyte is the loyal seat that learns the unordered Oracle/Shade pair.
	RoleAcolyte
	// RoleSentinel is the plain loyal seat. It is dealt twice.
	RoleSentinel
	// RoleShade is the adversary seat mutually aware of the Assassin.
	RoleShade
	// RoleAssassin is the adversary seat mutually aware of the Shade. It names
	// the elimination target when the loyal camp reaches three round wins.
	RoleAssassin
	// RoleLurker is the adversary seat hidden from its own partners.
	RoleLurker
)

// Camp is the two-sided alignment roles belong to.
type Camp int

const (
	// CampUnspecified represents an invalid camp value.
	CampUnspecified Camp = iota
	// CampLoyal is the blue camp.
	CampLoyal
	// CampAdversary is the red camp.
	CampAdversary
)

func (r Role) String() string {
	switch r {
	case RoleOracle:
		return "oracle"
	case RoleAcolyte:
		return "acolyte"
	case RoleSentinel:
		return "sentinel"
	case RoleShade:
		return "shade"
	case RoleAssassin:
		return "assassin"
	case RoleLurker:
		return "lurker"
	default:
		return "unspecified"
	}
}

func (c Camp) String() string {
	switch c {
	case CampLoyal:
		return "blue"
	case CampAdversary:
		return "red"
	default:
		return "unspecified"
	}
}

// Camp returns the camp the role belongs to.
func (r Role) Camp() Camp {
	switch r {
	case RoleOracle, RoleAcolyte, RoleSentinel:
		return CampLoyal
	case RoleShade, RoleAssassin, RoleLurker:
		return CampAdversary
	default:
		return CampUnspecified
	}
}

const (
	baseHearingRadius     = 2
	extendedHearingRadius = 3
)

// HearingRadius returns the Chebyshev distance at which the role still hears
// range-limited speech. The Oracle and the Lurker carry an extended radius.
func (r Role) HearingRadius() int {
	switch r {
	case RoleOracle, RoleLurker:
		return extendedHearingRadius
	default:
		return baseHearingRadius
	}
}

// deck is the fixed multiset dealt onto the seven seats: six roles with the
// Sentinel seated twice.
var deck = [NumSeats]Role{
	RoleOracle,
	RoleAcolyte,
	RoleSentinel,
	RoleSentinel,
	RoleShade,
	RoleAssassin,
	RoleLurker,
}

// Deal assigns the fixed role multiset onto seats as a uniform random
// permutation driven by rng.
func Deal(rng *rand.Rand) [NumSeats]Role {
	assignment := deck
	rng.Shuffle(NumSeats, func(i, j int) {
		assignment[i], assignment[j] = assignment[j], assignment[i]
	})
	return assignment
}

// Vision is the night information pushed to a single seat. All slices are
// sorted by seat index.
type Vision struct {
	// Adversaries lists every adversary seat. Only the Oracle receives it.
	Adversaries []int
	// Partners lists mutually-aware adversary partners. The Shade and the
	// Assassin each see the other.
	Partners []int
	// Suspects is the unordered pair {Oracle seat, Shade seat} revealed to the
	// Acolyte. The two are intentionally indistinguishable.
	Suspects []int
}

// Empty reports whether the vision carries no information.
func (v Vision) Empty() bool {
	return len(v.Adversaries) == 0 && len(v.Partners) == 0 && len(v.Suspects) == 0
}

// Visions computes the night information for every seat from a full
// assignment. Sentinels and the Lurker receive empty visions.
func Visions(assignment [NumSeats]Role) [NumSeats]Vision {
	var oracle, acolyte, shade, assassin int
	var adversaries []int
	for seat, r := range assignment {
		switch r {
		case RoleOracle:
			oracle = seat
		case RoleAcolyte:
			acolyte = seat
		case RoleShade:
			shade = seat
		case RoleAssassin:
			assassin = seat
		}
		if r.Camp() == CampAdversary {
			adversaries = append(adversaries, seat)
		}
	}

	var visions [NumSeats]Vision
	visions[oracle] = Vision{Adversaries: adversaries}
	suspects := []int{oracle, shade}
	if suspects[0] > suspects[1] {
		suspects[0], suspects[1] = suspects[1], suspects[0]
	}
	visions[acolyte] = Vision{Suspects: suspects}
	visions[shade] = Vision{Partners: []int{assassin}}
	visions[assassin] = Vision{Partners: []int{shade}}
	return visions
}
