package referee

import (
	"github.com/louisbranch/quorum.games/internal/services/arena/domain/board"
	"github.com/louisbranch/quorum.games/internal/services/arena/domain/match"
)

// Observer snapshot payloads. These are the replay wire format for the
// visualization consumer; field names are stable.

type rolesPayload struct {
	Roles []string `json:"roles"`
}

type boardPayload struct {
	Positions [match.NumSeats]board.Position `json:"positions"`
}

type roundPayload struct {
	Round    int `json:"round"`
	Leader   int `json:"leader"`
	TeamSize int `json:"team_size"`
}

type proposalPayload struct {
	Round   int   `json:"round"`
	Attempt int   `json:"attempt"`
	Leader  int   `json:"leader"`
	Members []int `json:"members"`
}

type speechPayload struct {
	Seat      int    `json:"seat"`
	Text      string `json:"text"`
	Broadcast bool   `json:"broadcast"`
	// Heard lists the seats a range-limited utterance reached. Empty for
	// broadcasts, which reach everyone.
	Heard []int `json:"heard,omitempty"`
}

type movementPayload struct {
	Seat     int            `json:"seat"`
	Position board.Position `json:"position"`
}

type votePayload struct {
	Round   int  `json:"round"`
	Attempt int  `json:"attempt"`
	Seat    int  `json:"seat"`
	Approve bool `json:"approve"`
}

type forcedPayload struct {
	Round   int  `json:"round"`
	Attempt int  `json:"attempt"`
	Forced  bool `json:"forced"`
}

type missionPayload struct {
	Round     int   `json:"round"`
	Team      []int `json:"team"`
	FailVotes int   `json:"fail_votes"`
	Threshold int   `json:"threshold"`
	Succeeded bool  `json:"succeeded"`
}

type assassinationPayload struct {
	Assassin int  `json:"assassin"`
	Target   int  `json:"target"`
	Hit      bool `json:"hit"`
}

type resultPayload struct {
	Winner        string   `json:"winner"`
	Reason        string   `json:"reason"`
	LoyalWins     int      `json:"loyal_wins"`
	AdversaryWins int      `json:"adversary_wins"`
	Roles         []string `json:"roles"`
}

type abortPayload struct {
	Reason string       `json:"reason"`
	Fault  *match.Fault `json:"fault,omitempty"`
}
