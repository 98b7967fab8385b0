package referee

import (
	"sync"

	"github.com/louisbranch/quorum.games/internal/services/arena/agent"
	"github.com/louisbranch/quorum.games/internal/services/arena/domain/role"
)

// Logs collects the public event log and the per-seat private logs for one
// match. The referee appends public entries; agent code appends private
// entries through its seat host and reads the public log back.
type Logs struct {
	mu     sync.Mutex
	public []string
	seats  [role.NumSeats][]string
}

// NewLogs creates an empty log set.
func NewLogs() *Logs {
	return &Logs{}
}

// Public returns a copy of the public event log.
func (l *Logs) Public() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]string, len(l.public))
	copy(entries, l.public)
	return entries
}

// Seat returns a copy of one seat's private log.
func (l *Logs) Seat(seat int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]string, len(l.seats[seat]))
	copy(entries, l.seats[seat])
	return entries
}

func (l *Logs) appendPublic(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.public = append(l.public, text)
}

func (l *Logs) appendSeat(seat int, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seats[seat] = append(l.seats[seat], text)
}

// SeatHost returns the narrow host surface one seat's agent code may use: its
// own private log and a read-only view of the public log.
func (l *Logs) SeatHost(seat int) agent.Host {
	return &seatHost{logs: l, seat: seat}
}

type seatHost struct {
	logs *Logs
	seat int
}

func (h *seatHost) SeatLog(text string) {
	h.logs.appendSeat(h.seat, text)
}

func (h *seatHost) PublicEvents() []string {
	return h.logs.Public()
}
