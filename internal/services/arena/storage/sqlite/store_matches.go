package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/quorum.games/internal/services/arena/domain/match"
	"github.com/louisbranch/quorum.games/internal/services/arena/storage"
)

// CreateMatch inserts a new queued match row with its seats.
func (s *Store) CreateMatch(ctx context.Context, rec match.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return fmt.Errorf("match id is required")
	}
	if rec.Status != match.StatusQueued {
		return fmt.Errorf("new matches must be queued, got %s", rec.Status)
	}
	if len(rec.Seats) != match.NumSeats {
		return fmt.Errorf("match needs %d seats, got %d", match.NumSeats, len(rec.Seats))
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create match: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO matches (id, division_id, status, fault_seat, created_at, updated_at)
		 VALUES (?, ?, ?, -1, ?, ?)`,
		id,
		strings.TrimSpace(rec.DivisionID),
		int(rec.Status),
		toMillis(rec.CreatedAt),
		toMillis(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create match: %w", err)
	}

	for _, seat := range rec.Seats {
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO match_seats (match_id, seat_index, user_id, agent_id, rating)
			 VALUES (?, ?, ?, ?, ?)`,
			id,
			seat.Index,
			seat.UserID,
			seat.AgentID,
			seat.Rating,
		)
		if err != nil {
			return fmt.Errorf("create match seat %d: %w", seat.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create match: %w", err)
	}
	return nil
}

// GetMatch returns one match with its seats in seat order.
func (s *Store) GetMatch(ctx context.Context, id string) (match.Record, error) {
	if err := ctx.Err(); err != nil {
		return match.Record{}, err
	}
	if s == nil || s.sqlDB == nil {
		return match.Record{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return match.Record{}, fmt.Errorf("match id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, division_id, status, winner, reason, fault_seat, fault_info, created_at, updated_at
		 FROM matches
		 WHERE id = ?`,
		id,
	)
	var rec match.Record
	var status int
	var createdAt, updatedAt int64
	err := row.Scan(
		&rec.ID,
		&rec.DivisionID,
		&status,
		&rec.Winner,
		&rec.Reason,
		&rec.FaultSeat,
		&rec.FaultInfo,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return match.Record{}, storage.ErrNotFound
		}
		return match.Record{}, fmt.Errorf("get match: %w", err)
	}
	rec.Status = match.Status(status)
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT seat_index, user_id, agent_id, rating
		 FROM match_seats
		 WHERE match_id = ?
		 ORDER BY seat_index ASC`,
		id,
	)
	if err != nil {
		return match.Record{}, fmt.Errorf("get match seats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seat match.Seat
		if err := rows.Scan(&seat.Index, &seat.UserID, &seat.AgentID, &seat.Rating); err != nil {
			return match.Record{}, fmt.Errorf("get match seats: %w", err)
		}
		rec.Seats = append(rec.Seats, seat)
	}
	if err := rows.Err(); err != nil {
		return match.Record{}, fmt.Errorf("get match seats: %w", err)
	}
	return rec, nil
}

// TransitionStatus atomically moves a match between two statuses. The guard
// on the previous status makes concurrent transitions race-free.
func (s *Store) TransitionStatus(ctx context.Context, id string, from, to match.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if !from.CanTransition(to) {
		return fmt.Errorf("illegal status change %s -> %s", from, to)
	}

	res, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE matches SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		int(to),
		nowMillis(),
		strings.TrimSpace(id),
		int(from),
	)
	if err != nil {
		return fmt.Errorf("transition match status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition match status: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetMatch(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("match %s is not %s", id, from)
	}
	return nil
}

// SetOutcome records the terminal result and moves the match to the result's
// status, from either queued or running.
func (s *Store) SetOutcome(ctx context.Context, id string, result match.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	to := result.Status()
	faultSeat := -1
	faultInfo := ""
	if result.Fault != nil {
		faultSeat = result.Fault.Seat
		faultInfo = fmt.Sprintf("%s: %s (%s)", result.Fault.Method, result.Fault.Message, result.Fault.Code)
	}

	res, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE matches
		 SET status = ?, winner = ?, reason = ?, fault_seat = ?, fault_info = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		int(to),
		result.Winner.String(),
		string(result.Reason),
		faultSeat,
		faultInfo,
		nowMillis(),
		strings.TrimSpace(id),
		int(match.StatusQueued),
		int(match.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("set match outcome: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set match outcome: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetMatch(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("match %s is already terminal", id)
	}
	return nil
}
