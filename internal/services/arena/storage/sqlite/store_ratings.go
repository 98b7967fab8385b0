package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/quorum.games/internal/services/arena/storage"
)

// Rating returns a user's rating in a division, defaulting for new users.
func (s *Store) Rating(ctx context.Context, userID, divisionID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT rating FROM ratings WHERE user_id = ? AND division_id = ?`,
		strings.TrimSpace(userID),
		strings.TrimSpace(divisionID),
	)
	var rating int
	if err := row.Scan(&rating); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.DefaultRating, nil
		}
		return 0, fmt.Errorf("get rating: %w", err)
	}
	return rating, nil
}

// ApplyRatingDeltas records and applies the deltas of one match in a single
// transaction.
func (s *Store) ApplyRatingDeltas(ctx context.Context, matchID string, deltas []storage.RatingDelta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return fmt.Errorf("match id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply rating deltas: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMillis()
	for _, delta := range deltas {
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO rating_deltas (match_id, user_id, division_id, delta, reversed, applied_at)
			 VALUES (?, ?, ?, ?, 0, ?)`,
			matchID,
			delta.UserID,
			delta.DivisionID,
			delta.Delta,
			now,
		)
		if err != nil {
			return fmt.Errorf("record rating delta: %w", err)
		}

		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO ratings (user_id, division_id, rating, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(user_id, division_id) DO UPDATE SET
			   rating = rating + excluded.rating - ?,
			   updated_at = excluded.updated_at`,
			delta.UserID,
			delta.DivisionID,
			storage.DefaultRating+delta.Delta,
			now,
			storage.DefaultRating,
		)
		if err != nil {
			return fmt.Errorf("apply rating delta: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply rating deltas: %w", err)
	}
	return nil
}

// ReverseRatingDeltas undoes every delta previously applied for the match.
// Already-reversed deltas are skipped, so the operation is idempotent.
func (s *Store) ReverseRatingDeltas(ctx context.Context, matchID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return fmt.Errorf("match id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reverse rating deltas: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(
		ctx,
		`SELECT user_id, division_id, delta FROM rating_deltas
		 WHERE match_id = ? AND reversed = 0`,
		matchID,
	)
	if err != nil {
		return fmt.Errorf("load rating deltas: %w", err)
	}
	var deltas []storage.RatingDelta
	for rows.Next() {
		var delta storage.RatingDelta
		if err := rows.Scan(&delta.UserID, &delta.DivisionID, &delta.Delta); err != nil {
			rows.Close()
			return fmt.Errorf("load rating deltas: %w", err)
		}
		deltas = append(deltas, delta)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("load rating deltas: %w", err)
	}
	rows.Close()

	now := nowMillis()
	for _, delta := range deltas {
		_, err = tx.ExecContext(
			ctx,
			`UPDATE ratings SET rating = rating - ?, updated_at = ?
			 WHERE user_id = ? AND division_id = ?`,
			delta.Delta,
			now,
			delta.UserID,
			delta.DivisionID,
		)
		if err != nil {
			return fmt.Errorf("reverse rating delta: %w", err)
		}
	}

	_, err = tx.ExecContext(
		ctx,
		`UPDATE rating_deltas SET reversed = 1 WHERE match_id = ? AND reversed = 0`,
		matchID,
	)
	if err != nil {
		return fmt.Errorf("mark rating deltas reversed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reverse rating deltas: %w", err)
	}
	return nil
}
