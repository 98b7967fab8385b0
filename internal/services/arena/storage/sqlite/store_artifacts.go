package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/quorum.games/internal/services/arena/storage"
)

// PutArtifact archives one match log. Archival retries after a partial
// failure overwrite the earlier copy.
func (s *Store) PutArtifact(ctx context.Context, artifact storage.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	matchID := strings.TrimSpace(artifact.MatchID)
	if matchID == "" {
		return fmt.Errorf("match id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO artifacts (match_id, seat, data, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(match_id, seat) DO UPDATE SET
		   data = excluded.data,
		   created_at = excluded.created_at`,
		matchID,
		artifact.Seat,
		artifact.Data,
		toMillis(artifact.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put artifact: %w", err)
	}
	return nil
}

// GetArtifact reads one archived match log back.
func (s *Store) GetArtifact(ctx context.Context, matchID string, seat int) (storage.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return storage.Artifact{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Artifact{}, fmt.Errorf("storage is not configured")
	}
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return storage.Artifact{}, fmt.Errorf("match id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT match_id, seat, data, created_at FROM artifacts
		 WHERE match_id = ? AND seat = ?`,
		matchID,
		seat,
	)
	var artifact storage.Artifact
	var createdAt int64
	err := row.Scan(&artifact.MatchID, &artifact.Seat, &artifact.Data, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Artifact{}, storage.ErrNotFound
		}
		return storage.Artifact{}, fmt.Errorf("get artifact: %w", err)
	}
	artifact.CreatedAt = fromMillis(createdAt)
	return artifact, nil
}
