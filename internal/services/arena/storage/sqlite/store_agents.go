package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/quorum.games/internal/services/arena/storage"
)

// PutAgent upserts one agent's source record.
func (s *Store) PutAgent(ctx context.Context, agent storage.AgentCode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id := strings.TrimSpace(agent.ID)
	if id == "" {
		return fmt.Errorf("agent id is required")
	}
	if strings.TrimSpace(agent.Source) == "" {
		return fmt.Errorf("agent source is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO agents (id, owner_user_id, name, source, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   owner_user_id = excluded.owner_user_id,
		   name = excluded.name,
		   source = excluded.source,
		   updated_at = excluded.updated_at`,
		id,
		agent.OwnerUserID,
		agent.Name,
		agent.Source,
		toMillis(agent.CreatedAt),
		toMillis(agent.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put agent: %w", err)
	}
	return nil
}

// GetAgent resolves one agent id to its stored source.
func (s *Store) GetAgent(ctx context.Context, id string) (storage.AgentCode, error) {
	if err := ctx.Err(); err != nil {
		return storage.AgentCode{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.AgentCode{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.AgentCode{}, fmt.Errorf("agent id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, owner_user_id, name, source, created_at, updated_at
		 FROM agents
		 WHERE id = ?`,
		id,
	)
	var agent storage.AgentCode
	var createdAt, updatedAt int64
	err := row.Scan(&agent.ID, &agent.OwnerUserID, &agent.Name, &agent.Source, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.AgentCode{}, storage.ErrNotFound
		}
		return storage.AgentCode{}, fmt.Errorf("get agent: %w", err)
	}
	agent.CreatedAt = fromMillis(createdAt)
	agent.UpdatedAt = fromMillis(updatedAt)
	return agent, nil
}
