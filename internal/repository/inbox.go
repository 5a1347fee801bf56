package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atinyakov/keepsync/internal/models"
)

// Get resolves an inbox message addressed to the account.
func (s *PostgresStore) Get(ctx context.Context, messageID string) (*models.Message, error) {
	var (
		msg     models.Message
		headers []byte
		payload []byte
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, from_account, headers, payload, created FROM messages
		WHERE id = $1 AND to_account = $2
	`, messageID, s.account.Username).Scan(&msg.ID, &msg.From, &headers, &payload, &msg.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get message: %w", err)
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &msg.Headers); err != nil {
			return nil, fmt.Errorf("decode headers: %w", err)
		}
	}
	msg.Payload = json.RawMessage(append([]byte(nil), payload...))
	return &msg, nil
}
