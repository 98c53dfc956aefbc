package store

import (
	"context"
	"fmt"
	"time"
)

// Reaction is one standing emoji reaction by one sender on one message.
type Reaction struct {
	MessageID int64
	Sender    string
	Emoji     string
	CreatedAt time.Time
}

// AddReaction records a reaction. It reports false if the same
// (message, sender, emoji) was already stored.
func (s *Store) AddReaction(ctx context.Context, messageID int64, sender, emoji string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO reaction (message_id, sender, emoji, created_at) VALUES (?, ?, ?, ?)",
		messageID, sender, emoji, time.Now().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("store: add reaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: add reaction: %w", err)
	}
	return n == 1, nil
}

// RemoveReaction deletes a reaction. It reports false if there was nothing
// to delete.
func (s *Store) RemoveReaction(ctx context.Context, messageID int64, sender, emoji string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM reaction WHERE message_id = ? AND sender = ? AND emoji = ?",
		messageID, sender, emoji,
	)
	if err != nil {
		return false, fmt.Errorf("store: remove reaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: remove reaction: %w", err)
	}
	return n == 1, nil
}

// GetReactions returns the reactions on a message in the order they were added.
func (s *Store) GetReactions(ctx context.Context, messageID int64) ([]Reaction, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT message_id, sender, emoji, created_at FROM reaction WHERE message_id = ? ORDER BY created_at, sender, emoji",
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get reactions: %w", err)
	}
	defer rows.Close()

	var reactions []Reaction
	for rows.Next() {
		var r Reaction
		var createdAt int64
		if err := rows.Scan(&r.MessageID, &r.Sender, &r.Emoji, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan reaction: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdAt)
		reactions = append(reactions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate reactions: %w", err)
	}
	return reactions, nil
}
