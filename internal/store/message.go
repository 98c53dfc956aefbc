package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MessageKind distinguishes user content from locally generated status lines.
type MessageKind int

const (
	KindText   MessageKind = 0
	KindStatus MessageKind = 1 // group updates, member joins, etc.
)

// Message is a stored group message. It is addressed by (group, author,
// sent timestamp), the same triple a reaction uses to point at it.
type Message struct {
	ID         int64
	GroupID    string
	Author     string // author ACI
	SentAt     uint64 // author's timestamp in milliseconds
	Kind       MessageKind
	Body       string
	Deleted    bool
	ReceivedAt time.Time
}

// SaveMessage stores m and returns its row ID. Saving the same
// (group, author, sent timestamp) again returns the existing ID.
func (s *Store) SaveMessage(ctx context.Context, m *Message) (int64, error) {
	receivedAt := m.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message (group_id, author, sent_at, kind, body, received_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (group_id, author, sent_at) DO NOTHING`,
		m.GroupID, m.Author, int64(m.SentAt), m.Kind, m.Body, receivedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: save message: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		"SELECT id FROM message WHERE group_id = ? AND author = ? AND sent_at = ?",
		m.GroupID, m.Author, int64(m.SentAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: message id: %w", err)
	}
	m.ID = id
	return id, nil
}

// GetGroupMessage returns the message authored by author at sentAt in the
// group, or nil if it is unknown.
func (s *Store) GetGroupMessage(ctx context.Context, groupID, author string, sentAt uint64) (*Message, error) {
	var m Message
	var sent, receivedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, group_id, author, sent_at, kind, body, deleted, received_at
		 FROM message WHERE group_id = ? AND author = ? AND sent_at = ?`,
		groupID, author, int64(sentAt),
	).Scan(&m.ID, &m.GroupID, &m.Author, &sent, &m.Kind, &m.Body, &m.Deleted, &receivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get message: %w", err)
	}
	m.SentAt = uint64(sent)
	m.ReceivedAt = time.UnixMilli(receivedAt)
	return &m, nil
}

// MarkMessageDeleted flags the message authored by author at sentAt as
// deleted for everyone. Its reactions stay stored but new ones are no longer
// accepted. It reports false if no such message is stored.
func (s *Store) MarkMessageDeleted(ctx context.Context, groupID, author string, sentAt uint64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE message SET deleted = 1, body = '' WHERE group_id = ? AND author = ? AND sent_at = ?",
		groupID, author, int64(sentAt),
	)
	if err != nil {
		return false, fmt.Errorf("store: delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: delete message: %w", err)
	}
	return n > 0, nil
}
