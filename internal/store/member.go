package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Member is one participant's membership record in a group. Former members
// keep their row with LeftAt set, so authorization can look at history.
type Member struct {
	GroupID  string
	ACI      string
	JoinedAt time.Time // zero when the join time is unknown
	LeftAt   time.Time // zero while still a member
}

// Current reports whether the participant is still in the group.
func (m *Member) Current() bool {
	return m.LeftAt.IsZero()
}

// GetMember returns the membership record of aci in groupID, or nil if aci
// was never a member.
func (s *Store) GetMember(ctx context.Context, groupID, aci string) (*Member, error) {
	var m Member
	var joinedAt int64
	var leftAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT group_id, aci, joined_at, left_at FROM group_member WHERE group_id = ? AND aci = ?",
		groupID, aci,
	).Scan(&m.GroupID, &m.ACI, &joinedAt, &leftAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get member: %w", err)
	}
	m.JoinedAt = joinTime(joinedAt)
	if leftAt.Valid {
		m.LeftAt = time.UnixMilli(leftAt.Int64)
	}
	return &m, nil
}

// GetMembers returns the current members of a group, ordered by ACI.
func (s *Store) GetMembers(ctx context.Context, groupID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT aci, joined_at FROM group_member WHERE group_id = ? AND left_at IS NULL ORDER BY aci",
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		m := Member{GroupID: groupID}
		var joinedAt int64
		if err := rows.Scan(&m.ACI, &joinedAt); err != nil {
			return nil, fmt.Errorf("store: scan member: %w", err)
		}
		m.JoinedAt = joinTime(joinedAt)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate members: %w", err)
	}
	return members, nil
}

// SetMembers replaces the current member list. Members no longer listed are
// marked as left at at; new ones join at joinedAt, which may be zero for an
// unknown join time.
func (s *Store) SetMembers(ctx context.Context, groupID string, acis []string, joinedAt, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	keep := make(map[string]bool, len(acis))
	for _, aci := range acis {
		keep[aci] = true
	}

	rows, err := tx.QueryContext(ctx, "SELECT aci FROM group_member WHERE group_id = ? AND left_at IS NULL", groupID)
	if err != nil {
		return fmt.Errorf("store: list members: %w", err)
	}
	var gone []string
	for rows.Next() {
		var aci string
		if err := rows.Scan(&aci); err != nil {
			rows.Close()
			return fmt.Errorf("store: scan member: %w", err)
		}
		if !keep[aci] {
			gone = append(gone, aci)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: iterate members: %w", err)
	}

	for _, aci := range gone {
		if _, err := tx.ExecContext(ctx,
			"UPDATE group_member SET left_at = ? WHERE group_id = ? AND aci = ?",
			at.UnixMilli(), groupID, aci,
		); err != nil {
			return fmt.Errorf("store: remove member %q: %w", aci, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO group_member (group_id, aci, joined_at, left_at) VALUES (?, ?, ?, NULL)
		 ON CONFLICT (group_id, aci) DO UPDATE SET joined_at = excluded.joined_at, left_at = NULL
		 WHERE group_member.left_at IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer stmt.Close()

	for _, aci := range acis {
		if _, err := stmt.ExecContext(ctx, groupID, aci, joinMillis(joinedAt)); err != nil {
			return fmt.Errorf("store: add member %q: %w", aci, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// SetJoinedAt corrects the join time of a current member, for example from
// an authoritative group state fetched from the server.
func (s *Store) SetJoinedAt(ctx context.Context, groupID, aci string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE group_member SET joined_at = ? WHERE group_id = ? AND aci = ? AND left_at IS NULL",
		joinMillis(at), groupID, aci,
	)
	if err != nil {
		return fmt.Errorf("store: set joined_at: %w", err)
	}
	return nil
}

// A stored join time of 0 means unknown.
func joinMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func joinTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
