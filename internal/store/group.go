package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Group represents a group stored locally.
type Group struct {
	GroupID    string    // hex-encoded identifier derived from the master key
	MasterKey  []byte    // 32-byte master key
	Creator    string    // creator ACI (may be empty)
	Name       string    // cached group name (may be empty)
	Revision   int       // last known revision
	Left       bool      // the local user has left the group
	MemberACIs []string  // current member ACIs, filled by GetGroup
	UpdatedAt  time.Time // when this record was last updated
}

const groupColumns = "group_id, master_key, creator, name, revision, is_left, updated_at"

// SaveGroup stores or updates a group record. Membership is kept separately,
// see SetMembers.
func (s *Store) SaveGroup(ctx context.Context, g *Group) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (group_id, master_key, creator, name, revision, is_left, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (group_id) DO UPDATE SET
			creator = excluded.creator, name = excluded.name, revision = excluded.revision,
			is_left = excluded.is_left, updated_at = excluded.updated_at`,
		g.GroupID, g.MasterKey, g.Creator, g.Name, g.Revision, g.Left, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: save group: %w", err)
	}
	return nil
}

// GetGroup retrieves a group and its current members by group ID.
// Returns nil, nil if the group is unknown.
func (s *Store) GetGroup(ctx context.Context, groupID string) (*Group, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+groupColumns+" FROM groups WHERE group_id = ?", groupID)
	return s.scanGroupWithMembers(ctx, row)
}

func (s *Store) scanGroupWithMembers(ctx context.Context, row *sql.Row) (*Group, error) {
	g, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get group: %w", err)
	}
	members, err := s.GetMembers(ctx, g.GroupID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		g.MemberACIs = append(g.MemberACIs, m.ACI)
	}
	return g, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (*Group, error) {
	var g Group
	var updatedAt int64
	if err := row.Scan(&g.GroupID, &g.MasterKey, &g.Creator, &g.Name, &g.Revision, &g.Left, &updatedAt); err != nil {
		return nil, err
	}
	g.UpdatedAt = time.Unix(updatedAt, 0)
	return &g, nil
}

// GetAllGroups retrieves all stored groups without their members.
func (s *Store) GetAllGroups(ctx context.Context) ([]*Group, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+groupColumns+" FROM groups ORDER BY name, group_id")
	if err != nil {
		return nil, fmt.Errorf("store: list groups: %w", err)
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// SetGroupLeft records whether the local user has left the group.
func (s *Store) SetGroupLeft(ctx context.Context, groupID string, left bool) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE groups SET is_left = ?, updated_at = ? WHERE group_id = ?",
		left, time.Now().Unix(), groupID,
	)
	if err != nil {
		return fmt.Errorf("store: set group left: %w", err)
	}
	return nil
}
