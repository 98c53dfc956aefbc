package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// Contact maps an ACI to a display name for listings.
type Contact struct {
	ACI    string
	Number string
	Name   string
}

// SaveContact upserts a single contact.
func (s *Store) SaveContact(c *Contact) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO contact (aci, number, name) VALUES (?, ?, ?)",
		c.ACI, c.Number, c.Name,
	)
	if err != nil {
		return fmt.Errorf("store: save contact: %w", err)
	}
	return nil
}

// GetContactByACI returns the contact for the given ACI UUID, or nil if not found.
func (s *Store) GetContactByACI(aci string) (*Contact, error) {
	var c Contact
	err := s.db.QueryRow(
		"SELECT aci, number, name FROM contact WHERE aci = ?", aci,
	).Scan(&c.ACI, &c.Number, &c.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get contact: %w", err)
	}
	return &c, nil
}

// DisplayName returns the contact name for aci, falling back to the number
// and then to the ACI itself.
func (s *Store) DisplayName(aci string) string {
	c, err := s.GetContactByACI(aci)
	if err != nil || c == nil {
		return aci
	}
	if c.Name != "" {
		return c.Name
	}
	if c.Number != "" {
		return c.Number
	}
	return aci
}
