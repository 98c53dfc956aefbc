package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Account identifies the local user and this linked device.
type Account struct {
	Number   string `json:"number"`
	ACI      string `json:"aci"`
	DeviceID int    `json:"deviceId"`
	Password string `json:"password"`
}

const accountKey = "account"

// SaveAccount persists the account to the database.
func (s *Store) SaveAccount(acct *Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("store: marshal account: %w", err)
	}
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO account (key, value) VALUES (?, ?)",
		accountKey, data,
	)
	if err != nil {
		return fmt.Errorf("store: save account: %w", err)
	}
	return nil
}

// LoadAccount loads the account from the database.
// Returns nil, nil if no account has been saved.
func (s *Store) LoadAccount() (*Account, error) {
	var data []byte
	err := s.db.QueryRow(
		"SELECT value FROM account WHERE key = ?", accountKey,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: load account: %w", err)
	}

	var acct Account
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, fmt.Errorf("store: unmarshal account: %w", err)
	}
	return &acct, nil
}
