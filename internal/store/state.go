package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/matheus3301/parley/internal/domain"
)

const keyLastOpenedContact = "last_opened_contact"

func (db *DB) put(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO client_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

func (db *DB) get(key string) (string, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM client_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetLastOpened records the contact whose conversation is open.
func (db *DB) SetLastOpened(id domain.UserID) error {
	if err := db.put(keyLastOpenedContact, strconv.FormatInt(int64(id), 10)); err != nil {
		return fmt.Errorf("save last opened contact: %w", err)
	}
	return nil
}

// ClearLastOpened forgets the open conversation.
func (db *DB) ClearLastOpened() error {
	if _, err := db.Exec(`DELETE FROM client_state WHERE key = ?`, keyLastOpenedContact); err != nil {
		return fmt.Errorf("clear last opened contact: %w", err)
	}
	return nil
}

// LastOpened returns the contact recorded by SetLastOpened, if any.
func (db *DB) LastOpened() (domain.UserID, bool, error) {
	value, ok, err := db.get(keyLastOpenedContact)
	if err != nil || !ok {
		return 0, false, err
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse last opened contact %q: %w", value, err)
	}
	return domain.UserID(id), true, nil
}
