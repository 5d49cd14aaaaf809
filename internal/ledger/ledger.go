// Package ledger provides an append-only history of commands sent to the bridge.
package ledger

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of a recorded command
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Entry represents a single command in the ledger
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"` // cli, mqtt, api, script
	Bridge    string    `json:"bridge"`
	Group     int       `json:"group"`
	Action    string    `json:"action"`
	Steps     int       `json:"steps"`
	Opcodes   []byte    `json:"opcodes,omitempty"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
}

// NewID returns a fresh entry ID
func NewID() string {
	return uuid.NewString()
}

// Ledger stores command history in SQLite
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds an entry. Missing ID and timestamp are filled in.
func (l *Ledger) Append(e *Entry) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Steps == 0 {
		e.Steps = 1
	}

	_, err := l.db.Exec(`
		INSERT INTO command_ledger (id, timestamp, source, bridge, group_id, action, steps, opcodes, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Timestamp.UTC().UnixMilli(), e.Source, e.Bridge, e.Group, e.Action, e.Steps,
		hex.EncodeToString(e.Opcodes), string(e.Status), e.Error)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// Get returns a single entry by ID
func (l *Ledger) Get(id string) (*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, timestamp, source, bridge, group_id, action, steps, opcodes, status, error
		FROM command_ledger
		WHERE id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries, err := l.scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, sql.ErrNoRows
	}
	return entries[0], nil
}

// Recent returns the newest entries first
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, timestamp, source, bridge, group_id, action, steps, opcodes, status, error
		FROM command_ledger
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// ByGroup returns the newest entries for one group
func (l *Ledger) ByGroup(group, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, timestamp, source, bridge, group_id, action, steps, opcodes, status, error
		FROM command_ledger
		WHERE group_id = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?
	`, group, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().UnixMilli()
	result, err := l.db.Exec(`
		DELETE FROM command_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var source, opcodes, errStr sql.NullString
		var status string
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &timestamp, &source, &entry.Bridge, &entry.Group,
			&entry.Action, &entry.Steps, &opcodes, &status, &errStr,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.UnixMilli(timestamp).UTC()
		entry.Status = Status(status)
		if source.Valid {
			entry.Source = source.String
		}
		if errStr.Valid {
			entry.Error = errStr.String
		}
		if opcodes.Valid && opcodes.String != "" {
			entry.Opcodes, err = hex.DecodeString(opcodes.String)
			if err != nil {
				return nil, fmt.Errorf("failed to decode opcodes: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
