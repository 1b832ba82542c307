package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Turn is one persisted conversation entry.
type Turn struct {
	ID        int64
	TurnID    string
	Role      string
	Text      string
	Momentum  float64
	CreatedAt int64
}

// RecordTurn inserts a conversation turn and returns its assigned turn id.
func (db *DB) RecordTurn(role, text string, momentum float64) (*Turn, error) {
	t := &Turn{
		TurnID:    uuid.NewString(),
		Role:      role,
		Text:      text,
		Momentum:  momentum,
		CreatedAt: time.Now().UnixMilli(),
	}

	result, err := db.Exec(`
		INSERT INTO turns (turn_id, role, text, momentum, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, t.TurnID, t.Role, t.Text, t.Momentum, t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert turn: %w", err)
	}

	t.ID, _ = result.LastInsertId()
	return t, nil
}

// RecentTurns returns the latest turns, newest first.
func (db *DB) RecentTurns(limit int) ([]Turn, error) {
	rows, err := db.Query(`
		SELECT id, turn_id, role, text, momentum, created_at
		FROM turns ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.TurnID, &t.Role, &t.Text, &t.Momentum, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// TurnCount returns the total number of stored turns.
func (db *DB) TurnCount() (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM turns").Scan(&n)
	return n, err
}
