package store

import (
	"fmt"
)

// GuardEvent is one audited guardrail conflict.
type GuardEvent struct {
	ID            int64
	NodeID        int64
	Label         string
	StoredValue   string
	OutputExcerpt string
	Kind          string
	Overridden    bool
	CreatedAt     int64
}

// RecordGuardEvent inserts a guardrail conflict into the audit trail.
func (db *DB) RecordGuardEvent(ev GuardEvent) error {
	_, err := db.Exec(`
		INSERT INTO guard_events (node_id, label, stored_value, output_excerpt, kind, overridden, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.NodeID, ev.Label, ev.StoredValue, ev.OutputExcerpt, ev.Kind, boolToInt(ev.Overridden), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert guard event: %w", err)
	}
	return nil
}

// RecentGuardEvents returns the latest conflicts, newest first.
func (db *DB) RecentGuardEvents(limit int) ([]GuardEvent, error) {
	rows, err := db.Query(`
		SELECT id, node_id, label, stored_value, output_excerpt, kind, overridden, created_at
		FROM guard_events ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("get guard events: %w", err)
	}
	defer rows.Close()

	var events []GuardEvent
	for rows.Next() {
		var ev GuardEvent
		var overridden int
		if err := rows.Scan(&ev.ID, &ev.NodeID, &ev.Label, &ev.StoredValue, &ev.OutputExcerpt, &ev.Kind, &overridden, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan guard event: %w", err)
		}
		ev.Overridden = overridden != 0
		events = append(events, ev)
	}
	return events, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
