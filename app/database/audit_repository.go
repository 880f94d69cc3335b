package database

import (
	"encoding/json"
	"fmt"
	"time"
)

var _ AuditRepository = (*AuditRepo)(nil)

type AuditRepo struct {
	db *DB
}

func NewAuditRepository(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) InsertEvent(event InvalidationEvent) error {
	targets, err := json.Marshal(event.Targets)
	if err != nil {
		return fmt.Errorf("failed to encode targets: %w", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = r.db.Exec(`
		INSERT INTO invalidation_events (content_type, targets, client_key, created_at)
		VALUES (?, ?, ?, ?)
	`, event.ContentType, string(targets), event.ClientKey, createdAt)

	if err != nil {
		return fmt.Errorf("failed to insert invalidation event: %w", err)
	}

	return nil
}

func (r *AuditRepo) GetRecentEvents(limit int) ([]InvalidationEvent, error) {
	rows, err := r.db.Query(`
		SELECT id, content_type, targets, client_key, created_at
		FROM invalidation_events
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list invalidation events: %w", err)
	}
	defer rows.Close()

	var events []InvalidationEvent
	for rows.Next() {
		var event InvalidationEvent
		var targets string

		err := rows.Scan(&event.ID, &event.ContentType, &targets, &event.ClientKey, &event.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invalidation event: %w", err)
		}

		if err := json.Unmarshal([]byte(targets), &event.Targets); err != nil {
			return nil, fmt.Errorf("failed to decode targets: %w", err)
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

func (r *AuditRepo) GetEventCount() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM invalidation_events`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count invalidation events: %w", err)
	}
	return count, nil
}
