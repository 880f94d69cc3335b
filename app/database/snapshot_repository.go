package database

import (
	"database/sql"
	"fmt"
)

var _ SnapshotRepository = (*SnapshotRepo)(nil)

type SnapshotRepo struct {
	db *DB
}

func NewSnapshotRepository(db *DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

func (r *SnapshotRepo) GetSnapshot(feedName string) (*Snapshot, error) {
	row := r.db.QueryRow(`
		SELECT name, xml, etag, last_modified, rendered_at
		FROM feed_snapshots
		WHERE name = ?
	`, feedName)

	snapshot, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	return snapshot, nil
}

func (r *SnapshotRepo) GetAllSnapshots() ([]Snapshot, error) {
	rows, err := r.db.Query(`
		SELECT name, xml, etag, last_modified, rendered_at
		FROM feed_snapshots
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, *snapshot)
	}

	return snapshots, rows.Err()
}

func (r *SnapshotRepo) UpsertSnapshot(snapshot Snapshot) error {
	_, err := r.db.Exec(`
		INSERT INTO feed_snapshots (name, xml, etag, last_modified, rendered_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			xml = excluded.xml,
			etag = excluded.etag,
			last_modified = excluded.last_modified,
			rendered_at = excluded.rendered_at
	`, snapshot.Name, snapshot.XML, snapshot.Etag, snapshot.LastModified, snapshot.RenderedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	var snapshot Snapshot
	var lastModified sql.NullTime

	err := row.Scan(&snapshot.Name, &snapshot.XML, &snapshot.Etag, &lastModified, &snapshot.RenderedAt)
	if err != nil {
		return nil, err
	}

	if lastModified.Valid {
		t := lastModified.Time
		snapshot.LastModified = &t
	}

	return &snapshot, nil
}
