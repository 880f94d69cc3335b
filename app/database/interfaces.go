package database

type SnapshotRepository interface {
	GetSnapshot(feedName string) (*Snapshot, error)
	GetAllSnapshots() ([]Snapshot, error)
	UpsertSnapshot(snapshot Snapshot) error
}

type AuditRepository interface {
	InsertEvent(event InvalidationEvent) error
	GetRecentEvents(limit int) ([]InvalidationEvent, error)
	GetEventCount() (int, error)
}
