package store

import (
	"context"
	"time"
)

// Kind separates the two notification logs.
type Kind string

const (
	KindGeneric Kind = "generic"
	KindMessage Kind = "message"
)

// Notification is a persisted notification entry. One snapshot exists per
// (identity, kind); snapshots are deleted wholesale on logout so state never
// leaks across identities on a shared device.
type Notification struct {
	ID        string
	Title     string
	Body      string
	Room      string
	SenderID  string
	CreatedAt time.Time
	IsRead    bool
}

// SnapshotStore persists per-identity notification snapshots.
// Persistence is best-effort: callers treat write failures as non-fatal and
// keep in-memory state authoritative for the session.
type SnapshotStore interface {
	// SaveSnapshot replaces the stored snapshot for (identity, kind).
	SaveSnapshot(ctx context.Context, identity string, kind Kind, items []Notification) error
	// LoadSnapshot returns the stored snapshot, oldest first. A missing
	// snapshot is an empty slice, not an error.
	LoadSnapshot(ctx context.Context, identity string, kind Kind) ([]Notification, error)
	// DeleteSnapshots removes all snapshots for an identity.
	DeleteSnapshots(ctx context.Context, identity string) error
	Close() error
}
