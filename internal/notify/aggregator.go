package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/workmesh/realtime/internal/log"
	"github.com/workmesh/realtime/internal/store"
)

// Kind separates the two independent notification logs.
type Kind int

const (
	// KindGeneric holds job and status lifecycle notifications.
	KindGeneric Kind = iota
	// KindMessage holds chat notifications.
	KindMessage
)

func (k Kind) String() string {
	if k == KindMessage {
		return "message"
	}
	return "generic"
}

func (k Kind) storeKind() store.Kind {
	if k == KindMessage {
		return store.KindMessage
	}
	return store.KindGeneric
}

// Notification is one entry in a log.
type Notification struct {
	ID        string
	Kind      Kind
	Title     string
	Body      string
	Room      string
	SenderID  string
	CreatedAt time.Time
	IsRead    bool
}

// boundedLog is one capped, ordered notification list with its unread
// counter. The counter always equals the number of unread entries; every
// mutation below maintains that in the same critical section.
type boundedLog struct {
	items  []Notification
	cap    int
	unread int
}

// Aggregator maintains the two bounded notification logs for one identity,
// persists snapshots after every mutation, and fires arrival side effects.
// State is namespaced per identity; Purge discards it wholesale at logout.
type Aggregator struct {
	identity string
	snaps    store.SnapshotStore // nil disables persistence
	effects  Effects
	log      *zerolog.Logger

	mu      sync.Mutex
	generic boundedLog
	message boundedLog
}

// New builds an aggregator for one authenticated identity.
// snaps and effects may be nil.
func New(identity string, genericCap, messageCap int, snaps store.SnapshotStore, effects Effects, logger *zerolog.Logger) *Aggregator {
	if logger == nil {
		logger = log.Nop()
	}
	if effects == nil {
		effects = LogEffects{Log: logger}
	}
	if genericCap <= 0 {
		genericCap = 100
	}
	if messageCap <= 0 {
		messageCap = 50
	}
	return &Aggregator{
		identity: identity,
		snaps:    snaps,
		effects:  effects,
		log:      logger,
		generic:  boundedLog{cap: genericCap},
		message:  boundedLog{cap: messageCap},
	}
}

// Load restores both logs from the persisted snapshots.
func (a *Aggregator) Load(ctx context.Context) error {
	if a.snaps == nil {
		return nil
	}
	for _, kind := range []Kind{KindGeneric, KindMessage} {
		items, err := a.snaps.LoadSnapshot(ctx, a.identity, kind.storeKind())
		if err != nil {
			return err
		}
		a.mu.Lock()
		logRef := a.logFor(kind)
		logRef.items = logRef.items[:0]
		logRef.unread = 0
		for _, it := range items {
			n := Notification{
				ID:        it.ID,
				Kind:      kind,
				Title:     it.Title,
				Body:      it.Body,
				Room:      it.Room,
				SenderID:  it.SenderID,
				CreatedAt: it.CreatedAt,
				IsRead:    it.IsRead,
			}
			logRef.items = append(logRef.items, n)
			if !n.IsRead {
				logRef.unread++
			}
		}
		a.mu.Unlock()
	}
	return nil
}

// AddGeneric pushes onto the generic log.
func (a *Aggregator) AddGeneric(n Notification) Notification {
	n.Kind = KindGeneric
	return a.add(n)
}

// AddMessage pushes onto the message log.
func (a *Aggregator) AddMessage(n Notification) Notification {
	n.Kind = KindMessage
	return a.add(n)
}

func (a *Aggregator) add(n Notification) Notification {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.IsRead = false

	a.mu.Lock()
	logRef := a.logFor(n.Kind)
	logRef.items = append(logRef.items, n)
	logRef.unread++
	// Evict oldest past the cap; an evicted unread entry leaves the counter.
	for len(logRef.items) > logRef.cap {
		if !logRef.items[0].IsRead {
			logRef.unread--
		}
		logRef.items = logRef.items[1:]
	}
	a.mu.Unlock()

	a.persist(n.Kind)
	a.effects.Sound(n.Kind)
	if err := a.effects.Desktop(n.Title, n.Body); err != nil {
		a.log.Debug().Err(err).Msg("desktop notification failed")
	}
	return n
}

// MarkRead flips one entry to read. Returns true if an unread entry changed.
func (a *Aggregator) MarkRead(id string) bool {
	a.mu.Lock()
	var changed Kind
	found := false
	for _, kind := range []Kind{KindGeneric, KindMessage} {
		logRef := a.logFor(kind)
		for i := range logRef.items {
			if logRef.items[i].ID == id && !logRef.items[i].IsRead {
				logRef.items[i].IsRead = true
				logRef.unread--
				changed = kind
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	a.mu.Unlock()

	if found {
		a.persist(changed)
	}
	return found
}

// MarkAllRead flips every entry of one log to read.
func (a *Aggregator) MarkAllRead(kind Kind) {
	a.mu.Lock()
	logRef := a.logFor(kind)
	for i := range logRef.items {
		logRef.items[i].IsRead = true
	}
	logRef.unread = 0
	a.mu.Unlock()
	a.persist(kind)
}

// MarkRoomRead marks every message notification for a room as read.
// Returns how many entries changed. Invoked when a conversation opens.
func (a *Aggregator) MarkRoomRead(roomID string) int {
	a.mu.Lock()
	logRef := &a.message
	marked := 0
	for i := range logRef.items {
		if logRef.items[i].Room == roomID && !logRef.items[i].IsRead {
			logRef.items[i].IsRead = true
			logRef.unread--
			marked++
		}
	}
	a.mu.Unlock()

	if marked > 0 {
		a.persist(KindMessage)
	}
	return marked
}

// Remove deletes one entry, decrementing the counter only if it was unread.
func (a *Aggregator) Remove(id string) bool {
	a.mu.Lock()
	var changed Kind
	found := false
	for _, kind := range []Kind{KindGeneric, KindMessage} {
		logRef := a.logFor(kind)
		for i := range logRef.items {
			if logRef.items[i].ID == id {
				if !logRef.items[i].IsRead {
					logRef.unread--
				}
				logRef.items = append(logRef.items[:i], logRef.items[i+1:]...)
				changed = kind
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	a.mu.Unlock()

	if found {
		a.persist(changed)
	}
	return found
}

// ClearAll empties one log, zeroes its counter, and drops its snapshot.
func (a *Aggregator) ClearAll(kind Kind) {
	a.mu.Lock()
	logRef := a.logFor(kind)
	logRef.items = nil
	logRef.unread = 0
	a.mu.Unlock()
	a.persist(kind)
}

// Purge discards both logs and every persisted snapshot for the identity.
// Called at logout.
func (a *Aggregator) Purge(ctx context.Context) {
	a.mu.Lock()
	a.generic.items = nil
	a.generic.unread = 0
	a.message.items = nil
	a.message.unread = 0
	a.mu.Unlock()

	if a.snaps == nil {
		return
	}
	if err := a.snaps.DeleteSnapshots(ctx, a.identity); err != nil {
		a.log.Warn().Err(err).Msg("purge snapshots failed")
	}
}

// UnreadGeneric returns the generic log's unread count.
func (a *Aggregator) UnreadGeneric() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generic.unread
}

// UnreadMessage returns the message log's unread count.
func (a *Aggregator) UnreadMessage() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.message.unread
}

// Generic returns a copy of the generic log, oldest first.
func (a *Aggregator) Generic() []Notification {
	return a.copyOf(KindGeneric)
}

// Messages returns a copy of the message log, oldest first.
func (a *Aggregator) Messages() []Notification {
	return a.copyOf(KindMessage)
}

func (a *Aggregator) copyOf(kind Kind) []Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	logRef := a.logFor(kind)
	out := make([]Notification, len(logRef.items))
	copy(out, logRef.items)
	return out
}

func (a *Aggregator) logFor(kind Kind) *boundedLog {
	if kind == KindMessage {
		return &a.message
	}
	return &a.generic
}

// persist writes one log's snapshot. Best-effort: a storage failure is
// logged and in-memory state stays authoritative for the session.
func (a *Aggregator) persist(kind Kind) {
	if a.snaps == nil {
		return
	}

	a.mu.Lock()
	logRef := a.logFor(kind)
	items := make([]store.Notification, len(logRef.items))
	for i, n := range logRef.items {
		items[i] = store.Notification{
			ID:        n.ID,
			Title:     n.Title,
			Body:      n.Body,
			Room:      n.Room,
			SenderID:  n.SenderID,
			CreatedAt: n.CreatedAt,
			IsRead:    n.IsRead,
		}
	}
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.snaps.SaveSnapshot(ctx, a.identity, kind.storeKind(), items); err != nil {
		a.log.Warn().Err(err).Str("kind", kind.String()).Msg("snapshot write failed")
	}
}
