package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/workmesh/realtime/internal/log"
	"github.com/workmesh/realtime/internal/proto"
)

// TypingUser is one counterpart currently composing in a room.
type TypingUser struct {
	ID   string
	Name string
}

// TypingCoordinator debounces outbound typing signals and expires inbound
// typing presence. Outbound: typing_start is emitted once per burst and a
// stop timer is re-armed while input continues; when input goes idle for the
// debounce window, typing_stop is emitted. Inbound: each observed entry gets
// a hard expiry so presence vanishes even when the explicit stop is lost.
// Presence is transient; nothing here persists.
type TypingCoordinator struct {
	emitter  Emitter
	clk      clock.Clock
	log      *zerolog.Logger
	debounce time.Duration // outbound idle window
	expiry   time.Duration // inbound hard expiry

	mu       sync.Mutex
	outbound map[string]*clock.Timer            // room -> pending stop timer
	presence map[string]map[string]*typingEntry // room -> user id -> entry
}

type typingEntry struct {
	name  string
	timer *clock.Timer
}

// NewTypingCoordinator builds the coordinator. logger and clk may be nil.
func NewTypingCoordinator(em Emitter, debounce, expiry time.Duration, logger *zerolog.Logger, clk clock.Clock) *TypingCoordinator {
	if logger == nil {
		logger = log.Nop()
	}
	if clk == nil {
		clk = clock.New()
	}
	if debounce == 0 {
		debounce = 2 * time.Second
	}
	if expiry == 0 {
		expiry = 3 * time.Second
	}
	return &TypingCoordinator{
		emitter:  em,
		clk:      clk,
		log:      logger,
		debounce: debounce,
		expiry:   expiry,
		outbound: make(map[string]*clock.Timer),
		presence: make(map[string]map[string]*typingEntry),
	}
}

// NotifyTyping reports a keystroke in a room. The first call of a burst
// emits typing_start; subsequent calls within the debounce window only
// re-arm the stop timer.
func (t *TypingCoordinator) NotifyTyping(ctx context.Context, roomID string) {
	t.mu.Lock()
	if timer, ok := t.outbound[roomID]; ok {
		timer.Reset(t.debounce)
		t.mu.Unlock()
		return
	}
	t.outbound[roomID] = t.clk.AfterFunc(t.debounce, func() {
		t.stopTyping(roomID)
	})
	t.mu.Unlock()

	if err := t.emitter.Emit(ctx, proto.Outbound{Type: proto.OutboundTypeTypingStart, Data: proto.RoomData{Room: roomID}}); err != nil {
		t.log.Debug().Err(err).Str("room", roomID).Msg("typing_start emit failed")
	}
}

// stopTyping fires when the debounce window lapses without a keystroke.
func (t *TypingCoordinator) stopTyping(roomID string) {
	t.mu.Lock()
	if _, ok := t.outbound[roomID]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.outbound, roomID)
	t.mu.Unlock()

	if err := t.emitter.Emit(context.Background(), proto.Outbound{Type: proto.OutboundTypeTypingStop, Data: proto.RoomData{Room: roomID}}); err != nil {
		t.log.Debug().Err(err).Str("room", roomID).Msg("typing_stop emit failed")
	}
}

// Observe records an inbound typing signal. An addition arms (or re-arms)
// the hard expiry; an explicit stop removes the entry immediately.
func (t *TypingCoordinator) Observe(roomID, userID, displayName string, isTyping bool) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	room := t.presence[roomID]
	if !isTyping {
		if room != nil {
			if entry, ok := room[userID]; ok {
				entry.timer.Stop()
				delete(room, userID)
			}
		}
		return
	}

	if room == nil {
		room = make(map[string]*typingEntry)
		t.presence[roomID] = room
	}
	if entry, ok := room[userID]; ok {
		entry.name = displayName
		entry.timer.Reset(t.expiry)
		return
	}
	room[userID] = &typingEntry{
		name: displayName,
		timer: t.clk.AfterFunc(t.expiry, func() {
			t.expire(roomID, userID)
		}),
	}
}

func (t *TypingCoordinator) expire(roomID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if room, ok := t.presence[roomID]; ok {
		delete(room, userID)
	}
}

// TypingUsers returns who is currently composing in a room, sorted by name.
func (t *TypingCoordinator) TypingUsers(roomID string) []TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	room := t.presence[roomID]
	users := make([]TypingUser, 0, len(room))
	for id, entry := range room {
		users = append(users, TypingUser{ID: id, Name: entry.name})
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].ID < users[j].ID
	})
	return users
}

// ClearRoom cancels the room's pending timers and drops its presence set.
// Called when the session leaves the room.
func (t *TypingCoordinator) ClearRoom(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearRoomLocked(roomID)
}

func (t *TypingCoordinator) clearRoomLocked(roomID string) {
	if timer, ok := t.outbound[roomID]; ok {
		timer.Stop()
		delete(t.outbound, roomID)
	}
	if room, ok := t.presence[roomID]; ok {
		for _, entry := range room {
			entry.timer.Stop()
		}
		delete(t.presence, roomID)
	}
}

// Reset clears all rooms. Called on disconnect/teardown.
func (t *TypingCoordinator) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for roomID := range t.outbound {
		t.outbound[roomID].Stop()
		delete(t.outbound, roomID)
	}
	for roomID := range t.presence {
		t.clearRoomLocked(roomID)
	}
}
