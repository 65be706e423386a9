package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/workmesh/realtime/internal/log"
	"github.com/workmesh/realtime/internal/proto"
)

// Router tracks which rooms have a live subscriber and routes inbound
// room-scoped events only to those rooms. Events for rooms without a member
// are dropped, never buffered. The membership set is exactly the net result
// of Join/Leave calls.
type Router struct {
	emitter Emitter
	streams *Streams
	typing  *TypingCoordinator
	log     *zerolog.Logger

	mu      sync.Mutex
	members map[string]time.Time // room id -> joinedAt
}

// NewRouter builds a router wired to the given emitter and subscribers.
func NewRouter(em Emitter, streams *Streams, typing *TypingCoordinator, logger *zerolog.Logger) *Router {
	if logger == nil {
		logger = log.Nop()
	}
	return &Router{
		emitter: em,
		streams: streams,
		typing:  typing,
		log:     logger,
		members: make(map[string]time.Time),
	}
}

// Join subscribes the session to a room. Idempotent. A join rejected by the
// gateway is logged and otherwise a no-op; other rooms are unaffected.
func (r *Router) Join(ctx context.Context, roomID string) error {
	if roomID == "" {
		return wrapErr(ErrCodeRoomJoin, "empty room id", nil)
	}

	r.mu.Lock()
	if _, ok := r.members[roomID]; ok {
		r.mu.Unlock()
		return nil
	}
	r.members[roomID] = time.Now()
	r.mu.Unlock()

	if err := r.emitter.Emit(ctx, proto.Outbound{Type: proto.OutboundTypeJoinRoom, Data: proto.RoomData{Room: roomID}}); err != nil {
		r.log.Warn().Err(err).Str("room", roomID).Msg("join emit failed")
	}
	return nil
}

// Leave unsubscribes the session from a room and cancels the room's pending
// typing timers. Idempotent.
func (r *Router) Leave(ctx context.Context, roomID string) error {
	r.mu.Lock()
	_, ok := r.members[roomID]
	delete(r.members, roomID)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	if r.typing != nil {
		r.typing.ClearRoom(roomID)
	}
	if err := r.emitter.Emit(ctx, proto.Outbound{Type: proto.OutboundTypeLeaveRoom, Data: proto.RoomData{Room: roomID}}); err != nil {
		r.log.Warn().Err(err).Str("room", roomID).Msg("leave emit failed")
	}
	return nil
}

// Rejoin re-emits a join for each room after a reconnect. Message logs are
// deliberately untouched; only room presence is re-established.
func (r *Router) Rejoin(ctx context.Context, rooms []string) {
	for _, roomID := range rooms {
		if roomID == "" {
			continue
		}
		r.mu.Lock()
		if _, ok := r.members[roomID]; !ok {
			r.members[roomID] = time.Now()
		}
		r.mu.Unlock()

		if err := r.emitter.Emit(ctx, proto.Outbound{Type: proto.OutboundTypeJoinRoom, Data: proto.RoomData{Room: roomID}}); err != nil {
			r.log.Warn().Err(err).Str("room", roomID).Msg("rejoin emit failed")
		}
	}
}

// Dispatch routes one inbound room-scoped event. Called from the connection
// read loop; events for non-member rooms are silently dropped.
func (r *Router) Dispatch(ev RoomEvent) {
	r.mu.Lock()
	_, member := r.members[ev.Room]
	r.mu.Unlock()
	if !member {
		r.log.Debug().Str("room", ev.Room).Msg("dropping event for inactive room")
		return
	}

	switch ev.Kind {
	case RoomEventMessage:
		if r.streams != nil && ev.Message != nil {
			r.streams.Get(ev.Room).Append(*ev.Message)
		}
	case RoomEventTyping:
		if r.typing != nil && ev.Typing != nil {
			r.typing.Observe(ev.Room, ev.Typing.UserID, ev.Typing.UserName, ev.Typing.IsTyping)
		}
	}
}

// Active returns the sorted set of currently joined rooms.
func (r *Router) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := make([]string, 0, len(r.members))
	for roomID := range r.members {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms
}

// IsMember reports whether the room currently has a live subscriber.
func (r *Router) IsMember(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[roomID]
	return ok
}

// Reset drops all memberships and typing state. Used on session teardown.
func (r *Router) Reset() {
	r.mu.Lock()
	r.members = make(map[string]time.Time)
	r.mu.Unlock()
	if r.typing != nil {
		r.typing.Reset()
	}
}
