package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/workmesh/realtime/internal/proto"
)

// ConnState is the connection lifecycle state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// LifecycleKind identifies a connection lifecycle signal.
type LifecycleKind int

const (
	// LifecycleConnected fires after a successful connect or reconnect.
	LifecycleConnected LifecycleKind = iota
	// LifecycleReconnecting fires when the transport dropped unexpectedly.
	LifecycleReconnecting
	// LifecycleRejoined fires after the previously active rooms were re-joined.
	LifecycleRejoined
	// LifecycleClosed fires when the connection is gone for good, either by
	// an explicit Close or a terminal auth rejection (Err set).
	LifecycleClosed
)

// LifecycleEvent is published on the connection lifecycle stream.
type LifecycleEvent struct {
	Kind     LifecycleKind
	UserID   string
	UserName string
	Rooms    []string // rooms re-joined, for LifecycleRejoined
	Err      error
}

// RoomEventKind identifies a room-scoped event.
type RoomEventKind int

const (
	RoomEventMessage RoomEventKind = iota
	RoomEventTyping
)

// RoomEvent is a room-scoped inbound event handed to the router.
type RoomEvent struct {
	Kind    RoomEventKind
	Room    string
	Message *Message
	Typing  *proto.TypingEvent
}

// NoticeKind classifies raw notification-stream events.
type NoticeKind int

const (
	// NoticeGeneric is a job/status lifecycle notification.
	NoticeGeneric NoticeKind = iota
	// NoticeMessage is a chat notification.
	NoticeMessage
	// NoticeJob announces a newly available job.
	NoticeJob
	// NoticeStatus reports an engagement status change.
	NoticeStatus
)

// Notice is an entry on the raw notification stream. It is independent of
// room membership: the aggregator sees every notice whether or not the room
// is joined.
type Notice struct {
	Kind      NoticeKind
	ID        string
	Title     string
	Body      string
	Room      string
	SenderID  string
	CreatedAt time.Time
	Payload   json.RawMessage
}

// Emitter sends a frame over the active connection. Implemented by Conn.
type Emitter interface {
	Emit(ctx context.Context, out proto.Outbound) error
}

// RoomDispatcher receives room-scoped events from the connection read loop
// and reports/restores the set of active rooms across reconnects.
// Implemented by Router.
type RoomDispatcher interface {
	Dispatch(ev RoomEvent)
	Active() []string
	Rejoin(ctx context.Context, rooms []string)
}

// API is the REST collaborator surface the realtime layer consumes.
// Implemented by the adapter over internal/rest.
type API interface {
	// History returns one page of a room's message log, newest page first.
	History(ctx context.Context, roomID string, page, limit int) ([]Message, error)
	// Conversation resolves full conversation metadata by id.
	Conversation(ctx context.Context, id string) (*Conversation, error)
	// Upload stores attachment bytes and returns the durable reference.
	Upload(ctx context.Context, filename, mimeType string, data []byte) (*Attachment, error)
}
