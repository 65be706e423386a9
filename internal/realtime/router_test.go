package realtime

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/workmesh/realtime/internal/proto"
)

func newTestRouter(t *testing.T) (*Router, *fakeEmitter, *Streams, *TypingCoordinator, *clock.Mock) {
	t.Helper()
	em := &fakeEmitter{}
	mock := clock.NewMock()
	streams := NewStreams(em, &fakeAPI{}, nil, mock)
	typing := NewTypingCoordinator(em, 2*time.Second, 3*time.Second, nil, mock)
	return NewRouter(em, streams, typing, nil), em, streams, typing, mock
}

func TestRouterMembershipIsNetJoins(t *testing.T) {
	router, _, _, _, _ := newTestRouter(t)
	ctx := context.Background()

	calls := []struct {
		join bool
		room string
	}{
		{true, "r1"}, {true, "r2"}, {true, "r1"}, // duplicate join is idempotent
		{false, "r2"},
		{true, "r3"},
		{false, "r9"}, // leave of a never-joined room is a no-op
		{false, "r1"},
		{true, "r1"},
	}
	for _, c := range calls {
		if c.join {
			if err := router.Join(ctx, c.room); err != nil {
				t.Fatalf("join %s: %v", c.room, err)
			}
		} else {
			if err := router.Leave(ctx, c.room); err != nil {
				t.Fatalf("leave %s: %v", c.room, err)
			}
		}
	}

	want := []string{"r1", "r3"}
	if got := router.Active(); !reflect.DeepEqual(got, want) {
		t.Fatalf("active rooms = %v, want %v", got, want)
	}
}

func TestRouterJoinIdempotentEmitsOnce(t *testing.T) {
	router, em, _, _, _ := newTestRouter(t)
	ctx := context.Background()

	router.Join(ctx, "r1")
	router.Join(ctx, "r1")
	router.Join(ctx, "r1")

	if n := em.count(proto.OutboundTypeJoinRoom); n != 1 {
		t.Fatalf("join_room emitted %d times, want 1", n)
	}
}

func TestRouterDispatchDropsInactiveRooms(t *testing.T) {
	router, _, streams, _, _ := newTestRouter(t)
	ctx := context.Background()

	router.Join(ctx, "joined")

	msg := func(id, room string) *Message {
		return &Message{ID: id, Room: room, Body: "hi", CreatedAt: time.Unix(100, 0)}
	}
	router.Dispatch(RoomEvent{Kind: RoomEventMessage, Room: "joined", Message: msg("m1", "joined")})
	router.Dispatch(RoomEvent{Kind: RoomEventMessage, Room: "other", Message: msg("m2", "other")})

	if n := streams.Get("joined").Len(); n != 1 {
		t.Fatalf("joined room has %d messages, want 1", n)
	}
	if n := streams.Get("other").Len(); n != 0 {
		t.Fatalf("inactive room has %d messages, want 0 (event must be dropped, not buffered)", n)
	}

	// Leaving stops dispatch immediately; the event is not buffered for a
	// future join either.
	router.Leave(ctx, "joined")
	router.Dispatch(RoomEvent{Kind: RoomEventMessage, Room: "joined", Message: msg("m3", "joined")})
	router.Join(ctx, "joined")
	if n := streams.Get("joined").Len(); n != 1 {
		t.Fatalf("rejoined room has %d messages, want 1", n)
	}
}

func TestRouterRejoinKeepsMessageLogs(t *testing.T) {
	router, em, streams, _, _ := newTestRouter(t)
	ctx := context.Background()

	router.Join(ctx, "r1")
	router.Dispatch(RoomEvent{Kind: RoomEventMessage, Room: "r1", Message: &Message{ID: "m1", Room: "r1", CreatedAt: time.Unix(1, 0)}})

	active := router.Active()
	router.Rejoin(ctx, active)

	if n := streams.Get("r1").Len(); n != 1 {
		t.Fatalf("message log has %d entries after rejoin, want 1", n)
	}
	if n := em.count(proto.OutboundTypeJoinRoom); n != 2 {
		t.Fatalf("join_room emitted %d times, want 2 (initial + rejoin)", n)
	}
	if !router.IsMember("r1") {
		t.Fatal("membership lost after rejoin")
	}
}

func TestRouterLeaveClearsTypingPresence(t *testing.T) {
	router, _, _, typing, _ := newTestRouter(t)
	ctx := context.Background()

	router.Join(ctx, "r1")
	typing.Observe("r1", "u2", "bob", true)
	if len(typing.TypingUsers("r1")) != 1 {
		t.Fatal("expected typing presence before leave")
	}

	router.Leave(ctx, "r1")
	if users := typing.TypingUsers("r1"); len(users) != 0 {
		t.Fatalf("typing presence survived leave: %v", users)
	}
}

func TestRouterResetEmptiesMembership(t *testing.T) {
	router, _, _, _, _ := newTestRouter(t)
	ctx := context.Background()

	router.Join(ctx, "r1")
	router.Join(ctx, "r2")
	router.Reset()

	if got := router.Active(); len(got) != 0 {
		t.Fatalf("active rooms after reset = %v, want none", got)
	}
}
