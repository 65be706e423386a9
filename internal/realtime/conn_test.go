package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/workmesh/realtime/internal/proto"
)

// fakeTransport scripts dial results and feeds inbound frames through a
// channel. readErr, once delivered, makes the next Read fail exactly once.
type fakeTransport struct {
	mu       sync.Mutex
	dials    []dialResult
	dialN    int
	writes   []proto.Outbound
	inbound  chan *proto.Inbound
	readErrs chan error
}

type dialResult struct {
	ok  *proto.HelloOKData
	err error
}

func newFakeTransport(dials ...dialResult) *fakeTransport {
	return &fakeTransport{
		dials:    dials,
		inbound:  make(chan *proto.Inbound, 16),
		readErrs: make(chan error, 16),
	}
}

func (f *fakeTransport) Dial(context.Context, proto.HelloData) (*proto.HelloOKData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dialN >= len(f.dials) {
		return nil, errors.New("no scripted dial result")
	}
	res := f.dials[f.dialN]
	f.dialN++
	return res.ok, res.err
}

func (f *fakeTransport) Read(ctx context.Context) (*proto.Inbound, error) {
	select {
	case in := <-f.inbound:
		return in, nil
	case err := <-f.readErrs:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Write(_ context.Context, out proto.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, out)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) push(t *testing.T, frameType string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", frameType, err)
	}
	f.inbound <- &proto.Inbound{Type: frameType, Data: raw}
}

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dialN
}

// fakeDispatcher records dispatched events and rejoin calls.
type fakeDispatcher struct {
	mu      sync.Mutex
	active  []string
	events  []RoomEvent
	rejoins [][]string
}

func (f *fakeDispatcher) Dispatch(ev RoomEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeDispatcher) Active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.active...)
}

func (f *fakeDispatcher) Rejoin(_ context.Context, rooms []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejoins = append(f.rejoins, rooms)
}

func (f *fakeDispatcher) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeDispatcher) rejoinCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rejoins)
}

func newConnWithTransport(tr Transport) *Conn {
	return NewConn(ConnOptions{
		Transport:      tr,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}, nil, nil)
}

func waitLifecycle(t *testing.T, conn *Conn, kind LifecycleKind) LifecycleEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-conn.Lifecycle():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for lifecycle %v", kind)
		}
	}
}

func TestConnConnectPublishesIdentity(t *testing.T) {
	tr := newFakeTransport(dialResult{ok: &proto.HelloOKData{UserID: "u1", UserName: "alice"}})
	conn := newConnWithTransport(tr)
	defer conn.Close()

	if err := conn.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if conn.State() != StateConnected {
		t.Fatalf("state = %s, want connected", conn.State())
	}
	ev := waitLifecycle(t, conn, LifecycleConnected)
	if ev.UserID != "u1" || ev.UserName != "alice" {
		t.Fatalf("lifecycle identity = %q/%q", ev.UserID, ev.UserName)
	}
}

func TestConnAuthRejectionIsTerminal(t *testing.T) {
	tr := newFakeTransport(dialResult{err: ErrAuthRejected})
	conn := newConnWithTransport(tr)

	err := conn.Connect(context.Background(), "bad")
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("Connect = %v, want ErrAuthRejected", err)
	}
	if conn.State() != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", conn.State())
	}
	if tr.dialCount() != 1 {
		t.Fatalf("dialed %d times after rejection, want 1", tr.dialCount())
	}
}

func TestConnEmitWhileDisconnected(t *testing.T) {
	conn := newConnWithTransport(newFakeTransport())

	err := conn.Emit(context.Background(), proto.Outbound{Type: proto.OutboundTypeJoinRoom})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Emit = %v, want ErrNotConnected", err)
	}
}

func TestConnRoutesMessagesToDispatcher(t *testing.T) {
	tr := newFakeTransport(dialResult{ok: &proto.HelloOKData{UserID: "u1"}})
	conn := newConnWithTransport(tr)
	defer conn.Close()

	disp := &fakeDispatcher{}
	conn.SetDispatcher(disp)
	if err := conn.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	tr.push(t, proto.InboundTypeNewMessage, proto.MessageEvent{ID: "m1", Room: "r1", Body: "hi", TS: 1700000000})
	tr.push(t, proto.InboundTypeUserTyping, proto.TypingEvent{Room: "r1", UserID: "u2", IsTyping: true})

	waitFor(t, func() bool { return disp.eventCount() == 2 })
	disp.mu.Lock()
	defer disp.mu.Unlock()
	if disp.events[0].Kind != RoomEventMessage || disp.events[0].Message.ID != "m1" {
		t.Fatalf("first event = %+v", disp.events[0])
	}
	if disp.events[1].Kind != RoomEventTyping || !disp.events[1].Typing.IsTyping {
		t.Fatalf("second event = %+v", disp.events[1])
	}
}

func TestConnPublishesNoticesRegardlessOfRooms(t *testing.T) {
	tr := newFakeTransport(dialResult{ok: &proto.HelloOKData{UserID: "u1"}})
	conn := newConnWithTransport(tr)
	defer conn.Close()

	// No dispatcher, no rooms joined: notices still flow.
	if err := conn.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	tr.push(t, proto.InboundTypeMessageNotification, proto.NotificationEvent{ID: "n1", Room: "r9", Body: "hello", TS: 1700000000})

	select {
	case n := <-conn.Notices():
		if n.Kind != NoticeMessage || n.ID != "n1" || n.Room != "r9" {
			t.Fatalf("notice = %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notice")
	}
}

func TestConnTracksPresence(t *testing.T) {
	tr := newFakeTransport(dialResult{ok: &proto.HelloOKData{UserID: "u1"}})
	conn := newConnWithTransport(tr)
	defer conn.Close()

	if err := conn.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	tr.push(t, proto.InboundTypeUserOnline, proto.PresenceEvent{UserID: "u2"})
	waitFor(t, func() bool { return conn.Presence().Online("u2") })

	tr.push(t, proto.InboundTypeUserOffline, proto.PresenceEvent{UserID: "u2"})
	waitFor(t, func() bool { return !conn.Presence().Online("u2") })
}

func TestConnReconnectRejoinsActiveRooms(t *testing.T) {
	tr := newFakeTransport(
		dialResult{ok: &proto.HelloOKData{UserID: "u1"}},
		dialResult{err: errors.New("gateway still down")},
		dialResult{ok: &proto.HelloOKData{UserID: "u1"}},
	)
	conn := newConnWithTransport(tr)
	defer conn.Close()

	disp := &fakeDispatcher{active: []string{"r1", "r2"}}
	conn.SetDispatcher(disp)
	if err := conn.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	tr.readErrs <- errors.New("connection reset")

	waitLifecycle(t, conn, LifecycleReconnecting)
	ev := waitLifecycle(t, conn, LifecycleRejoined)
	if len(ev.Rooms) != 2 || ev.Rooms[0] != "r1" || ev.Rooms[1] != "r2" {
		t.Fatalf("rejoined rooms = %v", ev.Rooms)
	}
	if disp.rejoinCount() != 1 {
		t.Fatalf("Rejoin called %d times, want 1", disp.rejoinCount())
	}
	if conn.State() != StateConnected {
		t.Fatalf("state = %s after reconnect", conn.State())
	}
}

func TestConnReconnectStopsOnAuthRejection(t *testing.T) {
	tr := newFakeTransport(
		dialResult{ok: &proto.HelloOKData{UserID: "u1"}},
		dialResult{err: ErrAuthRejected},
	)
	conn := newConnWithTransport(tr)
	defer conn.Close()

	if err := conn.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	tr.readErrs <- errors.New("connection reset")

	ev := waitLifecycle(t, conn, LifecycleClosed)
	if !errors.Is(ev.Err, ErrAuthRejected) {
		t.Fatalf("closed err = %v, want ErrAuthRejected", ev.Err)
	}
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not signalled after terminal rejection")
	}
	if conn.State() != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", conn.State())
	}
	if tr.dialCount() != 2 {
		t.Fatalf("dialed %d times, want 2 (no retry after rejection)", tr.dialCount())
	}
}

func TestConnCloseSignalsDoneWithFullLifecycleBuffer(t *testing.T) {
	// One dial for the connect plus one per reconnect cycle.
	dials := []dialResult{{ok: &proto.HelloOKData{UserID: "u1"}}}
	const cycles = 6
	for i := 0; i < cycles; i++ {
		dials = append(dials, dialResult{ok: &proto.HelloOKData{UserID: "u1"}})
	}
	tr := newFakeTransport(dials...)
	conn := newConnWithTransport(tr)

	disp := &fakeDispatcher{active: []string{"r1"}}
	conn.SetDispatcher(disp)
	if err := conn.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Cycle reconnects with nobody draining the lifecycle channel until its
	// buffer overflows and events start dropping.
	for i := 0; i < cycles; i++ {
		tr.readErrs <- errors.New("connection reset")
		want := i + 2
		waitFor(t, func() bool { return tr.dialCount() == want })
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The shutdown signal must survive even though LifecycleClosed may have
	// been dropped with the rest of the backlog.
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not signalled after Close with a full lifecycle buffer")
	}
}

func TestConnCloseResetsRoster(t *testing.T) {
	tr := newFakeTransport(dialResult{ok: &proto.HelloOKData{UserID: "u1"}})
	conn := newConnWithTransport(tr)

	if err := conn.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	tr.push(t, proto.InboundTypeUserOnline, proto.PresenceEvent{UserID: "u2"})
	waitFor(t, func() bool { return conn.Presence().Online("u2") })

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if conn.Presence().Online("u2") {
		t.Fatal("roster survived close")
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
