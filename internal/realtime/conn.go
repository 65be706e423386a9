package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/workmesh/realtime/internal/log"
	"github.com/workmesh/realtime/internal/proto"
)

// ConnOptions configure the connection manager.
type ConnOptions struct {
	WSEndpoint         string
	PollEndpoint       string
	EnablePollFallback bool

	DialTimeout    time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// Transport overrides endpoint-based transport selection. Used by tests
	// and by callers that construct their own transport.
	Transport Transport
}

// Conn owns the single authenticated connection to the realtime gateway.
// All inbound frames pass through its read loop, which fans them out to the
// room dispatcher, the notice stream, and the presence roster. On unexpected
// transport loss it reconnects with bounded exponential backoff and replays
// the join set that was active immediately before the drop. A rejected
// credential is terminal: the session surfaces the error and never retries.
type Conn struct {
	opts ConnOptions
	log  *zerolog.Logger
	clk  clock.Clock

	mu         sync.Mutex
	state      ConnState
	transport  Transport
	credential string
	userID     string
	userName   string
	dispatcher RoomDispatcher

	lifecycle chan LifecycleEvent
	notices   chan Notice
	roster    *Roster

	readCancel context.CancelFunc
	closeOnce  sync.Once
	closed     chan struct{}
	done       chan struct{}
	doneOnce   sync.Once
	wg         sync.WaitGroup
}

// NewConn builds a connection manager. logger and clk may be nil.
func NewConn(opts ConnOptions, logger *zerolog.Logger, clk clock.Clock) *Conn {
	if logger == nil {
		logger = log.Nop()
	}
	if clk == nil {
		clk = clock.New()
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.BackoffInitial == 0 {
		opts.BackoffInitial = 500 * time.Millisecond
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 15 * time.Second
	}
	return &Conn{
		opts:      opts,
		log:       logger,
		clk:       clk,
		state:     StateDisconnected,
		transport: opts.Transport,
		lifecycle: make(chan LifecycleEvent, 8),
		notices:   make(chan Notice, 64),
		roster:    NewRoster(),
		closed:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SetDispatcher wires the room router. Must be called before Connect.
func (c *Conn) SetDispatcher(d RoomDispatcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatcher = d
}

// Lifecycle is the typed stream of connection lifecycle signals.
func (c *Conn) Lifecycle() <-chan LifecycleEvent { return c.lifecycle }

// Notices is the raw notification stream, independent of room membership.
func (c *Conn) Notices() <-chan Notice { return c.notices }

// Done is closed once the connection is gone for good, after an explicit
// Close or a terminal credential rejection. The lifecycle channel drops
// events when its consumer is behind; Done cannot, so teardown paths must
// wait on it rather than on a LifecycleClosed event.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Presence is the roster of counterparts currently online.
func (c *Conn) Presence() *Roster { return c.roster }

// State returns the current lifecycle state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the gateway and authenticates with the bearer credential.
// On success the connection is Connected, the identity is registered as
// present server-side by the hello frame, and the read loop runs until
// Close. An auth rejection is returned as ErrAuthRejected.
func (c *Conn) Connect(ctx context.Context, credential string) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("connect from state %s", c.state)
	}
	c.state = StateConnecting
	c.credential = credential
	c.mu.Unlock()

	ok, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		if errors.Is(err, ErrAuthRejected) {
			return wrapErr(ErrCodeAuthRejected, "authentication rejected", err)
		}
		return err
	}

	c.mu.Lock()
	c.state = StateConnected
	c.userID = ok.UserID
	c.userName = ok.UserName
	c.mu.Unlock()

	c.publishLifecycle(LifecycleEvent{Kind: LifecycleConnected, UserID: ok.UserID, UserName: ok.UserName})
	c.log.Info().Str("user_id", ok.UserID).Msg("connected")

	readCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.readCancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.readLoop(readCtx)
	}()
	return nil
}

// Emit sends one frame over the active connection. It fails with
// ErrNotConnected while disconnected or reconnecting; callers decide how to
// surface that (a chat send marks the message Failed).
func (c *Conn) Emit(ctx context.Context, out proto.Outbound) error {
	c.mu.Lock()
	transport := c.transport
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || transport == nil {
		return wrapErr(ErrCodeNotConnected, "emit while "+state.String(), ErrNotConnected)
	}
	if err := transport.Write(ctx, out); err != nil {
		return wrapErr(ErrCodeSendFailed, "emit "+out.Type, err)
	}
	return nil
}

// Close tears down the transport and stops the read loop. Room membership
// and typing state are cleared by the owning session; persisted
// notifications are untouched.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.mu.Lock()
		cancel := c.readCancel
		transport := c.transport
		c.state = StateDisconnected
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if transport != nil {
			err = transport.Close()
		}
		c.wg.Wait()
		c.roster.Reset()
		c.publishLifecycle(LifecycleEvent{Kind: LifecycleClosed})
		c.finish()
		c.log.Info().Msg("connection closed")
	})
	return err
}

// dial establishes a transport. WebSocket first; if that fails with a
// non-auth error and the fallback is enabled, HTTP long-polling.
func (c *Conn) dial(ctx context.Context) (*proto.HelloOKData, error) {
	hello := proto.HelloData{Token: c.credential, Protocol: proto.ProtocolVersion}

	dctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	c.mu.Lock()
	transport := c.transport
	c.mu.Unlock()

	if transport != nil {
		return transport.Dial(dctx, hello)
	}

	ws := NewWSTransport(c.opts.WSEndpoint)
	ok, err := ws.Dial(dctx, hello)
	if err == nil {
		c.setTransport(ws)
		return ok, nil
	}
	if errors.Is(err, ErrAuthRejected) || !c.opts.EnablePollFallback || c.opts.PollEndpoint == "" {
		return nil, err
	}

	c.log.Warn().Err(err).Msg("websocket dial failed, falling back to long-poll")
	poll := NewPollTransport(c.opts.PollEndpoint)
	ok, perr := poll.Dial(dctx, hello)
	if perr != nil {
		return nil, fmt.Errorf("poll fallback after %v: %w", err, perr)
	}
	c.setTransport(poll)
	return ok, nil
}

func (c *Conn) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		transport := c.transport
		c.mu.Unlock()
		if transport == nil {
			return
		}

		in, err := transport.Read(ctx)
		if err != nil {
			if c.isClosed() || ctx.Err() != nil {
				return
			}
			if rerr := c.reconnect(ctx); rerr != nil {
				return
			}
			continue
		}
		c.handleInbound(in)
	}
}

// reconnect retries the dial with bounded exponential backoff and, on
// success, re-joins the rooms that were active immediately before the drop.
// A credential rejection during reconnect ends the session.
func (c *Conn) reconnect(ctx context.Context) error {
	c.mu.Lock()
	dispatcher := c.dispatcher
	c.state = StateReconnecting
	c.mu.Unlock()

	var rooms []string
	if dispatcher != nil {
		rooms = dispatcher.Active()
	}
	c.publishLifecycle(LifecycleEvent{Kind: LifecycleReconnecting})
	c.log.Warn().Strs("rooms", rooms).Msg("connection lost, reconnecting")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.BackoffInitial
	bo.MaxInterval = c.opts.BackoffMax
	bo.MaxElapsedTime = 0 // retry until closed or rejected

	for attempt := 1; ; attempt++ {
		wait := bo.NextBackOff()
		timer := c.clk.Timer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-c.closed:
			timer.Stop()
			return ErrConnClosed
		}

		ok, err := c.dial(ctx)
		if err != nil {
			if errors.Is(err, ErrAuthRejected) {
				c.setState(StateDisconnected)
				c.publishLifecycle(LifecycleEvent{Kind: LifecycleClosed, Err: err})
				c.finish()
				c.log.Error().Err(err).Msg("credential rejected during reconnect")
				return err
			}
			c.log.Debug().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
			continue
		}

		c.mu.Lock()
		c.state = StateConnected
		c.userID = ok.UserID
		c.userName = ok.UserName
		c.mu.Unlock()

		c.publishLifecycle(LifecycleEvent{Kind: LifecycleConnected, UserID: ok.UserID, UserName: ok.UserName})
		if dispatcher != nil && len(rooms) > 0 {
			dispatcher.Rejoin(ctx, rooms)
			c.publishLifecycle(LifecycleEvent{Kind: LifecycleRejoined, Rooms: rooms})
		}
		c.log.Info().Int("attempt", attempt).Strs("rooms", rooms).Msg("reconnected")
		return nil
	}
}

func (c *Conn) handleInbound(in *proto.Inbound) {
	switch in.Type {
	case proto.InboundTypeNewMessage:
		var ev proto.MessageEvent
		if err := unmarshalData(in.Data, &ev); err != nil {
			c.log.Warn().Err(err).Msg("malformed new_message")
			return
		}
		msg := messageFromEvent(ev)
		c.dispatch(RoomEvent{Kind: RoomEventMessage, Room: ev.Room, Message: &msg})

	case proto.InboundTypeUserTyping:
		var ev proto.TypingEvent
		if err := unmarshalData(in.Data, &ev); err != nil {
			c.log.Warn().Err(err).Msg("malformed user_typing")
			return
		}
		c.dispatch(RoomEvent{Kind: RoomEventTyping, Room: ev.Room, Typing: &ev})

	case proto.InboundTypeNotification:
		c.publishNotice(in, NoticeGeneric)
	case proto.InboundTypeMessageNotification:
		c.publishNotice(in, NoticeMessage)
	case proto.InboundTypeNewJobAvailable:
		c.publishNotice(in, NoticeJob)
	case proto.InboundTypeStatusUpdated:
		c.publishNotice(in, NoticeStatus)

	case proto.InboundTypeUserOnline:
		var ev proto.PresenceEvent
		if err := unmarshalData(in.Data, &ev); err == nil {
			c.roster.SetOnline(ev.UserID, true)
		}
	case proto.InboundTypeUserOffline:
		var ev proto.PresenceEvent
		if err := unmarshalData(in.Data, &ev); err == nil {
			c.roster.SetOnline(ev.UserID, false)
		}

	case proto.InboundTypeError:
		if in.Error != nil {
			c.log.Warn().Str("code", in.Error.Code).Str("msg", in.Error.Msg).Msg("gateway error frame")
		}

	default:
		c.log.Debug().Str("type", in.Type).Msg("ignoring unknown frame")
	}
}

func (c *Conn) dispatch(ev RoomEvent) {
	c.mu.Lock()
	dispatcher := c.dispatcher
	c.mu.Unlock()
	if dispatcher != nil {
		dispatcher.Dispatch(ev)
	}
}

func (c *Conn) publishNotice(in *proto.Inbound, kind NoticeKind) {
	var ev proto.NotificationEvent
	if err := unmarshalData(in.Data, &ev); err != nil {
		c.log.Warn().Err(err).Str("type", in.Type).Msg("malformed notification frame")
		return
	}
	n := Notice{
		Kind:      kind,
		ID:        ev.ID,
		Title:     ev.Title,
		Body:      ev.Body,
		Room:      ev.Room,
		SenderID:  ev.SenderID,
		CreatedAt: time.Unix(ev.TS, 0),
		Payload:   in.Data,
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if ev.TS == 0 {
		n.CreatedAt = c.clk.Now()
	}
	select {
	case c.notices <- n:
	default:
		// Drop if the consumer is behind; counters stay consistent because
		// the aggregator never saw the entry.
		c.log.Warn().Str("id", n.ID).Msg("notice stream full, dropping")
	}
}

func (c *Conn) publishLifecycle(ev LifecycleEvent) {
	select {
	case c.lifecycle <- ev:
	default:
	}
}

func (c *Conn) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Conn) setTransport(t Transport) {
	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func messageFromEvent(ev proto.MessageEvent) Message {
	msg := Message{
		ID:         ev.ID,
		Room:       ev.Room,
		SenderID:   ev.SenderID,
		SenderName: ev.SenderName,
		Body:       ev.Body,
		CreatedAt:  time.Unix(ev.TS, 0),
		Delivery:   DeliverySent,
	}
	for _, a := range ev.Attachments {
		msg.Attachments = append(msg.Attachments, Attachment{
			Filename:  a.Filename,
			URL:       a.URL,
			MimeType:  a.MimeType,
			SizeBytes: a.SizeBytes,
		})
	}
	return msg
}
