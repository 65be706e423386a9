// Package app assembles the realtime subsystem into a session-scoped object:
// constructed at login, passed by reference to dependents, destroyed at
// logout. Nothing here is reachable through package-level state.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/workmesh/realtime/internal/auth"
	"github.com/workmesh/realtime/internal/config"
	"github.com/workmesh/realtime/internal/log"
	"github.com/workmesh/realtime/internal/notify"
	"github.com/workmesh/realtime/internal/proto"
	"github.com/workmesh/realtime/internal/realtime"
	"github.com/workmesh/realtime/internal/rest"
	"github.com/workmesh/realtime/internal/store"
	"github.com/workmesh/realtime/internal/store/sqlite"
)

// Session owns one authenticated realtime session and all its state.
type Session struct {
	cfg      config.Config
	log      *zerolog.Logger
	identity auth.Identity

	conn       *realtime.Conn
	router     *realtime.Router
	streams    *realtime.Streams
	typing     *realtime.TypingCoordinator
	controller *realtime.ChatController
	notices    *notify.Aggregator
	snaps      store.SnapshotStore

	closeOnce sync.Once
	pumpDone  chan struct{}
}

// Login builds and connects a session for the given bearer credential.
// An expired or rejected credential fails fast and nothing is left running.
func Login(ctx context.Context, cfg config.Config, credential string, logger *zerolog.Logger) (*Session, error) {
	return login(ctx, cfg, credential, logger, nil)
}

// login is Login with an injectable transport, used by tests.
func login(ctx context.Context, cfg config.Config, credential string, logger *zerolog.Logger, transport realtime.Transport) (*Session, error) {
	if logger == nil {
		logger = log.Nop()
	}

	identity, err := auth.ParseCredential(credential)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	// Persistence is best-effort; a broken local store degrades to
	// in-memory notifications. snaps stays a nil interface in that case so
	// downstream nil checks behave.
	var snaps store.SnapshotStore
	if db, err := sqlite.New(cfg.DatabasePath); err != nil {
		logger.Warn().Err(err).Str("path", cfg.DatabasePath).Msg("snapshot store unavailable")
	} else {
		snaps = db
	}

	aggregator := notify.New(identity.ID, cfg.GenericNotificationCap, cfg.MessageNotificationCap, snaps, nil, logger)
	if err := aggregator.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("snapshot load failed")
	}

	restClient := rest.NewClient(cfg.APIEndpoint, credential, logger)
	api := &restAdapter{client: restClient}

	clk := clock.New()
	conn := realtime.NewConn(realtime.ConnOptions{
		WSEndpoint:         cfg.WSEndpoint,
		PollEndpoint:       cfg.PollEndpoint,
		EnablePollFallback: cfg.EnablePollFallback,
		DialTimeout:        cfg.DialTimeout,
		BackoffInitial:     cfg.ReconnectInitial,
		BackoffMax:         cfg.ReconnectMax,
		Transport:          transport,
	}, logger, clk)

	streams := realtime.NewStreams(conn, api, logger, clk)
	typing := realtime.NewTypingCoordinator(conn, cfg.TypingDebounce, cfg.TypingExpiry, logger, clk)
	router := realtime.NewRouter(conn, streams, typing, logger)
	conn.SetDispatcher(router)
	controller := realtime.NewChatController(router, api, aggregator, logger)

	s := &Session{
		cfg:        cfg,
		log:        logger,
		identity:   *identity,
		conn:       conn,
		router:     router,
		streams:    streams,
		typing:     typing,
		controller: controller,
		notices:    aggregator,
		snaps:      snaps,
		pumpDone:   make(chan struct{}),
	}

	if err := conn.Connect(ctx, credential); err != nil {
		if snaps != nil {
			snaps.Close()
		}
		return nil, err
	}
	streams.SetSender(identity.ID, identity.DisplayName)

	go s.pump()
	return s, nil
}

// pump forwards the raw notice stream into the aggregator and logs
// lifecycle transitions. It exits on the connection's Done signal, never on
// a LifecycleClosed event: lifecycle events are droppable when the buffer
// is full, Done is not.
func (s *Session) pump() {
	defer close(s.pumpDone)
	lifecycle := s.conn.Lifecycle()
	noticeCh := s.conn.Notices()
	for {
		select {
		case n := <-noticeCh:
			s.routeNotice(n)
		case ev := <-lifecycle:
			if ev.Kind == realtime.LifecycleClosed && ev.Err != nil {
				s.log.Error().Err(ev.Err).Msg("session connection ended")
			}
		case <-s.conn.Done():
			return
		}
	}
}

func (s *Session) routeNotice(n realtime.Notice) {
	entry := notify.Notification{
		ID:        n.ID,
		Title:     n.Title,
		Body:      n.Body,
		Room:      n.Room,
		SenderID:  n.SenderID,
		CreatedAt: n.CreatedAt,
	}
	switch n.Kind {
	case realtime.NoticeMessage:
		s.notices.AddMessage(entry)
		// Retroactive read policy: a notice for the conversation that is
		// already open is recorded first and marked read right after, so
		// the badge never depends on a race with the open signal.
		if active := s.controller.Active(); active != nil && active.ID == n.Room {
			s.notices.MarkRoomRead(n.Room)
		}
	default:
		s.notices.AddGeneric(entry)
	}
}

// Identity returns the authenticated identity the session is scoped to.
func (s *Session) Identity() auth.Identity { return s.identity }

// Chat returns the active-conversation controller.
func (s *Session) Chat() *realtime.ChatController { return s.controller }

// Streams returns the per-room message logs.
func (s *Session) Streams() *realtime.Streams { return s.streams }

// Typing returns the typing coordinator.
func (s *Session) Typing() *realtime.TypingCoordinator { return s.typing }

// Rooms returns the room router.
func (s *Session) Rooms() *realtime.Router { return s.router }

// Notifications returns the notification aggregator.
func (s *Session) Notifications() *notify.Aggregator { return s.notices }

// Presence returns the online roster.
func (s *Session) Presence() *realtime.Roster { return s.conn.Presence() }

// State returns the connection lifecycle state.
func (s *Session) State() realtime.ConnState { return s.conn.State() }

// RequestStatusUpdate asks the counterpart to act on an engagement status
// change. Fire-and-forget over the shared connection.
func (s *Session) RequestStatusUpdate(ctx context.Context, roomID, status, clientID, workerID string) error {
	return s.conn.Emit(ctx, proto.Outbound{
		Type: proto.OutboundTypeStatusUpdate,
		Data: proto.StatusUpdateData{Room: roomID, Status: status, ClientID: clientID, WorkerID: workerID},
	})
}

// AnnounceServiceRequest broadcasts a newly posted job to interested workers.
func (s *Session) AnnounceServiceRequest(ctx context.Context, payload json.RawMessage) error {
	return s.conn.Emit(ctx, proto.Outbound{
		Type: proto.OutboundTypeNewServiceRequest,
		Data: proto.ServiceRequestData{Payload: payload},
	})
}

// Close tears down the connection and all transient state: room membership,
// typing presence, the active conversation. Persisted notification
// snapshots are left intact.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.controller.Close(ctx)
		err = s.conn.Close()
		s.router.Reset()
		<-s.pumpDone
		if s.snaps != nil {
			if cerr := s.snaps.Close(); cerr != nil {
				s.log.Warn().Err(cerr).Msg("snapshot store close failed")
			}
		}
		s.log.Info().Str("user_id", s.identity.ID).Msg("session closed")
	})
	return err
}

// Logout closes the session and additionally discards the identity's
// notification logs and persisted snapshots.
func (s *Session) Logout(ctx context.Context) error {
	s.notices.Purge(ctx)
	return s.Close(ctx)
}

// restAdapter maps REST DTOs onto the realtime collaborator surface.
type restAdapter struct {
	client *rest.Client
}

func (a *restAdapter) History(ctx context.Context, roomID string, page, limit int) ([]realtime.Message, error) {
	records, err := a.client.MessageHistory(ctx, roomID, page, limit)
	if err != nil {
		return nil, err
	}
	msgs := make([]realtime.Message, 0, len(records))
	for _, rec := range records {
		msgs = append(msgs, messageFromRecord(rec))
	}
	return msgs, nil
}

func (a *restAdapter) Conversation(ctx context.Context, id string) (*realtime.Conversation, error) {
	rec, err := a.client.Conversation(ctx, id)
	if err != nil {
		return nil, err
	}
	return &realtime.Conversation{
		ID:              rec.ID,
		Title:           rec.Title,
		ClientID:        rec.ClientID,
		WorkerID:        rec.WorkerID,
		CounterpartID:   rec.CounterpartID,
		CounterpartName: rec.CounterpartName,
	}, nil
}

func (a *restAdapter) Upload(ctx context.Context, filename, mimeType string, data []byte) (*realtime.Attachment, error) {
	rec, err := a.client.UploadAttachment(ctx, filename, mimeType, data)
	if err != nil {
		return nil, err
	}
	return &realtime.Attachment{
		Filename:  rec.Filename,
		URL:       rec.URL,
		MimeType:  rec.MimeType,
		SizeBytes: rec.SizeBytes,
	}, nil
}

func timeFromUnix(ts int64) time.Time {
	return time.Unix(ts, 0)
}

func messageFromRecord(rec rest.MessageRecord) realtime.Message {
	msg := realtime.Message{
		ID:         rec.ID,
		Room:       rec.Room,
		SenderID:   rec.SenderID,
		SenderName: rec.SenderName,
		Body:       rec.Body,
		CreatedAt:  timeFromUnix(rec.CreatedAt),
		Delivery:   realtime.DeliverySent,
	}
	for _, att := range rec.Attachments {
		msg.Attachments = append(msg.Attachments, realtime.Attachment{
			Filename:  att.Filename,
			URL:       att.URL,
			MimeType:  att.MimeType,
			SizeBytes: att.SizeBytes,
		})
	}
	return msg
}
