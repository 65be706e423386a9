package realtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/workmesh/realtime/internal/log"
	"github.com/workmesh/realtime/internal/proto"
)

// Upload is attachment content staged for delivery with a message.
type Upload struct {
	Filename string
	MimeType string
	Data     []byte
}

// DateGroup is a display grouping of one day's messages.
type DateGroup struct {
	Label    string
	Messages []Message
}

// Streams owns the per-room message logs for one session. Logs are created
// lazily, survive reconnects and room switches, and live until the session
// is destroyed.
type Streams struct {
	emitter Emitter
	api     API
	clk     clock.Clock
	log     *zerolog.Logger

	mu         sync.Mutex
	rooms      map[string]*Stream
	senderID   string
	senderName string
}

// NewStreams builds the stream set. logger and clk may be nil.
func NewStreams(em Emitter, api API, logger *zerolog.Logger, clk clock.Clock) *Streams {
	if logger == nil {
		logger = log.Nop()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Streams{
		emitter: em,
		api:     api,
		clk:     clk,
		log:     logger,
		rooms:   make(map[string]*Stream),
	}
}

// SetSender records the authenticated identity stamped onto outgoing messages.
func (s *Streams) SetSender(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.senderID = id
	s.senderName = name
}

// Get returns the room's stream, creating it on first use.
func (s *Streams) Get(roomID string) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[roomID]
	if !ok {
		st = &Stream{room: roomID, owner: s, ids: make(map[string]struct{})}
		s.rooms[roomID] = st
	}
	return st
}

func (s *Streams) sender() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.senderID, s.senderName
}

// Stream is the ordered, de-duplicated message log for one room, merging
// REST-fetched history with pushed events. Ordering is (createdAt, id);
// a message id observed twice collapses to one entry.
type Stream struct {
	room  string
	owner *Streams

	mu   sync.Mutex
	msgs []Message
	ids  map[string]struct{}
}

// Room returns the room id this stream belongs to.
func (st *Stream) Room() string { return st.room }

// Append inserts a message unless its id is already present.
// Returns true if the message was inserted.
func (st *Stream) Append(msg Message) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.insertLocked(msg)
}

func (st *Stream) insertLocked(msg Message) bool {
	if _, dup := st.ids[msg.ID]; dup {
		return false
	}
	st.ids[msg.ID] = struct{}{}

	i := sort.Search(len(st.msgs), func(i int) bool {
		m := st.msgs[i]
		if !m.CreatedAt.Equal(msg.CreatedAt) {
			return m.CreatedAt.After(msg.CreatedAt)
		}
		return m.ID > msg.ID
	})
	st.msgs = append(st.msgs, Message{})
	copy(st.msgs[i+1:], st.msgs[i:])
	st.msgs[i] = msg
	return true
}

// LoadHistory fetches one page from the REST collaborator and merges it into
// the log, skipping ids already present from pushed events.
func (st *Stream) LoadHistory(ctx context.Context, page, limit int) (added int, err error) {
	history, err := st.owner.api.History(ctx, st.room, page, limit)
	if err != nil {
		return 0, fmt.Errorf("load history for %s: %w", st.room, err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	for _, msg := range history {
		msg.Delivery = DeliverySent
		if st.insertLocked(msg) {
			added++
		}
	}
	st.owner.log.Debug().Str("room", st.room).Int("page", page).Int("added", added).Msg("history merged")
	return added, nil
}

// Send stores an optimistic Pending message, uploads staged attachments,
// and emits it. On any failure the message transitions to Failed and stays
// visible; it is never retried automatically. On success it becomes Sent.
func (st *Stream) Send(ctx context.Context, body string, uploads []Upload, recipientID string) (Message, error) {
	senderID, senderName := st.owner.sender()
	msg := Message{
		ID:         uuid.NewString(),
		Room:       st.room,
		SenderID:   senderID,
		SenderName: senderName,
		Body:       body,
		CreatedAt:  st.owner.clk.Now(),
		Delivery:   DeliveryPending,
	}
	st.Append(msg)

	attachments := make([]proto.AttachmentData, 0, len(uploads))
	for _, up := range uploads {
		ref, err := st.owner.api.Upload(ctx, up.Filename, up.MimeType, up.Data)
		if err != nil {
			st.setDelivery(msg.ID, DeliveryFailed)
			st.owner.log.Warn().Err(err).Str("room", st.room).Str("file", up.Filename).Msg("attachment upload failed")
			return st.byID(msg.ID), wrapErr(ErrCodeSendFailed, "upload "+up.Filename, err)
		}
		st.addAttachment(msg.ID, *ref)
		attachments = append(attachments, proto.AttachmentData{
			Filename:  ref.Filename,
			URL:       ref.URL,
			MimeType:  ref.MimeType,
			SizeBytes: ref.SizeBytes,
		})
	}

	out := proto.Outbound{
		Type: proto.OutboundTypeSendMessage,
		Data: proto.SendMessageData{
			ID:          msg.ID,
			Room:        st.room,
			Body:        body,
			RecipientID: recipientID,
			Attachments: attachments,
		},
	}
	if err := st.owner.emitter.Emit(ctx, out); err != nil {
		st.setDelivery(msg.ID, DeliveryFailed)
		st.owner.log.Warn().Err(err).Str("room", st.room).Str("id", msg.ID).Msg("message emit failed")
		return st.byID(msg.ID), wrapErr(ErrCodeSendFailed, "send message", err)
	}

	st.setDelivery(msg.ID, DeliverySent)
	return st.byID(msg.ID), nil
}

// Messages returns a copy of the log in (createdAt, id) order.
func (st *Stream) Messages() []Message {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Message, len(st.msgs))
	copy(out, st.msgs)
	return out
}

// Len returns the number of distinct messages in the log.
func (st *Stream) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.msgs)
}

// GroupByDate produces the display grouping of the log: one group per
// calendar day in order, labeled Today/Yesterday/date. Purely a view.
func (st *Stream) GroupByDate() []DateGroup {
	msgs := st.Messages()
	now := st.owner.clk.Now()

	var groups []DateGroup
	for _, msg := range msgs {
		label := dateLabel(msg.CreatedAt, now)
		if n := len(groups); n > 0 && groups[n-1].Label == label {
			groups[n-1].Messages = append(groups[n-1].Messages, msg)
			continue
		}
		groups = append(groups, DateGroup{Label: label, Messages: []Message{msg}})
	}
	return groups
}

func (st *Stream) setDelivery(id string, ds DeliveryState) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i := range st.msgs {
		if st.msgs[i].ID == id {
			st.msgs[i].Delivery = ds
			return
		}
	}
}

func (st *Stream) addAttachment(id string, a Attachment) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i := range st.msgs {
		if st.msgs[i].ID == id {
			st.msgs[i].Attachments = append(st.msgs[i].Attachments, a)
			return
		}
	}
}

func (st *Stream) byID(id string) Message {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i := range st.msgs {
		if st.msgs[i].ID == id {
			return st.msgs[i]
		}
	}
	return Message{}
}

func dateLabel(t, now time.Time) string {
	ty, tm, td := t.Date()
	ny, nm, nd := now.Date()
	if ty == ny && tm == nm && td == nd {
		return "Today"
	}
	yesterday := now.AddDate(0, 0, -1)
	yy, ym, yd := yesterday.Date()
	if ty == yy && tm == ym && td == yd {
		return "Yesterday"
	}
	return t.Format("January 2, 2006")
}
