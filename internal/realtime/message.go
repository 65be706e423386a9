package realtime

import "time"

// DeliveryState tracks the lifecycle of a locally originated message.
type DeliveryState int

const (
	// DeliveryPending is the optimistic state a message is stored in the
	// moment the user hits send, before the gateway has accepted it.
	DeliveryPending DeliveryState = iota
	// DeliverySent means the gateway accepted the emit.
	DeliverySent
	// DeliveryFailed means the emit or an attachment upload failed. Failed
	// messages stay visible and are never retried automatically.
	DeliveryFailed
)

func (s DeliveryState) String() string {
	switch s {
	case DeliveryPending:
		return "pending"
	case DeliverySent:
		return "sent"
	case DeliveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Attachment references a file already uploaded to durable storage.
type Attachment struct {
	Filename  string
	URL       string
	MimeType  string
	SizeBytes int64
}

// Message is the domain model for a chat message. Messages are immutable
// once stored except for the delivery state.
type Message struct {
	ID          string
	Room        string
	SenderID    string
	SenderName  string
	Body        string
	Attachments []Attachment
	CreatedAt   time.Time
	Delivery    DeliveryState
}

// Conversation is the metadata for one service engagement between a client
// and a worker. Its ID doubles as the room id on the realtime channel.
type Conversation struct {
	ID              string
	Title           string
	ClientID        string
	WorkerID        string
	CounterpartID   string
	CounterpartName string
}

// resolved reports whether the record carries enough metadata to render a
// chat header, or whether it is a bare id that still needs a REST lookup.
func (c Conversation) resolved() bool {
	return c.Title != "" && c.CounterpartID != ""
}
