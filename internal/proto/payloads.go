package proto

import "encoding/json"

// HelloData introduces the client and authenticates the connection.
// Establishing the connection is what registers the identity as present.
type HelloData struct {
	Token    string `json:"token"`
	Protocol int    `json:"protocol,omitempty"`
}

// HelloOKData confirms authentication and echoes the session identity.
type HelloOKData struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// RoomData targets a single room (join_room, leave_room, typing_start, typing_stop).
type RoomData struct {
	Room string `json:"room"`
}

// AttachmentData references an already-uploaded file.
type AttachmentData struct {
	Filename  string `json:"filename"`
	URL       string `json:"url"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// SendMessageData carries an outgoing chat message. ID is assigned by the
// sender so the pushed echo collapses onto the optimistic local entry.
type SendMessageData struct {
	ID          string           `json:"id"`
	Room        string           `json:"room"`
	Body        string           `json:"body"`
	RecipientID string           `json:"recipient_id,omitempty"`
	Attachments []AttachmentData `json:"attachments,omitempty"`
}

// StatusUpdateData asks the counterpart to act on an engagement status change.
type StatusUpdateData struct {
	Room     string `json:"room"`
	Status   string `json:"status"`
	ClientID string `json:"client_id"`
	WorkerID string `json:"worker_id"`
}

// ServiceRequestData announces a newly posted job to interested workers.
type ServiceRequestData struct {
	Payload json.RawMessage `json:"payload"`
}

// MessageEvent is a pushed chat message.
type MessageEvent struct {
	ID          string           `json:"id"`
	Room        string           `json:"room"`
	SenderID    string           `json:"sender_id"`
	SenderName  string           `json:"sender_name,omitempty"`
	Body        string           `json:"body"`
	Attachments []AttachmentData `json:"attachments,omitempty"`
	TS          int64            `json:"ts"`
}

// TypingEvent reports that a counterpart started or stopped composing.
type TypingEvent struct {
	Room     string `json:"room"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}

// NotificationEvent is pushed for both generic and message notifications.
type NotificationEvent struct {
	ID       string `json:"id,omitempty"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Room     string `json:"room,omitempty"`
	SenderID string `json:"sender_id,omitempty"`
	TS       int64  `json:"ts"`
}

// PresenceEvent reports a user coming online or going offline.
type PresenceEvent struct {
	UserID string `json:"user_id"`
}
