package proto

import "encoding/json"

const ProtocolVersion = 1

// Outbound is the envelope for frames sent by the client.
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Inbound is the envelope for frames pushed by the gateway.
type Inbound struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Client-to-gateway frame types.
const (
	OutboundTypeHello             = "hello"
	OutboundTypeJoinRoom          = "join_room"
	OutboundTypeLeaveRoom         = "leave_room"
	OutboundTypeTypingStart       = "typing_start"
	OutboundTypeTypingStop        = "typing_stop"
	OutboundTypeSendMessage       = "send_message"
	OutboundTypeStatusUpdate      = "request_status_update"
	OutboundTypeNewServiceRequest = "new_service_request"
)

// Gateway-to-client frame types.
const (
	InboundTypeHelloOK             = "hello_ok"
	InboundTypeError               = "error"
	InboundTypeNewMessage          = "new_message"
	InboundTypeUserTyping          = "user_typing"
	InboundTypeNotification        = "notification"
	InboundTypeMessageNotification = "message_notification"
	InboundTypeNewJobAvailable     = "new_job_available"
	InboundTypeStatusUpdated       = "status_updated"
	InboundTypeUserOnline          = "user_online"
	InboundTypeUserOffline         = "user_offline"
)

// Error describes a protocol-level error frame.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Protocol error codes the gateway may return.
const (
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeRoomNotFound = "room_not_found"
	ErrCodeBadRequest   = "bad_request"
)
