package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/workmesh/realtime/internal/log"
)

// ReadMarker marks persisted message notifications for a room as read.
// Implemented by the notification aggregator.
type ReadMarker interface {
	MarkRoomRead(roomID string) int
}

// ChatController tracks the single visible conversation. Opening a new
// conversation leaves the previous room and joins the new one; minimizing
// hides the window without leaving. A reference without a resolvable id
// never opens.
type ChatController struct {
	router *Router
	api    API
	marker ReadMarker
	log    *zerolog.Logger

	mu        sync.Mutex
	active    *Conversation
	minimized bool
}

// NewChatController builds the controller. marker may be nil.
func NewChatController(router *Router, api API, marker ReadMarker, logger *zerolog.Logger) *ChatController {
	if logger == nil {
		logger = log.Nop()
	}
	return &ChatController{router: router, api: api, marker: marker, log: logger}
}

// Open activates a conversation. ref may be a full record or a bare id;
// incomplete records are resolved via REST before anything is joined, so a
// failed resolve never leaves a half-open session. Opening the already
// active conversation just maximizes it.
func (c *ChatController) Open(ctx context.Context, ref Conversation) (*Conversation, error) {
	if ref.ID == "" {
		return nil, wrapErr(ErrCodeMissingIdentifier, "open conversation", ErrMissingIdentifier)
	}

	c.mu.Lock()
	if c.active != nil && c.active.ID == ref.ID {
		c.minimized = false
		conv := *c.active
		c.mu.Unlock()
		return &conv, nil
	}
	previous := c.active
	c.mu.Unlock()

	conv := ref
	if !conv.resolved() {
		full, err := c.api.Conversation(ctx, ref.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve conversation %s: %w", ref.ID, err)
		}
		conv = *full
		if conv.ID == "" {
			return nil, wrapErr(ErrCodeMissingIdentifier, "resolved conversation has no id", ErrMissingIdentifier)
		}
	}

	if previous != nil {
		if err := c.router.Leave(ctx, previous.ID); err != nil {
			c.log.Warn().Err(err).Str("room", previous.ID).Msg("leave previous room failed")
		}
	}
	if err := c.router.Join(ctx, conv.ID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.active = &conv
	c.minimized = false
	c.mu.Unlock()

	if c.marker != nil {
		marked := c.marker.MarkRoomRead(conv.ID)
		if marked > 0 {
			c.log.Debug().Str("room", conv.ID).Int("marked", marked).Msg("message notifications marked read")
		}
	}
	c.log.Info().Str("room", conv.ID).Str("title", conv.Title).Msg("conversation opened")
	return &conv, nil
}

// Minimize hides the conversation window without leaving the room.
func (c *ChatController) Minimize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.minimized = true
	}
}

// Maximize restores a minimized conversation window.
func (c *ChatController) Maximize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.minimized = false
	}
}

// Minimized reports whether the active conversation is hidden.
func (c *ChatController) Minimized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil && c.minimized
}

// Active returns a copy of the active conversation, or nil.
func (c *ChatController) Active() *Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	conv := *c.active
	return &conv
}

// Close leaves the active room and clears the active pointer.
func (c *ChatController) Close(ctx context.Context) error {
	c.mu.Lock()
	active := c.active
	c.active = nil
	c.minimized = false
	c.mu.Unlock()

	if active == nil {
		return nil
	}
	return c.router.Leave(ctx, active.ID)
}
