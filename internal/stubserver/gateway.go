package stubserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/workmesh/realtime/internal/proto"
)

// handleWS upgrades the connection and bridges it to a client.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx := c.Request.Context()

	// First frame must be hello.
	var first proto.Inbound
	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = wsjson.Read(hctx, conn, &first)
	cancel()
	if err != nil || first.Type != proto.OutboundTypeHello {
		conn.Close(websocket.StatusPolicyViolation, "hello required")
		return
	}

	var hello proto.HelloData
	if err := json.Unmarshal(first.Data, &hello); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "bad hello")
		return
	}
	claims, err := s.validateToken(hello.Token)
	if err != nil {
		_ = wsjson.Write(ctx, conn, proto.Inbound{
			Type:  proto.InboundTypeError,
			Error: &proto.Error{Code: proto.ErrCodeUnauthorized, Msg: "invalid credential"},
		})
		conn.Close(websocket.StatusPolicyViolation, "unauthorized")
		return
	}

	cl := s.register(claims.UserID, claims.DisplayName)
	defer s.unregister(cl)

	if err := wsjson.Write(ctx, conn, proto.Inbound{
		Type: proto.InboundTypeHelloOK,
		Data: rawData(proto.HelloOKData{UserID: cl.userID, UserName: cl.userName}),
	}); err != nil {
		return
	}

	ctx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	errCh := make(chan error, 2)
	go func() {
		for {
			var frame proto.Inbound
			if err := wsjson.Read(ctx, conn, &frame); err != nil {
				errCh <- err
				return
			}
			s.handleFrame(cl, frame)
		}
	}()
	go func() {
		for {
			select {
			case ev := <-cl.events:
				if err := wsjson.Write(ctx, conn, ev); err != nil {
					errCh <- err
					return
				}
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()

	<-errCh
	cancelAll()
	<-errCh
	conn.Close(websocket.StatusNormalClosure, "closing")
}

// register creates the client and announces presence.
func (s *Server) register(userID, userName string) *client {
	cl := &client{
		id:       uuid.NewString(),
		userID:   userID,
		userName: userName,
		events:   make(chan proto.Inbound, 64),
		rooms:    make(map[string]struct{}),
	}
	s.mu.Lock()
	s.clients[cl.id] = cl
	s.mu.Unlock()

	s.broadcast(proto.Inbound{
		Type: proto.InboundTypeUserOnline,
		Data: rawData(proto.PresenceEvent{UserID: userID}),
	}, cl.id)
	return cl
}

func (s *Server) unregister(cl *client) {
	s.mu.Lock()
	delete(s.clients, cl.id)
	for room := range cl.rooms {
		if members, ok := s.rooms[room]; ok {
			delete(members, cl.id)
			if len(members) == 0 {
				delete(s.rooms, room)
			}
		}
	}
	s.mu.Unlock()

	s.broadcast(proto.Inbound{
		Type: proto.InboundTypeUserOffline,
		Data: rawData(proto.PresenceEvent{UserID: cl.userID}),
	}, cl.id)
}

// handleFrame processes one client frame, shared by WS and long-poll.
func (s *Server) handleFrame(cl *client, frame proto.Inbound) {
	switch frame.Type {
	case proto.OutboundTypeJoinRoom:
		var data proto.RoomData
		if json.Unmarshal(frame.Data, &data) == nil && data.Room != "" {
			s.join(cl, data.Room)
		}
	case proto.OutboundTypeLeaveRoom:
		var data proto.RoomData
		if json.Unmarshal(frame.Data, &data) == nil {
			s.leave(cl, data.Room)
		}
	case proto.OutboundTypeTypingStart, proto.OutboundTypeTypingStop:
		var data proto.RoomData
		if json.Unmarshal(frame.Data, &data) == nil {
			s.relayTyping(cl, data.Room, frame.Type == proto.OutboundTypeTypingStart)
		}
	case proto.OutboundTypeSendMessage:
		var data proto.SendMessageData
		if json.Unmarshal(frame.Data, &data) == nil {
			s.deliverMessage(cl, data)
		}
	case proto.OutboundTypeStatusUpdate:
		s.fanToRoomFrame(cl, frame, proto.InboundTypeStatusUpdated)
	case proto.OutboundTypeNewServiceRequest:
		s.broadcast(proto.Inbound{
			Type: proto.InboundTypeNewJobAvailable,
			Data: rawData(proto.NotificationEvent{
				ID:    uuid.NewString(),
				Title: "New job available",
				TS:    time.Now().Unix(),
			}),
		}, cl.id)
	default:
		s.log.Debug().Str("type", frame.Type).Msg("ignoring client frame")
	}
}

func (s *Server) join(cl *client, room string) {
	s.mu.Lock()
	members, ok := s.rooms[room]
	if !ok {
		members = make(map[string]*client)
		s.rooms[room] = members
	}
	members[cl.id] = cl
	cl.rooms[room] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) leave(cl *client, room string) {
	s.mu.Lock()
	delete(cl.rooms, room)
	if members, ok := s.rooms[room]; ok {
		delete(members, cl.id)
		if len(members) == 0 {
			delete(s.rooms, room)
		}
	}
	s.mu.Unlock()
}

func (s *Server) relayTyping(cl *client, room string, isTyping bool) {
	s.fanToRoom(room, proto.Inbound{
		Type: proto.InboundTypeUserTyping,
		Data: rawData(proto.TypingEvent{
			Room:     room,
			UserID:   cl.userID,
			UserName: cl.userName,
			IsTyping: isTyping,
		}),
	}, cl.id)
}

// deliverMessage appends to history, fans the message to room members, and
// raises an independent message notification for every other client.
func (s *Server) deliverMessage(cl *client, data proto.SendMessageData) {
	ev := proto.MessageEvent{
		ID:         data.ID,
		Room:       data.Room,
		SenderID:   cl.userID,
		SenderName: cl.userName,
		Body:       data.Body,
		TS:         time.Now().Unix(),
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.Attachments = data.Attachments

	s.mu.Lock()
	s.history[data.Room] = append(s.history[data.Room], ev)
	s.mu.Unlock()

	s.fanToRoom(data.Room, proto.Inbound{
		Type: proto.InboundTypeNewMessage,
		Data: rawData(ev),
	}, "")

	s.broadcast(proto.Inbound{
		Type: proto.InboundTypeMessageNotification,
		Data: rawData(proto.NotificationEvent{
			ID:       uuid.NewString(),
			Title:    cl.userName,
			Body:     data.Body,
			Room:     data.Room,
			SenderID: cl.userID,
			TS:       ev.TS,
		}),
	}, cl.id)
}

func (s *Server) fanToRoomFrame(cl *client, frame proto.Inbound, inboundType string) {
	var data proto.StatusUpdateData
	if json.Unmarshal(frame.Data, &data) != nil || data.Room == "" {
		return
	}
	s.fanToRoom(data.Room, proto.Inbound{Type: inboundType, Data: frame.Data}, "")
}

// fanToRoom sends to room members; exceptID skips one connection.
func (s *Server) fanToRoom(room string, ev proto.Inbound, exceptID string) {
	s.mu.Lock()
	targets := make([]*client, 0, len(s.rooms[room]))
	for id, member := range s.rooms[room] {
		if id != exceptID {
			targets = append(targets, member)
		}
	}
	s.mu.Unlock()
	for _, t := range targets {
		t.send(ev)
	}
}

// broadcast sends to every connected client except one.
func (s *Server) broadcast(ev proto.Inbound, exceptID string) {
	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for id, member := range s.clients {
		if id != exceptID {
			targets = append(targets, member)
		}
	}
	s.mu.Unlock()
	for _, t := range targets {
		t.send(ev)
	}
}

func (cl *client) send(ev proto.Inbound) {
	select {
	case cl.events <- ev:
	default:
		// Drop if slow consumer.
	}
}

// ---- long-poll fallback ----

// handlePollSession performs the hello handshake over HTTP.
func (s *Server) handlePollSession(c *gin.Context) {
	var hello proto.HelloData
	if err := c.ShouldBindJSON(&hello); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad hello"})
		return
	}
	claims, err := s.validateToken(hello.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
		return
	}

	cl := s.register(claims.UserID, claims.DisplayName)
	s.mu.Lock()
	s.polls[cl.id] = cl
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"session": cl.id,
		"hello":   proto.HelloOKData{UserID: cl.userID, UserName: cl.userName},
	})
}

// handlePollEvents blocks until frames are available or the window lapses.
func (s *Server) handlePollEvents(c *gin.Context) {
	cl := s.pollClient(c)
	if cl == nil {
		return
	}

	window := time.NewTimer(s.opts.PollWindow)
	defer window.Stop()

	var frames []proto.Inbound
	select {
	case ev := <-cl.events:
		frames = append(frames, ev)
		// Drain whatever else is already queued.
		for {
			select {
			case more := <-cl.events:
				frames = append(frames, more)
			default:
				c.JSON(http.StatusOK, frames)
				return
			}
		}
	case <-window.C:
		c.Status(http.StatusNoContent)
	case <-c.Request.Context().Done():
		c.Status(http.StatusNoContent)
	}
}

// handlePollEmit accepts one outbound frame.
func (s *Server) handlePollEmit(c *gin.Context) {
	cl := s.pollClient(c)
	if cl == nil {
		return
	}
	var frame proto.Inbound
	if err := c.ShouldBindJSON(&frame); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad frame"})
		return
	}
	s.handleFrame(cl, frame)
	c.Status(http.StatusAccepted)
}

func (s *Server) pollClient(c *gin.Context) *client {
	id := c.Query("session")
	s.mu.Lock()
	cl := s.polls[id]
	s.mu.Unlock()
	if cl == nil {
		c.JSON(http.StatusGone, gin.H{"error": "unknown session"})
		return nil
	}
	return cl
}
