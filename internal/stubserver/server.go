// Package stubserver is a development peer for the realtime client: it
// speaks the same wire protocol (hello auth, room fan-out, typing relay,
// long-poll fallback) and serves the REST collaborators, backed entirely by
// memory. It exists for the probe and for manual testing, not production.
package stubserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/workmesh/realtime/internal/auth"
	"github.com/workmesh/realtime/internal/log"
	"github.com/workmesh/realtime/internal/proto"
)

// Options configure the stub server.
type Options struct {
	Addr       string
	Secret     []byte
	TokenTTL   time.Duration
	PollWindow time.Duration
}

// Server is the in-memory gateway + REST backend.
type Server struct {
	opts Options
	log  *zerolog.Logger

	mu      sync.Mutex
	clients map[string]*client            // connection id -> client
	rooms   map[string]map[string]*client // room -> connection id -> client
	history map[string][]proto.MessageEvent
	polls   map[string]*client // poll session id -> client
}

// client is one connected peer, over WebSocket or long-poll.
type client struct {
	id       string
	userID   string
	userName string
	events   chan proto.Inbound
	rooms    map[string]struct{}
}

// New builds the stub server.
func New(opts Options, logger *zerolog.Logger) *Server {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if len(opts.Secret) == 0 {
		opts.Secret = []byte("dev-secret")
	}
	if opts.TokenTTL == 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.PollWindow == 0 {
		opts.PollWindow = 25 * time.Second
	}
	return &Server{
		opts:    opts,
		log:     logger,
		clients: make(map[string]*client),
		rooms:   make(map[string]map[string]*client),
		history: make(map[string][]proto.MessageEvent),
		polls:   make(map[string]*client),
	}
}

// Handler builds the gin engine with all routes.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.POST("/auth/token", s.handleMintToken)
	r.GET("/ws", s.handleWS)

	api := r.Group("/api")
	{
		api.GET("/rooms/:id/messages", s.handleHistory)
		api.GET("/conversations/:id", s.handleConversation)
		api.POST("/attachments", s.handleUpload)
	}

	poll := r.Group("/poll")
	{
		poll.POST("/session", s.handlePollSession)
		poll.GET("/events", s.handlePollEvents)
		poll.POST("/emit", s.handlePollEmit)
	}
	return r
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	s.log.Info().Str("addr", s.opts.Addr).Msg("stub server listening")
	return (&http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}).ListenAndServe()
}

// handleMintToken issues a dev credential for the given identity.
func (s *Server) handleMintToken(c *gin.Context) {
	var req struct {
		UserID      string `json:"user_id" binding:"required"`
		DisplayName string `json:"display_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.UserID
	}

	now := time.Now()
	claims := auth.Claims{
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.TokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.opts.Secret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// validateToken checks a hello credential and returns the identity.
func (s *Server) validateToken(token string) (*auth.Claims, error) {
	claims := &auth.Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.opts.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// handleHistory serves one page of room history, newest page first.
func (s *Server) handleHistory(c *gin.Context) {
	if !s.authorized(c) {
		return
	}
	roomID := c.Param("id")
	page := intQuery(c, "page", 1)
	limit := intQuery(c, "limit", 30)

	s.mu.Lock()
	all := s.history[roomID]
	s.mu.Unlock()

	// Page 1 is the newest window of the log.
	end := len(all) - (page-1)*limit
	start := end - limit
	if end < 0 {
		end = 0
	}
	if start < 0 {
		start = 0
	}
	records := make([]gin.H, 0, end-start)
	for _, ev := range all[start:end] {
		records = append(records, gin.H{
			"id":          ev.ID,
			"room":        ev.Room,
			"sender_id":   ev.SenderID,
			"sender_name": ev.SenderName,
			"body":        ev.Body,
			"created_at":  ev.TS,
		})
	}
	c.JSON(http.StatusOK, gin.H{"messages": records, "page": page, "has_more": start > 0})
}

// handleConversation synthesizes conversation metadata from the room id.
func (s *Server) handleConversation(c *gin.Context) {
	if !s.authorized(c) {
		return
	}
	id := c.Param("id")
	c.JSON(http.StatusOK, gin.H{
		"id":               id,
		"title":            "Conversation " + id,
		"client_id":        "client-" + id,
		"worker_id":        "worker-" + id,
		"counterpart_id":   "worker-" + id,
		"counterpart_name": "Worker " + id,
	})
}

// handleUpload pretends to store the attachment and returns a durable URL.
func (s *Server) handleUpload(c *gin.Context) {
	if !s.authorized(c) {
		return
	}
	filename := c.Query("filename")
	if filename == "" {
		filename = "upload.bin"
	}
	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"filename":   filename,
		"url":        "https://files.invalid/" + uuid.NewString() + "/" + filename,
		"mime_type":  c.ContentType(),
		"size_bytes": len(data),
	})
}

// authorized enforces the bearer header on REST routes.
func (s *Server) authorized(c *gin.Context) bool {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return false
	}
	if _, err := s.validateToken(header[len(prefix):]); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return false
	}
	return true
}

func intQuery(c *gin.Context, name string, fallback int) int {
	v := fallback
	if raw := c.Query(name); raw != "" {
		fmt.Sscanf(raw, "%d", &v)
	}
	if v < 1 {
		v = fallback
	}
	return v
}

func rawData(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
