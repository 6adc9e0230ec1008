package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/mmartingarciia/retroducer/internal/config"
	"github.com/mmartingarciia/retroducer/internal/engine"
	"github.com/mmartingarciia/retroducer/internal/logger"
	"github.com/mmartingarciia/retroducer/internal/models"
)

type Server struct {
	player      *engine.Player
	cfg         config.ServerConfig
	clients     map[*websocket.Conn]bool
	clientMu    sync.RWMutex
	upgrader    websocket.Upgrader
	events      chan PlayerEvent
	pushLimiter *rate.Limiter
	router      *gin.Engine
	httpServer  *http.Server
}

type PlayerEvent struct {
	Type      string               `json:"type"`
	Path      string               `json:"path,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
	Message   string               `json:"message,omitempty"`
	Status    *models.SystemStatus `json:"status,omitempty"`
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type StartRequest struct {
	Path string `json:"path" binding:"required"`
}

type VolumeRequest struct {
	Level *int `json:"level" binding:"required"`
}

type VolumeResponse struct {
	Volume int `json:"volume"`
}

// NewServer builds the router. metricsHandler is mounted on /metrics when
// non-nil.
func NewServer(player *engine.Player, cfg config.ServerConfig, metricsHandler http.Handler) *Server {
	router := gin.New()
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{Output: logger.Writer()}), gin.Recovery())

	server := &Server{
		player:  player,
		cfg:     cfg,
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // the companion app is served from another origin
			},
		},
		events:      make(chan PlayerEvent, 100),
		pushLimiter: rate.NewLimiter(rate.Limit(cfg.StatusPushRate), 1),
		router:      router,
	}
	server.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	})

	router.POST("/upload", server.handleUpload)
	router.GET("/status", server.handleStatus)

	apiGroup := router.Group("/api")
	apiGroup.GET("/status", server.handleStatus)
	apiGroup.GET("/files", server.handleFiles)
	apiGroup.DELETE("/files/:name", server.handleDeleteFile)
	apiGroup.GET("/history", server.handleHistory)
	apiGroup.PUT("/volume", server.handleVolume)

	playbackGroup := apiGroup.Group("/playback")
	playbackGroup.POST("/start", server.handleStart)
	playbackGroup.POST("/pause", server.handlePause)
	playbackGroup.POST("/resume", server.handleResume)
	playbackGroup.POST("/stop", server.handleStop)

	router.GET("/ws", server.handleWebSocket)
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	// Register callback to receive player events from the engine
	player.SetEventCallback(func(e engine.Event) {
		server.NotifyEvent(PlayerEvent{
			Type:      e.Type,
			Path:      e.Path,
			Timestamp: time.Now(),
			Message:   e.Message,
		})
	})

	return server
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP until Shutdown is called. It returns nil on a clean
// shutdown.
func (s *Server) Start(ctx context.Context) error {
	go s.broadcastEvents(ctx)

	logger.Info("API server listening on %s", s.cfg.Address)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.clientMu.Lock()
	for client := range s.clients {
		client.Close()
	}
	s.clientMu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.player.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleFiles(c *gin.Context) {
	files, err := s.player.Library(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, files)
}

func (s *Server) handleDeleteFile(c *gin.Context) {
	name := c.Param("name")
	if err := s.player.DeleteFile(c.Request.Context(), name); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Message: "File deleted: " + name})
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, Response{Success: false, Message: "limit must be a non-negative integer", Error: "invalid_input"})
			return
		}
		limit = n
	}
	entries, err := s.player.History(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) handleStart(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Message: err.Error(), Error: "invalid_input"})
		return
	}
	if err := s.player.Start(c.Request.Context(), req.Path); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Message: "Playback started: " + req.Path})
}

func (s *Server) handlePause(c *gin.Context) {
	if err := s.player.Pause(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Message: "Playback paused"})
}

func (s *Server) handleResume(c *gin.Context) {
	if err := s.player.Resume(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Message: "Playback resumed"})
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.player.Stop(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Message: "Playback stopped"})
}

func (s *Server) handleVolume(c *gin.Context) {
	var req VolumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Message: err.Error(), Error: "invalid_input"})
		return
	}
	applied, err := s.player.SetVolume(c.Request.Context(), *req.Level)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, VolumeResponse{Volume: applied})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	s.clientMu.Lock()
	s.clients[conn] = true
	total := len(s.clients)
	s.clientMu.Unlock()
	logger.Info("Client connected via WebSocket. Total clients: %d", total)

	// Keep connection alive and read messages (ping/pong)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.clientMu.Lock()
			delete(s.clients, conn)
			total = len(s.clients)
			s.clientMu.Unlock()
			logger.Info("Client disconnected. Total clients: %d", total)
			return
		}
	}
}

// broadcastEvents is the only writer to websocket connections. Events are
// forwarded as they come; a status snapshot follows at most StatusPushRate
// times per second, plus once a second while clients are connected.
func (s *Server) broadcastEvents(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.events:
			s.broadcast(event)
			if s.pushLimiter.Allow() {
				s.pushStatus(ctx)
			}
		case <-ticker.C:
			s.pushStatus(ctx)
		}
	}
}

func (s *Server) pushStatus(ctx context.Context) {
	if s.clientCount() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	status, err := s.player.Status(ctx)
	if err != nil {
		logger.Debug("Status push skipped: %v", err)
		return
	}
	s.broadcast(PlayerEvent{Type: "status", Timestamp: time.Now(), Status: &status})
}

func (s *Server) broadcast(event PlayerEvent) {
	var failed []*websocket.Conn

	s.clientMu.RLock()
	for client := range s.clients {
		if err := client.WriteJSON(event); err != nil {
			logger.Warn("Error sending event to client: %v", err)
			failed = append(failed, client)
		}
	}
	s.clientMu.RUnlock()

	if len(failed) == 0 {
		return
	}
	s.clientMu.Lock()
	for _, client := range failed {
		client.Close()
		delete(s.clients, client)
	}
	s.clientMu.Unlock()
}

func (s *Server) clientCount() int {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	return len(s.clients)
}

func (s *Server) NotifyEvent(event PlayerEvent) {
	select {
	case s.events <- event:
	default:
		logger.Warn("Event channel full, dropping event")
	}
}
