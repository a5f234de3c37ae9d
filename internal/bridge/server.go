package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pokevault/pokevault/internal/schema"
	"github.com/pokevault/pokevault/internal/syncer"
)

// Backend is the engine surface the bridge server exposes over the
// wire. *engine.Engine satisfies it.
type Backend interface {
	PerformSync(ctx context.Context, mutations []*schema.Mutation) (*syncer.Result, error)
	TriggerSync(ctx context.Context) (*syncer.Result, error)
	Online(ctx context.Context) bool
	Subscribe(fn func(syncer.Progress)) func()
}

// ServerConfig holds bridge server configuration.
type ServerConfig struct {
	// Port to listen on. Zero binds an ephemeral port; use Addr to
	// discover it. DefaultServerConfig picks 9980.
	Port int

	// Collection that perform-sync mutations target (default: "items").
	Collection string

	// AppName, AppVersion and AppPlatform answer get-app-info
	// requests. AppPlatform defaults to runtime.GOOS.
	AppName     string
	AppVersion  string
	AppPlatform string

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:        9980,
		Collection:  "items",
		AppName:     "pokevault",
		AppPlatform: runtime.GOOS,
		Logger:      log.New(os.Stderr, "[bridge] ", log.LstdFlags),
	}
}

// Server accepts WebSocket connections, answers requests against the
// backend, and broadcasts sync events to every connected client.
type Server struct {
	backend Backend
	cfg     *ServerConfig

	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Envelope

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	unsubscribe func()

	logger *log.Logger
}

// NewServer creates a bridge server over a backend.
func NewServer(backend Backend, cfg *ServerConfig) *Server {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if cfg.Collection == "" {
		cfg.Collection = "items"
	}
	if cfg.AppName == "" {
		cfg.AppName = "pokevault"
	}
	if cfg.AppPlatform == "" {
		cfg.AppPlatform = runtime.GOOS
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[bridge] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		backend:   backend,
		cfg:       cfg,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Envelope, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    cfg.Logger,
	}
}

// Start begins listening and relaying engine progress to clients.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.Port, err)
	}
	s.listener = ln

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", s.handleWebSocket)
	r.Get("/healthz", s.handleHealth)

	s.server = &http.Server{
		Handler:     r,
		ReadTimeout: 10 * time.Second,
	}

	// Every engine progress event goes out as a sync-status broadcast.
	s.unsubscribe = s.backend.Subscribe(func(p syncer.Progress) {
		payload, err := json.Marshal(p)
		if err != nil {
			s.logger.Printf("Failed to marshal progress event: %v", err)
			return
		}
		s.Broadcast(Envelope{Kind: KindEvent, Channel: ChannelSyncStatus, Payload: payload})
	})

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Bridge listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address. Valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping bridge server")

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	return nil
}

// Broadcast queues an envelope for delivery to every connected client.
func (s *Server) Broadcast(env Envelope) {
	select {
	case s.broadcast <- env:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping event")
	}
}

// RequestSync asks every connected peer to start a sync cycle.
func (s *Server) RequestSync() {
	s.Broadcast(Envelope{Kind: KindEvent, Channel: ChannelSyncRequested})
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case env := <-s.broadcast:
			data, err := json.Marshal(env)
			if err != nil {
				s.logger.Printf("Failed to marshal broadcast: %v", err)
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	total := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", total)

	go s.readLoop(conn)
}

// readLoop consumes client envelopes until the connection drops.
// Requests are answered on the same connection; envelope validation
// failures produce an error response without closing the connection.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.respondError(conn, 0, "", fmt.Sprintf("malformed envelope: %v", err))
			continue
		}
		if err := env.Validate(); err != nil {
			s.respondError(conn, env.ID, env.Channel, err.Error())
			continue
		}

		s.handleEnvelope(conn, env)
	}
}

func (s *Server) handleEnvelope(conn *websocket.Conn, env Envelope) {
	switch env.Channel {
	case ChannelPerformSync:
		s.handlePerformSync(conn, env)
	case ChannelTriggerSync:
		s.handleTriggerSync(conn, env)
	case ChannelCheckOnline:
		s.respond(conn, env, &OnlineStatus{
			Online:    s.backend.Online(s.ctx),
			Timestamp: time.Now().UnixMilli(),
		})
	case ChannelAppInfo:
		s.respond(conn, env, &AppInfo{
			Name:     s.cfg.AppName,
			Version:  s.cfg.AppVersion,
			Platform: s.cfg.AppPlatform,
		})
	case ChannelSyncRequested:
		// A peer asking for a sync: fan the request out and run a
		// cycle here. Progress reaches everyone via sync-status.
		s.RequestSync()
		go func() {
			if _, err := s.backend.TriggerSync(s.ctx); err != nil && !errors.Is(err, syncer.ErrSyncInFlight) {
				s.logger.Printf("Requested sync failed: %v", err)
			}
		}()
	default:
		s.respondError(conn, env.ID, env.Channel, fmt.Sprintf("channel %q does not accept client traffic", env.Channel))
	}
}

func (s *Server) handlePerformSync(conn *websocket.Conn, env Envelope) {
	var wire []WireMutation
	if err := json.Unmarshal(env.Payload, &wire); err != nil {
		s.respondError(conn, env.ID, env.Channel, fmt.Sprintf("malformed mutation batch: %v", err))
		return
	}
	muts, err := toMutations(wire, s.cfg.Collection)
	if err != nil {
		s.respondError(conn, env.ID, env.Channel, err.Error())
		return
	}

	result, err := s.backend.PerformSync(s.ctx, muts)
	if err != nil {
		s.respond(conn, env, &SyncOutcome{Success: false, Message: err.Error()})
		return
	}
	s.respond(conn, env, outcomeFromResult(result))
}

func (s *Server) handleTriggerSync(conn *websocket.Conn, env Envelope) {
	result, err := s.backend.TriggerSync(s.ctx)
	if err != nil {
		s.respond(conn, env, &SyncOutcome{Success: false, Message: err.Error()})
		return
	}
	s.respond(conn, env, outcomeFromResult(result))
}

// respond writes a response envelope correlated with the request.
func (s *Server) respond(conn *websocket.Conn, req Envelope, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.respondError(conn, req.ID, req.Channel, fmt.Sprintf("failed to marshal response: %v", err))
		return
	}
	s.write(conn, Envelope{Kind: KindResponse, ID: req.ID, Channel: req.Channel, Payload: body})
}

func (s *Server) respondError(conn *websocket.Conn, id uint64, channel, msg string) {
	s.write(conn, Envelope{Kind: KindResponse, ID: id, Channel: channel, Error: msg})
}

func (s *Server) write(conn *websocket.Conn, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Printf("Failed to marshal envelope: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.removeClient(conn)
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		total := len(s.clients)
		s.clientsMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", total)
		return
	}
	s.clientsMu.Unlock()
}
