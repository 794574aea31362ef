// Package server exposes the conversation to a browser front-end over HTTP
// and a websocket.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarchat/internal/avatar"
	"github.com/normanking/avatarchat/internal/bus"
	"github.com/normanking/avatarchat/internal/config"
	"github.com/normanking/avatarchat/internal/conversation"
	"github.com/normanking/avatarchat/internal/logging"
	"github.com/normanking/avatarchat/internal/metrics"
	"github.com/normanking/avatarchat/internal/speech"
	"github.com/normanking/avatarchat/internal/transcript"
)

// Conversation is the part of conversation.Store the server drives.
type Conversation interface {
	State() conversation.State
	Subscribe(fn func(conversation.State)) func()
	SubmitAsync(ctx context.Context, text string) (conversation.Message, error)
}

// Greeter fetches the opening greeting.
type Greeter interface {
	Greet(ctx context.Context) error
}

// Completer receives playback completion signals from clients and reports
// which reply is bound to playback.
type Completer interface {
	Complete(seq int64) bool
	Bound() int64
}

// Archive lists archived transcripts.
type Archive interface {
	ListSessions(ctx context.Context, limit int) ([]transcript.SessionSummary, error)
	Messages(ctx context.Context, sessionID string) ([]conversation.Message, error)
}

// Deps are the collaborators the server needs. Greeter, Avatar, Logs,
// Archive, Filter and Bus may be nil. When Greeter is set the greeting is
// fetched once the first websocket client has connected, so there is a
// front-end to play it.
type Deps struct {
	Conversation Conversation
	Greeter      Greeter
	Completer    Completer
	Hub          *Hub
	Avatar       *avatar.Controller
	Logs         *logging.Logger
	Archive      Archive
	Filter       *speech.Filter
	Bus          *bus.EventBus
}

// Server represents the HTTP server
type Server struct {
	cfg        config.ServerConfig
	deps       Deps
	hub        *Hub
	upgrader   websocket.Upgrader
	httpServer *http.Server
	startTime  time.Time
	logger     zerolog.Logger

	// ctx outlives requests; submissions made over HTTP run on it.
	ctx    context.Context
	cancel context.CancelFunc

	greetOnce sync.Once

	mu          sync.Mutex
	lastVersion uint64
	unsubscribe func()
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Clients   int    `json:"clients"`
	Phase     string `json:"phase"`
	Playing   int64  `json:"playing,omitempty"` // sequence bound to playback
	Timestamp string `json:"timestamp"`
}

// New creates a new HTTP server
func New(cfg config.ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	hub := deps.Hub
	if hub == nil {
		hub = NewHub(logger)
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		hub:       hub,
		upgrader:  newUpgrader(cfg.AllowedOrigins),
		startTime: time.Now(),
		logger:    logger.With().Str("component", "server").Logger(),
		ctx:       ctx,
		cancel:    cancel,
	}

	s.unsubscribe = deps.Conversation.Subscribe(s.broadcastState)
	if deps.Avatar != nil {
		deps.Avatar.SetStateHandler(func(st avatar.State) {
			s.hub.Broadcast(WSMessage{Type: TypeAvatar, Avatar: &st})
		})
	}
	if deps.Logs != nil {
		deps.Logs.SetOnLog(func(e logging.Entry) {
			s.hub.Broadcast(WSMessage{Type: TypeLog, Log: &e})
		})
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the instrumented route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /api/state", s.stateHandler)
	mux.HandleFunc("POST /api/messages", s.messagesHandler)
	mux.HandleFunc("POST /api/played", s.playedHandler)
	mux.HandleFunc("POST /api/camera", s.cameraHandler)
	mux.HandleFunc("GET /api/logs", s.logsHandler)
	mux.HandleFunc("GET /api/transcripts", s.transcriptsHandler)
	mux.HandleFunc("GET /api/transcripts/{id}", s.transcriptHandler)
	mux.HandleFunc("GET /ws", s.wsHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	return s.instrument(mux)
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, disconnects websocket clients and
// cancels submissions still running on the server's context.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}

	s.hub.Close()
	err := s.httpServer.Shutdown(ctx)
	s.cancel()
	return err
}

func (s *Server) emit(t bus.EventType, data map[string]any) {
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(bus.Event{Type: t, Data: data})
	}
}

func (s *Server) greet() {
	if s.deps.Greeter == nil {
		return
	}
	s.greetOnce.Do(func() {
		go func() {
			if err := s.deps.Greeter.Greet(s.ctx); err != nil {
				s.logger.Warn().Err(err).Msg("Greeting skipped")
			}
		}()
	})
}

func (s *Server) broadcastState(st conversation.State) {
	s.mu.Lock()
	if st.Version <= s.lastVersion {
		s.mu.Unlock()
		return
	}
	s.lastVersion = st.Version
	s.mu.Unlock()

	s.hub.Broadcast(WSMessage{Type: TypeState, State: &st})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RequestCount.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}
