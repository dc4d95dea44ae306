// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge exposes the shared state to external collaborators over
// HTTP and websocket.
//
// The bridge is the external side of the shared state: it publishes
// snapshots at a fixed interval and writes only the externally owned fields
// (autothrottle engagement, throttle targets while engaged, quit).
package bridge

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Thermoquad/quadrant/pkg/metrics"
	"github.com/Thermoquad/quadrant/pkg/shared"
)

// ErrThrottleRejected is reported when a client sets throttle targets while
// the autothrottle is disengaged
var ErrThrottleRejected = errors.New("throttle rejected: autothrottle disengaged")

const writeWait = 2 * time.Second

// Options configures a Server
type Options struct {
	Addr            string
	PublishInterval time.Duration

	// Basic auth for /state and /ws, enabled when both are set
	Username string
	Password string

	MetricsPath    string
	MetricsHandler http.Handler

	// Ready reports whether the device loop is polling
	Ready func() bool
	// LoopState describes the device loop for snapshots
	LoopState func() string

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Server is the HTTP and websocket bridge
type Server struct {
	opts     Options
	state    *shared.State
	external shared.ExternalWriter
	logger   *zap.Logger
	router   *gin.Engine
	srv      *http.Server
	upgrader websocket.Upgrader
	seq      atomic.Uint64

	mu      sync.Mutex
	clients map[string]*websocket.Conn
}

// New creates a bridge for st
func New(st *shared.State, opts Options) *Server {
	if opts.PublishInterval <= 0 {
		opts.PublishInterval = 20 * time.Millisecond
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		opts:     opts,
		state:    st,
		external: st.External(),
		logger:   logger.Named("bridge"),
		clients:  make(map[string]*websocket.Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", func(c *gin.Context) {
		if opts.Ready == nil || opts.Ready() {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "not-ready")
	})
	if opts.MetricsHandler != nil {
		r.GET(opts.MetricsPath, gin.WrapH(opts.MetricsHandler))
	}

	api := r.Group("/")
	if opts.Username != "" && opts.Password != "" {
		api.Use(gin.BasicAuth(gin.Accounts{opts.Username: opts.Password}))
	}
	api.GET("/state", s.handleState)
	api.GET("/ws", s.handleWebSocket)

	s.router = r
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on ln until Shutdown
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("bridge listening", zap.Stringer("addr", ln.Addr()))
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown stops the HTTP server and closes websocket clients
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for id, conn := range s.clients {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(writeWait))
		_ = conn.Close()
		delete(s.clients, id)
	}
	s.mu.Unlock()
	return s.srv.Shutdown(ctx)
}

// Clients returns the number of connected websocket clients
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Snapshot returns the next published snapshot
func (s *Server) Snapshot() Snapshot {
	loopState := ""
	if s.opts.LoopState != nil {
		loopState = s.opts.LoopState()
	}
	return NewSnapshot(s.seq.Add(1), s.state.Snapshot(), loopState)
}

// Apply writes a client command into the shared state. A throttle write that
// would land while disengaged rejects the whole command and nothing is
// applied.
func (s *Server) Apply(cmd Command) error {
	engaged := s.state.Engaged()
	if cmd.Engage != nil {
		engaged = *cmd.Engage
	}
	if cmd.Throttle != nil && !engaged {
		return ErrThrottleRejected
	}

	if cmd.Engage != nil {
		s.external.SetEngaged(*cmd.Engage)
		s.logger.Info("autothrottle", zap.Bool("engaged", *cmd.Engage))
	}
	if cmd.Throttle != nil {
		if !s.external.SetThrottles(*cmd.Throttle) {
			return ErrThrottleRejected
		}
	}
	if cmd.Quit {
		s.logger.Info("quit requested")
		s.external.Quit()
	}
	return nil
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.Snapshot())
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session := uuid.NewString()
	logger := s.logger.With(zap.String("session", session), zap.String("remote", c.Request.RemoteAddr))

	s.mu.Lock()
	s.clients[session] = conn
	s.mu.Unlock()
	s.opts.Metrics.ClientConnected(1)
	logger.Info("client connected")

	results := make(chan Result, 8)
	done := make(chan struct{})

	go s.readLoop(conn, logger, results, done)
	s.writeLoop(conn, logger, results, done)

	s.mu.Lock()
	delete(s.clients, session)
	s.mu.Unlock()
	_ = conn.Close()
	s.opts.Metrics.ClientConnected(-1)
	logger.Info("client disconnected")
}

// readLoop applies incoming commands until the connection fails
func (s *Server) readLoop(conn *websocket.Conn, logger *zap.Logger, results chan<- Result, done chan<- struct{}) {
	defer close(done)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		res := Result{OK: true}
		msg, err := ParseMessage(data)
		switch {
		case err != nil:
			res = Result{Error: err.Error()}
			s.opts.Metrics.ObserveMessage("in", "error")
		case msg.Command == nil:
			res = Result{Error: "expected command"}
			s.opts.Metrics.ObserveMessage("in", "error")
		default:
			if err := s.Apply(*msg.Command); err != nil {
				logger.Warn("command rejected", zap.Error(err))
				res = Result{Error: err.Error()}
				s.opts.Metrics.ObserveMessage("in", "rejected")
			} else {
				s.opts.Metrics.ObserveMessage("in", "ok")
			}
		}

		select {
		case results <- res:
		default:
			logger.Warn("result dropped, client not reading")
		}
	}
}

// writeLoop publishes snapshots and command results. It is the only writer
// on conn.
func (s *Server) writeLoop(conn *websocket.Conn, logger *zap.Logger, results <-chan Result, done <-chan struct{}) {
	ticker := time.NewTicker(s.opts.PublishInterval)
	defer ticker.Stop()

	for {
		var (
			frame []byte
			err   error
		)
		select {
		case <-done:
			return
		case res := <-results:
			frame, err = EncodeResult(res)
		case <-ticker.C:
			frame, err = EncodeSnapshot(s.Snapshot())
		}
		if err != nil {
			logger.Error("encode failed", zap.Error(err))
			continue
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			logger.Debug("write failed", zap.Error(err))
			s.opts.Metrics.ObserveMessage("out", "error")
			return
		}
		s.opts.Metrics.ObserveMessage("out", "ok")
	}
}
