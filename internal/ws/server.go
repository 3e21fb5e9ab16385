// Package ws handles WebSocket connection management, including upgrading
// HTTP connections, maintaining active client connections, and dispatching
// incoming messages to the session bound to each connection.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whisper/lobby/internal/metrics"
	"github.com/whisper/lobby/internal/protocol"
	"github.com/whisper/lobby/internal/ratelimit"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr      string          // address to listen on, e.g. ":8080"
	WorkerPoolSize  int             // max concurrent read-worker goroutines
	MaxConnections  int             // hard cap on total connections
	ReadTimeout     time.Duration   // timeout for WebSocket read operations
	WriteTimeout    time.Duration   // timeout for WebSocket write operations
	ShutdownTimeout time.Duration   // how long Shutdown waits for sessions to close
	Heartbeat       HeartbeatConfig // keepalive tuning
	TrustProxy      bool            // take the client IP from X-Forwarded-For / X-Real-IP
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:      ":8080",
		WorkerPoolSize:  256,
		MaxConnections:  10000,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		Heartbeat:       DefaultHeartbeatConfig(),
	}
}

// ConnectHandler runs for the lifetime of a connection. The connection is
// removed when it returns.
type ConnectHandler func(c *Connection)

// Server is the WebSocket server built on gobwas/ws and Linux epoll. It
// upgrades HTTP connections to WebSocket, registers them with an epoll
// instance for I/O readiness notifications, and dispatches ready connections
// to a bounded worker pool for frame reading.
type Server struct {
	config       ServerConfig
	epoll        *Epoll
	conns        *ConnectionManager
	limiter      ratelimit.Allower                   // per-IP connect limit, nil disables it
	workerPool   chan struct{}                       // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte) // message handler callback
	onConnect    ConnectHandler
	onDisconnect func(c *Connection)
	health       func() map[string]int // extra /health fields, may be nil

	mux        *http.ServeMux
	httpServer *http.Server
	startOnce  sync.Once
	startErr   error

	ctx      context.Context // parent of every connection context
	cancel   context.CancelFunc
	sessions sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}

	startedAt time.Time
}

// NewServer creates a Server with the given configuration and message
// callback. The onMessage function is called from a worker goroutine
// whenever a complete WebSocket text frame is received from a client.
func NewServer(config ServerConfig, onMessage func(conn *Connection, data []byte)) *Server {
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:     config,
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// SetOnConnect registers the handler started in its own goroutine for every
// upgraded connection.
func (s *Server) SetOnConnect(fn ConnectHandler) {
	s.onConnect = fn
}

// SetOnDisconnect registers a callback invoked once when a connection is
// removed (read error, heartbeat timeout, handler return or close frame).
func (s *Server) SetOnDisconnect(fn func(c *Connection)) {
	s.onDisconnect = fn
}

// SetConnectLimiter enables the per-IP connect rate limit.
func (s *Server) SetConnectLimiter(l ratelimit.Allower) {
	s.limiter = l
}

// Handler initializes epoll, starts the event loop and heartbeat, and returns
// the HTTP handler serving /ws, /health and /metrics. It is safe to call more
// than once.
func (s *Server) Handler() (http.Handler, error) {
	s.startOnce.Do(func() {
		s.epoll, s.startErr = NewEpoll()
		if s.startErr != nil {
			s.startErr = fmt.Errorf("ws: failed to create epoll: %w", s.startErr)
			return
		}
		s.startedAt = time.Now()

		s.mux = http.NewServeMux()
		s.mux.HandleFunc("/ws", s.handleUpgrade)
		s.mux.HandleFunc("/health", s.handleHealth)
		s.mux.Handle("/metrics", metrics.Handler())

		go s.startEventLoop()
		StartHeartbeat(s, s.config.Heartbeat)
	})
	if s.startErr != nil {
		return nil, s.startErr
	}
	return s.mux, nil
}

// Start serves HTTP on the configured address until Shutdown.
func (s *Server) Start() error {
	h, err := s.Handler()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	zap.S().Infof("[ws] server listening on %s (workers=%d, max_conns=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade applies the connection limits, upgrades the request to a
// WebSocket, registers the connection and starts its handler.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	ip := ratelimit.ExtractIP(r, s.config.TrustProxy)
	if s.limiter != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		ok, err := s.limiter.Allow(ctx, ip, ratelimit.RuleConnect)
		cancel()
		if err != nil {
			zap.S().Warnf("[ws] connect limiter error ip=%s: %v", ip, err)
		}
		if !ok {
			zap.S().Infof("[ws] connect rate limited ip=%s", ip)
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		zap.S().Debugf("[ws] upgrade failed ip=%s: %v", ip, err)
		return
	}

	c := NewConnection(s.ctx, uuid.New().String(), ip, conn, s.config.WriteTimeout)

	s.conns.Add(c)
	if err := s.epoll.Add(conn); err != nil {
		zap.S().Errorf("[ws] epoll add failed conn=%s: %v", c.ID, err)
		s.conns.Remove(c.ID)
		return
	}
	metrics.ConnectionsTotal.Inc()

	if err := c.Send(protocol.TypeConnected, protocol.ConnectedMsg{ConnectionID: c.ID}); err != nil {
		zap.S().Debugf("[ws] failed to send connected conn=%s: %v", c.ID, err)
	}

	zap.S().Infof("[ws] new connection conn=%s ip=%s fd=%d (total=%d)", c.ID, ip, c.Fd, s.conns.Count())

	if s.onConnect != nil {
		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			defer s.RemoveConnection(c)
			s.onConnect(c)
		}()
	}
}

// SetHealthDetails registers a callback whose counters are reported under
// "lobby" by /health.
func (s *Server) SetHealthDetails(fn func() map[string]int) {
	s.health = fn
}

// handleHealth responds with the server's health status as JSON, including the
// current connection count and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string         `json:"status"`
		Connections int            `json:"connections"`
		Uptime      string         `json:"uptime"`
		Lobby       map[string]int `json:"lobby,omitempty"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.health != nil {
		resp.Lobby = s.health()
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop runs the epoll wait loop. For each batch of ready
// connections, it dispatches each to a worker goroutine (bounded by the
// worker pool semaphore) that reads and processes the WebSocket frame.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				if isEINTR(err) {
					continue
				}
				zap.S().Errorf("[ws] epoll wait error: %v", err)
				continue
			}
		}

		for _, conn := range conns {
			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection using
// wsutil.NextReader so that control frames (ping, pong) are handled without
// blocking on a data frame that may never arrive. A failed read removes the
// connection.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Level-triggered epoll may report the same fd twice.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// Stale dispatch. The heartbeat handles dead connections.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})
	c.Touch()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// RemoveConnection removes a connection from both epoll and the connection
// manager and closes it, which cancels the bound session. Only the first
// call for a connection has any effect.
func (s *Server) RemoveConnection(c *Connection) {
	if s.epoll != nil {
		_ = s.epoll.Remove(c.Conn)
	}

	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}

	zap.S().Infof("[ws] connection closed conn=%s ip=%s (total=%d)", c.ID, c.IP, s.conns.Count())
}

// Connections returns the ConnectionManager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops accepting connections, cancels every connection context so
// sessions can say goodbye, waits up to ShutdownTimeout for them and then
// closes whatever is left.
func (s *Server) Shutdown() error {
	var err error
	s.stopOnce.Do(func() {
		zap.S().Info("[ws] shutting down server...")
		close(s.done)

		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if herr := s.httpServer.Shutdown(ctx); herr != nil {
				err = fmt.Errorf("ws: http shutdown: %w", herr)
			}
		}

		s.cancel()

		waited := make(chan struct{})
		go func() {
			s.sessions.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-ctx.Done():
			zap.S().Warn("[ws] sessions did not finish before shutdown timeout")
		}

		for _, c := range s.conns.All() {
			s.RemoveConnection(c)
		}

		if s.epoll != nil {
			_ = s.epoll.Close()
		}

		zap.S().Info("[ws] server stopped, all connections closed")
	})
	return err
}

// isEINTR reports a syscall interrupted error, which is expected during
// signal handling and should be retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
