package ws

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/whisper/lobby/internal/protocol"
)

// InboxSize bounds the parsed client messages queued for a connection's
// session before new ones are refused.
const InboxSize = 16

// ErrConnectionClosed is returned by Receive once the connection is gone.
var ErrConnectionClosed = errors.New("ws: connection closed")

// Connection represents a single WebSocket client connection with its
// associated metadata and a write mutex for serializing outbound frames.
//
// Parsed client messages are queued on the inbox by the dispatcher and
// consumed by the session bound to the connection via Receive.
type Connection struct {
	ID           string    // connection ID (UUID)
	IP           string    // client address, after proxy headers
	Conn         net.Conn  // underlying TCP connection
	Fd           int       // socket file descriptor, -1 if unknown
	CreatedAt    time.Time // when the connection was established
	writeTimeout time.Duration

	lastSeen   atomic.Int64 // unix nanos of the last frame read
	writeMu    sync.Mutex   // serializes writes to this connection
	processing int32        // atomic flag: 0 = idle, 1 = being read by handleConn

	inbox  chan interface{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewConnection wraps an upgraded net.Conn. Its context is derived from
// parent. writeTimeout bounds each outbound frame; zero disables the deadline.
func NewConnection(parent context.Context, id, ip string, conn net.Conn, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(parent)
	c := &Connection{
		ID:           id,
		IP:           ip,
		Conn:         conn,
		Fd:           socketFD(conn),
		CreatedAt:    time.Now(),
		writeTimeout: writeTimeout,
		inbox:        make(chan interface{}, InboxSize),
		ctx:          ctx,
		cancel:       cancel,
	}
	c.Touch()
	return c
}

// Context is cancelled when the connection is closed.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Touch records activity on the connection.
func (c *Connection) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the time of the last recorded activity.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Deliver queues a parsed client message for the session. It never blocks
// and reports false when the inbox is full or the connection is closed.
func (c *Connection) Deliver(msg interface{}) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.inbox <- msg:
		return true
	default:
		return false
	}
}

// Receive blocks until a client message is queued, ctx is done, or the
// connection is closed.
func (c *Connection) Receive(ctx context.Context) (interface{}, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case <-c.ctx.Done():
		return nil, ErrConnectionClosed
	}
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// Send encodes payload as a server message of msgType and writes it.
func (c *Connection) Send(msgType string, payload interface{}) error {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		return err
	}
	return c.WriteMessage(data)
}

// Close cancels the connection context and closes the network connection.
func (c *Connection) Close() error {
	c.cancel()
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry of live connections, indexed by
// connection ID and by the underlying net.Conn the event loop hands back.
type ConnectionManager struct {
	mu     sync.RWMutex
	byID   map[string]*Connection   // connection_id -> Connection
	byConn map[net.Conn]*Connection // net.Conn -> Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:   make(map[string]*Connection),
		byConn: make(map[net.Conn]*Connection),
	}
}

// Add registers a new connection in both lookup maps.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byConn[conn.Conn] = conn
	cm.mu.Unlock()
}

// Remove removes a connection by ID and closes it. Returns true if the
// connection was found and removed, false if it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byConn, conn.Conn)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// GetByConn returns the connection wrapping c, or nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	cm.mu.RLock()
	conn := cm.byConn[c]
	cm.mu.RUnlock()
	return conn
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
