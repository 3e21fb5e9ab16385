// Package client provides a WebSocket load test client for the lobby server.
// It connects using gobwas/ws (the same library the server uses), speaks the
// lobby join/message/leave protocol and tracks per-connection counters.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Client -> Server message types.
const (
	TypeJoin    = "join"
	TypeMessage = "message"
	TypeLeave   = "leave"
	TypePing    = "ping"
)

// Server -> Client message types.
const (
	TypeConnected    = "connected"
	TypeHistoryDone  = "history_done"
	TypeJoinPrompt   = "join_prompt"
	TypeJoinRejected = "join_rejected"
	TypeJoined       = "joined"
	TypeLine         = "line"
	TypeNotice       = "notice"
	TypeClosed       = "closed"
	TypeError        = "error"
	TypePong         = "pong"
)

// Line is a chat line received from the server.
type Line struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

// Notice is a notice received from the server.
type Notice struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// RejectedError is returned by Join when the server refuses the nickname.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("join rejected (%s): %s", e.Code, e.Message)
}

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency time.Duration
	JoinLatency    time.Duration
	LinesReceived  int64
	MessagesSent   int64
	Notices        int64
	Errors         int64
}

// Client represents a single simulated lobby user.
type Client struct {
	conn    net.Conn
	reader  io.Reader
	writeMu sync.Mutex

	connectionID atomic.Value // string
	connected    chan struct{}
	joinResult   chan error
	closed       chan string
	ended        atomic.Bool // closed message received
	closeOnce    sync.Once
	done         chan struct{}

	handlersMu sync.RWMutex
	onLine     func(Line)
	onNotice   func(Notice)

	connectLatency time.Duration
	joinLatency    atomic.Int64
	linesReceived  atomic.Int64
	messagesSent   atomic.Int64
	notices        atomic.Int64
	errors         atomic.Int64
}

// New dials the lobby at url. A non-empty ip is sent as X-Forwarded-For so
// each simulated user gets its own address for the server's per-IP limits.
func New(ctx context.Context, url, ip string) (*Client, error) {
	dialer := ws.Dialer{}
	if ip != "" {
		dialer.Header = ws.HandshakeHeaderHTTP(http.Header{"X-Forwarded-For": []string{ip}})
	}

	start := time.Now()
	conn, br, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:           conn,
		reader:         readerFor(conn, br),
		connected:      make(chan struct{}),
		joinResult:     make(chan error, 1),
		closed:         make(chan string, 1),
		done:           make(chan struct{}),
		connectLatency: time.Since(start),
	}

	go c.readLoop()
	return c, nil
}

// readerFor keeps frames the dialer already buffered after the handshake.
func readerFor(conn net.Conn, br *bufio.Reader) io.Reader {
	if br != nil {
		return br
	}
	return conn
}

type readWriter struct {
	io.Reader
	io.Writer
}

// Send sends a JSON message to the server. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// OnLine registers the handler for chat lines. Handlers run on the read loop
// and should not block.
func (c *Client) OnLine(fn func(Line)) {
	c.handlersMu.Lock()
	c.onLine = fn
	c.handlersMu.Unlock()
}

// OnNotice registers the handler for notices.
func (c *Client) OnNotice(fn func(Notice)) {
	c.handlersMu.Lock()
	c.onNotice = fn
	c.handlersMu.Unlock()
}

// WaitConnected blocks until the server greeted the connection.
func (c *Client) WaitConnected(ctx context.Context) error {
	select {
	case <-c.connected:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed before greeting")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join asks for nickname and waits for the server's answer. A refused
// nickname yields a *RejectedError; the client may call Join again.
func (c *Client) Join(ctx context.Context, nickname string) error {
	start := time.Now()
	if err := c.Send(map[string]string{"type": TypeJoin, "nickname": nickname}); err != nil {
		return err
	}
	select {
	case err := <-c.joinResult:
		if err == nil {
			c.joinLatency.Store(int64(time.Since(start)))
		}
		return err
	case reason := <-c.closed:
		return fmt.Errorf("session closed: %s", reason)
	case <-c.done:
		return fmt.Errorf("connection closed while joining")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Say submits a chat message.
func (c *Client) Say(text string) error {
	if err := c.Send(map[string]string{"type": TypeMessage, "text": text}); err != nil {
		return err
	}
	c.messagesSent.Add(1)
	return nil
}

// Leave ends the session and waits for the closed message.
func (c *Client) Leave(ctx context.Context) (string, error) {
	if err := c.Send(map[string]string{"type": TypeLeave}); err != nil {
		return "", err
	}
	select {
	case reason := <-c.closed:
		return reason, nil
	case <-c.done:
		return "", fmt.Errorf("connection closed before leave completed")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close closes the connection. It is safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ConnectionID returns the ID the server assigned, or "" before the greeting.
func (c *Client) ConnectionID() string {
	id, _ := c.connectionID.Load().(string)
	return id
}

// GetMetrics returns a snapshot of the client's counters.
func (c *Client) GetMetrics() Metrics {
	return Metrics{
		ConnectLatency: c.connectLatency,
		JoinLatency:    time.Duration(c.joinLatency.Load()),
		LinesReceived:  c.linesReceived.Load(),
		MessagesSent:   c.messagesSent.Load(),
		Notices:        c.notices.Load(),
		Errors:         c.errors.Load(),
	}
}

func (c *Client) readLoop() {
	defer c.Close()
	rw := readWriter{Reader: c.reader, Writer: c.conn}

	for {
		data, err := wsutil.ReadServerText(rw)
		if err != nil {
			select {
			case <-c.done:
			default:
				if !c.ended.Load() {
					c.errors.Add(1)
				}
			}
			return
		}
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	var msg struct {
		Type         string `json:"type"`
		ConnectionID string `json:"connection_id"`
		Code         string `json:"code"`
		Message      string `json:"message"`
		Severity     string `json:"severity"`
		Author       string `json:"author"`
		Body         string `json:"body"`
		Reason       string `json:"reason"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.errors.Add(1)
		return
	}

	c.handlersMu.RLock()
	onLine, onNotice := c.onLine, c.onNotice
	c.handlersMu.RUnlock()

	switch msg.Type {
	case TypeConnected:
		c.connectionID.Store(msg.ConnectionID)
		close(c.connected)
	case TypeJoined:
		c.deliverJoin(nil)
	case TypeJoinRejected:
		c.deliverJoin(&RejectedError{Code: msg.Code, Message: msg.Message})
	case TypeLine:
		c.linesReceived.Add(1)
		if onLine != nil {
			onLine(Line{Author: msg.Author, Body: msg.Body})
		}
	case TypeNotice:
		c.notices.Add(1)
		if onNotice != nil {
			onNotice(Notice{Message: msg.Message, Severity: msg.Severity})
		}
	case TypeClosed:
		c.ended.Store(true)
		select {
		case c.closed <- msg.Reason:
		default:
		}
	case TypeError:
		c.errors.Add(1)
	}
}

func (c *Client) deliverJoin(err error) {
	select {
	case c.joinResult <- err:
	default:
	}
}
