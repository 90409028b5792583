package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	controlWriteWait = 5 * time.Second
	incomingBuffer   = 64
)

// ErrReceiveTimeout is returned when no frame arrives within the receive
// timeout. The connection stays usable.
var ErrReceiveTimeout = errors.New("receive timeout")

// Message is one data frame.
type Message struct {
	Type int // websocket.TextMessage or websocket.BinaryMessage
	Data []byte
}

// Metrics captures per-connection traffic counters.
type Metrics struct {
	ConnectionDuration time.Duration
	MessagesSent       int64
	MessagesReceived   int64
	BytesSent          int64
	BytesReceived      int64
	Errors             int64
}

// Client is a single WebSocket connection.
type Client struct {
	url            string
	headers        http.Header
	dialer         *websocket.Dialer
	maxMessageSize int64
	conn           *websocket.Conn
	incoming       chan Message
	readDone       chan struct{}
	closing        chan struct{}
	readErr        error
	mu             sync.Mutex
	connectTime    time.Time
	messagesSent   int64
	messagesRecv   int64
	bytesSent      int64
	bytesRecv      int64
	errors         int64
}

// Config configures the client.
type Config struct {
	URL              string
	Headers          http.Header
	HandshakeTimeout time.Duration
	MaxMessageSize   int64
}

// NewClient creates a client. Nothing is dialed until Connect.
func NewClient(cfg Config) *Client {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 1024 * 1024
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	return &Client{
		url:            cfg.URL,
		headers:        cfg.Headers,
		dialer:         dialer,
		maxMessageSize: cfg.MaxMessageSize,
	}
}

// Connect performs the opening handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.headers)
	if err != nil {
		c.errors++
		if resp != nil {
			return fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(c.maxMessageSize)

	c.conn = conn
	c.connectTime = time.Now()
	c.incoming = make(chan Message, incomingBuffer)
	c.readDone = make(chan struct{})
	c.closing = make(chan struct{})
	go c.readLoop(conn, c.incoming, c.readDone, c.closing)
	return nil
}

// readLoop owns all reads on conn. Frames are queued on incoming so a
// receive that times out leaves later frames for the next receive. The
// loop ends on the first read error, which is kept for later receives.
func (c *Client) readLoop(conn *websocket.Conn, incoming chan<- Message, done, closing chan struct{}) {
	defer close(done)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			select {
			case <-closing:
			default:
				c.errors++
			}
			c.mu.Unlock()
			return
		}
		select {
		case incoming <- Message{Type: msgType, Data: data}:
		case <-closing:
			return
		}
	}
}

// SendMessage writes one data frame.
func (c *Client) SendMessage(ctx context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	if err := c.conn.WriteMessage(msg.Type, msg.Data); err != nil {
		c.errors++
		return fmt.Errorf("write message: %w", err)
	}

	c.messagesSent++
	c.bytesSent += int64(len(msg.Data))
	return nil
}

// Ping sends a ping control frame.
func (c *Client) Ping(data []byte) error {
	return c.writeControl(websocket.PingMessage, data)
}

// Pong sends an unsolicited pong control frame.
func (c *Client) Pong(data []byte) error {
	return c.writeControl(websocket.PongMessage, data)
}

func (c *Client) writeControl(kind int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	if err := c.conn.WriteControl(kind, data, time.Now().Add(controlWriteWait)); err != nil {
		c.errors++
		return fmt.Errorf("write control: %w", err)
	}
	c.bytesSent += int64(len(data))
	return nil
}

// ReceiveMessage returns the next data frame, waiting at most timeout. A
// zero timeout waits until the context is done. A timeout returns
// ErrReceiveTimeout and does not affect later receives.
func (c *Client) ReceiveMessage(ctx context.Context, timeout time.Duration) (Message, error) {
	c.mu.Lock()
	incoming, done := c.incoming, c.readDone
	c.mu.Unlock()

	if incoming == nil {
		return Message{}, fmt.Errorf("not connected")
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case msg := <-incoming:
		return c.delivered(msg), nil
	case <-done:
		// Frames read before the error are still delivered.
		select {
		case msg := <-incoming:
			return c.delivered(msg), nil
		default:
		}
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			err = errors.New("connection closed")
		}
		return Message{}, fmt.Errorf("read message: %w", err)
	case <-expired:
		c.countError()
		return Message{}, fmt.Errorf("read message: %w after %s", ErrReceiveTimeout, timeout)
	case <-ctx.Done():
		c.countError()
		return Message{}, fmt.Errorf("read message: %w", ctx.Err())
	}
}

func (c *Client) delivered(msg Message) Message {
	c.mu.Lock()
	c.messagesRecv++
	c.bytesRecv += int64(len(msg.Data))
	c.mu.Unlock()
	return msg
}

func (c *Client) countError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// Close sends a close frame and closes the connection. It is safe to call
// more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(controlWriteWait),
	)

	close(c.closing)
	closeErr := c.conn.Close()
	c.conn = nil

	if err != nil {
		return err
	}
	return closeErr
}

// Metrics returns the current counters.
func (c *Client) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	duration := time.Duration(0)
	if !c.connectTime.IsZero() {
		duration = time.Since(c.connectTime)
	}

	return Metrics{
		ConnectionDuration: duration,
		MessagesSent:       c.messagesSent,
		MessagesReceived:   c.messagesRecv,
		BytesSent:          c.bytesSent,
		BytesReceived:      c.bytesRecv,
		Errors:             c.errors,
	}
}
