package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/hypermesh-online/caesar-sub000/internal/fixedpoint"
)

// WSClientConfig configures WebSocket feed client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing ping frames.
	WriteTimeout time.Duration
	// StaleAfter marks the quote unhealthy when older than this.
	StaleAfter time.Duration
}

// DefaultWSConfig returns default WebSocket feed configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		StaleAfter:        5 * time.Minute,
	}
}

// WSClient implements PriceFeed over a gorilla/websocket stream of gold
// reference quotes. It keeps the latest quote and reconnects with
// exponential backoff on read errors.
type WSClient struct {
	endpoint string
	config   WSClientConfig

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	quote   Quote
	hasQ    bool
	quoteMu sync.RWMutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// Compile-time interface check.
var _ PriceFeed = (*WSClient)(nil)

// NewWSClient creates a new feed client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	c := &WSClient{
		endpoint: endpoint,
		config:   cfg,
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// connect establishes the WebSocket connection.
func (c *WSClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// Quote returns the latest quote received from the stream. A quote older
// than StaleAfter is returned with Healthy forced to false.
func (c *WSClient) Quote(_ context.Context) (Quote, error) {
	c.quoteMu.RLock()
	q, ok := c.quote, c.hasQ
	c.quoteMu.RUnlock()

	if !ok {
		return Quote{}, ErrNoQuote
	}
	if time.Since(time.Unix(q.Timestamp, 0)) > c.config.StaleAfter {
		q.Healthy = false
	}
	return q, nil
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	return nil
}

// readLoop reads quote messages and keeps the latest one.
func (c *WSClient) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			// Connection error - attempt reconnect with exponential backoff
			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// reconnect waits for the backoff delay and re-dials.
func (c *WSClient) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Reconnect failure retries on the next read error.
	c.connect(ctx)
}

// handleMessage parses a quote message and stores it as the latest quote.
// Malformed messages are skipped; the previous quote stays current.
func (c *WSClient) handleMessage(message []byte) {
	var msg wsQuoteMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	q, err := msg.toQuote()
	if err != nil {
		return
	}

	c.quoteMu.Lock()
	c.quote = q
	c.hasQ = true
	c.quoteMu.Unlock()
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			c.connMu.Unlock()
		}
	}
}

// wsQuoteMessage is the wire format of one gold reference quote. Prices
// are decimal strings to avoid float drift on the wire.
type wsQuoteMessage struct {
	Price         string `json:"price"`
	MovingAverage string `json:"moving_average"`
	StdDev        string `json:"std_dev"`
	Confidence    string `json:"confidence"`
	Healthy       bool   `json:"healthy"`
	Timestamp     int64  `json:"timestamp"`
}

func (m *wsQuoteMessage) toQuote() (Quote, error) {
	price, err := decimal.NewFromString(m.Price)
	if err != nil {
		return Quote{}, fmt.Errorf("parse price: %w", err)
	}
	ma, err := decimal.NewFromString(m.MovingAverage)
	if err != nil {
		return Quote{}, fmt.Errorf("parse moving_average: %w", err)
	}
	sd, err := decimal.NewFromString(m.StdDev)
	if err != nil {
		return Quote{}, fmt.Errorf("parse std_dev: %w", err)
	}
	conf, err := decimal.NewFromString(m.Confidence)
	if err != nil {
		return Quote{}, fmt.Errorf("parse confidence: %w", err)
	}
	if price.Sign() <= 0 || ma.Sign() <= 0 || sd.Sign() < 0 {
		return Quote{}, fmt.Errorf("non-positive quote values")
	}

	return Quote{
		Price:         fixedpoint.FromDecimal(price),
		MovingAverage: fixedpoint.FromDecimal(ma),
		StdDev:        fixedpoint.FromDecimal(sd),
		Confidence:    fixedpoint.FromDecimal(conf),
		Healthy:       m.Healthy,
		Timestamp:     m.Timestamp,
	}, nil
}
