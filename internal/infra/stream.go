package infra

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"paper_trade/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	streamHandshakeTimeout = 10 * time.Second
	streamReadTimeout      = 60 * time.Second
)

// FinnhubStream dials the Finnhub trade WebSocket
type FinnhubStream struct {
	wsURL string
	token string
}

// NewFinnhubStream creates a dialer for the Finnhub trade stream
func NewFinnhubStream(wsURL, token string) *FinnhubStream {
	return &FinnhubStream{wsURL: wsURL, token: token}
}

// Dial establishes a WebSocket connection to the upstream feed
func (s *FinnhubStream) Dial(ctx context.Context) (domain.FeedConn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: streamHandshakeTimeout,
	}

	header := make(http.Header)
	header.Add("User-Agent", "papertrade/1.0")

	conn, _, err := dialer.DialContext(ctx, s.wsURL+"?token="+s.token, header)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	return &wsConn{conn: conn}, nil
}

// wsConn wraps a gorilla connection with a write mutex so subscribe and
// unsubscribe messages can be sent from concurrent handlers.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

func (c *wsConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(streamReadTimeout)); err != nil {
		return nil, err
	}
	_, message, err := c.conn.ReadMessage()
	return message, err
}

func (c *wsConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
