// Package legacyws speaks the pipe-delimited text protocol of the first
// translation backend. Replies carry no id, so they are matched to requests
// in send order.
package legacyws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/exp/slog"

	"babelmic/internal/domain"
	"babelmic/internal/logging"
	"babelmic/internal/ports"
	"babelmic/internal/wire"
)

var _ ports.Translator = (*Client)(nil)

const errorPrefix = "[ERROR]"

var errConnectionLost = errors.New("legacy connection lost")

type Config struct {
	URL         string
	DialTimeout time.Duration
}

type Client struct {
	url         string
	dialTimeout time.Duration
	dialer      *websocket.Dialer
	logger      *slog.Logger

	// sendMu serializes enqueue+write so queue order matches wire order.
	sendMu sync.Mutex
	connMu sync.Mutex
	conn   *legacyConn
}

type reply struct {
	payload string
	err     error
}

type legacyConn struct {
	ws *websocket.Conn

	mu      sync.Mutex
	pending []chan reply
	dead    bool
	done    chan struct{}
}

func New(cfg Config, logger *slog.Logger) (*Client, error) {
	url := strings.TrimSpace(cfg.URL)
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return nil, fmt.Errorf("invalid websocket url %q", cfg.URL)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{url: url, dialTimeout: cfg.DialTimeout, dialer: websocket.DefaultDialer, logger: logger}, nil
}

func (c *Client) Translate(ctx context.Context, req domain.TranslateRequest) (domain.Translation, error) {
	payload, err := c.roundTrip(ctx, wire.EncodeLegacyRequest(req))
	if err != nil {
		return domain.Translation{}, err
	}

	decoded := wire.DecodeLegacyReply(payload)
	if decoded.Translated == nil {
		c.logger.Warn("legacy reply has no translation", "request_id", req.RequestID)
		return domain.Translation{RequestID: req.RequestID, Unavailable: true}, nil
	}
	if strings.HasPrefix(*decoded.Translated, errorPrefix) {
		return domain.Translation{}, errors.New(strings.TrimSpace(strings.TrimPrefix(*decoded.Translated, errorPrefix)))
	}

	translation := domain.Translation{RequestID: req.RequestID, Text: *decoded.Translated}
	if decoded.ProcessingTime != nil {
		translation.ProcessingTime = time.Duration(*decoded.ProcessingTime * float64(time.Second))
	}
	return translation, nil
}

func (c *Client) Close() error {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.ws.Close()
}

func (c *Client) roundTrip(ctx context.Context, line string) (string, error) {
	waiter := make(chan reply, 1)

	c.sendMu.Lock()
	conn, err := c.connection(ctx)
	if err != nil {
		c.sendMu.Unlock()
		return "", err
	}
	if !conn.enqueue(waiter) {
		c.sendMu.Unlock()
		return "", errConnectionLost
	}
	err = conn.ws.WriteMessage(websocket.TextMessage, []byte(line))
	c.sendMu.Unlock()
	if err != nil {
		_ = conn.ws.Close()
		return "", fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case r := <-waiter:
		return r.payload, r.err
	case <-ctx.Done():
		// The slot stays queued so later replies keep their alignment.
		return "", ctx.Err()
	}
}

func (c *Client) connection(ctx context.Context) (*legacyConn, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		select {
		case <-c.conn.done:
			c.conn = nil
		default:
			return c.conn, nil
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	ws, _, err := c.dialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}

	conn := &legacyConn{ws: ws, done: make(chan struct{})}
	go conn.readLoop(c.logger)
	c.conn = conn
	return conn, nil
}

func (l *legacyConn) enqueue(waiter chan reply) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dead {
		return false
	}
	l.pending = append(l.pending, waiter)
	return true
}

func (l *legacyConn) readLoop(logger *slog.Logger) {
	defer close(l.done)
	for {
		_, payload, err := l.ws.ReadMessage()
		if err != nil {
			logger.Debug("legacy connection closed", "error", err)
			l.failAll()
			return
		}

		l.mu.Lock()
		if len(l.pending) == 0 {
			l.mu.Unlock()
			logger.Warn("legacy reply without a request, dropping")
			continue
		}
		waiter := l.pending[0]
		l.pending = l.pending[1:]
		l.mu.Unlock()

		waiter <- reply{payload: string(payload)}
	}
}

func (l *legacyConn) failAll() {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.dead = true
	l.mu.Unlock()

	for _, waiter := range pending {
		waiter <- reply{err: errConnectionLost}
	}
	_ = l.ws.Close()
}
