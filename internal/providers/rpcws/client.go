// Package rpcws talks to the translation backend with JSON-RPC 2.0 over one
// persistent websocket.
package rpcws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	websocketjsonrpc2 "github.com/sourcegraph/jsonrpc2/websocket"
	"golang.org/x/exp/slog"

	"babelmic/internal/domain"
	"babelmic/internal/logging"
	"babelmic/internal/ports"
	"babelmic/internal/wire"
)

var (
	_ ports.Translator      = (*Client)(nil)
	_ ports.Transcriber     = (*Client)(nil)
	_ ports.SettingsUpdater = (*Client)(nil)
)

type Config struct {
	URL         string
	DialTimeout time.Duration
}

// Client shares a single connection between concurrent callers. A dropped
// connection is redialed on the next call; calls are never retried.
type Client struct {
	url         string
	dialTimeout time.Duration
	dialer      *websocket.Dialer
	logger      *slog.Logger

	mu   sync.Mutex
	conn *jsonrpc2.Conn
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
	var reply wire.TranslateReply
	if err := c.call(ctx, wire.MethodTranslate, wire.NewTranslateParams(req), &reply); err != nil {
		return domain.Translation{}, err
	}

	translation, err := reply.Translation(req.RequestID)
	if err != nil {
		c.logger.Warn("translation reply rejected", "request_id", req.RequestID, "error", err)
		return domain.Translation{RequestID: req.RequestID, Unavailable: true}, nil
	}
	return translation, nil
}

func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string, language string) (string, error) {
	var reply wire.TranscribeReply
	params := wire.TranscribeParams{Audio: wire.EncodeAudio(audio), Filename: filename, Language: language}
	if err := c.call(ctx, wire.MethodTranscribe, params, &reply); err != nil {
		return "", err
	}
	if reply.Text == nil {
		return "", fmt.Errorf("%w: transcription text missing", domain.ErrMalformedResponse)
	}
	return *reply.Text, nil
}

func (c *Client) UpdateSettings(ctx context.Context, settings domain.Settings) error {
	var reply wire.SettingsReply
	params := wire.SettingsParams{ChunkSize: settings.ChunkSize, VADSensitivity: settings.VADSensitivity}
	if err := c.call(ctx, wire.MethodSettings, params, &reply); err != nil {
		return err
	}
	if !reply.OK {
		return errors.New("backend rejected settings")
	}
	return nil
}

// Close drops the connection. The client stays usable and redials on demand.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) call(ctx context.Context, method string, params, result interface{}) error {
	conn, err := c.connection(ctx)
	if err != nil {
		return err
	}

	err = conn.Call(ctx, method, params, result)
	if err == nil {
		return nil
	}

	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%s rejected: %s", method, rpcErr.Message)
	}
	if errors.Is(err, jsonrpc2.ErrClosed) {
		c.forget(conn)
	}
	return fmt.Errorf("%s call failed: %w", method, err)
}

func (c *Client) connection(ctx context.Context) (*jsonrpc2.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		select {
		case <-c.conn.DisconnectNotify():
			c.logger.Debug("rpc connection dropped, redialing", "url", c.url)
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

	c.conn = jsonrpc2.NewConn(context.Background(), websocketjsonrpc2.NewObjectStream(ws), jsonrpc2.HandlerWithError(rejectServerCalls))
	c.logger.Debug("rpc connection opened", "url", c.url)
	return c.conn, nil
}

func (c *Client) forget(conn *jsonrpc2.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
}

func rejectServerCalls(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "client does not serve " + req.Method}
}
