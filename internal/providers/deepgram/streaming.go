package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"babelmic/internal/domain"
)

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	SmartFormat bool
}

// StreamConfig describes the audio sent on one listen socket.
type StreamConfig struct {
	Language       string
	Encoding       string
	SampleRate     int
	Channels       int
	InterimResults bool
}

// Provider opens Deepgram live transcription sockets.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewProvider(cfg Config) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	return &Provider{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (p *Provider) Configured() bool {
	return strings.TrimSpace(p.cfg.APIKey) != ""
}

// StartStreaming dials the listen endpoint. The socket is closed when ctx ends.
func (p *Provider) StartStreaming(ctx context.Context, cfg StreamConfig) (*streamingSession, error) {
	if !p.Configured() {
		return nil, fmt.Errorf("%w: DEEPGRAM_API_KEY is not configured", domain.ErrCapabilityUnavailable)
	}

	wsURL, err := buildListenURL(p.cfg, cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, _, err := p.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, &domain.RecognitionError{
			Kind:   domain.RecognitionNetwork,
			Detail: fmt.Sprintf("failed to connect to Deepgram websocket: %v", err),
		}
	}

	session := newStreamingSession(conn)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer session.CloseSend()
		defer session.readerDone.Store(true)
		return session.readLoop()
	})
	group.Go(session.writeLoop)
	go func() {
		<-groupCtx.Done()
		_ = conn.Close()
	}()
	go func() {
		session.setErr(group.Wait())
		close(session.events)
		close(session.done)
	}()

	return session, nil
}

type streamingSession struct {
	conn *websocket.Conn

	events chan domain.RecognitionEvent
	audio  chan []byte
	done   chan struct{}
	closed chan struct{}

	closing    atomic.Bool
	readerDone atomic.Bool

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
}

func newStreamingSession(conn *websocket.Conn) *streamingSession {
	return &streamingSession{
		conn:   conn,
		events: make(chan domain.RecognitionEvent, 64),
		audio:  make(chan []byte, 32),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (s *streamingSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errors.New("audio stream is already closed")
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("session closed")
	}
}

// CloseSend asks Deepgram to flush and finish the stream.
func (s *streamingSession) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *streamingSession) Events() <-chan domain.RecognitionEvent {
	return s.events
}

func (s *streamingSession) Wait() error {
	<-s.done
	return s.waitErr()
}

// Close tears the socket down without waiting for a flush. Errors caused by
// the teardown are not reported.
func (s *streamingSession) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		close(s.closed)
		_ = s.CloseSend()
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
	if s.done != nil {
		<-s.done
	}
	return s.waitErr()
}

func (s *streamingSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamingSession) setErr(err error) {
	if err == nil || s.closing.Load() {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *streamingSession) writeLoop() error {
	for chunk := range s.audio {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			sendErr := s.transportErr("failed to send audio", err)
			_ = s.conn.Close()
			for range s.audio {
			}
			return sendErr
		}
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		return s.transportErr("failed to close stream", err)
	}
	return nil
}

func (s *streamingSession) readLoop() error {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			return s.transportErr("failed to read provider event", err)
		}

		var response deepgramResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			return &domain.RecognitionError{Kind: domain.RecognitionOther, Detail: message}
		}

		if event, ok := s.toEvent(response); ok {
			s.emit(event)
		}
	}
}

// toEvent maps one Deepgram message onto a single-slot recognition event.
// Deepgram sends fragments without separators; the transcript adds them.
func (s *streamingSession) toEvent(response deepgramResponse) (domain.RecognitionEvent, bool) {
	alternative, ok := extractAlternative(response)
	if !ok {
		return domain.RecognitionEvent{}, false
	}

	return domain.RecognitionEvent{
		Results: []domain.RecognitionResult{{
			Alternatives: []domain.RecognitionAlternative{{Transcript: alternative.Transcript, Confidence: alternative.Confidence}},
			IsFinal:      response.IsFinal || response.SpeechFinal,
		}},
	}, true
}

func (s *streamingSession) emit(event domain.RecognitionEvent) {
	select {
	case s.events <- event:
	case <-s.closed:
	}
}

// transportErr drops failures caused by a local teardown or by writing after
// the server already finished.
func (s *streamingSession) transportErr(action string, err error) error {
	if s.closing.Load() || s.readerDone.Load() {
		return nil
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return nil
	}
	return &domain.RecognitionError{Kind: domain.RecognitionNetwork, Detail: fmt.Sprintf("%s: %v", action, err)}
}

type deepgramAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type deepgramChannel struct {
	Alternatives []deepgramAlternative `json:"alternatives"`
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel deepgramChannel `json:"channel"`

	Results struct {
		Channels []deepgramChannel `json:"channels"`
	} `json:"results"`
}

func extractAlternative(response deepgramResponse) (deepgramAlternative, bool) {
	candidates := response.Channel.Alternatives
	if len(candidates) == 0 && len(response.Results.Channels) > 0 {
		candidates = response.Results.Channels[0].Alternatives
	}
	if len(candidates) == 0 {
		return deepgramAlternative{}, false
	}

	alternative := candidates[0]
	alternative.Transcript = strings.TrimSpace(alternative.Transcript)
	if alternative.Transcript == "" {
		return deepgramAlternative{}, false
	}
	return alternative, true
}

func buildListenURL(providerCfg Config, streamCfg StreamConfig) (string, error) {
	base := providerCfg.APIBaseURL
	if base == "" {
		base = "https://api.deepgram.com/v1"
	}
	base = strings.TrimSpace(base)

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	if streamCfg.Encoding == "" {
		streamCfg.Encoding = "linear16"
	}
	if streamCfg.SampleRate <= 0 {
		streamCfg.SampleRate = 16000
	}
	if streamCfg.Channels <= 0 {
		streamCfg.Channels = 1
	}

	query := listenURL.Query()
	query.Set("model", providerCfg.Model)
	query.Set("encoding", streamCfg.Encoding)
	query.Set("sample_rate", fmt.Sprintf("%d", streamCfg.SampleRate))
	query.Set("channels", fmt.Sprintf("%d", streamCfg.Channels))
	query.Set("interim_results", fmt.Sprintf("%t", streamCfg.InterimResults))
	query.Set("smart_format", fmt.Sprintf("%t", providerCfg.SmartFormat))
	if streamCfg.Language != "" {
		query.Set("language", streamCfg.Language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
