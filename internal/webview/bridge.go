// Package webview drives the front end's speech recognition and speech
// synthesis APIs. Commands go out as events; results come back through the
// methods the desktop shell binds for the page.
package webview

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"babelmic/internal/domain"
	"babelmic/internal/logging"
	"babelmic/internal/ports"
)

const (
	EventRecognitionStart = "babelmic:recognition:start"
	EventRecognitionStop  = "babelmic:recognition:stop"
	EventSpeechSpeak      = "babelmic:speech:speak"
	EventSpeechCancel     = "babelmic:speech:cancel"
)

var (
	_ ports.Recognizer  = (*Bridge)(nil)
	_ ports.Synthesizer = (*Bridge)(nil)
)

// Emitter sends an event to the page.
type Emitter interface {
	Emit(event string, payload interface{})
}

// Voice holds the utterance parameters applied to every Speak call.
type Voice struct {
	Rate   float64
	Pitch  float64
	Volume float64
}

type Bridge struct {
	emitter Emitter
	voice   Voice
	logger  *slog.Logger

	recognition atomic.Bool
	synthesis   atomic.Bool

	mu         sync.Mutex
	streams    map[string]*stream
	utterances map[string]chan error
}

func NewBridge(emitter Emitter, voice Voice, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Bridge{
		emitter:    emitter,
		voice:      voice,
		logger:     logger,
		streams:    make(map[string]*stream),
		utterances: make(map[string]chan error),
	}
}

// SetCapabilities records which speech APIs the page has. Both start out
// unavailable until the page reports in.
func (b *Bridge) SetCapabilities(recognition, synthesis bool) {
	b.recognition.Store(recognition)
	b.synthesis.Store(synthesis)
	b.logger.Info("webview speech capabilities", "recognition", recognition, "synthesis", synthesis)
}

func (b *Bridge) Start(ctx context.Context, language string) (ports.RecognitionStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !b.recognition.Load() {
		return nil, fmt.Errorf("%w: speech recognition is not supported by this webview", domain.ErrCapabilityUnavailable)
	}

	s := newStream(uuid.NewString(), b)
	b.mu.Lock()
	b.streams[s.id] = s
	b.mu.Unlock()

	b.emitter.Emit(EventRecognitionStart, map[string]interface{}{
		"id":             s.id,
		"lang":           language,
		"continuous":     true,
		"interimResults": true,
	})
	return s, nil
}

// Deliver routes the seq-th recognition event of a stream. Unknown streams
// are ignored; they belong to a run that was already closed.
func (b *Bridge) Deliver(id string, seq int, event domain.RecognitionEvent) {
	if s := b.lookup(id); s != nil {
		s.deliver(seq, event)
	}
}

// End marks a stream finished after count events. errName is empty for a
// clean end, otherwise one of the recognizer error names.
func (b *Bridge) End(id string, count int, errName string, message string) {
	s := b.lookup(id)
	if s == nil {
		return
	}
	var err error
	if errName != "" {
		err = &domain.RecognitionError{Kind: domain.ParseRecognitionErrorKind(errName), Detail: message}
	}
	s.end(count, err)
}

// Speak asks the page to speak text and waits for the utterance to end.
func (b *Bridge) Speak(ctx context.Context, text string, language string) error {
	if !b.synthesis.Load() {
		return fmt.Errorf("%w: speech synthesis is not supported by this webview", domain.ErrCapabilityUnavailable)
	}

	id := uuid.NewString()
	done := make(chan error, 1)
	b.mu.Lock()
	b.utterances[id] = done
	b.mu.Unlock()

	b.emitter.Emit(EventSpeechSpeak, map[string]interface{}{
		"id":     id,
		"text":   text,
		"lang":   language,
		"rate":   b.voice.Rate,
		"pitch":  b.voice.Pitch,
		"volume": b.voice.Volume,
	})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.utterances, id)
		b.mu.Unlock()
		b.emitter.Emit(EventSpeechCancel, map[string]interface{}{"id": id})
		return ctx.Err()
	}
}

// SpeechEnded completes an utterance. A non-empty errMessage fails it.
func (b *Bridge) SpeechEnded(id string, errMessage string) {
	b.mu.Lock()
	done, ok := b.utterances[id]
	delete(b.utterances, id)
	b.mu.Unlock()
	if !ok {
		return
	}

	if errMessage != "" {
		done <- fmt.Errorf("utterance failed: %s", errMessage)
		return
	}
	done <- nil
}

func (b *Bridge) lookup(id string) *stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams[id]
}

func (b *Bridge) forget(id string) {
	b.mu.Lock()
	delete(b.streams, id)
	b.mu.Unlock()
}

// stream reorders events by sequence number, since bound calls from the page
// may arrive out of order.
type stream struct {
	id     string
	bridge *Bridge

	events chan domain.RecognitionEvent
	done   chan struct{}
	quit   chan struct{}

	quitOnce sync.Once

	mu       sync.Mutex
	next     int
	pending  map[int]domain.RecognitionEvent
	endAt    int
	endErr   error
	finished bool
	err      error
}

func newStream(id string, bridge *Bridge) *stream {
	return &stream{
		id:      id,
		bridge:  bridge,
		events:  make(chan domain.RecognitionEvent, 32),
		done:    make(chan struct{}),
		quit:    make(chan struct{}),
		pending: make(map[int]domain.RecognitionEvent),
		endAt:   -1,
	}
}

func (s *stream) Events() <-chan domain.RecognitionEvent {
	return s.events
}

func (s *stream) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) Close() error {
	s.quitOnce.Do(func() { close(s.quit) })

	s.mu.Lock()
	wasRunning := !s.finished
	if wasRunning {
		s.finishLocked(nil)
	}
	s.mu.Unlock()

	if wasRunning {
		s.bridge.emitter.Emit(EventRecognitionStop, map[string]interface{}{"id": s.id})
	}
	return nil
}

func (s *stream) deliver(seq int, event domain.RecognitionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || seq < s.next {
		return
	}
	s.pending[seq] = event
	s.flushLocked()
}

func (s *stream) end(count int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.endAt = count
	s.endErr = err
	s.flushLocked()
}

func (s *stream) flushLocked() {
	for {
		event, ok := s.pending[s.next]
		if !ok {
			break
		}
		delete(s.pending, s.next)
		s.next++
		select {
		case s.events <- event:
		case <-s.quit:
			return
		}
	}
	if s.endAt >= 0 && s.next >= s.endAt {
		s.finishLocked(s.endErr)
	}
}

func (s *stream) finishLocked(err error) {
	s.finished = true
	s.err = err
	s.pending = nil
	close(s.events)
	close(s.done)
	s.bridge.forget(s.id)
}
