package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"babelmic/internal/domain"
	"babelmic/internal/logging"
	"babelmic/internal/ports"
)

const defaultCommitWindow = time.Second

// CaptureConfig controls recognition language and commit timing.
type CaptureConfig struct {
	Language     string
	CommitWindow time.Duration
}

type stopFunc func() bool

func realAfterFunc(d time.Duration, f func()) stopFunc {
	return time.AfterFunc(d, f).Stop
}

// CaptureSession turns recognizer events into commit boundaries. It is
// single-use: once stopped, a new session must be constructed.
type CaptureSession struct {
	recognizer ports.Recognizer
	events     ports.EventSink
	logger     *slog.Logger
	onCommit   func(domain.Commit)
	cfg        CaptureConfig

	afterFunc func(time.Duration, func()) stopFunc
	now       func() time.Time

	mu         sync.Mutex
	state      domain.CaptureState
	transcript domain.Transcript
	stream     ports.RecognitionStream
	cancel     context.CancelFunc
	generation uint64
	failure    *domain.RecognitionError

	timerGen    uint64
	timerArmed  bool
	timerStop   stopFunc
	windowStart time.Time
	lastFinal   time.Time
}

func NewCaptureSession(
	recognizer ports.Recognizer,
	events ports.EventSink,
	logger *slog.Logger,
	cfg CaptureConfig,
	onCommit func(domain.Commit),
) *CaptureSession {
	if cfg.CommitWindow <= 0 {
		cfg.CommitWindow = defaultCommitWindow
	}
	if onCommit == nil {
		onCommit = func(domain.Commit) {}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &CaptureSession{
		recognizer: recognizer,
		events:     events,
		logger:     logger,
		onCommit:   onCommit,
		cfg:        cfg,
		afterFunc:  realAfterFunc,
		now:        time.Now,
		state:      domain.CaptureStateIdle,
	}
}

// Start opens the recognizer and begins listening. The owner announces the
// state change so it can distinguish a fresh start from a restart.
func (s *CaptureSession) Start(ctx context.Context) error {
	if s.recognizer == nil {
		return domain.ErrCapabilityUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.CaptureStateIdle {
		return fmt.Errorf("%w: start while %s", domain.ErrInvalidTransition, s.state)
	}

	s.transcript.Reset()
	s.windowStart = time.Time{}
	return s.openStreamLocked(ctx)
}

// Pause stops the recognizer but keeps the transcript. An armed commit timer
// keeps running.
func (s *CaptureSession) Pause() error {
	s.mu.Lock()
	if s.state != domain.CaptureStateListening {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: pause while %s", domain.ErrInvalidTransition, state)
	}
	s.state = domain.CaptureStatePaused
	stream, cancel := s.detachStreamLocked()
	s.mu.Unlock()

	closeStream(stream, cancel)
	s.events.CaptureStateChanged(domain.CaptureStatePaused, domain.CaptureReasonPaused)
	return nil
}

// Resume starts a fresh recognizer that keeps appending to the same transcript.
func (s *CaptureSession) Resume(ctx context.Context) error {
	s.mu.Lock()
	if s.state != domain.CaptureStatePaused {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: resume while %s", domain.ErrInvalidTransition, state)
	}
	err := s.openStreamLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.events.CaptureStateChanged(domain.CaptureStateListening, domain.CaptureReasonResumed)
	return nil
}

// Stop ends the session and cancels any pending commit. Stopping twice is a no-op.
func (s *CaptureSession) Stop() error {
	stopped, err := s.halt()
	if err != nil || !stopped {
		return err
	}
	s.events.CaptureStateChanged(domain.CaptureStateStopped, domain.CaptureReasonStopped)
	return nil
}

// halt stops the session without announcing it.
func (s *CaptureSession) halt() (bool, error) {
	s.mu.Lock()
	switch s.state {
	case domain.CaptureStateStopped:
		s.mu.Unlock()
		return false, nil
	case domain.CaptureStateIdle:
		s.mu.Unlock()
		return false, fmt.Errorf("%w: stop while idle", domain.ErrInvalidTransition)
	}
	s.state = domain.CaptureStateStopped
	s.cancelTimerLocked()
	stream, cancel := s.detachStreamLocked()
	s.mu.Unlock()

	closeStream(stream, cancel)
	return true, nil
}

// Clear empties the transcript and cancels any pending commit.
func (s *CaptureSession) Clear() {
	s.mu.Lock()
	s.transcript.Reset()
	s.cancelTimerLocked()
	s.windowStart = time.Time{}
	s.mu.Unlock()

	s.events.TranscriptChanged("")
}

// OnRecognitionEvent folds one recognizer event into the transcript. Events
// are ignored unless the session is listening.
func (s *CaptureSession) OnRecognitionEvent(event domain.RecognitionEvent) {
	s.mu.Lock()
	if s.state != domain.CaptureStateListening {
		s.mu.Unlock()
		return
	}
	display := s.applyLocked(event)
	s.mu.Unlock()

	s.events.TranscriptChanged(display)
}

// SetLanguage changes the language used by the next Resume.
func (s *CaptureSession) SetLanguage(language string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Language = language
}

func (s *CaptureSession) State() domain.CaptureState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *CaptureSession) Transcript() domain.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

// Failure returns the recognizer error that stopped the session, if any.
func (s *CaptureSession) Failure() *domain.RecognitionError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

func (s *CaptureSession) openStreamLocked(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := s.recognizer.Start(streamCtx, s.cfg.Language)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start recognizer: %w", err)
	}

	s.generation++
	s.stream = stream
	s.cancel = cancel
	s.state = domain.CaptureStateListening

	go s.consume(s.generation, stream)
	return nil
}

func (s *CaptureSession) detachStreamLocked() (ports.RecognitionStream, context.CancelFunc) {
	s.generation++
	stream, cancel := s.stream, s.cancel
	s.stream, s.cancel = nil, nil
	return stream, cancel
}

func closeStream(stream ports.RecognitionStream, cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if stream != nil {
		_ = stream.Close()
	}
}

func (s *CaptureSession) consume(generation uint64, stream ports.RecognitionStream) {
	for event := range stream.Events() {
		s.mu.Lock()
		if generation != s.generation || s.state != domain.CaptureStateListening {
			s.mu.Unlock()
			continue
		}
		display := s.applyLocked(event)
		s.mu.Unlock()

		s.events.TranscriptChanged(display)
	}

	s.streamEnded(generation, stream.Wait())
}

// streamEnded handles a recognizer run that finished without being asked to.
func (s *CaptureSession) streamEnded(generation uint64, err error) {
	s.mu.Lock()
	if generation != s.generation || s.state != domain.CaptureStateListening {
		s.mu.Unlock()
		return
	}
	s.state = domain.CaptureStateStopped
	s.cancelTimerLocked()
	stream, cancel := s.detachStreamLocked()
	recErr := domain.AsRecognitionError(err)
	s.failure = recErr
	s.mu.Unlock()

	closeStream(stream, cancel)

	if recErr == nil {
		s.logger.Info("recognizer ended", "language", s.cfg.Language)
		s.events.CaptureStateChanged(domain.CaptureStateStopped, domain.CaptureReasonRecognizerEnded)
		return
	}

	s.logger.Warn("recognizer failed", "kind", recErr.Kind, "error", recErr)
	s.events.SessionError(domain.CodeFor(recErr), recErr.Message())
	s.events.CaptureStateChanged(domain.CaptureStateStopped, domain.CaptureReasonRecognitionFailed)
}

func (s *CaptureSession) applyLocked(event domain.RecognitionEvent) string {
	now := s.now()
	if s.windowStart.IsZero() {
		s.windowStart = now
	}
	if s.transcript.Apply(event) {
		s.lastFinal = now
		s.armTimerLocked()
	}
	return s.transcript.Display()
}

func (s *CaptureSession) armTimerLocked() {
	if s.timerStop != nil {
		s.timerStop()
	}
	s.timerGen++
	s.timerArmed = true
	generation := s.timerGen
	s.timerStop = s.afterFunc(s.cfg.CommitWindow, func() { s.fireCommit(generation) })
}

func (s *CaptureSession) cancelTimerLocked() {
	s.timerGen++
	s.timerArmed = false
	if s.timerStop != nil {
		s.timerStop()
		s.timerStop = nil
	}
}

func (s *CaptureSession) fireCommit(generation uint64) {
	s.mu.Lock()
	if !s.timerArmed || generation != s.timerGen {
		s.mu.Unlock()
		return
	}
	s.timerArmed = false
	s.timerStop = nil
	commit := domain.Commit{
		Text: s.transcript.CommitText(),
		STT:  s.lastFinal.Sub(s.windowStart),
	}
	s.windowStart = time.Time{}
	s.mu.Unlock()

	if commit.Text == "" {
		return
	}
	s.logger.Debug("transcript committed", "chars", len(commit.Text), "stt", commit.STT)
	s.onCommit(commit)
}
