package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"golang.org/x/exp/slog"

	"babelmic/internal/domain"
	"babelmic/internal/logging"
	"babelmic/internal/ports"
)

var ErrNoActiveSession = errors.New("no active recording session")

const defaultEditDebounce = 500 * time.Millisecond

// Config controls capture, pipeline and auto-translate behavior.
type Config struct {
	Capture       CaptureConfig
	Pipeline      PipelineConfig
	SourceLang    string
	TargetLang    string
	AutoTranslate bool
	EditDebounce  time.Duration
}

// Dependencies are the capabilities the controller drives. Only Translator and
// Events are required.
type Dependencies struct {
	Recognizer  ports.Recognizer
	Synthesizer ports.Synthesizer
	Translator  ports.Translator
	Transcriber ports.Transcriber
	Settings    ports.SettingsUpdater
	Clipboard   ports.Clipboard
	Events      ports.EventSink
	Logger      *slog.Logger
}

// SessionController is the facade the UI talks to. It owns the active
// CaptureSession, the TurnPipeline and the LatencyLog.
type SessionController struct {
	recognizer   ports.Recognizer
	synth        ports.Synthesizer
	transcriber  ports.Transcriber
	settings     ports.SettingsUpdater
	clipboard    ports.Clipboard
	events       ports.EventSink
	logger       *slog.Logger
	pipeline     *TurnPipeline
	log          *LatencyLog
	cfg          Config
	editDebounce func(func())

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu            sync.Mutex
	current       *CaptureSession
	sourceLang    string
	targetLang    string
	carryLang     string
	sourceText    string
	targetText    string
	autoTranslate bool
	inFlight      map[domain.TriggerSource]bool
	queued        map[domain.TriggerSource]domain.TurnRequest
}

func NewSessionController(deps Dependencies, cfg Config) *SessionController {
	if cfg.EditDebounce <= 0 {
		cfg.EditDebounce = defaultEditDebounce
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	c := &SessionController{
		recognizer:    deps.Recognizer,
		synth:         deps.Synthesizer,
		transcriber:   deps.Transcriber,
		settings:      deps.Settings,
		clipboard:     deps.Clipboard,
		logger:        logger,
		log:           NewLatencyLog(),
		cfg:           cfg,
		editDebounce:  debounce.New(cfg.EditDebounce),
		sourceLang:    cfg.SourceLang,
		targetLang:    cfg.TargetLang,
		carryLang:     cfg.SourceLang,
		autoTranslate: cfg.AutoTranslate,
		inFlight:      make(map[domain.TriggerSource]bool),
		queued:        make(map[domain.TriggerSource]domain.TurnRequest),
	}
	c.baseCtx, c.cancelBase = context.WithCancel(context.Background())
	c.events = trackingSink{EventSink: deps.Events, onApplied: c.recordApplied}
	c.pipeline = NewTurnPipeline(deps.Translator, deps.Synthesizer, c.events, c.log, logger, cfg.Pipeline)
	return c
}

// StartCapture begins a new capture session, stopping any previous one first.
// Recognizer streams run under the controller's lifetime, not ctx.
func (c *SessionController) StartCapture(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	previous := c.current
	c.current = nil
	language := c.sourceLang
	c.mu.Unlock()

	if previous != nil {
		_, _ = previous.halt()
	}

	capCfg := c.cfg.Capture
	capCfg.Language = language
	session := NewCaptureSession(c.recognizer, c.events, c.logger, capCfg, c.handleCommit)
	if err := session.Start(c.baseCtx); err != nil {
		if previous != nil {
			c.events.CaptureStateChanged(domain.CaptureStateStopped, domain.CaptureReasonStopped)
		}
		c.events.SessionError(domain.CodeFor(err), errorDetail(err))
		return err
	}

	c.mu.Lock()
	c.current = session
	c.mu.Unlock()

	reason := domain.CaptureReasonRecordingStarted
	if previous != nil {
		reason = domain.CaptureReasonRecordingRestarted
	}
	c.logger.Info("capture started", "language", language, "reason", reason)
	c.events.CaptureStateChanged(domain.CaptureStateListening, reason)
	return nil
}

func (c *SessionController) PauseCapture() error {
	session, err := c.getCurrent()
	if err != nil {
		return err
	}
	return session.Pause()
}

func (c *SessionController) ResumeCapture(ctx context.Context) error {
	session, err := c.getCurrent()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := session.Resume(c.baseCtx); err != nil {
		c.events.SessionError(domain.CodeFor(err), errorDetail(err))
		return err
	}
	return nil
}

func (c *SessionController) StopCapture() error {
	session, err := c.getCurrent()
	if err != nil {
		return err
	}
	return session.Stop()
}

// ClearTranscript empties the live transcript and the source text.
func (c *SessionController) ClearTranscript() {
	c.mu.Lock()
	session := c.current
	c.sourceText = ""
	c.mu.Unlock()

	if session != nil {
		session.Clear()
		return
	}
	c.events.TranscriptChanged("")
}

// Translate submits text from the translate button. Empty text falls back to
// the current source text.
func (c *SessionController) Translate(ctx context.Context, text string) (domain.TurnResult, error) {
	c.mu.Lock()
	if strings.TrimSpace(text) == "" {
		text = c.sourceText
	} else {
		c.sourceText = text
	}
	req := domain.TurnRequest{
		Text:       text,
		SourceLang: c.sourceLang,
		TargetLang: c.targetLang,
		Trigger:    domain.TriggerUserEdit,
		Source:     domain.SourceTranslateButton,
		Action:     domain.ActionNormal,
	}
	c.mu.Unlock()

	return c.pipeline.Submit(ctx, req)
}

// EditSource records edited source text. With auto-translate on, the text is
// translated once edits settle.
func (c *SessionController) EditSource(text string) {
	c.mu.Lock()
	c.sourceText = text
	auto := c.autoTranslate
	c.mu.Unlock()

	if !auto {
		return
	}
	c.editDebounce(c.submitEdit)
}

func (c *SessionController) submitEdit() {
	c.mu.Lock()
	req := domain.TurnRequest{
		Text:       c.sourceText,
		SourceLang: c.sourceLang,
		TargetLang: c.targetLang,
		Trigger:    domain.TriggerUserEdit,
		Source:     domain.SourceInputEditor,
		Action:     domain.ActionNormal,
	}
	c.mu.Unlock()

	c.runLatest(req)
}

// SetSourceLanguage switches the source language and replays existing source
// text. The replay translates from the previously selected source language
// into the new one and replaces the source text.
func (c *SessionController) SetSourceLanguage(ctx context.Context, language string) error {
	c.mu.Lock()
	from := c.carryLang
	if from == "" {
		from = language
	}
	c.carryLang = language
	c.sourceLang = language
	text := c.sourceText
	session := c.current
	c.mu.Unlock()

	if session != nil {
		session.SetLanguage(language)
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	_, err := c.pipeline.Submit(ctx, domain.TurnRequest{
		Text:       text,
		SourceLang: from,
		TargetLang: language,
		Trigger:    domain.TriggerLanguageChange,
		Source:     domain.SourceSourceLanguage,
		Action:     domain.ActionChangeSrcLang,
	})
	return err
}

// SetTargetLanguage switches the target language and replays existing source text.
func (c *SessionController) SetTargetLanguage(ctx context.Context, language string) error {
	c.mu.Lock()
	c.targetLang = language
	from := c.sourceLang
	text := c.sourceText
	c.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return nil
	}

	_, err := c.pipeline.Submit(ctx, domain.TurnRequest{
		Text:       text,
		SourceLang: from,
		TargetLang: language,
		Trigger:    domain.TriggerLanguageChange,
		Source:     domain.SourceTargetLanguage,
		Action:     domain.ActionChangeTgtLang,
	})
	return err
}

// UploadAudio transcribes a recorded clip and translates the transcript.
func (c *SessionController) UploadAudio(ctx context.Context, audio []byte, filename string) (domain.TurnResult, error) {
	if c.transcriber == nil {
		c.events.SessionError(domain.ErrorCodeCapabilityUnavailable, "transcription is not configured")
		return domain.TurnResult{}, domain.ErrCapabilityUnavailable
	}
	if len(audio) == 0 {
		return domain.TurnResult{}, fmt.Errorf("%w: empty audio upload", domain.ErrTranscriptionFailed)
	}

	c.mu.Lock()
	sourceLang, targetLang := c.sourceLang, c.targetLang
	c.mu.Unlock()

	sttCtx, cancel := withTimeout(ctx, c.cfg.Pipeline.RequestTimeout)
	start := time.Now()
	text, err := c.transcriber.Transcribe(sttCtx, audio, filename, sourceLang)
	stt := time.Since(start)
	cancel()
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrTranscriptionFailed, err)
		c.logger.Warn("transcription failed", "file", filename, "error", err)
		c.events.SessionError(domain.ErrorCodeTranscription, err.Error())
		return domain.TurnResult{}, err
	}

	c.mu.Lock()
	c.sourceText = text
	c.mu.Unlock()
	c.events.SourceTextReplaced(text)

	return c.pipeline.Submit(ctx, domain.TurnRequest{
		Text:       text,
		SourceLang: sourceLang,
		TargetLang: targetLang,
		Trigger:    domain.TriggerAudioUpload,
		Source:     domain.SourceAudioUpload,
		Action:     domain.ActionAudio,
		STT:        &stt,
	})
}

// Speak reads the text currently shown on a display aloud.
func (c *SessionController) Speak(ctx context.Context, display domain.Display) error {
	if c.synth == nil {
		return domain.ErrCapabilityUnavailable
	}

	c.mu.Lock()
	text, language := c.sourceText, c.sourceLang
	if display == domain.DisplayTarget {
		text, language = c.targetText, c.targetLang
	}
	c.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return domain.ErrEmptyText
	}

	speakCtx, cancel := withTimeout(ctx, c.cfg.Pipeline.SynthesisTimeout)
	defer cancel()
	if err := c.synth.Speak(speakCtx, text, language); err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrSynthesisFailed, err)
		c.events.SessionError(domain.ErrorCodeSynthesis, err.Error())
		return err
	}
	return nil
}

// UpdateSettings forwards audio settings to the backend.
func (c *SessionController) UpdateSettings(ctx context.Context, settings domain.Settings) error {
	if c.settings == nil {
		return domain.ErrCapabilityUnavailable
	}

	reqCtx, cancel := withTimeout(ctx, c.cfg.Pipeline.RequestTimeout)
	defer cancel()
	if err := c.settings.UpdateSettings(reqCtx, settings); err != nil {
		err = fmt.Errorf("failed to update settings: %w", err)
		c.events.SessionError(domain.ErrorCodeSettings, err.Error())
		return err
	}
	c.logger.Info("settings updated", "chunk_size", settings.ChunkSize, "vad_sensitivity", settings.VADSensitivity)
	return nil
}

func (c *SessionController) SetAutoTranslate(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoTranslate = enabled
}

func (c *SessionController) SetAutoSpeak(enabled bool) {
	c.pipeline.SetAutoSpeak(enabled)
}

// ExportLog writes the latency log as "json" or "csv".
func (c *SessionController) ExportLog(w io.Writer, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return c.log.WriteJSON(w)
	case "csv":
		return c.log.WriteCSV(w)
	default:
		return fmt.Errorf("unsupported log format %q", format)
	}
}

// CopyLog exports the latency log and writes it to the clipboard.
func (c *SessionController) CopyLog(ctx context.Context, format string) error {
	if c.clipboard == nil {
		return domain.ErrCapabilityUnavailable
	}
	var buf bytes.Buffer
	if err := c.ExportLog(&buf, format); err != nil {
		return err
	}
	if err := c.clipboard.SetText(ctx, buf.String()); err != nil {
		c.logger.Warn("clipboard write failed", "error", err)
		c.events.SessionError(domain.ErrorCodeClipboard, err.Error())
		return err
	}
	return nil
}

// LogDisplay returns log entries newest first.
func (c *SessionController) LogDisplay() []domain.LogEntry {
	return c.log.Display()
}

func (c *SessionController) Log() *LatencyLog {
	return c.log
}

// Status returns the current backend status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	session := c.current
	status := domain.Status{
		State:         domain.CaptureStateIdle,
		SourceLang:    c.sourceLang,
		TargetLang:    c.targetLang,
		SourceText:    c.sourceText,
		TargetText:    c.targetText,
		AutoTranslate: c.autoTranslate,
		AutoSpeak:     c.pipeline.AutoSpeak(),
		LogEmpty:      c.log.IsEmpty(),
	}
	c.mu.Unlock()

	if session == nil {
		return status
	}
	status.State = session.State()
	status.Active = status.State == domain.CaptureStateListening || status.State == domain.CaptureStatePaused
	status.Transcript = session.Transcript().Display()
	if failure := session.Failure(); failure != nil {
		status.Message = failure.Message()
	}
	return status
}

// Close stops capture and cancels background turns.
func (c *SessionController) Close() {
	c.mu.Lock()
	session := c.current
	c.current = nil
	c.mu.Unlock()

	if session != nil {
		_, _ = session.halt()
	}
	c.cancelBase()
}

func (c *SessionController) handleCommit(commit domain.Commit) {
	c.mu.Lock()
	c.sourceText = commit.Text
	auto := c.autoTranslate
	req := domain.TurnRequest{
		Text:       commit.Text,
		SourceLang: c.sourceLang,
		TargetLang: c.targetLang,
		Trigger:    domain.TriggerVoiceCommit,
		Source:     domain.SourceRecordButton,
		Action:     domain.ActionNormal,
	}
	c.mu.Unlock()

	if !auto {
		return
	}
	if commit.STT > 0 {
		stt := commit.STT
		req.STT = &stt
	}
	c.runLatest(req)
}

// runLatest submits background turns one at a time per trigger source. A
// request arriving while its source is in flight replaces any queued one and
// runs after the current turn finishes.
func (c *SessionController) runLatest(req domain.TurnRequest) {
	c.mu.Lock()
	if c.inFlight[req.Source] {
		c.queued[req.Source] = req
		c.mu.Unlock()
		return
	}
	c.inFlight[req.Source] = true
	c.mu.Unlock()

	for {
		c.submitBackground(req)

		c.mu.Lock()
		next, ok := c.queued[req.Source]
		if !ok {
			delete(c.inFlight, req.Source)
			c.mu.Unlock()
			return
		}
		delete(c.queued, req.Source)
		c.mu.Unlock()
		req = next
	}
}

func (c *SessionController) submitBackground(req domain.TurnRequest) {
	_, err := c.pipeline.Submit(c.baseCtx, req)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrEmptyText):
	case errors.Is(err, domain.ErrTriggerBusy):
		c.logger.Debug("turn skipped", "source", req.Source, "error", err)
	default:
		c.logger.Debug("background turn failed", "source", req.Source, "error", err)
	}
}

func (c *SessionController) recordApplied(result domain.TurnResult) {
	if result.Unavailable {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch result.Display {
	case domain.DisplaySource:
		c.sourceText = result.TranslatedText
	case domain.DisplayTarget:
		c.targetText = result.TranslatedText
	}
}

func (c *SessionController) getCurrent() (*CaptureSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNoActiveSession
	}
	return c.current, nil
}

func errorDetail(err error) string {
	var recErr *domain.RecognitionError
	if errors.As(err, &recErr) {
		return recErr.Message()
	}
	return err.Error()
}

type trackingSink struct {
	ports.EventSink
	onApplied func(domain.TurnResult)
}

func (s trackingSink) TranslationApplied(result domain.TurnResult) {
	s.onApplied(result)
	s.EventSink.TranslationApplied(result)
}
