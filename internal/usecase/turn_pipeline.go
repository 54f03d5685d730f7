package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"babelmic/internal/domain"
	"babelmic/internal/logging"
	"babelmic/internal/ports"
)

// PipelineConfig bounds remote calls and sets the initial auto-speak flag.
type PipelineConfig struct {
	AutoSpeak        bool
	RequestTimeout   time.Duration
	SynthesisTimeout time.Duration
}

// TurnPipeline runs one request through translate and, when required,
// synthesize. At most one request per trigger source is in flight.
type TurnPipeline struct {
	translator ports.Translator
	synth      ports.Synthesizer
	events     ports.EventSink
	log        *LatencyLog
	logger     *slog.Logger
	cfg        PipelineConfig
	now        func() time.Time

	autoSpeak atomic.Bool

	mu     sync.Mutex
	busy   map[domain.TriggerSource]struct{}
	issued uint64

	displayMu sync.Mutex
	applied   map[domain.Display]uint64
}

func NewTurnPipeline(
	translator ports.Translator,
	synth ports.Synthesizer,
	events ports.EventSink,
	log *LatencyLog,
	logger *slog.Logger,
	cfg PipelineConfig,
) *TurnPipeline {
	if logger == nil {
		logger = logging.Discard()
	}
	if log == nil {
		log = NewLatencyLog()
	}
	p := &TurnPipeline{
		translator: translator,
		synth:      synth,
		events:     events,
		log:        log,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
		busy:       make(map[domain.TriggerSource]struct{}),
		applied:    make(map[domain.Display]uint64),
	}
	p.autoSpeak.Store(cfg.AutoSpeak)
	return p
}

func (p *TurnPipeline) SetAutoSpeak(enabled bool) {
	p.autoSpeak.Store(enabled)
}

func (p *TurnPipeline) AutoSpeak() bool {
	return p.autoSpeak.Load()
}

// Busy reports whether a request from source is in flight.
func (p *TurnPipeline) Busy(source domain.TriggerSource) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.busy[source]
	return ok
}

// Submit translates the request text and speaks the result when auto-speak is
// on or the trigger requires audio. A completed turn is appended to the log.
func (p *TurnPipeline) Submit(ctx context.Context, req domain.TurnRequest) (domain.TurnResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return domain.TurnResult{}, domain.ErrEmptyText
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	seq, err := p.acquire(req.Source)
	if err != nil {
		return domain.TurnResult{}, err
	}
	defer p.release(req.Source)

	result := domain.TurnResult{RequestID: req.ID, Display: req.Display()}
	if req.STT != nil {
		result.STTSeconds = domain.Seconds(*req.STT)
	}

	mtCtx, cancel := withTimeout(ctx, p.cfg.RequestTimeout)
	mtStart := p.now()
	translation, err := p.translator.Translate(mtCtx, domain.TranslateRequest{
		RequestID:  req.ID,
		Text:       req.Text,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
		Action:     req.Action,
	})
	mtEnd := p.now()
	cancel()
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrTranslationFailed, err)
		p.logger.Warn("translation failed", "request", req.ID, "trigger", req.Trigger, "error", err)
		p.events.SessionError(domain.ErrorCodeTranslation, err.Error())
		return result, err
	}

	result.MTSeconds = mtEnd.Sub(mtStart).Seconds()
	result.TranslatedText = translation.Text
	result.Unavailable = translation.Unavailable
	result.Timestamp = mtEnd
	if translation.Unavailable {
		p.logger.Warn("translation unavailable", "request", req.ID, "trigger", req.Trigger)
		p.events.SessionError(domain.ErrorCodeMalformedResponse, "translation unavailable: backend reply was incomplete")
	}

	applied := p.apply(seq, result)
	if !applied {
		p.logger.Debug("stale translation discarded", "request", req.ID, "display", result.Display)
	}

	if applied && !result.Unavailable && p.shouldSpeak(req) {
		ttsSeconds, err := p.speak(ctx, req, result.TranslatedText)
		if err != nil {
			return result, err
		}
		result.TTSSeconds = ttsSeconds
	}
	result.Timestamp = p.now()

	entry := domain.LogEntry{
		Timestamp:      result.Timestamp,
		RequestID:      req.ID,
		Trigger:        req.Trigger,
		SourceLang:     req.SourceLang,
		TargetLang:     req.TargetLang,
		SourceText:     req.Text,
		TranslatedText: result.TranslatedText,
		STTSeconds:     result.STTSeconds,
		MTSeconds:      result.MTSeconds,
		TTSSeconds:     result.TTSSeconds,
	}
	p.log.Append(entry)
	p.events.LogAppended(entry)
	p.logger.Info("turn completed",
		"request", req.ID,
		"trigger", req.Trigger,
		"pair", entry.Pair(),
		"total", entry.Total(),
	)
	return result, nil
}

func (p *TurnPipeline) shouldSpeak(req domain.TurnRequest) bool {
	return p.autoSpeak.Load() || req.Trigger == domain.TriggerVoiceCommit
}

func (p *TurnPipeline) speak(ctx context.Context, req domain.TurnRequest, text string) (*float64, error) {
	if p.synth == nil || strings.TrimSpace(text) == "" {
		return nil, nil
	}

	ttsCtx, cancel := withTimeout(ctx, p.cfg.SynthesisTimeout)
	defer cancel()

	start := p.now()
	if err := p.synth.Speak(ttsCtx, text, req.TargetLang); err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrSynthesisFailed, err)
		p.logger.Warn("synthesis failed", "request", req.ID, "error", err)
		p.events.SessionError(domain.ErrorCodeSynthesis, err.Error())
		return nil, err
	}
	return domain.Seconds(p.now().Sub(start)), nil
}

func (p *TurnPipeline) acquire(source domain.TriggerSource) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.busy[source]; ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrTriggerBusy, source)
	}
	p.busy[source] = struct{}{}
	p.issued++
	return p.issued, nil
}

func (p *TurnPipeline) release(source domain.TriggerSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.busy, source)
}

// apply publishes a result unless a newer request already wrote its display.
func (p *TurnPipeline) apply(seq uint64, result domain.TurnResult) bool {
	p.displayMu.Lock()
	defer p.displayMu.Unlock()
	if seq <= p.applied[result.Display] {
		return false
	}
	p.applied[result.Display] = seq
	p.events.TranslationApplied(result)
	return true
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
