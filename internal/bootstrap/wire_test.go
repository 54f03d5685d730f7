package bootstrap

import (
	"context"
	"testing"

	"babelmic/internal/domain"
	"babelmic/internal/providers/deepgram"
	"babelmic/internal/providers/httpapi"
	"babelmic/internal/providers/legacyws"
	"babelmic/internal/providers/rpcws"
	"babelmic/internal/webview"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("BABELMIC_CONFIG_FILE", "")
	t.Setenv("BABELMIC_REMOTE_TRANSPORT", "")
	t.Setenv("BABELMIC_REMOTE_URL", "")
	t.Setenv("BABELMIC_SPEECH_RECOGNIZER", "")
	t.Setenv("BABELMIC_SPEECH_SYNTHESIZER", "")
	t.Setenv("BABELMIC_LOG_LEVEL", "error")
}

func TestBuildSuccess(t *testing.T) {
	isolate(t)

	services, err := Build(noopEventSink{}, noopEmitter{}, noopClipboard{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	if services.Controller == nil || services.Bridge == nil || services.Backend == nil {
		t.Fatalf("expected assembled services: %+v", services)
	}
	if status := services.Controller.Status(); status.SourceLang != "th" || status.TargetLang != "en" {
		t.Fatalf("unexpected initial status: %+v", status)
	}
}

func TestBuildRemoteTransports(t *testing.T) {
	isolate(t)

	backend, err := httpapi.New("http://127.0.0.1:8000", nil)
	if err != nil {
		t.Fatalf("backend: %v", err)
	}

	services, err := Build(noopEventSink{}, noopEmitter{}, noopClipboard{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()
	cfg := services.Config.Remote

	r, err := buildRemote(cfg, backend, nil)
	if err != nil {
		t.Fatalf("rpc: %v", err)
	}
	client, ok := r.translator.(*rpcws.Client)
	if !ok || r.transcriber != client || r.settings != client {
		t.Fatalf("rpc transport should serve every call: %+v", r)
	}

	cfg.Transport = "legacy"
	r, err = buildRemote(cfg, backend, nil)
	if err != nil {
		t.Fatalf("legacy: %v", err)
	}
	if _, ok := r.translator.(*legacyws.Client); !ok || r.transcriber != backend {
		t.Fatalf("legacy transport translates only: %+v", r)
	}

	cfg.Transport = "http"
	r, err = buildRemote(cfg, backend, nil)
	if err != nil {
		t.Fatalf("http: %v", err)
	}
	if r.translator != backend || len(r.closers) != 0 {
		t.Fatalf("http transport should use the backend client: %+v", r)
	}

	cfg.Transport = "smoke-signals"
	if _, err := buildRemote(cfg, backend, nil); err == nil {
		t.Fatalf("expected unknown transport error")
	}
}

func TestBuildSelectsDeepgramRecognizer(t *testing.T) {
	isolate(t)
	t.Setenv("BABELMIC_SPEECH_RECOGNIZER", "deepgram")
	t.Setenv("BABELMIC_SPEECH_SYNTHESIZER", "none")
	t.Setenv("DEEPGRAM_API_KEY", "test-key")

	services, err := Build(noopEventSink{}, noopEmitter{}, noopClipboard{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	recognizer, err := buildRecognizer(services.Config, services.Bridge)
	if err != nil {
		t.Fatalf("recognizer: %v", err)
	}
	if _, ok := recognizer.(*deepgram.Recognizer); !ok {
		t.Fatalf("expected deepgram recognizer, got %T", recognizer)
	}
	synth, err := buildSynthesizer(services.Config.Speech, services.Bridge, services.Backend)
	if err != nil || synth != nil {
		t.Fatalf("expected no synthesizer, got %T %v", synth, err)
	}
}

func TestBuildFailsOnUnknownRecognizer(t *testing.T) {
	isolate(t)
	t.Setenv("BABELMIC_SPEECH_RECOGNIZER", "telepathy")

	if _, err := Build(noopEventSink{}, noopEmitter{}, noopClipboard{}); err == nil {
		t.Fatalf("expected unknown recognizer error")
	}
}

func TestBuildFailsOnInvalidRemoteURL(t *testing.T) {
	isolate(t)
	t.Setenv("BABELMIC_REMOTE_URL", "http://127.0.0.1:8000/ws")
	t.Setenv("BABELMIC_REMOTE_HTTP_URL", "http://127.0.0.1:8000")

	if _, err := Build(noopEventSink{}, noopEmitter{}, noopClipboard{}); err == nil {
		t.Fatalf("expected websocket url error")
	}
}

type noopEventSink struct{}

func (noopEventSink) CaptureStateChanged(domain.CaptureState, domain.CaptureReason) {}
func (noopEventSink) TranscriptChanged(string)                                     {}
func (noopEventSink) SourceTextReplaced(string)                                    {}
func (noopEventSink) TranslationApplied(domain.TurnResult)                         {}
func (noopEventSink) LogAppended(domain.LogEntry)                                  {}
func (noopEventSink) SessionError(domain.ErrorCode, string)                        {}

type noopClipboard struct{}

func (noopClipboard) SetText(context.Context, string) error { return nil }

type noopEmitter struct{}

func (noopEmitter) Emit(string, interface{}) {}

var _ webview.Emitter = noopEmitter{}
