package bootstrap

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/exp/slog"

	"babelmic/internal/audio"
	"babelmic/internal/config"
	"babelmic/internal/logging"
	"babelmic/internal/ports"
	"babelmic/internal/providers/deepgram"
	"babelmic/internal/providers/httpapi"
	"babelmic/internal/providers/legacyws"
	"babelmic/internal/providers/rpcws"
	"babelmic/internal/usecase"
	"babelmic/internal/webview"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Bridge     *webview.Bridge
	Backend    *httpapi.Client
	Config     config.Config
	Logger     *slog.Logger

	closers []io.Closer
}

// Close stops the controller and drops backend connections.
func (s Services) Close() error {
	if s.Controller != nil {
		s.Controller.Close()
	}
	var errs []error
	for _, closer := range s.closers {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

type remote struct {
	translator  ports.Translator
	transcriber ports.Transcriber
	settings    ports.SettingsUpdater
	closers     []io.Closer
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink, emitter webview.Emitter, clipboard ports.Clipboard) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	logger := logging.New(cfg.Log)

	backend, err := httpapi.New(cfg.Remote.HTTPURL, logger)
	if err != nil {
		return Services{}, err
	}
	r, err := buildRemote(cfg.Remote, backend, logger)
	if err != nil {
		return Services{}, err
	}

	bridge := webview.NewBridge(emitter, webview.Voice{
		Rate:   cfg.Speech.Rate,
		Pitch:  cfg.Speech.Pitch,
		Volume: cfg.Speech.Volume,
	}, logger)

	recognizer, err := buildRecognizer(cfg, bridge)
	if err != nil {
		return Services{}, err
	}
	synth, err := buildSynthesizer(cfg.Speech, bridge, backend)
	if err != nil {
		return Services{}, err
	}

	controller := usecase.NewSessionController(
		usecase.Dependencies{
			Recognizer:  recognizer,
			Synthesizer: synth,
			Translator:  r.translator,
			Transcriber: r.transcriber,
			Settings:    r.settings,
			Clipboard:   clipboard,
			Events:      eventSink,
			Logger:      logger,
		},
		usecase.Config{
			Capture: usecase.CaptureConfig{
				Language:     cfg.Session.SourceLang,
				CommitWindow: cfg.Session.CommitWindow,
			},
			Pipeline: usecase.PipelineConfig{
				AutoSpeak:        cfg.Session.AutoSpeak,
				RequestTimeout:   cfg.Remote.RequestTimeout,
				SynthesisTimeout: cfg.Remote.SynthesisTimeout,
			},
			SourceLang:    cfg.Session.SourceLang,
			TargetLang:    cfg.Session.TargetLang,
			AutoTranslate: cfg.Session.AutoTranslate,
			EditDebounce:  cfg.Session.EditDebounce,
		},
	)

	logger.Info("services ready",
		"transport", cfg.Remote.Transport,
		"recognizer", cfg.Speech.Recognizer,
		"synthesizer", cfg.Speech.Synthesizer,
	)
	return Services{
		Controller: controller,
		Bridge:     bridge,
		Backend:    backend,
		Config:     cfg,
		Logger:     logger,
		closers:    r.closers,
	}, nil
}

func buildRemote(cfg config.RemoteConfig, backend *httpapi.Client, logger *slog.Logger) (remote, error) {
	switch cfg.Transport {
	case "rpc":
		client, err := rpcws.New(rpcws.Config{URL: cfg.URL, DialTimeout: cfg.DialTimeout}, logger)
		if err != nil {
			return remote{}, err
		}
		return remote{translator: client, transcriber: client, settings: client, closers: []io.Closer{client}}, nil
	case "legacy":
		client, err := legacyws.New(legacyws.Config{URL: cfg.LegacyURL, DialTimeout: cfg.DialTimeout}, logger)
		if err != nil {
			return remote{}, err
		}
		return remote{translator: client, transcriber: backend, settings: backend, closers: []io.Closer{client}}, nil
	case "http":
		return remote{translator: backend, transcriber: backend, settings: backend}, nil
	default:
		return remote{}, fmt.Errorf("unknown remote transport %q", cfg.Transport)
	}
}

func buildRecognizer(cfg config.Config, bridge *webview.Bridge) (ports.Recognizer, error) {
	switch cfg.Speech.Recognizer {
	case "webview":
		return bridge, nil
	case "deepgram":
		provider := deepgram.NewProvider(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.APIBaseURL,
			Model:       cfg.Deepgram.Model,
			SmartFormat: cfg.Deepgram.SmartFormat,
		})
		return deepgram.NewRecognizer(
			provider,
			audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand),
			ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			cfg.Settings.ChunkSize,
		), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown recognizer %q", cfg.Speech.Recognizer)
	}
}

func buildSynthesizer(cfg config.SpeechConfig, bridge *webview.Bridge, backend *httpapi.Client) (ports.Synthesizer, error) {
	switch cfg.Synthesizer {
	case "webview":
		return bridge, nil
	case "remote":
		return audio.NewRemoteSpeech(backend, audio.NewFFPlayPlayer(cfg.PlayerCommand)), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown synthesizer %q", cfg.Synthesizer)
	}
}
