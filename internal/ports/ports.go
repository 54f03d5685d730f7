package ports

import (
	"context"
	"io"

	"babelmic/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// RecognitionStream delivers recognition events for one recognizer run.
// Events is closed when the run ends; Wait then returns the terminal error, if any.
type RecognitionStream interface {
	Events() <-chan domain.RecognitionEvent
	Wait() error
	Close() error
}

// Recognizer is the speech-recognition capability.
type Recognizer interface {
	Start(ctx context.Context, language string) (RecognitionStream, error)
}

// Synthesizer speaks text and returns once playback has finished.
type Synthesizer interface {
	Speak(ctx context.Context, text string, language string) error
}

// Translator is the machine-translation RPC.
type Translator interface {
	Translate(ctx context.Context, req domain.TranslateRequest) (domain.Translation, error)
}

// Transcriber is the speech-to-text RPC for recorded or uploaded audio.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string, language string) (string, error)
}

// SettingsUpdater forwards audio front-end settings to the backend.
type SettingsUpdater interface {
	UpdateSettings(ctx context.Context, settings domain.Settings) error
}

// SpeechFetcher downloads synthesized audio for text.
type SpeechFetcher interface {
	FetchSpeech(ctx context.Context, text string, language string) ([]byte, error)
}

// Player plays an encoded audio clip and returns when playback ends.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	CaptureStateChanged(state domain.CaptureState, reason domain.CaptureReason)
	TranscriptChanged(display string)
	SourceTextReplaced(text string)
	TranslationApplied(result domain.TurnResult)
	LogAppended(entry domain.LogEntry)
	SessionError(code domain.ErrorCode, detail string)
}
