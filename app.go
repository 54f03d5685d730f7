package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"babelmic/internal/bootstrap"
	"babelmic/internal/domain"
	"babelmic/internal/usecase"
)

const (
	eventCapture     = "babelmic:capture"
	eventTranscript  = "babelmic:transcript"
	eventSourceText  = "babelmic:source"
	eventTranslation = "babelmic:translation"
	eventLog         = "babelmic:log"
	eventError       = "babelmic:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services   bootstrap.Services
	controller *usecase.SessionController
	bootErr    error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a, a, &wailsClipboard{})
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.controller = services.Controller
	a.CaptureStateChanged(domain.CaptureStateIdle, domain.CaptureReasonMicCold)
}

func (a *App) shutdown(_ context.Context) {
	if a.controller == nil {
		return
	}
	if err := a.services.Close(); err != nil {
		a.services.Logger.Warn("shutdown", "error", err)
	}
}

// StartCapture starts (or restarts) recording.
func (a *App) StartCapture() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.StartCapture(a.ctx); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

func (a *App) PauseCapture() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.PauseCapture(); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

func (a *App) ResumeCapture() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.ResumeCapture(a.ctx); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// StopCapture ends the recording. Stopping with nothing recording is a no-op.
func (a *App) StopCapture() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.StopCapture(); err != nil && !errors.Is(err, usecase.ErrNoActiveSession) {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

func (a *App) ClearTranscript() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.ClearTranscript()
	return nil
}

// Translate runs the translate button. Blank text reuses the current source text.
func (a *App) Translate(text string) (domain.TurnResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.TurnResult{}, err
	}
	return a.controller.Translate(a.ctx, text)
}

// EditSource reports typing in the source editor.
func (a *App) EditSource(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.EditSource(text)
	return nil
}

func (a *App) SetSourceLanguage(language string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.SetSourceLanguage(a.ctx, language)
}

func (a *App) SetTargetLanguage(language string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.SetTargetLanguage(a.ctx, language)
}

// UploadAudio transcribes a base64 encoded recording and translates the text.
func (a *App) UploadAudio(encoded string, filename string) (domain.TurnResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.TurnResult{}, err
	}
	audio, err := decodeUpload(encoded)
	if err != nil {
		return domain.TurnResult{}, err
	}
	return a.controller.UploadAudio(a.ctx, audio, filename)
}

// Speak reads the source or target display aloud.
func (a *App) Speak(display string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	target, err := parseDisplay(display)
	if err != nil {
		return err
	}
	return a.controller.Speak(a.ctx, target)
}

func (a *App) UpdateSettings(chunkSize int, vadSensitivity float64) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.UpdateSettings(a.ctx, domain.Settings{ChunkSize: chunkSize, VADSensitivity: vadSensitivity})
}

func (a *App) SetAutoTranslate(enabled bool) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.SetAutoTranslate(enabled)
	return nil
}

func (a *App) SetAutoSpeak(enabled bool) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.SetAutoSpeak(enabled)
	return nil
}

// GetLog returns the latency log newest first.
func (a *App) GetLog() []domain.LogEntry {
	if a.controller == nil {
		return nil
	}
	return a.controller.LogDisplay()
}

// ExportLog renders the latency log as json or csv.
func (a *App) ExportLog(format string) (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := a.controller.ExportLog(&buf, format); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// CopyLog puts the exported latency log on the clipboard.
func (a *App) CopyLog(format string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.CopyLog(a.ctx, format)
}

// CheckHealth pings the backend's health route.
func (a *App) CheckHealth() (bool, error) {
	if err := a.requireReady(); err != nil {
		return false, err
	}
	if _, err := a.services.Backend.Health(a.ctx); err != nil {
		return false, err
	}
	return true, nil
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.CaptureStateIdle, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.CaptureStateIdle}
	}
	return a.controller.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	cfg := a.services.Config
	return map[string]string{
		"transport":   cfg.Remote.Transport,
		"backend":     cfg.Remote.URL,
		"recognizer":  cfg.Speech.Recognizer,
		"synthesizer": cfg.Speech.Synthesizer,
		"sourceLang":  cfg.Session.SourceLang,
		"targetLang":  cfg.Session.TargetLang,
	}
}

// ReportSpeechSupport is called by the page once it has probed its speech APIs.
func (a *App) ReportSpeechSupport(recognition bool, synthesis bool) {
	if a.controller == nil {
		return
	}
	a.services.Bridge.SetCapabilities(recognition, synthesis)
}

// RecognitionResult forwards the seq-th result event of a recognition run.
func (a *App) RecognitionResult(streamID string, seq int, event domain.RecognitionEvent) {
	if a.controller == nil {
		return
	}
	a.services.Bridge.Deliver(streamID, seq, event)
}

// RecognitionEnded closes a recognition run after count events.
func (a *App) RecognitionEnded(streamID string, count int, errName string, message string) {
	if a.controller == nil {
		return
	}
	a.services.Bridge.End(streamID, count, errName, message)
}

func (a *App) SpeechEnded(utteranceID string, errMessage string) {
	if a.controller == nil {
		return
	}
	a.services.Bridge.SpeechEnded(utteranceID, errMessage)
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// Emit sends a command event to the page.
func (a *App) Emit(event string, payload interface{}) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, event, payload)
}

// CaptureStateChanged emits capture lifecycle updates to the frontend.
func (a *App) CaptureStateChanged(state domain.CaptureState, reason domain.CaptureReason) {
	a.Emit(eventCapture, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": captureReasonMessage(reason),
	})
}

// TranscriptChanged emits the live transcript display value.
func (a *App) TranscriptChanged(display string) {
	a.Emit(eventTranscript, map[string]string{"text": display})
}

// SourceTextReplaced emits text that replaces the source editor contents.
func (a *App) SourceTextReplaced(text string) {
	a.Emit(eventSourceText, map[string]string{"text": text})
}

func (a *App) TranslationApplied(result domain.TurnResult) {
	a.Emit(eventTranslation, result)
}

func (a *App) LogAppended(entry domain.LogEntry) {
	a.Emit(eventLog, map[string]interface{}{"entry": entry, "total": entry.Total(), "pair": entry.Pair()})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.Emit(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func captureReasonMessage(reason domain.CaptureReason) string {
	switch reason {
	case domain.CaptureReasonMicCold:
		return "Mic cold"
	case domain.CaptureReasonRecordingStarted:
		return "Listening"
	case domain.CaptureReasonRecordingRestarted:
		return "Listening again; previous transcript cleared"
	case domain.CaptureReasonPaused:
		return "Paused"
	case domain.CaptureReasonResumed:
		return "Listening"
	case domain.CaptureReasonStopped:
		return "Stopped"
	case domain.CaptureReasonRecognizerEnded:
		return "Recognizer ended"
	case domain.CaptureReasonRecognitionFailed:
		return "Recognition failed"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeCapabilityUnavailable:
		return "Not supported on this system"
	case domain.ErrorCodePermissionDenied:
		return "Microphone access was denied"
	case domain.ErrorCodeRecognition:
		return "Speech recognition error"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	case domain.ErrorCodeTranslation:
		return "Translation error"
	case domain.ErrorCodeSynthesis:
		return "Speech playback error"
	case domain.ErrorCodeMalformedResponse:
		return "Backend reply was incomplete"
	case domain.ErrorCodeSettings:
		return "Settings update failed"
	case domain.ErrorCodeClipboard:
		return "Clipboard write failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

func parseDisplay(value string) (domain.Display, error) {
	switch domain.Display(strings.ToLower(strings.TrimSpace(value))) {
	case domain.DisplaySource:
		return domain.DisplaySource, nil
	case domain.DisplayTarget:
		return domain.DisplayTarget, nil
	default:
		return "", fmt.Errorf("unknown display %q", value)
	}
}

// decodeUpload accepts plain base64 or a data: URL as produced by FileReader.
func decodeUpload(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "data:") {
		if _, payload, ok := strings.Cut(encoded, ","); ok {
			encoded = payload
		}
	}
	audio, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid audio upload: %w", err)
	}
	return audio, nil
}

type wailsClipboard struct{}

func (c *wailsClipboard) SetText(ctx context.Context, text string) error {
	return runtime.ClipboardSetText(ctx, text)
}
