package domain

import (
	"errors"
	"fmt"
)

var (
	ErrCapabilityUnavailable = errors.New("speech capability is unavailable")
	ErrPermissionDenied      = errors.New("microphone permission denied")
	ErrTranslationFailed     = errors.New("translation failed")
	ErrSynthesisFailed       = errors.New("speech synthesis failed")
	ErrTranscriptionFailed   = errors.New("transcription failed")
	ErrMalformedResponse     = errors.New("malformed backend response")
	ErrTriggerBusy           = errors.New("trigger already has a request in flight")
	ErrEmptyText             = errors.New("no text to translate")
	ErrInvalidTransition     = errors.New("invalid capture state transition")
)

// RecognitionErrorKind tags errors reported by a recognizer.
type RecognitionErrorKind string

const (
	RecognitionNoSpeech         RecognitionErrorKind = "no-speech"
	RecognitionAudioCapture     RecognitionErrorKind = "audio-capture"
	RecognitionPermissionDenied RecognitionErrorKind = "permission-denied"
	RecognitionNetwork          RecognitionErrorKind = "network"
	RecognitionAborted          RecognitionErrorKind = "aborted"
	RecognitionOther            RecognitionErrorKind = "other"
)

// ParseRecognitionErrorKind maps recognizer error names, including the browser's
// not-allowed variants, onto a kind.
func ParseRecognitionErrorKind(name string) RecognitionErrorKind {
	switch name {
	case "no-speech":
		return RecognitionNoSpeech
	case "audio-capture":
		return RecognitionAudioCapture
	case "permission-denied", "not-allowed", "service-not-allowed":
		return RecognitionPermissionDenied
	case "network":
		return RecognitionNetwork
	case "aborted":
		return RecognitionAborted
	default:
		return RecognitionOther
	}
}

// RecognitionError is a tagged, non-fatal recognizer failure.
type RecognitionError struct {
	Kind   RecognitionErrorKind
	Detail string
}

func (e *RecognitionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("recognition error: %s", e.Kind)
	}
	return fmt.Sprintf("recognition error: %s: %s", e.Kind, e.Detail)
}

// Unwrap lets permission failures match ErrPermissionDenied.
func (e *RecognitionError) Unwrap() error {
	if e.Kind == RecognitionPermissionDenied {
		return ErrPermissionDenied
	}
	return nil
}

// Message is the human-readable cause shown to the user.
func (e *RecognitionError) Message() string {
	switch e.Kind {
	case RecognitionNoSpeech:
		return "No speech was detected"
	case RecognitionAudioCapture:
		return "Microphone capture failed"
	case RecognitionPermissionDenied:
		return "Microphone access was denied"
	case RecognitionNetwork:
		return "Speech recognition network error"
	case RecognitionAborted:
		return "Speech recognition was aborted"
	default:
		if e.Detail != "" {
			return e.Detail
		}
		return "Speech recognition failed"
	}
}

// AsRecognitionError normalizes any recognizer failure into a RecognitionError.
func AsRecognitionError(err error) *RecognitionError {
	if err == nil {
		return nil
	}
	var recErr *RecognitionError
	if errors.As(err, &recErr) {
		return recErr
	}
	if errors.Is(err, ErrPermissionDenied) {
		return &RecognitionError{Kind: RecognitionPermissionDenied, Detail: err.Error()}
	}
	return &RecognitionError{Kind: RecognitionOther, Detail: err.Error()}
}

// CodeFor maps an error onto the code reported to the UI.
func CodeFor(err error) ErrorCode {
	var recErr *RecognitionError
	switch {
	case errors.Is(err, ErrCapabilityUnavailable):
		return ErrorCodeCapabilityUnavailable
	case errors.Is(err, ErrPermissionDenied):
		return ErrorCodePermissionDenied
	case errors.As(err, &recErr):
		return ErrorCodeRecognition
	case errors.Is(err, ErrMalformedResponse):
		return ErrorCodeMalformedResponse
	case errors.Is(err, ErrTranscriptionFailed):
		return ErrorCodeTranscription
	case errors.Is(err, ErrSynthesisFailed):
		return ErrorCodeSynthesis
	default:
		return ErrorCodeTranslation
	}
}
