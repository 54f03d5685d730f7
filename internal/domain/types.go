package domain

import (
	"time"

	"github.com/samber/lo"
)

// CaptureState models the recording session lifecycle.
type CaptureState string

const (
	CaptureStateIdle      CaptureState = "idle"
	CaptureStateListening CaptureState = "listening"
	CaptureStatePaused    CaptureState = "paused"
	CaptureStateStopped   CaptureState = "stopped"
)

// CaptureReason provides a structured reason for state transitions.
type CaptureReason string

const (
	CaptureReasonMicCold            CaptureReason = "mic_cold"
	CaptureReasonRecordingStarted   CaptureReason = "recording_started"
	CaptureReasonRecordingRestarted CaptureReason = "recording_restarted"
	CaptureReasonPaused             CaptureReason = "paused"
	CaptureReasonResumed            CaptureReason = "resumed"
	CaptureReasonStopped            CaptureReason = "stopped"
	CaptureReasonRecognizerEnded    CaptureReason = "recognizer_ended"
	CaptureReasonRecognitionFailed  CaptureReason = "recognition_failed"
)

// ErrorCode identifies errors surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeStartup               ErrorCode = "startup"
	ErrorCodeCapabilityUnavailable ErrorCode = "capability_unavailable"
	ErrorCodePermissionDenied      ErrorCode = "permission_denied"
	ErrorCodeRecognition           ErrorCode = "recognition"
	ErrorCodeTranscription         ErrorCode = "transcription"
	ErrorCodeTranslation           ErrorCode = "translation"
	ErrorCodeSynthesis             ErrorCode = "synthesis"
	ErrorCodeMalformedResponse     ErrorCode = "malformed_response"
	ErrorCodeSettings              ErrorCode = "settings"
	ErrorCodeClipboard             ErrorCode = "clipboard"
)

// Trigger is the user action that produced a TurnRequest.
type Trigger string

const (
	TriggerUserEdit       Trigger = "user_edit"
	TriggerVoiceCommit    Trigger = "voice_commit"
	TriggerLanguageChange Trigger = "language_change"
	TriggerAudioUpload    Trigger = "audio_upload"
)

// TriggerSource is the UI control a request originates from. Single-flight is
// enforced per source.
type TriggerSource string

const (
	SourceRecordButton    TriggerSource = "record_button"
	SourceTranslateButton TriggerSource = "translate_button"
	SourceInputEditor     TriggerSource = "input_editor"
	SourceSourceLanguage  TriggerSource = "source_language"
	SourceTargetLanguage  TriggerSource = "target_language"
	SourceAudioUpload     TriggerSource = "audio_upload"
)

// Action is the tag carried on the wire with every translate request.
type Action string

const (
	ActionNormal        Action = "normal"
	ActionChangeSrcLang Action = "change_src_lang"
	ActionChangeTgtLang Action = "change_tgt_lang"
	ActionAudio         Action = "audio"
)

// Display identifies which text surface a translation result is written to.
type Display string

const (
	DisplaySource Display = "source"
	DisplayTarget Display = "target"
)

// RecognitionAlternative is one hypothesis for a result slot.
type RecognitionAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// RecognitionResult is one result slot delivered by a recognizer.
type RecognitionResult struct {
	Alternatives []RecognitionAlternative `json:"alternatives"`
	IsFinal      bool                     `json:"isFinal"`
}

// Best returns the highest-confidence alternative, preferring the first on ties.
func (r RecognitionResult) Best() string {
	if len(r.Alternatives) == 0 {
		return ""
	}
	best := lo.MaxBy(r.Alternatives, func(a, b RecognitionAlternative) bool {
		return a.Confidence > b.Confidence
	})
	return best.Transcript
}

// RecognitionEvent mirrors a recognizer result callback: the full result list
// plus the index of the first slot that changed.
type RecognitionEvent struct {
	ResultIndex int                 `json:"resultIndex"`
	Results     []RecognitionResult `json:"results"`
}

// Commit is emitted once the silence window elapses after committed text grew.
type Commit struct {
	Text string
	// STT spans the first recognition event of the window to the last final fragment.
	STT time.Duration
}

// TranslateRequest is the payload sent to a translation backend.
type TranslateRequest struct {
	RequestID  string `json:"requestId"`
	Text       string `json:"text"`
	SourceLang string `json:"sourceLang"`
	TargetLang string `json:"targetLang"`
	Action     Action `json:"action"`
}

// Translation is a backend translation reply.
type Translation struct {
	RequestID      string
	Text           string
	ProcessingTime time.Duration
	// Unavailable marks a reply that was missing expected fields.
	Unavailable bool
}

// Settings are forwarded to the backend's audio front end.
type Settings struct {
	ChunkSize      int     `json:"chunkSize"`
	VADSensitivity float64 `json:"vadSensitivity"`
}

// TurnRequest is one immutable translation attempt.
type TurnRequest struct {
	ID         string
	Text       string
	SourceLang string
	TargetLang string
	Trigger    Trigger
	Source     TriggerSource
	Action     Action
	// STT is set when the text came out of a speech-to-text stage.
	STT *time.Duration
}

// Display returns the surface the result of this request is written to.
func (r TurnRequest) Display() Display {
	if r.Action == ActionChangeSrcLang {
		return DisplaySource
	}
	return DisplayTarget
}

// TurnResult is the outcome of one submitted TurnRequest.
type TurnResult struct {
	RequestID      string    `json:"requestId"`
	TranslatedText string    `json:"translatedText"`
	Unavailable    bool      `json:"unavailable,omitempty"`
	Display        Display   `json:"display"`
	STTSeconds     *float64  `json:"sttSeconds,omitempty"`
	MTSeconds      float64   `json:"mtSeconds"`
	TTSSeconds     *float64  `json:"ttsSeconds,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// LogEntry is an immutable snapshot of a completed turn.
type LogEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"requestId"`
	Trigger        Trigger   `json:"trigger"`
	SourceLang     string    `json:"sourceLang"`
	TargetLang     string    `json:"targetLang"`
	SourceText     string    `json:"sourceText"`
	TranslatedText string    `json:"translatedText"`
	STTSeconds     *float64  `json:"sttSeconds,omitempty"`
	MTSeconds      float64   `json:"mtSeconds"`
	TTSSeconds     *float64  `json:"ttsSeconds,omitempty"`
}

// Total sums the stages that were present. Absent stages contribute zero.
func (e LogEntry) Total() float64 {
	return lo.SumBy([]*float64{e.STTSeconds, &e.MTSeconds, e.TTSSeconds}, lo.FromPtr[float64])
}

// Pair renders the language pair the way the log table shows it.
func (e LogEntry) Pair() string {
	return e.SourceLang + "→" + e.TargetLang
}

// Seconds converts a duration into the float seconds used by the log.
func Seconds(d time.Duration) *float64 {
	return lo.ToPtr(d.Seconds())
}

// Status summarizes the current runtime status.
type Status struct {
	State         CaptureState `json:"state"`
	Active        bool         `json:"active"`
	Transcript    string       `json:"transcript"`
	SourceText    string       `json:"sourceText"`
	TargetText    string       `json:"targetText"`
	SourceLang    string       `json:"sourceLang"`
	TargetLang    string       `json:"targetLang"`
	AutoTranslate bool         `json:"autoTranslate"`
	AutoSpeak     bool         `json:"autoSpeak"`
	LogEmpty      bool         `json:"logEmpty"`
	Message       string       `json:"message,omitempty"`
}
