// Package wire holds the message shapes shared by the translation clients and
// the stub backend.
package wire

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"babelmic/internal/domain"
)

// JSON-RPC method names served on the websocket channel.
const (
	MethodTranslate  = "translate"
	MethodTranscribe = "transcribe"
	MethodSettings   = "settings"
)

type TranslateParams struct {
	RequestID  string `json:"requestId"`
	Text       string `json:"text"`
	SourceLang string `json:"sourceLang"`
	TargetLang string `json:"targetLang"`
	Action     string `json:"action"`
}

// TranslateReply fields are pointers so a missing field can be told apart
// from an empty one.
type TranslateReply struct {
	RequestID      string   `json:"requestId"`
	Original       string   `json:"original"`
	TranslatedText *string  `json:"translatedText"`
	ProcessingTime *float64 `json:"processingTimeSeconds,omitempty"`
	Action         string   `json:"action"`
}

type TranscribeParams struct {
	Audio    string `json:"audio"`
	Filename string `json:"filename,omitempty"`
	Language string `json:"language"`
}

type TranscribeReply struct {
	Text *string `json:"text"`
}

type SettingsParams struct {
	ChunkSize      int     `json:"chunkSize"`
	VADSensitivity float64 `json:"vadSensitivity"`
}

type SettingsReply struct {
	OK bool `json:"ok"`
}

// HTTPTranslateBody is the POST /translate body.
type HTTPTranslateBody struct {
	Text      string `json:"text"`
	Src       string `json:"src"`
	Tgt       string `json:"tgt"`
	RequestID string `json:"requestId,omitempty"`
	Action    string `json:"action,omitempty"`
}

type HTTPTranslateReply struct {
	Translation    *string  `json:"translation"`
	RequestID      string   `json:"requestId,omitempty"`
	ProcessingTime *float64 `json:"processingTimeSeconds,omitempty"`
}

type HealthReply struct {
	OK        bool     `json:"ok"`
	Languages []string `json:"languages,omitempty"`
}

func NewTranslateParams(req domain.TranslateRequest) TranslateParams {
	return TranslateParams{
		RequestID:  req.RequestID,
		Text:       req.Text,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
		Action:     string(req.Action),
	}
}

// Translation validates a reply against the request it answers.
func (r TranslateReply) Translation(requestID string) (domain.Translation, error) {
	if r.RequestID != requestID {
		return domain.Translation{}, fmt.Errorf("%w: reply for %q answers %q", domain.ErrMalformedResponse, requestID, r.RequestID)
	}
	if r.TranslatedText == nil {
		return domain.Translation{}, fmt.Errorf("%w: translatedText missing", domain.ErrMalformedResponse)
	}

	translation := domain.Translation{RequestID: r.RequestID, Text: *r.TranslatedText}
	if r.ProcessingTime != nil {
		translation.ProcessingTime = time.Duration(*r.ProcessingTime * float64(time.Second))
	}
	return translation, nil
}

func EncodeAudio(audio []byte) string {
	return base64.StdEncoding.EncodeToString(audio)
}

func DecodeAudio(payload string) ([]byte, error) {
	audio, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid audio payload: %w", err)
	}
	return audio, nil
}

var legacyActions = map[domain.Action]string{
	domain.ActionNormal:        "normal",
	domain.ActionChangeSrcLang: "change_srcLang",
	domain.ActionChangeTgtLang: "change_tgtLang",
	domain.ActionAudio:         "audio",
}

// LegacyAction renders an action the way the pipe-delimited protocol spells it.
func LegacyAction(action domain.Action) string {
	if name, ok := legacyActions[action]; ok {
		return name
	}
	return legacyActions[domain.ActionNormal]
}

// ParseLegacyAction accepts both spellings of an action.
func ParseLegacyAction(name string) domain.Action {
	name = strings.TrimSpace(name)
	for action, legacy := range legacyActions {
		if strings.EqualFold(name, legacy) || strings.EqualFold(name, string(action)) {
			return action
		}
	}
	return domain.ActionNormal
}

// EncodeLegacyRequest renders text|src|tgt|action. Pipes and line breaks in
// the text would break framing and are replaced with spaces.
func EncodeLegacyRequest(req domain.TranslateRequest) string {
	text := strings.NewReplacer("|", " ", "\r", " ", "\n", " ").Replace(req.Text)
	return strings.Join([]string{text, req.SourceLang, req.TargetLang, LegacyAction(req.Action)}, "|")
}

// DecodeLegacyRequest parses text|src|tgt|action.
func DecodeLegacyRequest(line string) (domain.TranslateRequest, error) {
	parts := strings.Split(line, "|")
	if len(parts) != 4 {
		return domain.TranslateRequest{}, fmt.Errorf("%w: expected 4 fields, got %d", domain.ErrMalformedResponse, len(parts))
	}
	return domain.TranslateRequest{
		Text:       parts[0],
		SourceLang: strings.TrimSpace(parts[1]),
		TargetLang: strings.TrimSpace(parts[2]),
		Action:     ParseLegacyAction(parts[3]),
	}, nil
}

// LegacyReply is the newline-delimited "Key: value" reply.
type LegacyReply struct {
	Original       string
	Translated     *string
	Action         string
	ProcessingTime *float64
}

func EncodeLegacyReply(reply LegacyReply) string {
	lines := []string{"Original: " + reply.Original}
	if reply.Translated != nil {
		lines = append(lines, "Translated: "+*reply.Translated)
	}
	lines = append(lines, "Action: "+reply.Action)
	if reply.ProcessingTime != nil {
		lines = append(lines, "processing_time: "+strconv.FormatFloat(*reply.ProcessingTime, 'f', 3, 64))
	}
	return strings.Join(lines, "\n")
}

// DecodeLegacyReply reads the known keys case-insensitively and ignores the rest.
func DecodeLegacyReply(payload string) LegacyReply {
	var reply LegacyReply
	for _, line := range strings.Split(payload, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "original":
			reply.Original = value
		case "translated":
			translated := value
			reply.Translated = &translated
		case "action":
			reply.Action = value
		case "processing_time":
			if seconds, err := strconv.ParseFloat(value, 64); err == nil {
				reply.ProcessingTime = &seconds
			}
		}
	}
	return reply
}
