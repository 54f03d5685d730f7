// Package httpapi is the plain HTTP transport to the translation backend.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	"babelmic/internal/domain"
	"babelmic/internal/logging"
	"babelmic/internal/ports"
	"babelmic/internal/wire"
)

// ensure this satisfies the interfaces
var (
	_ ports.Translator      = (*Client)(nil)
	_ ports.Transcriber     = (*Client)(nil)
	_ ports.SpeechFetcher   = (*Client)(nil)
	_ ports.SettingsUpdater = (*Client)(nil)
)

const maxResponseBytes = 32 << 20

type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func New(baseURL string, logger *slog.Logger) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("invalid url for http backend %q", baseURL)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		baseURL: strings.TrimRight(parsed.String(), "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}, nil
}

// Health reports whether the backend answers GET /health with ok.
func (c *Client) Health(ctx context.Context) (wire.HealthReply, error) {
	var reply wire.HealthReply
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, "", &reply); err != nil {
		return wire.HealthReply{}, err
	}
	if !reply.OK {
		return reply, fmt.Errorf("backend is unhealthy")
	}
	return reply, nil
}

func (c *Client) Translate(ctx context.Context, req domain.TranslateRequest) (domain.Translation, error) {
	body, err := json.Marshal(wire.HTTPTranslateBody{
		Text:      req.Text,
		Src:       req.SourceLang,
		Tgt:       req.TargetLang,
		RequestID: req.RequestID,
		Action:    string(req.Action),
	})
	if err != nil {
		return domain.Translation{}, err
	}

	var reply wire.HTTPTranslateReply
	if err := c.doJSON(ctx, http.MethodPost, "/translate", bytes.NewReader(body), "application/json", &reply); err != nil {
		return domain.Translation{}, err
	}
	if reply.Translation == nil || (reply.RequestID != "" && reply.RequestID != req.RequestID) {
		c.logger.Warn("translation reply rejected", "request_id", req.RequestID, "reply_id", reply.RequestID)
		return domain.Translation{RequestID: req.RequestID, Unavailable: true}, nil
	}

	translation := domain.Translation{RequestID: req.RequestID, Text: *reply.Translation}
	if reply.ProcessingTime != nil {
		translation.ProcessingTime = time.Duration(*reply.ProcessingTime * float64(time.Second))
	}
	return translation, nil
}

func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string, language string) (string, error) {
	if filename == "" {
		filename = "audio.webm"
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := form.WriteField("language", language); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	var reply wire.TranscribeReply
	if err := c.doJSON(ctx, http.MethodPost, "/stt", &body, form.FormDataContentType(), &reply); err != nil {
		return "", err
	}
	if reply.Text == nil {
		return "", fmt.Errorf("%w: transcription text missing", domain.ErrMalformedResponse)
	}
	return *reply.Text, nil
}

func (c *Client) FetchSpeech(ctx context.Context, text string, language string) ([]byte, error) {
	query := url.Values{}
	query.Set("text", text)
	query.Set("lang", language)

	resp, err := c.do(ctx, http.MethodGet, "/tts?"+query.Encode(), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty speech audio", domain.ErrMalformedResponse)
	}
	return audio, nil
}

func (c *Client) UpdateSettings(ctx context.Context, settings domain.Settings) error {
	body, err := json.Marshal(wire.SettingsParams{ChunkSize: settings.ChunkSize, VADSensitivity: settings.VADSensitivity})
	if err != nil {
		return err
	}
	var reply wire.SettingsReply
	if err := c.doJSON(ctx, http.MethodPost, "/settings", bytes.NewReader(body), "application/json", &reply); err != nil {
		return err
	}
	if !reply.OK {
		return fmt.Errorf("backend rejected settings")
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	resp, err := c.do(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	return nil
}

// do sends the request and turns any non-2xx status into an error carrying
// the response body.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return resp, nil
	}

	defer resp.Body.Close()
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
}
