package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/lo"
	"github.com/sourcegraph/jsonrpc2"
	websocketjsonrpc2 "github.com/sourcegraph/jsonrpc2/websocket"
	"golang.org/x/exp/slog"

	"babelmic/internal/domain"
	"babelmic/internal/logging"
	"babelmic/internal/wire"
)

const maxUploadBytes = 32 << 20

// Server exposes an Engine over HTTP and websockets.
type Server struct {
	engine   Engine
	logger   *slog.Logger
	echo     *echo.Echo
	upgrader websocket.Upgrader
	now      func() time.Time

	mu       sync.Mutex
	settings domain.Settings
}

func NewServer(engine Engine, logger *slog.Logger) *Server {
	if engine == nil {
		engine = EchoEngine{}
	}
	if logger == nil {
		logger = logging.Discard()
	}

	s := &Server{
		engine: engine,
		logger: logger,
		echo:   echo.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		now: time.Now,
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	e.GET("/health", s.health)
	e.GET("/ws", s.serveRPC)
	e.GET("/ws/legacy", s.serveLegacy)
	e.POST("/translate", s.translateHTTP)
	e.POST("/stt", s.transcribeHTTP)
	e.GET("/tts", s.synthesizeHTTP)
	e.POST("/settings", s.settingsHTTP)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Settings returns the last settings pushed by a client.
func (s *Server) Settings() domain.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, wire.HealthReply{OK: true, Languages: SupportedLanguages()})
}

func (s *Server) serveRPC(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("rpc upgrade failed", "error", err)
		return nil
	}
	defer conn.Close()

	s.logger.Debug("rpc client connected", "remote", c.RealIP())
	handler := jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(s.handleRPC))
	rpc := jsonrpc2.NewConn(c.Request().Context(), websocketjsonrpc2.NewObjectStream(conn), handler)
	<-rpc.DisconnectNotify()
	s.logger.Debug("rpc client disconnected", "remote", c.RealIP())
	return nil
}

func (s *Server) handleRPC(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	switch req.Method {
	case wire.MethodTranslate:
		var params wire.TranslateParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		reply, err := s.translate(params)
		if err != nil {
			return nil, rpcError(err)
		}
		return reply, nil

	case wire.MethodTranscribe:
		var params wire.TranscribeParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		audio, err := wire.DecodeAudio(params.Audio)
		if err != nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
		}
		text, err := s.engine.Transcribe(audio, params.Filename, params.Language)
		if err != nil {
			return nil, rpcError(err)
		}
		return wire.TranscribeReply{Text: &text}, nil

	case wire.MethodSettings:
		var params wire.SettingsParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		return s.applySettings(params), nil

	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: fmt.Sprintf("method not supported: %s", req.Method)}
	}
}

func decodeParams(req *jsonrpc2.Request, into interface{}) error {
	if req.Params == nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "params are required"}
	}
	if err := json.Unmarshal(*req.Params, into); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

func rpcError(err error) error {
	if errors.Is(err, ErrUnsupportedLanguage) {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	return &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()}
}

func (s *Server) translate(params wire.TranslateParams) (wire.TranslateReply, error) {
	start := s.now()
	translated, err := s.engine.Translate(params.Text, params.SourceLang, params.TargetLang)
	if err != nil {
		return wire.TranslateReply{}, err
	}
	elapsed := s.now().Sub(start).Seconds()

	return wire.TranslateReply{
		RequestID:      params.RequestID,
		Original:       params.Text,
		TranslatedText: &translated,
		ProcessingTime: &elapsed,
		Action:         params.Action,
	}, nil
}

func (s *Server) applySettings(params wire.SettingsParams) wire.SettingsReply {
	s.mu.Lock()
	s.settings = domain.Settings{ChunkSize: params.ChunkSize, VADSensitivity: params.VADSensitivity}
	s.mu.Unlock()
	s.logger.Info("settings updated", "chunk_size", params.ChunkSize, "vad_sensitivity", params.VADSensitivity)
	return wire.SettingsReply{OK: true}
}

// serveLegacy answers text|src|tgt|action lines in order. Every request gets
// exactly one reply so clients can correlate by position.
func (s *Server) serveLegacy(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("legacy upgrade failed", "error", err)
		return nil
	}
	defer conn.Close()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("legacy client gone", "error", err)
			}
			return nil
		}
		if messageType != websocket.TextMessage {
			continue
		}

		reply := s.legacyReply(string(payload))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(wire.EncodeLegacyReply(reply))); err != nil {
			s.logger.Debug("legacy write failed", "error", err)
			return nil
		}
	}
}

func (s *Server) legacyReply(line string) wire.LegacyReply {
	req, err := wire.DecodeLegacyRequest(line)
	if err != nil {
		return wire.LegacyReply{Original: line, Translated: lo.ToPtr("[ERROR] " + err.Error())}
	}

	reply := wire.LegacyReply{Original: req.Text, Action: wire.LegacyAction(req.Action)}
	translated, err := s.engine.Translate(req.Text, req.SourceLang, req.TargetLang)
	switch {
	case errors.Is(err, ErrUnsupportedLanguage):
		translated = fmt.Sprintf("[ERROR] Unsupported language code: %s->%s", req.SourceLang, req.TargetLang)
	case err != nil:
		translated = "[ERROR] " + err.Error()
	}
	reply.Translated = &translated
	return reply
}

func (s *Server) translateHTTP(c echo.Context) error {
	var body wire.HTTPTranslateBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid translate body")
	}

	if strings.TrimSpace(body.Text) == "" {
		return c.JSON(http.StatusOK, wire.HTTPTranslateReply{Translation: lo.ToPtr(""), RequestID: body.RequestID})
	}

	reply, err := s.translate(wire.TranslateParams{
		RequestID:  body.RequestID,
		Text:       strings.TrimSpace(body.Text),
		SourceLang: body.Src,
		TargetLang: body.Tgt,
		Action:     body.Action,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, wire.HTTPTranslateReply{
		Translation:    reply.TranslatedText,
		RequestID:      reply.RequestID,
		ProcessingTime: reply.ProcessingTime,
	})
}

func (s *Server) transcribeHTTP(c echo.Context) error {
	header, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	file, err := header.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	text, err := s.engine.Transcribe(audio, header.Filename, c.FormValue("language"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, wire.TranscribeReply{Text: &text})
}

func (s *Server) synthesizeHTTP(c echo.Context) error {
	text := c.QueryParam("text")
	if strings.TrimSpace(text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Text is empty")
	}
	lang := c.QueryParam("lang")
	if lang == "" {
		lang = "en"
	}

	audio, err := s.engine.Synthesize(text, lang)
	if err != nil {
		return httpError(err)
	}
	return c.Blob(http.StatusOK, "audio/wav", audio)
}

func (s *Server) settingsHTTP(c echo.Context) error {
	var params wire.SettingsParams
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid settings body")
	}
	return c.JSON(http.StatusOK, s.applySettings(params))
}

func httpError(err error) error {
	if errors.Is(err, ErrUnsupportedLanguage) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
