package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	websocketjsonrpc2 "github.com/sourcegraph/jsonrpc2/websocket"

	"babelmic/internal/wire"
)

func newTestServer(t *testing.T) string {
	t.Helper()

	server := httptest.NewServer(NewServer(EchoEngine{}, nil).Handler())
	t.Cleanup(server.Close)
	return server.URL
}

func dial(t *testing.T, baseURL, path string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(baseURL, "http")+path, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestEchoEngineTranslate(t *testing.T) {
	t.Parallel()

	out, err := EchoEngine{}.Translate(" hola ", "es", "th")
	if err != nil || out != "(es→th) hola" {
		t.Fatalf("unexpected translation %q %v", out, err)
	}
	if _, err := (EchoEngine{}).Translate("hola", "es", "pt"); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("expected unsupported language, got %v", err)
	}
}

func TestSilentWAVLength(t *testing.T) {
	t.Parallel()

	audio := silentWAV(10)
	if want := 44 + wavSampleRate*400/1000*2; len(audio) != want {
		t.Fatalf("expected %d bytes, got %d", want, len(audio))
	}
	if capped := silentWAV(10_000); len(capped) != 44+wavSampleRate*wavMaxDuration/1000*2 {
		t.Fatalf("duration was not capped: %d bytes", len(capped))
	}
}

func TestHealthRoute(t *testing.T) {
	t.Parallel()

	baseURL := newTestServer(t)
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()

	var reply wire.HealthReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || !reply.OK {
		t.Fatalf("unexpected health: %d %+v", resp.StatusCode, reply)
	}
}

func TestTranslateRouteEmptyText(t *testing.T) {
	t.Parallel()

	baseURL := newTestServer(t)
	resp, err := http.Post(baseURL+"/translate", "application/json", strings.NewReader(`{"text":"  ","src":"th","tgt":"en"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var reply wire.HTTPTranslateReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.Translation == nil || *reply.Translation != "" {
		t.Fatalf("expected empty translation, got %+v", reply)
	}
}

func TestTTSRouteRequiresText(t *testing.T) {
	t.Parallel()

	baseURL := newTestServer(t)
	resp, err := http.Get(baseURL + "/tts?lang=en")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestLegacyChannel(t *testing.T) {
	t.Parallel()

	conn := dial(t, newTestServer(t), "/ws/legacy")

	exchange := func(line string) wire.LegacyReply {
		t.Helper()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			t.Fatalf("write: %v", err)
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return wire.DecodeLegacyReply(string(payload))
	}

	reply := exchange("hello|en|ko|change_tgtLang")
	if reply.Original != "hello" || reply.Action != "change_tgtLang" || *reply.Translated != "(en→ko) hello" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	reply = exchange("hello|en|xx|normal")
	if *reply.Translated != "[ERROR] Unsupported language code: en->xx" {
		t.Fatalf("unexpected error reply: %q", *reply.Translated)
	}

	reply = exchange("no pipes here")
	if reply.Translated == nil || !strings.HasPrefix(*reply.Translated, "[ERROR]") {
		t.Fatalf("malformed requests still get a reply: %+v", reply)
	}
}

func TestRPCUnknownMethod(t *testing.T) {
	t.Parallel()

	conn := dial(t, newTestServer(t), "/ws")
	rpc := jsonrpc2.NewConn(context.Background(), websocketjsonrpc2.NewObjectStream(conn), jsonrpc2.HandlerWithError(
		func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (interface{}, error) { return nil, nil },
	))
	t.Cleanup(func() { _ = rpc.Close() })

	var out json.RawMessage
	err := rpc.Call(context.Background(), "dance", map[string]string{}, &out)
	var rpcErr *jsonrpc2.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != jsonrpc2.CodeMethodNotFound {
		t.Fatalf("expected method not found, got %v", err)
	}

	err = rpc.Call(context.Background(), wire.MethodTranslate, nil, &out)
	if !errors.As(err, &rpcErr) || rpcErr.Code != jsonrpc2.CodeInvalidParams {
		t.Fatalf("expected invalid params, got %v", err)
	}
}
