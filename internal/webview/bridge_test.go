package webview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"babelmic/internal/domain"
)

type emitted struct {
	event   string
	payload map[string]interface{}
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) Emit(event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{event: event, payload: payload.(map[string]interface{})})
}

func (f *fakeEmitter) last(event string) (map[string]interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].event == event {
			return f.events[i].payload, true
		}
	}
	return nil, false
}

func (f *fakeEmitter) waitFor(t *testing.T, event string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if payload, ok := f.last(event); ok {
			return payload
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("event %s was not emitted", event)
	return nil
}

func final(text string) domain.RecognitionEvent {
	return domain.RecognitionEvent{Results: []domain.RecognitionResult{{
		Alternatives: []domain.RecognitionAlternative{{Transcript: text, Confidence: 0.9}},
		IsFinal:      true,
	}}}
}

func newReadyBridge() (*Bridge, *fakeEmitter) {
	emitter := &fakeEmitter{}
	bridge := NewBridge(emitter, Voice{Rate: 0.8, Pitch: 1.2, Volume: 1}, nil)
	bridge.SetCapabilities(true, true)
	return bridge, emitter
}

func TestStartRequiresRecognition(t *testing.T) {
	t.Parallel()

	bridge := NewBridge(&fakeEmitter{}, Voice{}, nil)
	if _, err := bridge.Start(context.Background(), "th"); !errors.Is(err, domain.ErrCapabilityUnavailable) {
		t.Fatalf("expected capability error, got %v", err)
	}
	if err := bridge.Speak(context.Background(), "hi", "en"); !errors.Is(err, domain.ErrCapabilityUnavailable) {
		t.Fatalf("expected capability error, got %v", err)
	}
}

func TestStreamReordersEventsAndEnds(t *testing.T) {
	t.Parallel()

	bridge, emitter := newReadyBridge()
	stream, err := bridge.Start(context.Background(), "th")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	start := emitter.waitFor(t, EventRecognitionStart)
	id := start["id"].(string)
	if start["lang"] != "th" || start["interimResults"] != true {
		t.Fatalf("unexpected start payload: %v", start)
	}

	bridge.Deliver(id, 1, final("second"))
	bridge.End(id, 2, "", "")
	bridge.Deliver(id, 0, final("first"))

	var got []string
	for event := range stream.Events() {
		got = append(got, event.Results[0].Best())
	}
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("events out of order: %v", got)
	}
	if err := stream.Wait(); err != nil {
		t.Fatalf("clean end should not error: %v", err)
	}
}

func TestStreamEndWithError(t *testing.T) {
	t.Parallel()

	bridge, emitter := newReadyBridge()
	stream, err := bridge.Start(context.Background(), "en")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := emitter.waitFor(t, EventRecognitionStart)["id"].(string)

	bridge.End(id, 0, "not-allowed", "user said no")
	for range stream.Events() {
	}

	err = stream.Wait()
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if bridge.lookup(id) != nil {
		t.Fatalf("finished stream should be forgotten")
	}
}

func TestCloseStopsStreamQuietly(t *testing.T) {
	t.Parallel()

	bridge, emitter := newReadyBridge()
	stream, err := bridge.Start(context.Background(), "en")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := emitter.waitFor(t, EventRecognitionStart)["id"].(string)

	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if stop := emitter.waitFor(t, EventRecognitionStop); stop["id"] != id {
		t.Fatalf("unexpected stop payload: %v", stop)
	}
	if err := stream.Wait(); err != nil {
		t.Fatalf("closed stream should not report an error: %v", err)
	}

	bridge.Deliver(id, 0, final("late"))
	bridge.End(id, 1, "network", "")
	if err := stream.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestCloseUnblocksPendingDelivery(t *testing.T) {
	t.Parallel()

	bridge, emitter := newReadyBridge()
	stream, err := bridge.Start(context.Background(), "en")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := emitter.waitFor(t, EventRecognitionStart)["id"].(string)

	delivered := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			bridge.Deliver(id, i, final("x"))
		}
		close(delivered)
	}()

	time.Sleep(20 * time.Millisecond)
	_ = stream.Close()
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatalf("delivery stayed blocked after close")
	}
}

func TestSpeakWaitsForUtteranceEnd(t *testing.T) {
	t.Parallel()

	bridge, emitter := newReadyBridge()
	result := make(chan error, 1)
	go func() { result <- bridge.Speak(context.Background(), "hello", "en") }()

	payload := emitter.waitFor(t, EventSpeechSpeak)
	if payload["text"] != "hello" || payload["rate"] != 0.8 || payload["pitch"] != 1.2 {
		t.Fatalf("unexpected speak payload: %v", payload)
	}
	bridge.SpeechEnded(payload["id"].(string), "")
	if err := <-result; err != nil {
		t.Fatalf("speak: %v", err)
	}

	go func() { result <- bridge.Speak(context.Background(), "again", "en") }()
	var second map[string]interface{}
	deadline := time.Now().Add(2 * time.Second)
	for {
		second = emitter.waitFor(t, EventSpeechSpeak)
		if second["text"] == "again" || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	bridge.SpeechEnded(second["id"].(string), "synthesis-failed")
	if err := <-result; err == nil {
		t.Fatalf("expected utterance failure")
	}
}

func TestSpeakCancelEmitsCancel(t *testing.T) {
	t.Parallel()

	bridge, emitter := newReadyBridge()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := bridge.Speak(ctx, "hello", "en"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	speak, _ := emitter.last(EventSpeechSpeak)
	if cancelPayload := emitter.waitFor(t, EventSpeechCancel); cancelPayload["id"] != speak["id"] {
		t.Fatalf("cancel should name the utterance: %v", cancelPayload)
	}
	bridge.SpeechEnded(speak["id"].(string), "")
}
