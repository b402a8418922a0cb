package deepgram

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"

	"github.com/voxbridge/voxbridge/pkg/speech"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestBuildURL(t *testing.T) {
	t.Parallel()

	r, err := New("key", WithModel("nova-3"), WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := r.buildURL(speech.StreamConfig{SampleRate: 16000, Language: "he"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	for _, want := range []string{
		"wss://api.deepgram.com/v1/listen",
		"model=nova-3",
		"language=he",
		"interim_results=true",
		"encoding=linear16",
		"sample_rate=16000",
		"channels=1",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("URL missing %q: %s", want, got)
		}
	}
}

func TestBuildURLFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	r, err := New("key", WithLanguage("ru"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := r.buildURL(speech.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	if !strings.Contains(got, "language=ru") {
		t.Errorf("default language not applied: %s", got)
	}
	if !strings.Contains(got, "sample_rate=16000") {
		t.Errorf("default sample rate not applied: %s", got)
	}
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"start": 1.5,
		"channel": {
			"alternatives": [
				{"transcript": "hello world", "confidence": 0.97}
			]
		}
	}`)

	tr, ok := parseResponse(raw)
	if !ok {
		t.Fatal("expected a transcript")
	}
	if tr.Text != "hello world" {
		t.Errorf("text: want %q, got %q", "hello world", tr.Text)
	}
	if !tr.IsFinal {
		t.Error("expected final transcript")
	}
	if tr.Confidence != 0.97 {
		t.Errorf("confidence: want 0.97, got %f", tr.Confidence)
	}
	if tr.Timestamp.Milliseconds() != 1500 {
		t.Errorf("timestamp: want 1500ms, got %v", tr.Timestamp)
	}
}

func TestParseResponseIgnoresNonResults(t *testing.T) {
	t.Parallel()

	cases := map[string][]byte{
		"metadata":        []byte(`{"type": "Metadata"}`),
		"no alternatives": []byte(`{"type": "Results", "channel": {"alternatives": []}}`),
		"invalid JSON":    []byte(`{`),
	}
	for name, raw := range cases {
		if _, ok := parseResponse(raw); ok {
			t.Errorf("%s: expected message to be ignored", name)
		}
	}
}

func TestCloseKeepsFinalFlushedByCloseStream(t *testing.T) {
	t.Parallel()

	// The provider finalizes buffered audio only after CloseStream, so the
	// last final of every utterance arrives during teardown. It must reach
	// the finals channel every time.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			kind, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			if kind != websocket.MessageText || !strings.Contains(string(data), "CloseStream") {
				continue
			}
			final := `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"shalom","confidence":0.9}]}}`
			_ = conn.Write(r.Context(), websocket.MessageText, []byte(final))
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}))
	defer srv.Close()

	rec, err := New("key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess, err := rec.StartStream(t.Context(), speech.StreamConfig{SampleRate: 16000, Language: "he"})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if err := sess.SendAudio(make([]byte, 3200)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tr, ok := <-sess.Finals()
	if !ok {
		t.Fatal("finals channel closed without the flushed transcript")
	}
	if tr.Text != "shalom" {
		t.Errorf("final text: want %q, got %q", "shalom", tr.Text)
	}
}

func TestDialFailureIsRecognitionUnavailable(t *testing.T) {
	t.Parallel()

	r, err := New("key", WithEndpoint("wss://127.0.0.1:1/listen"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := t.Context()
	_, err = r.StartStream(ctx, speech.StreamConfig{SampleRate: 16000, Language: "en"})
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if !errors.Is(err, speech.ErrRecognitionUnavailable) {
		t.Errorf("want ErrRecognitionUnavailable, got %v", err)
	}
}
