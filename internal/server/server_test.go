package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxbridge/voxbridge/internal/call"
	"github.com/voxbridge/voxbridge/internal/health"
	"github.com/voxbridge/voxbridge/internal/server"
	"github.com/voxbridge/voxbridge/internal/store"
	"github.com/voxbridge/voxbridge/pkg/speech/mock"
)

var testTokens = map[string]string{
	"tok-alice": "alice",
	"tok-bob":   "bob",
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	repo := store.NewMemory()
	adapter, _, _, _ := mock.Adapter()
	hub := call.NewHub(call.Config{Grace: 50 * time.Millisecond}, repo, adapter, nil, nil)

	srv := server.New(":0", testTokens, hub, repo, nil, nil,
		health.Checker{Name: "store", Check: func(context.Context) error { return nil }},
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, repo
}

func createCall(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("POST", ts.URL+"/v1/calls", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer tok-alice")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestCreateCallRequiresAuth(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, err := ts.Client().Post(ts.URL+"/v1/calls", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status: want 401, got %d", resp.StatusCode)
	}
}

func TestCreateCallValidation(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"too few participants", `{"participants":[{"user_id":"alice","language":"he"}]}`},
		{"unsupported language", `{"participants":[{"user_id":"alice","language":"fr"},{"user_id":"bob","language":"en"}]}`},
		{"duplicate participant", `{"participants":[{"user_id":"alice","language":"he"},{"user_id":"alice","language":"en"}]}`},
		{"missing user id", `{"participants":[{"language":"he"},{"user_id":"bob","language":"en"}]}`},
		{"malformed json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if resp := createCall(t, ts, tc.body); resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status: want 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestCreateCallPersistsSession(t *testing.T) {
	t.Parallel()
	ts, repo := newTestServer(t)

	resp := createCall(t, ts, `{
		"call_language": "he",
		"participants": [
			{"user_id": "alice", "language": "he"},
			{"user_id": "bob", "language": "en", "voice_id": "shimmer"}
		]
	}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status: want 201, got %d", resp.StatusCode)
	}
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.SessionID == "" {
		t.Fatal("empty session id")
	}

	s, err := repo.LoadSession(context.Background(), out.SessionID)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if s.CallLanguage != "he" || len(s.Participants) != 2 {
		t.Errorf("session: %+v", s)
	}
	if s.Participants[1].VoiceID != "shimmer" {
		t.Errorf("voice id not persisted: %+v", s.Participants[1])
	}
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := ts.Client().Get(ts.URL + path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: want 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestSocketRejectsUnknownToken(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, wsURL(ts, "/v1/calls/s1/ws?token=nope"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.CloseNow()

	_, _, err = ws.Read(ctx)
	var ce websocket.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("want close error, got %v", err)
	}
	if ce.Reason != string(call.CloseUnauthenticated) {
		t.Errorf("close reason: want unauthenticated, got %q", ce.Reason)
	}
	if ce.Code != websocket.StatusPolicyViolation {
		t.Errorf("close code: want policy violation, got %v", ce.Code)
	}
}

func TestSocketRejectsUnknownSession(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, wsURL(ts, "/v1/calls/missing/ws?token=tok-alice"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.CloseNow()

	_, _, err = ws.Read(ctx)
	var ce websocket.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("want close error, got %v", err)
	}
	if ce.Reason != string(call.CloseUnknownSession) {
		t.Errorf("close reason: want unknown_session, got %q", ce.Reason)
	}
}

func TestSocketPingPong(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp := createCall(t, ts, `{"participants":[{"user_id":"alice","language":"he"},{"user_id":"bob","language":"en"}]}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create call: %d", resp.StatusCode)
	}
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, wsURL(ts, "/v1/calls/"+out.SessionID+"/ws?token=tok-alice"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	if err := ws.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event %q: %v", data, err)
	}
	if ev.Type != "pong" {
		t.Errorf("event: want pong, got %q", data)
	}
}
