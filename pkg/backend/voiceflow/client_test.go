package voiceflow

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	backendtypes "flowrelay/pkg/backend/types"
	"flowrelay/pkg/config"
	"flowrelay/pkg/dialog"
)

type recordedRequest struct {
	path    string
	headers http.Header
	body    map[string]any
}

type streamServer struct {
	mu       sync.Mutex
	requests []recordedRequest

	status int
	stream string
}

func (s *streamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	s.mu.Lock()
	s.requests = append(s.requests, recordedRequest{path: r.URL.Path, headers: r.Header.Clone(), body: body})
	s.mu.Unlock()

	status := s.status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, s.stream)
}

func (s *streamServer) last(t *testing.T) recordedRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		t.Fatal("no request recorded")
	}
	return s.requests[len(s.requests)-1]
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(config.VoiceflowBackendConfig{
		BaseURL:   server.URL + "/interact",
		APIKey:    "VF.DM.test",
		ProjectID: "project-1",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func sse(events ...string) string {
	var b strings.Builder
	for _, event := range events {
		b.WriteString("event: trace\n")
		b.WriteString("data: ")
		b.WriteString(event)
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestLaunchSendsStreamRequest(t *testing.T) {
	server := &streamServer{stream: sse(
		`{"trace":{"type":"text","payload":{"message":"Welcome"}}}`,
		`{"trace":{"type":"end","payload":null}}`,
	)}
	client := newTestClient(t, server)
	identity := backendtypes.NewIdentity("42")

	message := client.Launch(context.Background(), identity, backendtypes.Variables{"locale": "en"})

	if !message.TrimEnd() {
		t.Fatal("expected the conversation to end")
	}
	if message.Len() != 1 || message.Blocks[0] != (dialog.Text{Message: "Welcome"}) {
		t.Fatalf("blocks = %#v, want [Text Welcome]", message.Blocks)
	}

	request := server.last(t)
	if request.path != "/interact/project-1/production/stream" {
		t.Fatalf("path = %q", request.path)
	}
	if got := request.headers.Get("Authorization"); got != "VF.DM.test" {
		t.Fatalf("Authorization = %q", got)
	}
	if got := request.headers.Get("Accept"); got != "text/event-stream" {
		t.Fatalf("Accept = %q", got)
	}

	actionBody := request.body["action"].(map[string]any)
	if actionBody["type"] != "launch" {
		t.Fatalf("action.type = %v, want launch", actionBody["type"])
	}
	if _, ok := actionBody["payload"]; ok {
		t.Fatal("launch must not send a payload")
	}
	sessionBody := request.body["session"].(map[string]any)
	if sessionBody["sessionID"] != identity.SessionID || sessionBody["userID"] != identity.UserID {
		t.Fatalf("session = %v", sessionBody)
	}
	state := request.body["state"].(map[string]any)
	if state["variables"].(map[string]any)["locale"] != "en" {
		t.Fatalf("state = %v", state)
	}
}

func TestSendTextAndChooseButtonActions(t *testing.T) {
	server := &streamServer{stream: sse(`{"trace":{"type":"text","payload":{"message":"ok"}}}`)}
	client := newTestClient(t, server)
	identity := backendtypes.NewIdentity("1")

	client.SendText(context.Background(), identity, nil, "hello")
	request := server.last(t)
	actionBody := request.body["action"].(map[string]any)
	if actionBody["type"] != "text" || actionBody["payload"] != "hello" {
		t.Fatalf("text action = %v", actionBody)
	}
	if _, ok := request.body["state"]; ok {
		t.Fatal("empty variables must not send state")
	}

	client.ChooseButton(context.Background(), identity, nil, "path-abc", json.RawMessage(`{"label":"Yes"}`))
	actionBody = server.last(t).body["action"].(map[string]any)
	if actionBody["type"] != "path-abc" {
		t.Fatalf("button action type = %v", actionBody["type"])
	}
	if actionBody["payload"].(map[string]any)["label"] != "Yes" {
		t.Fatalf("button payload = %v", actionBody["payload"])
	}
}

func TestUnavailableFallbackOnErrorStatus(t *testing.T) {
	server := &streamServer{status: http.StatusBadGateway, stream: "upstream down"}
	client := newTestClient(t, server)

	message := client.Launch(context.Background(), backendtypes.NewIdentity("1"), nil)
	if message.Len() != 1 || message.Blocks[0] != (dialog.Text{Message: DefaultUnavailableMessage}) {
		t.Fatalf("blocks = %#v, want unavailable fallback", message.Blocks)
	}
}

func TestUnavailableFallbackOnTransportError(t *testing.T) {
	client, err := New(config.VoiceflowBackendConfig{
		BaseURL:            "http://127.0.0.1:1",
		APIKey:             "key",
		ProjectID:          "p",
		UnavailableMessage: "Try again later",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	message := client.SendText(context.Background(), backendtypes.NewIdentity("1"), nil, "hi")
	if message.Len() != 1 || message.Blocks[0] != (dialog.Text{Message: "Try again later"}) {
		t.Fatalf("blocks = %#v, want configured fallback", message.Blocks)
	}
}

func TestUnreadableFallbackOnOversizedStream(t *testing.T) {
	server := &streamServer{stream: "data: " + strings.Repeat("x", maxStreamSize) + "\n\n"}
	client := newTestClient(t, server)

	message := client.Launch(context.Background(), backendtypes.NewIdentity("1"), nil)
	if message.Len() != 1 || message.Blocks[0] != (dialog.Text{Message: DefaultUnreadableMessage}) {
		t.Fatalf("blocks = %#v, want unreadable fallback", message.Blocks)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(config.VoiceflowBackendConfig{ProjectID: "p"}); err == nil {
		t.Fatal("expected error without api key")
	}
	if _, err := New(config.VoiceflowBackendConfig{APIKey: "k"}); err == nil {
		t.Fatal("expected error without project id")
	}

	client, err := New(config.VoiceflowBackendConfig{APIKey: "k", ProjectID: "p", VersionID: "development"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if client.endpoint != DefaultBaseURL+"/p/development/stream" {
		t.Fatalf("endpoint = %q", client.endpoint)
	}
}

func TestParseStream(t *testing.T) {
	stream := strings.Join([]string{
		"event: trace",
		`data: {"trace":{"type":"debug","payload":{"message":"skip"}}}`,
		"",
		"event: trace",
		`data:   {"trace":{"type":"text","payload":{"message":"one"}}}  `,
		"",
		"data: not json",
		"",
		`data: {"time": 1}`,
		"",
		": keep-alive",
		`data: {"trace":{"type":"choice","payload":{"buttons":[]}}}`,
		"",
		`data: {"trace":{"type":"text","payload":{"message":"unterminated"}}}`,
	}, "\n")

	resp := &http.Response{
		Header: http.Header{"Content-Type": []string{"text/event-stream"}},
		Body:   io.NopCloser(strings.NewReader(stream)),
	}
	events, err := parseStream(resp)
	if err != nil {
		t.Fatalf("parseStream: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Type != dialog.EventText || events[1].Type != dialog.EventChoice {
		t.Fatalf("event types = %q, %q", events[0].Type, events[1].Type)
	}
	if !strings.Contains(string(events[0].Payload), `"one"`) {
		t.Fatalf("payload = %s", events[0].Payload)
	}
}
