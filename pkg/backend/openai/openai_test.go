package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	backendtypes "flowrelay/pkg/backend/types"
	"flowrelay/pkg/config"
	"flowrelay/pkg/dialog"
	"flowrelay/pkg/fault"

	"github.com/openai/openai-go/v3/option"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := New(config.OpenAIBackendConfig{}); err == nil {
		t.Fatal("expected error when API key is missing")
	}
}

func TestNewUsesConfiguredAPIKeyEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("TEST_OPENAI_API_KEY", "sk-test")

	client, err := New(config.OpenAIBackendConfig{APIKeyEnv: "TEST_OPENAI_API_KEY", Model: "openai/gpt-5.2"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if client.model != "gpt-5.2" {
		t.Fatalf("model = %q, want gpt-5.2", client.model)
	}
	if client.launchPrompt != defaultLaunchPrompt {
		t.Fatalf("launch prompt = %q, want default", client.launchPrompt)
	}
}

func TestNewRejectsForeignModelProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-default")

	if _, err := New(config.OpenAIBackendConfig{Model: "anthropic/claude"}); err == nil {
		t.Fatal("expected error for non-openai model")
	}
}

func TestNormalizeModel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain model", input: "gpt-5.2", want: "gpt-5.2"},
		{name: "openai prefix", input: "openai/gpt-5.2", want: "gpt-5.2"},
		{name: "other provider", input: "anthropic/claude", wantErr: true},
		{name: "empty uses default", input: "", want: defaultModel},
		{name: "dangling prefix", input: "openai/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeModel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeModel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("normalizeModel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTextMessageSplitsParagraphs(t *testing.T) {
	message := textMessage("First line\nstill first\n\n\n  Second  ")

	want := []dialog.Block{
		dialog.Text{Message: "First line\nstill first"},
		dialog.Text{Message: "Second"},
	}
	if message.Len() != len(want) {
		t.Fatalf("blocks = %#v", message.Blocks)
	}
	for i := range want {
		if message.Blocks[i] != want[i] {
			t.Fatalf("block %d = %#v, want %#v", i, message.Blocks[i], want[i])
		}
	}
}

func TestButtonPrompt(t *testing.T) {
	if got := buttonPrompt("path-1", json.RawMessage(`{"label":"Pricing"}`)); got != "Pricing" {
		t.Fatalf("buttonPrompt = %q, want label", got)
	}
	if got := buttonPrompt("path-1", json.RawMessage(`null`)); got != "path-1" {
		t.Fatalf("buttonPrompt = %q, want path", got)
	}
}

func TestVariableInstructionsAreSorted(t *testing.T) {
	got := variableInstructions(backendtypes.Variables{"plan": "pro", "locale": "en"})
	want := "Conversation variables:\n- locale: en\n- plan: pro"
	if got != want {
		t.Fatalf("variableInstructions = %q, want %q", got, want)
	}
	if variableInstructions(nil) != "" {
		t.Fatal("no variables should produce no instructions")
	}
}

type fakeAPI struct {
	mu           sync.Mutex
	responseCode int
	responseBody string
	prompts      []string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/conversations"):
		_, _ = io.WriteString(w, `{"id":"conv_1","object":"conversation","created_at":0,"metadata":{}}`)
	case strings.HasSuffix(r.URL.Path, "/responses"):
		var body struct {
			Input string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.prompts = append(f.prompts, body.Input)
		code, payload := f.responseCode, f.responseBody
		f.mu.Unlock()

		w.WriteHeader(code)
		_, _ = io.WriteString(w, payload)
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "sk-test")

	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	client, err := newClient(config.OpenAIBackendConfig{BaseURL: srv.URL + "/"}, option.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("newClient() error = %v", err)
	}
	return client
}

func TestRepliesSplitIntoTextBlocks(t *testing.T) {
	api := &fakeAPI{
		responseCode: http.StatusOK,
		responseBody: `{"id":"resp_1","object":"response","output":[{"type":"message","id":"msg_1","role":"assistant","status":"completed","content":[{"type":"output_text","text":"Hi there\n\nHow can I help?","annotations":[]}]}]}`,
	}
	client := newTestClient(t, api)

	message := client.Launch(context.Background(), backendtypes.Identity{SessionID: "s1", UserID: "u1"}, nil)

	want := []dialog.Block{dialog.Text{Message: "Hi there"}, dialog.Text{Message: "How can I help?"}}
	if message.Len() != len(want) {
		t.Fatalf("blocks = %#v", message.Blocks)
	}
	for i := range want {
		if message.Blocks[i] != want[i] {
			t.Fatalf("block %d = %#v, want %#v", i, message.Blocks[i], want[i])
		}
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.prompts) != 1 || api.prompts[0] != defaultLaunchPrompt {
		t.Fatalf("prompts = %v, want launch prompt", api.prompts)
	}
}

func TestFallbackMessages(t *testing.T) {
	identity := backendtypes.Identity{SessionID: "s1", UserID: "u1"}
	operations := map[string]func(*Client) dialog.Message{
		"launch": func(c *Client) dialog.Message {
			return c.Launch(context.Background(), identity, nil)
		},
		"send_text": func(c *Client) dialog.Message {
			return c.SendText(context.Background(), identity, nil, "hello")
		},
		"choose_button": func(c *Client) dialog.Message {
			return c.ChooseButton(context.Background(), identity, nil, "path-1", json.RawMessage(`{"label":"Pricing"}`))
		},
	}

	tests := []struct {
		name string
		code int
		body string
		want string
	}{
		{name: "server error", code: http.StatusInternalServerError, body: `{"error":{"message":"boom","type":"server_error"}}`, want: defaultUnavailableMessage},
		{name: "empty output", code: http.StatusOK, body: `{"id":"resp_1","object":"response","output":[]}`, want: defaultUnreadableMessage},
	}

	for _, tt := range tests {
		for operation, call := range operations {
			t.Run(tt.name+"/"+operation, func(t *testing.T) {
				client := newTestClient(t, &fakeAPI{responseCode: tt.code, responseBody: tt.body})

				message := call(client)
				if message.Len() != 1 || message.Blocks[0] != (dialog.Text{Message: tt.want}) {
					t.Fatalf("blocks = %#v, want %q", message.Blocks, tt.want)
				}
			})
		}
	}
}

func TestConfiguredUnreadableMessage(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	client, err := New(config.OpenAIBackendConfig{UnreadableMessage: "Try again later"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if client.unreadable != "Try again later" {
		t.Fatalf("unreadable = %q, want configured message", client.unreadable)
	}
}

func TestRequestFaultCategories(t *testing.T) {
	var syntaxErr error = &json.SyntaxError{Offset: 1}
	decodeErr := fmt.Errorf("error parsing response json: %w", syntaxErr)
	if err := requestFault("create response", decodeErr); !errors.Is(err, fault.ErrBlockConversion) {
		t.Fatalf("decode failure category = %q, want block_conversion", fault.CategoryFromError(err))
	}

	if err := requestFault("create response", errors.New("connection refused")); !errors.Is(err, fault.ErrBackendUnavailable) {
		t.Fatalf("transport failure category = %q, want backend_unavailable", fault.CategoryFromError(err))
	}
}
