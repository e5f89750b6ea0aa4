package voiceflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	backendtypes "flowrelay/pkg/backend/types"
	"flowrelay/pkg/config"
	"flowrelay/pkg/dialog"
	"flowrelay/pkg/fault"
)

const (
	DefaultBaseURL            = "https://general-runtime.voiceflow.com/v2beta1/interact"
	DefaultVersionID          = "production"
	DefaultUnavailableMessage = "Bot is temporarily unavailable"
	DefaultUnreadableMessage  = "Can't read response from bot"

	actionLaunch = "launch"
	actionText   = "text"
)

// Client talks to the Voiceflow general runtime streaming interact endpoint.
type Client struct {
	httpClient     *http.Client
	endpoint       string
	apiKey         string
	requestTimeout time.Duration

	unavailableMessage string
	unreadableMessage  string
}

type requestBody struct {
	Action  action         `json:"action"`
	Session requestSession `json:"session"`
	State   *requestState  `json:"state,omitempty"`
}

type action struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type requestSession struct {
	SessionID string `json:"sessionID"`
	UserID    string `json:"userID"`
}

type requestState struct {
	Variables backendtypes.Variables `json:"variables"`
}

func New(cfg config.VoiceflowBackendConfig) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("backend.voiceflow.api_key is required")
	}
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, errors.New("backend.voiceflow.project_id is required")
	}

	versionID := strings.TrimSpace(cfg.VersionID)
	if versionID == "" {
		versionID = DefaultVersionID
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		httpClient:         &http.Client{},
		endpoint:           fmt.Sprintf("%s/%s/%s/stream", baseURL, projectID, versionID),
		apiKey:             apiKey,
		requestTimeout:     time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		unavailableMessage: orDefault(cfg.UnavailableMessage, DefaultUnavailableMessage),
		unreadableMessage:  orDefault(cfg.UnreadableMessage, DefaultUnreadableMessage),
	}, nil
}

// Launch starts the conversation from the top of the flow.
func (c *Client) Launch(ctx context.Context, identity backendtypes.Identity, vars backendtypes.Variables) dialog.Message {
	return c.interact(ctx, "launch", identity, vars, action{Type: actionLaunch})
}

func (c *Client) SendText(ctx context.Context, identity backendtypes.Identity, vars backendtypes.Variables, text string) dialog.Message {
	return c.interact(ctx, "send_text", identity, vars, action{Type: actionText, Payload: text})
}

// ChooseButton follows a button path, forwarding its payload verbatim.
func (c *Client) ChooseButton(ctx context.Context, identity backendtypes.Identity, vars backendtypes.Variables, path string, payload json.RawMessage) dialog.Message {
	act := action{Type: path}
	if len(bytes.TrimSpace(payload)) > 0 && !bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		act.Payload = payload
	}
	return c.interact(ctx, "choose_button", identity, vars, act)
}

func (c *Client) interact(ctx context.Context, operation string, identity backendtypes.Identity, vars backendtypes.Variables, act action) dialog.Message {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := backendLogger().With("operation", operation)
	startedAt := time.Now()
	log.Debug("backend request started", "session_id", identity.SessionID, "action", act.Type)

	body := requestBody{
		Action:  act,
		Session: requestSession{SessionID: identity.SessionID, UserID: identity.UserID},
	}
	if len(vars) > 0 {
		body.State = &requestState{Variables: vars}
	}

	events, err := c.stream(ctx, body)
	if err != nil {
		log.Warn("backend request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "category", fault.CategoryFromError(err), "error", err)
		if errors.Is(err, fault.ErrBackendUnavailable) {
			return dialog.TextMessage(c.unavailableMessage)
		}
		return dialog.TextMessage(c.unreadableMessage)
	}

	message := dialog.Assemble(events)
	log.Debug("backend request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "events", len(events), "blocks", message.Len())

	return message
}

func (c *Client) stream(ctx context.Context, body requestBody) ([]dialog.RawEvent, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fault.Wrap(fault.CategoryBackendUnavailable, "build request", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.CategoryBackendUnavailable, "post stream", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fault.Newf(fault.CategoryBackendUnavailable, "stream returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	events, err := parseStream(resp)
	if err != nil {
		return nil, fault.Wrap(fault.CategoryBlockConversion, "parse stream", err)
	}

	return events, nil
}

func backendLogger() *slog.Logger {
	return slog.Default().With("component", "backend.voiceflow")
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

func orDefault(value string, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
