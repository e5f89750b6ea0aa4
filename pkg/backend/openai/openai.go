package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	backendtypes "flowrelay/pkg/backend/types"
	"flowrelay/pkg/config"
	"flowrelay/pkg/dialog"
	"flowrelay/pkg/fault"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/conversations"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

const (
	defaultModel              = "gpt-5.2"
	defaultLaunchPrompt       = "Hello"
	defaultUnavailableMessage = "Bot is temporarily unavailable"
	defaultUnreadableMessage  = "Can't read response from bot"
)

// Client answers turns with a model through the Responses API. Each chat
// identity maps to one conversation; Launch starts a fresh one.
type Client struct {
	client         osdk.Client
	model          string
	launchPrompt   string
	unavailable    string
	unreadable     string
	requestTimeout time.Duration

	mu            sync.Mutex
	conversations map[string]string
}

func New(cfg config.OpenAIBackendConfig) (*Client, error) {
	return newClient(cfg)
}

func newClient(cfg config.OpenAIBackendConfig, extra ...option.RequestOption) (*Client, error) {
	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		return nil, errors.New("backend.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(cfg.Organization); organization != "" {
		opts = append(opts, option.WithOrganization(organization))
	}
	if project := strings.TrimSpace(cfg.Project); project != "" {
		opts = append(opts, option.WithProject(project))
	}

	requestTimeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}

	opts = append(opts, extra...)

	model, err := normalizeModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	return &Client{
		client:         osdk.NewClient(opts...),
		model:          model,
		launchPrompt:   orDefault(cfg.LaunchPrompt, defaultLaunchPrompt),
		unavailable:    orDefault(cfg.UnavailableMessage, defaultUnavailableMessage),
		unreadable:     orDefault(cfg.UnreadableMessage, defaultUnreadableMessage),
		requestTimeout: requestTimeout,
		conversations:  make(map[string]string),
	}, nil
}

// Health lists models to confirm the API key and endpoint work.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := backendLogger().With("operation", "health")
	startedAt := time.Now()
	log.Debug("backend request started")

	if _, err := c.client.Models.List(ctx); err != nil {
		log.Debug("backend request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Debug("backend request completed", "duration_ms", time.Since(startedAt).Milliseconds())

	return nil
}

func (c *Client) Launch(ctx context.Context, identity backendtypes.Identity, vars backendtypes.Variables) dialog.Message {
	c.forget(identity)
	return c.reply(ctx, "launch", identity, vars, c.launchPrompt)
}

func (c *Client) SendText(ctx context.Context, identity backendtypes.Identity, vars backendtypes.Variables, text string) dialog.Message {
	return c.reply(ctx, "send_text", identity, vars, text)
}

// ChooseButton sends the button label from its payload, or the path when there is none.
func (c *Client) ChooseButton(ctx context.Context, identity backendtypes.Identity, vars backendtypes.Variables, path string, payload json.RawMessage) dialog.Message {
	return c.reply(ctx, "choose_button", identity, vars, buttonPrompt(path, payload))
}

func (c *Client) reply(ctx context.Context, operation string, identity backendtypes.Identity, vars backendtypes.Variables, prompt string) dialog.Message {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := backendLogger().With("operation", operation)
	startedAt := time.Now()

	text, err := c.prompt(ctx, identity, vars, prompt)
	if err != nil {
		log.Warn("backend request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "category", fault.CategoryFromError(err), "error", err)
		if errors.Is(err, fault.ErrBackendUnavailable) {
			return dialog.TextMessage(c.unavailable)
		}
		return dialog.TextMessage(c.unreadable)
	}
	log.Debug("backend request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(text))

	return textMessage(text)
}

func (c *Client) prompt(ctx context.Context, identity backendtypes.Identity, vars backendtypes.Variables, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fault.New(fault.CategoryValidation, "prompt is required")
	}

	conversationID, err := c.conversation(ctx, identity)
	if err != nil {
		return "", err
	}

	params := responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{OfString: osdk.String(prompt)},
		Conversation: responses.ResponseNewParamsConversationUnion{
			OfConversationObject: &responses.ResponseConversationParam{ID: conversationID},
		},
	}
	if instructions := variableInstructions(vars); instructions != "" {
		params.Instructions = osdk.String(instructions)
	}

	response, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return "", requestFault("create response", err)
	}

	text := strings.TrimSpace(response.OutputText())
	if text == "" {
		return "", fault.New(fault.CategoryBlockConversion, "response returned no text")
	}

	return text, nil
}

func (c *Client) conversation(ctx context.Context, identity backendtypes.Identity) (string, error) {
	c.mu.Lock()
	id, ok := c.conversations[identity.SessionID]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	conversation, err := c.client.Conversations.New(ctx, conversations.ConversationNewParams{})
	if err != nil {
		return "", requestFault("create conversation", err)
	}
	if conversation == nil || strings.TrimSpace(conversation.ID) == "" {
		return "", fault.New(fault.CategoryBackendUnavailable, "create conversation returned empty id")
	}

	id = strings.TrimSpace(conversation.ID)
	c.mu.Lock()
	c.conversations[identity.SessionID] = id
	c.mu.Unlock()

	return id, nil
}

func (c *Client) forget(identity backendtypes.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conversations, identity.SessionID)
}

// requestFault separates bodies that could not be decoded from failures to reach the API.
func requestFault(operation string, err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fault.Wrap(fault.CategoryBlockConversion, operation, err)
	}
	return fault.Wrap(fault.CategoryBackendUnavailable, operation, err)
}

// textMessage turns a model reply into text blocks, one per paragraph.
func textMessage(text string) dialog.Message {
	var message dialog.Message
	for _, paragraph := range strings.Split(text, "\n\n") {
		if trimmed := strings.TrimSpace(paragraph); trimmed != "" {
			message.Push(dialog.Text{Message: trimmed})
		}
	}
	return message
}

func buttonPrompt(path string, payload json.RawMessage) string {
	var fields struct {
		Label string `json:"label"`
	}
	if err := json.Unmarshal(payload, &fields); err == nil && strings.TrimSpace(fields.Label) != "" {
		return fields.Label
	}
	return path
}

func variableInstructions(vars backendtypes.Variables) string {
	if len(vars) == 0 {
		return ""
	}

	keys := make([]string, 0, len(vars))
	for key := range vars {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys)+1)
	lines = append(lines, "Conversation variables:")
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %v", key, vars[key]))
	}
	return strings.Join(lines, "\n")
}

func backendLogger() *slog.Logger {
	return slog.Default().With("component", "backend.openai")
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

func resolveAPIKey(cfg config.OpenAIBackendConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

func normalizeModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return defaultModel, nil
	}

	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return model, nil
	}

	providerID := strings.TrimSpace(parts[0])
	modelID := strings.TrimSpace(parts[1])
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not supported by openai backend", providerID)
	}

	return modelID, nil
}

func orDefault(value string, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
