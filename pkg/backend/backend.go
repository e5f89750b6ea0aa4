package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	backendopenai "flowrelay/pkg/backend/openai"
	backendtypes "flowrelay/pkg/backend/types"
	"flowrelay/pkg/backend/voiceflow"
	"flowrelay/pkg/config"
	"flowrelay/pkg/dialog"
)

// Backend produces the reply of one turn. Implementations never return
// transport errors; failures surface as fallback text in the message.
type Backend interface {
	Launch(ctx context.Context, identity backendtypes.Identity, vars backendtypes.Variables) dialog.Message
	SendText(ctx context.Context, identity backendtypes.Identity, vars backendtypes.Variables, text string) dialog.Message
	ChooseButton(ctx context.Context, identity backendtypes.Identity, vars backendtypes.Variables, path string, payload json.RawMessage) dialog.Message
}

// HealthChecker is implemented by backends that can check their upstream.
type HealthChecker interface {
	Health(ctx context.Context) error
}

func New(cfg *config.Config) (Backend, error) {
	kind := strings.TrimSpace(cfg.Backend.Kind)
	if kind == "" {
		kind = config.BackendVoiceflow
	}

	slog.Default().With("component", "backend.factory").Debug("Resolving backend client", "backend", kind)

	switch kind {
	case config.BackendVoiceflow:
		return voiceflow.New(cfg.Backend.Voiceflow)
	case config.BackendOpenAI:
		return backendopenai.New(cfg.Backend.OpenAI)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", kind)
	}
}
