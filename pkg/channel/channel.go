package channel

import (
	"context"

	"flowrelay/pkg/dispatcher"
)

// Handler runs one decoded update through the relay.
type Handler func(context.Context, dispatcher.Update) error

// Adapter bridges one external transport (for example Telegram) into the relay.
// The adapter decodes inbound updates and renders replies through its Renderer.
type Adapter interface {
	Name() string
	Renderer() dispatcher.Renderer
	Run(context.Context, Handler) error
}
