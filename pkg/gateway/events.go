package gateway

import (
	"context"
	"log/slog"
	"time"

	"flowrelay/pkg/bus"
)

const eventLogBuffer = 64

// observeTurnEvents logs every turn event until ctx ends or the bus closes.
func observeTurnEvents(ctx context.Context, messageBus *bus.MessageBus, log *slog.Logger) {
	events, unsubscribe := messageBus.SubscribeEvents(ctx, eventLogBuffer)
	defer unsubscribe()

	for event := range events {
		logEvent(ctx, log, event)
	}
}

func logEvent(ctx context.Context, log *slog.Logger, event bus.Event) {
	level := slog.LevelInfo
	attrs := []slog.Attr{
		slog.String("event_type", string(event.Type)),
		slog.String("turn_id", event.TurnID),
		slog.String("client", event.Client),
		slog.String("chat_id", event.ChatID),
		slog.String("at", event.At.UTC().Format(time.RFC3339Nano)),
	}

	switch event.Type {
	case bus.EventTurnReceived:
		level = slog.LevelDebug
		attrs = append(attrs, slog.String("update_id", event.UpdateID), slog.String("interaction", event.Interaction))
	case bus.EventTurnCompleted:
		attrs = append(attrs, slog.Int("blocks", event.Blocks), slog.Bool("ended", event.Ended), slog.Int64("duration_ms", event.DurationMS))
	case bus.EventTurnDropped:
		attrs = append(attrs, slog.String("category", event.Category))
	case bus.EventTurnFailed:
		level = slog.LevelError
		attrs = append(attrs, slog.String("category", event.Category), slog.String("error", event.Error), slog.Int64("duration_ms", event.DurationMS))
	default:
		level = slog.LevelDebug
	}

	log.LogAttrs(ctx, level, "Turn event", attrs...)
}
