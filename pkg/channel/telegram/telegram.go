package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"flowrelay/pkg/channel"
	"flowrelay/pkg/config"
	"flowrelay/pkg/dispatcher"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const channelName = "telegram"
const messagePreviewLimit = 240
const typingRefreshInterval = 4 * time.Second

// ErrUnsupportedUpdate is returned for updates that carry neither a message nor a callback.
var ErrUnsupportedUpdate = errors.New("telegram update carries no supported interaction")

// Adapter bridges Telegram updates into relay turns.
type Adapter struct {
	cfg       config.TelegramConfig
	allowFrom map[string]struct{}
	bot       botAPI
	renderer  *Renderer
	log       *slog.Logger
}

var _ channel.Adapter = (*Adapter)(nil)

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	return newAdapter(cfg, bot, log), nil
}

func newAdapter(cfg config.TelegramConfig, bot botAPI, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: allowFromSet(cfg.AllowFrom),
		bot:       bot,
		renderer:  &Renderer{bot: bot},
		log:       log.With("component", "channel.telegram"),
	}
}

// Name returns the channel identifier used as the client id and in logs.
func (a *Adapter) Name() string {
	return channelName
}

func (a *Adapter) Renderer() dispatcher.Renderer {
	return a.renderer
}

// WebhookMode reports whether updates arrive through the gateway webhook.
func (a *Adapter) WebhookMode() bool {
	return strings.TrimSpace(a.cfg.Mode) == config.TelegramModeWebhook
}

// WebhookSecret is the token the webhook caller must present, if any.
func (a *Adapter) WebhookSecret() string {
	return strings.TrimSpace(a.cfg.WebhookSecret)
}

// Run starts Telegram long polling and dispatches each update on its own
// goroutine. In webhook mode it only waits for shutdown.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	if a.WebhookMode() {
		a.log.Info("Telegram channel waiting for webhook updates")
		<-ctx.Done()
		return nil
	}

	updates, err := a.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started")

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			inflight.Add(1)
			go func() {
				defer inflight.Done()
				if err := a.HandleUpdate(ctx, handler, update); err != nil && !errors.Is(err, ErrUnsupportedUpdate) {
					a.log.Debug("Update not handled", "update_id", update.UpdateID, "error", err)
				}
			}()
		}
	}
}

// HandleUpdate decodes one Telegram update and runs it through handler.
// Updates from senders outside allow_from are ignored without error.
func (a *Adapter) HandleUpdate(ctx context.Context, handler channel.Handler, update telego.Update) error {
	inbound, chatID, senderID, ok := decodeUpdate(update)
	if !ok {
		return ErrUnsupportedUpdate
	}

	if query := update.CallbackQuery; query != nil {
		if err := a.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{CallbackQueryID: query.ID}); err != nil {
			a.log.Debug("Failed to answer callback query", "chat_id", chatID, "error", err)
		}
	}

	if !a.senderAllowed(senderID) {
		a.log.Debug("Ignoring update from unauthorized sender", "sender_id", senderID)
		return nil
	}

	a.log.Info("Received update", "chat_id", inbound.ChatID, "sender_id", senderID, "interaction", inbound.Interaction, "content", previewText(inbound.Interaction.Text))

	stopTyping := a.startTypingIndicator(ctx, chatID)
	err := handler(ctx, inbound)
	stopTyping()

	return err
}

// decodeUpdate maps text messages and inline keyboard callbacks to relay updates.
// A callback takes the date of the message it was pressed on, so clicks on
// old messages are recognised as stale.
func decodeUpdate(update telego.Update) (dispatcher.Update, int64, string, bool) {
	updateID := strconv.Itoa(update.UpdateID)

	if message := update.Message; message != nil {
		if message.From == nil {
			return dispatcher.Update{}, 0, "", false
		}

		interaction := dispatcher.Text(strings.TrimSpace(message.Text))
		if interaction.Text == "" {
			interaction = dispatcher.Undefined("message without text")
		}

		return dispatcher.Update{
			ChatID:      strconv.FormatInt(message.Chat.ID, 10),
			UpdateID:    updateID,
			Time:        message.Date,
			Interaction: interaction,
		}, message.Chat.ID, strconv.FormatInt(message.From.ID, 10), true
	}

	if query := update.CallbackQuery; query != nil && query.Message != nil {
		interaction, mark := decodeCallback(query.Data)
		chat := query.Message.GetChat()

		return dispatcher.Update{
			ChatID:      strconv.FormatInt(chat.ID, 10),
			UpdateID:    updateID,
			Time:        query.Message.GetDate(),
			Interaction: interaction,
			Mark:        mark,
		}, chat.ID, strconv.FormatInt(query.From.ID, 10), true
	}

	return dispatcher.Update{}, 0, "", false
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}

// startTypingIndicator sends an initial typing action and refreshes it periodically
// until the returned cancel function is called.
func (a *Adapter) startTypingIndicator(ctx context.Context, chatID int64) context.CancelFunc {
	typingCtx, cancel := context.WithCancel(ctx)

	sendTyping := func() {
		if err := a.bot.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil && typingCtx.Err() == nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
		}
	}

	sendTyping()

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				sendTyping()
			}
		}
	}()

	return cancel
}
