package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"flowrelay/pkg/dialog"
	"flowrelay/pkg/dispatcher"
	"flowrelay/pkg/session"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// botAPI is the subset of *telego.Bot used by the channel.
type botAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error)
	EditMessageText(ctx context.Context, params *telego.EditMessageTextParams) (*telego.Message, error)
	EditMessageMedia(ctx context.Context, params *telego.EditMessageMediaParams) (*telego.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *telego.AnswerCallbackQueryParams) error
	SendChatAction(ctx context.Context, params *telego.SendChatActionParams) error
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, options ...telego.LongPollingOption) (<-chan telego.Update, error)
}

// Renderer shows message blocks as Telegram messages with inline keyboards.
type Renderer struct {
	bot botAPI
}

var _ dispatcher.Renderer = (*Renderer)(nil)

func (r *Renderer) Render(ctx context.Context, chatID string, message dialog.Message) ([]session.SentMessage, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return nil, err
	}

	sent := make([]session.SentMessage, 0, message.Len())
	for _, block := range message.Blocks {
		if block.Kind() == dialog.KindEnd {
			continue
		}

		result, err := r.send(ctx, id, block)
		if err != nil {
			return sent, fmt.Errorf("send %s block: %w", block.Kind(), err)
		}
		sent = append(sent, sentMessage(block, result))
	}

	return sent, nil
}

// SwitchCarousel edits the carousel message in place.
func (r *Renderer) SwitchCarousel(ctx context.Context, chatID string, previous session.SentMessage, view dispatcher.CarouselView) (session.SentMessage, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return session.SentMessage{}, err
	}
	messageID, err := strconv.Atoi(previous.MessageID)
	if err != nil {
		return session.SentMessage{}, fmt.Errorf("invalid telegram message id %q: %w", previous.MessageID, err)
	}

	keyboard := carouselKeyboard(view.Card, view.Index, view.Carousel.Len(), view.Mark)
	caption := cardText(view.Card)

	if view.Carousel.FullyImaged() {
		_, err = r.bot.EditMessageMedia(ctx, &telego.EditMessageMediaParams{
			ChatID:    tu.ID(id),
			MessageID: messageID,
			Media: &telego.InputMediaPhoto{
				Type:    telego.MediaTypePhoto,
				Media:   telego.InputFile{URL: view.Card.ImageURL},
				Caption: caption,
			},
			ReplyMarkup: keyboard,
		})
	} else {
		_, err = r.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
			ChatID:      tu.ID(id),
			MessageID:   messageID,
			Text:        caption,
			ReplyMarkup: keyboard,
		})
	}
	if err != nil {
		return session.SentMessage{}, fmt.Errorf("edit carousel message: %w", err)
	}

	return session.SentMessage{Block: view.Carousel, MessageID: previous.MessageID, SentAt: previous.SentAt}, nil
}

func (r *Renderer) send(ctx context.Context, chatID int64, block dialog.Block) (*telego.Message, error) {
	switch typed := block.(type) {
	case dialog.Text:
		return r.sendText(ctx, chatID, typed.Message, nil)
	case dialog.Image:
		return r.sendPhoto(ctx, chatID, typed.URL, "", nil)
	case dialog.Buttons:
		keyboard := buttonsKeyboard(typed.Buttons, 0)
		if image, ok := typed.Context.(dialog.Image); ok {
			return r.sendPhoto(ctx, chatID, image.URL, "", keyboard)
		}
		return r.sendText(ctx, chatID, typed.Header(), keyboard)
	case dialog.Card:
		keyboard := buttonsKeyboard(typed.Buttons, 0)
		if typed.ImageURL != "" {
			return r.sendPhoto(ctx, chatID, typed.ImageURL, typed.Caption(), keyboard)
		}
		return r.sendText(ctx, chatID, cardText(typed), keyboard)
	case *dialog.Carousel:
		index, mark := typed.State()
		card := typed.Cards()[index]
		keyboard := carouselKeyboard(card, index, typed.Len(), mark)
		if typed.FullyImaged() {
			return r.sendPhoto(ctx, chatID, card.ImageURL, card.Caption(), keyboard)
		}
		return r.sendText(ctx, chatID, cardText(card), keyboard)
	default:
		return nil, fmt.Errorf("unsupported block kind %s", block.Kind())
	}
}

func (r *Renderer) sendText(ctx context.Context, chatID int64, text string, keyboard *telego.InlineKeyboardMarkup) (*telego.Message, error) {
	params := tu.Message(tu.ID(chatID), text)
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}
	return r.bot.SendMessage(ctx, params)
}

func (r *Renderer) sendPhoto(ctx context.Context, chatID int64, url string, caption string, keyboard *telego.InlineKeyboardMarkup) (*telego.Message, error) {
	params := &telego.SendPhotoParams{
		ChatID:  tu.ID(chatID),
		Photo:   telego.InputFile{URL: url},
		Caption: caption,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}
	return r.bot.SendPhoto(ctx, params)
}

// buttonsKeyboard lays out one button per row. Every button is a callback so
// the click reaches the relay, including open_url ones.
func buttonsKeyboard(buttons []dialog.Button, mark int64) *telego.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}

	rows := make([][]telego.InlineKeyboardButton, 0, len(buttons))
	for i, button := range buttons {
		rows = append(rows, []telego.InlineKeyboardButton{{
			Text:         button.Name,
			CallbackData: encodeButton(i, mark),
		}})
	}
	return &telego.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func carouselKeyboard(card dialog.Card, index int, total int, mark int64) *telego.InlineKeyboardMarkup {
	keyboard := buttonsKeyboard(card.Buttons, mark)
	if keyboard == nil {
		keyboard = &telego.InlineKeyboardMarkup{}
	}

	var arrows []telego.InlineKeyboardButton
	if index > 0 {
		arrows = append(arrows, telego.InlineKeyboardButton{Text: arrowBack, CallbackData: encodeSwitch(false, mark)})
	}
	if index < total-1 {
		arrows = append(arrows, telego.InlineKeyboardButton{Text: arrowForward, CallbackData: encodeSwitch(true, mark)})
	}
	if len(arrows) > 0 {
		keyboard.InlineKeyboard = append(keyboard.InlineKeyboard, arrows)
	}

	if len(keyboard.InlineKeyboard) == 0 {
		return nil
	}
	return keyboard
}

func cardText(card dialog.Card) string {
	if caption := strings.TrimSpace(card.Caption()); caption != "" {
		return caption
	}
	return dialog.CardPlaceholderTitle
}

func sentMessage(block dialog.Block, message *telego.Message) session.SentMessage {
	if message == nil {
		return session.SentMessage{Block: block, SentAt: time.Now().Unix()}
	}
	return session.SentMessage{
		Block:     block,
		MessageID: strconv.Itoa(message.MessageID),
		SentAt:    message.Date,
	}
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	return id, nil
}
