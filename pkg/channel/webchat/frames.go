package webchat

import (
	"context"
	"time"

	"flowrelay/pkg/dialog"
	"flowrelay/pkg/dispatcher"
	"flowrelay/pkg/session"

	"github.com/google/uuid"
)

const (
	frameText     = "text"
	frameButton   = "button"
	frameCarousel = "carousel"
	framePing     = "ping"

	framePong    = "pong"
	frameSession = "session"
	frameBlock   = "block"
	frameReplace = "replace"
	frameError   = "error"
)

// inboundFrame is one browser action.
type inboundFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Text    string `json:"text,omitempty"`
	Index   int    `json:"index,omitempty"`
	Forward bool   `json:"forward,omitempty"`
	Mark    int64  `json:"mark,omitempty"`
}

func (f inboundFrame) interaction() dispatcher.Interaction {
	switch f.Type {
	case frameText:
		return dispatcher.Text(f.Text)
	case frameButton:
		return dispatcher.Button(f.Index)
	case frameCarousel:
		return dispatcher.CarouselSwitch(f.Forward)
	default:
		return dispatcher.Undefined(f.Type)
	}
}

type outboundFrame struct {
	Type      string      `json:"type"`
	ChatID    string      `json:"chat_id,omitempty"`
	MessageID string      `json:"message_id,omitempty"`
	SentAt    int64       `json:"sent_at,omitempty"`
	Block     *blockFrame `json:"block,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// blockFrame is the browser view of a block. Carousels are sent one page at a time.
type blockFrame struct {
	Kind        dialog.Kind `json:"kind"`
	Text        string      `json:"text,omitempty"`
	ImageURL    string      `json:"image_url,omitempty"`
	Height      int         `json:"height,omitempty"`
	Width       int         `json:"width,omitempty"`
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Buttons     []string    `json:"buttons,omitempty"`
	Page        int         `json:"page,omitempty"`
	Pages       int         `json:"pages,omitempty"`
	Mark        int64       `json:"mark,omitempty"`
}

func encodeBlock(block dialog.Block) *blockFrame {
	switch typed := block.(type) {
	case dialog.Text:
		return &blockFrame{Kind: dialog.KindText, Text: typed.Message}
	case dialog.Image:
		return &blockFrame{Kind: dialog.KindImage, ImageURL: typed.URL, Height: typed.Height, Width: typed.Width}
	case dialog.Buttons:
		frame := &blockFrame{Kind: dialog.KindButtons, Text: typed.Header(), Buttons: buttonNames(typed.Buttons)}
		if image, ok := typed.Context.(dialog.Image); ok {
			frame.ImageURL = image.URL
		}
		return frame
	case dialog.Card:
		return encodeCard(typed)
	case *dialog.Carousel:
		index, mark := typed.State()
		return encodePage(typed.Cards()[index], index, typed.Len(), mark)
	default:
		return nil
	}
}

func encodeCard(card dialog.Card) *blockFrame {
	return &blockFrame{
		Kind:        dialog.KindCard,
		ImageURL:    card.ImageURL,
		Title:       card.Title,
		Description: card.Description,
		Buttons:     buttonNames(card.Buttons),
	}
}

func encodePage(card dialog.Card, index int, pages int, mark int64) *blockFrame {
	frame := encodeCard(card)
	frame.Kind = dialog.KindCarousel
	frame.Page = index
	frame.Pages = pages
	frame.Mark = mark
	return frame
}

func buttonNames(buttons []dialog.Button) []string {
	names := make([]string, 0, len(buttons))
	for _, button := range buttons {
		names = append(names, button.Name)
	}
	return names
}

// Renderer writes blocks as JSON frames to the chat's connection.
type Renderer struct {
	adapter *Adapter
}

var _ dispatcher.Renderer = (*Renderer)(nil)

func (r *Renderer) Render(ctx context.Context, chatID string, message dialog.Message) ([]session.SentMessage, error) {
	conn, err := r.adapter.conn(chatID)
	if err != nil {
		return nil, err
	}

	sent := make([]session.SentMessage, 0, message.Len())
	for _, block := range message.Blocks {
		frame := encodeBlock(block)
		if frame == nil {
			continue
		}

		handle := session.SentMessage{Block: block, MessageID: uuid.NewString(), SentAt: r.now()}
		err := r.adapter.write(ctx, conn, outboundFrame{
			Type:      frameBlock,
			MessageID: handle.MessageID,
			SentAt:    handle.SentAt,
			Block:     frame,
		})
		if err != nil {
			return sent, err
		}
		sent = append(sent, handle)
	}

	return sent, nil
}

// SwitchCarousel asks the browser to replace the page of an earlier message.
func (r *Renderer) SwitchCarousel(ctx context.Context, chatID string, previous session.SentMessage, view dispatcher.CarouselView) (session.SentMessage, error) {
	conn, err := r.adapter.conn(chatID)
	if err != nil {
		return session.SentMessage{}, err
	}

	err = r.adapter.write(ctx, conn, outboundFrame{
		Type:      frameReplace,
		MessageID: previous.MessageID,
		SentAt:    previous.SentAt,
		Block:     encodePage(view.Card, view.Index, view.Carousel.Len(), view.Mark),
	})
	if err != nil {
		return session.SentMessage{}, err
	}

	return session.SentMessage{Block: view.Carousel, MessageID: previous.MessageID, SentAt: previous.SentAt}, nil
}

func (r *Renderer) now() int64 {
	if r.adapter.now != nil {
		return r.adapter.now().Unix()
	}
	return time.Now().Unix()
}
