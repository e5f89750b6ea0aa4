package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"flowrelay/pkg/dialog"
	"flowrelay/pkg/dispatcher"
	"flowrelay/pkg/session"
)

// ChatID is the single chat served by the console.
const ChatID = "console"

// Console runs typed input through a dispatcher and collects what it renders.
type Console struct {
	dispatcher *dispatcher.Dispatcher
	renderer   *Renderer
	now        func() time.Time
	updates    atomic.Int64
}

// NewConsole wires a console to d, which must have been built with renderer.
func NewConsole(d *dispatcher.Dispatcher, renderer *Renderer) *Console {
	return &Console{dispatcher: d, renderer: renderer, now: time.Now}
}

// Turn dispatches one line of input and returns the rendered reply lines.
//
// Input forms:
//
//	#N        choose button N (1-based) of the last message
//	> or -->  next carousel page
//	< or <--  previous carousel page
//	anything else is sent as text
func (c *Console) Turn(ctx context.Context, input string) ([]string, error) {
	update := dispatcher.Update{
		ChatID:      ChatID,
		UpdateID:    strconv.FormatInt(c.updates.Add(1), 10),
		Time:        c.now().Unix(),
		Interaction: ParseInput(input),
		Mark:        c.renderer.Mark(),
	}

	err := c.dispatcher.Dispatch(ctx, update)
	return c.renderer.Drain(), err
}

// ParseInput maps console input to an interaction.
func ParseInput(input string) dispatcher.Interaction {
	trimmed := strings.TrimSpace(input)
	switch trimmed {
	case ">", "-->":
		return dispatcher.CarouselSwitch(true)
	case "<", "<--":
		return dispatcher.CarouselSwitch(false)
	}

	if rest, ok := strings.CutPrefix(trimmed, "#"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil && n > 0 {
			return dispatcher.Button(n - 1)
		}
	}

	return dispatcher.Text(trimmed)
}

// Renderer formats blocks as plain text lines for the terminal.
type Renderer struct {
	now func() time.Time

	mu      sync.Mutex
	lines   []string
	mark    int64
	counter int
}

var _ dispatcher.Renderer = (*Renderer)(nil)

func NewRenderer() *Renderer {
	return &Renderer{now: time.Now}
}

func (r *Renderer) Render(_ context.Context, _ string, message dialog.Message) ([]session.SentMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sent := make([]session.SentMessage, 0, message.Len())
	for _, block := range message.Blocks {
		text, ok := formatBlock(block)
		if !ok {
			continue
		}
		if carousel, isCarousel := block.(*dialog.Carousel); isCarousel {
			r.mark = carousel.Mark()
		}

		r.counter++
		r.lines = append(r.lines, text)
		sent = append(sent, session.SentMessage{
			Block:     block,
			MessageID: strconv.Itoa(r.counter),
			SentAt:    r.now().Unix(),
		})
	}

	return sent, nil
}

// SwitchCarousel prints the new page. The terminal cannot edit earlier output.
func (r *Renderer) SwitchCarousel(_ context.Context, _ string, previous session.SentMessage, view dispatcher.CarouselView) (session.SentMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.mark = view.Mark
	r.lines = append(r.lines, formatPage(view.Card, view.Index, view.Carousel.Len()))
	return session.SentMessage{Block: view.Carousel, MessageID: previous.MessageID, SentAt: previous.SentAt}, nil
}

// Drain returns and clears the lines rendered since the last call.
func (r *Renderer) Drain() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := r.lines
	r.lines = nil
	return lines
}

// Mark is the mark of the carousel shown last.
func (r *Renderer) Mark() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mark
}

func formatBlock(block dialog.Block) (string, bool) {
	switch typed := block.(type) {
	case dialog.Text:
		return typed.Message, true
	case dialog.Image:
		return "[image] " + typed.URL, true
	case dialog.Buttons:
		header := typed.Header()
		if image, ok := typed.Context.(dialog.Image); ok {
			header = "[image] " + image.URL
		}
		return header + "\n" + formatButtons(typed.Buttons), true
	case dialog.Card:
		return formatCard(typed), true
	case *dialog.Carousel:
		card, index := typed.Selected()
		return formatPage(card, index, typed.Len()), true
	default:
		return "", false
	}
}

func formatCard(card dialog.Card) string {
	parts := make([]string, 0, 3)
	if card.ImageURL != "" {
		parts = append(parts, "[image] "+card.ImageURL)
	}
	caption := card.Caption()
	if caption == "" {
		caption = dialog.CardPlaceholderTitle
	}
	parts = append(parts, caption)
	if len(card.Buttons) > 0 {
		parts = append(parts, formatButtons(card.Buttons))
	}
	return strings.Join(parts, "\n")
}

func formatPage(card dialog.Card, index int, pages int) string {
	return fmt.Sprintf("%s\n<-- %d/%d -->", formatCard(card), index+1, pages)
}

func formatButtons(buttons []dialog.Button) string {
	labels := make([]string, 0, len(buttons))
	for i, button := range buttons {
		labels = append(labels, fmt.Sprintf("[#%d] %s", i+1, button.Name))
	}
	return strings.Join(labels, "  ")
}
