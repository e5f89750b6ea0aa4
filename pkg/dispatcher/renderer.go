package dispatcher

import (
	"context"

	"flowrelay/pkg/dialog"
	"flowrelay/pkg/session"
)

// CarouselView is the page a carousel should switch to.
type CarouselView struct {
	Carousel *dialog.Carousel
	Card     dialog.Card
	Index    int
	Mark     int64
}

// Renderer delivers blocks to one chat platform.
type Renderer interface {
	// Render sends every block in order and returns the handles of the sent
	// messages. On a partial failure the handles sent so far are returned with the error.
	Render(ctx context.Context, chatID string, message dialog.Message) ([]session.SentMessage, error)
	// SwitchCarousel replaces the page shown by previous with view.
	SwitchCarousel(ctx context.Context, chatID string, previous session.SentMessage, view CarouselView) (session.SentMessage, error)
}
