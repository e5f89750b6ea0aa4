package dialog

import (
	"errors"
	"sync"
	"time"

	"flowrelay/pkg/fault"
)

// nowMillis is the mark clock; tests replace it.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

// Carousel is a paged list of cards. The selected index and its selection mark
// always change together under one lock, so readers never see one without the other.
type Carousel struct {
	cards       []Card
	fullyImaged bool

	mu       sync.RWMutex
	selected int
	mark     int64
}

// NewCarousel builds a carousel positioned on its first card.
func NewCarousel(cards []Card) (*Carousel, error) {
	if len(cards) == 0 {
		return nil, errors.New("carousel requires at least one card")
	}

	copied := make([]Card, len(cards))
	copy(copied, cards)

	fullyImaged := true
	for _, card := range copied {
		if card.ImageURL == "" {
			fullyImaged = false
			break
		}
	}

	return &Carousel{
		cards:       copied,
		fullyImaged: fullyImaged,
		mark:        nowMillis(),
	}, nil
}

func (c *Carousel) Kind() Kind { return KindCarousel }

func (c *Carousel) Len() int { return len(c.cards) }

// FullyImaged reports whether every card carries an image.
func (c *Carousel) FullyImaged() bool { return c.fullyImaged }

// Cards returns a copy of the carousel cards.
func (c *Carousel) Cards() []Card {
	cards := make([]Card, len(c.cards))
	copy(cards, c.cards)
	return cards
}

// Selected returns the current card and its index.
func (c *Carousel) Selected() (Card, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cards[c.selected], c.selected
}

// State returns the selected index together with its mark.
func (c *Carousel) State() (int, int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selected, c.mark
}

func (c *Carousel) Mark() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mark
}

// Neighbor returns the card one step away from the selection without moving it.
func (c *Carousel) Neighbor(forward bool) (Card, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	index, err := c.step(forward)
	if err != nil {
		return Card{}, 0, err
	}
	return c.cards[index], index, nil
}

// Advance moves the selection one step and refreshes the mark.
func (c *Carousel) Advance(forward bool) (Card, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	index, err := c.step(forward)
	if err != nil {
		return Card{}, 0, err
	}
	c.selected = index
	c.mark = c.nextMarkLocked()
	return c.cards[index], index, nil
}

// SetSelected stores an index and mark pair, typically after a page was rendered.
func (c *Carousel) SetSelected(index int, mark int64) error {
	if index < 0 || index >= len(c.cards) {
		return fault.Newf(fault.CategoryValidation, "carousel index %d out of range [0,%d)", index, len(c.cards))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = index
	c.mark = mark
	return nil
}

// NextMark returns a mark strictly greater than the current one.
func (c *Carousel) NextMark() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nextMarkLocked()
}

func (c *Carousel) nextMarkLocked() int64 {
	next := nowMillis()
	if next <= c.mark {
		next = c.mark + 1
	}
	return next
}

func (c *Carousel) step(forward bool) (int, error) {
	if forward {
		if c.selected+1 >= len(c.cards) {
			return 0, fault.New(fault.CategoryValidation, "carousel is already on its last card")
		}
		return c.selected + 1, nil
	}

	if c.selected == 0 {
		return 0, fault.New(fault.CategoryValidation, "carousel is already on its first card")
	}
	return c.selected - 1, nil
}
