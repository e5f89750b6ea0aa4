package dialog

import (
	"encoding/json"
	"fmt"

	"flowrelay/pkg/fault"
)

// Kind discriminates message blocks.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindButtons  Kind = "buttons"
	KindCard     Kind = "card"
	KindCarousel Kind = "carousel"
	KindEnd      Kind = "end"
)

const (
	// MaxButtonNameLength bounds button labels in runes.
	MaxButtonNameLength = 64

	// ButtonsPlaceholder is shown above a button group that carries no context block.
	ButtonsPlaceholder = "Please choose an option"

	// CardPlaceholderTitle is used for cards that have an image or buttons but no text.
	CardPlaceholderTitle = "Card"
)

// Block is one unit of message content.
type Block interface {
	Kind() Kind
}

type Text struct {
	Message string `json:"message"`
}

func (Text) Kind() Kind { return KindText }

// Image is a picture block. Zero Height or Width means the dimension is unknown.
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height,omitempty"`
	Width  int    `json:"width,omitempty"`
}

func (Image) Kind() Kind { return KindImage }

// Buttons is a positional group of buttons with an optional Text or Image
// shown together with it.
type Buttons struct {
	Context Block    `json:"-"`
	Buttons []Button `json:"buttons"`
}

func (Buttons) Kind() Kind { return KindButtons }

// Header returns the text rendered above the buttons.
func (b Buttons) Header() string {
	if text, ok := b.Context.(Text); ok && text.Message != "" {
		return text.Message
	}
	return ButtonsPlaceholder
}

// Card is a titled block with an optional image and buttons. Empty strings mean absent.
type Card struct {
	ImageURL    string   `json:"image_url,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Buttons     []Button `json:"buttons,omitempty"`
}

func (Card) Kind() Kind { return KindCard }

// Caption joins title and description the way chat platforms show cards.
func (c Card) Caption() string {
	switch {
	case c.Title == "":
		return c.Description
	case c.Description == "":
		return c.Title
	default:
		return c.Title + "\n\n" + c.Description
	}
}

// End marks a terminal conversation state. It is never rendered.
type End struct{}

func (End) Kind() Kind { return KindEnd }

// ActionKind describes what choosing a button does.
type ActionKind string

const (
	ActionPath    ActionKind = "path"
	ActionOpenURL ActionKind = "open_url"
)

type ButtonAction struct {
	Kind ActionKind `json:"kind"`
	URL  string     `json:"url,omitempty"`
}

// Button is a positional choice. Payload is forwarded verbatim to the backend.
type Button struct {
	Name    string          `json:"name"`
	Path    string          `json:"path"`
	Action  ButtonAction    `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// URL returns the link opened by the button, if any.
func (b Button) URL() (string, bool) {
	if b.Action.Kind != ActionOpenURL || b.Action.URL == "" {
		return "", false
	}
	return b.Action.URL, true
}

// ButtonAt resolves a positional button on a block. Carousels resolve against
// their currently selected card.
func ButtonAt(block Block, index int) (Button, error) {
	var buttons []Button
	switch typed := block.(type) {
	case Buttons:
		buttons = typed.Buttons
	case Card:
		buttons = typed.Buttons
	case *Carousel:
		card, _ := typed.Selected()
		buttons = card.Buttons
	case nil:
		return Button{}, fault.New(fault.CategoryValidation, "no block to resolve buttons against")
	default:
		return Button{}, fault.Newf(fault.CategoryValidation, "%s block has no buttons", block.Kind())
	}

	if len(buttons) == 0 {
		return Button{}, fault.Newf(fault.CategoryValidation, "%s block has no buttons", block.Kind())
	}
	if index < 0 || index >= len(buttons) {
		return Button{}, fault.Newf(fault.CategoryValidation, "invalid index %d for %d buttons", index, len(buttons))
	}

	return buttons[index], nil
}

// Describe returns a short log-safe summary of a block.
func Describe(block Block) string {
	switch typed := block.(type) {
	case Text:
		return fmt.Sprintf("text(%d chars)", len(typed.Message))
	case Image:
		return "image"
	case Buttons:
		return fmt.Sprintf("buttons(%d)", len(typed.Buttons))
	case Card:
		return fmt.Sprintf("card(%d buttons)", len(typed.Buttons))
	case *Carousel:
		return fmt.Sprintf("carousel(%d cards)", typed.Len())
	case End:
		return "end"
	case nil:
		return "none"
	default:
		return string(block.Kind())
	}
}
