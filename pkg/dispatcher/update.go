package dispatcher

import (
	"fmt"

	backendtypes "flowrelay/pkg/backend/types"
)

// InteractionKind classifies what the user did.
type InteractionKind string

const (
	InteractionText           InteractionKind = "text"
	InteractionButton         InteractionKind = "button"
	InteractionCarouselSwitch InteractionKind = "carousel_switch"
	InteractionUndefined      InteractionKind = "undefined"
)

// Interaction is one user action decoded by a channel.
type Interaction struct {
	Kind    InteractionKind
	Text    string
	Index   int
	Forward bool
	Raw     string
}

func Text(text string) Interaction {
	return Interaction{Kind: InteractionText, Text: text}
}

// Button chooses the button at index of the previously sent block.
func Button(index int) Interaction {
	return Interaction{Kind: InteractionButton, Index: index}
}

// CarouselSwitch moves the previously sent carousel one card forward or back.
func CarouselSwitch(forward bool) Interaction {
	return Interaction{Kind: InteractionCarouselSwitch, Forward: forward}
}

// Undefined wraps input the channel could not classify.
func Undefined(raw string) Interaction {
	return Interaction{Kind: InteractionUndefined, Raw: raw}
}

func (i Interaction) String() string {
	switch i.Kind {
	case InteractionText:
		return "text"
	case InteractionButton:
		return fmt.Sprintf("button(%d)", i.Index)
	case InteractionCarouselSwitch:
		if i.Forward {
			return "carousel(forward)"
		}
		return "carousel(back)"
	case InteractionUndefined:
		return "undefined"
	default:
		return string(i.Kind)
	}
}

// Update is one inbound event from a chat platform.
//
// Time is the platform time of the interaction in unix seconds. Mark carries the
// carousel selection mark echoed back by button and arrow clicks; zero when absent.
type Update struct {
	ChatID      string
	UpdateID    string
	Time        int64
	Interaction Interaction
	Mark        int64
	Variables   backendtypes.Variables
}
