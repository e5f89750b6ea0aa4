package dialog

import (
	"encoding/json"
	"log/slog"
)

// EventType is the block discriminator of one raw backend event.
type EventType string

const (
	EventText     EventType = "text"
	EventChoice   EventType = "choice"
	EventCard     EventType = "card"
	EventImage    EventType = "image"
	EventCarousel EventType = "carousel"
	EventEnd      EventType = "end"
	EventUnknown  EventType = "unknown"
)

// RawEvent is one backend event before conversion.
type RawEvent struct {
	Type    EventType
	Payload json.RawMessage
}

// ParseEventType maps backend trace types onto event types.
func ParseEventType(traceType string) EventType {
	switch traceType {
	case "text", "speak":
		return EventText
	case "choice":
		return EventChoice
	case "cardV2", "card":
		return EventCard
	case "visual", "image":
		return EventImage
	case "carousel":
		return EventCarousel
	case "end":
		return EventEnd
	default:
		return EventUnknown
	}
}

// Assemble converts raw events into a message in one forward pass.
//
// A text or image is held back as pending so that an immediately following
// choice can carry it as its context. Any other content event flushes it first.
// Cards and carousels are pushed directly. End terminates the turn: it is
// always the last block and anything the backend streams after it is dropped.
// Unknown events are skipped and leave the pending block untouched.
// Conversion failures become visible error text and assembly continues.
func Assemble(events []RawEvent) Message {
	log := assemblyLogger()
	var message Message
	var pending Block

	flush := func() {
		if pending != nil {
			message.Push(pending)
			pending = nil
		}
	}

loop:
	for _, event := range events {
		switch event.Type {
		case EventChoice:
			block, err := decodeChoice(event.Payload)
			if err != nil {
				log.Warn("Dropping malformed block", "type", event.Type, "error", err)
				flush()
				message.Push(conversionErrorText(KindButtons))
				continue
			}
			if block == nil {
				continue
			}
			buttons := block.(Buttons)
			buttons.Context = pending
			pending = nil
			message.Push(buttons)
		case EventText, EventImage:
			flush()
			decode := decodeText
			kind := KindText
			if event.Type == EventImage {
				decode = decodeImage
				kind = KindImage
			}
			block, err := decode(event.Payload)
			if err != nil {
				log.Warn("Dropping malformed block", "type", event.Type, "error", err)
				message.Push(conversionErrorText(kind))
				continue
			}
			pending = block
		case EventCard:
			flush()
			block, err := decodeCard(event.Payload)
			if err != nil {
				log.Warn("Dropping malformed block", "type", event.Type, "error", err)
				message.Push(conversionErrorText(KindCard))
				continue
			}
			if block != nil {
				message.Push(block)
			}
		case EventCarousel:
			flush()
			block, err := decodeCarousel(event.Payload)
			if err != nil {
				log.Warn("Dropping malformed block", "type", event.Type, "error", err)
				message.Push(conversionErrorText(KindCarousel))
				continue
			}
			if block != nil {
				message.Push(block)
			}
		case EventEnd:
			flush()
			message.Push(End{})
			break loop
		default:
			log.Debug("Skipping unknown event")
		}
	}

	flush()
	return message
}

func conversionErrorText(kind Kind) Text {
	return Text{Message: "Invalid " + string(kind) + " block format"}
}

func assemblyLogger() *slog.Logger {
	return slog.Default().With("component", "dialog.assemble")
}
