package dialog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Decoders return (nil, nil) when the payload is well-formed but carries no content.

type rawText struct {
	Message *string `json:"message"`
}

type rawImage struct {
	Image      *string `json:"image"`
	Dimensions *struct {
		Height int `json:"height"`
		Width  int `json:"width"`
	} `json:"dimensions"`
}

type rawButton struct {
	Name    *string `json:"name"`
	Request *struct {
		Type    *string         `json:"type"`
		Payload json.RawMessage `json:"payload"`
	} `json:"request"`
}

type rawAction struct {
	Type    string `json:"type"`
	Payload struct {
		URL string `json:"url"`
	} `json:"payload"`
}

type rawCard struct {
	Title       string `json:"title"`
	ImageURL    string `json:"imageUrl"`
	Description struct {
		Text string `json:"text"`
	} `json:"description"`
	Buttons json.RawMessage `json:"buttons"`
}

type rawCarousel struct {
	Cards []json.RawMessage `json:"cards"`
}

func decodeText(payload json.RawMessage) (Block, error) {
	var raw rawText
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode text payload: %w", err)
	}
	if raw.Message == nil {
		return nil, fmt.Errorf("text payload has no message")
	}

	message := strings.Trim(*raw.Message, `"`)
	if message == "" {
		return nil, nil
	}
	return Text{Message: message}, nil
}

func decodeImage(payload json.RawMessage) (Block, error) {
	var raw rawImage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	if raw.Image == nil {
		return nil, fmt.Errorf("image payload has no image url")
	}
	if *raw.Image == "" {
		return nil, nil
	}

	image := Image{URL: *raw.Image}
	if raw.Dimensions != nil {
		image.Height = raw.Dimensions.Height
		image.Width = raw.Dimensions.Width
	}
	return image, nil
}

func decodeChoice(payload json.RawMessage) (Block, error) {
	var raw struct {
		Buttons json.RawMessage `json:"buttons"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode choice payload: %w", err)
	}
	if len(raw.Buttons) == 0 {
		return nil, fmt.Errorf("choice payload has no buttons")
	}

	buttons, err := decodeButtons(raw.Buttons)
	if err != nil {
		return nil, err
	}
	if len(buttons) == 0 {
		return nil, nil
	}
	return Buttons{Buttons: buttons}, nil
}

func decodeButtons(data json.RawMessage) ([]Button, error) {
	if isNull(data) {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("buttons must be an array: %w", err)
	}

	buttons := make([]Button, 0, len(items))
	for i, item := range items {
		button, err := decodeButton(item)
		if err != nil {
			return nil, fmt.Errorf("button %d: %w", i, err)
		}
		buttons = append(buttons, button)
	}
	return buttons, nil
}

func decodeButton(data json.RawMessage) (Button, error) {
	var raw rawButton
	if err := json.Unmarshal(data, &raw); err != nil {
		return Button{}, fmt.Errorf("decode button: %w", err)
	}
	if raw.Name == nil {
		return Button{}, fmt.Errorf("button has no name")
	}
	if raw.Request == nil {
		return Button{}, fmt.Errorf("button %q has no request", *raw.Name)
	}
	if raw.Request.Type == nil {
		return Button{}, fmt.Errorf("button %q has no request type", *raw.Name)
	}

	payload, actions, err := splitButtonPayload(raw.Request.Payload)
	if err != nil {
		return Button{}, fmt.Errorf("button %q: %w", *raw.Name, err)
	}

	button := Button{
		Name:    truncateRunes(*raw.Name, MaxButtonNameLength),
		Path:    *raw.Request.Type,
		Action:  ButtonAction{Kind: ActionPath},
		Payload: payload,
	}
	for _, action := range actions {
		if action.Type != "open_url" {
			continue
		}
		if action.Payload.URL == "" {
			return Button{}, fmt.Errorf("button %q has an open_url action without url", *raw.Name)
		}
		button.Action = ButtonAction{Kind: ActionOpenURL, URL: action.Payload.URL}
		break
	}

	return button, nil
}

// splitButtonPayload removes the actions key from a request payload.
// Non-object payloads are forwarded as null.
func splitButtonPayload(data json.RawMessage) (json.RawMessage, []rawAction, error) {
	if isNull(data) {
		return json.RawMessage("null"), nil, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return json.RawMessage("null"), nil, nil
	}

	var actions []rawAction
	if rawActions, ok := fields["actions"]; ok {
		if !isNull(rawActions) {
			if err := json.Unmarshal(rawActions, &actions); err != nil {
				return nil, nil, fmt.Errorf("actions must be an array: %w", err)
			}
		}
		delete(fields, "actions")
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, nil, fmt.Errorf("encode payload: %w", err)
	}
	return payload, actions, nil
}

func decodeCard(payload json.RawMessage) (Block, error) {
	card, ok, err := decodeCardValue(payload)
	if err != nil || !ok {
		return nil, err
	}
	return card, nil
}

func decodeCardValue(payload json.RawMessage) (Card, bool, error) {
	var raw rawCard
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Card{}, false, fmt.Errorf("decode card payload: %w", err)
	}

	buttons, err := decodeButtons(raw.Buttons)
	if err != nil {
		return Card{}, false, err
	}

	card := Card{
		ImageURL:    strings.TrimSpace(raw.ImageURL),
		Title:       strings.TrimSpace(raw.Title),
		Description: strings.TrimSpace(raw.Description.Text),
		Buttons:     buttons,
	}

	if card.Title == "" && card.Description == "" {
		if card.ImageURL == "" && len(card.Buttons) == 0 {
			return Card{}, false, nil
		}
		card.Title = CardPlaceholderTitle
	}

	return card, true, nil
}

func decodeCarousel(payload json.RawMessage) (Block, error) {
	var raw rawCarousel
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode carousel payload: %w", err)
	}
	if raw.Cards == nil {
		return nil, fmt.Errorf("carousel payload has no cards")
	}

	cards := make([]Card, 0, len(raw.Cards))
	for i, item := range raw.Cards {
		card, ok, err := decodeCardValue(item)
		if err != nil {
			return nil, fmt.Errorf("card %d: %w", i, err)
		}
		if ok {
			cards = append(cards, card)
		}
	}
	if len(cards) == 0 {
		return nil, nil
	}

	return NewCarousel(cards)
}

func isNull(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}
