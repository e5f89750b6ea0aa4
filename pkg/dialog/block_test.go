package dialog

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"flowrelay/pkg/fault"
)

func TestButtonAtValidatesIndex(t *testing.T) {
	block := Buttons{Buttons: []Button{{Name: "A", Path: "a"}, {Name: "B", Path: "b"}}}

	button, err := ButtonAt(block, 1)
	if err != nil {
		t.Fatalf("ButtonAt(1): %v", err)
	}
	if button.Path != "b" {
		t.Fatalf("path = %q, want b", button.Path)
	}

	for _, index := range []int{2, -1} {
		if _, err := ButtonAt(block, index); !errors.Is(err, fault.ErrValidation) {
			t.Fatalf("ButtonAt(%d) error = %v, want validation", index, err)
		}
	}
}

func TestButtonAtRejectsBlocksWithoutButtons(t *testing.T) {
	for _, block := range []Block{nil, Text{Message: "hi"}, Card{Title: "plain"}, Buttons{}} {
		if _, err := ButtonAt(block, 0); !errors.Is(err, fault.ErrValidation) {
			t.Fatalf("ButtonAt(%s) error = %v, want validation", Describe(block), err)
		}
	}
}

func TestDecodeButtonOpenURLAndPayload(t *testing.T) {
	raw := json.RawMessage(`{"name":"Site","request":{"type":"path-1","payload":{"label":"Site","actions":[{"type":"open_url","payload":{"url":"https://example.com"}}]}}}`)

	button, err := decodeButton(raw)
	if err != nil {
		t.Fatalf("decodeButton: %v", err)
	}
	url, ok := button.URL()
	if !ok || url != "https://example.com" {
		t.Fatalf("URL = %q/%v, want example.com", url, ok)
	}
	if string(button.Payload) != `{"label":"Site"}` {
		t.Fatalf("payload = %s, want actions removed", button.Payload)
	}
}

func TestDecodeButtonRejectsOpenURLWithoutURL(t *testing.T) {
	raw := json.RawMessage(`{"name":"Site","request":{"type":"p","payload":{"actions":[{"type":"open_url","payload":{}}]}}}`)

	if _, err := decodeButton(raw); err == nil {
		t.Fatal("expected error for open_url without url")
	}
}

func TestDecodeButtonTruncatesName(t *testing.T) {
	name := strings.Repeat("я", MaxButtonNameLength+10)
	raw, _ := json.Marshal(map[string]any{"name": name, "request": map[string]any{"type": "p"}})

	button, err := decodeButton(raw)
	if err != nil {
		t.Fatalf("decodeButton: %v", err)
	}
	if got := len([]rune(button.Name)); got != MaxButtonNameLength {
		t.Fatalf("name runes = %d, want %d", got, MaxButtonNameLength)
	}
	if string(button.Payload) != "null" {
		t.Fatalf("payload = %s, want null", button.Payload)
	}
}

func TestCardCaption(t *testing.T) {
	cases := []struct {
		card Card
		want string
	}{
		{Card{Title: "T", Description: "D"}, "T\n\nD"},
		{Card{Title: "T"}, "T"},
		{Card{Description: "D"}, "D"},
	}
	for _, tc := range cases {
		if got := tc.card.Caption(); got != tc.want {
			t.Fatalf("Caption(%+v) = %q, want %q", tc.card, got, tc.want)
		}
	}
}
