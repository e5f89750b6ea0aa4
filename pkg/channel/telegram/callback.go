package telegram

import (
	"encoding/json"

	"flowrelay/pkg/dispatcher"
)

const (
	arrowBack    = "<--"
	arrowForward = "-->"
)

// callbackData is the inline keyboard payload. Buttons carry an index,
// carousel arrows carry a direction. Carousel payloads also carry the mark of
// the page they were rendered on.
type callbackData struct {
	Index   *int  `json:"i,omitempty"`
	Forward *bool `json:"d,omitempty"`
	Mark    int64 `json:"m,omitempty"`
}

func encodeButton(index int, mark int64) string {
	return encodeCallback(callbackData{Index: &index, Mark: mark})
}

func encodeSwitch(forward bool, mark int64) string {
	return encodeCallback(callbackData{Forward: &forward, Mark: mark})
}

func encodeCallback(data callbackData) string {
	encoded, err := json.Marshal(data)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

// decodeCallback maps callback data back to an interaction and its mark.
func decodeCallback(raw string) (dispatcher.Interaction, int64) {
	var data callbackData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return dispatcher.Undefined(raw), 0
	}

	switch {
	case data.Index != nil && data.Forward == nil:
		return dispatcher.Button(*data.Index), data.Mark
	case data.Forward != nil && data.Index == nil:
		return dispatcher.CarouselSwitch(*data.Forward), data.Mark
	default:
		return dispatcher.Undefined(raw), data.Mark
	}
}
