package voiceflow

import (
	"encoding/json"
	"fmt"
	"net/http"

	"flowrelay/pkg/dialog"

	"github.com/openai/openai-go/v3/packages/ssestream"
)

const maxStreamSize = 4 << 20

type streamEvent struct {
	Trace *struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	} `json:"trace"`
}

// parseStream decodes the server-sent event body of resp and returns the trace
// events it carries. Events that are not JSON or carry an unsupported trace type are skipped.
func parseStream(resp *http.Response) ([]dialog.RawEvent, error) {
	resp.Body = http.MaxBytesReader(nil, resp.Body, maxStreamSize)
	stream := ssestream.NewDecoder(resp)
	defer stream.Close()

	var events []dialog.RawEvent
	for stream.Next() {
		if event, ok := decodeEvent(stream.Event().Data); ok {
			events = append(events, event)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}

	return events, nil
}

func decodeEvent(data []byte) (dialog.RawEvent, bool) {
	var event streamEvent
	if err := json.Unmarshal(data, &event); err != nil || event.Trace == nil {
		return dialog.RawEvent{}, false
	}

	eventType := dialog.ParseEventType(event.Trace.Type)
	if eventType == dialog.EventUnknown {
		return dialog.RawEvent{}, false
	}

	return dialog.RawEvent{Type: eventType, Payload: event.Trace.Payload}, true
}
