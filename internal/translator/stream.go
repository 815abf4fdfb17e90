package translator

import (
	"encoding/json"
	"strings"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

type streamState int

const (
	stateStart streamState = iota
	stateStreaming
	stateDone
)

// streamChunk is the slice of an upstream streaming chunk we care about.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// StreamTranslator consumes upstream SSE lines one at a time and produces
// Anthropic-format frames: one message_start, zero or more
// content_block_delta, one message_stop, then the terminal sentinel. Upstream
// chunk boundaries are preserved 1:1; nothing is buffered or coalesced.
//
// A translator handles exactly one response stream and is not safe for
// concurrent use.
type StreamTranslator struct {
	messageID string
	model     string
	state     streamState
}

// NewStreamTranslator creates a translator bound to a message id and the
// client's original model name.
func NewStreamTranslator(messageID, model string) *StreamTranslator {
	return &StreamTranslator{
		messageID: messageID,
		model:     model,
	}
}

// MessageID returns the identifier stamped on every frame of this stream.
func (t *StreamTranslator) MessageID() string {
	return t.messageID
}

// MessageStart returns the opening frame and moves the translator into its
// streaming state.
func (t *StreamTranslator) MessageStart() []byte {
	t.state = stateStreaming
	return encodeFrame(map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            t.messageID,
			"type":          "message",
			"role":          "assistant",
			"model":         t.model,
			"content":       []map[string]any{{"type": "text", "text": ""}},
			"stop_reason":   nil,
			"stop_sequence": nil,
		},
	})
}

// Translate consumes one upstream SSE line and returns at most one downstream
// frame. Lines without the data prefix, unparseable payloads, and empty
// deltas produce nothing. The done sentinel produces the message_stop frame
// and moves the translator to its terminal state.
func (t *StreamTranslator) Translate(line string) ([]byte, bool) {
	if t.state != stateStreaming {
		return nil, false
	}

	if !strings.HasPrefix(line, dataPrefix) {
		return nil, false
	}
	payload := line[len(dataPrefix):]

	if payload == doneSentinel {
		t.state = stateDone
		return encodeFrame(map[string]any{
			"type": "message_stop",
			"message": map[string]any{
				"id":            t.messageID,
				"stop_reason":   "end_turn",
				"stop_sequence": nil,
			},
		}), true
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return nil, false
	}
	if len(chunk.Choices) == 0 {
		return nil, false
	}

	text := chunk.Choices[0].Delta.Content
	if text == "" {
		return nil, false
	}

	return encodeFrame(map[string]any{
		"type":  "content_block_delta",
		"index": 0,
		"delta": map[string]any{
			"type": "text_delta",
			"text": text,
		},
	}), true
}

// Done reports whether the upstream done sentinel has been seen.
func (t *StreamTranslator) Done() bool {
	return t.state == stateDone
}

// ErrorFrame renders a failure as an in-band frame. Used once response
// headers are committed and an HTTP status can no longer carry the error.
func (t *StreamTranslator) ErrorFrame(err error) []byte {
	return encodeFrame(map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    "internal_error",
			"message": err.Error(),
		},
	})
}

// TerminalFrame is the transport-level sentinel closing every stream,
// whether it ended normally or not.
func TerminalFrame() []byte {
	return []byte("data: [DONE]\n\n")
}

func encodeFrame(payload map[string]any) []byte {
	// Fixed shapes of strings and nils; marshaling cannot fail.
	data, _ := json.Marshal(payload)
	return append(data, '\n', '\n')
}
