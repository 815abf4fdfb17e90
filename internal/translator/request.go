// Package translator converts between the Anthropic Messages wire format
// spoken by clients and the OpenAI-style chat completions format spoken by
// OpenRouter, in both directions and in both synchronous and streamed modes.
package translator

import (
	"encoding/json"

	"claude-code-proxy/internal/modelmap"
)

// Defaults applied while translating an inbound request.
const (
	defaultMaxTokens   = 1000
	defaultTemperature = 0.7

	// defaultEchoModel is the model name echoed back in responses when the
	// inbound request carried none.
	defaultEchoModel = "claude-3-sonnet-20240229"
)

// MessageRequest models the Anthropic /v1/messages request payload. Messages
// is a pointer so that an absent field is distinguishable from an empty list.
type MessageRequest struct {
	Model       string     `json:"model"`
	Messages    *[]Message `json:"messages"`
	MaxTokens   *int       `json:"max_tokens"`
	Temperature *float64   `json:"temperature"`
	TopP        *float64   `json:"top_p"`
	Stream      *bool      `json:"stream"`
}

// HasMessages reports whether the messages field was present at all.
func (r MessageRequest) HasMessages() bool {
	return r.Messages != nil
}

// WantsStream reports whether the client asked for a streamed response.
func (r MessageRequest) WantsStream() bool {
	return r.Stream != nil && *r.Stream
}

// EchoModel returns the model name to report back to the client: the inbound
// name verbatim, never the resolved upstream identifier.
func (r MessageRequest) EchoModel() string {
	if r.Model == "" {
		return defaultEchoModel
	}
	return r.Model
}

// Message is a single conversational turn. Content accepts either a plain
// string or a list of typed content blocks.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent is the flattened text of a message. Structured block lists
// are collapsed at decode time: text blocks concatenate in order, every other
// block type is dropped.
type MessageContent struct {
	Text string
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// UnmarshalJSON accepts a plain string or a block list. Anything else
// degrades to empty text rather than failing the request.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = text
		return nil
	}

	var blocks []contentBlock
	if err := json.Unmarshal(data, &blocks); err == nil {
		for _, block := range blocks {
			if block.Type == "text" {
				c.Text += block.Text
			}
		}
		return nil
	}

	c.Text = ""
	return nil
}

// ChatRequest is the outbound OpenRouter chat completions payload. TopP and
// Stream are pointers so that absence on the inbound request stays absent on
// the wire.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stream      *bool         `json:"stream,omitempty"`
}

// ChatMessage is one message in the outbound payload.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TranslateRequest converts an Anthropic-format request into an OpenRouter
// chat completions request, resolving the model name through the resolver.
// It never fails: missing fields take defaults and unknown content block
// types contribute no text.
func TranslateRequest(req MessageRequest, resolver *modelmap.Resolver) ChatRequest {
	var inbound []Message
	if req.Messages != nil {
		inbound = *req.Messages
	}

	messages := make([]ChatMessage, 0, len(inbound))
	for _, msg := range inbound {
		role := msg.Role
		if role == "" {
			role = "user"
		}
		messages = append(messages, ChatMessage{
			Role:    role,
			Content: msg.Content.Text,
		})
	}

	model := req.Model
	if model == "" {
		model = modelmap.DefaultModel
	}

	out := ChatRequest{
		Model:       resolver.Resolve(model),
		Messages:    messages,
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}

	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}

	return out
}
