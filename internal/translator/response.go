package translator

import (
	"encoding/json"
	"fmt"
	"io"
)

// MalformedUpstreamError reports a 2xx upstream response whose payload is
// structurally unusable.
type MalformedUpstreamError struct {
	Detail string
}

func (e *MalformedUpstreamError) Error() string {
	return e.Detail
}

// UpstreamPayloadError reports an error object embedded in an otherwise
// successful upstream response body.
type UpstreamPayloadError struct {
	Detail string
}

func (e *UpstreamPayloadError) Error() string {
	return fmt.Sprintf("OpenRouter API error: %s", e.Detail)
}

// ChatResponse models the non-streaming OpenRouter chat completions response.
type ChatResponse struct {
	Choices []ChatChoice    `json:"choices"`
	Usage   *ChatUsage      `json:"usage"`
	Error   json.RawMessage `json:"error"`
}

// ChatChoice is one completion alternative; only index 0 is consulted.
type ChatChoice struct {
	Message      ChoiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// ChoiceMessage carries the generated text. Reasoning is a fallback content
// source used by models that put their output there instead.
type ChoiceMessage struct {
	Content   string `json:"content"`
	Reasoning string `json:"reasoning"`
}

// ChatUsage mirrors the upstream token accounting block.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// MessageResponse models the Anthropic /v1/messages response payload.
type MessageResponse struct {
	ID           string      `json:"id"`
	Type         string      `json:"type"`
	Role         string      `json:"role"`
	Content      []TextBlock `json:"content"`
	Model        string      `json:"model"`
	StopReason   string      `json:"stop_reason"`
	StopSequence *string     `json:"stop_sequence"`
	Usage        Usage       `json:"usage"`
}

// TextBlock is a text content block in the response.
type TextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Usage reports token counts in Anthropic naming.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// DecodeResponse parses an upstream response body, classifying unparseable
// JSON as a malformed upstream payload.
func DecodeResponse(r io.Reader) (ChatResponse, error) {
	var resp ChatResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return ChatResponse{}, &MalformedUpstreamError{Detail: "Invalid JSON response from OpenRouter"}
	}
	return resp, nil
}

// TranslateResponse converts a complete upstream response into an
// Anthropic-format message. originalModel is echoed verbatim; the resolved
// upstream identifier never leaks back to the client.
func TranslateResponse(resp ChatResponse, originalModel string) (MessageResponse, error) {
	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		return MessageResponse{}, &UpstreamPayloadError{Detail: string(resp.Error)}
	}

	if len(resp.Choices) == 0 {
		return MessageResponse{}, &MalformedUpstreamError{
			Detail: "Unexpected response format from OpenRouter - missing 'choices' field",
		}
	}

	choice := resp.Choices[0]
	content := choice.Message.Content
	if content == "" {
		content = choice.Message.Reasoning
	}
	if content == "" {
		return MessageResponse{}, &MalformedUpstreamError{
			Detail: "Unexpected message format from OpenRouter - missing content",
		}
	}

	stopReason := "end_turn"
	if choice.FinishReason == "length" {
		stopReason = "max_tokens"
	}

	var usage Usage
	if resp.Usage != nil {
		usage.InputTokens = resp.Usage.PromptTokens
		usage.OutputTokens = resp.Usage.CompletionTokens
	}

	return MessageResponse{
		ID:         NewMessageID(),
		Type:       "message",
		Role:       "assistant",
		Content:    []TextBlock{{Type: "text", Text: content}},
		Model:      originalModel,
		StopReason: stopReason,
		Usage:      usage,
	}, nil
}
