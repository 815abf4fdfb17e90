package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"claude-code-proxy/internal/translator"
)

func TestChatCompletionHeaders(t *testing.T) {
	var gotAuth, gotReferer, gotTitle, gotContentType string
	var gotBody translator.ChatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReferer = r.Header.Get("HTTP-Referer")
		gotTitle = r.Header.Get("X-Title")
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	client, err := New(srv.URL, "sk-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := client.ChatCompletion(context.Background(), translator.ChatRequest{
		Model:    "openai/gpt-oss-120b:free",
		Messages: []translator.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotReferer != "https://your-site.com" {
		t.Errorf("HTTP-Referer = %q", gotReferer)
	}
	if gotTitle != "Claude Code Proxy" {
		t.Errorf("X-Title = %q", gotTitle)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if gotBody.Model != "openai/gpt-oss-120b:free" {
		t.Errorf("body model = %q", gotBody.Model)
	}
}

func TestChatCompletionErrorParsing(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantType    string
		wantMessage string
	}{
		{
			name:        "structured error",
			status:      http.StatusTooManyRequests,
			body:        `{"error":{"message":"rate limited","type":"rate_limit_error"}}`,
			wantType:    "rate_limit_error",
			wantMessage: "rate limited",
		},
		{
			name:        "plain text error",
			status:      http.StatusBadGateway,
			body:        "upstream exploded",
			wantType:    "api_error",
			wantMessage: "upstream exploded",
		},
		{
			name:        "empty body",
			status:      http.StatusServiceUnavailable,
			body:        "",
			wantType:    "api_error",
			wantMessage: "Unknown error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			client, err := New(srv.URL, "sk-test")
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			_, err = client.ChatCompletion(context.Background(), translator.ChatRequest{})
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", apiErr.Type, tt.wantType)
			}
			if apiErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMessage)
			}
		})
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New("", "key"); err == nil {
		t.Error("New accepted empty endpoint")
	}
	if _, err := New("http://example.com", ""); err == nil {
		t.Error("New accepted empty api key")
	}
}
