package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/groupmind/internal/domain"
)

func TestOpenAIClientComplete(t *testing.T) {
	var got chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("unexpected Authorization header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL + "/", APIKey: "sk-test"})
	resp, err := c.Complete(context.Background(), Request{
		Turns: []domain.Turn{{Role: domain.RoleUser, Content: "hello", Name: "alice"}},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if got.Model != DefaultModel {
		t.Errorf("expected model %q, got %q", DefaultModel, got.Model)
	}
	if got.MaxTokens != DefaultMaxTokens {
		t.Errorf("expected max_tokens %d, got %d", DefaultMaxTokens, got.MaxTokens)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected system + user messages, got %+v", got.Messages)
	}
	if got.Messages[0].Role != "system" || got.Messages[0].Content != DefaultSystemPrompt {
		t.Errorf("unexpected system message: %+v", got.Messages[0])
	}
	if got.Messages[1] != (Message{Role: "user", Content: "hello", Name: "alice"}) {
		t.Errorf("unexpected user message: %+v", got.Messages[1])
	}

	if resp.Text() != "hi" {
		t.Errorf("expected text hi, got %q", resp.Text())
	}
	if resp.Usage == nil || *resp.Usage != (Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}) {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestOpenAIClientOverrides(t *testing.T) {
	var got chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL, Model: "gpt-4o", SystemPrompt: "configured"})
	resp, err := c.Complete(context.Background(), Request{
		System: "override",
		Model:  "gpt-4-turbo",
		Turns:  []domain.Turn{{Role: domain.RoleAssistant, Content: "prev", Name: "my bot!"}},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got.Model != "gpt-4-turbo" {
		t.Errorf("expected request model override, got %q", got.Model)
	}
	if got.Messages[0].Content != "override" {
		t.Errorf("expected system override, got %q", got.Messages[0].Content)
	}
	if got.Messages[1].Role != "assistant" || got.Messages[1].Name != "my_bot_" {
		t.Errorf("unexpected assistant message: %+v", got.Messages[1])
	}
	if resp.Usage != nil {
		t.Errorf("expected nil usage when backend omits it, got %+v", resp.Usage)
	}
}

func TestOpenAIClientHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL}).Complete(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOpenAIClientEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL}).Complete(context.Background(), Request{})
	if !errors.Is(err, ErrNoChoices) {
		t.Fatalf("expected ErrNoChoices, got %v", err)
	}
}

func TestWireRoleIsTotal(t *testing.T) {
	tests := map[domain.Role]string{
		domain.RoleSystem:    "system",
		domain.RoleUser:      "user",
		domain.RoleAssistant: "assistant",
	}
	for role, want := range tests {
		if got := wireRole(role); got != want {
			t.Errorf("wireRole(%q) = %q, want %q", role, got, want)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	if got := sanitizeName(""); got != "" {
		t.Errorf("expected empty name to stay empty, got %q", got)
	}
	if got := sanitizeName("john_doe-1"); got != "john_doe-1" {
		t.Errorf("valid name changed: %q", got)
	}
	if got := sanitizeName(strings.Repeat("a", 80)); len(got) != 64 {
		t.Errorf("expected name truncated to 64, got %d", len(got))
	}
}
