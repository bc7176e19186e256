package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fawad-mazhar/syros/internal/models"
)

func sampleTask() models.Task {
	return models.Task{
		ID:         1,
		Fields:     map[string]string{"en": "hello", "ru": "привет"},
		Context:    "Prev: greetings",
		TargetLang: "zh-CN",
	}
}

func chatServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "sk-test",
		Model:   "test-model",
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestTranslateHappyPath(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq chatRequest

	c := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "  你好  "}},
			},
		})
	})

	out, err := c.Translate(context.Background(), sampleTask())
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if out != "你好" {
		t.Fatalf("expected trimmed output, got %q", out)
	}
	if gotPath != "/v1/chat/completions" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotReq.Model != "test-model" || len(gotReq.Messages) != 2 {
		t.Fatalf("unexpected request: %+v", gotReq)
	}
	if !strings.Contains(gotReq.Messages[1].Content, "привет") {
		t.Fatal("user prompt should carry the source fields")
	}
	if !strings.Contains(gotReq.Messages[0].Content, "zh-CN") {
		t.Fatal("system prompt should carry the target language")
	}
}

func TestUserPromptStableAcrossFieldOrder(t *testing.T) {
	a := userPrompt(models.Task{Fields: map[string]string{"a": "1", "b": "2", "c": "3"}})
	b := userPrompt(models.Task{Fields: map[string]string{"c": "3", "a": "1", "b": "2"}})
	if a != b {
		t.Fatal("prompt must not depend on map iteration order")
	}
}

func TestTranslate429IsRateLimited(t *testing.T) {
	c := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit exceeded"}}`))
	})

	_, err := c.Translate(context.Background(), sampleTask())
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindRateLimited {
		t.Fatalf("expected rate_limited, got %v", KindOf(err))
	}
}

func TestTranslate500IsTransient(t *testing.T) {
	c := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.Translate(context.Background(), sampleTask())
	if KindOf(err) != KindTransient {
		t.Fatalf("expected transient, got %v", KindOf(err))
	}
}

func TestTranslateEmptyChoices(t *testing.T) {
	c := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})

	_, err := c.Translate(context.Background(), sampleTask())
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
	if KindOf(err) != KindPermanent {
		t.Fatalf("expected permanent, got %v", KindOf(err))
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{Model: "m"}); err == nil {
		t.Fatal("expected error for missing base URL")
	}
	if _, err := NewClient(Config{BaseURL: "http://x"}); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestEnsureV1(t *testing.T) {
	cases := map[string]string{
		"https://api.example.com":     "https://api.example.com/v1",
		"https://api.example.com/":    "https://api.example.com/v1",
		"https://api.example.com/v1":  "https://api.example.com/v1",
		"https://api.example.com/v1/": "https://api.example.com/v1",
	}
	for in, want := range cases {
		if got := ensureV1(in); got != want {
			t.Errorf("ensureV1(%q) = %q, want %q", in, got, want)
		}
	}
}
