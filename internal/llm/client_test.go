package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hochfrequenz/fsm-bench/internal/domain"
)

func TestDecodeState(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"bare tag", "<state>cat</state>", "cat", true},
		{"uppercase tag", "<STATE>dog</STATE>", "dog", true},
		{"surrounding prose", "The answer is <state>frog</state>, I believe.", "frog", true},
		{"first occurrence wins", "<state>cat</state> then <state>dog</state>", "cat", true},
		{"whitespace trimmed", "<state>  cat \n</state>", "cat", true},
		{"no tag", "I am in the cat state", "", false},
		{"unclosed tag", "<state>cat", "", false},
		{"empty response", "", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := DecodeState(tc.raw)
			if ok != tc.ok || got != tc.want {
				t.Errorf("DecodeState(%q) = %q, %v; want %q, %v", tc.raw, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestClient_Complete(t *testing.T) {
	var gotPayload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Fatal(err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "<state>cat</state>"}},
			},
		})
	}))
	defer server.Close()

	client := NewClient(Options{
		BaseURL:   server.URL,
		APIKey:    "test-key",
		Model:     "test-model",
		ExtraBody: map[string]interface{}{"enable_thinking": false},
	})

	raw, err := client.Complete(context.Background(), []domain.Message{
		{Role: domain.RoleSystem, Content: "rules"},
		{Role: domain.RoleUser, Content: "red, blue"},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if raw != "<state>cat</state>" {
		t.Errorf("raw = %q", raw)
	}

	if gotPayload["model"] != "test-model" {
		t.Errorf("payload model = %v", gotPayload["model"])
	}
	if gotPayload["enable_thinking"] != false {
		t.Errorf("extra body not merged: %v", gotPayload)
	}
	msgs, ok := gotPayload["messages"].([]interface{})
	if !ok || len(msgs) != 2 {
		t.Errorf("payload messages = %v, want 2 entries", gotPayload["messages"])
	}
}

func TestClient_CompleteServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL, Model: "m"})
	_, err := client.Complete(context.Background(), nil)
	if err == nil {
		t.Fatal("Complete() error = nil, want non-2xx failure")
	}
}

func TestClient_CompleteNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL, Model: "m"})
	_, err := client.Complete(context.Background(), nil)
	if err == nil {
		t.Fatal("Complete() error = nil, want no-choices failure")
	}
}
