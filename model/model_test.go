package model

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"tlsn-notary/shared"
)

var testMessages = []string{
	`{
		"role": "user",
		"content": "hi im bob! and i live in sf"
	}`,
	`{"role": "assistant", "content": "Hi Bob! It's great to meet you. How can I assist you today?"}`,
	`{"role": "user", "content": "whats the weather where I live?"}`,
}

var testTools = []string{`{
	"type": "function",
	"function": {
		"name": "tavily_search_results_json",
		"description": "A search engine optimized for comprehensive, accurate, and trusted results.",
		"parameters": {
			"properties": {"query": {"description": "search query to look up", "type": "string"}},
			"required": ["query"],
			"type": "object"
		}
	}
}`}

func TestParseMessages(t *testing.T) {
	msgs, err := ParseMessages(testMessages)
	if err != nil {
		t.Fatalf("ParseMessages failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(msgs))
	}
	if strings.ContainsAny(string(msgs[0]), "\n\t") {
		t.Errorf("Expected compacted message, got %s", msgs[0])
	}

	var second struct{ Content string }
	if err := json.Unmarshal(msgs[1], &second); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if second.Content != "Hi Bob! It's great to meet you. How can I assist you today?" {
		t.Errorf("Unexpected content %q", second.Content)
	}

	tests := []struct {
		name  string
		input string
	}{
		{"InvalidJSON", `{"role": "user",`},
		{"MissingRole", `{"content": "hi"}`},
		{"UnknownRole", `{"role": "narrator", "content": "hi"}`},
		{"NotAnObject", `["user", "hi"]`},
		{"NumericContent", `{"role": "user", "content": 42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessages([]string{testMessages[0], tt.input})
			var inputErr *shared.InputError
			if !errors.As(err, &inputErr) {
				t.Fatalf("Expected InputError, got %v", err)
			}
			if inputErr.Field != "messages[1]" {
				t.Errorf("Expected field messages[1], got %s", inputErr.Field)
			}
		})
	}
}

func TestParseTools(t *testing.T) {
	tools, err := ParseTools(testTools)
	if err != nil {
		t.Fatalf("ParseTools failed: %v", err)
	}
	var tool struct {
		Function struct{ Name string }
	}
	if err := json.Unmarshal(tools[0], &tool); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if tool.Function.Name != "tavily_search_results_json" {
		t.Errorf("Expected tool name tavily_search_results_json, got %s", tool.Function.Name)
	}

	if _, err := ParseTools([]string{`{"type": "function", "function": {}}`}); err == nil {
		t.Error("Expected error for tool without name")
	}
	if _, err := ParseTools([]string{`{"type": "retrieval", "function": {"name": "x"}}`}); err == nil {
		t.Error("Expected error for non-function tool")
	}
	if tools, err := ParseTools(nil); err != nil || len(tools) != 0 {
		t.Errorf("Expected empty tools, got %v, %v", tools, err)
	}
}

func TestBuildChatRequest(t *testing.T) {
	msgs, _ := ParseMessages(testMessages)
	tools, _ := ParseTools(testTools)
	topP, temp := 0.85, 0.3

	req, err := BuildChatRequest(
		Endpoint{Domain: "api.red-pill.ai", Route: "v1/chat/completions", APIKey: "sk-test"},
		ChatParams{Model: "gpt-4o", SetupPrompt: "BE HELPFUL", Messages: msgs, Tools: tools, TopP: &topP, Temperature: &temp},
	)
	if err != nil {
		t.Fatalf("BuildChatRequest failed: %v", err)
	}

	if req.Method != "POST" {
		t.Errorf("Expected POST, got %s", req.Method)
	}
	if req.URL.Path != "/v1/chat/completions" {
		t.Errorf("Expected route /v1/chat/completions, got %s", req.URL.Path)
	}
	if req.Host != "api.red-pill.ai" {
		t.Errorf("Expected host api.red-pill.ai, got %s", req.Host)
	}
	headers := map[string]string{
		"Authorization":   "Bearer sk-test",
		"Accept-Encoding": "identity",
		"Connection":      "close",
		"Content-Type":    "application/json",
	}
	for name, want := range headers {
		if got := req.Header.Get(name); got != want {
			t.Errorf("Expected %s %q, got %q", name, want, got)
		}
	}

	body, _ := io.ReadAll(req.Body)
	var decoded struct {
		Model    string
		Messages []struct{ Role, Content string }
		Tools    []json.RawMessage
		TopP     float64 `json:"top_p"`
		Temp     float64 `json:"temperature"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if decoded.Model != "gpt-4o" {
		t.Errorf("Expected model gpt-4o, got %s", decoded.Model)
	}
	if len(decoded.Messages) != 4 || decoded.Messages[0].Role != "system" || decoded.Messages[0].Content != "BE HELPFUL" {
		t.Errorf("Expected setup prompt as leading system message, got %+v", decoded.Messages)
	}
	if len(decoded.Tools) != 1 || decoded.TopP != 0.85 || decoded.Temp != 0.3 {
		t.Errorf("Unexpected tools/sampling params in %s", body)
	}

	t.Run("OptionalFieldsOmitted", func(t *testing.T) {
		req, err := BuildChatRequest(Endpoint{Domain: "api.example.com", Route: "/v1/chat/completions"}, ChatParams{Model: "m", Messages: msgs})
		if err != nil {
			t.Fatalf("BuildChatRequest failed: %v", err)
		}
		body, _ := io.ReadAll(req.Body)
		for _, field := range []string{"tools", "top_p", "temperature", "system"} {
			if strings.Contains(string(body), field) {
				t.Errorf("Expected %q to be omitted from %s", field, body)
			}
		}
		if req.Header.Get("Authorization") != "" {
			t.Error("Expected no Authorization header without an API key")
		}
	})

	t.Run("MissingModel", func(t *testing.T) {
		if _, err := BuildChatRequest(Endpoint{Domain: "api.example.com"}, ChatParams{}); err == nil {
			t.Error("Expected error for missing model")
		}
	})
}

func TestExtractAssistantMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			"Content",
			`{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"Sunny in SF"}}]}`,
			`{"role":"assistant","content":"Sunny in SF"}`,
		},
		{
			"ToolCalls",
			`{"choices":[{"message":{"role":"assistant","content":null,"tool_calls":[{"id":"c1"}]}}]}`,
			`{"role":"assistant","content":null,"tool_calls":[{"id":"c1"}]}`,
		},
		{
			"NoChoices",
			`{"choices":[]}`,
			`{"role":"assistant","content":null}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractAssistantMessage([]byte(tt.body))
			if err != nil {
				t.Fatalf("ExtractAssistantMessage failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}

	if _, err := ExtractAssistantMessage([]byte("not json")); err == nil {
		t.Error("Expected error for invalid body")
	}
}
