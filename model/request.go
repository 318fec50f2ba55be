// Package model formats chat-completion requests for an OpenAI-compatible
// model API and reads the assistant's reply out of the response.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Endpoint identifies the model API a request is sent to
type Endpoint struct {
	Domain string
	Route  string
	APIKey string
}

// ChatParams is the content of one chat-completion request
type ChatParams struct {
	Model       string
	SetupPrompt string // sent as a leading system message when set
	Messages    []json.RawMessage
	Tools       []json.RawMessage
	TopP        *float64
	Temperature *float64
}

type chatBody struct {
	Model       string            `json:"model"`
	Messages    []json.RawMessage `json:"messages"`
	Tools       []json.RawMessage `json:"tools,omitempty"`
	TopP        *float64          `json:"top_p,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
}

// BuildChatRequest builds the POST request for the inference route. The
// request asks for an identity-encoded body and a closed connection so the
// whole exchange fits one notarized TLS session.
func BuildChatRequest(ep Endpoint, params ChatParams) (*http.Request, error) {
	if ep.Domain == "" {
		return nil, fmt.Errorf("model API domain is required")
	}
	if params.Model == "" {
		return nil, fmt.Errorf("model id is required")
	}

	messages := make([]json.RawMessage, 0, len(params.Messages)+1)
	if params.SetupPrompt != "" {
		system, err := json.Marshal(map[string]string{"role": "system", "content": params.SetupPrompt})
		if err != nil {
			return nil, fmt.Errorf("failed to encode setup prompt: %w", err)
		}
		messages = append(messages, system)
	}
	messages = append(messages, params.Messages...)

	body, err := json.Marshal(chatBody{
		Model:       params.Model,
		Messages:    messages,
		Tools:       params.Tools,
		TopP:        params.TopP,
		Temperature: params.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	route := ep.Route
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	req, err := http.NewRequest(http.MethodPost, "https://"+ep.Domain+route, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Host = ep.Domain
	req.Close = true
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("Connection", "close")
	req.Header.Set("Content-Type", "application/json")
	if ep.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}
	return req, nil
}
