package model

import (
	"encoding/json"
	"fmt"

	"tlsn-notary/redaction"
	"tlsn-notary/shared"
)

// ContentPath selects the assistant reply in a chat-completion body
const ContentPath = "$.choices[0].message.content"

// ToolCallsPath selects the tool calls of the assistant reply
const ToolCallsPath = "$.choices[0].message.tool_calls"

type assistantMessage struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
}

// ExtractAssistantMessage returns {"role":"assistant","content":...} built
// from the first choice of a chat-completion body. A missing content field
// becomes null.
func ExtractAssistantMessage(body []byte) (string, error) {
	if !json.Valid(body) {
		return "", shared.NewInputError("response", "body is not valid JSON", nil)
	}

	content, err := selectRaw(body, ContentPath)
	if err != nil {
		return "", err
	}
	if content == nil {
		content = json.RawMessage("null")
	}
	toolCalls, err := selectRaw(body, ToolCallsPath)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(assistantMessage{Role: "assistant", Content: content, ToolCalls: toolCalls})
	if err != nil {
		return "", fmt.Errorf("failed to encode assistant message: %w", err)
	}
	return string(out), nil
}

// selectRaw returns the verbatim bytes of the first value at path, nil if
// the path selects nothing
func selectRaw(body []byte, path string) (json.RawMessage, error) {
	ranges, err := redaction.LocateJSONValues(body, path)
	if err != nil {
		return nil, shared.NewInputError("response", "cannot read "+path, err)
	}
	if len(ranges) == 0 {
		return nil, nil
	}
	r := ranges[0]
	return json.RawMessage(body[r.Start:r.End]), nil
}
