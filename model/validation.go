package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"tlsn-notary/shared"
)

var messageSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"role"},
	"properties": map[string]interface{}{
		"role": map[string]interface{}{
			"type": "string",
			"enum": []interface{}{"system", "developer", "user", "assistant", "tool"},
		},
		"content": map[string]interface{}{
			"type": []interface{}{"string", "array", "null"},
		},
		"name":         map[string]interface{}{"type": "string"},
		"tool_call_id": map[string]interface{}{"type": "string"},
		"tool_calls":   map[string]interface{}{"type": "array"},
	},
}

var toolSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"type", "function"},
	"properties": map[string]interface{}{
		"type": map[string]interface{}{"const": "function"},
		"function": map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"name"},
			"properties": map[string]interface{}{
				"name":        map[string]interface{}{"type": "string", "minLength": 1},
				"description": map[string]interface{}{"type": "string"},
				"parameters":  map[string]interface{}{"type": "object"},
			},
		},
	},
}

// Compiled schemas by name
var (
	schemaCache = make(map[string]*gojsonschema.Schema)
	schemaMutex sync.RWMutex
)

func compiledSchema(name string, def map[string]interface{}) (*gojsonschema.Schema, error) {
	schemaMutex.RLock()
	compiled, ok := schemaCache[name]
	schemaMutex.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def))
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s schema: %w", name, err)
	}
	schemaMutex.Lock()
	schemaCache[name] = compiled
	schemaMutex.Unlock()
	return compiled, nil
}

// ParseMessages decodes and validates chat messages given as JSON strings
func ParseMessages(raw []string) ([]json.RawMessage, error) {
	return parseAll("messages", messageSchema, raw)
}

// ParseTools decodes and validates tool definitions given as JSON strings
func ParseTools(raw []string) ([]json.RawMessage, error) {
	return parseAll("tools", toolSchema, raw)
}

func parseAll(field string, def map[string]interface{}, raw []string) ([]json.RawMessage, error) {
	schema, err := compiledSchema(field, def)
	if err != nil {
		return nil, err
	}

	out := make([]json.RawMessage, 0, len(raw))
	for i, s := range raw {
		item := fmt.Sprintf("%s[%d]", field, i)
		if !json.Valid([]byte(s)) {
			return nil, shared.NewInputError(item, "invalid JSON", nil)
		}
		result, err := schema.Validate(gojsonschema.NewStringLoader(s))
		if err != nil {
			return nil, shared.NewInputError(item, "validation failed", err)
		}
		if !result.Valid() {
			var b strings.Builder
			for _, e := range result.Errors() {
				if b.Len() > 0 {
					b.WriteString("; ")
				}
				b.WriteString(e.String())
			}
			return nil, shared.NewInputError(item, b.String(), nil)
		}
		// compact so the request body carries no caller whitespace
		var compact bytes.Buffer
		if err := json.Compact(&compact, []byte(s)); err != nil {
			return nil, shared.NewInputError(item, "invalid JSON", err)
		}
		out = append(out, json.RawMessage(compact.Bytes()))
	}
	return out, nil
}
