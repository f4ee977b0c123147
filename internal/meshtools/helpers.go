// Package meshtools provides the MCP tool handlers for the coordination
// layer.
//
// Each tool handler follows the same pattern:
// - A struct with dependencies injected via constructor
// - Definition() returns the mcp.Tool schema
// - Handle() processes the request and returns a result
//
// Handler failures are returned as tool error results, never as Go errors,
// so a broker outage or a bad argument degrades to a readable message
// instead of a protocol fault.
package meshtools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"crewmesh/internal/store"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// findingsArg decodes the findings argument, accepting either a JSON array
// value or a JSON-encoded string of one.
func findingsArg(req mcp.CallToolRequest, key string) ([]store.Finding, error) {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return nil, nil
	}

	var data []byte
	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		data = []byte(v)
	default:
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("invalid findings value: %w", err)
		}
	}

	var findings []store.Finding
	if err := json.Unmarshal(data, &findings); err != nil {
		return nil, fmt.Errorf("findings must be a JSON array of {severity, location, message, suggestion}: %w", err)
	}
	return findings, nil
}

// stringSliceArg decodes a list argument, accepting a JSON array value or a
// comma-separated string.
func stringSliceArg(req mcp.CallToolRequest, key string) []string {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return nil
	}

	switch v := raw.(type) {
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// fieldsArg decodes an optional string-to-string map argument, accepting a
// JSON object value or a JSON-encoded string of one.
func fieldsArg(req mcp.CallToolRequest, key string) (map[string]string, error) {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return nil, nil
	}

	var data []byte
	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		data = []byte(v)
	default:
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value: %w", key, err)
		}
	}

	var fields map[string]string
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%s must be a JSON object of string fields: %w", key, err)
	}
	return fields, nil
}
