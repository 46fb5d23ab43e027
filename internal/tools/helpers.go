package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/FiligranHQ/xtm-mcp/internal/graphql"
)

// ToJSON converts a value to JSON string without HTML escaping
func ToJSON(v interface{}) string {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false) // GraphQL text contains <, > and &

	if err := encoder.Encode(v); err != nil {
		return fmt.Sprintf("{\"error\": \"failed to marshal JSON: %v\"}", err)
	}

	// encoder.Encode() adds a trailing newline, trim it
	return strings.TrimSuffix(buf.String(), "\n")
}

// SuccessResult creates a successful tool result
func SuccessResult(data interface{}) *mcp.CallToolResult {
	return mcp.NewToolResultText(ToJSON(data))
}

// ErrorResult creates an error tool result carrying "Error: <message>"
func ErrorResult(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError("Error: " + message)
}

// ErrorResultf creates an error tool result with formatting
func ErrorResultf(format string, args ...interface{}) *mcp.CallToolResult {
	return ErrorResult(fmt.Sprintf(format, args...))
}

// ErrorText renders err for a text-shaped tool failure. Invalid arguments
// report only their reason.
func ErrorText(err error) string {
	var invalid *graphql.InvalidArgumentError
	if errors.As(err, &invalid) {
		return invalid.Reason
	}
	return err.Error()
}

// ErrorFromErr converts err into a text-shaped tool failure.
func ErrorFromErr(err error) *mcp.CallToolResult {
	return ErrorResult(ErrorText(err))
}

// GetString returns a trimmed string argument, or "" when absent or not a string.
func GetString(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

// StringOrList widens a string property so the advertised schema also
// accepts an array of strings, matching what ParseStringList reads.
func StringOrList() mcp.PropertyOption {
	return func(schema map[string]any) {
		schema["type"] = []string{"string", "array"}
		schema["items"] = map[string]any{"type": "string"}
	}
}

// ParseStringList resolves a "one name or many" argument. It accepts a
// string, a JSON-encoded array of strings, or an array of strings.
func ParseStringList(arg string, v interface{}) ([]string, error) {
	invalid := graphql.NewInvalidArgument(arg, arg+" must be a string or array of strings")

	switch val := v.(type) {
	case nil:
		return nil, graphql.NewInvalidArgument(arg, arg+" is required")
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return nil, graphql.NewInvalidArgument(arg, arg+" is required")
		}
		if strings.HasPrefix(trimmed, "[") {
			var decoded []interface{}
			if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
				return ParseStringList(arg, decoded)
			}
		}
		return []string{trimmed}, nil
	case []string:
		return ParseStringList(arg, toInterfaces(val))
	case []interface{}:
		if len(val) == 0 {
			return nil, graphql.NewInvalidArgument(arg, arg+" is required")
		}
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, invalid
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil, graphql.NewInvalidArgument(arg, arg+" is required")
		}
		return out, nil
	}
	return nil, invalid
}

func toInterfaces(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
