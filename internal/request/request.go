// Package request turns a raw tool invocation into a normalized access
// request using a single static alias table.
package request

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/clawinfra/toolgate/internal/significance"
)

// ErrMissingTool is returned when a request does not name a tool.
var ErrMissingTool = errors.New("request: missing tool name")

// Category is the resource class an action touches.
type Category string

const (
	CategoryFilesystem Category = "filesystem"
	CategoryShell      Category = "shell"
	CategoryNetwork    Category = "network"
	CategoryEnv        Category = "env"
	CategoryCapability Category = "capability"
	CategoryUnknown    Category = "unknown"
)

// Operation is what the action does to the resource.
type Operation string

const (
	OpRead    Operation = "read"
	OpWrite   Operation = "write"
	OpExecute Operation = "execute"
	OpAccess  Operation = "access"
	OpInvoke  Operation = "invoke"
)

// Access is one concrete request against a security profile.
type Access struct {
	Category  Category  `json:"category"`
	Operation Operation `json:"operation"`
	Argument  string    `json:"argument"`
	Caller    string    `json:"caller,omitempty"`
}

func (a Access) String() string {
	return fmt.Sprintf("%s/%s %q", a.Category, a.Operation, a.Argument)
}

// ToolRequest is the wire form an agent submits for authorization.
type ToolRequest struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Caller     string         `json:"caller,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// Normalized is a ToolRequest resolved against the alias table.
type Normalized struct {
	Access     Access
	Tool       string
	Parameters map[string]any
	Context    map[string]any

	// Change describes the edit for filesystem writes, nil otherwise.
	Change *significance.Change
	// WholeFile is set when Change.After replaces the entire file and
	// Change.Before still has to be read from disk.
	WholeFile bool
}

// Normalize resolves req into a Normalized request. Unknown tools map to
// CategoryUnknown so that every request still receives a decision.
func Normalize(req ToolRequest) (*Normalized, error) {
	tool := strings.TrimSpace(req.Tool)
	if tool == "" {
		return nil, ErrMissingTool
	}

	n := &Normalized{
		Tool:       tool,
		Parameters: req.Parameters,
		Context:    req.Context,
	}
	if n.Parameters == nil {
		n.Parameters = map[string]any{}
	}
	if n.Context == nil {
		n.Context = map[string]any{}
	}

	spec, ok := lookup(tool)
	if !ok {
		n.Access = Access{Category: CategoryUnknown, Operation: OpAccess, Argument: tool, Caller: req.Caller}
		return n, nil
	}

	arg := firstString(n.Parameters, spec.argKeys...)
	if arg == "" {
		arg = spec.defaultArg
	}
	if spec.category == CategoryCapability {
		arg = tool
	}
	n.Access = Access{
		Category:  spec.category,
		Operation: spec.operation,
		Argument:  arg,
		Caller:    req.Caller,
	}

	if spec.category == CategoryFilesystem && spec.operation == OpWrite && arg != "" {
		n.Change, n.WholeFile = buildChange(arg, n.Parameters)
	}
	return n, nil
}

// ContextBool reads a boolean flag from the request context. Strings such as
// "true" and "1" and non-zero numbers are accepted.
func (n *Normalized) ContextBool(key string) bool {
	return truthy(n.Context[key])
}

// ContextString reads a string value from the request context.
func (n *Normalized) ContextString(key string) string {
	s, _ := n.Context[key].(string)
	return s
}

// Param returns a string parameter or "".
func (n *Normalized) Param(key string) string {
	return firstString(n.Parameters, key)
}

func buildChange(path string, params map[string]any) (*significance.Change, bool) {
	if edits, ok := params["edits"].([]any); ok {
		var before, after []string
		for _, e := range edits {
			m, ok := e.(map[string]any)
			if !ok {
				continue
			}
			before = append(before, rawString(m, "old_string"))
			after = append(after, rawString(m, "new_string"))
		}
		return &significance.Change{
			Path:   path,
			Before: strings.Join(before, "\n"),
			After:  strings.Join(after, "\n"),
		}, false
	}
	if _, ok := params["new_string"]; ok {
		return &significance.Change{
			Path:   path,
			Before: rawString(params, "old_string"),
			After:  rawString(params, "new_string"),
		}, false
	}
	if _, ok := params["new_source"]; ok {
		return &significance.Change{Path: path, After: rawString(params, "new_source")}, false
	}
	return &significance.Change{Path: path, After: rawString(params, "content", "text", "contents")}, true
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// rawString returns the first string value verbatim, whitespace included.
func rawString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return false
}
