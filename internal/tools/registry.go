// ABOUTME: Static registry of the memory tools advertised over MCP
// ABOUTME: Holds descriptors with JSON schemas and validates call arguments

package tools

import (
	"encoding/json"
	"fmt"
)

// Tool names exposed by the gateway.
const (
	ToolAddMemory    = "add_memory"
	ToolSearchMemory = "search_memories"
	ToolListMemories = "list_memories"
	ToolDeleteAll    = "delete_all_memories"
)

// DefaultSearchLimit applies when a search call omits limit.
const DefaultSearchLimit = 10

// Descriptor describes one tool as presented in tools/list.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// descriptors is the fixed tool catalog. The set never changes at runtime
// so tools/list is valid to serve before initialize completes.
var descriptors = []Descriptor{
	{
		Name:        ToolAddMemory,
		Description: "Store a new memory for the authenticated user. Call this when the user shares a fact, preference, or event worth remembering.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"text": {"type": "string", "description": "The memory content to store"}
			},
			"required": ["text"]
		}`),
	},
	{
		Name:        ToolSearchMemory,
		Description: "Search the authenticated user's memories by semantic relevance to a query.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Natural-language search query"},
				"limit": {"type": "integer", "description": "Maximum number of results (default 10)"}
			},
			"required": ["query"]
		}`),
	},
	{
		Name:        ToolListMemories,
		Description: "List the authenticated user's memories, newest first, with pagination.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"page": {"type": "integer", "description": "Page number, starting at 1"},
				"size": {"type": "integer", "description": "Page size (default 50)"}
			}
		}`),
	},
	{
		Name:        ToolDeleteAll,
		Description: "Delete all memories belonging to the authenticated user. This cannot be undone.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
	},
}

// Registry holds the tool catalog and validates call arguments.
type Registry struct {
	byName map[string]*Descriptor
	order  []Descriptor
}

// NewRegistry builds the registry over the fixed catalog.
func NewRegistry() *Registry {
	r := &Registry{
		byName: make(map[string]*Descriptor, len(descriptors)),
		order:  descriptors,
	}
	for i := range descriptors {
		r.byName[descriptors[i].Name] = &descriptors[i]
	}
	return r
}

// List returns all tool descriptors in their advertised order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, len(r.order))
	copy(out, r.order)
	return out
}

// Get returns the descriptor for a tool name, or nil if unknown.
func (r *Registry) Get(name string) *Descriptor {
	return r.byName[name]
}

// AddMemoryArgs are the parsed arguments of an add_memory call.
type AddMemoryArgs struct {
	Text string `json:"text"`
}

// SearchMemoryArgs are the parsed arguments of a search_memories call.
type SearchMemoryArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// ListMemoriesArgs are the parsed arguments of a list_memories call.
type ListMemoriesArgs struct {
	Page int `json:"page"`
	Size int `json:"size"`
}

// ArgError reports a missing or malformed argument by field name.
type ArgError struct {
	Field  string
	Reason string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("argument %q %s", e.Field, e.Reason)
}

// ParseAddMemory validates and extracts add_memory arguments.
func ParseAddMemory(raw json.RawMessage) (*AddMemoryArgs, error) {
	var args AddMemoryArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Text == "" {
		return nil, &ArgError{Field: "text", Reason: "is required"}
	}
	return &args, nil
}

// ParseSearchMemory validates and extracts search_memories arguments,
// applying the default limit.
func ParseSearchMemory(raw json.RawMessage) (*SearchMemoryArgs, error) {
	var args SearchMemoryArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Query == "" {
		return nil, &ArgError{Field: "query", Reason: "is required"}
	}
	if args.Limit < 0 {
		return nil, &ArgError{Field: "limit", Reason: "must not be negative"}
	}
	if args.Limit == 0 {
		args.Limit = DefaultSearchLimit
	}
	return &args, nil
}

// ParseListMemories validates and extracts list_memories arguments.
// Zero page/size are left for the backend client to default.
func ParseListMemories(raw json.RawMessage) (*ListMemoriesArgs, error) {
	var args ListMemoriesArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Page < 0 {
		return nil, &ArgError{Field: "page", Reason: "must not be negative"}
	}
	if args.Size < 0 {
		return nil, &ArgError{Field: "size", Reason: "must not be negative"}
	}
	return &args, nil
}

func unmarshalArgs(raw json.RawMessage, target any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return &ArgError{Field: "arguments", Reason: "is not a valid JSON object"}
	}
	return nil
}
