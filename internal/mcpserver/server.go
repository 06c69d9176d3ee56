// Package mcpserver exposes the query operations of an index as MCP tools
// over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/phobologic/repoindex/internal/logging"
	"github.com/phobologic/repoindex/internal/query"
)

const serverName = "repoindex"

// args is the union of every tool's arguments. Each tool reads the fields
// it declares in its schema.
type args struct {
	Path      string `json:"path"`
	Pattern   string `json:"pattern"`
	Intent    string `json:"intent"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	MaxTokens int    `json:"max_tokens"`
}

type tool struct {
	name     string
	desc     string
	props    map[string]*jsonschema.Schema
	required []string
	run      func(e *query.Explorer, a args) string
}

var (
	pathProp = &jsonschema.Schema{Type: "string", Description: "Path relative to the repository root, or absolute inside it"}
	nameProp = &jsonschema.Schema{Type: "string", Description: "Entity name or fully qualified id, e.g. bar or pkg.b.bar"}
	kindProp = &jsonschema.Schema{
		Type:        "string",
		Description: "Entity kind",
		Enum:        []any{"function", "class", "module"},
	}
	intentProp = &jsonschema.Schema{Type: "string", Description: "What you are looking for; lines mentioning it are kept when content is condensed"}
	budgetProp = &jsonschema.Schema{Type: "integer", Description: "Token budget for the answer; omit to use the configured budget"}
)

var tools = []tool{
	{
		name:  "list_repository_structure",
		desc:  "Show the directory tree of the repository, or of one directory in it.",
		props: map[string]*jsonschema.Schema{"path": pathProp},
		run:   func(e *query.Explorer, a args) string { return e.ListRepositoryStructure(a.Path) },
	},
	{
		name: "search_keyword",
		desc: "Find lines containing a keyword, case-insensitively, across every indexed file.",
		props: map[string]*jsonschema.Schema{
			"pattern": {Type: "string", Description: "Keyword to search for"},
			"intent":     intentProp,
			"max_tokens": budgetProp,
		},
		required: []string{"pattern"},
		run:      func(e *query.Explorer, a args) string { return e.SearchKeyword(a.Pattern, a.Intent, a.MaxTokens) },
	},
	{
		name: "search_files",
		desc: "List indexed files whose path contains a pattern.",
		props: map[string]*jsonschema.Schema{
			"pattern": {Type: "string", Description: "Path fragment"},
		},
		required: []string{"pattern"},
		run:      func(e *query.Explorer, a args) string { return e.SearchFiles(a.Pattern) },
	},
	{
		name:     "view_class_details",
		desc:     "Show a class: docstring, bases, methods, where it is instantiated and its source.",
		props:    map[string]*jsonschema.Schema{"name": nameProp, "max_tokens": budgetProp},
		required: []string{"name"},
		run:      func(e *query.Explorer, a args) string { return e.ViewClassDetails(a.Name, a.MaxTokens) },
	},
	{
		name:     "view_function_details",
		desc:     "Show a function or method: signature, docstring, calls, callers and source.",
		props:    map[string]*jsonschema.Schema{"name": nameProp, "max_tokens": budgetProp},
		required: []string{"name"},
		run:      func(e *query.Explorer, a args) string { return e.ViewFunctionDetails(a.Name, a.MaxTokens) },
	},
	{
		name:     "view_module_structure",
		desc:     "Show the classes, methods and functions of a Python module without bodies.",
		props:    map[string]*jsonschema.Schema{"path": pathProp},
		required: []string{"path"},
		run:      func(e *query.Explorer, a args) string { return e.ViewModuleStructure(a.Path) },
	},
	{
		name:     "find_references",
		desc:     "List what calls, imports, inherits from or instantiates an entity.",
		props:    map[string]*jsonschema.Schema{"name": nameProp, "kind": kindProp},
		required: []string{"name"},
		run:      func(e *query.Explorer, a args) string { return e.FindReferences(a.Name, a.Kind) },
	},
	{
		name:     "find_dependencies",
		desc:     "List what an entity calls, imports or inherits from.",
		props:    map[string]*jsonschema.Schema{"name": nameProp, "kind": kindProp},
		required: []string{"name"},
		run:      func(e *query.Explorer, a args) string { return e.FindDependencies(a.Name, a.Kind) },
	},
	{
		name:     "view_reference_relationships",
		desc:     "Show both the references to and the dependencies of an entity.",
		props:    map[string]*jsonschema.Schema{"name": nameProp, "kind": kindProp},
		required: []string{"name"},
		run:      func(e *query.Explorer, a args) string { return e.ViewReferenceRelationships(a.Name, a.Kind) },
	},
	{
		name:     "view_file_content",
		desc:     "Show a file. Large Python files are condensed to fit the token budget.",
		props:    map[string]*jsonschema.Schema{"path": pathProp, "intent": intentProp, "max_tokens": budgetProp},
		required: []string{"path"},
		run:      func(e *query.Explorer, a args) string { return e.ViewFileContent(a.Path, a.Intent, a.MaxTokens) },
	},
	{
		name: "overview",
		desc: "Summarize the repository: statistics, key modules, key components and import cycles.",
		props: map[string]*jsonschema.Schema{
			"max_tokens": budgetProp,
		},
		run: func(e *query.Explorer, a args) string { return e.Overview(a.MaxTokens) },
	},
}

// Server serves one index.
type Server struct {
	explorer *query.Explorer
	logger   *slog.Logger
	server   *mcp.Server
}

// New registers every tool against explorer.
func New(explorer *query.Explorer, version string, logger *slog.Logger) *Server {
	s := &Server{
		explorer: explorer,
		logger:   logging.OrDiscard(logger),
		server: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: version,
		}, nil),
	}
	for _, t := range tools {
		s.server.AddTool(&mcp.Tool{
			Name:        t.name,
			Description: t.desc,
			InputSchema: &jsonschema.Schema{
				Type:       "object",
				Properties: t.props,
				Required:   t.required,
			},
		}, s.handler(t))
	}
	return s
}

// MCP returns the underlying server, for callers that bring their own
// transport.
func (s *Server) MCP() *mcp.Server { return s.server }

// Run serves on stdin and stdout until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("serving index over stdio", "root", s.explorer.Index().Root, "tools", len(tools))
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) handler(t tool) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		var a args
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &a); err != nil {
				return errorResult(fmt.Sprintf("invalid parameters for %s: %v", t.name, err)), nil
			}
		}
		if missing := missingArgs(t.required, a); len(missing) > 0 {
			return errorResult(fmt.Sprintf("%s requires %s", t.name, strings.Join(missing, ", "))), nil
		}

		out := t.run(s.explorer, a)
		s.logger.Debug("tool call", "tool", t.name, "elapsed", time.Since(start).Round(time.Microsecond), "bytes", len(out))
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: out}},
		}, nil
	}
}

func missingArgs(required []string, a args) []string {
	var missing []string
	for _, r := range required {
		var v string
		switch r {
		case "path":
			v = a.Path
		case "pattern":
			v = a.Pattern
		case "name":
			v = a.Name
		}
		if strings.TrimSpace(v) == "" {
			missing = append(missing, r)
		}
	}
	return missing
}

// errorResult reports a tool error inside the result so the client model
// can see it and retry.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
