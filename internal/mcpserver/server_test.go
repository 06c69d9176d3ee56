package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/phobologic/repoindex/internal/condense"
	"github.com/phobologic/repoindex/internal/config"
	"github.com/phobologic/repoindex/internal/index"
	"github.com/phobologic/repoindex/internal/query"
	"github.com/phobologic/repoindex/internal/vcs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func connect(t *testing.T) *mcp.ClientSession {
	t.Helper()
	root := t.TempDir()
	for rel, content := range map[string]string{
		"pkg/__init__.py": "",
		"pkg/a.py":        "from pkg.b import bar\n\n\ndef foo():\n    bar()\n",
		"pkg/b.py":        "def bar():\n    \"\"\"Bar.\"\"\"\n    pass\n",
	} {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
	idx, err := index.Build(context.Background(), root, config.Default(), index.Options{VCS: vcs.None{}})
	require.NoError(t, err)

	srv := New(query.New(idx, config.Default().Budgets, nil), "test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	serverT, clientT := mcp.NewInMemoryTransports()
	ss, err := srv.MCP().Connect(ctx, serverT, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
		cancel()
	})
	return cs
}

func call(t *testing.T, cs *mcp.ClientSession, name string, arguments map[string]any) (string, bool) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: arguments})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return text.Text, res.IsError
}

func TestListTools(t *testing.T) {
	cs := connect(t)
	res, err := cs.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	var names []string
	for _, tl := range res.Tools {
		names = append(names, tl.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"find_dependencies",
		"find_references",
		"list_repository_structure",
		"overview",
		"search_files",
		"search_keyword",
		"view_class_details",
		"view_file_content",
		"view_function_details",
		"view_module_structure",
		"view_reference_relationships",
	}, names)
}

func TestToolCalls(t *testing.T) {
	cs := connect(t)

	out, isErr := call(t, cs, "find_references", map[string]any{"name": "bar", "kind": "function"})
	assert.False(t, isErr)
	assert.Contains(t, out, "pkg.a.foo")

	out, _ = call(t, cs, "view_function_details", map[string]any{"name": "pkg.b.bar"})
	assert.Contains(t, out, "# Function: bar")

	out, _ = call(t, cs, "search_keyword", map[string]any{"pattern": "BAR"})
	assert.Contains(t, out, "```## pkg/a.py")

	out, _ = call(t, cs, "list_repository_structure", nil)
	assert.Contains(t, out, "    pkg/\n")

	out, _ = call(t, cs, "view_module_structure", map[string]any{"path": "pkg/b.py"})
	assert.Contains(t, out, "def bar():")

	out, _ = call(t, cs, "overview", map[string]any{"max_tokens": 2000})
	assert.Contains(t, out, "stats")
}

func TestToolErrors(t *testing.T) {
	cs := connect(t)

	out, isErr := call(t, cs, "view_class_details", map[string]any{})
	assert.True(t, isErr)
	assert.Equal(t, "view_class_details requires name", out)

	out, isErr = call(t, cs, "search_files", map[string]any{"pattern": "  "})
	assert.True(t, isErr)
	assert.Equal(t, "search_files requires pattern", out)

	// A lookup miss is an answer, not a tool failure.
	out, isErr = call(t, cs, "view_class_details", map[string]any{"name": "Nope"})
	assert.False(t, isErr)
	assert.Contains(t, out, "not found")
}

func TestToolBudgets(t *testing.T) {
	cs := connect(t)
	res, err := cs.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	budgeted := map[string]bool{}
	for _, tl := range res.Tools {
		schema, err := json.Marshal(tl.InputSchema)
		require.NoError(t, err)
		budgeted[tl.Name] = strings.Contains(string(schema), `"max_tokens"`)
	}
	for _, name := range []string{"overview", "search_keyword", "view_class_details", "view_function_details", "view_file_content"} {
		assert.True(t, budgeted[name], "%s takes max_tokens", name)
	}
	assert.False(t, budgeted["find_references"])

	for name, arguments := range map[string]map[string]any{
		"view_file_content":     {"path": "pkg/a.py", "max_tokens": 8},
		"view_function_details": {"name": "pkg.a.foo", "max_tokens": 12},
		"search_keyword":        {"pattern": "bar", "max_tokens": 10},
	} {
		out, isErr := call(t, cs, name, arguments)
		assert.False(t, isErr)
		limit := arguments["max_tokens"].(int)
		assert.LessOrEqual(t, condense.EstimateTokens(out), limit, "%s: %s", name, out)
	}

	out, _ := call(t, cs, "view_file_content", map[string]any{"path": "pkg/a.py"})
	assert.Contains(t, out, "def foo():\n    bar()")
}
