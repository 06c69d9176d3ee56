package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/phobologic/repoindex/internal/condense"
)

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func createSampleRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTestFile(t, dir, "models.py", `class User:
    def __init__(self, name: str) -> None:
        self.name = name
`)
	writeTestFile(t, dir, "main.py", `from models import User

def greet(user: User) -> str:
    return f"Hello, {user.name}"
`)
	return dir
}

// createCallRepo has main.greet calling utils.helper through an import.
func createCallRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTestFile(t, dir, "utils.py", "def helper():\n    pass\n")
	writeTestFile(t, dir, "main.py", "from utils import helper\n\n\ndef greet():\n    helper()\n")
	return dir
}

// runCLI runs the root command with logging silenced.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), append([]string{"-q"}, args...), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, stderr, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("run %v: %v\nstderr: %s", args, err, stderr)
	}
	return out
}

func TestMapBasic(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	out := mustRun(t, "map", dir)
	if !strings.Contains(out, "# Repository Map") {
		t.Error("missing agent context header")
	}
	if !strings.Contains(out, "repo: "+filepath.Base(dir)) {
		t.Error("missing repo: header")
	}
	if !strings.Contains(out, "modules[2]") {
		t.Errorf("expected 2 modules, got:\n%s", out)
	}
	if !strings.Contains(out, "models.py") {
		t.Error("missing models.py")
	}
	if !strings.Contains(out, "main.py") {
		t.Error("missing main.py")
	}
}

func TestMapRaw(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	out := mustRun(t, "map", "--raw", dir)
	if strings.Contains(out, "# Repository Map") {
		t.Error("--raw should suppress agent context header")
	}
	if !strings.HasPrefix(out, "repo:") {
		t.Errorf("--raw output should start with repo:, got:\n%s", out)
	}
}

func TestMapMaxFiles(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	out := mustRun(t, "map", "-n", "1", dir)
	if !strings.Contains(out, "modules[1]") {
		t.Errorf("expected 1 module, got:\n%s", out)
	}
}

func TestVersion(t *testing.T) {
	t.Parallel()

	out := mustRun(t, "--version")
	if !strings.Contains(out, "repoindex") || !strings.Contains(out, version) {
		t.Errorf("version output: %q", out)
	}
}

func TestMapSymbols(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	out := mustRun(t, "map", dir)
	if !strings.Contains(out, "User,class") {
		t.Error("missing User class definition")
	}
	if !strings.Contains(out, "User.__init__,method") {
		t.Error("missing User.__init__ method")
	}
	if !strings.Contains(out, "greet,function") {
		t.Error("missing greet function")
	}
}

func TestMapDependencies(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	out := mustRun(t, "map", dir)
	if !strings.Contains(out, "main,models,User") {
		t.Errorf("missing dependency main -> models:\n%s", out)
	}
}

func TestMapCalls(t *testing.T) {
	t.Parallel()
	dir := createCallRepo(t)

	out := mustRun(t, "map", dir)
	if !strings.Contains(out, "calls[1]") {
		t.Errorf("missing calls section:\n%s", out)
	}
	if !strings.Contains(out, "main.greet,utils.helper,exact") {
		t.Errorf("missing greet -> helper call edge:\n%s", out)
	}
}

func TestNotADirectory(t *testing.T) {
	t.Parallel()
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := runCLI(t, "map", f); err == nil {
		t.Fatal("expected error for non-directory")
	}
	if _, _, err := runCLI(t, "tree", "--root", f); err == nil {
		t.Fatal("expected error for non-directory root")
	}
}

func TestMapMaxFileSize(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "small.py", "x = 1")
	writeTestFile(t, dir, "big.py", strings.Repeat("x = 1\n", 200))

	out := mustRun(t, "map", "--max-file-size", "100", dir)
	if !strings.Contains(out, "small.py") {
		t.Error("missing small.py")
	}
	if strings.Contains(out, "big.py") {
		t.Error("big.py should be filtered out")
	}
}

func TestMapSymbolFilter(t *testing.T) {
	t.Parallel()
	dir := createCallRepo(t)

	out := mustRun(t, "map", "--symbol", "helper", dir)
	if !strings.Contains(out, "utils.py") {
		t.Errorf("utils.py (defines helper) should be in output:\n%s", out)
	}
	// greet calls helper, so main.py should also be included via call expansion.
	if !strings.Contains(out, "main.py") {
		t.Errorf("main.py (defines greet which calls helper) should be in output:\n%s", out)
	}
	if !strings.Contains(out, "helper,function") {
		t.Errorf("helper definition should appear in symbols:\n%s", out)
	}
}

func TestMapSymbolFilterNoMatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "main.py", "def greet():\n    pass\n")

	out := mustRun(t, "map", "--symbol", "NoSuchSymbol", dir)
	if !strings.Contains(out, "modules[0]") {
		t.Errorf("expected empty modules table:\n%s", out)
	}
}

func TestMapFileFilter(t *testing.T) {
	t.Parallel()
	dir := createCallRepo(t)

	out := mustRun(t, "map", "--file", "utils", dir)
	if !strings.Contains(out, "utils.py") {
		t.Errorf("utils.py should be in output:\n%s", out)
	}
	if strings.Contains(out, "main.py") {
		t.Errorf("main.py should not appear as a module:\n%s", out)
	}
	if !strings.Contains(out, "helper,function") {
		t.Errorf("helper definition should appear:\n%s", out)
	}
}

func TestMapSymbolAndFileFilter(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "pkg/utils.py", "def helper():\n    pass\n")
	writeTestFile(t, dir, "other/utils.py", "def other_helper():\n    pass\n")

	out := mustRun(t, "map", "--symbol", "helper", "--file", "pkg", dir)
	if !strings.Contains(out, "pkg/utils.py") {
		t.Errorf("pkg/utils.py should be in output:\n%s", out)
	}
	if strings.Contains(out, "other_helper") {
		t.Errorf("other/utils.py is outside --file:\n%s", out)
	}
}

func TestMapCache(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)
	cachePath := filepath.Join(t.TempDir(), "index.json.zst")

	first := mustRun(t, "map", "--cache", cachePath, dir)
	info, err := os.Stat(cachePath)
	if err != nil {
		t.Fatalf("cache not created: %v", err)
	}

	// A fresh cache is read, not rewritten.
	second := mustRun(t, "map", "--cache", cachePath, dir)
	if first != second {
		t.Errorf("cache mismatch:\nfirst:\n%s\nsecond:\n%s", first, second)
	}
	again, err := os.Stat(cachePath)
	if err != nil {
		t.Fatal(err)
	}
	if !again.ModTime().Equal(info.ModTime()) {
		t.Error("fresh cache should not be rewritten")
	}

	// Filters still apply to a cached index.
	filtered := mustRun(t, "map", "--raw", "--symbol", "greet", "--cache", cachePath, dir)
	if !strings.HasPrefix(filtered, "repo:") || !strings.Contains(filtered, "greet,function") {
		t.Errorf("filter should work on a cached index:\n%s", filtered)
	}
	if strings.Contains(filtered, "User,class") {
		t.Errorf("unrelated class should be filtered out:\n%s", filtered)
	}
}

func TestMapCacheStale(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)
	cachePath := filepath.Join(t.TempDir(), "index.json")

	mustRun(t, "map", "--cache", cachePath, dir)

	writeTestFile(t, dir, "extra.py", "def added():\n    pass\n")
	// Make sure the change is visible even on coarse mtime clocks.
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "extra.py"), future, future); err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, "map", "--cache", cachePath, dir)
	if !strings.Contains(out, "added,function") {
		t.Errorf("stale cache should be rebuilt:\n%s", out)
	}
}

func TestBuildAndQuery(t *testing.T) {
	t.Parallel()
	dir := createCallRepo(t)
	indexPath := filepath.Join(t.TempDir(), "idx", "index.json.s2")

	out := mustRun(t, "build", "-o", indexPath, dir)
	if !strings.Contains(out, "indexed 2 modules, 0 classes, 2 functions (0 failures)") {
		t.Errorf("build summary: %q", out)
	}
	if _, err := os.Stat(indexPath); err != nil {
		t.Fatalf("index not written: %v", err)
	}

	q := []string{"--root", dir, "--index", indexPath}
	refs := mustRun(t, append(q, "refs", "helper")...)
	if !strings.Contains(refs, "Function utils.helper is called by:\n- main.greet()") {
		t.Errorf("refs:\n%s", refs)
	}

	deps := mustRun(t, append(q, "deps", "main", "--kind", "module")...)
	if !strings.Contains(deps, "- from utils import helper") {
		t.Errorf("deps:\n%s", deps)
	}

	fn := mustRun(t, append(q, "show", "function", "greet")...)
	if !strings.Contains(fn, "# Function: greet") {
		t.Errorf("show function:\n%s", fn)
	}

	search := mustRun(t, append(q, "search", "HELPER")...)
	if !strings.Contains(search, ">>> def helper():") {
		t.Errorf("search:\n%s", search)
	}

	files := mustRun(t, append(q, "files", "util")...)
	if files != ">>> utils.py\n\n" {
		t.Errorf("files: %q", files)
	}

	tree := mustRun(t, append(q, "tree")...)
	if !strings.HasPrefix(tree, filepath.Base(dir)+"/\n    main.py\n    utils.py") {
		t.Errorf("tree:\n%s", tree)
	}
}

func TestBuildCacheKeepsFreshIndex(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)
	indexPath := filepath.Join(t.TempDir(), "index.json")

	mustRun(t, "build", "-o", indexPath, dir)
	first, err := os.ReadFile(indexPath)
	if err != nil {
		t.Fatal(err)
	}

	mustRun(t, "build", "--cache", "-o", indexPath, dir)
	second, err := os.ReadFile(indexPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("a fresh index should be kept as is")
	}

	// Without --cache the index is rebuilt with a new build id.
	mustRun(t, "build", "-o", indexPath, dir)
	third, err := os.ReadFile(indexPath)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(first, third) {
		t.Error("build without --cache should rebuild")
	}
}

func TestOverviewCommand(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	out := mustRun(t, "--root", dir, "overview")
	for _, want := range []string{"stats", "key_modules", "### Module:"} {
		if !strings.Contains(out, want) {
			t.Errorf("overview missing %q:\n%s", want, out)
		}
	}
}

func TestShowFileWithIntent(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	out := mustRun(t, "--root", dir, "show", "file", "models.py", "--intent", "name")
	if !strings.Contains(out, "### Module: models") || !strings.Contains(out, "class User:") {
		t.Errorf("show file:\n%s", out)
	}
}

func TestMaxTokensFlag(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	tests := []struct {
		args   []string
		budget int
	}{
		{[]string{"show", "class", "User"}, 20},
		{[]string{"show", "function", "greet"}, 20},
		{[]string{"show", "file", "models.py"}, 10},
		{[]string{"search", "name"}, 8},
	}
	for _, tt := range tests {
		full := mustRun(t, append([]string{"--root", dir}, tt.args...)...)
		args := append([]string{"--root", dir}, tt.args...)
		out := mustRun(t, append(args, "--max-tokens", fmt.Sprint(tt.budget))...)
		got := condense.EstimateTokens(strings.TrimSuffix(out, "\n"))
		if got > tt.budget {
			t.Errorf("%v --max-tokens %d: %d tokens\n%s", tt.args, tt.budget, got, out)
		}
		if len(out) >= len(full) {
			t.Errorf("%v: budgeted output should be shorter than the default\n%s", tt.args, out)
		}
	}
}

func TestConfigFile(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)
	writeTestFile(t, dir, ".repoindex.yaml", "scan:\n  exclude:\n    - \"models.py\"\n")

	out := mustRun(t, "map", "--raw", dir)
	if strings.Contains(out, "User,class") {
		t.Errorf("excluded file should not be indexed:\n%s", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	writeTestFile(t, filepath.Dir(bad), "bad.yaml", "weights:\n  usage: -1\n")
	if _, _, err := runCLI(t, "--config", bad, "map", dir); err == nil {
		t.Error("negative weight should be rejected")
	}
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()

	if _, _, err := runCLI(t, "frobnicate"); err == nil {
		t.Error("expected error for unknown command")
	}
	if _, _, err := runCLI(t, "refs"); err == nil {
		t.Error("refs without a name should fail")
	}
}
