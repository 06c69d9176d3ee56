package discover

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/phobologic/repoindex/internal/config"
)

func paths(entries []FileEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

func TestDiscoverFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "main.py", "print('hello')")
	writeFile(t, dir, "lib/util.py", "def helper(): pass")
	writeFile(t, dir, "readme.txt", "hello")
	writeFile(t, dir, ".hidden.py", "secret")
	writeFile(t, dir, "logo.png", "png")
	writeFile(t, dir, "lib/util.pyc", "bytecode")

	entries, err := Files(dir, config.Default().Scan)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	got := paths(entries)
	want := []string{"lib/util.py", "main.py", "readme.txt"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if entries[0].Abs != filepath.Join(dir, "lib", "util.py") {
		t.Errorf("abs path = %q", entries[0].Abs)
	}
	if entries[1].Size != int64(len("print('hello')")) {
		t.Errorf("size = %d", entries[1].Size)
	}
}

func TestDiscoverSkipDirs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "main.py", "pass")
	writeFile(t, dir, "node_modules/pkg.py", "pass")
	writeFile(t, dir, "__pycache__/cached.py", "pass")
	writeFile(t, dir, ".hidden/secret.py", "pass")
	writeFile(t, dir, "venv/lib/site.py", "pass")
	writeFile(t, dir, "build/out.py", "pass")

	entries, err := Files(dir, config.Default().Scan)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "main.py" {
		t.Fatalf("expected only main.py, got %v", paths(entries))
	}
}

func TestDiscoverDepthLimit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "a/b/c/ok.py", "pass")   // depth 3
	writeFile(t, dir, "a/b/c/d/no.py", "pass") // depth 4, pruned
	writeFile(t, dir, "a/b/c/d/e/no.py", "pass")

	entries, err := Files(dir, config.Default().Scan)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "a/b/c/ok.py" {
		t.Fatalf("expected only a/b/c/ok.py, got %v", paths(entries))
	}

	cfg := config.Default().Scan
	cfg.MaxDepth = 1
	entries, err = Files(dir, cfg)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected nothing with depth 1, got %v", paths(entries))
	}
}

func TestDiscoverFanOutLimits(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for i := range 45 {
		writeFile(t, dir, fmt.Sprintf("many/f%02d.py", i), "pass")
	}
	for i := range 60 {
		writeFile(t, dir, fmt.Sprintf("dump/d%02d.py", i), "pass")
	}
	for i := range 120 {
		writeFile(t, dir, fmt.Sprintf("data/x%03d.py", i), "pass")
	}
	writeFile(t, dir, "data/nested/kept.py", "pass")

	entries, err := Files(dir, config.Default().Scan)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	counts := map[string]int{}
	for _, e := range entries {
		counts[filepath.Dir(filepath.FromSlash(e.Path))]++
	}
	if counts["many"] != 40 {
		t.Errorf("many: expected 40 files (per-dir cap), got %d", counts["many"])
	}
	if counts["dump"] != 5 {
		t.Errorf("dump: expected 5 files (truncated), got %d", counts["dump"])
	}
	if counts["data"] != 0 {
		t.Errorf("data: expected 0 files (skipped), got %d", counts["data"])
	}
	if counts[filepath.Join("data", "nested")] != 1 {
		t.Errorf("subdirectories of a skipped directory are still walked")
	}
}

func TestDiscoverSizeLimit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "small.py", "pass")
	writeFile(t, dir, "big.py", string(make([]byte, 2048)))

	cfg := config.Default().Scan
	cfg.MaxFileSize = 1024
	entries, err := Files(dir, cfg)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "small.py" {
		t.Fatalf("expected only small.py, got %v", paths(entries))
	}
}

func TestDiscoverGitignoreAndGlobs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, ".gitignore", "generated/\n*.log.py\n")
	writeFile(t, dir, "src/app.py", "pass")
	writeFile(t, dir, "src/debug.log.py", "pass")
	writeFile(t, dir, "generated/schema.py", "pass")
	writeFile(t, dir, "docs/guide.md", "# guide")

	cfg := config.Default().Scan
	entries, err := Files(dir, cfg)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if fmt.Sprint(paths(entries)) != "[docs/guide.md src/app.py]" {
		t.Fatalf("gitignore not applied: %v", paths(entries))
	}

	cfg.Include = []string{"src/**"}
	entries, err = Files(dir, cfg)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if fmt.Sprint(paths(entries)) != "[src/app.py]" {
		t.Fatalf("include glob not applied: %v", paths(entries))
	}

	cfg.Include = nil
	cfg.Exclude = []string{"**/*.md"}
	entries, err = Files(dir, cfg)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if fmt.Sprint(paths(entries)) != "[src/app.py]" {
		t.Fatalf("exclude glob not applied: %v", paths(entries))
	}
}

func TestDiscoverSymlinksSkipped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "real.py", "pass")

	err := os.Symlink(filepath.Join(dir, "real.py"), filepath.Join(dir, "link.py"))
	if err != nil {
		t.Skip("symlinks not supported")
	}

	entries, err := Files(dir, config.Default().Scan)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "real.py" {
		t.Fatalf("expected only real.py, got %v", paths(entries))
	}
}

func TestWalkStopsEarly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for i := range 5 {
		writeFile(t, dir, fmt.Sprintf("f%d.py", i), "pass")
	}
	rules, err := NewRules(dir, config.Default().Scan)
	if err != nil {
		t.Fatal(err)
	}

	seen := 0
	for _, err := range Walk(dir, rules) {
		if err != nil {
			t.Fatal(err)
		}
		seen++
		if seen == 2 {
			break
		}
	}
	if seen != 2 {
		t.Errorf("expected to stop after 2, saw %d", seen)
	}
}

func TestWalkPathOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, rel := range []string{"b.py", "a/x.py", "a.py", "a-b/y.py", "c/z.py", "a/sub/w.py"} {
		writeFile(t, dir, rel, "pass")
	}
	rules, err := NewRules(dir, config.Default().Scan)
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	for entry, err := range Walk(dir, rules) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, entry.Path)
	}
	want := []string{"a-b/y.py", "a.py", "a/sub/w.py", "a/x.py", "b.py", "c/z.py"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestWalkMissingRoot(t *testing.T) {
	t.Parallel()

	_, err := Files(filepath.Join(t.TempDir(), "missing"), config.Default().Scan)
	if err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestShouldIgnore(t *testing.T) {
	t.Parallel()

	rules, err := NewRules("", config.Default().Scan)
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		path string
		want bool
	}{
		{"pkg/module.py", false},
		{"pkg/__init__.py", false},
		{"__init__.py", false},
		{"__main__.py", false},
		{"__secret.py", true},
		{".env", true},
		{"notes/analysis.ipynb", false},
		{"venv/analysis.ipynb", true},
		{"media/clip.MP4", true},
		{"dist/pkg.py", true},
		{"pkg/mod.pyc", true},
		{"pkg/mod.py~", true},
		{"pkg/thing.egg-info", true},
		{"docs/report.pdf", true},
		{"README.md", false},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			t.Parallel()
			if got := rules.ShouldIgnore(tc.path); got != tc.want {
				t.Errorf("ShouldIgnore(%q) = %v, want %v", tc.path, got, tc.want)
			}
		})
	}
}

func TestNewRulesRejectsBadPattern(t *testing.T) {
	t.Parallel()

	cfg := config.Default().Scan
	cfg.IgnoredFilePatterns = []string{"("}
	if _, err := NewRules("", cfg); err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func writeFile(t *testing.T, root, rel, content string) {
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
