package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// initRepo runs init against the CLAUDE.md in dir and returns what it
// printed.
func initRepo(t *testing.T, dir string, args ...string) (stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	args = append([]string{"init"}, args...)
	args = append(args, filepath.Join(dir, "CLAUDE.md"))
	if err := run(context.Background(), args, &out, &errOut); err != nil {
		t.Fatalf("init %v: %v\nstderr: %s", args, err, errOut.String())
	}
	return out.String(), errOut.String()
}

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestSectionListsEveryCommand(t *testing.T) {
	t.Parallel()
	a := &app{}
	section := generateSection(a.rootCmd().Commands())

	if !strings.HasPrefix(section, sentinelStart+"\n") || !strings.HasSuffix(section, "\n"+sentinelEnd) {
		t.Errorf("section must be wrapped in sentinels:\n%s", section)
	}
	for _, name := range []string{"build", "map", "overview", "show", "refs", "deps", "relations", "search", "files", "tree", "serve"} {
		if !strings.Contains(section, "- `repoindex "+name+"`: ") {
			t.Errorf("command %s missing from the reference", name)
		}
	}
	if strings.Contains(section, "`repoindex init`") {
		t.Error("init should not advertise itself")
	}
	for _, want := range []string{defaultIndexPath, "`" + indexDir + "` belongs in `.gitignore`", "--max-tokens", "--intent"} {
		if !strings.Contains(section, want) {
			t.Errorf("section missing %q", want)
		}
	}
}

func TestUpsertSection(t *testing.T) {
	t.Parallel()
	section := sentinelStart + "\nv2\n" + sentinelEnd

	tests := []struct {
		name, in, want string
	}{
		{"empty file", "", section + "\n"},
		{"appends after a blank line", "# Notes\n\n\n", "# Notes\n\n" + section + "\n"},
		{"no trailing newline", "# Notes", "# Notes\n\n" + section + "\n"},
		{
			"replaces the block in place",
			"# Top\n" + sentinelStart + "\nv1\n" + sentinelEnd + "\n## Bottom\n",
			"# Top\n" + section + "\n## Bottom\n",
		},
		{
			"block whose end was deleted",
			"# Top\n" + sentinelStart + "\nv1 half edited\n",
			"# Top\n" + section + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := upsertSection(tt.in, section)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if again := upsertSection(got, section); again != got {
				t.Errorf("second upsert changed the file: %q", again)
			}
		})
	}
}

func TestIgnoreIndexDir(t *testing.T) {
	t.Parallel()
	added := "# repoindex build output\n" + indexDir + "\n"

	tests := []struct {
		name, in, want string
	}{
		{"new file", "", added},
		{"appends", "venv/\n", "venv/\n" + added},
		{"no trailing newline", "*.pyc", "*.pyc\n" + added},
		{"already listed", "venv/\n.repoindex/\n", "venv/\n.repoindex/\n"},
		{"anchored without slash", "/.repoindex\n", "/.repoindex\n"},
		{"covered by a wildcard", ".*\n", ".*\n"},
		{"other dot dir only", ".venv/\n", ".venv/\n" + added},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ignoreIndexDir(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInitWritesClaudeAndGitignore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	claude := filepath.Join(dir, "CLAUDE.md")
	gitignore := filepath.Join(dir, ".gitignore")
	writeTestFile(t, dir, "CLAUDE.md", "# Project rules\n\nUse tabs.\n")
	writeTestFile(t, dir, ".gitignore", "__pycache__/\n")

	stdout, stderr := initRepo(t, dir)
	if stdout != "" {
		t.Errorf("stdout should be empty, got %q", stdout)
	}
	if stderr != "updated "+claude+"\nupdated "+gitignore+"\n" {
		t.Errorf("stderr: %q", stderr)
	}

	got := readTestFile(t, claude)
	if !strings.HasPrefix(got, "# Project rules\n\nUse tabs.\n\n"+sentinelStart) {
		t.Errorf("existing rules should stay on top:\n%s", got)
	}
	if !strings.Contains(got, "repoindex show function login") {
		t.Errorf("usage examples missing:\n%s", got)
	}
	if ig := readTestFile(t, gitignore); ig != "__pycache__/\n# repoindex build output\n.repoindex/\n" {
		t.Errorf(".gitignore: %q", ig)
	}

	// A second run finds nothing to do.
	_, stderr = initRepo(t, dir)
	if stderr != claude+" is up to date\n"+gitignore+" is up to date\n" {
		t.Errorf("second run stderr: %q", stderr)
	}
	if again := readTestFile(t, claude); again != got {
		t.Errorf("second run changed CLAUDE.md:\n%s", again)
	}
}

func TestInitNoGitignore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	initRepo(t, dir, "--no-gitignore")
	if _, err := os.Stat(filepath.Join(dir, ".gitignore")); !os.IsNotExist(err) {
		t.Errorf(".gitignore should not be created, stat err %v", err)
	}
	if got := readTestFile(t, filepath.Join(dir, "CLAUDE.md")); !strings.HasPrefix(got, sentinelStart) {
		t.Errorf("CLAUDE.md:\n%s", got)
	}
}

func TestInitDryRun(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, ".gitignore", ".repoindex/\n")

	stdout, stderr := initRepo(t, dir, "--dry-run")
	claude := filepath.Join(dir, "CLAUDE.md")
	if !strings.HasPrefix(stdout, "==> "+claude+" <==\n"+sentinelStart) {
		t.Errorf("dry run should show the would-be CLAUDE.md:\n%s", stdout)
	}
	if strings.Contains(stdout, "==> "+filepath.Join(dir, ".gitignore")) {
		t.Errorf("an up to date .gitignore should not be shown:\n%s", stdout)
	}
	if !strings.Contains(stderr, "is up to date") {
		t.Errorf("stderr: %q", stderr)
	}
	if _, err := os.Stat(claude); !os.IsNotExist(err) {
		t.Errorf("--dry-run wrote CLAUDE.md, stat err %v", err)
	}

	// Without a path only the section is printed.
	var out bytes.Buffer
	if err := run(context.Background(), []string{"init", "--dry-run"}, &out, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), sentinelStart) || !strings.HasSuffix(out.String(), sentinelEnd+"\n") {
		t.Errorf("section only:\n%s", out.String())
	}
}
