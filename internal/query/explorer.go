// Package query answers exploration questions over a finished index:
// entity lookup, detail views, relationships, search and budgeted file
// content. An Explorer never mutates its index and is safe for concurrent
// use.
package query

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/phobologic/repoindex/internal/config"
	"github.com/phobologic/repoindex/internal/discover"
	"github.com/phobologic/repoindex/internal/model"
)

const (
	// maxCandidates is how many ids an ambiguous lookup lists.
	maxCandidates = 5
	maxSuggestions = 3
	// minSimilarity is the Jaro-Winkler score a suggestion needs.
	minSimilarity = 0.7
)

// Explorer is the read-only query facade over an index.
type Explorer struct {
	idx     *model.Index
	budgets config.Budgets
	rules   *discover.Rules
}

// New returns an explorer over idx. rules may be nil, in which case the
// default scan configuration decides what listings hide.
func New(idx *model.Index, budgets config.Budgets, rules *discover.Rules) *Explorer {
	if rules == nil {
		// Default patterns always compile.
		rules, _ = discover.NewRules(idx.Root, config.Default().Scan)
	}
	return &Explorer{idx: idx, budgets: budgets, rules: rules}
}

// Index returns the underlying index.
func (e *Explorer) Index() *model.Index { return e.idx }

// budget returns the per-call token budget, or fallback when the caller
// gave none.
func (e *Explorer) budget(maxTokens, fallback int) int {
	if maxTokens > 0 {
		return maxTokens
	}
	return fallback
}

// Resolve maps a name or id to exactly one entity id of kind. An exact id
// always wins. Otherwise ids ending in "."+name or containing name are
// candidates: none is a *model.NotFoundError, several a
// *model.AmbiguousMatchError.
func (e *Explorer) Resolve(nameOrID string, kind model.EntityKind) (string, error) {
	query := strings.TrimSpace(nameOrID)
	if e.idx.Has(kind, query) {
		return query, nil
	}

	ids := e.idx.IDs(kind)
	var matches []string
	if query != "" {
		for _, id := range ids {
			if strings.HasSuffix(id, "."+query) || strings.Contains(id, query) {
				matches = append(matches, id)
			}
		}
	}

	switch {
	case len(matches) == 1:
		return matches[0], nil
	case len(matches) == 0:
		return "", &model.NotFoundError{Kind: kind, Query: query, Suggestions: suggest(query, ids)}
	}
	shown := matches
	if len(shown) > maxCandidates {
		shown = shown[:maxCandidates]
	}
	return "", &model.AmbiguousMatchError{Kind: kind, Query: query, Candidates: shown, Total: len(matches)}
}

// suggest returns the ids whose last component or full text is most
// similar to query.
func suggest(query string, ids []string) []string {
	if query == "" {
		return nil
	}
	type scored struct {
		id    string
		score float32
	}
	lower := strings.ToLower(query)
	var hits []scored
	for _, id := range ids {
		best := float32(0)
		for _, cand := range []string{model.LastPart(id), id} {
			s, err := edlib.StringsSimilarity(lower, strings.ToLower(cand), edlib.JaroWinkler)
			if err == nil && s > best {
				best = s
			}
		}
		if best >= minSimilarity {
			hits = append(hits, scored{id, best})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].id < hits[j].id
	})
	var out []string
	for i := 0; i < len(hits) && i < maxSuggestions; i++ {
		out = append(out, hits[i].id)
	}
	return out
}

// resolveText is Resolve for callers that report failures as text.
func (e *Explorer) resolveText(nameOrID string, kind model.EntityKind) (string, string, bool) {
	id, err := e.Resolve(nameOrID, kind)
	if err != nil {
		return "", errorText(err), false
	}
	return id, "", true
}

// errorText renders lookup failures for an agent. Other errors pass
// through with their message.
func errorText(err error) string {
	var nf *model.NotFoundError
	var am *model.AmbiguousMatchError
	switch {
	case errors.As(err, &nf), errors.As(err, &am):
		return err.Error()
	}
	return "error: " + err.Error()
}

// absPath joins a module path to the index root.
func (e *Explorer) absPath(rel string) string {
	return filepath.Join(e.idx.Root, filepath.FromSlash(rel))
}

// relPath turns user input into a slash separated path relative to the
// root. ok is false when an absolute path points outside the root.
func (e *Explorer) relPath(p string) (string, bool) {
	p = strings.TrimSpace(p)
	if p == "" || p == "." || p == "/" && e.idx.Root == "/" {
		return "", true
	}
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(e.idx.Root, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", false
		}
		if rel == "." {
			return "", true
		}
		return discover.ToSlash(rel), true
	}
	rel := discover.ToSlash(filepath.Clean(p))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return strings.TrimPrefix(rel, "./"), true
}

// rootAvailable reports whether the index root exists on this machine.
func (e *Explorer) rootAvailable() bool {
	fi, err := os.Stat(e.idx.Root)
	return err == nil && fi.IsDir()
}

// kindFor parses a caller supplied kind, defaulting to function.
func kindFor(s string) (model.EntityKind, error) {
	if strings.TrimSpace(s) == "" {
		return model.KindFunction, nil
	}
	k, ok := model.ParseEntityKind(s)
	if !ok {
		return "", fmt.Errorf("unsupported entity type %q, use 'function', 'class' or 'module'", s)
	}
	return k, nil
}

// formatDocstring shows short docstrings whole and long ones by their
// first line.
func formatDocstring(doc string) string {
	if doc == "" {
		return ""
	}
	lines := strings.Split(doc, "\n")
	if len(lines) > 3 {
		return "'''\n" + lines[0] + "\n...\n'''"
	}
	return "'''" + doc + "'''"
}

func paramNames(params []model.Param) string {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	return strings.Join(names, ", ")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
