// Package lang provides the language registry mapping file extensions to
// tree-sitter grammars, plus node helpers shared by the extractor and the
// source condenser.
package lang

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// NotebookExtension marks Jupyter notebooks. Their code cells are parsed
// with the Python grammar.
const NotebookExtension = ".ipynb"

var whitespaceRe = regexp.MustCompile(`\s+`)

// Language holds tree-sitter configuration for a structured language.
type Language struct {
	Name       string
	Extensions []string
	lang       *sitter.Language

	callQuery string
	queryOnce sync.Once
	query     *sitter.Query
	queryErr  error
}

// GetLanguage returns the tree-sitter Language pointer.
func (l *Language) GetLanguage() *sitter.Language {
	return l.lang
}

// NewParser creates a fresh tree-sitter parser for this language.
// Each goroutine must use its own parser (not thread-safe).
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.lang)
	return p
}

// CallQuery returns the compiled call-site query (safe to share across
// goroutines). Matches carry a @call capture for the call expression and a
// @callee capture for its function part.
func (l *Language) CallQuery() (*sitter.Query, error) {
	l.queryOnce.Do(func() {
		q, err := sitter.NewQuery([]byte(l.callQuery), l.lang)
		if err != nil {
			l.queryErr = fmt.Errorf("compiling %s call query: %w", l.Name, err)
			return
		}
		l.query = q
	})
	return l.query, l.queryErr
}

// Languages maps language names to their configuration.
// Populated by init() functions in per-language files.
var Languages = map[string]*Language{}

// extensionMap is built lazily after all init() functions have run.
var extensionMap map[string]string
var extensionOnce sync.Once

func getExtensionMap() map[string]string {
	extensionOnce.Do(func() {
		extensionMap = make(map[string]string)
		for _, l := range Languages {
			for _, ext := range l.Extensions {
				extensionMap[ext] = l.Name
			}
		}
	})
	return extensionMap
}

// ForExtension returns the language name for a file extension, or "" if unsupported.
func ForExtension(ext string) string {
	return getExtensionMap()[ext]
}

// ForPath returns the structured language for a file path, or nil when the
// file is opaque text. Notebooks report Python.
func ForPath(p string) *Language {
	ext := strings.ToLower(path.Ext(p))
	if ext == NotebookExtension {
		return Languages["python"]
	}
	return Languages[ForExtension(ext)]
}

// IsNotebook reports whether p names a Jupyter notebook.
func IsNotebook(p string) bool {
	return strings.EqualFold(path.Ext(p), NotebookExtension)
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

// CollapseWhitespace replaces runs of whitespace with a single space and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
