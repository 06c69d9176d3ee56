package model

import (
	"fmt"
	"strings"
)

// ParseError is a per-file syntax failure. The file is skipped; the build
// continues.
type ParseError struct {
	Path string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

// IOError is an unreadable file.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// GitUnavailableError means commit metadata could not be read for a path.
// It is never fatal.
type GitUnavailableError struct {
	Path string
	Err  error
}

func (e *GitUnavailableError) Error() string {
	return fmt.Sprintf("git metadata unavailable for %s: %v", e.Path, e.Err)
}

func (e *GitUnavailableError) Unwrap() error { return e.Err }

// NotFoundError is an entity lookup with zero candidates.
type NotFoundError struct {
	Kind        EntityKind
	Query       string
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s not found: %s", e.Kind, e.Query)
	if len(e.Suggestions) > 0 {
		b.WriteString("\nDid you mean:")
		for _, s := range e.Suggestions {
			b.WriteString("\n- ")
			b.WriteString(s)
		}
	}
	return b.String()
}

// AmbiguousMatchError is an entity lookup with several candidates.
// Total counts every match; Candidates may be truncated.
type AmbiguousMatchError struct {
	Kind       EntityKind
	Query      string
	Candidates []string
	Total      int
}

// Truncated reports whether Candidates holds fewer ids than matched.
func (e *AmbiguousMatchError) Truncated() bool {
	return e.Total > len(e.Candidates)
}

func (e *AmbiguousMatchError) Error() string {
	var b strings.Builder
	if e.Truncated() {
		fmt.Fprintf(&b, "found %d matching %ss for %q, be more specific. First %d matches:",
			e.Total, e.Kind, e.Query, len(e.Candidates))
	} else {
		fmt.Fprintf(&b, "found %d matching %ss for %q, pick one:", e.Total, e.Kind, e.Query)
	}
	for _, c := range e.Candidates {
		b.WriteString("\n- ")
		b.WriteString(c)
	}
	if e.Truncated() {
		b.WriteString("\n...")
	}
	return b.String()
}
