// Package condense fits source text into a token budget. It tries
// progressively smaller renderings (full text, structural outline, syntax
// skeleton, head and tail) and keeps the first that fits.
package condense

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Stage identifies the rendering Fit settled on.
type Stage int

const (
	StageFull Stage = iota + 1
	StageStructure
	StageSkeleton
	StageTruncate
)

func (s Stage) String() string {
	switch s {
	case StageFull:
		return "full"
	case StageStructure:
		return "structure"
	case StageSkeleton:
		return "skeleton"
	case StageTruncate:
		return "truncated"
	}
	return "unknown"
}

// Markers inserted where text was dropped.
const (
	GapMarker       = "⋮"
	OmittedMarker   = "\n\n>>> ...omitted... <<<\n\n"
	TruncatedMarker = "\n\n>>> ...truncated... <<<\n\n"
)

// charsPerToken is the estimate used everywhere budgets are checked.
const charsPerToken = 4

// graceFactor bounds how far the head/tail stage may overshoot before it
// is hard cut.
const graceFactor = 1.5

var errBudgetExceeded = errors.New("budget exceeded")

// EstimateTokens approximates the token count of s.
func EstimateTokens(s string) int {
	return (len(s) + charsPerToken - 1) / charsPerToken
}

// Fits reports whether s is within budget. A non-positive budget means
// unlimited.
func Fits(s string, budget int) bool {
	return budget <= 0 || EstimateTokens(s) <= budget
}

// Options tune the structural stages.
type Options struct {
	// Python enables the skeleton stage.
	Python bool
	// LinesOfInterest are 1-based line numbers always kept, and marked,
	// by the structure stage.
	LinesOfInterest []int
}

// Result is the fitted text and the stage that produced it.
type Result struct {
	Text  string
	Stage Stage
}

type stageFunc func(source string, budget int, opts Options) (string, error)

var stages = []struct {
	stage Stage
	run   stageFunc
}{
	{StageFull, full},
	{StageStructure, structure},
	{StageSkeleton, skeleton},
}

// Fit returns the first rendering of source within budget tokens. The last
// resort is HeadTail, which may exceed budget by at most the grace factor.
func Fit(source string, budget int, opts Options) Result {
	for _, s := range stages {
		text, err := s.run(source, budget, opts)
		if err == nil {
			return Result{Text: text, Stage: s.stage}
		}
	}
	return Result{Text: HeadTail(source, budget), Stage: StageTruncate}
}

func full(source string, budget int, _ Options) (string, error) {
	if !Fits(source, budget) {
		return "", errBudgetExceeded
	}
	return source, nil
}

var (
	defLine    = regexp.MustCompile(`^\s*(async\s+)?(def|class)\s+`)
	importLine = regexp.MustCompile(`^\s*(import|from)\s+`)
)

// importWindow limits import detection to the top of the file.
const importWindow = 50

// structure keeps def and class lines with the docstrings that follow
// them, imports near the top of the file and the caller's lines of
// interest. Each kept line brings one line of context; dropped runs are
// shown as a single gap marker.
func structure(source string, budget int, opts Options) (string, error) {
	lines := strings.Split(source, "\n")
	keep := make(map[int]bool)

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case defLine.MatchString(line):
			keep[i] = true
			i = markDocstring(lines, i+1, keep)
		case i < importWindow && importLine.MatchString(line):
			keep[i] = true
		}
	}

	marked := make(map[int]bool, len(opts.LinesOfInterest))
	for _, n := range opts.LinesOfInterest {
		if n >= 1 && n <= len(lines) {
			keep[n-1] = true
			marked[n-1] = true
		}
	}
	if len(keep) == 0 {
		return "", errBudgetExceeded
	}

	withContext := make(map[int]bool, len(keep)*3)
	for i := range keep {
		for j := i - 1; j <= i+1; j++ {
			if j >= 0 && j < len(lines) {
				withContext[j] = true
			}
		}
	}
	idx := make([]int, 0, len(withContext))
	for i := range withContext {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	var b strings.Builder
	prev := -1
	for _, i := range idx {
		if i > prev+1 {
			b.WriteString(GapMarker + "\n")
		}
		if marked[i] {
			b.WriteString(">>> ")
		}
		b.WriteString(lines[i])
		b.WriteByte('\n')
		prev = i
	}
	if prev < len(lines)-1 && strings.TrimSpace(strings.Join(lines[prev+1:], "")) != "" {
		b.WriteString(GapMarker + "\n")
	}

	out := b.String()
	if !Fits(out, budget) {
		return "", errBudgetExceeded
	}
	return out, nil
}

// markDocstring keeps the docstring starting at line i, if any, and
// returns the index of the last line it consumed.
func markDocstring(lines []string, i int, keep map[int]bool) int {
	if i >= len(lines) {
		return i - 1
	}
	quote := ""
	switch {
	case strings.Contains(lines[i], `"""`):
		quote = `"""`
	case strings.Contains(lines[i], `'''`):
		quote = `'''`
	default:
		return i - 1
	}
	keep[i] = true
	if strings.Count(lines[i], quote) >= 2 {
		return i
	}
	for j := i + 1; j < len(lines); j++ {
		keep[j] = true
		if strings.Contains(lines[j], quote) {
			return j
		}
	}
	return len(lines) - 1
}

// HeadTail keeps the first and last halves of the budget around an
// omission marker. Output longer than 1.5x the budget is cut hard.
func HeadTail(text string, budget int) string {
	if Fits(text, budget) {
		return text
	}
	limit := budget * charsPerToken
	half := (limit - len(OmittedMarker)) / 2
	if half <= 0 {
		return prefix(text, limit)
	}

	out := prefix(text, half) + OmittedMarker + suffix(text, half)
	if float64(EstimateTokens(out)) > graceFactor*float64(budget) {
		out = prefix(out, limit) + TruncatedMarker
	}
	return out
}

// prefix returns at most n bytes of s without splitting a rune.
func prefix(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// suffix returns at most n trailing bytes of s without splitting a rune.
func suffix(s string, n int) string {
	if n >= len(s) {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
