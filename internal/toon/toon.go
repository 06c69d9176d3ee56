// Package toon renders index summaries in TOON (Token-Oriented Object
// Notation), a compact tabular text format for language models.
package toon

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/phobologic/repoindex/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// maxPackages caps the packages table of a summary.
const maxPackages = 10

// Encode renders the map of an index: modules ranked by importance, their
// symbols, module dependencies and resolved calls.
func Encode(idx *model.Index, repoName string) string {
	var parts []string
	parts = append(parts, header(idx, repoName)...)

	mods := rankedModules(idx)
	var moduleRows [][]string
	for _, m := range mods {
		moduleRows = append(moduleRows, []string{m.Path, m.Language, moduleScore(idx, m)})
	}
	parts = append(parts, formatTabular("modules", []string{"path", "language", "score"}, moduleRows))

	var symbolRows [][]string
	for _, m := range mods {
		symbolRows = append(symbolRows, symbolsOf(idx, m)...)
	}
	parts = append(parts, formatTabular("symbols", []string{"file", "name", "kind", "line", "signature"}, symbolRows))

	var depRows [][]string
	for _, d := range idx.DepEdges {
		depRows = append(depRows, []string{d.From, d.To, strings.Join(importedNames(idx, d), " ")})
	}
	parts = append(parts, formatTabular("dependencies", []string{"source", "target", "symbols"}, depRows))

	var callRows [][]string
	for _, ce := range idx.CallEdges {
		callRows = append(callRows, []string{ce.Caller, ce.Callee, string(ce.Confidence)})
	}
	parts = append(parts, formatTabular("calls", []string{"caller", "callee", "confidence"}, callRows))

	if len(idx.Failures) > 0 {
		var failRows [][]string
		for _, f := range idx.Failures {
			failRows = append(failRows, []string{f.Path, string(f.Kind), f.Message})
		}
		parts = append(parts, formatTabular("failures", []string{"path", "kind", "message"}, failRows))
	}

	return strings.Join(parts, "\n")
}

// EncodeSummary renders repository totals, key modules and components,
// the best scoring packages and any import cycles.
func EncodeSummary(idx *model.Index, repoName string, cycles [][]string) string {
	var parts []string
	parts = append(parts, header(idx, repoName)...)

	s := idx.Stats
	parts = append(parts, formatTabular("stats", []string{"modules", "classes", "functions", "lines"}, [][]string{{
		strconv.Itoa(s.TotalModules), strconv.Itoa(s.TotalClasses),
		strconv.Itoa(s.TotalFunctions), strconv.Itoa(s.TotalLines),
	}}))

	var keyRows [][]string
	for _, k := range idx.KeyModules {
		keyRows = append(keyRows, []string{
			k.ID, k.Path, formatScore(k.Score),
			strconv.Itoa(k.ClassesCount), strconv.Itoa(k.FunctionsCount), strconv.Itoa(k.Lines),
		})
	}
	parts = append(parts, formatTabular("key_modules", []string{"id", "path", "score", "classes", "functions", "lines"}, keyRows))

	var compRows [][]string
	for _, k := range idx.KeyComponents {
		compRows = append(compRows, []string{
			k.ID, k.Module, formatScore(k.Score),
			strconv.Itoa(k.MethodsCount), strconv.Itoa(k.CalledByCount),
		})
	}
	parts = append(parts, formatTabular("key_components", []string{"id", "module", "score", "methods", "called_by"}, compRows))

	pkgs := make([]string, 0, len(idx.PackageScores))
	for id := range idx.PackageScores {
		pkgs = append(pkgs, id)
	}
	sort.Slice(pkgs, func(i, j int) bool {
		a, b := idx.PackageScores[pkgs[i]].Total, idx.PackageScores[pkgs[j]].Total
		if a != b {
			return a > b
		}
		return pkgs[i] < pkgs[j]
	})
	if len(pkgs) > maxPackages {
		pkgs = pkgs[:maxPackages]
	}
	var pkgRows [][]string
	for _, id := range pkgs {
		pkgRows = append(pkgRows, []string{id, formatScore(idx.PackageScores[id].Total)})
	}
	parts = append(parts, formatTabular("packages", []string{"package", "score"}, pkgRows))

	if len(cycles) > 0 {
		var cycleRows [][]string
		for _, c := range cycles {
			cycleRows = append(cycleRows, []string{strings.Join(c, " -> ")})
		}
		parts = append(parts, formatTabular("import_cycles", []string{"modules"}, cycleRows))
	}

	return strings.Join(parts, "\n")
}

func header(idx *model.Index, repoName string) []string {
	return []string{
		fmt.Sprintf("repo: %s", encodeValue(repoName)),
		fmt.Sprintf("root: %s", encodeValue(idx.Root)),
	}
}

// rankedModules orders modules by score, highest first, then by path.
// Unscored modules sort last.
func rankedModules(idx *model.Index) []*model.Module {
	mods := make([]*model.Module, 0, len(idx.Modules))
	for _, m := range idx.Modules {
		mods = append(mods, m)
	}
	sort.Slice(mods, func(i, j int) bool {
		a, aok := idx.ModuleScores[mods[i].ID]
		b, bok := idx.ModuleScores[mods[j].ID]
		if aok != bok {
			return aok
		}
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return mods[i].Path < mods[j].Path
	})
	return mods
}

func moduleScore(idx *model.Index, m *model.Module) string {
	s, ok := idx.ModuleScores[m.ID]
	if !ok {
		return ""
	}
	return formatScore(s.Total)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

type symbolRow struct {
	line int
	cols []string
}

// symbolsOf lists the classes, methods and top-level functions of a
// module in line order.
func symbolsOf(idx *model.Index, m *model.Module) [][]string {
	var rows []symbolRow
	add := func(line int, name, kind, sig string) {
		rows = append(rows, symbolRow{line, []string{m.Path, name, kind, strconv.Itoa(line), sig}})
	}
	for _, cid := range m.Classes {
		c, ok := idx.Classes[cid]
		if !ok {
			continue
		}
		add(c.StartLine, c.Name, "class", c.Signature)
		for _, mid := range c.Methods {
			if f, ok := idx.Functions[mid]; ok {
				add(f.StartLine, c.Name+"."+f.Name, "method", f.Signature)
			}
		}
	}
	for _, fid := range m.Functions {
		if f, ok := idx.Functions[fid]; ok {
			add(f.StartLine, f.Name, "function", f.Signature)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].line < rows[j].line })
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = r.cols
	}
	return out
}

// importedNames lists the names the source module takes from the target.
// Plain imports of the target contribute nothing.
func importedNames(idx *model.Index, d model.DepEdge) []string {
	m, ok := idx.Modules[d.From]
	if !ok {
		return nil
	}
	var names []string
	seen := make(map[string]bool)
	for _, imp := range m.Imports {
		if imp.Kind != model.ImportFrom {
			continue
		}
		if imp.Module != d.To && imp.Module+"."+imp.Name != d.To {
			continue
		}
		if !seen[imp.Name] {
			seen[imp.Name] = true
			names = append(names, imp.Name)
		}
	}
	return names
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
