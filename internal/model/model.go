// Package model defines the repository index: entities stored flat by id,
// with every relationship expressed as id lists.
package model

import (
	"sort"
	"strings"
	"time"
)

// EntityKind names one of the three entity namespaces.
type EntityKind string

const (
	KindModule   EntityKind = "module"
	KindClass    EntityKind = "class"
	KindFunction EntityKind = "function"
)

// ParseEntityKind accepts the kind names used by callers ("function",
// "method", "class", "module"), case-insensitively.
func ParseEntityKind(s string) (EntityKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "function", "method", "func":
		return KindFunction, true
	case "class":
		return KindClass, true
	case "module", "file":
		return KindModule, true
	}
	return "", false
}

// Language values for modules that are not parsed structurally.
const (
	LangPython   = "python"
	LangNotebook = "notebook"
)

// Module is the record for one source file.
type Module struct {
	ID        string         `json:"id"`
	Path      string         `json:"path"`
	Language  string         `json:"language"`
	Opaque    bool           `json:"opaque,omitempty"`
	Docstring string         `json:"docstring,omitempty"`
	Content   string         `json:"content"`
	Lines     int            `json:"lines"`
	Functions []string       `json:"functions,omitempty"`
	Classes   []string       `json:"classes,omitempty"`
	Imports   []ImportRecord `json:"-"`
}

// Name returns the last dotted component of the module id.
func (m *Module) Name() string {
	return LastPart(m.ID)
}

// Class is a class definition.
type Class struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Module        string   `json:"module"`
	Signature     string   `json:"signature,omitempty"`
	Docstring     string   `json:"docstring,omitempty"`
	Bases         []string `json:"bases,omitempty"`
	Methods       []string `json:"methods,omitempty"`
	Source        string   `json:"source"`
	StartLine     int      `json:"start_line"`
	EndLine       int      `json:"end_line"`
	Instantiators []string `json:"instantiators,omitempty"`
}

// Param is one function parameter. Type is empty when the annotation is
// missing or too complex to render.
type Param struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Function is a function or method definition.
type Function struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Module     string           `json:"module"`
	Class      string           `json:"class,omitempty"`
	Parent     string           `json:"parent,omitempty"`
	Nested     []string         `json:"nested,omitempty"`
	Signature  string           `json:"signature,omitempty"`
	Docstring  string           `json:"docstring,omitempty"`
	Params     []Param          `json:"params,omitempty"`
	Returns    string           `json:"returns,omitempty"`
	Async      bool             `json:"async,omitempty"`
	Decorators []string         `json:"decorators,omitempty"`
	Calls      []CallDescriptor `json:"calls,omitempty"`
	Callers    []string         `json:"callers,omitempty"`
	Source     string           `json:"source"`
	StartLine  int              `json:"start_line"`
	EndLine    int              `json:"end_line"`
}

// IsMethod reports whether the function is defined directly in a class body.
func (f *Function) IsMethod() bool {
	return f.Class != ""
}

// ImportKind distinguishes `import x` from `from x import y`.
type ImportKind string

const (
	ImportPlain ImportKind = "import"
	ImportFrom  ImportKind = "import-from"
)

// ImportRecord is one imported name. For ImportPlain, Name equals Module.
// Relative imports are stored with Module already made absolute.
type ImportRecord struct {
	Kind   ImportKind `json:"kind"`
	Module string     `json:"module"`
	Name   string     `json:"name"`
	Alias  string     `json:"alias,omitempty"`
	Level  int        `json:"level,omitempty"`
	Owner  string     `json:"owner"`
}

// LocalName is the name the import binds in the owning module.
func (r ImportRecord) LocalName() string {
	if r.Alias != "" {
		return r.Alias
	}
	if r.Kind == ImportPlain {
		return r.Module
	}
	return r.Name
}

// String renders the record as the statement it came from.
func (r ImportRecord) String() string {
	var s string
	switch r.Kind {
	case ImportPlain:
		s = "import " + r.Module
	case ImportFrom:
		s = "from " + r.Module + " import " + r.Name
	}
	if r.Alias != "" {
		s += " as " + r.Alias
	}
	return s
}

// CallKind tags the shape of a call expression.
type CallKind string

const (
	CallSimple CallKind = "simple-name"
	CallAttr   CallKind = "attribute"
	CallNested CallKind = "nested-attribute"
)

// CallDescriptor is an unresolved call expression. Which fields are set
// depends on Kind: Name for CallSimple, Object and Attribute for CallAttr,
// Path for CallNested.
type CallDescriptor struct {
	Kind      CallKind `json:"kind"`
	Name      string   `json:"name,omitempty"`
	Object    string   `json:"object,omitempty"`
	Attribute string   `json:"attribute,omitempty"`
	Path      string   `json:"path,omitempty"`
	Line      int      `json:"line,omitempty"`
}

// String renders the call the way it appears in source, with empty parens.
func (c CallDescriptor) String() string {
	switch c.Kind {
	case CallSimple:
		return c.Name + "()"
	case CallAttr:
		return c.Object + "." + c.Attribute + "()"
	case CallNested:
		return c.Path + "()"
	}
	return "<unknown call>"
}

// Confidence marks how a call edge was resolved.
type Confidence string

const (
	Exact     Confidence = "exact"
	Heuristic Confidence = "heuristic"
)

// CallEdge is a resolved caller -> callee relationship between functions.
type CallEdge struct {
	Caller     string     `json:"caller"`
	Callee     string     `json:"callee"`
	Confidence Confidence `json:"confidence"`
}

// DepEdge is an importer -> imported relationship between modules.
type DepEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Score is a composite importance score with its per-signal breakdown.
type Score struct {
	Total   float64            `json:"total"`
	Signals map[string]float64 `json:"signals,omitempty"`
}

// KeyModule summarizes a module in importance order.
type KeyModule struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Path           string  `json:"path"`
	Score          float64 `json:"importance_score"`
	ClassesCount   int     `json:"classes_count"`
	FunctionsCount int     `json:"functions_count"`
	Lines          int     `json:"lines"`
	Docstring      string  `json:"docstring,omitempty"`
}

// KeyComponent summarizes a class in importance order.
type KeyComponent struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Module        string  `json:"module"`
	Path          string  `json:"path"`
	Score         float64 `json:"importance_score"`
	PageRank      float64 `json:"pagerank"`
	MethodsCount  int     `json:"methods_count"`
	CalledByCount int     `json:"called_by_count"`
	Lines         int     `json:"lines"`
	Docstring     string  `json:"docstring,omitempty"`
}

// Stats holds repository totals.
type Stats struct {
	TotalModules   int `json:"total_modules"`
	TotalClasses   int `json:"total_classes"`
	TotalFunctions int `json:"total_functions"`
	TotalLines     int `json:"total_lines"`
}

// FailureKind classifies a per-file failure.
type FailureKind string

const (
	FailureParse FailureKind = "parse"
	FailureIO    FailureKind = "io"
)

// Failure records a file that could not be indexed.
type Failure struct {
	Path    string      `json:"path"`
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// Index is the finished, read-only repository index.
type Index struct {
	Root      string
	BuildID   string
	CreatedAt time.Time

	// Fingerprint identifies the scanned file set, for freshness checks.
	Fingerprint string

	Modules   map[string]*Module
	Classes   map[string]*Class
	Functions map[string]*Function

	CallEdges []CallEdge
	DepEdges  []DepEdge
	Failures  []Failure

	ModuleScores  map[string]Score
	ClassScores   map[string]Score
	PackageScores map[string]Score

	KeyModules    []KeyModule
	KeyComponents []KeyComponent
	Stats         Stats
}

// NewIndex returns an empty index rooted at root.
func NewIndex(root string) *Index {
	return &Index{
		Root:          root,
		Modules:       make(map[string]*Module),
		Classes:       make(map[string]*Class),
		Functions:     make(map[string]*Function),
		ModuleScores:  make(map[string]Score),
		ClassScores:   make(map[string]Score),
		PackageScores: make(map[string]Score),
	}
}

// SortedModuleIDs returns all module ids in lexical order.
func (idx *Index) SortedModuleIDs() []string {
	return sortedKeys(idx.Modules)
}

// SortedClassIDs returns all class ids in lexical order.
func (idx *Index) SortedClassIDs() []string {
	return sortedKeys(idx.Classes)
}

// SortedFunctionIDs returns all function ids in lexical order.
func (idx *Index) SortedFunctionIDs() []string {
	return sortedKeys(idx.Functions)
}

// IDs returns the sorted ids of one namespace.
func (idx *Index) IDs(kind EntityKind) []string {
	switch kind {
	case KindModule:
		return idx.SortedModuleIDs()
	case KindClass:
		return idx.SortedClassIDs()
	case KindFunction:
		return idx.SortedFunctionIDs()
	}
	return nil
}

// Has reports whether id exists in the namespace of kind.
func (idx *Index) Has(kind EntityKind, id string) bool {
	switch kind {
	case KindModule:
		_, ok := idx.Modules[id]
		return ok
	case KindClass:
		_, ok := idx.Classes[id]
		return ok
	case KindFunction:
		_, ok := idx.Functions[id]
		return ok
	}
	return false
}

// Callees returns the resolved callees of a function, in edge order.
func (idx *Index) Callees(id string) []CallEdge {
	var out []CallEdge
	for _, e := range idx.CallEdges {
		if e.Caller == id {
			out = append(out, e)
		}
	}
	return out
}

// Importers returns the modules with a dependency edge to moduleID.
func (idx *Index) Importers(moduleID string) []string {
	var out []string
	for _, e := range idx.DepEdges {
		if e.To == moduleID {
			out = append(out, e.From)
		}
	}
	return out
}

// Imported returns the modules moduleID has a dependency edge to.
func (idx *Index) Imported(moduleID string) []string {
	var out []string
	for _, e := range idx.DepEdges {
		if e.From == moduleID {
			out = append(out, e.To)
		}
	}
	return out
}

// ModuleForPath finds the module whose relative path is path.
func (idx *Index) ModuleForPath(path string) (*Module, bool) {
	for _, m := range idx.Modules {
		if m.Path == path {
			return m, true
		}
	}
	return nil, false
}

// Subclasses returns ids of classes listing classID (or its bare name)
// among their bases.
func (idx *Index) Subclasses(classID string) []string {
	c, ok := idx.Classes[classID]
	if !ok {
		return nil
	}
	var out []string
	for _, id := range idx.SortedClassIDs() {
		other := idx.Classes[id]
		for _, b := range other.Bases {
			if b == classID || b == c.Name {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// ComputeStats recomputes Stats from the entity maps.
func (idx *Index) ComputeStats() {
	s := Stats{
		TotalModules:   len(idx.Modules),
		TotalClasses:   len(idx.Classes),
		TotalFunctions: len(idx.Functions),
	}
	for _, m := range idx.Modules {
		s.TotalLines += m.Lines
	}
	idx.Stats = s
}

// ModuleID derives the dotted id for a relative, slash separated path:
// the .py extension is dropped and separators become dots.
func ModuleID(relPath string) string {
	p := strings.TrimSuffix(relPath, ".py")
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.ReplaceAll(p, "/", ".")
}

// LastPart returns the text after the final dot of a dotted id.
func LastPart(id string) string {
	if i := strings.LastIndexByte(id, '.'); i >= 0 {
		return id[i+1:]
	}
	return id
}

// CountLines counts lines the way a line-splitting reader does: a trailing
// newline does not start a new line.
func CountLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
