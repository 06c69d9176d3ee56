// Package parse extracts structural entities from source files using
// tree-sitter. Python files become modules with classes, functions, imports
// and unresolved call descriptors; every other file becomes an opaque text
// module.
package parse

import (
	"context"
	"path"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/repoindex/internal/lang"
	"github.com/phobologic/repoindex/internal/model"
)

// Result is everything extracted from one file.
type Result struct {
	Module    *model.Module
	Classes   []*model.Class
	Functions []*model.Function
}

// Extractor owns one tree-sitter parser. It is not safe for concurrent use;
// give each worker its own.
type Extractor struct {
	parser *sitter.Parser
	calls  *sitter.Query
}

// NewExtractor returns an Extractor for the Python grammar.
func NewExtractor() (*Extractor, error) {
	py := lang.Python()
	q, err := py.CallQuery()
	if err != nil {
		return nil, err
	}
	return &Extractor{parser: py.NewParser(), calls: q}, nil
}

// Extract parses one file. relPath must be relative to the repository root.
// A Python file with syntax errors returns a *model.ParseError; a canceled
// ctx returns ctx.Err().
func (e *Extractor) Extract(ctx context.Context, relPath string, content []byte) (*Result, error) {
	relPath = strings.ReplaceAll(relPath, "\\", "/")
	if !utf8.Valid(content) {
		content = []byte(strings.ToValidUTF8(string(content), "�"))
	}

	switch {
	case lang.IsNotebook(relPath):
		return notebookResult(relPath, content), nil
	case lang.ForPath(relPath) == nil:
		return opaqueResult(relPath, content), nil
	}
	return e.extractPython(ctx, relPath, content)
}

// OpaqueModuleID is the id of a non-Python file: the extension is dropped
// and separators become dots.
func OpaqueModuleID(relPath string) string {
	trimmed := strings.TrimSuffix(relPath, path.Ext(relPath))
	if trimmed == "" || strings.HasSuffix(trimmed, "/") {
		trimmed = relPath
	}
	return strings.ReplaceAll(trimmed, "/", ".")
}

// QualifiedOpaqueID keeps the extension. It is used when OpaqueModuleID
// collides with a Python module.
func QualifiedOpaqueID(relPath string) string {
	return strings.ReplaceAll(relPath, "/", ".")
}

func opaqueLanguage(relPath string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(relPath)), ".")
	if ext == "" {
		return "text"
	}
	return ext
}

func opaqueResult(relPath string, content []byte) *Result {
	text := string(content)
	return &Result{Module: &model.Module{
		ID:       OpaqueModuleID(relPath),
		Path:     relPath,
		Language: opaqueLanguage(relPath),
		Opaque:   true,
		Content:  text,
		Lines:    model.CountLines(text),
	}}
}

func (e *Extractor) extractPython(ctx context.Context, relPath string, content []byte) (*Result, error) {
	tree, err := e.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &model.ParseError{Path: relPath, Msg: err.Error()}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, &model.ParseError{Path: relPath, Line: firstErrorLine(root), Msg: "syntax error"}
	}

	text := string(content)
	b := &builder{
		src:    content,
		lines:  strings.Split(text, "\n"),
		funcs:  make(map[string]*model.Function),
		cls:    make(map[string]*model.Class),
		bySpan: make(map[span]*model.Function),
		mod: &model.Module{
			ID:        model.ModuleID(relPath),
			Path:      relPath,
			Language:  model.LangPython,
			Docstring: lang.Docstring(root, content),
			Content:   text,
			Lines:     model.CountLines(text),
		},
	}
	b.visit(root, scope{kind: scopeModule})
	b.collectCalls(e.calls, root)
	return b.result(), nil
}

// firstErrorLine returns the 1-based line of the first ERROR or MISSING
// node, or 0.
func firstErrorLine(n *sitter.Node) int {
	if n.IsError() || n.IsMissing() {
		return int(n.StartPoint().Row) + 1
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.HasError() || child.IsMissing() {
			if line := firstErrorLine(child); line > 0 {
				return line
			}
		}
	}
	return 0
}

type scopeKind int

const (
	scopeModule scopeKind = iota
	scopeClass
	scopeFunction
)

type scope struct {
	kind scopeKind
	id   string // class or function id; empty at module scope
}

type span struct {
	start, end uint32
}

func spanOf(n *sitter.Node) span {
	return span{n.StartByte(), n.EndByte()}
}

// compound lists statements whose blocks may hold definitions visible at
// the enclosing scope.
var compound = map[string]bool{
	"block":                true,
	"if_statement":         true,
	"elif_clause":          true,
	"else_clause":          true,
	"try_statement":        true,
	"except_clause":        true,
	"except_group_clause":  true,
	"finally_clause":       true,
	"with_statement":       true,
	"for_statement":        true,
	"while_statement":      true,
	"match_statement":      true,
	"case_clause":          true,
	"decorated_definition": true,
}

type builder struct {
	src   []byte
	lines []string
	mod   *model.Module

	funcOrder []string
	funcs     map[string]*model.Function
	clsOrder  []string
	cls       map[string]*model.Class
	bySpan    map[span]*model.Function
}

func (b *builder) visit(node *sitter.Node, sc scope) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "function_definition":
			b.function(child, sc)
		case "class_definition":
			b.class(child, sc)
		case "import_statement", "import_from_statement", "future_import_statement":
			if sc.kind == scopeModule {
				b.imports(child)
			}
		default:
			if compound[child.Type()] {
				b.visit(child, sc)
			}
		}
	}
}

func (b *builder) function(def *sitter.Node, sc scope) {
	name := lang.Name(def, b.src)
	if name == "" {
		return
	}
	var id string
	switch sc.kind {
	case scopeModule:
		id = b.mod.ID + "." + name
	default:
		id = sc.id + "." + name
	}

	start, end := b.defLines(def)
	fn := &model.Function{
		ID:         id,
		Name:       name,
		Module:     b.mod.ID,
		Signature:  lang.Signature(def, b.src),
		Docstring:  lang.Docstring(def, b.src),
		Params:     lang.Params(def, b.src),
		Returns:    lang.Returns(def, b.src),
		Async:      lang.IsAsync(def),
		Decorators: lang.Decorators(def, b.src),
		Source:     b.source(start, end),
		StartLine:  start,
		EndLine:    end,
	}

	_, redefined := b.funcs[id]
	if redefined {
		b.dropUnder(id)
	}
	switch sc.kind {
	case scopeModule:
		b.mod.Functions = appendUnique(b.mod.Functions, id)
	case scopeClass:
		fn.Class = sc.id
		c := b.cls[sc.id]
		c.Methods = appendUnique(c.Methods, id)
	case scopeFunction:
		fn.Parent = sc.id
		parent := b.funcs[sc.id]
		parent.Nested = appendUnique(parent.Nested, id)
	}
	if !redefined {
		b.funcOrder = append(b.funcOrder, id)
	}
	b.funcs[id] = fn
	b.bySpan[spanOf(def)] = fn

	if body := def.ChildByFieldName("body"); body != nil {
		b.visit(body, scope{kind: scopeFunction, id: id})
	}
}

func (b *builder) class(def *sitter.Node, sc scope) {
	// Classes local to a function body are not indexed.
	if sc.kind == scopeFunction {
		return
	}
	name := lang.Name(def, b.src)
	if name == "" {
		return
	}
	id := b.mod.ID + "." + name
	if sc.kind == scopeClass {
		id = sc.id + "." + name
	}

	start, end := b.defLines(def)
	c := &model.Class{
		ID:        id,
		Name:      name,
		Module:    b.mod.ID,
		Signature: lang.Signature(def, b.src),
		Docstring: lang.Docstring(def, b.src),
		Bases:     lang.Bases(def, b.src),
		Source:    b.source(start, end),
		StartLine: start,
		EndLine:   end,
	}

	if _, redefined := b.cls[id]; redefined {
		b.dropUnder(id)
	} else {
		b.clsOrder = append(b.clsOrder, id)
	}
	b.cls[id] = c
	b.mod.Classes = appendUnique(b.mod.Classes, id)

	if body := def.ChildByFieldName("body"); body != nil {
		b.visit(body, scope{kind: scopeClass, id: id})
	}
}

// dropUnder removes entities nested under id. A redefinition replaces the
// earlier definition together with everything defined inside it.
func (b *builder) dropUnder(id string) {
	prefix := id + "."
	for fid := range b.funcs {
		if strings.HasPrefix(fid, prefix) {
			delete(b.funcs, fid)
		}
	}
	for cid := range b.cls {
		if strings.HasPrefix(cid, prefix) {
			delete(b.cls, cid)
		}
	}
	b.mod.Classes = removePrefixed(b.mod.Classes, prefix)
	b.mod.Functions = removePrefixed(b.mod.Functions, prefix)
}

// defLines returns the 1-based line range of a definition, including its
// decorators.
func (b *builder) defLines(def *sitter.Node) (int, int) {
	outer := def
	if p := def.Parent(); p != nil && p.Type() == "decorated_definition" {
		outer = p
	}
	return int(outer.StartPoint().Row) + 1, int(def.EndPoint().Row) + 1
}

func (b *builder) source(start, end int) string {
	if start < 1 || start > len(b.lines) {
		return ""
	}
	end = min(end, len(b.lines))
	return strings.Join(b.lines[start-1:end], "\n")
}

func (b *builder) imports(stmt *sitter.Node) {
	owner := b.mod.ID
	switch stmt.Type() {
	case "import_statement":
		for i := 0; i < int(stmt.NamedChildCount()); i++ {
			name, alias := importName(stmt.NamedChild(i), b.src)
			if name == "" {
				continue
			}
			b.mod.Imports = append(b.mod.Imports, model.ImportRecord{
				Kind: model.ImportPlain, Module: name, Name: name, Alias: alias, Owner: owner,
			})
		}
	case "import_from_statement", "future_import_statement":
		target, level := "__future__", 0
		if mn := stmt.ChildByFieldName("module_name"); mn != nil {
			target, level = b.fromTarget(mn)
		}
		for i := 0; i < int(stmt.ChildCount()); i++ {
			child := stmt.Child(i)
			var name, alias string
			switch {
			case child.Type() == "wildcard_import":
				name = "*"
			case stmt.FieldNameForChild(i) == "name":
				name, alias = importName(child, b.src)
			default:
				continue
			}
			if name == "" {
				continue
			}
			b.mod.Imports = append(b.mod.Imports, model.ImportRecord{
				Kind: model.ImportFrom, Module: target, Name: name, Alias: alias, Level: level, Owner: owner,
			})
		}
	}
}

func importName(n *sitter.Node, src []byte) (name, alias string) {
	switch n.Type() {
	case "dotted_name", "identifier":
		return lang.CollapseWhitespace(lang.NodeText(n, src)), ""
	case "aliased_import":
		if nn := n.ChildByFieldName("name"); nn != nil {
			name = lang.CollapseWhitespace(lang.NodeText(nn, src))
		}
		if a := n.ChildByFieldName("alias"); a != nil {
			alias = lang.NodeText(a, src)
		}
	}
	return name, alias
}

// fromTarget resolves the module of a from-import to an absolute dotted
// id. Relative levels climb from the importing module's package.
func (b *builder) fromTarget(mn *sitter.Node) (string, int) {
	if mn.Type() != "relative_import" {
		return lang.CollapseWhitespace(lang.NodeText(mn, b.src)), 0
	}
	level := 0
	var rest string
	for i := 0; i < int(mn.ChildCount()); i++ {
		child := mn.Child(i)
		switch child.Type() {
		case "import_prefix":
			level = strings.Count(lang.NodeText(child, b.src), ".")
		case "dotted_name":
			rest = lang.NodeText(child, b.src)
		}
	}
	return ResolveRelative(b.mod.ID, level, rest), level
}

// ResolveRelative turns a relative import of the given level into an
// absolute module id. Levels that climb past the root keep what is left.
func ResolveRelative(moduleID string, level int, name string) string {
	parts := strings.Split(moduleID, ".")
	drop := level
	if drop > len(parts) {
		drop = len(parts)
	}
	base := parts[:len(parts)-drop]
	if name != "" {
		base = append(append([]string(nil), base...), name)
	}
	return strings.Join(base, ".")
}

// collectCalls runs the call query over the tree and attaches each call to
// its innermost indexed function.
func (b *builder) collectCalls(q *sitter.Query, root *sitter.Node) {
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, root)

	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		var call, callee *sitter.Node
		for _, c := range match.Captures {
			switch q.CaptureNameForId(c.Index) {
			case "call":
				call = c.Node
			case "callee":
				callee = c.Node
			}
		}
		if call == nil || callee == nil {
			continue
		}
		fnNode := lang.EnclosingFunction(call)
		if fnNode == nil {
			continue
		}
		fn, ok := b.bySpan[spanOf(fnNode)]
		if !ok || b.funcs[fn.ID] != fn {
			continue
		}
		desc, ok := describeCall(callee, b.src)
		if !ok {
			continue
		}
		desc.Line = int(call.StartPoint().Row) + 1
		fn.Calls = append(fn.Calls, desc)
	}
}

func describeCall(callee *sitter.Node, src []byte) (model.CallDescriptor, bool) {
	parts, ok := lang.DottedPath(callee, src)
	if !ok {
		return model.CallDescriptor{}, false
	}
	switch len(parts) {
	case 1:
		return model.CallDescriptor{Kind: model.CallSimple, Name: parts[0]}, true
	case 2:
		return model.CallDescriptor{Kind: model.CallAttr, Object: parts[0], Attribute: parts[1]}, true
	default:
		return model.CallDescriptor{Kind: model.CallNested, Path: strings.Join(parts, ".")}, true
	}
}

// result emits entities in first-definition order. Ids dropped and later
// redefined may appear twice in the order lists.
func (b *builder) result() *Result {
	r := &Result{Module: b.mod}
	emitted := make(map[string]bool)
	for _, id := range b.clsOrder {
		if c, ok := b.cls[id]; ok && !emitted[id] {
			emitted[id] = true
			r.Classes = append(r.Classes, c)
		}
	}
	for _, id := range b.funcOrder {
		if fn, ok := b.funcs[id]; ok && !emitted[id] {
			emitted[id] = true
			r.Functions = append(r.Functions, fn)
		}
	}
	return r
}

func appendUnique(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

func removePrefixed(list []string, prefix string) []string {
	out := list[:0]
	for _, id := range list {
		if !strings.HasPrefix(id, prefix) {
			out = append(out, id)
		}
	}
	return out
}
