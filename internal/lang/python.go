package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/phobologic/repoindex/internal/model"
)

const pythonCallQuery = `(call function: [(identifier) (attribute)] @callee) @call`

func init() {
	Languages["python"] = &Language{
		Name:       "python",
		Extensions: []string{".py"},
		lang:       python.GetLanguage(),
		callQuery:  pythonCallQuery,
	}
}

// Python returns the registered Python language.
func Python() *Language {
	return Languages["python"]
}

// Name returns the identifier of a class_definition or function_definition.
func Name(def *sitter.Node, source []byte) string {
	if n := def.ChildByFieldName("name"); n != nil {
		return NodeText(n, source)
	}
	for i := 0; i < int(def.ChildCount()); i++ {
		child := def.Child(i)
		if child.Type() == "identifier" {
			return NodeText(child, source)
		}
	}
	return ""
}

// Unwrap returns the definition inside a decorated_definition, or node itself.
func Unwrap(node *sitter.Node) *sitter.Node {
	if node.Type() == "decorated_definition" {
		if def := node.ChildByFieldName("definition"); def != nil {
			return def
		}
	}
	return node
}

// EnclosingClass returns the class_definition a function is defined
// directly in, or nil.
func EnclosingClass(funcNode *sitter.Node) *sitter.Node {
	parent := funcNode.Parent()
	if parent == nil {
		return nil
	}

	// Direct: func -> block -> class_definition
	if parent.Type() == "block" && parent.Parent() != nil && parent.Parent().Type() == "class_definition" {
		return parent.Parent()
	}

	// Decorated: func -> decorated_definition -> block -> class_definition
	if parent.Type() == "decorated_definition" {
		gp := parent.Parent()
		if gp != nil && gp.Type() == "block" && gp.Parent() != nil && gp.Parent().Type() == "class_definition" {
			return gp.Parent()
		}
	}

	return nil
}

// EnclosingFunction returns the innermost function_definition containing
// node. A class body between node and the function hides it, so statements
// at class level report nil.
func EnclosingFunction(node *sitter.Node) *sitter.Node {
	for current := node.Parent(); current != nil; current = current.Parent() {
		switch current.Type() {
		case "function_definition":
			return current
		case "class_definition":
			return nil
		}
	}
	return nil
}

// Docstring returns the cleaned docstring of a module, class or function
// node, or "".
func Docstring(node *sitter.Node, source []byte) string {
	body := node
	if node.Type() != "module" {
		body = node.ChildByFieldName("body")
		if body == nil {
			return ""
		}
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		if stmt.Type() == "comment" {
			continue
		}
		if stmt.Type() != "expression_statement" || stmt.NamedChildCount() == 0 {
			return ""
		}
		str := stmt.NamedChild(0)
		if str.Type() != "string" {
			return ""
		}
		return CleanDoc(StringValue(NodeText(str, source)))
	}
	return ""
}

// StringValue strips the prefix and quotes from a Python string literal.
// Escape sequences are left as written.
func StringValue(lit string) string {
	s := strings.TrimLeft(lit, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(s) >= 2*len(q) && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return s[len(q) : len(s)-len(q)]
		}
	}
	return s
}

// CleanDoc removes the uniform indentation of docstring continuation lines
// and trims blank leading and trailing lines.
func CleanDoc(doc string) string {
	lines := strings.Split(strings.ReplaceAll(doc, "\t", "        "), "\n")
	margin := -1
	for _, line := range lines[1:] {
		stripped := strings.TrimLeft(line, " ")
		if stripped == "" {
			continue
		}
		indent := len(line) - len(stripped)
		if margin < 0 || indent < margin {
			margin = indent
		}
	}
	lines[0] = strings.TrimLeft(lines[0], " ")
	if margin > 0 {
		for i := 1; i < len(lines); i++ {
			if len(lines[i]) >= margin {
				lines[i] = lines[i][margin:]
			} else {
				lines[i] = strings.TrimLeft(lines[i], " ")
			}
		}
	}
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	return strings.Join(lines, "\n")
}

// Signature renders a one-line signature for a class or function definition.
func Signature(def *sitter.Node, source []byte) string {
	def = Unwrap(def)
	if def.Type() == "class_definition" {
		name := Name(def, source)
		if args := def.ChildByFieldName("superclasses"); args != nil {
			return name + CollapseWhitespace(NodeText(args, source))
		}
		return name
	}

	var name, params, returnType string
	name = Name(def, source)
	if p := def.ChildByFieldName("parameters"); p != nil {
		params = CollapseWhitespace(NodeText(p, source))
	}
	if r := def.ChildByFieldName("return_type"); r != nil {
		returnType = CollapseWhitespace(NodeText(r, source))
	}
	sig := name + params
	if IsAsync(def) {
		sig = "async " + sig
	}
	if returnType != "" {
		sig += " -> " + returnType
	}
	return sig
}

// IsAsync reports whether a function_definition is declared async.
func IsAsync(def *sitter.Node) bool {
	return def.ChildCount() > 0 && def.Child(0).Type() == "async"
}

// Bases returns the base class expressions of a class_definition. Only
// names and dotted paths are kept; keyword arguments such as metaclass=
// are dropped.
func Bases(classNode *sitter.Node, source []byte) []string {
	args := classNode.ChildByFieldName("superclasses")
	if args == nil {
		return nil
	}
	var bases []string
	for i := 0; i < int(args.NamedChildCount()); i++ {
		child := args.NamedChild(i)
		switch child.Type() {
		case "identifier", "attribute":
			bases = append(bases, CollapseWhitespace(NodeText(child, source)))
		}
	}
	return bases
}

// Decorators returns the decorator expressions applied to a definition,
// without the leading @.
func Decorators(def *sitter.Node, source []byte) []string {
	parent := def.Parent()
	if parent == nil || parent.Type() != "decorated_definition" {
		return nil
	}
	var out []string
	for i := 0; i < int(parent.NamedChildCount()); i++ {
		child := parent.NamedChild(i)
		if child.Type() == "decorator" {
			text := strings.TrimPrefix(strings.TrimSpace(NodeText(child, source)), "@")
			out = append(out, CollapseWhitespace(text))
		}
	}
	return out
}

// Params extracts the parameter list of a function_definition. Bare * and
// / separators are skipped; splat parameters keep their * or ** prefix.
func Params(def *sitter.Node, source []byte) []model.Param {
	plist := def.ChildByFieldName("parameters")
	if plist == nil {
		return nil
	}
	var params []model.Param
	for i := 0; i < int(plist.NamedChildCount()); i++ {
		p := plist.NamedChild(i)
		var name string
		var typ *sitter.Node
		switch p.Type() {
		case "identifier", "list_splat_pattern", "dictionary_splat_pattern":
			name = NodeText(p, source)
		case "typed_parameter":
			if p.NamedChildCount() > 0 {
				name = NodeText(p.NamedChild(0), source)
			}
			typ = p.ChildByFieldName("type")
		case "default_parameter":
			if n := p.ChildByFieldName("name"); n != nil {
				name = NodeText(n, source)
			}
		case "typed_default_parameter":
			if n := p.ChildByFieldName("name"); n != nil {
				name = NodeText(n, source)
			}
			typ = p.ChildByFieldName("type")
		default:
			continue
		}
		if name == "" || name == "*" || name == "/" {
			continue
		}
		param := model.Param{Name: name}
		if typ != nil {
			param.Type = Annotation(typ, source)
		}
		params = append(params, param)
	}
	return params
}

// Returns resolves the return annotation of a function_definition.
func Returns(def *sitter.Node, source []byte) string {
	if r := def.ChildByFieldName("return_type"); r != nil {
		return Annotation(r, source)
	}
	return ""
}

// Annotation resolves a type annotation to a string. Names, dotted paths and
// single-level subscripts such as List[str] are supported; a subscript with
// a complex parameter renders as Container[unknown] and anything else
// yields "".
func Annotation(node *sitter.Node, source []byte) string {
	node = unwrapType(node)
	switch node.Type() {
	case "identifier", "attribute":
		if path, ok := DottedPath(node, source); ok {
			return strings.Join(path, ".")
		}
	case "member_type":
		text := NodeText(node, source)
		if !strings.ContainsAny(text, "[(|") {
			return strings.ReplaceAll(CollapseWhitespace(text), " ", "")
		}
	case "subscript":
		value := node.ChildByFieldName("value")
		if value == nil {
			return ""
		}
		var param *sitter.Node
		if node.NamedChildCount() == 2 {
			param = node.NamedChild(1)
		}
		return subscriptAnnotation(value, param, source)
	case "generic_type":
		if node.NamedChildCount() != 2 {
			return ""
		}
		var param *sitter.Node
		if tp := node.NamedChild(1); tp.NamedChildCount() == 1 {
			param = unwrapType(tp.NamedChild(0))
		}
		return subscriptAnnotation(node.NamedChild(0), param, source)
	}
	return ""
}

// subscriptAnnotation renders Container[Param]. A parameter that is not a
// name or dotted path renders as unknown.
func subscriptAnnotation(container, param *sitter.Node, source []byte) string {
	c, ok := DottedPath(container, source)
	if !ok {
		return ""
	}
	p := "unknown"
	if param != nil {
		if parts, ok := DottedPath(param, source); ok {
			p = strings.Join(parts, ".")
		}
	}
	return strings.Join(c, ".") + "[" + p + "]"
}

func unwrapType(node *sitter.Node) *sitter.Node {
	for node.Type() == "type" && node.NamedChildCount() == 1 {
		node = node.NamedChild(0)
	}
	return node
}

// DottedPath flattens an identifier or a chain of attribute accesses rooted
// at an identifier into its parts. Chains rooted at anything else (calls,
// subscripts) report false.
func DottedPath(node *sitter.Node, source []byte) ([]string, bool) {
	var parts []string
	for node != nil && node.Type() == "attribute" {
		attr := node.ChildByFieldName("attribute")
		if attr == nil {
			return nil, false
		}
		parts = append(parts, NodeText(attr, source))
		node = node.ChildByFieldName("object")
	}
	if node == nil || node.Type() != "identifier" {
		return nil, false
	}
	parts = append(parts, NodeText(node, source))
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return parts, true
}
