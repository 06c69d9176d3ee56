package condense

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/repoindex/internal/lang"
)

// skeleton renders imports, class headers and function signatures with
// the first docstring line of each. Bodies are elided.
func skeleton(source string, budget int, opts Options) (string, error) {
	if !opts.Python {
		return "", errBudgetExceeded
	}
	out, ok := Skeleton([]byte(source))
	if !ok || !Fits(out, budget) {
		return "", errBudgetExceeded
	}
	return out, nil
}

// Skeleton parses Python source and returns its outline. ok is false when
// the source does not parse or has nothing to outline.
func Skeleton(src []byte) (string, bool) {
	parser := lang.Python().NewParser()
	defer parser.Close()
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return "", false
	}
	defer tree.Close()

	var b strings.Builder
	writeBlock(&b, tree.RootNode(), src, 0)
	if b.Len() == 0 {
		return "", false
	}
	return b.String(), true
}

func writeBlock(b *strings.Builder, block *sitter.Node, src []byte, depth int) {
	indent := strings.Repeat("    ", depth)
	for i := 0; i < int(block.NamedChildCount()); i++ {
		stmt := block.NamedChild(i)
		switch stmt.Type() {
		case "import_statement", "import_from_statement", "future_import_statement":
			if depth == 0 {
				b.WriteString(lang.CollapseWhitespace(lang.NodeText(stmt, src)) + "\n")
			}
		case "class_definition", "function_definition", "decorated_definition":
			writeDef(b, lang.Unwrap(stmt), src, depth, indent)
		}
	}
}

func writeDef(b *strings.Builder, def *sitter.Node, src []byte, depth int, indent string) {
	switch def.Type() {
	case "class_definition":
		b.WriteString(indent + "class " + lang.Signature(def, src) + ":\n")
		writeDocLine(b, def, src, indent+"    ")
		if body := def.ChildByFieldName("body"); body != nil {
			writeBlock(b, body, src, depth+1)
		}
	case "function_definition":
		keyword := "def "
		if lang.IsAsync(def) {
			keyword = "async def "
		}
		sig := strings.TrimPrefix(lang.Signature(def, src), "async ")
		b.WriteString(indent + keyword + sig + ": ...\n")
		writeDocLine(b, def, src, indent+"    ")
	}
}

func writeDocLine(b *strings.Builder, def *sitter.Node, src []byte, indent string) {
	doc := lang.Docstring(def, src)
	if doc == "" {
		return
	}
	first, _, _ := strings.Cut(doc, "\n")
	b.WriteString(indent + `"""` + strings.TrimSpace(first) + `"""` + "\n")
}
