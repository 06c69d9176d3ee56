package parse

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/phobologic/repoindex/internal/model"
)

type notebook struct {
	Cells []struct {
		CellType string          `json:"cell_type"`
		Source   json.RawMessage `json:"source"`
	} `json:"cells"`
}

// cellSource accepts both encodings nbformat allows: one string or a list
// of line strings.
func cellSource(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		return strings.Join(lines, "")
	}
	return ""
}

// FlattenNotebook renders a notebook as a Python-looking script: code cells
// under "# In[n]:" markers, markdown cells as comments. Raw cells are
// dropped.
func FlattenNotebook(content []byte) (string, error) {
	var nb notebook
	if err := json.Unmarshal(content, &nb); err != nil {
		return "", err
	}
	var sb strings.Builder
	n := 0
	for _, cell := range nb.Cells {
		src := strings.TrimRight(cellSource(cell.Source), "\n")
		switch cell.CellType {
		case "code":
			n++
			fmt.Fprintf(&sb, "# In[%d]:\n", n)
			sb.WriteString(src)
			sb.WriteString("\n\n")
		case "markdown":
			for _, line := range strings.Split(src, "\n") {
				sb.WriteString("# ")
				sb.WriteString(line)
				sb.WriteString("\n")
			}
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n") + "\n", nil
}

// notebookResult stores a notebook as an opaque module. Notebooks that fail
// to decode keep their raw JSON so they stay searchable.
func notebookResult(relPath string, content []byte) *Result {
	text, err := FlattenNotebook(content)
	if err != nil {
		text = string(content)
	}
	return &Result{Module: &model.Module{
		ID:       OpaqueModuleID(relPath),
		Path:     relPath,
		Language: model.LangNotebook,
		Opaque:   true,
		Content:  text,
		Lines:    model.CountLines(text),
	}}
}
