package query

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

const treeIndent = "    "

type dirNode struct {
	name  string
	dirs  map[string]*dirNode
	files []string
	// cut marks a directory whose contents lie beyond the depth limit.
	cut bool
}

func newDirNode(name string) *dirNode {
	return &dirNode{name: name, dirs: make(map[string]*dirNode)}
}

// ListRepositoryStructure renders the directory tree under the root or
// under sub, applying the scanner's ignore rules. The live filesystem is
// used when the root exists; otherwise the tree is rebuilt from the
// indexed module paths.
func (e *Explorer) ListRepositoryStructure(sub string) string {
	rel, ok := e.relPath(sub)
	if !ok {
		return fmt.Sprintf("path is outside the repository: %s", sub)
	}

	var root *dirNode
	if e.rootAvailable() {
		abs := e.absPath(rel)
		fi, err := os.Stat(abs)
		if err != nil || !fi.IsDir() {
			return fmt.Sprintf("directory not found: %s", sub)
		}
		root = e.readDir(abs, rel, 0)
	} else {
		root = e.indexTree(rel)
		if root == nil {
			return fmt.Sprintf("directory not found: %s", sub)
		}
	}

	var b strings.Builder
	e.renderDir(&b, root, 0)
	return strings.TrimRight(b.String(), "\n")
}

func (e *Explorer) treeName(rel string) string {
	if rel == "" {
		return filepath.Base(e.idx.Root)
	}
	return path.Base(rel)
}

func (e *Explorer) readDir(abs, rel string, depth int) *dirNode {
	node := newDirNode(e.treeName(rel))
	if e.tooDeep(depth) {
		node.cut = true
		return node
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return node
	}
	for _, ent := range entries {
		childRel := path.Join(rel, ent.Name())
		switch {
		case ent.Type()&os.ModeSymlink != 0:
		case ent.IsDir():
			if e.rules.SkipDir(ent.Name()) {
				continue
			}
			node.dirs[ent.Name()] = e.readDir(filepath.Join(abs, ent.Name()), childRel, depth+1)
		default:
			if !e.rules.ShouldIgnore(childRel) {
				node.files = append(node.files, ent.Name())
			}
		}
	}
	return node
}

// indexTree rebuilds the directory tree below rel from module paths. It
// returns nil when no indexed file lives there.
func (e *Explorer) indexTree(rel string) *dirNode {
	root := newDirNode(e.treeName(rel))
	found := false
	for _, m := range e.idx.Modules {
		p := m.Path
		if rel != "" {
			if !strings.HasPrefix(p, rel+"/") {
				continue
			}
			p = strings.TrimPrefix(p, rel+"/")
		}
		found = true
		parts := strings.Split(p, "/")
		node := root
		node.cut = e.tooDeep(0)
		for depth, dir := range parts[:len(parts)-1] {
			if node.cut {
				break
			}
			child, ok := node.dirs[dir]
			if !ok {
				child = newDirNode(dir)
				child.cut = e.tooDeep(depth + 1)
				node.dirs[dir] = child
			}
			node = child
		}
		if !node.cut {
			node.files = append(node.files, parts[len(parts)-1])
		}
	}
	if !found {
		return nil
	}
	return root
}

// tooDeep reports whether a directory at depth is beyond the listing
// limit. A non-positive limit means unlimited.
func (e *Explorer) tooDeep(depth int) bool {
	return e.budgets.TreeDepth > 0 && depth >= e.budgets.TreeDepth
}

func (e *Explorer) renderDir(b *strings.Builder, node *dirNode, depth int) {
	indent := strings.Repeat(treeIndent, depth)
	sub := indent + treeIndent
	fmt.Fprintf(b, "%s%s/\n", indent, node.name)
	if node.cut {
		fmt.Fprintf(b, "%s... max depth reached\n", sub)
		return
	}

	sort.Strings(node.files)
	files := node.files
	limit := e.budgets.TreeFilesPerDir
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	for _, f := range files {
		fmt.Fprintf(b, "%s%s\n", sub, f)
	}
	if len(files) < len(node.files) {
		fmt.Fprintf(b, "%s... %d more files\n", sub, len(node.files)-len(files))
	}

	names := make([]string, 0, len(node.dirs))
	for name := range node.dirs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e.renderDir(b, node.dirs[name], depth+1)
	}
}
