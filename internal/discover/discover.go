// Package discover walks a repository and yields the files worth indexing.
package discover

import (
	"iter"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/phobologic/repoindex/internal/config"
)

// FileEntry is one candidate file.
type FileEntry struct {
	Path string // relative to root, slash separated
	Abs  string
	Size int64
}

// Walk yields candidate files under root in path order: within a
// directory, files and subdirectories interleave by name, a subdirectory
// sorting as its name plus "/". Walk stops early when the consumer stops
// ranging.
func Walk(root string, rules *Rules) iter.Seq2[FileEntry, error] {
	return func(yield func(FileEntry, error) bool) {
		walkDir(root, "", 0, rules, yield)
	}
}

// Files collects Walk into a slice sorted by path.
func Files(root string, cfg config.ScanConfig) ([]FileEntry, error) {
	rules, err := NewRules(root, cfg)
	if err != nil {
		return nil, err
	}
	var results []FileEntry
	for entry, err := range Walk(root, rules) {
		if err != nil {
			return nil, err
		}
		results = append(results, entry)
	}
	return results, nil
}

// walkDir returns false once the consumer has asked to stop.
func walkDir(root, rel string, depth int, rules *Rules, yield func(FileEntry, error) bool) bool {
	cfg := rules.cfg
	if depth > cfg.MaxDepth {
		return true
	}

	dirAbs := filepath.Join(root, filepath.FromSlash(rel))
	entries, err := os.ReadDir(dirAbs)
	if err != nil {
		if rel == "" {
			return yield(FileEntry{}, err)
		}
		return true // unreadable subdirectory
	}

	var files, dirs []os.DirEntry
	for _, e := range entries {
		switch {
		case e.Type()&os.ModeSymlink != 0:
			// Skip symlinks
		case e.IsDir():
			if !rules.SkipDir(e.Name()) {
				dirs = append(dirs, e)
			}
		default:
			files = append(files, e)
		}
	}

	// Oversized directories are usually data dumps or vendored code.
	switch {
	case cfg.SkipDirFiles > 0 && len(files) > cfg.SkipDirFiles:
		files = nil
	case cfg.TruncateDirFiles > 0 && len(files) > cfg.TruncateDirFiles:
		files = files[:min(cfg.TruncateKeep, len(files))]
	}

	var kept []FileEntry
	for _, f := range files {
		if cfg.MaxFilesPerDir > 0 && len(kept) >= cfg.MaxFilesPerDir {
			break
		}
		fileRel := path.Join(rel, f.Name())
		if rules.ShouldIgnore(fileRel) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if cfg.MaxFileSize > 0 && info.Size() > cfg.MaxFileSize {
			continue
		}
		kept = append(kept, FileEntry{
			Path: fileRel,
			Abs:  filepath.Join(dirAbs, f.Name()),
			Size: info.Size(),
		})
	}

	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name()+"/" < dirs[j].Name()+"/" })
	i, j := 0, 0
	for i < len(kept) || j < len(dirs) {
		if j == len(dirs) || (i < len(kept) && path.Base(kept[i].Path) < dirs[j].Name()+"/") {
			if !yield(kept[i], nil) {
				return false
			}
			i++
			continue
		}
		dirRel := path.Join(rel, dirs[j].Name())
		j++
		if rules.ignoredByGit(dirRel + "/") {
			continue
		}
		if !walkDir(root, dirRel, depth+1, rules, yield) {
			return false
		}
	}
	return true
}

// ToSlash normalizes a user-supplied relative path.
func ToSlash(p string) string {
	p = filepath.ToSlash(p)
	p = strings.TrimPrefix(p, "./")
	return strings.TrimSuffix(p, "/")
}
