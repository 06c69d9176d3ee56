package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes the path, size and modification time of every file.
// Paths are relative to root; their order does not matter. A file that
// cannot be stated still contributes its path, so deleting a file changes
// the fingerprint.
func Fingerprint(root string, paths []string) string {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	d := xxhash.New()
	for _, p := range sorted {
		_, _ = d.WriteString(p)
		_, _ = d.WriteString("\x00")
		fi, err := os.Stat(filepath.Join(root, filepath.FromSlash(p)))
		if err != nil {
			_, _ = d.WriteString("missing\n")
			continue
		}
		_, _ = d.WriteString(strconv.FormatInt(fi.Size(), 10))
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(strconv.FormatInt(fi.ModTime().UnixNano(), 10))
		_, _ = d.WriteString("\n")
	}
	return fmt.Sprintf("%016x", d.Sum64())
}
