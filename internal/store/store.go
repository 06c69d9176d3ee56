// Package store saves and loads a finished index as one JSON document,
// optionally compressed.
//
// The compression follows the file extension: ".zst" is zstd and ".s2" is
// S2. Anything else is plain JSON.
package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"

	"github.com/phobologic/repoindex/internal/model"
)

// FormatVersion is bumped whenever the document layout changes
// incompatibly.
const FormatVersion = 1

// ErrFormatVersion is returned by Load for documents written by an
// incompatible version.
var ErrFormatVersion = errors.New("unsupported index format version")

// Meta describes a saved document.
type Meta struct {
	FormatVersion int       `json:"format_version"`
	BuildID       string    `json:"build_id"`
	Root          string    `json:"root"`
	CreatedAt     time.Time `json:"created"`
	Fingerprint   string    `json:"fingerprint,omitempty"`
}

type scores struct {
	Modules  map[string]model.Score `json:"modules"`
	Classes  map[string]model.Score `json:"classes"`
	Packages map[string]model.Score `json:"packages"`
}

// document is the on-disk layout. Import records are a section of their
// own, keyed by module id.
type document struct {
	Meta          Meta                            `json:"meta"`
	Modules       map[string]*model.Module        `json:"modules"`
	Classes       map[string]*model.Class         `json:"classes"`
	Functions     map[string]*model.Function      `json:"functions"`
	Imports       map[string][]model.ImportRecord `json:"imports"`
	Stats         model.Stats                     `json:"stats"`
	KeyComponents []model.KeyComponent            `json:"key_components"`
	KeyModules    []model.KeyModule               `json:"key_modules"`
	CallEdges     []model.CallEdge                `json:"call_edges"`
	Dependencies  []model.DepEdge                 `json:"dependencies"`
	Failures      []model.Failure                 `json:"failures,omitempty"`
	Scores        scores                          `json:"scores"`
}

// Save writes idx to path. The file is replaced atomically.
func Save(path string, idx *model.Index) (err error) {
	doc := document{
		Meta: Meta{
			FormatVersion: FormatVersion,
			BuildID:       idx.BuildID,
			Root:          idx.Root,
			CreatedAt:     idx.CreatedAt,
			Fingerprint:   idx.Fingerprint,
		},
		Modules:       idx.Modules,
		Classes:       idx.Classes,
		Functions:     idx.Functions,
		Imports:       make(map[string][]model.ImportRecord),
		Stats:         idx.Stats,
		KeyComponents: idx.KeyComponents,
		KeyModules:    idx.KeyModules,
		CallEdges:     idx.CallEdges,
		Dependencies:  idx.DepEdges,
		Failures:      idx.Failures,
		Scores: scores{
			Modules:  idx.ModuleScores,
			Classes:  idx.ClassScores,
			Packages: idx.PackageScores,
		},
	}
	for id, m := range idx.Modules {
		if len(m.Imports) > 0 {
			doc.Imports[id] = m.Imports
		}
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating index file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	w, closeW, err := compressor(path, bw)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(&doc); err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	if err := closeW(); err != nil {
		return fmt.Errorf("compressing index: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing index file: %w", err)
	}
	return nil
}

// Load reads an index written by Save.
func Load(path string) (*model.Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	defer f.Close()

	r, closeR, err := decompressor(path, bufio.NewReader(f))
	if err != nil {
		return nil, err
	}
	defer closeR()

	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding index %s: %w", path, err)
	}
	if doc.Meta.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%s: %w %d", path, ErrFormatVersion, doc.Meta.FormatVersion)
	}

	idx := model.NewIndex(doc.Meta.Root)
	idx.BuildID = doc.Meta.BuildID
	idx.CreatedAt = doc.Meta.CreatedAt
	idx.Fingerprint = doc.Meta.Fingerprint
	if doc.Modules != nil {
		idx.Modules = doc.Modules
	}
	if doc.Classes != nil {
		idx.Classes = doc.Classes
	}
	if doc.Functions != nil {
		idx.Functions = doc.Functions
	}
	for id, imports := range doc.Imports {
		if m, ok := idx.Modules[id]; ok {
			m.Imports = imports
		}
	}
	idx.Stats = doc.Stats
	idx.KeyComponents = doc.KeyComponents
	idx.KeyModules = doc.KeyModules
	idx.CallEdges = doc.CallEdges
	idx.DepEdges = doc.Dependencies
	idx.Failures = doc.Failures
	if doc.Scores.Modules != nil {
		idx.ModuleScores = doc.Scores.Modules
	}
	if doc.Scores.Classes != nil {
		idx.ClassScores = doc.Scores.Classes
	}
	if doc.Scores.Packages != nil {
		idx.PackageScores = doc.Scores.Packages
	}
	return idx, nil
}

func compressor(path string, w io.Writer) (io.Writer, func() error, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst":
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd writer: %w", err)
		}
		return zw, zw.Close, nil
	case ".s2":
		sw := s2.NewWriter(w)
		return sw, sw.Close, nil
	}
	return w, func() error { return nil }, nil
}

func decompressor(path string, r io.Reader) (io.Reader, func(), error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd reader: %w", err)
		}
		return zr, zr.Close, nil
	case ".s2":
		return s2.NewReader(r), func() {}, nil
	}
	return r, func() {}, nil
}
