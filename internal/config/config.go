// Package config holds repoindex settings: scan limits, importance weights,
// output budgets and git options. Settings load from YAML or TOML over the
// built-in defaults, then from REPOINDEX_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Signal names, used as weight keys and score breakdown keys.
const (
	SignalUsage         = "usage"
	SignalCentrality    = "centrality"
	SignalComplexity    = "complexity"
	SignalSemantic      = "semantic"
	SignalGitHistory    = "git_history"
	SignalDocumentation = "documentation"
	SignalSize          = "size"
)

// Signals lists every signal in breakdown order.
var Signals = []string{
	SignalUsage,
	SignalCentrality,
	SignalComplexity,
	SignalSemantic,
	SignalGitHistory,
	SignalDocumentation,
	SignalSize,
}

// FileNames are the config files Discover looks for in a repository root.
var FileNames = []string{".repoindex.yaml", ".repoindex.yml", ".repoindex.toml"}

// Config is the full configuration.
type Config struct {
	Scan     ScanConfig   `yaml:"scan" toml:"scan" json:"scan"`
	Weights  Weights      `yaml:"weights" toml:"weights" json:"weights"`
	Package  PackageBlend `yaml:"package" toml:"package" json:"package"`
	Budgets  Budgets      `yaml:"budgets" toml:"budgets" json:"budgets"`
	Git      GitConfig    `yaml:"git" toml:"git" json:"git"`
	Analysis Analysis     `yaml:"analysis" toml:"analysis" json:"analysis"`
	LogLevel string       `yaml:"log_level" toml:"log_level" json:"log_level"`
	Workers  int          `yaml:"workers" toml:"workers" json:"workers"`
}

// ScanConfig bounds the repository walk.
type ScanConfig struct {
	IgnoredDirs         []string `yaml:"ignored_dirs" toml:"ignored_dirs" json:"ignored_dirs"`
	IgnoredFilePatterns []string `yaml:"ignored_file_patterns" toml:"ignored_file_patterns" json:"ignored_file_patterns"`
	IgnoredExtensions   []string `yaml:"ignored_extensions" toml:"ignored_extensions" json:"ignored_extensions"`
	Include             []string `yaml:"include" toml:"include" json:"include"`
	Exclude             []string `yaml:"exclude" toml:"exclude" json:"exclude"`
	MaxDepth            int      `yaml:"max_depth" toml:"max_depth" json:"max_depth"`
	MaxFilesPerDir      int      `yaml:"max_files_per_dir" toml:"max_files_per_dir" json:"max_files_per_dir"`
	SkipDirFiles        int      `yaml:"skip_dir_files" toml:"skip_dir_files" json:"skip_dir_files"`
	TruncateDirFiles    int      `yaml:"truncate_dir_files" toml:"truncate_dir_files" json:"truncate_dir_files"`
	TruncateKeep        int      `yaml:"truncate_keep" toml:"truncate_keep" json:"truncate_keep"`
	MaxFileSize         int64    `yaml:"max_file_size" toml:"max_file_size" json:"max_file_size"`
	UseGitignore        bool     `yaml:"use_gitignore" toml:"use_gitignore" json:"use_gitignore"`
}

// Weights multiplies each importance signal.
type Weights struct {
	Usage         float64 `yaml:"usage" toml:"usage" json:"usage"`
	Centrality    float64 `yaml:"centrality" toml:"centrality" json:"centrality"`
	Complexity    float64 `yaml:"complexity" toml:"complexity" json:"complexity"`
	Semantic      float64 `yaml:"semantic" toml:"semantic" json:"semantic"`
	GitHistory    float64 `yaml:"git_history" toml:"git_history" json:"git_history"`
	Documentation float64 `yaml:"documentation" toml:"documentation" json:"documentation"`
	Size          float64 `yaml:"size" toml:"size" json:"size"`
}

// PackageBlend controls how package scores aggregate their children.
type PackageBlend struct {
	MaxShare   float64  `yaml:"max_share" toml:"max_share" json:"max_share"`
	MeanShare  float64  `yaml:"mean_share" toml:"mean_share" json:"mean_share"`
	Scale      float64  `yaml:"scale" toml:"scale" json:"scale"`
	NameBonus  float64  `yaml:"name_bonus" toml:"name_bonus" json:"name_bonus"`
	BonusNames []string `yaml:"bonus_names" toml:"bonus_names" json:"bonus_names"`
}

// Budgets are token budgets and listing caps for query output.
type Budgets struct {
	Detail          int `yaml:"detail" toml:"detail" json:"detail"`
	File            int `yaml:"file" toml:"file" json:"file"`
	DocFile         int `yaml:"doc_file" toml:"doc_file" json:"doc_file"`
	TextFile        int `yaml:"text_file" toml:"text_file" json:"text_file"`
	Search          int `yaml:"search" toml:"search" json:"search"`
	SearchLines     int `yaml:"search_lines" toml:"search_lines" json:"search_lines"`
	Overview        int `yaml:"overview" toml:"overview" json:"overview"`
	TreeDepth       int `yaml:"tree_depth" toml:"tree_depth" json:"tree_depth"`
	TreeFilesPerDir int `yaml:"tree_files_per_dir" toml:"tree_files_per_dir" json:"tree_files_per_dir"`
}

// GitConfig controls commit history lookups.
type GitConfig struct {
	Enabled   bool     `yaml:"enabled" toml:"enabled" json:"enabled"`
	Timeout   Duration `yaml:"timeout" toml:"timeout" json:"timeout"`
	CacheSize int      `yaml:"cache_size" toml:"cache_size" json:"cache_size"`
	CacheTTL  Duration `yaml:"cache_ttl" toml:"cache_ttl" json:"cache_ttl"`
}

// Analysis tunes the importance analyzer.
type Analysis struct {
	MaxCentralityModules int `yaml:"max_centrality_modules" toml:"max_centrality_modules" json:"max_centrality_modules"`
	BetweennessSamples   int `yaml:"betweenness_samples" toml:"betweenness_samples" json:"betweenness_samples"`
	KeyModules           int `yaml:"key_modules" toml:"key_modules" json:"key_modules"`
	KeyComponents        int `yaml:"key_components" toml:"key_components" json:"key_components"`
}

// Duration is a time.Duration that reads and writes as "5s" style text.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultIgnoredDirs are directory names never descended into.
var DefaultIgnoredDirs = []string{
	"__pycache__", ".git", ".vscode", "venv", "env", "node_modules",
	".pytest_cache", "build", "dist", ".github", "logs",
}

// DefaultIgnoredFilePatterns match compiled artifacts and editor leftovers.
var DefaultIgnoredFilePatterns = []string{
	`.*\.pyc$`, `.*\.pyo$`, `.*\.pyd$`, `.*\.so$`, `.*\.dll$`,
	`.*\.class$`, `.*\.egg-info$`, `.*~$`, `.*\.swp$`,
}

// DefaultIgnoredExtensions are media, archive and office formats.
var DefaultIgnoredExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tiff", ".ico", ".webp",
	".mp4", ".avi", ".mov", ".wmv", ".flv", ".mpeg", ".mpg", ".m4v", ".mkv", ".webm",
	".mp3", ".wav", ".ogg", ".m4a", ".aac", ".flac", ".wma", ".m4b", ".m4p",
	".zip", ".rar", ".tar", ".gz", ".bz2", ".7z", ".iso", ".dmg", ".pkg", ".deb", ".rpm", ".msi", ".exe", ".app",
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Scan: ScanConfig{
			IgnoredDirs:         append([]string(nil), DefaultIgnoredDirs...),
			IgnoredFilePatterns: append([]string(nil), DefaultIgnoredFilePatterns...),
			IgnoredExtensions:   append([]string(nil), DefaultIgnoredExtensions...),
			MaxDepth:            3,
			MaxFilesPerDir:      40,
			SkipDirFiles:        100,
			TruncateDirFiles:    50,
			TruncateKeep:        5,
			MaxFileSize:         10 * 1024 * 1024,
			UseGitignore:        true,
		},
		Weights: DefaultWeights(),
		Package: PackageBlend{
			MaxShare:   0.7,
			MeanShare:  0.3,
			Scale:      1.5,
			NameBonus:  2.0,
			BonusNames: []string{"src", "core", "main", "api"},
		},
		Budgets: Budgets{
			Detail:          1000,
			File:            5000,
			DocFile:         8000,
			TextFile:        4000,
			Search:          5000,
			SearchLines:     50,
			Overview:        4000,
			TreeDepth:       4,
			TreeFilesPerDir: 30,
		},
		Git: GitConfig{
			Enabled:   true,
			Timeout:   Duration(5 * time.Second),
			CacheSize: 4096,
			CacheTTL:  Duration(10 * time.Minute),
		},
		Analysis: Analysis{
			MaxCentralityModules: 300,
			BetweennessSamples:   20,
			KeyModules:           15,
			KeyComponents:        10,
		},
		LogLevel: "warn",
	}
}

// DefaultWeights returns the default signal weights.
func DefaultWeights() Weights {
	return Weights{
		Usage:         2.0,
		Centrality:    3.0,
		Complexity:    1.0,
		Semantic:      0.5,
		GitHistory:    4.0,
		Documentation: 0.0,
		Size:          0.0,
	}
}

// Get returns the weight of a named signal.
func (w Weights) Get(signal string) float64 {
	if p := w.field(signal); p != nil {
		return *p
	}
	return 0
}

// Apply overrides weights from a signal-name map. Unknown names and
// negative values are rejected.
func (w *Weights) Apply(overrides map[string]float64) error {
	for name, v := range overrides {
		p := w.field(name)
		if p == nil {
			return fmt.Errorf("unknown signal %q", name)
		}
		if v < 0 {
			return fmt.Errorf("weight %q must not be negative", name)
		}
		*p = v
	}
	return nil
}

func (w *Weights) field(signal string) *float64 {
	switch signal {
	case SignalUsage:
		return &w.Usage
	case SignalCentrality, "imports_relationships":
		return &w.Centrality
	case SignalComplexity:
		return &w.Complexity
	case SignalSemantic:
		return &w.Semantic
	case SignalGitHistory:
		return &w.GitHistory
	case SignalDocumentation:
		return &w.Documentation
	case SignalSize:
		return &w.Size
	}
	return nil
}

// Load reads a YAML or TOML file (by extension) over the defaults and then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing %s: %w", path, err)
			}
		case ".toml":
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing %s: %w", path, err)
			}
		default:
			return cfg, fmt.Errorf("%s: unsupported config format", path)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Discover returns the first config file present in root, or "".
func Discover(root string) string {
	for _, name := range FileNames {
		p := filepath.Join(root, name)
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	return ""
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, sig := range Signals {
		key := "REPOINDEX_WEIGHT_" + strings.ToUpper(sig)
		v, ok := lookup(key)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if err := c.Weights.Apply(map[string]float64{sig: f}); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if v, ok := lookup("REPOINDEX_MAX_DEPTH"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REPOINDEX_MAX_DEPTH: %w", err)
		}
		c.Scan.MaxDepth = n
	}
	if v, ok := lookup("REPOINDEX_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookup("REPOINDEX_GIT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("REPOINDEX_GIT: %w", err)
		}
		c.Git.Enabled = b
	}
	return nil
}

// Validate rejects negative limits and weights and malformed patterns.
func (c Config) Validate() error {
	var errs []error
	s := c.Scan
	for name, v := range map[string]int{
		"max_depth":          s.MaxDepth,
		"max_files_per_dir":  s.MaxFilesPerDir,
		"skip_dir_files":     s.SkipDirFiles,
		"truncate_dir_files": s.TruncateDirFiles,
		"truncate_keep":      s.TruncateKeep,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("scan.%s must not be negative", name))
		}
	}
	if s.MaxFileSize < 0 {
		errs = append(errs, errors.New("scan.max_file_size must not be negative"))
	}
	for _, p := range s.IgnoredFilePatterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("scan.ignored_file_patterns %q: %w", p, err))
		}
	}
	for _, g := range append(append([]string(nil), s.Include...), s.Exclude...) {
		if !doublestar.ValidatePattern(g) {
			errs = append(errs, fmt.Errorf("scan glob %q is invalid", g))
		}
	}
	for _, sig := range Signals {
		if c.Weights.Get(sig) < 0 {
			errs = append(errs, fmt.Errorf("weights.%s must not be negative", sig))
		}
	}
	if c.Git.Timeout < 0 {
		errs = append(errs, errors.New("git.timeout must not be negative"))
	}
	return errors.Join(errs...)
}
