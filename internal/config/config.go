// Package config loads skein settings from an HCL file.
//
//	cache {
//	  namespaces = 500
//	  files      = 2000
//	  members    = 40000
//	  buffers    = 20
//	}
//	delta { max_depth = 0 }
//	format_on_save = true
//	log_level      = "info"
//	project "core" { path = "./core" }
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/agentic-research/skein/internal/store"
)

// Config is the resolved configuration with defaults applied.
type Config struct {
	Cache        CacheConfig
	Delta        DeltaConfig
	FormatOnSave bool
	LogLevel     string
	Projects     []Project
}

// CacheConfig bounds the body and buffer stores. Zero pins a body tier.
type CacheConfig struct {
	Namespaces int
	Files      int
	Members    int
	Buffers    int
}

// DeltaConfig tunes change detection. MaxDepth 0 compares whole subtrees.
type DeltaConfig struct {
	MaxDepth int
}

// Project maps a project name to its directory.
type Project struct {
	Name string
	Path string
}

// Default returns the stock configuration with no projects.
func Default() *Config {
	caps := store.DefaultCapacities()
	return &Config{
		Cache: CacheConfig{
			Namespaces: caps.Namespace,
			Files:      caps.File,
			Members:    caps.Member,
			Buffers:    store.DefaultBufferCapacity,
		},
		FormatOnSave: true,
		LogLevel:     "info",
	}
}

type fileConfig struct {
	Cache        *cacheBlock    `hcl:"cache,block"`
	Delta        *deltaBlock    `hcl:"delta,block"`
	FormatOnSave *bool          `hcl:"format_on_save,optional"`
	LogLevel     *string        `hcl:"log_level,optional"`
	Projects     []projectBlock `hcl:"project,block"`
}

type cacheBlock struct {
	Namespaces *int `hcl:"namespaces,optional"`
	Files      *int `hcl:"files,optional"`
	Members    *int `hcl:"members,optional"`
	Buffers    *int `hcl:"buffers,optional"`
}

type deltaBlock struct {
	MaxDepth *int `hcl:"max_depth,optional"`
}

type projectBlock struct {
	Name string `hcl:"name,label"`
	Path string `hcl:"path"`
}

// Load reads the HCL file at path. Relative project paths are resolved
// against the file's directory.
func Load(path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(path, src)
	if err != nil {
		return nil, err
	}
	base := filepath.Dir(path)
	for i, p := range cfg.Projects {
		if !filepath.IsAbs(p.Path) {
			cfg.Projects[i].Path = filepath.Join(base, p.Path)
		}
	}
	return cfg, nil
}

// Parse decodes HCL source. filename only labels diagnostics and must end
// in ".hcl".
func Parse(filename string, src []byte) (*Config, error) {
	var fc fileConfig
	if err := hclsimple.Decode(filename, src, nil, &fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg := Default()
	membersSet := false
	if c := fc.Cache; c != nil {
		setInt(&cfg.Cache.Namespaces, c.Namespaces)
		setInt(&cfg.Cache.Files, c.Files)
		membersSet = setInt(&cfg.Cache.Members, c.Members)
		setInt(&cfg.Cache.Buffers, c.Buffers)
	}
	if !membersSet {
		cfg.Cache.Members = 20 * cfg.Cache.Files
	}
	if fc.Delta != nil {
		setInt(&cfg.Delta.MaxDepth, fc.Delta.MaxDepth)
	}
	if fc.FormatOnSave != nil {
		cfg.FormatOnSave = *fc.FormatOnSave
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
	for _, p := range fc.Projects {
		cfg.Projects = append(cfg.Projects, Project{Name: p.Name, Path: p.Path})
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setInt(dst *int, v *int) bool {
	if v == nil {
		return false
	}
	*dst = *v
	return true
}

// Validate rejects negative bounds and ambiguous project lists.
func (c *Config) Validate() error {
	for name, v := range map[string]int{
		"cache.namespaces": c.Cache.Namespaces,
		"cache.files":      c.Cache.Files,
		"cache.members":    c.Cache.Members,
		"cache.buffers":    c.Cache.Buffers,
		"delta.max_depth":  c.Delta.MaxDepth,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %d", name, v)
		}
	}
	seen := make(map[string]bool, len(c.Projects))
	for _, p := range c.Projects {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("project with path %q has no name", p.Path)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate project %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Capacities converts the cache block into body store bounds.
func (c *Config) Capacities() store.Capacities {
	return store.Capacities{
		Namespace: c.Cache.Namespaces,
		File:      c.Cache.Files,
		Member:    c.Cache.Members,
	}
}

// AddProject appends a project, replacing one with the same name.
func (c *Config) AddProject(name, path string) {
	for i, p := range c.Projects {
		if p.Name == name {
			c.Projects[i].Path = path
			return
		}
	}
	c.Projects = append(c.Projects, Project{Name: name, Path: path})
}
