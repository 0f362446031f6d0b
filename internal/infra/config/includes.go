package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"agentcore/internal/domain"
)

const maxIncludeDepth = 10

// fragment is what one file contributed to the declaration lists.
type fragment struct {
	path      string
	agents    []domain.AgentDescriptor
	recurring []RecurringConfig
	providers []ProviderConfig
}

// includeLoader merges the files named under includes: into a Config.
//
// Settings overlay in include order, and Load applies the main file last so
// it wins. Declaration lists (agents, recurring jobs, LLM providers) are
// concatenated instead, so agents can live in one file per team: the main
// file's entries come first, then each included file's in include order.
// Declaring the same agent ID, job name or provider name in two files is an
// error naming both.
type includeLoader struct {
	visited map[string]bool
	files   []fragment
}

func newIncludeLoader(mainPath string) *includeLoader {
	return &includeLoader{visited: map[string]bool{mainPath: true}}
}

// include merges every file matched by patterns, resolved against baseDir.
func (l *includeLoader) include(cfg *Config, patterns []string, baseDir string, depth int) error {
	if depth >= maxIncludeDepth {
		return fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}
	for _, pattern := range patterns {
		paths, err := resolveIncludePaths(pattern, baseDir)
		if err != nil {
			return err
		}
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return fmt.Errorf("config includes: abs path %q: %w", p, err)
			}
			if l.visited[abs] {
				return fmt.Errorf("config includes: circular include detected for %q", abs)
			}
			l.visited[abs] = true

			if err := l.mergeFile(cfg, abs, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeFile overlays one file onto cfg and records its declaration lists.
func (l *includeLoader) mergeFile(cfg *Config, path string, depth int) error {
	if err := validatePermissions(path); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config includes: read %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}

	cfg.Includes = nil
	clearDeclarations(cfg)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config includes: parse %q: %w", path, err)
	}
	l.files = append(l.files, fragment{
		path:      path,
		agents:    cfg.Agents,
		recurring: cfg.Recurring,
		providers: cfg.LLM.Providers,
	})
	clearDeclarations(cfg)

	nested := cfg.Includes
	cfg.Includes = nil
	if len(nested) == 0 {
		return nil
	}
	return l.include(cfg, nested, filepath.Dir(path), depth)
}

// apply appends the collected declarations after the main file's own, which
// cfg holds on entry.
func (l *includeLoader) apply(cfg *Config, mainPath string) error {
	owners := make(map[string]string)
	claim := func(kind, id, path string) error {
		key := kind + "\x00" + id
		if prev, ok := owners[key]; ok {
			return fmt.Errorf("config includes: %s %q declared in both %q and %q", kind, id, prev, path)
		}
		owners[key] = path
		return nil
	}

	all := append([]fragment{{
		path:      mainPath,
		agents:    cfg.Agents,
		recurring: cfg.Recurring,
		providers: cfg.LLM.Providers,
	}}, l.files...)
	clearDeclarations(cfg)

	for _, f := range all {
		for _, a := range f.agents {
			if err := claim("agent", a.ID, f.path); err != nil {
				return err
			}
		}
		for _, r := range f.recurring {
			if err := claim("recurring job", r.Name, f.path); err != nil {
				return err
			}
		}
		for _, p := range f.providers {
			if err := claim("provider", p.Name, f.path); err != nil {
				return err
			}
		}
		cfg.Agents = append(cfg.Agents, f.agents...)
		cfg.Recurring = append(cfg.Recurring, f.recurring...)
		cfg.LLM.Providers = append(cfg.LLM.Providers, f.providers...)
	}
	return nil
}

func clearDeclarations(cfg *Config) {
	cfg.Agents = nil
	cfg.Recurring = nil
	cfg.LLM.Providers = nil
}

// resolveIncludePaths expands pattern relative to baseDir. Patterns that
// climb out of baseDir are rejected.
func resolveIncludePaths(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}
	pattern = filepath.Clean(pattern)

	if rel, err := filepath.Rel(baseDir, pattern); err == nil && strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("config includes: path %q escapes config directory", pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	if len(matches) > 0 {
		return matches, nil
	}
	// An empty glob is fine; a missing literal file is reported by mergeFile.
	if strings.ContainsAny(pattern, "*?[") {
		return nil, nil
	}
	return []string{pattern}, nil
}
