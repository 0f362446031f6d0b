package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func agentIDs(cfg *Config) []string {
	ids := make([]string, len(cfg.Agents))
	for i, a := range cfg.Agents {
		ids[i] = a.ID
	}
	return ids
}

func TestIncludesOverlaySettings(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "conf.d/scheduler.yaml", `
scheduler:
  max_concurrent: 8
  default_priority: 2
`)
	writeConfigFile(t, dir, "conf.d/logger.yaml", `
logger:
  level: debug
`)
	path := writeConfigFile(t, dir, "agentcore.yaml", `
includes:
  - "conf.d/*.yaml"
scheduler:
  max_concurrent: 4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %d, want 4 (main file wins)", cfg.Scheduler.MaxConcurrent)
	}
	if cfg.Scheduler.DefaultPriority != 2 {
		t.Errorf("DefaultPriority = %d, want 2 from include", cfg.Scheduler.DefaultPriority)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
	}
}

func TestIncludesConcatenateAgentsAndJobs(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "agents.d/research.yaml", `
agents:
  - id: researcher
    name: Researcher
recurring:
  - name: digest
    schedule: "@daily"
    agent_id: researcher
`)
	writeConfigFile(t, dir, "agents.d/writing.yaml", `
includes:
  - "review/editor.yaml"
agents:
  - id: writer
    name: Writer
`)
	writeConfigFile(t, dir, "agents.d/review/editor.yaml", `
agents:
  - id: editor
    name: Editor
`)
	path := writeConfigFile(t, dir, "agentcore.yaml", `
includes:
  - "agents.d/*.yaml"
agents:
  - id: triage
    name: Triage
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := strings.Join(agentIDs(cfg), ",")
	if got != "triage,researcher,writer,editor" {
		t.Errorf("agents = %s, want main first then includes in order", got)
	}
	if len(cfg.Recurring) != 1 || cfg.Recurring[0].Name != "digest" {
		t.Errorf("recurring = %+v", cfg.Recurring)
	}
}

func TestIncludesNestedCannotClimb(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "shared/editor.yaml", "agents:\n  - id: editor\n    name: Editor\n")
	writeConfigFile(t, dir, "agents.d/writing.yaml", "includes:\n  - ../shared/editor.yaml\n")
	path := writeConfigFile(t, dir, "agentcore.yaml", "includes:\n  - agents.d/writing.yaml\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "escapes config directory") {
		t.Fatalf("err = %v, want escape error", err)
	}
}

func TestIncludesProvidersFromSecretsFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "secrets.yaml", `
llm:
  providers:
    - name: openai
      api_key: sk-from-include
`)
	path := writeConfigFile(t, dir, "agentcore.yaml", `
includes:
  - "secrets.yaml"
llm:
  default_provider: openai
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.LLM.Providers) != 1 || cfg.LLM.Providers[0].APIKey != "sk-from-include" {
		t.Errorf("providers = %+v", cfg.LLM.Providers)
	}
	if cfg.LLM.DefaultProvider != "openai" {
		t.Errorf("DefaultProvider = %q", cfg.LLM.DefaultProvider)
	}
}

func TestIncludesDuplicateDeclarations(t *testing.T) {
	tests := []struct {
		name     string
		main     string
		included string
		want     string
	}{
		{
			name:     "agent in main and include",
			main:     "agents:\n  - id: writer\n    name: Writer\n",
			included: "agents:\n  - id: writer\n    name: Other Writer\n",
			want:     `agent "writer" declared in both`,
		},
		{
			name:     "recurring job",
			main:     "agents:\n  - id: a\n    name: A\nrecurring:\n  - name: nightly\n    schedule: \"@daily\"\n    agent_id: a\n",
			included: "recurring:\n  - name: nightly\n    schedule: \"@hourly\"\n    agent_id: a\n",
			want:     `recurring job "nightly" declared in both`,
		},
		{
			name:     "provider",
			main:     "llm:\n  providers:\n    - name: openai\n      api_key: k1\n",
			included: "llm:\n  providers:\n    - name: openai\n      api_key: k2\n",
			want:     `provider "openai" declared in both`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfigFile(t, dir, "extra.yaml", tt.included)
			path := writeConfigFile(t, dir, "agentcore.yaml", "includes:\n  - extra.yaml\n"+tt.main)

			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
			if !strings.Contains(err.Error(), "extra.yaml") || !strings.Contains(err.Error(), "agentcore.yaml") {
				t.Errorf("error should name both files: %v", err)
			}
		})
	}
}

func TestIncludesRejected(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{
			name:  "circular",
			files: map[string]string{"a.yaml": "includes:\n  - b.yaml\n", "b.yaml": "includes:\n  - a.yaml\n"},
			want:  "circular include",
		},
		{
			name:  "self reference",
			files: map[string]string{"a.yaml": "includes:\n  - ../agentcore.yaml\n"},
			want:  "escapes config directory",
		},
		{
			name: "missing file",
			want: "stat config",
		},
		{
			name:  "invalid yaml",
			files: map[string]string{"a.yaml": "invalid: [yaml: bad"},
			want:  "parse",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				writeConfigFile(t, dir, name, content)
			}
			path := writeConfigFile(t, dir, "agentcore.yaml", "includes:\n  - a.yaml\n")

			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestIncludesMainFileIncludedAgain(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "agentcore.yaml", "includes:\n  - agentcore.yaml\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "circular include") {
		t.Fatalf("err = %v, want circular include", err)
	}
}

func TestIncludesPathTraversal(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "agentcore.yaml", "includes:\n  - ../../../etc/passwd\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "escapes config directory") {
		t.Fatalf("err = %v, want escape error", err)
	}
}

func TestIncludesWritableByOthers(t *testing.T) {
	dir := t.TempDir()
	badFile := writeConfigFile(t, dir, "insecure.yaml", "logger:\n  level: debug\n")
	// Set the mode explicitly: the process umask would mask it on create.
	if err := os.Chmod(badFile, 0o666); err != nil {
		t.Fatal(err)
	}
	path := writeConfigFile(t, dir, "agentcore.yaml", "includes:\n  - insecure.yaml\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "insecure permissions") {
		t.Fatalf("err = %v, want insecure permissions", err)
	}
}

func TestIncludesEmptyGlobAndEmptyFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "empty.yaml", "")
	path := writeConfigFile(t, dir, "agentcore.yaml", `
includes:
  - "empty.yaml"
  - "agents.d/*.yaml"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.MaxConcurrent != 3 {
		t.Errorf("MaxConcurrent = %d, want default 3", cfg.Scheduler.MaxConcurrent)
	}
	if len(cfg.Agents) != 0 {
		t.Errorf("agents = %v", agentIDs(cfg))
	}
}

func TestIncludesMaxDepth(t *testing.T) {
	dir := t.TempDir()
	levels := maxIncludeDepth + 2
	for i := 1; i <= levels; i++ {
		var content string
		if i < levels {
			content = fmt.Sprintf("includes:\n  - level%d.yaml\n", i+1)
		}
		writeConfigFile(t, dir, fmt.Sprintf("level%d.yaml", i), content)
	}
	path := writeConfigFile(t, dir, "agentcore.yaml", "includes:\n  - level1.yaml\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "max depth") {
		t.Fatalf("err = %v, want max depth", err)
	}
}

func TestIncludesNestedWithinDepth(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "level2.yaml", "logger:\n  format: json\nagents:\n  - id: deep\n    name: Deep\n")
	writeConfigFile(t, dir, "level1.yaml", "includes:\n  - level2.yaml\nlogger:\n  level: debug\n")
	path := writeConfigFile(t, dir, "agentcore.yaml", "includes:\n  - level1.yaml\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logger.Format != "json" || cfg.Logger.Level != "debug" {
		t.Errorf("logger = %+v", cfg.Logger)
	}
	if got := agentIDs(cfg); len(got) != 1 || got[0] != "deep" {
		t.Errorf("agents = %v", got)
	}
}
