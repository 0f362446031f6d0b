package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Scheduler.MaxConcurrent != 3 {
		t.Errorf("MaxConcurrent = %d, want 3", cfg.Scheduler.MaxConcurrent)
	}
	if cfg.Scheduler.DefaultPriority != 5 {
		t.Errorf("DefaultPriority = %d, want 5", cfg.Scheduler.DefaultPriority)
	}
	if cfg.Executor.DefaultTimeout != 60*time.Second {
		t.Errorf("DefaultTimeout = %v, want 60s", cfg.Executor.DefaultTimeout)
	}
	if cfg.Executor.Strategy != "adaptive" {
		t.Errorf("Strategy = %q, want adaptive", cfg.Executor.Strategy)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.MaxConcurrent != 3 {
		t.Errorf("expected defaults, got MaxConcurrent=%d", cfg.Scheduler.MaxConcurrent)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
scheduler:
  max_concurrent: 4
executor:
  default_timeout: 15s
  model_preference: ["fast", "smart"]
tools:
  strict_schema: true
  builtin: ["echo"]
  rate_limit:
    echo:
      rps: 2
      burst: 4
llm:
  default_provider: "local"
  providers:
    - name: "local"
      type: "openai"
      base_url: "http://localhost:11434/v1"
      api_key: "test-key"
      model: "llama3"
agents:
  - id: "summarizer"
    name: "Summarizer"
    category: "text"
    capabilities:
      - type: "summarize"
recurring:
  - name: "nightly"
    schedule: "@daily"
    agent_id: "summarizer"
    type: "execute"
    input: "digest"
    priority: 2
logger:
  level: "debug"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %d, want 4", cfg.Scheduler.MaxConcurrent)
	}
	if cfg.Executor.DefaultTimeout != 15*time.Second {
		t.Errorf("DefaultTimeout = %v", cfg.Executor.DefaultTimeout)
	}
	if len(cfg.Executor.ModelPreference) != 2 || cfg.Executor.ModelPreference[0] != "fast" {
		t.Errorf("ModelPreference = %v", cfg.Executor.ModelPreference)
	}
	if !cfg.Tools.StrictSchema || cfg.Tools.RateLimit["echo"].Burst != 4 {
		t.Errorf("Tools = %+v", cfg.Tools)
	}
	if len(cfg.LLM.Providers) != 1 || cfg.LLM.Providers[0].APIKey != "test-key" {
		t.Errorf("Providers mismatch: %+v", cfg.LLM.Providers)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].ID != "summarizer" || !cfg.Agents[0].HasCapability("summarize") {
		t.Errorf("Agents mismatch: %+v", cfg.Agents)
	}
	if len(cfg.Recurring) != 1 || cfg.Recurring[0].Priority == nil || *cfg.Recurring[0].Priority != 2 {
		t.Errorf("Recurring mismatch: %+v", cfg.Recurring)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q", cfg.Logger.Level)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENTCORE_SCHEDULER_MAX_CONCURRENT", "8")
	t.Setenv("AGENTCORE_EXECUTOR_DEFAULT_TIMEOUT", "5s")
	t.Setenv("AGENTCORE_EXECUTOR_MODEL_PREFERENCE", "a, b")
	t.Setenv("AGENTCORE_TOOLS_BUILTIN", "echo,list_dir")
	t.Setenv("AGENTCORE_TOOLS_STRICT_SCHEMA", "true")
	t.Setenv("AGENTCORE_GATEWAY_ENABLED", "true")
	t.Setenv("AGENTCORE_LOGGER_LEVEL", "debug")
	t.Setenv("AGENTCORE_TRACER_ENABLED", "true")
	t.Setenv("AGENTCORE_TRACER_EXPORTER", "stdout")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Scheduler.MaxConcurrent != 8 {
		t.Errorf("MaxConcurrent = %d, want 8", cfg.Scheduler.MaxConcurrent)
	}
	if cfg.Executor.DefaultTimeout != 5*time.Second {
		t.Errorf("DefaultTimeout = %v", cfg.Executor.DefaultTimeout)
	}
	if len(cfg.Executor.ModelPreference) != 2 || cfg.Executor.ModelPreference[1] != "b" {
		t.Errorf("ModelPreference = %v", cfg.Executor.ModelPreference)
	}
	if len(cfg.Tools.Builtin) != 2 || !cfg.Tools.StrictSchema {
		t.Errorf("Tools = %+v", cfg.Tools)
	}
	if !cfg.Gateway.Enabled {
		t.Error("Gateway.Enabled should be true")
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "debug")
	}
	if !cfg.Tracer.Enabled || cfg.Tracer.Exporter != "stdout" {
		t.Errorf("Tracer = %+v", cfg.Tracer)
	}
}

func TestEnvOverridesIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("AGENTCORE_SCHEDULER_MAX_CONCURRENT", "lots")
	t.Setenv("AGENTCORE_EXECUTOR_DEFAULT_TIMEOUT", "-1s")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Scheduler.MaxConcurrent != 3 {
		t.Errorf("MaxConcurrent = %d, want 3", cfg.Scheduler.MaxConcurrent)
	}
	if cfg.Executor.DefaultTimeout != 60*time.Second {
		t.Errorf("DefaultTimeout = %v", cfg.Executor.DefaultTimeout)
	}
}

func TestApplyEnvOverridesProviderAPIKey(t *testing.T) {
	t.Setenv("AGENTCORE_LLM_PROVIDER_OPENAI_API_KEY", "sk-env-override")

	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{
		{Name: "openai", APIKey: "sk-original"},
	}
	ApplyEnvOverrides(cfg)

	if cfg.LLM.Providers[0].APIKey != "sk-env-override" {
		t.Errorf("Provider APIKey = %q, want %q", cfg.LLM.Providers[0].APIKey, "sk-env-override")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	passphrase := "test-passphrase-123"
	plaintext := "sk-abcdef123456"

	encrypted, err := EncryptValue(plaintext, passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	decrypted, err := DecryptValue(encrypted, passphrase)
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("got %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	encrypted, err := EncryptValue("secret", "correct-pass")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := DecryptValue(encrypted, "wrong-pass"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
}

func TestDecryptValueMalformed(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"no separator", "abcdef"},
		{"bad salt", "zz:abcd"},
		{"bad ciphertext", "abcd:zz"},
		{"too short", "00112233445566778899aabbccddeeff:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecryptValue(tt.value, "pass"); err == nil {
				t.Errorf("expected error for %q", tt.value)
			}
		})
	}
}

func TestDecryptSecrets(t *testing.T) {
	passphrase := "test-config-key"
	encrypted, err := EncryptValue("sk-secret123456", passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{
		{Name: "enc", APIKey: "enc:" + encrypted},
		{Name: "plain", APIKey: "sk-plain-key"},
	}
	if err := decryptSecrets(cfg, passphrase); err != nil {
		t.Fatalf("decryptSecrets: %v", err)
	}
	if cfg.LLM.Providers[0].APIKey != "sk-secret123456" {
		t.Errorf("APIKey = %q", cfg.LLM.Providers[0].APIKey)
	}
	if cfg.LLM.Providers[1].APIKey != "sk-plain-key" {
		t.Errorf("plain APIKey should remain unchanged")
	}
}

func TestDecryptSecretsInvalidCiphertext(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{
		{Name: "openai", APIKey: "enc:notvalidhex"},
	}
	if err := decryptSecrets(cfg, "passphrase"); err == nil {
		t.Error("expected error for invalid ciphertext")
	}
}

func TestLoadWithMasterKey(t *testing.T) {
	passphrase := "test-load-key"
	encrypted, err := EncryptValue("sk-loadtest", passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
llm:
  providers:
    - name: "openai"
      api_key: "enc:` + encrypted + `"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(MasterKeyEnv, passphrase)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Providers[0].APIKey != "sk-loadtest" {
		t.Errorf("APIKey = %q", cfg.LLM.Providers[0].APIKey)
	}
}

func TestLoadDecryptSecretsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
llm:
  providers:
    - name: "openai"
      api_key: "enc:invalid-not-hex"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(MasterKeyEnv, "some-passphrase")
	if _, err := Load(path); err == nil {
		t.Error("expected error from decrypt secrets")
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "insecure.yaml")
	if err := os.WriteFile(path, []byte("scheduler:\n  max_concurrent: 5\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// Chmod explicitly; WriteFile is subject to umask.
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for insecure permissions")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("invalid: [yaml: bad"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadValidationFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("executor:\n  default_timeout: 0s\n"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("err = %T %v, want *ValidationError", err, err)
	}
}

func TestValidatePermissions(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		mode    os.FileMode
		wantErr bool
	}{
		{0600, false},
		{0644, false},
		{0666, true},
	}
	for _, tt := range tests {
		path := filepath.Join(dir, tt.mode.String()+".yaml")
		if err := os.WriteFile(path, []byte("test"), 0600); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(path, tt.mode); err != nil {
			t.Fatal(err)
		}
		err := validatePermissions(path)
		if (err != nil) != tt.wantErr {
			t.Errorf("mode %o: err = %v, wantErr %v", tt.mode, err, tt.wantErr)
		}
	}

	if err := validatePermissions(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for non-existent file")
	}
}
