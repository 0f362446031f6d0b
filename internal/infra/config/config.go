package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"agentcore/internal/domain"
)

// MasterKeyEnv names the env var holding the passphrase for enc: values.
const MasterKeyEnv = "AGENTCORE_MASTER_KEY"

// Concurrency bounds enforced by the scheduler.
const (
	MinConcurrent = 1
	MaxConcurrent = 10
)

// Config is the top-level application configuration.
type Config struct {
	Scheduler SchedulerConfig          `yaml:"scheduler"`
	Executor  ExecutorConfig           `yaml:"executor"`
	Tools     ToolsConfig              `yaml:"tools"`
	LLM       LLMConfig                `yaml:"llm"`
	Agents    []domain.AgentDescriptor `yaml:"agents,omitempty"`
	Recurring []RecurringConfig        `yaml:"recurring,omitempty"`
	Gateway   GatewayConfig            `yaml:"gateway"`
	Logger    LoggerConfig             `yaml:"logger"`
	Tracer    TracerConfig             `yaml:"tracer"`
	Includes  []string                 `yaml:"includes,omitempty"`
}

// SchedulerConfig holds priority-queue admission settings.
type SchedulerConfig struct {
	MaxConcurrent   int `yaml:"max_concurrent"`
	DefaultPriority int `yaml:"default_priority"`
}

// ExecutorConfig holds task execution settings.
type ExecutorConfig struct {
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
	ModelPreference []string      `yaml:"model_preference"`
	Strategy        string        `yaml:"strategy"`
}

// RateLimitConfig is a per-tool token bucket.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"rps"`
	Burst     int     `yaml:"burst"`
}

// ToolsConfig holds tool registry settings.
type ToolsConfig struct {
	StrictSchema bool                       `yaml:"strict_schema"`
	RateLimit    map[string]RateLimitConfig `yaml:"rate_limit,omitempty"`
	Builtin      []string                   `yaml:"builtin,omitempty"`
	SandboxRoot  string                     `yaml:"sandbox_root"`
}

// FailoverConfig holds model failover settings.
type FailoverConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Fallbacks []string `yaml:"fallbacks"`
}

// LLMConfig holds inference provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	Failover        FailoverConfig       `yaml:"failover"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Region      string        `yaml:"region,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// RecurringConfig defines a task submitted on a schedule.
type RecurringConfig struct {
	Name     string         `yaml:"name"`
	Schedule string         `yaml:"schedule"` // cron expression or duration string
	AgentID  string         `yaml:"agent_id"`
	Type     string         `yaml:"type"`
	Input    any            `yaml:"input,omitempty"`
	Priority *int           `yaml:"priority,omitempty"`
	Timeout  time.Duration  `yaml:"timeout,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

// GatewayConfig holds WebSocket gateway settings.
type GatewayConfig struct {
	Enabled         bool                   `yaml:"enabled"`
	Addr            string                 `yaml:"addr"`
	MaxMessageBytes int64                  `yaml:"max_message_bytes"`
	RateLimit       GatewayRateLimitConfig `yaml:"rate_limit"`
}

// GatewayRateLimitConfig bounds HTTP requests and WebSocket handshakes per
// client IP. Zero RequestsPerMin disables limiting.
type GatewayRateLimitConfig struct {
	RequestsPerMin int      `yaml:"requests_per_min"`
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source"`
	Service   string `yaml:"service"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxConcurrent:   3,
			DefaultPriority: domain.DefaultPriority,
		},
		Executor: ExecutorConfig{
			DefaultTimeout: 60 * time.Second,
			Strategy:       domain.StrategyAdaptive,
		},
		Tools: ToolsConfig{
			SandboxRoot: ".",
		},
		LLM: LLMConfig{
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Gateway: GatewayConfig{
			Addr:            "127.0.0.1:8790",
			MaxMessageBytes: 1 << 20,
		},
		Logger: LoggerConfig{
			Level:   "info",
			Format:  "text",
			Output:  "stderr",
			Service: "agentcore",
		},
		Tracer: TracerConfig{
			Exporter:    "noop",
			ServiceName: "agentcore",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		loader := newIncludeLoader(absPath)
		if err := loader.include(cfg, cfg.Includes, filepath.Dir(absPath), 0); err != nil {
			return nil, err
		}

		// Second pass: re-unmarshal main config so its settings take
		// precedence over includes, then append the included declarations.
		clearDeclarations(cfg)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
		if err := loader.apply(cfg, absPath); err != nil {
			return nil, err
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv(MasterKeyEnv); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps AGENTCORE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTCORE_SCHEDULER_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.MaxConcurrent = n
		}
	}
	if v := os.Getenv("AGENTCORE_EXECUTOR_DEFAULT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Executor.DefaultTimeout = d
		}
	}
	if v := os.Getenv("AGENTCORE_EXECUTOR_MODEL_PREFERENCE"); v != "" {
		cfg.Executor.ModelPreference = splitAndTrim(v, ",")
	}
	if v := os.Getenv("AGENTCORE_TOOLS_STRICT_SCHEMA"); v != "" {
		cfg.Tools.StrictSchema = v == "true"
	}
	if v := os.Getenv("AGENTCORE_TOOLS_SANDBOX_ROOT"); v != "" {
		cfg.Tools.SandboxRoot = v
	}
	if v := os.Getenv("AGENTCORE_TOOLS_BUILTIN"); v != "" {
		cfg.Tools.Builtin = splitAndTrim(v, ",")
	}
	if v := os.Getenv("AGENTCORE_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("AGENTCORE_GATEWAY_ENABLED"); v != "" {
		cfg.Gateway.Enabled = v == "true"
	}
	if v := os.Getenv("AGENTCORE_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("AGENTCORE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("AGENTCORE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("AGENTCORE_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("AGENTCORE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("AGENTCORE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}

	// Per-provider API key overrides: AGENTCORE_LLM_PROVIDER_<NAME>_API_KEY
	for i := range cfg.LLM.Providers {
		envKey := fmt.Sprintf("AGENTCORE_LLM_PROVIDER_%s_API_KEY",
			strings.ToUpper(cfg.LLM.Providers[i].Name))
		if v := os.Getenv(envKey); v != "" {
			cfg.LLM.Providers[i].APIKey = v
		}
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// decryptSecrets finds "enc:..." values in provider API keys and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.LLM.Providers {
		key := cfg.LLM.Providers[i].APIKey
		if !strings.HasPrefix(key, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(key, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("provider %s api_key: %w", cfg.LLM.Providers[i].Name, err)
		}
		cfg.LLM.Providers[i].APIKey = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
