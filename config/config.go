// ABOUTME: Explicit run configuration: conservative defaults, optional YAML
// ABOUTME: file, environment overrides. Constructed once in main, no globals.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the single configuration object threaded through the program.
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Validate ValidateConfig `yaml:"validate"`
	Scan     ScanConfig     `yaml:"scan"`
	Server   ServerConfig   `yaml:"server"`
}

// LLMConfig configures the text-generation oracle. The API key is never
// read from YAML; it comes from the environment only.
type LLMConfig struct {
	APIKey      string  `yaml:"-"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// WorkflowConfig bounds the repair loop.
type WorkflowConfig struct {
	MaxRetries   int    `yaml:"max_retries"`
	ArtifactFile string `yaml:"artifact_file"`
}

// ValidateConfig bounds each validation container instance.
type ValidateConfig struct {
	BuildMemory    string  `yaml:"build_memory"`
	RunMemory      string  `yaml:"run_memory"`
	CPUs           float64 `yaml:"cpus"`
	PidsLimit      int     `yaml:"pids_limit"`
	PollSeconds    int     `yaml:"poll_seconds"`
	MaxWaitSeconds int     `yaml:"max_wait_seconds"`
	SizeCeilingMB  int64   `yaml:"size_ceiling_mb"`
	VulnScan       bool    `yaml:"vuln_scan"`
	VulnStrict     bool    `yaml:"vuln_strict"`
	VulnBaseMax    int     `yaml:"vuln_base_max"`
}

// ScanConfig bounds repository scanning and digest assembly.
type ScanConfig struct {
	MaxFiles       int `yaml:"max_files"`
	MaxFileBytes   int `yaml:"max_file_bytes"`
	MaxDigestFiles int `yaml:"max_digest_files"`
	MaxDigestBytes int `yaml:"max_digest_bytes"`
}

// ServerConfig configures the optional read-only status server.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the conservative baseline configuration.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Model:       "gpt-4o",
			MaxTokens:   4096,
			Temperature: 0.2,
		},
		Workflow: WorkflowConfig{
			MaxRetries:   3,
			ArtifactFile: "Dockerfile",
		},
		Validate: ValidateConfig{
			BuildMemory:    "2g",
			RunMemory:      "512m",
			CPUs:           1.0,
			PidsLimit:      256,
			PollSeconds:    2,
			MaxWaitSeconds: 120,
			SizeCeilingMB:  0,
			VulnBaseMax:    5,
		},
		Scan: ScanConfig{
			MaxFiles:       2000,
			MaxFileBytes:   16 * 1024,
			MaxDigestFiles: 25,
			MaxDigestBytes: 64 * 1024,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8377",
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (if non-empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("DOCKWRIGHT_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	envStr("DOCKWRIGHT_MODEL", &cfg.LLM.Model)
	envStr("DOCKWRIGHT_BASE_URL", &cfg.LLM.BaseURL)
	envStr("OPENAI_BASE_URL", &cfg.LLM.BaseURL)
	envInt("DOCKWRIGHT_MAX_RETRIES", &cfg.Workflow.MaxRetries)
	envStr("DOCKWRIGHT_ARTIFACT_FILE", &cfg.Workflow.ArtifactFile)
	envStr("DOCKWRIGHT_BUILD_MEMORY", &cfg.Validate.BuildMemory)
	envStr("DOCKWRIGHT_RUN_MEMORY", &cfg.Validate.RunMemory)
	envInt("DOCKWRIGHT_MAX_WAIT_SECONDS", &cfg.Validate.MaxWaitSeconds)
	envInt64("DOCKWRIGHT_SIZE_CEILING_MB", &cfg.Validate.SizeCeilingMB)
	envBool("DOCKWRIGHT_VULN_SCAN", &cfg.Validate.VulnScan)
	envBool("DOCKWRIGHT_VULN_STRICT", &cfg.Validate.VulnStrict)
	envBool("DOCKWRIGHT_SERVE", &cfg.Server.Enabled)
	envStr("DOCKWRIGHT_SERVE_ADDR", &cfg.Server.Addr)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func (c Config) validate() error {
	if c.Workflow.MaxRetries < 0 {
		return fmt.Errorf("workflow.max_retries must be >= 0, got %d", c.Workflow.MaxRetries)
	}
	if c.Workflow.ArtifactFile == "" {
		return fmt.Errorf("workflow.artifact_file must not be empty")
	}
	if c.Validate.PollSeconds <= 0 {
		return fmt.Errorf("validate.poll_seconds must be > 0, got %d", c.Validate.PollSeconds)
	}
	if c.Validate.MaxWaitSeconds <= 0 {
		return fmt.Errorf("validate.max_wait_seconds must be > 0, got %d", c.Validate.MaxWaitSeconds)
	}
	return nil
}

// PollInterval returns the readiness polling interval as a duration.
func (c ValidateConfig) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

// MaxReadyWait returns the readiness ceiling as a duration.
func (c ValidateConfig) MaxReadyWait() time.Duration {
	return time.Duration(c.MaxWaitSeconds) * time.Second
}

// SizeCeilingBytes returns the artifact size ceiling in bytes (0 = disabled).
func (c ValidateConfig) SizeCeilingBytes() int64 {
	return c.SizeCeilingMB * 1024 * 1024
}
