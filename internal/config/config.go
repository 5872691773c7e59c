// Package config loads Lattice configuration. Sources, in priority
// order: environment variables > config file > defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in the configuration surface.
type Config struct {
	Fleet        FleetConfig        `yaml:"fleet"`
	Sprite       SpriteConfig       `yaml:"sprite"`
	Guardrails   GuardrailsConfig   `yaml:"guardrails"`
	TaskAllowlist TaskAllowlistConfig `yaml:"task_allowlist"`
	Ambient      AmbientConfig      `yaml:"ambient"`
	Shutdown     ShutdownConfig     `yaml:"shutdown"`
	Exec         ExecConfig         `yaml:"exec"`
	LogLevel     string             `yaml:"log_level"`
}

type FleetConfig struct {
	ReconcileFastMs int `yaml:"reconcile_fast_ms"`
	ReconcileSlowMs int `yaml:"reconcile_slow_ms"`
}

type SpriteConfig struct {
	ReconcileIntervalMs int `yaml:"reconcile_interval_ms"`
	BaseBackoffMs       int `yaml:"base_backoff_ms"`
	MaxBackoffMs        int `yaml:"max_backoff_ms"`
	MaxRetries          int `yaml:"max_retries"`
}

type GuardrailsConfig struct {
	AllowControlled              bool `yaml:"allow_controlled"`
	AllowDangerous               bool `yaml:"allow_dangerous"`
	RequireApprovalForControlled bool `yaml:"require_approval_for_controlled"`
}

type TaskAllowlistConfig struct {
	AutoApproveRepos []string `yaml:"auto_approve_repos"`
}

type AmbientConfig struct {
	CooldownMs int `yaml:"cooldown_ms"`
}

type ShutdownConfig struct {
	DrainTimeoutMs int `yaml:"drain_timeout_ms"`
}

type ExecConfig struct {
	IdleTimeoutMs  int `yaml:"idle_timeout_ms"`
	MaxBufferLines int `yaml:"max_buffer_lines"`
}

// Default returns configuration with the defaults named in the
// configuration surface.
func Default() Config {
	return Config{
		Fleet: FleetConfig{
			ReconcileFastMs: 10_000,
			ReconcileSlowMs: 60_000,
		},
		Sprite: SpriteConfig{
			ReconcileIntervalMs: 5_000,
			BaseBackoffMs:       1_000,
			MaxBackoffMs:        60_000,
			MaxRetries:          10,
		},
		Guardrails: GuardrailsConfig{
			AllowControlled:              true,
			AllowDangerous:               false,
			RequireApprovalForControlled: true,
		},
		TaskAllowlist: TaskAllowlistConfig{AutoApproveRepos: nil},
		Ambient:       AmbientConfig{CooldownMs: 60_000},
		Shutdown:      ShutdownConfig{DrainTimeoutMs: 600_000},
		Exec: ExecConfig{
			IdleTimeoutMs:  300_000,
			MaxBufferLines: 1_000,
		},
		LogLevel: "info",
	}
}

// Load reads configuration from a YAML file (if path is non-empty),
// then overlays environment variables, starting from Default.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// LoadFromEnv loads configuration from defaults plus environment
// variables only, with no file source.
func LoadFromEnv() Config {
	cfg, _ := Load("")
	return cfg
}

func applyEnv(cfg *Config) {
	envInt(&cfg.Fleet.ReconcileFastMs, "LATTICE_FLEET_RECONCILE_FAST_MS")
	envInt(&cfg.Fleet.ReconcileSlowMs, "LATTICE_FLEET_RECONCILE_SLOW_MS")
	envInt(&cfg.Sprite.ReconcileIntervalMs, "LATTICE_SPRITE_RECONCILE_INTERVAL_MS")
	envInt(&cfg.Sprite.BaseBackoffMs, "LATTICE_SPRITE_BASE_BACKOFF_MS")
	envInt(&cfg.Sprite.MaxBackoffMs, "LATTICE_SPRITE_MAX_BACKOFF_MS")
	envInt(&cfg.Sprite.MaxRetries, "LATTICE_SPRITE_MAX_RETRIES")
	envBool(&cfg.Guardrails.AllowControlled, "LATTICE_GUARDRAILS_ALLOW_CONTROLLED")
	envBool(&cfg.Guardrails.AllowDangerous, "LATTICE_GUARDRAILS_ALLOW_DANGEROUS")
	envBool(&cfg.Guardrails.RequireApprovalForControlled, "LATTICE_GUARDRAILS_REQUIRE_APPROVAL_FOR_CONTROLLED")
	if v := os.Getenv("LATTICE_TASK_ALLOWLIST_AUTO_APPROVE_REPOS"); v != "" {
		cfg.TaskAllowlist.AutoApproveRepos = strings.Split(v, ",")
	}
	envInt(&cfg.Ambient.CooldownMs, "LATTICE_AMBIENT_COOLDOWN_MS")
	envInt(&cfg.Shutdown.DrainTimeoutMs, "LATTICE_SHUTDOWN_DRAIN_TIMEOUT_MS")
	envInt(&cfg.Exec.IdleTimeoutMs, "LATTICE_EXEC_IDLE_TIMEOUT_MS")
	envInt(&cfg.Exec.MaxBufferLines, "LATTICE_EXEC_MAX_BUFFER_LINES")
	if v := os.Getenv("LATTICE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

// Save writes configuration to a YAML file.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}
