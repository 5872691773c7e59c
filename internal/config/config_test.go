package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Fleet.ReconcileFastMs != 10_000 {
		t.Errorf("expected fast reconcile 10000, got %d", cfg.Fleet.ReconcileFastMs)
	}
	if cfg.Fleet.ReconcileSlowMs != 60_000 {
		t.Errorf("expected slow reconcile 60000, got %d", cfg.Fleet.ReconcileSlowMs)
	}
	if cfg.Sprite.MaxRetries != 10 {
		t.Errorf("expected max retries 10, got %d", cfg.Sprite.MaxRetries)
	}
	if !cfg.Guardrails.AllowControlled {
		t.Error("expected controlled ops allowed by default")
	}
	if cfg.Guardrails.AllowDangerous {
		t.Error("expected dangerous ops disallowed by default")
	}
	if len(cfg.TaskAllowlist.AutoApproveRepos) != 0 {
		t.Errorf("expected empty auto-approve list, got %v", cfg.TaskAllowlist.AutoApproveRepos)
	}
	if cfg.Shutdown.DrainTimeoutMs != 600_000 {
		t.Errorf("expected drain timeout 600000, got %d", cfg.Shutdown.DrainTimeoutMs)
	}
	if cfg.Exec.IdleTimeoutMs != 300_000 {
		t.Errorf("expected idle timeout 300000, got %d", cfg.Exec.IdleTimeoutMs)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected info, got %s", cfg.LogLevel)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
fleet:
  reconcile_fast_ms: 5000
sprite:
  max_retries: 3
guardrails:
  allow_dangerous: true
task_allowlist:
  auto_approve_repos:
    - org/repo-a
    - org/repo-b
`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Fleet.ReconcileFastMs != 5000 {
		t.Errorf("expected 5000, got %d", cfg.Fleet.ReconcileFastMs)
	}
	if cfg.Sprite.MaxRetries != 3 {
		t.Errorf("expected 3, got %d", cfg.Sprite.MaxRetries)
	}
	if !cfg.Guardrails.AllowDangerous {
		t.Error("expected dangerous ops allowed from file")
	}
	if len(cfg.TaskAllowlist.AutoApproveRepos) != 2 {
		t.Fatalf("expected 2 auto-approve repos, got %v", cfg.TaskAllowlist.AutoApproveRepos)
	}
	// file values not overridden by the file should still carry defaults
	if cfg.Fleet.ReconcileSlowMs != 60_000 {
		t.Errorf("expected default slow reconcile 60000, got %d", cfg.Fleet.ReconcileSlowMs)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("fleet:\n  reconcile_fast_ms: 5000\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("LATTICE_FLEET_RECONCILE_FAST_MS", "7000")
	t.Setenv("LATTICE_GUARDRAILS_ALLOW_DANGEROUS", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Fleet.ReconcileFastMs != 7000 {
		t.Errorf("env should override file: got %d", cfg.Fleet.ReconcileFastMs)
	}
	if !cfg.Guardrails.AllowDangerous {
		t.Error("env LATTICE_GUARDRAILS_ALLOW_DANGEROUS=true should allow dangerous ops")
	}
}

func TestLoadFromEnvOnly(t *testing.T) {
	t.Setenv("LATTICE_SPRITE_MAX_RETRIES", "7")
	t.Setenv("LATTICE_TASK_ALLOWLIST_AUTO_APPROVE_REPOS", "org/a,org/b,org/c")
	t.Setenv("LATTICE_LOG_LEVEL", "debug")

	cfg := LoadFromEnv()
	if cfg.Sprite.MaxRetries != 7 {
		t.Errorf("expected 7, got %d", cfg.Sprite.MaxRetries)
	}
	if len(cfg.TaskAllowlist.AutoApproveRepos) != 3 {
		t.Fatalf("expected 3 repos, got %v", cfg.TaskAllowlist.AutoApproveRepos)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected debug, got %s", cfg.LogLevel)
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")

	cfg := Default()
	cfg.Sprite.MaxRetries = 4
	cfg.TaskAllowlist.AutoApproveRepos = []string{"org/repo"}

	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Sprite.MaxRetries != 4 {
		t.Errorf("expected 4, got %d", loaded.Sprite.MaxRetries)
	}
	if len(loaded.TaskAllowlist.AutoApproveRepos) != 1 || loaded.TaskAllowlist.AutoApproveRepos[0] != "org/repo" {
		t.Errorf("unexpected auto-approve repos: %v", loaded.TaskAllowlist.AutoApproveRepos)
	}
}
