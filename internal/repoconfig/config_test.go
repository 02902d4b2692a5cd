package repoconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(orig); err != nil {
			t.Fatalf("restoring cwd: %v", err)
		}
	})
}

func TestLoadAppliesDefaultsWithNoConfigFile(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IDPrefix() != "bn" {
		t.Fatalf("IDPrefix() = %q, want %q", cfg.IDPrefix(), "bn")
	}
	if cfg.LockTimeout() != 30*time.Second {
		t.Fatalf("LockTimeout() = %v, want 30s", cfg.LockTimeout())
	}
	if !cfg.Fsync() {
		t.Fatalf("Fsync() = false, want true by default")
	}
	if cfg.LogLevel() != "info" {
		t.Fatalf("LogLevel() = %q, want %q", cfg.LogLevel(), "info")
	}
	if cfg.LogFormat() != "text" {
		t.Fatalf("LogFormat() = %q, want %q", cfg.LogFormat(), "text")
	}
}

func TestLoadDiscoversConfigFileWalkingUpFromSubdirectory(t *testing.T) {
	root := t.TempDir()
	bonesDir := filepath.Join(root, ".bones")
	if err := os.MkdirAll(bonesDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	configYAML := "id-prefix: xy\nfsync: false\n"
	if err := os.WriteFile(filepath.Join(bonesDir, "config.yaml"), []byte(configYAML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	sub := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("MkdirAll sub: %v", err)
	}
	chdir(t, sub)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IDPrefix() != "xy" {
		t.Fatalf("IDPrefix() = %q, want %q (from discovered config file)", cfg.IDPrefix(), "xy")
	}
	if cfg.Fsync() {
		t.Fatalf("Fsync() = true, want false (from discovered config file)")
	}
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("BONES_ID_PREFIX", "zz")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IDPrefix() != "zz" {
		t.Fatalf("IDPrefix() = %q, want %q (from BONES_ID_PREFIX)", cfg.IDPrefix(), "zz")
	}
}

func TestAgentPrecedenceFlagBeatsConfigBeatsFallback(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("BONES_AGENT", "env-agent")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Agent("flag-agent"); got != "flag-agent" {
		t.Fatalf("Agent(flag) = %q, want %q", got, "flag-agent")
	}
	if got := cfg.Agent(""); got != "env-agent" {
		t.Fatalf("Agent(\"\") = %q, want %q (from BONES_AGENT)", got, "env-agent")
	}
}

func TestAgentFallsBackToSomethingNonEmpty(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Agent(""); got == "" {
		t.Fatalf("Agent(\"\") returned empty string; every event needs a non-empty agent")
	}
}
