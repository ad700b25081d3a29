package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	c := Default()
	if c.Tiers.MaxTier1Tools != 15 {
		t.Fatalf("expected default max tier1 tools 15, got %d", c.Tiers.MaxTier1Tools)
	}
	if c.Router.Alpha != 0.2 {
		t.Fatalf("expected default router alpha 0.2, got %f", c.Router.Alpha)
	}
}

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	userPath := filepath.Join(dir, "user.yaml")
	projectPath := filepath.Join(dir, "project.yaml")

	if err := os.WriteFile(userPath, []byte("governor:\n  defaultMaxTokens: 5000\nrouter:\n  alpha: 0.3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(projectPath, []byte("governor:\n  defaultMaxTokens: 7500\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(userPath, projectPath, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Governor.DefaultMaxTokens != 7500 {
		t.Fatalf("expected project layer to win, got %d", cfg.Governor.DefaultMaxTokens)
	}
	if cfg.Router.Alpha != 0.3 {
		t.Fatalf("expected user layer value to survive when project doesn't override, got %f", cfg.Router.Alpha)
	}
	// Unset fields should still carry the default.
	if cfg.Tiers.MaxTier1Tools != 15 {
		t.Fatalf("expected default to survive merge for untouched fields, got %d", cfg.Tiers.MaxTier1Tools)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LOOMWORK_GOVERNOR_DEFAULTMAXTOKENS", "42000")
	t.Setenv("LOOMWORK_EXECUTOR_DEFAULTCONCURRENCY", "8")

	cfg, err := Load("", "", "LOOMWORK")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Governor.DefaultMaxTokens != 42000 {
		t.Fatalf("expected env override to win, got %d", cfg.Governor.DefaultMaxTokens)
	}
	if cfg.Executor.DefaultConcurrency != 8 {
		t.Fatalf("expected env override to win, got %d", cfg.Executor.DefaultConcurrency)
	}
}

func TestLoadMissingFilesAreNotErrors(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), filepath.Join(t.TempDir(), "nope2.yaml"), "")
	if err != nil {
		t.Fatalf("missing config files should not be an error: %v", err)
	}
	if cfg.DataDir == "" {
		t.Fatal("expected default data dir to survive")
	}
}

func TestLoadInvalidConfigFailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("governor:\n  warnThreshold: 1.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, "", ""); err == nil {
		t.Fatal("expected validation error for warnThreshold out of range")
	}
}
