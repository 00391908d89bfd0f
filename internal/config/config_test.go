package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "aura.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address: %q", cfg.Server.Address)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Fatalf("unexpected provider: %q", cfg.LLM.Provider)
	}
	if cfg.Memory.Facts.Driver != "file" || cfg.Memory.Working.Driver != "memory" {
		t.Fatalf("unexpected memory drivers: %+v", cfg.Memory)
	}
	if cfg.Outbound.Driver != "memory" {
		t.Fatalf("unexpected outbound driver: %q", cfg.Outbound.Driver)
	}
	if cfg.ApprovalTimeout() != 2*time.Minute {
		t.Fatalf("unexpected approval timeout: %v", cfg.ApprovalTimeout())
	}
	if cfg.LLMCallTimeout() != time.Minute || cfg.LLMBackoff() != 500*time.Millisecond {
		t.Fatalf("unexpected llm timing: %v %v", cfg.LLMCallTimeout(), cfg.LLMBackoff())
	}
	if cfg.WorkingTTL() != 5*time.Minute {
		t.Fatalf("unexpected working ttl: %v", cfg.WorkingTTL())
	}
	if cfg.SessionIdleTTL() != 30*time.Minute {
		t.Fatalf("unexpected idle ttl: %v", cfg.SessionIdleTTL())
	}
	if cfg.Agent.MaxToolRounds != 5 || cfg.Agent.MemoryDepth != 10 {
		t.Fatalf("unexpected agent defaults: %+v", cfg.Agent)
	}

	base := filepath.Dir(path)
	if cfg.Tools.CatalogPath != filepath.Join(base, "tools.yaml") {
		t.Fatalf("unexpected catalog path: %q", cfg.Tools.CatalogPath)
	}
	if cfg.Runtime.DataDir != filepath.Join(base, "data") {
		t.Fatalf("unexpected data dir: %q", cfg.Runtime.DataDir)
	}
}

func TestLoadRelativePaths(t *testing.T) {
	path := writeConfig(t, `{
  "tools": {"catalog_path": "conf/tools.yaml"},
  "policy": {"rules_path": "conf/policy.yaml"},
  "runtime": {"data_dir": "var"}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	base := filepath.Dir(path)
	if cfg.Tools.CatalogPath != filepath.Join(base, "conf/tools.yaml") {
		t.Fatalf("unexpected catalog path: %q", cfg.Tools.CatalogPath)
	}
	if cfg.Policy.RulesPath != filepath.Join(base, "conf/policy.yaml") {
		t.Fatalf("unexpected rules path: %q", cfg.Policy.RulesPath)
	}
	if cfg.Runtime.DataDir != filepath.Join(base, "var") {
		t.Fatalf("unexpected data dir: %q", cfg.Runtime.DataDir)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	path := writeConfig(t, `{
  "server": {"address": ":9090", "owner_token": "secret"},
  "logging": {"level": "debug", "format": "json"},
  "approval": {"timeout_seconds": 30},
  "llm": {"provider": "openai", "openai": {"api_key": "k", "model": "gpt-4o-mini"}},
  "memory": {"facts": {"driver": "mysql", "dsn": "user:pass@tcp(127.0.0.1:3306)/aura"}}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":9090" || cfg.Server.OwnerToken != "secret" {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
	if cfg.ApprovalTimeout() != 30*time.Second {
		t.Fatalf("unexpected approval timeout: %v", cfg.ApprovalTimeout())
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.OpenAI.APIKey != "k" {
		t.Fatalf("unexpected llm config: %+v", cfg.LLM)
	}
	if cfg.Memory.Facts.Driver != "mysql" {
		t.Fatalf("unexpected facts driver: %q", cfg.Memory.Facts.Driver)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("empty path should fail")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("missing file should fail")
	}
	if _, err := Load(writeConfig(t, "{not json")); err == nil {
		t.Fatalf("invalid json should fail")
	}
}
