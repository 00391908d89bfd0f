package tool

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func sampleDefinition() Definition {
	return Definition{
		Name:        "send_sms",
		Description: "发送短信",
		Risk:        RiskMedium,
		Capability:  "sms",
		Args: []ArgSpec{
			{Name: "to", Type: "string", Required: true},
			{Name: "body", Type: "string", Required: true},
		},
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(sampleDefinition()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	def, err := registry.Lookup("send_sms")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Capability != "sms" {
		t.Fatalf("unexpected capability: %q", def.Capability)
	}
	if def.DefaultVerdict() != VerdictRequireApproval {
		t.Fatalf("medium risk should default to require_approval, got %q", def.DefaultVerdict())
	}
}

func TestRegistryDuplicate(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(sampleDefinition()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := registry.Register(sampleDefinition())
	if !errors.Is(err, ErrDuplicateTool) {
		t.Fatalf("expected ErrDuplicateTool, got %v", err)
	}
}

func TestRegistryUnknown(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.Lookup("missing"); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestDefaultVerdictByRisk(t *testing.T) {
	cases := []struct {
		risk RiskTier
		want Verdict
	}{
		{RiskLow, VerdictAllow},
		{RiskMedium, VerdictRequireApproval},
		{RiskHigh, VerdictRequireApproval},
	}
	for _, tc := range cases {
		def := Definition{Name: "x", Risk: tc.risk}
		if got := def.DefaultVerdict(); got != tc.want {
			t.Fatalf("risk %q: got %q want %q", tc.risk, got, tc.want)
		}
	}
}

func TestValidateArgs(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(sampleDefinition()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("valid", func(t *testing.T) {
		args, err := registry.ValidateArgs("send_sms", map[string]any{"to": "mom", "body": "hi"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if args["to"] != "mom" {
			t.Fatalf("unexpected args: %+v", args)
		}
	})

	t.Run("missing required", func(t *testing.T) {
		if _, err := registry.ValidateArgs("send_sms", map[string]any{"to": "mom"}); err == nil {
			t.Fatalf("expected error for missing body")
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		if _, err := registry.ValidateArgs("send_sms", map[string]any{"to": "mom", "body": "hi", "cc": "dad"}); err == nil {
			t.Fatalf("expected error for unknown argument")
		}
	})
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	content := `tools:
  - name: read_calendar
    description: 读取日程
    risk: low
    capability: calendar
    args:
      - name: date
        type: string
  - name: place_call
    description: 拨打电话
    risk: high
    capability: phone
    args:
      - name: to
        type: string
        required: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	registry, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if registry.Len() != 2 {
		t.Fatalf("unexpected tool count: %d", registry.Len())
	}

	def, err := registry.Lookup("read_calendar")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.DefaultVerdict() != VerdictAllow {
		t.Fatalf("low risk should default to allow, got %q", def.DefaultVerdict())
	}
}

func TestLoadCatalogEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	if err := os.WriteFile(path, []byte("tools: []\n"), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if _, err := LoadCatalog(path); err == nil {
		t.Fatalf("expected error for empty catalog")
	}
}
