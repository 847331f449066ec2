package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr == "" || cfg.Server.BasePath != "/v0" {
		t.Fatalf("unexpected defaults: %+v", cfg.Server)
	}
}

func TestLoadParsesWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	data := []byte(`server:
  addr: "0.0.0.0:9090"
auth:
  allow_legacy_user_header: true
workflow:
  allow_review_resubmission: true
webhooks:
  - url: "https://hooks.example.com/greenlight"
    events:
      - project_approved
`)
	if err := os.WriteFile(filepath.Join(dir, "greenlight.yml"), data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9090" {
		t.Fatalf("addr not applied: %s", cfg.Server.Addr)
	}
	if !cfg.Auth.AllowLegacyUserHeader || !cfg.Workflow.AllowReviewResubmission {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if len(cfg.Webhooks) != 1 || !cfg.Webhooks[0].IsEnabled() {
		t.Fatalf("webhook not parsed: %+v", cfg.Webhooks)
	}
}

func TestValidateRejectsBadWebhookURL(t *testing.T) {
	cfg := Default()
	cfg.Webhooks = []Webhook{{URL: "ftp://nope"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected webhook url error")
	}
}

func TestGenerateDefaultParses(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	if err != nil {
		t.Fatalf("template should parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("template should validate: %v", err)
	}
}
