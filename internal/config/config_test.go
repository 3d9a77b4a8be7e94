package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetEnvHelpers(t *testing.T) {
	os.Setenv("TEST_STR", "value")
	os.Setenv("TEST_INT", "123")
	os.Setenv("TEST_FLOAT", "3.14")
	os.Setenv("TEST_BOOL_TRUE", "true")
	os.Setenv("TEST_BOOL_FALSE", "false")
	os.Setenv("TEST_INT64", "-1001234567890")

	if v := getEnv("TEST_STR", ""); v != "value" {
		t.Fatalf("expected value, got %s", v)
	}
	if v := getEnvAsInt("TEST_INT", 0); v != 123 {
		t.Fatalf("expected 123, got %d", v)
	}
	if v := getEnvAsFloat("TEST_FLOAT", 0); v != 3.14 {
		t.Fatalf("expected 3.14, got %f", v)
	}
	if v := getEnvAsInt64("TEST_INT64", 0); v != -1001234567890 {
		t.Fatalf("expected chat id, got %d", v)
	}
	if !getEnvAsBool("TEST_BOOL_TRUE", false) {
		t.Fatalf("expected true")
	}
	if getEnvAsBool("TEST_BOOL_FALSE", true) {
		t.Fatalf("expected false")
	}
}

func TestLoadDefaults(t *testing.T) {
	// ensure no interfering env vars
	_ = os.Unsetenv("SERVER_PORT")
	cfg := Load()
	if cfg.Server.Port == "" {
		t.Fatalf("expected default server port set")
	}
	if cfg.Business.MinSessionMinutes != 20 || cfg.Business.BonusMinutes != 5 || cfg.Business.ConsultantBusyMinutes != 30 {
		t.Fatalf("unexpected business defaults: %+v", cfg.Business)
	}
	if cfg.Dashboard.CacheTTLMinutes == 0 {
		t.Fatalf("expected dashboard defaults set")
	}
}

func TestLoadBusinessRules_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := "min_session_minutes: 15\nbonus_minutes: 10\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	rules := BusinessConfig{MinSessionMinutes: 20, MaxSessionMinutes: 180, BonusMinutes: 5, ConsultantBusyMinutes: 30}
	if err := LoadBusinessRules(path, &rules); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rules.MinSessionMinutes != 15 || rules.BonusMinutes != 10 {
		t.Fatalf("overlay not applied: %+v", rules)
	}
	if rules.ConsultantBusyMinutes != 30 {
		t.Fatalf("expected untouched busy timeout, got %d", rules.ConsultantBusyMinutes)
	}
	if rules.RulesFile != path {
		t.Fatalf("expected rules file recorded")
	}
}

func TestLoadBusinessRules_InvalidKeepsOriginal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("min_session_minutes: 0\n"), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	rules := BusinessConfig{MinSessionMinutes: 20, BonusMinutes: 5, ConsultantBusyMinutes: 30}
	if err := LoadBusinessRules(path, &rules); err == nil {
		t.Fatalf("expected validation error")
	}
	if rules.MinSessionMinutes != 20 {
		t.Fatalf("rules must not change on error")
	}
}

func TestLoadBusinessRules_EmptyPath(t *testing.T) {
	rules := BusinessConfig{MinSessionMinutes: 20}
	if err := LoadBusinessRules("", &rules); err != nil {
		t.Fatalf("expected nil for empty path, got %v", err)
	}
}
