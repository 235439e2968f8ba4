package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/foremanhq/foreman/internal/dedup"
	"github.com/foremanhq/foreman/internal/dispatch"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "foreman.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: ":9000"
webhook:
  secret: topsecret
runtime:
  base_url: http://agent:3284
runner:
  timeout: 10m
  max_concurrent: 2
rules:
  - name: implement-on-label
    match: label
    value: foreman
    action: implement
    operations: [created, updated]
  - name: reply-on-mention
    match: mention
    value: foreman
    action: reply
    agent: helper
    operations: [created]
`)

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Runner.Timeout != 10*time.Minute {
		t.Errorf("timeout = %v", cfg.Runner.Timeout)
	}
	// Unset fields keep defaults
	if cfg.Runner.ProgressInterval != 60*time.Second {
		t.Errorf("progress_interval default = %v", cfg.Runner.ProgressInterval)
	}
	if len(cfg.Rules) != 2 || cfg.Rules[0].Match != dispatch.MatchLabel {
		t.Errorf("rules = %+v", cfg.Rules)
	}
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("FOREMAN_TEST_SECRET", "hunter2")
	path := writeConfig(t, `
webhook:
  secret: ${FOREMAN_TEST_SECRET}
`)
	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Webhook.Secret != "hunter2" {
		t.Errorf("secret = %q", cfg.Webhook.Secret)
	}
}

func TestInvalidRuleFatalAtLoad(t *testing.T) {
	path := writeConfig(t, `
rules:
  - name: bad
    match: mention
    value: foreman
    action: implement
    operations: [created]
`)
	if _, err := LoadConfigFromFile(path); err == nil {
		t.Fatal("mention rule with implement action must fail validation")
	}
}

func TestServerTimeoutsParsed(t *testing.T) {
	path := writeConfig(t, `
server:
  read_timeout: 5s
  write_timeout: 7s
  idle_timeout: 90s
`)
	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.ReadTimeout != 5*time.Second || cfg.Server.WriteTimeout != 7*time.Second {
		t.Errorf("read/write = %v/%v", cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
	}
	if cfg.Server.IdleTimeout != 90*time.Second {
		t.Errorf("idle = %v", cfg.Server.IdleTimeout)
	}
}

func TestDedupWindowSelection(t *testing.T) {
	cases := []struct {
		cfg  DedupConfig
		want time.Duration
	}{
		{DedupConfig{}, dedup.DefaultWindow},
		{DedupConfig{SlowSource: true}, dedup.SlowSourceWindow},
		{DedupConfig{Window: time.Minute}, time.Minute},
		// Explicit window always wins.
		{DedupConfig{Window: 10 * time.Second, SlowSource: true}, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := tc.cfg.EffectiveWindow(); got != tc.want {
			t.Errorf("EffectiveWindow(%+v) = %v, want %v", tc.cfg, got, tc.want)
		}
	}
}

func TestValidateRejectsZeroConcurrency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Runner.MaxConcurrent = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero max_concurrent")
	}
}
