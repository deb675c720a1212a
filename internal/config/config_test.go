package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wakegate.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadLegacyEnvironment(t *testing.T) {
	cfg, err := LoadWithEnv("", map[string]string{
		"DO_API_TOKEN":       "tok",
		"DROPLET_ID":         "123",
		"MC_SERVER_IP":       "10.0.0.9",
		"LISTEN_PORT":        "25570",
		"INACTIVITY_TIMEOUT": "30",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Instance.APIToken != "tok" || cfg.Instance.DropletID != 123 {
		t.Fatalf("instance = %+v", cfg.Instance)
	}
	if cfg.Backend.Host != "10.0.0.9" {
		t.Fatalf("backend host = %q", cfg.Backend.Host)
	}
	if cfg.Listen.Port != 25570 || cfg.Backend.Port != 25570 {
		t.Fatalf("ports = %d/%d, want backend port to follow listen port", cfg.Listen.Port, cfg.Backend.Port)
	}
	if cfg.Lifecycle.IdleTimeout.D() != 30*time.Minute {
		t.Fatalf("idle timeout = %s", cfg.Lifecycle.IdleTimeout.D())
	}
	if cfg.ListenAddr() != "0.0.0.0:25570" || cfg.BackendAddr() != "10.0.0.9:25570" {
		t.Fatalf("addrs = %s %s", cfg.ListenAddr(), cfg.BackendAddr())
	}
}

func TestPortPrecedence(t *testing.T) {
	base := map[string]string{"MC_SERVER_IP": "mc", "WAKEGATE_INSTANCE_PROVIDER": "static"}
	cases := []struct {
		name string
		env  map[string]string
		want int
	}{
		{"default", nil, 25565},
		{"listen_port", map[string]string{"LISTEN_PORT": "1000"}, 1000},
		{"port beats listen_port", map[string]string{"LISTEN_PORT": "1000", "PORT": "2000"}, 2000},
		{"wakegate wins", map[string]string{"PORT": "2000", "WAKEGATE_LISTEN_PORT": "3000"}, 3000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			environ := map[string]string{}
			for k, v := range base {
				environ[k] = v
			}
			for k, v := range tc.env {
				environ[k] = v
			}
			cfg, err := LoadWithEnv("", environ)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if cfg.Listen.Port != tc.want {
				t.Fatalf("port = %d, want %d", cfg.Listen.Port, tc.want)
			}
		})
	}
}

func TestFileThenEnvironment(t *testing.T) {
	path := writeConfig(t, `
listen:
  port: 25600
backend:
  host: play.example.net
  port: 25565
  srv_lookup: true
instance:
  provider: static
lifecycle:
  idle_timeout: 5m
  poll_interval: 2s
dashboard:
  enabled: false
`)
	cfg, err := LoadWithEnv(path, map[string]string{"WAKEGATE_IDLE_TIMEOUT": "20m"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen.Port != 25600 || cfg.Backend.Port != 25565 || !cfg.Backend.SRVLookup {
		t.Fatalf("unexpected listen/backend: %+v %+v", cfg.Listen, cfg.Backend)
	}
	if cfg.Lifecycle.IdleTimeout.D() != 20*time.Minute {
		t.Fatalf("env should override file idle timeout, got %s", cfg.Lifecycle.IdleTimeout.D())
	}
	if cfg.Lifecycle.PollInterval.D() != 2*time.Second {
		t.Fatalf("poll interval = %s", cfg.Lifecycle.PollInterval.D())
	}
	// Untouched keys keep their defaults.
	if cfg.Lifecycle.StartupTimeout.D() != 8*time.Minute || cfg.Backend.BufferSize != 4096 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if cfg.Dashboard.Enabled {
		t.Fatalf("dashboard should be disabled")
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	_, err := LoadWithEnv("", map[string]string{"WAKEGATE_POLL_INTERVAL": "0s"})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"backend.host", "api_token", "droplet_id", "lifecycle.poll_interval"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error %q missing %q", msg, want)
		}
	}
}

func TestInvalidDurationInFile(t *testing.T) {
	path := writeConfig(t, "lifecycle:\n  idle_timeout: fifteen\n")
	if _, err := LoadWithEnv(path, nil); err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("expected invalid duration error, got %v", err)
	}
}

func TestInvalidEnvironmentValue(t *testing.T) {
	if _, err := LoadWithEnv("", map[string]string{"DROPLET_ID": "abc"}); err == nil || !strings.Contains(err.Error(), "parse env") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}
