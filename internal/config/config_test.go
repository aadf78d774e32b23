package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
machines:
  - id: 1
    name: Press 1
    host: 127.0.0.1
    port: 5020
  - id: 2
    name: Press 2
    host: 10.0.0.7
    port: 502
    unit_id: 3
    poll_interval: 2s
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("Expected http_port 8080, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Collector.DefaultPollInterval != 5*time.Second {
		t.Errorf("Expected default interval 5s, got %s", cfg.Collector.DefaultPollInterval)
	}
	if cfg.Collector.BackoffInitial != time.Second || cfg.Collector.BackoffMax != 30*time.Second {
		t.Errorf("Unexpected backoff %s/%s", cfg.Collector.BackoffInitial, cfg.Collector.BackoffMax)
	}
	if cfg.Directory.Source != "database" {
		t.Errorf("Expected database directory, got %q", cfg.Directory.Source)
	}

	machines := cfg.MachineList()
	if len(machines) != 2 {
		t.Fatalf("Expected 2 machines, got %d", len(machines))
	}
	if machines[0].PollInterval != 5*time.Second || machines[0].UnitID != 1 {
		t.Errorf("Expected defaults on machine 1, got %+v", machines[0])
	}
	if machines[1].PollInterval != 2*time.Second || machines[1].UnitID != 3 {
		t.Errorf("Expected overrides on machine 2, got %+v", machines[1])
	}
	if machines[1].Address() != "10.0.0.7:502" {
		t.Errorf("Unexpected address %s", machines[1].Address())
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("OMM_SERVER_HTTP_PORT", "9090")
	t.Setenv("OMM_COLLECTOR_DEFAULT_POLL_INTERVAL", "250ms")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("Expected 9090 from env, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Collector.DefaultPollInterval != 250*time.Millisecond {
		t.Errorf("Expected 250ms from env, got %s", cfg.Collector.DefaultPollInterval)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := map[string]struct {
		body  string
		field string
	}{
		"no machines": {"server:\n  http_port: 8080\n", "machines"},
		"duplicate id": {`
machines:
  - {id: 1, host: a, port: 1}
  - {id: 1, host: b, port: 2}
`, "machines[1].id"},
		"bad port":     {"machines:\n  - {id: 1, host: a, port: 70000}\n", "machines[0].port"},
		"missing host": {"machines:\n  - {id: 1, port: 502}\n", "machines[0].host"},
		"file without path": {`
machines:
  - {id: 1, host: a, port: 1}
directory:
  source: file
`, "directory.path"},
		"mqtt without broker": {`
machines:
  - {id: 1, host: a, port: 1}
mqtt:
  enabled: true
`, "mqtt.broker"},
		"backoff inverted": {`
machines:
  - {id: 1, host: a, port: 1}
collector:
  backoff_initial: 10s
  backoff_max: 1s
`, "collector.backoff_max"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("Expected ConfigError, got %v", err)
			}
			if cerr.Field != tt.field {
				t.Errorf("Expected field %q, got %q", tt.field, cerr.Field)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("Expected ConfigError, got %v", err)
	}
}

func TestJWTSecret(t *testing.T) {
	a := AuthConfig{JWTSecretEnv: "OMM_TEST_SECRET"}
	if a.IsProductionReady() {
		t.Error("dev fallback must not be production ready")
	}
	t.Setenv("OMM_TEST_SECRET", "0123456789abcdef0123456789abcdef")
	if !a.IsProductionReady() {
		t.Error("Expected production ready with 32 char secret")
	}
}
