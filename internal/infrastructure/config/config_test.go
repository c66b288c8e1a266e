package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
relay:
  host: "127.0.0.1"
  port: 3100
auth:
  device_token: "device-secret"
  client_token: "client-secret"
database:
  path: "/tmp/relay-test.db"
  wal_mode: true
  busy_timeout: 5
queue:
  per_device_cap: 10
  liveness_window: 60
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Relay.Host != "127.0.0.1" {
		t.Errorf("Relay.Host = %q, want %q", cfg.Relay.Host, "127.0.0.1")
	}
	if cfg.Relay.Port != 3100 {
		t.Errorf("Relay.Port = %d, want %d", cfg.Relay.Port, 3100)
	}
	if cfg.Auth.DeviceToken != "device-secret" {
		t.Errorf("Auth.DeviceToken = %q, want %q", cfg.Auth.DeviceToken, "device-secret")
	}
	if cfg.Database.Path != "/tmp/relay-test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/relay-test.db")
	}
}

func TestLoad_Defaults(t *testing.T) {
	content := `
auth:
  device_token: "d"
  client_token: "c"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Queue.PerDeviceCap != 10 {
		t.Errorf("Queue.PerDeviceCap = %d, want 10", cfg.Queue.PerDeviceCap)
	}
	if cfg.Queue.LivenessWindow != 60 {
		t.Errorf("Queue.LivenessWindow = %d, want 60", cfg.Queue.LivenessWindow)
	}
	if cfg.WebSocket.PingInterval != 30 {
		t.Errorf("WebSocket.PingInterval = %d, want 30", cfg.WebSocket.PingInterval)
	}
	if cfg.Relay.Port != 3000 {
		t.Errorf("Relay.Port = %d, want 3000", cfg.Relay.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_MissingTokensFatal(t *testing.T) {
	content := `
relay:
  port: 3000
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error for missing tokens, got nil")
	}
	if !strings.Contains(err.Error(), "device_token") || !strings.Contains(err.Error(), "client_token") {
		t.Errorf("error should name both missing tokens, got: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("COLUMNRELAY_AUTH_DEVICE_TOKEN", "env-device")
	t.Setenv("COLUMNRELAY_AUTH_CLIENT_TOKEN", "env-client")
	t.Setenv("COLUMNRELAY_RELAY_PORT", "4444")

	content := `
auth:
  device_token: "file-device"
  client_token: "file-client"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.DeviceToken != "env-device" {
		t.Errorf("Auth.DeviceToken = %q, want env override %q", cfg.Auth.DeviceToken, "env-device")
	}
	if cfg.Relay.Port != 4444 {
		t.Errorf("Relay.Port = %d, want env override 4444", cfg.Relay.Port)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid defaults with tokens",
			mutate:  func(_ *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Relay.Port = 0 },
			wantErr: true,
		},
		{
			name:    "zero queue cap",
			mutate:  func(c *Config) { c.Queue.PerDeviceCap = 0 },
			wantErr: true,
		},
		{
			name:    "zero liveness window",
			mutate:  func(c *Config) { c.Queue.LivenessWindow = 0 },
			wantErr: true,
		},
		{
			name:    "empty database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "invalid mqtt qos when enabled",
			mutate:  func(c *Config) { c.MQTT.Enabled = true; c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "influx enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Auth.DeviceToken = "d"
			cfg.Auth.ClientToken = "c"
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := defaultConfig()
	if got := cfg.WebSocket.GetPingInterval().Seconds(); got != 30 {
		t.Errorf("GetPingInterval() = %vs, want 30s", got)
	}
	if got := cfg.Queue.GetLivenessWindow().Seconds(); got != 60 {
		t.Errorf("GetLivenessWindow() = %vs, want 60s", got)
	}
}
