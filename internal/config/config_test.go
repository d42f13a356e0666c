package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFile_DefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 || cfg.PingPeriod != 54*time.Second || cfg.SendBuffer != 32 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Store.Backend != "memory" || cfg.Status.Backend != "none" {
		t.Errorf("backends = %q/%q", cfg.Store.Backend, cfg.Status.Backend)
	}
	if cfg.Chat.RateLimit != 5 || cfg.Chat.RateInterval != 3*time.Second {
		t.Errorf("chat = %+v", cfg.Chat)
	}
}

func TestLoadFile_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	yaml := `
mode: debug
port: 9000
rtc:
  announced_ips: ["203.0.113.7"]
  udp_port_min: 40000
  udp_port_max: 40100
store:
  backend: mongo
  mongo_db: streams
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LIVE_PORT", "9100")
	t.Setenv("LIVE_STATUS_BACKEND", "redis")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != "debug" || cfg.Port != 9100 {
		t.Errorf("mode/port = %s/%d", cfg.Mode, cfg.Port)
	}
	if cfg.Store.Backend != "mongo" || cfg.Store.MongoDB != "streams" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Status.Backend != "redis" {
		t.Errorf("status backend = %q", cfg.Status.Backend)
	}
	if len(cfg.RTC.AnnouncedIPs) != 1 || cfg.RTC.UDPPortMin != 40000 || cfg.RTC.UDPPortMax != 40100 {
		t.Errorf("rtc = %+v", cfg.RTC)
	}
}

func TestLoadFile_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("LIVE_STORE_BACKEND", "postgres")
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for an unknown store backend")
	}
}
