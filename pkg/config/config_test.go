package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arlojames/btstack/pkg/mgmt"
)

func TestLoadWithNoFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gatt.Cmd.Read.Timeout != 550*time.Millisecond {
		t.Fatalf("Gatt.Cmd.Read.Timeout = %v", cfg.Gatt.Cmd.Read.Timeout)
	}
	if cfg.Mgmt.RingSize != 64 {
		t.Fatalf("Mgmt.RingSize = %d", cfg.Mgmt.RingSize)
	}
	if cfg.Mgmt.BTMode != mgmt.BTModeLE {
		t.Fatalf("Mgmt.BTMode = %v", cfg.Mgmt.BTMode)
	}
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := []byte("gatt:\n  ringsize: 256\nmgmt:\n  btmode: DUAL\n  ringsize: 2000\n")
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gatt.RingSize != 256 {
		t.Fatalf("Gatt.RingSize = %d", cfg.Gatt.RingSize)
	}
	if cfg.Mgmt.BTMode != mgmt.BTModeDual {
		t.Fatalf("Mgmt.BTMode = %v", cfg.Mgmt.BTMode)
	}
	if cfg.Mgmt.RingSize != 1024 {
		t.Fatalf("Mgmt.RingSize = %d, want clamped to 1024", cfg.Mgmt.RingSize)
	}
}

func TestLoadRejectsInvalidBTMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("mgmt:\n  btmode: SOMETHING\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid btmode")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Gatt.RingSize = 256
	cfg.Mgmt.BTMode = mgmt.BTModeDual

	if err := SaveConfig(&cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Gatt.RingSize != 256 {
		t.Fatalf("Gatt.RingSize = %d", loaded.Gatt.RingSize)
	}
	if loaded.Mgmt.BTMode != mgmt.BTModeDual {
		t.Fatalf("Mgmt.BTMode = %v", loaded.Mgmt.BTMode)
	}
}

func TestToGattConfigAndToMgmtConfigCarryFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debug.Gatt.Data = true
	cfg.Debug.Mgmt.Event = true

	gc := cfg.ToGattConfig()
	if !gc.DebugData || gc.RingSize != 128 {
		t.Fatalf("ToGattConfig() = %+v", gc)
	}

	mc := cfg.ToMgmtConfig()
	if !mc.DebugEvents || mc.RingSize != 64 {
		t.Fatalf("ToMgmtConfig() = %+v", mc)
	}
}
