package profile

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memrelay.yaml")
	if err := os.WriteFile(path, []byte("models: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProfile_Validate(t *testing.T) {
	p := &Profile{Mode: "dev", Port: 28090, ConfigFile: writeTempConfig(t)}
	if err := p.Validate(); err != nil {
		t.Fatalf("expected valid profile, got %v", err)
	}
	if !filepath.IsAbs(p.ConfigFile) {
		t.Errorf("expected config path to be absolute, got %s", p.ConfigFile)
	}
}

func TestProfile_Validate_UnknownModeFallsBack(t *testing.T) {
	p := &Profile{Mode: "staging", Port: 28090, ConfigFile: writeTempConfig(t)}
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Mode != "dev" {
		t.Errorf("expected unknown mode to fall back to dev, got %s", p.Mode)
	}
}

func TestProfile_Validate_BadPort(t *testing.T) {
	p := &Profile{Mode: "dev", Port: -1, ConfigFile: writeTempConfig(t)}
	if err := p.Validate(); err == nil {
		t.Error("expected error for invalid port")
	}
}

func TestProfile_Validate_MissingConfig(t *testing.T) {
	p := &Profile{Mode: "dev", Port: 28090, ConfigFile: "/does/not/exist.yaml"}
	if err := p.Validate(); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestProfile_FromEnv(t *testing.T) {
	t.Setenv("MEMRELAY_CONFIG", "/tmp/from-env.yaml")
	t.Setenv("MEMRELAY_DEBUG", "true")

	p := &Profile{}
	p.FromEnv()

	if p.ConfigFile != "/tmp/from-env.yaml" {
		t.Errorf("expected config from env, got %s", p.ConfigFile)
	}
	if !p.Debug {
		t.Error("expected debug from env")
	}
}

func TestProfile_IsDev(t *testing.T) {
	if (&Profile{Mode: "prod"}).IsDev() {
		t.Error("prod must not be dev")
	}
	if !(&Profile{Mode: "dev"}).IsDev() {
		t.Error("dev must be dev")
	}
}
