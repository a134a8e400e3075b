package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewPathsHomeEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(HomeEnv, dir)

	p, err := NewPaths("phonecall")
	if err != nil {
		t.Fatalf("NewPaths error: %v", err)
	}
	if p.AppDir != dir {
		t.Errorf("AppDir = %q, want %q", p.AppDir, dir)
	}
}

func TestNewPathsUserConfigDir(t *testing.T) {
	t.Setenv(HomeEnv, "")
	base, err := os.UserConfigDir()
	if err != nil {
		t.Skipf("no user config dir: %v", err)
	}

	p, err := NewPaths("phonecall")
	if err != nil {
		t.Fatalf("NewPaths error: %v", err)
	}
	if want := filepath.Join(base, "phonecall"); p.AppDir != want {
		t.Errorf("AppDir = %q, want %q", p.AppDir, want)
	}
}

func TestPathsLayout(t *testing.T) {
	p := &Paths{AppDir: "/app"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"config", p.ConfigFile(), filepath.Join("/app", DefaultConfigFile)},
		{"personas", p.PersonasDir(), filepath.Join("/app", "personas")},
		{"data", p.DataDir(), filepath.Join("/app", "data")},
		{"archive", p.ArchiveDir(), filepath.Join("/app", "archive")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir error: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("dir not created: %v", err)
	}
}
