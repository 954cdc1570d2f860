package account

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matheus3301/offsync/internal/config"
)

func TestDirHonoursHome(t *testing.T) {
	base := t.TempDir()
	t.Setenv(HomeEnv, base)

	if got, want := Dir("main"), filepath.Join(base, "accounts", "main"); got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
	if got := SocketPath("test"); !strings.HasSuffix(got, filepath.Join("accounts", "test", "daemon.sock")) {
		t.Errorf("SocketPath(test) = %q", got)
	}
	if got := DBPath("test"); !strings.HasSuffix(got, filepath.Join("accounts", "test", "offsync.db")) {
		t.Errorf("DBPath(test) = %q", got)
	}
	if got := ConfigPath(); got != filepath.Join(base, "config.toml") {
		t.Errorf("ConfigPath() = %q", got)
	}
}

func TestDefaultBaseDir(t *testing.T) {
	t.Setenv(HomeEnv, "")
	home, _ := os.UserHomeDir()
	if got, want := BaseDir(), filepath.Join(home, ".offsync"); got != want {
		t.Errorf("BaseDir() = %q, want %q", got, want)
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	if err := EnsureDir("test"); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{Dir("test"), LogDir("test")} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("%s not created: %v", d, err)
		}
		if !info.IsDir() || info.Mode().Perm() != 0700 {
			t.Errorf("%s mode = %v", d, info.Mode())
		}
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "main", false},
		{"valid with numbers", "work123", false},
		{"valid with hyphen", "my-account", false},
		{"valid with underscore", "my_account", false},
		{"valid single char", "a", false},
		{"valid max length", strings.Repeat("a", 64), false},
		{"empty", "", true},
		{"uppercase", "Main", true},
		{"space", "my account", true},
		{"dot", "my.account", true},
		{"too long", strings.Repeat("a", 65), true},
		{"slash", "my/account", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	cfg := &config.Config{DefaultAccount: "work"}
	if got := Resolve("flag", cfg); got != "flag" {
		t.Errorf("flag override = %q", got)
	}
	if got := Resolve("", cfg); got != "work" {
		t.Errorf("config default = %q", got)
	}
	if got := Resolve("", nil); got != DefaultName {
		t.Errorf("fallback = %q", got)
	}
}
