package profile_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperengineering/healthsync/internal/profile"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "alex", false},
		{"with hyphen", "alex-work", false},
		{"numeric", "42", false},
		{"single char", "a", false},
		{"default", "default", false},
		{"64 chars", strings.Repeat("a", 64), false},

		{"empty", "", true},
		{"uppercase", "Alex", true},
		{"leading hyphen", "-alex", true},
		{"trailing hyphen", "alex-", true},
		{"consecutive hyphens", "alex--work", true},
		{"slash", "org/alex", true},
		{"underscore", "alex_work", true},
		{"65 chars", strings.Repeat("a", 65), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := profile.Validate(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, profile.ErrInvalidProfile) {
				t.Errorf("Validate(%q) error = %v, want ErrInvalidProfile", tt.id, err)
			}
		})
	}
}

func TestResolve_Explicit(t *testing.T) {
	t.Setenv(profile.EnvVar, "from-env")

	got, err := profile.Resolve("explicit")
	if err != nil {
		t.Fatalf("Resolve(explicit) unexpected error: %v", err)
	}
	if got != "explicit" {
		t.Errorf("Resolve(explicit) = %q, want %q", got, "explicit")
	}
}

func TestResolve_Env(t *testing.T) {
	t.Setenv(profile.EnvVar, "from-env")

	got, err := profile.Resolve("")
	if err != nil {
		t.Fatalf("Resolve(env) unexpected error: %v", err)
	}
	if got != "from-env" {
		t.Errorf("Resolve(env) = %q, want %q", got, "from-env")
	}
}

func TestResolve_Default(t *testing.T) {
	t.Setenv(profile.EnvVar, "")

	got, err := profile.Resolve("")
	if err != nil {
		t.Fatalf("Resolve(default) unexpected error: %v", err)
	}
	if got != profile.DefaultProfile {
		t.Errorf("Resolve(default) = %q, want %q", got, profile.DefaultProfile)
	}
}

func TestResolve_InvalidEnv(t *testing.T) {
	t.Setenv(profile.EnvVar, "Not Valid")

	if _, err := profile.Resolve(""); !errors.Is(err, profile.ErrInvalidProfile) {
		t.Errorf("Resolve(invalid env) error = %v, want ErrInvalidProfile", err)
	}
}

func TestDBPath_UnderRoot(t *testing.T) {
	got := profile.DBPath("alex")
	want := filepath.Join(profile.Root(), "alex", profile.DBFile)
	if got != want {
		t.Errorf("DBPath(alex) = %q, want %q", got, want)
	}
	if !strings.Contains(got, ".healthsync") {
		t.Errorf("DBPath(alex) = %q, want path under .healthsync", got)
	}
}

func TestList(t *testing.T) {
	root := t.TempDir()
	for _, id := range []string{"alex", "sam"} {
		dir := filepath.Join(root, id)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, profile.DBFile), nil, 0644); err != nil {
			t.Fatalf("write db: %v", err)
		}
	}
	// Directory without a database is not a profile.
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got, err := profile.List(root)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0] != "alex" || got[1] != "sam" {
		t.Errorf("List = %v, want [alex sam]", got)
	}
}

func TestList_MissingRoot(t *testing.T) {
	got, err := profile.List(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("List(missing) error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("List(missing) = %v, want empty", got)
	}
}
