package profile

import (
	"os"
	"path/filepath"
)

// DBFile is the database file name inside a profile directory.
const DBFile = "healthsync.db"

// Root returns the directory holding all profiles.
// Defaults to ~/.healthsync/profiles, falls back to ./.healthsync/profiles if
// the home directory is unavailable.
func Root() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		cwd, _ := os.Getwd()
		return filepath.Join(cwd, ".healthsync", "profiles")
	}
	return filepath.Join(home, ".healthsync", "profiles")
}

// DBPath returns the database path for a profile.
// Example: DBPath("alex") -> ~/.healthsync/profiles/alex/healthsync.db
func DBPath(id string) string {
	return filepath.Join(Root(), id, DBFile)
}

// List returns the profiles that have a database under root.
func List(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || Validate(e.Name()) != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, e.Name(), DBFile)); err == nil {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
