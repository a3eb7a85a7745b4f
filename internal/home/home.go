// Package home manages the service's home directory layout.
//
// Layout:
//
//	<root>/
//	  config.yaml      (optional; read when --config is not given)
//	  codes.db         (sqlite store, default backend)
//	  instance_id      (stable identity used as the job lock owner)
//	  logs/
//	    starrail-api.log
package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const appName = "starrail-api"

// Dir is a home directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir under the platform config directory
// (~/.config/starrail-api on Linux).
func Default() (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, appName)}, nil
}

// Root returns the home directory path.
func (d Dir) Root() string {
	return d.root
}

func (d Dir) ConfigPath() string {
	return filepath.Join(d.root, "config.yaml")
}

func (d Dir) DatabasePath() string {
	return filepath.Join(d.root, "codes.db")
}

func (d Dir) LogPath() string {
	return filepath.Join(d.root, "logs", appName+".log")
}

// EnsureExists creates the home directory (and parents) if it doesn't exist.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create home directory %s: %w", d.root, err)
	}
	return nil
}

// InstanceID reads the persistent instance identity from <root>/instance_id,
// generating and persisting a UUIDv7 on first use.
func (d Dir) InstanceID() (string, error) {
	return d.readOrCreate("instance_id", func() string {
		return uuid.Must(uuid.NewV7()).String()
	})
}

func (d Dir) readOrCreate(filename string, generate func() string) (string, error) {
	p := filepath.Join(d.root, filename)
	data, err := os.ReadFile(p) //nolint:gosec // G304: trusted home dir + constant filename
	if err == nil {
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
	}
	v := generate()
	if err := os.WriteFile(p, []byte(v+"\n"), 0o640); err != nil { //nolint:gosec // G306: identity file is not secret
		return "", fmt.Errorf("write %s: %w", filename, err)
	}
	return v, nil
}
