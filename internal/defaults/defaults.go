// Package defaults persists and resolves the user's default scope. Tools
// called without an explicit project or dataset fall back to the saved
// defaults, then to auto-scoping from the working directory.
package defaults

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/claudecontext/islandd/internal/scope"
)

// Defaults is the persisted user scope.
type Defaults struct {
	Project string `json:"project,omitempty"`
	Dataset string `json:"dataset,omitempty"`
}

// Store reads and writes the defaults file.
type Store struct {
	path string
}

// NewStore uses the standard defaults location under the user config dir.
func NewStore() (*Store, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	return NewStoreAt(filepath.Join(dir, ".config", "islandd", "defaults.json")), nil
}

// NewStoreAt uses an explicit file path.
func NewStoreAt(path string) *Store {
	return &Store{path: path}
}

// Load reads the saved defaults. A missing file is empty defaults, not an
// error.
func (s *Store) Load() (Defaults, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults{}, nil
		}
		return Defaults{}, fmt.Errorf("reading defaults: %w", err)
	}

	var d Defaults
	if err := json.Unmarshal(data, &d); err != nil {
		return Defaults{}, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	return d, nil
}

// Save writes the defaults, creating the parent directory if needed.
func (s *Store) Save(d Defaults) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating defaults dir: %w", err)
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing defaults: %w", err)
	}
	return nil
}

// ResolveProject picks the effective project name.
//
// Precedence: auto-scoping from an explicit path, then the explicit
// project, then the saved default, then auto-scoping from the working
// directory. A path names a concrete tree, so it overrides a conflicting
// explicit project.
func (s *Store) ResolveProject(explicit, path string) (string, error) {
	if path != "" {
		return scope.AutoProject(path)
	}
	if explicit != "" {
		return explicit, nil
	}

	saved, err := s.Load()
	if err != nil {
		return "", err
	}
	if saved.Project != "" {
		return saved.Project, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolving working directory: %w", err)
	}
	return scope.AutoProject(cwd)
}

// ResolveDataset picks the effective dataset name: explicit, then saved
// default, then "local".
func (s *Store) ResolveDataset(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	saved, err := s.Load()
	if err != nil {
		return "", err
	}
	if saved.Dataset != "" {
		return saved.Dataset, nil
	}
	return "local", nil
}
