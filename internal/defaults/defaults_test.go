package defaults

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudecontext/islandd/internal/scope"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return NewStoreAt(filepath.Join(t.TempDir(), "nested", "defaults.json"))
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	d, err := tempStore(t).Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults{}, d)
}

func TestSaveRoundTrip(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Save(Defaults{Project: "acme", Dataset: "docs"}))

	d, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "acme", d.Project)
	assert.Equal(t, "docs", d.Dataset)
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defaults.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o644))

	_, err := NewStoreAt(path).Load()
	require.Error(t, err)
}

func TestResolveProjectPrecedence(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Save(Defaults{Project: "saved"}))

	// A path overrides a conflicting explicit project: the caller is
	// pointing at a concrete tree, so the tree decides the scope.
	dir := t.TempDir()
	want, err := scope.AutoProject(dir)
	require.NoError(t, err)

	got, err := s.ResolveProject("explicit", dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Without a path the explicit project wins over the saved default.
	got, err = s.ResolveProject("explicit", "")
	require.NoError(t, err)
	assert.Equal(t, "explicit", got)

	// An explicit path auto-scopes even when a default is saved.
	got, err = s.ResolveProject("", dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Otherwise the saved default applies.
	got, err = s.ResolveProject("", "")
	require.NoError(t, err)
	assert.Equal(t, "saved", got)
}

func TestResolveProjectFallsBackToWorkingDirectory(t *testing.T) {
	s := tempStore(t)

	got, err := s.ResolveProject("", "")
	require.NoError(t, err)

	cwd, err := os.Getwd()
	require.NoError(t, err)
	want, err := scope.AutoProject(cwd)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResolveDataset(t *testing.T) {
	s := tempStore(t)

	got, err := s.ResolveDataset("explicit")
	require.NoError(t, err)
	assert.Equal(t, "explicit", got)

	got, err = s.ResolveDataset("")
	require.NoError(t, err)
	assert.Equal(t, "local", got)

	require.NoError(t, s.Save(Defaults{Dataset: "docs"}))
	got, err = s.ResolveDataset("")
	require.NoError(t, err)
	assert.Equal(t, "docs", got)
}
