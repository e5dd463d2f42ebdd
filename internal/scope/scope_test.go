package scope

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var canonicalPattern = regexp.MustCompile(`^project_[A-Za-z0-9_]+_dataset_[A-Za-z0-9_]+$`)

func TestCollectionName(t *testing.T) {
	tests := []struct {
		name    string
		project string
		dataset string
		want    string
		wantErr error
	}{
		{
			name:    "plain names",
			project: "acme",
			dataset: "docs",
			want:    "project_acme_dataset_docs",
		},
		{
			name:    "special characters sanitized",
			project: "my-app.v2",
			dataset: "github-main",
			want:    "project_my_app_v2_dataset_github_main",
		},
		{
			name:    "unicode sanitized",
			project: "プロジェクト",
			dataset: "local",
			want:    "project_______dataset_local",
		},
		{
			name:    "empty project",
			dataset: "docs",
			wantErr: ErrEmptyProjectName,
		},
		{
			name:    "empty dataset",
			project: "acme",
			wantErr: ErrEmptyDatasetName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CollectionName(tt.project, tt.dataset)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Regexp(t, canonicalPattern, got)
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	for _, in := range []string{"acme", "my-app.v2", "a b c", "___"} {
		once := Sanitize(in)
		assert.Equal(t, once, Sanitize(once))
	}
}

func TestDeterministicIDs(t *testing.T) {
	assert.Equal(t, ProjectID("acme"), ProjectID("acme"))
	assert.NotEqual(t, ProjectID("acme"), ProjectID("other"))

	// Same dataset name under different projects gets different ids.
	assert.NotEqual(t, DatasetID("acme", "docs"), DatasetID("other", "docs"))
	assert.Equal(t, DatasetID("acme", "docs"), DatasetID("acme", "docs"))
}

func TestAutoProject(t *testing.T) {
	name, err := AutoProject("/tmp/acme")
	require.NoError(t, err)

	// {h1}-acme-{h2} with two independent 8-char Base58 hashes.
	parts := regexp.MustCompile(`^([1-9A-HJ-NP-Za-km-z]{8})-acme-([1-9A-HJ-NP-Za-km-z]{8})$`).FindStringSubmatch(name)
	require.Len(t, parts, 3, "unexpected auto-project format: %s", name)
	assert.NotEqual(t, parts[1], parts[2])

	// Deterministic.
	again, err := AutoProject("/tmp/acme")
	require.NoError(t, err)
	assert.Equal(t, name, again)

	// Different paths diverge.
	other, err := AutoProject("/tmp/other")
	require.NoError(t, err)
	assert.NotEqual(t, name, other)
}

func TestAutoProjectSanitizesBasename(t *testing.T) {
	name, err := AutoProject("/srv/My App (v2)")
	require.NoError(t, err)
	assert.Contains(t, name, "-my-app-v2-")
}
