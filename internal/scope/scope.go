// Package scope implements the island naming model: every (project, dataset)
// pair owns a deterministically named vector collection, and dataset
// selectors expand to concrete dataset sets.
package scope

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Common errors.
var (
	ErrEmptyProjectName = errors.New("project name cannot be empty")
	ErrEmptyDatasetName = errors.New("dataset name cannot be empty")
)

// DefaultDataset is the dataset name used when none is given.
const DefaultDataset = "local"

// Sanitize replaces every character outside [A-Za-z0-9] with an underscore.
// The result is safe for use in collection identifiers.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// CollectionName returns the canonical vector collection name for a
// (project, dataset) pair.
//
// Format: project_{sanitized_project}_dataset_{sanitized_dataset}
//
// The name is idempotent and reversible only by registry lookup; callers
// never parse it.
func CollectionName(project, dataset string) (string, error) {
	if project == "" {
		return "", ErrEmptyProjectName
	}
	if dataset == "" {
		return "", ErrEmptyDatasetName
	}
	return fmt.Sprintf("project_%s_dataset_%s", Sanitize(project), Sanitize(dataset)), nil
}

// ProjectID returns the deterministic UUID for a project name.
func ProjectID(project string) uuid.UUID {
	if project == "" {
		project = "default"
	}
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(project))
}

// DatasetID returns the deterministic UUID for a dataset within a project.
func DatasetID(project, dataset string) uuid.UUID {
	if dataset == "" {
		dataset = "default"
	}
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(project+"/"+dataset))
}
