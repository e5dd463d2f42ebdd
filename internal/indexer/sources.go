package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"go.uber.org/zap"

	"github.com/claudecontext/islandd/internal/logging"
)

// maxFileSize caps files read for indexing.
const maxFileSize = 1024 * 1024

// skipDirs are directories excluded from enumeration: generated code,
// dependencies, and VCS data.
var skipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	".cache":       true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"target":       true,
}

// Document is one enumerated source file, path relative to the root.
type Document struct {
	Path    string
	Content []byte
}

// EnumerateLocal walks a directory tree and returns indexable text files.
// Binary files (invalid UTF-8) and oversized files are skipped silently,
// unreadable files with a warning.
func EnumerateLocal(ctx context.Context, root string, logger *logging.Logger) ([]Document, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var docs []Document
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			// Hidden directories are skipped wholesale; the skip list
			// catches the unhidden offenders.
			if skipDirs[name] || (len(name) > 1 && name[0] == '.') {
				return filepath.SkipDir
			}
			return nil
		}

		fi, err := d.Info()
		if err != nil || fi.Size() > maxFileSize {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			logger.Warn(ctx, "skipping unreadable file",
				zap.String("path", path), zap.Error(err))
			return nil
		}
		if !utf8.Valid(content) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		docs = append(docs, Document{Path: filepath.ToSlash(rel), Content: content})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// CloneAndEnumerate shallow-clones a git repository into a temp directory
// and enumerates it. The caller gets the documents; the clone is removed
// before returning.
func CloneAndEnumerate(ctx context.Context, repoURL, ref string, logger *logging.Logger) ([]Document, error) {
	tmp, err := os.MkdirTemp("", "islandd-clone-*")
	if err != nil {
		return nil, fmt.Errorf("creating clone dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	opts := &git.CloneOptions{
		URL:   repoURL,
		Depth: 1,
	}
	if ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
		opts.SingleBranch = true
	}

	logger.Info(ctx, "cloning repository",
		zap.String("url", repoURL), zap.String("ref", ref))
	if _, err := git.PlainCloneContext(ctx, tmp, false, opts); err != nil {
		return nil, fmt.Errorf("cloning %s: %w", repoURL, err)
	}

	return EnumerateLocal(ctx, tmp, logger)
}
