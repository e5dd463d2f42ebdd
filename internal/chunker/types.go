// Package chunker splits source files, markdown, and crawled pages into
// retrieval-sized chunks with stable identities.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Symbol describes the code construct a chunk covers, when known.
type Symbol struct {
	// Name is the declared identifier.
	Name string `json:"name,omitempty"`

	// Kind is one of function, method, type, class, const, var, section.
	Kind string `json:"kind,omitempty"`

	// Signature is the declaration line, without the body.
	Signature string `json:"signature,omitempty"`

	// Parent is the enclosing type or class, if any.
	Parent string `json:"parent,omitempty"`

	// Docstring is the comment block immediately preceding the
	// declaration, if any.
	Docstring string `json:"docstring,omitempty"`
}

// Chunk is one indexed unit of content.
type Chunk struct {
	// ID is deterministic: the same dataset, path, span, and content
	// always produce the same id, so re-indexing upserts in place.
	ID uuid.UUID

	DatasetID uuid.UUID

	// SourcePath is the repo-relative file path or the page URL.
	SourcePath string

	// Language is the detected language name, empty for plain text.
	Language string

	Content string

	// Byte offsets into the normalized file content.
	StartByte int
	EndByte   int

	// 1-based line numbers in the normalized content.
	StartLine int
	EndLine   int

	Symbol *Symbol
}

// Digest returns the hex SHA-256 of the chunk content.
func (c *Chunk) Digest() string {
	sum := sha256.Sum256([]byte(c.Content))
	return hex.EncodeToString(sum[:])
}

// chunkIDSpace separates chunk ids from other deterministic ids.
var chunkIDSpace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("islandd/chunk"))

// ChunkID derives the deterministic chunk id.
func ChunkID(datasetID uuid.UUID, sourcePath string, startByte, endByte int, content string) uuid.UUID {
	sum := sha256.Sum256([]byte(content))
	key := fmt.Sprintf("%s|%s|%d|%d|%s", datasetID, sourcePath, startByte, endByte, hex.EncodeToString(sum[:]))
	return uuid.NewSHA1(chunkIDSpace, []byte(key))
}
