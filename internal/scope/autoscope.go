package scope

import (
	"crypto/sha256"
	"path/filepath"
	"strings"

	"github.com/mr-tron/base58"
)

// hashLen is the number of Base58 characters kept from each path hash.
const hashLen = 8

// AutoProject derives a project name from a filesystem path when the caller
// gave no explicit project.
//
// Format: {h1}-{sanitized_basename}-{h2}, where h1 and h2 are 8-character
// Base58 renderings of independent SHA-256 hashes over the absolute path.
// Collision probability across both hashes is ~58^-16.
func AutoProject(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	h1 := pathHash("islandd/scope/1:", abs)
	h2 := pathHash("islandd/scope/2:", abs)

	return h1 + "-" + sanitizeBasename(filepath.Base(abs)) + "-" + h2, nil
}

// pathHash renders the first hashLen Base58 characters of a domain-separated
// SHA-256 over the path.
func pathHash(domain, abs string) string {
	sum := sha256.Sum256([]byte(domain + abs))
	encoded := base58.Encode(sum[:])
	if len(encoded) > hashLen {
		encoded = encoded[:hashLen]
	}
	return encoded
}

// sanitizeBasename lowercases the path basename and replaces runs of
// non-alphanumeric characters with a single hyphen.
func sanitizeBasename(base string) string {
	base = strings.ToLower(base)
	var b strings.Builder
	b.Grow(len(base))
	prevHyphen := false
	for _, r := range base {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			prevHyphen = false
		case !prevHyphen:
			b.WriteByte('-')
			prevHyphen = true
		}
	}
	return strings.Trim(b.String(), "-")
}
