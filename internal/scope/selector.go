package scope

import (
	"errors"
	"fmt"
	"strings"
)

// Selector kinds.
const (
	SelectorLiteral  = "literal"
	SelectorList     = "list"
	SelectorGlob     = "glob"
	SelectorWildcard = "wildcard"
	SelectorAlias    = "alias"
)

// ErrInvalidSelector is returned for selectors that cannot be parsed.
var ErrInvalidSelector = errors.New("invalid dataset selector")

// aliasKeys are the recognized semantic alias namespaces. Aliases resolve
// to concrete dataset names via conventional tags on dataset rows.
var aliasKeys = map[string]bool{
	"env":    true,
	"src":    true,
	"branch": true,
}

// Selector is a parsed dataset selector. Exactly one of the shape fields is
// meaningful, per Kind.
type Selector struct {
	// Kind is one of the Selector* constants.
	Kind string

	// Literal holds the dataset name for SelectorLiteral.
	Literal string

	// Names holds the dataset names for SelectorList.
	Names []string

	// Glob holds the raw glob for SelectorGlob.
	Glob string

	// AliasKey and AliasValue hold the parts of a key:value alias.
	AliasKey   string
	AliasValue string
}

// ParseSelector parses a raw selector value, which is either a string or a
// list of strings (as decoded from JSON). An empty selector means the
// default dataset.
func ParseSelector(raw any) (*Selector, error) {
	switch v := raw.(type) {
	case nil:
		return &Selector{Kind: SelectorLiteral, Literal: DefaultDataset}, nil
	case string:
		return parseString(v)
	case []string:
		return parseList(v)
	case []any:
		names := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: list items must be strings, got %T", ErrInvalidSelector, item)
			}
			names = append(names, s)
		}
		return parseList(names)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidSelector, raw)
	}
}

func parseString(s string) (*Selector, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return &Selector{Kind: SelectorLiteral, Literal: DefaultDataset}, nil
	case s == "*":
		return &Selector{Kind: SelectorWildcard}, nil
	case strings.Contains(s, ":"):
		key, value, _ := strings.Cut(s, ":")
		if !aliasKeys[key] {
			return nil, fmt.Errorf("%w: unknown alias namespace %q", ErrInvalidSelector, key)
		}
		if value == "" {
			return nil, fmt.Errorf("%w: alias %q has empty value", ErrInvalidSelector, s)
		}
		return &Selector{Kind: SelectorAlias, AliasKey: key, AliasValue: value}, nil
	case strings.Contains(s, "*"):
		return &Selector{Kind: SelectorGlob, Glob: s}, nil
	default:
		return &Selector{Kind: SelectorLiteral, Literal: s}, nil
	}
}

func parseList(names []string) (*Selector, error) {
	if len(names) == 0 {
		return &Selector{Kind: SelectorLiteral, Literal: DefaultDataset}, nil
	}
	if len(names) == 1 {
		return parseString(names[0])
	}
	cleaned := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if strings.ContainsAny(n, "*:") {
			return nil, fmt.Errorf("%w: globs and aliases are not allowed inside lists: %q", ErrInvalidSelector, n)
		}
		cleaned = append(cleaned, n)
	}
	if len(cleaned) == 0 {
		return &Selector{Kind: SelectorLiteral, Literal: DefaultDataset}, nil
	}
	return &Selector{Kind: SelectorList, Names: cleaned}, nil
}

// LikePattern translates a glob to a SQL LIKE pattern: `*` becomes `%` and
// the LIKE metacharacters `%` and `_` are escaped with backslash.
func LikePattern(glob string) string {
	var b strings.Builder
	b.Grow(len(glob))
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteByte('%')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
