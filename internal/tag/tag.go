// Package tag implements the Tag value type: a tagged-union source
// identifier (LABEL/UUID/PARTLABEL/PARTUUID/ID). Per spec §1, this is a
// deliberately thin collaborator; the core (internal/cache, internal/mount)
// only consumes the interface below.
package tag

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

// Name enumerates the recognized tag names.
type Name string

const (
	Label     Name = "LABEL"
	Uuid      Name = "UUID"
	PartLabel Name = "PARTLABEL"
	PartUuid  Name = "PARTUUID"
	Id        Name = "ID"
)

var recognized = map[Name]bool{
	Label: true, Uuid: true, PartLabel: true, PartUuid: true, Id: true,
}

// Tag is a validated NAME=value source identifier.
type Tag struct {
	name  Name
	value string
}

// Parse splits "NAME=value" into a Tag. Leading/trailing quotes (matching
// single or double) are stripped from value; mismatched quoting is a parse
// error. NAME must be one of the recognized tag names.
func Parse(s string) (Tag, error) {
	idx := strings.IndexByte(s, '=')
	if idx < 0 {
		return Tag{}, errors.Errorf("tag: missing '=' in %q", s)
	}
	name := Name(s[:idx])
	if !recognized[name] {
		return Tag{}, errors.Errorf("tag: unrecognized tag name %q", name)
	}
	value, err := unquote(s[idx+1:])
	if err != nil {
		return Tag{}, errors.Wrapf(err, "tag: bad value in %q", s)
	}
	// Tag values are opaque identifiers here, not validated against RFC 4122:
	// "UUID=aaa" parses to Uuid("aaa") even though it is not a well-formed
	// UUID, matching the behavior this package reimplements. Strict
	// well-formedness, when wanted, is the caller's concern (e.g. before
	// minting a new UUID tag with NewRandomUuid below).
	return Tag{name: name, value: value}, nil
}

// NewRandomUuid mints a fresh Tag{Uuid, ...} such as a formatter would when
// labeling a newly created filesystem.
func NewRandomUuid() Tag {
	return Tag{name: Uuid, value: uuid.NewV4().String()}
}

func unquote(s string) (string, error) {
	if len(s) < 2 {
		return s, nil
	}
	first, last := s[0], s[len(s)-1]
	isQuote := func(b byte) bool { return b == '"' || b == '\'' }
	if isQuote(first) || isQuote(last) {
		if first != last {
			return "", errors.Errorf("mismatched quoting in %q", s)
		}
		return s[1 : len(s)-1], nil
	}
	return s, nil
}

// New constructs a Tag without parsing a combined string.
func New(name Name, value string) Tag {
	return Tag{name: name, value: value}
}

func (t Tag) Name() Name   { return t.name }
func (t Tag) Value() string { return t.value }
func (t Tag) IsZero() bool  { return t.name == "" }

// needsQuoting reports whether value contains a space, tab, comma or quote
// character, which requires it to be double-quoted on output (spec §3).
func needsQuoting(value string) bool {
	for _, r := range value {
		switch {
		case r == ' ', r == '\t', r == ',', r == '"', r == '\'':
			return true
		}
	}
	return false
}

// String formats the tag as "NAME=value", double-quoting values that
// contain a space, tab, comma or quote character.
func (t Tag) String() string {
	if needsQuoting(t.value) {
		return fmt.Sprintf("%s=%q", t.name, t.value)
	}
	return fmt.Sprintf("%s=%s", t.name, t.value)
}
