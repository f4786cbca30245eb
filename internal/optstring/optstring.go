// Package optstring implements the mount-option string algebra of spec §4.1:
// parsing, appending, removing, deduplicating and pattern-matching against a
// comma-separated list of "name" or "name=value" tokens, honoring balanced
// double-quotes so a quoted value (e.g. an SELinux context) may itself
// contain commas.
package optstring

import "strings"

// Token is one parsed "name" or "name=value" element of an option list.
type Token struct {
	Name  string
	Value string
	// HasValue distinguishes "name" (bare) from "name=" (explicit empty
	// value).
	HasValue bool
}

func (t Token) String() string {
	if !t.HasValue {
		return t.Name
	}
	return t.Name + "=" + t.Value
}

// split splits a list into its raw token substrings, respecting balanced
// double quotes around commas.
func split(list string) []string {
	if list == "" {
		return nil
	}
	var toks []string
	start := 0
	inQuotes := false
	for i := 0; i < len(list); i++ {
		switch list[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				toks = append(toks, list[start:i])
				start = i + 1
			}
		}
	}
	toks = append(toks, list[start:])
	return toks
}

func join(toks []string) string {
	return strings.Join(toks, ",")
}

func parseToken(raw string) Token {
	if idx := strings.IndexByte(raw, '='); idx >= 0 {
		return Token{Name: raw[:idx], Value: raw[idx+1:], HasValue: true}
	}
	return Token{Name: raw}
}

// Iter yields each token of list in order, respecting quoting rules.
func Iter(list string) []Token {
	raws := split(list)
	toks := make([]Token, 0, len(raws))
	for _, r := range raws {
		toks = append(toks, parseToken(r))
	}
	return toks
}

func findIndex(toks []string, name string) int {
	for i, r := range toks {
		if parseToken(r).Name == name {
			return i
		}
	}
	return -1
}

func findLastIndex(toks []string, name string) int {
	last := -1
	for i, r := range toks {
		if parseToken(r).Name == name {
			last = i
		}
	}
	return last
}

func render(name, value string) string {
	if value == "" {
		return name
	}
	return name + "=" + value
}

// Append adds "name" or "name=value" to the end of list. A no-op (returns
// list unchanged) when name is empty.
func Append(list, name, value string) string {
	if name == "" {
		return list
	}
	toks := split(list)
	toks = append(toks, render(name, value))
	return join(toks)
}

// Prepend adds "name" or "name=value" to the front of list. A no-op when
// name is empty. Prepending into an empty list still yields a trailing
// comma, per spec §4.1 ("name=value," retains the delimiter for later
// tokens appended afterward).
func Prepend(list, name, value string) string {
	if name == "" {
		return list
	}
	token := render(name, value)
	if list == "" {
		return token + ","
	}
	toks := split(list)
	toks = append([]string{token}, toks...)
	return join(toks)
}

// Remove deletes the first occurrence of name from list. ok is false when
// name was not present (distinct from an already-empty list).
func Remove(list, name string) (result string, ok bool) {
	toks := split(list)
	idx := findIndex(toks, name)
	if idx < 0 {
		return list, false
	}
	toks = append(toks[:idx], toks[idx+1:]...)
	return join(toks), true
}

// Dedupe retains only the last occurrence of name in list, removing all
// earlier ones.
func Dedupe(list, name string) string {
	toks := split(list)
	last := findLastIndex(toks, name)
	if last < 0 {
		return list
	}
	out := make([]string, 0, len(toks))
	for i, r := range toks {
		if i != last && parseToken(r).Name == name {
			continue
		}
		out = append(out, r)
	}
	return join(out)
}

// GetValue returns the value of the first "name=..." token in list, and
// whether it was found. The string is a borrow-equivalent: a substring of
// list's token, never mutated.
func GetValue(list, name string) (string, bool) {
	for _, r := range split(list) {
		tok := parseToken(r)
		if tok.Name == name && tok.HasValue {
			return tok.Value, true
		}
	}
	return "", false
}

// Set changes the value of an existing "name" token in list. ok is false
// when the token is absent.
func Set(list, name, value string) (result string, ok bool) {
	toks := split(list)
	idx := findIndex(toks, name)
	if idx < 0 {
		return list, false
	}
	toks[idx] = render(name, value)
	return join(toks), true
}

// Unset clears the value of an existing "name=value" token, turning it into
// a bare "name". ok is false when the token is absent.
func Unset(list, name string) (result string, ok bool) {
	toks := split(list)
	idx := findIndex(toks, name)
	if idx < 0 {
		return list, false
	}
	toks[idx] = name
	return join(toks), true
}

// MatchAny reports whether list satisfies pattern, itself a comma-separated
// list of tokens. A pattern token prefixed by "no" matches when that base
// token is absent from list; "+no"-prefixed tokens revert to a literal
// match (so "+nodiratime" matches the literal option "nodiratime"). An
// empty pattern matches any list; an empty list matches only all-negated
// patterns. See spec §4.1's normative table.
func MatchAny(list, pattern string) bool {
	if pattern == "" {
		return true
	}
	present := make(map[string]bool)
	for _, t := range Iter(list) {
		present[t.Name] = true
	}
	for _, raw := range split(pattern) {
		name := parseToken(raw).Name
		switch {
		case strings.HasPrefix(name, "+no"):
			literal := name[1:]
			if present[literal] {
				return true
			}
		case strings.HasPrefix(name, "no"):
			base := name[2:]
			if !present[base] {
				return true
			}
		default:
			if present[name] {
				return true
			}
		}
	}
	return false
}

// Split partitions list into kernel, userspace, and filesystem-specific
// subsets by membership in the two lookup functions. Tokens matched by
// neither are passed through to the filesystem verbatim.
func Split(list string, inKernel, inUserspace func(name string) bool) (kernel, userspace, fsSpecific string) {
	var k, u, f []string
	for _, raw := range split(list) {
		name := parseToken(raw).Name
		switch {
		case inKernel(name):
			k = append(k, raw)
		case inUserspace(name):
			u = append(u, raw)
		default:
			f = append(f, raw)
		}
	}
	return join(k), join(u), join(f)
}

// FilterFlag bits mirror the flagmap.Attr bits Negated, FsIo and
// NotInMountInfo so Filter can select against them without importing
// internal/flagmap; the caller's Lookup supplies each token's bits.
type FilterFlag int

const (
	FilterNegated FilterFlag = 1 << iota
	FilterFsIo
	FilterNotInMountInfo
)

// Lookup resolves a token name to its known attribute bits and whether it
// is known at all.
type Lookup func(name string) (attrs FilterFlag, known bool)

// Filter extracts only tokens known to lookup, skipping any tagged with a
// bit set in skip.
func Filter(list string, lookup Lookup, skip FilterFlag) string {
	var out []string
	for _, raw := range split(list) {
		name := parseToken(raw).Name
		attrs, known := lookup(name)
		if !known {
			continue
		}
		if attrs&skip != 0 {
			continue
		}
		out = append(out, raw)
	}
	return join(out)
}
