package bpe

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/dlclark/regexp2"
)

// SpecialSet selects special-token literals for an encode policy.
// The zero value selects none.
type SpecialSet struct {
	all    bool
	tokens []string
}

// AllSpecial selects every declared special token. Used as the disallowed
// set it means every declared token that is not allowed.
func AllSpecial() SpecialSet { return SpecialSet{all: true} }

// NoSpecial selects no special tokens.
func NoSpecial() SpecialSet { return SpecialSet{} }

// Specials selects exactly the given literals.
func Specials(tokens ...string) SpecialSet {
	return SpecialSet{tokens: slices.Clone(tokens)}
}

// ParseSpecialSet reads the command-line form of a SpecialSet: "all",
// "none" (or empty), or a comma separated list of literals.
func ParseSpecialSet(s string) SpecialSet {
	switch strings.TrimSpace(s) {
	case "all":
		return AllSpecial()
	case "", "none":
		return NoSpecial()
	}
	var tokens []string
	for tok := range strings.SplitSeq(s, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return Specials(tokens...)
}

// IsAll reports whether s was built by AllSpecial.
func (s SpecialSet) IsAll() bool { return s.all }

// IsEmpty reports whether s selects nothing.
func (s SpecialSet) IsEmpty() bool { return !s.all && len(s.tokens) == 0 }

func (s SpecialSet) String() string {
	switch {
	case s.all:
		return "all"
	case len(s.tokens) == 0:
		return "none"
	}
	return strings.Join(s.tokens, ",")
}

// specialTable holds the declared special tokens and the matcher used to
// find them in text.
type specialTable struct {
	encoder map[string]int
	decoder map[int]string

	// literals holds the declared literals, longest first.
	literals []string

	// matcher is an alternation of the escaped literals, longest first, so
	// that a literal that is a prefix of another never shadows it.
	matcher *regexp2.Regexp
}

func newSpecialTable(tokens map[string]int) (specialTable, error) {
	st := specialTable{
		encoder: maps.Clone(tokens),
		decoder: make(map[int]string, len(tokens)),
	}
	if st.encoder == nil {
		st.encoder = map[string]int{}
	}
	for literal, id := range tokens {
		if literal == "" {
			return specialTable{}, inconsistent("empty special token with id %d", id)
		}
		if id < 0 {
			return specialTable{}, inconsistent("special token %q has negative id %d", literal, id)
		}
		if other, ok := st.decoder[id]; ok {
			return specialTable{}, inconsistent("special tokens %q and %q share id %d", other, literal, id)
		}
		st.decoder[id] = literal
	}
	if len(tokens) == 0 {
		return st, nil
	}

	literals := slices.SortedFunc(maps.Keys(tokens), func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	escaped := make([]string, len(literals))
	for i, literal := range literals {
		escaped[i] = regexp2.Escape(literal)
	}
	re, err := regexp2.Compile(strings.Join(escaped, "|"), regexp2.None)
	if err != nil {
		return specialTable{}, fmt.Errorf("compiling special token matcher: %w", err)
	}
	st.literals = literals
	st.matcher = re
	return st, nil
}

// firstDenied returns the literal of deny that occurs earliest in text. At
// equal offsets the longer literal is reported. Occurrences inside other
// literals count.
func (st *specialTable) firstDenied(text string, deny map[string]struct{}) (string, bool) {
	found, at := "", -1
	for _, literal := range st.literals {
		if _, ok := deny[literal]; !ok {
			continue
		}
		if i := strings.Index(text, literal); i >= 0 && (at < 0 || i < at) {
			found, at = literal, i
		}
	}
	return found, at >= 0
}

// allowedAt returns the longest literal of allow starting at byte offset
// off of text.
func (st *specialTable) allowedAt(text string, off int, allow map[string]struct{}) (string, bool) {
	for _, literal := range st.literals {
		if _, ok := allow[literal]; ok && strings.HasPrefix(text[off:], literal) {
			return literal, true
		}
	}
	return "", false
}

// resolve turns the allowed and disallowed selections into literal sets.
// A literal in both sets is treated as disallowed.
func (st *specialTable) resolve(allowed, disallowed SpecialSet) (allow, deny map[string]struct{}) {
	allow = st.selectSet(allowed, nil)
	deny = st.selectSet(disallowed, allow)
	return allow, deny
}

func (st *specialTable) selectSet(s SpecialSet, exclude map[string]struct{}) map[string]struct{} {
	if s.IsEmpty() {
		return nil
	}
	set := map[string]struct{}{}
	if s.all {
		for literal := range st.encoder {
			if _, skip := exclude[literal]; !skip {
				set[literal] = struct{}{}
			}
		}
		return set
	}
	for _, literal := range s.tokens {
		if _, ok := st.encoder[literal]; ok {
			set[literal] = struct{}{}
		}
	}
	return set
}
