package bpe

import (
	"errors"
	"fmt"
)

var (
	// ErrVocabularyInconsistent is returned when a vocabulary or special-token
	// table cannot back a tokenizer: duplicate ids, negative ranks, missing
	// single bytes, or a failed explicit vocabulary size check.
	ErrVocabularyInconsistent = errors.New("vocabulary is inconsistent")

	// ErrInvalidPattern wraps a pattern that fails to compile.
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrDisallowedSpecial matches any *DisallowedSpecialError.
	ErrDisallowedSpecial = errors.New("disallowed special token")

	// ErrUnknownTokenID is returned by DecodeToken for ids that are neither
	// in the vocabulary nor in the special-token table.
	ErrUnknownTokenID = errors.New("unknown token id")
)

// DisallowedSpecialError reports a disallowed special-token literal found in
// the text passed to Encode.
type DisallowedSpecialError struct {
	Token string
}

func (e *DisallowedSpecialError) Error() string {
	return fmt.Sprintf("text contains disallowed special token %q", e.Token)
}

func (e *DisallowedSpecialError) Is(target error) bool {
	return target == ErrDisallowedSpecial
}

func inconsistent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrVocabularyInconsistent, fmt.Sprintf(format, args...))
}
