package bpe

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
)

// Config describes one encoding: its ordinary pattern, its vocabulary and
// its special tokens.
type Config struct {
	Name    string
	Pattern string

	// Ranks maps raw byte sequences, held as strings, to ranks. It is
	// retained by the tokenizer and must not be modified afterwards.
	Ranks map[string]int

	SpecialTokens map[string]int

	// ExplicitVocabSize, when positive, is the exact number of ordinary and
	// special tokens together. The largest id must then be ExplicitVocabSize-1.
	ExplicitVocabSize int
}

type options struct {
	cacheSize int
	logger    *slog.Logger
}

// Option configures a Tokenizer.
type Option func(*options)

// WithCacheSize enables a piece cache holding up to n entries. The cache is
// off by default and n <= 0 keeps it off.
func WithCacheSize(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}

// WithLogger sets the logger used for debug output. It defaults to
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// EncodeResult is the outcome of EncodeTrimSuffix and EncodeTrimPrefix:
// the kept ids and the part of the input they cover.
type EncodeResult struct {
	TokenIDs []int
	Text     string
}

// Tokenizer encodes text to token ids and back for one encoding. It is
// immutable after construction and safe for concurrent use.
type Tokenizer struct {
	name     string
	vocab    *Vocabulary
	pattern  *regexp2.Regexp
	specials specialTable
	cache    *pieceCache
	logger   *slog.Logger
}

// NewTokenizer validates cfg and builds a Tokenizer for it.
func NewTokenizer(cfg Config, opts ...Option) (*Tokenizer, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	vocab, err := NewVocabulary(cfg.Ranks)
	if err != nil {
		return nil, fmt.Errorf("encoding %q: %w", cfg.Name, err)
	}

	specials, err := newSpecialTable(cfg.SpecialTokens)
	if err != nil {
		return nil, fmt.Errorf("encoding %q: %w", cfg.Name, err)
	}

	if cfg.ExplicitVocabSize > 0 {
		if err := checkVocabSize(cfg.ExplicitVocabSize, vocab, specials); err != nil {
			return nil, fmt.Errorf("encoding %q: %w", cfg.Name, err)
		}
	}

	pattern, err := regexp2.Compile(cfg.Pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("encoding %q: %w: %w", cfg.Name, ErrInvalidPattern, err)
	}

	t := &Tokenizer{
		name:     cfg.Name,
		vocab:    vocab,
		pattern:  pattern,
		specials: specials,
		logger:   o.logger,
	}
	if o.cacheSize > 0 {
		if t.cache, err = newPieceCache(o.cacheSize); err != nil {
			return nil, fmt.Errorf("encoding %q: %w", cfg.Name, err)
		}
		t.logger.Debug("piece cache enabled", "encoding", cfg.Name, "size", o.cacheSize)
	}
	return t, nil
}

func checkVocabSize(n int, vocab *Vocabulary, specials specialTable) error {
	if got := vocab.Len() + len(specials.encoder); got != n {
		return inconsistent("%d ordinary and %d special tokens, expected %d in total",
			vocab.Len(), len(specials.encoder), n)
	}
	maxID := vocab.MaxRank()
	for _, id := range specials.encoder {
		maxID = max(maxID, id)
	}
	if maxID != n-1 {
		return inconsistent("largest token id is %d, expected %d", maxID, n-1)
	}
	return nil
}

// Name returns the encoding name from Config.
func (t *Tokenizer) Name() string { return t.name }

// Vocabulary returns the ordinary vocabulary.
func (t *Tokenizer) Vocabulary() *Vocabulary { return t.vocab }

// SpecialTokens returns a copy of the special-token table.
func (t *Tokenizer) SpecialTokens() map[string]int { return maps.Clone(t.specials.encoder) }

// MaxTokenValue returns the largest ordinary or special id.
func (t *Tokenizer) MaxTokenValue() int {
	maxID := t.vocab.MaxRank()
	for _, id := range t.specials.encoder {
		maxID = max(maxID, id)
	}
	return maxID
}

type encodeOptions struct {
	allowed    SpecialSet
	disallowed SpecialSet
}

// EncodeOption sets the special-token policy of a single encode call.
type EncodeOption func(*encodeOptions)

// WithAllowedSpecial sets the literals that are emitted as their special id.
func WithAllowedSpecial(s SpecialSet) EncodeOption {
	return func(o *encodeOptions) {
		o.allowed = s
	}
}

// WithDisallowedSpecial sets the literals whose presence fails the call.
func WithDisallowedSpecial(s SpecialSet) EncodeOption {
	return func(o *encodeOptions) {
		o.disallowed = s
	}
}

// Encode converts text to token ids. By default no special token is allowed
// or disallowed, so special literals are encoded as ordinary text.
//
// If the text contains a disallowed literal, Encode returns a
// *DisallowedSpecialError and no ids.
func (t *Tokenizer) Encode(text string, opts ...EncodeOption) ([]int, error) {
	ids, _, err := t.EncodeWithLastPiece(text, opts...)
	return ids, err
}

// EncodeWithLastPiece is Encode that also reports how many ids the last
// ordinary piece produced. The count is 0 when the text ends with a special
// token or is empty.
func (t *Tokenizer) EncodeWithLastPiece(text string, opts ...EncodeOption) ([]int, int, error) {
	var o encodeOptions
	for _, opt := range opts {
		opt(&o)
	}
	allow, deny := t.specials.resolve(o.allowed, o.disallowed)
	if literal, ok := t.specials.firstDenied(text, deny); ok {
		t.logger.Debug("disallowed special token in input", "encoding", t.name, "token", literal)
		return nil, 0, &DisallowedSpecialError{Token: literal}
	}

	in := newRuneText(text)
	ids := make([]int, 0, len(text)/3+1)
	last := 0
	start := 0
	for {
		m, found, err := t.nextSpecial(in, start, allow)
		if err != nil {
			return nil, 0, err
		}

		end := len(in.runes)
		if found {
			end = m.index
		}
		if ids, last, err = t.encodeSpan(ids, last, in, start, end); err != nil {
			return nil, 0, err
		}
		if !found {
			break
		}

		ids = append(ids, t.specials.encoder[m.literal])
		last = 0
		start = m.index + m.length
	}
	return ids, last, nil
}

// EncodeOrdinary encodes text without looking for special tokens.
func (t *Tokenizer) EncodeOrdinary(text string) []int {
	in := newRuneText(text)
	ids, _, err := t.encodeSpan(make([]int, 0, len(text)/3+1), 0, in, 0, len(in.runes))
	if err != nil {
		// regexp2 only fails on a match timeout, and none is set.
		panic(fmt.Sprintf("bpe: ordinary pattern failed: %v", err))
	}
	return ids
}

// Count returns the number of ids Encode would produce.
func (t *Tokenizer) Count(text string, opts ...EncodeOption) (int, error) {
	ids, err := t.Encode(text, opts...)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// EncodeTrimSuffix encodes text and keeps at most maxTokenCount ids from the
// start. Text is the prefix of the input those ids decode to; it can end in
// the middle of a multi-byte character when a character spans tokens.
func (t *Tokenizer) EncodeTrimSuffix(text string, maxTokenCount int, opts ...EncodeOption) (EncodeResult, error) {
	ids, err := t.Encode(text, opts...)
	if err != nil {
		return EncodeResult{}, err
	}
	if maxTokenCount <= 0 {
		return EncodeResult{TokenIDs: []int{}}, nil
	}
	if len(ids) <= maxTokenCount {
		return EncodeResult{TokenIDs: ids, Text: text}, nil
	}

	kept := ids[:maxTokenCount]
	return EncodeResult{TokenIDs: kept, Text: text[:t.byteLen(kept)]}, nil
}

// EncodeTrimPrefix encodes text and keeps at most maxTokenCount ids from the
// end. Text is the suffix of the input those ids decode to.
func (t *Tokenizer) EncodeTrimPrefix(text string, maxTokenCount int, opts ...EncodeOption) (EncodeResult, error) {
	ids, err := t.Encode(text, opts...)
	if err != nil {
		return EncodeResult{}, err
	}
	if maxTokenCount <= 0 {
		return EncodeResult{TokenIDs: []int{}}, nil
	}
	if len(ids) <= maxTokenCount {
		return EncodeResult{TokenIDs: ids, Text: text}, nil
	}

	dropped := ids[:len(ids)-maxTokenCount]
	return EncodeResult{TokenIDs: ids[len(dropped):], Text: text[t.byteLen(dropped):]}, nil
}

// byteLen returns the number of input bytes covered by ids, which must come
// from encoding that input.
func (t *Tokenizer) byteLen(ids []int) int {
	n := 0
	for _, id := range ids {
		if b, ok := t.vocab.Bytes(id); ok {
			n += len(b)
		} else {
			n += len(t.specials.decoder[id])
		}
	}
	return n
}

// Pieces splits text with the ordinary pattern, ignoring special tokens.
func (t *Tokenizer) Pieces(text string) []string {
	in := newRuneText(text)
	var pieces []string
	err := t.eachPiece(in, 0, len(in.runes), func(piece string) {
		pieces = append(pieces, piece)
	})
	if err != nil {
		panic(fmt.Sprintf("bpe: ordinary pattern failed: %v", err))
	}
	return pieces
}

// specialMatch is an allowed literal found in the input. index and length
// count runes.
type specialMatch struct {
	index   int
	length  int
	literal string
}

// nextSpecial finds the next allowed special token at or after rune index
// start. Other declared literals are stepped over and later encoded as
// ordinary text.
func (t *Tokenizer) nextSpecial(in runeText, start int, allow map[string]struct{}) (specialMatch, bool, error) {
	if t.specials.matcher == nil || len(allow) == 0 {
		return specialMatch{}, false, nil
	}
	for from := start; from < len(in.runes); {
		m, err := t.specials.matcher.FindRunesMatchStartingAt(in.runes, from)
		if err != nil {
			return specialMatch{}, false, fmt.Errorf("matching special tokens: %w", err)
		}
		if m == nil {
			return specialMatch{}, false, nil
		}
		literal := m.String()
		if _, ok := allow[literal]; !ok {
			// A longer literal that is not allowed can start with an
			// allowed one.
			if literal, ok = t.specials.allowedAt(in.text, in.offsets[m.Index], allow); !ok {
				from = m.Index + 1
				continue
			}
		}
		return specialMatch{index: m.Index, length: utf8.RuneCountInString(literal), literal: literal}, true, nil
	}
	return specialMatch{}, false, nil
}

// encodeSpan appends the ids for the ordinary text between rune indexes
// start and end. last carries the id count of the latest piece.
func (t *Tokenizer) encodeSpan(ids []int, last int, in runeText, start, end int) ([]int, int, error) {
	err := t.eachPiece(in, start, end, func(piece string) {
		n := len(ids)
		ids = t.encodePiece(ids, piece)
		last = len(ids) - n
	})
	return ids, last, err
}

// eachPiece calls fn with each non-empty match of the ordinary pattern in
// the runes [start, end). Matching sees only that span.
func (t *Tokenizer) eachPiece(in runeText, start, end int, fn func(piece string)) error {
	if start >= end {
		return nil
	}
	span := in.runes[start:end]
	m, err := t.pattern.FindRunesMatch(span)
	for ; m != nil && err == nil; m, err = t.pattern.FindNextMatch(m) {
		if m.Length == 0 {
			continue
		}
		fn(in.slice(start+m.Index, start+m.Index+m.Length))
	}
	if err != nil {
		return fmt.Errorf("matching ordinary pattern: %w", err)
	}
	return nil
}

func (t *Tokenizer) encodePiece(ids []int, piece string) []int {
	if rank, ok := t.vocab.encoder[piece]; ok {
		return append(ids, rank)
	}
	if t.cache != nil {
		if cached, ok := t.cache.get(piece); ok {
			return append(ids, cached...)
		}
	}
	n := len(ids)
	ids = t.vocab.encodePiece(ids, piece)
	if t.cache != nil {
		t.cache.add(piece, ids[n:])
	}
	return ids
}

// runeText is the input as runes for the matchers, with the byte offset of
// every rune so that pieces are cut from the original string. Invalid UTF-8
// bytes each become one utf8.RuneError rune and keep their original bytes.
type runeText struct {
	text    string
	runes   []rune
	offsets []int
}

func newRuneText(text string) runeText {
	n := utf8.RuneCountInString(text)
	in := runeText{
		text:    text,
		runes:   make([]rune, 0, n),
		offsets: make([]int, 0, n+1),
	}
	for i, r := range text {
		in.runes = append(in.runes, r)
		in.offsets = append(in.offsets, i)
	}
	in.offsets = append(in.offsets, len(text))
	return in
}

func (in runeText) slice(from, to int) string {
	return in.text[in.offsets[from]:in.offsets[to]]
}

// IsDisallowedSpecial reports whether err was caused by a disallowed
// special token and returns it.
func IsDisallowedSpecial(err error) (*DisallowedSpecialError, bool) {
	var dse *DisallowedSpecialError
	ok := errors.As(err, &dse)
	return dse, ok
}
