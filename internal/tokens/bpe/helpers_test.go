package bpe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// gpt2Pattern is the r50k/p50k ordinary pattern.
const gpt2Pattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`

// byteRanks returns a vocabulary where every single byte has a rank of
// base+byte, plus the given merges.
func byteRanks(base int, merges map[string]int) map[string]int {
	ranks := make(map[string]int, 256+len(merges))
	for b := 0; b < 256; b++ {
		ranks[string([]byte{byte(b)})] = base + b
	}
	for piece, rank := range merges {
		ranks[piece] = rank
	}
	return ranks
}

func newTestVocabulary(t testing.TB, base int, merges map[string]int) *Vocabulary {
	t.Helper()
	v, err := NewVocabulary(byteRanks(base, merges))
	require.NoError(t, err)
	return v
}

func newTestTokenizer(t testing.TB, merges map[string]int, specials map[string]int, opts ...Option) *Tokenizer {
	t.Helper()
	tk, err := NewTokenizer(Config{
		Name:          "test",
		Pattern:       gpt2Pattern,
		Ranks:         byteRanks(0, merges),
		SpecialTokens: specials,
	}, opts...)
	require.NoError(t, err)
	return tk
}

func bytesOf(s string) []int {
	ids := make([]int, len(s))
	for i := range len(s) {
		ids[i] = int(s[i])
	}
	return ids
}
