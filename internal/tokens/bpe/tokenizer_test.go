package bpe

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	endToken   = "<|end|>"
	startToken = "<|start|>"
)

func newSpecialsTokenizer(t *testing.T, opts ...Option) *Tokenizer {
	return newTestTokenizer(t,
		map[string]int{"  ": 256, "   ": 257},
		map[string]int{endToken: 1000, startToken: 1001},
		opts...,
	)
}

func TestTokenizerCore(t *testing.T) {
	tokenizer := newTestTokenizer(t, nil, nil)

	t.Run("hello world", func(t *testing.T) {
		str := "hello world"
		encoded, last, err := tokenizer.EncodeWithLastPiece(str)
		require.NoError(t, err)
		require.Equal(t, bytesOf(str), encoded)
		require.Equal(t, 6, last)
		require.Equal(t, str, tokenizer.Decode(encoded))
	})

	t.Run("single punctuation", func(t *testing.T) {
		encoded, err := tokenizer.Encode("!")
		require.NoError(t, err)
		require.Equal(t, []int{'!'}, encoded)
	})

	t.Run("empty string", func(t *testing.T) {
		encoded, last, err := tokenizer.EncodeWithLastPiece("")
		require.NoError(t, err)
		require.Empty(t, encoded)
		require.Zero(t, last)
		require.Equal(t, "", tokenizer.Decode(encoded))
	})

	t.Run("round trip", func(t *testing.T) {
		for _, str := range []string{
			"The quick brown fox jumps over the lazy dog.",
			"héllo wörld, 世界! Привет 👋🏽",
			"tabs\tand\r\nnewlines\n\n  trailing   ",
			"it's we'll they've I'm",
			"\xff\xfe invalid \xc3 utf-8",
		} {
			encoded, err := tokenizer.Encode(str)
			require.NoError(t, err)
			require.Equal(t, []byte(str), tokenizer.DecodeBytes(encoded), "text %q", str)
			require.Equal(t, encoded, tokenizer.EncodeOrdinary(str))
		}
	})
}

func TestEncodeSpecialPolicies(t *testing.T) {
	tokenizer := newSpecialsTokenizer(t)

	t.Run("default encodes literals as text", func(t *testing.T) {
		str := "a" + endToken + "b" + startToken
		encoded, err := tokenizer.Encode(str)
		require.NoError(t, err)
		require.Equal(t, tokenizer.EncodeOrdinary(str), encoded)
		require.NotContains(t, encoded, 1000)
		require.NotContains(t, encoded, 1001)
	})

	t.Run("allow all", func(t *testing.T) {
		encoded, last, err := tokenizer.EncodeWithLastPiece(
			"a"+endToken+"b"+startToken,
			WithAllowedSpecial(AllSpecial()),
		)
		require.NoError(t, err)
		require.Equal(t, []int{'a', 1000, 'b', 1001}, encoded)
		require.Zero(t, last)
	})

	t.Run("allow some", func(t *testing.T) {
		encoded, last, err := tokenizer.EncodeWithLastPiece(
			"x"+endToken+"y"+startToken+"zz",
			WithAllowedSpecial(Specials(startToken)),
		)
		require.NoError(t, err)

		want := append(tokenizer.EncodeOrdinary("x"+endToken+"y"), 1001, 'z', 'z')
		require.Equal(t, want, encoded)
		require.Equal(t, 2, last)
	})

	t.Run("adjacent literals", func(t *testing.T) {
		encoded, err := tokenizer.Encode(endToken+endToken+startToken, WithAllowedSpecial(AllSpecial()))
		require.NoError(t, err)
		require.Equal(t, []int{1000, 1000, 1001}, encoded)
	})

	t.Run("disallow all", func(t *testing.T) {
		encoded, err := tokenizer.Encode("a b "+endToken, WithDisallowedSpecial(AllSpecial()))
		require.ErrorIs(t, err, ErrDisallowedSpecial)
		require.Nil(t, encoded)

		var dse *DisallowedSpecialError
		require.True(t, errors.As(err, &dse))
		require.Equal(t, endToken, dse.Token)
	})

	t.Run("disallow all except allowed", func(t *testing.T) {
		opts := []EncodeOption{
			WithAllowedSpecial(Specials(endToken)),
			WithDisallowedSpecial(AllSpecial()),
		}

		encoded, err := tokenizer.Encode("a"+endToken, opts...)
		require.NoError(t, err)
		require.Equal(t, []int{'a', 1000}, encoded)

		encoded, err = tokenizer.Encode("a"+endToken+startToken, opts...)
		require.Nil(t, encoded)
		dse, ok := IsDisallowedSpecial(err)
		require.True(t, ok)
		require.Equal(t, startToken, dse.Token)
	})

	t.Run("disallow some", func(t *testing.T) {
		encoded, err := tokenizer.Encode(endToken, WithDisallowedSpecial(Specials(startToken)))
		require.NoError(t, err)
		require.Equal(t, tokenizer.EncodeOrdinary(endToken), encoded)
	})

	t.Run("disallowed wins over allowed", func(t *testing.T) {
		_, err := tokenizer.Encode(endToken,
			WithAllowedSpecial(Specials(endToken)),
			WithDisallowedSpecial(Specials(endToken)),
		)
		require.ErrorIs(t, err, ErrDisallowedSpecial)
	})

	t.Run("literal sharing a prefix with a longer one", func(t *testing.T) {
		nested := newTestTokenizer(t, nil, map[string]int{"<|a|>": 1000, "<|a|>b": 1001})

		tests := []struct {
			name       string
			text       string
			allowed    SpecialSet
			disallowed SpecialSet
			want       []int
			wantErr    string
		}{
			{
				name:       "disallowed shorter literal",
				text:       "<|a|>b",
				disallowed: Specials("<|a|>"),
				wantErr:    "<|a|>",
			},
			{
				name:       "disallowed inside an allowed literal",
				text:       "x<|a|>b",
				allowed:    Specials("<|a|>b"),
				disallowed: Specials("<|a|>"),
				wantErr:    "<|a|>",
			},
			{
				name:    "allowed shorter literal",
				text:    "<|a|>b",
				allowed: Specials("<|a|>"),
				want:    []int{1000, 'b'},
			},
			{
				name:    "allowed longer literal",
				text:    "<|a|>b<|a|>",
				allowed: AllSpecial(),
				want:    []int{1001, 1000},
			},
			{
				name:       "earliest disallowed literal is reported",
				text:       "<|a|> <|a|>b",
				disallowed: AllSpecial(),
				wantErr:    "<|a|>",
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				encoded, err := nested.Encode(tt.text,
					WithAllowedSpecial(tt.allowed),
					WithDisallowedSpecial(tt.disallowed),
				)
				if tt.wantErr != "" {
					require.Nil(t, encoded)
					dse, ok := IsDisallowedSpecial(err)
					require.True(t, ok, "error %v", err)
					require.Equal(t, tt.wantErr, dse.Token)
					return
				}
				require.NoError(t, err)
				require.Equal(t, tt.want, encoded)
			})
		}
	})

	t.Run("undeclared literals are ignored", func(t *testing.T) {
		encoded, err := tokenizer.Encode("<|other|>", WithAllowedSpecial(Specials("<|other|>")))
		require.NoError(t, err)
		require.Equal(t, tokenizer.EncodeOrdinary("<|other|>"), encoded)
	})

	t.Run("pattern does not look past a special token", func(t *testing.T) {
		require.Equal(t, []string{"a", "   "}, tokenizer.Pieces("a   "))
		require.Equal(t, []string{"a", "  ", " <|", "end", "|>"}, tokenizer.Pieces("a   "+endToken))

		encoded, err := tokenizer.Encode("a   "+endToken, WithAllowedSpecial(AllSpecial()))
		require.NoError(t, err)
		require.Equal(t, []int{'a', 257, 1000}, encoded)

		encoded, err = tokenizer.Encode("a   " + endToken)
		require.NoError(t, err)
		require.Equal(t, []int{'a', 256, ' ', '<', '|', 'e', 'n', 'd', '|', '>'}, encoded)
	})
}

func TestEncodeLongestSpecialWins(t *testing.T) {
	tokenizer := newTestTokenizer(t, nil, map[string]int{"<|x": 1000, "<|x|>": 1001})

	encoded, err := tokenizer.Encode("<|x|><|x", WithAllowedSpecial(AllSpecial()))
	require.NoError(t, err)
	require.Equal(t, []int{1001, 1000}, encoded)
}

func TestCount(t *testing.T) {
	tokenizer := newSpecialsTokenizer(t)

	n, err := tokenizer.Count("hi" + endToken)
	require.NoError(t, err)
	require.Equal(t, 9, n)

	n, err = tokenizer.Count("hi"+endToken, WithAllowedSpecial(AllSpecial()))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	_, err = tokenizer.Count("hi"+endToken, WithDisallowedSpecial(AllSpecial()))
	require.ErrorIs(t, err, ErrDisallowedSpecial)
}

func TestEncodeTrim(t *testing.T) {
	tokenizer := newSpecialsTokenizer(t)

	t.Run("suffix", func(t *testing.T) {
		res, err := tokenizer.EncodeTrimSuffix("abcdef", 2)
		require.NoError(t, err)
		require.Equal(t, []int{'a', 'b'}, res.TokenIDs)
		require.Equal(t, "ab", res.Text)
	})

	t.Run("prefix", func(t *testing.T) {
		res, err := tokenizer.EncodeTrimPrefix("abcdef", 2)
		require.NoError(t, err)
		require.Equal(t, []int{'e', 'f'}, res.TokenIDs)
		require.Equal(t, "ef", res.Text)
	})

	t.Run("long piece", func(t *testing.T) {
		str := strings.Repeat("t", 4000)
		encoded, err := tokenizer.Encode(str)
		require.NoError(t, err)

		trimmed, err := tokenizer.EncodeTrimSuffix(str, 5)
		require.NoError(t, err)
		require.Equal(t, encoded[:5], trimmed.TokenIDs)

		trimmed, err = tokenizer.EncodeTrimPrefix(str, 5)
		require.NoError(t, err)
		require.Equal(t, encoded[len(encoded)-5:], trimmed.TokenIDs)
	})

	t.Run("special token", func(t *testing.T) {
		res, err := tokenizer.EncodeTrimPrefix("ab"+endToken, 1, WithAllowedSpecial(AllSpecial()))
		require.NoError(t, err)
		require.Equal(t, []int{1000}, res.TokenIDs)
		require.Equal(t, endToken, res.Text)
	})

	t.Run("split character", func(t *testing.T) {
		// "é" has no merged token, so its two bytes are separate ids and a
		// trim can cut between them. Text always matches the kept ids.
		res, err := tokenizer.EncodeTrimSuffix("aé", 2)
		require.NoError(t, err)
		require.Equal(t, []int{'a', 0xc3}, res.TokenIDs)
		require.Equal(t, "a\xc3", res.Text)
		require.Equal(t, []byte(res.Text), tokenizer.DecodeBytes(res.TokenIDs))

		res, err = tokenizer.EncodeTrimPrefix("éa", 2)
		require.NoError(t, err)
		require.Equal(t, []int{0xa9, 'a'}, res.TokenIDs)
		require.Equal(t, "\xa9a", res.Text)
		require.Equal(t, []byte(res.Text), tokenizer.DecodeBytes(res.TokenIDs))
	})

	t.Run("within limit", func(t *testing.T) {
		res, err := tokenizer.EncodeTrimSuffix("abc", 10)
		require.NoError(t, err)
		require.Equal(t, []int{'a', 'b', 'c'}, res.TokenIDs)
		require.Equal(t, "abc", res.Text)
	})

	t.Run("zero", func(t *testing.T) {
		res, err := tokenizer.EncodeTrimPrefix("abc", 0)
		require.NoError(t, err)
		require.Empty(t, res.TokenIDs)
		require.Empty(t, res.Text)
	})

	t.Run("disallowed", func(t *testing.T) {
		_, err := tokenizer.EncodeTrimSuffix(endToken, 1, WithDisallowedSpecial(AllSpecial()))
		require.ErrorIs(t, err, ErrDisallowedSpecial)
	})
}

func TestNewTokenizerErrors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{
			name:    "invalid pattern",
			cfg:     Config{Pattern: `(`, Ranks: byteRanks(0, nil)},
			wantErr: ErrInvalidPattern,
		},
		{
			name:    "missing bytes",
			cfg:     Config{Pattern: gpt2Pattern, Ranks: map[string]int{"a": 0}},
			wantErr: ErrVocabularyInconsistent,
		},
		{
			name: "explicit size count",
			cfg: Config{
				Pattern:           gpt2Pattern,
				Ranks:             byteRanks(0, nil),
				SpecialTokens:     map[string]int{endToken: 256},
				ExplicitVocabSize: 258,
			},
			wantErr: ErrVocabularyInconsistent,
		},
		{
			name: "explicit size max id",
			cfg: Config{
				Pattern:           gpt2Pattern,
				Ranks:             byteRanks(0, nil),
				SpecialTokens:     map[string]int{endToken: 300},
				ExplicitVocabSize: 257,
			},
			wantErr: ErrVocabularyInconsistent,
		},
		{
			name: "special tokens share an id",
			cfg: Config{
				Pattern:       gpt2Pattern,
				Ranks:         byteRanks(0, nil),
				SpecialTokens: map[string]int{endToken: 300, startToken: 300},
			},
			wantErr: ErrVocabularyInconsistent,
		},
		{
			name: "empty special token",
			cfg: Config{
				Pattern:       gpt2Pattern,
				Ranks:         byteRanks(0, nil),
				SpecialTokens: map[string]int{"": 300},
			},
			wantErr: ErrVocabularyInconsistent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokenizer, err := NewTokenizer(tt.cfg)
			require.ErrorIs(t, err, tt.wantErr)
			require.Nil(t, tokenizer)
		})
	}

	t.Run("explicit size ok", func(t *testing.T) {
		tokenizer, err := NewTokenizer(Config{
			Name:              "exact",
			Pattern:           gpt2Pattern,
			Ranks:             byteRanks(0, nil),
			SpecialTokens:     map[string]int{endToken: 256},
			ExplicitVocabSize: 257,
		})
		require.NoError(t, err)
		require.Equal(t, "exact", tokenizer.Name())
		require.Equal(t, 256, tokenizer.MaxTokenValue())
		require.Equal(t, map[string]int{endToken: 256}, tokenizer.SpecialTokens())
	})
}

func TestPieceCache(t *testing.T) {
	plain := newSpecialsTokenizer(t)
	cached := newSpecialsTokenizer(t, WithCacheSize(4))

	texts := []string{
		"the cat sat on the mat",
		"the cat sat on the mat",
		"another sentence entirely",
		"the cat sat on the mat",
	}
	for _, str := range texts {
		want, err := plain.Encode(str)
		require.NoError(t, err)

		got, err := cached.Encode(str)
		require.NoError(t, err)
		require.Equal(t, want, got)

		// Callers own the returned slice.
		clear(got)
	}
	require.Equal(t, 4, cached.cache.len())
	require.Nil(t, plain.cache)
}

func TestTokenizerConcurrentUse(t *testing.T) {
	tokenizer := newSpecialsTokenizer(t, WithCacheSize(16))
	str := "concurrent encoders share one tokenizer " + endToken
	want, err := tokenizer.Encode(str, WithAllowedSpecial(AllSpecial()))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([][]int, 8)
	for i := range results {
		wg.Go(func() {
			for range 50 {
				results[i], _ = tokenizer.Encode(str, WithAllowedSpecial(AllSpecial()))
				_ = tokenizer.Decode(results[i])
			}
		})
	}
	wg.Wait()

	for _, got := range results {
		require.Equal(t, want, got)
	}
}

func TestParseSpecialSet(t *testing.T) {
	require.True(t, ParseSpecialSet("all").IsAll())
	require.True(t, ParseSpecialSet("none").IsEmpty())
	require.True(t, ParseSpecialSet("").IsEmpty())

	s := ParseSpecialSet(" <|a|>, <|b|> ,")
	require.False(t, s.IsAll())
	require.Equal(t, "<|a|>,<|b|>", s.String())
	require.Equal(t, "all", AllSpecial().String())
	require.Equal(t, "none", NoSpecial().String())
}
