package bpe

import (
	"math"
	"sync"
)

// Vocabulary maps byte sequences to ranks. A rank is both the token id and
// the merge priority; lower ranks merge first.
//
// The forward map is built eagerly. The reverse map is built on first use and
// is safe to read from any number of goroutines once published.
type Vocabulary struct {
	encoder map[string]int
	maxRank int

	decoder func() map[int][]byte
	scratch scratchPool
}

// NewVocabulary validates ranks and wraps them in a Vocabulary. The map is
// retained, so callers must not modify it afterwards.
func NewVocabulary(ranks map[string]int) (*Vocabulary, error) {
	if len(ranks) == 0 {
		return nil, inconsistent("no ranks")
	}

	maxRank := -1
	seen := make(map[int]struct{}, len(ranks))
	for piece, rank := range ranks {
		if rank < 0 || rank == math.MaxInt {
			return nil, inconsistent("rank %d out of range for %q", rank, piece)
		}
		if piece == "" {
			return nil, inconsistent("empty byte sequence with rank %d", rank)
		}
		seen[rank] = struct{}{}
		maxRank = max(maxRank, rank)
	}
	if len(seen) != len(ranks) {
		return nil, inconsistent("%d byte sequences share %d ranks", len(ranks), len(seen))
	}

	for b := 0; b < 256; b++ {
		if _, ok := ranks[string([]byte{byte(b)})]; !ok {
			return nil, inconsistent("single byte 0x%02x has no rank", b)
		}
	}

	v := &Vocabulary{
		encoder: ranks,
		maxRank: maxRank,
	}
	v.decoder = sync.OnceValue(v.buildDecoder)
	return v, nil
}

func (v *Vocabulary) buildDecoder() map[int][]byte {
	decoder := make(map[int][]byte, len(v.encoder))
	for piece, rank := range v.encoder {
		decoder[rank] = []byte(piece)
	}
	if len(decoder) != len(v.encoder) {
		// NewVocabulary already rejected shared ranks.
		panic("bpe: encoder and decoder sizes do not match")
	}
	return decoder
}

// Rank returns the rank of piece.
func (v *Vocabulary) Rank(piece []byte) (int, bool) {
	rank, ok := v.encoder[string(piece)]
	return rank, ok
}

// Bytes returns the byte sequence for rank. The returned slice is shared and
// must not be modified.
func (v *Vocabulary) Bytes(rank int) ([]byte, bool) {
	b, ok := v.decoder()[rank]
	return b, ok
}

// Len returns the number of entries.
func (v *Vocabulary) Len() int {
	return len(v.encoder)
}

// MaxRank returns the largest rank in the vocabulary.
func (v *Vocabulary) MaxRank() int {
	return v.maxRank
}
