package bpe

import (
	"fmt"
	"math"
	"slices"
)

// unmergeable marks a pair with no rank in the vocabulary.
const unmergeable = math.MaxInt

type part struct {
	start int
	rank  int
}

// BytePairEncode splits piece into the ranks produced by repeatedly merging
// the lowest-ranked adjacent pair, leftmost first on ties.
func BytePairEncode(piece []byte, vocab *Vocabulary) []int {
	return vocab.encodePiece(nil, string(piece))
}

// BytePairSplit is BytePairEncode but returns the byte sequences of the
// resulting tokens instead of their ranks. Returned slices alias piece.
func BytePairSplit(piece []byte, vocab *Vocabulary) [][]byte {
	switch len(piece) {
	case 0:
		return nil
	case 1:
		return [][]byte{piece}
	}

	buf := vocab.scratch.acquire(len(piece) + 1)
	defer vocab.scratch.release(buf)

	buf.parts = vocab.merge(string(piece), buf.parts)
	out := make([][]byte, 0, len(buf.parts)-1)
	for i := 0; i < len(buf.parts)-1; i++ {
		out = append(out, piece[buf.parts[i].start:buf.parts[i+1].start])
	}
	return out
}

// BytePairCount returns len(BytePairEncode(piece, vocab)) without building
// the id slice.
func BytePairCount(piece []byte, vocab *Vocabulary) int {
	switch len(piece) {
	case 0:
		return 0
	case 1:
		return 1
	}

	buf := vocab.scratch.acquire(len(piece) + 1)
	defer vocab.scratch.release(buf)

	buf.parts = vocab.merge(string(piece), buf.parts)
	return len(buf.parts) - 1
}

// encodePiece appends the ranks for piece to dst. It works on strings so
// that the tokenizer can pass sub-strings of its input without copying.
func (v *Vocabulary) encodePiece(dst []int, piece string) []int {
	switch len(piece) {
	case 0:
		return dst
	case 1:
		return append(dst, v.mustRank(piece))
	}

	buf := v.scratch.acquire(len(piece) + 1)
	defer v.scratch.release(buf)

	buf.parts = v.merge(piece, buf.parts)
	for i := 0; i < len(buf.parts)-1; i++ {
		dst = append(dst, v.mustRank(piece[buf.parts[i].start:buf.parts[i+1].start]))
	}
	return dst
}

// merge fills parts with the boundaries of piece and merges them in place.
// parts[i].rank is the rank of the pair (i, i+1), or unmergeable.
func (v *Vocabulary) merge(piece string, parts []part) []part {
	parts = parts[:0]
	for i := 0; i <= len(piece); i++ {
		parts = append(parts, part{start: i, rank: unmergeable})
	}

	// rankAt looks up the span from boundary i to boundary i+skip+2.
	rankAt := func(i, skip int) int {
		if i+skip+2 < len(parts) {
			if rank, ok := v.encoder[piece[parts[i].start:parts[i+skip+2].start]]; ok {
				return rank
			}
		}
		return unmergeable
	}

	for i := 0; i < len(parts)-2; i++ {
		parts[i].rank = rankAt(i, 0)
	}

	for len(parts) > 1 {
		minRank, minIndex := unmergeable, -1
		for i := 0; i < len(parts)-1; i++ {
			if parts[i].rank < minRank {
				minRank, minIndex = parts[i].rank, i
			}
		}
		if minIndex < 0 {
			break
		}

		// Ranks are refreshed before the boundary at minIndex+1 is removed,
		// so skip=1 reaches past it.
		parts[minIndex].rank = rankAt(minIndex, 1)
		if minIndex > 0 {
			parts[minIndex-1].rank = rankAt(minIndex-1, 1)
		}
		parts = slices.Delete(parts, minIndex+1, minIndex+2)
	}

	return parts
}

func (v *Vocabulary) mustRank(piece string) int {
	rank, ok := v.encoder[piece]
	if !ok {
		// NewVocabulary guarantees every single byte, and merges only
		// produce spans that are in the vocabulary.
		panic(fmt.Sprintf("bpe: no rank for %q", piece))
	}
	return rank
}
