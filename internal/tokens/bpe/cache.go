package bpe

import (
	"fmt"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// pieceCache remembers the ids of pieces that needed merging. Entries are
// copied in and only ever appended out, so callers cannot alter them.
type pieceCache struct {
	entries *lru.Cache[string, []int]
}

func newPieceCache(size int) (*pieceCache, error) {
	entries, err := lru.New[string, []int](size)
	if err != nil {
		return nil, fmt.Errorf("creating piece cache: %w", err)
	}
	return &pieceCache{entries: entries}, nil
}

func (c *pieceCache) get(piece string) ([]int, bool) {
	return c.entries.Get(piece)
}

func (c *pieceCache) add(piece string, ids []int) {
	// piece usually points into a larger input; keep only its bytes.
	c.entries.Add(strings.Clone(piece), slices.Clone(ids))
}

func (c *pieceCache) len() int {
	return c.entries.Len()
}
