// Package tokens counts tokens in text, either exactly with a BPE encoding
// or by estimate.
package tokens

import (
	"fmt"
	"math"

	"github.com/microsoft/tokenizer/internal/tokens/bpe"
	"github.com/microsoft/tokenizer/internal/tokens/encodings"
)

const charsPerToken = 4

// Tokenizer names a Counter implementation.
type Tokenizer string

const (
	TokenizerBPE      Tokenizer = "bpe"
	TokenizerEstimate Tokenizer = "estimate"

	TokenizerDefault = TokenizerBPE
)

// ValidTokenizers lists the accepted Tokenizer values, for flag help.
var ValidTokenizers = []string{string(TokenizerBPE), string(TokenizerEstimate)}

// Counter counts tokens in text.
type Counter interface {
	Count(text string) int
}

// NewCounter returns a Counter of the given kind. TokenizerBPE counts with
// the cl100k_base encoding.
func NewCounter(kind Tokenizer) (Counter, error) {
	switch kind {
	case TokenizerBPE:
		c, err := newBPECounter()
		if err != nil {
			return nil, err
		}
		return c, nil
	case TokenizerEstimate:
		return NewEstimatingCounter(), nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q, expected one of %v", kind, ValidTokenizers)
	}
}

// BPECounter counts the ids a Tokenizer produces. Special-token literals
// are counted as ordinary text.
type BPECounter struct {
	tokenizer *bpe.Tokenizer
}

func NewBPECounter(tokenizer *bpe.Tokenizer) *BPECounter {
	return &BPECounter{tokenizer: tokenizer}
}

func newBPECounter() (*BPECounter, error) {
	tokenizer, err := encodings.New(encodings.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", encodings.Cl100kBase, err)
	}
	return NewBPECounter(tokenizer), nil
}

func (c *BPECounter) Count(text string) int {
	return len(c.tokenizer.EncodeOrdinary(text))
}

// EstimatingCounter approximates token count as ~4 characters per token.
type EstimatingCounter struct{}

func NewEstimatingCounter() *EstimatingCounter {
	return &EstimatingCounter{}
}

func (*EstimatingCounter) Count(text string) int {
	return Estimate(text)
}

func Estimate(text string) int {
	return int(math.Ceil(float64(len(text)) / float64(charsPerToken)))
}
