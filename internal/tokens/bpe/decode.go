package bpe

import "fmt"

// Decode converts ids back to text. The bytes of all ids are joined before
// they are read as a string, so characters split across tokens survive.
// Ids that are neither ordinary nor special are skipped.
func (t *Tokenizer) Decode(ids []int) string {
	return string(t.DecodeBytes(ids))
}

// DecodeBytes is Decode without the conversion to string. The result is
// exactly the bytes the ids were encoded from.
func (t *Tokenizer) DecodeBytes(ids []int) []byte {
	decoder := t.vocab.decoder()
	out := make([]byte, 0, len(ids)*4)
	skipped := 0
	for _, id := range ids {
		if b, ok := decoder[id]; ok {
			out = append(out, b...)
			continue
		}
		if literal, ok := t.specials.decoder[id]; ok {
			out = append(out, literal...)
			continue
		}
		skipped++
	}
	if skipped > 0 {
		t.logger.Debug("skipped unknown token ids", "encoding", t.name, "count", skipped)
	}
	return out
}

// DecodeToken returns the bytes of a single id. Unlike Decode it fails on an
// unknown id with ErrUnknownTokenID.
func (t *Tokenizer) DecodeToken(id int) ([]byte, error) {
	if b, ok := t.vocab.Bytes(id); ok {
		return b, nil
	}
	if literal, ok := t.specials.decoder[id]; ok {
		return []byte(literal), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownTokenID, id)
}
