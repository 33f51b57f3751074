// Package vocabfile reads and writes tiktoken vocabulary files: one
// "base64(bytes) rank" pair per line.
package vocabfile

import (
	"bufio"
	"bytes"
	"cmp"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ErrMalformed is returned for a vocabulary stream that cannot be parsed.
var ErrMalformed = errors.New("malformed vocabulary")

// maxLineSize bounds a single line. The longest tokens in the published
// vocabularies encode to well under 1KiB.
const maxLineSize = 1 << 20

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Parse reads a vocabulary from r. Keys of the returned map are the raw
// token bytes held as strings. Blank lines are skipped.
func Parse(r io.Reader) (map[string]int, error) {
	ranks := map[string]int{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, malformed(lineNo, "expected 2 fields, got %d", len(fields))
		}

		token, err := base64.StdEncoding.DecodeString(fields[0])
		if err != nil {
			return nil, malformed(lineNo, "invalid base64 token %q: %v", fields[0], err)
		}
		rank, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, malformed(lineNo, "can't parse rank %q", fields[1])
		}
		if _, dup := ranks[string(token)]; dup {
			return nil, malformed(lineNo, "duplicate token %q", fields[0])
		}
		ranks[string(token)] = rank
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading vocabulary: %w", err)
	}
	return ranks, nil
}

func malformed(line int, format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrMalformed, line, fmt.Sprintf(format, args...))
}

// Open returns a reader for r that transparently decompresses gzip and zstd
// streams, detected by their magic numbers. Other input is passed through.
func Open(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading vocabulary header: %w", err)
	}

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("opening gzip vocabulary: %w", err)
		}
		return zr, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("opening zstd vocabulary: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return io.NopCloser(br), nil
	}
}

// Load is Open followed by Parse.
func Load(r io.Reader) (map[string]int, error) {
	rc, err := Open(r)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return Parse(rc)
}

// Write writes ranks to w in rank order, in the format Parse reads.
func Write(w io.Writer, ranks map[string]int) error {
	tokens := slices.SortedFunc(maps.Keys(ranks), func(a, b string) int {
		return cmp.Compare(ranks[a], ranks[b])
	})

	bw := bufio.NewWriter(w)
	for _, token := range tokens {
		if _, err := fmt.Fprintf(bw, "%s %d\n", base64.StdEncoding.EncodeToString([]byte(token)), ranks[token]); err != nil {
			return fmt.Errorf("writing vocabulary: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing vocabulary: %w", err)
	}
	return nil
}
