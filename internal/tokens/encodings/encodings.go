// Package encodings builds tokenizers for the published OpenAI encodings.
package encodings

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/microsoft/tokenizer/internal/tokens/bpe"
	"github.com/microsoft/tokenizer/internal/tokens/vocabfile"
)

const (
	R50kBase   = "r50k_base"
	P50kBase   = "p50k_base"
	P50kEdit   = "p50k_edit"
	Cl100kBase = "cl100k_base"
	O200kBase  = "o200k_base"

	// GPT2 is an alias of R50kBase.
	GPT2 = "gpt2"
)

const (
	EndOfText   = "<|endoftext|>"
	FimPrefix   = "<|fim_prefix|>"
	FimMiddle   = "<|fim_middle|>"
	FimSuffix   = "<|fim_suffix|>"
	EndOfPrompt = "<|endofprompt|>"
)

const (
	patternGPT2   = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`
	patternCl100k = `(?i:'s|'t|'re|'ve|'m|'ll|'d)|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+(?!\S)|\s+`
)

var patternO200k = strings.Join([]string{
	`[^\r\n\p{L}\p{N}]?[\p{Lu}\p{Lt}\p{Lm}\p{Lo}\p{M}]*[\p{Ll}\p{Lm}\p{Lo}\p{M}]+(?i:'s|'t|'re|'ve|'m|'ll|'d)?`,
	`[^\r\n\p{L}\p{N}]?[\p{Lu}\p{Lt}\p{Lm}\p{Lo}\p{M}]+[\p{Ll}\p{Lm}\p{Lo}\p{M}]*(?i:'s|'t|'re|'ve|'m|'ll|'d)?`,
	`\p{N}{1,3}`,
	` ?[^\s\p{L}\p{N}]+[\r\n/]*`,
	`\s*[\r\n]+`,
	`\s+(?!\S)`,
	`\s+`,
}, "|")

// ErrUnknownEncoding is returned for a name that is not a known encoding.
var ErrUnknownEncoding = errors.New("unknown encoding")

// vocabURLPrefix is where the vocabulary files are published. Loaders only
// look at the file name.
const vocabURLPrefix = "https://openaipublic.blob.core.windows.net/encodings/"

type definition struct {
	file         string
	pattern      string
	specials     map[string]int
	explicitSize int
}

var definitions = map[string]definition{
	R50kBase: {
		file:         "r50k_base.tiktoken",
		pattern:      patternGPT2,
		specials:     map[string]int{EndOfText: 50256},
		explicitSize: 50257,
	},
	P50kBase: {
		file:         "p50k_base.tiktoken",
		pattern:      patternGPT2,
		specials:     map[string]int{EndOfText: 50256},
		explicitSize: 50281,
	},
	P50kEdit: {
		file:    "p50k_base.tiktoken",
		pattern: patternGPT2,
		specials: map[string]int{
			EndOfText: 50256,
			FimPrefix: 50281,
			FimMiddle: 50282,
			FimSuffix: 50283,
		},
	},
	Cl100kBase: {
		file:    "cl100k_base.tiktoken",
		pattern: patternCl100k,
		specials: map[string]int{
			EndOfText:   100257,
			FimPrefix:   100258,
			FimMiddle:   100259,
			FimSuffix:   100260,
			EndOfPrompt: 100276,
		},
	},
	O200kBase: {
		file:    "o200k_base.tiktoken",
		pattern: patternO200k,
		specials: map[string]int{
			EndOfText:   199999,
			EndOfPrompt: 200018,
		},
	},
}

var aliases = map[string]string{
	GPT2: R50kBase,
}

// RankLoader loads the vocabulary published at a tiktoken file URL. It is
// satisfied by the loaders of github.com/pkoukk/tiktoken-go-loader.
type RankLoader interface {
	LoadTiktokenBpe(tiktokenBpeFile string) (map[string]int, error)
}

// Names returns the known encoding names and aliases, sorted.
func Names() []string {
	names := slices.Collect(maps.Keys(definitions))
	for alias := range aliases {
		names = append(names, alias)
	}
	slices.Sort(names)
	return names
}

// Canonical resolves an alias to the encoding it names.
func Canonical(name string) (string, error) {
	if target, ok := aliases[name]; ok {
		name = target
	}
	if _, ok := definitions[name]; !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownEncoding, name)
	}
	return name, nil
}

// Registry builds encodings from one RankLoader. Each vocabulary file is
// loaded at most once per Registry and then shared, read-only, by every
// tokenizer the Registry builds.
type Registry struct {
	loader RankLoader
	files  map[string]func() (map[string]int, error)
}

// NewRegistry returns a Registry reading vocabularies from l. A nil l uses
// the vocabularies embedded in github.com/pkoukk/tiktoken-go-loader.
func NewRegistry(l RankLoader) *Registry {
	if l == nil {
		l = loader.NewOfflineLoader()
	}
	r := &Registry{
		loader: l,
		files:  map[string]func() (map[string]int, error){},
	}
	for _, def := range definitions {
		if _, ok := r.files[def.file]; ok {
			continue
		}
		url := vocabURLPrefix + def.file
		r.files[def.file] = sync.OnceValues(func() (map[string]int, error) {
			return l.LoadTiktokenBpe(url)
		})
	}
	return r
}

// Load returns the configuration of the named encoding.
func (r *Registry) Load(name string) (bpe.Config, error) {
	canonical, err := Canonical(name)
	if err != nil {
		return bpe.Config{}, err
	}
	def := definitions[canonical]

	ranks, err := r.files[def.file]()
	if err != nil {
		return bpe.Config{}, fmt.Errorf("loading %s: %w", def.file, err)
	}
	return bpe.Config{
		Name:              canonical,
		Pattern:           def.pattern,
		Ranks:             ranks,
		SpecialTokens:     maps.Clone(def.specials),
		ExplicitVocabSize: def.explicitSize,
	}, nil
}

// New builds a tokenizer for the named encoding.
func (r *Registry) New(name string, opts ...bpe.Option) (*bpe.Tokenizer, error) {
	cfg, err := r.Load(name)
	if err != nil {
		return nil, err
	}
	return bpe.NewTokenizer(cfg, opts...)
}

// Load returns the configuration of the named encoding using the embedded
// vocabularies.
func Load(name string) (bpe.Config, error) {
	return NewRegistry(nil).Load(name)
}

// New builds a tokenizer for the named encoding using the embedded
// vocabularies.
func New(name string, opts ...bpe.Option) (*bpe.Tokenizer, error) {
	return NewRegistry(nil).New(name, opts...)
}

// DirLoader reads vocabulary files from a local directory. A file may also
// be stored gzip or zstd compressed with a .gz or .zst suffix.
type DirLoader struct {
	Dir string
}

func (d DirLoader) LoadTiktokenBpe(tiktokenBpeFile string) (map[string]int, error) {
	base := path.Base(tiktokenBpeFile)
	for _, name := range []string{base, base + ".gz", base + ".zst"} {
		f, err := os.Open(filepath.Join(d.Dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		defer f.Close()

		ranks, err := vocabfile.Load(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name(), err)
		}
		return ranks, nil
	}
	return nil, fmt.Errorf("vocabulary %s not found in %s: %w", base, d.Dir, os.ErrNotExist)
}
