// Package config loads .tokenizer.yaml files, which pick the default
// encoding and declare custom encodings backed by local vocabulary files.
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/microsoft/tokenizer/internal/tokens/bpe"
	"github.com/microsoft/tokenizer/internal/tokens/encodings"
	"github.com/microsoft/tokenizer/internal/tokens/vocabfile"
)

// Default values for a configuration file.
const (
	FileName = ".tokenizer.yaml"

	DefaultEncoding  = encodings.Cl100kBase
	DefaultCacheSize = 0
)

// maxSearchDepth bounds how far Find walks up from its start directory.
const maxSearchDepth = 10

// ErrInvalidConfig is returned for a file that fails schema validation or
// names encodings that cannot be resolved.
var ErrInvalidConfig = errors.New("invalid tokenizer config")

// Encoding declares a custom encoding. Fields left empty are inherited
// from Base.
type Encoding struct {
	Name              string         `mapstructure:"name"`
	Base              string         `mapstructure:"base"`
	Pattern           string         `mapstructure:"pattern"`
	Vocabulary        string         `mapstructure:"vocabulary"`
	SpecialTokens     map[string]int `mapstructure:"special_tokens"`
	ExplicitVocabSize int            `mapstructure:"explicit_vocab_size"`
}

// File is a loaded .tokenizer.yaml.
type File struct {
	DefaultEncoding string     `mapstructure:"default_encoding"`
	CacheSize       int        `mapstructure:"cache_size"`
	Encodings       []Encoding `mapstructure:"encodings"`

	// Path is the file the configuration was read from, or empty when
	// defaults are in use. Vocabulary paths are relative to its directory.
	Path string `mapstructure:"-"`

	registry *encodings.Registry
}

// New returns a File with all defaults populated.
func New() *File {
	return &File{
		DefaultEncoding: DefaultEncoding,
		CacheSize:       DefaultCacheSize,
		registry:        encodings.NewRegistry(nil),
	}
}

// Load reads the configuration at path. A missing file yields defaults with
// a nil error; other I/O errors are returned.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(), nil
		}
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

// Find walks up from startDir looking for FileName and loads the first one
// found. Without one it returns defaults.
func Find(startDir string) (*File, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, fmt.Errorf("resolving path %q: %w", startDir, err)
	}

	for range maxSearchDepth {
		p := filepath.Join(dir, FileName)
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %q: %w", p, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return New(), nil
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*File, error) {
	f := New()

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}
	if doc == nil {
		return f, nil
	}
	if errs := validate(doc); len(errs) > 0 {
		return nil, fmt.Errorf("%w:\n  %s", ErrInvalidConfig, strings.Join(errs, "\n  "))
	}

	var fileCfg File
	if err := mapstructure.Decode(doc, &fileCfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", FileName, err)
	}
	mergeConfig(f, &fileCfg)

	seen := map[string]bool{}
	for _, enc := range f.Encodings {
		if seen[enc.Name] {
			return nil, fmt.Errorf("%w: encoding %q declared twice", ErrInvalidConfig, enc.Name)
		}
		seen[enc.Name] = true
	}
	return f, nil
}

// mergeConfig overlays non-zero values from src onto dst.
func mergeConfig(dst, src *File) {
	if src.DefaultEncoding != "" {
		dst.DefaultEncoding = src.DefaultEncoding
	}
	if src.CacheSize != 0 {
		dst.CacheSize = src.CacheSize
	}
	dst.Encodings = append(dst.Encodings, src.Encodings...)
}

// Names returns the built-in and custom encoding names, sorted.
func (f *File) Names() []string {
	names := encodings.Names()
	for _, enc := range f.Encodings {
		if !slices.Contains(names, enc.Name) {
			names = append(names, enc.Name)
		}
	}
	slices.Sort(names)
	return names
}

// Config resolves name to a tokenizer configuration. An empty name selects
// DefaultEncoding. Custom encodings shadow built-in ones of the same name.
func (f *File) Config(name string) (bpe.Config, error) {
	if name == "" {
		name = f.DefaultEncoding
	}
	return f.resolve(name, map[string]bool{})
}

// Tokenizer builds a tokenizer for name, applying CacheSize before opts.
func (f *File) Tokenizer(name string, opts ...bpe.Option) (*bpe.Tokenizer, error) {
	cfg, err := f.Config(name)
	if err != nil {
		return nil, err
	}
	opts = append([]bpe.Option{bpe.WithCacheSize(f.CacheSize)}, opts...)
	return bpe.NewTokenizer(cfg, opts...)
}

func (f *File) resolve(name string, visiting map[string]bool) (bpe.Config, error) {
	enc, ok := f.custom(name)
	if !ok {
		return f.registry.Load(name)
	}
	if visiting[name] {
		// A custom encoding may shadow a built-in one and still use it as
		// its base.
		if _, err := encodings.Canonical(name); err == nil {
			return f.registry.Load(name)
		}
		return bpe.Config{}, fmt.Errorf("%w: encoding %q inherits from itself", ErrInvalidConfig, name)
	}
	visiting[name] = true

	var cfg bpe.Config
	if enc.Base != "" {
		base, err := f.resolve(enc.Base, visiting)
		if err != nil {
			return bpe.Config{}, fmt.Errorf("encoding %q: base: %w", name, err)
		}
		cfg = base
	}
	cfg.Name = name

	if enc.Pattern != "" {
		cfg.Pattern = enc.Pattern
	}
	if enc.Vocabulary != "" {
		ranks, err := f.loadVocabulary(enc.Vocabulary)
		if err != nil {
			return bpe.Config{}, fmt.Errorf("encoding %q: %w", name, err)
		}
		cfg.Ranks = ranks
		cfg.ExplicitVocabSize = 0
	}
	if len(enc.SpecialTokens) > 0 {
		specials := maps.Clone(cfg.SpecialTokens)
		if specials == nil {
			specials = map[string]int{}
		}
		maps.Copy(specials, enc.SpecialTokens)
		cfg.SpecialTokens = specials
		cfg.ExplicitVocabSize = 0
	}
	if enc.ExplicitVocabSize > 0 {
		cfg.ExplicitVocabSize = enc.ExplicitVocabSize
	}
	return cfg, nil
}

func (f *File) custom(name string) (Encoding, bool) {
	for _, enc := range f.Encodings {
		if enc.Name == name {
			return enc, true
		}
	}
	return Encoding{}, false
}

func (f *File) loadVocabulary(path string) (map[string]int, error) {
	if !filepath.IsAbs(path) && f.Path != "" {
		path = filepath.Join(filepath.Dir(f.Path), path)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening vocabulary: %w", err)
	}
	defer file.Close()

	ranks, err := vocabfile.Load(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ranks, nil
}
