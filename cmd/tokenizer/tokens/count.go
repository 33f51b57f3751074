// Package tokens implements the count command, which reports token counts
// for markdown files.
package tokens

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/microsoft/tokenizer/internal/logging"
	"github.com/microsoft/tokenizer/internal/tokens"
)

//go:generate go tool mockgen -destination mocks_test.go -package tokens github.com/microsoft/tokenizer/internal/tokens Counter

// CounterFunc builds the Counter for a tokenizer kind.
type CounterFunc func(kind tokens.Tokenizer) (tokens.Counter, error)

type countOptions struct {
	format    string
	sortBy    string
	minTokens int
	noTotal   bool
	textOnly  bool
	tokenizer string
	workers   int
}

// NewCountCommand returns the count command. newCounter is called once per
// run with the --tokenizer value.
func NewCountCommand(newCounter CounterFunc) *cobra.Command {
	opts := &countOptions{}
	cmd := &cobra.Command{
		Use:   "count [paths...]",
		Short: "Count tokens in markdown files",
		Long: `Count tokens in markdown files.

Paths may be files or directories (scanned recursively for .md/.mdx files).
A relative path is resolved from the working directory; an absolute path is
used as-is. When no path is given, the working directory is scanned.

With --text-only, markdown syntax, link targets and raw HTML are stripped
before counting.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCount(cmd, args, newCounter, opts)
		},
	}
	cmd.Flags().StringVar(&opts.format, "format", "table", "Output format: json | table")
	cmd.Flags().StringVar(&opts.sortBy, "sort", "path", "Sort table rows by: tokens | name | path")
	cmd.Flags().IntVar(&opts.minTokens, "min-tokens", 0, "Filter files with less than n tokens")
	cmd.Flags().BoolVar(&opts.noTotal, "no-total", false, "Hide total row in table output")
	cmd.Flags().BoolVar(&opts.textOnly, "text-only", false, "Count only the rendered text of each file")
	cmd.Flags().StringVar(&opts.tokenizer, "tokenizer", string(tokens.TokenizerDefault),
		fmt.Sprintf("Tokenizer to count with: %s", strings.Join(tokens.ValidTokenizers, " | ")))
	cmd.Flags().IntVar(&opts.workers, "workers", runtime.NumCPU(), "Number of files counted in parallel")
	return cmd
}

type countJSONOutput struct {
	GeneratedAt string                    `json:"generatedAt"`
	Tokenizer   string                    `json:"tokenizer"`
	TotalTokens int                       `json:"totalTokens"`
	TotalFiles  int                       `json:"totalFiles"`
	Files       map[string]countFileEntry `json:"files"`
}

type countFileEntry struct {
	Tokens     int `json:"tokens"`
	Characters int `json:"characters"`
	Lines      int `json:"lines"`
}

func runCount(cmd *cobra.Command, args []string, newCounter CounterFunc, opts *countOptions) error {
	if opts.format == "json" {
		if cmd.Flags().Changed("sort") {
			return errors.New("--sort is only supported with table output")
		}
		if cmd.Flags().Changed("no-total") {
			return errors.New("--no-total is only supported with table output")
		}
	}
	if opts.workers < 1 {
		return fmt.Errorf("--workers must be at least 1, got %d", opts.workers)
	}

	rootDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}
	files, err := findMarkdownFiles(args, rootDir)
	if err != nil {
		return err
	}

	counter, err := newCounter(tokens.Tokenizer(opts.tokenizer))
	if err != nil {
		return err
	}

	counted := make([]*FileResult, len(files))
	var g errgroup.Group
	g.SetLimit(opts.workers)
	for i, f := range files {
		g.Go(func() error {
			r, err := countFile(counter, f, rootDir, opts.textOnly)
			if err != nil {
				return err
			}
			counted[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if logging.DebugEnabled(cmd.Context()) {
		total := 0
		for _, r := range counted {
			total += r.Tokens
		}
		slog.Debug("counted files", "files", len(files), "tokenizer", opts.tokenizer, "tokens", total)
	}

	var results []FileResult
	for _, r := range counted {
		if r.Tokens >= opts.minTokens {
			results = append(results, *r)
		}
	}

	sortResults(results, opts.sortBy)

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		return outputCountJSON(out, results, opts.tokenizer)
	}
	outputCountTable(out, results, !opts.noTotal)
	return nil
}

func countFile(counter tokens.Counter, filePath, rootDir string, textOnly bool) (*FileResult, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filePath, err)
	}

	rel, err := filepath.Rel(rootDir, filePath)
	if err != nil {
		rel = filePath
	}

	text := string(content)
	if textOnly {
		if text, err = renderedText(content); err != nil {
			return nil, fmt.Errorf("%s: %w", filePath, err)
		}
	}
	return &FileResult{
		Path:       filepath.ToSlash(filepath.Clean(rel)),
		Tokens:     counter.Count(text),
		Characters: len(text),
		Lines:      strings.Count(text, "\n") + 1,
	}, nil
}

func sortResults(results []FileResult, by string) {
	slices.SortStableFunc(results, func(a, b FileResult) int {
		switch by {
		case "tokens":
			return b.Tokens - a.Tokens
		case "name":
			return strings.Compare(strings.ToLower(filepath.Base(a.Path)), strings.ToLower(filepath.Base(b.Path)))
		default:
			return strings.Compare(a.Path, b.Path)
		}
	})
}

func outputCountTable(w io.Writer, results []FileResult, showTotal bool) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No markdown files found.")
		return
	}

	maxPath := 4
	for _, r := range results {
		maxPath = max(maxPath, len(r.Path))
	}

	header := fmt.Sprintf("%-*s  %8s  %8s  %6s", maxPath, "File", "Tokens", "Chars", "Lines")
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.Repeat("-", len(header)))

	for _, r := range results {
		fmt.Fprintf(w, "%-*s  %8d  %8d  %6d\n", maxPath, r.Path, r.Tokens, r.Characters, r.Lines)
	}

	if showTotal {
		fmt.Fprintln(w, strings.Repeat("-", len(header)))
		var totalTokens, totalChars, totalLines int
		for _, r := range results {
			totalTokens += r.Tokens
			totalChars += r.Characters
			totalLines += r.Lines
		}
		fmt.Fprintf(w, "%-*s  %8d  %8d  %6d\n", maxPath, "Total", totalTokens, totalChars, totalLines)
		fmt.Fprintf(w, "\n%d file(s) scanned\n", len(results))
	}
}

func outputCountJSON(w io.Writer, results []FileResult, tokenizer string) error {
	files := make(map[string]countFileEntry, len(results))
	totalTokens := 0
	for _, r := range results {
		totalTokens += r.Tokens
		files[r.Path] = countFileEntry{
			Tokens:     r.Tokens,
			Characters: r.Characters,
			Lines:      r.Lines,
		}
	}

	out := countJSONOutput{
		GeneratedAt: nowISO(),
		Tokenizer:   tokenizer,
		TotalTokens: totalTokens,
		TotalFiles:  len(results),
		Files:       files,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
