package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/microsoft/tokenizer/internal/tokens/bpe"
)

type encodeOptions struct {
	allowedSpecial    string
	disallowedSpecial string
	format            string
	pieces            bool
}

type encodeJSONOutput struct {
	Encoding string `json:"encoding"`
	Count    int    `json:"count"`
	Tokens   []int  `json:"tokens"`
}

func newEncodeCommand(root *rootOptions) *cobra.Command {
	opts := &encodeOptions{}
	cmd := &cobra.Command{
		Use:   "encode [text]",
		Short: "Encode text into token ids",
		Long: `Encode text into token ids.

The text is taken from the argument, or read from stdin when no argument is
given. Special tokens found in the text are rejected unless allowed:

  --allowed-special all          encode every special token as its id
  --allowed-special '<|fim_prefix|>,<|fim_suffix|>'
  --disallowed-special none      encode special token literals as plain text

A token listed in both sets is rejected.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEncode(cmd, args, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.allowedSpecial, "allowed-special", "none", "Special tokens to encode as ids: all | none | comma-separated list")
	cmd.Flags().StringVar(&opts.disallowedSpecial, "disallowed-special", "all", "Special tokens to reject: all | none | comma-separated list")
	cmd.Flags().StringVar(&opts.format, "format", "text", "Output format: text | json")
	cmd.Flags().BoolVar(&opts.pieces, "pieces", false, "Print each pattern piece with its token ids")
	return cmd
}

func runEncode(cmd *cobra.Command, args []string, root *rootOptions, opts *encodeOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown format %q, expected text or json", opts.format)
	}
	if opts.pieces && cmd.Flags().Changed("format") {
		return errors.New("--pieces is only supported with text output")
	}

	text, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	tk, err := root.tokenizer()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.pieces {
		outputPiecesTable(out, tk, text)
		return nil
	}

	ids, err := tk.Encode(text,
		bpe.WithAllowedSpecial(bpe.ParseSpecialSet(opts.allowedSpecial)),
		bpe.WithDisallowedSpecial(bpe.ParseSpecialSet(opts.disallowedSpecial)),
	)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(encodeJSONOutput{
			Encoding: tk.Name(),
			Count:    len(ids),
			Tokens:   ids,
		})
	}
	fmt.Fprintln(out, joinIDs(ids))
	return nil
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, " ")
}

type pieceRow struct {
	piece string
	ids   string
	bytes int
}

// outputPiecesTable prints every ordinary piece of text with the ids it
// encodes to. Special token literals are shown as plain text.
func outputPiecesTable(w io.Writer, tk *bpe.Tokenizer, text string) {
	pieces := tk.Pieces(text)
	if len(pieces) == 0 {
		fmt.Fprintln(w, "No pieces.")
		return
	}

	vocab := tk.Vocabulary()
	rows := make([]pieceRow, len(pieces))
	maxPiece := runewidth.StringWidth("Piece")
	total := 0
	for i, p := range pieces {
		var ids []int
		if rank, ok := vocab.Rank([]byte(p)); ok {
			ids = []int{rank}
		} else {
			ids = bpe.BytePairEncode([]byte(p), vocab)
		}
		total += len(ids)
		rows[i] = pieceRow{piece: strconv.Quote(p), ids: joinIDs(ids), bytes: len(p)}
		maxPiece = max(maxPiece, runewidth.StringWidth(rows[i].piece))
	}

	header := fmt.Sprintf("%s  %5s  %s", padRight("Piece", maxPiece), "Bytes", "Tokens")
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.Repeat("-", runewidth.StringWidth(header)))
	for _, r := range rows {
		fmt.Fprintf(w, "%s  %5d  %s\n", padRight(r.piece, maxPiece), r.bytes, r.ids)
	}
	fmt.Fprintf(w, "\n%d piece(s), %d token(s)\n", len(rows), total)
}

// padRight pads s with spaces so its terminal display width reaches width.
func padRight(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	return s + strings.Repeat(" ", width-sw)
}
