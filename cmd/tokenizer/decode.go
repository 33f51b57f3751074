package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

type decodeOptions struct {
	strict bool
}

func newDecodeCommand(root *rootOptions) *cobra.Command {
	opts := &decodeOptions{}
	cmd := &cobra.Command{
		Use:   "decode [ids...]",
		Short: "Decode token ids into text",
		Long: `Decode token ids into text.

Ids are taken from the arguments, or read from stdin when none are given.
They may be separated by whitespace or commas. Ids the encoding does not
know are skipped unless --strict is set.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(cmd, args, root, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Fail on ids that are not in the encoding")
	return cmd
}

func runDecode(cmd *cobra.Command, args []string, root *rootOptions, opts *decodeOptions) error {
	input := strings.Join(args, " ")
	if len(args) == 0 {
		var err error
		if input, err = readInput(cmd, nil); err != nil {
			return err
		}
	}
	ids, err := parseIDs(input)
	if err != nil {
		return err
	}

	tk, err := root.tokenizer()
	if err != nil {
		return err
	}

	if opts.strict {
		var b []byte
		for _, id := range ids {
			piece, err := tk.DecodeToken(id)
			if err != nil {
				return err
			}
			b = append(b, piece...)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), tk.Decode(ids))
	return nil
}

func parseIDs(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	ids := make([]int, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid token id %q", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
