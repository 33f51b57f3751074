package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var errNoInput = errors.New("no input: pass it as an argument or pipe it on stdin")

// readInput returns args[0] when given, otherwise the whole of stdin. A
// leading byte order mark is honored: UTF-16 input is converted to UTF-8
// and a UTF-8 BOM is dropped. Other bytes pass through untouched.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}

	// Check TTY from the command's input stream, not os.Stdin directly.
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", errNoInput
	}

	data, err := io.ReadAll(transform.NewReader(in, unicode.BOMOverride(transform.Nop)))
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}
