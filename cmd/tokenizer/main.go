package main

import (
	"fmt"
	"os"

	"github.com/microsoft/tokenizer/internal/tokens/bpe"
)

// Exit codes for different failure modes
const (
	ExitSuccess  = 0 // Input processed
	ExitRejected = 1 // Input contained a disallowed special token
	ExitError    = 2 // Configuration or runtime error
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		if _, ok := bpe.IsDisallowedSpecial(err); ok {
			os.Exit(ExitRejected)
		}

		// All other errors are configuration/runtime errors
		os.Exit(ExitError)
	}
}
