package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/microsoft/tokenizer/cmd/tokenizer/tokens"
	"github.com/microsoft/tokenizer/internal/config"
	"github.com/microsoft/tokenizer/internal/logging"
	itokens "github.com/microsoft/tokenizer/internal/tokens"
	"github.com/microsoft/tokenizer/internal/tokens/bpe"
)

var version = "dev"

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	debug      bool
	configPath string
	encoding   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "tokenizer",
		Short: "Tokenizer - BPE encoding and token counting",
		Long: `Tokenizer encodes text into token ids and decodes them back using
tiktoken-compatible byte pair encodings.

It ships the r50k_base, p50k_base, p50k_edit, cl100k_base and o200k_base
encodings, and reads custom encodings from ` + config.FileName + `.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		fmt.Sprintf("Path to %s (default: search upward from the working directory)", config.FileName))
	cmd.PersistentFlags().StringVarP(&opts.encoding, "encoding", "e", "",
		fmt.Sprintf("Encoding name (default from config, else %s)", config.DefaultEncoding))
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.Setup(cmd.ErrOrStderr(), opts.debug)
	}

	// Add subcommands
	cmd.AddCommand(newEncodeCommand(opts))
	cmd.AddCommand(newDecodeCommand(opts))
	cmd.AddCommand(newEncodingsCommand(opts))
	cmd.AddCommand(tokens.NewCountCommand(opts.counter))

	return cmd
}

func (o *rootOptions) loadConfig() (*config.File, error) {
	if o.configPath != "" {
		return config.Load(o.configPath)
	}
	return config.Find(".")
}

func (o *rootOptions) tokenizer() (*bpe.Tokenizer, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.Tokenizer(o.encoding)
}

// counter builds the Counter used by count. BPE counting honors --encoding
// and the config file.
func (o *rootOptions) counter(kind itokens.Tokenizer) (itokens.Counter, error) {
	if kind != itokens.TokenizerBPE {
		return itokens.NewCounter(kind)
	}
	tk, err := o.tokenizer()
	if err != nil {
		return nil, err
	}
	return itokens.NewBPECounter(tk), nil
}

func execute() error {
	rootCmd := newRootCommand()
	return rootCmd.Execute()
}
