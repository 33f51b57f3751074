package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newEncodingsCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "encodings",
		Short: "List the available encodings",
		Long: `List the built-in encodings and the custom encodings declared in the
configuration file. The default encoding is marked with '*'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			def := cfg.DefaultEncoding
			if root.encoding != "" {
				def = root.encoding
			}
			for _, name := range cfg.Names() {
				marker := " "
				if name == def {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
			}
			return nil
		},
	}
}
