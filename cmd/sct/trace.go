package main

import (
	"fmt"

	"gosct/trace"

	"github.com/spf13/cobra"
)

func newCmdTrace() *cobra.Command {
	return &cobra.Command{
		Use:   "trace <file>",
		Short: "Print a stored trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := trace.ReadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), t.String())
			return nil
		},
	}
}
