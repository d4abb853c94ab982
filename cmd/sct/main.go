package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newCmdRoot() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sct",
		Short:         "Systematic concurrency testing of actor programs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newCmdRun())
	cmd.AddCommand(newCmdTrace())
	cmd.AddCommand(newCmdPrograms())
	return cmd
}

func main() {
	if err := newCmdRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
