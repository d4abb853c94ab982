package main

import (
	"fmt"

	"gosct/examples/bank"
	"gosct/examples/deadlock"
	"gosct/examples/livelock"
	"gosct/examples/pingpong"
	"gosct/machine"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"
)

type registered struct {
	program     machine.Program
	monitors    []*machine.Definition
	description string
}

var programs = map[string]registered{
	"pingpong":       {program: pingpong.Program(99), description: "reply with a wrong payload, fails on every schedule"},
	"pingpong-fixed": {program: pingpong.Program(pingpong.Expected), description: "reply with the expected payload"},
	"deadlock":       {program: deadlock.Program(false), description: "two workers taking two locks in opposite orders"},
	"deadlock-fixed": {program: deadlock.Program(true), description: "two workers taking two locks in the same order"},
	"livelock":       {program: livelock.Program(), description: "negotiators that never agree while a coordinator waits"},
	"lossy":          {program: livelock.LossyProgram(2), monitors: []*machine.Definition{livelock.Responsiveness}, description: "a client giving up on a lossy server"},
	"bank":           {program: bank.Program(false), description: "clients overdrawing a shared account"},
	"bank-fixed":     {program: bank.Program(true), description: "an account that denies overdrafts"},
}

func programNames() []string {
	names := make([]string, 0, len(programs))
	for name := range programs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func newCmdPrograms() *cobra.Command {
	return &cobra.Command{
		Use:   "programs",
		Short: "List the programs that can be tested",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range programNames() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %v\n", name, programs[name].description)
			}
			return nil
		},
	}
}
