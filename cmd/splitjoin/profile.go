package main

import (
	"github.com/fogfactory/splitjoin/benchmark"
	"github.com/spf13/cobra"
)

const (
	childrenFlag = "children"
	dirFlag      = "dir"
)

func newProfileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Profile nested split-join engines against a sequential run",
		Long: `The profile command nests one engine per --threads value, each splitting into --children sub-units,
and writes a CPU profile readable with pprof.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			children, _ := flags.GetInt(childrenFlag)
			threads, _ := flags.GetIntSlice(threadsFlag)
			pooled, _ := flags.GetBool(pooledFlag)
			dir, _ := flags.GetString(dirFlag)

			_, err := benchmark.Profile(cmd.OutOrStdout(), dir, children, pooled, threads...)
			return err
		},
	}

	flags := cmd.Flags()
	flags.Int(childrenFlag, 10, "number of sub-units generated by each split")
	flags.IntSlice(threadsFlag, []int{0, 2}, "max threads of each nested engine, one value per level")
	flags.Bool(pooledFlag, false, "use pooled engines")
	flags.String(dirFlag, ".", "directory receiving the profile file")

	return cmd
}
