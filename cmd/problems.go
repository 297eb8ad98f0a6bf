package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/cwbudde/evosolve/internal/opt"
	"github.com/cwbudde/evosolve/internal/problem"
	"github.com/spf13/cobra"
)

var problemsCmd = &cobra.Command{
	Use:   "problems",
	Short: "List available objectives and optimizers",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PROBLEM\tBOUNDS\tDESCRIPTION")
		for _, name := range problem.Names() {
			p, err := problem.Get(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t[%g, %g]\t%s\n", p.Name, p.Lower, p.Upper, p.Description)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "\nOptimizers: %v\n", opt.Names())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(problemsCmd)
}
