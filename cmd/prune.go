package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPruneCmd(flags *globalFlags) *cobra.Command {
	var keep int

	c := &cobra.Command{
		Use:   "prune [--keep N]",
		Short: "Deletes all but the newest N exports.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := setup(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer cleanup()

			if !cmd.Flags().Changed("keep") {
				keep = env.cfg.KeepExports
			}
			if keep <= 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Keeping all exports")
				return nil
			}

			removed, err := env.sink.Prune(cmd.Context(), keep)
			if err != nil {
				return fmt.Errorf("error keeping only %d exports: %w", keep, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d exports, kept the newest %d\n", removed, keep)
			return nil
		},
	}
	c.Flags().IntVar(&keep, "keep", 0, "Number of exports to keep (defaults to KEEP_EXPORTS).")
	return c
}
