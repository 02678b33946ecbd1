package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/npcvoice/internal/identity"
)

func newIdentitiesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identities",
		Short: "Manage the speaker identity dataset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newIdentitiesBuildCommand())
	return cmd
}

func newIdentitiesBuildCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "build <source.json>...",
		Short: "Build the identity dataset from entity source records",
		Long: `Build reads entity records (one record or an array per file) and writes a
dataset mapping every display name to its gender, group and description.
Names claimed by more than one record keep the first record and are
reported as conflicts.`,
		Example: `npcvoice identities build data/entities/*.json --out identities.json`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := identity.BuildFiles(args...)
			if err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %q: %w", out, err)
			}
			if err := res.Dataset.Write(f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close %q: %w", out, err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "wrote %d identities to %s (%d records skipped)\n", len(res.Dataset), out, res.Skipped)
			for _, c := range res.Conflicts {
				fmt.Fprintf(w, "conflict: %q kept group %q, ignored %q\n", c.Name, c.Kept, c.Rejected)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "identities.json", "output dataset path")
	return cmd
}
