package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/npcvoice/pkg/types"
)

func newSayCommand(root *rootOptions) *cobra.Command {
	var (
		rank     string
		category string
	)
	cmd := &cobra.Command{
		Use:     "say <speaker> <message>",
		Short:   "Render a single line and print the clip path",
		Example: `npcvoice say "Gate Guard" "Halt! Who goes there?" --rank 2`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat := types.Category(category)
			if cat != "" && !cat.IsValid() {
				return fmt.Errorf("invalid --category %q (want npc, player or system)", category)
			}

			a, closeFn, err := root.openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeFn()

			path, err := a.Say(cmd.Context(), args[0], args[1], rank, cat)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&rank, "rank", "", "speaker rank, part of the cache key")
	cmd.Flags().StringVar(&category, "category", "", "speaker category: npc, player or system (default voice.default_category)")
	return cmd
}
