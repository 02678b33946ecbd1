package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPresetCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preset",
		Short: "Manage character voice presets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newPresetApplyCommand(root))
	return cmd
}

func newPresetApplyCommand(root *rootOptions) *cobra.Command {
	var gender string
	cmd := &cobra.Command{
		Use:   "apply <character> <preset>",
		Short: "Replace a character's voice configuration with a preset",
		Long: `Apply resolves the preset (following aliases), picks concrete voices for
its voice directives and replaces the character's stored configuration.
The character is created when it does not exist yet.`,
		Example: `npcvoice preset apply "Brokk" grumpy_dwarf --gender male`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := root.openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := a.Assigner().ApplyPreset(cmd.Context(), args[0], args[1], gender)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: preset %s, engine %s\n", res.Character.Name, res.Preset, res.Config.Engine)
			for _, e := range res.Config.BaseConfig {
				fmt.Fprintf(out, "  %s = %s\n", e.Key, e.Value)
			}
			for _, e := range res.Config.Effects {
				fmt.Fprintf(out, "  effect %s\n", e.Name)
			}
			for _, err := range res.Skipped {
				fmt.Fprintf(out, "  skipped: %v\n", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&gender, "gender", "", "gender hint overriding the directive gender (e.g. male, female)")
	return cmd
}
