package main

import (
	"github.com/jingkaihe/skillbook/pkg/tui"
	"github.com/spf13/cobra"
)

var browseCmd = withTracing(&cobra.Command{
	Use:   "browse",
	Short: "Browse skills and reference chapters in the terminal",
	Long: `Open an interactive browser. Select a skill to read its checklist grouped by
chapter, then page through its reference chapters with n and p.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := buildRuntime(cmd.Context(), settings)
		if err != nil {
			return err
		}
		return tui.Browse(cmd.Context(), rt.registry, rt.loader)
	},
})

func init() {
	rootCmd.AddCommand(browseCmd)
}
