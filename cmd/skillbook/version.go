package main

import (
	"fmt"

	"github.com/jingkaihe/skillbook/pkg/presenter"
	"github.com/jingkaihe/skillbook/pkg/version"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long:  `Print the version information of skillbook, as JSON with --json.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := version.Get()

		asJSON, _ := cmd.Flags().GetBool("json")
		if !asJSON {
			fmt.Fprintln(presenter.Output(), info.String())
			return nil
		}

		out, err := info.JSON()
		if err != nil {
			return errors.Wrap(err, "failed to format version info")
		}
		fmt.Fprintln(presenter.Output(), out)
		return nil
	},
}

func init() {
	versionCmd.Flags().Bool("json", false, "Print the version information as JSON")
	rootCmd.AddCommand(versionCmd)
}
