package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/jingkaihe/skillbook/pkg/presenter"
	"github.com/jingkaihe/skillbook/pkg/prompt"
	"github.com/jingkaihe/skillbook/pkg/references"
	"github.com/spf13/cobra"
)

var referenceCmd = &cobra.Command{
	Use:     "reference",
	Aliases: []string{"ref"},
	Short:   "List and read reference chapters",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var referenceListCmd = withTracing(&cobra.Command{
	Use:   "list <skill>",
	Short: "List the reference chapters of a skill",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context(), settings)
		if err != nil {
			return err
		}
		infos, err := rt.loader.List(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			presenter.Info(fmt.Sprintf("Skill '%s' has no reference chapters", args[0]))
			return nil
		}
		return writeChapterTable(presenter.Output(), infos)
	},
})

var referenceShowCmd = withTracing(&cobra.Command{
	Use:   "show <skill> <chapter>",
	Short: "Print a reference chapter",
	Long: `Print a reference chapter. The chapter may be given by ID (07-methods), number (7),
slug (methods) or path (references/07-methods.md).

Examples:
  skillbook reference show effective-java-core 07-methods
  skillbook reference show effective-java-core 7 --block`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		block, _ := cmd.Flags().GetBool("block")
		rt, err := buildRuntime(cmd.Context(), settings)
		if err != nil {
			return err
		}
		chapter, err := rt.loader.Load(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		text := chapter.Content
		if block {
			text = prompt.ChapterBlock(chapter)
		}
		_, err = io.WriteString(presenter.Output(), strings.TrimRight(text, "\n")+"\n")
		return err
	},
})

func init() {
	referenceShowCmd.Flags().Bool("block", false, "Print the chapter as it appears in an assembled prompt")

	referenceCmd.AddCommand(referenceListCmd)
	referenceCmd.AddCommand(referenceShowCmd)
	rootCmd.AddCommand(referenceCmd)
}

func writeChapterTable(w io.Writer, infos []references.ChapterInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNUMBER\tPATH")
	fmt.Fprintln(tw, "--\t------\t----")
	for _, info := range infos {
		number := "-"
		if info.Number > 0 {
			number = fmt.Sprintf("%d", info.Number)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", info.ID, number, info.Path)
	}
	return tw.Flush()
}
