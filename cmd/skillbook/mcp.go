package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/jingkaihe/skillbook/pkg/mcpserver"
	"github.com/spf13/cobra"
)

var mcpCmd = withTracing(&cobra.Command{
	Use:   "mcp",
	Short: "Serve skills to a coding assistant over MCP (stdio)",
	Long: `Speak the Model Context Protocol over stdin and stdout. Register it with an
assistant, for example:

  {"mcpServers": {"skillbook": {"command": "skillbook", "args": ["mcp", "--watch"]}}}

Tools: list_skills, get_skill, load_reference, assemble_prompt.
Resources: skill://<name> and skill://<name>/references/<chapter>.

Logs go to stderr; stdout carries protocol messages only.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		rt, err := buildRuntime(ctx, settings)
		if err != nil {
			return err
		}

		srv := mcpserver.New(rt.registry, rt.loader, rt.assembler)
		rt.registry.OnReload(srv.SyncResources)

		stop, err := startWatching(ctx, rt, watchEnabled(cmd))
		if err != nil {
			return err
		}
		defer stop()

		return srv.ServeStdio(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	},
})

func init() {
	mcpCmd.Flags().Bool("watch", false, "Reload skills when files in the skill directories change")
	rootCmd.AddCommand(mcpCmd)
}
