package main

import (
	"context"
	"os"

	"github.com/jingkaihe/skillbook/pkg/config"
	"github.com/jingkaihe/skillbook/pkg/logger"
	"github.com/jingkaihe/skillbook/pkg/presenter"
	"github.com/jingkaihe/skillbook/pkg/prompt"
	"github.com/jingkaihe/skillbook/pkg/references"
	"github.com/jingkaihe/skillbook/pkg/skills"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// settings is the configuration loaded before any subcommand runs
var settings config.Config

var rootCmd = &cobra.Command{
	Use:   "skillbook",
	Short: "Serve coding checklists and their reference chapters to AI coding assistants",
	Long: `skillbook discovers skill bundles (SKILL.md checklists plus reference chapters),
validates them, and hands them to coding assistants as prompts, over HTTP or over MCP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadSettings(viper.GetViper())
		if err != nil {
			return err
		}
		settings = cfg

		if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
			presenter.SetQuiet(true)
		}

		shutdown, err := initTracing(cmd.Context())
		if err != nil {
			logger.G(cmd.Context()).WithError(err).Warn("failed to initialize tracing")
			return nil
		}
		shutdownTracing = shutdown
		return nil
	},
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

// loadSettings reads configuration into v and applies the logger settings
func loadSettings(v *viper.Viper) (config.Config, error) {
	if err := config.Init(v); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return cfg, err
	}
	if err := logger.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		return cfg, errors.Wrap(err, "failed to configure logger")
	}
	return cfg, nil
}

// runtime holds the components shared by the subcommands
type runtime struct {
	registry  *skills.Registry
	loader    *references.Loader
	assembler *prompt.Assembler
}

func buildRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	registry, err := skills.Initialize(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load skills")
	}

	loader := references.NewLoader(registry)
	registry.OnReload(loader.Invalidate)

	return &runtime{
		registry:  registry,
		loader:    loader,
		assembler: prompt.NewAssembler(registry, loader),
	}, nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringSlice("skill-dir", nil, "Skill directory to search before the defaults (repeatable)")
	flags.Bool("no-builtin", false, "Do not load the builtin skills")
	flags.StringSlice("allow", nil, "Only load skills matching these glob patterns, e.g. 'effective-java-*'")
	flags.String("log-level", "info", "Log level (panic, fatal, error, warn, info, debug, trace)")
	flags.String("log-format", "fmt", "Log format (fmt, text, json)")
	flags.BoolP("quiet", "q", false, "Only print command output and errors")

	viper.BindPFlag("skill_dirs", flags.Lookup("skill-dir"))
	viper.BindPFlag("no_builtin", flags.Lookup("no-builtin"))
	viper.BindPFlag("allowed", flags.Lookup("allow"))
	viper.BindPFlag("log.level", flags.Lookup("log-level"))
	viper.BindPFlag("log.format", flags.Lookup("log-format"))
}

func main() {
	ctx := context.Background()

	err := rootCmd.ExecuteContext(ctx)

	if shutdownErr := shutdownTracing(ctx); shutdownErr != nil {
		logger.G(ctx).WithError(shutdownErr).Warn("failed to flush traces")
	}

	if err != nil {
		presenter.Error(err, "")
		os.Exit(1)
	}
}
