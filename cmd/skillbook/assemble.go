package main

import (
	"io"
	"os"
	"strings"

	"github.com/jingkaihe/skillbook/pkg/presenter"
	"github.com/jingkaihe/skillbook/pkg/prompt"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// AssembleConfig holds the flags of the assemble command
type AssembleConfig struct {
	Skills     []string
	Chapters   []string
	NoMentions bool
}

// NewAssembleConfig creates an AssembleConfig with default values
func NewAssembleConfig() *AssembleConfig {
	return &AssembleConfig{}
}

var assembleCmd = withTracing(&cobra.Command{
	Use:   "assemble [request...]",
	Short: "Build a prompt from a request, skills and reference chapters",
	Long: `Build the prompt a coding assistant would receive: the request first, then each
skill's checklist, then each reference chapter, separated by '---'.

The request is read from the arguments, or from stdin when there are none.
Skills named in the request as $skill-name are included unless --no-mentions is set.

Examples:
  skillbook assemble "Review this class" --skill effective-java-core
  skillbook assemble --chapter effective-java-core:07-methods < request.txt
  echo 'Fix the races with $effective-java-concurrency' | skillbook assemble`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config := getAssembleConfigFromFlags(cmd)

		request, err := readRequest(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		req, err := buildRequest(request, config)
		if err != nil {
			return err
		}

		rt, err := buildRuntime(cmd.Context(), settings)
		if err != nil {
			return err
		}
		if !config.NoMentions {
			req = rt.assembler.Resolve(req)
		}

		out, err := rt.assembler.Assemble(cmd.Context(), req)
		if err != nil {
			return err
		}
		_, err = io.WriteString(presenter.Output(), out)
		return err
	},
})

func init() {
	defaults := NewAssembleConfig()
	assembleCmd.Flags().StringArrayP("skill", "s", defaults.Skills, "Skill whose checklist to include (repeatable, kept in order)")
	assembleCmd.Flags().StringArrayP("chapter", "c", defaults.Chapters, "Reference chapter to include as skill:chapter (repeatable, kept in order)")
	assembleCmd.Flags().Bool("no-mentions", defaults.NoMentions, "Ignore $skill-name mentions in the request")

	rootCmd.AddCommand(assembleCmd)
}

func getAssembleConfigFromFlags(cmd *cobra.Command) *AssembleConfig {
	config := NewAssembleConfig()
	if s, err := cmd.Flags().GetStringArray("skill"); err == nil {
		config.Skills = s
	}
	if c, err := cmd.Flags().GetStringArray("chapter"); err == nil {
		config.Chapters = c
	}
	if n, err := cmd.Flags().GetBool("no-mentions"); err == nil {
		config.NoMentions = n
	}
	return config
}

// readRequest joins args, or reads stdin when there are none and stdin is
// not a terminal
func readRequest(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if f, ok := stdin.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", errors.Wrap(err, "failed to read request from stdin")
	}
	return strings.TrimSpace(string(data)), nil
}

func buildRequest(request string, config *AssembleConfig) (prompt.Request, error) {
	req := prompt.Request{UserRequest: request, Skills: config.Skills}
	for _, c := range config.Chapters {
		ref, err := prompt.ParseChapterRef(c)
		if err != nil {
			return req, err
		}
		req.Chapters = append(req.Chapters, ref)
	}
	if strings.TrimSpace(req.UserRequest) == "" && len(req.Skills) == 0 && len(req.Chapters) == 0 {
		return req, errors.New("nothing to assemble: pass a request, --skill or --chapter")
	}
	return req, nil
}
