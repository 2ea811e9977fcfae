package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/aymanbagabas/go-udiff"
	"github.com/jingkaihe/skillbook/pkg/presenter"
	"github.com/jingkaihe/skillbook/pkg/skills"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// SkillAddConfig holds the flags of skill add
type SkillAddConfig struct {
	Global bool
	Dir    string
}

// NewSkillAddConfig creates a SkillAddConfig with default values
func NewSkillAddConfig() *SkillAddConfig {
	return &SkillAddConfig{}
}

// SkillRemoveConfig holds the flags of skill remove
type SkillRemoveConfig struct {
	Global bool
	Yes    bool
}

// NewSkillRemoveConfig creates a SkillRemoveConfig with default values
func NewSkillRemoveConfig() *SkillRemoveConfig {
	return &SkillRemoveConfig{}
}

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Inspect and manage skills",
	Long:  `List, show, validate, compare, add and remove skill bundles.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var skillListCmd = withTracing(&cobra.Command{
	Use:   "list",
	Short: "List available skills",
	Long:  `List the skills that survive precedence and the allowlist, with their source and item scope.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := buildRuntime(cmd.Context(), settings)
		if err != nil {
			return err
		}
		list := rt.registry.List()
		if len(list) == 0 {
			presenter.Info("No skills found")
			return nil
		}
		return writeSkillTable(presenter.Output(), list)
	},
})

var skillShowCmd = withTracing(&cobra.Command{
	Use:   "show <name>",
	Short: "Show a skill's checklist",
	Long: `Show a skill. The default markdown output is the SKILL.md body; yaml and json
print the parsed checklist and reference navigation.

Examples:
  skillbook skill show effective-java-core
  skillbook skill show effective-java-core --output yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output")
		rt, err := buildRuntime(cmd.Context(), settings)
		if err != nil {
			return err
		}
		skill, err := rt.registry.Get(args[0])
		if err != nil {
			return err
		}
		return renderSkill(presenter.Output(), skill, format)
	},
})

var skillValidateCmd = withTracing(&cobra.Command{
	Use:   "validate [name...]",
	Short: "Validate skills",
	Long: `Check checklist numbering, declared scope, reference links and collection overlaps.
Without arguments every available skill is validated. Exits with status 1 on any finding.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context(), settings)
		if err != nil {
			return err
		}

		targets := rt.registry.List()
		if len(args) > 0 {
			targets = make([]*skills.Skill, 0, len(args))
			for _, name := range args {
				skill, err := rt.registry.Get(name)
				if err != nil {
					return err
				}
				targets = append(targets, skill)
			}
		}
		return validateSkills(targets)
	},
})

var skillDiffCmd = withTracing(&cobra.Command{
	Use:   "diff <name>",
	Short: "Compare a skill with the copies it shadows",
	Long: `When the same skill name exists in several places, the repo-local copy wins over the
user-global one and both win over the builtin one. diff prints a unified diff from
every shadowed copy to the winning copy.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context(), settings)
		if err != nil {
			return err
		}
		return diffSkill(cmd.Context(), presenter.Output(), rt.registry.Discovery(), args[0])
	},
})

var skillAddCmd = withTracing(&cobra.Command{
	Use:   "add <repo|path>",
	Short: "Add skills from a GitHub repository or a local directory",
	Long: `Add skills from a GitHub repository or a local directory. Every directory holding a
SKILL.md is validated and copied into ./.skillbook/skills (or ~/.skillbook/skills with -g).

  - A repo: orgname/skills (adds all skills)
  - A repo with specific skill: orgname/skills --dir skills/specific-skill
  - A repo with version: orgname/skills@v0.1.0 (adds from specific tag/branch/sha)
  - A local path: ./my-skills

Examples:
  skillbook skill add orgname/skills
  skillbook skill add orgname/skills@main -g
  skillbook skill add ./my-skills --dir effective-go`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return addSkills(cmd.Context(), args[0], getSkillAddConfigFromFlags(cmd))
	},
})

var skillRemoveCmd = withTracing(&cobra.Command{
	Use:   "remove <skill-name>",
	Short: "Remove an installed skill",
	Long: `Remove an installed skill by name.

Examples:
  skillbook skill remove specific-skill
  skillbook skill remove specific-skill -g --yes`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return removeSkill(args[0], getSkillRemoveConfigFromFlags(cmd))
	},
})

func init() {
	skillShowCmd.Flags().StringP("output", "o", "markdown", "Output format (markdown, yaml, json)")

	addDefaults := NewSkillAddConfig()
	skillAddCmd.Flags().BoolP("global", "g", addDefaults.Global, "Install to global ~/.skillbook/skills directory instead of local ./.skillbook/skills")
	skillAddCmd.Flags().StringP("dir", "d", addDefaults.Dir, "Path to a specific skill directory within the source")

	removeDefaults := NewSkillRemoveConfig()
	skillRemoveCmd.Flags().BoolP("global", "g", removeDefaults.Global, "Remove from global ~/.skillbook/skills directory instead of local ./.skillbook/skills")
	skillRemoveCmd.Flags().BoolP("yes", "y", removeDefaults.Yes, "Do not ask for confirmation")

	skillCmd.AddCommand(skillListCmd)
	skillCmd.AddCommand(skillShowCmd)
	skillCmd.AddCommand(skillValidateCmd)
	skillCmd.AddCommand(skillDiffCmd)
	skillCmd.AddCommand(skillAddCmd)
	skillCmd.AddCommand(skillRemoveCmd)
	rootCmd.AddCommand(skillCmd)
}

func getSkillAddConfigFromFlags(cmd *cobra.Command) *SkillAddConfig {
	config := NewSkillAddConfig()
	if global, err := cmd.Flags().GetBool("global"); err == nil {
		config.Global = global
	}
	if dir, err := cmd.Flags().GetString("dir"); err == nil {
		config.Dir = dir
	}
	return config
}

func getSkillRemoveConfigFromFlags(cmd *cobra.Command) *SkillRemoveConfig {
	config := NewSkillRemoveConfig()
	if global, err := cmd.Flags().GetBool("global"); err == nil {
		config.Global = global
	}
	if yes, err := cmd.Flags().GetBool("yes"); err == nil {
		config.Yes = yes
	}
	return config
}

func writeSkillTable(w io.Writer, list []*skills.Skill) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSOURCE\tITEMS\tDESCRIPTION")
	fmt.Fprintln(tw, "----\t------\t-----\t-----------")

	for _, skill := range list {
		description := skill.Description
		if len(description) > 60 {
			description = description[:57] + "..."
		}
		items := skill.ScopeString()
		if items == "" {
			items = fmt.Sprintf("%d", len(skill.Checklist))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", skill.Name, skill.Location(), items, description)
	}
	return tw.Flush()
}

func renderSkill(w io.Writer, skill *skills.Skill, format string) error {
	switch format {
	case "", "markdown", "md":
		_, err := io.WriteString(w, strings.TrimRight(skill.Content, "\n")+"\n")
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(skills.Detail(skill, false)); err != nil {
			return errors.Wrap(err, "failed to encode skill as yaml")
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(skills.Detail(skill, false)), "failed to encode skill as json")
	default:
		return errors.Errorf("unknown output format '%s', expected markdown, yaml or json", format)
	}
}

// validateSkills reports findings per skill and fails when there are any
func validateSkills(targets []*skills.Skill) error {
	presenter.Section(fmt.Sprintf("Validating %d skill(s)", len(targets)))
	problems := 0
	for _, skill := range targets {
		findings := skills.Findings(skills.Validate(skill))
		problems += len(findings)
		presenter.Findings(skill.Name, findings)
	}

	// overlaps only show up when skills are checked together
	if len(targets) > 1 {
		var overlaps []string
		for _, f := range skills.Findings(skills.ValidateAll(targets)) {
			if strings.Contains(f, " is also claimed by ") {
				overlaps = append(overlaps, f)
			}
		}
		problems += len(overlaps)
		if len(overlaps) > 0 {
			presenter.Separator()
			presenter.Findings("collections", overlaps)
		}
	}

	if problems > 0 {
		return errors.Errorf("validation failed with %d problem(s)", problems)
	}
	return nil
}

func diffSkill(ctx context.Context, w io.Writer, discovery *skills.Discovery, name string) error {
	all, err := discovery.DiscoverAll(ctx)
	if err != nil {
		return err
	}
	copies, ok := all[name]
	if !ok {
		return &skills.NotFoundError{Skill: name}
	}
	if len(copies) == 1 {
		presenter.Info(fmt.Sprintf("Skill '%s' has a single copy at %s", name, copies[0].Location()))
		return nil
	}

	winner := copies[0]
	for _, shadowed := range copies[1:] {
		diff := udiff.Unified(shadowed.Location(), winner.Location(), shadowed.Content, winner.Content)
		if diff == "" {
			presenter.Info(fmt.Sprintf("%s is identical to %s", shadowed.Location(), winner.Location()))
			continue
		}
		if _, err := io.WriteString(w, diff); err != nil {
			return err
		}
	}
	return nil
}

func getSkillsDir(global bool) (string, error) {
	if global {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "failed to get user home directory")
		}
		return filepath.Join(homeDir, ".skillbook", "skills"), nil
	}
	return filepath.Join(".skillbook", "skills"), nil
}

// fetchSource returns a directory holding source, cloning it with gh when it is
// not a local path. cleanup removes any temporary clone.
func fetchSource(ctx context.Context, source string) (dir string, cleanup func(), err error) {
	if info, statErr := os.Stat(source); statErr == nil && info.IsDir() {
		return source, func() {}, nil
	}

	if !isGhCliInstalled() {
		return "", nil, errors.New("gh CLI is not installed; install it or pass a local directory")
	}

	repoName, ref := parseRepoAndRef(source)

	tmpDir, err := os.MkdirTemp("", "skillbook-skill-*")
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to create temporary directory")
	}
	cleanup = func() { os.RemoveAll(tmpDir) }

	cloneArgs := []string{"repo", "clone", repoName, tmpDir}
	if ref != "" {
		cloneArgs = append(cloneArgs, "--", "--branch", ref, "--single-branch")
	}

	if output, err := exec.CommandContext(ctx, "gh", cloneArgs...).CombinedOutput(); err != nil {
		cleanup()
		return "", nil, errors.Wrapf(err, "failed to clone repository: %s", strings.TrimSpace(string(output)))
	}
	return tmpDir, cleanup, nil
}

func isGhCliInstalled() bool {
	_, err := exec.LookPath("gh")
	return err == nil
}

func addSkills(ctx context.Context, source string, config *SkillAddConfig) error {
	root, cleanup, err := fetchSource(ctx, source)
	if err != nil {
		return err
	}
	defer cleanup()

	skillsDir, err := getSkillsDir(config.Global)
	if err != nil {
		return err
	}
	installed, err := installSkills(root, config.Dir, skillsDir)
	if err != nil {
		return err
	}
	if installed > 0 {
		presenter.Info(fmt.Sprintf("Successfully installed %d skill(s)", installed))
	}
	return nil
}

// installSkills copies every valid bundle under root (or root/subdir) into
// skillsDir and returns how many were installed
func installSkills(root, subdir, skillsDir string) (int, error) {
	var skillDirs []string
	if subdir != "" {
		targetPath := filepath.Join(root, subdir)
		if _, err := os.Stat(filepath.Join(targetPath, "SKILL.md")); os.IsNotExist(err) {
			return 0, errors.Errorf("no SKILL.md found at %s", subdir)
		}
		skillDirs = []string{targetPath}
	} else {
		var err error
		skillDirs, err = findSkillDirs(root)
		if err != nil {
			return 0, errors.Wrap(err, "failed to find skills")
		}
	}

	if len(skillDirs) == 0 {
		presenter.Warning("No skills found")
		return 0, nil
	}

	if err := os.MkdirAll(skillsDir, 0o755); err != nil {
		return 0, errors.Wrap(err, "failed to create skills directory")
	}

	installed := 0
	for _, dir := range skillDirs {
		skill, err := skills.LoadBundle(dir)
		if err != nil {
			presenter.Error(err, "Skipping invalid bundle")
			continue
		}
		if findings := skills.Findings(skills.Validate(skill)); len(findings) > 0 {
			presenter.Findings(skill.Name, findings)
			presenter.Warning(fmt.Sprintf("Skill '%s' is invalid, skipping", skill.Name))
			continue
		}

		destDir, err := skillPath(skillsDir, skill.Name)
		if err != nil {
			presenter.Error(err, "Skipping bundle")
			continue
		}
		if _, err := os.Stat(destDir); err == nil {
			presenter.Warning(fmt.Sprintf("Skill '%s' already exists, skipping", skill.Name))
			continue
		}

		if err := copyDir(dir, destDir); err != nil {
			presenter.Error(err, fmt.Sprintf("Failed to install skill '%s'", skill.Name))
			continue
		}

		installed++
		presenter.Success(fmt.Sprintf("Installed skill '%s' to %s", skill.Name, destDir))
	}
	return installed, nil
}

func removeSkill(name string, config *SkillRemoveConfig) error {
	skillsDir, err := getSkillsDir(config.Global)
	if err != nil {
		return err
	}
	return removeSkillFrom(skillsDir, name, config.Yes)
}

func removeSkillFrom(skillsDir, name string, yes bool) error {
	skillDir, err := skillPath(skillsDir, name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(skillDir, "SKILL.md")); os.IsNotExist(err) {
		return &skills.NotFoundError{Skill: name}
	}

	if !yes {
		answer := presenter.Prompt(fmt.Sprintf("Remove skill '%s' from %s?", name, skillDir), "y", "N")
		if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
			presenter.Info("Aborted")
			return nil
		}
	}

	if err := os.RemoveAll(skillDir); err != nil {
		return errors.Wrapf(err, "failed to remove skill '%s'", name)
	}

	presenter.Success(fmt.Sprintf("Removed skill '%s' from %s", name, skillDir))
	return nil
}

// skillPath joins name onto skillsDir and refuses names that would leave it
func skillPath(skillsDir, name string) (string, error) {
	if !skills.ValidName(name) {
		return "", errors.Errorf("invalid skill name '%s'", name)
	}
	p := filepath.Join(skillsDir, name)
	if rel, err := filepath.Rel(skillsDir, p); err != nil || rel != name {
		return "", errors.Errorf("skill '%s' resolves outside %s", name, skillsDir)
	}
	return p, nil
}

func parseRepoAndRef(repo string) (string, string) {
	if idx := strings.LastIndex(repo, "@"); idx != -1 {
		return repo[:idx], repo[idx+1:]
	}
	return repo, ""
}

// findSkillDirs returns every directory under root holding a SKILL.md,
// skipping hidden directories and node_modules
func findSkillDirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			name := entry.Name()
			if p != root && (strings.HasPrefix(name, ".") || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.Name() == "SKILL.md" {
			dirs = append(dirs, filepath.Dir(p))
		}
		return nil
	})
	return dirs, err
}

// copyDir copies the bundle at src into dst, which must not exist yet
func copyDir(src, dst string) error {
	if err := os.CopyFS(dst, os.DirFS(src)); err != nil {
		return errors.Wrapf(err, "failed to copy %s to %s", src, dst)
	}
	return nil
}
