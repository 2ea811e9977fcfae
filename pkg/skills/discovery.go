package skills

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/jingkaihe/skillbook/pkg/logger"
	"github.com/jingkaihe/skillbook/pkg/skills/builtin"
	"github.com/pkg/errors"
)

// Discovery handles skill discovery from configured directories and the
// builtin bundle set
type Discovery struct {
	skillDirs []string
	builtin   fs.FS
}

// Option is a function that configures a Discovery
type Option func(*Discovery) error

// WithSkillDirs sets custom skill directories
func WithSkillDirs(dirs ...string) Option {
	return func(d *Discovery) error {
		d.skillDirs = dirs
		return nil
	}
}

// WithAdditionalSkillDirs appends directories after the ones already set
func WithAdditionalSkillDirs(dirs ...string) Option {
	return func(d *Discovery) error {
		d.skillDirs = append(d.skillDirs, dirs...)
		return nil
	}
}

// WithDefaultDirs initializes with default skill directories
func WithDefaultDirs() Option {
	return func(d *Discovery) error {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "failed to get user home directory")
		}
		d.skillDirs = []string{
			filepath.Join(".", ".skillbook", "skills"),     // Repo-local (highest precedence)
			filepath.Join(homeDir, ".skillbook", "skills"), // User-global
		}
		return nil
	}
}

// WithBuiltin sets the filesystem holding builtin bundles, one directory per skill
func WithBuiltin(fsys fs.FS) Option {
	return func(d *Discovery) error {
		d.builtin = fsys
		return nil
	}
}

// WithoutBuiltin disables builtin bundles
func WithoutBuiltin() Option {
	return func(d *Discovery) error {
		d.builtin = nil
		return nil
	}
}

// NewDiscovery creates a new skill discovery instance. Without options it
// searches the default directories followed by the builtin bundles.
func NewDiscovery(opts ...Option) (*Discovery, error) {
	d := &Discovery{builtin: builtin.FS}

	if len(opts) == 0 {
		if err := WithDefaultDirs()(d); err != nil {
			return nil, err
		}
		return d, nil
	}

	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// SkillDirs returns the configured directories in precedence order
func (d *Discovery) SkillDirs() []string {
	return d.skillDirs
}

// DiscoverSkills finds all available skills. When several sources define the
// same name, the first directory wins and builtin bundles come last.
func (d *Discovery) DiscoverSkills(ctx context.Context) (map[string]*Skill, error) {
	all, err := d.DiscoverAll(ctx)
	if err != nil {
		return nil, err
	}

	skills := make(map[string]*Skill, len(all))
	for name, copies := range all {
		skills[name] = copies[0]
	}
	return skills, nil
}

// DiscoverAll returns every copy of every skill in precedence order, including
// the ones shadowed by a higher-precedence source.
func (d *Discovery) DiscoverAll(ctx context.Context) (map[string][]*Skill, error) {
	all := make(map[string][]*Skill)

	for _, dir := range d.skillDirs {
		if dir == "" {
			continue
		}
		d.discoverFromFS(ctx, os.DirFS(dir), dir, SourceLocal, all)
	}

	if d.builtin != nil {
		d.discoverFromFS(ctx, d.builtin, "", SourceBuiltin, all)
	}

	return all, nil
}

func (d *Discovery) discoverFromFS(ctx context.Context, root fs.FS, dir string, source Source, all map[string][]*Skill) {
	entries, err := fs.ReadDir(root, ".")
	if err != nil {
		return
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		// Stat rather than entry.IsDir so symlinked bundles are followed
		info, err := fs.Stat(root, entry.Name())
		if err != nil || !info.IsDir() {
			continue
		}

		bundle, err := fs.Sub(root, entry.Name())
		if err != nil {
			continue
		}

		skill, err := loadSkill(bundle)
		if err != nil {
			logger.G(ctx).WithError(err).WithField("bundle", entry.Name()).Debug("skipping invalid skill bundle")
			continue
		}

		skill.Source = source
		skill.FS = bundle
		if dir != "" {
			skill.Directory = filepath.Join(dir, entry.Name())
		}
		all[skill.Name] = append(all[skill.Name], skill)
	}
}

// LoadBundle loads the skill bundle rooted at dir on disk
func LoadBundle(dir string) (*Skill, error) {
	bundle := os.DirFS(dir)
	skill, err := loadSkill(bundle)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load skill bundle %s", dir)
	}
	skill.Source = SourceLocal
	skill.Directory = dir
	skill.FS = bundle
	return skill, nil
}

// loadSkill loads a single skill from the SKILL.md at the root of bundle
func loadSkill(bundle fs.FS) (*Skill, error) {
	content, err := fs.ReadFile(bundle, skillFileName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read skill file")
	}
	return ParseSkill(content)
}
