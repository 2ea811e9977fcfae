package skills

import (
	"context"
	"sort"
	"sync"

	"github.com/gobwas/glob"
	"github.com/jingkaihe/skillbook/pkg/logger"
	"github.com/jingkaihe/skillbook/pkg/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// Registry maps skill names to loaded skills. The map is replaced as a whole on
// Reload, so a *Skill handed out earlier stays valid and unchanged.
type Registry struct {
	discovery *Discovery
	allowed   []glob.Glob

	mu     sync.RWMutex
	skills map[string]*Skill
	hooks  []func()
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry) error

// WithAllowlist restricts the registry to skills whose names match one of the
// glob patterns. No patterns means every skill is visible.
func WithAllowlist(patterns ...string) RegistryOption {
	return func(r *Registry) error {
		compiled, err := compilePatterns(patterns)
		if err != nil {
			return err
		}
		r.allowed = compiled
		return nil
	}
}

// NewRegistry creates a registry and loads every skill the discovery finds
func NewRegistry(ctx context.Context, discovery *Discovery, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		discovery: discovery,
		skills:    make(map[string]*Skill),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the skill with exactly this name. Matching is case-sensitive.
func (r *Registry) Get(name string) (*Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	skill, ok := r.skills[name]
	if !ok {
		return nil, &NotFoundError{Skill: name}
	}
	return skill, nil
}

// List returns all skills sorted by name
func (r *Registry) List() []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Skill, 0, len(r.skills))
	for _, s := range r.skills {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Names returns the sorted names of all skills
func (r *Registry) Names() []string {
	list := r.List()
	names := make([]string, 0, len(list))
	for _, s := range list {
		names = append(names, s.Name)
	}
	return names
}

// Discovery returns the discovery the registry loads from
func (r *Registry) Discovery() *Discovery {
	return r.discovery
}

// OnReload registers fn to run after every successful reload
func (r *Registry) OnReload(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Reload rediscovers skills and swaps them in atomically
func (r *Registry) Reload(ctx context.Context) error {
	return telemetry.WithSpan(ctx, "skills.reload", func(ctx context.Context) error {
		found, err := r.discovery.DiscoverSkills(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to discover skills")
		}

		found = filterByPatterns(found, r.allowed)

		r.mu.Lock()
		r.skills = found
		hooks := append([]func(){}, r.hooks...)
		r.mu.Unlock()

		for _, hook := range hooks {
			hook()
		}

		telemetry.SetAttributes(ctx, attribute.Int("skills.count", len(found)))
		logger.G(ctx).WithField("count", len(found)).Debug("skills loaded")
		return nil
	})
}

func compilePatterns(patterns []string) ([]glob.Glob, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, errors.Wrapf(err, "invalid skill pattern '%s'", p)
		}
		compiled = append(compiled, g)
	}
	return compiled, nil
}

func filterByPatterns(skills map[string]*Skill, patterns []glob.Glob) map[string]*Skill {
	if len(patterns) == 0 {
		return skills
	}

	filtered := make(map[string]*Skill)
	for name, skill := range skills {
		for _, g := range patterns {
			if g.Match(name) {
				filtered[name] = skill
				break
			}
		}
	}
	return filtered
}
