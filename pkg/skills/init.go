package skills

import (
	"context"

	"github.com/jingkaihe/skillbook/pkg/config"
	"github.com/jingkaihe/skillbook/pkg/logger"
)

// Initialize builds a registry from configuration. Configured skill_dirs are
// searched before the default directories; no_builtin drops the embedded bundles.
func Initialize(ctx context.Context, cfg config.Config) (*Registry, error) {
	opts := []Option{WithDefaultDirs()}
	if len(cfg.SkillDirs) > 0 {
		opts = []Option{WithSkillDirs(cfg.SkillDirs...), WithAdditionalSkillDirs(defaultDirs()...)}
	}
	if cfg.NoBuiltin {
		opts = append(opts, WithoutBuiltin())
	}

	discovery, err := NewDiscovery(opts...)
	if err != nil {
		return nil, err
	}

	registry, err := NewRegistry(ctx, discovery, WithAllowlist(cfg.Allowed...))
	if err != nil {
		return nil, err
	}

	logger.G(ctx).WithField("skills", registry.Names()).Debug("skill registry initialized")
	return registry, nil
}

func defaultDirs() []string {
	d := &Discovery{}
	if err := WithDefaultDirs()(d); err != nil {
		return nil
	}
	return d.skillDirs
}
