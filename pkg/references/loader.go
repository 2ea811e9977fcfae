// Package references loads the reference chapters that elaborate a skill's
// checklist. Chapters are read only when requested and memoized afterwards.
package references

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jingkaihe/skillbook/pkg/logger"
	"github.com/jingkaihe/skillbook/pkg/skills"
	"github.com/jingkaihe/skillbook/pkg/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const referencesDir = "references"

var (
	numberPrefix = regexp.MustCompile(`^(\d+)-`)
	titleLine    = regexp.MustCompile(`(?m)^#\s+(.+)$`)
)

// SkillLookup resolves a skill by name
type SkillLookup interface {
	Get(name string) (*skills.Skill, error)
}

// Chapter is a loaded reference chapter
type Chapter struct {
	Skill   string
	ID      string // File name without extension, e.g. 07-methods
	Number  int    // Leading number of the ID, 0 when there is none
	Path    string // Path inside the bundle, e.g. references/07-methods.md
	Title   string // First level-one heading, or the ID
	Content string
}

// ChapterInfo describes a chapter file without reading it
type ChapterInfo struct {
	ID     string `json:"id" yaml:"id"`
	Number int    `json:"number,omitempty" yaml:"number,omitempty"`
	Path   string `json:"path" yaml:"path"`
}

type cacheKey struct {
	skill *skills.Skill
	path  string
}

// Loader loads chapters on demand
type Loader struct {
	lookup SkillLookup

	mu    sync.Mutex
	cache map[cacheKey]*Chapter
}

// NewLoader creates a loader that resolves skills through lookup
func NewLoader(lookup SkillLookup) *Loader {
	return &Loader{
		lookup: lookup,
		cache:  make(map[cacheKey]*Chapter),
	}
}

// Load returns the chapter chapterRef of skillName. chapterRef may be the
// chapter ID (07-methods), its path (references/07-methods.md), its number (07
// or 7) or its slug (methods). A reference that matches no file, or more than
// one, yields a *skills.NotFoundError.
func (l *Loader) Load(ctx context.Context, skillName, chapterRef string) (*Chapter, error) {
	var chapter *Chapter
	err := telemetry.WithSpan(ctx, "references.load", func(ctx context.Context) error {
		skill, err := l.lookup.Get(skillName)
		if err != nil {
			return err
		}

		p, err := resolve(skill.FS, chapterRef)
		if err != nil {
			return err
		}
		if p == "" {
			return &skills.NotFoundError{Skill: skillName, Chapter: chapterRef, Reference: true}
		}

		key := cacheKey{skill: skill, path: p}
		l.mu.Lock()
		cached, ok := l.cache[key]
		l.mu.Unlock()
		if ok {
			chapter = cached
			return nil
		}

		data, err := fs.ReadFile(skill.FS, p)
		if err != nil {
			return errors.Wrapf(err, "failed to read reference '%s'", p)
		}

		chapter = newChapter(skill.Name, p, string(data))
		l.mu.Lock()
		l.cache[key] = chapter
		l.mu.Unlock()

		logger.G(ctx).WithFields(map[string]any{
			"skill":   skill.Name,
			"chapter": chapter.ID,
			"bytes":   len(data),
		}).Debug("reference loaded")
		return nil
	}, attribute.String("skill", skillName), attribute.String("chapter", chapterRef))
	if err != nil {
		return nil, err
	}
	return chapter, nil
}

// List enumerates the chapter files of a skill, ordered by path, without
// reading their contents
func (l *Loader) List(ctx context.Context, skillName string) ([]ChapterInfo, error) {
	skill, err := l.lookup.Get(skillName)
	if err != nil {
		return nil, err
	}

	matches, err := doublestar.Glob(skill.FS, referencesDir+"/**/*.md")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list references of skill '%s'", skillName)
	}
	sort.Strings(matches)

	infos := make([]ChapterInfo, 0, len(matches))
	for _, m := range matches {
		id := skills.ChapterID(m)
		infos = append(infos, ChapterInfo{ID: id, Number: chapterNumber(id), Path: m})
	}
	logger.G(ctx).WithField("skill", skillName).WithField("count", len(infos)).Debug("references listed")
	return infos, nil
}

// Invalidate drops every memoized chapter
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[cacheKey]*Chapter)
}

// resolve maps a chapter reference to a file path inside fsys, or "" when the
// reference matches nothing or is ambiguous
func resolve(fsys fs.FS, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	ref = strings.TrimPrefix(ref, "./")
	ref = strings.TrimPrefix(ref, referencesDir+"/")
	ref = strings.TrimSuffix(ref, ".md")
	if ref == "" || path.IsAbs(ref) || strings.Contains(ref, "..") || strings.ContainsAny(ref, `\*?[]{}`) {
		return "", nil
	}

	exact := path.Join(referencesDir, ref+".md")
	if info, err := fs.Stat(fsys, exact); err == nil && !info.IsDir() {
		return exact, nil
	}

	var pattern string
	if n, err := strconv.Atoi(ref); err == nil {
		pattern = fmt.Sprintf("%s/%02d-*.md", referencesDir, n)
	} else {
		pattern = fmt.Sprintf("%s/*-%s.md", referencesDir, ref)
	}

	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return "", errors.Wrapf(err, "failed to match reference '%s'", ref)
	}
	if len(matches) != 1 {
		return "", nil
	}
	return matches[0], nil
}

func newChapter(skillName, p, content string) *Chapter {
	id := skills.ChapterID(p)
	title := id
	if m := titleLine.FindStringSubmatch(content); m != nil {
		title = strings.TrimSpace(m[1])
	}
	return &Chapter{
		Skill:   skillName,
		ID:      id,
		Number:  chapterNumber(id),
		Path:    p,
		Title:   title,
		Content: content,
	}
}

func chapterNumber(id string) int {
	m := numberPrefix.FindStringSubmatch(id)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}
