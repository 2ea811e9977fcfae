// Package prompt assembles the text handed to a coding assistant: the user's
// request followed by the requested skill checklists and reference chapters.
package prompt

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jingkaihe/skillbook/pkg/logger"
	"github.com/jingkaihe/skillbook/pkg/references"
	"github.com/jingkaihe/skillbook/pkg/skills"
	"github.com/jingkaihe/skillbook/pkg/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// Separator sits between consecutive blocks of an assembled prompt
const Separator = "\n\n---\n\n"

var mentionPattern = regexp.MustCompile(`(^|[^\w$])\$([A-Za-z0-9][\w-]*)`)

// ChapterRef names one reference chapter of one skill
type ChapterRef struct {
	Skill   string `json:"skill" jsonschema:"description=Skill that owns the chapter"`
	Chapter string `json:"chapter" jsonschema:"description=Chapter ID, number or slug, e.g. 07-methods"`
}

func (r ChapterRef) String() string {
	return r.Skill + ":" + r.Chapter
}

// ParseChapterRef parses the skill:chapter form used on the command line
func ParseChapterRef(s string) (ChapterRef, error) {
	skill, chapter, ok := strings.Cut(s, ":")
	skill = strings.TrimSpace(skill)
	chapter = strings.TrimSpace(chapter)
	if !ok || skill == "" || chapter == "" {
		return ChapterRef{}, errors.Errorf("invalid chapter reference '%s', expected skill:chapter", s)
	}
	return ChapterRef{Skill: skill, Chapter: chapter}, nil
}

// Request is the input of Assemble
type Request struct {
	UserRequest string       `json:"request"`
	Skills      []string     `json:"skills,omitempty"`
	Chapters    []ChapterRef `json:"chapters,omitempty"`
}

// ChapterLoader loads reference chapters
type ChapterLoader interface {
	Load(ctx context.Context, skillName, chapterRef string) (*references.Chapter, error)
}

// Assembler builds prompts from skills and reference chapters
type Assembler struct {
	skills   references.SkillLookup
	chapters ChapterLoader
}

// NewAssembler creates an assembler
func NewAssembler(lookup references.SkillLookup, loader ChapterLoader) *Assembler {
	return &Assembler{skills: lookup, chapters: loader}
}

// Assemble concatenates the user request, each requested skill checklist and
// each requested chapter, in that order. Blocks appear exactly as requested,
// repeats included. The first lookup failure is returned unchanged.
func (a *Assembler) Assemble(ctx context.Context, req Request) (string, error) {
	var out string
	err := telemetry.WithSpan(ctx, "prompt.assemble", func(ctx context.Context) error {
		blocks := make([]string, 0, 1+len(req.Skills)+len(req.Chapters))
		if strings.TrimSpace(req.UserRequest) != "" {
			blocks = append(blocks, req.UserRequest)
		}

		for _, name := range req.Skills {
			skill, err := a.skills.Get(name)
			if err != nil {
				return err
			}
			blocks = append(blocks, SkillBlock(skill))
		}

		for _, ref := range req.Chapters {
			chapter, err := a.chapters.Load(ctx, ref.Skill, ref.Chapter)
			if err != nil {
				return err
			}
			blocks = append(blocks, ChapterBlock(chapter))
		}

		for i := range blocks {
			blocks[i] = strings.TrimRight(blocks[i], "\n")
		}
		out = strings.Join(blocks, Separator) + "\n"

		logger.G(ctx).WithField("skills", len(req.Skills)).
			WithField("chapters", len(req.Chapters)).
			WithField("bytes", len(out)).
			Debug("prompt assembled")
		return nil
	}, attribute.Int("skills", len(req.Skills)), attribute.Int("chapters", len(req.Chapters)))
	if err != nil {
		return "", err
	}
	return out, nil
}

// Resolve returns req with every $skill-name mention of the user request that
// names a known skill appended to Skills. Explicit skills keep their position
// and a mention already listed is not added again. Unknown mentions are left
// alone since prompts often carry shell variables.
func (a *Assembler) Resolve(req Request) Request {
	listed := make(map[string]bool, len(req.Skills))
	for _, name := range req.Skills {
		listed[name] = true
	}

	resolved := req
	resolved.Skills = append([]string(nil), req.Skills...)
	for _, name := range ExtractMentions(req.UserRequest) {
		if listed[name] {
			continue
		}
		if _, err := a.skills.Get(name); err != nil {
			continue
		}
		listed[name] = true
		resolved.Skills = append(resolved.Skills, name)
	}
	return resolved
}

// ExtractMentions returns the distinct $name tokens of text in order of first
// appearance
func ExtractMentions(text string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		name := strings.TrimRight(m[2], "-_")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// SkillBlock renders a skill checklist as a prompt block
func SkillBlock(skill *skills.Skill) string {
	return fmt.Sprintf("# Skill: %s\n\n%s\n\n%s", skill.Name, skill.Description, skill.Content)
}

// ChapterBlock renders a reference chapter as a prompt block
func ChapterBlock(chapter *references.Chapter) string {
	return fmt.Sprintf("# Reference: %s/%s\n\n%s", chapter.Skill, chapter.ID, chapter.Content)
}
