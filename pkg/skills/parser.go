package skills

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

var (
	scopePattern = regexp.MustCompile(`(?mi)^\*\*Scope:\*\*\s*items?\s+([^.\n]+)`)
	rangePattern = regexp.MustCompile(`(\d+)(?:\s*[\x{2013}\x{2014}-]\s*(\d+))?`)
)

var markdown = goldmark.New(goldmark.WithExtensions(meta.Meta))

// ParseSkill parses the content of a SKILL.md file. Name and description are
// required in the frontmatter.
func ParseSkill(content []byte) (*Skill, error) {
	pctx := parser.NewContext()
	doc := markdown.Parser().Parse(text.NewReader(content), parser.WithContext(pctx))

	metaData := meta.Get(pctx)
	if metaData == nil {
		return nil, errors.New("missing frontmatter")
	}

	md, err := decodeMetadata(metaData)
	if err != nil {
		return nil, err
	}

	if md.Name == "" {
		return nil, errors.New("skill name is required in frontmatter")
	}
	if !ValidName(md.Name) {
		return nil, errors.Errorf("skill name '%s' must be a single path element", md.Name)
	}
	if md.Description == "" {
		return nil, errors.New("skill description is required in frontmatter")
	}

	body := extractBodyContent(string(content))
	checklist, links := walkBody(doc, content)

	return &Skill{
		Name:        md.Name,
		Description: md.Description,
		Collection:  md.Collection,
		Version:     md.Version,
		Content:     body,
		Checklist:   checklist,
		Scope:       parseScope(body),
		References:  links,
	}, nil
}

func decodeMetadata(raw map[string]interface{}) (Metadata, error) {
	var md Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &md,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return md, errors.Wrap(err, "failed to create frontmatter decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return md, errors.Wrap(err, "failed to decode frontmatter")
	}
	md.Name = strings.TrimSpace(md.Name)
	md.Description = strings.TrimSpace(md.Description)
	return md, nil
}

// extractBodyContent removes YAML frontmatter and returns the body
func extractBodyContent(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}

	lines := strings.Split(content, "\n")
	frontmatterEnd := -1

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			frontmatterEnd = i
			break
		}
	}

	if frontmatterEnd == -1 {
		return content
	}

	return strings.TrimLeft(strings.Join(lines[frontmatterEnd+1:], "\n"), "\n")
}

// parseScope reads the "**Scope:** items 1–65 and 74–78" statement. Only the
// first sentence counts, so cross references that follow it are ignored.
func parseScope(body string) []ItemRange {
	m := scopePattern.FindStringSubmatch(body)
	if m == nil {
		return nil
	}

	var ranges []ItemRange
	for _, r := range rangePattern.FindAllStringSubmatch(m[1], -1) {
		from, err := strconv.Atoi(r[1])
		if err != nil {
			continue
		}
		to := from
		if r[2] != "" {
			if to, err = strconv.Atoi(r[2]); err != nil {
				continue
			}
		}
		if to < from {
			from, to = to, from
		}
		ranges = append(ranges, ItemRange{From: from, To: to})
	}
	return ranges
}

// walkBody collects the numbered checklist and the navigation links. Each
// heading sets the current chapter to the reference it links to, if any.
func walkBody(doc ast.Node, source []byte) ([]GuidelineEntry, []ChapterLink) {
	var (
		entries      []GuidelineEntry
		links        []ChapterLink
		chapter      string
		inNavigation bool
	)

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading:
			chapter = firstReferenceLink(node)
			if node.Level <= 2 {
				inNavigation = strings.Contains(strings.ToLower(nodeText(node, source)), "navigation")
			}
			return ast.WalkSkipChildren, nil
		case *ast.List:
			if inNavigation || !node.IsOrdered() {
				return ast.WalkContinue, nil
			}
			entries = append(entries, listEntries(node, source, chapter)...)
			return ast.WalkSkipChildren, nil
		case *ast.Link:
			dest := string(node.Destination)
			if inNavigation && isReferencePath(dest) {
				links = append(links, ChapterLink{Title: nodeText(node, source), Path: dest})
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return entries, links
}

func listEntries(list *ast.List, source []byte, chapter string) []GuidelineEntry {
	var entries []GuidelineEntry
	index := 0
	for c := list.FirstChild(); c != nil; c = c.NextSibling() {
		item, ok := c.(*ast.ListItem)
		if !ok {
			continue
		}
		number, ok := listItemNumber(item, source)
		if !ok {
			number = list.Start + index
		}
		index++

		var statement string
		if first := item.FirstChild(); first != nil {
			statement = nodeText(first, source)
		}
		entries = append(entries, GuidelineEntry{
			Number:    number,
			Statement: statement,
			Chapter:   chapter,
		})
	}
	return entries
}

// listItemNumber reads the literal ordinal in front of a list item. CommonMark
// only keeps the first number of a list, so gaps would otherwise be lost.
func listItemNumber(item *ast.ListItem, source []byte) (int, bool) {
	first := item.FirstChild()
	if first == nil || first.Lines().Len() == 0 {
		return 0, false
	}
	start := first.Lines().At(0).Start
	lineStart := bytes.LastIndexByte(source[:start], '\n') + 1
	marker := strings.TrimSpace(string(source[lineStart:start]))
	marker = strings.TrimRight(marker, ".)")
	n, err := strconv.Atoi(marker)
	if err != nil {
		return 0, false
	}
	return n, true
}

func firstReferenceLink(n ast.Node) string {
	var dest string
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || dest != "" {
			return ast.WalkContinue, nil
		}
		if link, ok := c.(*ast.Link); ok && isReferencePath(string(link.Destination)) {
			dest = string(link.Destination)
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return dest
}

func nodeText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := c.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

func isReferencePath(dest string) bool {
	return strings.HasPrefix(dest, referencesDir+"/") && strings.HasSuffix(dest, ".md")
}
