package skills

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Validate checks one skill for structural problems and returns every finding
// at once. Scope checks only apply when the skill declares a scope statement.
func Validate(skill *Skill) error {
	var result *multierror.Error

	if !ValidName(skill.Name) {
		result = multierror.Append(result, errors.Errorf("name '%s' must be a single path element", skill.Name))
	}
	if strings.TrimSpace(skill.Description) == "" {
		result = multierror.Append(result, errors.New("description is empty"))
	}
	if len(skill.Checklist) == 0 {
		result = multierror.Append(result, errors.New("checklist is empty"))
	}

	present := make(map[int]bool, len(skill.Checklist))
	prev := 0
	for i, entry := range skill.Checklist {
		if present[entry.Number] {
			result = multierror.Append(result, errors.Errorf("item %d appears more than once", entry.Number))
		} else if i > 0 && entry.Number <= prev {
			result = multierror.Append(result, errors.Errorf("item %d follows item %d", entry.Number, prev))
		}
		present[entry.Number] = true
		prev = entry.Number

		if strings.TrimSpace(entry.Statement) == "" {
			result = multierror.Append(result, errors.Errorf("item %d has no statement", entry.Number))
		}
		if len(skill.Scope) > 0 && !skill.InScope(entry.Number) {
			result = multierror.Append(result, errors.Errorf("item %d is outside the declared scope %s", entry.Number, skill.ScopeString()))
		}
	}

	numbers := make([]int, 0, len(present))
	for n := range present {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	for _, r := range skill.Scope {
		for _, gap := range missingSpans(r, numbers) {
			if gap.From == gap.To {
				result = multierror.Append(result, errors.Errorf("item %d is declared in scope but missing from the checklist", gap.From))
			} else {
				result = multierror.Append(result, errors.Errorf("items %s are declared in scope but missing from the checklist", gap))
			}
		}
	}

	if skill.FS != nil {
		for _, p := range referencedPaths(skill) {
			if _, err := fs.Stat(skill.FS, p); err != nil {
				result = multierror.Append(result, errors.Errorf("reference %s does not exist", p))
			}
		}
	}

	return result.ErrorOrNil()
}

// ValidateAll validates every skill and checks that skills sharing a
// collection never claim the same item number.
func ValidateAll(skills []*Skill) error {
	var result *multierror.Error

	owners := make(map[string]map[int]string)
	for _, skill := range skills {
		if err := Validate(skill); err != nil {
			result = multierror.Append(result, multierror.Prefix(err, skill.Name+":"))
		}

		if skill.Collection == "" {
			continue
		}
		if owners[skill.Collection] == nil {
			owners[skill.Collection] = make(map[int]string)
		}
		for _, entry := range skill.Checklist {
			if owner, taken := owners[skill.Collection][entry.Number]; taken && owner != skill.Name {
				result = multierror.Append(result, errors.Errorf(
					"%s: item %d is also claimed by %s in collection %s",
					skill.Name, entry.Number, owner, skill.Collection))
				continue
			}
			owners[skill.Collection][entry.Number] = skill.Name
		}
	}

	return result.ErrorOrNil()
}

// missingSpans returns the parts of r not covered by the sorted numbers
func missingSpans(r ItemRange, numbers []int) []ItemRange {
	var gaps []ItemRange
	next := r.From
	for _, n := range numbers {
		if n < next {
			continue
		}
		if n > r.To {
			break
		}
		if n > next {
			gaps = append(gaps, ItemRange{From: next, To: n - 1})
		}
		next = n + 1
	}
	if next <= r.To {
		gaps = append(gaps, ItemRange{From: next, To: r.To})
	}
	return gaps
}

// referencedPaths lists navigation targets plus the chapters checklist items
// point to, without duplicates and in sorted order
func referencedPaths(skill *Skill) []string {
	seen := make(map[string]bool)
	for _, link := range skill.References {
		seen[link.Path] = true
	}
	for _, entry := range skill.Checklist {
		if entry.Chapter != "" {
			seen[entry.Chapter] = true
		}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Findings flattens a validation error into one message per problem
func Findings(err error) []string {
	if err == nil {
		return nil
	}
	var merr *multierror.Error
	if errors.As(err, &merr) {
		out := make([]string, 0, len(merr.Errors))
		for _, e := range merr.Errors {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{fmt.Sprint(err)}
}
