package skills

import (
	"context"
	"io/fs"
	"testing"

	"github.com/jingkaihe/skillbook/pkg/skills/builtin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func builtinRegistry(t *testing.T) *Registry {
	t.Helper()
	discovery, err := NewDiscovery(WithSkillDirs(), WithBuiltin(builtin.FS))
	require.NoError(t, err)
	registry, err := NewRegistry(context.Background(), discovery)
	require.NoError(t, err)
	return registry
}

func itemRange(from, to int) []int {
	var out []int
	for n := from; n <= to; n++ {
		out = append(out, n)
	}
	return out
}

func TestBuiltinSkills(t *testing.T) {
	registry := builtinRegistry(t)

	assert.Equal(t, []string{"effective-java-concurrency", "effective-java-core"}, registry.Names())

	for _, skill := range registry.List() {
		t.Run(skill.Name, func(t *testing.T) {
			assert.NotEmpty(t, skill.Description)
			assert.NotEmpty(t, skill.Checklist)
			assert.NotEmpty(t, skill.References)
			assert.Equal(t, SourceBuiltin, skill.Source)
			assert.Equal(t, "effective-java", skill.Collection)
			assert.NoError(t, Validate(skill))

			for _, link := range skill.References {
				data, err := fs.ReadFile(skill.FS, link.Path)
				require.NoError(t, err, link.Path)
				assert.NotEmpty(t, data)
			}
		})
	}

	assert.NoError(t, ValidateAll(registry.List()))
}

func TestBuiltinCoreScope(t *testing.T) {
	skill, err := builtinRegistry(t).Get("effective-java-core")
	require.NoError(t, err)

	expected := append(itemRange(1, 65), itemRange(74, 78)...)
	assert.Equal(t, expected, entryNumbers(skill.Checklist))
	assert.Equal(t, []ItemRange{{From: 1, To: 65}, {From: 74, To: 78}}, skill.Scope)
	assert.Len(t, skill.References, 9)

	entry, ok := skill.Entry(39)
	require.True(t, ok)
	assert.Equal(t, "Make defensive copies when needed.", entry.Statement)
	assert.Equal(t, "references/07-methods.md", entry.Chapter)

	entry, ok = skill.Entry(74)
	require.True(t, ok)
	assert.Equal(t, "references/11-serialization.md", entry.Chapter)
}

func TestBuiltinConcurrencyScope(t *testing.T) {
	skill, err := builtinRegistry(t).Get("effective-java-concurrency")
	require.NoError(t, err)

	assert.Equal(t, itemRange(66, 73), entryNumbers(skill.Checklist))
	require.Len(t, skill.References, 1)
	assert.Equal(t, "10-concurrency", skill.References[0].ID())
}

func TestBuiltinUnknownSkill(t *testing.T) {
	_, err := builtinRegistry(t).Get("effective-java-networking")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}
