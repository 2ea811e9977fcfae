package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jingkaihe/skillbook/pkg/prompt"
	"github.com/jingkaihe/skillbook/pkg/references"
	"github.com/jingkaihe/skillbook/pkg/skills"
	"github.com/jingkaihe/skillbook/pkg/skills/builtin"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	discovery, err := skills.NewDiscovery(skills.WithSkillDirs(), skills.WithBuiltin(builtin.FS))
	require.NoError(t, err)
	registry, err := skills.NewRegistry(context.Background(), discovery)
	require.NoError(t, err)
	loader := references.NewLoader(registry)
	return New(registry, loader, prompt.NewAssembler(registry, loader))
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestGenerateSchema(t *testing.T) {
	data, err := json.Marshal(GenerateSchema[LoadReferenceInput]())
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, false, schema["additionalProperties"])
	assert.ElementsMatch(t, []any{"skill", "chapter"}, schema["required"])

	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "skill")
	assert.Contains(t, props, "chapter")
}

func TestToolsAreRegistered(t *testing.T) {
	s := newTestServer(t)

	resp := s.mcp.HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	for _, name := range []string{"list_skills", "get_skill", "load_reference", "assemble_prompt"} {
		assert.Contains(t, string(data), `"name":"`+name+`"`)
	}
}

func TestListSkills(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleListSkills(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var views []skills.View
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "effective-java-concurrency", views[0].Name)
	assert.Equal(t, "66-73", views[0].Scope)
}

func TestGetSkill(t *testing.T) {
	s := newTestServer(t)

	t.Run("found", func(t *testing.T) {
		result, err := s.handleGetSkill(context.Background(), callRequest(map[string]any{"name": "effective-java-core"}))
		require.NoError(t, err)
		assert.False(t, result.IsError)
		text := resultText(t, result)
		assert.True(t, strings.HasPrefix(text, "# Skill: effective-java-core\n"))
		assert.Contains(t, text, "Make defensive copies when needed")
	})

	t.Run("not found is a tool error", func(t *testing.T) {
		result, err := s.handleGetSkill(context.Background(), callRequest(map[string]any{"name": "effective-java-networking"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "skill 'effective-java-networking' not found")
	})

	t.Run("missing name", func(t *testing.T) {
		result, err := s.handleGetSkill(context.Background(), callRequest(map[string]any{}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("wrong argument type", func(t *testing.T) {
		result, err := s.handleGetSkill(context.Background(), callRequest(map[string]any{"name": 42}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "invalid arguments")
	})
}

func TestLoadReference(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleLoadReference(context.Background(), callRequest(map[string]any{
		"skill":   "effective-java-core",
		"chapter": "07-methods",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	text := resultText(t, result)
	assert.True(t, strings.HasPrefix(text, "# Reference: effective-java-core/07-methods\n"))
	assert.Contains(t, text, "39.")

	result, err = s.handleLoadReference(context.Background(), callRequest(map[string]any{
		"skill":   "effective-java-core",
		"chapter": "99",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "reference '99' not found")

	for _, chapter := range []any{nil, "", "   "} {
		args := map[string]any{"skill": "effective-java-core"}
		if chapter != nil {
			args["chapter"] = chapter
		}
		result, err = s.handleLoadReference(context.Background(), callRequest(args))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Equal(t, "skill and chapter are required", resultText(t, result))
	}
}

func TestAssemblePromptBlankChapter(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleAssemblePrompt(context.Background(), callRequest(map[string]any{
		"request":  "Review",
		"chapters": []map[string]any{{"skill": "effective-java-core", "chapter": " "}},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "reference ' ' not found for skill 'effective-java-core'", resultText(t, result))
}

func TestAssemblePrompt(t *testing.T) {
	s := newTestServer(t)
	args := map[string]any{
		"request": "Review $effective-java-concurrency usage",
		"skills":  []string{"effective-java-core"},
		"chapters": []map[string]any{
			{"skill": "effective-java-core", "chapter": "methods"},
		},
	}

	result, err := s.handleAssemblePrompt(context.Background(), callRequest(args))
	require.NoError(t, err)
	plain := resultText(t, result)
	assert.NotContains(t, plain, "# Skill: effective-java-concurrency")
	assert.Contains(t, plain, "# Reference: effective-java-core/07-methods")

	args["mentions"] = true
	result, err = s.handleAssemblePrompt(context.Background(), callRequest(args))
	require.NoError(t, err)
	withMentions := resultText(t, result)
	assert.Contains(t, withMentions, "# Skill: effective-java-concurrency")
	assert.Less(t,
		strings.Index(withMentions, "# Skill: effective-java-core"),
		strings.Index(withMentions, "# Skill: effective-java-concurrency"))

	again, err := s.handleAssemblePrompt(context.Background(), callRequest(args))
	require.NoError(t, err)
	assert.Equal(t, withMentions, resultText(t, again))
}

func TestReadResource(t *testing.T) {
	s := newTestServer(t)

	read := func(uri string) ([]mcp.ResourceContents, error) {
		req := mcp.ReadResourceRequest{}
		req.Params.URI = uri
		return s.handleReadResource(context.Background(), req)
	}

	contents, err := read("skill://effective-java-core")
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "text/markdown", text.MIMEType)
	assert.Contains(t, text.Text, "## Checklist")

	contents, err = read("skill://effective-java-core/references/07-methods")
	require.NoError(t, err)
	text = contents[0].(mcp.TextResourceContents)
	assert.Contains(t, text.Text, "# Chapter 7: Methods")

	_, err = read("skill://effective-java-networking")
	assert.True(t, skills.IsNotFound(err))

	for _, bad := range []string{"file:///etc/passwd", "skill://", "skill://a/b", "skill://a/references/"} {
		_, err = read(bad)
		require.Error(t, err, bad)
		assert.Contains(t, err.Error(), "unsupported resource URI")
	}
}

func TestResourcesFollowReload(t *testing.T) {
	dir := t.TempDir()
	writeSkill := func(name string) {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, name), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name, "SKILL.md"),
			[]byte("---\nname: "+name+"\ndescription: Skill "+name+"\n---\n\n1. Do it.\n"), 0o644))
	}
	writeSkill("first")

	discovery, err := skills.NewDiscovery(skills.WithSkillDirs(dir), skills.WithoutBuiltin())
	require.NoError(t, err)
	registry, err := skills.NewRegistry(context.Background(), discovery)
	require.NoError(t, err)
	loader := references.NewLoader(registry)
	s := New(registry, loader, prompt.NewAssembler(registry, loader))
	registry.OnReload(s.SyncResources)

	listResources := func() string {
		resp := s.mcp.HandleMessage(context.Background(),
			json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"resources/list"}`))
		data, err := json.Marshal(resp)
		require.NoError(t, err)
		return string(data)
	}

	assert.Contains(t, listResources(), `"uri":"skill://first"`)

	writeSkill("second")
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "first")))
	require.NoError(t, registry.Reload(context.Background()))

	listed := listResources()
	assert.Contains(t, listed, `"uri":"skill://second"`)
	assert.NotContains(t, listed, `"uri":"skill://first"`)
}
