// Package mcpserver exposes skills to coding assistants over the Model Context
// Protocol. Tools cover lookup, reference loading and prompt assembly; every
// skill is also readable as a skill:// resource.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/jingkaihe/skillbook/pkg/logger"
	"github.com/jingkaihe/skillbook/pkg/prompt"
	"github.com/jingkaihe/skillbook/pkg/references"
	"github.com/jingkaihe/skillbook/pkg/skills"
	"github.com/jingkaihe/skillbook/pkg/version"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"
)

const (
	serverName = "skillbook"
	uriScheme  = "skill://"
	mimeType   = "text/markdown"
)

// SkillSource lists and resolves skills
type SkillSource interface {
	Get(name string) (*skills.Skill, error)
	List() []*skills.Skill
}

// ReferenceSource loads reference chapters
type ReferenceSource interface {
	Load(ctx context.Context, skillName, chapterRef string) (*references.Chapter, error)
	List(ctx context.Context, skillName string) ([]references.ChapterInfo, error)
}

// Assembler builds prompts
type Assembler interface {
	Assemble(ctx context.Context, req prompt.Request) (string, error)
	Resolve(req prompt.Request) prompt.Request
}

// ListSkillsInput is the input of the list_skills tool
type ListSkillsInput struct{}

// GetSkillInput is the input of the get_skill tool
type GetSkillInput struct {
	Name string `json:"name" jsonschema:"description=Exact skill name, e.g. effective-java-core"`
}

// LoadReferenceInput is the input of the load_reference tool
type LoadReferenceInput struct {
	Skill   string `json:"skill" jsonschema:"description=Skill that owns the chapter"`
	Chapter string `json:"chapter" jsonschema:"description=Chapter ID, number or slug, e.g. 07-methods, 7 or methods"`
}

// AssemblePromptInput is the input of the assemble_prompt tool
type AssemblePromptInput struct {
	Request  string              `json:"request" jsonschema:"description=The user request placed first in the prompt"`
	Skills   []string            `json:"skills,omitempty" jsonschema:"description=Skills whose checklists follow the request, in order"`
	Chapters []prompt.ChapterRef `json:"chapters,omitempty" jsonschema:"description=Reference chapters appended after the checklists, in order"`
	Mentions bool                `json:"mentions,omitempty" jsonschema:"description=Also include skills named as $skill-name in the request"`
}

// GenerateSchema reflects the JSON schema of T for a tool input
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

func newTool[T any](name, description string) mcp.Tool {
	schema, err := json.Marshal(GenerateSchema[T]())
	if err != nil {
		// reflected schemas of plain structs always marshal
		panic(err)
	}
	return mcp.NewToolWithRawSchema(name, description, schema)
}

// Server wraps an MCP server bound to the skill sources
type Server struct {
	mcp       *server.MCPServer
	skills    SkillSource
	refs      ReferenceSource
	assembler Assembler

	mu        sync.Mutex
	resources map[string]bool
}

// New creates the MCP server and registers tools and resources
func New(skillSource SkillSource, refs ReferenceSource, assembler Assembler) *Server {
	s := &Server{
		mcp: server.NewMCPServer(
			serverName,
			version.Get().Short(),
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, true),
			server.WithRecovery(),
			server.WithInstructions(instructions),
		),
		skills:    skillSource,
		refs:      refs,
		assembler: assembler,
		resources: make(map[string]bool),
	}

	s.mcp.AddTool(newTool[ListSkillsInput]("list_skills",
		"List available skills with their descriptions and item scope."), s.handleListSkills)
	s.mcp.AddTool(newTool[GetSkillInput]("get_skill",
		"Return the full checklist of a skill. Load it before reviewing or writing code the skill covers."), s.handleGetSkill)
	s.mcp.AddTool(newTool[LoadReferenceInput]("load_reference",
		"Load a reference chapter of a skill for the detailed rationale behind checklist items."), s.handleLoadReference)
	s.mcp.AddTool(newTool[AssemblePromptInput]("assemble_prompt",
		"Combine a request with skill checklists and reference chapters into one prompt."), s.handleAssemblePrompt)

	s.SyncResources()
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(uriScheme+"{name}/references/{chapter}", "reference chapter",
			mcp.WithTemplateDescription("A reference chapter of a skill"),
			mcp.WithTemplateMIMEType(mimeType),
		),
		s.handleReadResource,
	)

	return s
}

const instructions = `skillbook serves coding checklists ("skills").
Call list_skills to see what is available, get_skill to load a checklist,
and load_reference only when an item needs its detailed rationale.`

// SyncResources registers a skill:// resource per current skill and drops the
// ones whose skill is gone. Register it as a registry reload hook.
func (s *Server) SyncResources() {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]bool)
	for _, skill := range s.skills.List() {
		uri := uriScheme + skill.Name
		current[uri] = true
		s.mcp.AddResource(
			mcp.NewResource(uri, skill.Name,
				mcp.WithResourceDescription(skill.Description),
				mcp.WithMIMEType(mimeType),
			),
			s.handleReadResource,
		)
	}
	for uri := range s.resources {
		if !current[uri] {
			s.mcp.RemoveResource(uri)
		}
	}
	s.resources = current
}

// ServeStdio speaks MCP over in and out until ctx is cancelled or in closes
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	logger.G(ctx).WithField("skills", len(s.skills.List())).Info("serving MCP over stdio")
	if err := stdio.Listen(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "MCP stdio server failed")
	}
	return nil
}

func bindArguments(request mcp.CallToolRequest, v any) error {
	data, err := json.Marshal(request.Params.Arguments)
	if err != nil {
		return errors.Wrap(err, "failed to encode arguments")
	}
	if string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, "invalid arguments")
	}
	return nil
}

// toolError turns lookup and argument failures into tool results the
// assistant can act on; anything else fails the call
func toolError(err error) (*mcp.CallToolResult, error) {
	if skills.IsNotFound(err) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return nil, err
}

func (s *Server) handleListSkills(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list := s.skills.List()
	views := make([]skills.View, 0, len(list))
	for _, skill := range list {
		views = append(views, skills.Summarize(skill))
	}
	data, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode skills")
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleGetSkill(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input GetSkillInput
	if err := bindArguments(request, &input); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if input.Name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}

	skill, err := s.skills.Get(input.Name)
	if err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(prompt.SkillBlock(skill)), nil
}

func (s *Server) handleLoadReference(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input LoadReferenceInput
	if err := bindArguments(request, &input); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if strings.TrimSpace(input.Skill) == "" || strings.TrimSpace(input.Chapter) == "" {
		return mcp.NewToolResultError("skill and chapter are required"), nil
	}

	chapter, err := s.refs.Load(ctx, input.Skill, input.Chapter)
	if err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(prompt.ChapterBlock(chapter)), nil
}

func (s *Server) handleAssemblePrompt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input AssemblePromptInput
	if err := bindArguments(request, &input); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	req := prompt.Request{UserRequest: input.Request, Skills: input.Skills, Chapters: input.Chapters}
	if input.Mentions {
		req = s.assembler.Resolve(req)
	}

	out, err := s.assembler.Assemble(ctx, req)
	if err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(out), nil
}

// handleReadResource serves skill://<name> and
// skill://<name>/references/<chapter>
func (s *Server) handleReadResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	name, chapter, err := parseURI(uri)
	if err != nil {
		return nil, err
	}

	var text string
	if chapter == "" {
		skill, err := s.skills.Get(name)
		if err != nil {
			return nil, err
		}
		text = skill.Content
	} else {
		c, err := s.refs.Load(ctx, name, chapter)
		if err != nil {
			return nil, err
		}
		text = c.Content
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: mimeType, Text: text},
	}, nil
}

func parseURI(uri string) (name, chapter string, err error) {
	rest, ok := strings.CutPrefix(uri, uriScheme)
	if !ok || rest == "" {
		return "", "", errors.Errorf("unsupported resource URI '%s'", uri)
	}
	name, chapter, hasChapter := strings.Cut(rest, "/references/")
	if name == "" || strings.Contains(name, "/") || (hasChapter && chapter == "") {
		return "", "", errors.Errorf("unsupported resource URI '%s'", uri)
	}
	return name, chapter, nil
}
