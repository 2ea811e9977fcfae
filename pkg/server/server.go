// Package server exposes skills, reference chapters and prompt assembly over
// a small JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jingkaihe/skillbook/pkg/logger"
	"github.com/jingkaihe/skillbook/pkg/prompt"
	"github.com/jingkaihe/skillbook/pkg/references"
	"github.com/jingkaihe/skillbook/pkg/skills"
	"github.com/jingkaihe/skillbook/pkg/version"
	"github.com/pkg/errors"
)

// RequestIDHeader carries the per-request correlation ID
const RequestIDHeader = "X-Request-ID"

// maxBodyBytes bounds POST bodies
const maxBodyBytes = 1 << 20

// SkillSource lists and resolves skills
type SkillSource interface {
	Get(name string) (*skills.Skill, error)
	List() []*skills.Skill
}

// ReferenceSource lists and loads reference chapters
type ReferenceSource interface {
	Load(ctx context.Context, skillName, chapterRef string) (*references.Chapter, error)
	List(ctx context.Context, skillName string) ([]references.ChapterInfo, error)
}

// Assembler builds prompts
type Assembler interface {
	Assemble(ctx context.Context, req prompt.Request) (string, error)
	Resolve(req prompt.Request) prompt.Request
}

// Server serves the HTTP API
type Server struct {
	router    *mux.Router
	skills    SkillSource
	refs      ReferenceSource
	assembler Assembler
	config    *ServerConfig
	server    *http.Server
}

// ServerConfig holds the listen address
type ServerConfig struct {
	Host string
	Port int
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// Address returns host:port
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewServer creates a server over the given sources
func NewServer(config *ServerConfig, skillSource SkillSource, refs ReferenceSource, assembler Assembler) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}

	s := &Server{
		router:    mux.NewRouter(),
		skills:    skillSource,
		refs:      refs,
		assembler: assembler,
		config:    config,
	}
	s.setupRoutes()
	return s, nil
}

// Handler returns the root handler, middleware included
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	// routes live on the root router so its 404 and 405 handlers apply to them
	s.router.HandleFunc("/api/skills", s.handleListSkills).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/skills/{name}", s.handleGetSkill).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/skills/{name}/references", s.handleListReferences).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/skills/{name}/references/{chapter}", s.handleGetReference).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/assemble", s.handleAssemble).Methods(http.MethodPost, http.MethodOptions)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
}

// requestIDMiddleware tags each request with an ID and a request-scoped logger
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := logger.WithLogger(r.Context(), logger.G(r.Context()).WithField("request_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    time.Since(start),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter captures the status code for logging
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Get().Short(),
		"skills":  len(s.skills.List()),
	})
}

// handleListSkills handles GET /api/skills
func (s *Server) handleListSkills(w http.ResponseWriter, _ *http.Request) {
	list := s.skills.List()
	views := make([]skills.View, 0, len(list))
	for _, skill := range list {
		views = append(views, skills.Summarize(skill))
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": views, "total": len(views)})
}

// handleGetSkill handles GET /api/skills/{name}
func (s *Server) handleGetSkill(w http.ResponseWriter, r *http.Request) {
	skill, err := s.skills.Get(mux.Vars(r)["name"])
	if err != nil {
		s.writeLookupError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, skills.Detail(skill, r.URL.Query().Get("content") != "false"))
}

// handleListReferences handles GET /api/skills/{name}/references
func (s *Server) handleListReferences(w http.ResponseWriter, r *http.Request) {
	infos, err := s.refs.List(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		s.writeLookupError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"references": infos, "total": len(infos)})
}

// ChapterResponse is the JSON form of a reference chapter
type ChapterResponse struct {
	Skill   string `json:"skill"`
	ID      string `json:"id"`
	Number  int    `json:"number,omitempty"`
	Path    string `json:"path"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// handleGetReference handles GET /api/skills/{name}/references/{chapter}.
// ?format=raw returns the chapter as text/markdown.
func (s *Server) handleGetReference(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	chapter, err := s.refs.Load(r.Context(), vars["name"], vars["chapter"])
	if err != nil {
		s.writeLookupError(r.Context(), w, err)
		return
	}

	if r.URL.Query().Get("format") == "raw" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(chapter.Content))
		return
	}

	writeJSON(w, http.StatusOK, ChapterResponse{
		Skill:   chapter.Skill,
		ID:      chapter.ID,
		Number:  chapter.Number,
		Path:    chapter.Path,
		Title:   chapter.Title,
		Content: chapter.Content,
	})
}

// AssembleRequest is the body of POST /api/assemble
type AssembleRequest struct {
	prompt.Request
	Mentions *bool `json:"mentions,omitempty"`
}

// AssembleResponse is the reply of POST /api/assemble
type AssembleResponse struct {
	Prompt   string              `json:"prompt"`
	Skills   []string            `json:"skills"`
	Chapters []prompt.ChapterRef `json:"chapters"`
}

// handleAssemble handles POST /api/assemble
func (s *Server) handleAssemble(w http.ResponseWriter, r *http.Request) {
	var body AssembleRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req := body.Request
	if body.Mentions == nil || *body.Mentions {
		req = s.assembler.Resolve(req)
	}

	out, err := s.assembler.Assemble(r.Context(), req)
	if err != nil {
		s.writeLookupError(r.Context(), w, err)
		return
	}

	chapters := req.Chapters
	if chapters == nil {
		chapters = []prompt.ChapterRef{}
	}
	skillNames := req.Skills
	if skillNames == nil {
		skillNames = []string{}
	}
	writeJSON(w, http.StatusOK, AssembleResponse{Prompt: out, Skills: skillNames, Chapters: chapters})
}

// writeLookupError maps not-found errors to 404 and everything else to 500
func (s *Server) writeLookupError(ctx context.Context, w http.ResponseWriter, err error) {
	if skills.IsNotFound(err) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	logger.G(ctx).WithError(err).Error("request failed")
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message, "status": status})
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Address(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.G(ctx).WithField("address", "http://"+s.config.Address()).Info("HTTP API listening")

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.Wrap(err, "HTTP server failed")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Stop closes the server immediately
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
