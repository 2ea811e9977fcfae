package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jingkaihe/skillbook/pkg/prompt"
	"github.com/jingkaihe/skillbook/pkg/references"
	"github.com/jingkaihe/skillbook/pkg/skills"
	"github.com/jingkaihe/skillbook/pkg/skills/builtin"
	"github.com/pkg/errors"
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

	s, err := NewServer(&ServerConfig{Host: "localhost", Port: 8765}, registry, loader, prompt.NewAssembler(registry, loader))
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name          string
		config        *ServerConfig
		expectedError string
	}{
		{name: "valid config", config: &ServerConfig{Host: "localhost", Port: 8765}},
		{name: "empty host", config: &ServerConfig{Host: "", Port: 8765}, expectedError: "host cannot be empty"},
		{name: "port too low", config: &ServerConfig{Host: "localhost", Port: 0}, expectedError: "port must be between 1 and 65535"},
		{name: "port too high", config: &ServerConfig{Host: "localhost", Port: 65536}, expectedError: "port must be between 1 and 65535"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err := NewServer(&ServerConfig{}, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server configuration")
}

func TestHealth(t *testing.T) {
	w := do(t, newTestServer(t), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 2, body["skills"])
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodGet, "/healthz", "")
	assert.Len(t, w.Header().Get(RequestIDHeader), 36, "generated uuid")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "caller-supplied")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "caller-supplied", rec.Header().Get(RequestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/skills", nil)
	w := httptest.NewRecorder()
	newTestServer(t).Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Body.String())
}

func TestListSkills(t *testing.T) {
	w := do(t, newTestServer(t), http.MethodGet, "/api/skills", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	var body struct {
		Skills []skills.View `json:"skills"`
		Total  int           `json:"total"`
	}
	decode(t, w, &body)
	require.Equal(t, 2, body.Total)
	assert.Equal(t, "effective-java-concurrency", body.Skills[0].Name)
	assert.Equal(t, "effective-java-core", body.Skills[1].Name)
	assert.Equal(t, 70, body.Skills[1].Items)
	assert.Equal(t, "1-65, 74-78", body.Skills[1].Scope)
	assert.Empty(t, body.Skills[1].Checklist)
}

func TestGetSkill(t *testing.T) {
	s := newTestServer(t)

	t.Run("found", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/skills/effective-java-concurrency", "")
		require.Equal(t, http.StatusOK, w.Code)

		var view skills.View
		decode(t, w, &view)
		assert.Equal(t, "effective-java-concurrency", view.Name)
		require.Len(t, view.Checklist, 8)
		assert.Equal(t, 66, view.Checklist[0].Number)
		assert.Equal(t, "10-concurrency", view.Checklist[0].Chapter)
		assert.NotEmpty(t, view.Content)
	})

	t.Run("without content", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/skills/effective-java-concurrency?content=false", "")
		var view skills.View
		decode(t, w, &view)
		assert.Empty(t, view.Content)
	})

	t.Run("not found", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/skills/effective-java-networking", "")
		assert.Equal(t, http.StatusNotFound, w.Code)

		var body map[string]any
		decode(t, w, &body)
		assert.Equal(t, "skill 'effective-java-networking' not found", body["error"])
	})
}

func TestReferences(t *testing.T) {
	s := newTestServer(t)

	t.Run("list", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/skills/effective-java-core/references", "")
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			References []references.ChapterInfo `json:"references"`
			Total      int                      `json:"total"`
		}
		decode(t, w, &body)
		assert.Equal(t, 9, body.Total)
		assert.Equal(t, "02-creating-destroying-objects", body.References[0].ID)
	})

	t.Run("json", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/skills/effective-java-core/references/07-methods", "")
		require.Equal(t, http.StatusOK, w.Code)

		var chapter ChapterResponse
		decode(t, w, &chapter)
		assert.Equal(t, "07-methods", chapter.ID)
		assert.Equal(t, 7, chapter.Number)
		assert.Contains(t, chapter.Content, "39.")
	})

	t.Run("raw", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/skills/effective-java-core/references/7?format=raw", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/markdown; charset=utf-8", w.Header().Get("Content-Type"))
		assert.True(t, strings.HasPrefix(w.Body.String(), "# Chapter 7: Methods"))
	})

	t.Run("unknown chapter", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/skills/effective-java-core/references/10-concurrency", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("blank chapter", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/skills/effective-java-core/references/%20", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "reference ' ' not found for skill 'effective-java-core'")

		w = do(t, s, http.MethodPost, "/api/assemble",
			`{"request": "Review", "chapters": [{"skill": "effective-java-core", "chapter": ""}]}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "reference '' not found for skill 'effective-java-core'")
	})

	t.Run("unknown skill", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/skills/nope/references", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAssemble(t *testing.T) {
	s := newTestServer(t)

	t.Run("explicit and mentioned skills", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/api/assemble", `{
			"request": "Review with $effective-java-concurrency",
			"skills": ["effective-java-core"],
			"chapters": [{"skill": "effective-java-core", "chapter": "07-methods"}]
		}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp AssembleResponse
		decode(t, w, &resp)
		assert.Equal(t, []string{"effective-java-core", "effective-java-concurrency"}, resp.Skills)
		assert.True(t, strings.HasPrefix(resp.Prompt, "Review with $effective-java-concurrency"+prompt.Separator))
		assert.Contains(t, resp.Prompt, "# Reference: effective-java-core/07-methods")
	})

	t.Run("mentions disabled", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/api/assemble", `{"request": "$effective-java-core", "mentions": false}`)
		require.Equal(t, http.StatusOK, w.Code)

		var resp AssembleResponse
		decode(t, w, &resp)
		assert.Empty(t, resp.Skills)
		assert.Equal(t, "$effective-java-core\n", resp.Prompt)
	})

	t.Run("deterministic", func(t *testing.T) {
		body := `{"request": "x", "skills": ["effective-java-core", "effective-java-concurrency"]}`
		first := do(t, s, http.MethodPost, "/api/assemble", body).Body.String()
		second := do(t, s, http.MethodPost, "/api/assemble", body).Body.String()
		assert.Equal(t, first, second)
	})

	t.Run("bad body", func(t *testing.T) {
		for _, body := range []string{`{`, `{"unknown": 1}`, `{"skills": "not-a-list"}`} {
			w := do(t, s, http.MethodPost, "/api/assemble", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, body)
		}
	})

	t.Run("unknown skill", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/api/assemble", `{"request": "x", "skills": ["effective-java-networking"]}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

type failingRefs struct{ ReferenceSource }

func (failingRefs) List(context.Context, string) ([]references.ChapterInfo, error) {
	return nil, errors.New("disk on fire")
}

func TestInternalErrorsAreHidden(t *testing.T) {
	s := newTestServer(t)
	s.refs = failingRefs{}

	w := do(t, s, http.MethodGet, "/api/skills/effective-java-core/references", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk on fire")
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/nothing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodDelete, "/api/skills/effective-java-core"},
		{http.MethodPost, "/api/skills"},
		{http.MethodPut, "/api/skills/effective-java-core/references/07-methods"},
		{http.MethodGet, "/api/assemble"},
		{http.MethodPost, "/healthz"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := do(t, s, tt.method, tt.path, "")
			assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
			assert.Contains(t, w.Body.String(), "method not allowed")
		})
	}
}

func TestStartAndShutdown(t *testing.T) {
	discovery, err := skills.NewDiscovery(skills.WithSkillDirs(), skills.WithBuiltin(builtin.FS))
	require.NoError(t, err)
	registry, err := skills.NewRegistry(context.Background(), discovery)
	require.NoError(t, err)
	loader := references.NewLoader(registry)

	listener := httptest.NewServer(http.NotFoundHandler())
	addr := listener.Listener.Addr().String()
	listener.Close()
	_, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	s, err := NewServer(&ServerConfig{Host: "127.0.0.1", Port: port}, registry, loader, prompt.NewAssembler(registry, loader))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
