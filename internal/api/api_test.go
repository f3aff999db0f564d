package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/codelive/internal/api"
	"github.com/victornm/codelive/internal/domain"
	"github.com/victornm/codelive/internal/event"
	"github.com/victornm/codelive/internal/execution"
	"github.com/victornm/codelive/internal/session"
	"github.com/victornm/codelive/internal/session/sessiontest"
	"github.com/victornm/codelive/internal/ws"
)

type stubEngine struct {
	result domain.ExecutionResult
}

func (e *stubEngine) Execute(context.Context, string, domain.ExecutionSettings) (*domain.ExecutionResult, error) {
	r := e.result
	return &r, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *sessiontest.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := sessiontest.NewStore()
	store.SeedSection(&domain.Section{
		ID:            "sec-1",
		NamespaceID:   "ns-1",
		Name:          "CS 101",
		InstructorIDs: []string{"inst-1"},
	})
	store.SeedProblem(&domain.Problem{
		ID:       "prob-1",
		AuthorID: "inst-1",
		Title:    "FizzBuzz",
	})

	eb := event.NewBus()
	engine := &stubEngine{result: domain.ExecutionResult{
		Success:       true,
		Output:        "fizz",
		ExecutionTime: 40 * time.Millisecond,
	}}

	r := gin.New()
	api.New(api.Config{
		Router:    r,
		Session:   session.NewService(session.Config{Store: store, EventBus: eb}),
		Execution: execution.NewService(execution.Config{Store: store, Engine: engine, EventBus: eb}),
		Registry:  ws.NewRegistry(),
	})

	return r, store
}

func do(t *testing.T, r *gin.Engine, method, path, userID, role, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Namespace-Id", "ns-1")
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	if role != "" {
		req.Header.Set("X-User-Role", role)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	return m
}

func TestAPI_SessionLifecycle(t *testing.T) {
	r, _ := newTestRouter(t)

	// Create.
	w := do(t, r, http.MethodPost, "/v1/sessions", "inst-1", "instructor",
		`{"sectionId":"sec-1","problemId":"prob-1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	created := decodeBody(t, w)
	sessionID := created["id"].(string)
	joinCode := created["joinCode"].(string)
	require.NotEmpty(t, sessionID)
	require.Len(t, joinCode, 6)
	assert.Equal(t, "active", created["status"])
	assert.Equal(t, "CS 101", created["sectionName"])

	// Join.
	w = do(t, r, http.MethodPost, "/v1/sessions/join", "stu-1", "student",
		`{"joinCode":"`+joinCode+`","displayName":"Ada"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Submit.
	w = do(t, r, http.MethodPost, "/v1/sessions/"+sessionID+"/code", "stu-1", "student",
		`{"studentId":"stu-1","code":"print(1)"}`)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	// Execute.
	w = do(t, r, http.MethodPost, "/v1/sessions/"+sessionID+"/execute", "stu-1", "student",
		`{"studentId":"stu-1","code":"print(1)"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decodeBody(t, w)
	assert.Equal(t, true, result["success"])
	assert.Equal(t, "fizz", result["output"])
	assert.Equal(t, float64(40), result["executionTime"])

	// Snapshot for polling clients.
	w = do(t, r, http.MethodGet, "/v1/sessions/"+sessionID, "stu-1", "student", "")
	require.Equal(t, http.StatusOK, w.Code)
	snapshot := decodeBody(t, w)
	students := snapshot["students"].(map[string]any)
	require.Contains(t, students, "stu-1")
	assert.Equal(t, "print(1)", students["stu-1"].(map[string]any)["code"])

	// End.
	w = do(t, r, http.MethodPost, "/v1/sessions/"+sessionID+"/end", "inst-1", "instructor", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	// Execution is refused once the session is completed.
	w = do(t, r, http.MethodPost, "/v1/sessions/"+sessionID+"/execute", "stu-1", "student",
		`{"studentId":"stu-1","code":"print(1)"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_ErrorMapping(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := map[string]struct {
		method, path, userID, role, body string
		wantStatus                       int
	}{
		"unknown session is 404": {
			http.MethodGet, "/v1/sessions/nope", "stu-1", "student", "",
			http.StatusNotFound,
		},
		"non-instructor create is 403": {
			http.MethodPost, "/v1/sessions", "stu-1", "student", `{"sectionId":"sec-1"}`,
			http.StatusForbidden,
		},
		"missing body field is 400": {
			http.MethodPost, "/v1/sessions", "inst-1", "instructor", `{}`,
			http.StatusBadRequest,
		},
		"problem change needs a problem": {
			http.MethodPost, "/v1/sessions/nope/problem", "inst-1", "instructor", `{}`,
			http.StatusBadRequest,
		},
		"unknown join code is 404": {
			http.MethodPost, "/v1/sessions/join", "stu-1", "student", `{"joinCode":"ZZZZZZ"}`,
			http.StatusNotFound,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			w := do(t, r, tt.method, tt.path, tt.userID, tt.role, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			body := decodeBody(t, w)
			assert.NotEmpty(t, body["error"])
			assert.NotZero(t, body["code"])
		})
	}
}

func TestAPI_ChangeProblem(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/v1/sessions", "inst-1", "instructor", `{"sectionId":"sec-1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	sessionID := decodeBody(t, w)["id"].(string)

	// Load a stored problem by id.
	w = do(t, r, http.MethodPost, "/v1/sessions/"+sessionID+"/problem", "inst-1", "instructor",
		`{"problemId":"prob-1"}`)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	// Inline edit with settings.
	w = do(t, r, http.MethodPost, "/v1/sessions/"+sessionID+"/problem", "inst-1", "instructor",
		`{"problem":{"id":"prob-1","authorId":"inst-1","title":"FizzBuzz v2","description":"D"},"executionSettings":{"stdin":"15\n"}}`)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = do(t, r, http.MethodGet, "/v1/sessions/"+sessionID, "inst-1", "instructor", "")
	require.Equal(t, http.StatusOK, w.Code)
	snapshot := decodeBody(t, w)
	problem := snapshot["problem"].(map[string]any)
	assert.Equal(t, "FizzBuzz v2", problem["title"])
	settings := snapshot["executionSettings"].(map[string]any)
	assert.Equal(t, "15\n", settings["stdin"])
}

func TestAPI_Revisions(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/v1/sessions", "inst-1", "instructor", `{"sectionId":"sec-1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	created := decodeBody(t, w)
	sessionID := created["id"].(string)
	joinCode := created["joinCode"].(string)

	w = do(t, r, http.MethodPost, "/v1/sessions/join", "stu-1", "student",
		`{"joinCode":"`+joinCode+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	for _, code := range []string{"v1", "v2"} {
		w = do(t, r, http.MethodPost, "/v1/sessions/"+sessionID+"/code", "stu-1", "student",
			`{"studentId":"stu-1","code":"`+code+`"}`)
		require.Equal(t, http.StatusNoContent, w.Code)
	}

	w = do(t, r, http.MethodGet, "/v1/sessions/"+sessionID+"/revisions/stu-1", "inst-1", "instructor", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	revisions := body["revisions"].([]any)
	require.Len(t, revisions, 2)
	assert.Equal(t, "v1", revisions[0].(map[string]any)["code"])
	assert.Equal(t, "v2", revisions[1].(map[string]any)["code"])
}
