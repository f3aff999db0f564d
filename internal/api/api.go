// Package api exposes the request surface consumed by the surrounding CRUD
// layer, plus the websocket endpoint public displays connect to. Handlers
// are thin: decode, delegate to a service, map errors.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/victornm/codelive/internal/domain"
	"github.com/victornm/codelive/internal/errors"
	"github.com/victornm/codelive/internal/execution"
	"github.com/victornm/codelive/internal/session"
	"github.com/victornm/codelive/internal/ws"
)

// Identity headers set by the auth layer in front of this service.
const (
	headerUserID    = "X-User-Id"
	headerUserRole  = "X-User-Role"
	headerNamespace = "X-Namespace-Id"
)

type Config struct {
	Router    gin.IRouter
	Session   *session.Service
	Execution *execution.Service
	Registry  *ws.Registry
}

type API struct {
	session   *session.Service
	execution *execution.Service
	registry  *ws.Registry
}

func New(c Config) *API {
	a := &API{
		session:   c.Session,
		execution: c.Execution,
		registry:  c.Registry,
	}

	v1 := c.Router.Group("/v1")
	v1.POST("/sessions", a.createSession)
	v1.POST("/sessions/join", a.joinSession)
	v1.POST("/sessions/practice", a.createPracticeSession)
	v1.GET("/sessions/:id", a.getSession)
	v1.POST("/sessions/:id/end", a.endSession)
	v1.POST("/sessions/:id/problem", a.changeProblem)
	v1.POST("/sessions/:id/code", a.submitCode)
	v1.POST("/sessions/:id/execute", a.executeCode)
	v1.POST("/sessions/:id/feature", a.featureStudent)
	v1.GET("/sessions/:id/revisions/:studentId", a.listRevisions)
	v1.GET("/ws", a.serveWS)

	return a
}

func abortWithError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{
		"code":  uint32(e.Code),
		"error": e.Message,
	})
}

func caller(c *gin.Context) (id string, role domain.Role) {
	return c.GetHeader(headerUserID), domain.Role(c.GetHeader(headerUserRole))
}

type createSessionRequest struct {
	SectionID string `json:"sectionId" binding:"required"`
	ProblemID string `json:"problemId"`
}

func (a *API) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	callerID, _ := caller(c)
	ss, err := a.session.CreateSession(c.Request.Context(), session.CreateSessionRequest{
		NamespaceID: c.GetHeader(headerNamespace),
		SectionID:   req.SectionID,
		CreatorID:   callerID,
		ProblemID:   req.ProblemID,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionResponse(ss))
}

type joinSessionRequest struct {
	JoinCode    string `json:"joinCode" binding:"required"`
	DisplayName string `json:"displayName"`
}

func (a *API) joinSession(c *gin.Context) {
	var req joinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	callerID, _ := caller(c)
	ss, err := a.session.JoinSession(c.Request.Context(), session.JoinSessionRequest{
		NamespaceID: c.GetHeader(headerNamespace),
		JoinCode:    req.JoinCode,
		StudentID:   callerID,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionResponse(ss))
}

type practiceSessionRequest struct {
	SectionID   string `json:"sectionId" binding:"required"`
	ProblemID   string `json:"problemId" binding:"required"`
	DisplayName string `json:"displayName"`
}

func (a *API) createPracticeSession(c *gin.Context) {
	var req practiceSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	callerID, _ := caller(c)
	ss, err := a.session.CreatePracticeSession(c.Request.Context(), session.CreatePracticeSessionRequest{
		NamespaceID: c.GetHeader(headerNamespace),
		SectionID:   req.SectionID,
		ProblemID:   req.ProblemID,
		StudentID:   callerID,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionResponse(ss))
}

// getSession backs the polling fallback: a full snapshot for clients whose
// channel is down.
func (a *API) getSession(c *gin.Context) {
	ss, err := a.session.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionResponse(ss))
}

func (a *API) endSession(c *gin.Context) {
	if err := a.session.EndSession(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type changeProblemRequest struct {
	// ProblemID loads a stored problem; Problem carries an inline edit.
	// Exactly one of the two should be set.
	ProblemID string          `json:"problemId"`
	Problem   *problemPayload `json:"problem"`

	ExecutionSettings *domain.ExecutionSettings `json:"executionSettings"`
}

type problemPayload struct {
	ID          string `json:"id"`
	AuthorID    string `json:"authorId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	StarterCode string `json:"starterCode"`
}

func (a *API) changeProblem(c *gin.Context) {
	var req changeProblemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	callerID, role := caller(c)
	ctx := c.Request.Context()

	var err error
	switch {
	case req.ProblemID != "":
		err = a.session.LoadProblem(ctx, session.LoadProblemRequest{
			SessionID: c.Param("id"),
			ProblemID: req.ProblemID,
			CallerID:  callerID,
		})

	case req.Problem != nil:
		err = a.session.UpdateProblem(ctx, session.UpdateProblemRequest{
			SessionID: c.Param("id"),
			Problem: domain.Problem{
				ID:          req.Problem.ID,
				AuthorID:    req.Problem.AuthorID,
				Title:       req.Problem.Title,
				Description: req.Problem.Description,
				StarterCode: req.Problem.StarterCode,
			},
			ExecutionSettings: req.ExecutionSettings,
			CallerID:          callerID,
			CallerRole:        role,
		})

	default:
		err = errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("either problemId or problem is required"))
	}
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type submitCodeRequest struct {
	StudentID string `json:"studentId" binding:"required"`
	Code      string `json:"code"`
}

func (a *API) submitCode(c *gin.Context) {
	var req submitCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	callerID, role := caller(c)
	err := a.session.SubmitCode(c.Request.Context(), session.SubmitCodeRequest{
		SessionID:  c.Param("id"),
		CallerID:   callerID,
		CallerRole: role,
		StudentID:  req.StudentID,
		Code:       req.Code,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type executeCodeRequest struct {
	StudentID string                    `json:"studentId" binding:"required"`
	Code      string                    `json:"code" binding:"required"`
	Settings  *domain.ExecutionSettings `json:"executionSettings"`
}

type executeCodeResponse struct {
	Success       bool   `json:"success"`
	Output        string `json:"output"`
	Error         string `json:"error,omitempty"`
	ExecutionTime int64  `json:"executionTime"`
}

func (a *API) executeCode(c *gin.Context) {
	var req executeCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	callerID, role := caller(c)
	result, err := a.execution.ExecuteCode(c.Request.Context(), execution.ExecuteCodeRequest{
		SessionID:  c.Param("id"),
		CallerID:   callerID,
		CallerRole: role,
		StudentID:  req.StudentID,
		Code:       req.Code,
		Settings:   req.Settings,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, executeCodeResponse{
		Success:       result.Success,
		Output:        result.Output,
		Error:         result.Error,
		ExecutionTime: result.ExecutionTime.Milliseconds(),
	})
}

type featureStudentRequest struct {
	StudentID string `json:"studentId"`
}

func (a *API) featureStudent(c *gin.Context) {
	var req featureStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	callerID, role := caller(c)
	err := a.session.FeatureStudent(c.Request.Context(), session.FeatureStudentRequest{
		SessionID:  c.Param("id"),
		CallerID:   callerID,
		CallerRole: role,
		StudentID:  req.StudentID,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type revisionResponse struct {
	Code      string `json:"code"`
	CreatedAt int64  `json:"createdAt"`
}

func (a *API) listRevisions(c *gin.Context) {
	revisions, err := a.session.ListRevisions(c.Request.Context(), c.Param("id"), c.Param("studentId"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := make([]revisionResponse, 0, len(revisions))
	for _, r := range revisions {
		resp = append(resp, revisionResponse{
			Code:      r.Code,
			CreatedAt: r.CreatedAt.UnixMilli(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"revisions": resp})
}

type sessionView struct {
	ID                string                    `json:"id"`
	SectionID         string                    `json:"sectionId"`
	SectionName       string                    `json:"sectionName"`
	JoinCode          string                    `json:"joinCode"`
	Status            string                    `json:"status"`
	FeaturedStudentID string                    `json:"featuredStudentId,omitempty"`
	Problem           *problemPayload           `json:"problem,omitempty"`
	Students          map[string]studentView    `json:"students"`
	Settings          *domain.ExecutionSettings `json:"executionSettings,omitempty"`
	LastActivity      int64                     `json:"lastActivity"`
}

type studentView struct {
	DisplayName  string `json:"displayName"`
	Code         string `json:"code"`
	LastActivity int64  `json:"lastActivity"`
}

func sessionResponse(ss *domain.Session) sessionView {
	v := sessionView{
		ID:                ss.ID,
		SectionID:         ss.SectionID,
		SectionName:       ss.SectionName,
		JoinCode:          ss.JoinCode,
		Status:            string(ss.Status),
		FeaturedStudentID: ss.FeaturedStudentID,
		Students:          make(map[string]studentView, len(ss.Students)),
		LastActivity:      ss.LastActivity.UnixMilli(),
	}

	if ss.Problem != nil {
		v.Problem = &problemPayload{
			ID:          ss.Problem.ID,
			AuthorID:    ss.Problem.AuthorID,
			Title:       ss.Problem.Title,
			Description: ss.Problem.Description,
			StarterCode: ss.Problem.StarterCode,
		}
		v.Settings = ss.Problem.ExecutionSettings
	}

	for id, st := range ss.Students {
		v.Students[id] = studentView{
			DisplayName:  st.DisplayName,
			Code:         st.Code,
			LastActivity: st.LastActivity.UnixMilli(),
		}
	}

	return v
}
