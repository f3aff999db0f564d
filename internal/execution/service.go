// Package execution gates every code-execution request: it authorizes the
// caller against the session, resolves the effective execution settings, and
// forwards code to the external engine. It never interprets engine results.
package execution

import (
	"context"
	"time"

	"github.com/victornm/codelive/internal/domain"
	"github.com/victornm/codelive/internal/errors"
	"github.com/victornm/codelive/internal/event"
	"github.com/victornm/codelive/internal/session"
)

// Engine is the external sandboxed execution collaborator. It enforces its
// own execution timeout; this package imposes none beyond ctx.
type Engine interface {
	Execute(ctx context.Context, code string, settings domain.ExecutionSettings) (*domain.ExecutionResult, error)
}

type Config struct {
	Store    session.Store
	Engine   Engine
	EventBus *event.Bus
}

type Service struct {
	store  session.Store
	engine Engine
	eb     *event.Bus
}

func NewService(c Config) *Service {
	return &Service{
		store:  c.Store,
		engine: c.Engine,
		eb:     c.EventBus,
	}
}

// Authorize decides whether callerID may execute code on behalf of studentID
// inside the session. Checks run in a fixed order so failures attribute
// cleanly:
//
//  1. the session must not be completed,
//  2. the caller must be the creator or a participant,
//  3. acting for another student requires an elevated role; a participant
//     who is also a student never executes on another student's behalf.
func Authorize(ss *domain.Session, callerID string, role domain.Role, studentID string) error {
	if ss.Status == domain.StatusCompleted {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session %s is completed", ss.ID))
	}

	if !ss.IsParticipant(callerID) {
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("user %s is not a participant of session %s", callerID, ss.ID))
	}

	if studentID != callerID && !role.Elevated() {
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("can only execute your own code"))
	}

	return nil
}

// ResolveSettings computes the effective execution settings. Precedence is a
// whole-object chain, lowest to highest: problem default, per-student
// override, request payload. A provided payload supersedes everything even
// when only partially filled; absent all three, the zero settings apply.
func ResolveSettings(problem, student, payload *domain.ExecutionSettings) domain.ExecutionSettings {
	switch {
	case payload != nil:
		return *payload
	case student != nil:
		return *student
	case problem != nil:
		return *problem
	default:
		return domain.ExecutionSettings{}
	}
}

type ExecuteCodeRequest struct {
	SessionID  string
	CallerID   string
	CallerRole domain.Role
	StudentID  string
	Code       string
	// Settings, when non-nil, overrides stored settings for this run only.
	Settings *domain.ExecutionSettings
}

// ExecuteCode authorizes the request, resolves settings and runs the code on
// the engine. The raw result is returned to the caller unchanged and, when
// the student is featured, broadcast to the public view.
func (s *Service) ExecuteCode(ctx context.Context, req ExecuteCodeRequest) (*domain.ExecutionResult, error) {
	if req.StudentID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("studentId is required"))
	}
	if req.Code == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("code is required"))
	}

	ss, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	if err := Authorize(ss, req.CallerID, req.CallerRole, req.StudentID); err != nil {
		return nil, err
	}

	var problemSettings, studentSettings *domain.ExecutionSettings
	if ss.Problem != nil {
		problemSettings = ss.Problem.ExecutionSettings
	}
	if st, ok := ss.Students[req.StudentID]; ok {
		studentSettings = st.ExecutionSettings
	}
	settings := ResolveSettings(problemSettings, studentSettings, req.Settings)

	result, err := s.engine.Execute(ctx, req.Code, settings)
	if err != nil {
		return nil, errors.New(errors.CodeInternal,
			errors.WithMessagef("execution engine failed"),
			errors.WithCause(err))
	}

	ss.LastActivity = time.Now()
	if err := s.store.SaveSession(ctx, ss); err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventExecutionFinished{
		SessionID: ss.ID,
		StudentID: req.StudentID,
		Featured:  ss.FeaturedStudentID == req.StudentID,
		Result:    *result,
		Timestamp: time.Now(),
	})

	return result, nil
}

// ExecutePublic runs code on behalf of a public-display client. The display
// is unauthenticated by design and may only run the code it is showing, so
// there is no caller check; the session-closed rule still applies and
// settings resolve from the featured student and the problem.
func (s *Service) ExecutePublic(ctx context.Context, sessionID, code string) (*domain.ExecutionResult, error) {
	if code == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("code is required"))
	}

	ss, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if ss.Status == domain.StatusCompleted {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session %s is completed", ss.ID))
	}

	var problemSettings, studentSettings *domain.ExecutionSettings
	if ss.Problem != nil {
		problemSettings = ss.Problem.ExecutionSettings
	}
	if st, ok := ss.Students[ss.FeaturedStudentID]; ok {
		studentSettings = st.ExecutionSettings
	}
	settings := ResolveSettings(problemSettings, studentSettings, nil)

	result, err := s.engine.Execute(ctx, code, settings)
	if err != nil {
		return nil, errors.New(errors.CodeInternal,
			errors.WithMessagef("execution engine failed"),
			errors.WithCause(err))
	}

	return result, nil
}
