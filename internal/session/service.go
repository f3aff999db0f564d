package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/codelive/internal/domain"
	"github.com/victornm/codelive/internal/errors"
	"github.com/victornm/codelive/internal/event"
)

// joinCodeAttempts bounds retries when a freshly generated join code collides
// with another active session's code.
const joinCodeAttempts = 5

type Config struct {
	Store    Store
	EventBus *event.Bus
}

// Service owns the session lifecycle: creation, roster, problem changes and
// completion. Every mutation goes through the Store as a whole-session write
// and bumps LastActivity.
type Service struct {
	store Store
	eb    *event.Bus
}

func NewService(c Config) *Service {
	return &Service{
		store: c.Store,
		eb:    c.EventBus,
	}
}

type CreateSessionRequest struct {
	NamespaceID string
	SectionID   string
	CreatorID   string
	// ProblemID optionally loads a problem at creation. The creator must be
	// its author.
	ProblemID string
}

// CreateSession creates a new active session for a section. The caller must
// be an instructor of the section.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.Session, error) {
	section, err := s.store.GetSection(ctx, req.SectionID)
	if err != nil {
		return nil, err
	}

	if !section.HasInstructor(req.CreatorID) {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("user %s is not an instructor of section %s", req.CreatorID, req.SectionID))
	}

	var problem *domain.Problem
	if req.ProblemID != "" {
		problem, err = s.store.GetProblem(ctx, req.ProblemID)
		if err != nil {
			return nil, err
		}
		if err := canEditProblem(req.CreatorID, problem); err != nil {
			return nil, err
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	now := time.Now()
	ss := &domain.Session{
		ID:           id.String(),
		NamespaceID:  req.NamespaceID,
		CreatorID:    req.CreatorID,
		SectionID:    section.ID,
		SectionName:  section.Name,
		Problem:      problem,
		Participants: []string{},
		Students:     make(map[string]*domain.StudentState),
		Status:       domain.StatusActive,
		CreatedAt:    now,
		LastActivity: now,
	}

	// Join codes are only unique among active sessions, so a collision is
	// rare; regenerate instead of failing the request.
	for attempt := 0; ; attempt++ {
		ss.JoinCode, err = newJoinCode()
		if err != nil {
			return nil, err
		}

		err = s.store.SaveSession(ctx, ss)
		if err == nil {
			return ss, nil
		}
		if !errors.IsCode(err, errors.CodeAlreadyExists) || attempt == joinCodeAttempts-1 {
			return nil, err
		}
	}
}

type JoinSessionRequest struct {
	NamespaceID string
	JoinCode    string
	StudentID   string
	DisplayName string
}

// JoinSession attaches a student to the active session holding the join code.
func (s *Service) JoinSession(ctx context.Context, req JoinSessionRequest) (*domain.Session, error) {
	if req.StudentID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("studentId is required"))
	}

	ss, err := s.store.FindSessionByJoinCode(ctx, req.NamespaceID, req.JoinCode)
	if err != nil {
		return nil, err
	}

	AddStudent(ss, req.StudentID, req.DisplayName)
	if err := s.save(ctx, ss); err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventStudentJoined{
		SessionID:   ss.ID,
		StudentID:   req.StudentID,
		DisplayName: req.DisplayName,
	})

	return ss, nil
}

// AddStudent inserts or refreshes the roster entry for a student. Existing
// code is preserved on rejoin. Used on organic joins and when constructing a
// practice session.
func AddStudent(ss *domain.Session, studentID, displayName string) {
	st, ok := ss.Students[studentID]
	if !ok {
		st = &domain.StudentState{}
		ss.Students[studentID] = st
	}
	st.DisplayName = displayName
	st.LastActivity = time.Now()

	if !ss.IsParticipant(studentID) {
		ss.Participants = append(ss.Participants, studentID)
	}
}

type LoadProblemRequest struct {
	SessionID string
	ProblemID string
	CallerID  string
}

// LoadProblem replaces the session's problem with a stored one and
// broadcasts the change.
func (s *Service) LoadProblem(ctx context.Context, req LoadProblemRequest) error {
	ss, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return err
	}

	problem, err := s.store.GetProblem(ctx, req.ProblemID)
	if err != nil {
		return err
	}

	if err := canEditProblem(req.CallerID, problem); err != nil {
		return err
	}

	ss.Problem = problem
	if err := s.save(ctx, ss); err != nil {
		return err
	}

	s.publishProblemUpdated(ctx, ss)
	return nil
}

type UpdateProblemRequest struct {
	SessionID string
	Problem   domain.Problem
	// ExecutionSettings, when non-nil, replaces the problem's default
	// settings alongside the edit.
	ExecutionSettings *domain.ExecutionSettings
	CallerID          string
	CallerRole        domain.Role
}

// UpdateProblem replaces the session's problem with an inline edited one.
// When the session already carries a problem the caller must own it, as in
// LoadProblem. When none is loaded yet the caller must be the session
// creator or hold an elevated role; the payload's author field is
// caller-supplied and never trusted for authorization.
func (s *Service) UpdateProblem(ctx context.Context, req UpdateProblemRequest) error {
	ss, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return err
	}

	if ss.Problem != nil {
		if err := canEditProblem(req.CallerID, ss.Problem); err != nil {
			return err
		}
	} else if req.CallerID != ss.CreatorID && !req.CallerRole.Elevated() {
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("only the session creator can set the problem"))
	}

	problem := req.Problem
	if req.ExecutionSettings != nil {
		problem.ExecutionSettings = req.ExecutionSettings
	}

	ss.Problem = &problem
	if err := s.save(ctx, ss); err != nil {
		return err
	}

	s.publishProblemUpdated(ctx, ss)
	return nil
}

// canEditProblem is a strict author check. TODO: decide whether section
// co-instructors should be entitled to problems loaded into a shared section.
func canEditProblem(callerID string, p *domain.Problem) error {
	if p.AuthorID != callerID {
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("user %s does not own problem %s", callerID, p.ID))
	}
	return nil
}

// EndSession completes the session. Idempotent: ending a completed session is
// a no-op and publishes nothing.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	ss, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if ss.Status == domain.StatusCompleted {
		return nil
	}

	ss.Status = domain.StatusCompleted
	if err := s.save(ctx, ss); err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventSessionEnded{Session: *ss})
	return nil
}

type SubmitCodeRequest struct {
	SessionID  string
	CallerID   string
	CallerRole domain.Role
	StudentID  string
	Code       string
}

// SubmitCode records a student's latest code. Last write wins per student;
// concurrent edits are not merged. Every submission is also appended to the
// revision history.
func (s *Service) SubmitCode(ctx context.Context, req SubmitCodeRequest) error {
	if req.StudentID == "" {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("studentId is required"))
	}

	ss, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return err
	}

	if !ss.IsParticipant(req.CallerID) {
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("user %s is not a participant of session %s", req.CallerID, ss.ID))
	}
	if req.StudentID != req.CallerID && req.CallerID != ss.CreatorID && !req.CallerRole.Elevated() {
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("can only submit your own code"))
	}

	now := time.Now()
	st, ok := ss.Students[req.StudentID]
	if !ok {
		st = &domain.StudentState{}
		ss.Students[req.StudentID] = st
		if !ss.IsParticipant(req.StudentID) {
			ss.Participants = append(ss.Participants, req.StudentID)
		}
	}
	st.Code = req.Code
	st.LastActivity = now

	if err := s.save(ctx, ss); err != nil {
		return err
	}

	if err := s.store.AppendRevision(ctx, domain.Revision{
		SessionID: ss.ID,
		StudentID: req.StudentID,
		Code:      req.Code,
		CreatedAt: now,
	}); err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventCodeEdited{
		SessionID: ss.ID,
		StudentID: req.StudentID,
		Code:      req.Code,
		Featured:  ss.FeaturedStudentID == req.StudentID,
		Timestamp: now,
	})

	return nil
}

type FeatureStudentRequest struct {
	SessionID  string
	CallerID   string
	CallerRole domain.Role
	// StudentID selects the submission to show on the public view. Empty
	// clears the featured submission.
	StudentID string
}

// FeatureStudent selects whose submission the public view displays.
func (s *Service) FeatureStudent(ctx context.Context, req FeatureStudentRequest) error {
	ss, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return err
	}

	if req.CallerID != ss.CreatorID && !req.CallerRole.Elevated() {
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("only instructors can feature a submission"))
	}

	var code string
	if req.StudentID != "" {
		st, ok := ss.Students[req.StudentID]
		if !ok {
			return errors.New(errors.CodeNotFound,
				errors.WithMessagef("student %s not found in session %s", req.StudentID, ss.ID))
		}
		code = st.Code
	}

	ss.FeaturedStudentID = req.StudentID
	if err := s.save(ctx, ss); err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventSubmissionFeatured{
		SessionID: ss.ID,
		StudentID: req.StudentID,
		Code:      code,
		Featured:  req.StudentID != "",
		Timestamp: time.Now(),
	})

	return nil
}

type CreatePracticeSessionRequest struct {
	NamespaceID string
	SectionID   string
	ProblemID   string
	StudentID   string
	DisplayName string
}

// CreatePracticeSession enrolls a student into a completed session carrying
// the problem, creating one (and completing it immediately) when none
// exists. Practice attempts must never land in a live session's roster, so
// practice always targets a completed session.
func (s *Service) CreatePracticeSession(ctx context.Context, req CreatePracticeSessionRequest) (*domain.Session, error) {
	if req.StudentID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("studentId is required"))
	}

	completed := false
	existing, err := s.store.ListSessions(ctx, Filter{
		NamespaceID: req.NamespaceID,
		SectionID:   req.SectionID,
		Active:      &completed,
	})
	if err != nil {
		return nil, err
	}

	var target *domain.Session
	for _, ss := range existing {
		if ss.Problem == nil || ss.Problem.ID != req.ProblemID {
			continue
		}
		if target == nil || ss.CreatedAt.After(target.CreatedAt) {
			target = ss
		}
	}

	if target == nil {
		target, err = s.newPracticeSession(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	AddStudent(target, req.StudentID, req.DisplayName)
	if err := s.save(ctx, target); err != nil {
		return nil, err
	}

	return target, nil
}

// newPracticeSession builds a synthetic session that is completed before it
// is ever saved, so it can never show up as live.
func (s *Service) newPracticeSession(ctx context.Context, req CreatePracticeSessionRequest) (*domain.Session, error) {
	problem, err := s.store.GetProblem(ctx, req.ProblemID)
	if err != nil {
		return nil, err
	}

	section, err := s.store.GetSection(ctx, req.SectionID)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	code, err := newJoinCode()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &domain.Session{
		ID:           id.String(),
		NamespaceID:  req.NamespaceID,
		CreatorID:    problem.AuthorID,
		SectionID:    section.ID,
		SectionName:  section.Name,
		JoinCode:     code,
		Problem:      problem,
		Participants: []string{},
		Students:     make(map[string]*domain.StudentState),
		Status:       domain.StatusCompleted,
		CreatedAt:    now,
		LastActivity: now,
	}, nil
}

// ListRevisions returns a student's submission history within a session.
func (s *Service) ListRevisions(ctx context.Context, sessionID, studentID string) ([]domain.Revision, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	return s.store.ListRevisions(ctx, sessionID, studentID)
}

// GetSession exposes the session for read-only callers such as the polling
// fallback.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

func (s *Service) save(ctx context.Context, ss *domain.Session) error {
	ss.LastActivity = time.Now()
	return s.store.SaveSession(ctx, ss)
}

func (s *Service) publishProblemUpdated(ctx context.Context, ss *domain.Session) {
	s.eb.Publish(ctx, domain.EventProblemUpdated{
		SessionID:         ss.ID,
		Problem:           *ss.Problem,
		ExecutionSettings: ss.Problem.ExecutionSettings,
		Timestamp:         time.Now(),
	})
}
