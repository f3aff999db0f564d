package execution_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/codelive/internal/domain"
	"github.com/victornm/codelive/internal/errors"
	"github.com/victornm/codelive/internal/event"
	"github.com/victornm/codelive/internal/execution"
	"github.com/victornm/codelive/internal/session/sessiontest"
)

// fakeEngine records every call so tests can prove the engine was or was not
// reached.
type fakeEngine struct {
	mu     sync.Mutex
	calls  []engineCall
	result *domain.ExecutionResult
	err    error
}

type engineCall struct {
	code     string
	settings domain.ExecutionSettings
}

func (e *fakeEngine) Execute(_ context.Context, code string, settings domain.ExecutionSettings) (*domain.ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, engineCall{code: code, settings: settings})
	if e.err != nil {
		return nil, e.err
	}
	if e.result != nil {
		return e.result, nil
	}
	return &domain.ExecutionResult{Success: true, Output: "ok"}, nil
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *fakeEngine) lastCall() engineCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[len(e.calls)-1]
}

func seedSession(store *sessiontest.Store, mutate func(*domain.Session)) *domain.Session {
	ss := &domain.Session{
		ID:           "sess-1",
		NamespaceID:  "ns-1",
		CreatorID:    "inst-1",
		SectionID:    "sec-1",
		JoinCode:     "ABC234",
		Participants: []string{"stu-1", "stu-2"},
		Students: map[string]*domain.StudentState{
			"stu-1": {DisplayName: "Ada", Code: "print(1)"},
			"stu-2": {DisplayName: "Grace", Code: "print(2)"},
		},
		Status:    domain.StatusActive,
		CreatedAt: time.Now(),
	}
	if mutate != nil {
		mutate(ss)
	}
	store.SeedSession(ss)
	return ss
}

func TestAuthorize(t *testing.T) {
	base := func() *domain.Session {
		return &domain.Session{
			ID:           "sess-1",
			CreatorID:    "inst-1",
			Participants: []string{"stu-1", "stu-2"},
			Status:       domain.StatusActive,
		}
	}

	tests := map[string]struct {
		session  func() *domain.Session
		callerID string
		role     domain.Role
		student  string
		wantCode errors.Code
	}{
		"student executes own code": {
			session:  base,
			callerID: "stu-1",
			role:     domain.RoleStudent,
			student:  "stu-1",
		},
		"creator executes for a student": {
			session:  base,
			callerID: "inst-1",
			role:     domain.RoleInstructor,
			student:  "stu-1",
		},
		"completed session rejected before any other check": {
			session: func() *domain.Session {
				ss := base()
				ss.Status = domain.StatusCompleted
				return ss
			},
			callerID: "outsider",
			role:     domain.RoleStudent,
			student:  "stu-1",
			wantCode: errors.CodeFailedPrecondition,
		},
		"non-participant rejected": {
			session:  base,
			callerID: "outsider",
			role:     domain.RoleStudent,
			student:  "stu-1",
			wantCode: errors.CodePermissionDenied,
		},
		"student cannot execute another student's code": {
			session:  base,
			callerID: "stu-1",
			role:     domain.RoleStudent,
			student:  "stu-2",
			wantCode: errors.CodePermissionDenied,
		},
		"elevated role may act for another student": {
			session: func() *domain.Session {
				ss := base()
				ss.Participants = append(ss.Participants, "ta-1")
				return ss
			},
			callerID: "ta-1",
			role:     domain.RoleAdmin,
			student:  "stu-1",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := execution.Authorize(tt.session(), tt.callerID, tt.role, tt.student)
			if tt.wantCode == 0 {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.IsCode(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestResolveSettings(t *testing.T) {
	problem := &domain.ExecutionSettings{Stdin: "problem\n"}
	student := &domain.ExecutionSettings{Stdin: "student\n"}
	payload := &domain.ExecutionSettings{} // deliberately empty: still wins whole

	tests := map[string]struct {
		problem, student, payload *domain.ExecutionSettings
		want                      domain.ExecutionSettings
	}{
		"payload wins even when empty":   {problem, student, payload, domain.ExecutionSettings{}},
		"student override beats problem": {problem, student, nil, *student},
		"problem default applies":        {problem, nil, nil, *problem},
		"nothing set":                    {nil, nil, nil, domain.ExecutionSettings{}},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := execution.ResolveSettings(tt.problem, tt.student, tt.payload)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_ExecuteCode(t *testing.T) {
	setup := func(mutate func(*domain.Session)) (*execution.Service, *fakeEngine, *sessiontest.Store, *event.Bus) {
		store := sessiontest.NewStore()
		seedSession(store, mutate)
		engine := &fakeEngine{}
		eb := event.NewBus()
		svc := execution.NewService(execution.Config{
			Store:    store,
			Engine:   engine,
			EventBus: eb,
		})
		return svc, engine, store, eb
	}

	t.Run("runs with resolved settings and returns the result verbatim", func(t *testing.T) {
		svc, engine, _, _ := setup(func(ss *domain.Session) {
			ss.Problem = &domain.Problem{
				ID:                "prob-1",
				ExecutionSettings: &domain.ExecutionSettings{Stdin: "problem\n"},
			}
			ss.Students["stu-1"].ExecutionSettings = &domain.ExecutionSettings{Stdin: "student\n"}
		})
		engine.result = &domain.ExecutionResult{
			Success:       false,
			Output:        "partial",
			Error:         "NameError: x",
			ExecutionTime: 120 * time.Millisecond,
		}

		got, err := svc.ExecuteCode(context.Background(), execution.ExecuteCodeRequest{
			SessionID:  "sess-1",
			CallerID:   "stu-1",
			CallerRole: domain.RoleStudent,
			StudentID:  "stu-1",
			Code:       "print(x)",
		})
		require.NoError(t, err)

		// Failed runs are results, not errors; the verdict passes through.
		assert.False(t, got.Success)
		assert.Equal(t, "NameError: x", got.Error)

		require.Equal(t, 1, engine.callCount())
		assert.Equal(t, "print(x)", engine.lastCall().code)
		assert.Equal(t, "student\n", engine.lastCall().settings.Stdin)
	})

	t.Run("request settings override stored ones for this run only", func(t *testing.T) {
		svc, engine, store, _ := setup(func(ss *domain.Session) {
			ss.Students["stu-1"].ExecutionSettings = &domain.ExecutionSettings{Stdin: "student\n"}
		})

		_, err := svc.ExecuteCode(context.Background(), execution.ExecuteCodeRequest{
			SessionID:  "sess-1",
			CallerID:   "stu-1",
			CallerRole: domain.RoleStudent,
			StudentID:  "stu-1",
			Code:       "print(1)",
			Settings:   &domain.ExecutionSettings{Stdin: "once\n"},
		})
		require.NoError(t, err)
		assert.Equal(t, "once\n", engine.lastCall().settings.Stdin)

		ss, err := store.GetSession(context.Background(), "sess-1")
		require.NoError(t, err)
		require.NotNil(t, ss.Students["stu-1"].ExecutionSettings)
		assert.Equal(t, "student\n", ss.Students["stu-1"].ExecutionSettings.Stdin)
	})

	t.Run("completed session never reaches the engine", func(t *testing.T) {
		svc, engine, _, _ := setup(func(ss *domain.Session) {
			ss.Status = domain.StatusCompleted
		})

		_, err := svc.ExecuteCode(context.Background(), execution.ExecuteCodeRequest{
			SessionID:  "sess-1",
			CallerID:   "inst-1",
			CallerRole: domain.RoleInstructor,
			StudentID:  "stu-1",
			Code:       "print(1)",
		})
		assert.True(t, errors.IsCode(err, errors.CodeFailedPrecondition))
		assert.Zero(t, engine.callCount())
	})

	t.Run("unauthorized caller never reaches the engine", func(t *testing.T) {
		svc, engine, _, _ := setup(nil)

		_, err := svc.ExecuteCode(context.Background(), execution.ExecuteCodeRequest{
			SessionID:  "sess-1",
			CallerID:   "stu-1",
			CallerRole: domain.RoleStudent,
			StudentID:  "stu-2",
			Code:       "print(1)",
		})
		assert.True(t, errors.IsCode(err, errors.CodePermissionDenied))
		assert.Zero(t, engine.callCount())
	})

	t.Run("engine failure surfaces as internal without leaking the cause", func(t *testing.T) {
		svc, engine, _, _ := setup(nil)
		engine.err = stderrors.New("dial tcp: connection refused")

		_, err := svc.ExecuteCode(context.Background(), execution.ExecuteCodeRequest{
			SessionID:  "sess-1",
			CallerID:   "stu-1",
			CallerRole: domain.RoleStudent,
			StudentID:  "stu-1",
			Code:       "print(1)",
		})
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeInternal))
		assert.NotContains(t, errors.Convert(err).Message, "connection refused")
	})

	t.Run("validation", func(t *testing.T) {
		svc, engine, _, _ := setup(nil)

		_, err := svc.ExecuteCode(context.Background(), execution.ExecuteCodeRequest{
			SessionID: "sess-1", CallerID: "stu-1", CallerRole: domain.RoleStudent,
			Code: "print(1)",
		})
		assert.True(t, errors.IsCode(err, errors.CodeInvalidArgument))

		_, err = svc.ExecuteCode(context.Background(), execution.ExecuteCodeRequest{
			SessionID: "sess-1", CallerID: "stu-1", CallerRole: domain.RoleStudent,
			StudentID: "stu-1",
		})
		assert.True(t, errors.IsCode(err, errors.CodeInvalidArgument))
		assert.Zero(t, engine.callCount())
	})

	t.Run("publishes a finished event marking featured runs", func(t *testing.T) {
		svc, _, _, eb := setup(func(ss *domain.Session) {
			ss.FeaturedStudentID = "stu-1"
		})

		var (
			mu        sync.Mutex
			published []domain.EventExecutionFinished
		)
		eb.Subscribe(domain.EventNameExecutionFinished, func(ctx context.Context, e event.Event) error {
			mu.Lock()
			published = append(published, e.(domain.EventExecutionFinished))
			mu.Unlock()
			return nil
		})

		_, err := svc.ExecuteCode(context.Background(), execution.ExecuteCodeRequest{
			SessionID:  "sess-1",
			CallerID:   "stu-1",
			CallerRole: domain.RoleStudent,
			StudentID:  "stu-1",
			Code:       "print(1)",
		})
		require.NoError(t, err)
		eb.Stop()

		require.Len(t, published, 1)
		assert.True(t, published[0].Featured)
		assert.Equal(t, "ok", published[0].Result.Output)
	})
}

func TestService_ExecutePublic(t *testing.T) {
	setup := func(mutate func(*domain.Session)) (*execution.Service, *fakeEngine) {
		store := sessiontest.NewStore()
		seedSession(store, mutate)
		engine := &fakeEngine{}
		svc := execution.NewService(execution.Config{
			Store:    store,
			Engine:   engine,
			EventBus: event.NewBus(),
		})
		return svc, engine
	}

	t.Run("runs with the featured student's settings", func(t *testing.T) {
		svc, engine := setup(func(ss *domain.Session) {
			ss.FeaturedStudentID = "stu-2"
			ss.Students["stu-2"].ExecutionSettings = &domain.ExecutionSettings{Stdin: "featured\n"}
		})

		got, err := svc.ExecutePublic(context.Background(), "sess-1", "print(2)")
		require.NoError(t, err)
		assert.True(t, got.Success)
		assert.Equal(t, "featured\n", engine.lastCall().settings.Stdin)
	})

	t.Run("completed session is rejected", func(t *testing.T) {
		svc, engine := setup(func(ss *domain.Session) {
			ss.Status = domain.StatusCompleted
		})

		_, err := svc.ExecutePublic(context.Background(), "sess-1", "print(1)")
		assert.True(t, errors.IsCode(err, errors.CodeFailedPrecondition))
		assert.Zero(t, engine.callCount())
	})
}
