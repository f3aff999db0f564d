package session

import (
	"context"

	"github.com/victornm/codelive/internal/domain"
)

// Filter narrows ListSessions. Zero-valued fields do not constrain.
type Filter struct {
	NamespaceID string
	SectionID   string
	// Active filters on status when non-nil: true for active sessions,
	// false for completed ones.
	Active *bool
}

// Store is the persistence port for the lifecycle manager. Implementations
// must return errors.CodeNotFound for missing records and
// errors.CodeAlreadyExists when saving a session whose join code collides
// with another active session. GetSession/SaveSession are atomic per call;
// the lifecycle manager relies on nothing stronger (last write wins).
type Store interface {
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	SaveSession(ctx context.Context, s *domain.Session) error
	ListSessions(ctx context.Context, f Filter) ([]*domain.Session, error)

	// FindSessionByJoinCode resolves a join code among active sessions
	// only; a code held by a completed session does not resolve.
	FindSessionByJoinCode(ctx context.Context, namespaceID, code string) (*domain.Session, error)

	GetProblem(ctx context.Context, id string) (*domain.Problem, error)
	GetSection(ctx context.Context, id string) (*domain.Section, error)

	AppendRevision(ctx context.Context, r domain.Revision) error
	ListRevisions(ctx context.Context, sessionID, studentID string) ([]domain.Revision, error)
}
