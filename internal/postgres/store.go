// Package postgres is the production implementation of the session storage
// port. A session row carries its roster and problem as JSONB so every save
// is one atomic whole-session write, which is all the lifecycle manager
// relies on.
package postgres

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/codelive/internal/domain"
	"github.com/victornm/codelive/internal/errors"
	"github.com/victornm/codelive/internal/session"
)

// codeUniqueViolation is raised by the partial unique index on
// (namespace_id, join_code) WHERE status = 'active'.
const codeUniqueViolation = "23505"

type Store struct {
	db *pgxpool.Pool
}

var _ session.Store = (*Store)(nil)

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	const stmt = `
SELECT id, namespace_id, creator_id, section_id, section_name, join_code,
       problem, participants, students, featured_student_id, status,
       created_at, last_activity
FROM sessions
WHERE id = $1;`

	ss, err := scanSession(s.db.QueryRow(ctx, stmt, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	return ss, nil
}

func (s *Store) SaveSession(ctx context.Context, ss *domain.Session) error {
	problem, err := marshalNullable(ss.Problem)
	if err != nil {
		return fmt.Errorf("marshal problem: %w", err)
	}
	participants, err := json.Marshal(ss.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	students, err := json.Marshal(ss.Students)
	if err != nil {
		return fmt.Errorf("marshal students: %w", err)
	}

	const stmt = `
INSERT INTO sessions (id, namespace_id, creator_id, section_id, section_name,
                      join_code, problem, participants, students,
                      featured_student_id, status, created_at, last_activity)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET
	join_code = EXCLUDED.join_code,
	problem = EXCLUDED.problem,
	participants = EXCLUDED.participants,
	students = EXCLUDED.students,
	featured_student_id = EXCLUDED.featured_student_id,
	status = EXCLUDED.status,
	last_activity = EXCLUDED.last_activity;`

	_, err = s.db.Exec(ctx, stmt,
		ss.ID, ss.NamespaceID, ss.CreatorID, ss.SectionID, ss.SectionName,
		ss.JoinCode, problem, participants, students,
		ss.FeaturedStudentID, string(ss.Status), ss.CreatedAt, ss.LastActivity,
	)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("join code already in use: %s", ss.JoinCode),
			errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	return nil
}

func (s *Store) ListSessions(ctx context.Context, f session.Filter) ([]*domain.Session, error) {
	stmt := `
SELECT id, namespace_id, creator_id, section_id, section_name, join_code,
       problem, participants, students, featured_student_id, status,
       created_at, last_activity
FROM sessions
WHERE 1 = 1`

	var args []any
	if f.NamespaceID != "" {
		args = append(args, f.NamespaceID)
		stmt += fmt.Sprintf(" AND namespace_id = $%d", len(args))
	}
	if f.SectionID != "" {
		args = append(args, f.SectionID)
		stmt += fmt.Sprintf(" AND section_id = $%d", len(args))
	}
	if f.Active != nil {
		status := domain.StatusCompleted
		if *f.Active {
			status = domain.StatusActive
		}
		args = append(args, string(status))
		stmt += fmt.Sprintf(" AND status = $%d", len(args))
	}
	stmt += " ORDER BY created_at;"

	rows, err := s.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*domain.Session, error) {
		return scanSession(r)
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	return sessions, nil
}

func (s *Store) FindSessionByJoinCode(ctx context.Context, namespaceID, code string) (*domain.Session, error) {
	const stmt = `
SELECT id, namespace_id, creator_id, section_id, section_name, join_code,
       problem, participants, students, featured_student_id, status,
       created_at, last_activity
FROM sessions
WHERE namespace_id = $1 AND join_code = $2 AND status = 'active';`

	ss, err := scanSession(s.db.QueryRow(ctx, stmt, namespaceID, code))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no active session for join code %s", code))
	}
	if err != nil {
		return nil, fmt.Errorf("find session by join code: %w", err)
	}

	return ss, nil
}

func (s *Store) GetProblem(ctx context.Context, id string) (*domain.Problem, error) {
	const stmt = `
SELECT id, author_id, title, description, starter_code, test_cases, execution_settings
FROM problems
WHERE id = $1;`

	var (
		p        domain.Problem
		cases    []byte
		settings []byte
	)
	err := s.db.QueryRow(ctx, stmt, id).Scan(
		&p.ID, &p.AuthorID, &p.Title, &p.Description, &p.StarterCode, &cases, &settings,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("problem not found: %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("get problem: %w", err)
	}

	if err := unmarshalNullable(cases, &p.TestCases); err != nil {
		return nil, fmt.Errorf("unmarshal test cases: %w", err)
	}
	if err := unmarshalNullable(settings, &p.ExecutionSettings); err != nil {
		return nil, fmt.Errorf("unmarshal execution settings: %w", err)
	}

	return &p, nil
}

func (s *Store) GetSection(ctx context.Context, id string) (*domain.Section, error) {
	const stmt = `
SELECT id, namespace_id, name, instructor_ids
FROM sections
WHERE id = $1;`

	var (
		sec         domain.Section
		instructors []byte
	)
	err := s.db.QueryRow(ctx, stmt, id).Scan(&sec.ID, &sec.NamespaceID, &sec.Name, &instructors)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("section not found: %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("get section: %w", err)
	}

	if err := unmarshalNullable(instructors, &sec.InstructorIDs); err != nil {
		return nil, fmt.Errorf("unmarshal instructors: %w", err)
	}

	return &sec, nil
}

func (s *Store) AppendRevision(ctx context.Context, r domain.Revision) error {
	const stmt = `
INSERT INTO revisions (session_id, student_id, code, created_at)
VALUES ($1, $2, $3, $4);`

	if _, err := s.db.Exec(ctx, stmt, r.SessionID, r.StudentID, r.Code, r.CreatedAt); err != nil {
		return fmt.Errorf("append revision: %w", err)
	}

	return nil
}

func (s *Store) ListRevisions(ctx context.Context, sessionID, studentID string) ([]domain.Revision, error) {
	const stmt = `
SELECT session_id, student_id, code, created_at
FROM revisions
WHERE session_id = $1 AND student_id = $2
ORDER BY created_at;`

	rows, err := s.db.Query(ctx, stmt, sessionID, studentID)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}

	revisions, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Revision, error) {
		var rev domain.Revision
		if err := r.Scan(&rev.SessionID, &rev.StudentID, &rev.Code, &rev.CreatedAt); err != nil {
			return domain.Revision{}, err
		}
		return rev, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}

	return revisions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*domain.Session, error) {
	var (
		ss           domain.Session
		problem      []byte
		participants []byte
		students     []byte
		status       string
	)

	err := r.Scan(
		&ss.ID, &ss.NamespaceID, &ss.CreatorID, &ss.SectionID, &ss.SectionName,
		&ss.JoinCode, &problem, &participants, &students,
		&ss.FeaturedStudentID, &status, &ss.CreatedAt, &ss.LastActivity,
	)
	if err != nil {
		return nil, err
	}

	ss.Status = domain.SessionStatus(status)
	if err := unmarshalNullable(problem, &ss.Problem); err != nil {
		return nil, fmt.Errorf("unmarshal problem: %w", err)
	}
	if err := unmarshalNullable(participants, &ss.Participants); err != nil {
		return nil, fmt.Errorf("unmarshal participants: %w", err)
	}
	if err := unmarshalNullable(students, &ss.Students); err != nil {
		return nil, fmt.Errorf("unmarshal students: %w", err)
	}
	if ss.Students == nil {
		ss.Students = make(map[string]*domain.StudentState)
	}

	return &ss, nil
}

func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if p, ok := v.(*domain.Problem); ok && p == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalNullable(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
