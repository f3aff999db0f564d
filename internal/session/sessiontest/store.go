// Package sessiontest provides an in-memory Store for tests. It mimics the
// storage contract: whole-session atomic saves, value isolation between
// calls, NotFound for missing records and AlreadyExists on join-code
// collisions among active sessions.
package sessiontest

import (
	"context"
	"sort"
	"sync"

	"github.com/victornm/codelive/internal/domain"
	"github.com/victornm/codelive/internal/errors"
	"github.com/victornm/codelive/internal/session"
)

type Store struct {
	mu        sync.Mutex
	sessions  map[string]*domain.Session
	problems  map[string]*domain.Problem
	sections  map[string]*domain.Section
	revisions []domain.Revision

	// SaveCount tallies SaveSession calls for assertions.
	SaveCount int
}

var _ session.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*domain.Session),
		problems: make(map[string]*domain.Problem),
		sections: make(map[string]*domain.Section),
	}
}

// Seed helpers. They store values as-is; tests own the fixtures.

func (s *Store) SeedProblem(p *domain.Problem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.problems[p.ID] = p
}

func (s *Store) SeedSection(sec *domain.Section) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sections[sec.ID] = sec
}

func (s *Store) SeedSession(ss *domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[ss.ID] = cloneSession(ss)
}

func (s *Store) GetSession(_ context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ss, ok := s.sessions[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", id))
	}

	return cloneSession(ss), nil
}

func (s *Store) SaveSession(_ context.Context, ss *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.SaveCount++

	if ss.Status == domain.StatusActive {
		for _, other := range s.sessions {
			if other.ID != ss.ID &&
				other.Status == domain.StatusActive &&
				other.NamespaceID == ss.NamespaceID &&
				other.JoinCode == ss.JoinCode {
				return errors.New(errors.CodeAlreadyExists,
					errors.WithMessagef("join code already in use: %s", ss.JoinCode))
			}
		}
	}

	s.sessions[ss.ID] = cloneSession(ss)
	return nil
}

func (s *Store) ListSessions(_ context.Context, f session.Filter) ([]*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Session
	for _, ss := range s.sessions {
		if f.NamespaceID != "" && ss.NamespaceID != f.NamespaceID {
			continue
		}
		if f.SectionID != "" && ss.SectionID != f.SectionID {
			continue
		}
		if f.Active != nil && (ss.Status == domain.StatusActive) != *f.Active {
			continue
		}
		out = append(out, cloneSession(ss))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) FindSessionByJoinCode(_ context.Context, namespaceID, code string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ss := range s.sessions {
		if ss.NamespaceID == namespaceID && ss.JoinCode == code && ss.Status == domain.StatusActive {
			return cloneSession(ss), nil
		}
	}

	return nil, errors.New(errors.CodeNotFound,
		errors.WithMessagef("no active session for join code %s", code))
}

func (s *Store) GetProblem(_ context.Context, id string) (*domain.Problem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.problems[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("problem not found: %s", id))
	}

	clone := *p
	return &clone, nil
}

func (s *Store) GetSection(_ context.Context, id string) (*domain.Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec, ok := s.sections[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("section not found: %s", id))
	}

	clone := *sec
	return &clone, nil
}

func (s *Store) AppendRevision(_ context.Context, r domain.Revision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.revisions = append(s.revisions, r)
	return nil
}

func (s *Store) ListRevisions(_ context.Context, sessionID, studentID string) ([]domain.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Revision
	for _, r := range s.revisions {
		if r.SessionID == sessionID && r.StudentID == studentID {
			out = append(out, r)
		}
	}

	return out, nil
}

func cloneSession(ss *domain.Session) *domain.Session {
	clone := *ss

	clone.Participants = append([]string(nil), ss.Participants...)
	clone.Students = make(map[string]*domain.StudentState, len(ss.Students))
	for id, st := range ss.Students {
		stClone := *st
		clone.Students[id] = &stClone
	}
	if ss.Problem != nil {
		p := *ss.Problem
		clone.Problem = &p
	}

	return &clone
}
