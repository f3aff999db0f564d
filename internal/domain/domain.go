package domain

import (
	"time"
)

// SessionStatus is the lifecycle state of a session. The only transition is
// StatusActive -> StatusCompleted and it is irreversible.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// Session represents one instructor-owned live-coding exercise tied to a
// class section. It is read-modify-written as a whole unit per operation.
type Session struct {
	ID          string
	NamespaceID string
	CreatorID   string
	SectionID   string
	SectionName string

	// JoinCode is the short code students type to attach. Unique among
	// active sessions only; completed sessions may share codes.
	JoinCode string

	// Problem is the currently loaded problem, nil until one is loaded.
	Problem *Problem

	// Participants holds every user id ever authorized to act in the
	// session. Entries are never removed.
	Participants []string

	// Students maps student id to submission state. Entries are created on
	// first join or submission and kept for the life of the session.
	Students map[string]*StudentState

	// FeaturedStudentID selects whose submission the public view shows.
	// Empty means nothing is featured.
	FeaturedStudentID string

	Status       SessionStatus
	CreatedAt    time.Time
	LastActivity time.Time
}

// IsParticipant reports whether userID may act within the session. The
// creator is always authorized regardless of Participants membership.
func (s *Session) IsParticipant(userID string) bool {
	if userID == s.CreatorID {
		return true
	}
	for _, p := range s.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// StudentState is the per-student submission state. Code is last-write-wins;
// concurrent edits from two tabs of the same student are not merged.
type StudentState struct {
	DisplayName       string
	Code              string
	ExecutionSettings *ExecutionSettings
	LastActivity      time.Time
}

// Problem is a coding exercise an instructor loads into a session.
type Problem struct {
	ID                string
	AuthorID          string
	Title             string
	Description       string
	StarterCode       string
	TestCases         []TestCase
	ExecutionSettings *ExecutionSettings
}

type TestCase struct {
	Input          string
	ExpectedOutput string
}

// ExecutionSettings configure one run of student code. Attachable at three
// levels: problem default, per-student override, per-request override.
type ExecutionSettings struct {
	Stdin         string         `json:"stdin,omitempty"`
	RandomSeed    *int64         `json:"randomSeed,omitempty"`
	AttachedFiles []AttachedFile `json:"attachedFiles,omitempty"`
}

type AttachedFile struct {
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

// ExecutionResult is the engine's verdict for one run, passed through to the
// caller unchanged.
type ExecutionResult struct {
	Success       bool
	Output        string
	Error         string
	ExecutionTime time.Duration
}

// Role of the caller as asserted by the surrounding auth layer.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Elevated reports whether the role may act on behalf of other students.
func (r Role) Elevated() bool {
	return r == RoleInstructor || r == RoleAdmin
}

// Revision is one entry of a student's submission history within a session.
type Revision struct {
	SessionID string
	StudentID string
	Code      string
	CreatedAt time.Time
}

// Section is the class section a session belongs to, owned by the excluded
// CRUD layer; only the fields the lifecycle manager needs are modeled.
type Section struct {
	ID            string
	NamespaceID   string
	Name          string
	InstructorIDs []string
}

// HasInstructor reports whether userID teaches the section.
func (s *Section) HasInstructor(userID string) bool {
	for _, id := range s.InstructorIDs {
		if id == userID {
			return true
		}
	}
	return false
}
