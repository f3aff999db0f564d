package domain

import "time"

const (
	EventNameSessionEnded       = "session.ended"
	EventNameStudentJoined      = "session.student_joined"
	EventNameProblemUpdated     = "session.problem_updated"
	EventNameCodeEdited         = "session.code_edited"
	EventNameSubmissionFeatured = "session.submission_featured"
	EventNameExecutionFinished  = "session.execution_finished"
)

type EventSessionEnded struct {
	Session Session
}

func (EventSessionEnded) Name() string { return EventNameSessionEnded }

type EventStudentJoined struct {
	SessionID   string
	StudentID   string
	DisplayName string
}

func (EventStudentJoined) Name() string { return EventNameStudentJoined }

// EventProblemUpdated carries the full replacement problem, never a diff.
// Timestamp lets clients discard broadcasts arriving out of order.
type EventProblemUpdated struct {
	SessionID         string
	Problem           Problem
	ExecutionSettings *ExecutionSettings
	Timestamp         time.Time
}

func (EventProblemUpdated) Name() string { return EventNameProblemUpdated }

type EventCodeEdited struct {
	SessionID string
	StudentID string
	Code      string
	Featured  bool
	Timestamp time.Time
}

func (EventCodeEdited) Name() string { return EventNameCodeEdited }

// EventSubmissionFeatured fires when the instructor selects (or clears) the
// submission shown on the public display.
type EventSubmissionFeatured struct {
	SessionID string
	StudentID string
	Code      string
	Featured  bool
	Timestamp time.Time
}

func (EventSubmissionFeatured) Name() string { return EventNameSubmissionFeatured }

type EventExecutionFinished struct {
	SessionID string
	StudentID string
	Featured  bool
	Result    ExecutionResult
	Timestamp time.Time
}

func (EventExecutionFinished) Name() string { return EventNameExecutionFinished }
