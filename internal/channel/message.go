// Package channel defines the typed message protocol carried between clients
// and a session's server-side state. The protocol is a closed set of message
// types; decoding is strict so a malformed or unknown frame surfaces as a
// channel error instead of a crash or a silently ignored payload.
package channel

// Type tags a protocol message.
type Type string

const (
	// TypeJoinPublicView subscribes the connection to a session's public
	// broadcast.
	TypeJoinPublicView Type = "JOIN_PUBLIC_VIEW"
	// TypePublicSubmissionUpdate is a partial update: absent fields leave
	// client state untouched. A present Code field also tells the client
	// to clear any displayed execution result.
	TypePublicSubmissionUpdate Type = "PUBLIC_SUBMISSION_UPDATE"
	TypePublicCodeEdit         Type = "PUBLIC_CODE_EDIT"
	TypePublicExecuteCode      Type = "PUBLIC_EXECUTE_CODE"
	TypeExecutionResult        Type = "EXECUTION_RESULT"
	// TypeProblemUpdate is the legacy problem-change notification kept for
	// older display clients.
	TypeProblemUpdate Type = "PROBLEM_UPDATE"
	TypeGetRevisions  Type = "GET_REVISIONS"
	TypeRevisionsData Type = "REVISIONS_DATA"
	// TypeError reports a server-side failure. Non-fatal to the channel.
	TypeError Type = "ERROR"
)

// Message is one frame of the protocol.
type Message interface {
	Type() Type
}

type JoinPublicView struct {
	SessionID string `json:"sessionId"`
}

func (JoinPublicView) Type() Type { return TypeJoinPublicView }

type ProblemPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	StarterCode string `json:"starterCode,omitempty"`
}

type ExecutionSettingsPayload struct {
	Stdin      string `json:"stdin,omitempty"`
	RandomSeed *int64 `json:"randomSeed,omitempty"`
}

// PublicSubmissionUpdate carries the full new text of whatever changed, never
// a diff. Pointer fields distinguish "absent" from "present but empty".
type PublicSubmissionUpdate struct {
	Code                  *string                   `json:"code,omitempty"`
	Problem               *ProblemPayload           `json:"problem,omitempty"`
	HasFeaturedSubmission *bool                     `json:"hasFeaturedSubmission,omitempty"`
	ExecutionSettings     *ExecutionSettingsPayload `json:"executionSettings,omitempty"`
	JoinCode              *string                   `json:"joinCode,omitempty"`
	// Timestamp in unix milliseconds; clients discard updates older than
	// the last one applied.
	Timestamp int64 `json:"timestamp"`
}

func (PublicSubmissionUpdate) Type() Type { return TypePublicSubmissionUpdate }

type PublicCodeEdit struct {
	Code string `json:"code"`
}

func (PublicCodeEdit) Type() Type { return TypePublicCodeEdit }

type PublicExecuteCode struct {
	Code string `json:"code"`
}

func (PublicExecuteCode) Type() Type { return TypePublicExecuteCode }

type ExecutionResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
	// ExecutionTimeMS as reported by the engine.
	ExecutionTimeMS int64 `json:"executionTime"`
}

func (ExecutionResult) Type() Type { return TypeExecutionResult }

type ProblemUpdate struct {
	ProblemText string `json:"problemText"`
}

func (ProblemUpdate) Type() Type { return TypeProblemUpdate }

type GetRevisions struct {
	StudentID string `json:"studentId"`
}

func (GetRevisions) Type() Type { return TypeGetRevisions }

type RevisionPayload struct {
	Code      string `json:"code"`
	CreatedAt int64  `json:"createdAt"`
}

type RevisionsData struct {
	SessionID string            `json:"sessionId"`
	StudentID string            `json:"studentId"`
	Revisions []RevisionPayload `json:"revisions"`
}

func (RevisionsData) Type() Type { return TypeRevisionsData }

type ErrorMessage struct {
	Message string `json:"error"`
}

func (ErrorMessage) Type() Type { return TypeError }
