package channel

import (
	"bytes"
	"encoding/json"

	"github.com/victornm/codelive/internal/errors"
)

type envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps a message in the {type, payload} envelope.
func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("encode %s message", m.Type()),
			errors.WithCause(err))
	}

	return json.Marshal(envelope{Type: m.Type(), Payload: payload})
}

// Decode parses one frame. Unknown tags and malformed payloads return a
// channel-classified error; the caller should surface it as a non-fatal
// connection error and keep the connection up.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("malformed message envelope"),
			errors.WithCause(err))
	}

	var m Message
	switch env.Type {
	case TypeJoinPublicView:
		m = &JoinPublicView{}
	case TypePublicSubmissionUpdate:
		m = &PublicSubmissionUpdate{}
	case TypePublicCodeEdit:
		m = &PublicCodeEdit{}
	case TypePublicExecuteCode:
		m = &PublicExecuteCode{}
	case TypeExecutionResult:
		m = &ExecutionResult{}
	case TypeProblemUpdate:
		m = &ProblemUpdate{}
	case TypeGetRevisions:
		m = &GetRevisions{}
	case TypeRevisionsData:
		m = &RevisionsData{}
	case TypeError:
		m = &ErrorMessage{}
	default:
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("unknown message type %q", env.Type))
	}

	if len(env.Payload) > 0 {
		dec := json.NewDecoder(bytes.NewReader(env.Payload))
		dec.DisallowUnknownFields()
		if err := dec.Decode(m); err != nil {
			return nil, errors.New(errors.CodeUnavailable,
				errors.WithMessagef("malformed %s payload", env.Type),
				errors.WithCause(err))
		}
	}

	return m, nil
}
