package channel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/codelive/internal/channel"
	"github.com/victornm/codelive/internal/errors"
)

func TestEncodeDecode(t *testing.T) {
	code := "print('hi')"
	featured := true

	tests := map[string]channel.Message{
		"join": &channel.JoinPublicView{SessionID: "sess-1"},
		"partial update": &channel.PublicSubmissionUpdate{
			Code:                  &code,
			HasFeaturedSubmission: &featured,
			Timestamp:             1700000000000,
		},
		"execution result": &channel.ExecutionResult{
			Success:         false,
			Output:          "partial",
			Error:           "NameError",
			ExecutionTimeMS: 120,
		},
		"error frame": &channel.ErrorMessage{Message: "session not found"},
	}

	for name, m := range tests {
		t.Run(name, func(t *testing.T) {
			data, err := channel.Encode(m)
			require.NoError(t, err)

			got, err := channel.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, m, got)
		})
	}
}

func TestDecode_AbsentFieldsStayNil(t *testing.T) {
	// A problem-only update must not carry a code: the client treats a
	// present code as an instruction to clear the displayed result.
	data := []byte(`{"type":"PUBLIC_SUBMISSION_UPDATE","payload":{"problem":{"title":"T","description":"D"},"timestamp":1}}`)

	got, err := channel.Decode(data)
	require.NoError(t, err)

	update, ok := got.(*channel.PublicSubmissionUpdate)
	require.True(t, ok)
	assert.Nil(t, update.Code)
	assert.Nil(t, update.HasFeaturedSubmission)
	require.NotNil(t, update.Problem)
	assert.Equal(t, "T", update.Problem.Title)
}

func TestDecode_Malformed(t *testing.T) {
	tests := map[string][]byte{
		"not json":         []byte(`{{{`),
		"unknown type":     []byte(`{"type":"SELF_DESTRUCT"}`),
		"mismatched field": []byte(`{"type":"JOIN_PUBLIC_VIEW","payload":{"sessionId":42}}`),
		"unknown field":    []byte(`{"type":"JOIN_PUBLIC_VIEW","payload":{"bogus":true}}`),
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := channel.Decode(data)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeUnavailable), "got %v", err)
		})
	}
}
