package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/victornm/codelive/internal/channel"
	"github.com/victornm/codelive/internal/errors"
	"github.com/victornm/codelive/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Public displays connect from anywhere; the view carries no
	// privileged data beyond what the instructor chose to feature.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (a *API) serveWS(c *gin.Context) {
	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return // Upgrade already replied
	}

	conn := ws.NewConn(wsConn)
	go a.servePublicView(conn)
}

// servePublicView drives one public-display connection. A malformed or
// unknown frame gets an ERROR reply and the connection stays up; only a
// transport failure ends the loop.
func (a *API) servePublicView(conn *ws.Conn) {
	defer conn.Close()

	ctx := context.Background()
	var sessionID string

	for {
		data, err := conn.Receive()
		if err != nil {
			return
		}

		m, err := channel.Decode(data)
		if err != nil {
			a.sendError(conn, err)
			continue
		}

		switch msg := m.(type) {
		case *channel.JoinPublicView:
			if sessionID != "" {
				a.registry.Unsubscribe(sessionID, conn)
			}
			sessionID = msg.SessionID
			a.registry.Subscribe(sessionID, conn)
			a.sendSnapshot(ctx, conn, sessionID)

		case *channel.PublicExecuteCode:
			a.handlePublicExecute(ctx, conn, sessionID, msg.Code)

		case *channel.GetRevisions:
			a.handleGetRevisions(ctx, conn, sessionID, msg.StudentID)

		default:
			a.sendError(conn, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("unexpected message type %s", m.Type())))
		}
	}
}

// sendSnapshot pushes the full current state to a fresh subscriber, so a
// reconnecting display never depends on frames lost while it was away.
func (a *API) sendSnapshot(ctx context.Context, conn *ws.Conn, sessionID string) {
	ss, err := a.session.GetSession(ctx, sessionID)
	if err != nil {
		a.sendError(conn, err)
		return
	}

	featured := ss.FeaturedStudentID != ""
	update := channel.PublicSubmissionUpdate{
		HasFeaturedSubmission: &featured,
		JoinCode:              &ss.JoinCode,
		Timestamp:             ss.LastActivity.UnixMilli(),
	}

	if featured {
		if st, ok := ss.Students[ss.FeaturedStudentID]; ok {
			code := st.Code
			update.Code = &code
		}
	}
	if ss.Problem != nil {
		update.Problem = &channel.ProblemPayload{
			Title:       ss.Problem.Title,
			Description: ss.Problem.Description,
			StarterCode: ss.Problem.StarterCode,
		}
		if es := ss.Problem.ExecutionSettings; es != nil {
			update.ExecutionSettings = &channel.ExecutionSettingsPayload{
				Stdin:      es.Stdin,
				RandomSeed: es.RandomSeed,
			}
		}
	}

	_ = conn.Send(update)
}

func (a *API) handlePublicExecute(ctx context.Context, conn *ws.Conn, sessionID, code string) {
	if sessionID == "" {
		a.sendError(conn, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("join a session first")))
		return
	}

	result, err := a.execution.ExecutePublic(ctx, sessionID, code)
	if err != nil {
		a.sendError(conn, err)
		return
	}

	_ = conn.Send(channel.ExecutionResult{
		Success:         result.Success,
		Output:          result.Output,
		Error:           result.Error,
		ExecutionTimeMS: result.ExecutionTime.Milliseconds(),
	})
}

func (a *API) handleGetRevisions(ctx context.Context, conn *ws.Conn, sessionID, studentID string) {
	if sessionID == "" {
		a.sendError(conn, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("join a session first")))
		return
	}

	revisions, err := a.session.ListRevisions(ctx, sessionID, studentID)
	if err != nil {
		a.sendError(conn, err)
		return
	}

	data := channel.RevisionsData{
		SessionID: sessionID,
		StudentID: studentID,
		Revisions: make([]channel.RevisionPayload, 0, len(revisions)),
	}
	for _, r := range revisions {
		data.Revisions = append(data.Revisions, channel.RevisionPayload{
			Code:      r.Code,
			CreatedAt: r.CreatedAt.UnixMilli(),
		})
	}

	_ = conn.Send(data)
}

// sendError reports a failure on the channel without closing it. Only the
// classified message goes out, never the cause.
func (a *API) sendError(conn *ws.Conn, err error) {
	_ = conn.Send(channel.ErrorMessage{Message: errors.Convert(err).Message})
}
