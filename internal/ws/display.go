package ws

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/whisper/lobby/internal/moderation"
	"github.com/whisper/lobby/internal/protocol"
	"github.com/whisper/lobby/internal/session"
)

// Display renders a lobby session onto a WebSocket connection. Prompts
// consume the client messages the dispatcher queues on the connection inbox.
type Display struct {
	conn *Connection
}

// NewDisplay binds a display to c.
func NewDisplay(c *Connection) *Display {
	return &Display{conn: c}
}

// AppendLine sends one chat line.
func (d *Display) AppendLine(author, body string) error {
	return d.conn.Send(protocol.TypeLine, protocol.LineMsg{Author: author, Body: body})
}

// Notify sends a notice.
func (d *Display) Notify(message string, severity session.Severity) error {
	return d.conn.Send(protocol.TypeNotice, protocol.NoticeMsg{
		Message:  message,
		Severity: string(severity),
	})
}

// PromptJoin marks the end of the history replay, asks for a nickname and
// answers each join attempt with joined or join_rejected.
func (d *Display) PromptJoin(ctx context.Context, validate func(nickname string) error) (string, error) {
	if err := d.conn.Send(protocol.TypeHistoryDone, protocol.HistoryDoneMsg{}); err != nil {
		return "", err
	}
	if err := d.conn.Send(protocol.TypeJoinPrompt, protocol.JoinPromptMsg{}); err != nil {
		return "", err
	}

	for {
		msg, err := d.conn.Receive(ctx)
		if err != nil {
			return "", err
		}

		switch m := msg.(type) {
		case protocol.JoinMsg:
			if err := validate(m.Nickname); err != nil {
				if serr := d.conn.Send(protocol.TypeJoinRejected, protocol.JoinRejectedMsg{
					Code:    rejectCode(err),
					Message: err.Error(),
				}); serr != nil {
					return "", serr
				}
				continue
			}
			nickname := strings.TrimSpace(m.Nickname)
			if err := d.conn.Send(protocol.TypeJoined, protocol.JoinedMsg{Nickname: nickname}); err != nil {
				return nickname, err
			}
			return nickname, nil

		case protocol.LeaveMsg:
			return "", session.ErrLeft

		default:
			d.unexpected("join the chat first")
		}
	}
}

// PromptMessage waits for the next message or leave request.
func (d *Display) PromptMessage(ctx context.Context) (session.Submission, error) {
	for {
		msg, err := d.conn.Receive(ctx)
		if err != nil {
			return session.Submission{}, err
		}

		switch m := msg.(type) {
		case protocol.ChatMsg:
			return session.Submission{Body: m.Text}, nil
		case protocol.LeaveMsg:
			return session.Submission{Leave: true}, nil
		default:
			d.unexpected("already joined")
		}
	}
}

// Closed sends the final closed message.
func (d *Display) Closed(reason string, canRejoin bool) error {
	return d.conn.Send(protocol.TypeClosed, protocol.ClosedMsg{Reason: reason, CanRejoin: canRejoin})
}

func (d *Display) unexpected(message string) {
	if err := d.conn.Send(protocol.TypeError, protocol.ErrorMsg{
		Code:    protocol.CodeUnexpected,
		Message: message,
	}); err != nil {
		zap.S().Debugf("[ws] failed to send error conn=%s: %v", d.conn.ID, err)
	}
}

func rejectCode(err error) string {
	switch {
	case errors.Is(err, session.ErrNicknameTaken):
		return protocol.CodeNicknameTaken
	case errors.Is(err, session.ErrNicknameForbidden):
		return protocol.CodeNicknameForbidden
	case errors.Is(err, session.ErrNicknameInvalid):
		return protocol.CodeNicknameInvalid
	default:
		return protocol.CodeInternal
	}
}

// LobbyHandler runs a lobby session for every connection.
func LobbyHandler(l *session.Lobby) ConnectHandler {
	return func(c *Connection) {
		err := l.Run(c.Context(), c.IP, NewDisplay(c))

		var banned *moderation.IPBannedError
		switch {
		case err == nil:
		case errors.As(err, &banned):
			zap.S().Infof("[ws] turned away banned ip=%s conn=%s", c.IP, c.ID)
		case errors.Is(err, ErrConnectionClosed), errors.Is(err, context.Canceled):
			zap.S().Debugf("[ws] conn=%s closed before joining", c.ID)
		default:
			zap.S().Warnf("[ws] session error conn=%s: %v", c.ID, err)
		}
	}
}

// LobbyHealth reports the lobby's counters for /health.
func LobbyHealth(l *session.Lobby) func() map[string]int {
	return func() map[string]int {
		return map[string]int{
			"online_users": l.Registry().Count(),
			"sessions":     l.Sessions(),
			"log_length":   l.Log().Len(),
		}
	}
}
