package session

import (
	"context"
	"errors"
)

// Severity classifies a notice shown to the user.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ErrLeft is returned by Display.PromptJoin when the user walks away before
// picking a nickname.
var ErrLeft = errors.New("session: user left")

// Submission is what the user sent from the message prompt: either a message
// body or a request to leave.
type Submission struct {
	Body  string
	Leave bool
}

// Display is one user's view of the chat, provided by the transport.
// AppendLine and Notify may be called from the session's catch-up goroutine
// concurrently with the prompt methods.
type Display interface {
	// AppendLine renders one chat line.
	AppendLine(author, body string) error

	// Notify shows a transient notice to this user only.
	Notify(message string, severity Severity) error

	// PromptJoin asks for a nickname and blocks until validate accepts one,
	// showing each rejection to the user. It returns the accepted nickname,
	// ErrLeft, or the context error.
	PromptJoin(ctx context.Context, validate func(nickname string) error) (string, error)

	// PromptMessage blocks until the user submits a message or asks to leave.
	PromptMessage(ctx context.Context) (Submission, error)

	// Closed tells the user the session is over and whether they may join again.
	Closed(reason string, canRejoin bool) error
}
