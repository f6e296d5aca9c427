package session

import (
	"context"
	"errors"
	"time"

	"github.com/next-unicorn-dev/canvas/core"
)

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("session: not found")

// ChatSession is one conversation on a canvas.
type ChatSession struct {
	ID        string    `json:"id"`
	CanvasID  string    `json:"canvas_id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StoredMessage is a persisted message row.
type StoredMessage struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists sessions and their messages. AppendMessage calls for one
// session are issued by a single writer in transcript order.
type Store interface {
	CreateSession(ctx context.Context, s ChatSession) error
	GetSession(ctx context.Context, id string) (ChatSession, error)
	AppendMessage(ctx context.Context, sessionID string, msg core.Message) error
	ListMessages(ctx context.Context, sessionID string) ([]core.Message, error)
	ListSessions(ctx context.Context, canvasID string) ([]ChatSession, error)
}

// TitleMaxRunes bounds a session title derived from the first prompt.
const TitleMaxRunes = 200

// Title derives a session title from the first user prompt.
func Title(prompt string) string {
	runes := []rune(prompt)
	if len(runes) > TitleMaxRunes {
		runes = runes[:TitleMaxRunes]
	}
	return string(runes)
}
