package storage

import (
	"context"
	"time"
)

// Store is the persistence API consumed by the engine core.
//
// Ownership: every identity-scoped call validates that the row belongs to the
// given identity and returns ErrNotFound otherwise, so a bad identity can never
// read or mutate another tenant's state.
type Store interface {
	// Tasks
	ActiveTasks(ctx context.Context) ([]Task, error)
	GetTask(ctx context.Context, identity, id string) (Task, error)
	PutTask(ctx context.Context, t Task) error
	TouchTaskLastRun(ctx context.Context, identity, id string, at time.Time) error
	AppendTaskResponse(ctx context.Context, identity, id string, r TaskResponse) error
	SetTaskActive(ctx context.Context, identity, id string, active bool) error

	// Programs
	PendingPrograms(ctx context.Context) ([]Program, error)
	GetProgram(ctx context.Context, identity, id string) (Program, error)
	PutProgram(ctx context.Context, p Program) error
	SetProgramStatus(ctx context.Context, identity, id, status string) error
	SetProgramFeedback(ctx context.Context, identity, id, feedback string) error
	SetProgramSource(ctx context.Context, identity, id string, src ProgramSource) error

	// Conversations
	CreateConversation(ctx context.Context, identity, title string) (Conversation, error)
	DeleteConversation(ctx context.Context, identity, id string) error
	ListConversations(ctx context.Context, identity string, includeHidden bool) ([]Conversation, error)
	PurgeHiddenConversations(ctx context.Context, olderThan time.Duration) (int, error)

	// Messages
	AppendMessage(ctx context.Context, identity, conversationID, role, content string) (Message, error)
	History(ctx context.Context, identity, conversationID string) ([]Message, error)
	DeleteMessage(ctx context.Context, identity, messageID string) error

	// Settings (per-identity eido session settings)
	Settings(ctx context.Context, identity string) (map[string]string, error)
	PutSetting(ctx context.Context, identity, key, value string) error

	Close() error
}
