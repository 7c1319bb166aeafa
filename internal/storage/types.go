package storage

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrDisabled = errors.New("storage disabled")
)

// HiddenTitlePrefix marks conversations created for internal orchestration
// (task runs, program updates). They are excluded from user-facing listings
// and are safe to purge once orphaned.
const HiddenTitlePrefix = "hidden_chat_"

// Program status values. The scheduler only picks up ProgramStatusUpdate rows;
// the program-updater worker walks update -> processing -> ready.
const (
	ProgramStatusUpdate     = "update"
	ProgramStatusProcessing = "processing"
	ProgramStatusReady      = "ready"
)

// Config configures storage.
//
// Path ":memory:" opens an in-process database (used by tests).
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Task is a stored scheduled job.
type Task struct {
	ID            string
	Identity      string
	Title         string
	Description   string
	AssignedAgent string
	Schedule      string // schedule descriptor, see moat.IsDue
	Active        bool
	Responses     []TaskResponse
	LastRunAt     *time.Time
	CreatedAt     time.Time
}

// TaskResponse is one appended run result. The list is append-only.
type TaskResponse struct {
	At       time.Time `json:"at"`
	Response string    `json:"response"`
}

// Program is a stored aether artifact.
type Program struct {
	ID          string
	Identity    string
	Name        string
	Description string
	Source      ProgramSource
	Status      string
	Feedback    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ProgramSource struct {
	HTML string `json:"html"`
	CSS  string `json:"css"`
	JS   string `json:"js"`
}

type Conversation struct {
	ID        string
	Identity  string
	Title     string
	CreatedAt time.Time
}

// Hidden reports whether this conversation is an orchestration scratch chat.
func (c Conversation) Hidden() bool {
	return strings.HasPrefix(c.Title, HiddenTitlePrefix)
}

// Message is one conversation turn. Ordered by CreatedAt, append-only.
type Message struct {
	ID             string
	ConversationID string
	Role           string // "user" | "assistant" | "system"
	Content        string
	CreatedAt      time.Time
}
