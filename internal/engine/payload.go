package engine

import "fmt"

// Payload is the typed argument handed to a worker entry point.
// Describe is used for slot listings and logs.
type Payload interface {
	Describe() string
}

// TaskPayload drives a single scheduled task execution.
type TaskPayload struct {
	TaskID string
	Title  string
	Agent  string
	Prompt string
}

func (p TaskPayload) Describe() string {
	return fmt.Sprintf("task %s (%s)", p.TaskID, p.Title)
}

// ProgramPayload drives one program regeneration cycle.
type ProgramPayload struct {
	ProgramID string
	Name      string
	Feedback  string
}

func (p ProgramPayload) Describe() string {
	return fmt.Sprintf("program %s (%s)", p.ProgramID, p.Name)
}

// AgentPayload drives one agent run inside an existing conversation.
type AgentPayload struct {
	ConversationID string
	Agent          string
}

func (p AgentPayload) Describe() string {
	return fmt.Sprintf("agent %s in %s", p.Agent, p.ConversationID)
}

// MoatPayload boots the long-lived scheduler loop. It carries no state;
// the scheduler reads everything from the store.
type MoatPayload struct{}

func (MoatPayload) Describe() string { return "scheduler loop" }
