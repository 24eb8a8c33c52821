// ABOUTME: Wire types for the Foundry Agents threads, messages, and runs API
// ABOUTME: Includes run status classification and message text extraction

package foundry

import (
	"fmt"
	"strings"
)

// Roles used in thread messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Run statuses reported by the service.
const (
	RunQueued         = "queued"
	RunInProgress     = "in_progress"
	RunCancelling     = "cancelling"
	RunRequiresAction = "requires_action"
	RunCompleted      = "completed"
	RunFailed         = "failed"
	RunCancelled      = "cancelled"
	RunExpired        = "expired"
	RunIncomplete     = "incomplete"
)

// Order selects message listing order.
type Order string

const (
	Ascending  Order = "asc"
	Descending Order = "desc"
)

// Thread is a remote conversation container.
type Thread struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

// TextContent is the body of a text content part.
type TextContent struct {
	Value string `json:"value"`
}

// ContentPart is one piece of a message. Only text parts carry Text.
type ContentPart struct {
	Type string       `json:"type"`
	Text *TextContent `json:"text,omitempty"`
}

// Message is a thread message.
type Message struct {
	ID        string        `json:"id"`
	ThreadID  string        `json:"thread_id,omitempty"`
	Role      string        `json:"role"`
	Content   []ContentPart `json:"content"`
	RunID     string        `json:"run_id,omitempty"`
	CreatedAt int64         `json:"created_at,omitempty"`
}

// Text returns the value of the message's last text part.
func (m Message) Text() (string, bool) {
	for i := len(m.Content) - 1; i >= 0; i-- {
		part := m.Content[i]
		if part.Type == "text" && part.Text != nil {
			return part.Text.Value, true
		}
	}
	return "", false
}

// RunError describes why a run failed.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Run is one execution of an agent over a thread.
type Run struct {
	ID          string    `json:"id"`
	ThreadID    string    `json:"thread_id"`
	AssistantID string    `json:"assistant_id,omitempty"`
	Status      string    `json:"status"`
	LastError   *RunError `json:"last_error,omitempty"`
}

// Terminal reports whether the run has stopped changing.
func (r Run) Terminal() bool {
	switch strings.ToLower(r.Status) {
	case RunQueued, RunInProgress, RunCancelling:
		return false
	}
	return true
}

// Failed reports whether the run ended with status failed.
func (r Run) Failed() bool {
	return strings.EqualFold(r.Status, RunFailed)
}

type messageList struct {
	Data    []Message `json:"data"`
	FirstID string    `json:"first_id"`
	LastID  string    `json:"last_id"`
	HasMore bool      `json:"has_more"`
}

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("agent service %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agent service %d: %s", e.StatusCode, e.Message)
}
