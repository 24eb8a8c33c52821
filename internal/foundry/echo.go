// ABOUTME: In-memory stand-in for the agent service
// ABOUTME: Answers every run by repeating the latest user message

package foundry

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Echo implements the client operations without a remote service. Thread ids
// it has not issued, such as ones restored from the session store after a
// restart, are adopted as empty threads.
type Echo struct {
	mu      sync.Mutex
	threads map[string][]Message
}

// NewEcho creates an empty Echo backend.
func NewEcho() *Echo {
	return &Echo{threads: make(map[string][]Message)}
}

// CreateThread allocates a new thread id.
func (e *Echo) CreateThread(ctx context.Context) (string, error) {
	id := "thread_" + uuid.NewString()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.threads[id] = nil
	return id, nil
}

// CreateMessage appends a message to the thread.
func (e *Echo) CreateMessage(ctx context.Context, threadID, role, content string) (*Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	msgs, err := e.thread(threadID)
	if err != nil {
		return nil, err
	}
	msg := newTextMessage(threadID, role, content)
	e.threads[threadID] = append(msgs, msg)
	return &msg, nil
}

// CreateAndProcessRun replies with the latest user message and completes at once.
func (e *Echo) CreateAndProcessRun(ctx context.Context, threadID, agentID string) (*Run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	msgs, err := e.thread(threadID)
	if err != nil {
		return nil, err
	}

	run := Run{ID: "run_" + uuid.NewString(), ThreadID: threadID, AssistantID: agentID, Status: RunCompleted}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != RoleUser {
			continue
		}
		text, _ := msgs[i].Text()
		reply := newTextMessage(threadID, RoleAssistant, text)
		reply.RunID = run.ID
		e.threads[threadID] = append(msgs, reply)
		break
	}
	return &run, nil
}

// ListMessages returns the thread's messages in the given order.
func (e *Echo) ListMessages(ctx context.Context, threadID string, order Order) ([]Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	msgs, err := e.thread(threadID)
	if err != nil {
		return nil, err
	}

	out := make([]Message, len(msgs))
	copy(out, msgs)
	if order == Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

// thread returns the messages of threadID, adopting unseen ids. Callers hold mu.
func (e *Echo) thread(threadID string) ([]Message, error) {
	if threadID == "" {
		return nil, &APIError{StatusCode: 404, Code: "not_found", Message: "no thread found with id ''"}
	}
	msgs, ok := e.threads[threadID]
	if !ok {
		e.threads[threadID] = nil
	}
	return msgs, nil
}

func newTextMessage(threadID, role, text string) Message {
	return Message{
		ID:       "msg_" + uuid.NewString(),
		ThreadID: threadID,
		Role:     role,
		Content:  []ContentPart{{Type: "text", Text: &TextContent{Value: text}}},
	}
}
