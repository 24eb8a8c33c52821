// ABOUTME: Orchestrator drives a single chat turn through the agent service
// ABOUTME: Resolve thread, post message, run to completion, extract the latest reply

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/foundry-relay/internal/foundry"
)

const instrumentationName = "github.com/2389/foundry-relay/internal/conversation"

// NoResponse is the reply when the thread holds no assistant message.
const NoResponse = "No response from agent"

var (
	// ErrMessageRequired is returned for an empty or whitespace message.
	ErrMessageRequired = errors.New("message required")
	// ErrSessionRequired is returned for an empty or whitespace session id.
	ErrSessionRequired = errors.New("session_id required")
	// ErrRunFailed is returned when the agent run ends with status failed.
	ErrRunFailed = errors.New("agent run failed")
	// ErrNoReplyText is returned when the latest assistant message has no text part.
	ErrNoReplyText = errors.New("assistant message has no text content")
)

// Turn states recorded on the span.
const (
	StateReceived       = "RECEIVED"
	StateThreadResolved = "THREAD_RESOLVED"
	StateMessagePosted  = "MESSAGE_POSTED"
	StateRunComplete    = "RUN_COMPLETE"
	StateReplyExtracted = "REPLY_EXTRACTED"
	StateFailed         = "FAILED"
)

// ThreadResolver maps a session to its agent thread.
type ThreadResolver interface {
	Resolve(ctx context.Context, sessionID string) (string, error)
}

// Agent is the subset of the agent service a turn needs.
type Agent interface {
	CreateMessage(ctx context.Context, threadID, role, content string) (*foundry.Message, error)
	CreateAndProcessRun(ctx context.Context, threadID, agentID string) (*foundry.Run, error)
	ListMessages(ctx context.Context, threadID string, order foundry.Order) ([]foundry.Message, error)
}

// Orchestrator runs chat turns. It is safe for concurrent use.
type Orchestrator struct {
	threads  ThreadResolver
	agent    Agent
	agentID  string
	logger   *slog.Logger
	tracer   trace.Tracer
	requests metric.Int64Counter
	failures metric.Int64Counter
}

// New creates an Orchestrator that runs agentID. Tracer and meter come from
// the global OpenTelemetry providers.
func New(threads ThreadResolver, agent Agent, agentID string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	meter := otel.Meter(instrumentationName)
	requests, err := meter.Int64Counter("relay.chat.requests", metric.WithDescription("Chat turns received"))
	if err != nil {
		logger.Warn("failed to create counter", "name", "relay.chat.requests", "error", err)
	}
	failures, err := meter.Int64Counter("relay.chat.failures", metric.WithDescription("Chat turns that ended in error"))
	if err != nil {
		logger.Warn("failed to create counter", "name", "relay.chat.failures", "error", err)
	}

	return &Orchestrator{
		threads:  threads,
		agent:    agent,
		agentID:  agentID,
		logger:   logger.With("component", "conversation"),
		tracer:   otel.Tracer(instrumentationName),
		requests: requests,
		failures: failures,
	}
}

// Converse sends message on behalf of sessionID and returns the agent's reply.
func (o *Orchestrator) Converse(ctx context.Context, sessionID, message string) (reply string, err error) {
	sessionID = strings.TrimSpace(sessionID)
	message = strings.TrimSpace(message)

	ctx, span := o.tracer.Start(ctx, "conversation.Converse",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	t := &turn{o: o, span: span, logger: o.logger.With("session_id", sessionID)}
	t.enter(ctx, StateReceived)
	if o.requests != nil {
		o.requests.Add(ctx, 1)
	}
	defer func() {
		if err != nil {
			t.fail(ctx, err)
		}
	}()

	if message == "" {
		return "", ErrMessageRequired
	}
	if sessionID == "" {
		return "", ErrSessionRequired
	}

	threadID, err := o.threads.Resolve(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("resolving thread: %w", err)
	}
	span.SetAttributes(attribute.String("thread.id", threadID))
	t.logger = t.logger.With("thread_id", threadID)
	t.enter(ctx, StateThreadResolved)

	if _, err := o.agent.CreateMessage(ctx, threadID, foundry.RoleUser, message); err != nil {
		return "", err
	}
	t.enter(ctx, StateMessagePosted)

	run, err := o.agent.CreateAndProcessRun(ctx, threadID, o.agentID)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("run.id", run.ID), attribute.String("run.status", run.Status))
	if run.Failed() {
		if run.LastError != nil {
			t.logger.Warn("agent run failed", "run_id", run.ID, "code", run.LastError.Code, "reason", run.LastError.Message)
		}
		return "", ErrRunFailed
	}
	if !strings.EqualFold(run.Status, foundry.RunCompleted) {
		t.logger.Warn("run ended without completing", "run_id", run.ID, "status", run.Status)
	}
	t.enter(ctx, StateRunComplete)

	msgs, err := o.agent.ListMessages(ctx, threadID, foundry.Ascending)
	if err != nil {
		return "", err
	}

	reply, err = LatestAssistantText(msgs)
	if err != nil {
		return "", err
	}
	t.enter(ctx, StateReplyExtracted)
	return reply, nil
}

// LatestAssistantText scans msgs from newest to oldest and returns the last
// text part of the first assistant message found. Without any assistant
// message it returns NoResponse.
func LatestAssistantText(msgs []foundry.Message) (string, error) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != foundry.RoleAssistant {
			continue
		}
		text, ok := msgs[i].Text()
		if !ok {
			return "", fmt.Errorf("message %s: %w", msgs[i].ID, ErrNoReplyText)
		}
		return text, nil
	}
	return NoResponse, nil
}

// turn records state transitions for one Converse call.
type turn struct {
	o      *Orchestrator
	span   trace.Span
	logger *slog.Logger
}

func (t *turn) enter(ctx context.Context, state string) {
	t.span.AddEvent(state)
	t.logger.DebugContext(ctx, "turn state", "state", state)
}

func (t *turn) fail(ctx context.Context, err error) {
	t.span.AddEvent(StateFailed)
	t.span.RecordError(err)
	t.span.SetStatus(codes.Error, err.Error())
	if t.o.failures != nil {
		t.o.failures.Add(ctx, 1)
	}

	if errors.Is(err, ErrMessageRequired) || errors.Is(err, ErrSessionRequired) {
		t.logger.DebugContext(ctx, "turn rejected", "error", err)
		return
	}
	t.logger.ErrorContext(ctx, "chat turn failed", "state", StateFailed, "error", err)
}
