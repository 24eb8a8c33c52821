// Package conversation runs one chat turn against the hosted agent.
//
// # Overview
//
// The conversation package sits between the HTTP handlers and the agent
// service. Orchestrator.Converse takes a session id and a user message and
// returns the agent's reply text.
//
// # Turn sequence
//
// Each turn moves through fixed states:
//
//	RECEIVED -> THREAD_RESOLVED -> MESSAGE_POSTED -> RUN_COMPLETE -> REPLY_EXTRACTED
//
// Any step may end the turn in FAILED. Every transition is recorded as a
// span event and a debug log line. Nothing is retried.
//
//   - Thread resolution goes through the session registry, so a session
//     keeps one thread and repeat turns make no thread-create call.
//   - The user message is posted, then a run is created and polled until
//     it reaches a terminal status.
//   - A run whose status is "failed" ends the turn with ErrRunFailed. Other
//     terminal statuses fall through to reply extraction.
//   - Messages are listed oldest first and scanned newest to oldest. The
//     first assistant message supplies the reply: the value of its last text
//     part. When no assistant message exists the reply is NoResponse.
//
// # Errors
//
// Input problems are reported with ErrMessageRequired and ErrSessionRequired.
// Dependency failures are wrapped with %w so callers can inspect them.
package conversation
