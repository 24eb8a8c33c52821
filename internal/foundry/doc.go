// Package foundry talks to the Azure AI Foundry Agents REST API.
//
// # Operations
//
// Client exposes the four calls a conversation turn needs:
//
//   - CreateThread: POST /threads
//   - CreateMessage: POST /threads/{id}/messages
//   - CreateAndProcessRun: POST /threads/{id}/runs, then poll
//     GET /threads/{id}/runs/{run} until the run reaches a terminal status
//   - ListMessages: GET /threads/{id}/messages, following has_more pages
//
// Every request carries the api-version query parameter and is authorized
// by a credential.Authorizer. Non-2xx responses are returned as *APIError.
//
// # Local development
//
// Echo implements the same operations in memory and answers each run with
// the latest user message. It backs the "echo" agent backend so the relay
// can run without cloud access.
package foundry
