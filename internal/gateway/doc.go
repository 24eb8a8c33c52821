// Package gateway runs the foundry-relay HTTP service.
//
// # Overview
//
// The gateway owns every long-lived component and wires them together from
// config: the optional SQLite session store, the session registry, the agent
// backend (Foundry REST client or the in-process echo stub), the conversation
// orchestrator, and the blob store (Azure or local disk).
//
// # HTTP API
//
//   - GET / - landing page
//   - GET /static/... - embedded UI assets
//   - POST /chat - {session_id?, message} -> {reply}
//   - POST /upload - multipart file and optional session_id -> {filename, blob_url}
//   - POST /download_pdf - {text} -> agent_response.pdf
//   - GET /health - {"status":"ok"}
//   - GET /blobs/... - files held by the local blob store
//
// Errors are JSON objects of the form {"error": "..."}. Every request body is
// capped at uploads.max_bytes. When auth.jwt_secret is set, the three POST
// routes require a bearer token and its subject stands in for a missing
// session_id.
//
// # Listeners
//
// HTTP listens on server.http_addr, or on the tailnet when tailscale is
// enabled (plain :80, HTTPS with tailnet certificates, or Funnel). When
// server.grpc_addr is set a grpc.health.v1 service is also exposed.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled, then shuts down
package gateway
