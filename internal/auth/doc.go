// Package auth provides optional bearer authentication for the relay API.
//
// # JWT Tokens
//
// When auth.jwt_secret is configured, API clients authenticate with HS256
// JWTs carrying a non-empty "sub" claim, an "exp" claim and the issuer
// "foundry-relay". Secrets shorter than
// MinSecretLength bytes are rejected at startup. Tokens are minted with
// JWTVerifier.Generate, which the CLI exposes as the token command.
//
// # HTTP Middleware
//
//	HTTPAuthMiddleware(verifier, logger)
//
// rejects requests without a valid token with 401 and a JSON error body, and
// otherwise stores an AuthContext on the request context. Handlers read the
// subject with SubjectFromContext and use it as the session id when the
// request does not name one.
package auth
