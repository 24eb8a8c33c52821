// Package credential authorizes outbound requests to the agent service.
//
// An Authorizer decorates each request before it is sent. Two strategies
// exist:
//
//   - Bearer: an Azure AD access token for a scope, obtained from any
//     azcore.TokenCredential and cached until shortly before it expires.
//   - APIKey: a static key sent in a configurable header.
//
// NewTokenCredential and NewAuthorizer build the configured strategy from
// config.CredentialConfig at startup. Secrets arrive only through
// configuration, normally as ${ENV} references.
package credential
