// Package config handles configuration loading for foundry-relay.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable expansion.
// Unset fields receive defaults, then the whole config is validated. Nothing
// is reloaded at runtime.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the --config flag
//  2. Path from FOUNDRY_RELAY_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/foundry-relay/relay.yaml
//  4. ~/.config/foundry-relay/relay.yaml
//
// # Secrets
//
// Secrets are never written into the file directly. Reference environment
// variables instead:
//
//	credential:
//	  mode: client_secret
//	  tenant_id: "${AZURE_TENANT_ID}"
//	  client_id: "${AZURE_CLIENT_ID}"
//	  client_secret: "${AZURE_CLIENT_SECRET}"
//
// # Configuration Sections
//
// Agent service:
//
//	agent:
//	  backend: foundry            # foundry, echo
//	  endpoint: "https://<resource>.services.ai.azure.com/api/projects/<project>"
//	  agent_id: "${FOUNDRY_AGENT_ID}"
//	  poll_interval: "1s"
//	  http_timeout: "120s"
//
// Blob storage:
//
//	storage:
//	  backend: azure              # azure, local
//	  connection_string: "${AZURE_STORAGE_CONNECTION_STRING}"
//	  container: "flatfileinputs"
//
// Uploads and sessions:
//
//	uploads:
//	  allowed_extensions: [".csv", ".xlsx"]
//	  max_bytes: 10485760
//	sessions:
//	  ttl: "24h"                  # "0s" never expires
//	  max_entries: 100000
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	  file: ""        # optional rotating log file
package config
