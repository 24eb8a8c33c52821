// ABOUTME: Interactive config generator for the relay
// ABOUTME: Prompts for the main settings and writes a commented relay.yaml

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389/foundry-relay/internal/config"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new config file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "foundry-relay configuration setup")
	fmt.Fprintln(out, "=================================")
	fmt.Fprintln(out)

	defaultDataPath := getDataPath()

	outputFile := prompt(reader, out, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	httpAddr := prompt(reader, out, "HTTP address", config.DefaultHTTPAddr)
	grpcAddr := prompt(reader, out, "gRPC health address (leave empty to disable)", "")

	fmt.Fprintln(out, "\n--- Session Store ---")
	dbPath := prompt(reader, out, "SQLite database path (empty keeps sessions in memory)", filepath.Join(defaultDataPath, "relay.db"))

	fmt.Fprintln(out, "\n--- Agent ---")
	backend := prompt(reader, out, "Agent backend (foundry/echo)", config.AgentBackendFoundry)
	var endpoint, agentID, credMode string
	if backend == config.AgentBackendFoundry {
		endpoint = prompt(reader, out, "Project endpoint", "${AZURE_AI_ENDPOINT}")
		agentID = prompt(reader, out, "Agent id", "${AZURE_AI_AGENT_ID}")
		credMode = prompt(reader, out, "Credential mode (default/client_secret/cli/managed_identity/api_key)", config.CredentialDefault)
	}

	fmt.Fprintln(out, "\n--- Blob Storage ---")
	storage := prompt(reader, out, "Storage backend (azure/local)", config.StorageBackendAzure)
	var container, localDir string
	if storage == config.StorageBackendLocal {
		localDir = prompt(reader, out, "Local blob directory", filepath.Join(defaultDataPath, "blobs"))
	} else {
		container = prompt(reader, out, "Container name", config.DefaultContainer)
	}

	fmt.Fprintln(out, "\n--- API Authentication ---")
	var jwtSecret string
	if yes(prompt(reader, out, "Require bearer tokens?", "no")) {
		secret, err := randomSecret()
		if err != nil {
			return err
		}
		jwtSecret = secret
	}

	fmt.Fprintln(out, "\n--- Tailscale Configuration ---")
	tailscaleEnabled := yes(prompt(reader, out, "Enable Tailscale?", "no"))
	var tsHostname string
	var tsHTTPS, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, out, "Tailscale hostname", "foundry-relay")
		tsHTTPS = yes(prompt(reader, out, "Serve HTTPS with tailnet certs?", "yes"))
		tsFunnel = yes(prompt(reader, out, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	logLevel := prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, out, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# foundry-relay configuration\n")
	cfg.WriteString("# Generated by foundry-relay init. ${VAR} references are read from the environment.\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n", httpAddr)
	if grpcAddr != "" {
		fmt.Fprintf(&cfg, "  grpc_addr: %q\n", grpcAddr)
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n\n", dbPath)

	cfg.WriteString("agent:\n")
	fmt.Fprintf(&cfg, "  backend: %q\n", backend)
	if backend == config.AgentBackendFoundry {
		fmt.Fprintf(&cfg, "  endpoint: %q\n", endpoint)
		fmt.Fprintf(&cfg, "  agent_id: %q\n", agentID)
		cfg.WriteString("  poll_interval: \"1s\"\n")
		cfg.WriteString("  http_timeout: \"120s\"\n")
	}
	cfg.WriteString("\n")

	if credMode != "" {
		cfg.WriteString("credential:\n")
		fmt.Fprintf(&cfg, "  mode: %q\n", credMode)
		switch credMode {
		case config.CredentialClientSecret:
			cfg.WriteString("  tenant_id: \"${AZURE_TENANT_ID}\"\n")
			cfg.WriteString("  client_id: \"${AZURE_CLIENT_ID}\"\n")
			cfg.WriteString("  client_secret: \"${AZURE_CLIENT_SECRET}\"\n")
		case config.CredentialAPIKey:
			cfg.WriteString("  api_key: \"${AZURE_AI_API_KEY}\"\n")
		}
		cfg.WriteString("\n")
	}

	cfg.WriteString("storage:\n")
	fmt.Fprintf(&cfg, "  backend: %q\n", storage)
	if storage == config.StorageBackendLocal {
		fmt.Fprintf(&cfg, "  local_dir: %q\n", localDir)
		fmt.Fprintf(&cfg, "  public_base_url: %q\n", "http://"+healthHost(httpAddr))
	} else {
		cfg.WriteString("  connection_string: \"${AZURE_STORAGE_CONNECTION_STRING}\"\n")
		fmt.Fprintf(&cfg, "  container: %q\n", container)
	}
	cfg.WriteString("\n")

	cfg.WriteString("uploads:\n")
	cfg.WriteString("  allowed_extensions: [\".csv\", \".xlsx\"]\n")
	fmt.Fprintf(&cfg, "  max_bytes: %d\n\n", config.DefaultMaxUploadBytes)

	cfg.WriteString("sessions:\n")
	cfg.WriteString("  ttl: \"24h\"\n")
	fmt.Fprintf(&cfg, "  max_entries: %d\n\n", config.DefaultMaxSessions)

	if jwtSecret != "" {
		cfg.WriteString("auth:\n")
		fmt.Fprintf(&cfg, "  jwt_secret: %q\n\n", jwtSecret)
	}

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", tailscaleEnabled)
	if tailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n", tsHostname)
		fmt.Fprintf(&cfg, "  https: %t\n", tsHTTPS)
		fmt.Fprintf(&cfg, "  funnel: %t\n", tsFunnel)
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n\n", logFormat)

	cfg.WriteString("telemetry:\n")
	cfg.WriteString("  enabled: false\n")
	fmt.Fprintf(&cfg, "  dir: %q\n", filepath.Join(defaultDataPath, "telemetry"))

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The file may hold a JWT secret.
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  foundry-relay serve")
	if jwtSecret != "" {
		fmt.Fprintln(out, "\nTo mint an API token:")
		fmt.Fprintln(out, "  foundry-relay token --subject <name>")
	}

	return nil
}

// healthHost maps a listen address to a host:port a local client can reach.
func healthHost(addr string) string {
	return strings.TrimSuffix(strings.TrimPrefix(healthURL(addr), "http://"), "/health")
}

func randomSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

func yes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
