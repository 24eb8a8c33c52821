// ABOUTME: Gateway orchestrator that coordinates the HTTP and gRPC health servers
// ABOUTME: Wires store, session registry, agent backend, blob storage and listener lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/foundry-relay/internal/auth"
	"github.com/2389/foundry-relay/internal/blob"
	"github.com/2389/foundry-relay/internal/config"
	"github.com/2389/foundry-relay/internal/conversation"
	"github.com/2389/foundry-relay/internal/credential"
	"github.com/2389/foundry-relay/internal/foundry"
	"github.com/2389/foundry-relay/internal/session"
	"github.com/2389/foundry-relay/internal/store"
	"github.com/2389/foundry-relay/internal/upload"
)

const (
	instrumentationName = "github.com/2389/foundry-relay/internal/gateway"
	containerTimeout    = 30 * time.Second
	tailscaleGRPCPort   = ":50051"
)

// agentBackend is what the gateway needs from the agent service: thread
// creation for the registry plus the calls a chat turn makes.
type agentBackend interface {
	session.ThreadCreator
	conversation.Agent
}

// components are the dependencies New builds from config. Tests supply their own.
type components struct {
	store      store.Store // nil keeps mappings in memory only
	agent      agentBackend
	blobs      blob.Store
	localBlobs *blob.LocalStore // set when blobs are served by this process
}

// Gateway owns the relay's servers and the components behind them.
type Gateway struct {
	config       *config.Config
	store        store.Store
	sessions     *session.Registry
	orchestrator *conversation.Orchestrator
	blobs        blob.Store
	localBlobs   *blob.LocalStore
	validator    *upload.Validator
	verifier     *auth.JWTVerifier
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger

	uploads metric.Int64Counter
	pdfs    metric.Int64Counter
}

// New creates a Gateway from cfg. Nothing listens until Run is called.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var comps components
	if cfg.Database.Path != "" {
		sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("creating store: %w", err)
		}
		comps.store = sqlStore
		logger.Info("session store opened", "path", cfg.Database.Path)
	}

	closeStore := func() {
		if comps.store != nil {
			_ = comps.store.Close()
		}
	}

	backend, err := newAgentBackend(cfg, logger)
	if err != nil {
		closeStore()
		return nil, err
	}
	comps.agent = backend

	comps.blobs, comps.localBlobs, err = newBlobStore(cfg, logger)
	if err != nil {
		closeStore()
		return nil, err
	}

	gw, err := assemble(cfg, comps, logger)
	if err != nil {
		closeStore()
		return nil, err
	}
	return gw, nil
}

// newAgentBackend returns the Foundry client, or the in-process echo agent
// for local development.
func newAgentBackend(cfg *config.Config, logger *slog.Logger) (agentBackend, error) {
	if cfg.Agent.Backend == config.AgentBackendEcho {
		logger.Warn("using echo agent backend; replies repeat the user message")
		return foundry.NewEcho(), nil
	}

	authorizer, err := credential.NewAuthorizer(cfg.Credential, cfg.Agent.Scope)
	if err != nil {
		return nil, fmt.Errorf("creating agent credential: %w", err)
	}
	client, err := foundry.NewClient(foundry.Config{
		Endpoint:     cfg.Agent.Endpoint,
		APIVersion:   cfg.Agent.APIVersion,
		PollInterval: cfg.Agent.PollInterval,
		Authorizer:   authorizer,
		HTTPClient:   &http.Client{Timeout: cfg.Agent.HTTPTimeout},
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating agent client: %w", err)
	}
	logger.Info("agent backend ready",
		"endpoint", cfg.Agent.Endpoint,
		"agent_id", cfg.Agent.AgentID,
		"credential", cfg.Credential.Mode,
	)
	return client, nil
}

// newBlobStore builds the configured blob backend. For Azure the container is
// created up front; failures there are logged and otherwise ignored.
func newBlobStore(cfg *config.Config, logger *slog.Logger) (blob.Store, *blob.LocalStore, error) {
	sc := cfg.Storage
	if sc.Backend == config.StorageBackendLocal {
		local, err := blob.NewLocalStore(sc.LocalDir, sc.PublicBaseURL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("creating local blob store: %w", err)
		}
		logger.Info("using local blob store", "dir", sc.LocalDir)
		return local, local, nil
	}

	azCfg := blob.AzureConfig{
		ConnectionString: sc.ConnectionString,
		AccountURL:       sc.AccountURL,
		Container:        sc.Container,
	}
	if sc.ConnectionString == "" {
		cred, err := credential.NewTokenCredential(cfg.Credential)
		if err != nil {
			return nil, nil, fmt.Errorf("creating storage credential: %w", err)
		}
		azCfg.Credential = cred
	}
	azure, err := blob.NewAzureStore(azCfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating azure blob store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), containerTimeout)
	defer cancel()
	if err := azure.EnsureContainer(ctx); err != nil {
		logger.Warn("could not create blob container", "container", sc.Container, "error", err)
	}
	return azure, nil, nil
}

// assemble wires components into a Gateway and builds its servers.
func assemble(cfg *config.Config, comps components, logger *slog.Logger) (*Gateway, error) {
	gw := &Gateway{
		config:     cfg,
		store:      comps.store,
		blobs:      comps.blobs,
		localBlobs: comps.localBlobs,
		validator:  upload.NewValidator(cfg.Uploads.AllowedExtensions),
		logger:     logger.With("component", "gateway"),
	}

	opts := session.Options{
		TTL:        cfg.Sessions.TTL,
		MaxEntries: cfg.Sessions.MaxEntries,
		Logger:     logger,
	}
	if comps.store != nil {
		opts.Store = comps.store
	}
	gw.sessions = session.New(comps.agent, opts)
	gw.orchestrator = conversation.New(gw.sessions, comps.agent, cfg.Agent.AgentID, logger)

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			gw.sessions.Close()
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		gw.verifier = verifier
		gw.logger.Info("API authentication enabled")
	} else {
		gw.logger.Warn("auth disabled - no jwt_secret configured")
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if gw.uploads, err = meter.Int64Counter("relay.uploads", metric.WithDescription("Files stored in blob storage")); err != nil {
		gw.logger.Warn("failed to create counter", "name", "relay.uploads", "error", err)
	}
	if gw.pdfs, err = meter.Int64Counter("relay.pdfs", metric.WithDescription("PDF documents rendered")); err != nil {
		gw.logger.Warn("failed to create counter", "name", "relay.pdfs", "error", err)
	}

	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer, gw.healthServer = newHealthGRPCServer()
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// newHealthGRPCServer creates a gRPC server exposing grpc.health.v1.Health.
func newHealthGRPCServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	return server, hs
}

// setupTCPListeners creates standard TCP listeners for HTTP and, when configured, gRPC.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	if g.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		closeListener(grpcLn)
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddresses() {
	if g.config.Server.HTTPAddr != "" && g.config.Server.HTTPAddr != config.DefaultHTTPAddr {
		g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts the servers in goroutines, returning their error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the servers and blocks until the context is canceled.
// Returns nil on graceful shutdown, or the first server error.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "foundry-relay", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners creates a tsnet server and listens on it. gRPC
// health uses a fixed tailnet port when enabled.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)

	if g.grpcServer != nil {
		grpcLn, err = g.tsnetServer.Listen("tcp", tailscaleGRPCPort)
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
		}
	}

	httpLn, err = g.createTailscaleHTTPListener(tsCfg)
	if err != nil {
		closeListener(grpcLn)
		_ = g.tsnetServer.Close()
		return nil, nil, err
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

func closeListener(ln net.Listener) {
	if ln != nil {
		_ = ln.Close()
	}
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	g.healthServer.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all servers and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	g.sessions.Close()
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// Handler returns the HTTP handler serving every route.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}
