// ABOUTME: Request authorization strategies for the agent service client
// ABOUTME: Bearer tokens from azidentity credentials or a static API key header

package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/2389/foundry-relay/internal/config"
)

// refreshSkew renews cached tokens this long before they expire.
const refreshSkew = 5 * time.Minute

// ErrNoTokenCredential is returned for modes that do not use Azure AD.
var ErrNoTokenCredential = errors.New("credential mode does not provide a token credential")

// Authorizer adds authentication to an outbound request.
type Authorizer interface {
	Authorize(ctx context.Context, req *http.Request) error
}

// Bearer returns an Authorizer that sends "Authorization: Bearer <token>"
// for scope.
func Bearer(cred azcore.TokenCredential, scope string) Authorizer {
	if scope == "" {
		scope = config.DefaultScope
	}
	return &bearer{cred: cred, scope: scope}
}

type bearer struct {
	cred  azcore.TokenCredential
	scope string

	mu    sync.Mutex
	token azcore.AccessToken
}

func (b *bearer) Authorize(ctx context.Context, req *http.Request) error {
	token, err := b.current(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (b *bearer) current(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.token.Token != "" && time.Until(b.token.ExpiresOn) > refreshSkew {
		return b.token.Token, nil
	}

	tok, err := b.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{b.scope}})
	if err != nil {
		return "", fmt.Errorf("acquiring token for %s: %w", b.scope, err)
	}
	b.token = tok
	return tok.Token, nil
}

// APIKey returns an Authorizer that sets header to key.
func APIKey(header, key string) Authorizer {
	if header == "" {
		header = config.DefaultAPIKeyHeader
	}
	return apiKey{header: header, key: key}
}

type apiKey struct {
	header string
	key    string
}

func (a apiKey) Authorize(_ context.Context, req *http.Request) error {
	req.Header.Set(a.header, a.key)
	return nil
}

// NewTokenCredential builds the azidentity credential for cfg.Mode. The
// api_key mode returns ErrNoTokenCredential.
func NewTokenCredential(cfg config.CredentialConfig) (azcore.TokenCredential, error) {
	switch cfg.Mode {
	case config.CredentialClientSecret:
		return azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
	case config.CredentialCLI:
		return azidentity.NewAzureCLICredential(&azidentity.AzureCLICredentialOptions{TenantID: cfg.TenantID})
	case config.CredentialManagedIdentity:
		opts := &azidentity.ManagedIdentityCredentialOptions{}
		if cfg.ClientID != "" {
			opts.ID = azidentity.ClientID(cfg.ClientID)
		}
		return azidentity.NewManagedIdentityCredential(opts)
	case config.CredentialDefault, "":
		return azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{TenantID: cfg.TenantID})
	case config.CredentialAPIKey:
		return nil, ErrNoTokenCredential
	default:
		return nil, fmt.Errorf("unsupported credential mode %q", cfg.Mode)
	}
}

// NewAuthorizer builds the Authorizer for cfg. Token modes request scope.
func NewAuthorizer(cfg config.CredentialConfig, scope string) (Authorizer, error) {
	if cfg.Mode == config.CredentialAPIKey {
		if cfg.APIKey == "" {
			return nil, errors.New("api key is empty")
		}
		return APIKey(cfg.APIKeyHeader, cfg.APIKey), nil
	}

	cred, err := NewTokenCredential(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating %s credential: %w", cfg.Mode, err)
	}
	return Bearer(cred, scope), nil
}
