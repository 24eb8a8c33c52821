// ABOUTME: Azure Blob Storage implementation of the blob Store
// ABOUTME: Authenticates by connection string or account URL plus token credential

package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureConfig selects the account and container for an AzureStore.
// Exactly one of ConnectionString or AccountURL (with Credential) is used;
// ConnectionString wins when both are set.
type AzureConfig struct {
	ConnectionString string
	AccountURL       string
	Credential       azcore.TokenCredential
	Container        string
}

// AzureStore uploads blobs into a single Azure Storage container.
type AzureStore struct {
	client    *azblob.Client
	container string
	logger    *slog.Logger
}

// NewAzureStore creates the client. It does not contact the service; call
// EnsureContainer at startup.
func NewAzureStore(cfg AzureConfig, logger *slog.Logger) (*AzureStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Container == "" {
		return nil, errors.New("container name is required")
	}

	var (
		client *azblob.Client
		err    error
	)
	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case cfg.AccountURL != "" && cfg.Credential != nil:
		client, err = azblob.NewClient(cfg.AccountURL, cfg.Credential, nil)
	default:
		return nil, errors.New("connection string or account URL with credential is required")
	}
	if err != nil {
		return nil, fmt.Errorf("creating blob client: %w", err)
	}

	return &AzureStore{
		client:    client,
		container: cfg.Container,
		logger:    logger.With("component", "blob-azure", "container", cfg.Container),
	}, nil
}

// EnsureContainer creates the container, treating "already exists" as success.
func (s *AzureStore) EnsureContainer(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("creating container %s: %w", s.container, err)
	}
	return nil
}

// Put streams r into the container under key, overwriting any existing blob.
func (s *AzureStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	var opts *azblob.UploadStreamOptions
	if contentType != "" {
		opts = &azblob.UploadStreamOptions{
			HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
		}
	}

	if _, err := s.client.UploadStream(ctx, s.container, key, r, opts); err != nil {
		return "", fmt.Errorf("uploading blob %s: %w", key, err)
	}

	blobURL := s.URL(key)
	s.logger.Debug("blob uploaded", "key", key, "url", blobURL)
	return blobURL, nil
}

// URL returns the public address of key within the container. Path
// separators in key are kept; each segment is escaped.
func (s *AzureStore) URL(key string) string {
	containerURL := strings.TrimSuffix(s.client.ServiceClient().NewContainerClient(s.container).URL(), "/")
	u := url.URL{Path: "/" + key}
	return containerURL + u.EscapedPath()
}
