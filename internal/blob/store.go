// ABOUTME: Blob store interface and the local-disk implementation
// ABOUTME: Put writes a stream under a key with overwrite semantics and returns its URL

package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidKey is returned when a key would escape the store root.
var ErrInvalidKey = errors.New("invalid blob key")

// Store puts objects into blob storage. Put overwrites any existing object at key.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (url string, err error)
}

// LocalStore keeps blobs on local disk. It is meant for development, where no
// storage account is available.
type LocalStore struct {
	root    string
	baseURL string
	logger  *slog.Logger
}

// NewLocalStore creates a LocalStore rooted at dir. URLs are built as
// baseURL + "/blobs/" + key; an empty baseURL yields file:// URLs.
func NewLocalStore(dir, baseURL string, logger *slog.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving blob dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("creating blob dir: %w", err)
	}
	return &LocalStore{
		root:    abs,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.With("component", "blob-local"),
	}, nil
}

// Put writes r to root/key, replacing any existing file.
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	dst, err := s.pathFor(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("creating blob parent dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("writing blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("committing blob: %w", err)
	}

	s.logger.Debug("blob stored", "key", key, "bytes", n, "content_type", contentType)
	return s.URL(key), nil
}

// URL returns the address a stored key is reachable at.
func (s *LocalStore) URL(key string) string {
	if s.baseURL == "" {
		u := url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(s.root, filepath.FromSlash(key)))}
		return u.String()
	}
	u := url.URL{Path: "/blobs/" + key}
	return s.baseURL + u.EscapedPath()
}

// Handler serves stored blobs. Mount it under /blobs/.
func (s *LocalStore) Handler() http.Handler {
	return http.StripPrefix("/blobs/", http.FileServer(http.Dir(s.root)))
}

func (s *LocalStore) pathFor(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || clean != "/"+key {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}
