package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"media-thumbnailer/internal/filesystem"
)

var (
	// ErrNotFileURI is returned for URIs with a scheme other than file.
	ErrNotFileURI = errors.New("not a file uri")
	// ErrRelativePath is returned for paths that are not absolute.
	ErrRelativePath = errors.New("path is not absolute")
	// ErrOutsideRoots is returned for paths outside every configured root.
	ErrOutsideRoots = errors.New("path is outside the allowed roots")
)

// Resolver turns a request URI into a readable local path.
type Resolver interface {
	Resolve(ctx context.Context, uri string) (string, error)
}

// PathResolver accepts absolute paths and file:// URIs. When Roots is set
// the resolved path must lie under one of them.
type PathResolver struct {
	Roots []string
	Retry filesystem.RetryConfig
}

// NewPathResolver creates a resolver with the default NFS retry settings.
func NewPathResolver(roots ...string) *PathResolver {
	cleaned := make([]string, 0, len(roots))
	for _, r := range roots {
		if r = strings.TrimSpace(r); r != "" {
			cleaned = append(cleaned, filepath.Clean(r))
		}
	}
	return &PathResolver{Roots: cleaned, Retry: filesystem.DefaultRetryConfig()}
}

// Resolve implements Resolver.
func (r *PathResolver) Resolve(ctx context.Context, uri string) (string, error) {
	path, err := localPath(uri)
	if err != nil {
		return "", err
	}
	if !r.allowed(path) {
		return "", fmt.Errorf("%s: %w", path, ErrOutsideRoots)
	}
	if err := filesystem.CheckReadable(ctx, path, r.Retry); err != nil {
		return "", err
	}
	return path, nil
}

func localPath(uri string) (string, error) {
	path := uri
	if strings.Contains(uri, "://") {
		u, err := url.Parse(uri)
		if err != nil {
			return "", err
		}
		if u.Scheme != "file" {
			return "", fmt.Errorf("%s: %w", u.Scheme, ErrNotFileURI)
		}
		if u.Host != "" && u.Host != "localhost" {
			return "", fmt.Errorf("host %q: %w", u.Host, ErrNotFileURI)
		}
		path = u.Path
	}
	if !filepath.IsAbs(path) {
		return "", ErrRelativePath
	}
	return filepath.Clean(path), nil
}

func (r *PathResolver) allowed(path string) bool {
	if len(r.Roots) == 0 {
		return true
	}
	for _, root := range r.Roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) || root == string(filepath.Separator) {
			return true
		}
	}
	return false
}
