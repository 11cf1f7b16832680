package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"go-degen-pov/internal/logger"
)

// ErrObjectNotFound is returned by AssetSource.Open for missing names
var ErrObjectNotFound = errors.New("object not found")

// AssetSource lists and opens the files an asset registry is built from.
// Names are slash separated and relative to the source root.
type AssetSource interface {
	List(ctx context.Context) ([]string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Describe() string
}

type localAssetSource struct {
	dir string
}

// NewLocalAssetSource serves assets from a directory on disk
func NewLocalAssetSource(dir string) (AssetSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("asset directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("asset directory: %s is not a directory", dir)
	}
	return &localAssetSource{dir: dir}, nil
}

func (s *localAssetSource) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *localAssetSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !fs.ValidPath(name) || strings.Contains(name, "/") {
		return nil, fmt.Errorf("open %q: invalid asset name", name)
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("open %q: %w", name, ErrObjectNotFound)
	}
	return f, err
}

func (s *localAssetSource) Describe() string {
	return "local:" + s.dir
}

type retryingAssetSource struct {
	next       AssetSource
	maxElapsed time.Duration
}

// WithRetry retries List and Open with exponential backoff until maxElapsed.
// Missing objects are not retried.
func WithRetry(src AssetSource, maxElapsed time.Duration) AssetSource {
	return &retryingAssetSource{next: src, maxElapsed: maxElapsed}
}

func (r *retryingAssetSource) policy(ctx context.Context) backoff.BackOffContext {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = r.maxElapsed
	return backoff.WithContext(policy, ctx)
}

func (r *retryingAssetSource) notify(op string) backoff.Notify {
	return func(err error, wait time.Duration) {
		logger.WithFields(logrus.Fields{
			"source":    r.next.Describe(),
			"operation": op,
			"wait":      wait.String(),
		}).WithError(err).Warn("Asset source operation failed, retrying")
	}
}

func (r *retryingAssetSource) List(ctx context.Context) ([]string, error) {
	var names []string
	err := backoff.RetryNotify(func() error {
		var err error
		names, err = r.next.List(ctx)
		return err
	}, r.policy(ctx), r.notify("list"))
	return names, err
}

func (r *retryingAssetSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := backoff.RetryNotify(func() error {
		var err error
		rc, err = r.next.Open(ctx, name)
		if errors.Is(err, ErrObjectNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, r.policy(ctx), r.notify("open"))
	return rc, err
}

func (r *retryingAssetSource) Describe() string {
	return r.next.Describe()
}
