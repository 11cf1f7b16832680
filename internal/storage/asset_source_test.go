package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalAssetSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("id: b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("png"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	src, err := NewLocalAssetSource(dir)
	require.NoError(t, err)

	names, err := src.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.yaml"}, names)

	rc, err := src.Open(context.Background(), "b.yaml")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "id: b", string(data))

	_, err = src.Open(context.Background(), "missing.png")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	_, err = src.Open(context.Background(), "../escape.png")
	assert.Error(t, err)

	assert.True(t, strings.HasPrefix(src.Describe(), "local:"))
}

func TestNewLocalAssetSource_Errors(t *testing.T) {
	_, err := NewLocalAssetSource(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = NewLocalAssetSource(file)
	assert.Error(t, err)
}

type flakySource struct {
	failures int
	calls    int
	openErr  error
}

func (f *flakySource) List(ctx context.Context) ([]string, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}
	return []string{"a.png"}, nil
}

func (f *flakySource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	f.calls++
	if f.openErr != nil {
		return nil, f.openErr
	}
	return io.NopCloser(strings.NewReader(name)), nil
}

func (f *flakySource) Describe() string { return "flaky" }

func TestWithRetry_RetriesTransientErrors(t *testing.T) {
	flaky := &flakySource{failures: 2}
	src := WithRetry(flaky, 10*time.Second)

	names, err := src.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png"}, names)
	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, "flaky", src.Describe())
}

func TestWithRetry_NotFoundIsPermanent(t *testing.T) {
	flaky := &flakySource{openErr: ErrObjectNotFound}
	src := WithRetry(flaky, 10*time.Second)

	_, err := src.Open(context.Background(), "missing.png")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.Equal(t, 1, flaky.calls)
}

func TestWithRetry_StopsOnCancelledContext(t *testing.T) {
	flaky := &flakySource{failures: 1000}
	src := WithRetry(flaky, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := src.List(ctx)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNewAzureAssetSource(t *testing.T) {
	_, err := NewAzureAssetSource(AzureOptions{AccountName: "acct"})
	assert.Error(t, err)

	src, err := NewAzureAssetSource(AzureOptions{
		AccountName: "acct",
		AccountKey:  "dGVzdGtleQ==",
		Container:   "overlays",
		Prefix:      "/hands/",
		Endpoint:    "http://127.0.0.1:10000/acct",
	})
	require.NoError(t, err)
	assert.Equal(t, "azure:overlays/hands/", src.Describe())
}
