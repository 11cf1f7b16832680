package main

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	root.AddCommand(newServeCommand(), newAssetsCommand())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func assetDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "hands.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewNRGBA(image.Rect(0, 0, 6, 4))))
	require.NoError(t, f.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hands.yaml"),
		[]byte("reference_width: 6\nreference_height: 4\nanchor: {x: 3, y: 4}\n"), 0o644))
	return dir
}

func TestAssetsCommand(t *testing.T) {
	out, err := execute(t, "assets", "--assets-dir", assetDir(t))
	require.NoError(t, err)
	assert.Contains(t, out, "hands")
	assert.Contains(t, out, "6x4")
	assert.Contains(t, out, "1 assets, overlays: [hands]")
}

func TestAssetsCommand_InvalidAssets(t *testing.T) {
	dir := assetDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orphan.yaml"), []byte("reference_width: 1\n"), 0o644))

	_, err := execute(t, "assets", "--assets-dir", dir)
	assert.Error(t, err)

	_, err = execute(t, "assets", "--assets-dir", filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestVersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "degenbot version dev")
}
