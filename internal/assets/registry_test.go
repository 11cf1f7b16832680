package assets

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "go-degen-pov/internal/errors"
	"go-degen-pov/internal/storage"
)

func writePNG(t *testing.T, dir, name string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func handsDir(t *testing.T) string {
	dir := t.TempDir()
	writePNG(t, dir, "hands_portrait.png", 10, 20)
	writeFile(t, dir, "hands_portrait.yaml", `
group: hands
orientation: portrait
reference_width: 10
reference_height: 20
anchor: {x: 5, y: 20}
`)
	writePNG(t, dir, "hands_landscape.png", 20, 10)
	writeFile(t, dir, "hands_landscape.yml", `
group: hands
orientation: landscape
reference_width: 20
reference_height: 10
anchor: {x: 10, y: 10}
anchor_scale_hint: 0.5
`)
	writePNG(t, dir, "shades.png", 8, 4)
	writeFile(t, dir, "shades.yaml", `
id: sunglasses
reference_width: 8
reference_height: 4
anchor: {x: 4, y: 2}
`)
	writeFile(t, dir, "README.md", "not an asset")
	return dir
}

func loadDir(t *testing.T, dir string) (*Registry, error) {
	t.Helper()
	src, err := storage.NewLocalAssetSource(dir)
	require.NoError(t, err)
	return LoadAll(context.Background(), src, LoadOptions{Concurrency: 2})
}

func TestLoadAll(t *testing.T) {
	registry, err := loadDir(t, handsDir(t))
	require.NoError(t, err)

	assert.Equal(t, 3, registry.Len())
	assert.Equal(t, []string{"hands_landscape", "hands_portrait", "sunglasses"}, registry.IDs())
	assert.Equal(t, []string{"hands"}, registry.Groups())

	landscape, err := registry.Get("hands_landscape")
	require.NoError(t, err)
	assert.Equal(t, 0.5, landscape.AnchorScaleHint)
	assert.Equal(t, OrientationLandscape, landscape.Orientation)
	assert.Equal(t, image.Rect(0, 0, 20, 10), landscape.Raster.Bounds())

	shades, err := registry.Get("sunglasses")
	require.NoError(t, err)
	assert.Equal(t, 1.0, shades.AnchorScaleHint)
	assert.Equal(t, OrientationAny, shades.Orientation)
	assert.Equal(t, 4.0, shades.AnchorPoint.X)
}

func TestRegistry_Resolve(t *testing.T) {
	registry, err := loadDir(t, handsDir(t))
	require.NoError(t, err)

	set, err := registry.Resolve("hands")
	require.NoError(t, err)

	tests := []struct {
		name          string
		width, height int
		want          string
	}{
		{name: "tall", width: 100, height: 200, want: "hands_portrait"},
		{name: "wide", width: 200, height: 100, want: "hands_landscape"},
		{name: "square", width: 100, height: 100, want: "hands_landscape"},
		{name: "within tolerance", width: 100, height: 105, want: "hands_landscape"},
		{name: "just over tolerance", width: 100, height: 106, want: "hands_portrait"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, set.For(tt.width, tt.height).ID)
		})
	}

	single, err := registry.Resolve("hands_portrait")
	require.NoError(t, err)
	assert.Equal(t, "hands_portrait", single.For(200, 100).ID)

	_, err = registry.Resolve("nope")
	assert.True(t, apperrors.IsReason(err, apperrors.ReasonAssetNotFound))
	_, err = registry.Get("nope")
	assert.True(t, apperrors.IsReason(err, apperrors.ReasonAssetNotFound))
}

func TestLoadAll_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, dir string)
	}{
		{
			name: "missing sidecar",
			setup: func(t *testing.T, dir string) {
				writePNG(t, dir, "a.png", 2, 2)
			},
		},
		{
			name: "orphan sidecar",
			setup: func(t *testing.T, dir string) {
				writeFile(t, dir, "a.yaml", "reference_width: 2\nreference_height: 2\n")
			},
		},
		{
			name: "dimension mismatch",
			setup: func(t *testing.T, dir string) {
				writePNG(t, dir, "a.png", 2, 2)
				writeFile(t, dir, "a.yaml", "reference_width: 3\nreference_height: 2\n")
			},
		},
		{
			name: "duplicate id",
			setup: func(t *testing.T, dir string) {
				writePNG(t, dir, "a.png", 2, 2)
				writeFile(t, dir, "a.yaml", "id: x\nreference_width: 2\nreference_height: 2\n")
				writePNG(t, dir, "b.png", 2, 2)
				writeFile(t, dir, "b.yaml", "id: x\nreference_width: 2\nreference_height: 2\n")
			},
		},
		{
			name: "unknown key",
			setup: func(t *testing.T, dir string) {
				writePNG(t, dir, "a.png", 2, 2)
				writeFile(t, dir, "a.yaml", "reference_width: 2\nreference_height: 2\ncolour: red\n")
			},
		},
		{
			name: "zero scale hint",
			setup: func(t *testing.T, dir string) {
				writePNG(t, dir, "a.png", 2, 2)
				writeFile(t, dir, "a.yaml", "reference_width: 2\nreference_height: 2\nanchor_scale_hint: 0\n")
			},
		},
		{
			name: "anchor outside raster",
			setup: func(t *testing.T, dir string) {
				writePNG(t, dir, "a.png", 2, 2)
				writeFile(t, dir, "a.yaml", "reference_width: 2\nreference_height: 2\nanchor: {x: 3, y: 1}\n")
			},
		},
		{
			name: "two portrait variants",
			setup: func(t *testing.T, dir string) {
				writePNG(t, dir, "a.png", 2, 2)
				writeFile(t, dir, "a.yaml", "group: g\norientation: portrait\nreference_width: 2\nreference_height: 2\n")
				writePNG(t, dir, "b.png", 2, 2)
				writeFile(t, dir, "b.yaml", "group: g\norientation: portrait\nreference_width: 2\nreference_height: 2\n")
			},
		},
		{
			name: "corrupt raster",
			setup: func(t *testing.T, dir string) {
				writeFile(t, dir, "a.png", "not a png")
				writeFile(t, dir, "a.yaml", "reference_width: 2\nreference_height: 2\n")
			},
		},
		{
			name:  "empty directory",
			setup: func(t *testing.T, dir string) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.setup(t, dir)
			_, err := loadDir(t, dir)
			assert.Error(t, err)
		})
	}
}

func TestParseDescriptor_Defaults(t *testing.T) {
	desc, err := ParseDescriptor([]byte("reference_width: 4\nreference_height: 2\n"), "stem")
	require.NoError(t, err)

	assert.Equal(t, "stem", desc.ID)
	assert.Equal(t, OrientationAny, desc.Orientation)
	assert.Nil(t, desc.AnchorScaleHint)
}

func TestNewOverlayAsset_CopiesRaster(t *testing.T) {
	src := image.NewRGBA(image.Rect(5, 5, 7, 8))
	src.Set(5, 5, color.RGBA{R: 255, A: 255})

	asset, err := NewOverlayAsset(Descriptor{ID: "x", ReferenceWidth: 2, ReferenceHeight: 3}, src)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 2, 3), asset.Raster.Bounds())
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, asset.Raster.NRGBAAt(0, 0))

	src.Set(5, 5, color.RGBA{B: 255, A: 255})
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, asset.Raster.NRGBAAt(0, 0))
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	registry, err := loadDir(t, handsDir(t))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			set, err := registry.Resolve("hands")
			if assert.NoError(t, err) {
				assert.NotNil(t, set.For(100+i, 100))
			}
			assert.Len(t, registry.IDs(), 3)
		}(i)
	}
	wg.Wait()
}

func TestRegistry_Names(t *testing.T) {
	registry, err := loadDir(t, handsDir(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"hands", "sunglasses"}, registry.Names())
}
