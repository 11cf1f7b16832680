package container

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-degen-pov/internal/config"
	"go-degen-pov/internal/factory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func encodePNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hands.png"), encodePNG(t, 60, 40, color.NRGBA{R: 255, A: 255}), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hands.yaml"), []byte(`
reference_width: 60
reference_height: 40
anchor: {x: 30, y: 40}
`), 0o644))

	cfg, err := config.Load(config.New())
	require.NoError(t, err)
	cfg.Assets.Dir = dir
	cfg.Detect.Variant = "fixed"
	cfg.Detect.FixedWidth = 120
	return cfg
}

func TestContainer_ServesOverlays(t *testing.T) {
	source := encodePNG(t, 120, 80, color.White)
	images := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(source)
	}))
	defer images.Close()

	c, err := NewContainer(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer c.Close()
	require.NotNil(t, c.Handler())
	assert.Equal(t, 1, c.Registry().Len())
	assert.NoError(t, c.RunBot(context.Background()), "disabled bot returns immediately")

	req := httptest.NewRequest(http.MethodPost, "/v1/overlay", strings.NewReader(`{"url":"`+images.URL+`/cat.png"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 120, 80), out.Bounds())

	// the overlay keeps its size and sits on the bottom edge
	r, g, b, _ := out.At(60, 70).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0, 0}, [3]uint32{r, g, b})
	r, g, b, _ = out.At(60, 5).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0xffff, 0xffff}, [3]uint32{r, g, b})

	w = httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "degenpov_pipeline_started_total 1")
}

func TestLoadRegistry_Errors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Assets.Default = "shades"
	_, err := LoadRegistry(context.Background(), cfg, factory.NewComponentFactory(cfg).SourceFactory)
	assert.ErrorContains(t, err, "shades")

	cfg = testConfig(t)
	cfg.Assets.Dir = filepath.Join(t.TempDir(), "missing")
	_, err = LoadRegistry(context.Background(), cfg, factory.NewComponentFactory(cfg).SourceFactory)
	assert.Error(t, err)
}
