package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"go-degen-pov/internal/assets"
	"go-degen-pov/internal/compositor"
	"go-degen-pov/internal/detector"
	apperrors "go-degen-pov/internal/errors"
	"go-degen-pov/internal/observer"
	"go-degen-pov/internal/storage"
	"go-degen-pov/pkg/models"
)

var (
	skin       = color.NRGBA{R: 224, G: 172, B: 138, A: 255}
	background = color.NRGBA{R: 40, G: 90, B: 200, A: 255}
	overlayRed = color.NRGBA{R: 255, A: 255}
)

// sceneImage is a 400x300 blue canvas with a 100x100 skin square centred on (200,150)
func sceneImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 400, 300))
	for y := 0; y < 300; y++ {
		for x := 0; x < 400; x++ {
			c := background
			if x >= 150 && x < 250 && y >= 100 && y < 200 {
				c = skin
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func blankImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 200, 200))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func handsRegistry(t *testing.T) *assets.Registry {
	t.Helper()
	raster := image.NewNRGBA(image.Rect(0, 0, 60, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 60; x++ {
			raster.SetNRGBA(x, y, overlayRed)
		}
	}
	asset, err := assets.NewOverlayAsset(assets.Descriptor{
		ID:              "hands",
		ReferenceWidth:  60,
		ReferenceHeight: 40,
		Anchor:          models.Point{X: 30, Y: 20},
	}, raster)
	require.NoError(t, err)
	reg, err := assets.NewRegistry(asset)
	require.NoError(t, err)
	return reg
}

type fakeFetcher struct {
	calls atomic.Int32
	fetch func(ctx context.Context, url string) (*models.SourceImage, error)
}

func (f *fakeFetcher) FetchImage(ctx context.Context, url string) (*models.SourceImage, error) {
	f.calls.Add(1)
	return f.fetch(ctx, url)
}

func serving(img image.Image) *fakeFetcher {
	return &fakeFetcher{fetch: func(ctx context.Context, url string) (*models.SourceImage, error) {
		return models.NewSourceImage(img, "png", 0), nil
	}}
}

type fakeDetector struct {
	detect func(ctx context.Context, src *models.SourceImage) (*models.DetectedAnchor, error)
}

func (d fakeDetector) Detect(ctx context.Context, src *models.SourceImage) (*models.DetectedAnchor, error) {
	return d.detect(ctx, src)
}

func (d fakeDetector) Name() string { return "fake" }

type failingCompositor struct{ err error }

func (c failingCompositor) Composite(ctx context.Context, src *models.SourceImage, asset *assets.OverlayAsset, anchor models.DetectedAnchor) (*models.CompositeResult, error) {
	return nil, c.err
}

type recorder struct {
	mu     sync.Mutex
	events []observer.PipelineEvent
}

func (r *recorder) OnEvent(ctx context.Context, event observer.PipelineEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) GetObserverName() string { return "recorder" }

func (r *recorder) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var states []string
	for _, e := range r.events {
		states = append(states, e.State)
	}
	return states
}

type harness struct {
	fetcher    storage.ImageFetcher
	detector   detector.Detector
	compositor compositor.Compositor
	opts       Options
}

func newOrchestrator(t *testing.T, h harness) (*Orchestrator, *recorder) {
	t.Helper()
	if h.detector == nil {
		h.detector = detector.NewSkinDetector(detector.DefaultConfig())
	}
	if h.compositor == nil {
		c, err := compositor.NewOverlayCompositor(compositor.DefaultOptions())
		require.NoError(t, err)
		h.compositor = c
	}
	if h.opts == (Options{}) {
		h.opts = DefaultOptions()
		h.opts.Workers = 2
	}
	rec := &recorder{}
	events := observer.NewEventPublisher()
	events.Subscribe(rec)
	return NewOrchestrator(handsRegistry(t), h.fetcher, h.detector, h.compositor, events, h.opts), rec
}

func reasonOf(t *testing.T, err error) apperrors.Reason {
	t.Helper()
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T", err)
	return apperrors.ReasonOf(err)
}

func TestOrchestrator_PlacesOverlayOnDetectedRegion(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, rec := newOrchestrator(t, harness{fetcher: serving(sceneImage())})
	defer o.Close()

	result, err := o.Run(context.Background(), models.PipelineRequest{SourceURL: "https://cdn.example.com/a.png", AssetID: "hands"})
	require.NoError(t, err)
	require.NotNil(t, result)

	img, err := png.Decode(bytes.NewReader(result.Bytes))
	require.NoError(t, err)
	assert.Equal(t, 400, img.Bounds().Dx())
	assert.Equal(t, 300, img.Bounds().Dy())

	r, g, b, _ := img.At(200, 150).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Zero(t, g)
	assert.Zero(t, b)

	// outside the overlay the source is untouched
	r, g, b, _ = img.At(10, 10).RGBA()
	assert.Equal(t, []uint32{40, 90, 200}, []uint32{r >> 8, g >> 8, b >> 8})

	assert.Equal(t, []string{"accepted", "fetching", "detecting", "compositing", "done"}, rec.states())
	assert.Equal(t, observer.PipelineCompleted, rec.events[len(rec.events)-1].EventType)
	assert.Equal(t, "cdn.example.com", rec.events[0].URLHost)
}

func TestOrchestrator_DefaultsAsset(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, _ := newOrchestrator(t, harness{fetcher: serving(sceneImage())})
	defer o.Close()

	_, err := o.Run(context.Background(), models.PipelineRequest{SourceURL: "https://example.com/a.png"})
	assert.NoError(t, err)
}

func TestOrchestrator_UnknownAssetSkipsFetch(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := serving(sceneImage())
	o, rec := newOrchestrator(t, harness{fetcher: fetcher})
	defer o.Close()

	_, err := o.Run(context.Background(), models.PipelineRequest{SourceURL: "https://example.com/a.png", AssetID: "nope"})
	assert.Equal(t, apperrors.ReasonAssetNotFound, reasonOf(t, err))
	assert.Zero(t, fetcher.calls.Load())
	assert.Equal(t, []string{"accepted", "failed"}, rec.states())
}

func TestOrchestrator_FailureReasons(t *testing.T) {
	tests := []struct {
		name       string
		fetcher    *fakeFetcher
		detector   detector.Detector
		compositor compositor.Compositor
		want       apperrors.Reason
	}{
		{
			name:    "no anchor in blank image",
			fetcher: serving(blankImage()),
			want:    apperrors.ReasonNoAnchorFound,
		},
		{
			name: "fetch invalid input kept",
			fetcher: &fakeFetcher{fetch: func(ctx context.Context, url string) (*models.SourceImage, error) {
				return nil, apperrors.NewDecodeError("not an image", nil)
			}},
			want: apperrors.ReasonInvalidInput,
		},
		{
			name: "plain fetch error wrapped",
			fetcher: &fakeFetcher{fetch: func(ctx context.Context, url string) (*models.SourceImage, error) {
				return nil, fmt.Errorf("connection reset")
			}},
			want: apperrors.ReasonFetch,
		},
		{
			name:    "detector invalid input",
			fetcher: serving(sceneImage()),
			detector: fakeDetector{detect: func(ctx context.Context, src *models.SourceImage) (*models.DetectedAnchor, error) {
				return nil, apperrors.NewInvalidInputError("degenerate image", nil)
			}},
			want: apperrors.ReasonInvalidInput,
		},
		{
			name:    "detector panic",
			fetcher: serving(sceneImage()),
			detector: fakeDetector{detect: func(ctx context.Context, src *models.SourceImage) (*models.DetectedAnchor, error) {
				panic("index out of range")
			}},
			want: apperrors.ReasonComposite,
		},
		{
			name:       "compositor failure wrapped",
			fetcher:    serving(sceneImage()),
			compositor: failingCompositor{err: fmt.Errorf("encoder broke")},
			want:       apperrors.ReasonComposite,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)

			o, rec := newOrchestrator(t, harness{fetcher: tt.fetcher, detector: tt.detector, compositor: tt.compositor})
			defer o.Close()

			result, err := o.Run(context.Background(), models.PipelineRequest{SourceURL: "https://example.com/a.png", AssetID: "hands"})
			assert.Nil(t, result)
			assert.Equal(t, tt.want, reasonOf(t, err))

			last := rec.events[len(rec.events)-1]
			assert.Equal(t, observer.PipelineFailed, last.EventType)
			assert.Equal(t, tt.want, last.Reason)
		})
	}
}

func TestOrchestrator_Timeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	hanging := &fakeFetcher{fetch: func(ctx context.Context, url string) (*models.SourceImage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	o, _ := newOrchestrator(t, harness{fetcher: hanging})
	defer o.Close()

	start := time.Now()
	_, err := o.Run(context.Background(), models.PipelineRequest{
		SourceURL: "https://example.com/slow.png",
		AssetID:   "hands",
		Deadline:  time.Now().Add(50 * time.Millisecond),
	})
	assert.Equal(t, apperrors.ReasonTimeout, reasonOf(t, err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestOrchestrator_ExpiredDeadlineSkipsFetch(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := serving(sceneImage())
	o, _ := newOrchestrator(t, harness{fetcher: fetcher})
	defer o.Close()

	_, err := o.Run(context.Background(), models.PipelineRequest{
		SourceURL: "https://example.com/a.png",
		AssetID:   "hands",
		Deadline:  time.Now().Add(-time.Second),
	})
	assert.Equal(t, apperrors.ReasonTimeout, reasonOf(t, err))
	assert.Zero(t, fetcher.calls.Load())
}

func TestOrchestrator_Busy(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	entered := make(chan struct{}, 4)
	blocking := &fakeFetcher{fetch: func(ctx context.Context, url string) (*models.SourceImage, error) {
		entered <- struct{}{}
		select {
		case <-release:
			return models.NewSourceImage(sceneImage(), "png", 0), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}

	opts := DefaultOptions()
	opts.Workers = 1
	opts.MaxInFlight = 1
	opts.QueueDepth = 1
	opts.QueueWait = 50 * time.Millisecond
	o, _ := newOrchestrator(t, harness{fetcher: blocking, opts: opts})
	defer o.Close()

	req := models.PipelineRequest{SourceURL: "https://example.com/a.png", AssetID: "hands"}
	first := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), req)
		first <- err
	}()
	<-entered

	// queued request gives up after QueueWait
	start := time.Now()
	queued := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), req)
		queued <- err
	}()
	require.Eventually(t, func() bool { return o.waiting.Load() == 1 }, time.Second, time.Millisecond)

	// queue is full, rejected immediately
	_, err := o.Run(context.Background(), req)
	assert.Equal(t, apperrors.ReasonBusy, reasonOf(t, err))

	assert.Equal(t, apperrors.ReasonBusy, reasonOf(t, <-queued))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	close(release)
	assert.NoError(t, <-first)
	assert.EqualValues(t, 1, blocking.calls.Load())
}

func TestOrchestrator_ConcurrentRunsMatchSequential(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, _ := newOrchestrator(t, harness{fetcher: serving(sceneImage())})
	defer o.Close()

	req := models.PipelineRequest{SourceURL: "https://example.com/a.png", AssetID: "hands"}
	want, err := o.Run(context.Background(), req)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*models.CompositeResult, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = o.Run(context.Background(), req)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, want.Bytes, results[i].Bytes, "run %d differs", i)
	}
}

func TestOrchestrator_RetriesThroughHTTPFetcher(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, sceneImage()))

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	fopts := storage.DefaultFetcherOptions()
	fopts.MaxAttempts = 4
	fopts.RetryWaitMin = time.Millisecond
	fopts.RetryWaitMax = 5 * time.Millisecond

	o, rec := newOrchestrator(t, harness{fetcher: storage.NewHTTPImageFetcher(fopts)})
	defer o.Close()

	result, err := o.Run(context.Background(), models.PipelineRequest{SourceURL: server.URL + "/img.png", AssetID: "hands"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Bytes)
	assert.EqualValues(t, 4, hits.Load())
	assert.Equal(t, "done", rec.states()[len(rec.states())-1])
}
