// Package detector locates the anchor region an overlay is placed on.
//
// Detection is deterministic: the same decoded image always yields the
// bit-identical anchor. A nil anchor with a nil error means the image has
// no usable region, which callers report as a normal outcome.
package detector

import (
	"context"
	"fmt"
	"math"

	apperrors "go-degen-pov/internal/errors"
	"go-degen-pov/pkg/models"
)

// Detector finds a DetectedAnchor in a source image
type Detector interface {
	Detect(ctx context.Context, src *models.SourceImage) (*models.DetectedAnchor, error)
	Name() string
}

// Config holds the tuning knobs shared by the detector variants
type Config struct {
	// MaxPixels bounds the working raster; larger inputs are downscaled
	MaxPixels int
	// BlurRadius is the Gaussian smoothing radius in working pixels; 0 disables it
	BlurRadius float64
	// MinArea is the smallest component kept, as a fraction of the image
	MinArea float64
	// ReferenceSpan is the region size in source pixels that maps to scale 1
	ReferenceSpan float64
	// MaxRotation clamps the estimated rotation, in radians
	MaxRotation float64
	// TargetArea is the fraction of the image at which the size score saturates
	TargetArea float64
	// Threshold is the minimum confidence of a usable anchor
	Threshold float64
	// FixedWidth is the overlay width the fixed variant scales to the image width
	FixedWidth float64
}

// DefaultConfig returns the default detection parameters
func DefaultConfig() Config {
	return Config{
		MaxPixels:     1_000_000,
		BlurRadius:    1.0,
		MinArea:       0.001,
		ReferenceSpan: 100,
		MaxRotation:   30 * math.Pi / 180,
		TargetArea:    0.02,
		Threshold:     0.5,
		FixedWidth:    1080,
	}
}

// Validate checks that the configuration can produce valid anchors
func (c Config) Validate() error {
	switch {
	case c.MaxPixels <= 0:
		return fmt.Errorf("detector max pixels must be > 0 (got %d)", c.MaxPixels)
	case c.BlurRadius < 0:
		return fmt.Errorf("detector blur radius must be >= 0 (got %v)", c.BlurRadius)
	case c.MinArea < 0 || c.MinArea >= 1:
		return fmt.Errorf("detector min area must be within [0,1) (got %v)", c.MinArea)
	case c.ReferenceSpan <= 0:
		return fmt.Errorf("detector reference span must be > 0 (got %v)", c.ReferenceSpan)
	case c.MaxRotation < 0 || c.MaxRotation > math.Pi/4:
		return fmt.Errorf("detector max rotation must be within [0,pi/4] (got %v)", c.MaxRotation)
	case c.TargetArea <= 0 || c.TargetArea > 1:
		return fmt.Errorf("detector target area must be within (0,1] (got %v)", c.TargetArea)
	case c.Threshold < 0 || c.Threshold > 1:
		return fmt.Errorf("detector threshold must be within [0,1] (got %v)", c.Threshold)
	case c.FixedWidth <= 0:
		return fmt.Errorf("detector fixed width must be > 0 (got %v)", c.FixedWidth)
	}
	return nil
}

func checkSource(src *models.SourceImage) error {
	if src == nil || src.Image == nil {
		return apperrors.NewInvalidInputError("no image to detect on", nil)
	}
	b := src.Image.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return apperrors.NewInvalidInputError(
			fmt.Sprintf("image has no pixels (%dx%d)", b.Dx(), b.Dy()), nil)
	}
	return nil
}

// selectAnchor picks the most confident candidate, breaking ties by the
// leftmost then topmost center. Candidates strictly below threshold are
// rejected; a confidence equal to the threshold is accepted.
func selectAnchor(candidates []models.DetectedAnchor, threshold float64) *models.DetectedAnchor {
	var best *models.DetectedAnchor
	for i := range candidates {
		c := &candidates[i]
		if best == nil || outranks(c, best) {
			best = c
		}
	}
	if best == nil || best.Confidence < threshold {
		return nil
	}
	out := *best
	return &out
}

func outranks(a, b *models.DetectedAnchor) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Center.X != b.Center.X {
		return a.Center.X < b.Center.X
	}
	return a.Center.Y < b.Center.Y
}

// foldRotation maps a principal-axis angle onto the nearest image axis
// and clamps it to max.
func foldRotation(theta, max float64) float64 {
	for theta > math.Pi/4 {
		theta -= math.Pi / 2
	}
	for theta < -math.Pi/4 {
		theta += math.Pi / 2
	}
	return math.Max(-max, math.Min(max, theta))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
