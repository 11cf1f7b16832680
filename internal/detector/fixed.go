package detector

import (
	"context"

	"go-degen-pov/pkg/models"
)

// FixedDetector anchors at the bottom-center of every image, scaled so
// an overlay FixedWidth pixels wide spans the full image width.
type FixedDetector struct {
	cfg Config
}

func NewFixedDetector(cfg Config) *FixedDetector {
	return &FixedDetector{cfg: cfg}
}

func (d *FixedDetector) Name() string {
	return "fixed"
}

func (d *FixedDetector) Detect(ctx context.Context, src *models.SourceImage) (*models.DetectedAnchor, error) {
	if err := checkSource(src); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := src.Image.Bounds()
	return &models.DetectedAnchor{
		Center:     models.Point{X: float64(b.Dx()) / 2, Y: float64(b.Dy())},
		Scale:      float64(b.Dx()) / d.cfg.FixedWidth,
		Rotation:   0,
		Confidence: 1,
	}, nil
}
