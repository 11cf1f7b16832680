package models

import (
	"fmt"
	"image"
	"math"
	"time"
)

// SourceImage is a decoded raster owned by a single pipeline invocation
type SourceImage struct {
	Image     image.Image
	Width     int
	Height    int
	Format    string // decoder name as reported by image.Decode
	SizeBytes int
}

// NewSourceImage wraps a decoded image and records its dimensions
func NewSourceImage(img image.Image, format string, size int) *SourceImage {
	b := img.Bounds()
	return &SourceImage{
		Image:     img,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Format:    format,
		SizeBytes: size,
	}
}

// Point is a position in source image pixel coordinates
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// DetectedAnchor describes where and how an overlay is placed.
// A missing detection is represented by a nil *DetectedAnchor.
type DetectedAnchor struct {
	Center     Point   `json:"center"`
	Scale      float64 `json:"scale"`
	Rotation   float64 `json:"rotation"` // radians
	Confidence float64 `json:"confidence"`
}

// Validate checks the anchor invariants
func (a DetectedAnchor) Validate() error {
	if !(a.Scale > 0) || math.IsInf(a.Scale, 0) {
		return fmt.Errorf("anchor scale must be > 0 (got %v)", a.Scale)
	}
	if a.Confidence < 0 || a.Confidence > 1 || math.IsNaN(a.Confidence) {
		return fmt.Errorf("anchor confidence must be within [0,1] (got %v)", a.Confidence)
	}
	if math.IsNaN(a.Center.X) || math.IsNaN(a.Center.Y) || math.IsNaN(a.Rotation) {
		return fmt.Errorf("anchor geometry is not a number")
	}
	return nil
}

// CompositeResult is the encoded output handed to the caller
type CompositeResult struct {
	Bytes       []byte
	Format      string
	ContentType string
	Width       int
	Height      int
}

// PipelineRequest is the input of one pipeline invocation
type PipelineRequest struct {
	SourceURL string
	AssetID   string
	Deadline  time.Time
}
