package validation

import (
	"fmt"

	apperrors "go-degen-pov/internal/errors"
)

// ImageLimits bounds the rasters accepted by the pipeline
type ImageLimits struct {
	MinWidth  int
	MinHeight int
	// MaxPixels is the decompression-bomb ceiling; 0 disables it
	MaxPixels int
}

// DefaultImageLimits returns the default raster limits
func DefaultImageLimits() ImageLimits {
	return ImageLimits{
		MinWidth:  1,
		MinHeight: 1,
		MaxPixels: 40_000_000,
	}
}

// ImageValidator checks decoded image headers against ImageLimits
type ImageValidator struct {
	limits ImageLimits
}

// NewImageValidatorWithLimits creates an image validator with custom limits
func NewImageValidatorWithLimits(limits ImageLimits) *ImageValidator {
	if limits.MinWidth < 1 {
		limits.MinWidth = 1
	}
	if limits.MinHeight < 1 {
		limits.MinHeight = 1
	}
	return &ImageValidator{limits: limits}
}

// ValidateDimensions rejects empty, undersized and oversized rasters.
// It runs on the header before the full decode.
func (v *ImageValidator) ValidateDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return apperrors.NewInvalidInputError(
			fmt.Sprintf("image has no pixels (%dx%d)", width, height), nil)
	}
	if width < v.limits.MinWidth || height < v.limits.MinHeight {
		return apperrors.NewInvalidInputError(
			fmt.Sprintf("image too small: %dx%d, minimum %dx%d",
				width, height, v.limits.MinWidth, v.limits.MinHeight), nil)
	}
	if v.limits.MaxPixels > 0 && int64(width)*int64(height) > int64(v.limits.MaxPixels) {
		return apperrors.NewPayloadTooLargeError(
			fmt.Sprintf("image too large: %dx%d exceeds %d pixels", width, height, v.limits.MaxPixels), nil)
	}
	return nil
}
