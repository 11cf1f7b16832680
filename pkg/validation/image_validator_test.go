package validation

import (
	"testing"

	apperrors "go-degen-pov/internal/errors"
)

func TestNewImageValidatorWithLimits_ClampsMinimums(t *testing.T) {
	validator := NewImageValidatorWithLimits(ImageLimits{MaxPixels: 100})

	if validator.limits.MinWidth != 1 || validator.limits.MinHeight != 1 {
		t.Errorf("Expected minimum dimensions clamped to 1, got %+v", validator.limits)
	}
}

func TestValidateDimensions(t *testing.T) {
	validator := NewImageValidatorWithLimits(ImageLimits{MinWidth: 2, MinHeight: 2, MaxPixels: 10_000})

	tests := []struct {
		name          string
		width, height int
		wantReason    apperrors.Reason
	}{
		{name: "ok", width: 100, height: 100},
		{name: "zero", width: 0, height: 0, wantReason: apperrors.ReasonInvalidInput},
		{name: "zero width", width: 0, height: 10, wantReason: apperrors.ReasonInvalidInput},
		{name: "negative", width: -1, height: 10, wantReason: apperrors.ReasonInvalidInput},
		{name: "too small", width: 1, height: 50, wantReason: apperrors.ReasonInvalidInput},
		{name: "at ceiling", width: 100, height: 100},
		{name: "over ceiling", width: 101, height: 100, wantReason: apperrors.ReasonPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateDimensions(tt.width, tt.height)
			if tt.wantReason == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			appErr, ok := err.(*apperrors.AppError)
			if !ok {
				t.Fatalf("Expected AppError, got %T", err)
			}
			if appErr.Reason != tt.wantReason {
				t.Errorf("Expected reason %s, got %s", tt.wantReason, appErr.Reason)
			}
		})
	}
}

func TestValidateDimensions_NoCeiling(t *testing.T) {
	validator := NewImageValidatorWithLimits(ImageLimits{})
	if err := validator.ValidateDimensions(50_000, 50_000); err != nil {
		t.Errorf("Expected no ceiling when MaxPixels is 0, got %v", err)
	}
}
