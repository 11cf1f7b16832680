package assets

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"gopkg.in/yaml.v3"

	"go-degen-pov/pkg/models"
)

// Orientation selects which source images an asset variant is meant for
type Orientation string

const (
	OrientationAny       Orientation = "any"
	OrientationPortrait  Orientation = "portrait"
	OrientationLandscape Orientation = "landscape"
)

// OverlayAsset is an immutable overlay graphic with its placement metadata
type OverlayAsset struct {
	ID              string
	Group           string
	Orientation     Orientation
	Raster          *image.NRGBA
	ReferenceWidth  int
	ReferenceHeight int
	AnchorPoint     models.Point
	AnchorScaleHint float64
}

// Descriptor is the YAML sidecar stored next to every asset raster
type Descriptor struct {
	ID              string       `yaml:"id"`
	Group           string       `yaml:"group"`
	Orientation     Orientation  `yaml:"orientation"`
	ReferenceWidth  int          `yaml:"reference_width"`
	ReferenceHeight int          `yaml:"reference_height"`
	Anchor          models.Point `yaml:"anchor"`
	AnchorScaleHint *float64     `yaml:"anchor_scale_hint"`
}

// ParseDescriptor decodes a sidecar. Unknown keys are rejected and
// the id defaults to stem.
func ParseDescriptor(data []byte, stem string) (Descriptor, error) {
	var desc Descriptor
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&desc); err != nil {
		return Descriptor{}, fmt.Errorf("parse descriptor: %w", err)
	}
	if desc.ID == "" {
		desc.ID = stem
	}
	if desc.Orientation == "" {
		desc.Orientation = OrientationAny
	}
	return desc, nil
}

// NewOverlayAsset validates desc against raster and builds the asset.
// The raster is copied into a zero-origin NRGBA.
func NewOverlayAsset(desc Descriptor, raster image.Image) (*OverlayAsset, error) {
	if desc.ID == "" {
		return nil, fmt.Errorf("asset id is required")
	}

	switch desc.Orientation {
	case OrientationAny, OrientationPortrait, OrientationLandscape:
	case "":
		desc.Orientation = OrientationAny
	default:
		return nil, fmt.Errorf("asset %s: unknown orientation %q", desc.ID, desc.Orientation)
	}

	if raster == nil {
		return nil, fmt.Errorf("asset %s: raster is required", desc.ID)
	}
	b := raster.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("asset %s: raster is empty", desc.ID)
	}
	if desc.ReferenceWidth != b.Dx() || desc.ReferenceHeight != b.Dy() {
		return nil, fmt.Errorf("asset %s: descriptor says %dx%d but raster is %dx%d",
			desc.ID, desc.ReferenceWidth, desc.ReferenceHeight, b.Dx(), b.Dy())
	}

	if desc.Anchor.X < 0 || desc.Anchor.Y < 0 ||
		desc.Anchor.X > float64(b.Dx()) || desc.Anchor.Y > float64(b.Dy()) {
		return nil, fmt.Errorf("asset %s: anchor (%v,%v) is outside the raster",
			desc.ID, desc.Anchor.X, desc.Anchor.Y)
	}

	hint := 1.0
	if desc.AnchorScaleHint != nil {
		hint = *desc.AnchorScaleHint
	}
	if !(hint > 0) || math.IsInf(hint, 0) {
		return nil, fmt.Errorf("asset %s: anchor_scale_hint must be > 0 (got %v)", desc.ID, hint)
	}

	return &OverlayAsset{
		ID:              desc.ID,
		Group:           desc.Group,
		Orientation:     desc.Orientation,
		Raster:          imaging.Clone(raster),
		ReferenceWidth:  desc.ReferenceWidth,
		ReferenceHeight: desc.ReferenceHeight,
		AnchorPoint:     desc.Anchor,
		AnchorScaleHint: hint,
	}, nil
}

// Info returns the transport view of the asset
func (a *OverlayAsset) Info() models.AssetInfo {
	return models.AssetInfo{
		ID:              a.ID,
		Group:           a.Group,
		Orientation:     string(a.Orientation),
		ReferenceWidth:  a.ReferenceWidth,
		ReferenceHeight: a.ReferenceHeight,
	}
}

// PortraitTolerance is how much taller than wide an image must be to count as portrait
const PortraitTolerance = 0.05

// AssetSet groups the orientation variants resolved for one id
type AssetSet struct {
	Name      string
	Portrait  *OverlayAsset
	Landscape *OverlayAsset
	Any       *OverlayAsset
}

// IsPortrait reports whether a width x height image counts as portrait
func IsPortrait(width, height int) bool {
	if width <= 0 {
		return false
	}
	return float64(height)/float64(width) > 1+PortraitTolerance
}

// For picks the variant matching the source dimensions
func (s AssetSet) For(width, height int) *OverlayAsset {
	if IsPortrait(width, height) {
		if s.Portrait != nil {
			return s.Portrait
		}
	} else if s.Landscape != nil {
		return s.Landscape
	}
	if s.Any != nil {
		return s.Any
	}
	if s.Landscape != nil {
		return s.Landscape
	}
	return s.Portrait
}

func (s *AssetSet) add(a *OverlayAsset) error {
	slot := &s.Any
	switch a.Orientation {
	case OrientationPortrait:
		slot = &s.Portrait
	case OrientationLandscape:
		slot = &s.Landscape
	}
	if *slot != nil {
		return fmt.Errorf("group %s has two %s variants: %s and %s", s.Name, a.Orientation, (*slot).ID, a.ID)
	}
	*slot = a
	return nil
}
