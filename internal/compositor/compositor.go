package compositor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"go-degen-pov/internal/assets"
	apperrors "go-degen-pov/internal/errors"
	"go-degen-pov/pkg/models"
)

// Compositor places an overlay asset onto a source image at an anchor
type Compositor interface {
	Composite(ctx context.Context, src *models.SourceImage, asset *assets.OverlayAsset, anchor models.DetectedAnchor) (*models.CompositeResult, error)
}

// Format selects the output encoding
type Format string

const (
	FormatPNG    Format = "png"
	FormatJPEG   Format = "jpeg"
	FormatSource Format = "source"
)

// Options configures OverlayCompositor
type Options struct {
	Format      Format
	JPEGQuality int
}

// DefaultOptions returns PNG output, matching what chat clients display losslessly
func DefaultOptions() Options {
	return Options{Format: FormatPNG, JPEGQuality: 90}
}

// OverlayCompositor blends overlays with a bilinear similarity transform
type OverlayCompositor struct {
	opts Options
}

func NewOverlayCompositor(opts Options) (*OverlayCompositor, error) {
	switch opts.Format {
	case FormatPNG, FormatJPEG, FormatSource:
	case "":
		opts.Format = FormatPNG
	default:
		return nil, fmt.Errorf("unsupported composite format %q", opts.Format)
	}
	if opts.JPEGQuality == 0 {
		opts.JPEGQuality = DefaultOptions().JPEGQuality
	}
	if opts.JPEGQuality < 1 || opts.JPEGQuality > 100 {
		return nil, fmt.Errorf("jpeg quality must be within [1,100] (got %d)", opts.JPEGQuality)
	}
	return &OverlayCompositor{opts: opts}, nil
}

// Transform returns the source-from-asset similarity q = c + s*R(theta)*(p - a)
// with s = anchor.Scale * asset.AnchorScaleHint.
func Transform(anchor models.DetectedAnchor, asset *assets.OverlayAsset) f64.Aff3 {
	s := anchor.Scale * asset.AnchorScaleHint
	cos := s * math.Cos(anchor.Rotation)
	sin := s * math.Sin(anchor.Rotation)
	ax, ay := asset.AnchorPoint.X, asset.AnchorPoint.Y
	cx, cy := anchor.Center.X, anchor.Center.Y

	return f64.Aff3{
		cos, -sin, cx - (cos*ax - sin*ay),
		sin, cos, cy - (sin*ax + cos*ay),
	}
}

// Apply maps p through m
func Apply(m f64.Aff3, p models.Point) models.Point {
	return models.Point{
		X: m[0]*p.X + m[1]*p.Y + m[2],
		Y: m[3]*p.X + m[4]*p.Y + m[5],
	}
}

func (c *OverlayCompositor) Composite(ctx context.Context, src *models.SourceImage, asset *assets.OverlayAsset, anchor models.DetectedAnchor) (*models.CompositeResult, error) {
	if src == nil || src.Image == nil || src.Image.Bounds().Empty() {
		return nil, apperrors.NewInvalidInputError("no source image to composite onto", nil)
	}
	if asset == nil || asset.Raster == nil {
		return nil, apperrors.NewCompositeError("no overlay asset", nil)
	}
	if err := anchor.Validate(); err != nil {
		return nil, apperrors.NewCompositeError("invalid anchor", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sb := src.Image.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, sb.Dx(), sb.Dy()))
	xdraw.Draw(dst, dst.Bounds(), src.Image, sb.Min, xdraw.Src)

	xdraw.BiLinear.Transform(dst, Transform(anchor, asset), asset.Raster, asset.Raster.Bounds(), xdraw.Over, nil)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	format, name := c.outputFormat(src.Format)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, format, imaging.JPEGQuality(c.opts.JPEGQuality)); err != nil {
		return nil, apperrors.NewCompositeError("failed to encode composite", err)
	}

	return &models.CompositeResult{
		Bytes:       buf.Bytes(),
		Format:      name,
		ContentType: "image/" + name,
		Width:       sb.Dx(),
		Height:      sb.Dy(),
	}, nil
}

func (c *OverlayCompositor) outputFormat(sourceFormat string) (imaging.Format, string) {
	switch c.opts.Format {
	case FormatJPEG:
		return imaging.JPEG, "jpeg"
	case FormatSource:
		if f, err := imaging.FormatFromExtension(sourceFormat); err == nil {
			return f, strings.ToLower(f.String())
		}
	}
	return imaging.PNG, "png"
}
