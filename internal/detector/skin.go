package detector

import (
	"context"
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/blur"
	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"go-degen-pov/internal/logger"
	"go-degen-pov/pkg/models"
)

// rows processed between cancellation checks
const checkpointRows = 64

// Skin tone bounds in HSV space. Hue wraps around red.
var (
	skinHueLow   = 50.0
	skinHueHigh  = 340.0
	skinSatMin   = 0.15
	skinSatMax   = 0.80
	skinValueMin = 0.30
)

// SkinDetector finds the dominant skin-toned region of an image
type SkinDetector struct {
	cfg Config
}

func NewSkinDetector(cfg Config) *SkinDetector {
	return &SkinDetector{cfg: cfg}
}

func (d *SkinDetector) Name() string {
	return "skin"
}

type component struct {
	area                   int
	minX, minY, maxX, maxY int
	xs, ys                 []float64
}

func (d *SkinDetector) Detect(ctx context.Context, src *models.SourceImage) (*models.DetectedAnchor, error) {
	if err := checkSource(src); err != nil {
		return nil, err
	}

	work, sx, sy := d.workingRaster(src.Image)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mask, err := classify(ctx, work)
	if err != nil {
		return nil, err
	}

	wb := work.Bounds()
	total := wb.Dx() * wb.Dy()
	minArea := int(math.Ceil(d.cfg.MinArea * float64(total)))
	if minArea < 1 {
		minArea = 1
	}

	components, err := label(ctx, mask, wb.Dx(), wb.Dy(), sx, sy)
	if err != nil {
		return nil, err
	}

	candidates := make([]models.DetectedAnchor, 0, len(components))
	for _, c := range components {
		if c.area < minArea {
			continue
		}
		candidates = append(candidates, d.measure(c, total, sx, sy))
	}

	anchor := selectAnchor(candidates, d.cfg.Threshold)

	fields := logrus.Fields{
		"detector":   d.Name(),
		"components": len(components),
		"candidates": len(candidates),
		"downscale":  sx,
	}
	if anchor != nil {
		fields["confidence"] = anchor.Confidence
	}
	logger.WithFields(fields).Debug("Skin detection finished")

	return anchor, nil
}

// workingRaster returns a smoothed canonical copy of img, downscaled to at
// most MaxPixels, plus the factors mapping working to source coordinates.
func (d *SkinDetector) workingRaster(img image.Image) (image.Image, float64, float64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var canonical *image.NRGBA
	sx, sy := 1.0, 1.0
	if w*h > d.cfg.MaxPixels {
		f := math.Sqrt(float64(d.cfg.MaxPixels) / float64(w*h))
		nw := int(math.Max(1, math.Floor(float64(w)*f)))
		nh := int(math.Max(1, math.Floor(float64(h)*f)))
		canonical = imaging.Resize(img, nw, nh, imaging.Linear)
		sx = float64(w) / float64(nw)
		sy = float64(h) / float64(nh)
	} else {
		canonical = imaging.Clone(img)
	}

	if d.cfg.BlurRadius > 0 {
		return blur.Gaussian(canonical, d.cfg.BlurRadius), sx, sy
	}
	return canonical, sx, sy
}

func isSkin(c color.Color) bool {
	col, ok := colorful.MakeColor(c)
	if !ok {
		return false
	}
	h, s, v := col.Hsv()
	return (h <= skinHueLow || h >= skinHueHigh) &&
		s >= skinSatMin && s <= skinSatMax &&
		v >= skinValueMin
}

func classify(ctx context.Context, img image.Image) ([]bool, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	mask := make([]bool, w*h)

	for y := 0; y < h; y++ {
		if y%checkpointRows == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for x := 0; x < w; x++ {
			var c color.Color
			switch m := img.(type) {
			case *image.RGBA:
				c = m.RGBAAt(b.Min.X+x, b.Min.Y+y)
			case *image.NRGBA:
				c = m.NRGBAAt(b.Min.X+x, b.Min.Y+y)
			default:
				c = img.At(b.Min.X+x, b.Min.Y+y)
			}
			mask[y*w+x] = isSkin(c)
		}
	}
	return mask, nil
}

// label groups mask pixels into 4-connected components. Pixel centers are
// recorded in source coordinates using the sx, sy factors.
func label(ctx context.Context, mask []bool, w, h int, sx, sy float64) ([]*component, error) {
	seen := make([]bool, len(mask))
	var components []*component
	stack := make([]int, 0, 256)

	for y := 0; y < h; y++ {
		if y%checkpointRows == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for x := 0; x < w; x++ {
			start := y*w + x
			if !mask[start] || seen[start] {
				continue
			}

			c := &component{minX: x, minY: y, maxX: x, maxY: y}
			seen[start] = true
			stack = append(stack[:0], start)

			for len(stack) > 0 {
				idx := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				px, py := idx%w, idx/w

				c.area++
				c.xs = append(c.xs, (float64(px)+0.5)*sx)
				c.ys = append(c.ys, (float64(py)+0.5)*sy)
				c.minX = min(c.minX, px)
				c.maxX = max(c.maxX, px)
				c.minY = min(c.minY, py)
				c.maxY = max(c.maxY, py)

				if px > 0 && mask[idx-1] && !seen[idx-1] {
					seen[idx-1] = true
					stack = append(stack, idx-1)
				}
				if px < w-1 && mask[idx+1] && !seen[idx+1] {
					seen[idx+1] = true
					stack = append(stack, idx+1)
				}
				if py > 0 && mask[idx-w] && !seen[idx-w] {
					seen[idx-w] = true
					stack = append(stack, idx-w)
				}
				if py < h-1 && mask[idx+w] && !seen[idx+w] {
					seen[idx+w] = true
					stack = append(stack, idx+w)
				}
			}
			components = append(components, c)
		}
	}
	return components, nil
}

// measure derives the anchor geometry of one component from its moments
func (d *SkinDetector) measure(c *component, total int, sx, sy float64) models.DetectedAnchor {
	cx := stat.Mean(c.xs, nil)
	cy := stat.Mean(c.ys, nil)

	rotation := 0.0
	if c.area > 1 {
		mu20 := stat.Variance(c.xs, nil)
		mu02 := stat.Variance(c.ys, nil)
		mu11 := stat.Covariance(c.xs, c.ys, nil)
		// isotropic regions have no principal axis
		if math.Hypot(2*mu11, mu20-mu02) > 1e-6*(mu20+mu02) {
			rotation = foldRotation(0.5*math.Atan2(2*mu11, mu20-mu02), d.cfg.MaxRotation)
		}
	}

	sourceArea := float64(c.area) * sx * sy
	bbox := float64((c.maxX - c.minX + 1) * (c.maxY - c.minY + 1))
	fill := float64(c.area) / bbox
	size := math.Min(1, float64(c.area)/(d.cfg.TargetArea*float64(total)))

	return models.DetectedAnchor{
		Center:     models.Point{X: cx, Y: cy},
		Scale:      math.Sqrt(sourceArea) / d.cfg.ReferenceSpan,
		Rotation:   rotation,
		Confidence: clamp01(fill * size),
	}
}
