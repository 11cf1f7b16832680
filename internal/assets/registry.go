package assets

import (
	"context"
	"fmt"
	"io"
	"path"
	"runtime"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	_ "golang.org/x/image/webp"

	apperrors "go-degen-pov/internal/errors"
	"go-degen-pov/internal/logger"
	"go-degen-pov/internal/storage"
)

var rasterExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

var sidecarExtensions = []string{".yaml", ".yml"}

// Registry is the immutable catalog of overlay assets.
// It is safe for concurrent reads without locking.
type Registry struct {
	assets map[string]*OverlayAsset
	groups map[string]AssetSet
	ids    []string
}

// NewRegistry builds a registry from already decoded assets
func NewRegistry(list ...*OverlayAsset) (*Registry, error) {
	r := &Registry{
		assets: make(map[string]*OverlayAsset, len(list)),
		groups: make(map[string]AssetSet),
	}

	for _, a := range list {
		if a == nil {
			return nil, fmt.Errorf("nil asset")
		}
		if _, dup := r.assets[a.ID]; dup {
			return nil, fmt.Errorf("duplicate asset id %q", a.ID)
		}
		r.assets[a.ID] = a
		r.ids = append(r.ids, a.ID)
	}

	for _, a := range list {
		if a.Group == "" {
			continue
		}
		if other, clash := r.assets[a.Group]; clash && other.Group != a.Group {
			return nil, fmt.Errorf("group %q collides with asset id", a.Group)
		}
		set := r.groups[a.Group]
		set.Name = a.Group
		if err := set.add(a); err != nil {
			return nil, err
		}
		r.groups[a.Group] = set
	}

	sort.Strings(r.ids)
	return r, nil
}

// Get returns the asset with the given id
func (r *Registry) Get(id string) (*OverlayAsset, error) {
	a, ok := r.assets[id]
	if !ok {
		return nil, apperrors.NewAssetNotFoundError(fmt.Sprintf("unknown asset %q", id), nil)
	}
	return a, nil
}

// Resolve accepts a group name or an asset id.
// Groups take precedence so "hands" resolves to all its variants.
func (r *Registry) Resolve(id string) (AssetSet, error) {
	if set, ok := r.groups[id]; ok {
		return set, nil
	}
	a, err := r.Get(id)
	if err != nil {
		return AssetSet{}, err
	}
	return AssetSet{Name: a.ID, Any: a}, nil
}

// IDs returns the sorted asset ids
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}

// Groups returns the sorted group names
func (r *Registry) Groups() []string {
	groups := make([]string, 0, len(r.groups))
	for g := range r.groups {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// Names returns what a user can ask for: group names plus ids of
// ungrouped assets, sorted
func (r *Registry) Names() []string {
	names := r.Groups()
	for _, id := range r.ids {
		if r.assets[id].Group == "" {
			names = append(names, id)
		}
	}
	sort.Strings(names)
	return names
}

// Assets returns all assets ordered by id
func (r *Registry) Assets() []*OverlayAsset {
	out := make([]*OverlayAsset, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.assets[id])
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.assets)
}

// LoadOptions configures LoadAll
type LoadOptions struct {
	Concurrency int
}

type assetFiles struct {
	stem    string
	raster  string
	sidecar string
}

// LoadAll reads every raster and its sidecar from src.
// Any invalid or unpaired file fails the whole load.
func LoadAll(ctx context.Context, src storage.AssetSource, opts LoadOptions) (*Registry, error) {
	names, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list assets from %s: %w", src.Describe(), err)
	}

	files, err := pairFiles(names)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no assets found in %s", src.Describe())
	}

	workers := opts.Concurrency
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	p := pool.NewWithResults[*OverlayAsset]().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(workers)
	for _, f := range files {
		f := f
		p.Go(func(ctx context.Context) (*OverlayAsset, error) {
			return loadOne(ctx, src, f)
		})
	}
	loaded, err := p.Wait()
	if err != nil {
		return nil, err
	}

	registry, err := NewRegistry(loaded...)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"source": src.Describe(),
		"assets": registry.Len(),
		"groups": len(registry.groups),
	}).Info("Asset registry loaded")
	return registry, nil
}

func pairFiles(names []string) ([]assetFiles, error) {
	rasters := make(map[string]string)
	sidecars := make(map[string]string)

	for _, name := range names {
		ext := strings.ToLower(path.Ext(name))
		stem := strings.TrimSuffix(name, path.Ext(name))
		switch {
		case rasterExtensions[ext]:
			if prev, dup := rasters[stem]; dup {
				return nil, fmt.Errorf("asset %q has two rasters: %s and %s", stem, prev, name)
			}
			rasters[stem] = name
		case ext == sidecarExtensions[0] || ext == sidecarExtensions[1]:
			if prev, dup := sidecars[stem]; dup {
				return nil, fmt.Errorf("asset %q has two sidecars: %s and %s", stem, prev, name)
			}
			sidecars[stem] = name
		default:
			logger.WithField("file", name).Debug("Ignoring non-asset file")
		}
	}

	files := make([]assetFiles, 0, len(rasters))
	for stem, raster := range rasters {
		sidecar, ok := sidecars[stem]
		if !ok {
			return nil, fmt.Errorf("asset %s has no sidecar (%s.yaml)", raster, stem)
		}
		files = append(files, assetFiles{stem: stem, raster: raster, sidecar: sidecar})
	}
	for stem, sidecar := range sidecars {
		if _, ok := rasters[stem]; !ok {
			return nil, fmt.Errorf("sidecar %s has no raster", sidecar)
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].stem < files[j].stem })
	return files, nil
}

func loadOne(ctx context.Context, src storage.AssetSource, f assetFiles) (*OverlayAsset, error) {
	sidecar, err := readAll(ctx, src, f.sidecar)
	if err != nil {
		return nil, err
	}
	desc, err := ParseDescriptor(sidecar, f.stem)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.sidecar, err)
	}

	rc, err := src.Open(ctx, f.raster)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.raster, err)
	}
	defer rc.Close()

	raster, err := imaging.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.raster, err)
	}

	asset, err := NewOverlayAsset(desc, raster)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.raster, err)
	}
	return asset, nil
}

func readAll(ctx context.Context, src storage.AssetSource, name string) ([]byte, error) {
	rc, err := src.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}
