package factory

import (
	"fmt"
	"time"

	"go-degen-pov/internal/config"
	"go-degen-pov/internal/detector"
	"go-degen-pov/internal/storage"
)

// DetectorType selects an anchor detector variant
type DetectorType string

const (
	// SkinDetector locates the largest skin-toned region
	SkinDetector DetectorType = "skin"
	// FixedDetector places the overlay at the bottom centre
	FixedDetector DetectorType = "fixed"
)

// SourceType selects where overlay assets are loaded from
type SourceType string

const (
	// LocalSource reads a directory on disk
	LocalSource SourceType = "local"
	// AzureSource reads an Azure Blob Storage container
	AzureSource SourceType = "azure"
)

// DetectorFactory creates anchor detectors
type DetectorFactory interface {
	CreateDetector(detectorType DetectorType) (detector.Detector, error)
}

// SourceFactory creates asset sources
type SourceFactory interface {
	CreateSource(sourceType SourceType) (storage.AssetSource, error)
}

type detectorFactory struct {
	cfg detector.Config
}

// NewDetectorFactory creates a detector factory sharing cfg across variants
func NewDetectorFactory(cfg detector.Config) DetectorFactory {
	return &detectorFactory{cfg: cfg}
}

// CreateDetector creates a detector based on the specified type
func (f *detectorFactory) CreateDetector(detectorType DetectorType) (detector.Detector, error) {
	if err := f.cfg.Validate(); err != nil {
		return nil, err
	}
	switch detectorType {
	case SkinDetector:
		return detector.NewSkinDetector(f.cfg), nil
	case FixedDetector:
		return detector.NewFixedDetector(f.cfg), nil
	default:
		return nil, fmt.Errorf("unsupported detector type: %s", detectorType)
	}
}

type sourceFactory struct {
	dir             string
	azure           storage.AzureOptions
	retryMaxElapsed time.Duration
}

// NewSourceFactory creates an asset source factory
func NewSourceFactory(dir string, azure storage.AzureOptions, retryMaxElapsed time.Duration) SourceFactory {
	return &sourceFactory{dir: dir, azure: azure, retryMaxElapsed: retryMaxElapsed}
}

// CreateSource creates a retrying asset source based on the specified type
func (f *sourceFactory) CreateSource(sourceType SourceType) (storage.AssetSource, error) {
	var (
		src storage.AssetSource
		err error
	)
	switch sourceType {
	case LocalSource:
		src, err = storage.NewLocalAssetSource(f.dir)
	case AzureSource:
		src, err = storage.NewAzureAssetSource(f.azure)
	default:
		return nil, fmt.Errorf("unsupported asset source type: %s", sourceType)
	}
	if err != nil {
		return nil, err
	}
	return storage.WithRetry(src, f.retryMaxElapsed), nil
}

// ComponentFactory combines all factories
type ComponentFactory struct {
	DetectorFactory DetectorFactory
	SourceFactory   SourceFactory
}

// NewComponentFactory creates the factories described by cfg
func NewComponentFactory(cfg *config.Config) *ComponentFactory {
	return &ComponentFactory{
		DetectorFactory: NewDetectorFactory(cfg.DetectorConfig()),
		SourceFactory:   NewSourceFactory(cfg.Assets.Dir, cfg.AzureOptions(), cfg.Assets.RetryMaxElapsed),
	}
}
