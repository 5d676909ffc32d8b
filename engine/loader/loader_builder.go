package loader

import (
	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-splat/engine/splat"
)

// LoaderBuilderOption is a functional option for configuring a Loader via NewLoader.
type LoaderBuilderOption func(*loader)

// WithPool sets the worker pool rows are decoded on. Without one, a pool with a worker per CPU
// is created.
//
// Parameters:
//   - pool: the worker pool
//
// Returns:
//   - LoaderBuilderOption: a function that applies the pool option to a loader
func WithPool(pool worker.DynamicWorkerPool) LoaderBuilderOption {
	return func(l *loader) {
		l.pool = pool
	}
}

// WithMaxGaussians rejects files declaring more Gaussians than max. Zero means no limit.
//
// Parameters:
//   - max: the largest accepted vertex count
//
// Returns:
//   - LoaderBuilderOption: a function that applies the limit to a loader
func WithMaxGaussians(max int) LoaderBuilderOption {
	return func(l *loader) {
		l.maxGaussians = max
	}
}

// WithCloud pre-populates the cache with a cloud.
//
// Parameters:
//   - key: the cache key for the cloud
//   - cloud: the cloud to cache
//
// Returns:
//   - LoaderBuilderOption: a function that caches the cloud
func WithCloud(key string, cloud *splat.PointCloud) LoaderBuilderOption {
	return func(l *loader) {
		l.cloudCache[key] = cloud
	}
}
