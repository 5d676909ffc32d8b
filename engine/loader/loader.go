package loader

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-splat/common"
	"github.com/Carmen-Shannon/oxy-splat/engine/splat"
)

// ErrUnsupportedFormat is returned for a file extension no backend handles.
var ErrUnsupportedFormat = errors.New("loader: unsupported point cloud format")

// LoaderBackendType identifies the point cloud file format backend to use.
type LoaderBackendType int

const (
	// BackendTypePLY selects the 3D Gaussian splatting PLY backend.
	BackendTypePLY LoaderBackendType = iota
)

// loader is the implementation of the Loader interface.
type loader struct {
	mu sync.RWMutex

	pool         worker.DynamicWorkerPool
	maxGaussians int

	cloudCache map[string]*splat.PointCloud

	backend loaderBackend
}

// Loader loads and caches point clouds. It abstracts the file format behind a backend.
type Loader interface {
	// Load decodes a point cloud file and caches the result by path.
	// If the cloud is already cached the cached version is returned.
	//
	// Parameters:
	//   - path: the file path
	//
	// Returns:
	//   - *splat.PointCloud: the loaded cloud
	//   - error: ErrUnsupportedFormat, or a decode error
	Load(path string) (*splat.PointCloud, error)

	// LoadReader decodes a point cloud from a stream and caches it by name.
	//
	// Parameters:
	//   - name: the cache key
	//   - r: the reader providing the file contents
	//
	// Returns:
	//   - *splat.PointCloud: the loaded cloud
	//   - error: a decode error
	LoadReader(name string, r io.Reader) (*splat.PointCloud, error)

	// Get retrieves a cached cloud by name. Returns nil if not found.
	Get(name string) *splat.PointCloud

	// Clouds returns a copy of the cache.
	Clouds() map[string]*splat.PointCloud
}

var _ Loader = &loader{}

// NewLoader creates a Loader for a backend.
//
// Parameters:
//   - backendType: the file format backend
//   - options: a variadic list of LoaderBuilderOption functions
//
// Returns:
//   - Loader: the loader
func NewLoader(backendType LoaderBackendType, options ...LoaderBuilderOption) Loader {
	l := &loader{
		cloudCache: make(map[string]*splat.PointCloud),
	}
	for _, option := range options {
		option(l)
	}
	if l.pool == nil {
		l.pool = common.NewComputePool(0)
	}

	switch backendType {
	case BackendTypePLY:
		l.backend = newPLYLoaderBackend(l.pool, l.maxGaussians)
	}
	return l
}

func (l *loader) Load(path string) (*splat.PointCloud, error) {
	if cached := l.Get(path); cached != nil {
		return cached, nil
	}

	backend, err := l.resolveBackend(path)
	if err != nil {
		return nil, err
	}
	cloud, err := backend.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loader: load %s: %w", path, err)
	}
	l.store(path, cloud)
	return cloud, nil
}

func (l *loader) LoadReader(name string, r io.Reader) (*splat.PointCloud, error) {
	if cached := l.Get(name); cached != nil {
		return cached, nil
	}

	cloud, err := l.backend.LoadReader(r)
	if err != nil {
		return nil, fmt.Errorf("loader: load %q: %w", name, err)
	}
	l.store(name, cloud)
	return cloud, nil
}

func (l *loader) store(name string, cloud *splat.PointCloud) {
	l.mu.Lock()
	l.cloudCache[name] = cloud
	l.mu.Unlock()

	common.Logger().Info("loader: cloud loaded",
		"name", name,
		"gaussians", cloud.Len(),
		"shDegree", cloud.SHDegree())
}

func (l *loader) Get(name string) *splat.PointCloud {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cloudCache[name]
}

func (l *loader) Clouds() map[string]*splat.PointCloud {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return maps.Clone(l.cloudCache)
}

// resolveBackend selects a backend based on the file extension.
func (l *loader) resolveBackend(path string) (loaderBackend, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".ply":
		return l.backend, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}
