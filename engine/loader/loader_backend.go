package loader

import (
	"io"

	"github.com/Carmen-Shannon/oxy-splat/engine/splat"
)

// loaderBackend defines the interface for decoding point clouds from files or streams.
// Concrete implementations (e.g., plyLoaderBackendImpl) handle format-specific details.
type loaderBackend interface {
	// Load decodes the point cloud stored at a path.
	//
	// Parameters:
	//   - path: the file path to load
	//
	// Returns:
	//   - *splat.PointCloud: the decoded cloud
	//   - error: error if loading fails
	Load(path string) (*splat.PointCloud, error)

	// LoadReader decodes a point cloud from a stream.
	//
	// Parameters:
	//   - r: the reader providing the file contents
	//
	// Returns:
	//   - *splat.PointCloud: the decoded cloud
	//   - error: error if decoding fails
	LoadReader(r io.Reader) (*splat.PointCloud, error)
}
