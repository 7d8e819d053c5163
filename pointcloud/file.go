package pointcloud

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// WriteFile writes the cloud to a .pcd (binary) or .ply file chosen by the extension of path.
func WriteFile(cloud *PointCloud, path string) (err error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pcd" && ext != ".ply" {
		return errors.Errorf("unsupported point cloud extension %q", ext)
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	if ext == ".ply" {
		return ToPLY(cloud, f)
	}
	return ToPCD(cloud, f, PCDBinary)
}
