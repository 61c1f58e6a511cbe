package volume

import (
	"fmt"
	"path"
	"strings"

	"github.com/llmariner/fine-tuning-env/builder/internal/config"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/validation"
)

const (
	defaultAccessMode = "ReadWriteOnce"
	defaultSize       = "10Gi"
)

// Volume is a named persistent volume mounted at a fixed path.
type Volume struct {
	Name      string
	MountPath string

	Size             resource.Quantity
	StorageClassName string
	AccessMode       string
}

// FromConfig converts the volume configurations.
func FromConfig(cs []config.VolumeConfig) ([]Volume, error) {
	var vols []Volume
	for _, c := range cs {
		size := c.Size
		if size == "" {
			size = defaultSize
		}
		q, err := resource.ParseQuantity(size)
		if err != nil {
			return nil, fmt.Errorf("volume %q: invalid size %q: %s", c.Name, c.Size, err)
		}
		am := c.AccessMode
		if am == "" {
			am = defaultAccessMode
		}
		vols = append(vols, Volume{
			Name:             c.Name,
			MountPath:        c.MountPath,
			Size:             q,
			StorageClassName: c.StorageClassName,
			AccessMode:       am,
		})
	}
	return vols, nil
}

// ValidateMapping validates the volume to mount path mapping. Volume names must be distinct
// DNS-1123 labels. Mount paths must be absolute, distinct, and not nested in each other or in any
// of the reserved paths.
func ValidateMapping(vols []Volume, reserved ...string) error {
	names := map[string]bool{}
	for i, v := range vols {
		if v.Name == "" {
			return fmt.Errorf("volume %d: name must be set", i)
		}
		if errs := validation.IsDNS1123Label(v.Name); len(errs) > 0 {
			return fmt.Errorf("volume %q: invalid name: %s", v.Name, strings.Join(errs, ", "))
		}
		if names[v.Name] {
			return fmt.Errorf("volume %q: duplicate name", v.Name)
		}
		names[v.Name] = true

		if !path.IsAbs(v.MountPath) {
			return fmt.Errorf("volume %q: mount path %q must be absolute", v.Name, v.MountPath)
		}
		if path.Clean(v.MountPath) != v.MountPath {
			return fmt.Errorf("volume %q: mount path %q must be clean", v.Name, v.MountPath)
		}
		if v.MountPath == "/" {
			return fmt.Errorf("volume %q: mount path must not be the root directory", v.Name)
		}
		switch v.AccessMode {
		case "ReadWriteOnce", "ReadWriteMany", "ReadWriteOncePod":
		default:
			return fmt.Errorf("volume %q: unsupported access mode %q", v.Name, v.AccessMode)
		}
	}

	for i, v := range vols {
		for _, o := range vols[i+1:] {
			if Overlap(v.MountPath, o.MountPath) {
				return fmt.Errorf("volumes %q and %q: mount paths %q and %q overlap", v.Name, o.Name, v.MountPath, o.MountPath)
			}
		}
		for _, r := range reserved {
			if Overlap(v.MountPath, r) {
				return fmt.Errorf("volume %q: mount path %q overlaps reserved path %q", v.Name, v.MountPath, r)
			}
		}
	}
	return nil
}

// Overlap returns true if the two paths are equal or one is an ancestor of the other.
func Overlap(a, b string) bool {
	a, b = path.Clean(a), path.Clean(b)
	if a == b {
		return true
	}
	return isAncestor(a, b) || isAncestor(b, a)
}

func isAncestor(dir, p string) bool {
	if dir == "/" {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}

// Mapping returns the mount path to volume name mapping.
func Mapping(vols []Volume) map[string]string {
	m := make(map[string]string, len(vols))
	for _, v := range vols {
		m[v.MountPath] = v.Name
	}
	return m
}
