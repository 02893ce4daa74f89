package render

import (
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/facesynth/types"
)

// Renderer rasterizes a colored triangle mesh from a camera.
//
// verts holds N·3 world positions, colors holds N·3 values in [0, 1] and
// faces indexes into verts. The triangulation is never modified.
type Renderer interface {
	Name() string
	ImageSize() int
	Render(verts []float64, faces [][3]int, colors []float64, cam Camera) (*Frame, error)
}

// Options configures a renderer backend.
type Options struct {
	ImageSize  int        `yaml:"image_size" env:"IMAGE_SIZE"`
	Ambient    float64    `yaml:"ambient" env:"AMBIENT"`
	Diffuse    float64    `yaml:"diffuse" env:"DIFFUSE"`
	LightDir   [3]float64 `yaml:"light_dir"`
	Background float64    `yaml:"background" env:"BACKGROUND"`
	ZNear      float64    `yaml:"znear" env:"ZNEAR"`
}

// DefaultOptions returns a 512×512 frontal-lit configuration on a white background.
func DefaultOptions() Options {
	return Options{
		ImageSize:  512,
		Ambient:    0.5,
		Diffuse:    0.5,
		LightDir:   [3]float64{0, 0, 1},
		Background: 1,
		ZNear:      0.1,
	}
}

// Factory constructs a backend.
type Factory func(opts Options) (Renderer, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]Factory{
		SoftwareBackend: func(opts Options) (Renderer, error) { return NewSoftwareRenderer(opts) },
	}
)

// SoftwareBackend is the name of the always-available CPU rasterizer.
const SoftwareBackend = "software"

// Register makes a backend available under name. A later registration
// replaces an earlier one.
func Register(name string, f Factory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = f
}

// Backends lists registered backend names in sorted order.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New constructs the named backend. Unknown names fail with
// types.ErrCapabilityUnavailable.
func New(name string, opts Options) (Renderer, error) {
	backendsMu.RLock()
	f, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, types.Errorf(types.ErrCapabilityUnavailable,
			"render backend %q is not available (have %v)", name, Backends())
	}
	r, err := f(opts)
	if err != nil {
		return nil, fmt.Errorf("init render backend %q: %w", name, err)
	}
	return r, nil
}
