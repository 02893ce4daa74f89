package render

import "math"

type vec3 [3]float64

func (a vec3) sub(b vec3) vec3      { return vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func (a vec3) add(b vec3) vec3      { return vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func (a vec3) scale(s float64) vec3 { return vec3{a[0] * s, a[1] * s, a[2] * s} }
func (a vec3) dot(b vec3) float64   { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }
func (a vec3) norm() float64        { return math.Sqrt(a.dot(a)) }

func (a vec3) cross(b vec3) vec3 {
	return vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func (a vec3) unit() vec3 {
	n := a.norm()
	if n == 0 {
		return a
	}
	return a.scale(1 / n)
}

// Camera is a pinhole camera looking at the origin.
type Camera struct {
	Eye     [3]float64
	Right   [3]float64
	Up      [3]float64
	Forward [3]float64
	// Focal is 1/tan(fov/2).
	Focal float64
}

// LookAt places a camera at distance dist from the origin, at the given
// elevation and azimuth in degrees, with world +Y as up. Azimuth 0 looks
// down the -Z axis from +Z.
func LookAt(dist, elevDeg, azimDeg, fovDeg float64) Camera {
	elev := elevDeg * math.Pi / 180
	azim := azimDeg * math.Pi / 180
	eye := vec3{
		dist * math.Cos(elev) * math.Sin(azim),
		dist * math.Sin(elev),
		dist * math.Cos(elev) * math.Cos(azim),
	}
	fwd := eye.scale(-1).unit()
	right := fwd.cross(vec3{0, 1, 0}).unit()
	up := right.cross(fwd)
	return Camera{
		Eye:     eye,
		Right:   right,
		Up:      up,
		Forward: fwd,
		Focal:   1 / math.Tan(fovDeg*math.Pi/360),
	}
}

// projection holds a projected vertex and the partial derivatives of its
// screen coordinates with respect to the world position.
type projection struct {
	sx, sy, depth float64
	dsx, dsy      vec3
}

// project maps a world point to pixel coordinates for a w×h target.
func (c Camera) project(v vec3, w, h int) projection {
	p := v.sub(c.Eye)
	right, up, fwd := vec3(c.Right), vec3(c.Up), vec3(c.Forward)
	xc, yc, d := right.dot(p), up.dot(p), fwd.dot(p)

	hw, hh := float64(w)/2, float64(h)/2
	pr := projection{depth: d}
	if d <= 0 {
		return pr
	}
	pr.sx = hw * (1 + c.Focal*xc/d)
	pr.sy = hh * (1 - c.Focal*yc/d)

	kx := hw * c.Focal
	ky := -hh * c.Focal
	pr.dsx = right.scale(kx / d).sub(fwd.scale(kx * xc / (d * d)))
	pr.dsy = up.scale(ky / d).sub(fwd.scale(ky * yc / (d * d)))
	return pr
}
