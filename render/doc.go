// Package render implements the differentiable mesh renderer used by the
// refinement loop.
//
// A Renderer rasterizes a triangle mesh with per-vertex colors from a Camera
// and returns a Frame. Frame.Backward maps an image-space gradient back to
// vertex positions and vertex colors. Visibility (the z-buffer) is treated
// as locally constant; gradients flow through barycentric interpolation,
// perspective projection and flat Lambertian shading.
//
// Backends are looked up by name. "software" is always registered; any
// other name fails with types.ErrCapabilityUnavailable at construction.
package render
