package sor

// Permittivity is the coefficient model for the elliptic operator. At must
// be evaluable at any storage site, ghosts included, because the
// flux-conservative stencil averages the coefficient across cell faces.
type Permittivity interface {
	At(index int) float64
}

// Uniform is a constant permittivity. Solvers constructed with a Uniform
// model take the uniform-coefficient path.
type Uniform float64

// At returns the constant value regardless of position.
func (u Uniform) At(int) float64 { return float64(u) }

// Func adapts a position-dependent evaluation function to the Permittivity
// interface. Solvers constructed with a Func take the variable-coefficient
// path even if the function happens to return a constant.
type Func func(index int) float64

// At evaluates the function at the site.
func (f Func) At(index int) float64 { return f(index) }
