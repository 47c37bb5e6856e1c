// Package sor solves a Poisson-type equation for an electrostatic
// potential over a decomposed 3-D grid using red/black successive
// over-relaxation. The System couples a one-component potential field with
// a per-species charge density field and the physical parameters that turn
// charge densities into the equation's right-hand side.
package sor

import (
	"fmt"

	"github.com/structgrid/structgrid/cart"
	"github.com/structgrid/structgrid/comm"
	"github.com/structgrid/structgrid/field"
)

// Options carries the physical and numerical-control parameters for a
// System. It is explicit configuration: the solver reads nothing ambient.
type Options struct {
	Valency    []float64 // per-species valencies (defaults to zeros)
	Beta       float64   // thermal scale 1/kT (default 1)
	UnitCharge float64   // unit charge e (default 1)
	Epsilon    float64   // reference uniform permittivity (default 1)

	RelTol float64 // relative tolerance (default 1e-8)
	AbsTol float64 // absolute tolerance (default 1e-15)
	MaxIts int     // maximum full sweeps (default 10000)
	NCheck int     // residual-check interval in sweeps (solver default if 0)
	NFreq  int     // report every NFreq time steps (default 1)

	Reporter Reporter // convergence diagnostics sink (default Discard)
}

// System holds the potential, the charge densities and their halo plans.
type System struct {
	domain *cart.Domain
	psi    *field.Field
	rho    *field.Field
	nk     int

	psiHalo *field.Halo
	rhoHalo *field.Halo

	opts Options
}

// NewSystem creates the potential and charge-density fields for nk charge
// species on the domain and builds their halo exchange plans.
func NewSystem(d *cart.Domain, nk int, opts Options) (*System, error) {
	if nk < 1 {
		return nil, fmt.Errorf("number of charge species must be positive, got %d", nk)
	}
	if opts.Valency == nil {
		opts.Valency = make([]float64, nk)
	}
	if len(opts.Valency) != nk {
		return nil, fmt.Errorf("got %d valencies for %d species", len(opts.Valency), nk)
	}
	if opts.Beta == 0 {
		opts.Beta = 1.0
	}
	if opts.UnitCharge == 0 {
		opts.UnitCharge = 1.0
	}
	if opts.Epsilon == 0 {
		opts.Epsilon = 1.0
	}
	if opts.RelTol == 0 {
		opts.RelTol = 1.0e-8
	}
	if opts.AbsTol == 0 {
		opts.AbsTol = 1.0e-15
	}
	if opts.MaxIts == 0 {
		opts.MaxIts = 10000
	}
	if opts.NFreq == 0 {
		opts.NFreq = 1
	}
	if opts.Reporter == nil {
		opts.Reporter = Discard{}
	}

	psi, err := field.New(d, field.Options{Name: "psi"})
	if err != nil {
		return nil, err
	}
	rho, err := field.New(d, field.Options{Ndata: nk, Name: "rho"})
	if err != nil {
		return nil, err
	}
	psiHalo, err := field.NewHalo(psi)
	if err != nil {
		return nil, err
	}
	rhoHalo, err := field.NewHalo(rho)
	if err != nil {
		return nil, err
	}

	return &System{
		domain:  d,
		psi:     psi,
		rho:     rho,
		nk:      nk,
		psiHalo: psiHalo,
		rhoHalo: rhoHalo,
		opts:    opts,
	}, nil
}

// Domain returns the domain the system lives on.
func (s *System) Domain() *cart.Domain { return s.domain }

// Psi returns the potential field.
func (s *System) Psi() *field.Field { return s.psi }

// Rho returns the charge-density field, one component per species.
func (s *System) Rho() *field.Field { return s.rho }

// Nk returns the number of charge species.
func (s *System) Nk() int { return s.nk }

// Valency returns the valency of species k.
func (s *System) Valency(k int) float64 { return s.opts.Valency[k] }

// RhoElec returns the free charge density at a site: the valency-weighted
// sum of the species densities scaled by the unit charge.
func (s *System) RhoElec(index int) float64 {
	rho := 0.0
	for k := 0; k < s.nk; k++ {
		rho += s.opts.Valency[k] * s.rho.Value(index, k)
	}
	return s.opts.UnitCharge * rho
}

// HaloPsi refreshes the potential's ghost rind.
func (s *System) HaloPsi() error { return s.psiHalo.Exchange() }

// HaloRho refreshes the charge densities' ghost rind.
func (s *System) HaloRho() error { return s.rhoHalo.Exchange() }

// ChargeStats are global per-quantity extrema and totals: one row per
// species followed by a row for the net free charge density.
type ChargeStats struct {
	Min   []float64
	Max   []float64
	Total []float64
}

// ChargeStats reduces interior charge statistics over the whole group.
// A blocking collective: every rank must call it together.
func (s *System) ChargeStats() (ChargeStats, error) {
	d := s.domain
	c := d.Comm()
	nlocal := d.Nlocal()
	n := s.nk + 1

	min := make([]float64, n)
	max := make([]float64, n)
	tot := make([]float64, n)
	first := true

	for ic := 1; ic <= nlocal[cart.X]; ic++ {
		for jc := 1; jc <= nlocal[cart.Y]; jc++ {
			for kc := 1; kc <= nlocal[cart.Z]; kc++ {
				index := d.Index(ic, jc, kc)
				for k := 0; k < n; k++ {
					var v float64
					if k < s.nk {
						v = s.rho.Value(index, k)
					} else {
						v = s.RhoElec(index)
					}
					if first || v < min[k] {
						min[k] = v
					}
					if first || v > max[k] {
						max[k] = v
					}
					tot[k] += v
				}
				first = false
			}
		}
	}

	var err error
	if min, err = c.Allreduce(min, comm.OpMin); err != nil {
		return ChargeStats{}, err
	}
	if max, err = c.Allreduce(max, comm.OpMax); err != nil {
		return ChargeStats{}, err
	}
	if tot, err = c.Allreduce(tot, comm.OpSum); err != nil {
		return ChargeStats{}, err
	}
	return ChargeStats{Min: min, Max: max, Total: tot}, nil
}
