// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Counterfactual Inference with Invertible Structural Causal Models
// Class: 02-613 at Caregie Mellon University

package scm

import (
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Values maps a variable name to a batch of values, one row per sample
// and one column per coordinate of the variable ([batch, dim]).
// Used both for observed values and for abducted noise.
type Values map[string]*mat.Dense

// Parents is the read-only snapshot of resolved parent values handed to
// one structural equation call.
type Parents map[string]mat.Matrix

// Get returns the value of parent name or a MissingVariableError.
func (p Parents) Get(name string) (mat.Matrix, error) {
	m, ok := p[name]
	if !ok || m == nil {
		return nil, &MissingVariableError{Variable: name, Op: "parents"}
	}
	return m, nil
}

// Coefficient is the weight on one edge. When Matrix is nil the edge uses
// Scalar and the parent is scaled elementwise, otherwise the parent is
// multiplied by Matrix^T (Matrix is childDim x parentDim).
type Coefficient struct {
	Scalar float64
	Matrix *mat.Dense
}

// Params holds theta, the per edge coefficients keyed by "Parent->Child".
type Params struct {
	scalars  map[string]float64
	matrices map[string]*mat.Dense
}

// EdgeKey returns the theta key for the edge parent -> child.
func EdgeKey(parent, child string) string { return parent + "->" + child }

// NewParams makes a Params from scalar coefficients keyed by EdgeKey.
func NewParams(scalars map[string]float64) *Params {
	p := &Params{
		scalars:  make(map[string]float64, len(scalars)),
		matrices: make(map[string]*mat.Dense),
	}
	for k, v := range scalars {
		p.scalars[k] = v
	}
	return p
}

// SetScalar stores a scalar coefficient for parent -> child and returns p.
func (p *Params) SetScalar(parent, child string, v float64) *Params {
	key := EdgeKey(parent, child)
	delete(p.matrices, key)
	p.scalars[key] = v
	return p
}

// SetMatrix stores a childDim x parentDim coefficient for parent -> child and returns p.
func (p *Params) SetMatrix(parent, child string, w *mat.Dense) *Params {
	key := EdgeKey(parent, child)
	delete(p.scalars, key)
	p.matrices[key] = mat.DenseCopyOf(w)
	return p
}

// Coefficient returns the coefficient for parent -> child.
func (p *Params) Coefficient(parent, child string) (Coefficient, bool) {
	if p == nil {
		return Coefficient{}, false
	}
	key := EdgeKey(parent, child)
	if w, ok := p.matrices[key]; ok {
		return Coefficient{Matrix: mat.DenseCopyOf(w)}, true
	}
	if v, ok := p.scalars[key]; ok {
		return Coefficient{Scalar: v}, true
	}
	return Coefficient{}, false
}

// Keys returns all edge keys in sorted order.
func (p *Params) Keys() []string {
	if p == nil {
		return nil
	}
	keys := make([]string, 0, len(p.scalars)+len(p.matrices))
	for k := range p.scalars {
		keys = append(keys, k)
	}
	for k := range p.matrices {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of p. A nil Params clones to an empty one.
func (p *Params) Clone() *Params {
	out := NewParams(nil)
	if p == nil {
		return out
	}
	for k, v := range p.scalars {
		out.scalars[k] = v
	}
	for k, w := range p.matrices {
		out.matrices[k] = mat.DenseCopyOf(w)
	}
	return out
}

// NoisePrior supplies the log-density and a batched sampler for the
// exogenous noise of one variable.
type NoisePrior interface {
	// Dimension of one noise vector
	Dim() int
	// One log-density per row for a [batch, dim] matrix, or a single value for a mat.Vector
	LogDensity(x mat.Matrix) ([]float64, error)
	// Draws an [n, dim] batch of noise
	Sample(rng *rand.Rand, n int) (*mat.Dense, error)
}

// Equation is the structural equation of one variable. Both operations are
// pure and Inverse is the exact inverse of Forward for fixed theta and parents.
type Equation interface {
	// Dimension of the variable (and of its noise)
	Dim() int
	// Maps noise u [batch, dim] to the variable's value
	Forward(u *mat.Dense, theta *Params, parents Parents) (*mat.Dense, error)
	// Maps a value v [batch, dim] back to its noise
	Inverse(v *mat.Dense, theta *Params, parents Parents) (*mat.Dense, error)
}

// DensityEquation is an Equation whose Jacobian is not the identity.
// logDet[r] is log|det du/dv| for row r, i.e. the data-to-noise direction.
type DensityEquation interface {
	Equation
	InverseLogDet(v *mat.Dense, theta *Params, parents Parents) (u *mat.Dense, logDet []float64, err error)
}

// NodeDecl declares one variable of the graph, in topological order.
type NodeDecl struct {
	Name     string
	Dim      int
	Parents  []string
	Equation Equation
	Prior    NoisePrior
}

// Node is a variable after the graph has been validated.
type Node struct {
	Name     string
	Dim      int
	Parents  []string
	Equation Equation
	Prior    NoisePrior

	// position in the evaluation order
	index int
}

// Trace is the output of a sampling pass: the noise that was drawn and the
// values it produced.
type Trace struct {
	Noise  Values
	Values Values
}

// DensityMode selects how GaussianPrior evaluates its log-density.
type DensityMode int

const (
	// DensityUnnormalized is -0.5*(sum z^2 - sum log sigma). It is not the
	// normalized density minus a constant when log sigma is non-zero.
	DensityUnnormalized DensityMode = iota
	// DensityNormalized is the proper per-axis Gaussian log-density.
	DensityNormalized
)

// NumericPolicy is the explicit numeric configuration handed to flows and
// engines at construction. All arithmetic is float64.
type NumericPolicy struct {
	// Clamp the flow log-scales s to [-MaxLogScale, MaxLogScale]; 0 disables
	MaxLogScale float64
	// Number of goroutines used to decode batch rows in a flow; <= 1 is serial
	Workers int
	// Relative tolerance for the engine's round-trip assertion; 0 disables
	RoundTripTol float64
}

// DefaultNumericPolicy returns the policy used when none is given:
// no clamping, serial decoding, no round-trip assertion.
func DefaultNumericPolicy() NumericPolicy {
	return NumericPolicy{Workers: 1}
}

// Options for the bootstrap interventional effect estimate
type EffectOptions struct {
	// Number of Monte Carlo replications (e.g., 200-1000)
	NReplications int

	// Rows drawn per replication
	SamplesPerRep int

	// Confidence level alpha (e.g., 0.05 for 95% CI)
	Alpha float64

	// RNG seed (if 0, time-based seed is used)
	Seed int64
}

// EffectResult stores the average effect of an intervention on one target
// variable with its CI bands, one entry per coordinate of the target.
type EffectResult struct {
	Target string  // variable whose mean shift is measured
	Alpha  float64 // significance level (e.g. 0.05)

	Mean  []float64 // mean over replications of E[target | do] - E[target]
	Lower []float64
	Upper []float64
}

// effectReplication holds the per-coordinate effect from a single replication.
type effectReplication struct {
	Effect []float64
	Err    error
}
