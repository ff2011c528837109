// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Counterfactual Inference with Invertible Structural Causal Models
// Class: 02-613 at Caregie Mellon University

package scm

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// GaussianPrior is an axis-wise independent Gaussian with mean Mu and
// log standard deviation LogSigma per coordinate.
//
// With DensityUnnormalized (the default) the log-density of a dim-vector x is
//
//	-0.5 * (sum_i ((x_i - mu_i)/exp(log_sigma_i))^2 - sum_i log_sigma_i)
//
// DensityNormalized returns the sum of proper per-axis normal log-densities,
//
//	-0.5 * sum_i z_i^2 - sum_i log_sigma_i - dim/2*log(2*pi)
//
// The two differ by 1.5*sum_i log_sigma_i + dim/2*log(2*pi), which depends
// on LogSigma and not only on dim.
type GaussianPrior struct {
	Mu       []float64
	LogSigma []float64
	Mode     DensityMode
}

// NewStandardNormal returns a unit Gaussian prior of dimension dim.
func NewStandardNormal(dim int) *GaussianPrior {
	return &GaussianPrior{
		Mu:       make([]float64, dim),
		LogSigma: make([]float64, dim),
	}
}

// NewGaussianPrior returns a diagonal Gaussian prior. mu and logSigma must
// have the same length, which becomes the prior's dimension.
func NewGaussianPrior(mu, logSigma []float64, mode DensityMode) (*GaussianPrior, error) {
	if len(mu) == 0 {
		return nil, errors.New("gaussian prior: empty mean")
	}
	if len(mu) != len(logSigma) {
		return nil, errors.Errorf("gaussian prior: mean has %d entries but log sigma has %d", len(mu), len(logSigma))
	}
	g := &GaussianPrior{
		Mu:       append([]float64(nil), mu...),
		LogSigma: append([]float64(nil), logSigma...),
		Mode:     mode,
	}
	return g, nil
}

func (g *GaussianPrior) Dim() int { return len(g.Mu) }

// LogDensity dispatches on rank: a mat.Vector is treated as one unbatched
// sample and reduced over all of its elements, anything else is a
// [batch, dim] matrix reduced over the last axis.
func (g *GaussianPrior) LogDensity(x mat.Matrix) ([]float64, error) {
	if v, ok := x.(mat.Vector); ok {
		if v.Len() != g.Dim() {
			return nil, &ShapeMismatchError{What: "gaussian prior", WantRows: -1, WantCols: g.Dim(), GotRows: 1, GotCols: v.Len()}
		}
		row := make([]float64, v.Len())
		for i := range row {
			row[i] = v.AtVec(i)
		}
		return []float64{g.logDensityRow(row)}, nil
	}

	if err := checkCols("gaussian prior", x, g.Dim()); err != nil {
		return nil, err
	}
	rows, cols := x.Dims()
	out := make([]float64, rows)
	row := make([]float64, cols)
	for r := 0; r < rows; r++ {
		mat.Row(row, r, x)
		out[r] = g.logDensityRow(row)
	}
	return out, nil
}

func (g *GaussianPrior) logDensityRow(x []float64) float64 {
	if g.Mode == DensityNormalized {
		lp := 0.0
		for i, xi := range x {
			n := distuv.Normal{Mu: g.Mu[i], Sigma: math.Exp(g.LogSigma[i])}
			lp += n.LogProb(xi)
		}
		return lp
	}

	// unnormalized form; log sigma enters with a plus sign
	var sq, logSigma float64
	for i, xi := range x {
		z := (xi - g.Mu[i]) / math.Exp(g.LogSigma[i])
		sq += z * z
		logSigma += g.LogSigma[i]
	}
	return -0.5 * (sq - logSigma)
}

// Sample draws n rows of noise from rng.
func (g *GaussianPrior) Sample(rng *rand.Rand, n int) (*mat.Dense, error) {
	if rng == nil {
		return nil, errors.New("gaussian prior: nil random source")
	}
	if n <= 0 {
		return nil, errors.Errorf("gaussian prior: sample size must be > 0, got %d", n)
	}

	dim := g.Dim()
	data := make([]float64, n*dim)

	// rows are filled one after the other so a seed gives the same batch
	for i := 0; i < n; i++ {
		for j := 0; j < dim; j++ {
			data[i*dim+j] = g.Mu[j] + math.Exp(g.LogSigma[j])*rng.NormFloat64()
		}
	}
	return mat.NewDense(n, dim, data), nil
}

// FuncPrior adapts a pair of plain functions to NoisePrior, for callers
// that define their priors as closures.
type FuncPrior struct {
	D       int
	LogProb func(u mat.Matrix) ([]float64, error)
	Sampler func(rng *rand.Rand, n int) (*mat.Dense, error)
}

func (f *FuncPrior) Dim() int { return f.D }

func (f *FuncPrior) LogDensity(x mat.Matrix) ([]float64, error) {
	if _, ok := x.(mat.Vector); !ok {
		if err := checkCols("func prior", x, f.D); err != nil {
			return nil, err
		}
	}
	return f.LogProb(x)
}

func (f *FuncPrior) Sample(rng *rand.Rand, n int) (*mat.Dense, error) {
	u, err := f.Sampler(rng, n)
	if err != nil {
		return nil, err
	}
	if err := checkShape("func prior sample", u, n, f.D); err != nil {
		return nil, err
	}
	return u, nil
}
