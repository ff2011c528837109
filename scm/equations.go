// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Counterfactual Inference with Invertible Structural Causal Models
// Class: 02-613 at Caregie Mellon University

package scm

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
)

// RootEquation is the equation of a variable without parents: the noise is
// the observed value.
type RootEquation struct {
	D int
}

func (e *RootEquation) Dim() int { return e.D }

func (e *RootEquation) Forward(u *mat.Dense, theta *Params, parents Parents) (*mat.Dense, error) {
	if err := checkCols("root forward", u, e.D); err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(u), nil
}

func (e *RootEquation) Inverse(v *mat.Dense, theta *Params, parents Parents) (*mat.Dense, error) {
	if err := checkCols("root inverse", v, e.D); err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(v), nil
}

// LinearEquation is the additive noise model
//
//	v = u + sum_i theta[p_i->Child] * parents[p_i]
//
// Its Jacobian with respect to u is the identity, so the log-det is zero.
type LinearEquation struct {
	Child   string
	D       int
	Parents []string
}

// NewLinearEquation returns the linear equation of child with the given parents.
func NewLinearEquation(child string, dim int, parents ...string) *LinearEquation {
	return &LinearEquation{Child: child, D: dim, Parents: append([]string(nil), parents...)}
}

func (e *LinearEquation) Dim() int { return e.D }

func (e *LinearEquation) Forward(u *mat.Dense, theta *Params, parents Parents) (*mat.Dense, error) {
	if err := checkCols(e.Child+" forward", u, e.D); err != nil {
		return nil, err
	}
	rows, _ := u.Dims()
	shift, err := parentShift(e.Child, e.D, rows, e.Parents, theta, parents)
	if err != nil {
		return nil, err
	}
	var v mat.Dense
	v.Add(u, shift)
	return &v, nil
}

func (e *LinearEquation) Inverse(v *mat.Dense, theta *Params, parents Parents) (*mat.Dense, error) {
	if err := checkCols(e.Child+" inverse", v, e.D); err != nil {
		return nil, err
	}
	rows, _ := v.Dims()
	shift, err := parentShift(e.Child, e.D, rows, e.Parents, theta, parents)
	if err != nil {
		return nil, err
	}
	var u mat.Dense
	u.Sub(v, shift)
	return &u, nil
}

// parentShift computes sum_i theta[p_i->child] * parents[p_i] as a
// [rows, dim] matrix. With no parents it is all zeros.
func parentShift(child string, dim, rows int, names []string, theta *Params, parents Parents) (*mat.Dense, error) {
	shift := mat.NewDense(rows, dim, nil)
	for _, name := range names {
		pv, err := parents.Get(name)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", child)
		}
		coef, ok := theta.Coefficient(name, child)
		if !ok {
			return nil, &GraphError{Node: child, Reason: "no coefficient for edge " + EdgeKey(name, child)}
		}

		pr, pc := pv.Dims()
		if pr != rows {
			return nil, &ShapeMismatchError{What: "parent " + name + " of " + child, WantRows: rows, WantCols: pc, GotRows: pr, GotCols: pc}
		}

		var term mat.Dense
		if coef.Matrix == nil {
			if pc != dim {
				return nil, &ShapeMismatchError{What: "parent " + name + " of " + child, WantRows: rows, WantCols: dim, GotRows: pr, GotCols: pc}
			}
			term.Scale(coef.Scalar, pv)
		} else {
			wr, wc := coef.Matrix.Dims()
			if wr != dim || wc != pc {
				return nil, &ShapeMismatchError{What: "coefficient " + EdgeKey(name, child), WantRows: dim, WantCols: pc, GotRows: wr, GotCols: wc}
			}
			term.Mul(pv, coef.Matrix.T())
		}
		shift.Add(shift, &term)
	}
	return shift, nil
}

// FlowEquation drives a variable through an autoregressive bijection:
//
//	v = flow.Backward(u) + shift(parents)
//	u = flow.Forward(v - shift(parents))
//
// where shift is the same linear parent term as LinearEquation (zero for
// a root). The log-det of Inverse is the flow's data-to-noise log-det.
type FlowEquation struct {
	Child   string
	Flow    Bijection
	Parents []string
}

// NewFlowEquation returns a flow-backed equation for child.
func NewFlowEquation(child string, flow Bijection, parents ...string) *FlowEquation {
	return &FlowEquation{Child: child, Flow: flow, Parents: append([]string(nil), parents...)}
}

func (e *FlowEquation) Dim() int { return e.Flow.Dim() }

func (e *FlowEquation) Forward(u *mat.Dense, theta *Params, parents Parents) (*mat.Dense, error) {
	if err := checkCols(e.Child+" forward", u, e.Dim()); err != nil {
		return nil, err
	}
	x, _, err := e.Flow.Backward(u)
	if err != nil {
		return nil, errors.Wrapf(err, "%s forward", e.Child)
	}
	if len(e.Parents) == 0 {
		return x, nil
	}
	rows, _ := u.Dims()
	shift, err := parentShift(e.Child, e.Dim(), rows, e.Parents, theta, parents)
	if err != nil {
		return nil, err
	}
	x.Add(x, shift)
	return x, nil
}

func (e *FlowEquation) Inverse(v *mat.Dense, theta *Params, parents Parents) (*mat.Dense, error) {
	u, _, err := e.InverseLogDet(v, theta, parents)
	return u, err
}

func (e *FlowEquation) InverseLogDet(v *mat.Dense, theta *Params, parents Parents) (*mat.Dense, []float64, error) {
	if err := checkCols(e.Child+" inverse", v, e.Dim()); err != nil {
		return nil, nil, err
	}
	x := v
	if len(e.Parents) > 0 {
		rows, _ := v.Dims()
		shift, err := parentShift(e.Child, e.Dim(), rows, e.Parents, theta, parents)
		if err != nil {
			return nil, nil, err
		}
		var centred mat.Dense
		centred.Sub(v, shift)
		x = &centred
	}
	u, logDet, err := e.Flow.Forward(x)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "%s inverse", e.Child)
	}
	return u, logDet, nil
}

// FuncEquation adapts a pair of closures f and finv to Equation. The
// closures must be exact inverses of each other.
type FuncEquation struct {
	D    int
	F    func(u *mat.Dense, theta *Params, parents Parents) (*mat.Dense, error)
	FInv func(v *mat.Dense, theta *Params, parents Parents) (*mat.Dense, error)
}

func (e *FuncEquation) Dim() int { return e.D }

func (e *FuncEquation) Forward(u *mat.Dense, theta *Params, parents Parents) (*mat.Dense, error) {
	if err := checkCols("func forward", u, e.D); err != nil {
		return nil, err
	}
	v, err := e.F(u, theta, parents)
	if err != nil {
		return nil, err
	}
	rows, _ := u.Dims()
	if err := checkShape("func forward result", v, rows, e.D); err != nil {
		return nil, err
	}
	return v, nil
}

func (e *FuncEquation) Inverse(v *mat.Dense, theta *Params, parents Parents) (*mat.Dense, error) {
	if err := checkCols("func inverse", v, e.D); err != nil {
		return nil, err
	}
	u, err := e.FInv(v, theta, parents)
	if err != nil {
		return nil, err
	}
	rows, _ := v.Dims()
	if err := checkShape("func inverse result", u, rows, e.D); err != nil {
		return nil, err
	}
	return u, nil
}

// CheckRoundTrip evaluates Inverse(Forward(u)) and returns a
// NonInvertibleResultError when any entry differs from u by more than tol,
// measured relative to max(|u|, 1).
func CheckRoundTrip(eq Equation, u *mat.Dense, theta *Params, parents Parents, tol float64) error {
	v, err := eq.Forward(u, theta, parents)
	if err != nil {
		return err
	}
	back, err := eq.Inverse(v, theta, parents)
	if err != nil {
		return err
	}
	return compareRoundTrip("", u, back, tol)
}

// compareRoundTrip reports the worst relative deviation between want and got.
func compareRoundTrip(name string, want, got *mat.Dense, tol float64) error {
	rows, cols := want.Dims()
	if err := checkShape("round trip", got, rows, cols); err != nil {
		return err
	}

	worst := &NonInvertibleResultError{Variable: name, Tolerance: tol}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			a, b := want.At(i, j), got.At(i, j)
			if scalar.EqualWithinAbsOrRel(a, b, tol, tol) {
				continue
			}
			rel := math.Abs(a-b) / math.Max(math.Abs(a), 1)
			if math.IsNaN(rel) {
				rel = math.Inf(1)
			}
			if rel > worst.MaxRelErr {
				worst.MaxRelErr, worst.Row, worst.Col = rel, i, j
			}
		}
	}
	if worst.MaxRelErr > tol {
		return worst
	}
	return nil
}
