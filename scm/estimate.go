// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Counterfactual Inference with Invertible Structural Causal Models
// Class: 02-613 at Caregie Mellon University

package scm

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// LinearFitOptions controls EstimateLinearParams.
type LinearFitOptions struct {
	// Fit one scalar per edge instead of a full childDim x parentDim matrix.
	// Needs every parent to have the child's dimension.
	Scalar bool
}

// EstimateLinearParams fits theta for every LinearEquation node of g by
// least squares of the child on its parents, using the observed values.
// Coefficients of other nodes are carried over from g unchanged.
func EstimateLinearParams(g *Graph, observed Values, opts LinearFitOptions) (*Params, error) {
	if g == nil {
		return nil, errors.New("estimate: nil graph")
	}
	params := g.Params()

	for _, node := range g.nodes {
		lin, ok := node.Equation.(*LinearEquation)
		if !ok || len(lin.Parents) == 0 {
			continue
		}

		Y, ok := observed[node.Name]
		if !ok || Y == nil {
			return nil, &MissingVariableError{Variable: node.Name, Op: "estimate"}
		}
		T, _ := Y.Dims()
		if err := checkShape("estimate "+node.Name, Y, T, node.Dim); err != nil {
			return nil, err
		}

		parents := make([]*mat.Dense, len(lin.Parents))
		for i, p := range lin.Parents {
			pv, ok := observed[p]
			if !ok || pv == nil {
				return nil, &MissingVariableError{Variable: p, Op: "estimate"}
			}
			if err := checkShape("estimate "+p, pv, T, g.index[p].Dim); err != nil {
				return nil, err
			}
			parents[i] = pv
		}

		if opts.Scalar {
			coefs, err := fitScalar(node, parents, Y)
			if err != nil {
				return nil, errors.Wrapf(err, "estimate %s", node.Name)
			}
			for i, p := range lin.Parents {
				params.SetScalar(p, node.Name, coefs[i])
			}
			continue
		}

		weights, err := fitMatrix(node, parents, Y)
		if err != nil {
			return nil, errors.Wrapf(err, "estimate %s", node.Name)
		}
		for i, p := range lin.Parents {
			params.SetMatrix(p, node.Name, weights[i])
		}
	}
	return params, nil
}

// fitScalar regresses every coordinate of Y on the matching coordinate of
// each parent, stacking all rows and coordinates into one design matrix.
func fitScalar(node *Node, parents []*mat.Dense, Y *mat.Dense) ([]float64, error) {
	T, K := Y.Dims()
	for _, pv := range parents {
		if _, c := pv.Dims(); c != K {
			return nil, errors.Errorf("scalar fit needs parent dim %d, got %d", K, c)
		}
	}

	n := T * K
	X := mat.NewDense(n, len(parents), nil)
	y := mat.NewDense(n, 1, nil)
	for t := 0; t < T; t++ {
		for k := 0; k < K; k++ {
			row := t*K + k
			y.Set(row, 0, Y.At(t, k))
			for i, pv := range parents {
				X.Set(row, i, pv.At(t, k))
			}
		}
	}

	B, err := leastSquares(X, y)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(parents))
	for i := range out {
		out[i] = B.At(i, 0)
	}
	klog.V(1).Infof("estimate %s: scalar coefficients %v", node.Name, out)
	return out, nil
}

// fitMatrix regresses Y on the concatenated parent columns and splits the
// solution back into one childDim x parentDim matrix per parent.
func fitMatrix(node *Node, parents []*mat.Dense, Y *mat.Dense) ([]*mat.Dense, error) {
	T, K := Y.Dims()

	m := 0
	for _, pv := range parents {
		_, c := pv.Dims()
		m += c
	}

	// Fill X row-by-row: [ parent_1 | parent_2 | ... ]
	X := mat.NewDense(T, m, nil)
	col := 0
	for _, pv := range parents {
		_, c := pv.Dims()
		X.Slice(0, T, col, col+c).(*mat.Dense).Copy(pv)
		col += c
	}

	B, err := leastSquares(X, Y) // m x K
	if err != nil {
		return nil, err
	}

	out := make([]*mat.Dense, len(parents))
	rowOffset := 0
	for i, pv := range parents {
		_, c := pv.Dims()
		W := mat.NewDense(K, c, nil)
		for eq := 0; eq < K; eq++ {
			for j := 0; j < c; j++ {
				W.Set(eq, j, B.At(rowOffset+j, eq))
			}
		}
		out[i] = W
		rowOffset += c
	}
	klog.V(1).Infof("estimate %s: %d regressors over %d rows", node.Name, m, T)
	return out, nil
}

// leastSquares solves X B ≈ Y. It tries the normal equations
// B = (X'X)^(-1) X'Y first and falls back to the SVD minimum-norm solution
// when X'X is singular.
func leastSquares(X, Y *mat.Dense) (*mat.Dense, error) {
	T, m := X.Dims()
	_, K := Y.Dims()
	if T < m {
		return nil, errors.Errorf("need at least %d rows, got %d", m, T)
	}

	var xtx mat.Dense
	xtx.Mul(X.T(), X)

	var xtxInv mat.Dense
	xtxError := xtxInv.Inverse(&xtx)
	if xtxError == nil {
		var xty, B mat.Dense
		xty.Mul(X.T(), Y)
		B.Mul(&xtxInv, &xty)
		return &B, nil
	}

	// Fallback: X'X is singular or badly conditioned.
	var svd mat.SVD
	if ok := svd.Factorize(X, mat.SVDFullU|mat.SVDFullV); !ok {
		return nil, errors.Errorf("least squares: X'X singular and SVD factorization failed: %v", xtxError)
	}
	rank := svd.Rank(1e-12)
	if rank == 0 {
		return mat.NewDense(m, K, nil), nil
	}
	var B mat.Dense
	svd.SolveTo(&B, Y, rank)
	return &B, nil
}
