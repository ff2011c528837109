// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Counterfactual Inference with Invertible Structural Causal Models
// Class: 02-613 at Caregie Mellon University

package scm

import (
	"fmt"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestFlowRoundTrip(t *testing.T) {
	for _, dir := range []Direction{MAF, IAF} {
		for _, parity := range []bool{false, true} {
			for _, dim := range []int{1, 2, 4} {
				t.Run(fmt.Sprintf("%s/parity=%v/dim=%d", dir, parity, dim), func(t *testing.T) {
					f := testFlow(dir, dim, parity, int64(dim)+7, DefaultNumericPolicy())
					x := randomBatch(25, dim, 1)

					z, ldForward, err := f.Forward(x)
					require.NoError(t, err)
					back, ldBackward, err := f.Backward(z)
					require.NoError(t, err)
					requireMatrixNear(t, x, back, 1e-9)

					// Jacobian sign consistency
					for r := range ldForward {
						assert.InDelta(t, ldForward[r], -ldBackward[r], 1e-9)
					}

					// and noise -> data -> noise
					x2, _, err := f.Backward(x)
					require.NoError(t, err)
					z2, _, err := f.Forward(x2)
					require.NoError(t, err)
					requireMatrixNear(t, x, z2, 1e-9)
				})
			}
		}
	}
}

// affineNet is a dim-1 MADE whose outputs are its biases: s = logScale, t = shift.
func affineNet(t *testing.T, logScale, shift float64) *MADE {
	t.Helper()
	net, err := NewMADE(1, []int{2},
		[]*mat.Dense{rowsOf([]float64{1}, []float64{-1}), mat.NewDense(2, 2, nil)},
		[][]float64{{0, 0}, {logScale, shift}})
	require.NoError(t, err)
	return net
}

func TestFlowAffineFormula(t *testing.T) {
	x := rowsOf([]float64{2}, []float64{-1})

	maf, err := NewMAF(affineNet(t, 0.5, 1), false, DefaultNumericPolicy())
	require.NoError(t, err)
	z, ld, err := maf.Forward(x)
	require.NoError(t, err)
	requireMatrixNear(t, rowsOf([]float64{2*math.Exp(0.5) + 1}, []float64{-math.Exp(0.5) + 1}), z, 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, ld, 1e-12)

	// IAF's Forward is the sequential pass of the same transform
	iaf, err := NewIAF(affineNet(t, 0.5, 1), false, DefaultNumericPolicy())
	require.NoError(t, err)
	u, ld, err := iaf.Forward(x)
	require.NoError(t, err)
	requireMatrixNear(t, rowsOf([]float64{(2 - 1) * math.Exp(-0.5)}, []float64{(-1 - 1) * math.Exp(-0.5)}), u, 1e-12)
	assert.InDeltaSlice(t, []float64{-0.5, -0.5}, ld, 1e-12)

	assert.Equal(t, "MAF", maf.Direction().String())
	assert.Equal(t, "IAF", iaf.Direction().String())
}

func TestFlowParityReversesOutput(t *testing.T) {
	net := testMADE(3, []int{8}, 3)
	plain, err := NewMAF(net, false, DefaultNumericPolicy())
	require.NoError(t, err)
	reversed, err := NewMAF(net, true, DefaultNumericPolicy())
	require.NoError(t, err)

	x := randomBatch(4, 3, 2)
	z1, ld1, err := plain.Forward(x)
	require.NoError(t, err)
	z2, ld2, err := reversed.Forward(x)
	require.NoError(t, err)

	requireMatrixNear(t, reverseColumns(z1), z2, 0)
	assert.Equal(t, ld1, ld2)
}

func TestFlowParallelDecodeMatchesSerial(t *testing.T) {
	net := testMADE(4, []int{16, 16}, 5)
	serial, err := NewMAF(net, true, DefaultNumericPolicy())
	require.NoError(t, err)
	parallel, err := NewMAF(net, true, NumericPolicy{Workers: 4})
	require.NoError(t, err)

	z := randomBatch(37, 4, 6)
	x1, ld1, err := serial.Backward(z)
	require.NoError(t, err)
	x2, ld2, err := parallel.Backward(z)
	require.NoError(t, err)

	requireMatrixNear(t, x1, x2, 1e-12)
	assert.InDeltaSlice(t, ld1, ld2, 1e-12)
}

// constNet returns the same s and t for every coordinate and row.
type constNet struct {
	dim  int
	s, t float64
}

func (c constNet) Dim() int { return c.dim }

func (c constNet) Forward(x *mat.Dense) (*mat.Dense, error) {
	rows, _ := x.Dims()
	out := mat.NewDense(rows, 2*c.dim, nil)
	for r := 0; r < rows; r++ {
		for j := 0; j < c.dim; j++ {
			out.Set(r, j, c.s)
			out.Set(r, c.dim+j, c.t)
		}
	}
	return out, nil
}

func TestFlowOverflow(t *testing.T) {
	f, err := NewMAF(constNet{dim: 2, s: 800}, false, DefaultNumericPolicy())
	require.NoError(t, err)

	_, _, err = f.Forward(rowsOf([]float64{1, 1}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNumericOverflow))

	var overflow *NumericOverflowError
	require.True(t, errors.As(err, &overflow))
	assert.True(t, math.IsInf(overflow.Value, 1))
}

func TestFlowClampKeepsInverse(t *testing.T) {
	policy := NumericPolicy{MaxLogScale: 3, Workers: 1}
	for _, dir := range []Direction{MAF, IAF} {
		var (
			f   *Flow
			err error
		)
		if dir == MAF {
			f, err = NewMAF(constNet{dim: 2, s: 800, t: 1}, false, policy)
		} else {
			f, err = NewIAF(constNet{dim: 2, s: -800, t: 1}, false, policy)
		}
		require.NoError(t, err)

		x := rowsOf([]float64{1, -2}, []float64{0.5, 4})
		z, ld, err := f.Forward(x)
		require.NoError(t, err, "%s", dir)
		for _, v := range ld {
			assert.InDelta(t, 6, math.Abs(v), 1e-12)
		}

		back, _, err := f.Backward(z)
		require.NoError(t, err)
		requireMatrixNear(t, x, back, 1e-9)
	}
}

func TestFlowErrors(t *testing.T) {
	_, err := NewMAF(nil, false, DefaultNumericPolicy())
	assert.Error(t, err)
	_, err = NewIAF(testMADE(2, []int{4}, 1), false, NumericPolicy{MaxLogScale: -1})
	assert.Error(t, err)

	f := testFlow(MAF, 2, false, 1, DefaultNumericPolicy())
	_, _, err = f.Forward(randomBatch(3, 3, 1))
	assert.True(t, errors.Is(err, ErrShapeMismatch))
	_, _, err = f.Backward(randomBatch(3, 1, 1))
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}
