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
)

// ErrNotAutoregressive is returned by CheckAutoregressive when an output
// coordinate reacts to an input it must not see.
var ErrNotAutoregressive = errors.New("scm: network is not autoregressive")

// leak is the negative slope of the hidden activation.
const leak = 0.2

// ARNetwork is the autoregressive network consumed by a Flow. Forward maps
// a [batch, Dim()] input to [batch, 2*Dim()]: the first Dim() columns are
// the log-scales s, the last Dim() the shifts t. s_i and t_i may depend on
// input coordinates < i only.
type ARNetwork interface {
	Dim() int
	Forward(x *mat.Dense) (*mat.Dense, error)
}

// maskedLayer is one dense layer whose weights were multiplied by its
// connectivity mask when the network was built.
type maskedLayer struct {
	W    *mat.Dense // out x in, already masked
	B    []float64
	Mask *mat.Dense // out x in, 0/1
}

// MADE is a masked autoencoder for distribution estimation: a multilayer
// perceptron with leaky ReLU hidden layers whose weight masks enforce the
// autoregressive property of ARNetwork.
//
// Degrees follow the natural input ordering. Input i has degree i, hidden
// units get degrees cycling through [min previous degree, dim-2], output k
// has degree k mod dim. A hidden unit sees inputs of degree <= its own, an
// output sees hidden units of strictly smaller degree.
type MADE struct {
	dim    int
	layers []maskedLayer
}

// MADEDegrees returns the degree of every unit in every layer for an input
// of dimension dim, hidden layer widths hidden and 2*dim outputs. Index 0
// is the input layer and the last entry is the output layer.
func MADEDegrees(dim int, hidden []int) [][]int {
	degrees := make([][]int, 0, len(hidden)+2)

	in := make([]int, dim)
	for i := range in {
		in[i] = i
	}
	degrees = append(degrees, in)

	prev := in
	for _, width := range hidden {
		lo := minInt(prev)
		span := dim - 1 - lo
		layer := make([]int, width)
		for k := range layer {
			if span <= 0 {
				layer[k] = lo
				continue
			}
			layer[k] = lo + k%span
		}
		degrees = append(degrees, layer)
		prev = layer
	}

	out := make([]int, 2*dim)
	for k := range out {
		out[k] = k % dim
	}
	return append(degrees, out)
}

// MADEMasks builds the out x in connectivity mask for every layer.
func MADEMasks(dim int, hidden []int) []*mat.Dense {
	degrees := MADEDegrees(dim, hidden)
	masks := make([]*mat.Dense, len(degrees)-1)
	for l := 1; l < len(degrees); l++ {
		in, out := degrees[l-1], degrees[l]
		last := l == len(degrees)-1
		m := mat.NewDense(len(out), len(in), nil)
		for o, dOut := range out {
			for i, dIn := range in {
				if (last && dIn < dOut) || (!last && dIn <= dOut) {
					m.Set(o, i, 1)
				}
			}
		}
		masks[l-1] = m
	}
	return masks
}

// NewMADE builds a network from explicit weights. weights[l] is the
// out x in matrix of layer l and biases[l] its bias. The masks are applied
// to copies of the weights here, so entries that would break the
// autoregressive property are dropped whatever the caller passed.
func NewMADE(dim int, hidden []int, weights []*mat.Dense, biases [][]float64) (*MADE, error) {
	if dim <= 0 {
		return nil, errors.Errorf("made: dim must be > 0, got %d", dim)
	}
	for _, h := range hidden {
		if h <= 0 {
			return nil, errors.Errorf("made: hidden widths must be > 0, got %v", hidden)
		}
	}
	masks := MADEMasks(dim, hidden)
	if len(weights) != len(masks) || len(biases) != len(masks) {
		return nil, errors.Errorf("made: expected %d weight and bias layers, got %d and %d",
			len(masks), len(weights), len(biases))
	}

	layers := make([]maskedLayer, len(masks))
	for l, mask := range masks {
		out, in := mask.Dims()
		if err := checkShape("made weights", weights[l], out, in); err != nil {
			return nil, errors.Wrapf(err, "layer %d", l)
		}
		if len(biases[l]) != out {
			return nil, errors.Errorf("made: layer %d bias has %d entries, expected %d", l, len(biases[l]), out)
		}
		w := mat.NewDense(out, in, nil)
		w.MulElem(weights[l], mask)
		layers[l] = maskedLayer{W: w, B: append([]float64(nil), biases[l]...), Mask: mask}
	}
	return &MADE{dim: dim, layers: layers}, nil
}

// RandomMADE builds a network with weights drawn from N(0, 1/fan_in) and
// zero biases. This is a placeholder initialisation for tests and demos,
// trained weights should come through NewMADE.
func RandomMADE(dim int, hidden []int, rng *rand.Rand) (*MADE, error) {
	if rng == nil {
		return nil, errors.New("made: nil random source")
	}
	if dim <= 0 {
		return nil, errors.Errorf("made: dim must be > 0, got %d", dim)
	}
	sizes := append(append([]int{dim}, hidden...), 2*dim)
	weights := make([]*mat.Dense, len(sizes)-1)
	biases := make([][]float64, len(sizes)-1)
	for l := 1; l < len(sizes); l++ {
		in, out := sizes[l-1], sizes[l]
		scale := 1 / math.Sqrt(float64(in))
		data := make([]float64, out*in)
		for i := range data {
			data[i] = rng.NormFloat64() * scale
		}
		weights[l-1] = mat.NewDense(out, in, data)
		biases[l-1] = make([]float64, out)
	}
	return NewMADE(dim, hidden, weights, biases)
}

func (m *MADE) Dim() int { return m.dim }

// Masks returns copies of the per layer connectivity masks.
func (m *MADE) Masks() []*mat.Dense {
	out := make([]*mat.Dense, len(m.layers))
	for i, l := range m.layers {
		out[i] = mat.DenseCopyOf(l.Mask)
	}
	return out
}

// Forward evaluates the network on a [batch, dim] input.
func (m *MADE) Forward(x *mat.Dense) (*mat.Dense, error) {
	if err := checkCols("made input", x, m.dim); err != nil {
		return nil, err
	}

	var h mat.Matrix = x
	for l, layer := range m.layers {
		var out mat.Dense
		out.Mul(h, layer.W.T())
		hiddenLayer := l < len(m.layers)-1
		b := layer.B
		out.Apply(func(_, j int, v float64) float64 {
			v += b[j]
			if hiddenLayer && v < 0 {
				return leak * v
			}
			return v
		}, &out)
		h = &out
	}
	return h.(*mat.Dense), nil
}

// CheckAutoregressive perturbs every input coordinate j of x and verifies
// that outputs s_i and t_i for i <= j do not move by more than tol.
func CheckAutoregressive(net ARNetwork, x *mat.Dense, tol float64) error {
	dim := net.Dim()
	if err := checkCols("autoregressive check", x, dim); err != nil {
		return err
	}
	base, err := net.Forward(x)
	if err != nil {
		return err
	}
	rows, _ := x.Dims()
	if err := checkShape("network output", base, rows, 2*dim); err != nil {
		return err
	}

	for j := 0; j < dim; j++ {
		moved := mat.DenseCopyOf(x)
		for r := 0; r < rows; r++ {
			moved.Set(r, j, moved.At(r, j)+1.5)
		}
		out, err := net.Forward(moved)
		if err != nil {
			return err
		}
		for r := 0; r < rows; r++ {
			for i := 0; i <= j; i++ {
				ds := math.Abs(out.At(r, i) - base.At(r, i))
				dt := math.Abs(out.At(r, dim+i) - base.At(r, dim+i))
				if ds > tol || dt > tol {
					return errors.Wrapf(ErrNotAutoregressive, "output %d changed when input %d was perturbed", i, j)
				}
			}
		}
	}
	return nil
}

func minInt(xs []int) int {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}
