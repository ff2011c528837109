// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Counterfactual Inference with Invertible Structural Causal Models
// Class: 02-613 at Caregie Mellon University

package scm

import (
	"math"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Bijection is an invertible map with a tractable log-determinant.
// Forward goes from data x to noise z, Backward from z to x; both return
// log|det| of the map they apply, one value per batch row.
type Bijection interface {
	Dim() int
	Forward(x *mat.Dense) (*mat.Dense, []float64, error)
	Backward(z *mat.Dense) (*mat.Dense, []float64, error)
}

// Direction selects which pass of the autoregressive transform is the
// Forward (data to noise) direction of a Flow.
type Direction int

const (
	// MAF: Forward is the parallel pass, density evaluation is fast and sampling is sequential.
	MAF Direction = iota
	// IAF: Forward is the sequential pass, sampling is fast and density evaluation is sequential.
	IAF
)

func (d Direction) String() string {
	if d == IAF {
		return "IAF"
	}
	return "MAF"
}

// Flow is an affine autoregressive bijection on top of an ARNetwork.
//
// The parallel pass computes s, t = net(x) and z = x*exp(s) + t, reversing
// the coordinates of z when parity is set, with log-det sum_i s_i. The
// sequential pass recovers x from z one coordinate at a time.
type Flow struct {
	net    ARNetwork
	parity bool
	dir    Direction
	policy NumericPolicy
}

// NewMAF returns a masked autoregressive flow over net.
func NewMAF(net ARNetwork, parity bool, policy NumericPolicy) (*Flow, error) {
	return newFlow(net, parity, MAF, policy)
}

// NewIAF returns an inverse autoregressive flow over net: the same
// transform as NewMAF with the two passes swapped.
func NewIAF(net ARNetwork, parity bool, policy NumericPolicy) (*Flow, error) {
	return newFlow(net, parity, IAF, policy)
}

func newFlow(net ARNetwork, parity bool, dir Direction, policy NumericPolicy) (*Flow, error) {
	if net == nil {
		return nil, errors.New("flow: nil network")
	}
	if net.Dim() <= 0 {
		return nil, errors.Errorf("flow: network dim must be > 0, got %d", net.Dim())
	}
	if policy.MaxLogScale < 0 {
		return nil, errors.Errorf("flow: max log scale must be >= 0, got %g", policy.MaxLogScale)
	}
	return &Flow{net: net, parity: parity, dir: dir, policy: policy}, nil
}

func (f *Flow) Dim() int { return f.net.Dim() }

func (f *Flow) Direction() Direction { return f.dir }

func (f *Flow) Parity() bool { return f.parity }

// Forward maps data to noise.
func (f *Flow) Forward(x *mat.Dense) (*mat.Dense, []float64, error) {
	if f.dir == IAF {
		return f.decode(x)
	}
	return f.encode(x)
}

// Backward maps noise to data.
func (f *Flow) Backward(z *mat.Dense) (*mat.Dense, []float64, error) {
	if f.dir == IAF {
		return f.encode(z)
	}
	return f.decode(z)
}

// scaleShift runs the network on x and returns s (clamped per policy) and t.
func (f *Flow) scaleShift(x *mat.Dense) (s, t *mat.Dense, err error) {
	dim := f.Dim()
	rows, _ := x.Dims()
	st, err := f.net.Forward(x)
	if err != nil {
		return nil, nil, errors.Wrap(err, "flow network")
	}
	if err := checkShape("flow network output", st, rows, 2*dim); err != nil {
		return nil, nil, err
	}
	s = mat.DenseCopyOf(st.Slice(0, rows, 0, dim))
	t = mat.DenseCopyOf(st.Slice(0, rows, dim, 2*dim))

	if limit := f.policy.MaxLogScale; limit > 0 {
		clamped := 0
		s.Apply(func(_, _ int, v float64) float64 {
			switch {
			case v > limit:
				clamped++
				return limit
			case v < -limit:
				clamped++
				return -limit
			}
			return v
		}, s)
		if clamped > 0 {
			klog.Warningf("flow: clamped %d log-scales to +/-%g", clamped, limit)
		}
	}
	return s, t, nil
}

// encode is the parallel pass: one network call for the whole batch.
func (f *Flow) encode(x *mat.Dense) (*mat.Dense, []float64, error) {
	dim := f.Dim()
	if err := checkCols("flow input", x, dim); err != nil {
		return nil, nil, err
	}
	rows, _ := x.Dims()

	s, t, err := f.scaleShift(x)
	if err != nil {
		return nil, nil, err
	}

	z := mat.NewDense(rows, dim, nil)
	z.Apply(func(i, j int, _ float64) float64 {
		return x.At(i, j)*math.Exp(s.At(i, j)) + t.At(i, j)
	}, z)

	logDet := make([]float64, rows)
	for r := 0; r < rows; r++ {
		logDet[r] = floats.Sum(s.RawRowView(r))
	}

	if f.parity {
		z = reverseColumns(z)
	}
	if err := checkFinite("flow encode", z, logDet); err != nil {
		return nil, nil, err
	}
	return z, logDet, nil
}

// decode is the sequential pass. Coordinate i is solved from the network
// evaluated on the coordinates already resolved; the later ones are still
// zero and do not reach s_i, t_i. Every step produces a new matrix.
func (f *Flow) decode(z *mat.Dense) (*mat.Dense, []float64, error) {
	dim := f.Dim()
	if err := checkCols("flow input", z, dim); err != nil {
		return nil, nil, err
	}
	if f.parity {
		z = reverseColumns(z)
	}

	rows, _ := z.Dims()
	workers := f.policy.Workers
	if workers > rows {
		workers = rows
	}

	var (
		x      *mat.Dense
		logDet []float64
		err    error
	)
	if workers <= 1 {
		x, logDet, err = f.decodeRows(z)
	} else {
		x, logDet, err = f.decodeParallel(z, workers)
	}
	if err != nil {
		return nil, nil, err
	}
	if err := checkFinite("flow decode", x, logDet); err != nil {
		return nil, nil, err
	}
	return x, logDet, nil
}

func (f *Flow) decodeRows(z *mat.Dense) (*mat.Dense, []float64, error) {
	dim := f.Dim()
	rows, _ := z.Dims()

	x := mat.NewDense(rows, dim, nil)
	logDet := make([]float64, rows)
	for i := 0; i < dim; i++ {
		s, t, err := f.scaleShift(x)
		if err != nil {
			return nil, nil, err
		}
		next := mat.DenseCopyOf(x)
		for r := 0; r < rows; r++ {
			si := s.At(r, i)
			next.Set(r, i, (z.At(r, i)-t.At(r, i))*math.Exp(-si))
			logDet[r] -= si
		}
		x = next
	}
	return x, logDet, nil
}

// decodeChunk is the result of decoding one block of batch rows.
type decodeChunk struct {
	Start  int
	X      *mat.Dense
	LogDet []float64
	Err    error
}

// decodeParallel splits the batch into row blocks and decodes them in a
// worker pool. Rows are independent, so only the batch axis is split.
func (f *Flow) decodeParallel(z *mat.Dense, numWorkers int) (*mat.Dense, []float64, error) {
	dim := f.Dim()
	rows, _ := z.Dims()
	chunk := (rows + numWorkers - 1) / numWorkers
	nChunks := (rows + chunk - 1) / chunk

	klog.V(2).Infof("flow decode: %d rows in %d chunks over %d workers", rows, nChunks, numWorkers)

	jobs := make(chan int)
	resultsCh := make(chan decodeChunk, nChunks)

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	worker := func() {
		defer wg.Done()
		for c := range jobs {
			start := c * chunk
			end := start + chunk
			if end > rows {
				end = rows
			}
			block := mat.DenseCopyOf(z.Slice(start, end, 0, dim))
			x, logDet, err := f.decodeRows(block)
			resultsCh <- decodeChunk{Start: start, X: x, LogDet: logDet, Err: err}
		}
	}

	for w := 0; w < numWorkers; w++ {
		go worker()
	}

	go func() {
		for c := 0; c < nChunks; c++ {
			jobs <- c
		}
		close(jobs)
	}()

	x := mat.NewDense(rows, dim, nil)
	logDet := make([]float64, rows)
	var firstErr error
	for i := 0; i < nChunks; i++ {
		res := <-resultsCh
		if res.Err != nil {
			if firstErr == nil {
				firstErr = res.Err
			}
			continue
		}
		n, _ := res.X.Dims()
		x.Slice(res.Start, res.Start+n, 0, dim).(*mat.Dense).Copy(res.X)
		copy(logDet[res.Start:], res.LogDet)
	}

	wg.Wait()
	close(resultsCh)

	if firstErr != nil {
		return nil, nil, firstErr
	}
	return x, logDet, nil
}

// reverseColumns returns a copy of m with its columns in reverse order.
func reverseColumns(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Apply(func(i, j int, _ float64) float64 {
		return m.At(i, cols-1-j)
	}, out)
	return out
}

// checkFinite returns a NumericOverflowError for the first NaN or Inf in m or logDet.
func checkFinite(op string, m *mat.Dense, logDet []float64) error {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := m.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return &NumericOverflowError{Op: op, Row: i, Col: j, Value: v}
			}
		}
	}
	for i, v := range logDet {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &NumericOverflowError{Op: op + " log-det", Row: i, Col: -1, Value: v}
		}
	}
	return nil
}
