// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Counterfactual Inference with Invertible Structural Causal Models
// Class: 02-613 at Caregie Mellon University

package scm

import (
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

// empiricalQuantile returns the empirical q-quantile of samples (0 <= q <= 1)
// using linear interpolation between order statistics.
func empiricalQuantile(samples []float64, q float64) float64 {
	n := len(samples)
	if n == 0 {
		return math.NaN()
	}

	tmp := make([]float64, n)
	copy(tmp, samples)
	sort.Float64s(tmp)

	if q <= 0 {
		return tmp[0]
	}
	if q >= 1 {
		return tmp[n-1]
	}

	pos := q * float64(n-1)
	idxBelow := int(math.Floor(pos))
	idxAbove := int(math.Ceil(pos))

	if idxAbove == idxBelow {
		return tmp[idxBelow]
	}

	weight := pos - float64(idxBelow)
	return tmp[idxBelow]*(1.0-weight) + tmp[idxAbove]*weight
}

// EstimateEffect estimates the average effect of the intervention on the
// target variable, E[target | do(intervention)] - E[target], per coordinate
// of the target. Each replication samples the model twice from the same
// seed, once with and once without the intervention, so both halves share
// their noise. The mean over replications is the point estimate and the
// alpha/2, 1-alpha/2 quantiles give the CI bands.
func (e *Engine) EstimateEffect(intervention Values, target string, opts EffectOptions) (*EffectResult, error) {
	node, ok := e.graph.index[target]
	if !ok {
		return nil, &MissingVariableError{Variable: target, Op: "effect"}
	}
	if len(intervention) == 0 {
		return nil, errors.New("effect: empty intervention")
	}

	// Default options if not set
	if opts.NReplications <= 0 {
		opts.NReplications = 200
	}
	if opts.SamplesPerRep <= 0 {
		opts.SamplesPerRep = 256
	}
	if opts.Alpha <= 0 || opts.Alpha >= 1 {
		opts.Alpha = 0.05
	}
	if err := e.checkIntervention(intervention, opts.SamplesPerRep); err != nil {
		return nil, err
	}

	// 1. Per-replication seeds so workers don't share RNG
	masterSeed := opts.Seed
	if masterSeed == 0 {
		masterSeed = time.Now().UnixNano()
	}
	masterRng := rand.New(rand.NewSource(masterSeed))
	seeds := make([]int64, opts.NReplications)
	for i := range seeds {
		seeds[i] = masterRng.Int63()
	}

	// 2. Worker pool
	numWorkers := runtime.NumCPU()
	if numWorkers > opts.NReplications {
		numWorkers = opts.NReplications
	}
	klog.V(1).Infof("effect on %s: %d replications x %d rows, %d workers",
		target, opts.NReplications, opts.SamplesPerRep, numWorkers)

	jobs := make(chan int)
	resultsCh := make(chan effectReplication, opts.NReplications)

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	worker := func() {
		defer wg.Done()
		for b := range jobs {
			effect, err := e.replicateEffect(intervention, target, opts.SamplesPerRep, seeds[b])
			if err != nil {
				err = errors.Wrapf(err, "replication %d", b)
			}
			resultsCh <- effectReplication{Effect: effect, Err: err}
		}
	}

	for w := 0; w < numWorkers; w++ {
		go worker()
	}

	go func() {
		for b := 0; b < opts.NReplications; b++ {
			jobs <- b
		}
		close(jobs)
	}()

	// 3. Aggregator: one column of draws per target coordinate
	draws := make([][]float64, node.Dim)
	for j := range draws {
		draws[j] = make([]float64, 0, opts.NReplications)
	}
	var firstErr error
	for i := 0; i < opts.NReplications; i++ {
		rep := <-resultsCh
		if rep.Err != nil {
			if firstErr == nil {
				firstErr = rep.Err
			}
			continue
		}
		for j, v := range rep.Effect {
			draws[j] = append(draws[j], v)
		}
	}

	wg.Wait()
	close(resultsCh)

	if firstErr != nil {
		return nil, firstErr
	}

	// 4. Point estimate and CI bands
	res := &EffectResult{
		Target: target,
		Alpha:  opts.Alpha,
		Mean:   make([]float64, node.Dim),
		Lower:  make([]float64, node.Dim),
		Upper:  make([]float64, node.Dim),
	}
	for j, samples := range draws {
		res.Mean[j] = stat.Mean(samples, nil)
		res.Lower[j] = empiricalQuantile(samples, opts.Alpha/2.0)
		res.Upper[j] = empiricalQuantile(samples, 1.0-opts.Alpha/2.0)
	}
	return res, nil
}

// replicateEffect runs one replication of EstimateEffect.
func (e *Engine) replicateEffect(intervention Values, target string, n int, seed int64) ([]float64, error) {
	base, err := e.Sample(rand.New(rand.NewSource(seed)), n)
	if err != nil {
		return nil, err
	}
	treated, err := e.SampleDo(rand.New(rand.NewSource(seed)), n, intervention)
	if err != nil {
		return nil, err
	}

	_, cols := base[target].Dims()
	effect := make([]float64, cols)
	col := make([]float64, n)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, treated[target])
		effect[j] = stat.Mean(col, nil)
		mat.Col(col, j, base[target])
		effect[j] -= stat.Mean(col, nil)
	}
	return effect, nil
}
