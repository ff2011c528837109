// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Counterfactual Inference with Invertible Structural Causal Models
// Class: 02-613 at Caregie Mellon University

package scm

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Engine runs sampling, abduction, density and counterfactual queries over
// a Graph. It holds no mutable state and may be shared between goroutines.
type Engine struct {
	graph  *Graph
	policy NumericPolicy
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithNumericPolicy sets the engine's numeric policy.
func WithNumericPolicy(p NumericPolicy) EngineOption {
	return func(e *Engine) { e.policy = p }
}

// WithRoundTripCheck makes every forward evaluation verify that inverting
// the result gives back the noise within relative tolerance tol.
func WithRoundTripCheck(tol float64) EngineOption {
	return func(e *Engine) { e.policy.RoundTripTol = tol }
}

// NewEngine returns an engine for g.
func NewEngine(g *Graph, opts ...EngineOption) (*Engine, error) {
	if g == nil {
		return nil, errors.New("engine: nil graph")
	}
	e := &Engine{graph: g, policy: DefaultNumericPolicy()}
	for _, opt := range opts {
		opt(e)
	}
	if e.policy.RoundTripTol < 0 {
		return nil, errors.Errorf("engine: round trip tolerance must be >= 0, got %g", e.policy.RoundTripTol)
	}
	return e, nil
}

// Graph returns the engine's graph.
func (e *Engine) Graph() *Graph { return e.graph }

// Sample draws n joint samples of every variable.
func (e *Engine) Sample(rng *rand.Rand, n int) (Values, error) {
	tr, err := e.SampleTrace(rng, n)
	if err != nil {
		return nil, err
	}
	return tr.Values, nil
}

// SampleTrace draws noise for every variable in topological order and
// evaluates the equations, returning both the noise and the values.
func (e *Engine) SampleTrace(rng *rand.Rand, n int) (*Trace, error) {
	return e.sampleDo(rng, n, nil)
}

// SampleDo samples from the graph under the intervention do(values): the
// intervened variables are set directly and only their descendants react.
// Noise is still drawn for every variable so that a seed gives the same
// noise with and without the intervention.
func (e *Engine) SampleDo(rng *rand.Rand, n int, intervention Values) (Values, error) {
	tr, err := e.sampleDo(rng, n, intervention)
	if err != nil {
		return nil, err
	}
	return tr.Values, nil
}

func (e *Engine) sampleDo(rng *rand.Rand, n int, intervention Values) (*Trace, error) {
	if n <= 0 {
		return nil, errors.Errorf("sample: n must be > 0, got %d", n)
	}
	if err := e.checkIntervention(intervention, n); err != nil {
		return nil, err
	}

	noise := make(Values, e.graph.Len())
	for _, node := range e.graph.nodes {
		u, err := node.Prior.Sample(rng, n)
		if err != nil {
			return nil, errors.Wrapf(err, "sample %s", node.Name)
		}
		noise[node.Name] = u
	}

	values, err := e.propagate(noise, intervention, n)
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("sample: %d rows, %d variables, %d intervened", n, e.graph.Len(), len(intervention))
	return &Trace{Noise: noise, Values: values}, nil
}

// Abduct recovers the exogenous noise of every variable from a full set of
// observed values. Parents are read from observed as well.
func (e *Engine) Abduct(observed Values) (Values, error) {
	noise, _, err := e.abduct(observed, "abduct", false)
	return noise, err
}

// LogDensity returns, per row, the log-density of observed under the model:
// the sum over variables of log p(u) plus log|det du/dv| for equations that
// have a Jacobian.
func (e *Engine) LogDensity(observed Values) ([]float64, error) {
	noise, logDets, err := e.abduct(observed, "log density", true)
	if err != nil {
		return nil, err
	}

	rows, _ := noise[e.graph.nodes[0].Name].Dims()
	total := make([]float64, rows)
	for _, node := range e.graph.nodes {
		lp, err := node.Prior.LogDensity(noise[node.Name])
		if err != nil {
			return nil, errors.Wrapf(err, "log density %s", node.Name)
		}
		floats.Add(total, lp)
		if ld, ok := logDets[node.Name]; ok {
			floats.Add(total, ld)
		}
	}
	return total, nil
}

// Counterfactual abducts the noise behind observed and evaluates the graph
// again with that noise, setting the intervened variables directly.
// Intervention matrices have either one row, applied to every observed
// row, or as many rows as observed.
func (e *Engine) Counterfactual(observed, intervention Values) (Values, error) {
	noise, _, err := e.abduct(observed, "counterfactual", false)
	if err != nil {
		return nil, err
	}
	rows, _ := noise[e.graph.nodes[0].Name].Dims()
	if err := e.checkIntervention(intervention, rows); err != nil {
		return nil, err
	}
	return e.propagate(noise, intervention, rows)
}

// abduct inverts every equation in topological order. When withLogDet is
// set it also collects log|det du/dv| for equations that report one.
func (e *Engine) abduct(observed Values, op string, withLogDet bool) (Values, map[string][]float64, error) {
	batch := -1
	for _, node := range e.graph.nodes {
		v, ok := observed[node.Name]
		if !ok || v == nil {
			return nil, nil, &MissingVariableError{Variable: node.Name, Op: op}
		}
		rows, _ := v.Dims()
		if batch < 0 {
			batch = rows
		}
		if err := checkShape(op+" "+node.Name, v, batch, node.Dim); err != nil {
			return nil, nil, err
		}
	}

	theta := e.graph.params
	noise := make(Values, e.graph.Len())
	logDets := make(map[string][]float64)
	for _, node := range e.graph.nodes {
		parents := parentSnapshot(node, observed)
		v := observed[node.Name]

		var (
			u   *mat.Dense
			err error
		)
		if de, ok := node.Equation.(DensityEquation); ok && withLogDet {
			var ld []float64
			u, ld, err = de.InverseLogDet(v, theta, parents)
			if err == nil {
				logDets[node.Name] = ld
			}
		} else {
			u, err = node.Equation.Inverse(v, theta, parents)
		}
		if err != nil {
			return nil, nil, errors.Wrapf(err, "%s %s", op, node.Name)
		}
		noise[node.Name] = u
	}

	klog.V(2).Infof("%s: %d rows, %d variables", op, batch, e.graph.Len())
	return noise, logDets, nil
}

// propagate evaluates every equation in topological order from noise,
// overriding intervened variables.
func (e *Engine) propagate(noise, intervention Values, batch int) (Values, error) {
	theta := e.graph.params
	values := make(Values, e.graph.Len())
	for _, node := range e.graph.nodes {
		if iv, ok := intervention[node.Name]; ok {
			values[node.Name] = broadcastRows(iv, batch)
			continue
		}

		u, ok := noise[node.Name]
		if !ok || u == nil {
			return nil, &MissingVariableError{Variable: node.Name, Op: "forward"}
		}
		parents := parentSnapshot(node, values)
		v, err := node.Equation.Forward(u, theta, parents)
		if err != nil {
			return nil, errors.Wrapf(err, "forward %s", node.Name)
		}

		if tol := e.policy.RoundTripTol; tol > 0 {
			back, err := node.Equation.Inverse(v, theta, parents)
			if err != nil {
				return nil, errors.Wrapf(err, "round trip %s", node.Name)
			}
			if err := compareRoundTrip(node.Name, u, back, tol); err != nil {
				return nil, err
			}
		}
		values[node.Name] = v
	}
	return values, nil
}

// checkIntervention verifies that every intervened variable exists and has
// the variable's width and either 1 or batch rows.
func (e *Engine) checkIntervention(intervention Values, batch int) error {
	for name, iv := range intervention {
		node, ok := e.graph.index[name]
		if !ok {
			return errors.Wrapf(ErrGraph, "intervention on unknown variable %q", name)
		}
		if iv == nil {
			return &MissingVariableError{Variable: name, Op: "intervention"}
		}
		rows, cols := iv.Dims()
		if cols != node.Dim || (rows != 1 && rows != batch) {
			return &ShapeMismatchError{What: "intervention " + name, WantRows: batch, WantCols: node.Dim, GotRows: rows, GotCols: cols}
		}
	}
	return nil
}

// parentSnapshot collects the values of node's parents from resolved.
func parentSnapshot(node *Node, resolved Values) Parents {
	parents := make(Parents, len(node.Parents))
	for _, p := range node.Parents {
		if v, ok := resolved[p]; ok && v != nil {
			parents[p] = v
		}
	}
	return parents
}

// broadcastRows returns a batch x cols copy of m, repeating its single row
// when m has one row.
func broadcastRows(m *mat.Dense, batch int) *mat.Dense {
	rows, cols := m.Dims()
	if rows == batch {
		return mat.DenseCopyOf(m)
	}
	out := mat.NewDense(batch, cols, nil)
	row := m.RawRowView(0)
	for i := 0; i < batch; i++ {
		out.SetRow(i, row)
	}
	return out
}
