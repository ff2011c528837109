// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Counterfactual Inference with Invertible Structural Causal Models
// Class: 02-613 at Caregie Mellon University

package scm

import (
	"bytes"
	"math/rand"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Equation kinds accepted in a model file.
const (
	KindLinear = "linear"
	KindMAF    = "maf"
	KindIAF    = "iaf"
)

// ModelConfig is the YAML description of a model.
type ModelConfig struct {
	Numeric   NumericConfig      `yaml:"numeric"`
	Theta     map[string]float64 `yaml:"theta"`
	Variables []VariableConfig   `yaml:"variables"`
}

// NumericConfig mirrors NumericPolicy.
type NumericConfig struct {
	MaxLogScale  float64 `yaml:"max_log_scale"`
	Workers      int     `yaml:"workers"`
	RoundTripTol float64 `yaml:"round_trip_tol"`
}

// VariableConfig declares one variable, in topological order.
type VariableConfig struct {
	Name     string         `yaml:"name"`
	Dim      int            `yaml:"dim"`
	Parents  []string       `yaml:"parents"`
	Equation EquationConfig `yaml:"equation"`
	Prior    PriorConfig    `yaml:"prior"`
}

// EquationConfig selects the structural equation. Hidden, Layers, Parity
// and Seed apply to flows; the network weights are drawn from Seed.
type EquationConfig struct {
	Kind   string `yaml:"kind"`
	Hidden int    `yaml:"hidden"`
	Layers int    `yaml:"layers"`
	Parity int    `yaml:"parity"`
	Seed   int64  `yaml:"seed"`
}

// PriorConfig is a diagonal Gaussian prior; empty Mu / LogSigma mean zeros.
type PriorConfig struct {
	Mu         []float64 `yaml:"mu"`
	LogSigma   []float64 `yaml:"log_sigma"`
	Normalized bool      `yaml:"normalized"`
}

// LoadModelConfig reads and decodes a YAML model file.
func LoadModelConfig(path string) (*ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read model %s", path)
	}
	cfg, err := ParseModelConfig(data)
	if err != nil {
		return nil, errors.Wrapf(err, "model %s", path)
	}
	return cfg, nil
}

// ParseModelConfig decodes a YAML model, rejecting unknown keys.
func ParseModelConfig(data []byte) (*ModelConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg ModelConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode model")
	}
	return &cfg, nil
}

// Policy returns the numeric policy of the config, with defaults filled in.
func (c *ModelConfig) Policy() NumericPolicy {
	p := NumericPolicy{
		MaxLogScale:  c.Numeric.MaxLogScale,
		Workers:      c.Numeric.Workers,
		RoundTripTol: c.Numeric.RoundTripTol,
	}
	if p.Workers <= 0 {
		p.Workers = 1
	}
	return p
}

// Build turns the config into a Graph and the engine options that carry
// its numeric policy.
func (c *ModelConfig) Build() (*Graph, []EngineOption, error) {
	policy := c.Policy()
	decls := make([]NodeDecl, 0, len(c.Variables))
	for _, v := range c.Variables {
		eq, err := v.buildEquation(policy)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "variable %q", v.Name)
		}
		prior, err := v.buildPrior()
		if err != nil {
			return nil, nil, errors.Wrapf(err, "variable %q", v.Name)
		}
		decls = append(decls, NodeDecl{
			Name:     v.Name,
			Dim:      v.Dim,
			Parents:  v.Parents,
			Equation: eq,
			Prior:    prior,
		})
	}

	g, err := NewGraph(NewParams(c.Theta), decls...)
	if err != nil {
		return nil, nil, err
	}
	return g, []EngineOption{WithNumericPolicy(policy)}, nil
}

func (v VariableConfig) buildEquation(policy NumericPolicy) (Equation, error) {
	if v.Dim <= 0 {
		return nil, &GraphError{Node: v.Name, Reason: "dim must be > 0"}
	}
	kind := v.Equation.Kind
	if kind == "" {
		kind = KindLinear
	}

	switch kind {
	case KindLinear:
		if len(v.Parents) == 0 {
			return &RootEquation{D: v.Dim}, nil
		}
		return NewLinearEquation(v.Name, v.Dim, v.Parents...), nil
	case KindMAF, KindIAF:
		hidden := v.Equation.Hidden
		if hidden <= 0 {
			hidden = 24
		}
		layers := v.Equation.Layers
		if layers <= 0 {
			layers = 3
		}
		widths := make([]int, layers)
		for i := range widths {
			widths[i] = hidden
		}
		net, err := RandomMADE(v.Dim, widths, rand.New(rand.NewSource(v.Equation.Seed)))
		if err != nil {
			return nil, err
		}
		var flow *Flow
		if kind == KindMAF {
			flow, err = NewMAF(net, v.Equation.Parity != 0, policy)
		} else {
			flow, err = NewIAF(net, v.Equation.Parity != 0, policy)
		}
		if err != nil {
			return nil, err
		}
		return NewFlowEquation(v.Name, flow, v.Parents...), nil
	}
	return nil, errors.Errorf("unknown equation kind %q", kind)
}

func (v VariableConfig) buildPrior() (NoisePrior, error) {
	mu := v.Prior.Mu
	if len(mu) == 0 {
		mu = make([]float64, v.Dim)
	}
	logSigma := v.Prior.LogSigma
	if len(logSigma) == 0 {
		logSigma = make([]float64, v.Dim)
	}
	mode := DensityUnnormalized
	if v.Prior.Normalized {
		mode = DensityNormalized
	}
	return NewGaussianPrior(mu, logSigma, mode)
}
