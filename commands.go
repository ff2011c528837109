// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Counterfactual Inference with Invertible Structural Causal Models
// Class: 02-613 at Caregie Mellon University

package main

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"Causal_Flow_SCM_Project/scm"
)

// cliOptions holds the flags shared by the commands.
type cliOptions struct {
	modelPath string
	dataPath  string
	outPath   string
	do        []string

	sampleN int
	effectN int
	seed    int64

	target string
	reps   int
	alpha  float64

	scalar bool
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "scmflow",
		Short:         "Sample, abduct and intervene on structural causal models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.modelPath, "model", "", "YAML model file")
	_ = root.MarkPersistentFlagRequired("model")

	root.AddCommand(
		newSampleCommand(opts),
		newAbductCommand(opts),
		newLogDensityCommand(opts),
		newCounterfactualCommand(opts),
		newEffectCommand(opts),
		newEstimateCommand(opts),
	)
	return root
}

func newSampleCommand(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Draw joint samples, optionally under --do interventions",
		RunE: func(cmd *cobra.Command, args []string) error {
			// 1. Load model
			engine, err := loadEngine(opts.modelPath)
			if err != nil {
				return err
			}
			order := engine.Graph().Order()

			// 2. Parse interventions
			intervention, err := parseInterventions(opts.do, engine.Graph())
			if err != nil {
				return err
			}

			// 3. Sample
			rng := rand.New(rand.NewSource(seedOrClock(opts.seed)))
			values, err := engine.SampleDo(rng, opts.sampleN, intervention)
			if err != nil {
				return err
			}

			// 4. Print or write
			return emit("Samples", values, order, opts.outPath)
		},
	}
	cmd.Flags().IntVarP(&opts.sampleN, "samples", "n", 10, "number of samples")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "random seed (0 = time based)")
	cmd.Flags().StringArrayVar(&opts.do, "do", nil, "intervention Name=v1,v2,... (repeatable)")
	cmd.Flags().StringVar(&opts.outPath, "out", "", "CSV output path (prints when empty)")
	return cmd
}

func newAbductCommand(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abduct",
		Short: "Recover exogenous noise from observed values",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, observed, err := loadEngineAndData(opts)
			if err != nil {
				return err
			}
			noise, err := engine.Abduct(observed)
			if err != nil {
				return err
			}
			return emit("Abducted noise", noise, engine.Graph().Order(), opts.outPath)
		},
	}
	cmd.Flags().StringVar(&opts.dataPath, "data", "", "CSV of observed values")
	cmd.Flags().StringVar(&opts.outPath, "out", "", "CSV output path (prints when empty)")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func newLogDensityCommand(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logdensity",
		Short: "Evaluate the model log-density of observed values",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, observed, err := loadEngineAndData(opts)
			if err != nil {
				return err
			}
			lp, err := engine.LogDensity(observed)
			if err != nil {
				return err
			}
			scm.PrintLogDensity(lp)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.dataPath, "data", "", "CSV of observed values")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func newCounterfactualCommand(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counterfactual",
		Short: "Abduct noise from observed values and replay it under --do",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, observed, err := loadEngineAndData(opts)
			if err != nil {
				return err
			}
			intervention, err := parseInterventions(opts.do, engine.Graph())
			if err != nil {
				return err
			}
			if len(intervention) == 0 {
				return errors.New("counterfactual needs at least one --do")
			}
			cf, err := engine.Counterfactual(observed, intervention)
			if err != nil {
				return err
			}
			return emit("Counterfactual values", cf, engine.Graph().Order(), opts.outPath)
		},
	}
	cmd.Flags().StringVar(&opts.dataPath, "data", "", "CSV of observed values")
	cmd.Flags().StringArrayVar(&opts.do, "do", nil, "intervention Name=v1,v2,... (repeatable)")
	cmd.Flags().StringVar(&opts.outPath, "out", "", "CSV output path (prints when empty)")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func newEffectCommand(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "effect",
		Short: "Bootstrap estimate of E[target | do(...)] - E[target]",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadEngine(opts.modelPath)
			if err != nil {
				return err
			}
			intervention, err := parseInterventions(opts.do, engine.Graph())
			if err != nil {
				return err
			}
			res, err := engine.EstimateEffect(intervention, opts.target, scm.EffectOptions{
				NReplications: opts.reps,
				SamplesPerRep: opts.effectN,
				Alpha:         opts.alpha,
				Seed:          opts.seed,
			})
			if err != nil {
				return err
			}
			scm.PrintEffect(res)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&opts.do, "do", nil, "intervention Name=v1,v2,... (repeatable)")
	cmd.Flags().StringVar(&opts.target, "target", "", "variable whose mean shift is estimated")
	cmd.Flags().IntVar(&opts.reps, "reps", 200, "number of replications")
	cmd.Flags().IntVarP(&opts.effectN, "samples", "n", 256, "samples per replication")
	cmd.Flags().Float64Var(&opts.alpha, "alpha", 0.05, "significance level of the CI")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "random seed (0 = time based)")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func newEstimateCommand(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Fit the linear edge coefficients of the model to observed values",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, observed, err := loadEngineAndData(opts)
			if err != nil {
				return err
			}
			params, err := scm.EstimateLinearParams(engine.Graph(), observed, scm.LinearFitOptions{Scalar: opts.scalar})
			if err != nil {
				return err
			}
			scm.PrintParams(params)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.dataPath, "data", "", "CSV of observed values")
	cmd.Flags().BoolVar(&opts.scalar, "scalar", false, "fit one scalar per edge instead of a matrix")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func loadEngine(path string) (*scm.Engine, error) {
	cfg, err := scm.LoadModelConfig(path)
	if err != nil {
		return nil, err
	}
	g, engineOpts, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	fmt.Println("Loaded model with variables:", g.Order())
	return scm.NewEngine(g, engineOpts...)
}

func loadEngineAndData(opts *cliOptions) (*scm.Engine, scm.Values, error) {
	engine, err := loadEngine(opts.modelPath)
	if err != nil {
		return nil, nil, err
	}
	observed, err := scm.LoadCSVToValues(opts.dataPath, engine.Graph())
	if err != nil {
		return nil, nil, err
	}
	return engine, observed, nil
}

// parseInterventions turns "Name=v1,v2" flags into one-row values.
func parseInterventions(specs []string, g *scm.Graph) (scm.Values, error) {
	out := make(scm.Values, len(specs))
	for _, spec := range specs {
		name, list, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, errors.Errorf("intervention %q is not of the form Name=v1,v2,...", spec)
		}
		node, ok := g.Node(name)
		if !ok {
			return nil, errors.Errorf("intervention on unknown variable %q", name)
		}
		fields := strings.Split(list, ",")
		if len(fields) != node.Dim {
			return nil, errors.Errorf("intervention %q: %s has dim %d, got %d values", spec, name, node.Dim, len(fields))
		}
		row := make([]float64, node.Dim)
		for i, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, errors.Wrapf(err, "intervention %q", spec)
			}
			row[i] = v
		}
		out[name] = mat.NewDense(1, node.Dim, row)
	}
	return out, nil
}

// emit prints values or writes them to a CSV file when path is set.
func emit(title string, values scm.Values, order []string, path string) error {
	if path == "" {
		scm.PrintValues(title, values, order)
		return nil
	}
	if err := scm.OutputValuesToCSV(path, values, order); err != nil {
		return err
	}
	fmt.Println(title, "written to", path)
	return nil
}

func seedOrClock(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	return time.Now().UnixNano()
}
