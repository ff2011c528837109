// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Counterfactual Inference with Invertible Structural Causal Models
// Class: 02-613 at Caregie Mellon University

package main

import (
	"flag"
	"fmt"
	"os"

	"k8s.io/klog/v2"
)

// This is the main function of the scmflow demo. It reads a YAML model
// (variables in topological order, their structural equations, noise
// priors and the theta coefficients) and runs one of the queries of the
// scm package on it:
//   - sample:         draw joint samples, optionally under do(...)
//   - abduct:         recover the exogenous noise behind observed values
//   - logdensity:     evaluate the model log-density of observed values
//   - counterfactual: abduct, intervene and propagate
//   - effect:         bootstrap estimate of an interventional effect
//   - estimate:       least squares fit of the linear edge coefficients
// Values are read from and written to CSV files with Name[i] columns.

func main() {
	// klog flags (-v, -logtostderr, ...) are shared by every command
	klog.InitFlags(nil)
	defer klog.Flush()

	root := newRootCommand()
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
