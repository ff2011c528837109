// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Counterfactual Inference with Invertible Structural Causal Models
// Class: 02-613 at Caregie Mellon University

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"Causal_Flow_SCM_Project/scm"
)

const confounderModel = "scm/testdata/confounder.yaml"

func runCommand(t *testing.T, args ...string) error {
	t.Helper()
	root := newRootCommand()
	root.SetArgs(args)
	return root.Execute()
}

func TestParseInterventions(t *testing.T) {
	cfg := must.M1(scm.LoadModelConfig(confounderModel))
	g, _, err := cfg.Build()
	require.NoError(t, err)

	do, err := parseInterventions([]string{"X=2, 2", "V1=-1,0.5"}, g)
	require.NoError(t, err)
	assert.True(t, mat.Equal(mat.NewDense(1, 2, []float64{2, 2}), do["X"]))
	assert.True(t, mat.Equal(mat.NewDense(1, 2, []float64{-1, 0.5}), do["V1"]))

	for _, bad := range []string{"X", "Z=1,1", "X=1", "X=1,abc"} {
		_, err := parseInterventions([]string{bad}, g)
		assert.Error(t, err, bad)
	}
}

func TestSampleAndCounterfactualCommands(t *testing.T) {
	dir := t.TempDir()
	samples := filepath.Join(dir, "samples.csv")
	cf := filepath.Join(dir, "cf.csv")

	require.NoError(t, runCommand(t, "sample", "--model", confounderModel, "-n", "5", "--seed", "3", "--out", samples))
	require.NoError(t, runCommand(t, "abduct", "--model", confounderModel, "--data", samples))
	require.NoError(t, runCommand(t, "logdensity", "--model", confounderModel, "--data", samples))
	require.NoError(t, runCommand(t, "estimate", "--model", confounderModel, "--data", samples, "--scalar"))
	require.NoError(t, runCommand(t, "counterfactual", "--model", confounderModel, "--data", samples, "--do", "X=2,2", "--out", cf))

	cfg := must.M1(scm.LoadModelConfig(confounderModel))
	g, _, err := cfg.Build()
	require.NoError(t, err)
	observed := must.M1(scm.LoadCSVToValues(samples, g))
	result := must.M1(scm.LoadCSVToValues(cf, g))

	// Y moves by 1.0 * (2 - X) on every row
	for i := 0; i < 5; i++ {
		for j := 0; j < 2; j++ {
			want := observed["Y"].At(i, j) + 2 - observed["X"].At(i, j)
			assert.InDelta(t, want, result["Y"].At(i, j), 1e-5)
		}
	}

	assert.Error(t, runCommand(t, "counterfactual", "--model", confounderModel, "--data", samples))
}

func TestSampleDefaultCount(t *testing.T) {
	out := filepath.Join(t.TempDir(), "samples.csv")
	require.NoError(t, runCommand(t, "sample", "--model", confounderModel, "--seed", "1", "--out", out))

	cfg := must.M1(scm.LoadModelConfig(confounderModel))
	g, _, err := cfg.Build()
	require.NoError(t, err)
	values := must.M1(scm.LoadCSVToValues(out, g))
	rows, _ := values["Y"].Dims()
	assert.Equal(t, 10, rows)
}

func TestEffectCommand(t *testing.T) {
	require.NoError(t, runCommand(t, "effect", "--model", confounderModel, "--do", "X=2,2", "--target", "Y",
		"--reps", "10", "-n", "32", "--seed", "1"))
	assert.Error(t, runCommand(t, "effect", "--model", confounderModel, "--do", "X=2,2", "--target", "Q", "--seed", "1"))
}

func TestMissingModel(t *testing.T) {
	_, err := os.Stat(confounderModel)
	require.NoError(t, err)
	assert.Error(t, runCommand(t, "sample", "--model", filepath.Join(t.TempDir(), "none.yaml")))
}
