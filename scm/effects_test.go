// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Counterfactual Inference with Invertible Structural Causal Models
// Class: 02-613 at Caregie Mellon University

package scm

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// EMPIRICAL QUANTILE TESTS
// ============================================================================

type EmpiricalQuantileTest struct {
	Samples []float64
	Q       float64
	Result  float64
}

func ReadEmpiricalQuantileTests(directory string) []EmpiricalQuantileTest {
	inputFiles := ReadDirectory(directory + "input")
	outputFiles := ReadDirectory(directory + "output")

	if len(inputFiles) != len(outputFiles) {
		panic("Error: number of input and output files do not match!")
	}

	tests := make([]EmpiricalQuantileTest, len(inputFiles))
	for i, inputFile := range inputFiles {
		samples, q := ReadEmpiricalQuantileInput(directory + "input/" + inputFile.Name())
		tests[i].Samples = samples
		tests[i].Q = q
	}

	for i, outputFile := range outputFiles {
		tests[i].Result = ReadEmpiricalQuantileOutput(directory + "output/" + outputFile.Name())
	}

	return tests
}

func ReadEmpiricalQuantileInput(file string) ([]float64, float64) {
	f, err := os.Open(file)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)

	// First value is N (number of samples)
	n, err := strconv.Atoi(skipComments(scanner))
	if err != nil {
		panic(fmt.Sprintf("Error parsing N: %v", err))
	}

	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		val, err := strconv.ParseFloat(skipComments(scanner), 64)
		if err != nil {
			panic(fmt.Sprintf("Error parsing sample %d: %v", i, err))
		}
		samples[i] = val
	}

	// Last value is Q
	q, err := strconv.ParseFloat(skipComments(scanner), 64)
	if err != nil {
		panic(fmt.Sprintf("Error parsing Q: %v", err))
	}

	return samples, q
}

func ReadEmpiricalQuantileOutput(file string) float64 {
	f, err := os.Open(file)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	result, err := strconv.ParseFloat(skipComments(scanner), 64)
	if err != nil {
		panic(fmt.Sprintf("Error parsing result: %v", err))
	}

	return result
}

func TestEmpiricalQuantile(t *testing.T) {
	tests := ReadEmpiricalQuantileTests("Tests/EmpiricalQuantile/")
	for i, test := range tests {
		got := empiricalQuantile(test.Samples, test.Q)
		if !almostEqual(got, test.Result, 1e-6) {
			t.Errorf("Test %d: empiricalQuantile(%v, %v) = %v; want %v",
				i+1, test.Samples, test.Q, got, test.Result)
		}
	}

	if !math.IsNaN(empiricalQuantile(nil, 0.5)) {
		t.Errorf("empiricalQuantile of no samples should be NaN")
	}
}

// ============================================================================
// INTERVENTIONAL EFFECT TESTS
// ============================================================================

func TestEstimateEffectConfounder(t *testing.T) {
	engine := must.M1(NewEngine(confounderGraph(t)))
	do := Values{"X": rowsOf([]float64{2, 2})}
	opts := EffectOptions{NReplications: 60, SamplesPerRep: 256, Alpha: 0.1, Seed: 42}

	// Y moves by 1.0 * (2 - X) and E[X] = 0
	res, err := engine.EstimateEffect(do, "Y", opts)
	require.NoError(t, err)
	assert.Equal(t, "Y", res.Target)
	assert.Equal(t, 0.1, res.Alpha)
	require.Len(t, res.Mean, 2)
	for j := range res.Mean {
		assert.InDelta(t, 2.0, res.Mean[j], 0.1)
		assert.LessOrEqual(t, res.Lower[j], res.Mean[j])
		assert.GreaterOrEqual(t, res.Upper[j], res.Mean[j])
	}

	// a seed fixes the estimate
	again, err := engine.EstimateEffect(do, "Y", opts)
	require.NoError(t, err)
	assert.InDeltaSlice(t, res.Mean, again.Mean, 1e-12)
	assert.InDeltaSlice(t, res.Lower, again.Lower, 1e-12)
	assert.InDeltaSlice(t, res.Upper, again.Upper, 1e-12)

	// V1 is upstream of X and shares its noise across both halves
	upstream, err := engine.EstimateEffect(do, "V1", opts)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, upstream.Mean)
}

func TestEstimateEffectErrors(t *testing.T) {
	engine := must.M1(NewEngine(confounderGraph(t)))

	_, err := engine.EstimateEffect(Values{"X": rowsOf([]float64{2, 2})}, "Z", EffectOptions{Seed: 1})
	assert.True(t, errors.Is(err, ErrMissingVariable))

	_, err = engine.EstimateEffect(nil, "Y", EffectOptions{Seed: 1})
	assert.Error(t, err)

	_, err = engine.EstimateEffect(Values{"X": rowsOf([]float64{2})}, "Y", EffectOptions{Seed: 1, NReplications: 2})
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}
