// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Counterfactual Inference with Invertible Structural Causal Models
// Class: 02-613 at Caregie Mellon University

package scm

import (
	"bufio"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// ============================================================================
// HELPER FUNCTIONS
// ============================================================================

// almostEqual compares floats with tolerance
func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// ReadDirectory reads all files in a directory
func ReadDirectory(directory string) []os.DirEntry {
	files, err := os.ReadDir(directory)
	if err != nil {
		panic(fmt.Sprintf("Error reading directory %s: %v", directory, err))
	}
	return files
}

// skipComments reads lines from scanner, skipping comment lines starting with #
func skipComments(scanner *bufio.Scanner) string {
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			return line
		}
	}
	return ""
}

// parseFloats parses a whitespace separated line of floats
func parseFloats(line string) []float64 {
	fields := strings.Fields(line)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			panic(fmt.Sprintf("Error parsing float %q: %v", f, err))
		}
		out[i] = v
	}
	return out
}

// requireMatrixNear fails unless got and want agree entrywise within tol.
func requireMatrixNear(t *testing.T, want, got mat.Matrix, tol float64, msgAndArgs ...interface{}) {
	t.Helper()
	wr, wc := want.Dims()
	gr, gc := got.Dims()
	require.Equal(t, []int{wr, wc}, []int{gr, gc}, msgAndArgs...)
	require.True(t, mat.EqualApprox(want, got, tol),
		"want\n%v\ngot\n%v", mat.Formatted(want), mat.Formatted(got))
}

// rowsOf builds a Dense from literal rows.
func rowsOf(rows ...[]float64) *mat.Dense {
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for _, r := range rows {
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), cols, data)
}

// confounderTheta is the coefficient set of the V1 -> X -> Y, V1 -> Y example.
func confounderTheta() *Params {
	return NewParams(map[string]float64{
		"V1->X": 0.5,
		"X->Y":  1.0,
		"V1->Y": 0.3,
	})
}

// confounderGraph builds the linear confounder graph with dim-2 variables
// and standard normal priors.
func confounderGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraph(confounderTheta(),
		NodeDecl{Name: "V1", Dim: 2, Equation: &RootEquation{D: 2}, Prior: NewStandardNormal(2)},
		NodeDecl{Name: "X", Dim: 2, Parents: []string{"V1"}, Equation: NewLinearEquation("X", 2, "V1"), Prior: NewStandardNormal(2)},
		NodeDecl{Name: "Y", Dim: 2, Parents: []string{"X", "V1"}, Equation: NewLinearEquation("Y", 2, "X", "V1"), Prior: NewStandardNormal(2)},
	)
	require.NoError(t, err)
	return g
}

// testMADE returns a seeded random network.
func testMADE(dim int, hidden []int, seed int64) *MADE {
	return must.M1(RandomMADE(dim, hidden, rand.New(rand.NewSource(seed))))
}

// testFlow returns a seeded MAF or IAF over a fresh network.
func testFlow(dir Direction, dim int, parity bool, seed int64, policy NumericPolicy) *Flow {
	net := testMADE(dim, []int{16, 16}, seed)
	if dir == IAF {
		return must.M1(NewIAF(net, parity, policy))
	}
	return must.M1(NewMAF(net, parity, policy))
}

// randomBatch draws an n x dim standard normal batch.
func randomBatch(n, dim int, seed int64) *mat.Dense {
	return must.M1(NewStandardNormal(dim).Sample(rand.New(rand.NewSource(seed)), n))
}
