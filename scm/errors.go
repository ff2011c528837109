// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Counterfactual Inference with Invertible Structural Causal Models
// Class: 02-613 at Caregie Mellon University

package scm

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Sentinels for errors.Is checks. The typed errors below match them.
var (
	ErrGraph           = errors.New("scm: invalid graph")
	ErrMissingVariable = errors.New("scm: missing variable")
	ErrShapeMismatch   = errors.New("scm: shape mismatch")
	ErrNonInvertible   = errors.New("scm: round trip exceeded tolerance")
	ErrNumericOverflow = errors.New("scm: numeric overflow")
)

// GraphError reports a problem found while building a Graph.
type GraphError struct {
	Node   string
	Reason string
}

func (e *GraphError) Error() string {
	if e.Node == "" {
		return "graph: " + e.Reason
	}
	return fmt.Sprintf("graph: node %q: %s", e.Node, e.Reason)
}

func (e *GraphError) Is(target error) bool { return target == ErrGraph }

// MissingVariableError is returned when a pass needs a variable the caller did not supply.
type MissingVariableError struct {
	Variable string
	Op       string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("%s: no value for variable %q", e.Op, e.Variable)
}

func (e *MissingVariableError) Is(target error) bool { return target == ErrMissingVariable }

// ShapeMismatchError reports a matrix whose rows or columns disagree with
// what the receiving equation, prior or network declared.
type ShapeMismatchError struct {
	What     string
	WantRows int // -1 when rows are not constrained
	WantCols int
	GotRows  int
	GotCols  int
}

func (e *ShapeMismatchError) Error() string {
	if e.WantRows < 0 {
		return fmt.Sprintf("%s: expected %d columns, got %dx%d", e.What, e.WantCols, e.GotRows, e.GotCols)
	}
	return fmt.Sprintf("%s: expected %dx%d, got %dx%d", e.What, e.WantRows, e.WantCols, e.GotRows, e.GotCols)
}

func (e *ShapeMismatchError) Is(target error) bool { return target == ErrShapeMismatch }

// NonInvertibleResultError is the round-trip diagnostic: Inverse(Forward(u))
// strayed from u by more than the allowed relative tolerance.
type NonInvertibleResultError struct {
	Variable  string
	Row, Col  int
	MaxRelErr float64
	Tolerance float64
}

func (e *NonInvertibleResultError) Error() string {
	name := e.Variable
	if name == "" {
		name = "equation"
	}
	return fmt.Sprintf("%s: round trip relative error %.3g at (%d,%d) exceeds %.3g",
		name, e.MaxRelErr, e.Row, e.Col, e.Tolerance)
}

func (e *NonInvertibleResultError) Is(target error) bool { return target == ErrNonInvertible }

// NumericOverflowError is raised when a flow produces a non-finite value.
type NumericOverflowError struct {
	Op       string
	Row, Col int
	Value    float64
}

func (e *NumericOverflowError) Error() string {
	return fmt.Sprintf("%s: non-finite value %v at (%d,%d)", e.Op, e.Value, e.Row, e.Col)
}

func (e *NumericOverflowError) Is(target error) bool { return target == ErrNumericOverflow }

// checkCols returns a ShapeMismatchError unless m has exactly cols columns.
func checkCols(what string, m mat.Matrix, cols int) error {
	r, c := m.Dims()
	if c != cols {
		return &ShapeMismatchError{What: what, WantRows: -1, WantCols: cols, GotRows: r, GotCols: c}
	}
	return nil
}

// checkShape returns a ShapeMismatchError unless m is rows x cols.
func checkShape(what string, m mat.Matrix, rows, cols int) error {
	r, c := m.Dims()
	if r != rows || c != cols {
		return &ShapeMismatchError{What: what, WantRows: rows, WantCols: cols, GotRows: r, GotCols: c}
	}
	return nil
}
