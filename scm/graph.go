// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Counterfactual Inference with Invertible Structural Causal Models
// Class: 02-613 at Caregie Mellon University

package scm

import (
	"fmt"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/graph/traverse"
	"k8s.io/klog/v2"
)

// Graph is an immutable structural causal model: variables in topological
// order, each bound to one equation, one noise prior and its parents, plus
// the coefficients theta.
type Graph struct {
	nodes  []*Node
	index  map[string]*Node
	params *Params

	// same structure as a gonum graph, node IDs are positions in nodes
	dag *simple.DirectedGraph
}

// parentLister is implemented by equations that read parents by name.
type parentLister interface {
	ParentNames() []string
}

func (e *LinearEquation) ParentNames() []string { return e.Parents }

func (e *FlowEquation) ParentNames() []string { return e.Parents }

// NewGraph validates decls, which must already be in topological order,
// and builds the graph. Every parent has to be declared before the node
// that uses it, which rules out cycles in the same pass. params is copied.
func NewGraph(params *Params, decls ...NodeDecl) (*Graph, error) {
	if len(decls) == 0 {
		return nil, &GraphError{Reason: "no variables declared"}
	}

	declared := make(map[string]bool, len(decls))
	for _, d := range decls {
		declared[d.Name] = true
	}

	g := &Graph{
		nodes:  make([]*Node, 0, len(decls)),
		index:  make(map[string]*Node, len(decls)),
		params: params.Clone(),
		dag:    simple.NewDirectedGraph(),
	}

	for i, d := range decls {
		if err := g.validateDecl(d, declared); err != nil {
			return nil, err
		}

		n := &Node{
			Name:     d.Name,
			Dim:      d.Dim,
			Parents:  append([]string(nil), d.Parents...),
			Equation: d.Equation,
			Prior:    d.Prior,
			index:    i,
		}
		g.nodes = append(g.nodes, n)
		g.index[n.Name] = n

		g.dag.AddNode(simple.Node(i))
		for _, p := range n.Parents {
			g.dag.SetEdge(g.dag.NewEdge(simple.Node(g.index[p].index), simple.Node(i)))
		}
	}

	// Declaration order is the evaluation order; gonum confirms it is a DAG.
	if _, err := topo.Sort(g.dag); err != nil {
		return nil, &GraphError{Reason: fmt.Sprintf("not acyclic: %v", err)}
	}

	if klog.V(1).Enabled() {
		klog.Infof("graph: %d variables, %d edges, order %v", len(g.nodes), g.dag.Edges().Len(), g.Order())
	}
	return g, nil
}

// validateDecl checks one declaration against the nodes built so far.
func (g *Graph) validateDecl(d NodeDecl, declared map[string]bool) error {
	if d.Name == "" {
		return &GraphError{Reason: "empty variable name"}
	}
	if _, dup := g.index[d.Name]; dup {
		return &GraphError{Node: d.Name, Reason: "declared twice"}
	}
	if d.Dim <= 0 {
		return &GraphError{Node: d.Name, Reason: fmt.Sprintf("dim must be > 0, got %d", d.Dim)}
	}
	if d.Equation == nil {
		return &GraphError{Node: d.Name, Reason: "no structural equation"}
	}
	if d.Prior == nil {
		return &GraphError{Node: d.Name, Reason: "no noise prior"}
	}
	if d.Equation.Dim() != d.Dim {
		return &GraphError{Node: d.Name, Reason: fmt.Sprintf("equation dim %d does not match variable dim %d", d.Equation.Dim(), d.Dim)}
	}
	if d.Prior.Dim() != d.Dim {
		return &GraphError{Node: d.Name, Reason: fmt.Sprintf("prior dim %d does not match variable dim %d", d.Prior.Dim(), d.Dim)}
	}
	if gp, ok := d.Prior.(*GaussianPrior); ok && len(gp.LogSigma) != len(gp.Mu) {
		return &GraphError{Node: d.Name, Reason: fmt.Sprintf("prior has %d means but %d log sigmas", len(gp.Mu), len(gp.LogSigma))}
	}

	seen := make(map[string]bool, len(d.Parents))
	for _, p := range d.Parents {
		switch {
		case p == d.Name:
			return &GraphError{Node: d.Name, Reason: "variable cannot be its own parent"}
		case seen[p]:
			return &GraphError{Node: d.Name, Reason: fmt.Sprintf("parent %q listed twice", p)}
		case !declared[p]:
			return &GraphError{Node: d.Name, Reason: fmt.Sprintf("parent %q is never defined", p)}
		}
		if _, ok := g.index[p]; !ok {
			return &GraphError{Node: d.Name, Reason: fmt.Sprintf("parent %q is used before it is defined", p)}
		}
		seen[p] = true
	}

	lister, ok := d.Equation.(parentLister)
	if !ok {
		return nil
	}
	if lin, ok := d.Equation.(*LinearEquation); ok && lin.Child != d.Name {
		return &GraphError{Node: d.Name, Reason: fmt.Sprintf("linear equation belongs to %q", lin.Child)}
	}
	if fl, ok := d.Equation.(*FlowEquation); ok && fl.Child != d.Name {
		return &GraphError{Node: d.Name, Reason: fmt.Sprintf("flow equation belongs to %q", fl.Child)}
	}
	for _, p := range lister.ParentNames() {
		if !seen[p] {
			return &GraphError{Node: d.Name, Reason: fmt.Sprintf("equation reads %q which is not a declared parent", p)}
		}
		coef, ok := g.params.Coefficient(p, d.Name)
		if !ok {
			return &GraphError{Node: d.Name, Reason: "no coefficient for edge " + EdgeKey(p, d.Name)}
		}
		parentDim := g.index[p].Dim
		if coef.Matrix == nil {
			if parentDim != d.Dim {
				return &GraphError{Node: d.Name, Reason: fmt.Sprintf("scalar coefficient %s needs parent dim %d, got %d", EdgeKey(p, d.Name), d.Dim, parentDim)}
			}
			continue
		}
		if r, c := coef.Matrix.Dims(); r != d.Dim || c != parentDim {
			return &GraphError{Node: d.Name, Reason: fmt.Sprintf("coefficient %s is %dx%d, expected %dx%d", EdgeKey(p, d.Name), r, c, d.Dim, parentDim)}
		}
	}
	return nil
}

// Len returns the number of variables.
func (g *Graph) Len() int { return len(g.nodes) }

// Order returns the variable names in evaluation order.
func (g *Graph) Order() []string {
	out := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.Name
	}
	return out
}

// Node returns the variable called name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.index[name]
	return n, ok
}

// Parents returns the parents of name in declaration order.
func (g *Graph) Parents(name string) ([]string, bool) {
	n, ok := g.index[name]
	if !ok {
		return nil, false
	}
	return append([]string(nil), n.Parents...), true
}

// Params returns a copy of theta.
func (g *Graph) Params() *Params { return g.params.Clone() }

// WithParams rebuilds the graph with the same variables and new coefficients.
func (g *Graph) WithParams(params *Params) (*Graph, error) {
	decls := make([]NodeDecl, len(g.nodes))
	for i, n := range g.nodes {
		decls[i] = NodeDecl{Name: n.Name, Dim: n.Dim, Parents: n.Parents, Equation: n.Equation, Prior: n.Prior}
	}
	return NewGraph(params, decls...)
}

// Descendants returns every variable reachable from name, in evaluation
// order, not including name itself.
func (g *Graph) Descendants(name string) ([]string, error) {
	n, ok := g.index[name]
	if !ok {
		return nil, &MissingVariableError{Variable: name, Op: "descendants"}
	}

	reached := make(map[int64]bool)
	dfs := traverse.DepthFirst{
		Visit: func(v graph.Node) { reached[v.ID()] = true },
	}
	dfs.Walk(g.dag, simple.Node(n.index), nil)

	var out []string
	for _, m := range g.nodes {
		if m.index != n.index && reached[int64(m.index)] {
			out = append(out, m.Name)
		}
	}
	return out, nil
}
