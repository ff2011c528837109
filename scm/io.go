// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Counterfactual Inference with Invertible Structural Causal Models
// Class: 02-613 at Caregie Mellon University

package scm

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ColumnName is the CSV header of coordinate i of variable name.
func ColumnName(name string, i int) string { return fmt.Sprintf("%s[%d]", name, i) }

// parseColumnName splits a "Name[i]" header.
func parseColumnName(col string) (string, int, error) {
	open := strings.LastIndex(col, "[")
	if open <= 0 || !strings.HasSuffix(col, "]") {
		return "", 0, errors.Errorf("column %q is not of the form Name[i]", col)
	}
	idx, err := strconv.Atoi(col[open+1 : len(col)-1])
	if err != nil || idx < 0 {
		return "", 0, errors.Errorf("column %q has a bad index", col)
	}
	return col[:open], idx, nil
}

// LoadCSVToValues loads a CSV file of variable values laid out as written
// by OutputValuesToCSV. Every coordinate of every variable of g must be
// present; columns may come in any order.
func LoadCSVToValues(path string, g *Graph) (Values, error) {
	// 1. Open file
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	return ReadCSVValues(f, g)
}

// ReadCSVValues is LoadCSVToValues on an open reader.
func ReadCSVValues(in io.Reader, g *Graph) (Values, error) {
	// 1. Make CSV reader
	r := csv.NewReader(in)
	r.TrimLeadingSpace = true

	// 2. Read header row and map each column to (variable, coordinate)
	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	type target struct {
		name string
		idx  int
	}
	targets := make([]target, len(header))
	seen := make(map[string]bool, len(header))
	for j, col := range header {
		name, idx, err := parseColumnName(strings.TrimSpace(col))
		if err != nil {
			return nil, err
		}
		node, ok := g.Node(name)
		if !ok {
			return nil, errors.Errorf("column %q: unknown variable %q", col, name)
		}
		if idx >= node.Dim {
			return nil, errors.Errorf("column %q: variable %q has dim %d", col, name, node.Dim)
		}
		key := ColumnName(name, idx)
		if seen[key] {
			return nil, errors.Errorf("column %q appears twice", col)
		}
		seen[key] = true
		targets[j] = target{name: name, idx: idx}
	}
	for _, name := range g.Order() {
		node, _ := g.Node(name)
		for i := 0; i < node.Dim; i++ {
			if !seen[ColumnName(name, i)] {
				return nil, &MissingVariableError{Variable: ColumnName(name, i), Op: "read csv"}
			}
		}
	}

	// 3. Read each data row into per variable buffers
	data := make(map[string][]float64, g.Len())
	row := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read row %d", row+2) // +2 for header + 1-based
		}

		// Skip completely empty lines
		if len(record) == 1 && record[0] == "" {
			continue
		}

		if len(record) != len(header) {
			return nil, errors.Errorf(
				"row %d: expected %d columns, got %d",
				row+2, len(header), len(record),
			)
		}

		for _, name := range g.Order() {
			node, _ := g.Node(name)
			data[name] = append(data[name], make([]float64, node.Dim)...)
		}

		for j, s := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, errors.Wrapf(err,
					"parse float at row %d col %d (%q)",
					row+2, j+1, s,
				)
			}
			tg := targets[j]
			node, _ := g.Node(tg.name)
			data[tg.name][row*node.Dim+tg.idx] = v
		}
		row++
	}

	if row == 0 {
		return nil, errors.New("no data rows")
	}

	// 4. Build one mat.Dense per variable
	out := make(Values, g.Len())
	for _, name := range g.Order() {
		node, _ := g.Node(name)
		out[name] = mat.NewDense(row, node.Dim, data[name])
	}
	return out, nil
}

// OutputValuesToCSV writes values with one "Name[i]" column per coordinate,
// variables in the given order, one line per batch row.
func OutputValuesToCSV(path string, values Values, order []string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return WriteCSVValues(file, values, order)
}

// WriteCSVValues is OutputValuesToCSV on an open writer.
func WriteCSVValues(out io.Writer, values Values, order []string) error {
	rows := -1
	var header []string
	for _, name := range order {
		m, ok := values[name]
		if !ok || m == nil {
			return &MissingVariableError{Variable: name, Op: "write csv"}
		}
		r, c := m.Dims()
		if rows < 0 {
			rows = r
		}
		if r != rows {
			return &ShapeMismatchError{What: "write csv " + name, WantRows: rows, WantCols: c, GotRows: r, GotCols: c}
		}
		for i := 0; i < c; i++ {
			header = append(header, ColumnName(name, i))
		}
	}

	// Initialize a new CSV writer
	writer := csv.NewWriter(out)

	if err := writer.Write(header); err != nil {
		return err
	}

	// Write data rows
	for i := 0; i < rows; i++ {
		record := make([]string, 0, len(header))
		for _, name := range order {
			m := values[name]
			_, c := m.Dims()
			for j := 0; j < c; j++ {
				record = append(record, fmt.Sprintf("%f", m.At(i, j)))
			}
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// PrintValues prints a table of values, one block of columns per variable.
func PrintValues(title string, values Values, order []string) {
	fmt.Printf("\n=== %s ===\n", title)

	rows := 0
	for _, name := range order {
		if m, ok := values[name]; ok && m != nil {
			rows, _ = m.Dims()
			break
		}
	}

	// Print header
	fmt.Printf("row\t")
	for _, name := range order {
		m, ok := values[name]
		if !ok || m == nil {
			continue
		}
		_, c := m.Dims()
		for j := 0; j < c; j++ {
			fmt.Printf("%12s", ColumnName(name, j))
		}
	}
	fmt.Println()

	// Print rows
	for i := 0; i < rows; i++ {
		fmt.Printf("%d\t", i)
		for _, name := range order {
			m, ok := values[name]
			if !ok || m == nil {
				continue
			}
			_, c := m.Dims()
			for j := 0; j < c; j++ {
				fmt.Printf("%12.6f", m.At(i, j))
			}
		}
		fmt.Println()
	}
}

// PrintLogDensity prints one log-density per row.
func PrintLogDensity(lp []float64) {
	fmt.Println("\n=== Log-density ===")
	for i, v := range lp {
		fmt.Printf("%d\t%12.6f\n", i, v)
	}
}

// PrintEffect prints an EffectResult with its CI bands.
func PrintEffect(res *EffectResult) {
	fmt.Printf("\n=== Interventional effect on %s (%.0f%% CI) ===\n", res.Target, 100*(1-res.Alpha))
	fmt.Printf("coord\t%12s%12s%12s\n", "mean", "lower", "upper")
	for j := range res.Mean {
		fmt.Printf("%d\t%12.6f%12.6f%12.6f\n", j, res.Mean[j], res.Lower[j], res.Upper[j])
	}
}

// PrintParams prints every edge coefficient of theta.
func PrintParams(p *Params) {
	fmt.Println("\n=== Edge coefficients ===")
	for _, key := range p.Keys() {
		if w, ok := p.matrices[key]; ok {
			fmt.Printf("%s =\n%v\n", key, mat.Formatted(w, mat.Prefix(" ")))
			continue
		}
		fmt.Printf("%s = %.6f\n", key, p.scalars[key])
	}
}
