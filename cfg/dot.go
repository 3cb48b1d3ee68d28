package cfg

import (
	"fmt"
	"strings"

	"github.com/TazeTSchnitzel/recki-ct/digraph"
)

// Digraph constructs a digraph representing control flow.
func (g *FunctionGraph) Digraph() digraph.Digraph {
	d := make(digraph.Digraph, len(g.Blocks))
	for _, e := range g.Edges {
		d.AddEdge(e.From.ID, e.To.ID)
	}
	return d
}

// DotDigraph creates a control flow graph in Graphviz DOT format,
// clustering blocks by strongly connected component.
func (g *FunctionGraph) DotDigraph() string {
	var b strings.Builder
	b.WriteString("digraph {\n")
	fmt.Fprintf(&b, "  label=%q;\n", g.Name)
	b.WriteString("  entry[shape=point];\n")
	for i, scc := range g.Digraph().SCCs() {
		fmt.Fprintf(&b, "  subgraph cluster_%d {\n", i)
		for _, node := range scc {
			block := g.Blocks[node]
			fmt.Fprintf(&b, "    block_%d[label=\"%s\"", block.ID, block.Name())
			if _, ok := block.Term.(*Return); ok {
				b.WriteString(" peripheries=2")
			}
			if !block.Reachable {
				b.WriteString(" style=dashed")
			}
			b.WriteString("];\n")
		}
		b.WriteString("  }\n")
	}
	b.WriteByte('\n')
	fmt.Fprintf(&b, "  entry -> block_%d;\n", g.Entry.ID)
	for _, e := range g.Edges {
		switch e.Kind {
		case EdgeUncond:
			fmt.Fprintf(&b, "  block_%d -> block_%d[label=\"jmp\"];\n", e.From.ID, e.To.ID)
		case EdgeBranchTrue:
			fmt.Fprintf(&b, "  block_%d -> block_%d[label=\"true\"];\n", e.From.ID, e.To.ID)
		case EdgeBranchFalse:
			fmt.Fprintf(&b, "  block_%d -> block_%d[label=\"false\"];\n", e.From.ID, e.To.ID)
		case EdgeException:
			fmt.Fprintf(&b, "  block_%d -> block_%d[label=\"exc\" style=dashed];\n", e.From.ID, e.To.ID)
		}
	}
	b.WriteString("}\n")
	return b.String()
}
