package digraph

// Digraph is a directed graph over dense integer node IDs.
type Digraph []graphNode

type graphNode struct {
	Edges   []int
	Visited bool
}

// AddEdge adds a directed edge from node i to j.
func (g Digraph) AddEdge(i, j int) {
	g[i].Edges = append(g[i].Edges, j)
}

// ReversePostOrder traverses the graph depth-first from entry and
// returns the reverse post-order numbering. Nodes unreachable from
// entry are omitted. Edges are visited in insertion order, so the
// result is deterministic for a fixed graph.
func (g Digraph) ReversePostOrder(entry int) []int {
	g.ClearVisited()
	postOrder := g.visit(entry, nil)
	rpo := make([]int, len(postOrder))
	for i, node := range postOrder {
		rpo[len(postOrder)-1-i] = node
	}
	return rpo
}

// SCCs computes the strongly connected components of a graph.
func (g Digraph) SCCs() [][]int {
	postOrder := g.Reverse().PostOrder()
	g.ClearVisited()
	var sccs [][]int
	for i := len(postOrder) - 1; i >= 0; i-- {
		if !g[postOrder[i]].Visited {
			sccs = append(sccs, g.visit(postOrder[i], nil))
		}
	}
	return sccs
}

// PostOrder traverses the graph with depth first search and returns
// the post-order traversal numbers.
func (g Digraph) PostOrder() []int {
	var postOrder []int
	for i := range g {
		postOrder = g.visit(i, postOrder)
	}
	return postOrder
}

func (g Digraph) visit(node int, postOrder []int) []int {
	if g[node].Visited {
		return postOrder
	}
	g[node].Visited = true
	for _, edge := range g[node].Edges {
		postOrder = g.visit(edge, postOrder)
	}
	return append(postOrder, node)
}

// Reverse creates the reverse graph of g.
func (g Digraph) Reverse() Digraph {
	r := make(Digraph, len(g))
	for node := range g {
		for _, edge := range g[node].Edges {
			r[edge].Edges = append(r[edge].Edges, node)
		}
	}
	return r
}

// ClearVisited resets the visited flags.
func (g Digraph) ClearVisited() {
	for i := range g {
		g[i].Visited = false
	}
}
