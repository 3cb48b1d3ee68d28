// Package analysis decorates a function graph with reachability and
// variable types, and judges whether the function can be compiled.
package analysis

import (
	"github.com/TazeTSchnitzel/recki-ct/cfg"
	"github.com/TazeTSchnitzel/recki-ct/internal/bitset"
	"github.com/TazeTSchnitzel/recki-ct/types"
)

// Verdict reports whether a function is compilable.
type Verdict uint8

const (
	Jitable Verdict = iota
	Unjitable
)

func (v Verdict) String() string {
	if v == Jitable {
		return "jitable"
	}
	return "unjitable"
}

// Result is the outcome of analyzing a function graph.
type Result struct {
	Return  types.Type
	Verdict Verdict
	Reasons []string
}

// Analyze computes block reachability and variable types in place on
// g and returns the analysis result. Analyze is idempotent: a second
// run over an already decorated graph reaches the same fixed point.
func Analyze(g *cfg.FunctionGraph) *Result {
	markReachable(g)
	inferTypes(g)

	r := &Result{Return: returnType(g)}
	r.Reasons = rejectionReasons(g)
	if len(r.Reasons) > 0 {
		r.Verdict = Unjitable
	}
	return r
}

func rejectionReasons(g *cfg.FunctionGraph) []string {
	var reasons []string
	if g.Variadic {
		reasons = append(reasons, "variadic parameters not supported")
	}
	if g.UsesByRef {
		reasons = append(reasons, "by-reference variables not supported")
	}
	if g.UsesGlobal {
		reasons = append(reasons, "global variable access not supported")
	}
	if g.ClosureByRef {
		reasons = append(reasons, "closure captures by reference")
	} else if g.UsesClosure {
		reasons = append(reasons, "nested closures not supported")
	}
	return reasons
}

// markReachable flags every block reachable from entry. Exception
// edges participate like any other edge; the builder only records
// them at statements that can raise, so a reachable source implies a
// possible transfer.
func markReachable(g *cfg.FunctionGraph) {
	seen := bitset.New(len(g.Blocks))
	work := []*cfg.BasicBlock{g.Entry}
	seen.Add(g.Entry.ID)
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		for _, succ := range b.Succs {
			if !seen.Has(succ.ID) {
				seen.Add(succ.ID)
				work = append(work, succ)
			}
		}
	}
	for _, b := range g.Blocks {
		b.Reachable = seen.Has(b.ID)
	}
}

// inferTypes sweeps the reachable blocks in reverse postorder until a
// full sweep changes no type. A changed definition can feed a merge
// anywhere in the graph, so the sweep repeats in full rather than
// chasing successors. Past 2*len(blocks)+4 sweeps every definition is
// forced to Any, bounding the iteration count on graphs whose types
// would otherwise keep climbing the lattice.
func inferTypes(g *cfg.FunctionGraph) {
	for _, p := range g.Params {
		p.Var.Type = p.Hint
	}

	order := rpo(g)
	bound := 2*len(g.Blocks) + 4
	for sweep := 1; ; sweep++ {
		changed := false
		for _, b := range order {
			if transferBlock(b, sweep > bound) {
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

// rpo returns the reachable blocks in reverse postorder.
func rpo(g *cfg.FunctionGraph) []*cfg.BasicBlock {
	order := g.Digraph().ReversePostOrder(g.Entry.ID)
	blocks := make([]*cfg.BasicBlock, 0, len(order))
	for _, id := range order {
		if b := g.Blocks[id]; b.Reachable {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// transferBlock recomputes the block's merge results and statement
// definitions. It reports whether any type changed. When force is
// set, every definition is clamped to Any.
func transferBlock(b *cfg.BasicBlock, force bool) bool {
	changed := false
	set := func(v *cfg.Variable, t types.Type) {
		if force {
			t = types.Any
		}
		if !v.Type.Equal(t) {
			v.Type = t
			changed = true
		}
	}
	for _, m := range b.Merges {
		t := types.Bottom
		for _, in := range m.Incoming {
			if !in.Pred.Reachable {
				continue
			}
			t = t.Join(valueType(in.Src))
		}
		set(m.Result, t)
	}
	for _, s := range b.Stmts {
		def := s.Def()
		if def == nil {
			continue
		}
		set(def, stmtType(s))
	}
	return changed
}

func stmtType(s cfg.Stmt) types.Type {
	switch s := s.(type) {
	case *cfg.BinStmt:
		return binResult(s.Op, valueType(s.X), valueType(s.Y))
	case *cfg.UnStmt:
		return unResult(s.Op, valueType(s.X))
	case *cfg.CopyStmt:
		return valueType(s.Src)
	case *cfg.CallStmt:
		if t, ok := builtinResults[s.Func]; ok {
			return t
		}
		return types.Any
	case *cfg.NewStmt:
		return types.Object(s.Class)
	case *cfg.NewClosureStmt:
		return types.Object("Closure")
	case *cfg.ArrayNewStmt:
		return types.Array
	case *cfg.IndexStmt:
		return types.Any
	case *cfg.CatchBindStmt:
		return types.Object("Exception")
	case *cfg.LoadGlobalStmt:
		return types.Any
	}
	return types.Any
}

func valueType(v cfg.Value) types.Type {
	if x, ok := v.(*cfg.Variable); ok {
		return x.Type
	}
	return cfg.ConstType(v)
}

func returnType(g *cfg.FunctionGraph) types.Type {
	t := types.Bottom
	for _, b := range g.Blocks {
		if !b.Reachable {
			continue
		}
		if ret, ok := b.Term.(*cfg.Return); ok {
			t = t.Join(valueType(ret.Val))
		}
	}
	if t.IsBottom() {
		// Every path throws.
		return types.Null
	}
	return t
}
