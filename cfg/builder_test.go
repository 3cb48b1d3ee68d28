package cfg

import (
	"errors"
	"strings"
	"testing"

	"github.com/TazeTSchnitzel/recki-ct/php"
)

func mustBuild(t *testing.T, fn *php.Function) *FunctionGraph {
	t.Helper()
	g, err := Build(fn)
	if err != nil {
		t.Fatalf("Build(%s) = %v", fn.Name, err)
	}
	return g
}

func param(name, hint string) *php.Param {
	return &php.Param{Name: name, Hint: hint}
}

func intLit(v int64) *php.IntLit  { return &php.IntLit{Value: v} }
func varRef(name string) *php.Var { return &php.Var{Name: name} }
func assign(name string, x php.Expr) *php.AssignStmt {
	return &php.AssignStmt{Name: name, X: x}
}
func ret(x php.Expr) *php.ReturnStmt { return &php.ReturnStmt{X: x} }
func bin(op php.BinaryOp, x, y php.Expr) *php.BinaryExpr {
	return &php.BinaryExpr{Op: op, X: x, Y: y}
}

func TestBuildStraightLine(t *testing.T) {
	fn := &php.Function{
		Name:   "add",
		Params: []*php.Param{param("a", "int"), param("b", "int")},
		Body: []php.Stmt{
			ret(bin(php.Add, varRef("a"), varRef("b"))),
		},
	}
	g := mustBuild(t, fn)
	if len(g.Blocks) != 1 {
		t.Fatalf("got %d blocks, want 1:\n%v", len(g.Blocks), g)
	}
	entry := g.Entry
	if len(entry.Stmts) != 1 {
		t.Fatalf("got %d statements, want 1:\n%v", len(entry.Stmts), g)
	}
	add, ok := entry.Stmts[0].(*BinStmt)
	if !ok || add.Op != Add {
		t.Fatalf("got %v, want add statement", entry.Stmts[0])
	}
	retTerm, ok := entry.Term.(*Return)
	if !ok {
		t.Fatalf("got terminator %v, want return", entry.Term)
	}
	if retTerm.Val != Value(add.Dest) {
		t.Errorf("return value %v is not the add result %v", retTerm.Val, add.Dest)
	}
}

func TestBuildIfMerge(t *testing.T) {
	// if ($c) { $x = 1; } else { $x = 2; } return $x;
	fn := &php.Function{
		Name:   "pick",
		Params: []*php.Param{param("c", "bool")},
		Body: []php.Stmt{
			&php.IfStmt{
				Cond: varRef("c"),
				Then: []php.Stmt{assign("x", intLit(1))},
				Else: []php.Stmt{assign("x", intLit(2))},
			},
			ret(varRef("x")),
		},
	}
	g := mustBuild(t, fn)
	if len(g.Blocks) != 4 {
		t.Fatalf("got %d blocks, want 4:\n%v", len(g.Blocks), g)
	}
	join := g.Blocks[3]
	if len(join.Merges) != 1 {
		t.Fatalf("got %d merges at join, want 1:\n%v", len(join.Merges), g)
	}
	m := join.Merges[0]
	if m.Result.Name != "x" || len(m.Incoming) != 2 {
		t.Fatalf("merge %v does not combine two versions of $x", m)
	}
	retTerm := join.Term.(*Return)
	if retTerm.Val != Value(m.Result) {
		t.Errorf("return value %v is not the merge result %v", retTerm.Val, m.Result)
	}
}

func TestBuildRetainsCodeAfterReturn(t *testing.T) {
	// return 1; $x = 2;
	fn := &php.Function{
		Name: "early",
		Body: []php.Stmt{
			ret(intLit(1)),
			assign("x", intLit(2)),
		},
	}
	g := mustBuild(t, fn)
	if len(g.Blocks) != 2 {
		t.Fatalf("got %d blocks, want 2:\n%v", len(g.Blocks), g)
	}
	trailing := g.Blocks[1]
	if len(trailing.Preds) != 0 {
		t.Errorf("trailing block has %d predecessors, want 0", len(trailing.Preds))
	}
	if len(trailing.Stmts) == 0 {
		t.Errorf("trailing statement was dropped instead of retained:\n%v", g)
	}
}

func TestBuildWhileLoop(t *testing.T) {
	// $i = 0; while ($i < $n) { $i = $i + 1; } return $i;
	fn := &php.Function{
		Name:   "countUp",
		Params: []*php.Param{param("n", "int")},
		Body: []php.Stmt{
			assign("i", intLit(0)),
			&php.WhileStmt{
				Cond: bin(php.Lt, varRef("i"), varRef("n")),
				Body: []php.Stmt{
					assign("i", bin(php.Add, varRef("i"), intLit(1))),
				},
			},
			ret(varRef("i")),
		},
	}
	g := mustBuild(t, fn)
	header := g.Blocks[1]
	var iMerge *Merge
	for _, m := range header.Merges {
		if m.Result.Name == "i" {
			iMerge = m
		}
	}
	if iMerge == nil {
		t.Fatalf("no merge for $i at the loop header:\n%v", g)
	}
	if len(iMerge.Incoming) != 2 {
		t.Fatalf("loop header merge has %d incomings, want entry + back edge:\n%v", len(iMerge.Incoming), g)
	}
	// $n is never reassigned and must not be merged.
	for _, m := range header.Merges {
		if m.Result.Name == "n" {
			t.Errorf("loop-invariant $n was merged at the header")
		}
	}
	backEdges := 0
	for _, e := range g.Edges {
		if e.To == header && e.Kind == EdgeUncond && e.From != g.Entry {
			backEdges++
		}
	}
	if backEdges != 1 {
		t.Errorf("got %d back edges to the header, want 1", backEdges)
	}
}

func TestBuildExceptionEdges(t *testing.T) {
	// try { $x = $a / $b; } catch (Exception $e) { $x = 0; } return $x;
	fn := &php.Function{
		Name:   "safeDiv",
		Params: []*php.Param{param("a", "int"), param("b", "int")},
		Body: []php.Stmt{
			&php.TryStmt{
				Body: []php.Stmt{
					assign("x", bin(php.Div, varRef("a"), varRef("b"))),
				},
				Catches: []*php.CatchClause{
					{Class: "Exception", Var: "e", Body: []php.Stmt{assign("x", intLit(0))}},
				},
			},
			ret(varRef("x")),
		},
	}
	g := mustBuild(t, fn)
	var exc []ControlEdge
	for _, e := range g.Edges {
		if e.Kind == EdgeException {
			exc = append(exc, e)
		}
	}
	if len(exc) != 1 {
		t.Fatalf("got %d exception edges, want 1:\n%v", len(exc), g)
	}
	if exc[0].From != g.Entry {
		t.Errorf("exception edge leaves %s, want entry", exc[0].From.Name())
	}
	handler := exc[0].To
	if len(handler.Stmts) == 0 {
		t.Fatalf("handler block is empty:\n%v", g)
	}
	if _, ok := handler.Stmts[0].(*CatchBindStmt); !ok {
		t.Errorf("handler starts with %v, want a catch binding", handler.Stmts[0])
	}
}

func TestBuildHandlerPerStatement(t *testing.T) {
	// $a = $x % 0; try { $b = 1 % 1; } catch (Exception $e) { $a = -1; }
	// return $a;
	// Both mods share the entry block; only the one inside the try is
	// protected.
	fn := &php.Function{
		Name:   "partial",
		Params: []*php.Param{param("x", "int")},
		Body: []php.Stmt{
			assign("a", bin(php.Mod, varRef("x"), intLit(0))),
			&php.TryStmt{
				Body: []php.Stmt{
					assign("b", bin(php.Mod, intLit(1), intLit(1))),
				},
				Catches: []*php.CatchClause{
					{Class: "Exception", Var: "e", Body: []php.Stmt{assign("a", intLit(-1))}},
				},
			},
			ret(varRef("a")),
		},
	}
	g := mustBuild(t, fn)
	var mods []*BinStmt
	for _, s := range g.Entry.Stmts {
		if bs, ok := s.(*BinStmt); ok && bs.Op == Mod {
			mods = append(mods, bs)
		}
	}
	if len(mods) != 2 {
		t.Fatalf("got %d mod statements in entry, want 2:\n%v", len(mods), g)
	}
	if mods[0].Handler != nil {
		t.Errorf("mod before the try has handler %s, want none", mods[0].Handler.Name())
	}
	if mods[1].Handler == nil {
		t.Errorf("mod inside the try has no handler")
	}
}

func TestBuildShortCircuit(t *testing.T) {
	// return $a && $b;
	fn := &php.Function{
		Name:   "both",
		Params: []*php.Param{param("a", "bool"), param("b", "bool")},
		Body: []php.Stmt{
			ret(bin(php.BoolAnd, varRef("a"), varRef("b"))),
		},
	}
	g := mustBuild(t, fn)
	if len(g.Blocks) != 4 {
		t.Fatalf("got %d blocks, want cond/eval/short/join:\n%v", len(g.Blocks), g)
	}
	branch, ok := g.Entry.Term.(*Branch)
	if !ok {
		t.Fatalf("entry ends with %v, want a branch", g.Entry.Term)
	}
	if branch.True != g.Blocks[1] || branch.False != g.Blocks[2] {
		t.Errorf("&& branch targets are %s/%s, want eval/short",
			branch.True.Name(), branch.False.Name())
	}
	join := g.Blocks[3]
	if len(join.Merges) != 1 {
		t.Fatalf("got %d merges at join, want 1:\n%v", len(join.Merges), g)
	}
}

func TestBuildFeatureFlags(t *testing.T) {
	tests := []struct {
		name  string
		fn    *php.Function
		check func(*FunctionGraph) bool
		flag  string
	}{
		{
			name: "byRefParam",
			fn: &php.Function{Name: "f", Params: []*php.Param{{Name: "a", ByRef: true}},
				Body: []php.Stmt{ret(nil)}},
			check: func(g *FunctionGraph) bool { return g.UsesByRef },
			flag:  "UsesByRef",
		},
		{
			name: "variadic",
			fn: &php.Function{Name: "f", Params: []*php.Param{{Name: "a", Variadic: true}},
				Body: []php.Stmt{ret(nil)}},
			check: func(g *FunctionGraph) bool { return g.Variadic },
			flag:  "Variadic",
		},
		{
			name: "global",
			fn: &php.Function{Name: "f",
				Body: []php.Stmt{&php.GlobalStmt{Names: []string{"g"}}, ret(varRef("g"))}},
			check: func(g *FunctionGraph) bool { return g.UsesGlobal },
			flag:  "UsesGlobal",
		},
		{
			name: "closure",
			fn: &php.Function{Name: "f",
				Body: []php.Stmt{assign("c", &php.ClosureExpr{}), ret(varRef("c"))}},
			check: func(g *FunctionGraph) bool { return g.UsesClosure },
			flag:  "UsesClosure",
		},
		{
			name: "closureByRef",
			fn: &php.Function{Name: "f",
				Body: []php.Stmt{
					assign("c", &php.ClosureExpr{Uses: []*php.ClosureUse{{Name: "x", ByRef: true}}}),
					ret(varRef("c")),
				}},
			check: func(g *FunctionGraph) bool { return g.ClosureByRef },
			flag:  "ClosureByRef",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := mustBuild(t, tt.fn)
			if !tt.check(g) {
				t.Errorf("%s not set", tt.flag)
			}
		})
	}
}

func TestBuildSwitchFallthrough(t *testing.T) {
	// switch ($n) { case 1: $x = 1; case 2: $x = 2; break; default: $x = 0; }
	fn := &php.Function{
		Name:   "classify",
		Params: []*php.Param{param("n", "int")},
		Body: []php.Stmt{
			&php.SwitchStmt{
				Subject: varRef("n"),
				Cases: []*php.SwitchCase{
					{Cond: intLit(1), Body: []php.Stmt{assign("x", intLit(1))}},
					{Cond: intLit(2), Body: []php.Stmt{assign("x", intLit(2)), &php.BreakStmt{}}},
					{Body: []php.Stmt{assign("x", intLit(0))}},
				},
			},
			ret(varRef("x")),
		},
	}
	g := mustBuild(t, fn)
	// The case-1 body must fall through into the case-2 body.
	var fallthroughEdge bool
	for _, e := range g.Edges {
		if e.Kind != EdgeUncond {
			continue
		}
		from, to := e.From, e.To
		if hasAssignTo(from, "x", 1) && hasAssignTo(to, "x", 2) {
			fallthroughEdge = true
		}
	}
	if !fallthroughEdge {
		t.Errorf("no fallthrough edge from case 1 into case 2:\n%v", g)
	}
}

func hasAssignTo(b *BasicBlock, name string, val int64) bool {
	for _, s := range b.Stmts {
		cp, ok := s.(*CopyStmt)
		if !ok || cp.Dest.Name != name {
			continue
		}
		if c, ok := cp.Src.(*IntConst); ok && c.Value == val {
			return true
		}
	}
	return false
}

func TestBuildFinallyWithoutCatch(t *testing.T) {
	fn := &php.Function{
		Name: "f",
		Body: []php.Stmt{
			&php.TryStmt{
				Body:    []php.Stmt{assign("x", intLit(1))},
				Finally: []php.Stmt{assign("x", intLit(2))},
			},
		},
	}
	_, err := Build(fn)
	var uerr *UnsupportedConstructError
	if !errors.As(err, &uerr) {
		t.Fatalf("Build = %v, want UnsupportedConstructError", err)
	}
	if !strings.Contains(uerr.Construct, "TryStmt") {
		t.Errorf("got construct %q, want a TryStmt error", uerr.Construct)
	}
}

func TestBuildDotDigraph(t *testing.T) {
	fn := &php.Function{
		Name:   "pick",
		Params: []*php.Param{param("c", "bool")},
		Body: []php.Stmt{
			&php.IfStmt{
				Cond: varRef("c"),
				Then: []php.Stmt{assign("x", intLit(1))},
				Else: []php.Stmt{assign("x", intLit(2))},
			},
			ret(varRef("x")),
		},
	}
	g := mustBuild(t, fn)
	dot := g.DotDigraph()
	for _, want := range []string{"digraph {", "entry -> block_0", "label=\"true\"", "label=\"false\""} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT output missing %q:\n%s", want, dot)
		}
	}
}
