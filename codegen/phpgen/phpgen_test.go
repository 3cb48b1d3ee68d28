package phpgen

import (
	"strings"
	"testing"

	"github.com/TazeTSchnitzel/recki-ct/analysis"
	"github.com/TazeTSchnitzel/recki-ct/cfg"
	"github.com/TazeTSchnitzel/recki-ct/ir"
	"github.com/TazeTSchnitzel/recki-ct/php"
)

func lower(t *testing.T, fn *php.Function) *ir.Function {
	t.Helper()
	g, err := cfg.Build(fn)
	if err != nil {
		t.Fatalf("cfg.Build(%s) = %v", fn.Name, err)
	}
	analysis.Analyze(g)
	f, err := ir.Generate(g)
	if err != nil {
		t.Fatalf("ir.Generate(%s) = %v", fn.Name, err)
	}
	return f
}

func varRef(name string) *php.Var { return &php.Var{Name: name} }

func emit(t *testing.T, fn *php.Function) string {
	t.Helper()
	src, err := New().Emit(lower(t, fn))
	if err != nil {
		t.Fatalf("Emit(%s) = %v", fn.Name, err)
	}
	return src
}

func TestEmitAdd(t *testing.T) {
	fn := &php.Function{
		Name:   "add",
		Params: []*php.Param{{Name: "a", Hint: "int"}, {Name: "b", Hint: "int"}},
		Body: []php.Stmt{
			&php.ReturnStmt{X: &php.BinaryExpr{Op: php.Add, X: varRef("a"), Y: varRef("b")}},
		},
	}
	src := emit(t, fn)
	for _, want := range []string{
		"function add($r0, $r1)",
		"switch ($pc) {",
		"case 0: // entry",
		"$r2 = $r0 + $r1;",
		"return $r2;",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("output missing %q:\n%s", want, src)
		}
	}
}

func TestEmitDivFloatCast(t *testing.T) {
	fn := &php.Function{
		Name:   "ratio",
		Params: []*php.Param{{Name: "a", Hint: "int"}, {Name: "b", Hint: "int"}},
		Body: []php.Stmt{
			&php.ReturnStmt{X: &php.BinaryExpr{Op: php.Div, X: varRef("a"), Y: varRef("b")}},
		},
	}
	src := emit(t, fn)
	if !strings.Contains(src, "(float) ($r0 / $r1)") {
		t.Errorf("integer division is not cast to float:\n%s", src)
	}
}

func TestEmitExceptionDispatch(t *testing.T) {
	// try { $x = $a / $b; } catch (Exception $e) { $x = -1; } return $x;
	fn := &php.Function{
		Name:   "safeDiv",
		Params: []*php.Param{{Name: "a", Hint: "int"}, {Name: "b", Hint: "int"}},
		Body: []php.Stmt{
			&php.TryStmt{
				Body: []php.Stmt{
					&php.AssignStmt{Name: "x", X: &php.BinaryExpr{Op: php.Div, X: varRef("a"), Y: varRef("b")}},
				},
				Catches: []*php.CatchClause{
					{Class: "Exception", Var: "e", Body: []php.Stmt{
						&php.AssignStmt{Name: "x", X: &php.IntLit{Value: -1}},
					}},
				},
			},
			&php.ReturnStmt{X: varRef("x")},
		},
	}
	src := emit(t, fn)
	for _, want := range []string{
		"try {",
		"} catch (\\Throwable $e) {",
		"$exc = $e;",
		"= $exc;",   // catch binding
		"is_a(",     // clause dispatch
		"throw $r",  // unmatched rethrow
	} {
		if !strings.Contains(src, want) {
			t.Errorf("output missing %q:\n%s", want, src)
		}
	}
}

func TestEmitLoopDispatch(t *testing.T) {
	// $i = 0; while ($i < $n) { $i = $i + 1; } return $i;
	fn := &php.Function{
		Name:   "countUp",
		Params: []*php.Param{{Name: "n", Hint: "int"}},
		Body: []php.Stmt{
			&php.AssignStmt{Name: "i", X: &php.IntLit{Value: 0}},
			&php.WhileStmt{
				Cond: &php.BinaryExpr{Op: php.Lt, X: varRef("i"), Y: varRef("n")},
				Body: []php.Stmt{
					&php.AssignStmt{Name: "i", X: &php.BinaryExpr{Op: php.Add, X: varRef("i"), Y: &php.IntLit{Value: 1}}},
				},
			},
			&php.ReturnStmt{X: varRef("i")},
		},
	}
	src := emit(t, fn)
	if !strings.Contains(src, "$pc = ") || !strings.Contains(src, " ? ") {
		t.Errorf("missing conditional dispatch:\n%s", src)
	}
	// Every block ends in a jump, return, or throw; no case may fall
	// into the next.
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "case ") && !strings.Contains(trimmed, "// ") {
			t.Errorf("case without label comment: %q", line)
		}
	}
}

func TestEmitStringQuoting(t *testing.T) {
	fn := &php.Function{
		Name: "greet",
		Body: []php.Stmt{
			&php.EchoStmt{Args: []php.Expr{&php.StringLit{Value: "it's a \\ test"}}},
			&php.ReturnStmt{},
		},
	}
	src := emit(t, fn)
	if !strings.Contains(src, `echo 'it\'s a \\ test';`) {
		t.Errorf("string not single-quote escaped:\n%s", src)
	}
}
