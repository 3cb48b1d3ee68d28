package native

import (
	"errors"
	"strings"
	"testing"

	"github.com/TazeTSchnitzel/recki-ct/analysis"
	"github.com/TazeTSchnitzel/recki-ct/cfg"
	"github.com/TazeTSchnitzel/recki-ct/codegen"
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

func intParam(name string) *php.Param { return &php.Param{Name: name, Hint: "int"} }
func varRef(name string) *php.Var     { return &php.Var{Name: name} }

func TestCompileAdd(t *testing.T) {
	fn := &php.Function{
		Name:   "add",
		Params: []*php.Param{intParam("a"), intParam("b")},
		Body: []php.Stmt{
			&php.ReturnStmt{X: &php.BinaryExpr{Op: php.Add, X: varRef("a"), Y: varRef("b")}},
		},
	}
	f := lower(t, fn)
	m, err := New().Compile(f)
	if err != nil {
		t.Fatalf("Compile = %v", err)
	}
	out := m.String()
	for _, want := range []string{"define i64 @add(i64 %p0, i64 %p1)", "add i64", "ret i64"} {
		if !strings.Contains(out, want) {
			t.Errorf("module missing %q:\n%s", want, out)
		}
	}
}

func TestCompileBranches(t *testing.T) {
	// if ($a < $b) { return $a; } return $b;
	fn := &php.Function{
		Name:   "min2",
		Params: []*php.Param{intParam("a"), intParam("b")},
		Body: []php.Stmt{
			&php.IfStmt{
				Cond: &php.BinaryExpr{Op: php.Lt, X: varRef("a"), Y: varRef("b")},
				Then: []php.Stmt{&php.ReturnStmt{X: varRef("a")}},
			},
			&php.ReturnStmt{X: varRef("b")},
		},
	}
	f := lower(t, fn)
	m, err := New().Compile(f)
	if err != nil {
		t.Fatalf("Compile = %v", err)
	}
	out := m.String()
	for _, want := range []string{"icmp slt i64", "br i1"} {
		if !strings.Contains(out, want) {
			t.Errorf("module missing %q:\n%s", want, out)
		}
	}
}

func TestCompileFloatPromotion(t *testing.T) {
	// return $a + 0.5;
	fn := &php.Function{
		Name:   "half",
		Params: []*php.Param{intParam("a")},
		Body: []php.Stmt{
			&php.ReturnStmt{X: &php.BinaryExpr{Op: php.Add, X: varRef("a"), Y: &php.FloatLit{Value: 0.5}}},
		},
	}
	f := lower(t, fn)
	m, err := New().Compile(f)
	if err != nil {
		t.Fatalf("Compile = %v", err)
	}
	out := m.String()
	for _, want := range []string{"sitofp", "fadd double", "ret double"} {
		if !strings.Contains(out, want) {
			t.Errorf("module missing %q:\n%s", want, out)
		}
	}
}

func TestCompileMixedCompare(t *testing.T) {
	// if ($a < 0.5) { return 1; } return 0;
	fn := &php.Function{
		Name:   "below",
		Params: []*php.Param{intParam("a")},
		Body: []php.Stmt{
			&php.IfStmt{
				Cond: &php.BinaryExpr{Op: php.Lt, X: varRef("a"), Y: &php.FloatLit{Value: 0.5}},
				Then: []php.Stmt{&php.ReturnStmt{X: &php.IntLit{Value: 1}}},
			},
			&php.ReturnStmt{X: &php.IntLit{Value: 0}},
		},
	}
	f := lower(t, fn)
	m, err := New().Compile(f)
	if err != nil {
		t.Fatalf("Compile = %v", err)
	}
	out := m.String()
	// The int operand widens so the comparison runs on doubles.
	for _, want := range []string{"sitofp", "fcmp olt double"} {
		if !strings.Contains(out, want) {
			t.Errorf("module missing %q:\n%s", want, out)
		}
	}
}

func TestCompileRejectsRuntimeOps(t *testing.T) {
	tests := []struct {
		name string
		fn   *php.Function
	}{
		{
			name: "division",
			fn: &php.Function{Name: "f", Params: []*php.Param{intParam("a"), intParam("b")},
				Body: []php.Stmt{
					&php.ReturnStmt{X: &php.BinaryExpr{Op: php.Div, X: varRef("a"), Y: varRef("b")}},
				}},
		},
		{
			name: "concat",
			fn: &php.Function{Name: "f",
				Params: []*php.Param{{Name: "s", Hint: "string"}},
				Body: []php.Stmt{
					&php.ReturnStmt{X: &php.BinaryExpr{Op: php.Concat, X: varRef("s"), Y: varRef("s")}},
				}},
		},
		{
			name: "call",
			fn: &php.Function{Name: "f",
				Params: []*php.Param{{Name: "a", Hint: "array"}},
				Body: []php.Stmt{
					&php.ReturnStmt{X: &php.CallExpr{Func: "count", Args: []php.Expr{varRef("a")}}},
				}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := lower(t, tt.fn)
			_, err := New().Compile(f)
			var uerr *codegen.UnsupportedOpError
			if !errors.As(err, &uerr) {
				t.Fatalf("Compile = %v, want UnsupportedOpError", err)
			}
			if uerr.Target != codegen.TargetNative {
				t.Errorf("error target = %s, want native", uerr.Target)
			}
		})
	}
}
