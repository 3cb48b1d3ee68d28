package jsgen

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
		"const $rt = (() => {",
		"BigInt.asIntN(64, v)",
		"function add(r0, r1) {",
		"r2 = $rt.add(r0, r1);",
		"return r2;",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("output missing %q:\n%s", want, src)
		}
	}
}

func TestEmitIntLiteralsAsBigInt(t *testing.T) {
	fn := &php.Function{
		Name: "answer",
		Body: []php.Stmt{
			&php.ReturnStmt{X: &php.IntLit{Value: 42}},
		},
	}
	src := emit(t, fn)
	if !strings.Contains(src, "return 42n;") {
		t.Errorf("int literal not emitted as BigInt:\n%s", src)
	}
}

func TestEmitLocalDeclarations(t *testing.T) {
	fn := &php.Function{
		Name:   "twice",
		Params: []*php.Param{{Name: "a", Hint: "int"}},
		Body: []php.Stmt{
			&php.AssignStmt{Name: "x", X: &php.BinaryExpr{Op: php.Mul, X: varRef("a"), Y: &php.IntLit{Value: 2}}},
			&php.ReturnStmt{X: varRef("x")},
		},
	}
	src := emit(t, fn)
	if !strings.Contains(src, "let r1") {
		t.Errorf("locals not declared:\n%s", src)
	}
	if strings.Contains(src, "let r0") {
		t.Errorf("parameter redeclared as local:\n%s", src)
	}
}

func TestEmitExceptionDispatch(t *testing.T) {
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
		"} catch (err) {",
		"exc = err;",
		"= exc;",            // catch binding
		`$rt.call("is_a"`,   // clause dispatch
		"throw r",           // unmatched rethrow
	} {
		if !strings.Contains(src, want) {
			t.Errorf("output missing %q:\n%s", want, src)
		}
	}
}

func TestEmitEcho(t *testing.T) {
	fn := &php.Function{
		Name: "greet",
		Body: []php.Stmt{
			&php.EchoStmt{Args: []php.Expr{&php.StringLit{Value: "hi \"there\""}}},
			&php.ReturnStmt{},
		},
	}
	src := emit(t, fn)
	if !strings.Contains(src, `$rt.echo("hi \"there\"");`) {
		t.Errorf("echo not routed through the runtime:\n%s", src)
	}
}
