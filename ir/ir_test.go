package ir

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/TazeTSchnitzel/recki-ct/analysis"
	"github.com/TazeTSchnitzel/recki-ct/cfg"
	"github.com/TazeTSchnitzel/recki-ct/php"
	"github.com/TazeTSchnitzel/recki-ct/types"
)

func lower(t *testing.T, fn *php.Function) *Function {
	t.Helper()
	g, err := cfg.Build(fn)
	if err != nil {
		t.Fatalf("cfg.Build(%s) = %v", fn.Name, err)
	}
	analysis.Analyze(g)
	f, err := Generate(g)
	if err != nil {
		t.Fatalf("Generate(%s) = %v", fn.Name, err)
	}
	return f
}

func run(t *testing.T, f *Function, args ...interface{}) interface{} {
	t.Helper()
	in := &Interp{}
	out, err := in.Run(f, args...)
	if err != nil {
		t.Fatalf("Run(%s, %v) = %v\n%v", f.Name, args, err, f)
	}
	return out
}

func intParam(name string) *php.Param { return &php.Param{Name: name, Hint: "int"} }
func varRef(name string) *php.Var     { return &php.Var{Name: name} }
func assign(name string, x php.Expr) *php.AssignStmt {
	return &php.AssignStmt{Name: name, X: x}
}
func ret(x php.Expr) *php.ReturnStmt { return &php.ReturnStmt{X: x} }
func bin(op php.BinaryOp, x, y php.Expr) *php.BinaryExpr {
	return &php.BinaryExpr{Op: op, X: x, Y: y}
}

func addFunc() *php.Function {
	return &php.Function{
		Name:   "add",
		Params: []*php.Param{intParam("a"), intParam("b")},
		Body: []php.Stmt{
			ret(bin(php.Add, varRef("a"), varRef("b"))),
		},
	}
}

func TestGenerateStraightLine(t *testing.T) {
	f := lower(t, addFunc())
	if len(f.Insts) != 2 {
		t.Fatalf("got %d instructions, want add + ret:\n%v", len(f.Insts), f)
	}
	if f.Insts[0].Op != Add || f.Insts[1].Op != Return {
		t.Fatalf("got %v; %v, want add; ret", f.Insts[0], f.Insts[1])
	}
	if !f.Insts[0].Dest.Type.Equal(types.Int) {
		t.Errorf("sum register type = %v, want int", f.Insts[0].Dest.Type)
	}
	if f.Labels["entry"] != 0 {
		t.Errorf("entry label at %d, want 0", f.Labels["entry"])
	}
	if !f.Return.Equal(types.Int) {
		t.Errorf("return type = %v, want int", f.Return)
	}
}

func TestGenerateOmitsUnreachable(t *testing.T) {
	// return 1; $x = 2;
	fn := &php.Function{
		Name: "early",
		Body: []php.Stmt{
			ret(&php.IntLit{Value: 1}),
			assign("x", &php.IntLit{Value: 2}),
		},
	}
	f := lower(t, fn)
	if len(f.Order) != 1 {
		t.Fatalf("got labels %v, want only entry:\n%v", f.Order, f)
	}
	for _, inst := range f.Insts {
		if inst.Op == Copy {
			t.Errorf("unreachable copy survived linearization:\n%v", f)
		}
	}
}

func TestGenerateDemotesMerges(t *testing.T) {
	// if ($c) { $x = 1; } else { $x = 2; } return $x;
	fn := &php.Function{
		Name:   "pick",
		Params: []*php.Param{{Name: "c", Hint: "bool"}},
		Body: []php.Stmt{
			&php.IfStmt{
				Cond: varRef("c"),
				Then: []php.Stmt{assign("x", &php.IntLit{Value: 1})},
				Else: []php.Stmt{assign("x", &php.IntLit{Value: 2})},
			},
			ret(varRef("x")),
		},
	}
	f := lower(t, fn)
	// The merged $x register must be written in both arms before
	// their jumps to the join block.
	retInst := f.Insts[len(f.Insts)-1]
	if retInst.Op != Return {
		t.Fatalf("last instruction %v, want ret", retInst)
	}
	merged, ok := retInst.Args[0].(*Register)
	if !ok {
		t.Fatalf("return of %v, want a register", retInst.Args[0])
	}
	writes := 0
	for _, inst := range f.Insts {
		if inst.Op == Copy && inst.Dest == merged {
			writes++
		}
	}
	if writes != 2 {
		t.Errorf("merged register written %d times, want once per arm:\n%v", writes, f)
	}
	if out := run(t, f, true); out != int64(1) {
		t.Errorf("pick(true) = %v, want 1", out)
	}
	if out := run(t, f, false); out != int64(2) {
		t.Errorf("pick(false) = %v, want 2", out)
	}
}

func TestInterpAdd(t *testing.T) {
	f := lower(t, addFunc())
	if out := run(t, f, int64(2), int64(3)); out != int64(5) {
		t.Errorf("add(2, 3) = %v, want 5", out)
	}
	if out := run(t, f, int64(2), int64(-3)); out != int64(-1) {
		t.Errorf("add(2, -3) = %v, want -1", out)
	}
	// 64-bit ints wrap.
	if out := run(t, f, int64(math.MaxInt64), int64(1)); out != int64(math.MinInt64) {
		t.Errorf("add(MaxInt64, 1) = %v, want MinInt64", out)
	}
}

func TestInterpLoop(t *testing.T) {
	// $s = 0; $i = 1; while ($i <= $n) { $s = $s + $i; $i = $i + 1; } return $s;
	fn := &php.Function{
		Name:   "sumTo",
		Params: []*php.Param{intParam("n")},
		Body: []php.Stmt{
			assign("s", &php.IntLit{Value: 0}),
			assign("i", &php.IntLit{Value: 1}),
			&php.WhileStmt{
				Cond: bin(php.Le, varRef("i"), varRef("n")),
				Body: []php.Stmt{
					assign("s", bin(php.Add, varRef("s"), varRef("i"))),
					assign("i", bin(php.Add, varRef("i"), &php.IntLit{Value: 1})),
				},
			},
			ret(varRef("s")),
		},
	}
	f := lower(t, fn)
	if out := run(t, f, int64(10)); out != int64(55) {
		t.Errorf("sumTo(10) = %v, want 55", out)
	}
	if out := run(t, f, int64(0)); out != int64(0) {
		t.Errorf("sumTo(0) = %v, want 0", out)
	}
}

func safeDivFunc() *php.Function {
	return &php.Function{
		Name:   "safeDiv",
		Params: []*php.Param{intParam("a"), intParam("b")},
		Body: []php.Stmt{
			&php.TryStmt{
				Body: []php.Stmt{
					assign("x", bin(php.Div, varRef("a"), varRef("b"))),
				},
				Catches: []*php.CatchClause{
					{Class: "Exception", Var: "e", Body: []php.Stmt{
						assign("x", &php.IntLit{Value: -1}),
					}},
				},
			},
			ret(varRef("x")),
		},
	}
}

func TestInterpCatchesDivByZero(t *testing.T) {
	f := lower(t, safeDivFunc())
	if out := run(t, f, int64(6), int64(3)); out != float64(2) {
		t.Errorf("safeDiv(6, 3) = %v, want 2.0", out)
	}
	if out := run(t, f, int64(6), int64(0)); out != int64(-1) {
		t.Errorf("safeDiv(6, 0) = %v, want -1", out)
	}
}

func TestInterpRaiseBeforeTryUnwinds(t *testing.T) {
	// $a = $x % 0; try { $b = 1 % 1; } catch (Exception $e) { return -99; }
	// return $a;
	// The mod ahead of the try shares a block with the protected one
	// but must unwind out of the function, not land in the handler.
	fn := &php.Function{
		Name:   "modBefore",
		Params: []*php.Param{intParam("x")},
		Body: []php.Stmt{
			assign("a", bin(php.Mod, varRef("x"), &php.IntLit{Value: 0})),
			&php.TryStmt{
				Body: []php.Stmt{
					assign("b", bin(php.Mod, &php.IntLit{Value: 1}, &php.IntLit{Value: 1})),
				},
				Catches: []*php.CatchClause{
					{Class: "Exception", Var: "e", Body: []php.Stmt{
						ret(&php.IntLit{Value: -99}),
					}},
				},
			},
			ret(varRef("a")),
		},
	}
	f := lower(t, fn)
	in := &Interp{}
	_, err := in.Run(f, int64(5))
	var thrown *Thrown
	if !errors.As(err, &thrown) {
		t.Fatalf("Run = %v, want an uncaught Thrown", err)
	}
	obj, ok := thrown.Value.(*Object)
	if !ok || obj.Class != "DivisionByZeroError" {
		t.Errorf("thrown %v, want DivisionByZeroError object", thrown.Value)
	}
}

func TestInterpHandlerSeesRaisePointEnv(t *testing.T) {
	// try { $a = 1 % $x; $v = 5; $b = 1 % $y; }
	// catch (Exception $e) { return $v; } return 0;
	// The handler must see $v as of the raise that reached it: null
	// for the first mod, 5 for the second.
	fn := &php.Function{
		Name:   "vAtRaise",
		Params: []*php.Param{intParam("x"), intParam("y")},
		Body: []php.Stmt{
			&php.TryStmt{
				Body: []php.Stmt{
					assign("a", bin(php.Mod, &php.IntLit{Value: 1}, varRef("x"))),
					assign("v", &php.IntLit{Value: 5}),
					assign("b", bin(php.Mod, &php.IntLit{Value: 1}, varRef("y"))),
				},
				Catches: []*php.CatchClause{
					{Class: "Exception", Var: "e", Body: []php.Stmt{ret(varRef("v"))}},
				},
			},
			ret(&php.IntLit{Value: 0}),
		},
	}
	f := lower(t, fn)
	if out := run(t, f, int64(1), int64(0)); out != int64(5) {
		t.Errorf("raise after $v = 5 returned %v, want 5", out)
	}
	if out := run(t, f, int64(0), int64(1)); out != nil {
		t.Errorf("raise before $v returned %v, want null", out)
	}
	if out := run(t, f, int64(1), int64(1)); out != int64(0) {
		t.Errorf("no raise returned %v, want 0", out)
	}
}

func TestInterpUncaughtThrow(t *testing.T) {
	fn := &php.Function{
		Name: "boom",
		Body: []php.Stmt{
			&php.ThrowStmt{X: &php.NewExpr{Class: "RuntimeException"}},
		},
	}
	f := lower(t, fn)
	in := &Interp{}
	_, err := in.Run(f)
	var thrown *Thrown
	if !errors.As(err, &thrown) {
		t.Fatalf("Run = %v, want Thrown", err)
	}
	obj, ok := thrown.Value.(*Object)
	if !ok || obj.Class != "RuntimeException" {
		t.Errorf("thrown %v, want RuntimeException object", thrown.Value)
	}
}

func TestInterpEcho(t *testing.T) {
	fn := &php.Function{
		Name:   "greet",
		Params: []*php.Param{{Name: "name", Hint: "string"}},
		Body: []php.Stmt{
			&php.EchoStmt{Args: []php.Expr{
				bin(php.Concat, &php.StringLit{Value: "hello "}, varRef("name")),
			}},
			ret(nil),
		},
	}
	f := lower(t, fn)
	var out strings.Builder
	in := &Interp{Out: &out}
	if _, err := in.Run(f, "world"); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if out.String() != "hello world" {
		t.Errorf("echoed %q, want %q", out.String(), "hello world")
	}
}

func TestInterpForeach(t *testing.T) {
	// $s = 0; foreach ($a as $v) { $s = $s + $v; } return $s;
	fn := &php.Function{
		Name:   "sumAll",
		Params: []*php.Param{{Name: "a", Hint: "array"}},
		Body: []php.Stmt{
			assign("s", &php.IntLit{Value: 0}),
			&php.ForeachStmt{
				Subject:  varRef("a"),
				ValueVar: "v",
				Body: []php.Stmt{
					assign("s", bin(php.Add, varRef("s"), varRef("v"))),
				},
			},
			ret(varRef("s")),
		},
	}
	f := lower(t, fn)
	arr := []interface{}{int64(1), int64(2), int64(3), int64(4)}
	if out := run(t, f, arr); out != int64(10) {
		t.Errorf("sumAll([1 2 3 4]) = %v, want 10", out)
	}
	if out := run(t, f, []interface{}{}); out != int64(0) {
		t.Errorf("sumAll([]) = %v, want 0", out)
	}
}

func TestGenerateRejectsClosures(t *testing.T) {
	fn := &php.Function{
		Name: "outer",
		Body: []php.Stmt{
			assign("c", &php.ClosureExpr{}),
			ret(varRef("c")),
		},
	}
	g, err := cfg.Build(fn)
	if err != nil {
		t.Fatalf("cfg.Build = %v", err)
	}
	analysis.Analyze(g)
	if _, err := Generate(g); err == nil {
		t.Errorf("Generate of a closure graph succeeded, want error")
	}
}

func TestFunctionString(t *testing.T) {
	f := lower(t, addFunc())
	s := f.String()
	for _, want := range []string{"func add(", "entry:", "add", "ret"} {
		if !strings.Contains(s, want) {
			t.Errorf("formatted IR missing %q:\n%s", want, s)
		}
	}
}
