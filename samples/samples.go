// Package samples holds a handful of built-in function trees so the
// command line tool can be exercised without a front end attached.
package samples

import (
	"context"
	"fmt"

	"github.com/TazeTSchnitzel/recki-ct/php"
)

// Source serves the built-in functions and satisfies the compiler's
// source interface.
type Source struct{}

func (Source) FunctionAST(_ context.Context, name string) (*php.Function, error) {
	fn, ok := table[name]
	if !ok {
		return nil, fmt.Errorf("samples: no function %q", name)
	}
	return fn, nil
}

// Names lists the built-in functions in a fixed order.
func Names() []string {
	return []string{"add", "fib", "gcd", "sumTo", "safeDiv", "greet"}
}

var table = map[string]*php.Function{
	"add":     add,
	"fib":     fib,
	"gcd":     gcd,
	"sumTo":   sumTo,
	"safeDiv": safeDiv,
	"greet":   greet,
}

func v(name string) *php.Var               { return &php.Var{Name: name} }
func n(val int64) *php.IntLit              { return &php.IntLit{Value: val} }
func set(name string, x php.Expr) php.Stmt { return &php.AssignStmt{Name: name, X: x} }
func ret(x php.Expr) php.Stmt              { return &php.ReturnStmt{X: x} }
func bin(op php.BinaryOp, x, y php.Expr) *php.BinaryExpr {
	return &php.BinaryExpr{Op: op, X: x, Y: y}
}

// function add(int $a, int $b) { return $a + $b; }
var add = &php.Function{
	Name:   "add",
	Params: []*php.Param{{Name: "a", Hint: "int"}, {Name: "b", Hint: "int"}},
	Body:   []php.Stmt{ret(bin(php.Add, v("a"), v("b")))},
}

// function fib(int $n) {
//     $a = 0; $b = 1;
//     while ($n > 0) { $t = $a + $b; $a = $b; $b = $t; $n = $n - 1; }
//     return $a;
// }
var fib = &php.Function{
	Name:   "fib",
	Params: []*php.Param{{Name: "n", Hint: "int"}},
	Body: []php.Stmt{
		set("a", n(0)),
		set("b", n(1)),
		&php.WhileStmt{
			Cond: bin(php.Gt, v("n"), n(0)),
			Body: []php.Stmt{
				set("t", bin(php.Add, v("a"), v("b"))),
				set("a", v("b")),
				set("b", v("t")),
				set("n", bin(php.Sub, v("n"), n(1))),
			},
		},
		ret(v("a")),
	},
}

// function gcd(int $a, int $b) {
//     while ($b != 0) { $t = $b; $b = $a % $b; $a = $t; }
//     return $a;
// }
var gcd = &php.Function{
	Name:   "gcd",
	Params: []*php.Param{{Name: "a", Hint: "int"}, {Name: "b", Hint: "int"}},
	Body: []php.Stmt{
		&php.WhileStmt{
			Cond: bin(php.Ne, v("b"), n(0)),
			Body: []php.Stmt{
				set("t", v("b")),
				set("b", bin(php.Mod, v("a"), v("b"))),
				set("a", v("t")),
			},
		},
		ret(v("a")),
	},
}

// function sumTo(int $n) {
//     $s = 0;
//     for ($i = 1; $i <= $n; $i = $i + 1) { $s = $s + $i; }
//     return $s;
// }
var sumTo = &php.Function{
	Name:   "sumTo",
	Params: []*php.Param{{Name: "n", Hint: "int"}},
	Body: []php.Stmt{
		set("s", n(0)),
		&php.ForStmt{
			Init: set("i", n(1)),
			Cond: bin(php.Le, v("i"), v("n")),
			Post: set("i", bin(php.Add, v("i"), n(1))),
			Body: []php.Stmt{set("s", bin(php.Add, v("s"), v("i")))},
		},
		ret(v("s")),
	},
}

// function safeDiv(int $a, int $b) {
//     try { return $a / $b; } catch (DivisionByZeroError $e) { return -1; }
// }
var safeDiv = &php.Function{
	Name:   "safeDiv",
	Params: []*php.Param{{Name: "a", Hint: "int"}, {Name: "b", Hint: "int"}},
	Body: []php.Stmt{
		&php.TryStmt{
			Body: []php.Stmt{ret(bin(php.Div, v("a"), v("b")))},
			Catches: []*php.CatchClause{{
				Class: "DivisionByZeroError",
				Var:   "e",
				Body:  []php.Stmt{ret(&php.UnaryExpr{Op: php.Neg, X: n(1)})},
			}},
		},
	},
}

// function greet(string $who) { return "Hello, " . $who . "!"; }
var greet = &php.Function{
	Name:   "greet",
	Params: []*php.Param{{Name: "who", Hint: "string"}},
	Body: []php.Stmt{
		ret(bin(php.Concat,
			bin(php.Concat, &php.StringLit{Value: "Hello, "}, v("who")),
			&php.StringLit{Value: "!"})),
	},
}
