// Package phpgen emits flat IR back as PHP source. The output is a
// single function driven by a dispatch loop over block labels, so
// arbitrary IR control flow round-trips without reconstructing
// structured statements.
package phpgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/TazeTSchnitzel/recki-ct/codegen"
	"github.com/TazeTSchnitzel/recki-ct/ir"
)

// Backend emits PHP source.
type Backend struct{}

func New() *Backend { return &Backend{} }

func (*Backend) Target() codegen.Target { return codegen.TargetPHP }

// Emit renders f as a PHP function definition.
func (b *Backend) Emit(f *ir.Function) (string, error) {
	e := &emitter{f: f}
	return e.run()
}

type emitter struct {
	f *ir.Function
	b strings.Builder
}

func (e *emitter) run() (string, error) {
	f := e.f
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = reg(p)
	}
	fmt.Fprintf(&e.b, "function %s(%s)\n{\n", f.Name, strings.Join(params, ", "))
	e.line(1, "$pc = 0;")
	e.line(1, "$exc = null;")
	e.line(1, "while (true) {")
	e.line(2, "switch ($pc) {")

	caseOf := make(map[string]int, len(f.Order))
	for i, label := range f.Order {
		caseOf[label] = i
	}
	for i, label := range f.Order {
		e.line(2, fmt.Sprintf("case %d: // %s", i, label))
		end := len(f.Insts)
		if i+1 < len(f.Order) {
			end = f.Labels[f.Order[i+1]]
		}
		for _, inst := range f.Insts[f.Labels[label]:end] {
			if err := e.inst(inst, caseOf); err != nil {
				return "", err
			}
		}
	}
	e.line(2, "}")
	e.line(1, "}")
	e.b.WriteString("}\n")
	return e.b.String(), nil
}

func (e *emitter) line(depth int, s string) {
	e.b.WriteString(strings.Repeat("    ", depth))
	e.b.WriteString(s)
	e.b.WriteByte('\n')
}

// guarded emits stmts wrapped in a try/catch that routes the caught
// exception to the instruction's handler case. Without a handler the
// exception propagates out of the function unwrapped.
func (e *emitter) guarded(inst *ir.Instruction, caseOf map[string]int, stmts ...string) {
	if inst.Handler == "" {
		for _, s := range stmts {
			e.line(3, s)
		}
		return
	}
	e.line(3, "try {")
	for _, s := range stmts {
		e.line(4, s)
	}
	e.line(3, "} catch (\\Throwable $e) {")
	e.line(4, "$exc = $e;")
	e.line(4, fmt.Sprintf("$pc = %d;", caseOf[inst.Handler]))
	e.line(4, "break;")
	e.line(3, "}")
}

var binOps = map[ir.Opcode]string{
	ir.Add: "+",
	ir.Sub: "-",
	ir.Mul: "*",
	ir.Eq:  "==",
	ir.Ne:  "!=",
	ir.Lt:  "<",
	ir.Le:  "<=",
	ir.Gt:  ">",
	ir.Ge:  ">=",
}

func (e *emitter) inst(inst *ir.Instruction, caseOf map[string]int) error {
	switch inst.Op {
	case ir.Copy:
		e.line(3, fmt.Sprintf("%s = %s;", reg(inst.Dest), operand(inst.Args[0])))
	case ir.Add, ir.Sub, ir.Mul, ir.Eq, ir.Ne, ir.Lt, ir.Le, ir.Gt, ir.Ge:
		e.line(3, fmt.Sprintf("%s = %s %s %s;",
			reg(inst.Dest), operand(inst.Args[0]), binOps[inst.Op], operand(inst.Args[1])))
	case ir.Div:
		// Division always produces a float; PHP raises
		// DivisionByZeroError on its own.
		e.guarded(inst, caseOf, fmt.Sprintf("%s = (float) (%s / %s);",
			reg(inst.Dest), operand(inst.Args[0]), operand(inst.Args[1])))
	case ir.Mod:
		e.guarded(inst, caseOf, fmt.Sprintf("%s = %s %% %s;",
			reg(inst.Dest), operand(inst.Args[0]), operand(inst.Args[1])))
	case ir.Concat:
		e.line(3, fmt.Sprintf("%s = %s . %s;", reg(inst.Dest), operand(inst.Args[0]), operand(inst.Args[1])))
	case ir.Neg:
		e.line(3, fmt.Sprintf("%s = -%s;", reg(inst.Dest), operand(inst.Args[0])))
	case ir.Not:
		e.line(3, fmt.Sprintf("%s = !%s;", reg(inst.Dest), operand(inst.Args[0])))
	case ir.Bool:
		e.line(3, fmt.Sprintf("%s = (bool) %s;", reg(inst.Dest), operand(inst.Args[0])))
	case ir.Call:
		e.guarded(inst, caseOf, fmt.Sprintf("%s = %s(%s);",
			reg(inst.Dest), inst.Func, operands(inst.Args)))
	case ir.New:
		e.guarded(inst, caseOf, fmt.Sprintf("%s = new %s(%s);",
			reg(inst.Dest), inst.Func, operands(inst.Args)))
	case ir.NewArray:
		e.line(3, fmt.Sprintf("%s = array(%s);", reg(inst.Dest), operands(inst.Args)))
	case ir.Index:
		arr, idx := operand(inst.Args[0]), operand(inst.Args[1])
		e.guarded(inst, caseOf,
			fmt.Sprintf("if (!array_key_exists(%s, %s)) {", idx, arr),
			fmt.Sprintf("    throw new \\OutOfRangeException('undefined offset ' . %s);", idx),
			"}",
			fmt.Sprintf("%s = %s[%s];", reg(inst.Dest), arr, idx))
	case ir.Echo:
		e.line(3, fmt.Sprintf("echo %s;", operand(inst.Args[0])))
	case ir.Catch:
		e.line(3, fmt.Sprintf("%s = $exc;", reg(inst.Dest)))
	case ir.Jmp:
		e.line(3, fmt.Sprintf("$pc = %d;", caseOf[inst.Target]))
		e.line(3, "break;")
	case ir.CondJmp:
		e.line(3, fmt.Sprintf("$pc = %s ? %d : %d;",
			operand(inst.Args[0]), caseOf[inst.True], caseOf[inst.False]))
		e.line(3, "break;")
	case ir.Return:
		e.line(3, fmt.Sprintf("return %s;", operand(inst.Args[0])))
	case ir.Throw:
		if inst.Handler != "" {
			e.line(3, fmt.Sprintf("$exc = %s;", operand(inst.Args[0])))
			e.line(3, fmt.Sprintf("$pc = %d;", caseOf[inst.Handler]))
			e.line(3, "break;")
		} else {
			e.line(3, fmt.Sprintf("throw %s;", operand(inst.Args[0])))
		}
	default:
		return &codegen.UnsupportedOpError{Target: codegen.TargetPHP, Inst: inst}
	}
	return nil
}

func reg(r *ir.Register) string {
	return fmt.Sprintf("$r%d", r.ID)
}

func operand(v ir.Value) string {
	switch v := v.(type) {
	case *ir.Register:
		return reg(v)
	case *ir.IntConst:
		return strconv.FormatInt(v.Value, 10)
	case *ir.FloatConst:
		s := strconv.FormatFloat(v.Value, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case *ir.BoolConst:
		if v.Value {
			return "true"
		}
		return "false"
	case *ir.StringConst:
		return quotePHP(v.Value)
	case *ir.NullConst:
		return "null"
	}
	return "null"
}

func operands(vs []ir.Value) string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = operand(v)
	}
	return strings.Join(out, ", ")
}

func quotePHP(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\'' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('\'')
	return b.String()
}
