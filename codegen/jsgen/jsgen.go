// Package jsgen emits flat IR as JavaScript source. Ints map to
// BigInt wrapped to 64 bits, floats to Number. Each emitted function
// is self-contained: a shared runtime helper object is prepended so
// the output runs without any companion file.
package jsgen

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/TazeTSchnitzel/recki-ct/codegen"
	"github.com/TazeTSchnitzel/recki-ct/ir"
)

// Backend emits JavaScript source.
type Backend struct{}

func New() *Backend { return &Backend{} }

func (*Backend) Target() codegen.Target { return codegen.TargetJS }

// Emit renders f as a JavaScript function definition preceded by the
// runtime helpers it uses.
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
	e.b.WriteString(runtime)
	e.b.WriteByte('\n')

	params := make([]string, len(f.Params))
	isParam := make(map[int]bool)
	for i, p := range f.Params {
		params[i] = reg(p)
		isParam[p.ID] = true
	}
	fmt.Fprintf(&e.b, "function %s(%s) {\n", f.Name, strings.Join(params, ", "))
	e.line(1, "\"use strict\";")
	var locals []string
	seen := make(map[int]bool)
	for _, inst := range f.Insts {
		if inst.Dest != nil && !isParam[inst.Dest.ID] && !seen[inst.Dest.ID] {
			seen[inst.Dest.ID] = true
			locals = append(locals, reg(inst.Dest))
		}
	}
	if len(locals) > 0 {
		e.line(1, "let "+strings.Join(locals, ", ")+";")
	}
	e.line(1, "let pc = 0;")
	e.line(1, "let exc = null;")
	e.line(1, "for (;;) {")
	e.line(2, "switch (pc) {")

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

func (e *emitter) guarded(inst *ir.Instruction, caseOf map[string]int, stmt string) {
	if inst.Handler == "" {
		e.line(3, stmt)
		return
	}
	e.line(3, "try {")
	e.line(4, stmt)
	e.line(3, "} catch (err) {")
	e.line(4, "exc = err;")
	e.line(4, fmt.Sprintf("pc = %d;", caseOf[inst.Handler]))
	e.line(4, "break;")
	e.line(3, "}")
}

var helperOps = map[ir.Opcode]string{
	ir.Add:    "add",
	ir.Sub:    "sub",
	ir.Mul:    "mul",
	ir.Div:    "div",
	ir.Mod:    "mod",
	ir.Concat: "concat",
	ir.Eq:     "eq",
	ir.Ne:     "ne",
	ir.Lt:     "lt",
	ir.Le:     "le",
	ir.Gt:     "gt",
	ir.Ge:     "ge",
}

func (e *emitter) inst(inst *ir.Instruction, caseOf map[string]int) error {
	switch inst.Op {
	case ir.Copy:
		e.line(3, fmt.Sprintf("%s = %s;", reg(inst.Dest), operand(inst.Args[0])))
	case ir.Add, ir.Sub, ir.Mul, ir.Concat, ir.Eq, ir.Ne, ir.Lt, ir.Le, ir.Gt, ir.Ge:
		e.line(3, fmt.Sprintf("%s = $rt.%s(%s, %s);",
			reg(inst.Dest), helperOps[inst.Op], operand(inst.Args[0]), operand(inst.Args[1])))
	case ir.Div, ir.Mod:
		e.guarded(inst, caseOf, fmt.Sprintf("%s = $rt.%s(%s, %s);",
			reg(inst.Dest), helperOps[inst.Op], operand(inst.Args[0]), operand(inst.Args[1])))
	case ir.Neg:
		e.line(3, fmt.Sprintf("%s = $rt.neg(%s);", reg(inst.Dest), operand(inst.Args[0])))
	case ir.Not:
		e.line(3, fmt.Sprintf("%s = !$rt.truthy(%s);", reg(inst.Dest), operand(inst.Args[0])))
	case ir.Bool:
		e.line(3, fmt.Sprintf("%s = $rt.truthy(%s);", reg(inst.Dest), operand(inst.Args[0])))
	case ir.Call:
		e.guarded(inst, caseOf, fmt.Sprintf("%s = $rt.call(%s, [%s]);",
			reg(inst.Dest), quoteJS(inst.Func), operands(inst.Args)))
	case ir.New:
		e.guarded(inst, caseOf, fmt.Sprintf("%s = { __class: %s, args: [%s] };",
			reg(inst.Dest), quoteJS(inst.Func), operands(inst.Args)))
	case ir.NewArray:
		e.line(3, fmt.Sprintf("%s = [%s];", reg(inst.Dest), operands(inst.Args)))
	case ir.Index:
		e.guarded(inst, caseOf, fmt.Sprintf("%s = $rt.index(%s, %s);",
			reg(inst.Dest), operand(inst.Args[0]), operand(inst.Args[1])))
	case ir.Echo:
		e.line(3, fmt.Sprintf("$rt.echo(%s);", operand(inst.Args[0])))
	case ir.Catch:
		e.line(3, fmt.Sprintf("%s = exc;", reg(inst.Dest)))
	case ir.Jmp:
		e.line(3, fmt.Sprintf("pc = %d;", caseOf[inst.Target]))
		e.line(3, "break;")
	case ir.CondJmp:
		e.line(3, fmt.Sprintf("pc = $rt.truthy(%s) ? %d : %d;",
			operand(inst.Args[0]), caseOf[inst.True], caseOf[inst.False]))
		e.line(3, "break;")
	case ir.Return:
		e.line(3, fmt.Sprintf("return %s;", operand(inst.Args[0])))
	case ir.Throw:
		if inst.Handler != "" {
			e.line(3, fmt.Sprintf("exc = %s;", operand(inst.Args[0])))
			e.line(3, fmt.Sprintf("pc = %d;", caseOf[inst.Handler]))
			e.line(3, "break;")
		} else {
			e.line(3, fmt.Sprintf("throw %s;", operand(inst.Args[0])))
		}
	default:
		return &codegen.UnsupportedOpError{Target: codegen.TargetJS, Inst: inst}
	}
	return nil
}

func reg(r *ir.Register) string {
	return fmt.Sprintf("r%d", r.ID)
}

func operand(v ir.Value) string {
	switch v := v.(type) {
	case *ir.Register:
		return reg(v)
	case *ir.IntConst:
		return strconv.FormatInt(v.Value, 10) + "n"
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
		return quoteJS(v.Value)
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

func quoteJS(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// runtime implements the value model shared with the other backends:
// 64-bit wrapping ints as BigInt, floats as Number, and exception
// objects tagged with their class name.
const runtime = `const $rt = (() => {
    const wrap = (v) => BigInt.asIntN(64, v);
    const num = (v) => {
        if (typeof v === "bigint") return Number(v);
        if (v === null) return 0;
        if (typeof v === "boolean") return v ? 1 : 0;
        if (typeof v === "string") return parseFloat(v) || 0;
        return v;
    };
    const int = (v) => typeof v === "bigint" ? v : BigInt(Math.trunc(num(v)));
    const str = (v) => {
        if (v === null) return "";
        if (typeof v === "boolean") return v ? "1" : "";
        if (typeof v === "bigint") return v.toString();
        if (Array.isArray(v)) return "Array";
        if (typeof v === "object") return "Object(" + v.__class + ")";
        return String(v);
    };
    const truthy = (v) => {
        if (v === null || v === false) return false;
        if (typeof v === "bigint") return v !== 0n;
        if (typeof v === "number") return v !== 0;
        if (typeof v === "string") return v !== "" && v !== "0";
        if (Array.isArray(v)) return v.length > 0;
        return true;
    };
    const exc = (cls, msg) => ({ __class: cls, args: [msg] });
    const isNum = (v) => v === null || typeof v === "bigint" ||
        typeof v === "number" || typeof v === "boolean";
    const eq = (x, y) => {
        if (typeof x === "string" && typeof y === "string") return x === y;
        if (isNum(x) || isNum(y)) return num(x) === num(y);
        if (Array.isArray(x) && Array.isArray(y)) {
            if (x.length !== y.length) return false;
            return x.every((v, i) => eq(v, y[i]));
        }
        return x === y;
    };
    const cmp = (x, y) => {
        if (typeof x === "string" && typeof y === "string") {
            return x < y ? -1 : x > y ? 1 : 0;
        }
        const a = num(x), b = num(y);
        return a < b ? -1 : a > b ? 1 : 0;
    };
    const bothInt = (x, y) => typeof x === "bigint" && typeof y === "bigint";
    const rt = {
        out: "",
        echo: (v) => { rt.out += str(v); },
        truthy: truthy,
        add: (x, y) => bothInt(x, y) ? wrap(x + y) : num(x) + num(y),
        sub: (x, y) => bothInt(x, y) ? wrap(x - y) : num(x) - num(y),
        mul: (x, y) => bothInt(x, y) ? wrap(x * y) : num(x) * num(y),
        div: (x, y) => {
            const d = num(y);
            if (d === 0) throw exc("DivisionByZeroError", "division by zero");
            return num(x) / d;
        },
        mod: (x, y) => {
            const d = int(y);
            if (d === 0n) throw exc("DivisionByZeroError", "modulo by zero");
            return wrap(int(x) % d);
        },
        concat: (x, y) => str(x) + str(y),
        eq: eq,
        ne: (x, y) => !eq(x, y),
        lt: (x, y) => cmp(x, y) < 0,
        le: (x, y) => cmp(x, y) <= 0,
        gt: (x, y) => cmp(x, y) > 0,
        ge: (x, y) => cmp(x, y) >= 0,
        neg: (x) => typeof x === "bigint" ? wrap(-x) : -num(x),
        index: (a, i) => {
            if (!Array.isArray(a)) throw exc("TypeError", "cannot index non-array");
            const n = num(i);
            if (n < 0 || n >= a.length) {
                throw exc("OutOfRangeException", "undefined offset " + n);
            }
            return a[n];
        },
        call: (name, args) => {
            switch (name) {
            case "count":
                if (!Array.isArray(args[0])) throw exc("TypeError", "count expects an array");
                return BigInt(args[0].length);
            case "strlen": return BigInt(str(args[0]).length);
            case "chr": return String.fromCharCode(Number(int(args[0]) & 0xffn));
            case "ord": { const s = str(args[0]); return BigInt(s ? s.charCodeAt(0) : 0); }
            case "abs": return typeof args[0] === "bigint"
                ? (args[0] < 0n ? wrap(-args[0]) : args[0]) : Math.abs(num(args[0]));
            case "floor": return Math.floor(num(args[0]));
            case "ceil": return Math.ceil(num(args[0]));
            case "sqrt": return Math.sqrt(num(args[0]));
            case "intval": return int(args[0]);
            case "intdiv": {
                const d = int(args[1]);
                if (d === 0n) throw exc("DivisionByZeroError", "division by zero");
                return wrap(int(args[0]) / d);
            }
            case "floatval": return num(args[0]);
            case "strval": return str(args[0]);
            case "boolval": return truthy(args[0]);
            case "is_a": {
                const o = args[0], c = str(args[1]);
                return o !== null && typeof o === "object" && "__class" in o &&
                    (o.__class === c || c === "Exception" || c === "Throwable");
            }
            case "max": return args.reduce((a, b) => cmp(b, a) > 0 ? b : a);
            case "min": return args.reduce((a, b) => cmp(b, a) < 0 ? b : a);
            case "pow": return bothInt(args[0], args[1]) && args[1] >= 0n
                ? wrap(args[0] ** args[1]) : Math.pow(num(args[0]), num(args[1]));
            case "strrev": return str(args[0]).split("").reverse().join("");
            case "substr": {
                const s = str(args[0]);
                let start = Number(int(args[1]));
                if (start < 0) start += s.length;
                if (start < 0 || start > s.length) return "";
                let end = s.length;
                if (args.length >= 3) {
                    const n = Number(int(args[2]));
                    if (n >= 0 && start + n < end) end = start + n;
                }
                return s.slice(start, end);
            }
            }
            throw exc("Error", "call to undefined function " + name + "()");
        },
    };
    return rt;
})();
`
