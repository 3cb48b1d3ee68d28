package ir

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Interp evaluates flat IR directly. It serves as the reference for
// backend behavior: every backend must agree with it on result,
// output, and raised exceptions.
type Interp struct {
	Out      io.Writer // echo destination, nil discards
	MaxSteps int       // instruction budget, 0 means DefaultMaxSteps
}

// DefaultMaxSteps bounds evaluation of runaway loops.
const DefaultMaxSteps = 1 << 20

// Object is a runtime object value.
type Object struct {
	Class string
	Args  []interface{}
}

// Thrown is an uncaught exception escaping a function.
type Thrown struct {
	Value interface{}
}

func (t *Thrown) Error() string {
	if obj, ok := t.Value.(*Object); ok {
		return fmt.Sprintf("ir: uncaught %s", obj.Class)
	}
	return fmt.Sprintf("ir: uncaught exception %v", t.Value)
}

// Run evaluates the function with the given arguments. Runtime
// values are int64, float64, bool, string, nil, []interface{}, and
// *Object.
func (in *Interp) Run(f *Function, args ...interface{}) (interface{}, error) {
	if len(args) != len(f.Params) {
		return nil, fmt.Errorf("ir: %s takes %d arguments, got %d", f.Name, len(f.Params), len(args))
	}
	regs := make([]interface{}, f.NumRegs)
	for i, p := range f.Params {
		regs[p.ID] = args[i]
	}
	maxSteps := in.MaxSteps
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}

	var thrown interface{}
	pc := 0
	for steps := 0; ; steps++ {
		if steps > maxSteps {
			return nil, fmt.Errorf("ir: %s exceeded %d steps", f.Name, maxSteps)
		}
		if pc < 0 || pc >= len(f.Insts) {
			return nil, fmt.Errorf("ir: %s ran off the instruction list", f.Name)
		}
		inst := f.Insts[pc]
		val, err := in.eval(f, inst, regs, &thrown)
		if err != nil {
			return nil, err
		}
		switch inst.Op {
		case Jmp:
			pc = f.Labels[inst.Target]
			continue
		case CondJmp:
			if truthy(val) {
				pc = f.Labels[inst.True]
			} else {
				pc = f.Labels[inst.False]
			}
			continue
		case Return:
			return val, nil
		}
		if raised, ok := val.(raise); ok {
			if inst.Handler == "" {
				return nil, &Thrown{Value: raised.value}
			}
			thrown = raised.value
			pc = f.Labels[inst.Handler]
			continue
		}
		if inst.Dest != nil {
			regs[inst.Dest.ID] = val
		}
		pc++
	}
}

// raise wraps an in-flight exception value so eval can signal it
// through its result.
type raise struct{ value interface{} }

func exception(class, message string) raise {
	return raise{&Object{Class: class, Args: []interface{}{message}}}
}

func (in *Interp) eval(f *Function, inst *Instruction, regs []interface{}, thrown *interface{}) (interface{}, error) {
	arg := func(i int) interface{} { return in.load(inst.Args[i], regs) }
	switch inst.Op {
	case Copy:
		return arg(0), nil
	case Add, Sub, Mul:
		return arith(inst.Op, arg(0), arg(1)), nil
	case Div:
		y := toFloat(arg(1))
		if y == 0 {
			return exception("DivisionByZeroError", "division by zero"), nil
		}
		return toFloat(arg(0)) / y, nil
	case Mod:
		y := toInt(arg(1))
		if y == 0 {
			return exception("DivisionByZeroError", "modulo by zero"), nil
		}
		return toInt(arg(0)) % y, nil
	case Concat:
		return toString(arg(0)) + toString(arg(1)), nil
	case Eq:
		return looseEqual(arg(0), arg(1)), nil
	case Ne:
		return !looseEqual(arg(0), arg(1)), nil
	case Lt:
		return compare(arg(0), arg(1)) < 0, nil
	case Le:
		return compare(arg(0), arg(1)) <= 0, nil
	case Gt:
		return compare(arg(0), arg(1)) > 0, nil
	case Ge:
		return compare(arg(0), arg(1)) >= 0, nil
	case Neg:
		x := arg(0)
		if i, ok := x.(int64); ok {
			return -i, nil
		}
		return -toFloat(x), nil
	case Not:
		return !truthy(arg(0)), nil
	case Bool:
		return truthy(arg(0)), nil
	case Call:
		args := make([]interface{}, len(inst.Args))
		for i := range inst.Args {
			args[i] = arg(i)
		}
		return callBuiltin(inst.Func, args), nil
	case New:
		args := make([]interface{}, len(inst.Args))
		for i := range inst.Args {
			args[i] = arg(i)
		}
		return &Object{Class: inst.Func, Args: args}, nil
	case NewArray:
		elems := make([]interface{}, len(inst.Args))
		for i := range inst.Args {
			elems[i] = arg(i)
		}
		return elems, nil
	case Index:
		a, ok := arg(0).([]interface{})
		if !ok {
			return exception("TypeError", "cannot index non-array"), nil
		}
		i := toInt(arg(1))
		if i < 0 || i >= int64(len(a)) {
			return exception("OutOfRangeException", "undefined offset "+strconv.FormatInt(i, 10)), nil
		}
		return a[i], nil
	case Echo:
		if in.Out != nil {
			io.WriteString(in.Out, toString(arg(0)))
		}
		return nil, nil
	case Catch:
		return *thrown, nil
	case CondJmp:
		return arg(0), nil
	case Return:
		return arg(0), nil
	case Throw:
		return raise{arg(0)}, nil
	case Jmp:
		return nil, nil
	}
	return nil, fmt.Errorf("ir: cannot evaluate %v", inst)
}

func (in *Interp) load(v Value, regs []interface{}) interface{} {
	switch v := v.(type) {
	case *Register:
		return regs[v.ID]
	case *IntConst:
		return v.Value
	case *FloatConst:
		return v.Value
	case *BoolConst:
		return v.Value
	case *StringConst:
		return v.Value
	case *NullConst:
		return nil
	}
	panic(fmt.Sprintf("ir: unknown value %T", v))
}

func arith(op Opcode, x, y interface{}) interface{} {
	xi, xIsInt := x.(int64)
	yi, yIsInt := y.(int64)
	if xIsInt && yIsInt {
		switch op {
		case Add:
			return xi + yi
		case Sub:
			return xi - yi
		case Mul:
			return xi * yi
		}
	}
	xf, yf := toFloat(x), toFloat(y)
	switch op {
	case Add:
		return xf + yf
	case Sub:
		return xf - yf
	case Mul:
		return xf * yf
	}
	panic("ir: not an arithmetic opcode")
}

func truthy(v interface{}) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		return v != "" && v != "0"
	case []interface{}:
		return len(v) > 0
	}
	return true
}

func toInt(v interface{}) int64 {
	switch v := v.(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		i, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return i
	}
	return 0
}

func toFloat(v interface{}) float64 {
	switch v := v.(type) {
	case int64:
		return float64(v)
	case float64:
		return v
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f
	}
	return 0
}

func toString(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case bool:
		if v {
			return "1"
		}
		return ""
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return formatFloat(v)
	case string:
		return v
	case []interface{}:
		return "Array"
	case *Object:
		return "Object(" + v.Class + ")"
	}
	return fmt.Sprint(v)
}

// formatFloat matches the shortest round-trip formatting the source
// emitters rely on.
func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func isNumeric(v interface{}) bool {
	switch v.(type) {
	case int64, float64, bool, nil:
		return true
	}
	return false
}

func looseEqual(x, y interface{}) bool {
	if xs, ok := x.(string); ok {
		if ys, ok := y.(string); ok {
			return xs == ys
		}
	}
	if isNumeric(x) || isNumeric(y) {
		return toFloat(x) == toFloat(y)
	}
	if xa, ok := x.([]interface{}); ok {
		ya, ok := y.([]interface{})
		if !ok || len(xa) != len(ya) {
			return false
		}
		for i := range xa {
			if !looseEqual(xa[i], ya[i]) {
				return false
			}
		}
		return true
	}
	return x == y
}

func compare(x, y interface{}) int {
	if xs, ok := x.(string); ok {
		if ys, ok := y.(string); ok {
			return strings.Compare(xs, ys)
		}
	}
	xf, yf := toFloat(x), toFloat(y)
	switch {
	case xf < yf:
		return -1
	case xf > yf:
		return 1
	}
	return 0
}

func callBuiltin(name string, args []interface{}) interface{} {
	switch name {
	case "count":
		if a, ok := arg0(args).([]interface{}); ok {
			return int64(len(a))
		}
		return exception("TypeError", "count expects an array")
	case "strlen":
		return int64(len(toString(arg0(args))))
	case "chr":
		return string(rune(toInt(arg0(args)) & 0xff))
	case "ord":
		s := toString(arg0(args))
		if s == "" {
			return int64(0)
		}
		return int64(s[0])
	case "abs":
		if i, ok := arg0(args).(int64); ok {
			if i < 0 {
				return -i
			}
			return i
		}
		return math.Abs(toFloat(arg0(args)))
	case "floor":
		return math.Floor(toFloat(arg0(args)))
	case "ceil":
		return math.Ceil(toFloat(arg0(args)))
	case "sqrt":
		return math.Sqrt(toFloat(arg0(args)))
	case "intval":
		return toInt(arg0(args))
	case "intdiv":
		if len(args) < 2 || toInt(args[1]) == 0 {
			return exception("DivisionByZeroError", "division by zero")
		}
		return toInt(args[0]) / toInt(args[1])
	case "floatval":
		return toFloat(arg0(args))
	case "strval":
		return toString(arg0(args))
	case "boolval":
		return truthy(arg0(args))
	case "is_a":
		obj, ok := arg0(args).(*Object)
		if !ok || len(args) < 2 {
			return false
		}
		class := toString(args[1])
		// Every runtime exception class counts as an Exception.
		return obj.Class == class || class == "Exception" || class == "Throwable"
	case "max":
		return pickExtreme(args, 1)
	case "min":
		return pickExtreme(args, -1)
	case "pow":
		if len(args) < 2 {
			return exception("ArgumentCountError", "pow expects two arguments")
		}
		xi, xOk := args[0].(int64)
		yi, yOk := args[1].(int64)
		if xOk && yOk && yi >= 0 {
			r := int64(1)
			for n := int64(0); n < yi; n++ {
				r *= xi
			}
			return r
		}
		return math.Pow(toFloat(args[0]), toFloat(args[1]))
	case "substr":
		s := toString(arg0(args))
		if len(args) < 2 {
			return s
		}
		start := toInt(args[1])
		if start < 0 {
			start += int64(len(s))
		}
		if start < 0 || start > int64(len(s)) {
			return ""
		}
		end := int64(len(s))
		if len(args) >= 3 {
			n := toInt(args[2])
			if n >= 0 && start+n < end {
				end = start + n
			}
		}
		return s[start:end]
	case "strrev":
		s := []byte(toString(arg0(args)))
		for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
			s[i], s[j] = s[j], s[i]
		}
		return string(s)
	}
	return exception("Error", "call to undefined function "+name+"()")
}

func arg0(args []interface{}) interface{} {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}

func pickExtreme(args []interface{}, sign int) interface{} {
	if len(args) == 0 {
		return nil
	}
	best := args[0]
	for _, a := range args[1:] {
		if sign*compare(a, best) > 0 {
			best = a
		}
	}
	return best
}
