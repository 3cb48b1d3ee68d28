// Package ir defines a flat, typed instruction form linearized from a
// function graph. Control flow is explicit jumps between labels;
// there are no merge bindings, the generator having demoted them to
// copies in predecessors.
package ir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/TazeTSchnitzel/recki-ct/types"
)

// Opcode identifies an instruction.
type Opcode uint8

// Opcodes.
const (
	Copy Opcode = iota + 1
	Add
	Sub
	Mul
	Div
	Mod
	Concat
	Eq
	Ne
	Lt
	Le
	Gt
	Ge
	Neg
	Not
	Bool
	Call
	New
	NewArray
	Index
	Echo
	Catch
	Jmp
	CondJmp
	Return
	Throw
)

var opcodeNames = [...]string{
	Copy:     "copy",
	Add:      "add",
	Sub:      "sub",
	Mul:      "mul",
	Div:      "div",
	Mod:      "mod",
	Concat:   "concat",
	Eq:       "eq",
	Ne:       "ne",
	Lt:       "lt",
	Le:       "le",
	Gt:       "gt",
	Ge:       "ge",
	Neg:      "neg",
	Not:      "not",
	Bool:     "bool",
	Call:     "call",
	New:      "new",
	NewArray: "newarray",
	Index:    "index",
	Echo:     "echo",
	Catch:    "catch",
	Jmp:      "jmp",
	CondJmp:  "condjmp",
	Return:   "ret",
	Throw:    "throw",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return "opcode(" + strconv.Itoa(int(op)) + ")"
}

// Value is a register or constant operand.
type Value interface {
	String() string
	valueNode()
}

// Register is a typed virtual register.
type Register struct {
	ID   int
	Name string // source variable name, empty for temporaries
	Type types.Type
}

// Constants.
type (
	IntConst struct{ Value int64 }
	FloatConst struct{ Value float64 }
	BoolConst struct{ Value bool }
	StringConst struct{ Value string }
	NullConst struct{}
)

func (*Register) valueNode()    {}
func (*IntConst) valueNode()    {}
func (*FloatConst) valueNode()  {}
func (*BoolConst) valueNode()   {}
func (*StringConst) valueNode() {}
func (*NullConst) valueNode()   {}

func (r *Register) String() string { return fmt.Sprintf("%%%d", r.ID) }
func (c *IntConst) String() string { return strconv.FormatInt(c.Value, 10) }
func (c *FloatConst) String() string {
	s := strconv.FormatFloat(c.Value, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
func (c *BoolConst) String() string   { return strconv.FormatBool(c.Value) }
func (c *StringConst) String() string { return strconv.Quote(c.Value) }
func (*NullConst) String() string     { return "null" }

// Instruction is one flat IR instruction. Dest is nil for
// instructions producing no value. Handler names the label control
// transfers to when the instruction raises; empty means the exception
// unwinds out of the function.
type Instruction struct {
	Op      Opcode
	Dest    *Register
	Args    []Value
	Func    string // Call: function name; New: class name
	Target  string // Jmp
	True    string // CondJmp
	False   string // CondJmp
	Handler string
}

// CanRaise reports whether the instruction can transfer to a handler.
func (inst *Instruction) CanRaise() bool {
	switch inst.Op {
	case Div, Mod, Call, New, Index, Throw:
		return true
	}
	return false
}

func (inst *Instruction) String() string {
	var b strings.Builder
	if inst.Dest != nil {
		b.WriteString(inst.Dest.String())
		b.WriteString(" = ")
	}
	b.WriteString(inst.Op.String())
	if inst.Func != "" {
		b.WriteByte(' ')
		b.WriteString(inst.Func)
	}
	for _, arg := range inst.Args {
		b.WriteByte(' ')
		b.WriteString(arg.String())
	}
	switch inst.Op {
	case Jmp:
		b.WriteByte(' ')
		b.WriteString(inst.Target)
	case CondJmp:
		b.WriteByte(' ')
		b.WriteString(inst.True)
		b.WriteByte(' ')
		b.WriteString(inst.False)
	}
	if inst.Handler != "" {
		b.WriteString(" @")
		b.WriteString(inst.Handler)
	}
	return b.String()
}

// Function is a linearized function body. Labels maps each label to
// the index of its first instruction; Order lists labels in layout
// order, "entry" first.
type Function struct {
	Name    string
	Params  []*Register
	Return  types.Type
	Insts   []*Instruction
	Labels  map[string]int
	Order   []string
	NumRegs int
}

// String formats the function with one instruction per line, labels
// outdented.
func (f *Function) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "func %s(", f.Name)
	for i, p := range f.Params {
		if i != 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s:%v", p, p.Type)
	}
	fmt.Fprintf(&b, ") %v\n", f.Return)

	starts := make(map[int][]string)
	for _, label := range f.Order {
		idx := f.Labels[label]
		starts[idx] = append(starts[idx], label)
	}
	for i, inst := range f.Insts {
		for _, label := range starts[i] {
			b.WriteString(label)
			b.WriteString(":\n")
		}
		b.WriteString("    ")
		b.WriteString(inst.String())
		b.WriteByte('\n')
	}
	return b.String()
}
