// Package cfg builds control-flow graphs from function syntax trees.
//
// A FunctionGraph is a set of basic blocks connected by labeled
// control edges. Statements are held in a flat three-address form so
// that the analyzer can type each operand and the IR generator can map
// every statement to exactly one instruction. Variables are renamed at
// control merges, so one source name can carry different inferred
// types on different paths.
package cfg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/TazeTSchnitzel/recki-ct/types"
)

// FunctionGraph is the control-flow graph of a single function.
type FunctionGraph struct {
	Name   string
	Params []*Param
	Blocks []*BasicBlock
	Entry  *BasicBlock
	Edges  []ControlEdge

	// Features that the analyzer rejects as outside the supported
	// subset. The builder records them; it does not judge them.
	Variadic     bool
	UsesByRef    bool
	UsesGlobal   bool
	UsesClosure  bool
	ClosureByRef bool

	nextVarID int
}

// Param is a function parameter bound to its graph variable.
type Param struct {
	Var  *Variable
	Hint types.Type // declared hint, Any when absent
}

// BasicBlock is a straight-line run of statements ending in one
// terminator.
type BasicBlock struct {
	ID        int
	Merges    []*Merge
	Stmts     []Stmt
	Term      Terminator
	Preds     []*BasicBlock
	Succs     []*BasicBlock
	Reachable bool // set by the analyzer
}

// EdgeKind labels a control edge.
type EdgeKind uint8

// Edge kinds.
const (
	EdgeUncond EdgeKind = iota + 1
	EdgeBranchTrue
	EdgeBranchFalse
	EdgeException
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeUncond:
		return "jmp"
	case EdgeBranchTrue:
		return "true"
	case EdgeBranchFalse:
		return "false"
	case EdgeException:
		return "exc"
	}
	return "edgeerr"
}

// ControlEdge is a labeled edge between two blocks.
type ControlEdge struct {
	From, To *BasicBlock
	Kind     EdgeKind
}

// Variable is a flow-sensitive variable identity. Renaming at merge
// points gives each version its own Variable, so Type is a property of
// the version, not the source name.
type Variable struct {
	Name    string // source name, empty for temporaries
	ID      int    // unique within the graph
	Version int    // per-name rename version
	Type    types.Type
}

func (v *Variable) String() string {
	if v.Name == "" {
		return "%" + strconv.Itoa(v.ID)
	}
	return "$" + v.Name + "." + strconv.Itoa(v.Version)
}

// Value is a statement operand: a Variable or a constant.
type Value interface {
	String() string
	valueNode()
}

// IntConst is an integer constant operand.
type IntConst struct{ Value int64 }

// FloatConst is a float constant operand.
type FloatConst struct{ Value float64 }

// BoolConst is a boolean constant operand.
type BoolConst struct{ Value bool }

// StringConst is a string constant operand.
type StringConst struct{ Value string }

// NullConst is the null constant operand.
type NullConst struct{}

func (*Variable) valueNode()    {}
func (*IntConst) valueNode()    {}
func (*FloatConst) valueNode()  {}
func (*BoolConst) valueNode()   {}
func (*StringConst) valueNode() {}
func (*NullConst) valueNode()   {}

func (c *IntConst) String() string    { return strconv.FormatInt(c.Value, 10) }
func (c *FloatConst) String() string  { return strconv.FormatFloat(c.Value, 'g', -1, 64) }
func (c *BoolConst) String() string   { return strconv.FormatBool(c.Value) }
func (c *StringConst) String() string { return strconv.Quote(c.Value) }
func (*NullConst) String() string     { return "null" }

// ConstType returns the lattice type of a constant operand and Bottom
// for variables.
func ConstType(v Value) types.Type {
	switch v.(type) {
	case *IntConst:
		return types.Int
	case *FloatConst:
		return types.Float
	case *BoolConst:
		return types.Bool
	case *StringConst:
		return types.String
	case *NullConst:
		return types.Null
	}
	return types.Bottom
}

// Merge joins variable versions arriving on different predecessor
// edges into one result version.
type Merge struct {
	Result   *Variable
	Incoming []MergeIncoming
}

// MergeIncoming is one merge source: the version the variable has when
// control arrives from Pred. At is the statement index in Pred before
// which the value is live, or -1 when control leaves through Pred's
// terminator; exception edges leave mid-block, so the position matters
// when merges are later demoted to copies.
type MergeIncoming struct {
	Pred *BasicBlock
	Src  *Variable
	At   int
}

// Op is a binary or unary statement operator.
type Op uint8

// Statement operators.
const (
	Add Op = iota + 1
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
)

func (op Op) String() string {
	switch op {
	case Add:
		return "add"
	case Sub:
		return "sub"
	case Mul:
		return "mul"
	case Div:
		return "div"
	case Mod:
		return "mod"
	case Concat:
		return "concat"
	case Eq:
		return "eq"
	case Ne:
		return "ne"
	case Lt:
		return "lt"
	case Le:
		return "le"
	case Gt:
		return "gt"
	case Ge:
		return "ge"
	case Neg:
		return "neg"
	case Not:
		return "not"
	case Bool:
		return "bool"
	}
	return "operr"
}

// Stmt is a single three-address statement.
type Stmt interface {
	String() string
	stmtNode()
	// Def returns the defined variable, or nil.
	Def() *Variable
}

// BinStmt applies a binary operator. Handler is the innermost
// enclosing catch block when the statement sits in a protected region
// and its operator can raise, nil otherwise.
type BinStmt struct {
	Op      Op
	Dest    *Variable
	X, Y    Value
	Handler *BasicBlock
}

// UnStmt applies a unary operator.
type UnStmt struct {
	Op   Op
	Dest *Variable
	X    Value
}

// CopyStmt copies a value into a variable.
type CopyStmt struct {
	Dest *Variable
	Src  Value
}

// CallStmt calls a named function.
type CallStmt struct {
	Dest    *Variable
	Func    string
	Args    []Value
	Handler *BasicBlock
}

// NewStmt instantiates a class.
type NewStmt struct {
	Dest    *Variable
	Class   string
	Args    []Value
	Handler *BasicBlock
}

// NewClosureStmt materializes a closure value. The analyzer rejects
// graphs containing it; it exists so the builder can finish
// translating and report features rather than failing structurally.
type NewClosureStmt struct {
	Dest  *Variable
	ByRef bool
}

// ArrayNewStmt builds an array from positional elements.
type ArrayNewStmt struct {
	Dest  *Variable
	Elems []Value
}

// IndexStmt reads an array element.
type IndexStmt struct {
	Dest    *Variable
	Arr     Value
	Index   Value
	Handler *BasicBlock
}

// EchoStmt writes one value to output.
type EchoStmt struct {
	Val Value
}

// CatchBindStmt binds the in-flight exception to a variable at the
// entry of an exception handler.
type CatchBindStmt struct {
	Dest *Variable
}

// LoadGlobalStmt binds a global variable into the function scope.
type LoadGlobalStmt struct {
	Dest *Variable
	Name string
}

func (*BinStmt) stmtNode()        {}
func (*UnStmt) stmtNode()         {}
func (*CopyStmt) stmtNode()       {}
func (*CallStmt) stmtNode()       {}
func (*NewStmt) stmtNode()        {}
func (*NewClosureStmt) stmtNode() {}
func (*ArrayNewStmt) stmtNode()   {}
func (*IndexStmt) stmtNode()      {}
func (*EchoStmt) stmtNode()       {}
func (*CatchBindStmt) stmtNode()  {}
func (*LoadGlobalStmt) stmtNode() {}

func (s *BinStmt) Def() *Variable        { return s.Dest }
func (s *UnStmt) Def() *Variable         { return s.Dest }
func (s *CopyStmt) Def() *Variable       { return s.Dest }
func (s *CallStmt) Def() *Variable       { return s.Dest }
func (s *NewStmt) Def() *Variable        { return s.Dest }
func (s *NewClosureStmt) Def() *Variable { return s.Dest }
func (s *ArrayNewStmt) Def() *Variable   { return s.Dest }
func (s *IndexStmt) Def() *Variable      { return s.Dest }
func (*EchoStmt) Def() *Variable         { return nil }
func (s *CatchBindStmt) Def() *Variable  { return s.Dest }
func (s *LoadGlobalStmt) Def() *Variable { return s.Dest }

func (s *BinStmt) String() string {
	return fmt.Sprintf("%v = %v %v %v", s.Dest, s.Op, s.X, s.Y)
}
func (s *UnStmt) String() string   { return fmt.Sprintf("%v = %v %v", s.Dest, s.Op, s.X) }
func (s *CopyStmt) String() string { return fmt.Sprintf("%v = %v", s.Dest, s.Src) }
func (s *CallStmt) String() string {
	return fmt.Sprintf("%v = call %s(%s)", s.Dest, s.Func, formatValues(s.Args))
}
func (s *NewStmt) String() string {
	return fmt.Sprintf("%v = new %s(%s)", s.Dest, s.Class, formatValues(s.Args))
}
func (s *NewClosureStmt) String() string {
	if s.ByRef {
		return fmt.Sprintf("%v = closure [byref]", s.Dest)
	}
	return fmt.Sprintf("%v = closure", s.Dest)
}
func (s *ArrayNewStmt) String() string {
	return fmt.Sprintf("%v = array(%s)", s.Dest, formatValues(s.Elems))
}
func (s *IndexStmt) String() string {
	return fmt.Sprintf("%v = index %v %v", s.Dest, s.Arr, s.Index)
}
func (s *EchoStmt) String() string       { return fmt.Sprintf("echo %v", s.Val) }
func (s *CatchBindStmt) String() string  { return fmt.Sprintf("%v = catch", s.Dest) }
func (s *LoadGlobalStmt) String() string { return fmt.Sprintf("%v = global $%s", s.Dest, s.Name) }

// Terminator is the control-flow instruction ending a block.
type Terminator interface {
	String() string
	termNode()
}

// Jmp unconditionally transfers control to Target.
type Jmp struct {
	Target *BasicBlock
}

// Branch transfers control to True or False depending on Cond.
type Branch struct {
	Cond  Value
	True  *BasicBlock
	False *BasicBlock
}

// Return leaves the function with a value.
type Return struct {
	Val Value
}

// Throw raises an exception value.
type Throw struct {
	Val     Value
	Handler *BasicBlock
}

func (*Jmp) termNode()    {}
func (*Branch) termNode() {}
func (*Return) termNode() {}
func (*Throw) termNode()  {}

func (t *Jmp) String() string { return fmt.Sprintf("jmp %s", t.Target.Name()) }
func (t *Branch) String() string {
	return fmt.Sprintf("br %v %s %s", t.Cond, t.True.Name(), t.False.Name())
}
func (t *Return) String() string { return fmt.Sprintf("ret %v", t.Val) }
func (t *Throw) String() string  { return fmt.Sprintf("throw %v", t.Val) }

// Name returns a printable block name.
func (b *BasicBlock) Name() string {
	if b == nil {
		return "<nil>"
	}
	if b.ID == 0 {
		return "entry"
	}
	return fmt.Sprintf("block_%d", b.ID)
}

// NewVariable creates a fresh variable identity owned by the graph.
func (g *FunctionGraph) NewVariable(name string, version int) *Variable {
	v := &Variable{Name: name, ID: g.nextVarID, Version: version}
	g.nextVarID = g.nextVarID + 1
	return v
}

// NumVariables returns the number of variable identities created.
func (g *FunctionGraph) NumVariables() int { return g.nextVarID }

// AddEdge links from to to with the given kind, updating the edge set
// and the block adjacency lists. Duplicate exception edges collapse.
func (g *FunctionGraph) AddEdge(from, to *BasicBlock, kind EdgeKind) {
	if kind == EdgeException {
		for _, e := range g.Edges {
			if e.From == from && e.To == to && e.Kind == EdgeException {
				return
			}
		}
	}
	g.Edges = append(g.Edges, ControlEdge{from, to, kind})
	from.Succs = append(from.Succs, to)
	to.Preds = append(to.Preds, from)
}

// PredEdges returns the incoming edges of a block.
func (g *FunctionGraph) PredEdges(b *BasicBlock) []ControlEdge {
	var edges []ControlEdge
	for _, e := range g.Edges {
		if e.To == b {
			edges = append(edges, e)
		}
	}
	return edges
}

func (g *FunctionGraph) String() string {
	var b strings.Builder
	for i, block := range g.Blocks {
		if i != 0 {
			b.WriteByte('\n')
		}
		b.WriteString(block.String())
	}
	return b.String()
}

func (b *BasicBlock) String() string {
	var sb strings.Builder
	sb.WriteString(b.Name())
	sb.WriteString(":\n")
	fmt.Fprintf(&sb, "    ; preds: %s\n", formatBlockList(b.Preds))
	for _, m := range b.Merges {
		fmt.Fprintf(&sb, "    %v = merge", m.Result)
		for _, in := range m.Incoming {
			fmt.Fprintf(&sb, " [%v, %s]", in.Src, in.Pred.Name())
		}
		sb.WriteByte('\n')
	}
	for _, s := range b.Stmts {
		sb.WriteString("    ")
		sb.WriteString(s.String())
		sb.WriteByte('\n')
	}
	sb.WriteString("    ")
	if b.Term != nil {
		sb.WriteString(b.Term.String())
	} else {
		sb.WriteString("<no terminator>")
	}
	sb.WriteByte('\n')
	return sb.String()
}

func formatBlockList(blocks []*BasicBlock) string {
	if len(blocks) == 0 {
		return "-"
	}
	var b strings.Builder
	for i, block := range blocks {
		if i != 0 {
			b.WriteByte(' ')
		}
		b.WriteString(block.Name())
	}
	return b.String()
}

func formatValues(vals []Value) string {
	var b strings.Builder
	for i, val := range vals {
		if i != 0 {
			b.WriteString(", ")
		}
		b.WriteString(val.String())
	}
	return b.String()
}
