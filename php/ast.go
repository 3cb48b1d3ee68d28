// Package php defines the syntax-tree node kinds consumed by the
// compiler pipeline.
//
// The node set is closed: the graph builder matches exhaustively over
// these kinds and treats anything else as an unsupported construct.
// Parsing source text into these nodes is an external concern; the
// pipeline only ever sees a single *Function at a time.
package php

// Node is any syntax-tree node.
type Node interface {
	Kind() string
	Position() Pos
}

// Stmt is a statement node.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is an expression node.
type Expr interface {
	Node
	exprNode()
}

// Function is a single named function declaration. The namespace is
// already resolved by the front end.
type Function struct {
	Namespace string
	Name      string
	Params    []*Param
	Body      []Stmt
	Pos       Pos
}

// Param is a declared function parameter. Hint is the declared type
// name, or empty when the parameter is untyped.
type Param struct {
	Name     string
	Hint     string
	ByRef    bool
	Variadic bool
	Pos      Pos
}

// QualifiedName returns the namespace-qualified function name.
func (f *Function) QualifiedName() string {
	if f.Namespace == "" {
		return f.Name
	}
	return f.Namespace + "\\" + f.Name
}

// ExprStmt is an expression evaluated for its side effects.
type ExprStmt struct {
	X   Expr
	Pos Pos
}

// AssignStmt assigns an expression to a variable.
type AssignStmt struct {
	Name string
	X    Expr
	Pos  Pos
}

// EchoStmt writes its arguments to output.
type EchoStmt struct {
	Args []Expr
	Pos  Pos
}

// IfStmt is a conditional with an optional else branch. An elseif
// chain is represented as an IfStmt in the else branch.
type IfStmt struct {
	Cond Expr
	Then []Stmt
	Else []Stmt
	Pos  Pos
}

// WhileStmt is a pre-tested loop.
type WhileStmt struct {
	Cond Expr
	Body []Stmt
	Pos  Pos
}

// DoWhileStmt is a post-tested loop.
type DoWhileStmt struct {
	Body []Stmt
	Cond Expr
	Pos  Pos
}

// ForStmt is a counted loop. Init and Post may be nil.
type ForStmt struct {
	Init Stmt
	Cond Expr
	Post Stmt
	Body []Stmt
	Pos  Pos
}

// ForeachStmt iterates over an array. KeyVar is empty when no key
// variable is bound.
type ForeachStmt struct {
	Subject  Expr
	KeyVar   string
	ValueVar string
	ByRef    bool
	Body     []Stmt
	Pos      Pos
}

// SwitchStmt dispatches over cases with fallthrough semantics.
type SwitchStmt struct {
	Subject Expr
	Cases   []*SwitchCase
	Pos     Pos
}

// SwitchCase is a single case arm. A nil Cond is the default arm.
type SwitchCase struct {
	Cond Expr
	Body []Stmt
	Pos  Pos
}

// BreakStmt exits the innermost loop or switch.
type BreakStmt struct {
	Pos Pos
}

// ContinueStmt jumps to the innermost loop's condition.
type ContinueStmt struct {
	Pos Pos
}

// ReturnStmt returns from the function. X may be nil.
type ReturnStmt struct {
	X   Expr
	Pos Pos
}

// ThrowStmt raises an exception value.
type ThrowStmt struct {
	X   Expr
	Pos Pos
}

// TryStmt is a protected region with catch clauses and an optional
// finally block.
type TryStmt struct {
	Body    []Stmt
	Catches []*CatchClause
	Finally []Stmt
	Pos     Pos
}

// CatchClause handles exceptions of a class within a try region.
type CatchClause struct {
	Class string
	Var   string
	Body  []Stmt
	Pos   Pos
}

// GlobalStmt imports global variables into the function scope.
type GlobalStmt struct {
	Names []string
	Pos   Pos
}

// IntLit is an integer literal.
type IntLit struct {
	Value int64
	Pos   Pos
}

// FloatLit is a floating-point literal.
type FloatLit struct {
	Value float64
	Pos   Pos
}

// BoolLit is a boolean literal.
type BoolLit struct {
	Value bool
	Pos   Pos
}

// StringLit is a string literal.
type StringLit struct {
	Value string
	Pos   Pos
}

// NullLit is the null literal.
type NullLit struct {
	Pos Pos
}

// ArrayLit is an array literal with positional elements.
type ArrayLit struct {
	Elems []Expr
	Pos   Pos
}

// Var is a variable reference.
type Var struct {
	Name string
	Pos  Pos
}

// BinaryOp is the operator of a BinaryExpr.
type BinaryOp uint8

// Binary operators.
const (
	Add BinaryOp = iota + 1
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
	BoolAnd
	BoolOr
)

func (op BinaryOp) String() string {
	switch op {
	case Add:
		return "+"
	case Sub:
		return "-"
	case Mul:
		return "*"
	case Div:
		return "/"
	case Mod:
		return "%"
	case Concat:
		return "."
	case Eq:
		return "=="
	case Ne:
		return "!="
	case Lt:
		return "<"
	case Le:
		return "<="
	case Gt:
		return ">"
	case Ge:
		return ">="
	case BoolAnd:
		return "&&"
	case BoolOr:
		return "||"
	}
	return "binaryerr"
}

// BinaryExpr applies a binary operator to two operands.
type BinaryExpr struct {
	Op   BinaryOp
	X, Y Expr
	Pos  Pos
}

// UnaryOp is the operator of a UnaryExpr.
type UnaryOp uint8

// Unary operators.
const (
	Neg UnaryOp = iota + 1
	Not
)

func (op UnaryOp) String() string {
	switch op {
	case Neg:
		return "-"
	case Not:
		return "!"
	}
	return "unaryerr"
}

// UnaryExpr applies a unary operator to an operand.
type UnaryExpr struct {
	Op  UnaryOp
	X   Expr
	Pos Pos
}

// CallExpr calls a named function.
type CallExpr struct {
	Func string
	Args []Expr
	Pos  Pos
}

// NewExpr instantiates a class.
type NewExpr struct {
	Class string
	Args  []Expr
	Pos   Pos
}

// IndexExpr reads an array element.
type IndexExpr struct {
	X     Expr
	Index Expr
	Pos   Pos
}

// ClosureExpr is an anonymous function with an explicit use list.
type ClosureExpr struct {
	Params []*Param
	Uses   []*ClosureUse
	Body   []Stmt
	Pos    Pos
}

// ClosureUse is a captured variable in a closure's use list.
type ClosureUse struct {
	Name  string
	ByRef bool
}

func (*Function) Kind() string     { return "Function" }
func (*Param) Kind() string        { return "Param" }
func (*ExprStmt) Kind() string     { return "ExprStmt" }
func (*AssignStmt) Kind() string   { return "AssignStmt" }
func (*EchoStmt) Kind() string     { return "EchoStmt" }
func (*IfStmt) Kind() string       { return "IfStmt" }
func (*WhileStmt) Kind() string    { return "WhileStmt" }
func (*DoWhileStmt) Kind() string  { return "DoWhileStmt" }
func (*ForStmt) Kind() string      { return "ForStmt" }
func (*ForeachStmt) Kind() string  { return "ForeachStmt" }
func (*SwitchStmt) Kind() string   { return "SwitchStmt" }
func (*SwitchCase) Kind() string   { return "SwitchCase" }
func (*BreakStmt) Kind() string    { return "BreakStmt" }
func (*ContinueStmt) Kind() string { return "ContinueStmt" }
func (*ReturnStmt) Kind() string   { return "ReturnStmt" }
func (*ThrowStmt) Kind() string    { return "ThrowStmt" }
func (*TryStmt) Kind() string      { return "TryStmt" }
func (*CatchClause) Kind() string  { return "CatchClause" }
func (*GlobalStmt) Kind() string   { return "GlobalStmt" }
func (*IntLit) Kind() string       { return "IntLit" }
func (*FloatLit) Kind() string     { return "FloatLit" }
func (*BoolLit) Kind() string      { return "BoolLit" }
func (*StringLit) Kind() string    { return "StringLit" }
func (*NullLit) Kind() string      { return "NullLit" }
func (*ArrayLit) Kind() string     { return "ArrayLit" }
func (*Var) Kind() string          { return "Var" }
func (*BinaryExpr) Kind() string   { return "BinaryExpr" }
func (*UnaryExpr) Kind() string    { return "UnaryExpr" }
func (*CallExpr) Kind() string     { return "CallExpr" }
func (*NewExpr) Kind() string      { return "NewExpr" }
func (*IndexExpr) Kind() string    { return "IndexExpr" }
func (*ClosureExpr) Kind() string  { return "ClosureExpr" }

func (n *Function) Position() Pos     { return n.Pos }
func (n *Param) Position() Pos        { return n.Pos }
func (n *ExprStmt) Position() Pos     { return n.Pos }
func (n *AssignStmt) Position() Pos   { return n.Pos }
func (n *EchoStmt) Position() Pos     { return n.Pos }
func (n *IfStmt) Position() Pos       { return n.Pos }
func (n *WhileStmt) Position() Pos    { return n.Pos }
func (n *DoWhileStmt) Position() Pos  { return n.Pos }
func (n *ForStmt) Position() Pos      { return n.Pos }
func (n *ForeachStmt) Position() Pos  { return n.Pos }
func (n *SwitchStmt) Position() Pos   { return n.Pos }
func (n *SwitchCase) Position() Pos   { return n.Pos }
func (n *BreakStmt) Position() Pos    { return n.Pos }
func (n *ContinueStmt) Position() Pos { return n.Pos }
func (n *ReturnStmt) Position() Pos   { return n.Pos }
func (n *ThrowStmt) Position() Pos    { return n.Pos }
func (n *TryStmt) Position() Pos      { return n.Pos }
func (n *CatchClause) Position() Pos  { return n.Pos }
func (n *GlobalStmt) Position() Pos   { return n.Pos }
func (n *IntLit) Position() Pos       { return n.Pos }
func (n *FloatLit) Position() Pos     { return n.Pos }
func (n *BoolLit) Position() Pos      { return n.Pos }
func (n *StringLit) Position() Pos    { return n.Pos }
func (n *NullLit) Position() Pos      { return n.Pos }
func (n *ArrayLit) Position() Pos     { return n.Pos }
func (n *Var) Position() Pos          { return n.Pos }
func (n *BinaryExpr) Position() Pos   { return n.Pos }
func (n *UnaryExpr) Position() Pos    { return n.Pos }
func (n *CallExpr) Position() Pos     { return n.Pos }
func (n *NewExpr) Position() Pos      { return n.Pos }
func (n *IndexExpr) Position() Pos    { return n.Pos }
func (n *ClosureExpr) Position() Pos  { return n.Pos }

func (*ExprStmt) stmtNode()     {}
func (*AssignStmt) stmtNode()   {}
func (*EchoStmt) stmtNode()     {}
func (*IfStmt) stmtNode()       {}
func (*WhileStmt) stmtNode()    {}
func (*DoWhileStmt) stmtNode()  {}
func (*ForStmt) stmtNode()      {}
func (*ForeachStmt) stmtNode()  {}
func (*SwitchStmt) stmtNode()   {}
func (*BreakStmt) stmtNode()    {}
func (*ContinueStmt) stmtNode() {}
func (*ReturnStmt) stmtNode()   {}
func (*ThrowStmt) stmtNode()    {}
func (*TryStmt) stmtNode()      {}
func (*GlobalStmt) stmtNode()   {}

func (*IntLit) exprNode()      {}
func (*FloatLit) exprNode()    {}
func (*BoolLit) exprNode()     {}
func (*StringLit) exprNode()   {}
func (*NullLit) exprNode()     {}
func (*ArrayLit) exprNode()    {}
func (*Var) exprNode()         {}
func (*BinaryExpr) exprNode()  {}
func (*UnaryExpr) exprNode()   {}
func (*CallExpr) exprNode()    {}
func (*NewExpr) exprNode()     {}
func (*IndexExpr) exprNode()   {}
func (*ClosureExpr) exprNode() {}
