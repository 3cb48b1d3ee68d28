package ir

import (
	"fmt"

	"github.com/TazeTSchnitzel/recki-ct/cfg"
)

// Generate linearizes an analyzed function graph into flat IR.
// Blocks are laid out in reverse postorder from entry; unreachable
// blocks are omitted. Merge bindings become copies in predecessors,
// placed at the recorded raise point for exception incomings and at
// the block end otherwise.
func Generate(g *cfg.FunctionGraph) (*Function, error) {
	gen := &generator{
		g:    g,
		f:    &Function{Name: g.Name, Labels: make(map[string]int)},
		regs: make(map[*cfg.Variable]*Register),
	}
	return gen.run()
}

type generator struct {
	g    *cfg.FunctionGraph
	f    *Function
	regs map[*cfg.Variable]*Register

	// copies pending per block: statement index -> copies to emit
	// before that statement; index -1 collects end-of-block copies.
	pending map[*cfg.BasicBlock]map[int][]copyPair
}

type copyPair struct {
	dest *cfg.Variable
	src  cfg.Value
}

func (gen *generator) run() (*Function, error) {
	g := gen.g
	for _, p := range g.Params {
		gen.f.Params = append(gen.f.Params, gen.reg(p.Var))
	}

	order := make([]*cfg.BasicBlock, 0, len(g.Blocks))
	for _, id := range g.Digraph().ReversePostOrder(g.Entry.ID) {
		if b := g.Blocks[id]; b.Reachable {
			order = append(order, b)
		}
	}
	if len(order) == 0 || order[0] != g.Entry {
		return nil, fmt.Errorf("ir: entry block is not first in layout")
	}

	gen.demoteMerges(order)
	for _, b := range order {
		label := b.Name()
		gen.f.Labels[label] = len(gen.f.Insts)
		gen.f.Order = append(gen.f.Order, label)
		if err := gen.block(b); err != nil {
			return nil, err
		}
	}
	gen.f.NumRegs = len(gen.regs)
	returnType(g, gen.f)
	return gen.f, nil
}

// demoteMerges distributes every reachable block's merge bindings
// into its predecessors as pending copies.
func (gen *generator) demoteMerges(order []*cfg.BasicBlock) {
	gen.pending = make(map[*cfg.BasicBlock]map[int][]copyPair)
	for _, b := range order {
		for _, m := range b.Merges {
			for _, in := range m.Incoming {
				if !in.Pred.Reachable {
					continue
				}
				at := in.At
				if at < 0 {
					at = -1
				}
				slot := gen.pending[in.Pred]
				if slot == nil {
					slot = make(map[int][]copyPair)
					gen.pending[in.Pred] = slot
				}
				slot[at] = append(slot[at], copyPair{m.Result, in.Src})
			}
		}
	}
}

func (gen *generator) block(b *cfg.BasicBlock) error {
	pending := gen.pending[b]
	for i, s := range b.Stmts {
		for _, cp := range pending[i] {
			gen.emitCopy(cp)
		}
		if err := gen.stmt(s); err != nil {
			return err
		}
	}
	for _, cp := range pending[-1] {
		gen.emitCopy(cp)
	}
	return gen.term(b)
}

// handlerLabel returns the label of a raising statement's handler, or
// "" when the raise unwinds out of the function. Each statement
// carries its own handler; a block can hold raises from before, inside,
// and after a protected region.
func handlerLabel(h *cfg.BasicBlock) string {
	if h == nil {
		return ""
	}
	return h.Name()
}

func (gen *generator) emitCopy(cp copyPair) {
	gen.emit(&Instruction{Op: Copy, Dest: gen.reg(cp.dest), Args: []Value{gen.value(cp.src)}})
}

func (gen *generator) emit(inst *Instruction) {
	gen.f.Insts = append(gen.f.Insts, inst)
}

func (gen *generator) stmt(s cfg.Stmt) error {
	switch s := s.(type) {
	case *cfg.BinStmt:
		op, ok := binOpcodes[s.Op]
		if !ok {
			return fmt.Errorf("ir: unknown binary op %v", s.Op)
		}
		inst := &Instruction{Op: op, Dest: gen.reg(s.Dest), Args: []Value{gen.value(s.X), gen.value(s.Y)}}
		if inst.CanRaise() {
			inst.Handler = handlerLabel(s.Handler)
		}
		gen.emit(inst)
	case *cfg.UnStmt:
		op, ok := unOpcodes[s.Op]
		if !ok {
			return fmt.Errorf("ir: unknown unary op %v", s.Op)
		}
		gen.emit(&Instruction{Op: op, Dest: gen.reg(s.Dest), Args: []Value{gen.value(s.X)}})
	case *cfg.CopyStmt:
		gen.emit(&Instruction{Op: Copy, Dest: gen.reg(s.Dest), Args: []Value{gen.value(s.Src)}})
	case *cfg.CallStmt:
		args := gen.values(s.Args)
		gen.emit(&Instruction{Op: Call, Dest: gen.reg(s.Dest), Func: s.Func, Args: args, Handler: handlerLabel(s.Handler)})
	case *cfg.NewStmt:
		args := gen.values(s.Args)
		gen.emit(&Instruction{Op: New, Dest: gen.reg(s.Dest), Func: s.Class, Args: args, Handler: handlerLabel(s.Handler)})
	case *cfg.ArrayNewStmt:
		gen.emit(&Instruction{Op: NewArray, Dest: gen.reg(s.Dest), Args: gen.values(s.Elems)})
	case *cfg.IndexStmt:
		gen.emit(&Instruction{Op: Index, Dest: gen.reg(s.Dest), Args: []Value{gen.value(s.Arr), gen.value(s.Index)}, Handler: handlerLabel(s.Handler)})
	case *cfg.EchoStmt:
		gen.emit(&Instruction{Op: Echo, Args: []Value{gen.value(s.Val)}})
	case *cfg.CatchBindStmt:
		gen.emit(&Instruction{Op: Catch, Dest: gen.reg(s.Dest)})
	case *cfg.NewClosureStmt:
		return fmt.Errorf("ir: closures cannot be linearized")
	case *cfg.LoadGlobalStmt:
		return fmt.Errorf("ir: global access cannot be linearized")
	default:
		return fmt.Errorf("ir: unknown statement %T", s)
	}
	return nil
}

func (gen *generator) term(b *cfg.BasicBlock) error {
	switch t := b.Term.(type) {
	case *cfg.Jmp:
		gen.emit(&Instruction{Op: Jmp, Target: t.Target.Name()})
	case *cfg.Branch:
		gen.emit(&Instruction{
			Op:    CondJmp,
			Args:  []Value{gen.value(t.Cond)},
			True:  t.True.Name(),
			False: t.False.Name(),
		})
	case *cfg.Return:
		gen.emit(&Instruction{Op: Return, Args: []Value{gen.value(t.Val)}})
	case *cfg.Throw:
		gen.emit(&Instruction{Op: Throw, Args: []Value{gen.value(t.Val)}, Handler: handlerLabel(t.Handler)})
	default:
		return fmt.Errorf("ir: block %s has no terminator", b.Name())
	}
	return nil
}

var binOpcodes = map[cfg.Op]Opcode{
	cfg.Add:    Add,
	cfg.Sub:    Sub,
	cfg.Mul:    Mul,
	cfg.Div:    Div,
	cfg.Mod:    Mod,
	cfg.Concat: Concat,
	cfg.Eq:     Eq,
	cfg.Ne:     Ne,
	cfg.Lt:     Lt,
	cfg.Le:     Le,
	cfg.Gt:     Gt,
	cfg.Ge:     Ge,
}

var unOpcodes = map[cfg.Op]Opcode{
	cfg.Neg:  Neg,
	cfg.Not:  Not,
	cfg.Bool: Bool,
}

func (gen *generator) reg(v *cfg.Variable) *Register {
	if r, ok := gen.regs[v]; ok {
		r.Type = v.Type
		return r
	}
	r := &Register{ID: len(gen.regs), Name: v.Name, Type: v.Type}
	gen.regs[v] = r
	return r
}

func (gen *generator) value(v cfg.Value) Value {
	switch v := v.(type) {
	case *cfg.Variable:
		return gen.reg(v)
	case *cfg.IntConst:
		return &IntConst{Value: v.Value}
	case *cfg.FloatConst:
		return &FloatConst{Value: v.Value}
	case *cfg.BoolConst:
		return &BoolConst{Value: v.Value}
	case *cfg.StringConst:
		return &StringConst{Value: v.Value}
	case *cfg.NullConst:
		return &NullConst{}
	}
	panic(fmt.Sprintf("ir: unknown value %T", v))
}

func (gen *generator) values(vs []cfg.Value) []Value {
	out := make([]Value, len(vs))
	for i, v := range vs {
		out[i] = gen.value(v)
	}
	return out
}

func returnType(g *cfg.FunctionGraph, f *Function) {
	t := f.Return
	for _, b := range g.Blocks {
		if !b.Reachable {
			continue
		}
		if ret, ok := b.Term.(*cfg.Return); ok {
			if v, ok := ret.Val.(*cfg.Variable); ok {
				t = t.Join(v.Type)
			} else {
				t = t.Join(cfg.ConstType(ret.Val))
			}
		}
	}
	f.Return = t
}
