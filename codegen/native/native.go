// Package native lowers flat IR to LLVM for ahead-of-time native
// compilation. It accepts the numeric and control subset of the IR;
// anything touching strings, arrays, objects, calls, or exception
// control flow is reported as unsupported so the caller can fall
// back to a source backend.
package native

import (
	"fmt"
	"os/exec"
	"sync"

	"github.com/TazeTSchnitzel/recki-ct/codegen"
	"github.com/TazeTSchnitzel/recki-ct/ir"
	"github.com/TazeTSchnitzel/recki-ct/types"

	llir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	lltypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

var (
	availOnce sync.Once
	avail     bool
)

// Available reports whether native compilation can run on this host.
// The capability is probed once; it does not change at runtime.
func Available() bool {
	availOnce.Do(func() {
		_, err := exec.LookPath("llc")
		avail = err == nil
	})
	return avail
}

// Backend lowers IR functions to LLVM modules.
type Backend struct{}

func New() *Backend { return &Backend{} }

// Compile lowers f into a standalone LLVM module defining one
// function of the same name.
func (b *Backend) Compile(f *ir.Function) (*llir.Module, error) {
	lower := &lowerer{f: f}
	return lower.run()
}

type lowerer struct {
	f      *ir.Function
	fn     *llir.Func
	blocks map[string]*llir.Block
	slots  map[int]*llir.InstAlloca
	cur    *llir.Block
}

func (l *lowerer) run() (*llir.Module, error) {
	f := l.f
	retType, err := l.scalarType(f.Return, nil)
	if err != nil {
		return nil, err
	}

	m := llir.NewModule()
	params := make([]*llir.Param, len(f.Params))
	for i, p := range f.Params {
		t, err := l.scalarType(p.Type, nil)
		if err != nil {
			return nil, err
		}
		params[i] = llir.NewParam(fmt.Sprintf("p%d", p.ID), t)
	}
	l.fn = m.NewFunc(f.Name, retType, params...)

	// One mutable slot per register; LLVM's own passes promote them
	// back to SSA.
	alloc := l.fn.NewBlock("alloc")
	l.slots = make(map[int]*llir.InstAlloca)
	for _, inst := range f.Insts {
		for _, arg := range inst.Args {
			if r, ok := arg.(*ir.Register); ok {
				if err := l.ensureSlot(alloc, r, inst); err != nil {
					return nil, err
				}
			}
		}
		if inst.Dest != nil {
			if err := l.ensureSlot(alloc, inst.Dest, inst); err != nil {
				return nil, err
			}
		}
	}
	for _, p := range f.Params {
		if err := l.ensureSlot(alloc, p, nil); err != nil {
			return nil, err
		}
	}

	l.blocks = make(map[string]*llir.Block)
	for _, label := range f.Order {
		l.blocks[label] = l.fn.NewBlock("b_" + label)
	}
	for i, p := range f.Params {
		alloc.NewStore(params[i], l.slots[p.ID])
	}
	alloc.NewBr(l.blocks[f.Order[0]])

	for i, label := range f.Order {
		l.cur = l.blocks[label]
		end := len(f.Insts)
		if i+1 < len(f.Order) {
			end = f.Labels[f.Order[i+1]]
		}
		for _, inst := range f.Insts[f.Labels[label]:end] {
			if err := l.inst(inst); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (l *lowerer) ensureSlot(alloc *llir.Block, r *ir.Register, at *ir.Instruction) error {
	if _, ok := l.slots[r.ID]; ok {
		return nil
	}
	t, err := l.scalarType(r.Type, at)
	if err != nil {
		return err
	}
	l.slots[r.ID] = alloc.NewAlloca(t)
	return nil
}

// scalarType maps a single-kind numeric or boolean type to LLVM.
func (l *lowerer) scalarType(t types.Type, at *ir.Instruction) (lltypes.Type, error) {
	switch {
	case t.Is(types.Int):
		return lltypes.I64, nil
	case t.Is(types.Float):
		return lltypes.Double, nil
	case t.Is(types.Bool):
		return lltypes.I1, nil
	}
	return nil, l.unsupported(at, fmt.Sprintf("type %v has no native representation", t))
}

func (l *lowerer) unsupported(inst *ir.Instruction, reason string) error {
	return &codegen.UnsupportedOpError{Target: codegen.TargetNative, Inst: inst, Reason: reason}
}

func (l *lowerer) inst(inst *ir.Instruction) error {
	switch inst.Op {
	case ir.Copy:
		v, err := l.load(inst, inst.Args[0])
		if err != nil {
			return err
		}
		return l.store(inst, v)
	case ir.Add, ir.Sub, ir.Mul:
		return l.arith(inst)
	case ir.Eq, ir.Ne, ir.Lt, ir.Le, ir.Gt, ir.Ge:
		return l.compare(inst)
	case ir.Neg:
		x, err := l.load(inst, inst.Args[0])
		if err != nil {
			return err
		}
		if x.Type().Equal(lltypes.Double) {
			return l.store(inst, l.cur.NewFNeg(x))
		}
		return l.store(inst, l.cur.NewSub(constant.NewInt(lltypes.I64, 0), x))
	case ir.Not:
		x, err := l.truth(inst, inst.Args[0])
		if err != nil {
			return err
		}
		return l.store(inst, l.cur.NewXor(x, constant.NewInt(lltypes.I1, 1)))
	case ir.Bool:
		x, err := l.truth(inst, inst.Args[0])
		if err != nil {
			return err
		}
		return l.store(inst, x)
	case ir.Jmp:
		l.cur.NewBr(l.blocks[inst.Target])
		return nil
	case ir.CondJmp:
		cond, err := l.truth(inst, inst.Args[0])
		if err != nil {
			return err
		}
		l.cur.NewCondBr(cond, l.blocks[inst.True], l.blocks[inst.False])
		return nil
	case ir.Return:
		want, err := l.scalarType(l.f.Return, inst)
		if err != nil {
			return err
		}
		v, err := l.loadAs(inst, inst.Args[0], want)
		if err != nil {
			return err
		}
		l.cur.NewRet(v)
		return nil
	case ir.Div, ir.Mod:
		return l.unsupported(inst, "division can raise and native code has no unwinder")
	case ir.Concat, ir.Call, ir.New, ir.NewArray, ir.Index, ir.Echo, ir.Catch, ir.Throw:
		return l.unsupported(inst, "operation needs the runtime")
	}
	return l.unsupported(inst, "unknown opcode")
}

func (l *lowerer) arith(inst *ir.Instruction) error {
	want, err := l.scalarType(inst.Dest.Type, inst)
	if err != nil {
		return err
	}
	x, err := l.loadAs(inst, inst.Args[0], want)
	if err != nil {
		return err
	}
	y, err := l.loadAs(inst, inst.Args[1], want)
	if err != nil {
		return err
	}
	var v value.Value
	if want.Equal(lltypes.Double) {
		switch inst.Op {
		case ir.Add:
			v = l.cur.NewFAdd(x, y)
		case ir.Sub:
			v = l.cur.NewFSub(x, y)
		case ir.Mul:
			v = l.cur.NewFMul(x, y)
		}
	} else {
		switch inst.Op {
		case ir.Add:
			v = l.cur.NewAdd(x, y)
		case ir.Sub:
			v = l.cur.NewSub(x, y)
		case ir.Mul:
			v = l.cur.NewMul(x, y)
		}
	}
	return l.store(inst, v)
}

var (
	intPreds = map[ir.Opcode]enum.IPred{
		ir.Eq: enum.IPredEQ,
		ir.Ne: enum.IPredNE,
		ir.Lt: enum.IPredSLT,
		ir.Le: enum.IPredSLE,
		ir.Gt: enum.IPredSGT,
		ir.Ge: enum.IPredSGE,
	}
	floatPreds = map[ir.Opcode]enum.FPred{
		ir.Eq: enum.FPredOEQ,
		ir.Ne: enum.FPredONE,
		ir.Lt: enum.FPredOLT,
		ir.Le: enum.FPredOLE,
		ir.Gt: enum.FPredOGT,
		ir.Ge: enum.FPredOGE,
	}
)

func (l *lowerer) compare(inst *ir.Instruction) error {
	xt, err := l.valueType(inst, inst.Args[0])
	if err != nil {
		return err
	}
	yt, err := l.valueType(inst, inst.Args[1])
	if err != nil {
		return err
	}
	var common lltypes.Type = lltypes.I64
	if xt.Equal(lltypes.Double) || yt.Equal(lltypes.Double) {
		common = lltypes.Double
	} else if xt.Equal(lltypes.I1) && yt.Equal(lltypes.I1) {
		common = lltypes.I1
	}
	x, err := l.loadAs(inst, inst.Args[0], common)
	if err != nil {
		return err
	}
	y, err := l.loadAs(inst, inst.Args[1], common)
	if err != nil {
		return err
	}
	if common.Equal(lltypes.Double) {
		return l.store(inst, l.cur.NewFCmp(floatPreds[inst.Op], x, y))
	}
	return l.store(inst, l.cur.NewICmp(intPreds[inst.Op], x, y))
}

// truth converts a value to i1.
func (l *lowerer) truth(inst *ir.Instruction, v ir.Value) (value.Value, error) {
	x, err := l.load(inst, v)
	if err != nil {
		return nil, err
	}
	switch {
	case x.Type().Equal(lltypes.I1):
		return x, nil
	case x.Type().Equal(lltypes.I64):
		return l.cur.NewICmp(enum.IPredNE, x, constant.NewInt(lltypes.I64, 0)), nil
	case x.Type().Equal(lltypes.Double):
		return l.cur.NewFCmp(enum.FPredONE, x, constant.NewFloat(lltypes.Double, 0)), nil
	}
	return nil, l.unsupported(inst, "no boolean conversion")
}

func (l *lowerer) valueType(inst *ir.Instruction, v ir.Value) (lltypes.Type, error) {
	switch v := v.(type) {
	case *ir.Register:
		return l.scalarType(v.Type, inst)
	case *ir.IntConst:
		return lltypes.I64, nil
	case *ir.FloatConst:
		return lltypes.Double, nil
	case *ir.BoolConst:
		return lltypes.I1, nil
	}
	return nil, l.unsupported(inst, fmt.Sprintf("value %v has no native representation", v))
}

func (l *lowerer) load(inst *ir.Instruction, v ir.Value) (value.Value, error) {
	switch v := v.(type) {
	case *ir.Register:
		t, err := l.scalarType(v.Type, inst)
		if err != nil {
			return nil, err
		}
		return l.cur.NewLoad(t, l.slots[v.ID]), nil
	case *ir.IntConst:
		return constant.NewInt(lltypes.I64, v.Value), nil
	case *ir.FloatConst:
		return constant.NewFloat(lltypes.Double, v.Value), nil
	case *ir.BoolConst:
		bit := int64(0)
		if v.Value {
			bit = 1
		}
		return constant.NewInt(lltypes.I1, bit), nil
	}
	return nil, l.unsupported(inst, fmt.Sprintf("value %v has no native representation", v))
}

// loadAs loads v widened to want. Only widening conversions exist;
// a narrowing requirement means the types went wrong upstream.
func (l *lowerer) loadAs(inst *ir.Instruction, v ir.Value, want lltypes.Type) (value.Value, error) {
	x, err := l.load(inst, v)
	if err != nil {
		return nil, err
	}
	have := x.Type()
	switch {
	case have.Equal(want):
		return x, nil
	case have.Equal(lltypes.I1) && want.Equal(lltypes.I64):
		return l.cur.NewZExt(x, lltypes.I64), nil
	case have.Equal(lltypes.I64) && want.Equal(lltypes.Double):
		return l.cur.NewSIToFP(x, lltypes.Double), nil
	case have.Equal(lltypes.I1) && want.Equal(lltypes.Double):
		return l.cur.NewUIToFP(x, lltypes.Double), nil
	}
	return nil, l.unsupported(inst, fmt.Sprintf("cannot narrow %v to %v", have, want))
}

func (l *lowerer) store(inst *ir.Instruction, v value.Value) error {
	want, err := l.scalarType(inst.Dest.Type, inst)
	if err != nil {
		return err
	}
	if !v.Type().Equal(want) {
		switch {
		case v.Type().Equal(lltypes.I1) && want.Equal(lltypes.I64):
			v = l.cur.NewZExt(v, lltypes.I64)
		case v.Type().Equal(lltypes.I64) && want.Equal(lltypes.Double):
			v = l.cur.NewSIToFP(v, lltypes.Double)
		case v.Type().Equal(lltypes.I1) && want.Equal(lltypes.Double):
			v = l.cur.NewUIToFP(v, lltypes.Double)
		default:
			return l.unsupported(inst, fmt.Sprintf("cannot narrow %v to %v", v.Type(), want))
		}
	}
	l.cur.NewStore(v, l.slots[inst.Dest.ID])
	return nil
}
