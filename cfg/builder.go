package cfg

import (
	"fmt"
	"sort"

	"github.com/TazeTSchnitzel/recki-ct/php"
	"github.com/TazeTSchnitzel/recki-ct/types"
)

// UnsupportedConstructError is returned when the builder encounters a
// syntax node kind it cannot translate into control flow.
type UnsupportedConstructError struct {
	Construct string
	Pos       php.Pos
}

func (e *UnsupportedConstructError) Error() string {
	if e.Pos.IsKnown() {
		return fmt.Sprintf("cfg: unsupported construct %s at %v", e.Construct, e.Pos)
	}
	return fmt.Sprintf("cfg: unsupported construct %s", e.Construct)
}

// Build translates a function syntax tree into a FunctionGraph.
//
// Structured control constructs become explicit blocks and labeled
// edges. Variables are renamed at every control merge. Statements
// following an unconditional return or throw are retained in a fresh
// block with no incoming edges; deciding that they are unreachable is
// the analyzer's job, not the builder's.
func Build(fn *php.Function) (*FunctionGraph, error) {
	g := &FunctionGraph{Name: fn.QualifiedName()}
	b := &builder{
		g:        g,
		env:      make(map[string]*Variable),
		versions: make(map[string]int),
	}
	b.cur = b.newBlock()
	g.Entry = b.cur
	for _, p := range fn.Params {
		if p.Variadic {
			g.Variadic = true
		}
		if p.ByRef {
			g.UsesByRef = true
		}
		v := b.newVersion(p.Name)
		b.env[p.Name] = v
		g.Params = append(g.Params, &Param{Var: v, Hint: hintType(p.Hint)})
	}
	if err := b.stmts(fn.Body); err != nil {
		return nil, err
	}
	if b.cur != nil {
		b.cur.Term = &Return{Val: &NullConst{}}
	}
	for _, block := range g.Blocks {
		if block.Term == nil {
			block.Term = &Return{Val: &NullConst{}}
		}
	}
	return g, nil
}

// envAt snapshots the variable environment at the point control leaves
// a block. at is the statement index the snapshot was taken before, or
// -1 when control leaves through the terminator.
type envAt struct {
	pred *BasicBlock
	env  map[string]*Variable
	at   int
}

type loopScope struct {
	parent         *loopScope
	breakTarget    *BasicBlock
	continueTarget *BasicBlock // nil inside switch
	breakIns       []envAt
	continueIns    []envAt
	tryDepth       int
}

type tryScope struct {
	parent  *tryScope
	handler *BasicBlock
	finally []php.Stmt
	raises  []envAt
	depth   int
}

type builder struct {
	g        *FunctionGraph
	cur      *BasicBlock
	env      map[string]*Variable
	versions map[string]int
	loop     *loopScope
	try      *tryScope
	tryDepth int
	synth    int
}

func (b *builder) newBlock() *BasicBlock {
	block := &BasicBlock{ID: len(b.g.Blocks)}
	b.g.Blocks = append(b.g.Blocks, block)
	return block
}

func (b *builder) newVersion(name string) *Variable {
	b.versions[name]++
	return b.g.NewVariable(name, b.versions[name])
}

func (b *builder) temp() *Variable {
	return b.g.NewVariable("", 0)
}

func (b *builder) synthName(prefix string) string {
	b.synth++
	return fmt.Sprintf("#%s%d", prefix, b.synth)
}

func (b *builder) append(s Stmt) {
	b.cur.Stmts = append(b.cur.Stmts, s)
}

// recordRaise notes that the statement just appended can raise,
// stamping it with the innermost handler and adding the exception
// edge. A block can mix statements protected by different handlers
// (or none), so the handler lives on the statement, not the block.
func (b *builder) recordRaise() {
	ts := b.innermostHandler()
	if ts == nil {
		return
	}
	switch s := b.cur.Stmts[len(b.cur.Stmts)-1].(type) {
	case *BinStmt:
		s.Handler = ts.handler
	case *CallStmt:
		s.Handler = ts.handler
	case *NewStmt:
		s.Handler = ts.handler
	case *IndexStmt:
		s.Handler = ts.handler
	}
	ts.raises = append(ts.raises, envAt{b.cur, copyEnv(b.env), len(b.cur.Stmts) - 1})
	b.g.AddEdge(b.cur, ts.handler, EdgeException)
}

func (b *builder) innermostHandler() *tryScope {
	for ts := b.try; ts != nil; ts = ts.parent {
		if ts.handler != nil {
			return ts
		}
	}
	return nil
}

// runFinallies builds the finally bodies of every protected region
// deeper than downTo, innermost first. Used when a break, continue, or
// return leaves those regions.
func (b *builder) runFinallies(downTo int) error {
	for ts := b.try; ts != nil && ts.depth > downTo; ts = ts.parent {
		if len(ts.finally) == 0 {
			continue
		}
		saved, savedDepth := b.try, b.tryDepth
		b.try, b.tryDepth = ts.parent, ts.depth-1
		err := b.stmts(ts.finally)
		b.try, b.tryDepth = saved, savedDepth
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) stmts(list []php.Stmt) error {
	for _, s := range list {
		if b.cur == nil {
			// Code after an unconditional terminator: retained in a
			// block with no incoming edges.
			b.cur = b.newBlock()
		}
		if err := b.stmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) stmt(s php.Stmt) error {
	switch s := s.(type) {
	case *php.ExprStmt:
		_, err := b.expr(s.X)
		return err
	case *php.AssignStmt:
		return b.assign(s)
	case *php.EchoStmt:
		for _, arg := range s.Args {
			v, err := b.expr(arg)
			if err != nil {
				return err
			}
			b.append(&EchoStmt{Val: v})
		}
		return nil
	case *php.IfStmt:
		return b.ifStmt(s)
	case *php.WhileStmt:
		return b.whileStmt(s)
	case *php.DoWhileStmt:
		return b.doWhileStmt(s)
	case *php.ForStmt:
		return b.forStmt(s)
	case *php.ForeachStmt:
		return b.foreachStmt(s)
	case *php.SwitchStmt:
		return b.switchStmt(s)
	case *php.BreakStmt:
		return b.breakStmt(s)
	case *php.ContinueStmt:
		return b.continueStmt(s)
	case *php.ReturnStmt:
		return b.returnStmt(s)
	case *php.ThrowStmt:
		v, err := b.expr(s.X)
		if err != nil {
			return err
		}
		b.throwValue(v)
		return nil
	case *php.TryStmt:
		return b.tryStmt(s)
	case *php.GlobalStmt:
		b.g.UsesGlobal = true
		for _, name := range s.Names {
			v := b.newVersion(name)
			b.append(&LoadGlobalStmt{Dest: v, Name: name})
			b.env[name] = v
		}
		return nil
	}
	return &UnsupportedConstructError{s.Kind(), s.Position()}
}

func (b *builder) assign(s *php.AssignStmt) error {
	val, err := b.expr(s.X)
	if err != nil {
		return err
	}
	if v, ok := val.(*Variable); ok && v.Name == "" && b.lastDef() == v {
		// The value was just produced by a statement in this block;
		// rename its temporary in place instead of copying.
		b.versions[s.Name]++
		v.Name, v.Version = s.Name, b.versions[s.Name]
		b.env[s.Name] = v
		return nil
	}
	nv := b.newVersion(s.Name)
	b.append(&CopyStmt{Dest: nv, Src: val})
	b.env[s.Name] = nv
	return nil
}

func (b *builder) lastDef() *Variable {
	if b.cur == nil || len(b.cur.Stmts) == 0 {
		return nil
	}
	return b.cur.Stmts[len(b.cur.Stmts)-1].Def()
}

func (b *builder) returnStmt(s *php.ReturnStmt) error {
	var val Value = &NullConst{}
	if s.X != nil {
		v, err := b.expr(s.X)
		if err != nil {
			return err
		}
		val = v
	}
	if err := b.runFinallies(0); err != nil {
		return err
	}
	b.cur.Term = &Return{Val: val}
	b.cur = nil
	return nil
}

func (b *builder) breakStmt(s *php.BreakStmt) error {
	if b.loop == nil {
		return fmt.Errorf("cfg: break outside loop or switch at %v", s.Pos)
	}
	if err := b.runFinallies(b.loop.tryDepth); err != nil {
		return err
	}
	b.loop.breakIns = append(b.loop.breakIns, envAt{b.cur, copyEnv(b.env), -1})
	b.cur.Term = &Jmp{Target: b.loop.breakTarget}
	b.g.AddEdge(b.cur, b.loop.breakTarget, EdgeUncond)
	b.cur = nil
	return nil
}

func (b *builder) continueStmt(s *php.ContinueStmt) error {
	scope := b.loop
	for scope != nil && scope.continueTarget == nil {
		scope = scope.parent
	}
	if scope == nil {
		return fmt.Errorf("cfg: continue outside loop at %v", s.Pos)
	}
	if err := b.runFinallies(scope.tryDepth); err != nil {
		return err
	}
	scope.continueIns = append(scope.continueIns, envAt{b.cur, copyEnv(b.env), -1})
	b.cur.Term = &Jmp{Target: scope.continueTarget}
	b.g.AddEdge(b.cur, scope.continueTarget, EdgeUncond)
	b.cur = nil
	return nil
}

func (b *builder) throwValue(v Value) {
	t := &Throw{Val: v}
	if ts := b.innermostHandler(); ts != nil {
		t.Handler = ts.handler
		ts.raises = append(ts.raises, envAt{b.cur, copyEnv(b.env), -1})
		b.g.AddEdge(b.cur, ts.handler, EdgeException)
	}
	b.cur.Term = t
	b.cur = nil
}

func (b *builder) ifStmt(s *php.IfStmt) error {
	cond, err := b.expr(s.Cond)
	if err != nil {
		return err
	}
	condBlock := b.cur
	condEnv := copyEnv(b.env)
	var ins []envAt

	thenB := b.newBlock()
	b.g.AddEdge(condBlock, thenB, EdgeBranchTrue)
	b.cur = thenB
	if err := b.stmts(s.Then); err != nil {
		return err
	}
	thenOut := b.cur
	if thenOut != nil {
		ins = append(ins, envAt{thenOut, copyEnv(b.env), -1})
	}

	var elseEntry, elseOut *BasicBlock
	if len(s.Else) > 0 {
		b.env = copyEnv(condEnv)
		elseEntry = b.newBlock()
		b.g.AddEdge(condBlock, elseEntry, EdgeBranchFalse)
		b.cur = elseEntry
		if err := b.stmts(s.Else); err != nil {
			return err
		}
		elseOut = b.cur
		if elseOut != nil {
			ins = append(ins, envAt{elseOut, copyEnv(b.env), -1})
		}
	}

	afterB := b.newBlock()
	if elseEntry == nil {
		b.g.AddEdge(condBlock, afterB, EdgeBranchFalse)
		ins = append(ins, envAt{condBlock, condEnv, -1})
		condBlock.Term = &Branch{Cond: cond, True: thenB, False: afterB}
	} else {
		condBlock.Term = &Branch{Cond: cond, True: thenB, False: elseEntry}
	}
	if thenOut != nil {
		thenOut.Term = &Jmp{Target: afterB}
		b.g.AddEdge(thenOut, afterB, EdgeUncond)
	}
	if elseOut != nil {
		elseOut.Term = &Jmp{Target: afterB}
		b.g.AddEdge(elseOut, afterB, EdgeUncond)
	}
	b.cur = afterB
	if len(ins) == 0 {
		b.env = condEnv
	} else {
		b.env = b.mergeInto(afterB, ins)
	}
	return nil
}

func (b *builder) whileStmt(s *php.WhileStmt) error {
	header, _ := b.enterLoopHeader(assignedNames(s.Body, nil))
	cond, err := b.expr(s.Cond)
	if err != nil {
		return err
	}
	condExit := b.cur
	condEnv := copyEnv(b.env)

	bodyB := b.newBlock()
	afterB := b.newBlock()
	condExit.Term = &Branch{Cond: cond, True: bodyB, False: afterB}
	b.g.AddEdge(condExit, bodyB, EdgeBranchTrue)
	b.g.AddEdge(condExit, afterB, EdgeBranchFalse)

	b.loop = &loopScope{parent: b.loop, breakTarget: afterB, continueTarget: header, tryDepth: b.tryDepth}
	b.cur = bodyB
	b.env = copyEnv(condEnv)
	if err := b.stmts(s.Body); err != nil {
		return err
	}
	if b.cur != nil {
		b.cur.Term = &Jmp{Target: header}
		b.g.AddEdge(b.cur, header, EdgeUncond)
		b.addLoopIncoming(header, envAt{b.cur, copyEnv(b.env), -1})
	}
	for _, in := range b.loop.continueIns {
		b.addLoopIncoming(header, in)
	}
	afterIns := append([]envAt{{condExit, condEnv, -1}}, b.loop.breakIns...)
	b.loop = b.loop.parent

	b.cur = afterB
	b.env = b.mergeInto(afterB, afterIns)
	return nil
}

func (b *builder) doWhileStmt(s *php.DoWhileStmt) error {
	header, headerEnv := b.enterLoopHeader(assignedNames(s.Body, nil))
	condB := b.newBlock()
	afterB := b.newBlock()

	b.loop = &loopScope{parent: b.loop, breakTarget: afterB, continueTarget: condB, tryDepth: b.tryDepth}
	b.cur = header
	b.env = copyEnv(headerEnv)
	if err := b.stmts(s.Body); err != nil {
		return err
	}
	condIns := b.loop.continueIns
	if b.cur != nil {
		b.cur.Term = &Jmp{Target: condB}
		b.g.AddEdge(b.cur, condB, EdgeUncond)
		condIns = append(condIns, envAt{b.cur, copyEnv(b.env), -1})
	}
	b.cur = condB
	b.env = b.mergeInto(condB, condIns)
	cond, err := b.expr(s.Cond)
	if err != nil {
		return err
	}
	condExit := b.cur
	condExit.Term = &Branch{Cond: cond, True: header, False: afterB}
	b.g.AddEdge(condExit, header, EdgeBranchTrue)
	b.g.AddEdge(condExit, afterB, EdgeBranchFalse)
	b.addLoopIncoming(header, envAt{condExit, copyEnv(b.env), -1})

	afterIns := append([]envAt{{condExit, copyEnv(b.env), -1}}, b.loop.breakIns...)
	b.loop = b.loop.parent
	b.cur = afterB
	b.env = b.mergeInto(afterB, afterIns)
	return nil
}

func (b *builder) forStmt(s *php.ForStmt) error {
	if s.Init != nil {
		if err := b.stmt(s.Init); err != nil {
			return err
		}
	}
	names := assignedNames(s.Body, nil)
	if s.Post != nil {
		names = assignedNames([]php.Stmt{s.Post}, names)
	}
	header, _ := b.enterLoopHeader(names)
	var cond Value = &BoolConst{Value: true}
	if s.Cond != nil {
		v, err := b.expr(s.Cond)
		if err != nil {
			return err
		}
		cond = v
	}
	condExit := b.cur
	condEnv := copyEnv(b.env)

	bodyB := b.newBlock()
	postB := b.newBlock()
	afterB := b.newBlock()
	condExit.Term = &Branch{Cond: cond, True: bodyB, False: afterB}
	b.g.AddEdge(condExit, bodyB, EdgeBranchTrue)
	b.g.AddEdge(condExit, afterB, EdgeBranchFalse)

	b.loop = &loopScope{parent: b.loop, breakTarget: afterB, continueTarget: postB, tryDepth: b.tryDepth}
	b.cur = bodyB
	b.env = copyEnv(condEnv)
	if err := b.stmts(s.Body); err != nil {
		return err
	}
	postIns := b.loop.continueIns
	if b.cur != nil {
		b.cur.Term = &Jmp{Target: postB}
		b.g.AddEdge(b.cur, postB, EdgeUncond)
		postIns = append(postIns, envAt{b.cur, copyEnv(b.env), -1})
	}
	b.cur = postB
	b.env = b.mergeInto(postB, postIns)
	if s.Post != nil {
		if err := b.stmt(s.Post); err != nil {
			return err
		}
	}
	postExit := b.cur
	if postExit != nil {
		postExit.Term = &Jmp{Target: header}
		b.g.AddEdge(postExit, header, EdgeUncond)
		b.addLoopIncoming(header, envAt{postExit, copyEnv(b.env), -1})
	}

	afterIns := append([]envAt{{condExit, condEnv, -1}}, b.loop.breakIns...)
	b.loop = b.loop.parent
	b.cur = afterB
	b.env = b.mergeInto(afterB, afterIns)
	return nil
}

func (b *builder) foreachStmt(s *php.ForeachStmt) error {
	if s.ByRef {
		b.g.UsesByRef = true
	}
	subj, err := b.expr(s.Subject)
	if err != nil {
		return err
	}
	subjName := b.synthName("arr")
	subjVar := b.newVersion(subjName)
	b.append(&CopyStmt{Dest: subjVar, Src: subj})
	b.env[subjName] = subjVar

	itName := b.synthName("it")
	itVar := b.newVersion(itName)
	b.append(&CopyStmt{Dest: itVar, Src: &IntConst{Value: 0}})
	b.env[itName] = itVar

	lenName := b.synthName("len")
	lenVar := b.newVersion(lenName)
	b.append(&CallStmt{Dest: lenVar, Func: "count", Args: []Value{subjVar}})
	b.recordRaise()
	b.env[lenName] = lenVar

	names := assignedNames(s.Body, nil)
	names[itName] = true
	if s.KeyVar != "" {
		names[s.KeyVar] = true
	}
	names[s.ValueVar] = true
	header, _ := b.enterLoopHeader(names)

	cond := b.temp()
	b.append(&BinStmt{Op: Lt, Dest: cond, X: b.env[itName], Y: b.env[lenName]})
	condExit := b.cur
	condEnv := copyEnv(b.env)

	bodyB := b.newBlock()
	postB := b.newBlock()
	afterB := b.newBlock()
	condExit.Term = &Branch{Cond: cond, True: bodyB, False: afterB}
	b.g.AddEdge(condExit, bodyB, EdgeBranchTrue)
	b.g.AddEdge(condExit, afterB, EdgeBranchFalse)

	b.loop = &loopScope{parent: b.loop, breakTarget: afterB, continueTarget: postB, tryDepth: b.tryDepth}
	b.cur = bodyB
	b.env = copyEnv(condEnv)
	val := b.newVersion(s.ValueVar)
	b.append(&IndexStmt{Dest: val, Arr: b.env[subjName], Index: b.env[itName]})
	b.recordRaise()
	b.env[s.ValueVar] = val
	if s.KeyVar != "" {
		key := b.newVersion(s.KeyVar)
		b.append(&CopyStmt{Dest: key, Src: b.env[itName]})
		b.env[s.KeyVar] = key
	}
	if err := b.stmts(s.Body); err != nil {
		return err
	}
	postIns := b.loop.continueIns
	if b.cur != nil {
		b.cur.Term = &Jmp{Target: postB}
		b.g.AddEdge(b.cur, postB, EdgeUncond)
		postIns = append(postIns, envAt{b.cur, copyEnv(b.env), -1})
	}
	b.cur = postB
	b.env = b.mergeInto(postB, postIns)
	next := b.newVersion(itName)
	b.append(&BinStmt{Op: Add, Dest: next, X: b.env[itName], Y: &IntConst{Value: 1}})
	b.env[itName] = next
	postExit := b.cur
	if postExit != nil {
		postExit.Term = &Jmp{Target: header}
		b.g.AddEdge(postExit, header, EdgeUncond)
		b.addLoopIncoming(header, envAt{postExit, copyEnv(b.env), -1})
	}

	afterIns := append([]envAt{{condExit, condEnv, -1}}, b.loop.breakIns...)
	b.loop = b.loop.parent
	b.cur = afterB
	b.env = b.mergeInto(afterB, afterIns)
	return nil
}

func (b *builder) switchStmt(s *php.SwitchStmt) error {
	subj, err := b.expr(s.Subject)
	if err != nil {
		return err
	}
	afterB := b.newBlock()
	b.loop = &loopScope{parent: b.loop, breakTarget: afterB, tryDepth: b.tryDepth}

	// Test chain in source order, skipping the default arm; its body
	// is the final fallback of the chain.
	bodies := make([]*BasicBlock, len(s.Cases))
	bodyIns := make([][]envAt, len(s.Cases))
	var defaultIdx = -1
	for i, c := range s.Cases {
		bodies[i] = b.newBlock()
		if c.Cond == nil {
			defaultIdx = i
		}
	}
	for i, c := range s.Cases {
		if c.Cond == nil {
			continue
		}
		caseVal, err := b.expr(c.Cond)
		if err != nil {
			return err
		}
		t := b.temp()
		b.append(&BinStmt{Op: Eq, Dest: t, X: subj, Y: caseVal})
		testExit := b.cur
		bodyIns[i] = append(bodyIns[i], envAt{testExit, copyEnv(b.env), -1})
		nextB := b.newBlock()
		testExit.Term = &Branch{Cond: t, True: bodies[i], False: nextB}
		b.g.AddEdge(testExit, bodies[i], EdgeBranchTrue)
		b.g.AddEdge(testExit, nextB, EdgeBranchFalse)
		b.cur = nextB
	}
	// End of the chain: fall to the default body, or past the switch.
	chainExit := b.cur
	chainEnv := copyEnv(b.env)
	var afterIns []envAt
	if defaultIdx >= 0 {
		chainExit.Term = &Jmp{Target: bodies[defaultIdx]}
		b.g.AddEdge(chainExit, bodies[defaultIdx], EdgeUncond)
		bodyIns[defaultIdx] = append(bodyIns[defaultIdx], envAt{chainExit, chainEnv, -1})
	} else {
		chainExit.Term = &Jmp{Target: afterB}
		b.g.AddEdge(chainExit, afterB, EdgeUncond)
		afterIns = append(afterIns, envAt{chainExit, chainEnv, -1})
	}

	// Bodies in source order with fallthrough.
	for i, c := range s.Cases {
		ins := bodyIns[i]
		b.cur = bodies[i]
		if len(ins) == 0 {
			b.env = copyEnv(chainEnv)
		} else {
			b.env = b.mergeInto(bodies[i], ins)
		}
		if err := b.stmts(c.Body); err != nil {
			return err
		}
		if b.cur == nil {
			continue
		}
		out := envAt{b.cur, copyEnv(b.env), -1}
		if i+1 < len(s.Cases) {
			b.cur.Term = &Jmp{Target: bodies[i+1]}
			b.g.AddEdge(b.cur, bodies[i+1], EdgeUncond)
			bodyIns[i+1] = append(bodyIns[i+1], out)
		} else {
			b.cur.Term = &Jmp{Target: afterB}
			b.g.AddEdge(b.cur, afterB, EdgeUncond)
			afterIns = append(afterIns, out)
		}
	}

	afterIns = append(afterIns, b.loop.breakIns...)
	b.loop = b.loop.parent
	b.cur = afterB
	if len(afterIns) == 0 {
		b.env = chainEnv
	} else {
		b.env = b.mergeInto(afterB, afterIns)
	}
	return nil
}

func (b *builder) tryStmt(s *php.TryStmt) error {
	if len(s.Catches) == 0 {
		// A finally with no catch would need exception-path edges
		// into the finally body, which this graph cannot express.
		return &UnsupportedConstructError{"TryStmt (finally without catch)", s.Pos}
	}
	handler := b.newBlock()
	ts := &tryScope{parent: b.try, handler: handler, finally: s.Finally, depth: b.tryDepth + 1}
	b.try = ts
	b.tryDepth++
	err := b.stmts(s.Body)
	b.try = ts.parent
	b.tryDepth--
	if err != nil {
		return err
	}

	var contIns []envAt
	var outs []*BasicBlock
	if b.cur != nil {
		if err := b.buildFinally(s.Finally); err != nil {
			return err
		}
		if b.cur != nil {
			contIns = append(contIns, envAt{b.cur, copyEnv(b.env), -1})
			outs = append(outs, b.cur)
		}
	}

	// Handler: bind the in-flight exception, then dispatch over the
	// catch clauses by class.
	henv := b.mergeInto(handler, ts.raises)
	b.cur = handler
	b.env = henv
	exc := b.temp()
	b.append(&CatchBindStmt{Dest: exc})
	for _, c := range s.Catches {
		t := b.temp()
		b.append(&CallStmt{Dest: t, Func: "is_a", Args: []Value{exc, &StringConst{Value: c.Class}}})
		testExit := b.cur
		testEnv := copyEnv(b.env)
		clauseB := b.newBlock()
		nextB := b.newBlock()
		testExit.Term = &Branch{Cond: t, True: clauseB, False: nextB}
		b.g.AddEdge(testExit, clauseB, EdgeBranchTrue)
		b.g.AddEdge(testExit, nextB, EdgeBranchFalse)

		b.cur = clauseB
		b.env = copyEnv(testEnv)
		if c.Var != "" {
			cv := b.newVersion(c.Var)
			b.append(&CopyStmt{Dest: cv, Src: exc})
			b.env[c.Var] = cv
		}
		if err := b.stmts(c.Body); err != nil {
			return err
		}
		if b.cur != nil {
			if err := b.buildFinally(s.Finally); err != nil {
				return err
			}
			if b.cur != nil {
				contIns = append(contIns, envAt{b.cur, copyEnv(b.env), -1})
				outs = append(outs, b.cur)
			}
		}
		b.cur = nextB
		b.env = copyEnv(testEnv)
	}
	// No clause matched: rethrow to the enclosing handler, if any.
	b.throwValue(exc)

	cont := b.newBlock()
	for _, out := range outs {
		out.Term = &Jmp{Target: cont}
		b.g.AddEdge(out, cont, EdgeUncond)
	}
	b.cur = cont
	if len(contIns) == 0 {
		b.env = henv
	} else {
		b.env = b.mergeInto(cont, contIns)
	}
	return nil
}

func (b *builder) buildFinally(finally []php.Stmt) error {
	if len(finally) == 0 {
		return nil
	}
	return b.stmts(finally)
}

// enterLoopHeader creates a loop header block whose merges cover every
// variable currently in scope that the loop body may reassign, plus
// any extra synthetic names. Back edges add their incomings later via
// addLoopIncoming.
func (b *builder) enterLoopHeader(assigned map[string]bool) (*BasicBlock, map[string]*Variable) {
	pre := b.cur
	preEnv := b.env
	header := b.newBlock()
	pre.Term = &Jmp{Target: header}
	b.g.AddEdge(pre, header, EdgeUncond)

	names := make([]string, 0, len(preEnv)+len(assigned))
	seen := make(map[string]bool)
	for name := range preEnv {
		names = append(names, name)
		seen[name] = true
	}
	for name := range assigned {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	env := make(map[string]*Variable, len(names))
	for _, name := range names {
		src := preEnv[name]
		if !assigned[name] && src != nil {
			// Not reassigned in the body: the version is loop
			// invariant and needs no merge.
			env[name] = src
			continue
		}
		if src == nil {
			src = b.materializeNull(pre, name, -1)
		}
		res := b.newVersion(name)
		header.Merges = append(header.Merges, &Merge{
			Result:   res,
			Incoming: []MergeIncoming{{Pred: pre, Src: src, At: -1}},
		})
		env[name] = res
	}
	b.cur = header
	b.env = env
	return header, env
}

func (b *builder) addLoopIncoming(header *BasicBlock, in envAt) {
	for _, m := range header.Merges {
		src := in.env[m.Result.Name]
		if src == nil {
			mid := in.at >= 0 && in.at < len(in.pred.Stmts)
			src = b.materializeNull(in.pred, m.Result.Name, in.at)
			if mid {
				in.at++
			}
		}
		m.Incoming = append(m.Incoming, MergeIncoming{Pred: in.pred, Src: src, At: in.at})
	}
}

// mergeInto creates merge bindings in block for every variable whose
// incoming versions differ and returns the resulting environment.
func (b *builder) mergeInto(block *BasicBlock, ins []envAt) map[string]*Variable {
	if len(ins) == 0 {
		return make(map[string]*Variable)
	}
	if len(ins) == 1 {
		return copyEnv(ins[0].env)
	}
	nameSet := make(map[string]bool)
	for _, in := range ins {
		for name := range in.env {
			nameSet[name] = true
		}
	}
	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}
	sort.Strings(names)

	env := make(map[string]*Variable, len(names))
	for _, name := range names {
		same := true
		var first *Variable
		incoming := make([]MergeIncoming, 0, len(ins))
		for i := range ins {
			in := &ins[i]
			src := in.env[name]
			if src == nil {
				at := in.at
				mid := at >= 0 && at < len(in.pred.Stmts)
				src = b.materializeNull(in.pred, name, at)
				if mid {
					// ins may belong to a scope already popped
					// off the try chain; renumber it here.
					shiftEnvAts(ins, in.pred, at)
				}
			}
			if first == nil {
				first = src
			} else if src != first {
				same = false
			}
			incoming = append(incoming, MergeIncoming{Pred: in.pred, Src: src, At: in.at})
		}
		if same {
			env[name] = first
			continue
		}
		res := b.newVersion(name)
		block.Merges = append(block.Merges, &Merge{Result: res, Incoming: incoming})
		env[name] = res
	}
	return env
}

// materializeNull gives a variable a null definition on a path where
// it was never assigned, inserting the copy before the statement at
// index at (or at the block end for -1). A mid-block insertion shifts
// every later statement in pred, so all recorded raise points into
// pred are renumbered to keep pointing at their statements.
func (b *builder) materializeNull(pred *BasicBlock, name string, at int) *Variable {
	v := b.newVersion(name)
	copyStmt := &CopyStmt{Dest: v, Src: &NullConst{}}
	if at < 0 || at >= len(pred.Stmts) {
		pred.Stmts = append(pred.Stmts, copyStmt)
		return v
	}
	pred.Stmts = append(pred.Stmts[:at], append([]Stmt{copyStmt}, pred.Stmts[at:]...)...)
	b.shiftRaisePoints(pred, at)
	return v
}

// shiftRaisePoints renumbers every recorded statement index into pred
// at or after position at, after a statement was inserted there. Merge
// incomings already placed in the graph and the raise lists of open
// try and loop scopes all hold such indices.
func (b *builder) shiftRaisePoints(pred *BasicBlock, at int) {
	for _, blk := range b.g.Blocks {
		for _, m := range blk.Merges {
			for i := range m.Incoming {
				if m.Incoming[i].Pred == pred && m.Incoming[i].At >= at {
					m.Incoming[i].At++
				}
			}
		}
	}
	for ts := b.try; ts != nil; ts = ts.parent {
		shiftEnvAts(ts.raises, pred, at)
	}
	for ls := b.loop; ls != nil; ls = ls.parent {
		shiftEnvAts(ls.breakIns, pred, at)
		shiftEnvAts(ls.continueIns, pred, at)
	}
}

func shiftEnvAts(ins []envAt, pred *BasicBlock, at int) {
	for i := range ins {
		if ins[i].pred == pred && ins[i].at >= at {
			ins[i].at++
		}
	}
}

func (b *builder) readVar(name string) *Variable {
	if v, ok := b.env[name]; ok {
		return v
	}
	v := b.newVersion(name)
	b.append(&CopyStmt{Dest: v, Src: &NullConst{}})
	b.env[name] = v
	return v
}

func (b *builder) expr(e php.Expr) (Value, error) {
	switch e := e.(type) {
	case *php.IntLit:
		return &IntConst{Value: e.Value}, nil
	case *php.FloatLit:
		return &FloatConst{Value: e.Value}, nil
	case *php.BoolLit:
		return &BoolConst{Value: e.Value}, nil
	case *php.StringLit:
		return &StringConst{Value: e.Value}, nil
	case *php.NullLit:
		return &NullConst{}, nil
	case *php.ArrayLit:
		elems := make([]Value, len(e.Elems))
		for i, el := range e.Elems {
			v, err := b.expr(el)
			if err != nil {
				return nil, err
			}
			elems[i] = v
		}
		d := b.temp()
		b.append(&ArrayNewStmt{Dest: d, Elems: elems})
		return d, nil
	case *php.Var:
		return b.readVar(e.Name), nil
	case *php.UnaryExpr:
		x, err := b.expr(e.X)
		if err != nil {
			return nil, err
		}
		var op Op
		switch e.Op {
		case php.Neg:
			op = Neg
		case php.Not:
			op = Not
		default:
			return nil, &UnsupportedConstructError{"UnaryExpr", e.Pos}
		}
		d := b.temp()
		b.append(&UnStmt{Op: op, Dest: d, X: x})
		return d, nil
	case *php.BinaryExpr:
		if e.Op == php.BoolAnd || e.Op == php.BoolOr {
			return b.shortCircuit(e)
		}
		x, err := b.expr(e.X)
		if err != nil {
			return nil, err
		}
		y, err := b.expr(e.Y)
		if err != nil {
			return nil, err
		}
		op, ok := binaryOps[e.Op]
		if !ok {
			return nil, &UnsupportedConstructError{"BinaryExpr", e.Pos}
		}
		d := b.temp()
		b.append(&BinStmt{Op: op, Dest: d, X: x, Y: y})
		if op == Div || op == Mod {
			b.recordRaise()
		}
		return d, nil
	case *php.CallExpr:
		args := make([]Value, len(e.Args))
		for i, a := range e.Args {
			v, err := b.expr(a)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		d := b.temp()
		b.append(&CallStmt{Dest: d, Func: e.Func, Args: args})
		b.recordRaise()
		return d, nil
	case *php.NewExpr:
		args := make([]Value, len(e.Args))
		for i, a := range e.Args {
			v, err := b.expr(a)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		d := b.temp()
		b.append(&NewStmt{Dest: d, Class: e.Class, Args: args})
		b.recordRaise()
		return d, nil
	case *php.IndexExpr:
		arr, err := b.expr(e.X)
		if err != nil {
			return nil, err
		}
		idx, err := b.expr(e.Index)
		if err != nil {
			return nil, err
		}
		d := b.temp()
		b.append(&IndexStmt{Dest: d, Arr: arr, Index: idx})
		b.recordRaise()
		return d, nil
	case *php.ClosureExpr:
		byRef := false
		for _, use := range e.Uses {
			if use.ByRef {
				byRef = true
			}
		}
		b.g.UsesClosure = true
		if byRef {
			b.g.ClosureByRef = true
		}
		d := b.temp()
		b.append(&NewClosureStmt{Dest: d, ByRef: byRef})
		return d, nil
	}
	return nil, &UnsupportedConstructError{e.Kind(), e.Position()}
}

var binaryOps = map[php.BinaryOp]Op{
	php.Add:    Add,
	php.Sub:    Sub,
	php.Mul:    Mul,
	php.Div:    Div,
	php.Mod:    Mod,
	php.Concat: Concat,
	php.Eq:     Eq,
	php.Ne:     Ne,
	php.Lt:     Lt,
	php.Le:     Le,
	php.Gt:     Gt,
	php.Ge:     Ge,
}

// shortCircuit lowers && and || to control flow producing a merged
// boolean result.
func (b *builder) shortCircuit(e *php.BinaryExpr) (Value, error) {
	left, err := b.expr(e.X)
	if err != nil {
		return nil, err
	}
	condExit := b.cur
	condEnv := copyEnv(b.env)
	name := b.synthName("sc")

	evalB := b.newBlock()
	shortB := b.newBlock()
	if e.Op == php.BoolAnd {
		condExit.Term = &Branch{Cond: left, True: evalB, False: shortB}
		b.g.AddEdge(condExit, evalB, EdgeBranchTrue)
		b.g.AddEdge(condExit, shortB, EdgeBranchFalse)
	} else {
		condExit.Term = &Branch{Cond: left, True: shortB, False: evalB}
		b.g.AddEdge(condExit, shortB, EdgeBranchTrue)
		b.g.AddEdge(condExit, evalB, EdgeBranchFalse)
	}

	b.cur = evalB
	b.env = copyEnv(condEnv)
	right, err := b.expr(e.Y)
	if err != nil {
		return nil, err
	}
	rb := b.temp()
	b.append(&UnStmt{Op: Bool, Dest: rb, X: right})
	ev := b.newVersion(name)
	b.append(&CopyStmt{Dest: ev, Src: rb})
	b.env[name] = ev
	evalIn := envAt{b.cur, copyEnv(b.env), -1}
	evalOut := b.cur

	b.cur = shortB
	b.env = copyEnv(condEnv)
	sv := b.newVersion(name)
	b.append(&CopyStmt{Dest: sv, Src: &BoolConst{Value: e.Op == php.BoolOr}})
	b.env[name] = sv
	shortIn := envAt{shortB, copyEnv(b.env), -1}

	joinB := b.newBlock()
	evalOut.Term = &Jmp{Target: joinB}
	b.g.AddEdge(evalOut, joinB, EdgeUncond)
	shortB.Term = &Jmp{Target: joinB}
	b.g.AddEdge(shortB, joinB, EdgeUncond)
	b.cur = joinB
	b.env = b.mergeInto(joinB, []envAt{evalIn, shortIn})
	return b.env[name], nil
}

// assignedNames collects every variable name the statement list can
// assign, so loop headers can rename pessimistically.
func assignedNames(list []php.Stmt, names map[string]bool) map[string]bool {
	if names == nil {
		names = make(map[string]bool)
	}
	for _, s := range list {
		switch s := s.(type) {
		case *php.AssignStmt:
			names[s.Name] = true
		case *php.IfStmt:
			assignedNames(s.Then, names)
			assignedNames(s.Else, names)
		case *php.WhileStmt:
			assignedNames(s.Body, names)
		case *php.DoWhileStmt:
			assignedNames(s.Body, names)
		case *php.ForStmt:
			if s.Init != nil {
				assignedNames([]php.Stmt{s.Init}, names)
			}
			if s.Post != nil {
				assignedNames([]php.Stmt{s.Post}, names)
			}
			assignedNames(s.Body, names)
		case *php.ForeachStmt:
			if s.KeyVar != "" {
				names[s.KeyVar] = true
			}
			names[s.ValueVar] = true
			assignedNames(s.Body, names)
		case *php.SwitchStmt:
			for _, c := range s.Cases {
				assignedNames(c.Body, names)
			}
		case *php.TryStmt:
			assignedNames(s.Body, names)
			for _, c := range s.Catches {
				if c.Var != "" {
					names[c.Var] = true
				}
				assignedNames(c.Body, names)
			}
			assignedNames(s.Finally, names)
		case *php.GlobalStmt:
			for _, name := range s.Names {
				names[name] = true
			}
		}
	}
	return names
}

func copyEnv(env map[string]*Variable) map[string]*Variable {
	c := make(map[string]*Variable, len(env))
	for k, v := range env {
		c[k] = v
	}
	return c
}

func hintType(hint string) types.Type {
	switch hint {
	case "":
		return types.Any
	case "int":
		return types.Int
	case "float":
		return types.Float
	case "bool":
		return types.Bool
	case "string":
		return types.String
	case "array":
		return types.Array
	case "null":
		return types.Null
	}
	return types.Object(hint)
}
