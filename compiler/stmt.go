package compiler

import (
	"sort"

	"github.com/deicod/gojinja2/nodes"
	"github.com/deicod/gojinja2/value"
	"github.com/deicod/gojinja2/vm"
)

func (c *Compiler) compileStmt(n nodes.Node) error {
	switch s := n.(type) {
	case *nodes.Output:
		return c.compileOutput(s)
	case *nodes.Extends:
		return c.compileExtends(s)
	case *nodes.For:
		return c.compileFor(s)
	case *nodes.If:
		return c.compileIf(s)
	case *nodes.Macro:
		return c.compileMacro(s)
	case *nodes.CallBlock:
		return c.compileCallBlock(s)
	case *nodes.FilterBlock:
		return c.compileFilterBlock(s)
	case *nodes.Spaceless:
		return c.compileSpaceless(s)
	case *nodes.With:
		return c.compileWith(s)
	case *nodes.Namespace:
		return c.compileNamespace(s)
	case *nodes.Export:
		return c.compileExport(s)
	case *nodes.Trans:
		return c.compileTrans(s)
	case *nodes.Block:
		return c.compileBlock(s)
	case *nodes.Include:
		return c.compileInclude(s)
	case *nodes.Import:
		return c.compileImport(s)
	case *nodes.FromImport:
		return c.compileFromImport(s)
	case *nodes.ExprStmt:
		if err := c.compileExpr(s.Node); err != nil {
			return err
		}
		c.emit(vm.Instr{Op: vm.OpDiscardTop}, s.GetSpan())
		return nil
	case *nodes.Assign:
		return c.compileAssign(s.Target, s.GetSpan(), func() error { return c.compileExpr(s.Node) })
	case *nodes.AssignBlock:
		return c.compileAssignBlock(s)
	case *nodes.Do:
		if err := c.compileExpr(s.Expr); err != nil {
			return err
		}
		c.emit(vm.Instr{Op: vm.OpDiscardTop}, s.GetSpan())
		return nil
	case *nodes.Break:
		return c.compileBreak(s)
	case *nodes.Continue:
		return c.compileContinue(s)
	case *nodes.Scope:
		span := s.GetSpan()
		c.emit(vm.Instr{Op: vm.OpPushScope}, span)
		for _, sub := range s.Body {
			if err := c.compileStmt(sub); err != nil {
				return err
			}
		}
		c.emit(vm.Instr{Op: vm.OpPopScope}, span)
		return nil
	case *nodes.ScopedEvalContextModifier:
		return c.compileScopedEvalContextModifier(s)
	default:
		return c.errf(n.GetSpan(), "compiler: unsupported statement node "+n.Type())
	}
}

func (c *Compiler) compileOutput(n *nodes.Output) error {
	for _, sub := range n.Nodes {
		span := sub.GetSpan()
		if td, ok := sub.(*nodes.TemplateData); ok {
			c.emit(vm.Instr{Op: vm.OpEmitRaw, Str: td.Data}, span)
			continue
		}
		if err := c.compileExpr(sub); err != nil {
			return err
		}
		c.emit(vm.Instr{Op: vm.OpEmit}, span)
	}
	return nil
}

func (c *Compiler) compileExtends(n *nodes.Extends) error {
	span := n.GetSpan()
	if err := c.compileExpr(n.Template); err != nil {
		return err
	}
	c.emit(vm.Instr{Op: vm.OpLoadBlocks}, span)
	return nil
}

// flatNames reduces a for-loop target to the flat list of names the VM's
// bindLoopVars understands: a bare name, or a tuple of bare names.
// Nested tuple targets (`for (a, b), c in ...`) are not supported.
func (c *Compiler) flatNames(target nodes.Expr, span nodes.Span) ([]string, error) {
	switch t := target.(type) {
	case *nodes.Name:
		return []string{t.Name}, nil
	case *nodes.Tuple:
		names := make([]string, 0, len(t.Items))
		for _, item := range t.Items {
			nm, ok := item.(*nodes.Name)
			if !ok {
				return nil, c.errf(span, "for-loop target supports only plain names or tuples of names")
			}
			names = append(names, nm.Name)
		}
		return names, nil
	}
	return nil, c.errf(span, "invalid for-loop target")
}

func (c *Compiler) compileFor(n *nodes.For) error {
	span := n.GetSpan()
	if err := c.compileExpr(n.Iter); err != nil {
		return err
	}
	names, err := c.flatNames(n.Target, span)
	if err != nil {
		return err
	}

	bodyKey := c.gensym("forbody")
	body := vm.New(bodyKey)
	if err := c.compileForBody(body, n); err != nil {
		return err
	}
	c.cur.Macros[bodyKey] = body

	// The optional `if` filter compiles into its own unit under
	// "<bodyKey>.filter": the VM evaluates it per candidate item with the
	// loop variable(s) bound and drops failing items before the loop
	// state is built, so loop.index/length/first/last reflect only the
	// surviving items.
	if n.Test != nil {
		filterKey := bodyKey + ".filter"
		filterUnit := vm.New(filterKey)
		savedCur := c.cur
		c.cur = filterUnit
		err := c.compileExpr(n.Test)
		c.cur = savedCur
		if err != nil {
			return err
		}
		c.cur.Macros[filterKey] = filterUnit
	}

	instr := vm.Instr{Op: vm.OpPushLoop, Name: bodyKey, Aux: names}
	if len(n.Else) > 0 {
		elseKey := c.gensym("forelse")
		elseBody := vm.New(elseKey)
		if err := c.compileDetached(elseBody, n.Else); err != nil {
			return err
		}
		c.cur.Macros[elseKey] = elseBody
		instr.Str = elseKey
	}
	c.emit(instr, span)
	return nil
}

// compileForBody compiles a for-loop's body into its own Instructions
// unit with a fresh, single-entry loop stack; `{% continue %}` patches
// to the end-of-body label. The `if` filter is not part of the body —
// it compiles into a separate unit evaluated before an item enters the
// loop (see compileFor).
func (c *Compiler) compileForBody(unit *vm.Instructions, n *nodes.For) error {
	savedCur, savedLoop := c.cur, c.loopStack
	ctx := &loopCompileCtx{}
	c.cur, c.loopStack = unit, []*loopCompileCtx{ctx}

	restore := func() { c.cur, c.loopStack = savedCur, savedLoop }

	for _, s := range n.Body {
		if err := c.compileStmt(s); err != nil {
			restore()
			return err
		}
	}
	end := c.here()
	for _, idx := range ctx.continueJumps {
		c.patch(idx, end)
	}
	restore()
	return nil
}

func (c *Compiler) compileIf(n *nodes.If) error {
	span := n.GetSpan()
	chain := append([]*nodes.If{n}, n.Elif...)
	var endJumps []int
	for _, node := range chain {
		if err := c.compileExpr(node.Test); err != nil {
			return err
		}
		elseJump := c.emit(vm.Instr{Op: vm.OpJumpIfFalse}, span)
		for _, s := range node.Body {
			if err := c.compileStmt(s); err != nil {
				return err
			}
		}
		endJumps = append(endJumps, c.emit(vm.Instr{Op: vm.OpJump}, span))
		c.patch(elseJump, c.here())
	}
	if elseBody := chain[len(chain)-1].Else; len(elseBody) > 0 {
		for _, s := range elseBody {
			if err := c.compileStmt(s); err != nil {
				return err
			}
		}
	}
	end := c.here()
	for _, idx := range endJumps {
		c.patch(idx, end)
	}
	return nil
}

func (c *Compiler) compileMacro(n *nodes.Macro) error {
	span := n.GetSpan()
	bodyKey, paramNames, err := c.compileSubBody("macro", n.Body)
	if err != nil {
		return err
	}
	for _, d := range n.Defaults {
		if err := c.compileExpr(d); err != nil {
			return err
		}
	}
	_ = paramNames
	aux := make([]string, 0, len(n.Args)+1)
	for _, a := range n.Args {
		aux = append(aux, a.Name)
	}
	if n.KwArg != nil {
		aux = append(aux, "**"+n.KwArg.Name)
	}
	varargs := ""
	if n.VarArg != nil {
		varargs = n.VarArg.Name
	}
	c.emit(vm.Instr{Op: vm.OpBuildMacro, Name: bodyKey, A: len(n.Defaults), Aux: aux, Str: varargs}, span)
	c.emit(vm.Instr{Op: vm.OpStoreLocal, Name: n.Name}, span)
	return nil
}

// compileSubBody compiles stmts into a freshly named, detached
// Instructions unit registered under c.cur.Macros, returning its key.
func (c *Compiler) compileSubBody(prefix string, stmts []nodes.Node) (string, []string, error) {
	key := c.gensym(prefix)
	unit := vm.New(key)
	if err := c.compileDetached(unit, stmts); err != nil {
		return "", nil, err
	}
	c.cur.Macros[key] = unit
	return key, nil, nil
}

// compileCallBlock compiles `{% call(args) macro(call_args) %}...{%
// endcall %}`. The caller body becomes a synthetic macro the invoked
// macro can re-enter via `caller()`; the invocation itself always uses
// the plain OpCall path (never the Getattr-on-Call method optimization)
// since the callee here is always a bare macro reference. The result is
// emitted, since a call block renders like `{{ macro(...) }}`.
func (c *Compiler) compileCallBlock(n *nodes.CallBlock) error {
	span := n.GetSpan()
	callerKey, _, err := c.compileSubBody("caller", n.Body)
	if err != nil {
		return err
	}
	callerParams := make([]string, 0, len(n.Args))
	for _, a := range n.Args {
		callerParams = append(callerParams, a.Name)
	}

	if err := c.compileExpr(n.Call.Node); err != nil {
		return err
	}
	argc, hasKwargs, err := c.compileCallOperands(n.Call.Args, n.Call.Kwargs, n.Call.DynArgs, n.Call.DynKwargs, span)
	if err != nil {
		return err
	}
	aux := append([]string{callerKey}, callerParams...)
	c.emit(vm.Instr{Op: vm.OpCall, A: argc, Flag: hasKwargs, B: 1, Aux: aux}, span)
	c.emit(vm.Instr{Op: vm.OpEmit}, span)
	return nil
}

func (c *Compiler) compileFilterBlock(n *nodes.FilterBlock) error {
	span := n.GetSpan()
	c.emit(vm.Instr{Op: vm.OpPushCapture}, span)
	for _, s := range n.Body {
		if err := c.compileStmt(s); err != nil {
			return err
		}
	}
	c.emit(vm.Instr{Op: vm.OpPopCapture, Flag: true}, span)
	if err := c.compileFilterLike(n.Filter, span); err != nil {
		return err
	}
	c.emit(vm.Instr{Op: vm.OpEmit}, span)
	return nil
}

// compileSpaceless captures its body's rendered output and runs it
// through a hidden filter that collapses inter-tag whitespace, rather
// than threading a new VM primitive through the render path for what is
// ultimately a string transform.
func (c *Compiler) compileSpaceless(n *nodes.Spaceless) error {
	span := n.GetSpan()
	c.emit(vm.Instr{Op: vm.OpPushCapture}, span)
	for _, s := range n.Body {
		if err := c.compileStmt(s); err != nil {
			return err
		}
	}
	c.emit(vm.Instr{Op: vm.OpPopCapture, Flag: true}, span)
	c.emit(vm.Instr{Op: vm.OpApplyFilter, Name: "__spaceless", A: 0}, span)
	c.emit(vm.Instr{Op: vm.OpEmit}, span)
	return nil
}

func (c *Compiler) compileWith(n *nodes.With) error {
	span := n.GetSpan()
	c.emit(vm.Instr{Op: vm.OpPushScope}, span)
	for i, target := range n.Targets {
		val := n.Values[i]
		if err := c.compileAssign(target, span, func() error { return c.compileExpr(val) }); err != nil {
			return err
		}
	}
	for _, s := range n.Body {
		if err := c.compileStmt(s); err != nil {
			return err
		}
	}
	c.emit(vm.Instr{Op: vm.OpPopScope}, span)
	return nil
}

func (c *Compiler) compileNamespace(n *nodes.Namespace) error {
	span := n.GetSpan()
	c.emit(vm.Instr{Op: vm.OpPushScope}, span)
	if n.Value != nil {
		if err := c.compileExpr(n.Value); err != nil {
			return err
		}
	} else {
		c.emit(vm.Instr{Op: vm.OpLookup, Name: "namespace"}, span)
		c.emit(vm.Instr{Op: vm.OpCall, A: 0}, span)
	}
	c.emit(vm.Instr{Op: vm.OpStoreLocal, Name: n.Name}, span)
	for _, s := range n.Body {
		if err := c.compileStmt(s); err != nil {
			return err
		}
	}
	c.emit(vm.Instr{Op: vm.OpPopScope}, span)
	return nil
}

func (c *Compiler) compileExport(n *nodes.Export) error {
	span := n.GetSpan()
	for _, nm := range n.Names {
		c.emit(vm.Instr{Op: vm.OpExportLocal, Name: nm.Name}, span)
	}
	return nil
}

// compileTrans compiles `{% trans %}`/`{% blocktrans %}` without a
// message-catalog backend: variables and the count bind into a pushed
// scope, and a count==1 check selects singular vs. plural body. Gettext
// lookup is out of scope for a template-engine core.
func (c *Compiler) compileTrans(n *nodes.Trans) error {
	span := n.GetSpan()
	c.emit(vm.Instr{Op: vm.OpPushScope}, span)

	names := make([]string, 0, len(n.Variables))
	for name := range n.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := c.compileExpr(n.Variables[name]); err != nil {
			return err
		}
		c.emit(vm.Instr{Op: vm.OpStoreLocal, Name: name}, span)
	}

	countName := n.CountName
	if countName == "" {
		countName = "count"
	}
	if n.CountExpr != nil {
		if err := c.compileExpr(n.CountExpr); err != nil {
			return err
		}
		c.emit(vm.Instr{Op: vm.OpStoreLocal, Name: countName}, span)
	}

	if n.CountExpr != nil && len(n.Plural) > 0 {
		c.emit(vm.Instr{Op: vm.OpLookup, Name: countName}, span)
		c.emit(vm.Instr{Op: vm.OpLoadConst, A: c.addConst(value.Int(1))}, span)
		c.emit(vm.Instr{Op: vm.OpEq}, span)
		jfalse := c.emit(vm.Instr{Op: vm.OpJumpIfFalse}, span)
		for _, s := range n.Singular {
			if err := c.compileStmt(s); err != nil {
				return err
			}
		}
		jend := c.emit(vm.Instr{Op: vm.OpJump}, span)
		c.patch(jfalse, c.here())
		for _, s := range n.Plural {
			if err := c.compileStmt(s); err != nil {
				return err
			}
		}
		c.patch(jend, c.here())
	} else {
		for _, s := range n.Singular {
			if err := c.compileStmt(s); err != nil {
				return err
			}
		}
	}
	c.emit(vm.Instr{Op: vm.OpPopScope}, span)
	return nil
}

func (c *Compiler) compileBlock(n *nodes.Block) error {
	span := n.GetSpan()
	unit := vm.New("block:" + n.Name)
	if err := c.compileDetached(unit, n.Body); err != nil {
		return err
	}
	c.root.Blocks[n.Name] = unit
	c.emit(vm.Instr{Op: vm.OpCallBlock, Name: n.Name}, span)
	return nil
}

func (c *Compiler) compileInclude(n *nodes.Include) error {
	span := n.GetSpan()
	if err := c.compileExpr(n.Template); err != nil {
		return err
	}
	withCtx := 0
	if n.WithContext {
		withCtx = 1
	}
	c.emit(vm.Instr{Op: vm.OpIncludeTemplate, B: withCtx, Flag: n.IgnoreMissing}, span)
	return nil
}

func (c *Compiler) compileImport(n *nodes.Import) error {
	span := n.GetSpan()
	if err := c.compileExpr(n.Template); err != nil {
		return err
	}
	withCtx := 0
	if n.WithContext {
		withCtx = 1
	}
	c.emit(vm.Instr{Op: vm.OpImport, B: withCtx}, span)
	c.emit(vm.Instr{Op: vm.OpStoreLocal, Name: n.Target}, span)
	return nil
}

func (c *Compiler) compileFromImport(n *nodes.FromImport) error {
	span := n.GetSpan()
	if err := c.compileExpr(n.Template); err != nil {
		return err
	}
	withCtx := 0
	if n.WithContext {
		withCtx = 1
	}
	c.emit(vm.Instr{Op: vm.OpImport, B: withCtx}, span)
	tmp := c.gensym("frommodule")
	c.emit(vm.Instr{Op: vm.OpStoreLocal, Name: tmp}, span)
	for _, imp := range n.Names {
		c.emit(vm.Instr{Op: vm.OpLookup, Name: tmp}, span)
		c.emit(vm.Instr{Op: vm.OpGetAttr, Name: imp.Name}, span)
		target := imp.Name
		if imp.Alias != "" {
			target = imp.Alias
		}
		c.emit(vm.Instr{Op: vm.OpStoreLocal, Name: target}, span)
	}
	return nil
}

// compileAssignBlock handles both `{% filter %}`-less `{% set x
// %}...{% endset %}` and its filtered form. The target is restricted to
// a name or tuple: by the time the captured value is on the stack, an
// attribute or namespace-ref target's base would already have needed to
// be evaluated first, which this statement's syntax has no slot for.
func (c *Compiler) compileAssignBlock(n *nodes.AssignBlock) error {
	span := n.GetSpan()
	switch n.Target.(type) {
	case *nodes.Name, *nodes.Tuple:
	default:
		return c.errf(span, "set...endset target must be a name or tuple")
	}
	c.emit(vm.Instr{Op: vm.OpPushCapture}, span)
	for _, s := range n.Body {
		if err := c.compileStmt(s); err != nil {
			return err
		}
	}
	c.emit(vm.Instr{Op: vm.OpPopCapture, Flag: true}, span)
	if n.Filter != nil {
		if err := c.compileFilterLike(n.Filter, span); err != nil {
			return err
		}
	}
	return c.compileAssign(n.Target, span, func() error { return nil })
}

func (c *Compiler) compileBreak(n *nodes.Break) error {
	if len(c.loopStack) == 0 {
		return c.errf(n.GetSpan(), "'break' outside of a loop")
	}
	c.emit(vm.Instr{Op: vm.OpBreakLoop}, n.GetSpan())
	return nil
}

func (c *Compiler) compileContinue(n *nodes.Continue) error {
	if len(c.loopStack) == 0 {
		return c.errf(n.GetSpan(), "'continue' outside of a loop")
	}
	ctx := c.loopStack[len(c.loopStack)-1]
	idx := c.emit(vm.Instr{Op: vm.OpJump}, n.GetSpan())
	ctx.continueJumps = append(ctx.continueJumps, idx)
	return nil
}

// compileScopedEvalContextModifier handles the one shape the parser ever
// builds: `{% autoescape expr %}...{% endautoescape %}`, wrapped by
// ParseAutoescape into a Scope{[ScopedEvalContextModifier{...}]}. Any
// other option name is ignored — EvalContextModifier has no other
// documented use in this grammar.
func (c *Compiler) compileScopedEvalContextModifier(n *nodes.ScopedEvalContextModifier) error {
	span := n.GetSpan()
	var autoescapeExpr nodes.Expr
	for _, opt := range n.Options {
		if opt.Key == "autoescape" {
			autoescapeExpr = opt.Value
		}
	}
	if autoescapeExpr == nil {
		for _, s := range n.Body {
			if err := c.compileStmt(s); err != nil {
				return err
			}
		}
		return nil
	}
	if err := c.compileExpr(autoescapeExpr); err != nil {
		return err
	}
	c.emit(vm.Instr{Op: vm.OpPushAutoEscape}, span)
	for _, s := range n.Body {
		if err := c.compileStmt(s); err != nil {
			return err
		}
	}
	c.emit(vm.Instr{Op: vm.OpPopAutoEscape}, span)
	return nil
}
