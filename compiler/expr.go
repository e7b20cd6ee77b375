package compiler

import (
	"errors"

	"github.com/deicod/gojinja2/nodes"
	"github.com/deicod/gojinja2/value"
	"github.com/deicod/gojinja2/vm"
)

func (c *Compiler) compileExpr(e nodes.Expr) error {
	span := e.GetSpan()
	switch n := e.(type) {
	case *nodes.Name:
		c.emit(vm.Instr{Op: vm.OpLookup, Name: n.Name}, span)
		return nil

	case *nodes.Const:
		v, err := constOf(n.Value)
		if err != nil {
			return c.errf(span, err.Error())
		}
		c.emit(vm.Instr{Op: vm.OpLoadConst, A: c.addConst(v)}, span)
		return nil

	case *nodes.TemplateData:
		c.emit(vm.Instr{Op: vm.OpLoadConst, A: c.addConst(value.SafeString(n.Data))}, span)
		return nil

	case *nodes.Tuple:
		for _, item := range n.Items {
			if err := c.compileExpr(item); err != nil {
				return err
			}
		}
		c.emit(vm.Instr{Op: vm.OpBuildList, A: len(n.Items)}, span)
		return nil

	case *nodes.List:
		for _, item := range n.Items {
			if err := c.compileExpr(item); err != nil {
				return err
			}
		}
		c.emit(vm.Instr{Op: vm.OpBuildList, A: len(n.Items)}, span)
		return nil

	case *nodes.Dict:
		for _, p := range n.Items {
			if err := c.compileExpr(p.Key); err != nil {
				return err
			}
			if err := c.compileExpr(p.Value); err != nil {
				return err
			}
		}
		c.emit(vm.Instr{Op: vm.OpBuildMap, A: len(n.Items)}, span)
		return nil

	case *nodes.Getattr:
		if err := c.compileExpr(n.Node); err != nil {
			return err
		}
		c.emit(vm.Instr{Op: vm.OpGetAttr, Name: n.Attr}, span)
		return nil

	case *nodes.Getitem:
		if err := c.compileExpr(n.Node); err != nil {
			return err
		}
		if sl, ok := n.Arg.(*nodes.Slice); ok {
			if err := c.compileSliceBound(sl.Start, span); err != nil {
				return err
			}
			if err := c.compileSliceBound(sl.Stop, span); err != nil {
				return err
			}
			if err := c.compileSliceBound(sl.Step, span); err != nil {
				return err
			}
			c.emit(vm.Instr{Op: vm.OpSlice}, span)
			return nil
		}
		if err := c.compileExpr(n.Arg); err != nil {
			return err
		}
		c.emit(vm.Instr{Op: vm.OpGetItem}, span)
		return nil

	case *nodes.CondExpr:
		if err := c.compileExpr(n.Test); err != nil {
			return err
		}
		jfalse := c.emit(vm.Instr{Op: vm.OpJumpIfFalse}, span)
		if err := c.compileExpr(n.Expr1); err != nil {
			return err
		}
		jend := c.emit(vm.Instr{Op: vm.OpJump}, span)
		c.patch(jfalse, c.here())
		if n.Expr2 != nil {
			if err := c.compileExpr(n.Expr2); err != nil {
				return err
			}
		} else {
			c.emit(vm.Instr{Op: vm.OpLoadConst, A: c.addConst(value.Undefined)}, span)
		}
		c.patch(jend, c.here())
		return nil

	case *nodes.MarkSafe:
		if err := c.compileExpr(n.Expr); err != nil {
			return err
		}
		c.emit(vm.Instr{Op: vm.OpApplyFilter, Name: "safe", A: 0}, span)
		return nil

	case *nodes.MarkSafeIfAutoescape:
		if err := c.compileExpr(n.Expr); err != nil {
			return err
		}
		c.emit(vm.Instr{Op: vm.OpApplyFilter, Name: "__mark_safe_if_autoescape", A: 0}, span)
		return nil

	case *nodes.Concat:
		if len(n.Nodes) == 0 {
			c.emit(vm.Instr{Op: vm.OpLoadConst, A: c.addConst(value.String(""))}, span)
			return nil
		}
		if err := c.compileExpr(n.Nodes[0]); err != nil {
			return err
		}
		for _, sub := range n.Nodes[1:] {
			if err := c.compileExpr(sub); err != nil {
				return err
			}
			c.emit(vm.Instr{Op: vm.OpStringConcat}, span)
		}
		return nil

	case *nodes.Compare:
		return c.compileCompare(n, span)

	case *nodes.And:
		if err := c.compileExpr(n.Left); err != nil {
			return err
		}
		j := c.emit(vm.Instr{Op: vm.OpJumpIfFalseOrPop}, span)
		if err := c.compileExpr(n.Right); err != nil {
			return err
		}
		c.patch(j, c.here())
		return nil

	case *nodes.Or:
		if err := c.compileExpr(n.Left); err != nil {
			return err
		}
		j := c.emit(vm.Instr{Op: vm.OpJumpIfTrueOrPop}, span)
		if err := c.compileExpr(n.Right); err != nil {
			return err
		}
		c.patch(j, c.here())
		return nil

	case *nodes.Not:
		if err := c.compileExpr(n.Node); err != nil {
			return err
		}
		c.emit(vm.Instr{Op: vm.OpNot}, span)
		return nil

	case *nodes.Neg:
		if err := c.compileExpr(n.Node); err != nil {
			return err
		}
		c.emit(vm.Instr{Op: vm.OpNeg}, span)
		return nil

	case *nodes.Pos:
		return c.compileExpr(n.Node)

	case *nodes.Mul:
		return c.compileBinArith(n.Left, n.Right, vm.OpMul, span)
	case *nodes.Div:
		return c.compileBinArith(n.Left, n.Right, vm.OpDiv, span)
	case *nodes.FloorDiv:
		return c.compileBinArith(n.Left, n.Right, vm.OpFloorDiv, span)
	case *nodes.Add:
		return c.compileBinArith(n.Left, n.Right, vm.OpAdd, span)
	case *nodes.Sub:
		return c.compileBinArith(n.Left, n.Right, vm.OpSub, span)
	case *nodes.Mod:
		return c.compileBinArith(n.Left, n.Right, vm.OpRem, span)
	case *nodes.Pow:
		return c.compileBinArith(n.Left, n.Right, vm.OpPow, span)

	case *nodes.Call:
		return c.compileCall(n, span)

	case *nodes.Filter:
		return c.compileFilterLike(n, span)

	case *nodes.Test:
		return c.compileTestExpr(n, span)

	case *nodes.NSRef:
		c.emit(vm.Instr{Op: vm.OpLookup, Name: n.Name}, span)
		c.emit(vm.Instr{Op: vm.OpGetAttr, Name: n.Attr}, span)
		return nil
	}

	return c.errf(span, "compiler: unsupported expression node "+e.Type())
}

func (c *Compiler) compileSliceBound(e nodes.Expr, span nodes.Span) error {
	if e == nil {
		c.emit(vm.Instr{Op: vm.OpLoadConst, A: c.addConst(value.Undefined)}, span)
		return nil
	}
	return c.compileExpr(e)
}

func (c *Compiler) compileBinArith(left, right nodes.Expr, op vm.Op, span nodes.Span) error {
	if err := c.compileExpr(left); err != nil {
		return err
	}
	if err := c.compileExpr(right); err != nil {
		return err
	}
	c.emit(vm.Instr{Op: op}, span)
	return nil
}

// compileCompare compiles a chained comparison (`a < b < c`) with
// short-circuit AND semantics via OpJumpIfFalseOrPop. Since the VM has
// no stack-rotate primitive to duplicate an intermediate operand, each
// link after the first re-evaluates its left operand's source
// expression rather than reusing a pushed copy — harmless unless that
// expression has side effects, which plain comparison operands never do
// in this grammar (name/literal/attribute chains).
func (c *Compiler) compileCompare(n *nodes.Compare, span nodes.Span) error {
	left := n.Expr
	if err := c.compileExpr(left); err != nil {
		return err
	}
	var endJumps []int
	for i, op := range n.Ops {
		if err := c.compileExpr(op.Expr); err != nil {
			return err
		}
		if err := c.emitCompareOp(op.Op, span); err != nil {
			return err
		}
		if i < len(n.Ops)-1 {
			endJumps = append(endJumps, c.emit(vm.Instr{Op: vm.OpJumpIfFalseOrPop}, span))
			if err := c.compileExpr(op.Expr); err != nil {
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

func (c *Compiler) emitCompareOp(op string, span nodes.Span) error {
	switch op {
	case "eq":
		c.emit(vm.Instr{Op: vm.OpEq}, span)
	case "ne":
		c.emit(vm.Instr{Op: vm.OpNe}, span)
	case "lt":
		c.emit(vm.Instr{Op: vm.OpLt}, span)
	case "lteq":
		c.emit(vm.Instr{Op: vm.OpLte}, span)
	case "gt":
		c.emit(vm.Instr{Op: vm.OpGt}, span)
	case "gteq":
		c.emit(vm.Instr{Op: vm.OpGte}, span)
	case "in":
		c.emit(vm.Instr{Op: vm.OpIn}, span)
	case "notin":
		c.emit(vm.Instr{Op: vm.OpIn}, span)
		c.emit(vm.Instr{Op: vm.OpNot}, span)
	default:
		return c.errf(span, "unknown comparison operator "+op)
	}
	return nil
}

// compileCallOperands compiles a call's argument list, pushing
// positional args first and then, if there are any keyword arguments,
// an OpBuildKwargs map; if dynKwargs is also present its map is merged
// in via OpMergeKwargs so a **mapping spread composes with literal
// keyword arguments. hasKwargs reports whether a kwargs map ends up on
// the stack at all (callers emit it as the instruction's trailing
// operand). Positional splatting (*args at a call site) has no opcode
// to splice a runtime sequence into the positional list, so it is
// rejected rather than silently dropped.
func (c *Compiler) compileCallOperands(args []nodes.Expr, kwargs []*nodes.Keyword, dynArgs, dynKwargs nodes.Expr, span nodes.Span) (int, bool, error) {
	if dynArgs != nil {
		return 0, false, c.errf(span, "*args call-site spreading is not supported")
	}
	for _, a := range args {
		if err := c.compileExpr(a); err != nil {
			return 0, false, err
		}
	}
	if len(kwargs) == 0 && dynKwargs == nil {
		return len(args), false, nil
	}
	for _, kw := range kwargs {
		c.emit(vm.Instr{Op: vm.OpLoadConst, A: c.addConst(value.String(kw.Key))}, span)
		if err := c.compileExpr(kw.Value); err != nil {
			return 0, false, err
		}
	}
	c.emit(vm.Instr{Op: vm.OpBuildKwargs, A: len(kwargs)}, span)
	if dynKwargs != nil {
		if err := c.compileExpr(dynKwargs); err != nil {
			return 0, false, err
		}
		c.emit(vm.Instr{Op: vm.OpMergeKwargs, A: 2}, span)
	}
	return len(args), true, nil
}

func (c *Compiler) compileCall(n *nodes.Call, span nodes.Span) error {
	if name, ok := n.Node.(*nodes.Name); ok && name.Name == "super" &&
		len(n.Kwargs) == 0 && n.DynArgs == nil && n.DynKwargs == nil {
		switch len(n.Args) {
		case 0:
			c.emit(vm.Instr{Op: vm.OpFastSuper}, span)
			return nil
		case 1:
			// super('header') renders the parent chain's version of the
			// named block, which need not be the block currently running.
			if konst, ok := n.Args[0].(*nodes.Const); ok {
				if blockName, ok := konst.Value.(string); ok {
					c.emit(vm.Instr{Op: vm.OpFastSuper, Name: blockName}, span)
					return nil
				}
			}
			return c.errf(span, "super() argument must be a string literal block name")
		}
	}
	if ga, ok := n.Node.(*nodes.Getattr); ok {
		if err := c.compileExpr(ga.Node); err != nil {
			return err
		}
		argc, hasKwargs, err := c.compileCallOperands(n.Args, n.Kwargs, n.DynArgs, n.DynKwargs, span)
		if err != nil {
			return err
		}
		c.emit(vm.Instr{Op: vm.OpCallMethod, Name: ga.Attr, A: argc, Flag: hasKwargs}, span)
		return nil
	}
	if err := c.compileExpr(n.Node); err != nil {
		return err
	}
	argc, hasKwargs, err := c.compileCallOperands(n.Args, n.Kwargs, n.DynArgs, n.DynKwargs, span)
	if err != nil {
		return err
	}
	c.emit(vm.Instr{Op: vm.OpCall, A: argc, Flag: hasKwargs}, span)
	return nil
}

// pairsToKeywords recovers the keyword name from a Filter/Test node's
// Kwargs, which the parser stores as []*nodes.Pair with Key always a
// *nodes.Const wrapping the keyword's string name (see
// parser.parseFilterInternal / parseTest) rather than the []*nodes.Keyword
// shape a plain Call uses.
func pairsToKeywords(pairs []*nodes.Pair) ([]*nodes.Keyword, error) {
	out := make([]*nodes.Keyword, 0, len(pairs))
	for _, p := range pairs {
		k, ok := p.Key.(*nodes.Const)
		if !ok {
			return nil, errors.New("filter/test keyword argument has a non-constant name")
		}
		name, ok := k.Value.(string)
		if !ok {
			return nil, errors.New("filter/test keyword argument name is not a string")
		}
		out = append(out, &nodes.Keyword{Key: name, Value: p.Value})
	}
	return out, nil
}

func (c *Compiler) compileFilterLike(n *nodes.Filter, span nodes.Span) error {
	if n.Node != nil {
		if err := c.compileExpr(n.Node); err != nil {
			return err
		}
	}
	kwargs, err := pairsToKeywords(n.Kwargs)
	if err != nil {
		return c.errf(span, err.Error())
	}
	argc, hasKwargs, err := c.compileCallOperands(n.Args, kwargs, n.DynArgs, n.DynKwargs, span)
	if err != nil {
		return err
	}
	c.emit(vm.Instr{Op: vm.OpApplyFilter, Name: n.Name, A: argc, Flag: hasKwargs}, span)
	return nil
}

// compileTestExpr compiles `is`/`is not` tests. The VM's execTest always
// calls the registered test function with nil kwargs, so keyword
// arguments on a test (syntactically legal per FilterTestCommon, never
// exercised by any built-in Jinja test) are rejected at compile time
// instead of being silently dropped.
func (c *Compiler) compileTestExpr(n *nodes.Test, span nodes.Span) error {
	if len(n.Kwargs) > 0 || n.DynKwargs != nil {
		return c.errf(span, "tests do not support keyword arguments")
	}
	if n.Node != nil {
		if err := c.compileExpr(n.Node); err != nil {
			return err
		}
	}
	if n.DynArgs != nil {
		return c.errf(span, "*args spreading is not supported in test arguments")
	}
	for _, a := range n.Args {
		if err := c.compileExpr(a); err != nil {
			return err
		}
	}
	c.emit(vm.Instr{Op: vm.OpPerformTest, Name: n.Name, A: len(n.Args)}, span)
	return nil
}

// compileAssign dispatches to compileStoreTarget, the shared recursive
// implementation for both `{% set %}` and `{% with %}`'s bindings.
func (c *Compiler) compileAssign(target nodes.Expr, span nodes.Span, loadValue func() error) error {
	return c.compileStoreTarget(target, span, loadValue)
}

// compileStoreTarget compiles an assignment to target. loadValue must
// push exactly one value — the value being assigned — onto the stack
// at the point it is called. Attribute and item targets whose base is a
// bare name go through the __setattr/__setitem intrinsics and re-bind
// the name to the result, so they work uniformly for mutable namespace
// objects and for immutable maps/sequences (replaced rather than
// mutated). Attribute targets with a computed base fall back to
// OpStoreAttr, which requires an in-place-settable object; item targets
// with a computed base have nothing to re-bind and are rejected.
func (c *Compiler) compileStoreTarget(target nodes.Expr, span nodes.Span, loadValue func() error) error {
	rebind := func(baseName string, pushKey func() error) error {
		c.emit(vm.Instr{Op: vm.OpLookup, Name: baseName}, span)
		if err := pushKey(); err != nil {
			return err
		}
		if err := loadValue(); err != nil {
			return err
		}
		op := "__setitem"
		if _, isAttr := target.(*nodes.Getattr); isAttr {
			op = "__setattr"
		}
		if _, isNS := target.(*nodes.NSRef); isNS {
			op = "__setattr"
		}
		c.emit(vm.Instr{Op: vm.OpApplyFilter, Name: op, A: 2}, span)
		c.emit(vm.Instr{Op: vm.OpStoreLocal, Name: baseName}, span)
		return nil
	}

	switch t := target.(type) {
	case *nodes.Name:
		if err := loadValue(); err != nil {
			return err
		}
		c.emit(vm.Instr{Op: vm.OpStoreLocal, Name: t.Name}, span)
		return nil

	case *nodes.NSRef:
		return rebind(t.Name, func() error {
			c.emit(vm.Instr{Op: vm.OpLoadConst, A: c.addConst(value.String(t.Attr))}, span)
			return nil
		})

	case *nodes.Getattr:
		if base, ok := t.Node.(*nodes.Name); ok {
			return rebind(base.Name, func() error {
				c.emit(vm.Instr{Op: vm.OpLoadConst, A: c.addConst(value.String(t.Attr))}, span)
				return nil
			})
		}
		if err := c.compileExpr(t.Node); err != nil {
			return err
		}
		if err := loadValue(); err != nil {
			return err
		}
		c.emit(vm.Instr{Op: vm.OpStoreAttr, Name: t.Attr}, span)
		return nil

	case *nodes.Getitem:
		if base, ok := t.Node.(*nodes.Name); ok {
			return rebind(base.Name, func() error {
				return c.compileExpr(t.Arg)
			})
		}
		return c.errf(span, "item assignment requires a named container")

	case *nodes.Tuple:
		if err := loadValue(); err != nil {
			return err
		}
		tmp := c.gensym("unpack")
		c.emit(vm.Instr{Op: vm.OpStoreLocal, Name: tmp}, span)
		for i, item := range t.Items {
			idx := i
			sub := func() error {
				c.emit(vm.Instr{Op: vm.OpLookup, Name: tmp}, span)
				c.emit(vm.Instr{Op: vm.OpLoadConst, A: c.addConst(value.Int(int64(idx)))}, span)
				c.emit(vm.Instr{Op: vm.OpGetItem}, span)
				return nil
			}
			if err := c.compileStoreTarget(item, span, sub); err != nil {
				return err
			}
		}
		return nil

	}
	return c.errf(span, "invalid assignment target")
}
