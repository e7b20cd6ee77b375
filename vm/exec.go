package vm

import (
	"strings"

	"github.com/deicod/gojinja2/errs"
	"github.com/deicod/gojinja2/nodes"
	"github.com/deicod/gojinja2/value"
)

// step executes the instruction at f.ip and returns the index of the
// next instruction to run in f.instr (ordinarily f.ip+1; instructions
// that branch, extend a parent template, or otherwise hand control
// elsewhere compute it explicitly).
func (m *Machine) step(f *frame, instr Instr) (int, error) {
	next := f.ip + 1
	switch instr.Op {

	case OpEmitRaw:
		m.write(f, instr.Str)
		return next, nil

	case OpEmit:
		v := f.pop()
		out, err := m.emitValue(f, v)
		if err != nil {
			return 0, err
		}
		m.write(f, out)
		return next, nil

	case OpLookup:
		v, _ := m.lookup(f, instr.Name)
		f.push(v)
		return next, nil

	case OpLoadConst:
		f.push(f.instr.ConstAt(instr.A))
		return next, nil

	case OpGetAttr:
		base := f.pop()
		if base.IsUndefined() {
			if err := checkUndefined(m.Host.UndefinedMode(), useAttrChain); err != nil {
				return 0, err
			}
			f.push(m.Host.MakeUndefined(instr.Name))
			return next, nil
		}
		v, ok := value.GetAttr(base, instr.Name)
		if !ok {
			f.push(m.Host.MakeUndefined(instr.Name))
			return next, nil
		}
		f.push(v)
		return next, nil

	case OpGetItem:
		key := f.pop()
		base := f.pop()
		if base.IsUndefined() {
			if err := checkUndefined(m.Host.UndefinedMode(), useAttrChain); err != nil {
				return 0, err
			}
			f.push(value.Undefined)
			return next, nil
		}
		v, ok := value.GetItem(base, key)
		if !ok {
			f.push(value.Undefined)
			return next, nil
		}
		f.push(v)
		return next, nil

	case OpSlice:
		stepV := f.pop()
		stopV := f.pop()
		startV := f.pop()
		base := f.pop()
		args := value.SliceArgs{}
		if iv, ok := startV.AsInt64(); ok && !startV.IsUndefined() {
			args.Start = &iv
		}
		if iv, ok := stopV.AsInt64(); ok && !stopV.IsUndefined() {
			args.Stop = &iv
		}
		if iv, ok := stepV.AsInt64(); ok && !stepV.IsUndefined() {
			args.Step = &iv
		}
		res, err := value.Slice(base, args)
		if err != nil {
			return 0, errs.Wrap(err, f.templateName, f.instr.SpanAt(f.ip))
		}
		f.push(res)
		return next, nil

	case OpDupTop:
		f.push(f.top())
		return next, nil

	case OpDiscardTop:
		f.pop()
		return next, nil

	case OpPushAutoEscape:
		v := f.pop()
		f.autoescape = append(f.autoescape, v.Truthy())
		return next, nil

	case OpPopAutoEscape:
		f.autoescape = f.autoescape[:len(f.autoescape)-1]
		return next, nil

	case OpPushCapture:
		m.captures = append(m.captures, &strings.Builder{})
		return next, nil

	case OpPopCapture:
		n := len(m.captures)
		buf := m.captures[n-1]
		m.captures = m.captures[:n-1]
		if instr.Flag {
			f.push(value.SafeString(buf.String()))
		} else {
			f.push(value.String(buf.String()))
		}
		return next, nil

	case OpPushScope:
		f.pushScope(nil)
		return next, nil

	case OpPopScope:
		f.popScope()
		return next, nil

	case OpStoreLocal:
		val := f.pop()
		f.setLocal(instr.Name, val)
		if f.blockLevel < 0 && len(f.scopes) == 1 {
			m.exports[instr.Name] = val
		}
		return next, nil

	case OpStoreAttr:
		val := f.pop()
		base := f.pop()
		if setter, ok := base.AsObject(); ok {
			if s, ok := setter.(interface {
				SetAttr(string, value.Value) error
			}); ok {
				if err := s.SetAttr(instr.Name, val); err != nil {
					return 0, errs.Wrap(err, f.templateName, f.instr.SpanAt(f.ip))
				}
				return next, nil
			}
		}
		return 0, errs.New(errs.KindInvalidOperation, "object does not support attribute assignment", f.templateName, f.instr.SpanAt(f.ip))

	case OpJump:
		return instr.A, nil
	case OpJumpIfFalse:
		if !f.pop().Truthy() {
			return instr.A, nil
		}
		return next, nil
	case OpJumpIfTrue:
		if f.pop().Truthy() {
			return instr.A, nil
		}
		return next, nil
	case OpJumpIfFalseOrPop:
		if !f.top().Truthy() {
			return instr.A, nil
		}
		f.pop()
		return next, nil
	case OpJumpIfTrueOrPop:
		if f.top().Truthy() {
			return instr.A, nil
		}
		f.pop()
		return next, nil

	case OpNot:
		f.push(value.Bool(!f.pop().Truthy()))
		return next, nil

	case OpAdd, OpSub, OpMul, OpDiv, OpFloorDiv, OpRem, OpPow:
		b := f.pop()
		a := f.pop()
		if a.IsUndefined() || b.IsUndefined() {
			if err := checkUndefined(m.Host.UndefinedMode(), useArithmetic); err != nil {
				return 0, err
			}
		}
		res, err := arith(instr.Op, a, b)
		if err != nil {
			return 0, errs.Wrap(err, f.templateName, f.instr.SpanAt(f.ip))
		}
		f.push(res)
		return next, nil

	case OpNeg:
		a := f.pop()
		if a.IsUndefined() {
			if err := checkUndefined(m.Host.UndefinedMode(), useArithmetic); err != nil {
				return 0, err
			}
		}
		res, err := value.Neg(a)
		if err != nil {
			return 0, errs.Wrap(err, f.templateName, f.instr.SpanAt(f.ip))
		}
		f.push(res)
		return next, nil

	case OpEq:
		b, a := f.pop(), f.pop()
		f.push(value.Bool(value.Equal(a, b)))
		return next, nil
	case OpNe:
		b, a := f.pop(), f.pop()
		f.push(value.Bool(!value.Equal(a, b)))
		return next, nil
	case OpLt:
		b, a := f.pop(), f.pop()
		f.push(value.Bool(value.Compare(a, b) < 0))
		return next, nil
	case OpLte:
		b, a := f.pop(), f.pop()
		f.push(value.Bool(value.Compare(a, b) <= 0))
		return next, nil
	case OpGt:
		b, a := f.pop(), f.pop()
		f.push(value.Bool(value.Compare(a, b) > 0))
		return next, nil
	case OpGte:
		b, a := f.pop(), f.pop()
		f.push(value.Bool(value.Compare(a, b) >= 0))
		return next, nil

	case OpIn:
		haystack, needle := f.pop(), f.pop()
		ok, err := value.In(needle, haystack)
		if err != nil {
			return 0, errs.Wrap(err, f.templateName, f.instr.SpanAt(f.ip))
		}
		f.push(value.Bool(ok))
		return next, nil

	case OpConcat:
		b, a := f.pop(), f.pop()
		f.push(value.Concat(a, b))
		return next, nil

	case OpStringConcat:
		b, a := f.pop(), f.pop()
		f.push(value.StringConcat(a, b))
		return next, nil

	case OpBuildList:
		items := make([]value.Value, instr.A)
		for i := instr.A - 1; i >= 0; i-- {
			items[i] = f.pop()
		}
		f.push(value.Seq(items))
		return next, nil

	case OpBuildMap, OpBuildKwargs:
		m2 := value.NewMap()
		pairs := make([]value.Pair, instr.A)
		for i := instr.A - 1; i >= 0; i-- {
			val := f.pop()
			key := f.pop()
			pairs[i] = value.Pair{Key: key, Val: val}
		}
		for _, p := range pairs {
			m2 = m2.MapSet(p.Key, p.Val)
		}
		f.push(m2)
		return next, nil

	case OpMergeKwargs:
		maps := make([]value.Value, instr.A)
		for i := instr.A - 1; i >= 0; i-- {
			maps[i] = f.pop()
		}
		merged := value.NewMap()
		for _, mp := range maps {
			for _, p := range mp.MapPairs() {
				merged = merged.MapSet(p.Key, p.Val)
			}
		}
		f.push(merged)
		return next, nil

	case OpCall:
		return m.execCall(f, instr, next)

	case OpCallMethod:
		return m.execCallMethod(f, instr, next)

	case OpApplyFilter:
		return m.execFilter(f, instr, next)

	case OpPerformTest:
		return m.execTest(f, instr, next)

	case OpPushLoop:
		return m.execPushLoop(f, instr, next)

	case OpIterate:
		return m.execIterate(f, instr, next)

	case OpLoadBlocks:
		return m.execLoadBlocks(f, instr, next)

	case OpCallBlock:
		out, err := m.renderBlockFrom(f, 0, instr.Name)
		if err != nil {
			return 0, err
		}
		m.write(f, out)
		return next, nil

	case OpFastSuper:
		blockName := f.blockName
		if instr.Name != "" {
			blockName = instr.Name
		}
		out, err := m.renderBlockFrom(f, f.blockLevel+1, blockName)
		if err != nil {
			return 0, err
		}
		f.push(value.SafeString(out))
		return next, nil

	case OpIncludeTemplate:
		return m.execInclude(f, instr, next)

	case OpImport:
		return m.execImport(f, instr, next)

	case OpBuildMacro:
		return m.execBuildMacro(f, instr, next)

	case OpReturn:
		return len(f.instr.Code), nil

	case OpBreakLoop:
		f.breakLoop = true
		return len(f.instr.Code), nil

	case OpExportLocal:
		if val, ok := f.lookupLocal(instr.Name); ok {
			m.exports[instr.Name] = val
		}
		return next, nil
	}

	return 0, errs.New(errs.KindInvalidOperation, "unimplemented opcode "+instr.Op.String(), f.templateName, f.instr.SpanAt(f.ip))
}

func (m *Machine) emitValue(f *frame, v value.Value) (string, error) {
	if v.IsUndefined() {
		if err := checkUndefined(m.Host.UndefinedMode(), useEmit); err != nil {
			return "", err
		}
		return "", nil
	}
	finalized, err := m.Host.Finalize(v)
	if err != nil {
		return "", err
	}
	return m.Host.Format(finalized, f.currentAutoescape())
}

func arith(op Op, a, b value.Value) (value.Value, error) {
	switch op {
	case OpAdd:
		return value.Add(a, b)
	case OpSub:
		return value.Sub(a, b)
	case OpMul:
		return value.Mul(a, b)
	case OpDiv:
		return value.Div(a, b)
	case OpFloorDiv:
		return value.FloorDiv(a, b)
	case OpRem:
		return value.Rem(a, b)
	case OpPow:
		return value.Pow(a, b)
	}
	return value.Value{}, errs.New(errs.KindInvalidOperation, "not an arithmetic opcode", "", nodes.Span{})
}
