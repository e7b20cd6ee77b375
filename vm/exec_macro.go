package vm

import (
	"strings"

	"github.com/deicod/gojinja2/errs"
	"github.com/deicod/gojinja2/nodes"
	"github.com/deicod/gojinja2/value"
)

// execBuildMacro materializes a macroObject from the macro body compiled
// under Instructions.Macros[instr.Name]. instr.Aux carries the parameter
// names in declaration order; a trailing entry prefixed "**" names the
// catch-all keyword parameter. instr.Str is the catch-all positional
// (varargs) name, "" if the macro declares neither. instr.A is the
// number of trailing parameters that have default expressions, whose
// values are popped off the stack (already evaluated by the caller, in
// declaration order).
func (m *Machine) execBuildMacro(f *frame, instr Instr, next int) (int, error) {
	var paramNames []string
	kwargsName := ""
	for _, a := range instr.Aux {
		if strings.HasPrefix(a, "**") {
			kwargsName = strings.TrimPrefix(a, "**")
			continue
		}
		paramNames = append(paramNames, a)
	}
	defaults := make([]value.Value, instr.A)
	for i := instr.A - 1; i >= 0; i-- {
		defaults[i] = f.pop()
	}
	body, ok := f.instr.Macros[instr.Name]
	if !ok {
		return 0, errs.New(errs.KindInvalidOperation, "missing macro body "+instr.Name, f.templateName, f.instr.SpanAt(f.ip))
	}
	mo := &macroObject{
		name:         instr.Name,
		paramNames:   paramNames,
		defaults:     defaults,
		varargs:      instr.Str,
		kwargsName:   kwargsName,
		body:         body,
		closure:      append([]map[string]value.Value{}, f.scopes...),
		templateName: f.templateName,
		m:            m,
		caller:       value.Undefined,
	}
	val := value.FromObject(mo)
	f.push(val)
	if f.blockLevel < 0 && len(f.scopes) == 1 {
		m.exports[instr.Name] = val
	}
	return next, nil
}

// invokeMacro binds args/kwargs to mo's parameters per Jinja macro
// calling conventions (positional fill, then keyword, then defaults,
// then varargs/kwargs catch-alls) and renders the body, returning its
// output as a (safe, since it is already-rendered markup) string.
func (m *Machine) invokeMacro(mo *macroObject, args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	scope := map[string]value.Value{}
	n := len(mo.paramNames)
	nd := len(mo.defaults)
	for i, pname := range mo.paramNames {
		if i < len(args) {
			scope[pname] = args[i]
			continue
		}
		if kv, ok := kwargs[pname]; ok {
			scope[pname] = kv
			continue
		}
		di := i - (n - nd)
		if di >= 0 && di < nd {
			scope[pname] = mo.defaults[di]
			continue
		}
		return value.Value{}, errs.New(errs.KindMissingArgument, "missing argument '"+pname+"' to macro "+mo.name, mo.templateName, nodes.Span{})
	}
	if mo.varargs != "" {
		var extra []value.Value
		if len(args) > n {
			extra = append(extra, args[n:]...)
		}
		scope[mo.varargs] = value.Seq(extra)
	} else if len(args) > n {
		return value.Value{}, errs.New(errs.KindTooManyArguments, "too many arguments to macro "+mo.name, mo.templateName, nodes.Span{})
	}
	used := map[string]bool{}
	for _, p := range mo.paramNames {
		used[p] = true
	}
	leftover := value.NewMap()
	hasLeftover := false
	for k, v := range kwargs {
		if used[k] {
			continue
		}
		if mo.kwargsName == "" {
			return value.Value{}, errs.New(errs.KindTooManyArguments, "unexpected keyword argument '"+k+"' to macro "+mo.name, mo.templateName, nodes.Span{})
		}
		leftover = leftover.MapSet(value.String(k), v)
		hasLeftover = true
	}
	if mo.kwargsName != "" {
		if hasLeftover {
			scope[mo.kwargsName] = leftover
		} else {
			scope[mo.kwargsName] = value.NewMap()
		}
	}
	scope["caller"] = mo.caller

	scopes := append(append([]map[string]value.Value{}, mo.closure...), scope)
	autoescape := false
	if len(m.frames) > 0 {
		autoescape = m.curFrame().currentAutoescape()
	}
	out, err := m.runNested(mo.body, mo.templateName, autoescape, scopes)
	if err != nil {
		return value.Value{}, err
	}
	return value.SafeString(out), nil
}

func (m *Machine) execCall(f *frame, instr Instr, next int) (int, error) {
	var kwargs map[string]value.Value
	if instr.Flag {
		kwargs = kwargsFromMap(f.pop())
	}
	args := make([]value.Value, instr.A)
	for i := instr.A - 1; i >= 0; i-- {
		args[i] = f.pop()
	}
	callee := f.pop()

	if instr.B == 1 && len(instr.Aux) >= 1 {
		if base, ok := callee.AsObject(); ok {
			if mo, ok := base.(*macroObject); ok {
				if callerBody, ok := f.instr.Macros[instr.Aux[0]]; ok {
					cm := &macroObject{
						name: "caller", body: callerBody, paramNames: append([]string{}, instr.Aux[1:]...),
						closure: append([]map[string]value.Value{}, f.scopes...),
						templateName: f.templateName, m: m, caller: value.Undefined,
					}
					moCopy := *mo
					moCopy.caller = value.FromObject(cm)
					res, err := m.invokeMacro(&moCopy, args, kwargs)
					if err != nil {
						return 0, err
					}
					f.push(res)
					return next, nil
				}
			}
		}
	}

	res, err := m.callValue(f, callee, args, kwargs)
	if err != nil {
		return 0, err
	}
	f.push(res)
	return next, nil
}

func (m *Machine) callValue(f *frame, callee value.Value, args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	if callee.IsUndefined() {
		if err := checkUndefined(m.Host.UndefinedMode(), useArithmetic); err != nil {
			return value.Value{}, err
		}
		return value.Undefined, nil
	}
	obj, ok := callee.AsObject()
	if !ok {
		return value.Value{}, errs.New(errs.KindInvalidOperation, "value is not callable", f.templateName, f.instr.SpanAt(f.ip))
	}
	callable, ok := obj.(value.ObjectCallable)
	if !ok {
		return value.Value{}, errs.New(errs.KindInvalidOperation, "value is not callable", f.templateName, f.instr.SpanAt(f.ip))
	}
	return callable.Call(args, kwargs)
}

func (m *Machine) execCallMethod(f *frame, instr Instr, next int) (int, error) {
	var kwargs map[string]value.Value
	if instr.Flag {
		kwargs = kwargsFromMap(f.pop())
	}
	args := make([]value.Value, instr.A)
	for i := instr.A - 1; i >= 0; i-- {
		args[i] = f.pop()
	}
	base := f.pop()
	if base.IsUndefined() {
		if err := checkUndefined(m.Host.UndefinedMode(), useAttrChain); err != nil {
			return 0, err
		}
		f.push(value.Undefined)
		return next, nil
	}
	if obj, ok := base.AsObject(); ok {
		if mc, ok := obj.(value.ObjectMethodCallable); ok {
			res, err := mc.CallMethod(instr.Name, args, kwargs)
			if err == nil {
				f.push(res)
				return next, nil
			}
			if err != value.ErrNotAMethod {
				return 0, errs.Wrap(err, f.templateName, f.instr.SpanAt(f.ip))
			}
		}
	}
	attr, ok := value.GetAttr(base, instr.Name)
	if !ok {
		return 0, errs.New(errs.KindUnknownMethod, "unknown method "+instr.Name, f.templateName, f.instr.SpanAt(f.ip))
	}
	res, err := m.callValue(f, attr, args, kwargs)
	if err != nil {
		return 0, err
	}
	f.push(res)
	return next, nil
}

func (m *Machine) execFilter(f *frame, instr Instr, next int) (int, error) {
	var kwargs map[string]value.Value
	if instr.Flag {
		kwargs = kwargsFromMap(f.pop())
	}
	args := make([]value.Value, instr.A)
	for i := instr.A - 1; i >= 0; i-- {
		args[i] = f.pop()
	}
	val := f.pop()
	if instr.Name == "__setattr" || instr.Name == "__setitem" {
		res, err := setIntrinsic(instr.Name, val, args)
		if err != nil {
			return 0, errs.Wrap(err, f.templateName, f.instr.SpanAt(f.ip))
		}
		f.push(res)
		return next, nil
	}
	fn, ok := m.Host.Filter(instr.Name)
	if !ok {
		return 0, errs.New(errs.KindUnknownFilter, "no filter named '"+instr.Name+"'", f.templateName, f.instr.SpanAt(f.ip))
	}
	res, err := fn(newState(m, f), val, args, kwargs)
	if err != nil {
		return 0, errs.Wrap(err, f.templateName, f.instr.SpanAt(f.ip))
	}
	f.push(res)
	return next, nil
}

func (m *Machine) execTest(f *frame, instr Instr, next int) (int, error) {
	args := make([]value.Value, instr.A)
	for i := instr.A - 1; i >= 0; i-- {
		args[i] = f.pop()
	}
	val := f.pop()
	fn, ok := m.Host.Test(instr.Name)
	if !ok {
		return 0, errs.New(errs.KindUnknownTest, "no test named '"+instr.Name+"'", f.templateName, f.instr.SpanAt(f.ip))
	}
	res, err := fn(newState(m, f), val, args, nil)
	if err != nil {
		return 0, errs.Wrap(err, f.templateName, f.instr.SpanAt(f.ip))
	}
	if instr.Flag {
		res = !res
	}
	f.push(value.Bool(res))
	return next, nil
}

func kwargsFromMap(mv value.Value) map[string]value.Value {
	out := map[string]value.Value{}
	for _, p := range mv.MapPairs() {
		if s, ok := p.Key.AsString(); ok {
			out[s] = p.Val
		}
	}
	return out
}

// setIntrinsic implements the compiler's __setattr/__setitem targets for
// `{% set base.attr = v %}` and `{% set base[key] = v %}`. Mutable host
// objects (namespaces) are updated in place; maps and sequences, which are
// immutable values, come back rebuilt with the entry replaced and the
// compiler re-binds the enclosing local to the result.
func setIntrinsic(name string, container value.Value, args []value.Value) (value.Value, error) {
	key, val := args[0], args[1]

	if obj, ok := container.AsObject(); ok {
		attr, isStr := key.AsString()
		if !isStr {
			return value.Value{}, errs.New(errs.KindNonKey, "attribute name must be a string", "", nodes.Span{})
		}
		setter, ok := obj.(interface {
			SetAttr(string, value.Value) error
		})
		if !ok {
			return value.Value{}, errs.New(errs.KindInvalidOperation, "object does not support attribute assignment", "", nodes.Span{})
		}
		if err := setter.SetAttr(attr, val); err != nil {
			return value.Value{}, err
		}
		return container, nil
	}

	switch container.Kind() {
	case value.KindMap:
		if name == "__setattr" {
			if _, ok := key.AsString(); !ok {
				return value.Value{}, errs.New(errs.KindNonKey, "attribute name must be a string", "", nodes.Span{})
			}
		}
		return container.MapSet(key, val), nil

	case value.KindSeq:
		if name == "__setattr" {
			return value.Value{}, errs.New(errs.KindInvalidOperation, "cannot set attribute on a sequence", "", nodes.Span{})
		}
		if !key.IsInt() {
			return value.Value{}, errs.New(errs.KindNonKey, "sequence index must be an integer", "", nodes.Span{})
		}
		items, _ := container.AsSeq()
		idx64, _ := key.AsInt64()
		idx := int(idx64)
		if idx < 0 {
			idx += len(items)
		}
		if idx < 0 || idx >= len(items) {
			return value.Value{}, errs.New(errs.KindInvalidOperation, "sequence index out of range", "", nodes.Span{})
		}
		updated := append([]value.Value(nil), items...)
		updated[idx] = val
		return value.Seq(updated), nil
	}

	return value.Value{}, errs.New(errs.KindInvalidOperation, "value does not support item assignment", "", nodes.Span{})
}
