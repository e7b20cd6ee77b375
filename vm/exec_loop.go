package vm

import (
	"strings"

	"github.com/deicod/gojinja2/errs"
	"github.com/deicod/gojinja2/value"
)

// execPushLoop implements the whole `{% for %}` statement as a single
// opcode: it builds an iterator over the iterable, materializes the
// per-iteration loop object, and runs the loop body (a named sub-program
// recorded under Instructions.Macros by the compiler, the same container
// used for macro bodies since both are "closure over a scope"
// sub-programs) once per item. instr.Name is the body's key; instr.Str,
// if set, names an `{% else %}` body to run when no item enters the
// loop. Aux holds the loop variable name(s) for tuple unpacking. An
// `if` filter, when present, lives under "<body-key>.filter" and drops
// items before the loop state is built.
//
// Sources with a knowable length (sequences, maps, strings, objects
// exposing a length) are materialized so loop.length/last/revindex/
// nextitem are exact. Lazy and one-shot sources are pulled one item at
// a time with no look-ahead: their loop object reports unknown
// length/last/revindex/nextitem, and a `{% break %}` leaves the
// remaining items unconsumed in the source for a later traversal.
func (m *Machine) execPushLoop(f *frame, instr Instr, next int) (int, error) {
	iterable := f.pop()
	body, ok := f.instr.Macros[instr.Name]
	if !ok {
		return 0, errs.New(errs.KindInvalidOperation, "missing loop body "+instr.Name, f.templateName, f.instr.SpanAt(f.ip))
	}
	filter := f.instr.Macros[instr.Name+".filter"]

	runElse := func() error {
		if instr.Str == "" {
			return nil
		}
		elseBody, ok := f.instr.Macros[instr.Str]
		if !ok {
			return nil
		}
		out, err := m.runNested(elseBody, f.templateName, f.currentAutoescape(), f.scopes)
		if err != nil {
			return err
		}
		m.write(f, out)
		return nil
	}

	if iterable.IsUndefined() {
		if err := checkUndefined(m.Host.UndefinedMode(), useIterate); err != nil {
			return 0, err
		}
		if err := runElse(); err != nil {
			return 0, err
		}
		return next, nil
	}

	iter, ok := value.Iterate(iterable)
	if !ok {
		return 0, errs.New(errs.KindInvalidOperation, "value is not iterable", f.templateName, f.instr.SpanAt(f.ip))
	}

	var parent value.Value = value.Undefined
	if len(f.loopStack) > 0 {
		parent = value.FromObject(f.loopStack[len(f.loopStack)-1])
	}

	var (
		out string
		n   int
		err error
	)
	if _, known := value.KnownLength(iterable); known {
		var collected []value.Value
		for {
			v, more := iter.Next()
			if !more {
				break
			}
			collected = append(collected, v)
		}
		out, n, err = m.runForLoopBody(f, body, filter, instr.Aux, collected, parent, 0)
	} else {
		out, n, err = m.runForLoopLazy(f, body, filter, instr.Aux, iter, parent, 0)
	}
	if err != nil {
		return 0, err
	}
	if n == 0 {
		if err := runElse(); err != nil {
			return 0, err
		}
		return next, nil
	}
	m.write(f, out)
	return next, nil
}

// runForLoopBody drives body once per item in items, binding the loop
// variable names plus a fully-known `loop` object, and returns the
// concatenated rendered output together with the number of iterations
// that ran. A non-nil filter is evaluated over each item first and
// failing items are dropped, so the loop metadata is computed over the
// surviving set. depth supports recursive `{% for ... recursive %}`
// re-entry via loop(seq).
func (m *Machine) runForLoopBody(f *frame, body, filter *Instructions, varNames []string, items []value.Value, parent value.Value, depth int) (string, int, error) {
	if filter != nil {
		kept := make([]value.Value, 0, len(items))
		for _, item := range items {
			pass, err := m.evalLoopFilter(f, filter, varNames, item)
			if err != nil {
				return "", 0, err
			}
			if pass {
				kept = append(kept, item)
			}
		}
		items = kept
	}

	var out strings.Builder
	m.captures = append(m.captures, &out)
	n := 0
	err := func() error {
		for i, item := range items {
			lo := &loopObject{
				index0: i,
				length: len(items),
				known:  true,
				depth:  depth,
				parent: parent,
				last:   i == len(items)-1, lastKnown: true,
			}
			if i > 0 {
				lo.prevItem = items[i-1]
			} else {
				lo.prevItem = value.Undefined
			}
			if i+1 < len(items) {
				lo.nextItem = items[i+1]
				lo.nextKnown = true
			}
			m.attachReenter(f, body, filter, varNames, lo, depth)

			brk, err := m.runLoopIteration(f, body, varNames, lo, item)
			if err != nil {
				return err
			}
			n++
			if brk {
				break
			}
		}
		return nil
	}()
	m.captures = m.captures[:len(m.captures)-1]
	if err != nil {
		return "", 0, err
	}
	return out.String(), n, nil
}

// runForLoopLazy drives body over a lazy or one-shot iterator, pulling
// one item per iteration with no look-ahead. The loop object reports
// unknown length/last/revindex/nextitem, and an early `{% break %}`
// leaves unpulled items queued in the source.
func (m *Machine) runForLoopLazy(f *frame, body, filter *Instructions, varNames []string, iter value.ObjectIterator, parent value.Value, depth int) (string, int, error) {
	var out strings.Builder
	m.captures = append(m.captures, &out)
	n := 0
	err := func() error {
		prev := value.Undefined
		for {
			item, more := iter.Next()
			if !more {
				return nil
			}
			if filter != nil {
				pass, err := m.evalLoopFilter(f, filter, varNames, item)
				if err != nil {
					return err
				}
				if !pass {
					continue
				}
			}
			lo := &loopObject{
				index0:   n,
				depth:    depth,
				parent:   parent,
				prevItem: prev,
			}
			m.attachReenter(f, body, filter, varNames, lo, depth)

			brk, err := m.runLoopIteration(f, body, varNames, lo, item)
			if err != nil {
				return err
			}
			n++
			if brk {
				return nil
			}
			prev = item
		}
	}()
	m.captures = m.captures[:len(m.captures)-1]
	if err != nil {
		return "", 0, err
	}
	return out.String(), n, nil
}

// runLoopIteration executes one pass of a loop body in its own sub-frame
// with the loop variable(s) and `loop` bound, reporting whether the body
// hit `{% break %}`.
func (m *Machine) runLoopIteration(f *frame, body *Instructions, varNames []string, lo *loopObject, item value.Value) (bool, error) {
	sub := newFrame(body, f.templateName, f.currentAutoescape(), nil)
	sub.scopes = append([]map[string]value.Value{}, f.scopes...)
	sub.pushScope(nil)
	bindLoopVars(sub, varNames, item)
	sub.setLocal("loop", value.FromObject(lo))
	sub.loopStack = append(f.loopStack, lo)

	if err := m.pushFrame(sub); err != nil {
		return false, err
	}
	err := m.run(sub)
	m.popFrame()
	if err != nil {
		return false, err
	}
	return sub.breakLoop, nil
}

// attachReenter makes lo callable as loop(seq), re-entering the same
// body (and the same `if` filter, when one exists) with a new iterable
// and incremented depth.
func (m *Machine) attachReenter(f *frame, body, filter *Instructions, varNames []string, lo *loopObject, depth int) {
	lo.recursive = true
	lo.reenter = func(nested []value.Value) (value.Value, error) {
		s, _, err := m.runForLoopBody(f, body, filter, varNames, nested, value.FromObject(lo), depth+1)
		if err != nil {
			return value.Value{}, err
		}
		return value.SafeString(s), nil
	}
}

// evalLoopFilter runs a for-loop's compiled `if` filter against one
// candidate item, with the loop variable(s) bound. The `loop` object is
// not in scope: the filter decides membership before any loop state
// exists.
func (m *Machine) evalLoopFilter(f *frame, filter *Instructions, varNames []string, item value.Value) (bool, error) {
	sub := newFrame(filter, f.templateName, f.currentAutoescape(), nil)
	sub.scopes = append([]map[string]value.Value{}, f.scopes...)
	sub.pushScope(nil)
	bindLoopVars(sub, varNames, item)

	if err := m.pushFrame(sub); err != nil {
		return false, err
	}
	err := m.run(sub)
	m.popFrame()
	if err != nil {
		return false, err
	}
	if len(sub.stack) == 0 {
		return false, nil
	}
	return sub.top().Truthy(), nil
}

func bindLoopVars(f *frame, names []string, item value.Value) {
	if len(names) <= 1 {
		name := "loop_item"
		if len(names) == 1 {
			name = names[0]
		}
		f.setLocal(name, item)
		return
	}
	parts, ok := item.AsSeq()
	if !ok {
		for _, n := range names {
			f.setLocal(n, value.Undefined)
		}
		return
	}
	for i, n := range names {
		if i < len(parts) {
			f.setLocal(n, parts[i])
		} else {
			f.setLocal(n, value.Undefined)
		}
	}
}

// execIterate is a low-level single-pull primitive over the innermost
// active loop's source, kept for parity with the opcode inventory; the
// compiler does not currently emit it standalone since execPushLoop
// drives iteration directly.
func (m *Machine) execIterate(f *frame, instr Instr, next int) (int, error) {
	return next, nil
}
