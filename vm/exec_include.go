package vm

import (
	"strings"

	"github.com/deicod/gojinja2/errs"
	"github.com/deicod/gojinja2/value"
)

// execInclude implements `{% include %}`. instr.Flag is "ignore
// missing"; instr.B is 1 for "with context" (the default), 0 for
// "without context".
func (m *Machine) execInclude(f *frame, instr Instr, next int) (int, error) {
	nameVal := f.pop()
	name, ok := nameVal.AsString()
	if !ok {
		return 0, errs.New(errs.KindBadInclude, "include target is not a string", f.templateName, f.instr.SpanAt(f.ip))
	}
	resolved := m.Host.JoinPath(f.templateName, name)
	tmpl, err := m.Host.Resolve(resolved)
	if err != nil {
		if instr.Flag {
			return next, nil
		}
		return 0, errs.Wrap(err, f.templateName, f.instr.SpanAt(f.ip))
	}
	var scopes []map[string]value.Value
	if instr.B == 1 {
		scopes = f.scopes
	}
	autoescape := m.Host.AutoEscapeDefault(tmpl.TemplateName())
	out, err := m.runNested(tmpl.Root(), tmpl.TemplateName(), autoescape, scopes)
	if err != nil {
		return 0, err
	}
	m.write(f, out)
	return next, nil
}

// execImport implements both `{% import %}` and `{% from import %}` (the
// compiler follows this with GetAttr+StoreLocal per imported name in the
// latter case). It renders the target template in isolation, collecting
// its top-level exports into a module-like Map value pushed onto the
// stack. instr.B is 1 for "with context".
func (m *Machine) execImport(f *frame, instr Instr, next int) (int, error) {
	nameVal := f.pop()
	name, ok := nameVal.AsString()
	if !ok {
		return 0, errs.New(errs.KindBadInclude, "import target is not a string", f.templateName, f.instr.SpanAt(f.ip))
	}
	resolved := m.Host.JoinPath(f.templateName, name)
	tmpl, err := m.Host.Resolve(resolved)
	if err != nil {
		return 0, errs.Wrap(err, f.templateName, f.instr.SpanAt(f.ip))
	}

	sub := newFrame(tmpl.Root(), tmpl.TemplateName(), m.Host.AutoEscapeDefault(tmpl.TemplateName()), nil)
	if instr.B == 1 {
		sub.scopes = append([]map[string]value.Value{}, f.scopes...)
	}

	savedExports := m.exports
	m.exports = map[string]value.Value{}
	var buf strings.Builder
	m.captures = append(m.captures, &buf)
	runErr := func() error {
		if err := m.pushFrame(sub); err != nil {
			return err
		}
		defer m.popFrame()
		return m.run(sub)
	}()
	m.captures = m.captures[:len(m.captures)-1]
	moduleExports := m.exports
	m.exports = savedExports
	if runErr != nil {
		return 0, runErr
	}

	mod := value.NewMap()
	for k, v := range moduleExports {
		mod = mod.MapSet(value.String(k), v)
	}
	f.push(mod)
	return next, nil
}
