package vm

import (
	"github.com/deicod/gojinja2/errs"
)

// execLoadBlocks implements `{% extends %}`. It pops the parent
// template name expression, resolves it through the host, registers the
// parent's own block table as the next layer of the extends chain
// (appended after whatever layers already precede the current
// template), and switches the current frame to execute the parent's
// instructions from the top — mirroring how Jinja discards everything
// in a child template outside of block definitions once extends fires.
func (m *Machine) execLoadBlocks(f *frame, instr Instr, next int) (int, error) {
	nameVal := f.pop()
	name, ok := nameVal.AsString()
	if !ok {
		return 0, errs.New(errs.KindBadInclude, "extends target is not a string", f.templateName, f.instr.SpanAt(f.ip))
	}
	resolved := m.Host.JoinPath(f.templateName, name)
	for _, layer := range m.blockChain {
		if layer.TemplateName == resolved {
			return 0, errs.New(errs.KindInvalidOperation, "circular template inheritance detected: "+resolved, f.templateName, f.instr.SpanAt(f.ip))
		}
	}
	tmpl, err := m.Host.Resolve(resolved)
	if err != nil {
		return 0, errs.Wrap(err, f.templateName, f.instr.SpanAt(f.ip))
	}
	parentRoot := tmpl.Root()
	m.blockChain = append(m.blockChain, blockLayer{TemplateName: tmpl.TemplateName(), Blocks: parentRoot.Blocks})
	f.instr = parentRoot
	f.templateName = tmpl.TemplateName()
	return 0, nil
}
