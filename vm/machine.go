package vm

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/deicod/gojinja2/errs"
	"github.com/deicod/gojinja2/nodes"
	"github.com/deicod/gojinja2/value"
)

// blockLayer is one level of an extends chain: the template that
// contributed it and the block bodies it defines directly.
type blockLayer struct {
	TemplateName string
	Blocks       map[string]*Instructions
}

// frame is one nested execution scope: root render, include, macro call,
// or block call.
type frame struct {
	ip     int
	instr  *Instructions
	stack  []value.Value
	scopes []map[string]value.Value

	templateName string
	autoescape   []bool // stack; top is current mode

	loopStack []*loopObject

	blockLevel int    // index into Machine.blockChain this frame is executing at, -1 if none
	blockName  string // name of the block this frame is executing, "" if none

	// breakLoop is set by OpBreakLoop; runForLoopBody checks it on the
	// per-iteration sub-frame after each run() to stop iterating early.
	breakLoop bool
}

func newFrame(instr *Instructions, templateName string, autoescape bool, base map[string]value.Value) *frame {
	return &frame{
		instr:        instr,
		scopes:       []map[string]value.Value{base},
		templateName: templateName,
		autoescape:   []bool{autoescape},
		blockLevel:   -1,
	}
}

func (f *frame) push(v value.Value)  { f.stack = append(f.stack, v) }
func (f *frame) pop() value.Value {
	n := len(f.stack)
	v := f.stack[n-1]
	f.stack = f.stack[:n-1]
	return v
}
func (f *frame) top() value.Value { return f.stack[len(f.stack)-1] }

func (f *frame) pushScope(vars map[string]value.Value) {
	if vars == nil {
		vars = map[string]value.Value{}
	}
	f.scopes = append(f.scopes, vars)
}
func (f *frame) popScope() { f.scopes = f.scopes[:len(f.scopes)-1] }

func (f *frame) setLocal(name string, v value.Value) {
	f.scopes[len(f.scopes)-1][name] = v
}

func (f *frame) lookupLocal(name string) (value.Value, bool) {
	for i := len(f.scopes) - 1; i >= 0; i-- {
		if v, ok := f.scopes[i][name]; ok {
			return v, true
		}
	}
	return value.Undefined, false
}

func (f *frame) currentAutoescape() bool { return f.autoescape[len(f.autoescape)-1] }

// Machine is the single-threaded stack machine that executes compiled
// Instructions over value.Value.
type Machine struct {
	Host Host

	frames []*frame

	blockChain []blockLayer
	exports    map[string]value.Value

	// captures is the stack of in-flight output redirections created by
	// `{% filter %}` and `{% set x %}...{% endset %}` blocks; write()
	// sends to the innermost one when non-empty.
	captures []*strings.Builder

	fuel      int64
	fuelLimit int64
	recursion int

	// debug mode toggles referenced-locals capture on error.
	Debug bool

	out strings.Builder
}

// NewMachine creates a Machine bound to host, with fuel seeded from
// host.FuelLimit() (0 disables the budget).
func NewMachine(host Host) *Machine {
	m := &Machine{Host: host, exports: map[string]value.Value{}}
	m.fuelLimit = host.FuelLimit()
	m.fuel = m.fuelLimit
	return m
}

func (m *Machine) curFrame() *frame { return m.frames[len(m.frames)-1] }

func (m *Machine) pushFrame(f *frame) error {
	m.recursion++
	if limit := m.Host.RecursionLimit(); limit > 0 && m.recursion > limit {
		m.recursion--
		return errs.New(errs.KindInvalidOperation, "recursion limit exceeded", f.templateName, nodes.Span{})
	}
	m.frames = append(m.frames, f)
	return nil
}

func (m *Machine) popFrame() {
	m.frames = m.frames[:len(m.frames)-1]
	m.recursion--
}

func (m *Machine) consumeFuel(f *frame) error {
	if m.fuelLimit <= 0 {
		return nil
	}
	m.fuel--
	if m.fuel <= 0 {
		return errs.New(errs.KindInvalidOperation, "fuel exhausted", f.templateName, f.instr.SpanAt(f.ip))
	}
	return nil
}

// Render executes tmpl's root Instructions against ctx and returns the
// rendered output.
func (m *Machine) Render(tmpl CompiledTemplate, ctx map[string]value.Value) (string, error) {
	autoescape := m.Host.AutoEscapeDefault(tmpl.TemplateName())
	root := m.buildExtendsChain(tmpl, ctx, autoescape)
	f := newFrame(root, tmpl.TemplateName(), autoescape, ctx)
	if err := m.pushFrame(f); err != nil {
		return "", err
	}
	defer m.popFrame()
	if err := m.run(f); err != nil {
		return "", err
	}
	return m.out.String(), nil
}

// Exports returns the top-level `{% set %}`/macro/import bindings a root
// render left behind, the source MakeModule draws from when building a
// module namespace for `{% import %}`/`{% from ... import %}`.
func (m *Machine) Exports() map[string]value.Value {
	return m.exports
}

// RenderBlock renders a single named block from tmpl's extends chain in
// isolation, the VM-backed counterpart of Template.RenderBlock.
func (m *Machine) RenderBlock(tmpl CompiledTemplate, blockName string, ctx map[string]value.Value) (string, error) {
	autoescape := m.Host.AutoEscapeDefault(tmpl.TemplateName())
	root := m.buildExtendsChain(tmpl, ctx, autoescape)
	f := newFrame(root, tmpl.TemplateName(), autoescape, ctx)
	return m.renderBlockFrom(f, 0, blockName)
}

// buildExtendsChain walks `extends` statically discoverable only at
// runtime (the template name may be an expression), so the chain is
// built lazily the first time an `extends` instruction executes; this
// helper just seeds the chain with the root template's own blocks and
// returns its Instructions. See execLoadBlocks for the chain-growing step.
func (m *Machine) buildExtendsChain(tmpl CompiledTemplate, ctx map[string]value.Value, autoescape bool) *Instructions {
	root := tmpl.Root()
	m.blockChain = []blockLayer{{TemplateName: tmpl.TemplateName(), Blocks: root.Blocks}}
	return root
}

// run drives f's instruction pointer until it falls off the end of
// f.instr.Code, writing EmitRaw/Emit output to m.out.
func (m *Machine) run(f *frame) error {
	for f.ip < len(f.instr.Code) {
		if err := m.consumeFuel(f); err != nil {
			return err
		}
		instr := f.instr.Code[f.ip]
		curTemplate, curSpan := f.templateName, f.instr.SpanAt(f.ip)
		nextIP, err := m.step(f, instr)
		if err != nil {
			if e, ok := err.(*errs.Error); ok {
				if e.Template == "" {
					e.Template = curTemplate
					e.Span = curSpan
				}
				if m.Debug && e.Locals == nil {
					e.Locals = f.snapshotLocals()
					logrus.WithFields(logrus.Fields{
						"template": e.Template,
						"line":     e.Span.Start.Line,
						"op":       opNames[instr.Op],
						"kind":     e.Kind.String(),
						"locals":   e.Locals,
					}).Debug("render error")
				}
				return e
			}
			return errs.Wrap(err, curTemplate, curSpan)
		}
		f.ip = nextIP
	}
	return nil
}

func (f *frame) snapshotLocals() map[string]string {
	out := map[string]string{}
	for _, scope := range f.scopes {
		for k, v := range scope {
			out[k] = v.Display()
		}
	}
	return out
}

func (m *Machine) write(f *frame, s string) {
	if n := len(m.captures); n > 0 {
		m.captures[n-1].WriteString(s)
		return
	}
	m.out.WriteString(s)
}

// lookup resolves name: innermost local scope outward, then template
// exports, then the host's registered globals, falling back to a fresh
// Undefined value bound to name.
func (m *Machine) lookup(f *frame, name string) (value.Value, bool) {
	if v, ok := f.lookupLocal(name); ok {
		return v, true
	}
	if v, ok := m.exports[name]; ok {
		return v, true
	}
	if v, ok := m.Host.Global(name); ok {
		return v, true
	}
	return m.Host.MakeUndefined(name), false
}

// runNested executes body in a fresh frame, capturing its output into a
// buffer instead of the surrounding template's stream. baseScopes seeds
// the new frame's scope chain (pass nil for an isolated scope). Used by
// block dispatch, macro invocation, recursive loop re-entry, and
// included/imported templates.
func (m *Machine) runNested(body *Instructions, templateName string, autoescape bool, baseScopes []map[string]value.Value) (string, error) {
	var buf strings.Builder
	m.captures = append(m.captures, &buf)
	sub := newFrame(body, templateName, autoescape, nil)
	if baseScopes != nil {
		sub.scopes = append([]map[string]value.Value{}, baseScopes...)
	}
	err := func() error {
		if err := m.pushFrame(sub); err != nil {
			return err
		}
		defer m.popFrame()
		return m.run(sub)
	}()
	m.captures = m.captures[:len(m.captures)-1]
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// renderBlockFrom searches m.blockChain starting at startLevel (most
// derived first) for a block named name and renders it, used both for
// the initial `{% block %}` dispatch point (startLevel 0) and for
// `super()` (startLevel currentLevel+1).
func (m *Machine) renderBlockFrom(f *frame, startLevel int, name string) (string, error) {
	for level := startLevel; level < len(m.blockChain); level++ {
		body, ok := m.blockChain[level].Blocks[name]
		if !ok {
			continue
		}
		sub := newFrame(body, m.blockChain[level].TemplateName, f.currentAutoescape(), nil)
		sub.scopes = append([]map[string]value.Value{}, f.scopes...)
		sub.blockLevel = level
		sub.blockName = name
		var buf strings.Builder
		m.captures = append(m.captures, &buf)
		err := func() error {
			if err := m.pushFrame(sub); err != nil {
				return err
			}
			defer m.popFrame()
			return m.run(sub)
		}()
		m.captures = m.captures[:len(m.captures)-1]
		if err != nil {
			return "", err
		}
		return buf.String(), nil
	}
	return "", errs.New(errs.KindEvalBlock, "block "+name+" not found", f.templateName, f.instr.SpanAt(f.ip))
}

// renderBlockByName renders the most-derived definition of name from
// the current extends chain into its own buffer, leaving f's own
// execution state untouched.
func (m *Machine) renderBlockByName(f *frame, name string) (string, error) {
	return m.renderBlockFrom(f, 0, name)
}
