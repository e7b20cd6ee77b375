package vm

import "github.com/deicod/gojinja2/value"

// State is the façade passed to filters, tests, and globals:
// a narrow, read-mostly view over the executing Machine and frame so
// user-registered callables can look up names, check the active
// auto-escape mode, stash per-render scratch data, and render a named
// block without reaching into VM internals directly.
type State struct {
	m *Machine
	f *frame

	// Temps is scratch storage for the duration of one render, keyed by
	// whatever convention the filter/global registering it chooses
	// (e.g. a filter that memoizes per-render work).
	Temps map[string]value.Value
}

func newState(m *Machine, f *frame) *State {
	return &State{m: m, f: f, Temps: map[string]value.Value{}}
}

// Lookup resolves name the same way a bare template identifier would:
// innermost local scope outward, then template exports, then the host's
// globals, falling back to Undefined.
func (s *State) Lookup(name string) value.Value {
	v, _ := s.m.lookup(s.f, name)
	return v
}

// Env exposes the host so filters/tests/globals can call back into
// environment-level services (template resolution, other filters).
func (s *State) Env() Host { return s.m.Host }

// CurrentTemplateName is the template owning the executing frame.
func (s *State) CurrentTemplateName() string { return s.f.templateName }

// CurrentBlockName is the block name the executing frame is rendering
// under, or "" outside of a block.
func (s *State) CurrentBlockName() string {
	if s.f.blockLevel < 0 || s.f.blockLevel >= len(s.m.blockChain) {
		return ""
	}
	return s.f.blockName
}

// AutoEscape reports the auto-escape mode active at the top of the
// executing frame's stack.
func (s *State) AutoEscape() bool { return s.f.currentAutoescape() }

// RenderBlock renders the named block from the current extends chain
// in isolation (used by a `{{ self.block_name() }}` style call) and
// returns its output.
func (s *State) RenderBlock(name string) (string, error) {
	return s.m.renderBlockByName(s.f, name)
}

// Exports returns the template-level exported names visible so far
// (populated as top-level `{% set %}`/`{% macro %}` statements execute).
func (s *State) Exports() map[string]value.Value { return s.m.exports }
