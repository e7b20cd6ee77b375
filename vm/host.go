package vm

import "github.com/deicod/gojinja2/value"

// UndefinedMode selects how the VM treats value.Undefined.
type UndefinedMode int

const (
	UndefinedLenient UndefinedMode = iota
	UndefinedStrict
	UndefinedSemiStrict
	UndefinedChainable
)

// FilterFunc is a registered `|name(args)` filter, invoked with
// (state, value, positional args, keyword args)
type FilterFunc func(state *State, val value.Value, args []value.Value, kwargs map[string]value.Value) (value.Value, error)

// TestFunc is a registered `is name(args)` test.
type TestFunc func(state *State, val value.Value, args []value.Value, kwargs map[string]value.Value) (bool, error)

// GlobalFunc is a registered global callable, invoked as a bare name
// call in template expressions (e.g. `range(3)`).
type GlobalFunc func(state *State, args []value.Value, kwargs map[string]value.Value) (value.Value, error)

// CompiledTemplate is the VM's view of a compiled template: its own
// Instructions plus the Instructions of any block it defines directly.
// runtime.Template implements this.
type CompiledTemplate interface {
	TemplateName() string
	Root() *Instructions
}

// Host is the set of environment-level services the VM calls out to:
// template resolution, filter/test/global registries, and the
// configuration knobs Environment entity. runtime.Environment
// implements Host; the VM never imports package runtime, avoiding a cycle.
type Host interface {
	Resolve(name string) (CompiledTemplate, error)
	JoinPath(parent, target string) string

	Filter(name string) (FilterFunc, bool)
	Test(name string) (TestFunc, bool)
	Global(name string) (value.Value, bool)

	Finalize(v value.Value) (value.Value, error)
	Format(v value.Value, autoescape bool) (string, error)

	UndefinedMode() UndefinedMode
	MakeUndefined(name string) value.Value

	AutoEscapeDefault(templateName string) bool
	RecursionLimit() int
	FuelLimit() int64
}
