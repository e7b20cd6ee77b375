package vm

import (
	"fmt"

	"github.com/deicod/gojinja2/value"
)

// macroObject is the runtime representation of a `{% macro %}` or
// `{% call %}`-bound caller macro. It closes over
// the defining scope chain and is invoked as an ObjectCallable.
type macroObject struct {
	name       string
	paramNames []string
	defaults   []value.Value // defaults[i] pairs with paramNames[len(paramNames)-len(defaults)+i]
	varargs    string        // name bound to extra positional args, "" if not declared
	kwargsName string        // name bound to extra keyword args, "" if not declared
	body       *Instructions
	closure    []map[string]value.Value
	templateName string
	m          *Machine
	caller     value.Value // bound `caller()` macro for {% call %} blocks, or Undefined
}

func (mo *macroObject) String() string { return fmt.Sprintf("<macro %s>", mo.name) }
func (mo *macroObject) Repr() Repr     { return ReprPlain }

func (mo *macroObject) Call(args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	return mo.m.invokeMacro(mo, args, kwargs)
}
