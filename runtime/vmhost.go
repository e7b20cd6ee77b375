package runtime

import (
	"html/template"

	"github.com/deicod/gojinja2/value"
	"github.com/deicod/gojinja2/vm"
)

// environmentHost adapts *Environment to vm.Host, letting the stack machine
// in package vm call back into the environment's loader, filter/test/global
// tables, autoescape policy, and finalize hook without package vm importing
// package runtime (which would be a cycle, since Template implements
// vm.CompiledTemplate). Registered filters/tests/globals are typed over
// interface{}; this bridge converts value.Value to and from that shape at
// the boundary (see bridgeIn/bridgeOut below), the same crossing the
// reflection-based Environment.resolveValue makes for arbitrary host types.
type environmentHost struct {
	env *Environment
}

func newEnvironmentHost(env *Environment) *environmentHost {
	return &environmentHost{env: env}
}

// recursionLimit and fuelLimit defaults; overridable per environment via
// SetRecursionLimit/SetFuel.
const (
	defaultRecursionLimit = 1000
	defaultFuelLimit      = 0 // 0 disables the fuel budget (machine.go's consumeFuel)
)

func (h *environmentHost) Resolve(name string) (vm.CompiledTemplate, error) {
	tmpl, err := h.env.GetTemplate(name)
	if err != nil {
		return nil, err
	}
	return tmpl, nil
}

func (h *environmentHost) JoinPath(parent, target string) string {
	joined, err := h.env.JoinPath(target, parent)
	if err != nil {
		return target
	}
	return joined
}

func (h *environmentHost) Filter(name string) (vm.FilterFunc, bool) {
	fn, ok := h.env.GetFilter(name)
	if !ok {
		return nil, false
	}
	return func(state *vm.State, val value.Value, args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
		ctx := h.bridgeContext(state)
		res, err := fn(ctx, bridgeIn(val), goArgsFrom(args, kwargs)...)
		if err != nil {
			return value.Value{}, err
		}
		return bridgeOut(res), nil
	}, true
}

func (h *environmentHost) Test(name string) (vm.TestFunc, bool) {
	fn, ok := h.env.GetTest(name)
	if !ok {
		return nil, false
	}
	return func(state *vm.State, val value.Value, args []value.Value, kwargs map[string]value.Value) (bool, error) {
		ctx := h.bridgeContext(state)
		res, err := fn(ctx, bridgeIn(val), goArgsFrom(args, kwargs)...)
		if err != nil {
			return false, err
		}
		return bridgeOut(res).Truthy(), nil
	}, true
}

// Global bridges a registered GlobalFunc as a callable Value. "super" is
// deliberately excluded: the compiler emits OpFastSuper for super()
// calls (see compiler.compileCall), so a user-registered global named
// super would shadow block dispatch if it resolved through this path.
func (h *environmentHost) Global(name string) (value.Value, bool) {
	if name == "super" {
		return value.Value{}, false
	}
	fn, ok := h.env.GetGlobal(name)
	if !ok {
		return value.Value{}, false
	}
	return value.FromObject(&globalCallable{env: h.env, name: name, fn: fn}), true
}

func (h *environmentHost) Finalize(v value.Value) (value.Value, error) {
	res, err := h.env.applyFinalize(bridgeIn(v))
	if err != nil {
		return value.Value{}, err
	}
	return bridgeOut(res), nil
}

// Format renders v the way `{{ v }}` would: already-safe strings pass
// through untouched, everything else is displayed and, when autoescape is
// active, HTML-escaped with the same html/template helper Environment.escape
// uses.
func (h *environmentHost) Format(v value.Value, autoescape bool) (string, error) {
	if v.Kind() == value.KindString && v.IsSafe() {
		s, _ := v.AsString()
		return s, nil
	}
	disp := v.Display()
	if !autoescape {
		return disp, nil
	}
	return template.HTMLEscapeString(disp), nil
}

// UndefinedMode maps the environment's UndefinedFactory convention onto
// the VM's four-way matrix by inspecting the sentinel type the factory
// produces; see runtime/undefined.go for the four concrete types.
func (h *environmentHost) UndefinedMode() vm.UndefinedMode {
	switch h.env.newUndefined("").(type) {
	case StrictUndefined:
		return vm.UndefinedStrict
	case ChainableUndefined:
		return vm.UndefinedChainable
	case SilentUndefined:
		return vm.UndefinedSemiStrict
	default:
		return vm.UndefinedLenient
	}
}

func (h *environmentHost) MakeUndefined(name string) value.Value { return value.Undefined }

func (h *environmentHost) AutoEscapeDefault(templateName string) bool {
	return h.env.shouldAutoescape(templateName)
}

func (h *environmentHost) RecursionLimit() int { return h.env.RecursionLimit() }

func (h *environmentHost) FuelLimit() int64 { return h.env.Fuel() }

// bridgeContext builds a throwaway *Context carrying only what registered
// filters/tests actually read off it: the owning Environment and the
// current auto-escape mode.
func (h *environmentHost) bridgeContext(state *vm.State) *Context {
	ctx := NewContextWithEnvironment(h.env, nil)
	ctx.SetAutoescape(state.AutoEscape())
	return ctx
}

// globalCallable adapts a registered GlobalFunc into value.ObjectCallable.
type globalCallable struct {
	env  *Environment
	name string
	fn   GlobalFunc
}

func (g *globalCallable) String() string { return "<global " + g.name + ">" }

func (g *globalCallable) Call(args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	ctx := NewContextWithEnvironment(g.env, nil)
	res, err := g.fn(ctx, goArgsFrom(args, kwargs)...)
	if err != nil {
		return value.Value{}, err
	}
	return bridgeOut(res), nil
}

// ctxBaseVars flattens a Context's visible variables (all scopes, with
// overrides applied) into the value.Value map a vm.Machine render frame
// is seeded with.
func ctxBaseVars(ctx *Context) map[string]value.Value {
	vars := ctx.scope.All()
	out := make(map[string]value.Value, len(vars))
	for k, v := range vars {
		out[k] = bridgeOut(v)
	}
	return out
}

// bridgeIn lowers a Value into the interface{} shape FilterFunc/TestFunc/
// GlobalFunc expect, preserving the safe/unsafe distinction as the Markup
// marker type.
func bridgeIn(v value.Value) interface{} {
	if v.Kind() == value.KindString && v.IsSafe() {
		s, _ := v.AsString()
		return Markup(s)
	}
	return value.ToGo(v)
}

// bridgeOut lifts a filter/test/global's interface{} result back into a
// Value, recognizing Markup as the safe-string marker.
func bridgeOut(v interface{}) value.Value {
	if m, ok := v.(Markup); ok {
		return value.SafeString(string(m))
	}
	return value.FromGo(v)
}

// goArgsFrom flattens positional and keyword VM arguments into the single
// variadic []interface{} the filter/test/global signatures take.
// Keyword arguments, which those signatures have no dedicated channel for,
// are folded in as a trailing map so filters that already look for a
// trailing options map (several of filters.go's do) keep working.
func goArgsFrom(args []value.Value, kwargs map[string]value.Value) []interface{} {
	out := make([]interface{}, 0, len(args)+1)
	for _, a := range args {
		out = append(out, bridgeIn(a))
	}
	if len(kwargs) > 0 {
		m := make(map[string]interface{}, len(kwargs))
		for k, v := range kwargs {
			m[k] = bridgeIn(v)
		}
		out = append(out, m)
	}
	return out
}
