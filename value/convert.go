package value

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/shopspring/decimal"
)

// FromGo lifts an arbitrary Go value produced by host code (template
// variables handed in by the caller, results returned by a bridged
// filter/test/global) into a Value. Values that already carry a known
// shape become the matching Kind; anything else is wrapped as an Object
// via NewInteropObject so attribute/item/iteration access still works.
func FromGo(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return None
	case Value:
		return t
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint:
		return Int(int64(t))
	case uint8:
		return Int(int64(t))
	case uint16:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case uint64:
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case decimal.Decimal:
		return BigInt(t)
	case string:
		return String(t)
	case []byte:
		return Bytes(t)
	case []interface{}:
		items := make([]Value, len(t))
		for i, it := range t {
			items[i] = FromGo(it)
		}
		return Seq(items)
	case []string:
		items := make([]Value, len(t))
		for i, it := range t {
			items[i] = String(it)
		}
		return Seq(items)
	case map[string]interface{}:
		m := NewMap()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sortStrings(keys)
		for _, k := range keys {
			m = m.MapSet(String(k), FromGo(t[k]))
		}
		return m
	case error:
		return Invalid(t)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]Value, rv.Len())
		for i := range items {
			items[i] = FromGo(rv.Index(i).Interface())
		}
		return Seq(items)
	case reflect.Map:
		m := NewMap()
		keys := rv.MapKeys()
		strKeys := make([]string, len(keys))
		for i, k := range keys {
			strKeys[i] = stringifyMapKey(k)
		}
		order := make([]int, len(keys))
		for i := range order {
			order[i] = i
		}
		sortIndices(order, strKeys)
		for _, i := range order {
			m = m.MapSet(String(strKeys[i]), FromGo(rv.MapIndex(keys[i]).Interface()))
		}
		return m
	}

	return FromObject(NewInteropObject(v))
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func sortIndices(order []int, keys []string) {
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && keys[order[j-1]] > keys[order[j]]; j-- {
			order[j-1], order[j] = order[j], order[j-1]
		}
	}
}

func stringifyMapKey(rv reflect.Value) string {
	if rv.Kind() == reflect.String {
		return rv.String()
	}
	return FromGo(rv.Interface()).Display()
}

// ToGo lowers a Value back into the plain interface{} shape host code
// (filters/tests/globals typed over interface{})
// expects. It is the inverse of FromGo for every built-in Kind; an
// interopObject unwraps back to the original Go value it wrapped.
func ToGo(v Value) interface{} {
	switch v.Kind() {
	case KindUndefined:
		return nil
	case KindNone:
		return nil
	case KindBool:
		b, _ := v.AsBool()
		return b
	case KindNumber:
		if v.IsFloat() {
			f, _ := v.AsFloat64()
			return f
		}
		i, _ := v.AsInt64()
		return i
	case KindString:
		s, _ := v.AsString()
		return s
	case KindBytes:
		b, _ := v.AsBytes()
		return b
	case KindSeq:
		items, _ := v.AsSeq()
		out := make([]interface{}, len(items))
		for i, it := range items {
			out[i] = ToGo(it)
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, len(v.MapPairs()))
		for _, p := range v.MapPairs() {
			if s, ok := p.Key.AsString(); ok {
				out[s] = ToGo(p.Val)
			}
		}
		return out
	case KindObject:
		obj, _ := v.AsObject()
		if io, ok := obj.(*interopObject); ok {
			return io.orig
		}
		return obj
	case KindInvalid:
		return v.Err()
	}
	return nil
}

// interopObject adapts an arbitrary Go value that isn't already one of
// Value's built-in shapes into the Object capability set via reflection,
// grounded on Environment.resolveValue's struct-field/method lookup
// convention (try the Title-cased exported name, then the name as given,
// then a matching method).
type interopObject struct {
	rv   reflect.Value
	orig interface{}
}

// NewInteropObject wraps an arbitrary host value for use as a Value.
func NewInteropObject(v interface{}) Object {
	return &interopObject{rv: reflect.ValueOf(v), orig: v}
}

func (o *interopObject) String() string {
	if s, ok := o.orig.(interface{ String() string }); ok {
		return s.String()
	}
	return Display(o.orig)
}

// Display is a minimal fmt.Sprint substitute kept dependency-free; Object
// implementations needing richer formatting should implement String().
func Display(v interface{}) string {
	return FromGo(v).Display()
}

func (o *interopObject) deref() reflect.Value {
	rv := o.rv
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

// attrGetter is implemented by namespace-like host containers that store
// attributes in a map rather than struct fields (runtime.Namespace).
type attrGetter interface {
	Get(name string) (interface{}, bool)
}

// attrSetter matches runtime.Namespace's Set, making `{% set ns.attr = v %}`
// work on wrapped namespaces.
type attrSetter interface {
	Set(name string, value interface{}) interface{}
}

func (o *interopObject) SetAttr(name string, v Value) error {
	if s, ok := o.orig.(attrSetter); ok {
		s.Set(name, ToGo(v))
		return nil
	}
	return fmt.Errorf("cannot set attribute %q on %T", name, o.orig)
}

func (o *interopObject) Attr(name string) (Value, bool) {
	if g, ok := o.orig.(attrGetter); ok {
		if v, found := g.Get(name); found {
			return FromGo(v), true
		}
	}
	title := strings.ToUpper(name[:1]) + name[1:]
	if m := o.rv.MethodByName(title); m.IsValid() {
		return callZeroArg(m)
	}
	if m := o.rv.MethodByName(name); m.IsValid() {
		return callZeroArg(m)
	}
	rv := o.deref()
	if !rv.IsValid() {
		return Undefined, false
	}
	switch rv.Kind() {
	case reflect.Struct:
		if f := rv.FieldByName(title); f.IsValid() && f.CanInterface() {
			return FromGo(f.Interface()), true
		}
		if f := rv.FieldByName(name); f.IsValid() && f.CanInterface() {
			return FromGo(f.Interface()), true
		}
	case reflect.Map:
		key := reflect.ValueOf(name)
		if rv.Type().Key().Kind() == reflect.String {
			if mv := rv.MapIndex(key.Convert(rv.Type().Key())); mv.IsValid() {
				return FromGo(mv.Interface()), true
			}
		}
	}
	return Undefined, false
}

func callZeroArg(m reflect.Value) (Value, bool) {
	if m.Type().NumIn() != 0 || m.Type().NumOut() == 0 {
		return FromObject(&boundMethod{m: m}), true
	}
	out := m.Call(nil)
	return FromGo(out[0].Interface()), true
}

func (o *interopObject) Item(key Value) (Value, bool) {
	rv := o.deref()
	if !rv.IsValid() {
		return Undefined, false
	}
	switch rv.Kind() {
	case reflect.Map:
		if s, ok := key.AsString(); ok {
			mv := rv.MapIndex(reflect.ValueOf(s).Convert(rv.Type().Key()))
			if mv.IsValid() {
				return FromGo(mv.Interface()), true
			}
		}
	case reflect.Slice, reflect.Array:
		if key.IsInt() {
			i, _ := key.AsInt64()
			idx := int(i)
			if idx < 0 {
				idx += rv.Len()
			}
			if idx >= 0 && idx < rv.Len() {
				return FromGo(rv.Index(idx).Interface()), true
			}
		}
	}
	return Undefined, false
}

func (o *interopObject) Len() int {
	rv := o.deref()
	if !rv.IsValid() {
		return 0
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len()
	}
	return 0
}

// boundMethod adapts a reflect.Value method with arguments into an
// ObjectCallable, letting template code call `obj.method(args...)`
// through the interop bridge.
type boundMethod struct {
	m reflect.Value
}

func (b *boundMethod) String() string { return "<method>" }

func (b *boundMethod) Call(args []Value, kwargs map[string]Value) (Value, error) {
	in := make([]reflect.Value, 0, len(args))
	t := b.m.Type()
	for i, a := range args {
		var target reflect.Type
		if t.IsVariadic() && i >= t.NumIn()-1 {
			target = t.In(t.NumIn() - 1).Elem()
		} else if i < t.NumIn() {
			target = t.In(i)
		} else {
			target = reflect.TypeOf((*interface{})(nil)).Elem()
		}
		goVal := ToGo(a)
		var rv reflect.Value
		if goVal == nil {
			rv = reflect.Zero(target)
		} else {
			rv = reflect.ValueOf(goVal)
			if rv.Type().ConvertibleTo(target) {
				rv = rv.Convert(target)
			}
		}
		in = append(in, rv)
	}
	out := b.m.Call(in)
	if len(out) == 0 {
		return None, nil
	}
	last := out[len(out)-1]
	if last.Type().Implements(reflect.TypeOf((*error)(nil)).Elem()) && !last.IsNil() {
		return Value{}, last.Interface().(error)
	}
	return FromGo(out[0].Interface()), nil
}
