package vm

import "github.com/deicod/gojinja2/value"

// loopObject backs the `loop` local exposed inside `{% for %}` bodies.
// It is cheap to reallocate each iteration and exposes its fields through
// the Object capability table rather than as a Map.
type loopObject struct {
	index0    int
	length    int
	known     bool
	depth     int
	parent    value.Value // parent loop object, or Undefined at depth 0
	last      bool
	lastKnown bool
	prevItem  value.Value
	nextItem  value.Value
	nextKnown bool
	changedAt map[string]value.Value

	// recursive re-entry
	recursive bool
	reenter   func(items []value.Value) (value.Value, error)
}

func (l *loopObject) String() string { return "<loop>" }

func (l *loopObject) Repr() Repr { return ReprPlain }

func (l *loopObject) Attr(name string) (value.Value, bool) {
	switch name {
	case "index":
		return value.Int(int64(l.index0 + 1)), true
	case "index0":
		return value.Int(int64(l.index0)), true
	case "revindex":
		if !l.known {
			return value.Undefined, true
		}
		return value.Int(int64(l.length - l.index0)), true
	case "revindex0":
		if !l.known {
			return value.Undefined, true
		}
		return value.Int(int64(l.length - l.index0 - 1)), true
	case "first":
		return value.Bool(l.index0 == 0), true
	case "last":
		if !l.lastKnown {
			return value.Undefined, true
		}
		return value.Bool(l.last), true
	case "length":
		if !l.known {
			return value.Undefined, true
		}
		return value.Int(int64(l.length)), true
	case "depth":
		return value.Int(int64(l.depth + 1)), true
	case "depth0":
		return value.Int(int64(l.depth)), true
	case "previtem":
		return l.prevItem, true
	case "nextitem":
		if !l.nextKnown {
			return value.Undefined, true
		}
		return l.nextItem, true
	}
	return value.Undefined, false
}

// Call implements `loop(seq)` recursive re-entry: inside a
// `{% for ... recursive %}` body, loop is callable and re-enters the
// same body with a new iterable and incremented depth.
func (l *loopObject) Call(args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	if !l.recursive || l.reenter == nil {
		return value.Value{}, arithErrLoop("loop is not recursive")
	}
	if len(args) != 1 {
		return value.Value{}, arithErrLoop("loop() expects exactly one argument")
	}
	items, ok := value.Iterate(args[0])
	if !ok {
		return value.Value{}, arithErrLoop("loop() argument is not iterable")
	}
	var collected []value.Value
	for {
		v, more := items.Next()
		if !more {
			break
		}
		collected = append(collected, v)
	}
	return l.reenter(collected)
}

// CallMethod implements loop.changed(...) and loop.cycle(...).
func (l *loopObject) CallMethod(name string, args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	switch name {
	case "changed":
		if l.changedAt == nil {
			l.changedAt = map[string]value.Value{}
		}
		key := "default"
		cur := value.Seq(args)
		prev, had := l.changedAt[key]
		l.changedAt[key] = cur
		if !had {
			return value.Bool(true), nil
		}
		return value.Bool(!value.Equal(prev, cur)), nil
	case "cycle":
		if len(args) == 0 {
			return value.Value{}, arithErrLoop("cycle() expects at least one argument")
		}
		return args[l.index0%len(args)], nil
	}
	return value.Value{}, value.ErrNotAMethod
}

type loopErr string

func (e loopErr) Error() string { return string(e) }

func arithErrLoop(msg string) error { return loopErr(msg) }
