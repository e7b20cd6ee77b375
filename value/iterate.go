package value

// Iterate returns a forward ObjectIterator over v, realized for every
// built-in Kind plus dynamic Objects. ok is false when v cannot be
// iterated at all.
func Iterate(v Value) (ObjectIterator, bool) {
	switch v.kind {
	case KindSeq:
		return NewSliceIterator(v.seq), true
	case KindMap:
		keys := make([]Value, len(v.pairs))
		for i, p := range v.pairs {
			keys[i] = p.Key
		}
		return NewSliceIterator(keys), true
	case KindString:
		runes := []rune(v.str)
		items := make([]Value, len(runes))
		for i, r := range runes {
			items[i] = String(string(r))
		}
		return NewSliceIterator(items), true
	case KindBytes:
		items := make([]Value, len(v.bytes))
		for i, b := range v.bytes {
			items[i] = Int(int64(b))
		}
		return NewSliceIterator(items), true
	case KindObject:
		if it, ok := v.obj.(ObjectIterate); ok {
			return it.Iterate(), true
		}
	}
	return nil, false
}

// IterateReverse returns a reverse ObjectIterator over v, materializing a
// fresh sequence when v has no native reverse-iteration capability.
func IterateReverse(v Value) (ObjectIterator, bool) {
	if v.kind == KindObject {
		if it, ok := v.obj.(ObjectIterateReverse); ok {
			return it.IterateReverse(), true
		}
	}
	fwd, ok := Iterate(v)
	if !ok {
		return nil, false
	}
	var items []Value
	for {
		item, more := fwd.Next()
		if !more {
			break
		}
		items = append(items, item)
	}
	return NewSliceIterator(Reversed(items)), true
}

// KnownLength reports the length of v's iteration if it can be known
// up front without consuming it (Seq/Map/String/Bytes and any Object
// exposing ObjectLen); one-shot and lazy iterators report false.
func KnownLength(v Value) (int, bool) {
	switch v.kind {
	case KindSeq, KindMap, KindString, KindBytes:
		return v.Len()
	case KindObject:
		if _, isOneShot := v.obj.(OneShotIterator); isOneShot {
			return 0, false
		}
		if lv, ok := v.obj.(ObjectLen); ok {
			return lv.Len(), true
		}
	}
	return 0, false
}
