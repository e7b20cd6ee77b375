package value

// GetAttr resolves `value.name`: Map string-keyed lookup, Object.Attr,
// or (for a Seq/tuple-like) index-as-attribute is NOT supported — only
// named containers expose attributes, per Jinja2 semantics.
func GetAttr(v Value, name string) (Value, bool) {
	switch v.kind {
	case KindMap:
		return v.MapGet(String(name))
	case KindObject:
		if a, ok := v.obj.(ObjectAttr); ok {
			return a.Attr(name)
		}
	}
	return Undefined, false
}

// GetItem resolves `value[key]`: Seq numeric indexing (negative indices
// count from the end), Map lookup, String rune indexing (Open Question
// resolved as code-point indexing), or Object.Item.
func GetItem(v Value, key Value) (Value, bool) {
	switch v.kind {
	case KindSeq:
		if key.IsInt() {
			i, _ := key.AsInt64()
			idx := normalizeIndex(i, len(v.seq))
			if idx < 0 || idx >= len(v.seq) {
				return Undefined, false
			}
			return v.seq[idx], true
		}
	case KindString:
		if key.IsInt() {
			i, _ := key.AsInt64()
			runes := []rune(v.str)
			idx := normalizeIndex(i, len(runes))
			if idx < 0 || idx >= len(runes) {
				return Undefined, false
			}
			return String(string(runes[idx])), true
		}
	case KindMap:
		return v.MapGet(key)
	case KindObject:
		if it, ok := v.obj.(ObjectItem); ok {
			return it.Item(key)
		}
	}
	return Undefined, false
}

func normalizeIndex(i int64, length int) int {
	if i < 0 {
		i += int64(length)
	}
	return int(i)
}

// SliceArgs carries the (possibly absent) start/stop/step operands of
// `a[b:c:d]`. A nil pointer means the component was omitted.
type SliceArgs struct {
	Start *int64
	Stop  *int64
	Step  *int64
}

// Slice resolves `value[start:stop:step]` over a Seq or String.
func Slice(v Value, args SliceArgs) (Value, error) {
	step := int64(1)
	if args.Step != nil {
		step = *args.Step
	}
	if step == 0 {
		return Value{}, arithErr("slice", "slice step cannot be zero")
	}
	switch v.kind {
	case KindSeq:
		idx := sliceIndices(len(v.seq), args.Start, args.Stop, step)
		out := make([]Value, 0, len(idx))
		for _, i := range idx {
			out = append(out, v.seq[i])
		}
		return Seq(out), nil
	case KindString:
		runes := []rune(v.str)
		idx := sliceIndices(len(runes), args.Start, args.Stop, step)
		out := make([]rune, 0, len(idx))
		for _, i := range idx {
			out = append(out, runes[i])
		}
		return String(string(out)), nil
	}
	return Value{}, arithErr("slice", "value is not sliceable")
}

func sliceIndices(length int, start, stop *int64, step int64) []int {
	var lo, hi int64
	if step > 0 {
		lo, hi = 0, int64(length)
	} else {
		lo, hi = -1, int64(length)-1
	}
	s := lo
	if start != nil {
		s = clampIndex(*start, length, step)
	}
	e := hi
	if stop != nil {
		e = clampIndex(*stop, length, step)
	}
	var out []int
	if step > 0 {
		for i := s; i < e; i += step {
			if i >= 0 && i < int64(length) {
				out = append(out, int(i))
			}
		}
	} else {
		for i := s; i > e; i += step {
			if i >= 0 && i < int64(length) {
				out = append(out, int(i))
			}
		}
	}
	return out
}

func clampIndex(i int64, length int, step int64) int64 {
	if i < 0 {
		i += int64(length)
		if i < 0 {
			if step > 0 {
				return 0
			}
			return -1
		}
	}
	if i > int64(length) {
		if step > 0 {
			return int64(length)
		}
		return int64(length) - 1
	}
	return i
}
