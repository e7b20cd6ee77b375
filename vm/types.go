package vm

import "github.com/deicod/gojinja2/value"

// Repr aliases value.Repr so vm's Object implementations (loopObject,
// macroObject) can report their iteration shape without importing value
// under a different name at every call site.
type Repr = value.Repr

const (
	ReprPlain    = value.ReprPlain
	ReprMap      = value.ReprMap
	ReprSeq      = value.ReprSeq
	ReprIterable = value.ReprIterable
)
