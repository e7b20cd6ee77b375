package vm

import (
	"github.com/deicod/gojinja2/errs"
	"github.com/deicod/gojinja2/nodes"
)

// useSite names the kind of access being attempted on a possibly
// Undefined value, used to apply the undefined-behavior matrix.
type useSite int

const (
	useEmit useSite = iota
	useIterate
	useTruthy
	useAttrChain
	useArithmetic
)

// checkUndefined applies the undefined-behavior matrix:
//
//	strict:      errors on every site.
//	semi-strict: errors on Emit/Iterate/AttrChain/Arithmetic, allows Truthy.
//	lenient:     errors on AttrChain/Arithmetic, allows Emit/Iterate/Truthy.
//	chainable:   errors on Arithmetic only; attribute chains stay undefined.
//
// A nil return means the caller should proceed treating the value as
// Undefined (empty/false/propagate); a non-nil error means the mode
// demands a hard failure. Template/Span are left blank and filled in by
// the caller's error path (run() stamps them from the current frame).
func checkUndefined(mode UndefinedMode, site useSite) error {
	fail := func() error {
		return errs.New(errs.KindUndefinedError, "value is undefined", "", nodes.Span{})
	}
	switch mode {
	case UndefinedStrict:
		return fail()
	case UndefinedSemiStrict:
		if site == useTruthy {
			return nil
		}
		return fail()
	case UndefinedLenient:
		if site == useAttrChain || site == useArithmetic {
			return fail()
		}
		return nil
	case UndefinedChainable:
		if site == useArithmetic {
			return fail()
		}
		return nil
	}
	return nil
}
