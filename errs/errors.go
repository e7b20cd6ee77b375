// Package errs implements gojinja2's error taxonomy: a
// single Error type carrying a Kind, message, source span, template
// name chain, and (debug mode) a snapshot of referenced locals.
package errs

import (
	"fmt"
	"strings"

	"github.com/deicod/gojinja2/nodes"
	"github.com/pkg/errors"
)

// Kind enumerates the error taxonomy, one entry per kind an embedder
// can observe.
type Kind int

const (
	KindSyntaxError Kind = iota
	KindTemplateNotFound
	KindInvalidOperation
	KindUndefinedError
	KindUnknownFilter
	KindUnknownFunction
	KindUnknownTest
	KindUnknownMethod
	KindBadEscape
	KindBadSerialization
	KindBadInclude
	KindEvalBlock
	KindCannotUnpack
	KindWriteFailure
	KindTooManyArguments
	KindMissingArgument
	KindNonKey
	KindNonPrimitive
)

var kindNames = map[Kind]string{
	KindSyntaxError:      "SyntaxError",
	KindTemplateNotFound: "TemplateNotFound",
	KindInvalidOperation: "InvalidOperation",
	KindUndefinedError:   "UndefinedError",
	KindUnknownFilter:    "UnknownFilter",
	KindUnknownFunction:  "UnknownFunction",
	KindUnknownTest:      "UnknownTest",
	KindUnknownMethod:    "UnknownMethod",
	KindBadEscape:        "BadEscape",
	KindBadSerialization: "BadSerialization",
	KindBadInclude:       "BadInclude",
	KindEvalBlock:        "EvalBlock",
	KindCannotUnpack:     "CannotUnpack",
	KindWriteFailure:     "WriteFailure",
	KindTooManyArguments: "TooManyArguments",
	KindMissingArgument:  "MissingArgument",
	KindNonKey:           "NonKey",
	KindNonPrimitive:     "NonPrimitive",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "UnknownErrorKind"
}

// Frame is one layer of the cause chain: the template name and span
// active when an inner error crossed an include/import/extends/macro
// boundary.
type Frame struct {
	Template string
	Span     nodes.Span
}

// Error is the single error object embedders see.
type Error struct {
	Kind     Kind
	Message  string
	Template string
	Span     nodes.Span
	Chain    []Frame
	Locals   map[string]string // debug mode: name -> Display() snapshot
	cause    error
}

// New constructs a fresh Error.
func New(kind Kind, message, template string, span nodes.Span) *Error {
	return &Error{Kind: kind, Message: message, Template: template, Span: span}
}

// Wrap annotates cause with the current template/span as it unwinds
// across an include/import/extends/macro boundary. It
// uses pkg/errors so Cause() can walk all the way back to the root
// failure regardless of how many layers wrapped it.
func Wrap(cause error, template string, span nodes.Span) *Error {
	if e, ok := cause.(*Error); ok {
		wrapped := *e
		wrapped.Chain = append(append([]Frame(nil), e.Chain...), Frame{Template: template, Span: span})
		wrapped.cause = errors.WithStack(cause)
		return &wrapped
	}
	return &Error{
		Kind:     KindInvalidOperation,
		Message:  cause.Error(),
		Template: template,
		Span:     span,
		cause:    errors.WithStack(cause),
	}
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Kind, e.Message)
	if e.Template != "" {
		fmt.Fprintf(&b, " (in %s:%d)", e.Template, e.Span.Start.Line)
	}
	for i := len(e.Chain) - 1; i >= 0; i-- {
		f := e.Chain[i]
		fmt.Fprintf(&b, "\n  via %s:%d", f.Template, f.Span.Start.Line)
	}
	return b.String()
}

// Unwrap supports errors.Is/errors.As against the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// Debug renders the debug snippet: source with a caret under the
// offending span plus the referenced-locals table.
func (e *Error) Debug(source string) string {
	var b strings.Builder
	b.WriteString(e.Error())
	if source != "" {
		b.WriteString("\n\n")
		b.WriteString(caretSnippet(source, e.Span))
	}
	if len(e.Locals) > 0 {
		b.WriteString("\nlocals:\n")
		for k, v := range e.Locals {
			fmt.Fprintf(&b, "  %s = %s\n", k, v)
		}
	}
	return b.String()
}

func caretSnippet(source string, span nodes.Span) string {
	lines := strings.Split(source, "\n")
	lineNo := span.Start.Line
	if lineNo < 1 || lineNo > len(lines) {
		return ""
	}
	line := lines[lineNo-1]
	col := span.Start.Column
	if col < 0 {
		col = 0
	}
	caret := strings.Repeat(" ", col) + "^"
	return fmt.Sprintf("%4d | %s\n       %s", lineNo, line, caret)
}

// NotFound is the sentinel a Loader returns (via errors.Is) to signal
// that a template name does not exist, distinguished from an IO-style
// failure.
var NotFound = errors.New("template not found")
