// Package compiler turns a parsed template AST (package nodes) into the
// bytecode the vm package executes: one *vm.Instructions per template,
// with nested Instructions for block bodies registered in the root unit's
// Blocks table, and for macro, caller and for-loop bodies registered in
// the Macros table of the unit whose code refers to them.
package compiler

import (
	"fmt"

	"github.com/deicod/gojinja2/errs"
	"github.com/deicod/gojinja2/nodes"
	"github.com/deicod/gojinja2/value"
	"github.com/deicod/gojinja2/vm"
)

// loopCompileCtx tracks the backpatch state for the innermost `{% for %}`
// currently being compiled: `{% continue %}` jumps to the end of the
// loop body, so each one is recorded here and patched once the body's
// last instruction is known.
type loopCompileCtx struct {
	continueJumps []int
}

// Compiler walks a template's AST once, emitting bytecode into cur. Block
// bodies are keyed by name in root.Blocks; macro, caller and loop bodies
// are keyed in the Macros table of the unit being compiled when they are
// met, where the VM looks them up at render time.
type Compiler struct {
	templateName string
	root         *vm.Instructions
	cur          *vm.Instructions
	counter      int
	loopStack    []*loopCompileCtx
}

// Compile compiles tree into a root Instructions unit named templateName.
func Compile(templateName string, tree *nodes.Template) (*vm.Instructions, error) {
	c := &Compiler{templateName: templateName}
	c.root = vm.New(templateName)
	c.cur = c.root
	for _, n := range tree.Body {
		if err := c.compileStmt(n); err != nil {
			return nil, err
		}
	}
	return c.root, nil
}

// ExprResultName is the synthetic local a CompileExpression program
// stores its result under; it surfaces in the machine's exports after
// the program runs.
const ExprResultName = "__expr_result"

// CompileExpression compiles a lone expression into a program that
// evaluates it and stores the result under ExprResultName, backing
// expression-only rendering (Environment.RenderExpr).
func CompileExpression(templateName string, expr nodes.Expr) (*vm.Instructions, error) {
	c := &Compiler{templateName: templateName}
	c.root = vm.New(templateName)
	c.cur = c.root
	if err := c.compileExpr(expr); err != nil {
		return nil, err
	}
	c.emit(vm.Instr{Op: vm.OpStoreLocal, Name: ExprResultName}, expr.GetSpan())
	return c.root, nil
}

func (c *Compiler) emit(instr vm.Instr, span nodes.Span) int {
	return c.cur.Emit(instr, span)
}

func (c *Compiler) here() int { return c.cur.Here() }

func (c *Compiler) patch(idx, target int) { c.cur.Patch(idx, target) }

func (c *Compiler) addConst(v value.Value) int { return c.cur.AddConst(v) }

// gensym produces a name for a synthetic local or sub-program: "__",
// the prefix, and a per-compiler counter. The lexer accepts identifiers
// starting with "__", so a template that declares the same name can
// collide with it.
func (c *Compiler) gensym(prefix string) string {
	c.counter++
	return fmt.Sprintf("__%s%d", prefix, c.counter)
}

func (c *Compiler) errf(span nodes.Span, msg string) error {
	return errs.New(errs.KindSyntaxError, msg, c.templateName, span)
}

// compileDetached compiles stmts into unit as an independent program: a
// macro body, a `{% call %}` caller body, a block body, or a for-else
// body. These run in their own later-invoked sub-frame, so `{% break %}`
// and `{% continue %}` can never reach across the boundary into an
// enclosing loop — the loop stack resets to empty for the duration.
func (c *Compiler) compileDetached(unit *vm.Instructions, stmts []nodes.Node) error {
	savedCur, savedLoop := c.cur, c.loopStack
	c.cur, c.loopStack = unit, nil
	var err error
	for _, s := range stmts {
		if err = c.compileStmt(s); err != nil {
			break
		}
	}
	c.cur, c.loopStack = savedCur, savedLoop
	return err
}

// constOf converts a nodes.Const payload (the small set of Go types the
// parser stores: nil, bool, string, int64, float64) into a value.Value.
func constOf(v interface{}) (value.Value, error) {
	switch t := v.(type) {
	case nil:
		return value.None, nil
	case bool:
		return value.Bool(t), nil
	case string:
		return value.String(t), nil
	case int64:
		return value.Int(t), nil
	case int:
		return value.Int(int64(t)), nil
	case float64:
		return value.Float(t), nil
	default:
		return value.Value{}, fmt.Errorf("unsupported constant type %T", v)
	}
}
