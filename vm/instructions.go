// Package vm implements the stack machine that executes compiled
// template bytecode: the opcode inventory, the Instructions container,
// and the Machine that interprets it over value.Value.
package vm

import (
	"github.com/deicod/gojinja2/nodes"
	"github.com/deicod/gojinja2/value"
)

// Op is one opcode from the machine's closed inventory.
type Op int

const (
	OpEmitRaw Op = iota
	OpEmit
	OpLookup
	OpLoadConst
	OpGetAttr
	OpGetItem
	OpSlice
	OpLoadBlocks
	OpCallBlock
	OpIncludeTemplate
	OpImport
	OpBuildMap
	OpBuildList
	OpBuildKwargs
	OpMergeKwargs
	OpDupTop
	OpDiscardTop
	OpPushAutoEscape
	OpPopAutoEscape
	OpPushCapture
	OpPopCapture
	OpPushLoop
	OpIterate
	OpPushScope
	OpPopScope
	OpStoreLocal
	OpStoreAttr
	OpJump
	OpJumpIfFalse
	OpJumpIfTrue
	OpJumpIfFalseOrPop
	OpJumpIfTrueOrPop
	OpCall
	OpApplyFilter
	OpPerformTest
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpFloorDiv
	OpRem
	OpPow
	OpNeg
	OpNot
	OpEq
	OpNe
	OpLt
	OpLte
	OpGt
	OpGte
	OpIn
	OpConcat
	OpStringConcat
	OpCallMethod
	OpBuildMacro
	OpReturn
	OpFastSuper
	OpBreakLoop
	OpExportLocal
)

var opNames = map[Op]string{
	OpEmitRaw: "EmitRaw", OpEmit: "Emit", OpLookup: "Lookup", OpLoadConst: "LoadConst",
	OpGetAttr: "GetAttr", OpGetItem: "GetItem", OpSlice: "Slice", OpLoadBlocks: "LoadBlocks",
	OpCallBlock: "CallBlock", OpIncludeTemplate: "IncludeTemplate", OpImport: "Import",
	OpBuildMap: "BuildMap", OpBuildList: "BuildList", OpBuildKwargs: "BuildKwargs",
	OpMergeKwargs: "MergeKwargs", OpDupTop: "DupTop", OpDiscardTop: "DiscardTop",
	OpPushAutoEscape: "PushAutoEscape", OpPopAutoEscape: "PopAutoEscape",
	OpPushCapture: "PushCapture", OpPopCapture: "PopCapture", OpPushLoop: "PushLoop",
	OpIterate: "Iterate", OpPushScope: "PushScope", OpPopScope: "PopScope",
	OpStoreLocal: "StoreLocal", OpStoreAttr: "StoreAttr", OpJump: "Jump",
	OpJumpIfFalse: "JumpIfFalse", OpJumpIfTrue: "JumpIfTrue",
	OpJumpIfFalseOrPop: "JumpIfFalseOrPop", OpJumpIfTrueOrPop: "JumpIfTrueOrPop",
	OpCall: "Call", OpApplyFilter: "ApplyFilter", OpPerformTest: "PerformTest",
	OpAdd: "Add", OpSub: "Sub", OpMul: "Mul", OpDiv: "Div", OpFloorDiv: "FloorDiv",
	OpRem: "Rem", OpPow: "Pow", OpNeg: "Neg", OpNot: "Not", OpEq: "Eq", OpNe: "Ne",
	OpLt: "Lt", OpLte: "Lte", OpGt: "Gt", OpGte: "Gte", OpIn: "In", OpConcat: "Concat",
	OpStringConcat: "StringConcat", OpCallMethod: "CallMethod", OpBuildMacro: "BuildMacro",
	OpReturn: "Return", OpFastSuper: "FastSuper", OpBreakLoop: "BreakLoop",
	OpExportLocal: "ExportLocal",
}

func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return "Op(?)"
}

// Instr is one bytecode instruction. Operands are interpreted per Op:
// most carry either a constant-pool index, a jump target, an argument
// count, or a name, so a handful of generic fields covers every opcode
// without per-opcode struct types (kept dense for the VM's hot path).
type Instr struct {
	Op      Op
	A       int    // constant index / jump target / argc / count
	B       int    // secondary int operand (e.g. kwarg-packed count)
	Name    string // identifier operand (Lookup, GetAttr, StoreLocal, ...)
	Str     string // raw string operand (EmitRaw)
	Flag    bool   // boolean operand (e.g. ignore_missing, ctx flag)
	Aux     []string
	JumpRel bool
}

// Instructions is one compiled unit: a template root, a block body, or a
// macro body. The span table is a parallel array (index i gives the
// source span of Code[i]); the block table maps block name to the start
// index of that block's own separately-compiled Instructions, keyed by
// name at the Template level (see Constant/BlockTable below).
type Instructions struct {
	Name    string
	Code    []Instr
	Spans   []nodes.Span
	Consts  []interface{} // constant pool, materialized to value.Value lazily by the VM
	Blocks  map[string]*Instructions
	Macros  map[string]*Instructions
}

// New creates an empty Instructions unit named name (a template name,
// "block:<name>", or "macro:<name>").
func New(name string) *Instructions {
	return &Instructions{
		Name:   name,
		Blocks: map[string]*Instructions{},
		Macros: map[string]*Instructions{},
	}
}

// Emit appends instr with its originating span, returning its index.
func (ins *Instructions) Emit(instr Instr, span nodes.Span) int {
	ins.Code = append(ins.Code, instr)
	ins.Spans = append(ins.Spans, span)
	return len(ins.Code) - 1
}

// Patch rewrites the jump target operand of the instruction at idx.
func (ins *Instructions) Patch(idx, target int) {
	ins.Code[idx].A = target
}

// Here returns the index the next Emit call will land at — used to
// backpatch forward jumps.
func (ins *Instructions) Here() int { return len(ins.Code) }

// AddConst interns v in the constant pool, returning its index.
func (ins *Instructions) AddConst(v value.Value) int {
	ins.Consts = append(ins.Consts, v)
	return len(ins.Consts) - 1
}

// ConstAt returns the materialized constant at index i.
func (ins *Instructions) ConstAt(i int) value.Value {
	return ins.Consts[i].(value.Value)
}

// SpanAt returns the span recorded for instruction i, or a zero Span.
func (ins *Instructions) SpanAt(i int) nodes.Span {
	if i < 0 || i >= len(ins.Spans) {
		return nodes.Span{}
	}
	return ins.Spans[i]
}
