package compiler

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/deicod/gojinja2/nodes"
	"github.com/deicod/gojinja2/parser"
)

func opSequence(t *testing.T, source string) []string {
	t.Helper()

	ast, err := parser.ParseTemplate(source)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	prog, err := Compile("test", ast)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	ops := make([]string, len(prog.Code))
	for i, instr := range prog.Code {
		ops[i] = instr.Op.String()
	}
	return ops
}

func TestCompileInterpolation(t *testing.T) {
	got := opSequence(t, "Hello {{ name }}!")
	want := []string{"EmitRaw", "Lookup", "Emit", "EmitRaw"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("opcode mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileFilterChain(t *testing.T) {
	got := opSequence(t, "{{ name | upper | trim }}")
	want := []string{"Lookup", "ApplyFilter", "ApplyFilter", "Emit"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("opcode mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileBlockRegistersBody(t *testing.T) {
	ast, err := parser.ParseTemplate(`A{% block x %}B{% endblock %}C`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	prog, err := Compile("test", ast)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}

	body, ok := prog.Blocks["x"]
	if !ok {
		t.Fatal("expected block 'x' in the block table")
	}
	if len(body.Code) == 0 {
		t.Fatal("expected a non-empty block body")
	}

	ops := make([]string, len(prog.Code))
	for i, instr := range prog.Code {
		ops[i] = instr.Op.String()
	}
	want := []string{"EmitRaw", "CallBlock", "EmitRaw"}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Errorf("opcode mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileExtendsEmitsLoadBlocks(t *testing.T) {
	got := opSequence(t, `{% extends "base.html" %}`)
	want := []string{"LoadConst", "LoadBlocks"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("opcode mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileExpressionStoresResult(t *testing.T) {
	ast, err := parser.ParseTemplate("{{ 1 + 2 }}")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	out, ok := ast.Body[0].(*nodes.Output)
	if !ok || len(out.Nodes) != 1 {
		t.Fatalf("expected a single output expression, got %T", ast.Body[0])
	}

	prog, err := CompileExpression("expr", out.Nodes[0])
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}

	ops := make([]string, len(prog.Code))
	for i, instr := range prog.Code {
		ops[i] = instr.Op.String()
	}
	want := []string{"LoadConst", "LoadConst", "Add", "StoreLocal"}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Errorf("opcode mismatch (-want +got):\n%s", diff)
	}
	if last := prog.Code[len(prog.Code)-1]; last.Name != ExprResultName {
		t.Errorf("expected result stored under %q, got %q", ExprResultName, last.Name)
	}
}
