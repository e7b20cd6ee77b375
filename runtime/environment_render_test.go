package runtime

import (
	"bytes"
	"strings"
	"testing"
)

func TestEnvironmentRenderHelpers(t *testing.T) {
	env := NewEnvironment()
	env.SetLoader(NewMapLoader(map[string]string{
		"greet.html": "Hello {{ name }}!",
	}))

	rendered, err := env.RenderTemplate("greet.html", map[string]interface{}{"name": "Parity"})
	if err != nil {
		t.Fatalf("RenderTemplate error: %v", err)
	}
	if strings.TrimSpace(rendered) != "Hello Parity!" {
		t.Fatalf("unexpected RenderTemplate output: %q", rendered)
	}

	var buf bytes.Buffer
	if err := env.RenderTemplateToWriter("greet.html", map[string]interface{}{"name": "Writer"}, &buf); err != nil {
		t.Fatalf("RenderTemplateToWriter error: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "Hello Writer!" {
		t.Fatalf("unexpected RenderTemplateToWriter output: %q", buf.String())
	}
}

func TestEnvironmentGenerateHelper(t *testing.T) {
	env := NewEnvironment()
	env.SetKeepTrailingNewline(true)
	env.SetLoader(NewMapLoader(map[string]string{
		"stream.txt": "Value: {{ value }}\n",
	}))

	stream, err := env.Generate("stream.txt", map[string]interface{}{"value": "42"})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}

	collected, err := stream.Collect()
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if collected != "Value: 42\n" {
		t.Fatalf("unexpected stream output: %q", collected)
	}
}

func TestEnvironmentRenderExpr(t *testing.T) {
	env := NewEnvironment()

	result, err := env.RenderExpr("1 + 2", nil)
	if err != nil {
		t.Fatalf("RenderExpr error: %v", err)
	}
	if n, ok := result.(int64); !ok || n != 3 {
		t.Fatalf("expected int64(3), got %T %v", result, result)
	}

	result, err = env.RenderExpr("items | length > 2", map[string]interface{}{
		"items": []interface{}{1, 2, 3},
	})
	if err != nil {
		t.Fatalf("RenderExpr error: %v", err)
	}
	if b, ok := result.(bool); !ok || !b {
		t.Fatalf("expected true, got %T %v", result, result)
	}

	result, err = env.RenderExpr("name ~ '!'", map[string]interface{}{"name": "go"})
	if err != nil {
		t.Fatalf("RenderExpr error: %v", err)
	}
	if s, ok := result.(string); !ok || s != "go!" {
		t.Fatalf("expected 'go!', got %T %v", result, result)
	}

	if _, err := env.RenderExpr("missing_name.attr(", nil); err == nil {
		t.Fatal("expected parse error for malformed expression")
	}
}
