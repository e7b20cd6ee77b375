package runtime

import (
	"errors"
	"strings"
	"testing"
)

func TestMapLoaderTemplateNotFound(t *testing.T) {
	env := NewEnvironment()
	env.SetLoader(NewMapLoader(map[string]string{}))

	_, err := env.LoadTemplate("missing.html")
	if err == nil {
		t.Fatalf("expected error for missing template")
	}

	var notFound *TemplateNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected TemplateNotFoundError, got %T: %v", err, err)
	}

	if notFound.Name != "missing.html" {
		t.Fatalf("expected missing.html, got %s", notFound.Name)
	}

	if len(notFound.Tried) != 1 || notFound.Tried[0] != "missing.html" {
		t.Fatalf("unexpected tried list: %#v", notFound.Tried)
	}
}

func TestIncludeTemplatesNotFoundAggregates(t *testing.T) {
	env := NewEnvironment()
	env.SetLoader(NewMapLoader(map[string]string{}))

	tpl, err := env.ParseString("{% include ['missing1.html', 'missing2.html'] %}", "test")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	_, err = tpl.ExecuteToString(nil)
	if err == nil {
		t.Fatalf("expected error when including missing templates")
	}

	var multi *TemplatesNotFoundError
	if !errors.As(err, &multi) {
		t.Fatalf("expected TemplatesNotFoundError, got %T: %v", err, err)
	}

	if len(multi.Names) != 2 {
		t.Fatalf("expected two names, got %v", multi.Names)
	}

	if multi.Names[0] != "missing1.html" || multi.Names[1] != "missing2.html" {
		t.Fatalf("unexpected template names: %v", multi.Names)
	}

	if len(multi.Tried) != 2 {
		t.Fatalf("expected tried list to include attempted templates, got %v", multi.Tried)
	}

	if multi.Unwrap() == nil {
		t.Fatalf("expected aggregated error to retain underlying cause")
	}
}

func TestFuelExhaustion(t *testing.T) {
	env := NewEnvironment()
	env.SetFuel(50)

	tmpl, err := env.NewTemplate(`{% for i in range(1000) %}{{ i }}{% endfor %}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	_, err = tmpl.ExecuteToString(nil)
	if err == nil {
		t.Fatal("expected fuel exhaustion error, got nil")
	}
	if !strings.Contains(err.Error(), "fuel exhausted") {
		t.Fatalf("expected fuel exhaustion error, got %v", err)
	}
}

func TestRecursionLimitConfigurable(t *testing.T) {
	env := NewEnvironment()
	env.SetRecursionLimit(5)
	env.SetLoader(NewMapLoader(map[string]string{
		"self.html": `{% include "self.html" %}`,
	}))

	tmpl, err := env.ParseFile("self.html")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	_, err = tmpl.ExecuteToString(nil)
	if err == nil {
		t.Fatal("expected recursion limit error, got nil")
	}
	if !strings.Contains(err.Error(), "recursion limit") {
		t.Fatalf("expected recursion limit error, got %v", err)
	}
}
