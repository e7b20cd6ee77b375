package runtime

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/deicod/gojinja2/compiler"
	"github.com/deicod/gojinja2/nodes"
	"github.com/deicod/gojinja2/value"
	"github.com/deicod/gojinja2/vm"
)

// Template represents a compiled template ready for rendering
type Template struct {
	name          string
	environment   *Environment
	ast           *nodes.Template
	autoescape    bool
	blocks        map[string]*nodes.Block
	macros        map[string]*nodes.Macro
	imports       map[string]*Template
	macroRegistry *MacroRegistry

	// compiledRoot is the bytecode compiler.Compile produced for this
	// template's AST; it is built once, eagerly, in NewTemplate so any
	// compile error surfaces at template-construction time rather than on
	// first render (Root(), required by vm.CompiledTemplate, has no error
	// return).
	compiledRoot *vm.Instructions
}

// TemplateName satisfies vm.CompiledTemplate.
func (t *Template) TemplateName() string { return t.name }

// Root satisfies vm.CompiledTemplate, returning this template's compiled
// bytecode.
func (t *Template) Root() *vm.Instructions { return t.compiledRoot }

// NewTemplate creates a new template from an AST
func NewTemplate(env *Environment, ast *nodes.Template, name string) (*Template, error) {
	if env == nil {
		return nil, NewError(ErrorTypeTemplate, "environment cannot be nil", nodes.Position{}, nil)
	}
	if ast == nil {
		return nil, NewError(ErrorTypeTemplate, "AST cannot be nil", nodes.Position{}, nil)
	}

	template := &Template{
		name:          name,
		environment:   env,
		ast:           ast,
		autoescape:    env.shouldAutoescape(name),
		blocks:        make(map[string]*nodes.Block),
		macros:        make(map[string]*nodes.Macro),
		imports:       make(map[string]*Template),
		macroRegistry: env.macroRegistry,
	}

	// Pre-process the template to collect blocks and macros
	if err := template.preprocess(); err != nil {
		return nil, fmt.Errorf("failed to preprocess template: %w", err)
	}

	root, err := compiler.Compile(name, ast)
	if err != nil {
		return nil, fmt.Errorf("failed to compile template: %w", err)
	}
	template.compiledRoot = root

	return template, nil
}

// preprocess analyzes the AST to collect blocks and macros, rejecting
// templates that declare the same block twice or extend more than once.
func (t *Template) preprocess() error {
	var walkErr error
	visitor := nodes.NodeVisitorFunc(func(node nodes.Node) interface{} {
		switch n := node.(type) {
		case *nodes.Block:
			if _, dup := t.blocks[n.Name]; dup && walkErr == nil {
				walkErr = NewError(ErrorTypeTemplate, fmt.Sprintf("block %q defined twice", n.Name), n.GetPosition(), n)
			}
			t.blocks[n.Name] = n
		case *nodes.Macro:
			t.macros[n.Name] = n
		}
		return nil
	})

	nodes.Walk(visitor, t.ast)
	if walkErr != nil {
		return walkErr
	}

	extendsSeen := false
	for _, node := range t.ast.Body {
		if ext, ok := node.(*nodes.Extends); ok {
			if extendsSeen {
				return NewError(ErrorTypeTemplate, "multiple extends statements not allowed", ext.GetPosition(), ext)
			}
			extendsSeen = true
		}
	}
	return nil
}

// Execute renders the template to the given writer with the provided context
func (t *Template) Execute(vars map[string]interface{}, writer io.Writer) error {
	if writer == nil {
		return NewError(ErrorTypeTemplate, "writer cannot be nil", nodes.Position{}, nil)
	}

	useTrim := !t.environment.ShouldKeepTrailingNewline()
	var buffer bytes.Buffer
	outWriter := &buffer

	// Create context
	ctx := NewContextWithEnvironment(t.environment, vars)
	ctx.SetAutoescape(t.autoescape)
	ctx.current = t
	ctx.writer = outWriter

	if err := t.ExecuteWithContext(ctx); err != nil {
		return err
	}

	output := buffer.String()
	if useTrim {
		switch {
		case strings.HasSuffix(output, "\r\n"):
			output = output[:len(output)-2]
		case strings.HasSuffix(output, "\n"):
			output = output[:len(output)-1]
		}
	}
	_, err := writer.Write([]byte(output))
	return err
}

// ExecuteWithContext renders the template using an existing context by
// driving the bytecode compiler.Compile produced for it on a fresh
// vm.Machine, writing the result to ctx.writer (if any) and copying the
// machine's top-level exports back onto ctx.scope for MakeModule to pick up.
func (t *Template) ExecuteWithContext(ctx *Context) error {
	// Ensure current template is set
	if ctx.current == nil {
		ctx.current = t
	}

	machine := vm.NewMachine(newEnvironmentHost(t.environment))
	out, err := machine.Render(t, ctxBaseVars(ctx))
	if err != nil {
		return err
	}

	for name, v := range machine.Exports() {
		ctx.scope.SetExport(name, value.ToGo(v))
	}

	if ctx.writer != nil {
		if _, werr := ctx.writer.Write([]byte(out)); werr != nil {
			return werr
		}
	}

	// Check for any errors that occurred during rendering
	if ctx.HasErrors() {
		return ctx.GetErrors()[0] // Return the first error
	}

	return nil
}

// Generate renders the template asynchronously, exposing the output as a
// TemplateStream the caller drains with Next/Collect/WriteTo.
func (t *Template) Generate(vars map[string]interface{}) (*TemplateStream, error) {
	stream := newTemplateStream(!t.environment.ShouldKeepTrailingNewline())

	go func() {
		ctx := NewContextWithEnvironment(t.environment, vars)
		ctx.SetAutoescape(t.autoescape)
		ctx.current = t
		ctx.writer = &streamWriter{stream: stream}
		stream.close(t.ExecuteWithContext(ctx))
	}()

	return stream, nil
}

// ExecuteToString renders the template to a string
func (t *Template) ExecuteToString(vars map[string]interface{}) (string, error) {
	var buf bytes.Buffer
	err := t.Execute(vars, &buf)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// newModuleContext prepares a context suitable for module execution.
func (t *Template) newModuleContext(vars map[string]interface{}) *Context {
	ctx := NewContextWithEnvironment(t.environment, vars)
	ctx.SetAutoescape(t.autoescape)
	ctx.current = t

	var buf strings.Builder
	ctx.writer = &buf

	return ctx
}

// makeModuleFromContext executes the template with the provided context and
// produces a module namespace. Macro entries pair the AST-level metadata
// collected by preprocess with the compiled callable the VM exported for
// the same name, so module macros are both introspectable and invocable.
func (t *Template) makeModuleFromContext(ctx *Context) (*MacroNamespace, error) {
	if err := t.ExecuteWithContext(ctx); err != nil {
		return nil, err
	}

	module := NewMacroNamespace(t.name, t)
	module.Context = ctx

	exports := ctx.Exports()
	registry := t.environment.GetMacroRegistry()
	for name, macroNode := range t.macros {
		macro := NewMacro(macroNode, t)
		if exported, ok := exports[name]; ok {
			if callable, ok := exported.(value.ObjectCallable); ok {
				macro.callable = callable
			}
		}
		module.AddMacro(name, macro)
		if registry != nil {
			registry.RegisterTemplate(t.name, name, macro)
		}
	}

	for name, v := range exports {
		module.AddExport(name, v)
	}

	return module, nil
}

// MakeModule executes the template in module mode and returns a namespace with exported members.
func (t *Template) MakeModule(vars map[string]interface{}) (*MacroNamespace, error) {
	ctx := t.newModuleContext(vars)
	return t.makeModuleFromContext(ctx)
}

// Name returns the template name
func (t *Template) Name() string {
	return t.name
}

// Environment returns the template's environment
func (t *Template) Environment() *Environment {
	return t.environment
}

// AST returns the template's AST
func (t *Template) AST() *nodes.Template {
	return t.ast
}

// Autoescape returns whether autoescaping is enabled
func (t *Template) Autoescape() bool {
	return t.autoescape
}

// GetBlock returns a block by name
func (t *Template) GetBlock(name string) (*nodes.Block, bool) {
	block, ok := t.blocks[name]
	return block, ok
}

// GetMacro returns a macro by name
func (t *Template) GetMacro(name string) (*nodes.Macro, bool) {
	macro, ok := t.macros[name]
	return macro, ok
}

// HasBlock checks if a block exists
func (t *Template) HasBlock(name string) bool {
	_, ok := t.blocks[name]
	return ok
}

// HasMacro checks if a macro exists
func (t *Template) HasMacro(name string) bool {
	_, ok := t.macros[name]
	return ok
}

// BlockNames returns all block names
func (t *Template) BlockNames() []string {
	names := make([]string, 0, len(t.blocks))
	for name := range t.blocks {
		names = append(names, name)
	}
	return names
}

// MacroNames returns all macro names
func (t *Template) MacroNames() []string {
	names := make([]string, 0, len(t.macros))
	for name := range t.macros {
		names = append(names, name)
	}
	return names
}

// GetBlocks returns all blocks
func (t *Template) GetBlocks() map[string]*nodes.Block {
	blocks := make(map[string]*nodes.Block)
	for name, block := range t.blocks {
		blocks[name] = block
	}
	return blocks
}

// GetMacros returns all macros
func (t *Template) GetMacros() map[string]*nodes.Macro {
	macros := make(map[string]*nodes.Macro)
	for name, macro := range t.macros {
		macros[name] = macro
	}
	return macros
}

// RenderBlock renders a specific block in isolation, using the VM's own
// extends-chain dispatch (vm.Machine.RenderBlock) so the most-derived
// override in t's inheritance chain is what actually runs.
func (t *Template) RenderBlock(blockName string, vars map[string]interface{}, writer io.Writer) error {
	if _, ok := t.blocks[blockName]; !ok {
		return NewError(ErrorTypeTemplate, fmt.Sprintf("block '%s' not found", blockName), nodes.Position{}, nil)
	}

	ctx := NewContextWithEnvironment(t.environment, vars)
	ctx.SetAutoescape(t.autoescape)
	ctx.current = t

	machine := vm.NewMachine(newEnvironmentHost(t.environment))
	out, err := machine.RenderBlock(t, blockName, ctxBaseVars(ctx))
	if err != nil {
		return err
	}

	_, err = writer.Write([]byte(out))
	return err
}

// RenderBlockToString renders a specific block to a string
func (t *Template) RenderBlockToString(blockName string, vars map[string]interface{}) (string, error) {
	var buf bytes.Buffer
	err := t.RenderBlock(blockName, vars, &buf)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// String returns a string representation of the template
func (t *Template) String() string {
	return fmt.Sprintf("Template(name=%s, autoescape=%t)", t.name, t.autoescape)
}

// Dump returns a debug representation of the template's AST
func (t *Template) Dump() string {
	return nodes.Dump(t.ast)
}

// NewTemplateFromString is a convenience function to create a template from a string
func NewTemplateFromString(templateString string) (*Template, error) {
	env := NewEnvironment()
	return env.NewTemplate(templateString)
}

// NewTemplateFromAST is a convenience function to create a template from an AST
func NewTemplateFromAST(ast *nodes.Template, name string) (*Template, error) {
	env := NewEnvironment()
	return env.NewTemplateFromAST(ast, name)
}

// TemplateList represents a collection of templates
type TemplateList struct {
	templates   map[string]*Template
	environment *Environment
}

// NewTemplateList creates a new template list
func NewTemplateList(env *Environment) *TemplateList {
	return &TemplateList{
		templates:   make(map[string]*Template),
		environment: env,
	}
}

// Add adds a template to the list
func (tl *TemplateList) Add(template *Template) {
	tl.templates[template.Name()] = template
}

// Get gets a template by name
func (tl *TemplateList) Get(name string) (*Template, bool) {
	template, ok := tl.templates[name]
	return template, ok
}

// Has checks if a template exists
func (tl *TemplateList) Has(name string) bool {
	_, ok := tl.templates[name]
	return ok
}

// Remove removes a template by name
func (tl *TemplateList) Remove(name string) {
	delete(tl.templates, name)
}

// Clear removes all templates
func (tl *TemplateList) Clear() {
	tl.templates = make(map[string]*Template)
}

// Names returns all template names
func (tl *TemplateList) Names() []string {
	names := make([]string, 0, len(tl.templates))
	for name := range tl.templates {
		names = append(names, name)
	}
	return names
}

// Size returns the number of templates
func (tl *TemplateList) Size() int {
	return len(tl.templates)
}

// All returns all templates
func (tl *TemplateList) All() map[string]*Template {
	templates := make(map[string]*Template)
	for name, template := range tl.templates {
		templates[name] = template
	}
	return templates
}

// Environment returns the environment
func (tl *TemplateList) Environment() *Environment {
	return tl.environment
}

// String returns a string representation of the template list
func (tl *TemplateList) String() string {
	var names []string
	for name := range tl.templates {
		names = append(names, name)
	}
	return fmt.Sprintf("TemplateList(templates=[%s])", strings.Join(names, ", "))
}
