package parser

import (
	"github.com/deicod/gojinja2/lexer"
	"github.com/deicod/gojinja2/nodes"
)

// ParseSpaceless parses `{% spaceless %}...{% endspaceless %}`, which
// collapses whitespace between HTML tags in its rendered output.
func (p *Parser) ParseSpaceless() (nodes.Node, error) {
	lineno := p.stream.Next().Line // consume 'spaceless'

	body, err := p.ParseStatements([]string{"name:endspaceless"}, true)
	if err != nil {
		return nil, err
	}

	spaceless := &nodes.Spaceless{Body: body}
	spaceless.SetPosition(nodes.NewPosition(lineno, 0))
	return spaceless, nil
}

// ParseNamespace parses `{% namespace name = expr %}...{% endnamespace %}`,
// binding a namespace object to name for the duration of the body (see
// nodes.Namespace and the Object implementation it compiles to).
func (p *Parser) ParseNamespace() (nodes.Node, error) {
	lineno := p.stream.Next().Line // consume 'namespace'

	nameToken, err := p.Expect(lexer.TokenName)
	if err != nil {
		return nil, err
	}

	var value nodes.Expr
	if p.SkipIf(lexer.TokenAssign) {
		value, err = p.ParseExpression()
		if err != nil {
			return nil, err
		}
	}

	body, err := p.ParseStatements([]string{"name:endnamespace"}, true)
	if err != nil {
		return nil, err
	}

	ns := &nodes.Namespace{Name: nameToken.Value, Value: value, Body: body}
	ns.SetPosition(nodes.NewPosition(lineno, 0))
	return ns, nil
}

// ParseExport parses `{% export name, ... %}`, which re-exposes names
// bound in the current scope to the template's top-level exports
// regardless of the block/with/for scope they were assigned in.
func (p *Parser) ParseExport() (nodes.Node, error) {
	lineno := p.stream.Next().Line // consume 'export'

	var names []*nodes.Name
	for {
		if len(names) > 0 {
			if p.stream.Peek().Type != lexer.TokenComma {
				break
			}
			p.stream.Next()
		}
		nameToken, err := p.Expect(lexer.TokenName)
		if err != nil {
			return nil, err
		}
		n := &nodes.Name{Name: nameToken.Value, Ctx: nodes.CtxLoad}
		n.SetPosition(nodes.NewPosition(nameToken.Line, 0))
		names = append(names, n)
	}

	export := &nodes.Export{Names: names}
	export.SetPosition(nodes.NewPosition(lineno, 0))
	return export, nil
}

// ParseTrans parses `{% trans %}...{% pluralize %}...{% endtrans %}` (and
// the `{% blocktrans %}` spelling, selected by blockMode, which differs
// from `trans` only in keyword names at the lexer level in real Jinja;
// this parser accepts either spelling for both forms). Optional leading
// `name=expr[, ...]` keyword pairs bind template variables into the
// translated body; `count` additionally selects pluralization.
func (p *Parser) ParseTrans(blockMode bool) (nodes.Node, error) {
	lineno := p.stream.Next().Line // consume 'trans'/'blocktrans'
	endName := "endtrans"
	if blockMode {
		endName = "endblocktrans"
	}

	trans := &nodes.Trans{Variables: map[string]nodes.Expr{}}

	for p.stream.Peek().Type == lexer.TokenName {
		nameToken := p.stream.Next()
		if _, err := p.Expect(lexer.TokenAssign); err != nil {
			return nil, err
		}
		expr, err := p.ParseExpression()
		if err != nil {
			return nil, err
		}
		if nameToken.Value == "count" {
			trans.CountExpr = expr
			trans.CountName = "count"
		} else {
			trans.Variables[nameToken.Value] = expr
		}
		if !p.SkipIf(lexer.TokenComma) {
			break
		}
	}

	body, err := p.ParseStatements([]string{"name:pluralize", "name:" + endName}, false)
	if err != nil {
		return nil, err
	}
	trans.Singular = body

	if p.stream.Peek().Type == lexer.TokenName && p.stream.Peek().Value == "pluralize" {
		p.stream.Next()
		if p.stream.Peek().Type == lexer.TokenName && p.stream.Peek().Value != endName {
			// `{% pluralize count %}` re-states the count variable name.
			trans.CountName = p.stream.Next().Value
		}
		plural, err := p.ParseStatements([]string{"name:" + endName}, true)
		if err != nil {
			return nil, err
		}
		trans.Plural = plural
	} else if p.stream.Peek().Type == lexer.TokenName && p.stream.Peek().Value == endName {
		p.stream.Next()
	}

	trans.SetPosition(nodes.NewPosition(lineno, 0))
	return trans, nil
}
