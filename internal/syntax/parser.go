package syntax

import (
	"context"
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// ErrNoGrammar is returned when a parse is requested without a grammar.
var ErrNoGrammar = errors.New("syntax: no grammar")

// Parser is a tree-sitter parser rebound to the requested grammar on every
// call. A Parser is not safe for concurrent use; give each worker its own.
type Parser struct {
	p *sitter.Parser
}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{p: sitter.NewParser()}
}

// Close releases the underlying tree-sitter parser.
func (p *Parser) Close() {
	p.p.Close()
}

// FullParse parses src from scratch. Malformed input is not an error: the
// returned tree carries ERROR or MISSING nodes instead.
func (p *Parser) FullParse(ctx context.Context, lang *sitter.Language, src []byte) (*Tree, error) {
	if lang == nil {
		return nil, ErrNoGrammar
	}
	p.p.SetLanguage(lang)
	raw, err := p.p.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("syntax: parse: %w", err)
	}
	return &Tree{raw: raw, src: src, lang: lang}, nil
}

// ApplyEdit applies changes to prior and re-parses, reusing the subtrees the
// changes did not touch. prior is left untouched: the edits are recorded on
// a copy of its tree. When prior was parsed with a different grammar the
// old tree cannot be reused and the replayed text is parsed from scratch.
func (p *Parser) ApplyEdit(ctx context.Context, lang *sitter.Language, prior *Tree, changes []Change) (*Tree, error) {
	if lang == nil {
		return nil, ErrNoGrammar
	}
	if prior == nil || prior.raw == nil {
		return nil, errors.New("syntax: apply edit: no prior tree")
	}

	src := prior.src
	edited := prior.raw.Copy()
	for i, c := range changes {
		e, err := EditFor(src, c)
		if err != nil {
			return nil, fmt.Errorf("syntax: apply edit: change %d: %w", i, err)
		}
		edited.Edit(e.input())
		src = splice(src, c)
	}

	if prior.lang != lang {
		return p.FullParse(ctx, lang, src)
	}

	p.p.SetLanguage(lang)
	raw, err := p.p.ParseCtx(ctx, edited, src)
	if err != nil {
		return nil, fmt.Errorf("syntax: reparse: %w", err)
	}
	return &Tree{raw: raw, src: src, lang: lang}, nil
}
