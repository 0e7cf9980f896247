package grammar

import (
	"errors"
	"fmt"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
	"go.uber.org/zap"
)

// ErrUnknownLanguage is returned for a language name with no grammar.
var ErrUnknownLanguage = errors.New("grammar: unknown language")

// ErrNoScopes is returned for a language that serves no scopes.
var ErrNoScopes = errors.New("grammar: language has no scopes")

// Provisioner instantiates installed languages and registers their scopes.
type Provisioner struct {
	registry *Registry
	logger   *zap.Logger
	lookup   func(lang string) (*sitter.Language, bool)

	// overrides replace the built-in scope list for a language.
	overrides map[string][]string
}

// ProvisionOption configures a Provisioner.
type ProvisionOption func(*Provisioner)

// WithScopeOverrides replaces the built-in scopes of the named languages.
// Languages absent from the catalogue may be named here too; they still
// need a grammar from the lookup function to provision.
func WithScopeOverrides(overrides map[string][]string) ProvisionOption {
	return func(p *Provisioner) {
		for lang, scopes := range overrides {
			p.overrides[lang] = append([]string(nil), scopes...)
		}
	}
}

// WithLogger sets the logger provisioning failures are reported to.
func WithLogger(logger *zap.Logger) ProvisionOption {
	return func(p *Provisioner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithLookup replaces the built-in catalogue as the source of grammars.
func WithLookup(fn func(lang string) (*sitter.Language, bool)) ProvisionOption {
	return func(p *Provisioner) {
		p.lookup = fn
	}
}

// NewProvisioner creates a Provisioner that registers into reg.
func NewProvisioner(reg *Registry, opts ...ProvisionOption) *Provisioner {
	p := &Provisioner{
		registry:  reg,
		logger:    zap.NewNop(),
		lookup:    Builtin,
		overrides: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result summarizes one provisioning pass.
type Result struct {
	// Languages that were instantiated, sorted.
	Languages []string
	// Scopes newly registered by this pass, sorted.
	Scopes []string
	// Failed maps language names to the reason they were skipped.
	Failed map[string]error
}

// Provision instantiates each named language and registers all of its
// scopes. It is idempotent: scopes already registered are left alone.
//
// A language that cannot be provisioned is logged and skipped; its scopes
// stay unsupported. The returned error summarizes the failures but the
// Result is always usable.
func (p *Provisioner) Provision(languages []string) (Result, error) {
	res := Result{Failed: make(map[string]error)}

	seen := make(map[string]bool, len(languages))
	var errs []error
	for _, name := range languages {
		if seen[name] {
			continue
		}
		seen[name] = true

		scopes, err := p.provisionOne(name)
		if err != nil {
			res.Failed[name] = err
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			p.logger.Warn("language not provisioned",
				zap.String("language", name), zap.Error(err))
			continue
		}
		res.Languages = append(res.Languages, name)
		res.Scopes = append(res.Scopes, scopes...)
	}
	sort.Strings(res.Languages)
	sort.Strings(res.Scopes)

	if len(errs) > 0 {
		return res, fmt.Errorf("provisioning had %d error(s): %w", len(errs), errs[0])
	}
	return res, nil
}

func (p *Provisioner) provisionOne(name string) ([]string, error) {
	scopes := p.ScopesFor(name)
	if len(scopes) == 0 {
		if _, ok := p.lookup(name); !ok {
			return nil, ErrUnknownLanguage
		}
		return nil, ErrNoScopes
	}
	lang, ok := p.lookup(name)
	if !ok {
		return nil, ErrUnknownLanguage
	}

	var added []string
	for _, scope := range scopes {
		if p.registry.Register(scope, lang) {
			added = append(added, scope)
		}
	}
	p.logger.Debug("language provisioned",
		zap.String("language", name), zap.Strings("scopes", scopes))
	return added, nil
}

// ScopesFor returns the scopes a language serves, honoring overrides.
func (p *Provisioner) ScopesFor(lang string) []string {
	if scopes, ok := p.overrides[lang]; ok {
		return append([]string(nil), scopes...)
	}
	return DefaultScopes(lang)
}

// LanguageForScope returns the language name serving scope.
func (p *Provisioner) LanguageForScope(scope string) (string, bool) {
	for lang, scopes := range p.overrides {
		for _, s := range scopes {
			if s == scope {
				return lang, true
			}
		}
	}
	for lang, scopes := range defaultScopes {
		if _, overridden := p.overrides[lang]; overridden {
			continue
		}
		for _, s := range scopes {
			if s == scope {
				return lang, true
			}
		}
	}
	return "", false
}
