package policy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/reglet-dev/capbridge/values"
)

// ErrDenied is returned by Admit for denied modules.
var ErrDenied = errors.New("module denied by policy")

const kindModule = "module"

var _ Policy = (*GlobPolicy)(nil)

// GlobPolicy admits modules whose name is valid and whose absolute path
// matches one of the allowed doublestar patterns. With no patterns every
// validly named module is admitted.
type GlobPolicy struct {
	allowed         []string
	denial          DenialHandler
	resolveSymlinks bool
}

// Option configures a GlobPolicy.
type Option func(*GlobPolicy)

// WithAllowedPaths sets the allowed path patterns.
func WithAllowedPaths(patterns ...string) Option {
	return func(p *GlobPolicy) {
		p.allowed = append(p.allowed, patterns...)
	}
}

// WithDenialHandler sets the handler notified of denials.
func WithDenialHandler(h DenialHandler) Option {
	return func(p *GlobPolicy) {
		p.denial = h
	}
}

// WithSymlinkResolution resolves symlinks before matching, so a link inside
// an allowed directory cannot point a load outside it.
func WithSymlinkResolution(enabled bool) Option {
	return func(p *GlobPolicy) {
		p.resolveSymlinks = enabled
	}
}

// NewPolicy creates a GlobPolicy. Denials go to a SlogDenialHandler unless
// another handler is set.
func NewPolicy(opts ...Option) *GlobPolicy {
	p := &GlobPolicy{
		denial:          &SlogDenialHandler{},
		resolveSymlinks: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckModule implements Policy.
func (p *GlobPolicy) CheckModule(req ModuleRequest) bool {
	ok, reason := p.EvaluateModule(req)
	if !ok && p.denial != nil {
		p.denial.OnDenial(kindModule, req, reason)
	}
	return ok
}

// EvaluateModule implements Policy.
func (p *GlobPolicy) EvaluateModule(req ModuleRequest) (bool, string) {
	if _, err := values.NewModuleName(req.Name); err != nil {
		return false, err.Error()
	}
	if req.Path == "" {
		return false, "empty module path"
	}
	if len(p.allowed) == 0 {
		return true, ""
	}

	path, err := p.normalize(req.Path)
	if err != nil {
		return false, err.Error()
	}

	for _, pattern := range p.allowed {
		if matched, _ := doublestar.PathMatch(filepath.Clean(pattern), path); matched {
			return true, ""
		}
	}
	return false, fmt.Sprintf("path %s matches no allowed pattern", path)
}

// Admit implements capability.Admitter.
func (p *GlobPolicy) Admit(_ context.Context, name, path string) error {
	req := ModuleRequest{Name: name, Path: path}
	ok, reason := p.EvaluateModule(req)
	if ok {
		return nil
	}
	if p.denial != nil {
		p.denial.OnDenial(kindModule, req, reason)
	}
	return fmt.Errorf("%w: %s", ErrDenied, reason)
}

func (p *GlobPolicy) normalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if !p.resolveSymlinks {
		return abs, nil
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Missing files are matched by their lexical path; the loader
		// reports them as not found.
		return abs, nil
	}
	return resolved, nil
}
