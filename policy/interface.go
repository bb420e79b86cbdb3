// Package policy decides which native modules the bridge may load.
package policy

import "context"

// ModuleRequest is a request to load the module file at Path under Name.
type ModuleRequest struct {
	Name string
	Path string
}

// Policy admits or denies module load requests.
type Policy interface {
	// CheckModule reports the decision and notifies the denial handler.
	CheckModule(req ModuleRequest) bool

	// EvaluateModule returns the decision and the denial reason without
	// side effects.
	EvaluateModule(req ModuleRequest) (bool, string)

	// Admit adapts the policy to the capability registry.
	Admit(ctx context.Context, name, path string) error
}

// DenialHandler is called when a policy check denies a request.
type DenialHandler interface {
	// OnDenial is called when a module request is denied.
	OnDenial(kind string, request any, reason string)
}
