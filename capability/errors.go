package capability

import (
	"errors"
	"fmt"
)

// Sentinel errors for load failures.
// These allow both errors.Is() checks and errors.As() for detailed information.
var (
	// ErrLoadFailed matches every *LoadError.
	ErrLoadFailed = errors.New("module load failed")

	// ErrModuleNotFound is returned when the module file does not exist or
	// no locator can find it.
	ErrModuleNotFound = errors.New("module not found")

	// ErrMissingSymbol is returned when a required export is absent.
	ErrMissingSymbol = errors.New("missing required symbol")

	// ErrSignatureMismatch is returned when an export has the wrong type.
	ErrSignatureMismatch = errors.New("symbol signature mismatch")

	// ErrUnknownModule is returned for names with no registered ModuleSpec.
	ErrUnknownModule = errors.New("unknown module")

	// ErrAdmissionDenied is returned when the admission policy rejects a module.
	ErrAdmissionDenied = errors.New("module admission denied")

	// ErrRegistryClosed is returned for loads attempted after Close.
	ErrRegistryClosed = errors.New("registry closed")
)

// LoadError records why a module could not be loaded. It is stored in the
// module's descriptor once and never raised past the Registry.
type LoadError struct {
	Module string
	Path   string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load %s: %v", e.Module, e.Err)
	}
	return fmt.Sprintf("load %s from %s: %v", e.Module, e.Path, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// Is implements error matching for errors.Is() checks.
// This allows: errors.Is(err, capability.ErrLoadFailed)
func (e *LoadError) Is(target error) bool {
	return target == ErrLoadFailed
}
