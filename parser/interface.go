package parser

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/reglet-dev/capbridge/values"
)

// ErrInvalidManifest is returned when a manifest parses but its fields are
// unusable.
var ErrInvalidManifest = errors.New("invalid module manifest")

// Manifest describes a native module file. It sits next to the module as
// manifest.yaml or manifest.json.
type Manifest struct {
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Digest      string `json:"digest,omitempty" yaml:"digest,omitempty"`
}

// Validate checks the name, version and digest fields.
func (m *Manifest) Validate() error {
	var errs []error
	if _, err := values.NewModuleName(m.Name); err != nil {
		errs = append(errs, err)
	}
	if m.Version != "" {
		if _, err := semver.NewVersion(m.Version); err != nil {
			errs = append(errs, fmt.Errorf("version: %w", err))
		}
	}
	if m.Digest != "" {
		if _, err := values.ParseDigest(m.Digest); err != nil {
			errs = append(errs, fmt.Errorf("digest: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	return nil
}

// ManifestParser parses raw manifest bytes into a Manifest.
type ManifestParser interface {
	// Parse unmarshals manifest bytes into a Manifest struct.
	Parse(data []byte) (*Manifest, error)
}

// ForFile picks a parser from the file extension.
func ForFile(path string) (ManifestParser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return NewYamlManifestParser(), nil
	case ".json":
		return NewJSONManifestParser(), nil
	default:
		return nil, fmt.Errorf("no manifest parser for %s", path)
	}
}
