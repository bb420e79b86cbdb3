package capbridge

import (
	"github.com/reglet-dev/capbridge/capability"
	"github.com/reglet-dev/capbridge/config"
	"github.com/reglet-dev/capbridge/parser"
	"github.com/reglet-dev/capbridge/router"
	"github.com/reglet-dev/capbridge/schema"
)

// Schema kinds known to Schemas.
const (
	SchemaConfig     = config.SchemaKind
	SchemaManifest   = "manifest"
	SchemaResponse   = "response"
	SchemaHealth     = "health"
	SchemaCapability = "capability"
)

// Schemas returns a registry holding the JSON schema of every document the
// bridge reads or writes.
func Schemas() (*schema.Registry, error) {
	r := schema.NewRegistry()
	models := []struct {
		kind  string
		model any
	}{
		{SchemaConfig, config.Config{}},
		{SchemaManifest, parser.Manifest{}},
		{SchemaResponse, router.Response{}},
		{SchemaHealth, router.Health{}},
		{SchemaCapability, capability.Description{}},
	}
	for _, m := range models {
		if err := r.Register(m.kind, m.model); err != nil {
			return nil, err
		}
	}
	return r, nil
}
