package policy_test

import (
	"testing"

	"github.com/reglet-dev/capbridge/policy"
)

func BenchmarkCheckModule(b *testing.B) {
	p := policy.NewPolicy(
		policy.WithDenialHandler(&policy.NopDenialHandler{}),
		policy.WithSymlinkResolution(false),
		policy.WithAllowedPaths("/opt/capbridge/**/*.wasm", "/srv/modules/*.wasm"),
	)
	req := policy.ModuleRequest{Name: "secure_core", Path: "/opt/capbridge/v1/secure_core.wasm"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.CheckModule(req)
	}
}
