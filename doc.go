// Package capbridge routes data-processing operations to native WebAssembly
// modules and falls back to pure Go implementations when a module is
// missing, rejected or faulty.
//
// A Bridge is built from a config.Config:
//
//	cfg, err := config.Load("capbridge.yaml")
//	if err != nil {
//	    return err
//	}
//	b, err := capbridge.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer b.Close(ctx)
//
//	resp := b.Call(ctx, "process", payload, router.ModeBalanced)
//
// Call never returns an error. Each sub-result reports the backend that
// produced it, and Response.Degraded is set when any part fell back.
package capbridge
