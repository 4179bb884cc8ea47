// Package metrics exposes Gray Logic Dispatch runtime metrics in the
// Prometheus text format.
//
// A Metrics value is an observer for both action queues and the bus lock
// registry:
//
//	m := metrics.New()
//	locks.SetObserver(m)
//	core, _ := dispatch.New(cfg, dispatch.Deps{Observer: m, ...})
//
//	srv := metrics.NewServer(cfg.Metrics, m)
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Shutdown(ctx)
//
// Metrics live in a private registry, so tests and multiple instances do not
// collide on the global default registry.
package metrics
