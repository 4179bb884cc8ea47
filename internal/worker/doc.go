// Package worker provides a start/stop lifecycle for long-running loops.
//
// A Worker runs exactly one goroutine executing its loop body while active.
// The loop receives a context that is cancelled when Stop is called, and is
// expected to return promptly after observing ctx.Done().
//
// Lifecycle hooks fire once per start/stop cycle:
//
//	BeforeStart -> loop spawned -> AfterStart
//	BeforeStop  -> loop signalled (and awaited) -> AfterStop
//
// Example usage:
//
//	w := worker.New(worker.Config{
//	    Name: "poller",
//	    Loop: func(ctx context.Context) {
//	        for {
//	            select {
//	            case <-ctx.Done():
//	                return
//	            case <-ticker.C:
//	                poll(ctx)
//	            }
//	        }
//	    },
//	})
//
//	if err := w.Start(ctx); err != nil {
//	    return err
//	}
//	defer w.Stop(true)
package worker
