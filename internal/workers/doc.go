/*
Package workers sizes and bounds the pool of goroutines that decode thumbnails.

# Sizing

Count, ForCPU and ForIO derive a worker count from GOMAXPROCS, which Go 1.19+
sets from the container CPU limit. runtime.NumCPU would return the host count
and oversubscribe a small pod:

	workers.ForCPU(8)  // 1 per CPU, at most 8
	workers.ForIO(16)  // 2 per CPU, at most 16

Resolve layers the THUMBNAIL_WORKERS setting on top: a positive value wins,
anything else falls back to ForCPU.

# Pool

Pool is a counting semaphore (golang.org/x/sync/semaphore). The dispatcher
acquires one slot per request with the request's deadline context, so a
request queued behind a full pool still times out on schedule:

	pool := workers.NewPool(workers.Resolve(cfg.Workers, workers.DefaultLimit))
	release, waited, err := pool.Acquire(ctx)
	if err != nil {
	    return err // deadline hit while queued
	}
	defer release()

Release functions are idempotent.
*/
package workers
