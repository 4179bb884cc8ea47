// Package buslock arbitrates access to shared hardware buses.
//
// Several PHI instances may sit on one physical bus (an RS-485 line, an
// I2C segment, a KNX line behind one interface). A Registry hands out one
// lock per bus identifier, created lazily on first use and kept for the
// process lifetime.
//
// Acquisition is bounded: Acquire reports false when the wait exceeds the
// timeout instead of returning an error. Release is idempotent and never
// blocks, so callers can always pair it with a defer:
//
//	if !locks.Acquire(ctx, "rs485-1", 200*time.Millisecond) {
//	    return ErrResourceBusy
//	}
//	defer locks.Release("rs485-1")
package buslock
