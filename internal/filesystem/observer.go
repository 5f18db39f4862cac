package filesystem

// Observer records filesystem operation metrics. The metrics package provides
// the implementation so that filesystem does not import it.
type Observer interface {
	// ObserveOperation records duration and error status for a filesystem operation.
	// operation is "stat" or "open".
	ObserveOperation(volume, operation string, durationSeconds float64, err error)

	ObserveRetryAttempt(retryOp, volume string)
	ObserveRetrySuccess(retryOp, volume string)
	ObserveRetryFailure(retryOp, volume string)
	ObserveRetryDuration(retryOp, volume string, durationSeconds float64)
	ObserveStaleError(retryOp, volume string)
}

// nil means metrics are skipped
var defaultObserver Observer

// SetObserver sets the package-level metrics observer.
// Call this once at startup after creating the observer implementation.
func SetObserver(o Observer) {
	defaultObserver = o
}

func observe() Observer {
	return defaultObserver
}
