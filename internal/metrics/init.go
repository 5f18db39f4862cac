package metrics

// Label values shared with the packages that record them.
var (
	Ops         = []string{"thumbnail", "metadata"}
	Outcomes    = []string{"success", "InvalidArguments", "Timeout", "DecodeUnsupported", "DecodeFailed", "EncodeFailed", "MetadataFailed"}
	TierResults = []string{"success", "unsupported", "error", "unusable", "canceled"}
)

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup with the configured tier and pipeline backend names.
func InitializeMetrics(tiers, backends []string) {
	for _, op := range Ops {
		for _, outcome := range Outcomes {
			RequestsTotal.WithLabelValues(op, outcome)
		}
		RequestDuration.WithLabelValues(op)
		RequestsInFlight.WithLabelValues(op)
	}

	for _, tier := range tiers {
		for _, result := range TierResults {
			TierAttemptsTotal.WithLabelValues(tier, result)
		}
		TierDuration.WithLabelValues(tier)
	}

	for _, backend := range backends {
		PipelineDuration.WithLabelValues(backend)
	}

	for _, status := range []string{"success", "error"} {
		ProbeDuration.WithLabelValues(status)
	}

	volumes := []string{"media", "unknown"}
	for _, op := range []string{"stat", "open"} {
		for _, vol := range volumes {
			FilesystemOperationDuration.WithLabelValues(vol, op)
			FilesystemOperationErrors.WithLabelValues(vol, op)
			FilesystemRetryAttempts.WithLabelValues(op, vol)
			FilesystemRetrySuccess.WithLabelValues(op, vol)
			FilesystemRetryFailures.WithLabelValues(op, vol)
			FilesystemStaleErrors.WithLabelValues(op, vol)
			FilesystemRetryDuration.WithLabelValues(op, vol)
		}
	}
}
