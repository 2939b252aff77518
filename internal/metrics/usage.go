package metrics

// QuotaChecked records the outcome of a quota check.
func QuotaChecked(action string, allowed bool) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	QuotaChecksTotal.WithLabelValues(action, result).Inc()
}

// QuotaCheckFailed records a quota check that could not be evaluated.
func QuotaCheckFailed(action string) {
	QuotaChecksTotal.WithLabelValues(action, "error").Inc()
}

// QuotaRefused records a conditional increment refused at the limit.
func QuotaRefused(action string) {
	QuotaRefusalsTotal.WithLabelValues(action).Inc()
}

// UsageRecorded records a successful increment of n units.
func UsageRecorded(action, backend string, n int64) {
	UsageIncrementsTotal.WithLabelValues(action, backend).Inc()
	UsageUnitsTotal.WithLabelValues(action).Add(float64(n))
}

// StoreFailed records a failed store operation.
func StoreFailed(operation string) {
	UsageStoreErrorsTotal.WithLabelValues(operation).Inc()
}
