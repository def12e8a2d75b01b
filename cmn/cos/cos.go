package cos

import "math"

// StringInSlice reports whether s is present in list.
func StringInSlice(s string, list []string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// WithinTolerance reports whether readback is within tolerance of setpoint,
// per §4.4's wait-group reconciliation rule.
func WithinTolerance(setpoint, readback, tolerance float64) bool {
	if tolerance <= 0 {
		return setpoint == readback
	}
	return math.Abs(setpoint-readback) <= tolerance
}

// ClampBackoff bounds an exponential backoff delay, per §7 TransportError
// handling (bounded at 30s).
func ClampBackoff(attempt int, unitMillis, capMillis int64) int64 {
	d := unitMillis << attempt //nolint:gosec // attempt is always small
	if d > capMillis || d <= 0 {
		return capMillis
	}
	return d
}
