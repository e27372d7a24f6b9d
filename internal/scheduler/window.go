package scheduler

// InWindow reports whether hour falls inside the [start, end) window.
// Windows may wrap past midnight: (23, 8) covers 23:00 through 07:59.
func InWindow(hour, start, end int) bool {
	if start == end {
		return true
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
