// Package sysmem reports total system memory and the peak resident set size
// of the current process.
//
// Total RAM sizes the default memory budget; peak RSS is surfaced in the run
// report next to the Go heap peak.
package sysmem

// DefaultMemoryBytes is the fallback memory value (4 GB) used when
// platform-specific detection fails or is unsupported.
const DefaultMemoryBytes uint64 = 4 * 1024 * 1024 * 1024

// Result holds the result of memory detection.
type Result struct {
	// TotalBytes is the total system memory in bytes.
	TotalBytes uint64

	// Reliable indicates whether the value was obtained from
	// a platform-specific method (true) or is a fallback default (false).
	Reliable bool
}

// Total returns the total system memory, or DefaultMemoryBytes with
// Reliable=false when detection fails.
func Total() Result {
	bytes, ok := totalSystemMemory()
	if !ok || bytes == 0 {
		return Result{TotalBytes: DefaultMemoryBytes}
	}
	return Result{TotalBytes: bytes, Reliable: true}
}

// PeakRSS returns the maximum resident set size of this process in bytes.
// ok is false on platforms where it cannot be measured.
func PeakRSS() (bytes uint64, ok bool) {
	return peakRSS()
}
