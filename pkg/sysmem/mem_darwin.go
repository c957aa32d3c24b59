//go:build darwin

package sysmem

import "golang.org/x/sys/unix"

// totalSystemMemory returns total system RAM on macOS using sysctl.
func totalSystemMemory() (uint64, bool) {
	mem, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return 0, false
	}
	return mem, true
}

// peakRSS reads ru_maxrss, which macOS reports in bytes.
func peakRSS() (uint64, bool) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, false
	}
	return uint64(ru.Maxrss), true
}
