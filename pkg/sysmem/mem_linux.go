//go:build linux

package sysmem

import "golang.org/x/sys/unix"

// totalSystemMemory returns total system RAM on Linux using sysinfo.
func totalSystemMemory() (uint64, bool) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, false
	}
	return info.Totalram * uint64(info.Unit), true
}

// peakRSS reads ru_maxrss, which Linux reports in KiB.
func peakRSS() (uint64, bool) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, false
	}
	return uint64(ru.Maxrss) * 1024, true
}
