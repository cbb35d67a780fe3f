package utils

import (
	"fmt"
	"time"
)

// FormatBytes renders n with decimal units, e.g. 1.5 MB.
func FormatBytes(n uint64) string {
	const unit = 1000
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "kMGTPE"[exp])
}

// FormatDuration renders an elapsed transfer time in seconds with
// millisecond precision.
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// FormatRate renders the throughput of n bytes over d.
func FormatRate(n uint64, d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return FormatBytes(uint64(float64(n)/d.Seconds())) + "/s"
}
