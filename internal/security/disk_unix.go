//go:build linux || darwin || freebsd

package security

import (
	"golang.org/x/sys/unix"

	"nudge/internal/constants"
)

func (al *AuditLogger) hasEnoughDiskSpace() bool {
	var stat unix.Statfs_t
	if err := unix.Statfs(al.logDir, &stat); err != nil {
		return true
	}

	available := uint64(stat.Bavail) * uint64(stat.Bsize)
	return int64(available) > constants.MinDiskSpaceRequired
}
