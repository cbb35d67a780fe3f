//go:build !linux && !darwin && !freebsd && !windows

package security

func (al *AuditLogger) hasEnoughDiskSpace() bool {
	return true
}
