package utils

import (
	"fmt"
	"os"
)

// EnvHostLabel overrides the hostname peers announce to each other.
const EnvHostLabel = "NUDGE_HOST_LABEL"

// HostLabel returns the label to announce, or nil when hide is set.
func HostLabel(hide bool) (*string, error) {
	if hide {
		return nil, nil
	}

	label := GetEnv(EnvHostLabel, "")
	if label == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("hostname: %w", err)
		}
		label = hostname
	}
	return &label, nil
}
