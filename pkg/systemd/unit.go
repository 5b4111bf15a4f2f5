package systemd

import (
	"errors"
	"time"
)

var ErrUnsupported = errors.New("systemd: unsupported OS (linux only)")

// UnitStatus describes the service unit hosting this process.
type UnitStatus struct {
	Name        string
	Active      string
	SubState    string
	ActiveSince time.Time
	Restarts    uint32
	Memory      uint64 // bytes accounted by the unit's cgroup, 0 if unknown
}

func parseTimestamp(props map[string]any, key string) time.Time {
	if ts, ok := props[key].(uint64); ok && ts > 0 {
		// systemd timestamps are in microseconds since the Unix epoch
		return time.UnixMicro(int64(ts))
	}
	return time.Time{}
}

func getString(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

// memoryValue drops systemd's "infinity" sentinel.
func memoryValue(props map[string]any) uint64 {
	v, ok := props["MemoryCurrent"].(uint64)
	if !ok || v == ^uint64(0) {
		return 0
	}
	return v
}
