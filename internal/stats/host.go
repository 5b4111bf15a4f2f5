package stats

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// processStart is when this process began serving.
var processStart = time.Now()

// HostStatus is a best-effort view of the process and machine. Probes that
// fail are listed in Errors and leave their fields zero.
type HostStatus struct {
	ProcessUptime time.Duration
	ProcessRSS    uint64
	HeapAlloc     uint64
	Goroutines    int

	SystemTotal       uint64
	SystemUsed        uint64
	SystemUsedPercent float64
	HostUptime        time.Duration

	DBBytes int64
	Errors  []string
}

// Host probes the process, the machine and the database file at dbPath
// (including its WAL sidecar).
func Host(ctx context.Context, dbPath string) HostStatus {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	st := HostStatus{
		ProcessUptime: time.Since(processStart),
		HeapAlloc:     ms.HeapAlloc,
		Goroutines:    runtime.NumGoroutine(),
	}

	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			st.ProcessRSS = mi.RSS
		} else if err != nil {
			st.Errors = append(st.Errors, "rss: "+err.Error())
		}
	} else {
		st.Errors = append(st.Errors, "process: "+err.Error())
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		st.SystemTotal = vm.Total
		st.SystemUsed = vm.Used
		st.SystemUsedPercent = vm.UsedPercent
	} else if err != nil {
		st.Errors = append(st.Errors, "memory: "+err.Error())
	}

	if up, err := host.UptimeWithContext(ctx); err == nil {
		st.HostUptime = time.Duration(up) * time.Second
	}

	st.DBBytes = fileSize(dbPath) + fileSize(dbPath+"-wal")
	return st
}

func fileSize(path string) int64 {
	if path == "" || path == ":memory:" {
		return 0
	}
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
