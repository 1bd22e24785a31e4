package api

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/annel0/blockundo/internal/undo"
)

// ServerStatus собирает сведения о процессе и каталоге журнала
type ServerStatus struct {
	StartTime time.Time
	store     *undo.Store
}

// StatusReport - ответ /api/status
type StatusReport struct {
	Uptime      string   `json:"uptime"`
	Goroutines  int      `json:"goroutines"`
	HeapAllocMB float64  `json:"heap_alloc_mb"`
	RSSMB       float64  `json:"rss_mb,omitempty"`
	DiskFreeMB  float64  `json:"disk_free_mb,omitempty"`
	DiskUsedPct float64  `json:"disk_used_pct,omitempty"`
	Current     []string `json:"current"`
	Previous    []string `json:"previous"`
}

func NewServerStatus(store *undo.Store) *ServerStatus {
	return &ServerStatus{StartTime: time.Now(), store: store}
}

// Uptime возвращает время работы в виде "1ч 2м 3с"
func (ss *ServerStatus) Uptime() string {
	uptime := time.Since(ss.StartTime)

	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	default:
		return fmt.Sprintf("%dс", seconds)
	}
}

// Collect снимает текущее состояние. Недоступные системные метрики
// (например, в контейнере без /proc) просто остаются нулевыми.
func (ss *ServerStatus) Collect() StatusReport {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	rep := StatusReport{
		Uptime:      ss.Uptime(),
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(m.HeapAlloc) / 1024 / 1024,
		Current:     []string{},
		Previous:    []string{},
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			rep.RSSMB = float64(mem.RSS) / 1024 / 1024
		}
	}
	if usage, err := disk.Usage(ss.store.Root()); err == nil {
		rep.DiskFreeMB = float64(usage.Free) / 1024 / 1024
		rep.DiskUsedPct = usage.UsedPercent
	}

	if players, err := ss.store.Players(undo.Current); err == nil && players != nil {
		rep.Current = players
	}
	if players, err := ss.store.Players(undo.Previous); err == nil && players != nil {
		rep.Previous = players
	}
	return rep
}
