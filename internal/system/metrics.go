package system

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"

	"github.com/ngenohkevin/homedeck-agent/internal/cache"
)

// cpuSampleWindow is how long cpu.Percent measures for
const cpuSampleWindow = 200 * time.Millisecond

var pseudoFilesystems = map[string]bool{
	"squashfs": true,
	"tmpfs":    true,
	"devtmpfs": true,
	"overlay":  true,
	"nsfs":     true,
}

// Collector samples host telemetry. Samples are cached for the configured
// lifetime so dashboard polling does not re-measure CPU on every request.
type Collector struct {
	snapshot *cache.Snapshot[*Metrics]
}

// NewCollector creates a collector whose samples live for lifetime
func NewCollector(lifetime time.Duration) *Collector {
	c := &Collector{}
	c.snapshot = cache.NewSnapshot(lifetime, c.collect)
	return c
}

// Metrics returns the current sample, collecting a new one when stale
func (c *Collector) Metrics(ctx context.Context) (*Metrics, error) {
	return c.snapshot.Load(ctx)
}

func (c *Collector) collect(ctx context.Context) (*Metrics, error) {
	processor, err := cpuUsage(ctx)
	if err != nil {
		return nil, err
	}

	memory, err := memoryUsage(ctx)
	if err != nil {
		return nil, err
	}

	volumes, err := volumeUsage(ctx)
	if err != nil {
		return nil, err
	}

	network, err := networkTotals(ctx)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		CollectedAt: time.Now(),
		CPU:         *processor,
		Memory:      *memory,
		Volumes:     volumes,
		Network:     *network,
	}, nil
}

func cpuUsage(ctx context.Context) (*CPUUsage, error) {
	info, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get cpu info: %w", err)
	}

	percent, err := cpu.PercentWithContext(ctx, cpuSampleWindow, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get cpu percent: %w", err)
	}

	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		cores = len(info)
	}

	usage := &CPUUsage{Cores: cores}
	if len(info) > 0 {
		usage.ModelName = info[0].ModelName
	}
	if len(percent) > 0 {
		usage.Percent = percent[0]
	}

	// Load average is missing on some platforms
	if avg, err := load.AvgWithContext(ctx); err == nil {
		usage.Load1 = avg.Load1
		usage.Load5 = avg.Load5
		usage.Load15 = avg.Load15
	}

	return usage, nil
}

func memoryUsage(ctx context.Context) (*MemoryUsage, error) {
	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get virtual memory: %w", err)
	}

	usage := &MemoryUsage{
		Total:     vmem.Total,
		Available: vmem.Available,
		Used:      vmem.Used,
		Percent:   vmem.UsedPercent,
	}

	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil {
		usage.SwapTotal = swap.Total
		usage.SwapUsed = swap.Used
		usage.SwapPercent = swap.UsedPercent
	}

	return usage, nil
}

func volumeUsage(ctx context.Context) ([]VolumeUsage, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get disk partitions: %w", err)
	}

	volumes := make([]VolumeUsage, 0, len(partitions))
	seen := make(map[string]bool)
	for _, p := range partitions {
		if pseudoFilesystems[p.Fstype] || seen[p.Device] {
			continue
		}

		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			continue
		}
		seen[p.Device] = true

		volumes = append(volumes, VolumeUsage{
			Device:     p.Device,
			Mountpoint: p.Mountpoint,
			Fstype:     p.Fstype,
			Total:      usage.Total,
			Used:       usage.Used,
			Free:       usage.Free,
			Percent:    usage.UsedPercent,
		})
	}

	return volumes, nil
}

func networkTotals(ctx context.Context) (*NetworkTotals, error) {
	counters, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get network io counters: %w", err)
	}

	totals := &NetworkTotals{}
	for _, counter := range counters {
		if counter.Name == "lo" {
			continue
		}
		totals.Interfaces++
		totals.BytesSent += counter.BytesSent
		totals.BytesRecv += counter.BytesRecv
	}
	return totals, nil
}
