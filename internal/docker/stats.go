package docker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
)

// ContainerStats is a one-shot resource snapshot. It is never cached.
type ContainerStats struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Read            time.Time `json:"read"`
	CPUPercent      float64   `json:"cpu_percent"`
	OnlineCPUs      uint32    `json:"online_cpus"`
	MemoryUsage     uint64    `json:"memory_usage"`
	MemoryLimit     uint64    `json:"memory_limit"`
	MemoryAvailable uint64    `json:"memory_available"`
	MemoryPercent   float64   `json:"memory_percent"`
	NetworkName     *string   `json:"network_name,omitempty"`
	NetworkRx       uint64    `json:"network_rx"`
	NetworkTx       uint64    `json:"network_tx"`
	BlockRead       uint64    `json:"block_read"`
	BlockWrite      uint64    `json:"block_write"`
	PIDs            uint64    `json:"pids"`
}

// ParseStats builds ContainerStats from GET /containers/{id}/stats?stream=false
func ParseStats(data []byte) (ContainerStats, error) {
	if err := requireFields(data, "stats", "id", "cpu_stats", "precpu_stats", "memory_stats"); err != nil {
		return ContainerStats{}, err
	}

	var rec types.StatsJSON
	if err := json.Unmarshal(data, &rec); err != nil {
		return ContainerStats{}, &ProtocolError{Model: "stats", Err: err}
	}

	onlineCPUs := rec.CPUStats.OnlineCPUs
	if onlineCPUs == 0 {
		onlineCPUs = uint32(len(rec.CPUStats.CPUUsage.PercpuUsage))
	}

	used := memoryUsed(rec.MemoryStats)
	var available uint64
	if rec.MemoryStats.Limit > used {
		available = rec.MemoryStats.Limit - used
	}

	stats := ContainerStats{
		ID:              rec.ID,
		Name:            strings.TrimPrefix(rec.Name, "/"),
		Read:            rec.Read,
		CPUPercent:      CPUPercent(rec.CPUStats, rec.PreCPUStats),
		OnlineCPUs:      onlineCPUs,
		MemoryUsage:     used,
		MemoryLimit:     rec.MemoryStats.Limit,
		MemoryAvailable: available,
		MemoryPercent:   MemoryPercent(used, rec.MemoryStats.Limit),
		PIDs:            rec.PidsStats.Current,
	}

	name, net, err := firstNetwork(data)
	if err != nil {
		return ContainerStats{}, err
	}
	if name != "" {
		stats.NetworkName = &name
		stats.NetworkRx = net.RxBytes
		stats.NetworkTx = net.TxBytes
	}

	for _, entry := range rec.BlkioStats.IoServiceBytesRecursive {
		switch strings.ToLower(entry.Op) {
		case "read":
			stats.BlockRead += entry.Value
		case "write":
			stats.BlockWrite += entry.Value
		}
	}

	return stats, nil
}

// CPUPercent derives utilization from the current and previous CPU counters
func CPUPercent(current, previous types.CPUStats) float64 {
	cpuDelta := float64(current.CPUUsage.TotalUsage) - float64(previous.CPUUsage.TotalUsage)
	systemDelta := float64(current.SystemUsage) - float64(previous.SystemUsage)
	if systemDelta <= 0 || cpuDelta <= 0 {
		return 0
	}

	online := float64(current.OnlineCPUs)
	if online == 0 {
		online = float64(len(current.CPUUsage.PercpuUsage))
	}

	return round2(cpuDelta / systemDelta * online * 100)
}

// MemoryPercent returns used/limit as a percentage, 0 when there is no limit
func MemoryPercent(used, limit uint64) float64 {
	if limit == 0 {
		return 0
	}
	return round2(float64(used) / float64(limit) * 100)
}

// memoryUsed subtracts page cache: "cache" on cgroup v1, "inactive_file" on v2
func memoryUsed(m types.MemoryStats) uint64 {
	cache, ok := m.Stats["cache"]
	if !ok {
		cache = m.Stats["inactive_file"]
	}
	if cache > m.Usage {
		return m.Usage
	}
	return m.Usage - cache
}

// firstNetwork returns the first interface in the engine's JSON order.
// Only that interface is reported; counters are not summed.
func firstNetwork(data []byte) (string, types.NetworkStats, error) {
	var wrapper struct {
		Networks json.RawMessage `json:"networks"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return "", types.NetworkStats{}, &ProtocolError{Model: "stats", Err: err}
	}
	if len(wrapper.Networks) == 0 || string(wrapper.Networks) == "null" {
		return "", types.NetworkStats{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(wrapper.Networks))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return "", types.NetworkStats{}, &ProtocolError{Model: "stats", Err: fmt.Errorf("networks is not an object")}
	}
	if !dec.More() {
		return "", types.NetworkStats{}, nil
	}

	tok, err := dec.Token()
	if err != nil {
		return "", types.NetworkStats{}, &ProtocolError{Model: "stats", Err: err}
	}
	name, _ := tok.(string)

	var net types.NetworkStats
	if err := dec.Decode(&net); err != nil {
		return "", types.NetworkStats{}, &ProtocolError{Model: "stats", Err: err}
	}

	return name, net, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
