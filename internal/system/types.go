package system

import "time"

// HostInfo identifies the machine the agent runs on
type HostInfo struct {
	Hostname       string `json:"hostname"`
	OS             string `json:"os"`
	Platform       string `json:"platform"`
	KernelVersion  string `json:"kernel_version"`
	Arch           string `json:"arch"`
	Uptime         uint64 `json:"uptime"`
	UptimeHuman    string `json:"uptime_human"`
	BootTime       uint64 `json:"boot_time"`
	Virtualization string `json:"virtualization,omitempty"`
	AddressIP      string `json:"address_ip,omitempty"`
}

// CPUUsage is host-wide processor load
type CPUUsage struct {
	Cores     int     `json:"cores"`
	ModelName string  `json:"model_name"`
	Percent   float64 `json:"percent"`
	Load1     float64 `json:"load_1"`
	Load5     float64 `json:"load_5"`
	Load15    float64 `json:"load_15"`
}

// MemoryUsage is host-wide memory and swap
type MemoryUsage struct {
	Total       uint64  `json:"total"`
	Available   uint64  `json:"available"`
	Used        uint64  `json:"used"`
	Percent     float64 `json:"percent"`
	SwapTotal   uint64  `json:"swap_total"`
	SwapUsed    uint64  `json:"swap_used"`
	SwapPercent float64 `json:"swap_percent"`
}

// VolumeUsage is usage of one mounted filesystem
type VolumeUsage struct {
	Device     string  `json:"device"`
	Mountpoint string  `json:"mountpoint"`
	Fstype     string  `json:"fstype"`
	Total      uint64  `json:"total"`
	Used       uint64  `json:"used"`
	Free       uint64  `json:"free"`
	Percent    float64 `json:"percent"`
}

// NetworkTotals sums traffic over non-loopback interfaces
type NetworkTotals struct {
	Interfaces int    `json:"interfaces"`
	BytesSent  uint64 `json:"bytes_sent"`
	BytesRecv  uint64 `json:"bytes_recv"`
}

// Metrics is one telemetry sample of the host
type Metrics struct {
	CollectedAt time.Time     `json:"collected_at"`
	CPU         CPUUsage      `json:"cpu"`
	Memory      MemoryUsage   `json:"memory"`
	Volumes     []VolumeUsage `json:"volumes"`
	Network     NetworkTotals `json:"network"`
}
