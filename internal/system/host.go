package system

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"time"

	"github.com/shirou/gopsutil/v4/host"
	psnet "github.com/shirou/gopsutil/v4/net"
)

// routeTarget is dialed over UDP to learn which local address the kernel
// routes outbound traffic from. No packet is sent.
const routeTarget = "1.1.1.1:80"

// GetHostInfo identifies the host
func GetHostInfo(ctx context.Context) (*HostInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get host info: %w", err)
	}

	hi := &HostInfo{
		Hostname:       info.Hostname,
		OS:             info.OS,
		Platform:       info.Platform + " " + info.PlatformVersion,
		KernelVersion:  info.KernelVersion,
		Arch:           info.KernelArch,
		Uptime:         info.Uptime,
		UptimeHuman:    formatUptime(info.Uptime),
		BootTime:       info.BootTime,
		Virtualization: info.VirtualizationSystem,
	}
	if ip := OutboundIP(); ip.IsValid() {
		hi.AddressIP = ip.String()
	}
	return hi, nil
}

func formatUptime(seconds uint64) string {
	d := time.Duration(seconds) * time.Second
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// AddressResolver reports the host's primary LAN address. It is handed to
// the docker client to fill in addresses for host-networked containers.
type AddressResolver struct{}

// OutboundIP implements docker.HostAddressResolver
func (AddressResolver) OutboundIP() netip.Addr {
	return OutboundIP()
}

// OutboundIP returns the source address of the default route, falling back
// to the first non-loopback IPv4 interface address. The zero Addr means none
// could be found.
func OutboundIP() netip.Addr {
	if ip := routedIP(); ip.IsValid() {
		return ip
	}
	return interfaceIP()
}

func routedIP() netip.Addr {
	conn, err := net.DialTimeout("udp", routeTarget, time.Second)
	if err != nil {
		return netip.Addr{}
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.Addr{}
	}
	ip, ok := netip.AddrFromSlice(addr.IP)
	if !ok || ip.Unmap().IsLoopback() || ip.IsUnspecified() {
		return netip.Addr{}
	}
	return ip.Unmap()
}

func interfaceIP() netip.Addr {
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return netip.Addr{}
	}

	for _, iface := range ifaces {
		if slices.Contains(iface.Flags, "loopback") || !slices.Contains(iface.Flags, "up") {
			continue
		}
		for _, a := range iface.Addrs {
			prefix, err := netip.ParsePrefix(a.Addr)
			if err != nil {
				continue
			}
			if ip := prefix.Addr(); ip.Is4() && !ip.IsLoopback() && !ip.IsLinkLocalUnicast() {
				return ip
			}
		}
	}
	return netip.Addr{}
}
