package hnet

import (
	"fmt"
	"net"

	"github.com/hstor/hrun/pkg/hids"
)

// LocalNodeId walks hosts and the machine's local network interfaces to
// decide which line names this process, assigning NodeId as the 1-based
// line index.
func LocalNodeId(h *HostFile) (hids.NodeId, error) {
	localIPs, err := localAddrs()
	if err != nil {
		return hids.NullNode, fmt.Errorf("hnet: enumerate local addrs: %w", err)
	}

	for i, host := range h.Hosts() {
		if bare, _, err := net.SplitHostPort(host); err == nil {
			host = bare
		}
		ips, err := net.LookupHost(host)
		if err != nil {
			continue
		}
		for _, ip := range ips {
			if localIPs[ip] {
				return hids.NodeId(i + 1), nil
			}
		}
	}
	return hids.NullNode, fmt.Errorf("hnet: no entry in host file matches a local interface address")
}

func localAddrs() (map[string]bool, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil {
			continue
		}
		out[ip.String()] = true
	}
	return out, nil
}
