package client

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service a LiveWatch device endpoint (typically the
// simulator or a serial bridge) advertises.
const ServiceType = "_livewatch._tcp"

// DiscoveredEndpoint is a device endpoint found via mDNS.
type DiscoveredEndpoint struct {
	ServiceName string
	Address     string
	Port        int
	TXTRecords  []string
}

// Addr renders the endpoint as a dialable host:port.
func (d *DiscoveredEndpoint) Addr() string {
	return fmt.Sprintf("%s:%d", d.Address, d.Port)
}

// DiscoverEndpoint looks up the first advertised LiveWatch endpoint on the
// local network.
func DiscoverEndpoint(timeout time.Duration) (*DiscoveredEndpoint, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	entriesCh := make(chan *mdns.ServiceEntry, 4)
	go func() {
		defer close(entriesCh)
		if err := mdns.Lookup(ServiceType, entriesCh); err != nil {
			slog.Warn("mDNS lookup failed", "err", err)
		}
	}()

	select {
	case entry := <-entriesCh:
		if entry == nil {
			return nil, fmt.Errorf("no %s service found", ServiceType)
		}
		var address string
		switch {
		case entry.AddrV4 != nil:
			address = entry.AddrV4.String()
		case entry.AddrV6 != nil:
			address = fmt.Sprintf("[%s]", entry.AddrV6.String())
		default:
			return nil, fmt.Errorf("no valid address for service %s", entry.Name)
		}
		return &DiscoveredEndpoint{
			ServiceName: entry.Name,
			Address:     address,
			Port:        entry.Port,
			TXTRecords:  entry.InfoFields,
		}, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("discovery timed out after %s", timeout)
	}
}
