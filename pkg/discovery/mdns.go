package discovery

import (
	"context"
	"fmt"
	"net"

	"github.com/enbility/zeroconf/v3"
)

// BrowserConfig configures mDNS browsing.
type BrowserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// Browse searches for tether peers. Services are aggregated by
// instance name - addresses from multiple interfaces are combined into
// a single entry. The returned channel closes when ctx is cancelled.
func Browse(ctx context.Context, cfg BrowserConfig) (<-chan *Service, error) {
	out := make(chan *Service)

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)

		services := make(map[string]*Service)

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc := entryToService(entry)
				if svc == nil {
					continue
				}

				existing, found := services[svc.InstanceName]
				if found {
					existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
				} else {
					services[svc.InstanceName] = svc
					select {
					case out <- svc:
					case <-ctx.Done():
						return
					}
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				delete(services, entry.Instance)

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, browserOptions(cfg)...)
	}()

	return out, nil
}

// Find browses until a peer with the given instance name appears.
// An empty instance matches the first peer found. Returns ErrNotFound
// when the context ends first.
func Find(ctx context.Context, cfg BrowserConfig, instance string) (*Service, error) {
	ctx, cancel := context.WithTimeout(ctx, BrowseTimeout)
	defer cancel()

	found, err := Browse(ctx, cfg)
	if err != nil {
		return nil, err
	}

	for {
		select {
		case svc, ok := <-found:
			if !ok {
				return nil, ErrNotFound
			}
			if instance == "" || svc.InstanceName == instance {
				return svc, nil
			}
		case <-ctx.Done():
			return nil, ErrNotFound
		}
	}
}

// Advertise announces a tether peer until the server is shut down.
func Advertise(instance string, port int, path string, tls bool, version string) (*zeroconf.Server, error) {
	if port == 0 {
		port = DefaultPort
	}

	server, err := zeroconf.Register(
		instance,
		ServiceType,
		Domain,
		port,
		EncodeTXT(path, tls, version),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("register tether service: %w", err)
	}
	return server, nil
}

// browserOptions returns zeroconf client options based on config.
func browserOptions(cfg BrowserConfig) []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption

	if cfg.Interface != "" {
		iface, err := net.InterfaceByName(cfg.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}

	return opts
}

// entryToService converts a zeroconf entry to a Service.
func entryToService(entry *zeroconf.ServiceEntry) *Service {
	if entry == nil {
		return nil
	}

	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	svc := &Service{
		InstanceName: entry.Instance,
		Host:         entry.HostName,
		Port:         uint16(entry.Port),
		Addresses:    addrs,
	}
	svc.decodeTXT(entry.Text)
	return svc
}

// mergeAddresses combines address lists without duplicates.
func mergeAddresses(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, a := range existing {
		seen[a] = true
	}
	for _, a := range incoming {
		if !seen[a] {
			existing = append(existing, a)
			seen[a] = true
		}
	}
	return existing
}
