package discovery

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// mDNS constants for tether peers.
const (
	// ServiceType is the mDNS service type tether peers announce.
	ServiceType = "_tether._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default tether port.
	DefaultPort = 8443

	// BrowseTimeout is the default timeout for Find operations.
	BrowseTimeout = 10 * time.Second
)

// TXT record keys.
const (
	// TXTKeyPath is the HTTP path of the WebSocket endpoint.
	TXTKeyPath = "path"

	// TXTKeyTLS marks a TLS endpoint ("1") vs plaintext ("0").
	TXTKeyTLS = "tls"

	// TXTKeyVersion is the announced protocol version (optional).
	TXTKeyVersion = "v"
)

// Discovery errors.
var (
	// ErrNotFound is returned when no matching peer was discovered
	// before the deadline.
	ErrNotFound = errors.New("peer not found")
)

// Service is one discovered tether peer.
type Service struct {
	// InstanceName is the mDNS instance name.
	InstanceName string

	// Host is the announced hostname.
	Host string

	// Port is the announced port.
	Port uint16

	// Addresses are the resolved IP addresses, aggregated across
	// interfaces.
	Addresses []string

	// Path is the WebSocket endpoint path (default "/").
	Path string

	// TLS indicates a wss endpoint.
	TLS bool

	// Version is the announced protocol version, if any.
	Version string
}

// URL returns the WebSocket URL for this peer, suitable for the
// client's Address configuration.
func (s *Service) URL() string {
	scheme := "ws"
	if s.TLS {
		scheme = "wss"
	}
	host := strings.TrimSuffix(s.Host, ".")
	path := s.Path
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, host, s.Port, path)
}

// decodeTXT fills service fields from TXT records of the form "k=v".
func (s *Service) decodeTXT(text []string) {
	s.Path = "/"
	for _, record := range text {
		key, value, ok := strings.Cut(record, "=")
		if !ok {
			continue
		}
		switch key {
		case TXTKeyPath:
			if strings.HasPrefix(value, "/") {
				s.Path = value
			}
		case TXTKeyTLS:
			s.TLS = value == "1"
		case TXTKeyVersion:
			s.Version = value
		}
	}
}

// EncodeTXT builds the TXT records announcing a peer.
func EncodeTXT(path string, tls bool, version string) []string {
	if path == "" {
		path = "/"
	}
	tlsFlag := "0"
	if tls {
		tlsFlag = "1"
	}
	records := []string{
		TXTKeyPath + "=" + path,
		TXTKeyTLS + "=" + tlsFlag,
	}
	if version != "" {
		records = append(records, TXTKeyVersion+"="+version)
	}
	return records
}
