package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"

	"github.com/1mmey/SecurityChat/internal/interfaces"
	"github.com/1mmey/SecurityChat/internal/logger"
)

const mdnsDomain = "local."

// MDNSResolver discovers peers on the local network. Each instance
// advertises its deterministic peer address in a TXT record and browses
// for others, keeping an address to endpoint cache. It is consulted
// before the rendezvous service, so peers on the same LAN connect without
// any infrastructure.
type MDNSResolver struct {
	logger      *logger.Logger
	serviceType string

	localAddress string
	listenPort   int

	server    *zeroconf.Server
	resolver  *zeroconf.Resolver
	endpoints map[string]string
	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool
	mutex     sync.RWMutex
}

// NewMDNSResolver creates a stopped resolver advertising the given
// deterministic peer address.
func NewMDNSResolver(serviceType, localAddress string, log *logger.Logger) *MDNSResolver {
	return &MDNSResolver{
		logger:       log.WithComponent("mdns-discovery"),
		serviceType:  serviceType,
		localAddress: localAddress,
		endpoints:    make(map[string]string),
	}
}

var _ interfaces.EndpointResolver = (*MDNSResolver)(nil)

// SetListenPort records the port to advertise. Must be called before
// Start, once the direct transport listener knows its port.
func (m *MDNSResolver) SetListenPort(port int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.listenPort = port
}

// Start registers the local service and begins browsing for peers.
func (m *MDNSResolver) Start(ctx context.Context) error {
	m.mutex.Lock()
	if m.isRunning {
		m.mutex.Unlock()
		return nil
	}
	port := m.listenPort
	m.mutex.Unlock()

	if port == 0 {
		return fmt.Errorf("no listen port set for mDNS registration")
	}

	m.ctx, m.cancel = context.WithCancel(ctx)

	txtRecords := []string{
		fmt.Sprintf("address=%s", m.localAddress),
	}

	server, err := zeroconf.Register(m.localAddress, m.serviceType, mdnsDomain, port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		server.Shutdown()
		return fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	m.mutex.Lock()
	m.server = server
	m.resolver = resolver
	m.isRunning = true
	m.mutex.Unlock()

	entries := make(chan *zeroconf.ServiceEntry)
	go m.handleEntries(entries)
	go func() {
		if err := resolver.Browse(m.ctx, m.serviceType, mdnsDomain, entries); err != nil {
			m.logger.Error("Failed to start browsing", "error", err)
		}
	}()

	m.logger.Info("mDNS discovery started", "address", m.localAddress, "port", port, "type", m.serviceType)
	return nil
}

// Stop shuts down registration and browsing. Idempotent.
func (m *MDNSResolver) Stop() {
	m.mutex.Lock()
	if !m.isRunning {
		m.mutex.Unlock()
		return
	}
	m.isRunning = false
	server := m.server
	m.server = nil
	m.mutex.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	if server != nil {
		server.Shutdown()
	}

	m.logger.Info("mDNS discovery stopped")
}

// ResolveEndpoint returns the cached LAN endpoint for a peer address.
// Misses fail fast so the caller falls through to the next resolver.
func (m *MDNSResolver) ResolveEndpoint(_ context.Context, address string) (string, error) {
	m.mutex.RLock()
	endpoint, ok := m.endpoints[address]
	m.mutex.RUnlock()

	if !ok {
		return "", fmt.Errorf("address %s not discovered on local network", address)
	}
	return endpoint, nil
}

// handleEntries processes discovered service entries, skipping our own
// advertisement.
func (m *MDNSResolver) handleEntries(entries chan *zeroconf.ServiceEntry) {
	for entry := range entries {
		address := entry.Instance
		for _, txt := range entry.Text {
			if strings.HasPrefix(txt, "address=") {
				address = strings.TrimPrefix(txt, "address=")
				break
			}
		}

		if address == m.localAddress {
			continue
		}
		if len(entry.AddrIPv4) == 0 {
			m.logger.Debug("Discovered entry without IPv4 address", "instance", entry.Instance)
			continue
		}

		endpoint := net.JoinHostPort(entry.AddrIPv4[0].String(), fmt.Sprintf("%d", entry.Port))

		m.mutex.Lock()
		m.endpoints[address] = endpoint
		m.mutex.Unlock()

		m.logger.Debug("Discovered peer on local network", "address", address, "endpoint", endpoint)
	}
}
