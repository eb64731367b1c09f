package discovery

import (
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// MDNSServer is the interface for an active mDNS registration. It
// allows dependency injection in tests.
type MDNSServer interface {
	// Shutdown stops the registration.
	Shutdown()
}

// MDNSServerFactory creates MDNSServer instances.
type MDNSServerFactory interface {
	// Register creates a new mDNS registration for the given service.
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

// zeroconfServerFactory is the production implementation using
// grandcat/zeroconf.
type zeroconfServerFactory struct{}

func (z *zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// AdvertiserConfig holds configuration for the Advertiser.
type AdvertiserConfig struct {
	// Instance is the service instance name, normally the accessory's
	// display name. Required.
	Instance string

	// Port is the TCP port the server listens on. Required.
	Port int

	// Interfaces specifies which network interfaces to advertise on.
	// Nil means all interfaces.
	Interfaces []net.Interface

	// ServerFactory is the factory for creating mDNS registrations.
	// Nil selects the zeroconf factory.
	ServerFactory MDNSServerFactory

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes the `_hap._tcp` service. zeroconf offers no
// in-place TXT mutation, so every update re-registers the service;
// controllers treat that as a TTL refresh.
type Advertiser struct {
	config  AdvertiserConfig
	factory MDNSServerFactory
	log     logging.LeveledLogger

	mu     sync.Mutex
	server MDNSServer
	closed bool
}

// NewAdvertiser creates an Advertiser with the given configuration.
func NewAdvertiser(config AdvertiserConfig) (*Advertiser, error) {
	if config.Instance == "" {
		return nil, fmt.Errorf("%w: missing instance name", ErrInvalidTXT)
	}
	if config.Port <= 0 || config.Port > 65535 {
		return nil, fmt.Errorf("%w: invalid port %d", ErrInvalidTXT, config.Port)
	}

	factory := config.ServerFactory
	if factory == nil {
		factory = &zeroconfServerFactory{}
	}

	a := &Advertiser{
		config:  config,
		factory: factory,
	}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("discovery")
	}
	return a, nil
}

// Start begins advertising with the given TXT record.
func (a *Advertiser) Start(txt AccessoryTXT) error {
	if err := txt.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server != nil {
		return ErrAlreadyStarted
	}
	return a.registerLocked(txt)
}

// Update replaces the advertised TXT record. Called whenever the
// configuration number or pairing status changes.
func (a *Advertiser) Update(txt AccessoryTXT) error {
	if err := txt.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	return a.registerLocked(txt)
}

func (a *Advertiser) registerLocked(txt AccessoryTXT) error {
	server, err := a.factory.Register(
		a.config.Instance, ServiceType, "local.",
		a.config.Port, txt.Encode(), a.config.Interfaces,
	)
	if err != nil {
		return fmt.Errorf("discovery: register: %w", err)
	}
	a.server = server
	if a.log != nil {
		a.log.Infof("advertising %s on port %d (c#=%d paired=%t)",
			a.config.Instance, a.config.Port, txt.ConfigNumber, txt.Paired)
	}
	return nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	a.closed = true
}
