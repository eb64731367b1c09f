// Package hap assembles the protocol layers into a runnable HomeKit
// accessory: persistent identity, attribute database, pairing manager,
// mDNS advertisement and the network server. Applications declare
// their accessories on the device's database, then Start it.
package hap

import (
	"io"
	"net"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/hap/pkg/datamodel"
	"github.com/backkem/hap/pkg/discovery"
	"github.com/backkem/hap/pkg/pairing"
	"github.com/backkem/hap/pkg/persist"
	"github.com/backkem/hap/pkg/securechannel"
	"github.com/backkem/hap/pkg/server"
)

// DeviceConfig holds all configuration for a Device.
type DeviceConfig struct {
	// Name is the advertised instance name. Required.
	Name string

	// Model is the advertised model name (md). Required.
	Model string

	// Category is the advertised accessory category (ci). Required.
	Category uint8

	// SetupCode is the 8-digit pairing code, bare or dashed. Used to
	// (re-)provision the SRP verifier; never stored itself. When
	// empty, a previously provisioned verifier is reused.
	SetupCode string

	// SetupID is the optional 4-character QR setup identifier.
	SetupID string

	// Storage - one of the two is required.
	Store       persist.Store // Persistence interface
	StoragePath string        // Directory for the default file store

	// Port is the TCP port to listen on (default: 80).
	Port int

	// Listener overrides the listener, for tests.
	Listener net.Listener

	// MaxConnections bounds concurrent controller connections
	// (default and minimum 8).
	MaxConnections int

	// LoopInterval is the service polling period (default: 1s).
	LoopInterval time.Duration

	// DisableMDNS skips service advertisement (tests).
	DisableMDNS bool

	// OnIdentify runs the unpaired identify routine.
	OnIdentify func()

	// Rand overrides the randomness source, for tests.
	Rand io.Reader

	// LoggerFactory for creating loggers. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Device is a HomeKit accessory: the attribute database plus every
// layer needed to serve it.
type Device struct {
	config DeviceConfig
	log    logging.LeveledLogger

	store      persist.Store
	identity   *pairing.Identity
	db         *datamodel.Database
	server     *server.Server
	advertiser *discovery.Advertiser
}

// NewDevice loads (or generates) the persistent identity, provisions
// the setup code and prepares an empty attribute database. Declare
// accessories on Database(), then call Start.
func NewDevice(config DeviceConfig) (*Device, error) {
	if config.Name == "" || config.Model == "" || config.Category == 0 {
		return nil, ErrMissingConfig
	}

	store := config.Store
	if store == nil {
		if config.StoragePath == "" {
			return nil, ErrStorageRequired
		}
		fs, err := persist.NewFileStore(config.StoragePath)
		if err != nil {
			return nil, err
		}
		store = fs
	}

	d := &Device{
		config: config,
		store:  store,
	}
	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("hap")
	}

	identity, err := pairing.LoadIdentity(store, randReader(config.Rand))
	if err != nil {
		return nil, err
	}
	d.identity = identity

	if config.SetupCode != "" {
		if _, err := pairing.ProvisionVerifier(store, config.SetupCode); err != nil {
			return nil, err
		}
	}

	maxConns := config.MaxConnections
	if maxConns < server.MinConnections {
		maxConns = server.MinConnections
	}
	d.db = datamodel.NewDatabase(maxConns)
	return d, nil
}

// Database returns the attribute database for accessory declaration.
func (d *Device) Database() *datamodel.Database {
	return d.db
}

// DeviceID returns the accessory's MAC-formatted identifier.
func (d *Device) DeviceID() string {
	return d.identity.DeviceID
}

// Addr returns the server's listen address once started.
func (d *Device) Addr() net.Addr {
	if d.server == nil {
		return nil
	}
	return d.server.Addr()
}

// Start validates the database and brings the accessory online. Any
// configuration error aborts here, before the network starts.
func (d *Device) Start() error {
	verifier, err := pairing.LoadVerifier(d.store)
	switch err {
	case nil:
	case persist.ErrNotFound:
		return ErrNotProvisioned
	default:
		return err
	}

	controllers, err := pairing.NewControllerStore(d.store)
	if err != nil {
		return err
	}

	sc, err := securechannel.NewManager(securechannel.ManagerConfig{
		Identity:      d.identity,
		Verifier:      verifier,
		Controllers:   controllers,
		Rand:          d.config.Rand,
		LoggerFactory: d.config.LoggerFactory,
	})
	if err != nil {
		return err
	}

	port := d.config.Port
	if port == 0 {
		port = server.DefaultPort
	}

	var adv server.Advertiser
	if !d.config.DisableMDNS {
		a, err := discovery.NewAdvertiser(discovery.AdvertiserConfig{
			Instance:      d.config.Name,
			Port:          port,
			LoggerFactory: d.config.LoggerFactory,
		})
		if err != nil {
			return err
		}
		d.advertiser = a
		adv = a
	}

	srv, err := server.NewServer(server.Config{
		Database:       d.db,
		SecureChannel:  sc,
		Store:          d.store,
		Advertiser:     adv,
		Model:          d.config.Model,
		Category:       d.config.Category,
		SetupID:        d.config.SetupID,
		Listener:       d.config.Listener,
		ListenAddr:     listenAddr(port),
		MaxConnections: d.config.MaxConnections,
		LoopInterval:   d.config.LoopInterval,
		Rand:           d.config.Rand,
		OnIdentify:     d.config.OnIdentify,
		LoggerFactory:  d.config.LoggerFactory,
	})
	if err != nil {
		return err
	}
	d.server = srv

	if err := srv.Start(); err != nil {
		return err
	}
	if d.log != nil {
		d.log.Infof("device %s online as %q", d.identity.DeviceID, d.config.Name)
	}
	return nil
}

// Stop takes the accessory offline.
func (d *Device) Stop() {
	if d.server != nil {
		d.server.Stop()
	}
}
