// Package server runs the HAP IP accessory server: it accepts
// controller connections into a bounded slot pool, routes plaintext
// pairing requests and encrypted attribute requests, pushes event
// notifications, and keeps the mDNS TXT record in sync with the
// configuration number and pairing state.
package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pion/logging"

	"github.com/backkem/hap/pkg/datamodel"
	"github.com/backkem/hap/pkg/discovery"
	"github.com/backkem/hap/pkg/persist"
	"github.com/backkem/hap/pkg/securechannel"
)

// DefaultPort is the HAP-over-IP TCP port.
const DefaultPort = 80

// Advertiser is the mDNS surface the server drives. Satisfied by
// *discovery.Advertiser; tests inject fakes.
type Advertiser interface {
	Start(txt discovery.AccessoryTXT) error
	Update(txt discovery.AccessoryTXT) error
	Stop()
}

// Config configures the Server.
type Config struct {
	// Database is the validated attribute database. Required.
	Database *datamodel.Database

	// SecureChannel manages pairing and identity. Required.
	SecureChannel *securechannel.Manager

	// Store persists the configuration hash. Required.
	Store persist.Store

	// Advertiser publishes the _hap._tcp service. Nil disables
	// advertisement (tests).
	Advertiser Advertiser

	// Model is the advertised model name (md).
	Model string

	// Category is the advertised accessory category (ci).
	Category uint8

	// SetupID is the optional 4-character QR setup identifier.
	SetupID string

	// Listener is an optional pre-existing listener. If nil, one is
	// created on ListenAddr.
	Listener net.Listener

	// ListenAddr is the address to listen on (default ":80").
	ListenAddr string

	// MaxConnections bounds concurrent controller connections
	// (default and minimum 8).
	MaxConnections int

	// LoopInterval is the period of the service Loop/notify tick
	// (default 1s).
	LoopInterval time.Duration

	// Clock overrides the time source, for timed-write tests.
	Clock func() time.Time

	// Rand overrides the eviction randomness source.
	Rand io.Reader

	// OnIdentify runs the unpaired identify routine.
	OnIdentify func()

	// LoggerFactory for creating loggers. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Server is the HAP accessory server.
type Server struct {
	config        Config
	db            *datamodel.Database
	secureChannel *securechannel.Manager
	store         persist.Store
	advertiser    Advertiser
	log           logging.LeveledLogger

	listener net.Listener
	pool     *pool
	notifier *notifier
	clock    func() time.Time

	configNumber uint32

	timedMu     sync.Mutex
	timedWrites map[uint64]time.Time

	mu      sync.Mutex
	started bool
	closed  bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// hashBlob is the persisted configuration-number state.
type hashBlob struct {
	Hash   []byte `cbor:"1,keyasint"`
	Number uint32 `cbor:"2,keyasint"`
}

// NewServer creates a server. The database is validated here; any
// configuration error aborts before the network starts.
func NewServer(config Config) (*Server, error) {
	if config.Database == nil || config.SecureChannel == nil || config.Store == nil {
		return nil, ErrMissingConfig
	}

	if errs := config.Database.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		return nil, fmt.Errorf("%w:\n  %s", ErrInvalidDatabase, strings.Join(msgs, "\n  "))
	}

	s := &Server{
		config:        config,
		db:            config.Database,
		secureChannel: config.SecureChannel,
		store:         config.Store,
		advertiser:    config.Advertiser,
		clock:         config.Clock,
		timedWrites:   make(map[uint64]time.Time),
		stopCh:        make(chan struct{}),
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("server")
	}

	s.pool = newPool(config.MaxConnections, config.Rand)
	s.notifier = newNotifier(s)
	s.db.SetChangeListener(s.notifier.enqueue)

	if err := s.loadConfigNumber(); err != nil {
		return nil, err
	}
	return s, nil
}

// loadConfigNumber compares the database hash against the persisted
// one and bumps the configuration number on change.
func (s *Server) loadConfigNumber() error {
	hash := s.db.ConfigHash()

	data, err := s.store.GetBlob(persist.KeyHapHash)
	switch err {
	case nil:
		var blob hashBlob
		if err := cbor.Unmarshal(data, &blob); err != nil {
			return fmt.Errorf("server: decode config hash: %w", err)
		}
		s.configNumber = blob.Number
		if string(blob.Hash) == string(hash[:]) {
			return nil
		}
		s.configNumber++
	case persist.ErrNotFound:
		s.configNumber = 1
	default:
		return err
	}

	blob, err := cbor.Marshal(hashBlob{Hash: hash[:], Number: s.configNumber})
	if err != nil {
		return err
	}
	if err := s.store.SetBlob(persist.KeyHapHash, blob); err != nil {
		return err
	}
	return s.store.Commit()
}

// ConfigNumber returns the current configuration number.
func (s *Server) ConfigNumber() uint32 {
	return s.configNumber
}

// Addr returns the listener address, for tests using port 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start brings up the listener, the advertisement and the background
// loops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if s.listener == nil {
		if s.config.Listener != nil {
			s.listener = s.config.Listener
		} else {
			addr := s.config.ListenAddr
			if addr == "" {
				addr = fmt.Sprintf(":%d", DefaultPort)
			}
			l, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			s.listener = l
		}
	}

	if s.advertiser != nil {
		if err := s.advertiser.Start(s.currentTXT()); err != nil {
			s.listener.Close()
			return err
		}
	}

	s.wg.Add(2)
	go s.acceptLoop()
	go s.tickLoop()

	if s.log != nil {
		s.log.Infof("listening on %s (c#=%d)", s.listener.Addr(), s.configNumber)
	}
	return nil
}

// Stop closes the listener, every connection and the advertisement.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.stopCh)
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	for _, c := range s.pool.all() {
		c.close()
	}
	if s.advertiser != nil {
		s.advertiser.Stop()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		raw, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		c := newConn(s, -1, raw)
		slot, evicted := s.pool.take(c)
		c.slot = slot
		if evicted != nil {
			// The victim's goroutine skips clearing subscriptions
			// because the slot already belongs to the new connection,
			// so clear the flags here before any request can subscribe.
			evicted.close()
			s.db.ClearSlot(slot)
			if s.log != nil {
				s.log.Infof("pool full: evicted slot %d", slot)
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.run()
		}()
	}
}

// tickLoop drives service Loop handlers, flushes queued SetVal
// notifications and sweeps expired timed writes.
func (s *Server) tickLoop() {
	defer s.wg.Done()

	interval := s.config.LoopInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runLoops()
			s.notifier.flush(nil, -1)
			s.sweepTimedWrites()
		}
	}
}

func (s *Server) runLoops() {
	for _, a := range s.db.Accessories() {
		for _, svc := range a.Services() {
			if looper, ok := svc.Handler().(datamodel.Looper); ok {
				looper.Loop(svc)
			}
		}
	}
}

// currentTXT assembles the advertised record from static config and
// dynamic state.
func (s *Server) currentTXT() discovery.AccessoryTXT {
	return discovery.AccessoryTXT{
		ConfigNumber: s.configNumber,
		Model:        s.config.Model,
		Category:     s.config.Category,
		DeviceID:     s.secureChannel.Identity().DeviceID,
		Paired:       s.secureChannel.Controllers().Paired(),
		SetupID:      s.config.SetupID,
	}
}

// updateTXT republishes the TXT record after a pairing-state change.
func (s *Server) updateTXT() {
	if s.advertiser == nil {
		return
	}
	if err := s.advertiser.Update(s.currentTXT()); err != nil && s.log != nil {
		s.log.Errorf("mdns update: %v", err)
	}
}

// handleUnpaired tears all sessions down after the last admin was
// removed.
func (s *Server) handleUnpaired() {
	for _, c := range s.pool.all() {
		c.close()
	}
	s.updateTXT()
}

// disconnectController closes the connections of a removed controller.
func (s *Server) disconnectController(pairingID string) {
	for _, c := range s.pool.all() {
		if ctrl := c.controller(); ctrl != nil && ctrl.PairingID == pairingID {
			c.close()
		}
	}
}

// addTimedWrite records pid with a deadline ttl milliseconds out.
func (s *Server) addTimedWrite(pid, ttlMillis uint64) {
	s.timedMu.Lock()
	defer s.timedMu.Unlock()
	s.timedWrites[pid] = s.clock().Add(time.Duration(ttlMillis) * time.Millisecond)
}

// validTimedWrite reports whether pid was prepared and is unexpired.
func (s *Server) validTimedWrite(pid uint64) bool {
	s.timedMu.Lock()
	defer s.timedMu.Unlock()

	deadline, ok := s.timedWrites[pid]
	if !ok {
		return false
	}
	return !s.clock().After(deadline)
}

// removeTimedWrites consumes used pids.
func (s *Server) removeTimedWrites(pids map[uint64]bool) {
	if len(pids) == 0 {
		return
	}
	s.timedMu.Lock()
	defer s.timedMu.Unlock()
	for pid := range pids {
		delete(s.timedWrites, pid)
	}
}

// sweepTimedWrites drops expired deadlines.
func (s *Server) sweepTimedWrites() {
	s.timedMu.Lock()
	defer s.timedMu.Unlock()

	now := s.clock()
	for pid, deadline := range s.timedWrites {
		if now.After(deadline) {
			delete(s.timedWrites, pid)
		}
	}
}
