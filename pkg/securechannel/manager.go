// Package securechannel implements the HAP pairing protocols:
// Pair-Setup (SRP-6a enrollment, HAP Section 5.6), Pair-Verify
// (session establishment, HAP Section 5.7) and the add/remove/list
// pairings operations (HAP Section 5.10).
//
// The Manager owns the accessory identity and paired-controller table
// and hands out per-connection setup and verify sessions. A single
// Pair-Setup may be in flight at a time; concurrent attempts are
// answered with Error=Busy.
package securechannel

import (
	"crypto/rand"
	"io"
	"sync"

	"github.com/pion/logging"

	"github.com/backkem/hap/pkg/pairing"
)

// Pairing states (HAP Table 5-4). A state value names the message that
// carries it.
const (
	StateM1 = 0x01
	StateM2 = 0x02
	StateM3 = 0x03
	StateM4 = 0x04
	StateM5 = 0x05
	StateM6 = 0x06
)

// ManagerConfig configures the secure channel manager.
type ManagerConfig struct {
	// Identity is the accessory's long-term identity. Required.
	Identity *pairing.Identity

	// Verifier is the provisioned SRP verifier. Nil means the device
	// was never provisioned; Pair-Setup answers Unavailable.
	Verifier *pairing.Verifier

	// Controllers is the paired-controller table. Required.
	Controllers *pairing.ControllerStore

	// Rand is the randomness source. Defaults to crypto/rand.
	Rand io.Reader

	// LoggerFactory for creating loggers. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Manager coordinates pairing sessions across connections.
type Manager struct {
	identity    *pairing.Identity
	verifier    *pairing.Verifier
	controllers *pairing.ControllerStore
	rand        io.Reader
	log         logging.LeveledLogger

	mu         sync.Mutex
	setupOwner *SetupSession
}

// NewManager creates a secure channel manager.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Identity == nil || config.Controllers == nil {
		return nil, ErrNoIdentity
	}

	m := &Manager{
		identity:    config.Identity,
		verifier:    config.Verifier,
		controllers: config.Controllers,
		rand:        config.Rand,
	}
	if m.rand == nil {
		m.rand = rand.Reader
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("securechannel")
	}
	return m, nil
}

// Controllers returns the paired-controller table.
func (m *Manager) Controllers() *pairing.ControllerStore {
	return m.controllers
}

// Identity returns the accessory identity.
func (m *Manager) Identity() *pairing.Identity {
	return m.identity
}

// acquireSetup claims the single in-flight Pair-Setup slot for s.
// Reports false when another session holds it.
func (m *Manager) acquireSetup(s *SetupSession) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.setupOwner != nil && m.setupOwner != s {
		return false
	}
	m.setupOwner = s
	return true
}

// releaseSetup frees the in-flight slot if s holds it. Sessions call
// this on completion or failure; connections call it on close.
func (m *Manager) releaseSetup(s *SetupSession) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.setupOwner == s {
		m.setupOwner = nil
	}
}
