package pairing

import (
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/backkem/hap/pkg/persist"
)

// MaxControllers is the paired-controller table capacity (HAP requires
// at least 16).
const MaxControllers = 16

// LTPKSize is the length of a controller's long-term public key.
const LTPKSize = 32

// Controller is one paired controller record.
type Controller struct {
	// PairingID is the controller's pairing identifier, a UUID string
	// for iOS controllers.
	PairingID string

	// LTPK is the controller's long-term Ed25519 public key.
	LTPK [LTPKSize]byte

	// Admin marks controllers allowed to manage pairings.
	Admin bool
}

// controllersBlob is the persisted form of the table.
type controllersBlob struct {
	Controllers []controllerRecord `cbor:"1,keyasint"`
}

type controllerRecord struct {
	PairingID string `cbor:"1,keyasint"`
	LTPK      []byte `cbor:"2,keyasint"`
	Admin     bool   `cbor:"3,keyasint"`
}

// ControllerStore is the fixed-capacity paired-controller table. Every
// mutation persists synchronously; callers answer the triggering
// request only after the corresponding method returns.
type ControllerStore struct {
	mu          sync.RWMutex
	store       persist.Store
	controllers []Controller
}

// NewControllerStore loads the persisted table (empty when none).
func NewControllerStore(store persist.Store) (*ControllerStore, error) {
	s := &ControllerStore{store: store}

	data, err := store.GetBlob(persist.KeyControllers)
	switch err {
	case nil:
		var blob controllersBlob
		if err := cbor.Unmarshal(data, &blob); err != nil {
			return nil, fmt.Errorf("pairing: decode controller table: %w", err)
		}
		for _, r := range blob.Controllers {
			if len(r.LTPK) != LTPKSize {
				return nil, ErrCorruptIdentity
			}
			c := Controller{PairingID: r.PairingID, Admin: r.Admin}
			copy(c.LTPK[:], r.LTPK)
			s.controllers = append(s.controllers, c)
		}
	case persist.ErrNotFound:
	default:
		return nil, err
	}
	return s, nil
}

// ValidatePairingID checks the shape of a controller pairing
// identifier: iOS controllers send 36-byte UUID strings, which must
// parse; other lengths are accepted opaque.
func ValidatePairingID(id string) error {
	if id == "" {
		return ErrInvalidPairingID
	}
	if len(id) == 36 {
		if _, err := uuid.Parse(id); err != nil {
			return ErrInvalidPairingID
		}
	}
	return nil
}

// Add inserts or updates a controller record and persists the table.
// Re-adding an existing pairing updates its key and may upgrade (never
// downgrade) admin.
func (s *ControllerStore) Add(pairingID string, ltpk []byte, admin bool) error {
	if err := ValidatePairingID(pairingID); err != nil {
		return err
	}
	if len(ltpk) != LTPKSize {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.controllers {
		if s.controllers[i].PairingID == pairingID {
			copy(s.controllers[i].LTPK[:], ltpk)
			if admin {
				s.controllers[i].Admin = true
			}
			return s.persistLocked()
		}
	}

	if len(s.controllers) >= MaxControllers {
		return ErrTableFull
	}
	c := Controller{PairingID: pairingID, Admin: admin}
	copy(c.LTPK[:], ltpk)
	s.controllers = append(s.controllers, c)
	return s.persistLocked()
}

// Remove deletes a controller record. Removing an unknown pairing is
// not an error. Reports whether an admin remains afterwards.
func (s *ControllerStore) Remove(pairingID string) (adminRemains bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.controllers {
		if s.controllers[i].PairingID == pairingID {
			s.controllers = append(s.controllers[:i], s.controllers[i+1:]...)
			break
		}
	}
	for _, c := range s.controllers {
		if c.Admin {
			adminRemains = true
		}
	}
	return adminRemains, s.persistLocked()
}

// RemoveAll clears the table, returning the device to its unpaired
// state.
func (s *ControllerStore) RemoveAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.controllers = nil
	return s.persistLocked()
}

// Find returns the controller with the given pairing ID, or nil.
func (s *ControllerStore) Find(pairingID string) *Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.controllers {
		if s.controllers[i].PairingID == pairingID {
			c := s.controllers[i]
			return &c
		}
	}
	return nil
}

// List returns a copy of all controller records.
func (s *ControllerStore) List() []Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Controller, len(s.controllers))
	copy(out, s.controllers)
	return out
}

// Paired reports whether an admin controller exists; only then is the
// accessory considered paired (sf=0).
func (s *ControllerStore) Paired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.controllers {
		if c.Admin {
			return true
		}
	}
	return false
}

func (s *ControllerStore) persistLocked() error {
	blob := controllersBlob{}
	for _, c := range s.controllers {
		blob.Controllers = append(blob.Controllers, controllerRecord{
			PairingID: c.PairingID,
			LTPK:      c.LTPK[:],
			Admin:     c.Admin,
		})
	}
	data, err := cbor.Marshal(blob)
	if err != nil {
		return err
	}
	if err := s.store.SetBlob(persist.KeyControllers, data); err != nil {
		return err
	}
	return s.store.Commit()
}
