package datamodel

import (
	"fmt"
	"sync"
	"time"

	"github.com/backkem/hap/pkg/crypto"
)

// ChangeListener observes committed server-side value changes, feeding
// the event notifier.
type ChangeListener func(c *Characteristic)

// Database is the accessory attribute database: the tree of
// accessories, services and characteristics a controller reads and
// writes. It is safe for concurrent use; write transactions are
// serialized by the caller holding a single request goroutine per
// connection plus the internal lock.
type Database struct {
	mu          sync.RWMutex
	accessories []*Accessory
	slots       int
	nextAID     uint32
	listener    ChangeListener
	now         func() time.Time
}

// NewDatabase creates an empty database whose characteristics carry
// one event-subscription flag per connection slot.
func NewDatabase(slots int) *Database {
	return &Database{
		slots:   slots,
		nextAID: 1,
		now:     time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (db *Database) SetClock(now func() time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.now = now
}

// SetChangeListener installs the observer for SetVal commits.
func (db *Database) SetChangeListener(l ChangeListener) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.listener = l
}

// Slots returns the connection-slot capacity the database was built
// for.
func (db *Database) Slots() int {
	return db.slots
}

// AddAccessory appends an accessory with the next free aid (starting
// at 1, in declaration order).
func (db *Database) AddAccessory() *Accessory {
	db.mu.Lock()
	defer db.mu.Unlock()

	a := &Accessory{aid: db.nextAID, nextIID: 1, slots: db.slots}
	db.nextAID++
	db.accessories = append(db.accessories, a)
	return a
}

// AddAccessoryWithAID appends an accessory with an explicit aid.
// Uniqueness is checked by Validate at boot.
func (db *Database) AddAccessoryWithAID(aid uint32) *Accessory {
	db.mu.Lock()
	defer db.mu.Unlock()

	a := &Accessory{aid: aid, nextIID: 1, slots: db.slots}
	if aid >= db.nextAID {
		db.nextAID = aid + 1
	}
	db.accessories = append(db.accessories, a)
	return a
}

// Accessories returns the accessories in declaration order.
func (db *Database) Accessories() []*Accessory {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.accessories
}

// Find returns the characteristic at (aid, iid), or nil. A linear scan
// is adequate for the expected database size.
func (db *Database) Find(aid, iid uint32) *Characteristic {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.find(aid, iid)
}

func (db *Database) find(aid, iid uint32) *Characteristic {
	for _, a := range db.accessories {
		if a.aid != aid {
			continue
		}
		for _, s := range a.services {
			for _, c := range s.characteristics {
				if c.iid == iid {
					return c
				}
			}
		}
	}
	return nil
}

// FindService returns the service owning the characteristic at
// (aid, iid), or nil.
func (db *Database) FindService(aid, iid uint32) *Service {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, a := range db.accessories {
		if a.aid != aid {
			continue
		}
		for _, s := range a.services {
			for _, c := range s.characteristics {
				if c.iid == iid {
					return s
				}
			}
		}
	}
	return nil
}

// IsBridge reports whether the device is a bridge: there is more than
// one accessory and accessory 1 holds nothing beyond the information
// and protocol services.
func (db *Database) IsBridge() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if len(db.accessories) == 0 {
		return false
	}
	for _, s := range db.accessories[0].services {
		if s.typ != ServiceAccessoryInformation && s.typ != ServiceProtocolInformation {
			return false
		}
	}
	return len(db.accessories) > 1
}

// SetVal commits a server-originated value change and notifies the
// change listener so subscribed controllers receive an event.
func (db *Database) SetVal(c *Characteristic, v Value) error {
	db.mu.Lock()
	if v.Format() != c.format {
		db.mu.Unlock()
		return fmt.Errorf("%w: characteristic %s wants %s, got %s",
			ErrFormatMismatch, c.typ, c.format, v.Format())
	}
	c.value = v
	c.updateTime = db.now()
	listener := db.listener
	db.mu.Unlock()

	if listener != nil {
		listener(c)
	}
	return nil
}

// ClearSlot drops every subscription flag held by a connection slot.
// Called when a connection closes or its slot is evicted.
func (db *Database) ClearSlot(slot int) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, a := range db.accessories {
		for _, s := range a.services {
			for _, c := range s.characteristics {
				c.SetEv(slot, false)
			}
		}
	}
}

// ConfigHash returns the SHA-384 fingerprint of the canonical
// value-free serialization. The server compares it against the
// persisted hash to decide when to bump the configuration number;
// only structural changes may move it, never live values.
func (db *Database) ConfigHash() [crypto.SHA384LenBytes]byte {
	return crypto.SHA384(db.MarshalJSON(StructuralFlags, -1))
}

// Validate checks every boot-time invariant and returns all violations
// at once; any violation aborts startup before the network comes up.
func (db *Database) Validate() []error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if len(db.accessories) == 0 {
		fail("database has no accessories")
		return errs
	}
	if db.accessories[0].aid != 1 {
		fail("first accessory has aid %d, must be 1", db.accessories[0].aid)
	}

	bridge := db.isBridgeLocked()
	seenAID := make(map[uint32]bool)
	for _, a := range db.accessories {
		if a.aid == 0 {
			fail("accessory aid must be positive")
		}
		if seenAID[a.aid] {
			fail("duplicate accessory aid %d", a.aid)
		}
		seenAID[a.aid] = true

		info := false
		protocol := false
		for _, s := range a.services {
			switch s.typ {
			case ServiceAccessoryInformation:
				info = true
				if s.iid != 1 {
					fail("accessory %d: AccessoryInformation service has iid %d, must be 1", a.aid, s.iid)
				}
			case ServiceProtocolInformation:
				protocol = true
			}
			errs = append(errs, validateService(a.aid, s)...)
		}
		if !info {
			fail("accessory %d: missing AccessoryInformation service", a.aid)
		}
		if !protocol && (a.aid == 1 || !bridge) {
			fail("accessory %d: missing HAPProtocolInformation service", a.aid)
		}
	}
	return errs
}

func (db *Database) isBridgeLocked() bool {
	if len(db.accessories) < 2 {
		return false
	}
	for _, s := range db.accessories[0].services {
		if s.typ != ServiceAccessoryInformation && s.typ != ServiceProtocolInformation {
			return false
		}
	}
	return true
}

func validateService(aid uint32, s *Service) []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	meta, known := serviceCatalog[s.typ]
	seenType := make(map[string]bool)
	for _, c := range s.characteristics {
		if seenType[c.typ] {
			fail("accessory %d service %s: duplicate characteristic type %s", aid, s.typ, c.typ)
		}
		seenType[c.typ] = true

		if known && !typeAllowed(meta, c.typ) {
			fail("accessory %d service %s: characteristic %s is neither required nor optional", aid, s.typ, c.typ)
		}
	}
	if known {
		for _, req := range meta.required {
			if !seenType[req] {
				fail("accessory %d service %s: missing required characteristic %s", aid, s.typ, req)
			}
		}
	}
	return errs
}

func typeAllowed(meta serviceMeta, typ string) bool {
	for _, t := range meta.required {
		if t == typ {
			return true
		}
	}
	for _, t := range meta.optional {
		if t == typ {
			return true
		}
	}
	return false
}
