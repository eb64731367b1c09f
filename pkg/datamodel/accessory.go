package datamodel

import (
	"fmt"
	"time"
)

// Accessory is one accessory in the attribute database: an ordered
// list of services sharing an instance-id space.
type Accessory struct {
	aid      uint32
	nextIID  uint32
	slots    int
	services []*Service
}

// AID returns the accessory id.
func (a *Accessory) AID() uint32 { return a.aid }

// Services returns the accessory's services in declaration order.
func (a *Accessory) Services() []*Service {
	return a.services
}

// AddService appends a service of the given HAP type and assigns the
// next instance id. Unknown types are allowed (custom services carry
// full UUIDs) but get no required/optional validation.
func (a *Accessory) AddService(typ string) *Service {
	s := &Service{
		aid: a.aid,
		iid: a.nextIID,
		typ: typ,
	}
	a.nextIID++
	a.services = append(a.services, s)
	return s
}

// AddCharacteristic appends a characteristic of the given type to svc,
// assigning the next instance id from this accessory's counter. The
// format, permissions, description and range come from the catalog.
// Unknown types return an error; custom characteristics use
// AddCustomCharacteristic.
func (a *Accessory) AddCharacteristic(svc *Service, typ string, initial Value) (*Characteristic, error) {
	meta, ok := characteristicCatalog[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCharacteristicType, typ)
	}
	if initial.Format() != meta.format {
		return nil, fmt.Errorf("%w: characteristic %s wants %s, got %s",
			ErrFormatMismatch, typ, meta.format, initial.Format())
	}
	return a.addCharacteristic(svc, typ, meta.format, meta.perms, meta.desc, meta.rng, initial), nil
}

// AddCustomCharacteristic appends a characteristic with explicit
// format and permissions, for vendor-specific types.
func (a *Accessory) AddCustomCharacteristic(svc *Service, typ string, format Format, perms Perms, initial Value) (*Characteristic, error) {
	if initial.Format() != format {
		return nil, fmt.Errorf("%w: characteristic %s wants %s, got %s",
			ErrFormatMismatch, typ, format, initial.Format())
	}
	return a.addCharacteristic(svc, typ, format, perms, "", nil, initial), nil
}

func (a *Accessory) addCharacteristic(svc *Service, typ string, format Format, perms Perms, desc string, rng *Range, initial Value) *Characteristic {
	c := &Characteristic{
		aid:        a.aid,
		iid:        a.nextIID,
		typ:        typ,
		perms:      perms,
		format:     format,
		desc:       desc,
		rng:        rng,
		value:      initial,
		updateTime: time.Time{},
		ev:         make([]bool, a.slots),
	}
	a.nextIID++
	svc.characteristics = append(svc.characteristics, c)
	return c
}
