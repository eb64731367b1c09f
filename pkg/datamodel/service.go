package datamodel

// Handler supplies a service's dynamic behavior. Update is invoked
// exactly once per service for every write transaction that staged at
// least one of the service's characteristics; returning false rolls
// the whole service's staged values back.
type Handler interface {
	Update(svc *Service) bool
}

// Looper is implemented by handlers that want periodic polling from
// the server loop, for services that originate their own state changes
// (sensors, timers).
type Looper interface {
	Loop(svc *Service)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(svc *Service) bool

// Update implements Handler.
func (f HandlerFunc) Update(svc *Service) bool { return f(svc) }

// Service is a capability group inside an accessory.
type Service struct {
	aid     uint32
	iid     uint32
	typ     string
	primary bool
	hidden  bool

	characteristics []*Characteristic
	handler         Handler
}

// AID returns the owning accessory's id.
func (s *Service) AID() uint32 { return s.aid }

// IID returns the service's instance id.
func (s *Service) IID() uint32 { return s.iid }

// Type returns the HAP service type.
func (s *Service) Type() string { return s.typ }

// SetPrimary marks the service as the accessory's primary service.
func (s *Service) SetPrimary(primary bool) { s.primary = primary }

// SetHidden hides the service from generic controller UIs.
func (s *Service) SetHidden(hidden bool) { s.hidden = hidden }

// SetHandler installs the service's behavior callbacks.
func (s *Service) SetHandler(h Handler) { s.handler = h }

// Handler returns the installed behavior, or nil.
func (s *Service) Handler() Handler { return s.handler }

// Characteristics returns the service's characteristics in declaration
// order. The returned slice must not be modified.
func (s *Service) Characteristics() []*Characteristic {
	return s.characteristics
}

// Characteristic returns the service's characteristic of the given
// type, or nil.
func (s *Service) Characteristic(typ string) *Characteristic {
	for _, c := range s.characteristics {
		if c.typ == typ {
			return c
		}
	}
	return nil
}

// update runs the installed handler; a nil handler accepts the write.
func (s *Service) update() bool {
	if s.handler == nil {
		return true
	}
	return s.handler.Update(s)
}
