package datamodel

import "time"

// Characteristic is a typed value inside a service. Instance IDs come
// from the owning accessory's counter and never change afterwards.
type Characteristic struct {
	aid    uint32
	iid    uint32
	typ    string
	perms  Perms
	format Format
	desc   string
	rng    *Range

	value      Value
	newValue   Value
	isUpdated  bool
	updateTime time.Time

	// ev holds one subscription flag per connection slot.
	ev []bool
}

// AID returns the owning accessory's id.
func (c *Characteristic) AID() uint32 { return c.aid }

// IID returns the characteristic's instance id.
func (c *Characteristic) IID() uint32 { return c.iid }

// Type returns the HAP type.
func (c *Characteristic) Type() string { return c.typ }

// Perms returns the permission bitmask.
func (c *Characteristic) Perms() Perms { return c.perms }

// Format returns the value format.
func (c *Characteristic) Format() Format { return c.format }

// Value returns the committed value.
func (c *Characteristic) Value() Value { return c.value }

// NewValue returns the staged value during a write transaction. Before
// staging it equals the committed value.
func (c *Characteristic) NewValue() Value {
	if c.isUpdated {
		return c.newValue
	}
	return c.value
}

// IsUpdated reports whether a write transaction staged a new value.
func (c *Characteristic) IsUpdated() bool { return c.isUpdated }

// UpdateTime returns when the value last changed.
func (c *Characteristic) UpdateTime() time.Time { return c.updateTime }

// SetDescription attaches a user description emitted with FlagDesc.
func (c *Characteristic) SetDescription(desc string) {
	c.desc = desc
}

// SetRange overrides the catalog range for numeric characteristics.
func (c *Characteristic) SetRange(min, max, step float64) {
	c.rng = &Range{Min: min, Max: max, Step: step}
}

// Ev returns the subscription flag for a connection slot.
func (c *Characteristic) Ev(slot int) bool {
	if slot < 0 || slot >= len(c.ev) {
		return false
	}
	return c.ev[slot]
}

// SetEv sets the subscription flag for a connection slot.
func (c *Characteristic) SetEv(slot int, on bool) {
	if slot >= 0 && slot < len(c.ev) {
		c.ev[slot] = on
	}
}

// inRange checks a parsed value against the characteristic's range.
func (c *Characteristic) inRange(v Value) bool {
	if c.rng == nil || c.format == FormatString || c.format == FormatBool {
		return true
	}
	f := v.Float64()
	return f >= c.rng.Min && f <= c.rng.Max
}

// stage records a validated new value for the two-pass write.
func (c *Characteristic) stage(v Value, now time.Time) {
	c.newValue = v
	c.isUpdated = true
	c.updateTime = now
}

// commit promotes the staged value. Reports whether the committed
// value differs from the previous one.
func (c *Characteristic) commit() bool {
	if !c.isUpdated {
		return false
	}
	c.isUpdated = false
	changed := !c.value.Equal(c.newValue)
	c.value = c.newValue
	return changed
}

// rollback drops the staged value.
func (c *Characteristic) rollback() {
	c.isUpdated = false
	c.newValue = Value{}
}
