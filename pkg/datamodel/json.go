package datamodel

import "strconv"

// JSON serialization of the attribute tree. Output is compact and
// byte-stable for an unchanged database, which the configuration-hash
// logic depends on. Emission goes to a growable buffer in one pass.

// MarshalJSON serializes the full tree as the /accessories body. slot
// selects whose subscription flags a FlagEV projection reports; pass
// -1 when FlagEV is unset.
func (db *Database) MarshalJSON(flags Flags, slot int) []byte {
	db.mu.RLock()
	defer db.mu.RUnlock()

	buf := make([]byte, 0, 1024)
	buf = append(buf, `{"accessories":[`...)
	for i, a := range db.accessories {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendAccessory(buf, a, flags, slot)
	}
	buf = append(buf, `]}`...)
	return buf
}

// MarshalCharacteristics serializes a characteristic list body for
// GET /characteristics, PUT responses and events:
// {"characteristics":[{...},...]}. statuses may be nil; when present,
// each object carries its status and values are omitted for non-OK
// entries.
func (db *Database) MarshalCharacteristics(cs []*Characteristic, flags Flags, slot int, statuses map[*Characteristic]Status) []byte {
	db.mu.RLock()
	defer db.mu.RUnlock()

	buf := make([]byte, 0, 256)
	buf = append(buf, `{"characteristics":[`...)
	for i, c := range cs {
		if i > 0 {
			buf = append(buf, ',')
		}
		status, hasStatus := StatusOK, false
		if statuses != nil {
			status, hasStatus = statuses[c], true
		}
		buf = appendCharacteristic(buf, c, flags, slot, status, hasStatus)
	}
	buf = append(buf, `]}`...)
	return buf
}

// AppendCharacteristic appends one characteristic object to buf, for
// callers composing mixed bodies (found characteristics interleaved
// with unknown-resource placeholders).
func (db *Database) AppendCharacteristic(buf []byte, c *Characteristic, flags Flags, slot int, status Status, hasStatus bool) []byte {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return appendCharacteristic(buf, c, flags, slot, status, hasStatus)
}

func appendAccessory(buf []byte, a *Accessory, flags Flags, slot int) []byte {
	buf = append(buf, `{"aid":`...)
	buf = strconv.AppendUint(buf, uint64(a.aid), 10)
	buf = append(buf, `,"services":[`...)
	for i, s := range a.services {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendService(buf, s, flags, slot)
	}
	buf = append(buf, `]}`...)
	return buf
}

func appendService(buf []byte, s *Service, flags Flags, slot int) []byte {
	buf = append(buf, `{"iid":`...)
	buf = strconv.AppendUint(buf, uint64(s.iid), 10)
	buf = append(buf, `,"type":"`...)
	buf = append(buf, s.typ...)
	buf = append(buf, '"')
	if s.primary {
		buf = append(buf, `,"primary":true`...)
	}
	if s.hidden {
		buf = append(buf, `,"hidden":true`...)
	}
	buf = append(buf, `,"characteristics":[`...)
	for i, c := range s.characteristics {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendCharacteristic(buf, c, flags, slot, StatusOK, false)
	}
	buf = append(buf, `]}`...)
	return buf
}

func appendCharacteristic(buf []byte, c *Characteristic, flags Flags, slot int, status Status, hasStatus bool) []byte {
	buf = append(buf, '{')
	if flags&FlagAID != 0 {
		buf = append(buf, `"aid":`...)
		buf = strconv.AppendUint(buf, uint64(c.aid), 10)
		buf = append(buf, ',')
	}
	buf = append(buf, `"iid":`...)
	buf = strconv.AppendUint(buf, uint64(c.iid), 10)

	if flags&FlagType != 0 {
		buf = append(buf, `,"type":"`...)
		buf = append(buf, c.typ...)
		buf = append(buf, '"')
	}
	if flags&FlagPerms != 0 {
		buf = append(buf, `,"perms":[`...)
		first := true
		for _, pn := range permNames {
			if !c.perms.Has(pn.perm) {
				continue
			}
			if !first {
				buf = append(buf, ',')
			}
			first = false
			buf = append(buf, '"')
			buf = append(buf, pn.name...)
			buf = append(buf, '"')
		}
		buf = append(buf, ']')
	}
	if flags&FlagMeta != 0 {
		buf = append(buf, `,"format":"`...)
		buf = append(buf, c.format.String()...)
		buf = append(buf, '"')
		if c.rng != nil {
			buf = append(buf, `,"minValue":`...)
			buf = strconv.AppendFloat(buf, c.rng.Min, 'g', -1, 64)
			buf = append(buf, `,"maxValue":`...)
			buf = strconv.AppendFloat(buf, c.rng.Max, 'g', -1, 64)
			if c.rng.Step > 0 {
				buf = append(buf, `,"minStep":`...)
				buf = strconv.AppendFloat(buf, c.rng.Step, 'g', -1, 64)
			}
		}
	}

	emitValue := c.perms.Has(PermPR) &&
		flags&FlagNoValues == 0 &&
		!(flags&FlagNV != 0 && c.perms.Has(PermNV)) &&
		(!hasStatus || status == StatusOK)
	if emitValue {
		buf = append(buf, `,"value":`...)
		buf = c.value.appendJSON(buf)
	}

	if flags&FlagEV != 0 {
		buf = append(buf, `,"ev":`...)
		if c.Ev(slot) {
			buf = append(buf, "true"...)
		} else {
			buf = append(buf, "false"...)
		}
	}
	if flags&FlagDesc != 0 && c.desc != "" {
		buf = append(buf, `,"description":"`...)
		buf = append(buf, c.desc...)
		buf = append(buf, '"')
	}
	if hasStatus {
		buf = append(buf, `,"status":`...)
		buf = strconv.AppendInt(buf, int64(status), 10)
	}
	buf = append(buf, '}')
	return buf
}
