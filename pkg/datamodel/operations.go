package datamodel

// Write-transaction operations backing PUT /characteristics. The
// two-pass shape: every object stages individually with its own status
// code, then staged characteristics commit grouped by owning service
// with one Update callback per service.

// StageWrite validates a raw JSON value against the characteristic's
// permissions, format and range, and stages it. Returns StatusOK when
// staged.
func (db *Database) StageWrite(c *Characteristic, raw any) Status {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !c.perms.Has(PermPW) {
		return StatusReadOnly
	}
	v, ok := ParseValue(c.format, raw)
	if !ok {
		return StatusInvalidValue
	}
	if !c.inRange(v) {
		return StatusInvalidValue
	}
	c.stage(v, db.now())
	return StatusOK
}

// Subscribe flips the event-subscription flag of a characteristic for
// a connection slot. Returns StatusNotifyNotAllowed when the
// characteristic does not permit events.
func (db *Database) Subscribe(c *Characteristic, slot int, on bool) Status {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !c.perms.Has(PermEV) {
		return StatusNotifyNotAllowed
	}
	c.SetEv(slot, on)
	return StatusOK
}

// Subscribed reports a slot's subscription flag under the database
// lock; the notifier reads flags while connections update them.
func (db *Database) Subscribed(c *Characteristic, slot int) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return c.Ev(slot)
}

// CommitWrite finishes a write transaction over the staged
// characteristics. Objects group by owning service; each service's
// Update callback runs exactly once, outside the database lock so
// handlers may call SetVal. A true return commits the group, false
// rolls it back with StatusUnable for each of its members.
//
// Returns the characteristics whose committed value actually changed
// (for event notification) and the final per-characteristic status.
func (db *Database) CommitWrite(staged []*Characteristic) ([]*Characteristic, map[*Characteristic]Status) {
	// Group by owning service preserving first-seen order.
	db.mu.RLock()
	var order []*Service
	groups := make(map[*Service][]*Characteristic)
	for _, c := range staged {
		svc := db.findServiceLocked(c)
		if svc == nil {
			continue
		}
		if _, seen := groups[svc]; !seen {
			order = append(order, svc)
		}
		groups[svc] = append(groups[svc], c)
	}
	db.mu.RUnlock()

	statuses := make(map[*Characteristic]Status, len(staged))
	var changed []*Characteristic

	for _, svc := range order {
		members := groups[svc]
		ok := svc.update()

		db.mu.Lock()
		for _, c := range members {
			if ok {
				if c.commit() {
					changed = append(changed, c)
				}
				statuses[c] = StatusOK
			} else {
				c.rollback()
				statuses[c] = StatusUnable
			}
		}
		db.mu.Unlock()
	}
	return changed, statuses
}

func (db *Database) findServiceLocked(c *Characteristic) *Service {
	for _, a := range db.accessories {
		if a.aid != c.aid {
			continue
		}
		for _, s := range a.services {
			for _, sc := range s.characteristics {
				if sc == c {
					return s
				}
			}
		}
	}
	return nil
}
