package server

import (
	"sync"

	"github.com/backkem/hap/pkg/datamodel"
)

// notifier fans committed characteristic changes out to subscribed
// connections as EVENT/1.0 frames. Changes from controller writes
// broadcast immediately (excluding the writer); server-side SetVal
// changes queue here and flush either with the next PUT's batch or on
// the server's notify tick, whichever comes first.
type notifier struct {
	server *Server

	mu      sync.Mutex
	pending []*datamodel.Characteristic
}

func newNotifier(s *Server) *notifier {
	return &notifier{server: s}
}

// enqueue records a server-side change for the next flush. Installed
// as the database change listener.
func (n *notifier) enqueue(c *datamodel.Characteristic) {
	n.mu.Lock()
	n.pending = append(n.pending, c)
	n.mu.Unlock()
}

// flush drains the SetVal queue and broadcasts it to every subscribed
// connection. excludeSlot carries the slot of an in-flight PUT whose
// own changes ride the same batch; pass -1 otherwise.
func (n *notifier) flush(putChanged []*datamodel.Characteristic, excludeSlot int) {
	n.mu.Lock()
	queued := n.pending
	n.pending = nil
	n.mu.Unlock()

	if len(queued) == 0 && len(putChanged) == 0 {
		return
	}

	for _, c := range n.server.pool.all() {
		if !c.isVerified() {
			continue
		}

		// One coalesced frame per connection. The PUT's own changes
		// are skipped on the connection that issued the PUT; SetVal
		// changes go everywhere.
		var batch []*datamodel.Characteristic
		seen := make(map[*datamodel.Characteristic]bool)
		for _, ch := range queued {
			if n.server.db.Subscribed(ch, c.slot) && !seen[ch] {
				batch = append(batch, ch)
				seen[ch] = true
			}
		}
		if c.slot != excludeSlot {
			for _, ch := range putChanged {
				if n.server.db.Subscribed(ch, c.slot) && !seen[ch] {
					batch = append(batch, ch)
					seen[ch] = true
				}
			}
		}
		if len(batch) == 0 {
			continue
		}

		body := n.server.db.MarshalCharacteristics(batch, datamodel.FlagAID|datamodel.FlagNV, -1, nil)
		if err := c.writeEvent(body); err != nil && n.server.log != nil {
			n.server.log.Debugf("event write to slot %d failed: %v", c.slot, err)
		}
	}
}
