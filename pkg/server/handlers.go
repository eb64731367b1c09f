package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/backkem/hap/pkg/datamodel"
)

// handleAccessories answers GET /accessories with the full database.
func (s *Server) handleAccessories(c *conn) bool {
	body := s.db.MarshalJSON(datamodel.DatabaseFlags, -1)
	c.writeResponse(http.StatusOK, MimeJSON, body)
	return true
}

// handleGetCharacteristics answers GET /characteristics?id=aid.iid,...
// with optional meta/perms/type/ev projection flags.
func (s *Server) handleGetCharacteristics(c *conn, rawQuery string) bool {
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		c.writeResponse(http.StatusBadRequest, MimeJSON, nil)
		return false
	}

	flags := datamodel.FlagAID
	if query.Get("meta") == "1" {
		flags |= datamodel.FlagMeta
	}
	if query.Get("perms") == "1" {
		flags |= datamodel.FlagPerms
	}
	if query.Get("type") == "1" {
		flags |= datamodel.FlagType
	}
	if query.Get("ev") == "1" {
		flags |= datamodel.FlagEV
	}

	ids := splitQueryIDs(query.Get("id"))
	if len(ids) == 0 {
		c.writeResponse(http.StatusBadRequest, MimeJSON, nil)
		return true
	}

	type entry struct {
		aid, iid uint32
		char     *datamodel.Characteristic
		status   datamodel.Status
	}
	entries := make([]entry, 0, len(ids))
	anyError := false

	for _, id := range ids {
		aid, iid, ok := parseID(id)
		if !ok {
			c.writeResponse(http.StatusBadRequest, MimeJSON, nil)
			return true
		}
		e := entry{aid: aid, iid: iid, status: datamodel.StatusOK}
		e.char = s.db.Find(aid, iid)
		switch {
		case e.char == nil:
			e.status = datamodel.StatusUnknownResource
		case !e.char.Perms().Has(datamodel.PermPR):
			e.status = datamodel.StatusWriteOnly
		}
		if e.status != datamodel.StatusOK {
			anyError = true
		}
		entries = append(entries, e)
	}

	buf := make([]byte, 0, 256)
	buf = append(buf, `{"characteristics":[`...)
	for i, e := range entries {
		if i > 0 {
			buf = append(buf, ',')
		}
		switch {
		case e.char == nil:
			buf = appendIDStatus(buf, e.aid, e.iid, e.status)
		case anyError:
			buf = s.db.AppendCharacteristic(buf, e.char, flags, c.slot, e.status, true)
		default:
			buf = s.db.AppendCharacteristic(buf, e.char, flags, c.slot, datamodel.StatusOK, false)
		}
	}
	buf = append(buf, `]}`...)

	status := http.StatusOK
	if anyError {
		status = http.StatusMultiStatus
	}
	c.writeResponse(status, MimeJSON, buf)
	return true
}

// putObject is one object of a PUT /characteristics body.
type putObject struct {
	AID   uint32          `json:"aid"`
	IID   uint32          `json:"iid"`
	Value json.RawMessage `json:"value"`
	EV    *bool           `json:"ev"`
	PID   *uint64         `json:"pid"`
}

// handlePutCharacteristics implements the two-pass write transaction.
func (s *Server) handlePutCharacteristics(c *conn, body []byte) bool {
	var req struct {
		Characteristics []putObject `json:"characteristics"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil || len(req.Characteristics) == 0 {
		c.writeResponse(http.StatusBadRequest, MimeJSON, nil)
		return false
	}

	type result struct {
		obj    putObject
		char   *datamodel.Characteristic
		status datamodel.Status
	}
	results := make([]result, len(req.Characteristics))
	var staged []*datamodel.Characteristic
	usedPIDs := make(map[uint64]bool)

	// Pass one: resolve, validate and stage each object on its own.
	for i, obj := range req.Characteristics {
		r := result{obj: obj, status: datamodel.StatusOK}
		r.char = s.db.Find(obj.AID, obj.IID)
		if r.char == nil {
			r.status = datamodel.StatusUnknownResource
			results[i] = r
			continue
		}

		if obj.PID != nil {
			if !s.validTimedWrite(*obj.PID) {
				r.status = datamodel.StatusInvalidValue
				results[i] = r
				continue
			}
			usedPIDs[*obj.PID] = true
		}

		if obj.EV != nil {
			r.status = s.db.Subscribe(r.char, c.slot, *obj.EV)
		}

		if r.status == datamodel.StatusOK && len(obj.Value) > 0 {
			var raw any
			d := json.NewDecoder(bytes.NewReader(obj.Value))
			d.UseNumber()
			if err := d.Decode(&raw); err != nil {
				r.status = datamodel.StatusInvalidValue
			} else {
				r.status = s.db.StageWrite(r.char, raw)
				if r.status == datamodel.StatusOK {
					staged = append(staged, r.char)
				}
			}
		}
		results[i] = r
	}

	// A prepared pid is good for one transaction.
	s.removeTimedWrites(usedPIDs)

	// Pass two: commit grouped by service.
	changed, commitStatuses := s.db.CommitWrite(staged)
	for i := range results {
		if st, ok := commitStatuses[results[i].char]; ok && results[i].status == datamodel.StatusOK {
			results[i].status = st
		}
	}

	allOK := true
	for _, r := range results {
		if r.status != datamodel.StatusOK {
			allOK = false
		}
	}

	if allOK {
		c.writeResponse(http.StatusNoContent, MimeJSON, nil)
	} else {
		buf := make([]byte, 0, 128)
		buf = append(buf, `{"characteristics":[`...)
		for i, r := range results {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendIDStatus(buf, r.obj.AID, r.obj.IID, r.status)
		}
		buf = append(buf, `]}`...)
		c.writeResponse(http.StatusMultiStatus, MimeJSON, buf)
	}

	// Notifications go out after the response; handler SetVal calls
	// made during commit ride the same batch.
	s.notifier.flush(changed, c.slot)
	return true
}

// handlePrepare stores a timed-write deadline (PUT /prepare).
func (s *Server) handlePrepare(c *conn, body []byte) bool {
	var req struct {
		TTL uint64 `json:"ttl"`
		PID uint64 `json:"pid"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.TTL == 0 {
		c.writeResponse(http.StatusBadRequest, MimeJSON, nil)
		return false
	}

	s.addTimedWrite(req.PID, req.TTL)
	c.writeResponse(http.StatusOK, MimeJSON, statusBody(0))
	return true
}

// handlePairings runs add/remove/list pairings for a verified admin.
func (s *Server) handlePairings(c *conn, body []byte) bool {
	resp, result, err := s.secureChannel.HandlePairings(c.controller(), body)
	if err != nil {
		c.writeResponse(http.StatusBadRequest, MimeTLV8, nil)
		return false
	}
	c.writeResponse(http.StatusOK, MimeTLV8, resp)

	if result != nil {
		if result.Unpaired {
			s.handleUnpaired()
			return false
		}
		if result.RemovedID != "" {
			s.disconnectController(result.RemovedID)
		}
	}
	return true
}

// handleIdentify runs the identify routine. Only legal while unpaired;
// paired accessories identify through a characteristic write.
func (s *Server) handleIdentify(c *conn) bool {
	if s.secureChannel.Controllers().Paired() {
		c.writeResponse(http.StatusBadRequest, MimeJSON,
			statusBody(hapStatusInsufficientPrivileges))
		return true
	}
	if s.config.OnIdentify != nil {
		s.config.OnIdentify()
	}
	c.writeResponse(http.StatusNoContent, MimeJSON, nil)
	return true
}

// parseID splits "aid.iid".
func parseID(s string) (aid, iid uint32, ok bool) {
	dot := strings.IndexByte(s, '.')
	if dot <= 0 || dot == len(s)-1 {
		return 0, 0, false
	}
	a, err := strconv.ParseUint(s[:dot], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	i, err := strconv.ParseUint(s[dot+1:], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return uint32(a), uint32(i), true
}

// appendIDStatus appends a bare {"aid":..,"iid":..,"status":..} object.
func appendIDStatus(buf []byte, aid, iid uint32, status datamodel.Status) []byte {
	buf = append(buf, `{"aid":`...)
	buf = strconv.AppendUint(buf, uint64(aid), 10)
	buf = append(buf, `,"iid":`...)
	buf = strconv.AppendUint(buf, uint64(iid), 10)
	buf = append(buf, `,"status":`...)
	buf = strconv.AppendInt(buf, int64(status), 10)
	buf = append(buf, '}')
	return buf
}
