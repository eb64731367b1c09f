package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/backkem/hap/pkg/pairing"
	"github.com/backkem/hap/pkg/securechannel"
	"github.com/backkem/hap/pkg/session"
)

// MimeTLV8 is the content type of pairing bodies.
const MimeTLV8 = "application/pairing+tlv8"

// MimeJSON is the content type of attribute bodies.
const MimeJSON = "application/hap+json"

// conn is one controller connection occupying a pool slot. Requests on
// a connection are processed strictly in order by its goroutine;
// events may interleave between (never inside) responses via the write
// mutex.
type conn struct {
	server *Server
	slot   int

	raw net.Conn

	// mu guards the reader/writer swap at verify time and every write.
	mu       sync.Mutex
	reader   *bufio.Reader
	writer   io.Writer
	secure   *session.Secure
	verified *pairing.Controller

	setup  *securechannel.SetupSession
	verify *securechannel.VerifySession

	closeOnce sync.Once
}

func newConn(s *Server, slot int, raw net.Conn) *conn {
	return &conn{
		server: s,
		slot:   slot,
		raw:    raw,
		reader: bufio.NewReader(raw),
		writer: raw,
	}
}

func (c *conn) isVerified() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verified != nil
}

// controller returns the verified controller, or nil pre-verify.
func (c *conn) controller() *pairing.Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verified
}

// upgrade switches the connection to framed encryption after a
// completed Pair-Verify. The M4 response was already written in
// plaintext; everything after travels encrypted.
func (c *conn) upgrade(result *securechannel.VerifyResult) error {
	sec, err := session.NewAccessory(c.raw, result.SharedSecret)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.secure = sec
	c.reader = bufio.NewReader(sec)
	c.writer = sec
	c.verified = result.Controller
	return nil
}

// run processes requests until the connection dies. Cleanup releases
// the slot and drops its subscriptions.
func (c *conn) run() {
	defer c.cleanup()

	for {
		req, err := http.ReadRequest(c.currentReader())
		if err != nil {
			if err != io.EOF && c.server.log != nil {
				c.server.log.Debugf("slot %d: read: %v", c.slot, err)
			}
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(nil, req.Body, maxBodySize))
		req.Body.Close()
		if err != nil {
			c.writeResponse(http.StatusBadRequest, MimeJSON, nil)
			return
		}

		if !c.route(req, body) {
			return
		}
	}
}

// maxBodySize bounds request bodies; attribute writes are small.
const maxBodySize = 64 * 1024

func (c *conn) currentReader() *bufio.Reader {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reader
}

// route dispatches one request. Returns false to terminate the
// connection.
func (c *conn) route(req *http.Request, body []byte) bool {
	s := c.server

	switch req.Method + " " + req.URL.Path {
	case "POST /pair-setup":
		return c.handlePairSetup(body)
	case "POST /pair-verify":
		return c.handlePairVerify(body)
	case "POST /identify":
		return s.handleIdentify(c)
	}

	// Everything else requires a verified session.
	if !c.isVerified() {
		c.writeResponse(statusConnectionAuthorizationRequired, MimeJSON,
			statusBody(hapStatusInsufficientPrivileges))
		return true
	}

	switch {
	case req.Method == "GET" && req.URL.Path == "/accessories":
		return s.handleAccessories(c)
	case req.Method == "GET" && req.URL.Path == "/characteristics":
		return s.handleGetCharacteristics(c, req.URL.RawQuery)
	case req.Method == "PUT" && req.URL.Path == "/characteristics":
		return s.handlePutCharacteristics(c, body)
	case req.Method == "PUT" && req.URL.Path == "/prepare":
		return s.handlePrepare(c, body)
	case req.Method == "POST" && req.URL.Path == "/pairings":
		return s.handlePairings(c, body)
	default:
		c.writeResponse(http.StatusNotFound, MimeJSON, nil)
		return true
	}
}

func (c *conn) handlePairSetup(body []byte) bool {
	c.mu.Lock()
	if c.setup == nil {
		c.setup = c.server.secureChannel.NewSetupSession()
	}
	setup := c.setup
	c.mu.Unlock()

	resp, result, err := setup.Handle(body)
	if err != nil {
		c.writeResponse(http.StatusBadRequest, MimeTLV8, nil)
		return false
	}

	if result != nil {
		// Persist the admin controller before answering M6, then
		// advertise sf=0.
		if err := c.server.secureChannel.Controllers().Add(result.PairingID, result.LTPK, true); err != nil {
			c.writeResponse(http.StatusInternalServerError, MimeTLV8, nil)
			return false
		}
		defer c.server.updateTXT()
	}

	c.writeResponse(http.StatusOK, MimeTLV8, resp)
	return true
}

func (c *conn) handlePairVerify(body []byte) bool {
	c.mu.Lock()
	if c.verify == nil {
		c.verify = c.server.secureChannel.NewVerifySession()
	}
	verify := c.verify
	c.mu.Unlock()

	resp, result, err := verify.Handle(body)
	if err != nil {
		c.writeResponse(http.StatusBadRequest, MimeTLV8, nil)
		return false
	}

	c.writeResponse(http.StatusOK, MimeTLV8, resp)

	if result != nil {
		if err := c.upgrade(result); err != nil {
			return false
		}
		if c.server.log != nil {
			c.server.log.Infof("slot %d: verified controller %s", c.slot, result.Controller.PairingID)
		}
	}
	return true
}

// writeResponse writes a full HTTP/1.1 response under the write lock.
func (c *conn) writeResponse(status int, contentType string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	header := fmt.Sprintf("HTTP/1.1 %d %s\r\n", status, statusText(status))
	if len(body) > 0 {
		header += fmt.Sprintf("Content-Type: %s\r\nContent-Length: %d\r\n\r\n", contentType, len(body))
	} else {
		header += "Content-Length: 0\r\n\r\n"
	}

	out := append([]byte(header), body...)
	_, err := c.writer.Write(out)
	return err
}

// writeEvent writes an asynchronous EVENT/1.0 frame. Only valid on a
// verified connection.
func (c *conn) writeEvent(body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.verified == nil {
		return nil
	}
	header := fmt.Sprintf("EVENT/1.0 200 OK\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n", MimeJSON, len(body))
	out := append([]byte(header), body...)
	_, err := c.writer.Write(out)
	return err
}

// close force-closes the connection (eviction, unpair).
func (c *conn) close() {
	c.raw.Close()
}

func (c *conn) cleanup() {
	c.closeOnce.Do(func() {
		c.raw.Close()
		c.mu.Lock()
		setup := c.setup
		c.mu.Unlock()
		if setup != nil {
			setup.Close()
		}
		// Clear subscriptions only while still owning the slot: an
		// evicted connection's slot (and its ev flags) already belong
		// to the replacement.
		if c.server.pool.get(c.slot) == c {
			c.server.db.ClearSlot(c.slot)
		}
		c.server.pool.release(c.slot, c)
	})
}

// statusConnectionAuthorizationRequired is the HAP-specific HTTP
// status for requests on an unverified connection.
const statusConnectionAuthorizationRequired = 470

func statusText(code int) string {
	if code == statusConnectionAuthorizationRequired {
		return "Connection Authorization Required"
	}
	if t := http.StatusText(code); t != "" {
		return t
	}
	return "Status"
}

// statusBody builds the single-status JSON body used by error replies.
func statusBody(status int) []byte {
	return []byte(fmt.Sprintf(`{"status":%d}`, status))
}

// hapStatusInsufficientPrivileges mirrors
// datamodel.StatusInsufficientPrivileges for plain int use.
const hapStatusInsufficientPrivileges = -70401

// splitQueryIDs parses the id= list "1.9,2.14" of a characteristics
// query.
func splitQueryIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
