package server

import (
	"crypto/rand"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/backkem/hap/pkg/datamodel"
	"github.com/backkem/hap/pkg/discovery"
	"github.com/backkem/hap/pkg/pairing"
	"github.com/backkem/hap/pkg/persist"
	"github.com/backkem/hap/pkg/securechannel"
	"github.com/backkem/hap/pkg/tlv8"
)

// The server is provisioned with the dashed display form; the test
// client, like a real controller, SRP-proves against the plain digits.
const (
	testSetupCode       = "466-37-726"
	testSetupCodeDigits = "46637726"
)

// fakeClock is an adjustable time source for timed-write tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// fakeAdvertiser records TXT updates.
type fakeAdvertiser struct {
	mu      sync.Mutex
	records []discovery.AccessoryTXT
	stopped bool
}

func (f *fakeAdvertiser) Start(txt discovery.AccessoryTXT) error {
	return f.Update(txt)
}

func (f *fakeAdvertiser) Update(txt discovery.AccessoryTXT) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, txt)
	return nil
}

func (f *fakeAdvertiser) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAdvertiser) last() discovery.AccessoryTXT {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.records) == 0 {
		return discovery.AccessoryTXT{}
	}
	return f.records[len(f.records)-1]
}

// buildLightDatabase declares a single light accessory.
func buildLightDatabase(t *testing.T, slots int) (*datamodel.Database, *datamodel.Characteristic) {
	t.Helper()
	db := datamodel.NewDatabase(slots)
	a := db.AddAccessory()

	info := a.AddService(datamodel.ServiceAccessoryInformation)
	for _, c := range []struct {
		typ string
		val datamodel.Value
	}{
		{datamodel.TypeIdentify, datamodel.BoolValue(false)},
		{datamodel.TypeManufacturer, datamodel.StringValue("Acme")},
		{datamodel.TypeModel, datamodel.StringValue("Light-1")},
		{datamodel.TypeName, datamodel.StringValue("Ceiling Light")},
		{datamodel.TypeSerialNumber, datamodel.StringValue("0001")},
		{datamodel.TypeFirmwareRevision, datamodel.StringValue("1.0.0")},
	} {
		if _, err := a.AddCharacteristic(info, c.typ, c.val); err != nil {
			t.Fatal(err)
		}
	}
	proto := a.AddService(datamodel.ServiceProtocolInformation)
	if _, err := a.AddCharacteristic(proto, datamodel.TypeVersion, datamodel.StringValue("1.1.0")); err != nil {
		t.Fatal(err)
	}
	bulb := a.AddService(datamodel.ServiceLightBulb)
	bulb.SetPrimary(true)
	on, err := a.AddCharacteristic(bulb, datamodel.TypeOn, datamodel.BoolValue(false))
	if err != nil {
		t.Fatal(err)
	}
	return db, on
}

type testServer struct {
	*Server
	store      *persist.MemStore
	advertiser *fakeAdvertiser
	clock      *fakeClock
	db         *datamodel.Database
	on         *datamodel.Characteristic
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithStore(t, persist.NewMemStore())
}

func newTestServerWithStore(t *testing.T, store *persist.MemStore) *testServer {
	t.Helper()

	identity, err := pairing.LoadIdentity(store, rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	verifier, err := pairing.ProvisionVerifier(store, testSetupCode)
	if err != nil {
		t.Fatal(err)
	}
	controllers, err := pairing.NewControllerStore(store)
	if err != nil {
		t.Fatal(err)
	}
	sc, err := securechannel.NewManager(securechannel.ManagerConfig{
		Identity:    identity,
		Verifier:    verifier,
		Controllers: controllers,
	})
	if err != nil {
		t.Fatal(err)
	}

	db, on := buildLightDatabase(t, MinConnections)
	adv := &fakeAdvertiser{}
	clock := newFakeClock()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(Config{
		Database:      db,
		SecureChannel: sc,
		Store:         store,
		Advertiser:    adv,
		Model:         "Light-1",
		Category:      discovery.CategoryLightBulb,
		Listener:      listener,
		LoopInterval:  20 * time.Millisecond,
		Clock:         clock.Now,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Stop)

	return &testServer{
		Server:     srv,
		store:      store,
		advertiser: adv,
		clock:      clock,
		db:         db,
		on:         on,
	}
}

func (ts *testServer) addr() string {
	return ts.Addr().String()
}

func TestColdPair(t *testing.T) {
	ts := newTestServer(t)

	if ts.advertiser.last().Paired {
		t.Fatal("fresh server advertises paired")
	}
	if ts.ConfigNumber() != 1 {
		t.Errorf("fresh config number = %d, want 1", ts.ConfigNumber())
	}

	tc := newTestClient(t, ts.addr())
	tc.pairSetup(testSetupCodeDigits)

	controllers := ts.secureChannel.Controllers()
	list := controllers.List()
	if len(list) != 1 || !list[0].Admin {
		t.Fatalf("controller table = %+v, want one admin", list)
	}
	waitFor(t, func() bool { return ts.advertiser.last().Paired })
	if ts.ConfigNumber() != 1 {
		t.Errorf("config number changed by pairing: %d", ts.ConfigNumber())
	}
}

func TestPairSetupUnavailableWhenPaired(t *testing.T) {
	ts := newTestServer(t)
	newTestClient(t, ts.addr()).pairSetup(testSetupCodeDigits)

	second := newTestClient(t, ts.addr())
	m1 := tlv8.Marshal([]tlv8.Item{
		tlv8.Byte(tlv8.TagMethod, tlv8.MethodPairSetup),
		tlv8.Byte(tlv8.TagState, securechannel.StateM1),
	})
	_, body := second.request("POST", "/pair-setup", MimeTLV8, m1)
	c, err := tlv8.Parse(body)
	if err != nil {
		t.Fatal(err)
	}
	if code, ok := c.Byte(tlv8.TagError); !ok || code != tlv8.ErrorUnavailable {
		t.Errorf("M2 error = %#x, want Unavailable", code)
	}
}

func TestVerifyAndRead(t *testing.T) {
	ts := newTestServer(t)
	tc := newTestClient(t, ts.addr())
	tc.pair(testSetupCodeDigits)

	resp, body := tc.request("GET", "/accessories", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /accessories status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != MimeJSON {
		t.Errorf("content type = %q, want %q", ct, MimeJSON)
	}

	var tree struct {
		Accessories []struct {
			AID      uint32 `json:"aid"`
			Services []struct {
				Type string `json:"type"`
			} `json:"services"`
		} `json:"accessories"`
	}
	if err := json.Unmarshal(body, &tree); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(tree.Accessories) != 1 || tree.Accessories[0].AID != 1 {
		t.Fatalf("tree = %+v", tree)
	}
	if got := tree.Accessories[0].Services[2].Type; got != datamodel.ServiceLightBulb {
		t.Errorf("third service type = %q, want LightBulb", got)
	}
}

func TestUnverifiedAccessRejected(t *testing.T) {
	ts := newTestServer(t)
	tc := newTestClient(t, ts.addr())

	resp, body := tc.request("GET", "/accessories", "", nil)
	if resp.StatusCode != statusConnectionAuthorizationRequired {
		t.Errorf("status = %d, want %d", resp.StatusCode, statusConnectionAuthorizationRequired)
	}
	if !strings.Contains(string(body), "-70401") {
		t.Errorf("body = %s", body)
	}
}

func TestGetCharacteristics(t *testing.T) {
	ts := newTestServer(t)
	tc := newTestClient(t, ts.addr())
	tc.pair(testSetupCodeDigits)

	onID := "1.11"

	t.Run("ok", func(t *testing.T) {
		resp, body := tc.request("GET", "/characteristics?id="+onID, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		want := `{"characteristics":[{"aid":1,"iid":11,"value":false}]}`
		if string(body) != want {
			t.Errorf("body = %s, want %s", body, want)
		}
	})

	t.Run("unknown id gives 207", func(t *testing.T) {
		resp, body := tc.request("GET", "/characteristics?id="+onID+",1.99", "", nil)
		if resp.StatusCode != http.StatusMultiStatus {
			t.Fatalf("status = %d, want 207", resp.StatusCode)
		}
		if !strings.Contains(string(body), `"status":-70409`) {
			t.Errorf("body lacks UnknownResource: %s", body)
		}
		if !strings.Contains(string(body), `"status":0`) {
			t.Errorf("body lacks OK overlay: %s", body)
		}
	})

	t.Run("write-only", func(t *testing.T) {
		resp, body := tc.request("GET", "/characteristics?id=1.2", "", nil)
		if resp.StatusCode != http.StatusMultiStatus {
			t.Fatalf("status = %d, want 207", resp.StatusCode)
		}
		if !strings.Contains(string(body), `"status":-70405`) {
			t.Errorf("body lacks WriteOnly: %s", body)
		}
	})
}

func TestPutCharacteristics(t *testing.T) {
	ts := newTestServer(t)
	tc := newTestClient(t, ts.addr())
	tc.pair(testSetupCodeDigits)

	t.Run("write", func(t *testing.T) {
		resp, _ := tc.request("PUT", "/characteristics", MimeJSON,
			[]byte(`{"characteristics":[{"aid":1,"iid":11,"value":true}]}`))
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", resp.StatusCode)
		}
		if !ts.on.Value().Bool() {
			t.Error("value not committed")
		}
	})

	t.Run("read-only rejected", func(t *testing.T) {
		resp, body := tc.request("PUT", "/characteristics", MimeJSON,
			[]byte(`{"characteristics":[{"aid":1,"iid":3,"value":"X"},{"aid":1,"iid":11,"value":false}]}`))
		if resp.StatusCode != http.StatusMultiStatus {
			t.Fatalf("status = %d, want 207", resp.StatusCode)
		}
		if !strings.Contains(string(body), `"status":-70404`) {
			t.Errorf("body lacks ReadOnly: %s", body)
		}
		// The valid object still committed.
		if ts.on.Value().Bool() {
			t.Error("valid sibling object not committed")
		}
	})

	t.Run("unknown resource", func(t *testing.T) {
		resp, body := tc.request("PUT", "/characteristics", MimeJSON,
			[]byte(`{"characteristics":[{"aid":9,"iid":9,"value":true}]}`))
		if resp.StatusCode != http.StatusMultiStatus {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if !strings.Contains(string(body), `"status":-70409`) {
			t.Errorf("body = %s", body)
		}
	})
}

func TestEventSubscribeAndPush(t *testing.T) {
	ts := newTestServer(t)

	// Admin pairs, then enrolls a second controller.
	admin := newTestClient(t, ts.addr())
	admin.pair(testSetupCodeDigits)

	watcher := newTestClient(t, ts.addr())
	watcher.pairingID = "9a1de3b0-22dc-4f01-8a4e-7b1d1c8f0a33"
	addBody := tlv8.Marshal([]tlv8.Item{
		tlv8.Byte(tlv8.TagState, securechannel.StateM1),
		tlv8.Byte(tlv8.TagMethod, tlv8.MethodAddPairing),
		tlv8.Str(tlv8.TagIdentifier, watcher.pairingID),
		{Tag: tlv8.TagPublicKey, Value: watcher.ltpk},
		tlv8.Byte(tlv8.TagPermissions, 1),
	})
	resp, body := admin.request("POST", "/pairings", MimeTLV8, addBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add pairing status = %d", resp.StatusCode)
	}
	if c, _ := tlv8.Parse(body); c != nil {
		if code, ok := c.Byte(tlv8.TagError); ok {
			t.Fatalf("add pairing error = %#x", code)
		}
	}

	accessoryLTPK := []byte(ts.secureChannel.Identity().LTPK)
	watcher.pairVerify(accessoryLTPK)

	// Watcher subscribes to On.
	resp, _ = watcher.request("PUT", "/characteristics", MimeJSON,
		[]byte(`{"characteristics":[{"aid":1,"iid":11,"ev":true}]}`))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("subscribe status = %d", resp.StatusCode)
	}

	t.Run("controller write pushes to watcher only", func(t *testing.T) {
		resp, _ := admin.request("PUT", "/characteristics", MimeJSON,
			[]byte(`{"characteristics":[{"aid":1,"iid":11,"value":true}]}`))
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("PUT status = %d", resp.StatusCode)
		}

		event := watcher.readEvent(2 * time.Second)
		want := `{"characteristics":[{"aid":1,"iid":11,"value":true}]}`
		if string(event) != want {
			t.Errorf("event = %s, want %s", event, want)
		}
		admin.expectNoEvent(100 * time.Millisecond)
	})

	t.Run("server setVal pushes", func(t *testing.T) {
		if err := ts.db.SetVal(ts.on, datamodel.BoolValue(false)); err != nil {
			t.Fatal(err)
		}
		event := watcher.readEvent(2 * time.Second)
		if !strings.Contains(string(event), `"value":false`) {
			t.Errorf("event = %s", event)
		}
		admin.expectNoEvent(100 * time.Millisecond)
	})
}

func TestTimedWrites(t *testing.T) {
	ts := newTestServer(t)
	tc := newTestClient(t, ts.addr())
	tc.pair(testSetupCodeDigits)

	t.Run("expired pid rejected", func(t *testing.T) {
		resp, _ := tc.request("PUT", "/prepare", MimeJSON, []byte(`{"ttl":1000,"pid":42}`))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("prepare status = %d", resp.StatusCode)
		}

		ts.clock.Advance(1500 * time.Millisecond)

		resp, body := tc.request("PUT", "/characteristics", MimeJSON,
			[]byte(`{"characteristics":[{"aid":1,"iid":11,"value":true,"pid":42}]}`))
		if resp.StatusCode != http.StatusMultiStatus {
			t.Fatalf("status = %d, want 207", resp.StatusCode)
		}
		if !strings.Contains(string(body), `"status":-70410`) {
			t.Errorf("body = %s", body)
		}
		if ts.on.Value().Bool() {
			t.Error("expired timed write committed")
		}
	})

	t.Run("unknown pid rejected", func(t *testing.T) {
		resp, body := tc.request("PUT", "/characteristics", MimeJSON,
			[]byte(`{"characteristics":[{"aid":1,"iid":11,"value":true,"pid":7}]}`))
		if resp.StatusCode != http.StatusMultiStatus {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if !strings.Contains(string(body), `"status":-70410`) {
			t.Errorf("body = %s", body)
		}
	})

	t.Run("fresh pid accepted once", func(t *testing.T) {
		tc.request("PUT", "/prepare", MimeJSON, []byte(`{"ttl":5000,"pid":43}`))
		resp, _ := tc.request("PUT", "/characteristics", MimeJSON,
			[]byte(`{"characteristics":[{"aid":1,"iid":11,"value":true,"pid":43}]}`))
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", resp.StatusCode)
		}
		if !ts.on.Value().Bool() {
			t.Error("timed write not committed")
		}

		// The pid was consumed.
		resp, _ = tc.request("PUT", "/characteristics", MimeJSON,
			[]byte(`{"characteristics":[{"aid":1,"iid":11,"value":false,"pid":43}]}`))
		if resp.StatusCode != http.StatusMultiStatus {
			t.Errorf("reused pid status = %d, want 207", resp.StatusCode)
		}
	})
}

func TestIdentify(t *testing.T) {
	ts := newTestServer(t)

	tc := newTestClient(t, ts.addr())
	resp, _ := tc.request("POST", "/identify", "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("unpaired identify status = %d, want 204", resp.StatusCode)
	}

	tc.pairSetup(testSetupCodeDigits)

	second := newTestClient(t, ts.addr())
	resp, body := second.request("POST", "/identify", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("paired identify status = %d, want 400", resp.StatusCode)
	}
	if !strings.Contains(string(body), "-70401") {
		t.Errorf("body = %s", body)
	}
}

func TestCapacityEviction(t *testing.T) {
	ts := newTestServer(t)

	conns := make([]net.Conn, MinConnections)
	for i := range conns {
		c, err := net.DialTimeout("tcp", ts.addr(), time.Second)
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()
		conns[i] = c
	}

	// Let the accept loop place all of them.
	waitFor(t, func() bool { return len(ts.pool.all()) == MinConnections })

	extra := newTestClient(t, ts.addr())
	resp, _ := extra.request("POST", "/identify", "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("connection N+1 not served: %d", resp.StatusCode)
	}

	// Exactly one of the first N was force-closed.
	closed := 0
	for _, c := range conns {
		c.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		buf := make([]byte, 1)
		if _, err := c.Read(buf); err != nil {
			if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
				closed++
			}
		}
	}
	if closed != 1 {
		t.Errorf("closed connections = %d, want exactly 1", closed)
	}
}

func TestUnpairViaRemoveAdmin(t *testing.T) {
	ts := newTestServer(t)
	tc := newTestClient(t, ts.addr())
	tc.pair(testSetupCodeDigits)

	removeBody := tlv8.Marshal([]tlv8.Item{
		tlv8.Byte(tlv8.TagState, securechannel.StateM1),
		tlv8.Byte(tlv8.TagMethod, tlv8.MethodRemovePairing),
		tlv8.Str(tlv8.TagIdentifier, tc.pairingID),
	})
	resp, _ := tc.request("POST", "/pairings", MimeTLV8, removeBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove status = %d", resp.StatusCode)
	}

	waitFor(t, func() bool { return !ts.secureChannel.Controllers().Paired() })
	if len(ts.secureChannel.Controllers().List()) != 0 {
		t.Error("controller table not empty after unpair")
	}
	waitFor(t, func() bool { return !ts.advertiser.last().Paired })

	// The connection was torn down.
	waitFor(t, func() bool { return len(ts.pool.all()) == 0 })

	// Identity and config number survive; a fresh pairing works.
	deviceID := ts.secureChannel.Identity().DeviceID
	if ts.advertiser.last().DeviceID != deviceID {
		t.Error("device ID changed across unpair")
	}
	if ts.ConfigNumber() != 1 {
		t.Errorf("config number = %d, want 1", ts.ConfigNumber())
	}
	fresh := newTestClient(t, ts.addr())
	fresh.pair(testSetupCodeDigits)
}

func TestConfigNumberTracksDatabase(t *testing.T) {
	store := persist.NewMemStore()

	newServerFor := func(db *datamodel.Database) *Server {
		t.Helper()
		identity, err := pairing.LoadIdentity(store, rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		controllers, err := pairing.NewControllerStore(store)
		if err != nil {
			t.Fatal(err)
		}
		sc, err := securechannel.NewManager(securechannel.ManagerConfig{
			Identity:    identity,
			Controllers: controllers,
		})
		if err != nil {
			t.Fatal(err)
		}
		srv, err := NewServer(Config{
			Database:      db,
			SecureChannel: sc,
			Store:         store,
		})
		if err != nil {
			t.Fatal(err)
		}
		return srv
	}

	db1, _ := buildLightDatabase(t, MinConnections)
	if got := newServerFor(db1).ConfigNumber(); got != 1 {
		t.Fatalf("first boot config number = %d, want 1", got)
	}

	// Same shape on reboot: number holds.
	db2, _ := buildLightDatabase(t, MinConnections)
	if got := newServerFor(db2).ConfigNumber(); got != 1 {
		t.Errorf("unchanged database bumped config number to %d", got)
	}

	// Same shape but different live values on reboot (a light left
	// on): still not a configuration change.
	dbOn, on := buildLightDatabase(t, MinConnections)
	if err := dbOn.SetVal(on, datamodel.BoolValue(true)); err != nil {
		t.Fatal(err)
	}
	if got := newServerFor(dbOn).ConfigNumber(); got != 1 {
		t.Errorf("value change bumped config number to %d", got)
	}

	// A new service changes the hash: number bumps and sticks.
	db3, _ := buildLightDatabase(t, MinConnections)
	a := db3.Accessories()[0]
	sw := a.AddService(datamodel.ServiceSwitch)
	if _, err := a.AddCharacteristic(sw, datamodel.TypeOn, datamodel.BoolValue(false)); err != nil {
		t.Fatal(err)
	}
	if got := newServerFor(db3).ConfigNumber(); got != 2 {
		t.Errorf("changed database config number = %d, want 2", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
