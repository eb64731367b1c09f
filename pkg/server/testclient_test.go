package server

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"testing"
	"time"

	"github.com/tadglines/go-pkgs/crypto/srp"

	"github.com/backkem/hap/pkg/crypto"
	"github.com/backkem/hap/pkg/securechannel"
	"github.com/backkem/hap/pkg/session"
	"github.com/backkem/hap/pkg/tlv8"
)

// testClient is an in-process HAP controller speaking the wire
// protocol against a running Server.
type testClient struct {
	t *testing.T

	conn   net.Conn
	reader *bufio.Reader

	pairingID string
	ltpk      ed25519.PublicKey
	ltsk      ed25519.PrivateKey

	secure *session.Secure
}

func newTestClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return &testClient{
		t:         t,
		conn:      conn,
		reader:    bufio.NewReader(conn),
		pairingID: "6c07a9e3-8c31-4a43-9ec8-d3a06a0c61f4",
		ltpk:      pub,
		ltsk:      priv,
	}
}

// request writes one HTTP request and reads the response.
func (tc *testClient) request(method, path, contentType string, body []byte) (*http.Response, []byte) {
	tc.t.Helper()

	header := fmt.Sprintf("%s %s HTTP/1.1\r\nHost: hap\r\n", method, path)
	if len(body) > 0 {
		header += fmt.Sprintf("Content-Type: %s\r\nContent-Length: %d\r\n", contentType, len(body))
	} else {
		header += "Content-Length: 0\r\n"
	}
	header += "\r\n"

	var w io.Writer = tc.conn
	if tc.secure != nil {
		w = tc.secure
	}
	if _, err := w.Write(append([]byte(header), body...)); err != nil {
		tc.t.Fatalf("write request: %v", err)
	}

	resp, err := http.ReadResponse(tc.reader, nil)
	if err != nil {
		tc.t.Fatalf("read response: %v", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		tc.t.Fatalf("read response body: %v", err)
	}
	return resp, respBody
}

// readEvent reads one EVENT/1.0 frame off the session.
func (tc *testClient) readEvent(timeout time.Duration) []byte {
	tc.t.Helper()
	tc.conn.SetReadDeadline(time.Now().Add(timeout))
	defer tc.conn.SetReadDeadline(time.Time{})

	line, err := tc.reader.ReadString('\n')
	if err != nil {
		tc.t.Fatalf("read event status line: %v", err)
	}
	if line != "EVENT/1.0 200 OK\r\n" {
		tc.t.Fatalf("event status line = %q", line)
	}

	tp := textproto.NewReader(tc.reader)
	headers, err := tp.ReadMIMEHeader()
	if err != nil {
		tc.t.Fatalf("read event headers: %v", err)
	}
	length, err := strconv.Atoi(headers.Get("Content-Length"))
	if err != nil {
		tc.t.Fatalf("event content length: %v", err)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(tc.reader, body); err != nil {
		tc.t.Fatalf("read event body: %v", err)
	}
	return body
}

// expectNoEvent asserts nothing arrives on the session for the
// duration.
func (tc *testClient) expectNoEvent(d time.Duration) {
	tc.t.Helper()
	tc.conn.SetReadDeadline(time.Now().Add(d))
	defer tc.conn.SetReadDeadline(time.Time{})

	buf := make([]byte, 1)
	if _, err := tc.reader.Read(buf); err == nil {
		tc.t.Fatal("unexpected data on idle session")
	} else if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
		tc.t.Fatalf("expected timeout, got %v", err)
	}
}

// pairSetup runs the full 6-message exchange and returns the
// accessory's long-term public key.
func (tc *testClient) pairSetup(setupCode string) []byte {
	tc.t.Helper()

	m1 := tlv8.Marshal([]tlv8.Item{
		tlv8.Byte(tlv8.TagMethod, tlv8.MethodPairSetup),
		tlv8.Byte(tlv8.TagState, securechannel.StateM1),
	})
	resp, body := tc.request("POST", "/pair-setup", MimeTLV8, m1)
	if resp.StatusCode != http.StatusOK {
		tc.t.Fatalf("pair-setup M1 status = %d", resp.StatusCode)
	}
	m2, err := tlv8.Parse(body)
	if err != nil {
		tc.t.Fatal(err)
	}
	if code, ok := m2.Byte(tlv8.TagError); ok {
		tc.t.Fatalf("pair-setup M2 error = %#x", code)
	}
	salt, _ := m2.Bytes(tlv8.TagSalt)
	serverB, _ := m2.Bytes(tlv8.TagPublicKey)

	pake, err := srp.NewSRP("rfc5054.3072", sha512.New, func(salt, pin []byte) []byte {
		h := sha512.New()
		h.Write([]byte("Pair-Setup"))
		h.Write([]byte(":"))
		h.Write(pin)
		inner := h.Sum(nil)
		h.Reset()
		h.Write(salt)
		h.Write(inner)
		return h.Sum(nil)
	})
	if err != nil {
		tc.t.Fatal(err)
	}
	client := pake.NewClientSession([]byte("Pair-Setup"), []byte(setupCode))
	sessionKey, err := client.ComputeKey(salt, serverB)
	if err != nil {
		tc.t.Fatal(err)
	}

	m3 := tlv8.Marshal([]tlv8.Item{
		tlv8.Byte(tlv8.TagState, securechannel.StateM3),
		{Tag: tlv8.TagPublicKey, Value: client.GetA()},
		{Tag: tlv8.TagProof, Value: client.ComputeAuthenticator()},
	})
	resp, body = tc.request("POST", "/pair-setup", MimeTLV8, m3)
	m4, err := tlv8.Parse(body)
	if err != nil {
		tc.t.Fatal(err)
	}
	if code, ok := m4.Byte(tlv8.TagError); ok {
		tc.t.Fatalf("pair-setup M4 error = %#x", code)
	}
	serverProof, _ := m4.Bytes(tlv8.TagProof)
	if !client.VerifyServerAuthenticator(serverProof) {
		tc.t.Fatal("server SRP proof invalid")
	}

	controllerX, _ := crypto.HKDFSHA512(sessionKey,
		"Pair-Setup-Controller-Sign-Salt", "Pair-Setup-Controller-Sign-Info")
	signed := append(append(append([]byte{}, controllerX...), []byte(tc.pairingID)...), tc.ltpk...)
	sig := ed25519.Sign(tc.ltsk, signed)

	inner := tlv8.Marshal([]tlv8.Item{
		tlv8.Str(tlv8.TagIdentifier, tc.pairingID),
		{Tag: tlv8.TagPublicKey, Value: tc.ltpk},
		{Tag: tlv8.TagSignature, Value: sig},
	})
	encryptKey, _ := crypto.HKDFSHA512(sessionKey, "Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info")
	sealed, err := crypto.EncryptAndSeal(encryptKey, crypto.PairingNonce("PS-Msg05"), inner, nil)
	if err != nil {
		tc.t.Fatal(err)
	}

	m5 := tlv8.Marshal([]tlv8.Item{
		tlv8.Byte(tlv8.TagState, securechannel.StateM5),
		{Tag: tlv8.TagEncryptedData, Value: sealed},
	})
	resp, body = tc.request("POST", "/pair-setup", MimeTLV8, m5)
	if resp.StatusCode != http.StatusOK {
		tc.t.Fatalf("pair-setup M5 status = %d", resp.StatusCode)
	}
	m6, err := tlv8.Parse(body)
	if err != nil {
		tc.t.Fatal(err)
	}
	if code, ok := m6.Byte(tlv8.TagError); ok {
		tc.t.Fatalf("pair-setup M6 error = %#x", code)
	}
	sealedResp, _ := m6.Bytes(tlv8.TagEncryptedData)
	plain, err := crypto.DecryptAndVerify(encryptKey, crypto.PairingNonce("PS-Msg06"), sealedResp, nil)
	if err != nil {
		tc.t.Fatalf("M6 decrypt: %v", err)
	}
	innerResp, err := tlv8.Parse(plain)
	if err != nil {
		tc.t.Fatal(err)
	}
	accessoryLTPK, _ := innerResp.Bytes(tlv8.TagPublicKey)
	return accessoryLTPK
}

// pairVerify establishes an encrypted session; subsequent requests
// travel through it.
func (tc *testClient) pairVerify(accessoryLTPK []byte) {
	tc.t.Helper()

	pub, priv, err := crypto.Curve25519GenerateKeyPair(rand.Reader)
	if err != nil {
		tc.t.Fatal(err)
	}

	m1 := tlv8.Marshal([]tlv8.Item{
		tlv8.Byte(tlv8.TagState, securechannel.StateM1),
		{Tag: tlv8.TagPublicKey, Value: pub},
	})
	resp, body := tc.request("POST", "/pair-verify", MimeTLV8, m1)
	if resp.StatusCode != http.StatusOK {
		tc.t.Fatalf("pair-verify M1 status = %d", resp.StatusCode)
	}
	m2, err := tlv8.Parse(body)
	if err != nil {
		tc.t.Fatal(err)
	}
	if code, ok := m2.Byte(tlv8.TagError); ok {
		tc.t.Fatalf("pair-verify M2 error = %#x", code)
	}
	accessoryPub, _ := m2.Bytes(tlv8.TagPublicKey)
	sealed, _ := m2.Bytes(tlv8.TagEncryptedData)

	shared, err := crypto.Curve25519SharedSecret(priv, accessoryPub)
	if err != nil {
		tc.t.Fatal(err)
	}
	vkey, _ := crypto.HKDFSHA512(shared, "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info")
	plain, err := crypto.DecryptAndVerify(vkey, crypto.PairingNonce("PV-Msg02"), sealed, nil)
	if err != nil {
		tc.t.Fatalf("M2 decrypt: %v", err)
	}
	inner, _ := tlv8.Parse(plain)
	accessoryID, _ := inner.String(tlv8.TagIdentifier)
	accessorySig, _ := inner.Bytes(tlv8.TagSignature)
	info := append(append(append([]byte{}, accessoryPub...), []byte(accessoryID)...), pub...)
	if !crypto.Ed25519Verify(accessoryLTPK, info, accessorySig) {
		tc.t.Fatal("accessory verify signature invalid")
	}

	deviceInfo := append(append(append([]byte{}, pub...), []byte(tc.pairingID)...), accessoryPub...)
	deviceSig := ed25519.Sign(tc.ltsk, deviceInfo)
	innerReq := tlv8.Marshal([]tlv8.Item{
		tlv8.Str(tlv8.TagIdentifier, tc.pairingID),
		{Tag: tlv8.TagSignature, Value: deviceSig},
	})
	sealedReq, err := crypto.EncryptAndSeal(vkey, crypto.PairingNonce("PV-Msg03"), innerReq, nil)
	if err != nil {
		tc.t.Fatal(err)
	}
	m3 := tlv8.Marshal([]tlv8.Item{
		tlv8.Byte(tlv8.TagState, securechannel.StateM3),
		{Tag: tlv8.TagEncryptedData, Value: sealedReq},
	})
	resp, body = tc.request("POST", "/pair-verify", MimeTLV8, m3)
	m4, err := tlv8.Parse(body)
	if err != nil {
		tc.t.Fatal(err)
	}
	if code, ok := m4.Byte(tlv8.TagError); ok {
		tc.t.Fatalf("pair-verify M4 error = %#x", code)
	}

	secure, err := session.NewController(tc.conn, shared)
	if err != nil {
		tc.t.Fatal(err)
	}
	tc.secure = secure
	tc.reader = bufio.NewReader(secure)
}

// pair runs setup and verify back to back.
func (tc *testClient) pair(setupCode string) {
	tc.t.Helper()
	ltpk := tc.pairSetup(setupCode)
	tc.pairVerify(ltpk)
}
