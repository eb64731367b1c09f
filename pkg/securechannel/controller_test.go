package securechannel

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"testing"

	"github.com/tadglines/go-pkgs/crypto/srp"

	"github.com/backkem/hap/pkg/crypto"
	"github.com/backkem/hap/pkg/tlv8"
)

// testController plays the iOS side of both pairing flows so the
// state machines can be exercised end to end in-process.
type testController struct {
	t         *testing.T
	pairingID string
	ltpk      ed25519.PublicKey
	ltsk      ed25519.PrivateKey

	// pair-setup state
	srpClient  *srp.ClientSession
	sessionKey []byte

	// pair-verify state
	pub    []byte
	priv   []byte
	shared []byte
	vkey   []byte
}

func newTestController(t *testing.T) *testController {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return &testController{
		t:         t,
		pairingID: "6c07a9e3-8c31-4a43-9ec8-d3a06a0c61f4",
		ltpk:      pub,
		ltsk:      priv,
	}
}

func (tc *testController) setupM1() []byte {
	return tlv8.Marshal([]tlv8.Item{
		tlv8.Byte(tlv8.TagMethod, tlv8.MethodPairSetup),
		tlv8.Byte(tlv8.TagState, StateM1),
	})
}

func (tc *testController) setupM3(m2 []byte, setupCode string) []byte {
	c, err := tlv8.Parse(m2)
	if err != nil {
		tc.t.Fatal(err)
	}
	salt, _ := c.Bytes(tlv8.TagSalt)
	serverB, _ := c.Bytes(tlv8.TagPublicKey)

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
	tc.srpClient = pake.NewClientSession([]byte("Pair-Setup"), []byte(setupCode))
	key, err := tc.srpClient.ComputeKey(salt, serverB)
	if err != nil {
		tc.t.Fatal(err)
	}
	tc.sessionKey = key

	return tlv8.Marshal([]tlv8.Item{
		tlv8.Byte(tlv8.TagState, StateM3),
		{Tag: tlv8.TagPublicKey, Value: tc.srpClient.GetA()},
		{Tag: tlv8.TagProof, Value: tc.srpClient.ComputeAuthenticator()},
	})
}

func (tc *testController) checkSetupM4(m4 []byte) {
	c, err := tlv8.Parse(m4)
	if err != nil {
		tc.t.Fatal(err)
	}
	if code, ok := c.Byte(tlv8.TagError); ok {
		tc.t.Fatalf("M4 carries error %#x", code)
	}
	proof, _ := c.Bytes(tlv8.TagProof)
	if !tc.srpClient.VerifyServerAuthenticator(proof) {
		tc.t.Fatal("server SRP proof invalid")
	}
}

func (tc *testController) setupM5() []byte {
	controllerX, err := crypto.HKDFSHA512(tc.sessionKey,
		"Pair-Setup-Controller-Sign-Salt", "Pair-Setup-Controller-Sign-Info")
	if err != nil {
		tc.t.Fatal(err)
	}
	signed := concat(controllerX, []byte(tc.pairingID), tc.ltpk)
	sig := ed25519.Sign(tc.ltsk, signed)

	inner := tlv8.Marshal([]tlv8.Item{
		tlv8.Str(tlv8.TagIdentifier, tc.pairingID),
		{Tag: tlv8.TagPublicKey, Value: tc.ltpk},
		{Tag: tlv8.TagSignature, Value: sig},
	})

	encryptKey, err := crypto.HKDFSHA512(tc.sessionKey, "Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info")
	if err != nil {
		tc.t.Fatal(err)
	}
	sealed, err := crypto.EncryptAndSeal(encryptKey, crypto.PairingNonce("PS-Msg05"), inner, nil)
	if err != nil {
		tc.t.Fatal(err)
	}

	return tlv8.Marshal([]tlv8.Item{
		tlv8.Byte(tlv8.TagState, StateM5),
		{Tag: tlv8.TagEncryptedData, Value: sealed},
	})
}

// checkSetupM6 decrypts the accessory's response and verifies its
// long-term key signature, returning the accessory pairing ID.
func (tc *testController) checkSetupM6(m6 []byte) string {
	c, err := tlv8.Parse(m6)
	if err != nil {
		tc.t.Fatal(err)
	}
	if code, ok := c.Byte(tlv8.TagError); ok {
		tc.t.Fatalf("M6 carries error %#x", code)
	}
	sealed, _ := c.Bytes(tlv8.TagEncryptedData)

	encryptKey, _ := crypto.HKDFSHA512(tc.sessionKey, "Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info")
	plain, err := crypto.DecryptAndVerify(encryptKey, crypto.PairingNonce("PS-Msg06"), sealed, nil)
	if err != nil {
		tc.t.Fatalf("M6 decrypt: %v", err)
	}
	inner, err := tlv8.Parse(plain)
	if err != nil {
		tc.t.Fatal(err)
	}

	accessoryID, _ := inner.String(tlv8.TagIdentifier)
	accessoryLTPK, _ := inner.Bytes(tlv8.TagPublicKey)
	sig, _ := inner.Bytes(tlv8.TagSignature)

	accessoryX, _ := crypto.HKDFSHA512(tc.sessionKey,
		"Pair-Setup-Accessory-Sign-Salt", "Pair-Setup-Accessory-Sign-Info")
	signed := concat(accessoryX, []byte(accessoryID), accessoryLTPK)
	if !crypto.Ed25519Verify(accessoryLTPK, signed, sig) {
		tc.t.Fatal("accessory M6 signature invalid")
	}
	return accessoryID
}

func (tc *testController) verifyM1() []byte {
	pub, priv, err := crypto.Curve25519GenerateKeyPair(rand.Reader)
	if err != nil {
		tc.t.Fatal(err)
	}
	tc.pub, tc.priv = pub, priv
	return tlv8.Marshal([]tlv8.Item{
		tlv8.Byte(tlv8.TagState, StateM1),
		{Tag: tlv8.TagPublicKey, Value: pub},
	})
}

// verifyM3 checks the accessory's M2 and builds M3.
func (tc *testController) verifyM3(m2 []byte, accessoryLTPK []byte) []byte {
	c, err := tlv8.Parse(m2)
	if err != nil {
		tc.t.Fatal(err)
	}
	if code, ok := c.Byte(tlv8.TagError); ok {
		tc.t.Fatalf("verify M2 carries error %#x", code)
	}
	accessoryPub, _ := c.Bytes(tlv8.TagPublicKey)
	sealed, _ := c.Bytes(tlv8.TagEncryptedData)

	shared, err := crypto.Curve25519SharedSecret(tc.priv, accessoryPub)
	if err != nil {
		tc.t.Fatal(err)
	}
	tc.shared = shared
	tc.vkey, _ = crypto.HKDFSHA512(shared, "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info")

	plain, err := crypto.DecryptAndVerify(tc.vkey, crypto.PairingNonce("PV-Msg02"), sealed, nil)
	if err != nil {
		tc.t.Fatalf("verify M2 decrypt: %v", err)
	}
	inner, err := tlv8.Parse(plain)
	if err != nil {
		tc.t.Fatal(err)
	}
	accessoryID, _ := inner.String(tlv8.TagIdentifier)
	sig, _ := inner.Bytes(tlv8.TagSignature)
	info := concat(accessoryPub, []byte(accessoryID), tc.pub)
	if !crypto.Ed25519Verify(accessoryLTPK, info, sig) {
		tc.t.Fatal("accessory verify signature invalid")
	}

	deviceInfo := concat(tc.pub, []byte(tc.pairingID), accessoryPub)
	deviceSig := ed25519.Sign(tc.ltsk, deviceInfo)
	innerReq := tlv8.Marshal([]tlv8.Item{
		tlv8.Str(tlv8.TagIdentifier, tc.pairingID),
		{Tag: tlv8.TagSignature, Value: deviceSig},
	})
	sealedReq, err := crypto.EncryptAndSeal(tc.vkey, crypto.PairingNonce("PV-Msg03"), innerReq, nil)
	if err != nil {
		tc.t.Fatal(err)
	}
	return tlv8.Marshal([]tlv8.Item{
		tlv8.Byte(tlv8.TagState, StateM3),
		{Tag: tlv8.TagEncryptedData, Value: sealedReq},
	})
}
