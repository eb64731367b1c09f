package securechannel

import (
	"fmt"

	"github.com/backkem/hap/pkg/crypto"
	"github.com/backkem/hap/pkg/pairing"
	"github.com/backkem/hap/pkg/tlv8"
)

// VerifyResult is produced when Pair-Verify completes: the
// authenticated controller and the Curve25519 shared secret the
// session transport keys derive from.
type VerifyResult struct {
	Controller   *pairing.Controller
	SharedSecret []byte
}

// VerifySession runs the accessory side of one Pair-Verify exchange.
type VerifySession struct {
	m *Manager

	expect byte

	localPub      []byte
	localPriv     []byte
	controllerPub []byte
	shared        []byte
	sessionKey    []byte
}

// NewVerifySession creates a session expecting M1.
func (m *Manager) NewVerifySession() *VerifySession {
	return &VerifySession{m: m, expect: StateM1}
}

func (s *VerifySession) reset() {
	*s = VerifySession{m: s.m, expect: StateM1}
}

func (s *VerifySession) errorResponse(state, code byte) []byte {
	s.reset()
	return tlv8.Marshal([]tlv8.Item{
		tlv8.Byte(tlv8.TagState, state),
		tlv8.Byte(tlv8.TagError, code),
	})
}

// Handle advances the state machine with one request body. A non-nil
// VerifyResult reports a verified session; the caller derives the
// transport keys and switches the connection to framed encryption.
func (s *VerifySession) Handle(body []byte) ([]byte, *VerifyResult, error) {
	c, err := tlv8.Parse(body)
	if err != nil {
		return nil, nil, fmt.Errorf("pair-verify: %w", err)
	}
	state, ok := c.Byte(tlv8.TagState)
	if !ok {
		return nil, nil, ErrMissingState
	}
	if state != s.expect {
		if state == StateM1 {
			s.reset()
		} else {
			return s.errorResponse(state+1, tlv8.ErrorUnknown), nil, nil
		}
	}

	switch state {
	case StateM1:
		return s.handleM1(c)
	case StateM3:
		return s.handleM3(c)
	default:
		return nil, nil, ErrMissingState
	}
}

// handleM1 performs the ECDH exchange and signs the accessory info
// (HAP 5.7.1/5.7.2).
func (s *VerifySession) handleM1(c tlv8.Container) ([]byte, *VerifyResult, error) {
	controllerPub, ok := c.Bytes(tlv8.TagPublicKey)
	if !ok || len(controllerPub) != crypto.Curve25519KeySize {
		return s.errorResponse(StateM2, tlv8.ErrorUnknown), nil, nil
	}

	pub, priv, err := crypto.Curve25519GenerateKeyPair(s.m.rand)
	if err != nil {
		return nil, nil, err
	}
	shared, err := crypto.Curve25519SharedSecret(priv, controllerPub)
	if err != nil {
		return s.errorResponse(StateM2, tlv8.ErrorAuthentication), nil, nil
	}

	info := concat(pub, []byte(s.m.identity.DeviceID), controllerPub)
	sig := crypto.Ed25519Sign(s.m.identity.LTSK, info)

	inner := tlv8.Marshal([]tlv8.Item{
		tlv8.Str(tlv8.TagIdentifier, s.m.identity.DeviceID),
		{Tag: tlv8.TagSignature, Value: sig},
	})

	sessionKey, err := crypto.HKDFSHA512(shared, "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info")
	if err != nil {
		return nil, nil, err
	}
	sealed, err := crypto.EncryptAndSeal(sessionKey, crypto.PairingNonce("PV-Msg02"), inner, nil)
	if err != nil {
		return nil, nil, err
	}

	s.localPub = pub
	s.localPriv = priv
	s.controllerPub = controllerPub
	s.shared = shared
	s.sessionKey = sessionKey
	s.expect = StateM3

	resp := tlv8.Marshal([]tlv8.Item{
		tlv8.Byte(tlv8.TagState, StateM2),
		{Tag: tlv8.TagPublicKey, Value: pub},
		{Tag: tlv8.TagEncryptedData, Value: sealed},
	})
	return resp, nil, nil
}

// handleM3 authenticates the controller (HAP 5.7.3/5.7.4).
func (s *VerifySession) handleM3(c tlv8.Container) ([]byte, *VerifyResult, error) {
	encrypted, ok := c.Bytes(tlv8.TagEncryptedData)
	if !ok {
		return s.errorResponse(StateM4, tlv8.ErrorUnknown), nil, nil
	}

	plain, err := crypto.DecryptAndVerify(s.sessionKey, crypto.PairingNonce("PV-Msg03"), encrypted, nil)
	if err != nil {
		return s.errorResponse(StateM4, tlv8.ErrorAuthentication), nil, nil
	}
	inner, err := tlv8.Parse(plain)
	if err != nil {
		return s.errorResponse(StateM4, tlv8.ErrorAuthentication), nil, nil
	}
	id, okID := inner.String(tlv8.TagIdentifier)
	sig, okSig := inner.Bytes(tlv8.TagSignature)
	if !okID || !okSig {
		return s.errorResponse(StateM4, tlv8.ErrorAuthentication), nil, nil
	}

	controller := s.m.controllers.Find(id)
	if controller == nil {
		if s.m.log != nil {
			s.m.log.Infof("pair-verify: unknown controller %s", id)
		}
		return s.errorResponse(StateM4, tlv8.ErrorAuthentication), nil, nil
	}

	info := concat(s.controllerPub, []byte(id), s.localPub)
	if !crypto.Ed25519Verify(controller.LTPK[:], info, sig) {
		return s.errorResponse(StateM4, tlv8.ErrorAuthentication), nil, nil
	}

	result := &VerifyResult{Controller: controller, SharedSecret: s.shared}
	resp := tlv8.Marshal([]tlv8.Item{tlv8.Byte(tlv8.TagState, StateM4)})
	s.reset()
	return resp, result, nil
}
