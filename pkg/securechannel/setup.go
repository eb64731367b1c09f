package securechannel

import (
	"fmt"

	"github.com/backkem/hap/pkg/crypto"
	"github.com/backkem/hap/pkg/pairing"
	"github.com/backkem/hap/pkg/tlv8"
)

// SetupResult is produced when Pair-Setup completes: the enrolled
// controller, persisted as admin before the M6 response is sent.
type SetupResult struct {
	PairingID string
	LTPK      []byte
}

// SetupSession runs the accessory side of one Pair-Setup exchange on a
// single connection. Each connection owns at most one; the Manager
// serializes attempts across connections.
type SetupSession struct {
	m *Manager

	// expect is the next controller state this session accepts.
	expect byte

	srp        *crypto.SRPServer
	sessionKey []byte
}

// NewSetupSession creates a session expecting M1.
func (m *Manager) NewSetupSession() *SetupSession {
	return &SetupSession{m: m, expect: StateM1}
}

// Close releases the manager's in-flight slot. Connections must call
// it when they go away mid-exchange.
func (s *SetupSession) Close() {
	s.m.releaseSetup(s)
}

// reset returns the session to its initial state after a failed
// attempt.
func (s *SetupSession) reset() {
	s.srp = nil
	s.sessionKey = nil
	s.expect = StateM1
	s.m.releaseSetup(s)
}

// errorResponse builds the terminal error reply for a state and resets
// the session.
func (s *SetupSession) errorResponse(state, code byte) []byte {
	s.reset()
	return tlv8.Marshal([]tlv8.Item{
		tlv8.Byte(tlv8.TagState, state),
		tlv8.Byte(tlv8.TagError, code),
	})
}

// Handle advances the state machine with one request body and returns
// the response body. A non-nil SetupResult reports completed
// enrollment. A non-nil error means the request was malformed beyond
// a protocol-level reply; the caller closes the connection.
func (s *SetupSession) Handle(body []byte) ([]byte, *SetupResult, error) {
	c, err := tlv8.Parse(body)
	if err != nil {
		return nil, nil, fmt.Errorf("pair-setup: %w", err)
	}
	state, ok := c.Byte(tlv8.TagState)
	if !ok {
		return nil, nil, ErrMissingState
	}
	if state != s.expect {
		// A fresh M1 aborts the current attempt and starts over.
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
	case StateM5:
		return s.handleM5(c)
	default:
		return nil, nil, ErrMissingState
	}
}

// handleM1 starts the SRP exchange (HAP 5.6.1/5.6.2).
func (s *SetupSession) handleM1(c tlv8.Container) ([]byte, *SetupResult, error) {
	if method, ok := c.Byte(tlv8.TagMethod); !ok ||
		(method != tlv8.MethodPairSetup && method != tlv8.MethodPairSetupWithAuth) {
		return s.errorResponse(StateM2, tlv8.ErrorUnknown), nil, nil
	}

	if s.m.controllers.Paired() {
		return s.errorResponse(StateM2, tlv8.ErrorUnavailable), nil, nil
	}
	if s.m.verifier == nil {
		return s.errorResponse(StateM2, tlv8.ErrorUnavailable), nil, nil
	}
	if !s.m.acquireSetup(s) {
		return s.errorResponse(StateM2, tlv8.ErrorBusy), nil, nil
	}

	srv, err := crypto.NewSRPServer(s.m.verifier.Salt, s.m.verifier.Verifier)
	if err != nil {
		return nil, nil, fmt.Errorf("pair-setup: srp init: %w", err)
	}
	s.srp = srv
	s.expect = StateM3

	resp := tlv8.Marshal([]tlv8.Item{
		tlv8.Byte(tlv8.TagState, StateM2),
		{Tag: tlv8.TagPublicKey, Value: srv.B()},
		{Tag: tlv8.TagSalt, Value: s.m.verifier.Salt},
	})
	return resp, nil, nil
}

// handleM3 verifies the controller's SRP proof (HAP 5.6.3/5.6.4).
func (s *SetupSession) handleM3(c tlv8.Container) ([]byte, *SetupResult, error) {
	a, okA := c.Bytes(tlv8.TagPublicKey)
	proof, okP := c.Bytes(tlv8.TagProof)
	if !okA || !okP {
		return s.errorResponse(StateM4, tlv8.ErrorUnknown), nil, nil
	}

	// The shared key must be computed before the proof check.
	key, err := s.srp.ComputeKey(a)
	if err != nil {
		return s.errorResponse(StateM4, tlv8.ErrorAuthentication), nil, nil
	}
	if !s.srp.VerifyClientProof(proof) {
		if s.m.log != nil {
			s.m.log.Info("pair-setup: controller proof mismatch (wrong setup code)")
		}
		return s.errorResponse(StateM4, tlv8.ErrorAuthentication), nil, nil
	}

	s.sessionKey = key
	s.expect = StateM5

	resp := tlv8.Marshal([]tlv8.Item{
		tlv8.Byte(tlv8.TagState, StateM4),
		{Tag: tlv8.TagProof, Value: s.srp.ServerProof(proof)},
	})
	return resp, nil, nil
}

// handleM5 exchanges long-term public keys (HAP 5.6.5/5.6.6).
func (s *SetupSession) handleM5(c tlv8.Container) ([]byte, *SetupResult, error) {
	encrypted, ok := c.Bytes(tlv8.TagEncryptedData)
	if !ok {
		return s.errorResponse(StateM6, tlv8.ErrorUnknown), nil, nil
	}

	encryptKey, err := crypto.HKDFSHA512(s.sessionKey, "Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info")
	if err != nil {
		return nil, nil, err
	}
	plain, err := crypto.DecryptAndVerify(encryptKey, crypto.PairingNonce("PS-Msg05"), encrypted, nil)
	if err != nil {
		return s.errorResponse(StateM6, tlv8.ErrorAuthentication), nil, nil
	}

	inner, err := tlv8.Parse(plain)
	if err != nil {
		return s.errorResponse(StateM6, tlv8.ErrorAuthentication), nil, nil
	}
	id, okID := inner.String(tlv8.TagIdentifier)
	ltpk, okKey := inner.Bytes(tlv8.TagPublicKey)
	sig, okSig := inner.Bytes(tlv8.TagSignature)
	if !okID || !okKey || !okSig || pairing.ValidatePairingID(id) != nil {
		return s.errorResponse(StateM6, tlv8.ErrorAuthentication), nil, nil
	}

	controllerX, err := crypto.HKDFSHA512(s.sessionKey,
		"Pair-Setup-Controller-Sign-Salt", "Pair-Setup-Controller-Sign-Info")
	if err != nil {
		return nil, nil, err
	}
	signed := concat(controllerX, []byte(id), ltpk)
	if !crypto.Ed25519Verify(ltpk, signed, sig) {
		if s.m.log != nil {
			s.m.log.Info("pair-setup: controller signature invalid")
		}
		return s.errorResponse(StateM6, tlv8.ErrorAuthentication), nil, nil
	}

	// Build the accessory's signed info.
	accessoryX, err := crypto.HKDFSHA512(s.sessionKey,
		"Pair-Setup-Accessory-Sign-Salt", "Pair-Setup-Accessory-Sign-Info")
	if err != nil {
		return nil, nil, err
	}
	accessorySigned := concat(accessoryX, []byte(s.m.identity.DeviceID), s.m.identity.LTPK)
	accessorySig := crypto.Ed25519Sign(s.m.identity.LTSK, accessorySigned)

	innerResp := tlv8.Marshal([]tlv8.Item{
		tlv8.Str(tlv8.TagIdentifier, s.m.identity.DeviceID),
		{Tag: tlv8.TagPublicKey, Value: s.m.identity.LTPK},
		{Tag: tlv8.TagSignature, Value: accessorySig},
	})
	sealed, err := crypto.EncryptAndSeal(encryptKey, crypto.PairingNonce("PS-Msg06"), innerResp, nil)
	if err != nil {
		return nil, nil, err
	}

	resp := tlv8.Marshal([]tlv8.Item{
		tlv8.Byte(tlv8.TagState, StateM6),
		{Tag: tlv8.TagEncryptedData, Value: sealed},
	})

	result := &SetupResult{PairingID: id, LTPK: ltpk}
	s.reset()
	return resp, result, nil
}

func concat(parts ...[]byte) []byte {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
