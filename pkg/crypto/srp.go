package crypto

import (
	"crypto/sha512"

	"github.com/tadglines/go-pkgs/crypto/srp"
)

// SRP parameters fixed by HAP Section 5.5: the 3072-bit group from
// RFC 5054 with SHA-512 and the RFC 2945 password key derivation, with
// username "Pair-Setup" and a 16-byte salt.
const (
	srpGroup    = "rfc5054.3072"
	srpUsername = "Pair-Setup"

	// SRPSaltSize is the salt length generated at provisioning.
	SRPSaltSize = 16

	// SRPPublicKeySize is the length of the SRP public values A and B
	// (the group prime size).
	SRPPublicKeySize = 384
)

func newSRP() (*srp.SRP, error) {
	s, err := srp.NewSRP(srpGroup, sha512.New, keyDerivationRFC2945([]byte(srpUsername)))
	if err != nil {
		return nil, err
	}
	s.SaltLength = SRPSaltSize
	return s, nil
}

// keyDerivationRFC2945 builds x = H(salt || H(username ":" password)).
func keyDerivationRFC2945(username []byte) srp.KeyDerivationFunc {
	return func(salt, password []byte) []byte {
		h := sha512.New()
		h.Write(username)
		h.Write([]byte(":"))
		h.Write(password)
		inner := h.Sum(nil)
		h.Reset()
		h.Write(salt)
		h.Write(inner)
		return h.Sum(nil)
	}
}

// SRPComputeVerifier derives the salt and password verifier for a
// setup code, given as the plain 8-digit string controllers prove
// against (never the dashed display form). Run once at provisioning;
// the pair is persisted and the code itself is never stored.
func SRPComputeVerifier(setupCode string) (salt, verifier []byte, err error) {
	s, err := newSRP()
	if err != nil {
		return nil, nil, err
	}
	return s.ComputeVerifier([]byte(setupCode))
}

// SRPServer runs the accessory side of one SRP-6a exchange.
type SRPServer struct {
	session *srp.ServerSession
}

// NewSRPServer creates a server session from a persisted salt and
// verifier and computes the ephemeral public value B.
func NewSRPServer(salt, verifier []byte) (*SRPServer, error) {
	s, err := newSRP()
	if err != nil {
		return nil, err
	}
	return &SRPServer{session: s.NewServerSession([]byte(srpUsername), salt, verifier)}, nil
}

// B returns the server's ephemeral public value.
func (s *SRPServer) B() []byte {
	return s.session.GetB()
}

// ComputeKey derives the shared session key from the controller's
// public value A. Must be called before proof verification.
func (s *SRPServer) ComputeKey(a []byte) ([]byte, error) {
	key, err := s.session.ComputeKey(a)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return key, nil
}

// VerifyClientProof checks the controller's proof M1 against the
// computed session key.
func (s *SRPServer) VerifyClientProof(proof []byte) bool {
	return s.session.VerifyClientAuthenticator(proof)
}

// ServerProof computes the accessory proof M2 over the controller's
// proof M1.
func (s *SRPServer) ServerProof(clientProof []byte) []byte {
	return s.session.ComputeAuthenticator(clientProof)
}
