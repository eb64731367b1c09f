package crypto

import (
	"crypto/ed25519"
	"io"
)

// Ed25519 key and signature sizes.
const (
	Ed25519PublicKeySize = ed25519.PublicKeySize
	Ed25519SignatureSize = ed25519.SignatureSize
)

// Ed25519GenerateKeyPair creates a long-term signing key pair from the
// given randomness source.
func Ed25519GenerateKeyPair(rand io.Reader) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand)
}

// Ed25519Sign signs message with the accessory's long-term secret key.
func Ed25519Sign(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

// Ed25519Verify reports whether signature is a valid signature of
// message under pub. Malformed keys verify as false rather than
// panicking.
func Ed25519Verify(pub, message, signature []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), message, signature)
}
