// Package crypto provides the cryptographic primitives used by the
// HomeKit Accessory Protocol: SHA-512/SHA-384 digests, HKDF-SHA-512,
// ChaCha20-Poly1305 AEAD, Curve25519 ECDH, Ed25519 signatures and the
// SRP-6a password-authenticated key exchange (HAP Chapter 5).
package crypto

import "crypto/sha512"

// Digest length constants.
const (
	// SHA512LenBytes is the SHA-512 output length in bytes.
	SHA512LenBytes = 64

	// SHA384LenBytes is the SHA-384 output length in bytes.
	SHA384LenBytes = 48
)

// SHA512 computes the SHA-512 hash of a message.
func SHA512(message []byte) [SHA512LenBytes]byte {
	return sha512.Sum512(message)
}

// SHA384 computes the SHA-384 hash of a message. The attribute database
// uses it to fingerprint the serialized accessory tree when tracking
// the configuration number.
func SHA384(message []byte) [SHA384LenBytes]byte {
	return sha512.Sum384(message)
}
