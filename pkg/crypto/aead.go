package crypto

import (
	"golang.org/x/crypto/chacha20poly1305"
)

// AEAD size constants.
const (
	// NonceSize is the ChaCha20-Poly1305 nonce length.
	NonceSize = chacha20poly1305.NonceSize

	// Overhead is the Poly1305 tag length appended to every ciphertext.
	Overhead = chacha20poly1305.Overhead
)

// PairingNonce zero-pads an 8-character pairing message label such as
// "PS-Msg05" or "PV-Msg02" into a 12-byte nonce (HAP Section 5.6.3).
func PairingNonce(label string) []byte {
	nonce := make([]byte, NonceSize)
	copy(nonce[NonceSize-len(label):], label)
	return nonce
}

// EncryptAndSeal encrypts plaintext with ChaCha20-Poly1305 and appends
// the 16-byte tag. aad may be nil.
func EncryptAndSeal(key, nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// DecryptAndVerify verifies the trailing tag and decrypts ciphertext.
// Returns ErrAuthentication when the tag does not match.
func DecryptAndVerify(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}
