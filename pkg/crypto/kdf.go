package crypto

import (
	"crypto/sha512"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SessionKeySize is the size of every key HKDF derives for HAP
// (ChaCha20-Poly1305 key length).
const SessionKeySize = 32

// HKDFSHA512 derives a 32-byte key using HKDF-SHA-512 (RFC 5869) with
// string salt and info parameters, the form every HAP key derivation
// uses (HAP Sections 5.6.2, 5.7.2, 6.5.2).
func HKDFSHA512(inputKey []byte, salt, info string) ([]byte, error) {
	reader := hkdf.New(sha512.New, inputKey, []byte(salt), []byte(info))
	key := make([]byte, SessionKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
