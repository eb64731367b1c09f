package crypto

import (
	"io"

	"golang.org/x/crypto/curve25519"
)

// Curve25519KeySize is the length of Curve25519 scalars and points.
const Curve25519KeySize = 32

// Curve25519GenerateKeyPair creates an ephemeral X25519 key pair for
// Pair-Verify from the given randomness source.
func Curve25519GenerateKeyPair(rand io.Reader) (pub, priv []byte, err error) {
	priv = make([]byte, Curve25519KeySize)
	if _, err = io.ReadFull(rand, priv); err != nil {
		return nil, nil, err
	}
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

// Curve25519SharedSecret computes the X25519 shared secret between a
// private scalar and a peer public point.
func Curve25519SharedSecret(priv, peerPub []byte) ([]byte, error) {
	shared, err := curve25519.X25519(priv, peerPub)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return shared, nil
}
