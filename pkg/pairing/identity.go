// Package pairing holds the accessory's long-term pairing state: its
// identity (device ID and Ed25519 key pair), the table of paired
// controllers and the provisioned SRP verifier. Everything here is
// persisted through a persist.Store and survives reboots; only a
// factory reset clears it.
package pairing

import (
	"crypto/ed25519"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/backkem/hap/pkg/crypto"
	"github.com/backkem/hap/pkg/persist"
)

// DeviceIDSize is the length of the formatted device ID
// ("XX:XX:XX:XX:XX:XX").
const DeviceIDSize = 17

// Identity is the accessory's long-term identity: a MAC-formatted
// device ID derived from 6 random bytes at first boot and an Ed25519
// key pair, both persisted under persist.KeyAccessory.
type Identity struct {
	DeviceID string
	LTPK     ed25519.PublicKey
	LTSK     ed25519.PrivateKey
}

// identityBlob is the persisted form.
type identityBlob struct {
	DeviceID string `cbor:"1,keyasint"`
	LTSK     []byte `cbor:"2,keyasint"`
}

// LoadIdentity returns the persisted identity, generating and storing
// a fresh one on first boot.
func LoadIdentity(store persist.Store, rand io.Reader) (*Identity, error) {
	data, err := store.GetBlob(persist.KeyAccessory)
	switch err {
	case nil:
		var blob identityBlob
		if err := cbor.Unmarshal(data, &blob); err != nil {
			return nil, fmt.Errorf("pairing: decode identity: %w", err)
		}
		if len(blob.LTSK) != ed25519.PrivateKeySize || len(blob.DeviceID) != DeviceIDSize {
			return nil, ErrCorruptIdentity
		}
		ltsk := ed25519.PrivateKey(blob.LTSK)
		return &Identity{
			DeviceID: blob.DeviceID,
			LTPK:     ltsk.Public().(ed25519.PublicKey),
			LTSK:     ltsk,
		}, nil

	case persist.ErrNotFound:
		return generateIdentity(store, rand)

	default:
		return nil, err
	}
}

func generateIdentity(store persist.Store, rand io.Reader) (*Identity, error) {
	var mac [6]byte
	if _, err := io.ReadFull(rand, mac[:]); err != nil {
		return nil, err
	}
	deviceID := fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])

	ltpk, ltsk, err := crypto.Ed25519GenerateKeyPair(rand)
	if err != nil {
		return nil, err
	}

	data, err := cbor.Marshal(identityBlob{DeviceID: deviceID, LTSK: ltsk})
	if err != nil {
		return nil, err
	}
	if err := store.SetBlob(persist.KeyAccessory, data); err != nil {
		return nil, err
	}
	if err := store.Commit(); err != nil {
		return nil, err
	}

	return &Identity{DeviceID: deviceID, LTPK: ltpk, LTSK: ltsk}, nil
}
