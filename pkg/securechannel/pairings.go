package securechannel

import (
	"bytes"
	"fmt"

	"github.com/backkem/hap/pkg/pairing"
	"github.com/backkem/hap/pkg/tlv8"
)

// PairingsResult reports the side effects of a pairings operation.
type PairingsResult struct {
	// Unpaired is set when the operation removed the last admin: the
	// caller must drop every connection and flip the status flag.
	Unpaired bool

	// RemovedID names the controller whose pairing was removed, so
	// the caller can drop that controller's live connections.
	RemovedID string
}

// HandlePairings processes a POST /pairings body on behalf of the
// given (verified) controller. Only admins may manage pairings.
func (m *Manager) HandlePairings(requester *pairing.Controller, body []byte) ([]byte, *PairingsResult, error) {
	c, err := tlv8.Parse(body)
	if err != nil {
		return nil, nil, fmt.Errorf("pairings: %w", err)
	}
	if state, ok := c.Byte(tlv8.TagState); !ok || state != StateM1 {
		return nil, nil, ErrMissingState
	}
	method, ok := c.Byte(tlv8.TagMethod)
	if !ok {
		return pairingsError(tlv8.ErrorUnknown), nil, nil
	}

	if !requester.Admin {
		return pairingsError(tlv8.ErrorAuthentication), nil, nil
	}

	switch method {
	case tlv8.MethodAddPairing:
		return m.addPairing(c)
	case tlv8.MethodRemovePairing:
		return m.removePairing(c)
	case tlv8.MethodListPairings:
		return m.listPairings()
	default:
		return pairingsError(tlv8.ErrorUnknown), nil, nil
	}
}

func (m *Manager) addPairing(c tlv8.Container) ([]byte, *PairingsResult, error) {
	id, okID := c.String(tlv8.TagIdentifier)
	ltpk, okKey := c.Bytes(tlv8.TagPublicKey)
	perms, okPerms := c.Byte(tlv8.TagPermissions)
	if !okID || !okKey || !okPerms {
		return pairingsError(tlv8.ErrorUnknown), nil, nil
	}

	// Re-adding an existing controller with a different key is an
	// attack indicator, not an update.
	if existing := m.controllers.Find(id); existing != nil && !bytes.Equal(existing.LTPK[:], ltpk) {
		return pairingsError(tlv8.ErrorUnknown), nil, nil
	}

	err := m.controllers.Add(id, ltpk, perms&0x01 != 0)
	switch err {
	case nil:
	case pairing.ErrTableFull:
		return pairingsError(tlv8.ErrorMaxPeers), nil, nil
	default:
		return pairingsError(tlv8.ErrorUnknown), nil, nil
	}

	return pairingsOK(), &PairingsResult{}, nil
}

func (m *Manager) removePairing(c tlv8.Container) ([]byte, *PairingsResult, error) {
	id, ok := c.String(tlv8.TagIdentifier)
	if !ok {
		return pairingsError(tlv8.ErrorUnknown), nil, nil
	}

	adminRemains, err := m.controllers.Remove(id)
	if err != nil {
		return pairingsError(tlv8.ErrorUnknown), nil, nil
	}

	result := &PairingsResult{RemovedID: id}
	if !adminRemains {
		// Removing the last admin unpairs the device entirely.
		if err := m.controllers.RemoveAll(); err != nil {
			return pairingsError(tlv8.ErrorUnknown), nil, nil
		}
		result.Unpaired = true
		if m.log != nil {
			m.log.Info("pairings: last admin removed, device unpaired")
		}
	}
	return pairingsOK(), result, nil
}

func (m *Manager) listPairings() ([]byte, *PairingsResult, error) {
	items := []tlv8.Item{tlv8.Byte(tlv8.TagState, StateM2)}
	for i, c := range m.controllers.List() {
		if i > 0 {
			items = append(items, tlv8.Item{Tag: tlv8.TagSeparator})
		}
		perms := byte(0)
		if c.Admin {
			perms = 1
		}
		items = append(items,
			tlv8.Str(tlv8.TagIdentifier, c.PairingID),
			tlv8.Item{Tag: tlv8.TagPublicKey, Value: c.LTPK[:]},
			tlv8.Byte(tlv8.TagPermissions, perms),
		)
	}
	return tlv8.Marshal(items), &PairingsResult{}, nil
}

func pairingsOK() []byte {
	return tlv8.Marshal([]tlv8.Item{tlv8.Byte(tlv8.TagState, StateM2)})
}

func pairingsError(code byte) []byte {
	return tlv8.Marshal([]tlv8.Item{
		tlv8.Byte(tlv8.TagState, StateM2),
		tlv8.Byte(tlv8.TagError, code),
	})
}
