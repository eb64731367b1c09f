package pairing

import (
	"fmt"
	"regexp"

	"github.com/fxamacker/cbor/v2"

	"github.com/backkem/hap/pkg/crypto"
	"github.com/backkem/hap/pkg/persist"
)

// setupCodePattern matches the dashed form controllers display:
// XXX-XX-XXX.
var setupCodePattern = regexp.MustCompile(`^\d{3}-\d{2}-\d{3}$`)

// trivialCodes are the sequences Apple forbids as setup codes.
var trivialCodes = map[string]bool{
	"00000000": true, "11111111": true, "22222222": true,
	"33333333": true, "44444444": true, "55555555": true,
	"66666666": true, "77777777": true, "88888888": true,
	"99999999": true, "12345678": true, "87654321": true,
}

// ValidateSetupCode checks an 8-digit setup code (bare "46637726" or
// dashed "466-37-726") against the format rule and the trivial-code
// blacklist, returning the plain digit string. The plain digits are
// what controllers SRP-prove against; the dashed form exists only for
// display (see FormatSetupCode).
func ValidateSetupCode(code string) (string, error) {
	var digits string
	switch {
	case setupCodePattern.MatchString(code):
		digits = code[0:3] + code[4:6] + code[7:10]
	case len(code) == 8 && allDigits(code):
		digits = code
	default:
		return "", ErrInvalidSetupCode
	}
	if trivialCodes[digits] {
		return "", ErrInvalidSetupCode
	}
	return digits, nil
}

// FormatSetupCode renders plain setup-code digits in the dashed form
// controllers display (XXX-XX-XXX).
func FormatSetupCode(digits string) string {
	if len(digits) != 8 {
		return digits
	}
	return digits[0:3] + "-" + digits[3:5] + "-" + digits[5:8]
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Verifier is the provisioned SRP salt and verifier. The setup code
// itself is never stored.
type Verifier struct {
	Salt     []byte
	Verifier []byte
}

type verifierBlob struct {
	Salt     []byte `cbor:"1,keyasint"`
	Verifier []byte `cbor:"2,keyasint"`
}

// ProvisionVerifier derives and persists the SRP verifier for a setup
// code, replacing any previous one. The verifier is computed over the
// plain digit string, the form controllers prove against.
func ProvisionVerifier(store persist.Store, setupCode string) (*Verifier, error) {
	digits, err := ValidateSetupCode(setupCode)
	if err != nil {
		return nil, err
	}

	salt, verifier, err := crypto.SRPComputeVerifier(digits)
	if err != nil {
		return nil, err
	}

	data, err := cbor.Marshal(verifierBlob{Salt: salt, Verifier: verifier})
	if err != nil {
		return nil, err
	}
	if err := store.SetBlob(persist.KeyVerifyData, data); err != nil {
		return nil, err
	}
	if err := store.Commit(); err != nil {
		return nil, err
	}
	return &Verifier{Salt: salt, Verifier: verifier}, nil
}

// LoadVerifier returns the persisted verifier, or persist.ErrNotFound
// when the device was never provisioned.
func LoadVerifier(store persist.Store) (*Verifier, error) {
	data, err := store.GetBlob(persist.KeyVerifyData)
	if err != nil {
		return nil, err
	}
	var blob verifierBlob
	if err := cbor.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("pairing: decode verifier: %w", err)
	}
	if len(blob.Salt) != crypto.SRPSaltSize || len(blob.Verifier) == 0 {
		return nil, ErrCorruptIdentity
	}
	return &Verifier{Salt: blob.Salt, Verifier: blob.Verifier}, nil
}
