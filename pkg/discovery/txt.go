// Package discovery publishes the accessory's `_hap._tcp` DNS-SD
// service so controllers can find it, and keeps the TXT record in sync
// with the configuration number and pairing status (HAP Section 6.4).
package discovery

import (
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"strconv"
)

// TXT record keys (HAP Table 6-7).
const (
	// TXTKeyConfigNumber is the configuration number, bumped whenever
	// the attribute database changes.
	TXTKeyConfigNumber = "c#"

	// TXTKeyFeatureFlags is the pairing feature flags; "0" selects
	// software authentication.
	TXTKeyFeatureFlags = "ff"

	// TXTKeyDeviceID is the accessory's device ID (XX:XX:XX:XX:XX:XX).
	TXTKeyDeviceID = "id"

	// TXTKeyModel is the model name.
	TXTKeyModel = "md"

	// TXTKeyProtocolVersion is the protocol version, fixed at "1.1".
	TXTKeyProtocolVersion = "pv"

	// TXTKeyStateNumber is the current state number, fixed at "1".
	TXTKeyStateNumber = "s#"

	// TXTKeyStatusFlags is the status flags; "1" means unpaired.
	TXTKeyStatusFlags = "sf"

	// TXTKeyCategory is the accessory category identifier.
	TXTKeyCategory = "ci"

	// TXTKeySetupHash is the setup hash enabling QR-code pairing.
	TXTKeySetupHash = "sh"
)

// ServiceType is the HAP DNS-SD service type.
const ServiceType = "_hap._tcp"

// Accessory categories (HAP Section 13.1).
const (
	CategoryOther      = 1
	CategoryBridge     = 2
	CategoryFan        = 3
	CategoryOutlet     = 7
	CategorySwitch     = 8
	CategoryLightBulb  = 5
	CategorySensor     = 10
	CategoryProgSwitch = 15
)

// AccessoryTXT holds the advertised TXT record values.
type AccessoryTXT struct {
	// ConfigNumber is the database configuration number (c#).
	ConfigNumber uint32

	// Model is the device model name (md).
	Model string

	// Category is the accessory category identifier (ci).
	Category uint8

	// DeviceID is the MAC-formatted accessory identifier (id).
	DeviceID string

	// Paired reports whether an admin controller exists; it drives the
	// status flag (sf), which is "1" while unpaired.
	Paired bool

	// SetupID is the optional 4-character setup identifier; when set,
	// the setup hash (sh) is derived from it and the device ID.
	SetupID string
}

// Validate checks required fields.
func (t *AccessoryTXT) Validate() error {
	if t.DeviceID == "" {
		return fmt.Errorf("%w: missing device ID", ErrInvalidTXT)
	}
	if t.Model == "" {
		return fmt.Errorf("%w: missing model", ErrInvalidTXT)
	}
	if t.Category == 0 {
		return fmt.Errorf("%w: missing category", ErrInvalidTXT)
	}
	if t.SetupID != "" && len(t.SetupID) != 4 {
		return fmt.Errorf("%w: setup ID must be 4 characters", ErrInvalidTXT)
	}
	return nil
}

// Encode converts the record to DNS-SD TXT strings.
func (t *AccessoryTXT) Encode() []string {
	sf := "1"
	if t.Paired {
		sf = "0"
	}

	txt := []string{
		TXTKeyConfigNumber + "=" + strconv.FormatUint(uint64(t.ConfigNumber), 10),
		TXTKeyFeatureFlags + "=0",
		TXTKeyDeviceID + "=" + t.DeviceID,
		TXTKeyModel + "=" + t.Model,
		TXTKeyProtocolVersion + "=1.1",
		TXTKeyStateNumber + "=1",
		TXTKeyStatusFlags + "=" + sf,
		TXTKeyCategory + "=" + strconv.FormatUint(uint64(t.Category), 10),
	}
	if t.SetupID != "" {
		txt = append(txt, TXTKeySetupHash+"="+setupHash(t.SetupID, t.DeviceID))
	}
	return txt
}

// setupHash is the first 4 bytes of SHA-512(setupID || deviceID),
// base64-encoded.
func setupHash(setupID, deviceID string) string {
	sum := sha512.Sum512([]byte(setupID + deviceID))
	return base64.StdEncoding.EncodeToString(sum[:4])
}
