package datamodel

// Format identifies the wire type of a characteristic value
// (HAP Table 6-5).
type Format int

const (
	FormatBool Format = iota
	FormatUInt8
	FormatUInt16
	FormatUInt32
	FormatUInt64
	FormatInt
	FormatFloat
	FormatString
)

// String returns the HAP format name used in JSON output.
func (f Format) String() string {
	switch f {
	case FormatBool:
		return "bool"
	case FormatUInt8:
		return "uint8"
	case FormatUInt16:
		return "uint16"
	case FormatUInt32:
		return "uint32"
	case FormatUInt64:
		return "uint64"
	case FormatInt:
		return "int"
	case FormatFloat:
		return "float"
	case FormatString:
		return "string"
	default:
		return "unknown"
	}
}

// Perms is a bitmask of characteristic permissions (HAP Table 6-4).
type Perms uint8

const (
	// PermPR allows paired read.
	PermPR Perms = 1 << iota
	// PermPW allows paired write.
	PermPW
	// PermEV allows event notification subscriptions.
	PermEV
	// PermAA requires additional authorization data.
	PermAA
	// PermTW requires timed writes.
	PermTW
	// PermHD hides the characteristic from users.
	PermHD
	// PermWR requests a write response.
	PermWR
	// PermNV suppresses the value in event notifications.
	PermNV
)

// permNames is ordered by bit position; PermNV is internal and never
// serialized.
var permNames = []struct {
	perm Perms
	name string
}{
	{PermPR, "pr"},
	{PermPW, "pw"},
	{PermEV, "ev"},
	{PermAA, "aa"},
	{PermTW, "tw"},
	{PermHD, "hd"},
	{PermWR, "wr"},
}

// Has reports whether all bits in p2 are set.
func (p Perms) Has(p2 Perms) bool {
	return p&p2 == p2
}

// Flags selects which characteristic fields a JSON projection emits.
type Flags int

const (
	// FlagAID includes the owning accessory id on each characteristic.
	FlagAID Flags = 1 << iota
	// FlagMeta includes format, range and step.
	FlagMeta
	// FlagPerms includes the permission list.
	FlagPerms
	// FlagType includes the characteristic type.
	FlagType
	// FlagEV includes the connection's subscription state.
	FlagEV
	// FlagDesc includes the description.
	FlagDesc
	// FlagNV honors the NV permission: characteristics carrying it
	// omit their value. Event bodies use this.
	FlagNV
	// FlagNoValues omits every value field, leaving only the
	// database's structure. The configuration hash uses this so live
	// value changes never look like shape changes.
	FlagNoValues
)

// DatabaseFlags is the projection used for GET /accessories.
const DatabaseFlags = FlagMeta | FlagPerms | FlagType | FlagDesc

// StructuralFlags is the value-free projection the configuration hash
// is computed over.
const StructuralFlags = DatabaseFlags | FlagNoValues

// Status is a HAP per-object status code (HAP Table 6-11).
type Status int

const (
	StatusOK                     Status = 0
	StatusInsufficientPrivileges Status = -70401
	StatusUnable                 Status = -70402
	StatusReadOnly               Status = -70404
	StatusWriteOnly              Status = -70405
	StatusNotifyNotAllowed       Status = -70406
	StatusOutOfResources         Status = -70407
	StatusUnknownResource        Status = -70409
	StatusInvalidValue           Status = -70410
)
