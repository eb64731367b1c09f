package datamodel

// HAP characteristic types (short UUID form, HAP Chapter 9).
const (
	TypeIdentify                = "14"
	TypeManufacturer            = "20"
	TypeModel                   = "21"
	TypeName                    = "23"
	TypeSerialNumber            = "30"
	TypeFirmwareRevision        = "52"
	TypeVersion                 = "37"
	TypeOn                      = "25"
	TypeBrightness              = "8"
	TypeHue                     = "13"
	TypeSaturation              = "2F"
	TypeColorTemperature        = "CE"
	TypeOutletInUse             = "26"
	TypeMotionDetected          = "22"
	TypeCurrentTemperature      = "11"
	TypeProgrammableSwitchEvent = "73"
	TypeStatusActive            = "75"
	TypeBatteryLevel            = "68"
	TypeChargingState           = "8F"
	TypeStatusLowBattery        = "79"
)

// HAP service types (short UUID form, HAP Chapter 8).
const (
	ServiceAccessoryInformation        = "3E"
	ServiceProtocolInformation         = "A2"
	ServiceLightBulb                   = "43"
	ServiceSwitch                      = "49"
	ServiceOutlet                      = "47"
	ServiceMotionSensor                = "85"
	ServiceTemperatureSensor           = "8A"
	ServiceStatelessProgrammableSwitch = "89"
	ServiceBattery                     = "96"
)

// characteristicMeta is the static catalog entry for a characteristic
// type: its format, permissions and optional numeric range.
type characteristicMeta struct {
	format Format
	perms  Perms
	desc   string
	rng    *Range
}

// Range bounds a numeric characteristic. Step of 0 means unconstrained.
type Range struct {
	Min  float64
	Max  float64
	Step float64
}

var characteristicCatalog = map[string]characteristicMeta{
	TypeIdentify:         {FormatBool, PermPW, "Identify", nil},
	TypeManufacturer:     {FormatString, PermPR, "Manufacturer", nil},
	TypeModel:            {FormatString, PermPR, "Model", nil},
	TypeName:             {FormatString, PermPR, "Name", nil},
	TypeSerialNumber:     {FormatString, PermPR, "Serial Number", nil},
	TypeFirmwareRevision: {FormatString, PermPR, "Firmware Revision", nil},
	TypeVersion:          {FormatString, PermPR, "Version", nil},

	TypeOn:               {FormatBool, PermPR | PermPW | PermEV, "On", nil},
	TypeBrightness:       {FormatInt, PermPR | PermPW | PermEV, "Brightness", &Range{0, 100, 1}},
	TypeHue:              {FormatFloat, PermPR | PermPW | PermEV, "Hue", &Range{0, 360, 1}},
	TypeSaturation:       {FormatFloat, PermPR | PermPW | PermEV, "Saturation", &Range{0, 100, 1}},
	TypeColorTemperature: {FormatUInt32, PermPR | PermPW | PermEV, "Color Temperature", &Range{140, 500, 1}},
	TypeOutletInUse:      {FormatBool, PermPR | PermEV, "Outlet In Use", nil},

	TypeMotionDetected:     {FormatBool, PermPR | PermEV, "Motion Detected", nil},
	TypeCurrentTemperature: {FormatFloat, PermPR | PermEV, "Current Temperature", &Range{0, 100, 0.1}},
	TypeStatusActive:       {FormatBool, PermPR | PermEV, "Status Active", nil},

	TypeProgrammableSwitchEvent: {FormatUInt8, PermPR | PermEV | PermNV, "Programmable Switch Event", &Range{0, 2, 1}},

	TypeBatteryLevel:     {FormatUInt8, PermPR | PermEV, "Battery Level", &Range{0, 100, 1}},
	TypeChargingState:    {FormatUInt8, PermPR | PermEV, "Charging State", &Range{0, 2, 1}},
	TypeStatusLowBattery: {FormatUInt8, PermPR | PermEV, "Status Low Battery", &Range{0, 1, 1}},
}

// serviceMeta declares the characteristic types a service requires and
// allows (HAP Chapter 8).
type serviceMeta struct {
	required []string
	optional []string
}

var serviceCatalog = map[string]serviceMeta{
	ServiceAccessoryInformation: {
		required: []string{TypeIdentify, TypeManufacturer, TypeModel, TypeName, TypeSerialNumber, TypeFirmwareRevision},
	},
	ServiceProtocolInformation: {
		required: []string{TypeVersion},
	},
	ServiceLightBulb: {
		required: []string{TypeOn},
		optional: []string{TypeBrightness, TypeHue, TypeSaturation, TypeColorTemperature, TypeName},
	},
	ServiceSwitch: {
		required: []string{TypeOn},
		optional: []string{TypeName},
	},
	ServiceOutlet: {
		required: []string{TypeOn, TypeOutletInUse},
		optional: []string{TypeName},
	},
	ServiceMotionSensor: {
		required: []string{TypeMotionDetected},
		optional: []string{TypeStatusActive, TypeName},
	},
	ServiceTemperatureSensor: {
		required: []string{TypeCurrentTemperature},
		optional: []string{TypeStatusActive, TypeName},
	},
	ServiceStatelessProgrammableSwitch: {
		required: []string{TypeProgrammableSwitchEvent},
		optional: []string{TypeName},
	},
	ServiceBattery: {
		required: []string{TypeBatteryLevel, TypeChargingState, TypeStatusLowBattery},
		optional: []string{TypeName},
	},
}
