package hap

import (
	"strings"
)

// Category is the accessory category advertised in the ci TXT record.
type Category int

// Accessory categories.
const (
	CategoryOther              Category = 1
	CategoryBridge             Category = 2
	CategoryFan                Category = 3
	CategoryGarageDoorOpener   Category = 4
	CategoryLightbulb          Category = 5
	CategoryDoorLock           Category = 6
	CategoryOutlet             Category = 7
	CategorySwitch             Category = 8
	CategoryThermostat         Category = 9
	CategorySensor             Category = 10
	CategorySecuritySystem     Category = 11
	CategoryDoor               Category = 12
	CategoryWindow             Category = 13
	CategoryWindowCovering     Category = 14
	CategoryProgrammableSwitch Category = 15
	CategoryIPCamera           Category = 17
	CategoryVideoDoorbell      Category = 18
	CategoryAirPurifier        Category = 19
	CategorySpeaker            Category = 26
	CategoryTelevision         Category = 31
)

// ServiceType is the short form of a service type UUID (e.g. "49" for Switch).
type ServiceType string

// Known service types.
const (
	ServiceAccessoryInformation ServiceType = "3E"
	ServiceProtocolInformation  ServiceType = "A2"
	ServiceSwitch               ServiceType = "49"
	ServiceLightbulb            ServiceType = "43"
	ServiceOutlet               ServiceType = "47"
	ServiceTemperatureSensor    ServiceType = "8A"
	ServiceContactSensor        ServiceType = "80"
	ServiceMotionSensor         ServiceType = "85"
	ServiceLightSensor          ServiceType = "84"
	ServiceTelevision           ServiceType = "D8"
	ServiceInputSource          ServiceType = "D9"
	ServiceSpeaker              ServiceType = "113"
)

// CharacteristicType is the short form of a characteristic type UUID.
type CharacteristicType string

// Known characteristic types.
const (
	CharacteristicIdentify           CharacteristicType = "14"
	CharacteristicManufacturer       CharacteristicType = "20"
	CharacteristicModel              CharacteristicType = "21"
	CharacteristicName               CharacteristicType = "23"
	CharacteristicSerialNumber       CharacteristicType = "30"
	CharacteristicFirmwareRevision   CharacteristicType = "52"
	CharacteristicHardwareRevision   CharacteristicType = "53"
	CharacteristicVersion            CharacteristicType = "37"
	CharacteristicOn                 CharacteristicType = "25"
	CharacteristicOutletInUse        CharacteristicType = "26"
	CharacteristicBrightness         CharacteristicType = "8"
	CharacteristicCurrentTemperature CharacteristicType = "11"
	CharacteristicContactSensorState CharacteristicType = "6A"
	CharacteristicMotionDetected     CharacteristicType = "22"
	CharacteristicAmbientLightLevel  CharacteristicType = "6B"
	CharacteristicActive             CharacteristicType = "B0"
	CharacteristicActiveIdentifier   CharacteristicType = "E7"
	CharacteristicConfiguredName     CharacteristicType = "E3"
	CharacteristicSleepDiscoveryMode CharacteristicType = "E8"
	CharacteristicRemoteKey          CharacteristicType = "E1"
	CharacteristicMute               CharacteristicType = "11A"
	CharacteristicVolume             CharacteristicType = "119"
)

// Format is the value format of a characteristic.
type Format string

// Characteristic formats.
const (
	FormatBool   Format = "bool"
	FormatUInt8  Format = "uint8"
	FormatUInt16 Format = "uint16"
	FormatUInt32 Format = "uint32"
	FormatInt    Format = "int"
	FormatFloat  Format = "float"
	FormatString Format = "string"
	FormatTLV8   Format = "tlv8"
	FormatData   Format = "data"
)

// Perm is a characteristic permission.
type Perm string

// Characteristic permissions.
const (
	PermPairedRead  Perm = "pr"
	PermPairedWrite Perm = "pw"
	PermNotify      Perm = "ev"
	PermHidden      Perm = "hd"
)

// baseUUIDSuffix is the suffix shared by all Apple-defined type UUIDs.
const baseUUIDSuffix = "-0000-1000-8000-0026BB765291"

type characteristicTemplate struct {
	name   string
	format Format
	perms  []Perm
	value  any
}

var (
	readOnly  = []Perm{PermPairedRead}
	readWrite = []Perm{PermPairedRead, PermPairedWrite, PermNotify}
	notify    = []Perm{PermPairedRead, PermNotify}
	writeOnly = []Perm{PermPairedWrite}
)

var characteristicTemplates = map[CharacteristicType]characteristicTemplate{
	CharacteristicIdentify:           {"Identify", FormatBool, writeOnly, nil},
	CharacteristicManufacturer:       {"Manufacturer", FormatString, readOnly, ""},
	CharacteristicModel:              {"Model", FormatString, readOnly, ""},
	CharacteristicName:               {"Name", FormatString, readOnly, ""},
	CharacteristicSerialNumber:       {"Serial Number", FormatString, readOnly, ""},
	CharacteristicFirmwareRevision:   {"Firmware Revision", FormatString, readOnly, "1.0"},
	CharacteristicHardwareRevision:   {"Hardware Revision", FormatString, readOnly, ""},
	CharacteristicVersion:            {"Version", FormatString, notify, "1.1.0"},
	CharacteristicOn:                 {"On", FormatBool, readWrite, false},
	CharacteristicOutletInUse:        {"Outlet In Use", FormatBool, notify, false},
	CharacteristicBrightness:         {"Brightness", FormatInt, readWrite, 0},
	CharacteristicCurrentTemperature: {"Current Temperature", FormatFloat, notify, 0.0},
	CharacteristicContactSensorState: {"Contact Sensor State", FormatUInt8, notify, 0},
	CharacteristicMotionDetected:     {"Motion Detected", FormatBool, notify, false},
	CharacteristicAmbientLightLevel:  {"Current Ambient Light Level", FormatFloat, notify, 0.0001},
	CharacteristicActive:             {"Active", FormatUInt8, readWrite, 0},
	CharacteristicActiveIdentifier:   {"Active Identifier", FormatUInt32, readWrite, 0},
	CharacteristicConfiguredName:     {"Configured Name", FormatString, readWrite, ""},
	CharacteristicSleepDiscoveryMode: {"Sleep Discovery Mode", FormatUInt8, notify, 0},
	CharacteristicRemoteKey:          {"Remote Key", FormatUInt8, writeOnly, nil},
	CharacteristicMute:               {"Mute", FormatBool, readWrite, false},
	CharacteristicVolume:             {"Volume", FormatUInt8, readWrite, 0},
}

type serviceTemplate struct {
	name     string
	required []CharacteristicType
}

var serviceTemplates = map[ServiceType]serviceTemplate{
	ServiceAccessoryInformation: {"Accessory Information", []CharacteristicType{
		CharacteristicIdentify, CharacteristicManufacturer, CharacteristicModel,
		CharacteristicName, CharacteristicSerialNumber, CharacteristicFirmwareRevision,
	}},
	ServiceProtocolInformation: {"Protocol Information", []CharacteristicType{CharacteristicVersion}},
	ServiceSwitch:              {"Switch", []CharacteristicType{CharacteristicOn}},
	ServiceLightbulb:           {"Lightbulb", []CharacteristicType{CharacteristicOn}},
	ServiceOutlet:              {"Outlet", []CharacteristicType{CharacteristicOn, CharacteristicOutletInUse}},
	ServiceTemperatureSensor:   {"Temperature Sensor", []CharacteristicType{CharacteristicCurrentTemperature}},
	ServiceContactSensor:       {"Contact Sensor", []CharacteristicType{CharacteristicContactSensorState}},
	ServiceMotionSensor:        {"Motion Sensor", []CharacteristicType{CharacteristicMotionDetected}},
	ServiceLightSensor:         {"Light Sensor", []CharacteristicType{CharacteristicAmbientLightLevel}},
	ServiceTelevision: {"Television", []CharacteristicType{
		CharacteristicActive, CharacteristicActiveIdentifier, CharacteristicConfiguredName,
		CharacteristicSleepDiscoveryMode, CharacteristicRemoteKey,
	}},
	ServiceInputSource: {"Input Source", []CharacteristicType{CharacteristicConfiguredName, CharacteristicName}},
	ServiceSpeaker:     {"Speaker", []CharacteristicType{CharacteristicMute}},
}

// ShortType converts a full Apple-defined type UUID into its short form. Short
// forms and custom UUIDs are returned upper-cased and otherwise unchanged.
func ShortType(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if strings.HasSuffix(s, baseUUIDSuffix) && len(s) == 36 {
		s = strings.TrimLeft(s[:8], "0")
		if s == "" {
			s = "0"
		}
	}
	return s
}
