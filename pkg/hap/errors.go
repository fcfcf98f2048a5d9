package hap

import "errors"

// Errors returned by the accessory model and the publisher.
var (
	ErrNotWritable             = errors.New("characteristic is not writable")
	ErrDuplicateCharacteristic = errors.New("duplicate characteristic")
	ErrDuplicateService        = errors.New("duplicate service")
	ErrDuplicateController     = errors.New("duplicate controller")
	ErrDuplicateAccessory      = errors.New("duplicate bridged accessory")
	ErrInvalidLegacyService    = errors.New("invalid legacy service")
	ErrInvalidUsername         = errors.New("invalid username")
	ErrInvalidPinCode          = errors.New("invalid pin code")
	ErrAlreadyPublished        = errors.New("accessory already published")
)
