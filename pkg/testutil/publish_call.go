package testutil

import (
	"time"

	"homebridge/pkg/hap"
)

// PublishCall records a publish request for testing/verification
type PublishCall struct {
	Timestamp   time.Time
	UUID        string
	DisplayName string
	Info        hap.PublishInfo
	// Port is the port the fake publisher reported as bound.
	Port int
}

// FilterPublishCalls filters publish calls by category
func FilterPublishCalls(calls []PublishCall, category hap.Category) []PublishCall {
	var filtered []PublishCall
	for _, call := range calls {
		if call.Info.Category == category {
			filtered = append(filtered, call)
		}
	}
	return filtered
}

// FindPublishCall finds the most recent publish call for an accessory name
func FindPublishCall(calls []PublishCall, displayName string) *PublishCall {
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].DisplayName == displayName {
			call := calls[i]
			return &call
		}
	}
	return nil
}
