// Package hap provides the accessory model the bridge hands to the network:
// accessories, services, characteristics and controllers, the parser for
// legacy service descriptions, identity helpers (stable IDs, advertised
// addresses, setup URIs) and a Publisher that advertises accessories over
// mDNS.
//
// Pairing, encrypted sessions and the accessory HTTP protocol are not part of
// this package. The MDNSPublisher reserves the advertised TCP port so that a
// protocol server can be attached to it.
package hap
