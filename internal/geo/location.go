// Package geo resolves coarse visitor locations from IP addresses and encodes
// coordinates into privacy-safe geohash prefixes.
package geo

import (
	"errors"
	"net"
	"strings"
)

var (
	// ErrPrivateAddress is returned for loopback, private and otherwise
	// non-routable addresses that no public provider can locate.
	ErrPrivateAddress = errors.New("address is not publicly routable")

	// ErrInvalidAddress is returned when the input is not an IP address.
	ErrInvalidAddress = errors.New("invalid IP address")

	// ErrLookupFailed is returned when every provider in the chain failed.
	ErrLookupFailed = errors.New("geolocation lookup failed")

	// ErrNoProviders is returned when a locator has nothing to ask.
	ErrNoProviders = errors.New("no geolocation providers configured")
)

// Location is a coarse, IP-derived location. Coordinates are kept only long
// enough to compute Geohash; view records store the prefix, not the point.
type Location struct {
	IP          string  `json:"ip" cbor:"ip"`
	Country     string  `json:"country,omitempty" cbor:"country,omitempty"`
	CountryCode string  `json:"country_code,omitempty" cbor:"country_code,omitempty"`
	Region      string  `json:"region,omitempty" cbor:"region,omitempty"`
	City        string  `json:"city,omitempty" cbor:"city,omitempty"`
	Latitude    float64 `json:"-" cbor:"lat,omitempty"`
	Longitude   float64 `json:"-" cbor:"lng,omitempty"`
	Geohash     string  `json:"geohash,omitempty" cbor:"geohash,omitempty"`
	Provider    string  `json:"provider" cbor:"provider"`
}

// normalizeIP validates ip and rejects addresses no public provider can resolve.
func normalizeIP(ip string) (string, error) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "", ErrInvalidAddress
	}
	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() ||
		parsed.IsLinkLocalUnicast() || parsed.IsLinkLocalMulticast() || parsed.IsMulticast() {
		return "", ErrPrivateAddress
	}
	return parsed.String(), nil
}
