// Package device implements the device store: a durable keyed store of
// observed network hosts with a secondary index by current IP, serialized
// per-identifier writes, and snapshot reads, backed by a JSON-lines append
// log suited to a single-node appliance.
package device

import (
	"strings"
	"time"
)

// Type enumerates the guessed or operator-set device category.
type Type string

const (
	TypePhone    Type = "phone"
	TypeTV       Type = "tv"
	TypeNAS      Type = "nas"
	TypeLaptop   Type = "laptop"
	TypeDesktop  Type = "desktop"
	TypeIOT      Type = "iot"
	TypePrinter  Type = "printer"
	TypeUnknown  Type = "unknown"
)

// Device is the canonical network-host record. Identifier is immutable for
// the life of the device: derived from MAC when known, else from IP at
// first observation.
type Device struct {
	ID          string    `json:"id"`
	IP          string    `json:"ip"`
	MAC         string    `json:"mac,omitempty"`
	Hostname    string    `json:"hostname,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Tags        []string  `json:"tags,omitempty"`
	GuessedType Type      `json:"guessed_type"`
	Owner       string    `json:"owner,omitempty"`
	RiskScore   *float64  `json:"risk_score,omitempty"`

	// TypeSetByOperator records that an operator explicitly set the type,
	// so later fingerprinting never overrides the choice.
	TypeSetByOperator bool `json:"type_set_by_operator,omitempty"`
}

// Identifier derives the stable device identifier: "mac:<mac>" when a MAC
// is known, else "ip:<ip>".
func Identifier(mac, ip string) string {
	mac = NormalizeMAC(mac)
	if mac != "" {
		return "mac:" + mac
	}
	return "ip:" + ip
}

// NormalizeMAC lowercases and trims a MAC address for identifier derivation.
func NormalizeMAC(mac string) string {
	return strings.ToLower(strings.TrimSpace(mac))
}

// HasTag reports whether d already carries tag.
func (d *Device) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// addTag appends tag if not already present, preserving insertion order
// and set semantics.
func (d *Device) addTag(tag string) {
	if tag == "" || d.HasTag(tag) {
		return
	}
	d.Tags = append(d.Tags, tag)
}

// removeTag drops tag if present.
func (d *Device) removeTag(tag string) {
	for i, t := range d.Tags {
		if t == tag {
			d.Tags = append(d.Tags[:i], d.Tags[i+1:]...)
			return
		}
	}
}

// clone returns a deep-enough copy safe to hand to callers without exposing
// the store's internal slices to mutation.
func (d Device) clone() Device {
	out := d
	if d.Tags != nil {
		out.Tags = append([]string(nil), d.Tags...)
	}
	if d.RiskScore != nil {
		v := *d.RiskScore
		out.RiskScore = &v
	}
	return out
}
