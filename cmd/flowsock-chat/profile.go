package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is a saved connection profile.
type Profile struct {
	// URL is the target, scheme ws or wss.
	URL string `yaml:"url"`

	// Protocols is the ordered list of subprotocols to offer.
	Protocols []string `yaml:"protocols,omitempty"`

	// InboundBuffer bounds the inbound message channel (0 = default).
	InboundBuffer int `yaml:"inbound_buffer,omitempty"`

	// OutboundBuffer bounds the outbound message channel (0 = default).
	OutboundBuffer int `yaml:"outbound_buffer,omitempty"`

	// EventLog is a path for CBOR protocol events (empty = disabled).
	EventLog string `yaml:"event_log,omitempty"`
}

// DefaultProfile returns an empty profile; the URL must come from a flag.
func DefaultProfile() Profile {
	return Profile{}
}

// LoadProfile reads a YAML profile from path.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile: %w", err)
	}
	return p, nil
}
