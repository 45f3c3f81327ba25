// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package escsensor

import (
	"fmt"
	"strings"
)

// Protocol selects the ESC telemetry wire protocol
type Protocol int

const (
	ProtocolNone Protocol = iota
	ProtocolKiss
	ProtocolHobbywingV4
)

// ErrUnknownProtocol is returned when a protocol name cannot be parsed
var ErrUnknownProtocol = fmt.Errorf("unknown ESC telemetry protocol")

// ParseProtocol converts a configuration name into a Protocol
func ParseProtocol(name string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "off":
		return ProtocolNone, nil
	case "kiss":
		return ProtocolKiss, nil
	case "hobbywing", "hobbywingv4", "hobbywing_v4", "hwv4":
		return ProtocolHobbywingV4, nil
	default:
		return ProtocolNone, fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
	}
}

// String returns the configuration name of the protocol
func (p Protocol) String() string {
	switch p {
	case ProtocolNone:
		return "none"
	case ProtocolKiss:
		return "kiss"
	case ProtocolHobbywingV4:
		return "hobbywing_v4"
	default:
		return fmt.Sprintf("protocol(%d)", int(p))
	}
}

// BaudRate returns the serial link speed the ESCs transmit at
func (p Protocol) BaudRate() int {
	switch p {
	case ProtocolKiss:
		return KissBaudRate
	case ProtocolHobbywingV4:
		return HobbywingBaudRate
	default:
		return 0
	}
}

// UnmarshalText lets a Protocol be read straight from config files
func (p *Protocol) UnmarshalText(text []byte) error {
	parsed, err := ParseProtocol(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
