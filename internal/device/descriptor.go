package device

import (
	"fmt"
)

// Descriptor identifies a peripheral as seen in one advertisement.
// It is a value type; the payload is copied on creation and never mutated.
type Descriptor struct {
	Address     string
	Name        string
	RSSI        int
	Connectable bool
	payload     []byte
}

// NewDescriptor builds a Descriptor from an advertisement.
func NewDescriptor(adv Advertisement) Descriptor {
	var payload []byte
	if p := adv.Payload(); len(p) > 0 {
		payload = make([]byte, len(p))
		copy(payload, p)
	}
	return Descriptor{
		Address:     adv.Addr(),
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
		payload:     payload,
	}
}

// Payload returns a copy of the raw advertisement payload.
func (d Descriptor) Payload() []byte {
	if d.payload == nil {
		return nil
	}
	out := make([]byte, len(d.payload))
	copy(out, d.payload)
	return out
}

// IsZero reports whether d was never populated.
func (d Descriptor) IsZero() bool {
	return d.Address == "" && d.Name == ""
}

func (d Descriptor) String() string {
	if d.Name == "" {
		return d.Address
	}
	return fmt.Sprintf("%q (%s)", d.Name, d.Address)
}
