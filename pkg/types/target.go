package types

import "strconv"

// Target is one addressable endpoint. Address is an IPv4 dotted quad or a
// domain name; Port is zero when the probe should use its own default.
type Target struct {
	Address string `json:"address" yaml:"address"`
	Port    int    `json:"port,omitempty" yaml:"port,omitempty"`
	Line    int    `json:"line,omitempty" yaml:"line,omitempty"`
}

// Key identifies the target within a batch.
func (t Target) Key() string {
	if t.Port > 0 {
		return t.Address + ":" + strconv.Itoa(t.Port)
	}
	return t.Address
}
