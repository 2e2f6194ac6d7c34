package dispatch

import "fmt"

// Mode selects which transcription route handles a segment.
type Mode string

const (
	// ModeLocal routes segments to the on-machine backend.
	ModeLocal Mode = "local"

	// ModeCloud routes segments to the hosted backend.
	ModeCloud Mode = "cloud"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	return m == ModeLocal || m == ModeCloud
}

// ParseMode converts a configuration string into a Mode. The empty string
// yields ModeLocal.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeLocal, nil
	}
	m := Mode(s)
	if !m.IsValid() {
		return "", fmt.Errorf("dispatch: invalid mode %q; valid values: local, cloud", s)
	}
	return m, nil
}

// ErrorPolicy decides what text a failed transcription produces.
type ErrorPolicy string

const (
	// PolicyDrop turns a failure into empty text, which is not delivered.
	PolicyDrop ErrorPolicy = "drop"

	// PolicyTag turns a failure into "Error: <message>".
	PolicyTag ErrorPolicy = "tag"
)

// IsValid reports whether p is a recognised policy.
func (p ErrorPolicy) IsValid() bool {
	return p == PolicyDrop || p == PolicyTag
}

// DefaultPolicy returns the policy used for mode when a route does not set
// one: local failures are dropped, cloud failures are tagged.
func DefaultPolicy(m Mode) ErrorPolicy {
	if m == ModeCloud {
		return PolicyTag
	}
	return PolicyDrop
}
