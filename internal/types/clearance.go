package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Clearance is the ordered classification level gating read access.
// Values form a total order: a principal may read material at or below
// its own level, never above.
type Clearance int16

const (
	ClearanceUnclassified Clearance = 0
	ClearanceInternal     Clearance = 1
	ClearanceConfidential Clearance = 2
	ClearanceSecret       Clearance = 3
)

func (c Clearance) Valid() bool {
	return c >= ClearanceUnclassified && c <= ClearanceSecret
}

func (c Clearance) String() string {
	switch c {
	case ClearanceUnclassified:
		return "UNCLASSIFIED"
	case ClearanceInternal:
		return "INTERNAL"
	case ClearanceConfidential:
		return "CONFIDENTIAL"
	case ClearanceSecret:
		return "SECRET"
	default:
		return fmt.Sprintf("CLEARANCE(%d)", int16(c))
	}
}

// MarshalJSON emits the level name so API payloads carry the badge
// label rather than a bare number.
func (c Clearance) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts either a level name or its numeric value.
func (c *Clearance) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		level, perr := ParseClearance(strings.ToUpper(strings.TrimSpace(name)))
		if perr != nil {
			return perr
		}
		*c = level
		return nil
	}
	var n int16
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("clearance must be a level name or number")
	}
	level := Clearance(n)
	if !level.Valid() {
		return fmt.Errorf("unknown clearance level %d", n)
	}
	*c = level
	return nil
}

func ParseClearance(s string) (Clearance, error) {
	switch s {
	case "UNCLASSIFIED":
		return ClearanceUnclassified, nil
	case "INTERNAL":
		return ClearanceInternal, nil
	case "CONFIDENTIAL":
		return ClearanceConfidential, nil
	case "SECRET":
		return ClearanceSecret, nil
	default:
		return 0, fmt.Errorf("unknown clearance level %q", s)
	}
}

// MaxClearance returns the highest level in levels, or
// ClearanceUnclassified for an empty slice.
func MaxClearance(levels []Clearance) Clearance {
	max := ClearanceUnclassified
	for _, l := range levels {
		if l > max {
			max = l
		}
	}
	return max
}
