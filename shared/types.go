package shared

import (
	"fmt"
	"sort"
)

// Direction tags a transcript as sent by the prover or received from the server
type Direction uint8

const (
	DirectionSent Direction = iota + 1
	DirectionReceived
)

func (d Direction) String() string {
	switch d {
	case DirectionSent:
		return "sent"
	case DirectionReceived:
		return "received"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// ParseDirection is the inverse of Direction.String.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "sent":
		return DirectionSent, nil
	case "received":
		return DirectionReceived, nil
	}
	return 0, fmt.Errorf("unknown transcript direction %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (d Direction) MarshalText() ([]byte, error) {
	if d != DirectionSent && d != DirectionReceived {
		return nil, fmt.Errorf("cannot encode %s", d)
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Range is a half-open interval [Start, End) over transcript byte indices
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes covered by the range
func (r Range) Len() int {
	return r.End - r.Start
}

// IsEmpty reports whether the range covers no bytes
func (r Range) IsEmpty() bool {
	return r.End <= r.Start
}

// Within reports whether the range lies inside a buffer of length n
func (r Range) Within(n int) bool {
	return r.Start >= 0 && r.Start <= r.End && r.End <= n
}

// Overlaps reports whether two non-empty ranges share at least one byte
func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// SortRanges sorts ranges by start offset, keeping equal starts in their
// original order.
func SortRanges(ranges []Range) {
	sort.SliceStable(ranges, func(i, j int) bool {
		return ranges[i].Start < ranges[j].Start
	})
}

// ConsolidateRanges merges consecutive or overlapping ranges. The input is
// not modified.
func ConsolidateRanges(ranges []Range) []Range {
	if len(ranges) == 0 {
		return nil
	}

	sorted := append([]Range(nil), ranges...)
	SortRanges(sorted)

	var consolidated []Range
	current := sorted[0]

	for i := 1; i < len(sorted); i++ {
		next := sorted[i]
		// If ranges are consecutive or overlapping, merge them
		if current.End >= next.Start {
			current.End = max(current.End, next.End)
		} else {
			consolidated = append(consolidated, current)
			current = next
		}
	}
	consolidated = append(consolidated, current)

	return consolidated
}
