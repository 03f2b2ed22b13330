package ipv4

import "fmt"

// Range is an inclusive address range.
type Range struct {
	Start uint32
	End   uint32
}

func ParseRange(start, end string) (Range, error) {
	s, err := ParseAddr(start)
	if err != nil {
		return Range{}, err
	}
	e, err := ParseAddr(end)
	if err != nil {
		return Range{}, err
	}
	return Range{Start: s, End: e}, nil
}

func (r Range) Contains(addr uint32) bool {
	return addr >= r.Start && addr <= r.End
}

// Size returns the number of addresses in the range.
func (r Range) Size() uint64 {
	if r.End < r.Start {
		return 0
	}
	return uint64(r.End-r.Start) + 1
}

func (r Range) String() string {
	return fmt.Sprintf("%s-%s", FormatAddr(r.Start), FormatAddr(r.End))
}

// InRange reports whether the address lies inside r.
func InRange(addr string, r Range) (bool, error) {
	a, err := ParseAddr(addr)
	if err != nil {
		return false, err
	}
	return r.Contains(a), nil
}

// OverlapFunc decides whether an incoming range merges into an accumulated one.
type OverlapFunc func(incoming, accumulated Range) bool

// Touching is true when the ranges overlap or are adjacent.
func Touching(incoming, accumulated Range) bool {
	return uint64(incoming.Start) <= uint64(accumulated.End)+1 &&
		uint64(accumulated.Start) <= uint64(incoming.End)+1
}

// LegacyOverlap is the asymmetric test of earlier releases. It only fires
// when the incoming range ends at or before the accumulated start, so it
// misses most real overlaps. Kept for comparison.
func LegacyOverlap(incoming, accumulated Range) bool {
	return incoming.Start <= accumulated.End && incoming.End <= accumulated.Start
}

// Consolidate merges overlapping or adjacent ranges in one left-to-right pass.
func Consolidate(ranges []Range) []Range {
	return ConsolidateFunc(ranges, Touching)
}

// ConsolidateFunc merges each range into the first accumulated range that
// overlaps reports true for, or appends it. Ranges merged late are not
// revisited against earlier entries.
func ConsolidateFunc(ranges []Range, overlaps OverlapFunc) []Range {
	var out []Range
	for _, r := range ranges {
		merged := false
		for i, acc := range out {
			if !overlaps(r, acc) {
				continue
			}
			out[i] = Range{Start: min(r.Start, acc.Start), End: max(r.End, acc.End)}
			merged = true
			break
		}
		if !merged {
			out = append(out, r)
		}
	}
	return out
}

// ConsolidateCIDRs merges a list of CIDR blocks and converts every merged
// range back to CIDR notation. A merged range that is not one aligned block
// becomes its minimal covering set of blocks.
func ConsolidateCIDRs(cidrs []string) ([]string, error) {
	ranges := make([]Range, 0, len(cidrs))
	for _, text := range cidrs {
		c, err := ParseCIDR(text)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, c.Range())
	}

	var out []string
	for _, r := range Consolidate(ranges) {
		out = append(out, RangeToCIDRs(r.Start, r.End)...)
	}
	return out, nil
}
