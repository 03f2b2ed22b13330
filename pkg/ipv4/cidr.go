// Package ipv4 implements 32-bit IPv4 address and CIDR arithmetic: masks,
// CIDR parsing, range consolidation and range to CIDR conversion.
//
// Addresses are plain uint32 values packed big-endian from the dotted quad,
// so mask generation and complement wrap exactly at the /0 and /32 bounds.
package ipv4

import (
	"errors"
	"fmt"
	"math/bits"
	"regexp"
	"strconv"
)

var (
	ErrInvalidIPv4          = errors.New("invalid IPv4 address")
	ErrInvalidCIDR          = errors.New("invalid CIDR")
	ErrUnrepresentableRange = errors.New("address range is not a single CIDR block")
)

const octetPattern = `(25[0-5]|2[0-4][0-9]|1[0-9][0-9]|[1-9][0-9]|[0-9])`

var (
	addrRegex = regexp.MustCompile(`^` + octetPattern + `\.` + octetPattern + `\.` + octetPattern + `\.` + octetPattern + `$`)
	cidrRegex = regexp.MustCompile(`^(` + octetPattern + `\.` + octetPattern + `\.` + octetPattern + `\.` + octetPattern + `)/(3[0-2]|[1-2][0-9]|[0-9])$`)
)

func ValidAddr(s string) bool {
	return addrRegex.MatchString(s)
}

func ValidCIDR(s string) bool {
	return cidrRegex.MatchString(s)
}

// ParseAddr converts a dotted-quad address to its integer form.
func ParseAddr(s string) (uint32, error) {
	m := addrRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIPv4, s)
	}
	var addr uint32
	for i := 1; i <= 4; i++ {
		octet, _ := strconv.Atoi(m[i])
		addr |= uint32(octet) << (8 * (4 - i))
	}
	return addr, nil
}

func FormatAddr(addr uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", addr>>24, addr>>16&0xFF, addr>>8&0xFF, addr&0xFF)
}

// Bitmask sets bits start through end inclusive. An empty interval yields 0.
func Bitmask(start, end int) uint32 {
	var mask uint32
	for i := start; i <= end; i++ {
		mask |= 1 << uint(i)
	}
	return mask
}

// PrefixToMask returns the subnet mask of a prefix length in [0, 32].
func PrefixToMask(prefix int) uint32 {
	return Bitmask(32-prefix, 31)
}

func Wildcard(mask uint32) uint32 {
	return ^mask
}

// MaskToPrefix returns the prefix length whose mask equals mask exactly. It
// fails for non-contiguous masks.
func MaskToPrefix(mask uint32) (int, bool) {
	for prefix := 0; prefix <= 32; prefix++ {
		if PrefixToMask(prefix) == mask {
			return prefix, true
		}
	}
	return 0, false
}

// CIDR is a parsed IPv4 CIDR block.
type CIDR struct {
	Addr     uint32
	Prefix   int
	Mask     uint32
	Wildcard uint32
	Start    uint32
	End      uint32
}

func ParseCIDR(s string) (CIDR, error) {
	m := cidrRegex.FindStringSubmatch(s)
	if m == nil {
		return CIDR{}, fmt.Errorf("%w: %q", ErrInvalidCIDR, s)
	}
	addr, err := ParseAddr(m[1])
	if err != nil {
		return CIDR{}, fmt.Errorf("%w: %q", ErrInvalidCIDR, s)
	}
	prefix, _ := strconv.Atoi(m[6])
	mask := PrefixToMask(prefix)
	start := addr & mask
	return CIDR{
		Addr:     addr,
		Prefix:   prefix,
		Mask:     mask,
		Wildcard: Wildcard(mask),
		Start:    start,
		End:      start | Wildcard(mask),
	}, nil
}

func (c CIDR) Range() Range {
	return Range{Start: c.Start, End: c.End}
}

func (c CIDR) Contains(addr uint32) bool {
	return c.Range().Contains(addr)
}

// String returns the normalized form, network address and prefix.
func (c CIDR) String() string {
	return FormatAddr(c.Start) + "/" + strconv.Itoa(c.Prefix)
}

// RangeMask derives the subnet mask implied by a start and end address.
func RangeMask(start, end uint32) uint32 {
	return ^start ^ end
}

// RangeToCIDR expresses [start, end] as one CIDR block.
func RangeToCIDR(start, end uint32) (string, error) {
	mask := RangeMask(start, end)
	prefix, ok := MaskToPrefix(mask)
	if !ok || start&Wildcard(mask) != 0 {
		return "", fmt.Errorf("%w: %s to %s", ErrUnrepresentableRange, FormatAddr(start), FormatAddr(end))
	}
	return FormatAddr(start) + "/" + strconv.Itoa(prefix), nil
}

// RangeToCIDRs splits [start, end] into the fewest CIDR blocks that cover
// it exactly, lowest address first.
func RangeToCIDRs(start, end uint32) []string {
	var out []string
	for cur := uint64(start); cur <= uint64(end); {
		// Largest block aligned at cur that does not run past end.
		size := uint64(1) << 32
		if cur != 0 {
			size = cur & -cur
		}
		for size > uint64(end)-cur+1 {
			size >>= 1
		}
		prefix := 32 - bits.TrailingZeros64(size)
		out = append(out, FormatAddr(uint32(cur))+"/"+strconv.Itoa(prefix))
		cur += size
	}
	return out
}

// InCIDR reports whether the address lies inside the CIDR block.
func InCIDR(addr, cidr string) (bool, error) {
	a, err := ParseAddr(addr)
	if err != nil {
		return false, err
	}
	c, err := ParseCIDR(cidr)
	if err != nil {
		return false, err
	}
	return c.Contains(a), nil
}
