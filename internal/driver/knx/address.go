package knx

import (
	"fmt"
	"strconv"
	"strings"
)

// GroupAddress is a 3-level KNX group address (main 0-31 / middle 0-7 /
// sub 0-255), packed on the wire as MMMMMIII SSSSSSSS.
type GroupAddress uint16

// ParseGroupAddress parses "main/middle/sub".
func ParseGroupAddress(s string) (GroupAddress, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q is not main/middle/sub", ErrInvalidGroupAddress, s)
	}

	limits := [3]uint64{31, 7, 255}
	var levels [3]uint64
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 8)
		if err != nil || n > limits[i] {
			return 0, fmt.Errorf("%w: %q level %d must be 0-%d", ErrInvalidGroupAddress, s, i+1, limits[i])
		}
		levels[i] = n
	}

	return GroupAddress(levels[0]<<11 | levels[1]<<8 | levels[2]), nil //nolint:gosec // bounded above
}

// MustParseGroupAddress is ParseGroupAddress for constants; it panics on
// malformed input.
func MustParseGroupAddress(s string) GroupAddress {
	ga, err := ParseGroupAddress(s)
	if err != nil {
		panic(err)
	}
	return ga
}

func (ga GroupAddress) String() string {
	return fmt.Sprintf("%d/%d/%d", uint16(ga)>>11&0x1F, uint16(ga)>>8&0x07, uint16(ga)&0xFF)
}

// formatIndividualAddress renders a physical device address as area.line.device.
func formatIndividualAddress(ia uint16) string {
	return fmt.Sprintf("%d.%d.%d", ia>>12&0x0F, ia>>8&0x0F, ia&0xFF)
}
