package knx

import (
	"fmt"
	"math"
	"strings"

	"github.com/nerrad567/gray-logic-dispatch/internal/driver"
)

// Supported datapoint families. The minor number is only significant for
// DPT 5, where 5.001 is a 0-100 % scaling and any other subtype is raw.
const (
	dptSwitch     = "1"
	dptUnsigned8  = "5"
	dptFloat16    = "9"
	dptScene      = "17"
	dptPercentage = "5.001"

	dpt9Min = -671088.64
	dpt9Max = 670760.96

	// dpt9Invalid is the "no data" sentinel for all DPT 9 subtypes.
	dpt9Invalid = 0x7FFF
)

// family returns the major number of a "major.minor" DPT id.
func family(dpt string) string {
	major, _, _ := strings.Cut(dpt, ".")
	return major
}

// ValidDPT reports whether dpt has a codec.
func ValidDPT(dpt string) bool {
	switch family(dpt) {
	case dptSwitch, dptUnsigned8, dptFloat16, dptScene:
		return true
	}
	return false
}

// Encode converts a logical value into the telegram payload for dpt.
func Encode(dpt string, v any) ([]byte, error) {
	switch family(dpt) {
	case dptSwitch:
		if driver.Truthy(v) {
			return []byte{0x01}, nil
		}
		return []byte{0x00}, nil

	case dptUnsigned8:
		f, ok := driver.ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: DPT %s needs a number, got %T", ErrEncodingFailed, dpt, v)
		}
		if dpt == dptPercentage {
			f = math.Max(0, math.Min(100, f))
			return []byte{uint8(math.Round(f * 255 / 100))}, nil
		}
		if f < 0 || f > 255 {
			return nil, fmt.Errorf("%w: DPT %s value %v out of range 0-255", ErrEncodingFailed, dpt, f)
		}
		return []byte{uint8(math.Round(f))}, nil

	case dptFloat16:
		f, ok := driver.ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: DPT %s needs a number, got %T", ErrEncodingFailed, dpt, v)
		}
		return encodeFloat16(f)

	case dptScene:
		f, ok := driver.ToFloat(v)
		if !ok || f < 0 || f > 63 || f != math.Trunc(f) {
			return nil, fmt.Errorf("%w: DPT %s scene must be 0-63, got %v", ErrEncodingFailed, dpt, v)
		}
		return []byte{uint8(f)}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedDPT, dpt)
}

// Decode converts a telegram payload into a logical value for dpt.
// DPT 1 decodes to bool, DPT 5 and 17 to int (5.001 to float64 percent),
// DPT 9 to float64.
func Decode(dpt string, data []byte) (any, error) {
	need := 1
	if family(dpt) == dptFloat16 {
		need = 2
	}
	if len(data) < need {
		return nil, fmt.Errorf("%w: DPT %s needs %d byte(s), got %d", ErrDecodingFailed, dpt, need, len(data))
	}

	switch family(dpt) {
	case dptSwitch:
		return data[0]&0x01 != 0, nil
	case dptUnsigned8:
		if dpt == dptPercentage {
			return math.Round(float64(data[0])*100/255*100) / 100, nil
		}
		return int(data[0]), nil
	case dptFloat16:
		return decodeFloat16(data)
	case dptScene:
		return int(data[0] & 0x3F), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedDPT, dpt)
}

// encodeFloat16 packs f as KNX 2-byte float: SEEEEMMM MMMMMMMM with
// value = 0.01 * M * 2^E.
func encodeFloat16(f float64) ([]byte, error) {
	if f < dpt9Min || f > dpt9Max {
		return nil, fmt.Errorf("%w: DPT 9 value %.2f out of range", ErrEncodingFailed, f)
	}

	m := math.Round(f * 100)
	exp := 0
	for m < -2048 || m > 2047 {
		m = math.Round(m / 2)
		exp++
	}
	if exp > 15 {
		return nil, fmt.Errorf("%w: DPT 9 exponent overflow for %.2f", ErrEncodingFailed, f)
	}

	mant := int16(m)
	var raw uint16
	if mant < 0 {
		raw = 0x8000
	}
	raw |= uint16(exp)<<11 | uint16(mant)&0x07FF //nolint:gosec // exp bounded, mantissa masked
	return []byte{byte(raw >> 8), byte(raw)}, nil
}

func decodeFloat16(data []byte) (any, error) {
	raw := uint16(data[0])<<8 | uint16(data[1])
	if raw == dpt9Invalid {
		return nil, driver.ErrNoValue
	}

	mant := int16(raw & 0x07FF) //nolint:gosec // 11-bit value
	if raw&0x8000 != 0 {
		mant |= -0x800
	}
	exp := (raw >> 11) & 0x0F

	v := float64(mant) * 0.01 * math.Pow(2, float64(exp))
	return math.Round(v*100) / 100, nil
}
