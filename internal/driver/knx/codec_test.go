package knx

import (
	"bytes"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-dispatch/internal/driver"
)

func TestParseGroupAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    GroupAddress
		wantErr bool
	}{
		{"0/0/1", 0x0001, false},
		{"1/2/3", 0x0A03, false},
		{"31/7/255", 0xFFFF, false},
		{" 3/1/0 ", 0x1900, false},
		{"32/0/0", 0, true},
		{"1/8/0", 0, true},
		{"1/0/256", 0, true},
		{"1/2", 0, true},
		{"a/b/c", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseGroupAddress(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidGroupAddress) {
					t.Fatalf("ParseGroupAddress(%q) error = %v, want ErrInvalidGroupAddress", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseGroupAddress(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseGroupAddress(%q) = 0x%04X, want 0x%04X", tt.in, uint16(got), uint16(tt.want))
			}
		})
	}
}

func TestGroupAddress_String(t *testing.T) {
	for _, s := range []string{"0/0/1", "1/2/3", "31/7/255"} {
		if got := MustParseGroupAddress(s).String(); got != s {
			t.Errorf("String() = %q, want %q", got, s)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	tests := []struct {
		name  string
		dpt   string
		in    any
		bytes []byte
		out   any
	}{
		{"switch on", "1.001", true, []byte{0x01}, true},
		{"switch off from int", "1.001", 0, []byte{0x00}, false},
		{"percentage", "5.001", 100, []byte{0xFF}, 100.0},
		{"percentage clamped", "5.001", 150.0, []byte{0xFF}, 100.0},
		{"raw byte", "5.010", 200, []byte{0xC8}, 200},
		{"temperature", "9.001", 21.5, []byte{0x0C, 0x33}, 21.5},
		{"negative temperature", "9.001", -1.0, []byte{0x87, 0x9C}, -1.0},
		{"scene", "17.001", 12, []byte{0x0C}, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.dpt, tt.in)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if !bytes.Equal(data, tt.bytes) {
				t.Errorf("Encode() = %X, want %X", data, tt.bytes)
			}
			got, err := Decode(tt.dpt, data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got != tt.out {
				t.Errorf("Decode() = %v (%T), want %v (%T)", got, got, tt.out, tt.out)
			}
		})
	}
}

func TestEncode_Errors(t *testing.T) {
	tests := []struct {
		name string
		dpt  string
		in   any
		want error
	}{
		{"unknown dpt", "232.600", 1, ErrUnsupportedDPT},
		{"raw out of range", "5.010", 300, ErrEncodingFailed},
		{"float from string", "9.001", "warm", ErrEncodingFailed},
		{"float out of range", "9.001", 1e9, ErrEncodingFailed},
		{"scene out of range", "17.001", 64, ErrEncodingFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Encode(tt.dpt, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("Encode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecode_Float16Invalid(t *testing.T) {
	if _, err := Decode("9.001", []byte{0x7F, 0xFF}); !errors.Is(err, driver.ErrNoValue) {
		t.Errorf("Decode(0x7FFF) error = %v, want ErrNoValue", err)
	}
	if _, err := Decode("9.001", []byte{0x0C}); !errors.Is(err, ErrDecodingFailed) {
		t.Errorf("Decode(short) error = %v, want ErrDecodingFailed", err)
	}
}

func TestGroupPacket(t *testing.T) {
	ga := MustParseGroupAddress("1/0/1")

	short := encodeGroupPacket(ga, apciWrite, []byte{0x01}, true)
	if !bytes.Equal(short, []byte{0x08, 0x01, 0x00, 0x81}) {
		t.Errorf("short write = %X", short)
	}

	long := encodeGroupPacket(ga, apciWrite, []byte{0x0C, 0x33}, false)
	if !bytes.Equal(long, []byte{0x08, 0x01, 0x00, 0x80, 0x0C, 0x33}) {
		t.Errorf("long write = %X", long)
	}

	// DPT 5 values below 0x40 still travel in a long frame.
	dpt5 := encodeGroupPacket(ga, apciWrite, []byte{0x10}, false)
	if len(dpt5) != 5 {
		t.Errorf("dpt5 write = %X, want long frame", dpt5)
	}

	read := encodeGroupPacket(ga, apciRead, nil, true)
	if !bytes.Equal(read, []byte{0x08, 0x01, 0x00, 0x00}) {
		t.Errorf("read = %X", read)
	}

	// Receive side carries the source address first.
	rx, err := decodeGroupPacket([]byte{0x11, 0x05, 0x08, 0x01, 0x00, 0x41})
	if err != nil {
		t.Fatalf("decodeGroupPacket() error = %v", err)
	}
	if rx.Source != "1.1.5" || rx.Destination != ga || rx.APCI != apciResponse {
		t.Errorf("decoded = %+v", rx)
	}
	if !bytes.Equal(rx.Data, []byte{0x01}) {
		t.Errorf("decoded data = %X, want 01", rx.Data)
	}

	if _, err := decodeGroupPacket([]byte{0x00}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("short packet error = %v, want ErrInvalidFrame", err)
	}
}

func TestFrame(t *testing.T) {
	msg := frame(msgGroupPacket, []byte{0xAA, 0xBB})
	if !bytes.Equal(msg, []byte{0x00, 0x04, 0x00, 0x27, 0xAA, 0xBB}) {
		t.Errorf("frame() = %X", msg)
	}

	typ, payload, err := unframe(msg)
	if err != nil || typ != msgGroupPacket || !bytes.Equal(payload, []byte{0xAA, 0xBB}) {
		t.Errorf("unframe() = 0x%04X, %X, %v", typ, payload, err)
	}

	if _, _, err := unframe([]byte{0x00, 0x09, 0x00, 0x27}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("size mismatch error = %v, want ErrInvalidFrame", err)
	}
}
