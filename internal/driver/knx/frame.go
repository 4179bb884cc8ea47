package knx

import (
	"encoding/binary"
	"fmt"
	"time"
)

// knxd message types used on a group socket.
const (
	msgOpenGroupCon uint16 = 0x0026
	msgGroupPacket  uint16 = 0x0027
)

// APCI codes carried in the upper two bits of the second APDU byte.
const (
	apciRead     byte = 0x00
	apciResponse byte = 0x40
	apciWrite    byte = 0x80
)

// Telegram is a group telegram seen on or sent to the bus.
type Telegram struct {
	Source      string
	Destination GroupAddress
	APCI        byte
	Data        []byte
	Time        time.Time
}

// carriesValue reports whether the telegram transports a datapoint value.
func (t Telegram) carriesValue() bool {
	return t.APCI == apciWrite || t.APCI == apciResponse
}

// encodeGroupPacket builds the send-side payload: GA(2) + TPCI + APCI|data.
// Short frames carry a value of up to six bits inside the APCI byte and are
// used for DPT 1 and for read requests.
func encodeGroupPacket(ga GroupAddress, apci byte, data []byte, short bool) []byte {
	short = len(data) == 0 || (short && len(data) == 1 && data[0] <= 0x3F)

	buf := make([]byte, 4, 4+len(data))
	binary.BigEndian.PutUint16(buf, uint16(ga))
	buf[3] = apci
	if short {
		if len(data) == 1 {
			buf[3] |= data[0] & 0x3F
		}
		return buf
	}
	return append(buf, data...)
}

// decodeGroupPacket parses the receive-side payload, which is prefixed by
// the sender's individual address: src(2) + GA(2) + TPCI + APCI|data [+ data].
func decodeGroupPacket(p []byte) (Telegram, error) {
	if len(p) < 6 {
		return Telegram{}, fmt.Errorf("%w: group packet of %d bytes", ErrInvalidFrame, len(p))
	}

	t := Telegram{
		Source:      formatIndividualAddress(binary.BigEndian.Uint16(p[0:2])),
		Destination: GroupAddress(binary.BigEndian.Uint16(p[2:4])),
		APCI:        p[5] & 0xC0,
		Time:        time.Now(),
	}
	switch {
	case len(p) > 6:
		t.Data = append([]byte(nil), p[6:]...)
	case t.carriesValue():
		t.Data = []byte{p[5] & 0x3F}
	}
	return t, nil
}

// frame wraps a payload in a knxd message: size(2) + type(2) + payload,
// where size counts type and payload but not itself.
func frame(msgType uint16, payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(2+len(payload))) //nolint:gosec // small frames
	binary.BigEndian.PutUint16(buf[2:4], msgType)
	copy(buf[4:], payload)
	return buf
}

// unframe splits a complete knxd message into type and payload.
func unframe(msg []byte) (uint16, []byte, error) {
	if len(msg) < 4 {
		return 0, nil, fmt.Errorf("%w: message of %d bytes", ErrInvalidFrame, len(msg))
	}
	if size := int(binary.BigEndian.Uint16(msg[0:2])); size != len(msg)-2 {
		return 0, nil, fmt.Errorf("%w: declared size %d, have %d", ErrInvalidFrame, size, len(msg)-2)
	}
	return binary.BigEndian.Uint16(msg[2:4]), msg[4:], nil
}
