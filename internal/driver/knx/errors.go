package knx

import "errors"

// Domain errors for the KNX PHI.
var (
	// ErrNotConnected is returned when the knxd connection is down.
	ErrNotConnected = errors.New("knx: not connected to knxd")

	// ErrConnectionFailed is returned when dialling or handshaking with
	// knxd fails.
	ErrConnectionFailed = errors.New("knx: connection to knxd failed")

	// ErrInvalidGroupAddress is returned for malformed group addresses.
	ErrInvalidGroupAddress = errors.New("knx: invalid group address")

	// ErrUnsupportedDPT is returned for datapoint types without a codec.
	ErrUnsupportedDPT = errors.New("knx: unsupported datapoint type")

	// ErrEncodingFailed is returned when a value cannot be encoded.
	ErrEncodingFailed = errors.New("knx: encoding failed")

	// ErrDecodingFailed is returned when bus data cannot be decoded.
	ErrDecodingFailed = errors.New("knx: decoding failed")

	// ErrInvalidFrame is returned for malformed knxd messages.
	ErrInvalidFrame = errors.New("knx: invalid frame")

	// errProtocolDesync marks an oversized frame; the stream can no
	// longer be trusted and the connection is dropped.
	errProtocolDesync = errors.New("knx: protocol desync")
)
