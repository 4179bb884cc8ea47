package mqtt

import (
	"fmt"
	"strings"
)

// validatePublish rejects messages the broker would refuse. Publishing to a
// wildcard is a programming error, not a transient failure.
func validatePublish(topic string, payload []byte, qos byte) error {
	switch {
	case topic == "", strings.ContainsAny(topic, "+#"):
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	case qos > maxQoS:
		return fmt.Errorf("%w: got %d", ErrInvalidQoS, qos)
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: %d bytes on %s", ErrTooLarge, len(payload), topic)
	}
	return nil
}
