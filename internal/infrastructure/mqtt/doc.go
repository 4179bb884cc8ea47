// Package mqtt publishes dispatch notifications (action outcomes, item
// state and PHI events) to an MQTT broker.
//
// Delivery is fire-and-forget. Publish validates the message and hands it
// to a bounded outbox; one sender goroutine drains it in order. A slow or
// disconnected broker never blocks a dispatch queue: messages are refused
// with ErrNotConnected or dropped with ErrOutboxFull, and Stats counts both.
//
// The retained status topic carries online/offline, with the Last Will
// covering crashes.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.Publish(mqtt.Topics{}.ItemState("hall.light"), payload, 1, true)
//
// Broker-backed tests are behind the "integration" build tag.
package mqtt
