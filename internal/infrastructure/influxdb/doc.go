// Package influxdb records Gray Logic Dispatch telemetry in InfluxDB v2.
//
// Two measurements are written:
//   - dispatch_action: one point per finished action, tagged by item, queue
//     and final status, with the run duration in milliseconds
//   - item_state: numeric item state values as they change
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteItemState("hall.temp", 21.5)
//
// Writes are non-blocking and batched (batch_size, flush_interval).
// Asynchronous failures are delivered to the SetOnError callback; points
// written while disconnected are dropped.
package influxdb
