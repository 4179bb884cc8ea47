// Package lpi provides the logical protocol interfaces shipped with the
// dispatcher.
//
//   - output: drives one value onto every configured port (relays,
//     dimmers, valves) and reports the aggregated port state.
//   - input: read-only aggregation of one or more sensor ports.
//
// Port lists accept per-port modifiers, e.g. ["1", "i:2", "5"] where "i:"
// inverts the logical value on that port.
//
// Configuration example:
//
//	items:
//	  - id: hall-lights
//	    lpi: output
//	    phi: relays-1
//	    config:
//	      port: ["1", "i:2"]
//	      timeout: 2s
package lpi
