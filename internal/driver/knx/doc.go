// Package knx implements a PHI for KNX installations reached through the
// knxd daemon.
//
// Each PHI port maps to a group address and a datapoint type. Writes are
// sent as group write telegrams. Reads are answered from a mirror of the
// last value seen on the bus; when the mirror is empty and read requests
// are enabled, a group read is issued and the response awaited.
//
// Telegrams received for mapped addresses update the mirror and are
// reported as PHI events.
//
// Configuration example:
//
//	drivers:
//	  phi:
//	    - id: knx-line-1
//	      type: knx
//	      bus: knx-line-1
//	      config:
//	        connection: unix:///run/knxd
//	        read_timeout: 2s
//	        ports:
//	          hall-light: { address: "1/0/1", dpt: "1.001", status: "1/0/2" }
//	          hall-temp:  { address: "3/1/0", dpt: "9.001" }
package knx
