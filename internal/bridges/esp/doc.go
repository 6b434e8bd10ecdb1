// Package esp talks to ESP8266 temperature nodes.
//
// Nodes are found by UDP broadcast and read over plain HTTP:
//
//	collector                                  node
//	---------                                  ----
//	UDP  DISCOVER  ---------------------->     :4210
//	     <----------------  'DEVICE' ,2, [1, 2]
//	HTTP GET /temp?limit=100  ----------->     :80
//	     <--  {"remain":3,"temperature_data":[{"id":1,"t":21.5,"ti":1000}]}
//	HTTP GET /temp?time=1000&limit=100 -->
//	HTTP GET /setinterval?interval=1000
//	HTTP GET /setTempDiff?difference=0.2
//	HTTP GET /exit                              (restart)
//
// "ti" is the record's age in milliseconds at the time of the response; the
// node clock is never used as an absolute time. The "time" query parameter
// restricts a page to records at least that old, which is how a caller pages
// back through the buffer.
//
// Errors are classified so callers can decide whether to retry:
// ErrTransport (retry), ErrProtocol (do not retry), ErrRejected (the node
// refused the value). *StatusError unwraps to one of the latter.
//
// The package also carries the bridge health reporter that publishes
// traffic counters over MQTT.
package esp
