// Package retrieval pulls buffered readings from temperature nodes and feeds
// them to the decision engine.
//
// A device pass is one initial or incremental request followed by
// continuation pages while the node reports remaining records:
//
//	initial      GET /temp?limit=100                   first contact, full backlog
//	incremental  GET /temp?time=<age>&limit=100        age = now - earliest last-request + slack
//	continuation GET /temp?time=<last age>&limit=100   while remain > 0, at most max_pages
//
// Every request is retried with exponential backoff up to the configured
// number of attempts. Exhausting them disconnects the device (removal or
// reset, see device.Registry.Disconnect). A body that is not valid JSON
// aborts the pass without retry or disconnect.
//
// Within a page records are handled oldest first. A record is new when its
// observation time is after the sensor's last-request time as it stood when
// the pass began. Sentinel samples (-127) advance the last-request time but
// never reach the engine.
package retrieval
