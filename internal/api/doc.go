// Package api provides the read-only HTTP status API and WebSocket stream
// for tempmon.
//
// It exposes the device registry, stored readings and the device event
// trail to dashboards and operators. Nothing in the API changes acquisition;
// the only write path into the system is the MQTT discover command.
//
// Endpoints (all under /api/v1):
//
//	GET /health                       liveness, version, reachability, device count
//	GET /metrics                      runtime, WebSocket, MQTT and database stats
//	GET /devices                      registered nodes
//	GET /devices/{address}            one node with its sensors
//	GET /sensors                      registered and stored sensors
//	GET /sensors/{id}/readings        newest stored rows (?limit=)
//	GET /events                       device event trail (?action=&address=&limit=&offset=)
//	GET /ws                           live stream (reading.persisted, device.changed)
//
// Stream frames are JSON objects {kind, ref, channel, at, data}. Clients send
// subscribe/unsubscribe frames whose data is {"channels": [...]} and ping
// frames; the server answers with ack, error or pong frames echoing ref, and
// pushes event frames on subscribed channels.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
