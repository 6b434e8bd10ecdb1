// Package monitor runs the acquisition loop that ties the sensor fleet to
// the store.
//
// Service.Run waits for the network, performs a startup discovery, reads
// every node's backlog once, then ticks once per second:
//
//	every poll interval       incremental pass over all nodes (concurrent)
//	every reload interval     config file check; a change re-tunes the
//	                          engine, pipeline and registry and pushes
//	                          parameters to every node
//	every refresh interval    rediscovery; new nodes get a full backlog read
//	                          and a parameter push
//
// TriggerDiscovery requests an out-of-band refresh (MQTT discover command).
//
// Telemetry is an optional fan-out that publishes processed readings and
// node status changes to MQTT without blocking the engine or the registry.
package monitor
