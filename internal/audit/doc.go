// Package audit keeps the device event trail: one device_events row per
// registry change (a node added, relocated, removed or reset).
//
// Recorder is the device.EventSink the registry publishes to; SQLRepository
// stores and pages the rows for the status API.
package audit
