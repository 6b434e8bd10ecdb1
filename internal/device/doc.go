// Package device provides the Device Registry for tempmon.
//
// The registry is the in-memory catalogue of temperature nodes found on the
// local network, the sensors each node carries, and the observation time of
// the newest reading seen per sensor. It is rebuilt from discovery on every
// start; nothing here is persisted except the event trail written by sinks.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                       Device Registry                         │
//	│                                                               │
//	│  Scanner ──announcements──▶ register ──▶ devices / sensors    │
//	│  (UDP DISCOVER)                          pending first contact│
//	│                                                               │
//	│  NodeClient ◀── Disconnect (reset)                            │
//	│             ◀── SetDeviceParameters (retry until ack)         │
//	│                                                               │
//	│  EventSink  ◀── added / relocated / removed / reset           │
//	└──────────────────────────────────────────────────────────────┘
//
// # Usage
//
//	reg := device.NewRegistry(discoverer, client)
//	reg.SetLogger(log)
//	reg.SetResetOnFailure(cfg.Dev.ResetBoardAfterFail)
//	reg.AddSink(auditRecorder)
//
//	added, err := reg.Discover(ctx, 5)
//	for _, addr := range added {
//	    _ = reg.SetDeviceParameters(ctx, addr, params)
//	}
//
// # Thread Safety
//
// All registry state sits behind one mutex. Network calls (reset, parameter
// pushes, discovery) and sink callbacks run without it held.
package device
