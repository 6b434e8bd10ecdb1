// Package mqtt bridges tempmon to an MQTT broker using Eclipse Paho.
//
// The client reconnects on its own, replays its subscriptions after every
// reconnect and registers a retained "offline" will on the system status
// topic, so subscribers see the collector disappear even on a crash.
//
// MQTT is an optional outbound surface. Processed readings, node status
// changes and health reports are published under a configurable prefix
// (default "tempmon"); the only inbound topic is the discover command,
// which triggers an immediate discovery refresh.
//
//	tempmon/reading/{sensor_id}       processed reading (QoS 1)
//	tempmon/device/{address}/status   node status (retained)
//	tempmon/health/esp                health reports (retained)
//	tempmon/system/status             online/offline and LWT (retained)
//	tempmon/command/discover          inbound refresh trigger
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.SubscribeDiscoverCommand(func() { refresh <- struct{}{} })
//
//	topic := client.Topics().Reading(3)
//	client.PublishJSON(topic, payload, false)
package mqtt
