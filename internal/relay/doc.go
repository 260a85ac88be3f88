// Package relay forwards readings from the feed to external sinks: an MQTT
// broker, a Kafka topic and the Redis recent-readings cache.
//
// Each sink is driven by its own Pump. A failed delivery is logged and
// counted and the pump moves on to the next reading; relays never apply
// backpressure to the connection manager.
package relay
