// Package kafkasink publishes twofa audit events to a Kafka topic.
//
// Events are JSON encoded and keyed by user ID, so with a hash balancer all
// of one user's events land on one partition in emission order. The sink
// runs on the engine's audit dispatcher goroutine; a slow broker backs up
// that queue, not the request path.
package kafkasink
