// Package infra contains technical adapters: message transports, the durable
// store, metrics exporters and error reporting. These packages should depend
// only on the interfaces defined in the core packages.
package infra
