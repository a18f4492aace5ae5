// Package config loads the YAML configuration of a central unit client: the
// connection settings, timeouts, logging, the list of known components and the
// optional MQTT bridge.
//
// Values are resolved in three layers: built-in defaults, then the YAML file,
// then TDS_* environment variables. Builders turn a validated Config into the
// engine, registry, client and logger values the rest of the module consumes.
package config
