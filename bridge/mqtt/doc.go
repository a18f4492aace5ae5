// Package mqtt bridges a central unit client to an MQTT broker.
//
// Topics, with a configurable prefix:
//
//	<prefix>/status                     online/offline, retained, also the last will
//	<prefix>/<function>/<number>/state  device state such as "ON" or "42", retained
//	<prefix>/<function>/<number>/set    command payload, parsed like the state text
//	<prefix>/<function>/<number>/result "OK" or the error of the last command
//
// The bridge publishes every state-change batch of the dispatcher and turns set
// messages into confirmed Set calls.
package mqtt
