// Package history persists zone attribute changes to SQLite.
//
// Every settled attribute change (from MQTT commands, Shairport volume
// following, or amplifier polls) can be recorded as a row in the
// attribute_history table, giving a local audit trail independent of
// the optional InfluxDB telemetry.
//
// The repository owns its schema: call Init once after opening the
// database, then RecordChange per change. Prune enforces the retention
// window from the history section of config.yaml.
package history
