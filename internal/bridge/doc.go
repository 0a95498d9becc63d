// Package bridge maps the amplifier engine onto the MQTT namespace.
//
// Topic layout, below the configured prefix:
//
//	connected                          "0" offline (LWT), "2" after the first full poll
//	status/amp/{manufacturer,model,serial}
//	status/zones                       JSON array of configured zone IDs
//	status/zone/<id>/{name,type}       zone metadata
//	status/zone/<id>/<attribute>       retained attribute state
//	set/zone/<id>/<attribute>          inbound writes
//
// All status topics are retained: a fresh subscriber gets the full
// picture from the broker without waiting for a poll. Metadata is
// re-seeded on every broker reconnect.
//
// Inbound set messages are validated (configured zone, writable
// attribute, in-range value) and queued as pending writes; anything
// invalid is a logged no-op. The volume follower additionally
// subscribes to each source's Shairport-Sync volume topic and drives
// the volume of zones listening to that source.
package bridge
