package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteZoneAttribute records one zone attribute change.
//
// This is the primary telemetry call, fed from the bridge's change
// events. The write is non-blocking; data is batched and sent
// asynchronously.
//
// Parameters:
//   - zone: Two-digit zone ID (e.g. "11")
//   - attribute: Kebab-case attribute name (e.g. "volume")
//   - value: The wire value
//   - origin: What produced the change (mqtt, shairport, internal)
//
// Example:
//
//	client.WriteZoneAttribute("11", "volume", 22, "mqtt")
func (c *Client) WriteZoneAttribute(zone, attribute string, value int, origin string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"zone_attribute",
		map[string]string{
			"zone":      zone,
			"attribute": attribute,
			"origin":    origin,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteBusStats records bus scheduler health counters.
//
// Intended to be sampled periodically so dashboards can spot a noisy
// or failing serial link.
//
// Parameters:
//   - polls: Total poll rounds since startup
//   - staleRounds: Rounds with at least one unanswered amp
//   - writesExecuted: Set commands sent successfully
//   - writesDropped: Writes discarded (full queue or shutdown)
func (c *Client) WriteBusStats(polls, staleRounds, writesExecuted, writesDropped uint64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"bus_stats",
		nil,
		map[string]interface{}{
			"polls":           int64(polls),
			"stale_rounds":    int64(staleRounds),
			"writes_executed": int64(writesExecuted),
			"writes_dropped":  int64(writesDropped),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
