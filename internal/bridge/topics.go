package bridge

import (
	"fmt"
	"strings"
)

// topics builds and parses the MQTT namespace below the configured
// prefix. The prefix always carries a trailing slash (normalized at
// config load).
type topics struct {
	prefix string
}

func newTopics(prefix string) topics {
	return topics{prefix: prefix}
}

// connected is the retained bridge liveness topic: "0" offline (LWT),
// "2" once the first full poll round has completed.
func (t topics) connected() string {
	return t.prefix + "connected"
}

// zoneStatus is the retained per-attribute status topic.
func (t topics) zoneStatus(zone, attribute string) string {
	return fmt.Sprintf("%sstatus/zone/%s/%s", t.prefix, zone, attribute)
}

// zoneList carries the JSON array of configured zone IDs.
func (t topics) zoneList() string {
	return t.prefix + "status/zones"
}

// zoneMeta is a retained zone metadata topic (name, type).
func (t topics) zoneMeta(zone, field string) string {
	return fmt.Sprintf("%sstatus/zone/%s/%s", t.prefix, zone, field)
}

// sourceMeta is a retained source metadata topic (name, enabled).
func (t topics) sourceMeta(id int, field string) string {
	return fmt.Sprintf("%sstatus/source/%d/%s", t.prefix, id, field)
}

// ampMeta is a retained amplifier metadata topic (model, manufacturer,
// serial).
func (t topics) ampMeta(field string) string {
	return t.prefix + "status/amp/" + field
}

// setFilter is the subscription pattern for inbound attribute writes.
func (t topics) setFilter() string {
	return t.prefix + "set/zone/+/+"
}

// parseSet extracts zone ID and attribute name from a concrete set
// topic.
//
// Returns:
//   - string: Zone ID segment
//   - string: Attribute name segment
//   - bool: False if the topic is not a set topic under the prefix
func (t topics) parseSet(topic string) (string, string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix)
	if !ok {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[0] != "set" || parts[1] != "zone" || parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}
