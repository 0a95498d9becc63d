package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mwhaudio/mwha2mqtt/internal/amp"
	"github.com/mwhaudio/mwha2mqtt/internal/history"
	"github.com/mwhaudio/mwha2mqtt/internal/infrastructure/config"
	"github.com/mwhaudio/mwha2mqtt/internal/infrastructure/influxdb"
	"github.com/mwhaudio/mwha2mqtt/internal/infrastructure/logging"
	"github.com/mwhaudio/mwha2mqtt/internal/infrastructure/mqtt"
)

// historyTimeout bounds each history insert; the bridge runs on the
// scheduler's event path and must not stall the bus.
const historyTimeout = 5 * time.Second

// Connected levels on the connected topic.
const (
	connectedOffline = "0"
	connectedReady   = "2"
)

// MQTTClient is the broker surface the bridge depends on.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	SetOnConnect(callback func())
}

// WriteSubmitter queues attribute writes for the bus scheduler.
type WriteSubmitter interface {
	Submit(amp.PendingWrite) error
}

// Bridge maps between the amplifier engine and the MQTT namespace.
//
// Outbound, it turns Change events into retained status publishes and
// optionally records them to the history store and InfluxDB. Inbound,
// it parses set topics into validated PendingWrites and follows
// Shairport-Sync volume topics per source.
type Bridge struct {
	cfg    *config.Config
	client MQTTClient
	writes WriteSubmitter
	store  *amp.Store
	topics topics
	logger *logging.Logger

	historyRepo *history.Repository
	influx      *influxdb.Client

	mu        sync.Mutex
	ampOnline bool
}

// New creates a bridge. Optional sinks are attached with SetHistory and
// SetInflux before Start.
//
// Parameters:
//   - cfg: Loaded configuration
//   - client: Connected MQTT client
//   - writes: Bus scheduler (or equivalent) accepting pending writes
//   - store: Zone state store, read for volume follower fan-out
//   - logger: May be nil
func New(cfg *config.Config, client MQTTClient, writes WriteSubmitter, store *amp.Store, logger *logging.Logger) *Bridge {
	return &Bridge{
		cfg:    cfg,
		client: client,
		writes: writes,
		store:  store,
		topics: newTopics(cfg.MQTT.TopicPrefix),
		logger: logger,
	}
}

// SetHistory attaches the SQLite attribute history sink. Must be called
// before Start.
func (b *Bridge) SetHistory(repo *history.Repository) {
	b.historyRepo = repo
}

// SetInflux attaches the InfluxDB telemetry sink. Must be called before
// Start.
func (b *Bridge) SetInflux(client *influxdb.Client) {
	b.influx = client
}

// Start seeds retained metadata, publishes the current connected level,
// and subscribes to the set and Shairport volume topics. The broker
// reconnect callback re-seeds everything, so retained state survives a
// broker restart that lost its persistence.
//
// Returns:
//   - error: If any subscription fails
func (b *Bridge) Start() error {
	b.client.SetOnConnect(func() {
		b.seedRetained()
	})
	b.seedRetained()

	if err := b.client.Subscribe(b.topics.setFilter(), byte(b.cfg.MQTT.QoS), b.handleSet); err != nil {
		return fmt.Errorf("subscribing to set topics: %w", err)
	}
	if err := b.subscribeVolumeTopics(); err != nil {
		return err
	}
	return nil
}

// HandleChange publishes one attribute change as retained state and
// feeds the optional sinks. Wired to the scheduler's change callback;
// runs on the scheduler goroutine.
func (b *Bridge) HandleChange(change amp.Change) {
	zone := change.Zone.String()
	attribute := change.Attr.String()
	topic := b.topics.zoneStatus(zone, attribute)

	if err := b.client.Publish(topic, encodeValue(change.Attr, change.Value), byte(b.cfg.MQTT.QoS), true); err != nil {
		b.logWarn("publishing attribute change failed",
			"topic", topic, "error", err.Error())
	}

	if b.historyRepo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		if err := b.historyRepo.RecordChange(ctx, zone, attribute, change.Value, string(change.Origin)); err != nil {
			b.logWarn("recording attribute change failed",
				"zone", zone, "attribute", attribute, "error", err.Error())
		}
		cancel()
	}

	if b.influx != nil {
		b.influx.WriteZoneAttribute(zone, attribute, change.Value, string(change.Origin))
	}
}

// HandleAmpConnected raises the connected level to "2". Wired to the
// scheduler's connected callback, which fires after the first poll
// round in which every amp answered.
func (b *Bridge) HandleAmpConnected() {
	b.mu.Lock()
	b.ampOnline = true
	b.mu.Unlock()

	b.publishConnectedLevel()
	b.logInfo("amplifier stack online")
}

// seedRetained publishes all retained metadata and the connected level.
func (b *Bridge) seedRetained() {
	qos := byte(b.cfg.MQTT.QoS)

	publish := func(topic string, v any) {
		payload, err := json.Marshal(v)
		if err != nil {
			b.logWarn("encoding metadata failed", "topic", topic, "error", err.Error())
			return
		}
		if err := b.client.Publish(topic, payload, qos, true); err != nil {
			b.logWarn("seeding metadata failed", "topic", topic, "error", err.Error())
		}
	}

	publish(b.topics.ampMeta("manufacturer"), b.cfg.Amp.Manufacturer)
	publish(b.topics.ampMeta("model"), b.cfg.Amp.Model)
	publish(b.topics.ampMeta("serial"), b.cfg.Amp.Serial)

	zoneIDs := make([]string, 0, len(b.cfg.Amp.Zones))
	for id := range b.cfg.Amp.Zones {
		zoneIDs = append(zoneIDs, id)
	}
	sort.Strings(zoneIDs)
	publish(b.topics.zoneList(), zoneIDs)

	for _, id := range zoneIDs {
		zone := b.cfg.Amp.Zones[id]
		publish(b.topics.zoneMeta(id, "name"), zone.Name)
		publish(b.topics.zoneMeta(id, "type"), zoneType(id))
	}

	sourceIDs := make([]int, 0, len(b.cfg.Amp.Sources))
	for id := range b.cfg.Amp.Sources {
		sourceIDs = append(sourceIDs, id)
	}
	sort.Ints(sourceIDs)
	for _, id := range sourceIDs {
		source := b.cfg.Amp.Sources[id]
		publish(b.topics.sourceMeta(id, "name"), source.Name)
		publish(b.topics.sourceMeta(id, "enabled"), source.Enabled)
	}

	b.publishConnectedLevel()
}

// publishConnectedLevel publishes the retained connected level: "2"
// once the amps have answered a full poll round, "0" before that.
func (b *Bridge) publishConnectedLevel() {
	b.mu.Lock()
	online := b.ampOnline
	b.mu.Unlock()

	level := connectedOffline
	if online {
		level = connectedReady
	}
	if err := b.client.Publish(b.topics.connected(), []byte(level), byte(b.cfg.MQTT.QoS), true); err != nil {
		b.logWarn("publishing connected level failed", "error", err.Error())
	}
}

// handleSet processes one inbound set message. Any problem makes the
// message a no-op; the returned error is logged by the MQTT client.
func (b *Bridge) handleSet(topic string, payload []byte) error {
	zoneStr, attrStr, ok := b.topics.parseSet(topic)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}

	zone, err := amp.ParseZoneID(zoneStr)
	if err != nil {
		return fmt.Errorf("set %q: %w", topic, err)
	}
	if _, configured := b.cfg.Amp.Zones[zoneStr]; !configured {
		return fmt.Errorf("set %q: %w", topic, ErrZoneNotConfigured)
	}

	attr, err := amp.ParseAttribute(attrStr)
	if err != nil {
		return fmt.Errorf("set %q: %w", topic, err)
	}

	value, err := decodeValue(attr, payload)
	if err != nil {
		return fmt.Errorf("set %q: %w", topic, err)
	}

	if err := b.writes.Submit(amp.PendingWrite{
		Zone:   zone,
		Attr:   attr,
		Value:  value,
		Origin: amp.OriginMQTT,
	}); err != nil {
		return fmt.Errorf("set %q: %w", topic, err)
	}
	return nil
}

// zoneType classifies a configured zone key for the type metadata topic.
func zoneType(id string) string {
	switch {
	case id == "00":
		return "system"
	case len(id) == 2 && id[1] == '0':
		return "amp"
	default:
		return "zone"
	}
}

// encodeValue renders an attribute value as its JSON payload: booleans
// as true/false, everything else as a bare number.
func encodeValue(attr amp.Attribute, value int) []byte {
	if attr.Bool() {
		if value != 0 {
			return []byte("true")
		}
		return []byte("false")
	}
	return []byte(strconv.Itoa(value))
}

// decodeValue parses a set payload for an attribute: JSON booleans for
// flag attributes, JSON numbers (integral) for everything; numeric 0/1
// is also accepted for flags.
func decodeValue(attr amp.Attribute, payload []byte) (int, error) {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPayload, payload)
	}

	switch val := v.(type) {
	case bool:
		if !attr.Bool() {
			return 0, fmt.Errorf("%w: boolean for %s", ErrInvalidPayload, attr)
		}
		if val {
			return 1, nil
		}
		return 0, nil
	case float64:
		n := int(val)
		if float64(n) != val {
			return 0, fmt.Errorf("%w: non-integral %v for %s", ErrInvalidPayload, val, attr)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %q for %s", ErrInvalidPayload, payload, attr)
	}
}

func (b *Bridge) logInfo(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Info(msg, args...)
	}
}

func (b *Bridge) logWarn(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, args...)
	}
}
