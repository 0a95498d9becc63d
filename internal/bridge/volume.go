package bridge

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mwhaudio/mwha2mqtt/internal/amp"
)

// AirPlay volume domain, as reported by Shairport-Sync.
const (
	// airplayMute is the sentinel Shairport sends when the sender mutes.
	airplayMute = -144.0

	// airplayMin is the bottom of the linear volume range; 0 dB is the top.
	airplayMin = -30.0
)

// subscribeVolumeTopics subscribes to the Shairport volume topic of
// every source that configures one.
func (b *Bridge) subscribeVolumeTopics() error {
	for id, source := range b.cfg.Amp.Sources {
		if source.VolumeTopic == "" {
			continue
		}
		sourceID := id
		handler := func(_ string, payload []byte) error {
			return b.handleVolume(sourceID, payload)
		}
		if err := b.client.Subscribe(source.VolumeTopic, byte(b.cfg.MQTT.QoS), handler); err != nil {
			return fmt.Errorf("subscribing to volume topic for source %d: %w", sourceID, err)
		}
		b.logInfo("following shairport volume",
			"source", sourceID, "topic", source.VolumeTopic)
	}
	return nil
}

// handleVolume maps one Shairport volume report onto every configured
// zone currently listening to the source. Mute (-144) mutes the zones;
// any other level sets their volume (per-zone scaling) and unmutes
// zones that were muted. Writes go through the scheduler like any
// other, so the next poll reconciles whatever the amp accepted.
func (b *Bridge) handleVolume(sourceID int, payload []byte) error {
	level, err := parseAirplayVolume(payload)
	if err != nil {
		return fmt.Errorf("volume for source %d: %w", sourceID, err)
	}

	for zone, values := range b.store.Snapshot() {
		if values.Get(amp.AttrSource) != sourceID {
			continue
		}
		if _, configured := b.cfg.Amp.Zones[zone.String()]; !configured {
			continue
		}

		if level <= airplayMute {
			b.submitFollower(zone, amp.AttrMute, 1)
			continue
		}

		b.submitFollower(zone, amp.AttrVolume, b.targetVolume(zone, level))
		if values.Get(amp.AttrMute) != 0 {
			b.submitFollower(zone, amp.AttrMute, 0)
		}
	}
	return nil
}

// submitFollower queues one follower write; failures are logged, the
// next volume report tries again.
func (b *Bridge) submitFollower(zone amp.ZoneID, attr amp.Attribute, value int) {
	err := b.writes.Submit(amp.PendingWrite{
		Zone:   zone,
		Attr:   attr,
		Value:  value,
		Origin: amp.OriginShairport,
	})
	if err != nil {
		b.logWarn("follower write rejected",
			"zone", zone.String(), "attribute", attr.String(),
			"value", value, "error", err.Error())
	}
}

// targetVolume maps an AirPlay dB level onto a zone's volume scale
// using the zone's max_volume and volume_offset (falling back to the
// global shairport settings), clamped to the amp's volume range.
func (b *Bridge) targetVolume(zone amp.ZoneID, level float64) int {
	maxVolume := b.cfg.Shairport.MaxZoneVolume
	offset := b.cfg.Shairport.ZoneVolumeOffset
	if zc, ok := b.cfg.Amp.Zones[zone.String()]; ok {
		if zc.MaxVolume != nil {
			maxVolume = *zc.MaxVolume
		}
		if zc.VolumeOffset != nil {
			offset = *zc.VolumeOffset
		}
	}

	if level < airplayMin {
		level = airplayMin
	}
	if level > 0 {
		level = 0
	}
	fraction := 1 - level/airplayMin

	volume := int(math.Round(fraction*float64(maxVolume))) + offset

	min, max := amp.AttrVolume.Range()
	if volume < min {
		volume = min
	}
	if volume > max {
		volume = max
	}
	return volume
}

// parseAirplayVolume extracts the AirPlay volume from a Shairport
// volume line. The payload is comma-separated floats; the first is the
// AirPlay dB volume, the rest describe the attenuation pipeline.
func parseAirplayVolume(payload []byte) (float64, error) {
	line := strings.TrimSpace(string(payload))
	if i := strings.IndexByte(line, ','); i >= 0 {
		line = line[:i]
	}
	level, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPayload, payload)
	}
	return level, nil
}
