package amp

import (
	"fmt"
	"sort"
)

// Protocol limits for the MPR-6ZHMAUT expansion bus.
const (
	// MinAmpID is the lowest unit ID selectable on the rear DIP switch.
	MinAmpID = 1

	// MaxAmpID is the highest unit ID; up to three units daisy-chain.
	MaxAmpID = 3

	// ZonesPerAmp is the number of physical zones per unit.
	ZonesPerAmp = 6
)

// ZoneID addresses a zone on the amplifier bus. Amp is the unit ID (1-3)
// and Zone the zone number within the unit (1-6).
//
// Two virtual forms exist, mirroring the protocol's own addressing:
//   - Zone 0 addresses every zone of one unit (e.g. "10").
//   - Amp 0, Zone 0 is the system zone addressing every zone of every
//     configured unit ("00").
//
// Virtual zones carry a name in configuration but no state of their own;
// writes to them fan out to the physical zones they cover.
type ZoneID struct {
	Amp  uint8
	Zone uint8
}

// SystemZone addresses all zones on all configured amps.
var SystemZone = ZoneID{}

// ParseZoneID parses a two-digit protocol zone ID such as "11", "30",
// or "00".
//
// Returns:
//   - ZoneID: Parsed zone
//   - error: ErrInvalidZone if the string is not a valid zone ID
func ParseZoneID(s string) (ZoneID, error) {
	if len(s) != 2 || s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return ZoneID{}, fmt.Errorf("%w: %q", ErrInvalidZone, s)
	}

	id := ZoneID{Amp: s[0] - '0', Zone: s[1] - '0'}
	if err := id.Validate(); err != nil {
		return ZoneID{}, err
	}
	return id, nil
}

// Validate checks the ID against the protocol's addressable range.
func (z ZoneID) Validate() error {
	if z == SystemZone {
		return nil
	}
	if z.Amp < MinAmpID || z.Amp > MaxAmpID {
		return fmt.Errorf("%w: amp %d out of range", ErrInvalidZone, z.Amp)
	}
	if z.Zone > ZonesPerAmp {
		return fmt.Errorf("%w: zone %d out of range", ErrInvalidZone, z.Zone)
	}
	return nil
}

// String returns the two-digit protocol form, e.g. "11" or "00".
func (z ZoneID) String() string {
	return fmt.Sprintf("%d%d", z.Amp, z.Zone)
}

// IsVirtual reports whether the ID is an amp or system zone rather than
// a single physical zone.
func (z ZoneID) IsVirtual() bool {
	return z.Zone == 0
}

// Expand resolves the ID to the physical zones it addresses. The fan-out
// follows the protocol-addressable range, not the configured subset: an
// amp zone always covers zones 1-6 of that unit, and the system zone
// covers zones 1-6 of every amp in amps.
//
// Parameters:
//   - amps: Configured amp IDs, used only by the system zone
//
// Returns:
//   - []ZoneID: Physical zones in ascending order
func (z ZoneID) Expand(amps []uint8) []ZoneID {
	if !z.IsVirtual() {
		return []ZoneID{z}
	}

	targets := amps
	if z != SystemZone {
		targets = []uint8{z.Amp}
	}

	sorted := make([]uint8, len(targets))
	copy(sorted, targets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	zones := make([]ZoneID, 0, len(sorted)*ZonesPerAmp)
	for _, a := range sorted {
		for n := uint8(1); n <= ZonesPerAmp; n++ {
			zones = append(zones, ZoneID{Amp: a, Zone: n})
		}
	}
	return zones
}

// Attribute identifies a per-zone audio attribute. The constant order
// matches the field order of the zone enquiry response line.
type Attribute uint8

const (
	AttrPublicAnnouncement Attribute = iota
	AttrPower
	AttrMute
	AttrDoNotDisturb
	AttrVolume
	AttrTreble
	AttrBass
	AttrBalance
	AttrSource
	AttrKeypadConnected

	// NumAttributes is the number of attributes per zone.
	NumAttributes = int(AttrKeypadConnected) + 1
)

// attrInfo describes one attribute's wire and MQTT representation.
// Tone and balance use the amp's raw unsigned domain (centre 7 for
// treble/bass, 10 for balance); no signed re-mapping is applied.
type attrInfo struct {
	name     string // kebab-case MQTT name
	key      string // two-letter set command key, empty if read-only
	min, max int
	boolean  bool
}

var attributes = [NumAttributes]attrInfo{
	AttrPublicAnnouncement: {name: "public-announcement", min: 0, max: 1, boolean: true},
	AttrPower:              {name: "power", key: "PR", min: 0, max: 1, boolean: true},
	AttrMute:               {name: "mute", key: "MU", min: 0, max: 1, boolean: true},
	AttrDoNotDisturb:       {name: "do-not-disturb", key: "DT", min: 0, max: 1, boolean: true},
	AttrVolume:             {name: "volume", key: "VO", min: 0, max: 38},
	AttrTreble:             {name: "treble", key: "TR", min: 0, max: 14},
	AttrBass:               {name: "bass", key: "BS", min: 0, max: 14},
	AttrBalance:            {name: "balance", key: "BL", min: 0, max: 20},
	AttrSource:             {name: "source", key: "CH", min: 1, max: 6},
	AttrKeypadConnected:    {name: "keypad-connected", min: 0, max: 1, boolean: true},
}

// ParseAttribute resolves a kebab-case attribute name as used in MQTT
// topics, e.g. "do-not-disturb".
//
// Returns:
//   - Attribute: Matching attribute
//   - error: ErrInvalidAttribute if the name is unknown
func ParseAttribute(name string) (Attribute, error) {
	for a := Attribute(0); int(a) < NumAttributes; a++ {
		if attributes[a].name == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAttribute, name)
}

// String returns the kebab-case attribute name.
func (a Attribute) String() string {
	if int(a) >= NumAttributes {
		return fmt.Sprintf("attribute(%d)", uint8(a))
	}
	return attributes[a].name
}

// ReadOnly reports whether the amp rejects writes to the attribute.
// Public announcement and keypad state are reported by the amp only.
func (a Attribute) ReadOnly() bool {
	return attributes[a].key == ""
}

// Bool reports whether the attribute is a boolean flag on the wire (00/01).
func (a Attribute) Bool() bool {
	return attributes[a].boolean
}

// Range returns the inclusive wire-value range of the attribute.
func (a Attribute) Range() (min, max int) {
	return attributes[a].min, attributes[a].max
}

// ValidateValue checks value against the attribute's wire range.
//
// Returns:
//   - error: ErrValueOutOfRange when the value cannot be written
func (a Attribute) ValidateValue(value int) error {
	min, max := a.Range()
	if value < min || value > max {
		return fmt.Errorf("%w: %s=%d (allowed %d-%d)", ErrValueOutOfRange, a, value, min, max)
	}
	return nil
}

// commandKey returns the two-letter key for set commands. Callers must
// check ReadOnly first.
func (a Attribute) commandKey() string {
	return attributes[a].key
}

// AttributeValues holds one wire value per attribute, indexed by Attribute.
type AttributeValues [NumAttributes]int

// Get returns the value for attr.
func (v AttributeValues) Get(attr Attribute) int {
	return v[attr]
}

// ZoneStatus is one decoded zone enquiry response line.
type ZoneStatus struct {
	ID     ZoneID
	Values AttributeValues
}

// WriteOrigin records which input produced a pending write.
type WriteOrigin string

const (
	OriginMQTT      WriteOrigin = "mqtt"
	OriginShairport WriteOrigin = "shairport"
	OriginInternal  WriteOrigin = "internal"
)

// PendingWrite is a queued attribute adjustment awaiting the bus
// scheduler. Zone may be virtual; the scheduler expands it before
// execution.
type PendingWrite struct {
	Zone   ZoneID
	Attr   Attribute
	Value  int
	Origin WriteOrigin
}

// Change is one observed attribute change, emitted after a poll diff or
// an optimistic write. Corrective is set when a poll overruled a
// provisional value that a write had published optimistically.
type Change struct {
	Zone       ZoneID
	Attr       Attribute
	Value      int
	Origin     WriteOrigin
	Corrective bool
}
