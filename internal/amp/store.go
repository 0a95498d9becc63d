package amp

import "sync"

// Store holds the last known wire state of every physical zone.
//
// The bus scheduler is the only mutator, applying poll results and
// optimistic writes from its goroutine. Reads (Snapshot, Value) take a
// read lock and may come from any goroutine; the volume follower uses
// them to resolve which zones sit on a source.
//
// Reconciliation model: a write updates the working value immediately
// and marks it provisional. The next poll either confirms the value
// (silently) or overrules it; the amp and its keypads are the ultimate
// truth, so on disagreement the polled value wins and a corrective
// change is emitted.
type Store struct {
	mu    sync.RWMutex
	zones map[ZoneID]*zoneState
}

type zoneState struct {
	values       AttributeValues
	published    AttributeValues
	hasPublished [NumAttributes]bool
	provisional  [NumAttributes]bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{zones: make(map[ZoneID]*zoneState)}
}

// ApplyStatus folds one polled status line into the store and returns
// the changes to publish. Attributes equal to their last published
// value are suppressed; provisional values are confirmed or overruled.
func (s *Store) ApplyStatus(st ZoneStatus) []Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	z := s.zone(st.ID)
	var changes []Change

	for a := Attribute(0); int(a) < NumAttributes; a++ {
		polled := st.Values[a]

		if z.provisional[a] {
			z.provisional[a] = false
			if polled == z.values[a] {
				// Optimistic write confirmed; already published.
				continue
			}
			// Poll wins over the provisional value.
			z.values[a] = polled
			if !z.hasPublished[a] || polled != z.published[a] {
				z.published[a] = polled
				z.hasPublished[a] = true
				changes = append(changes, Change{
					Zone: st.ID, Attr: a, Value: polled,
					Origin: OriginInternal, Corrective: true,
				})
			}
			continue
		}

		z.values[a] = polled
		if !z.hasPublished[a] || polled != z.published[a] {
			z.published[a] = polled
			z.hasPublished[a] = true
			changes = append(changes, Change{
				Zone: st.ID, Attr: a, Value: polled, Origin: OriginInternal,
			})
		}
	}
	return changes
}

// ApplyWrite records a successfully transmitted set command as the
// provisional zone value and returns the eager change event, if the
// value differs from what was last published.
//
// Returns:
//   - Change: Event to publish
//   - bool: False when the write matches the published value and no
//     event is due (the provisional mark is still set)
func (s *Store) ApplyWrite(zone ZoneID, attr Attribute, value int, origin WriteOrigin) (Change, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	z := s.zone(zone)
	z.values[attr] = value
	z.provisional[attr] = true

	if z.hasPublished[attr] && value == z.published[attr] {
		return Change{}, false
	}
	z.published[attr] = value
	z.hasPublished[attr] = true
	return Change{Zone: zone, Attr: attr, Value: value, Origin: origin}, true
}

// Value returns the current wire value of one attribute.
//
// Returns:
//   - int: Current value
//   - bool: False if the zone has never been polled
func (s *Store) Value(zone ZoneID, attr Attribute) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	z, ok := s.zones[zone]
	if !ok {
		return 0, false
	}
	return z.values[attr], true
}

// Snapshot returns a copy of all known zone values.
func (s *Store) Snapshot() map[ZoneID]AttributeValues {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(map[ZoneID]AttributeValues, len(s.zones))
	for id, z := range s.zones {
		snap[id] = z.values
	}
	return snap
}

// zone returns the state for id, creating it on first sight.
// Callers hold the write lock.
func (s *Store) zone(id ZoneID) *zoneState {
	z, ok := s.zones[id]
	if !ok {
		z = &zoneState{}
		s.zones[id] = z
	}
	return z
}
