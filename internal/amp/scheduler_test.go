package amp

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeAmpBus is a fakePort with zone state behind it: enquiries answer
// with status lines, set commands mutate the state, exactly as the
// hardware chain would.
type fakeAmpBus struct {
	port *fakePort

	mu    sync.Mutex
	zones map[ZoneID]AttributeValues
}

func newFakeAmpBus(ampIDs ...uint8) *fakeAmpBus {
	bus := &fakeAmpBus{
		port:  newFakePort(9600),
		zones: make(map[ZoneID]AttributeValues),
	}
	for _, ampID := range ampIDs {
		for n := uint8(1); n <= ZonesPerAmp; n++ {
			bus.zones[ZoneID{Amp: ampID, Zone: n}] = testValues()
		}
	}
	bus.port.handle = bus.handleCommand
	return bus
}

// handleCommand runs under the port lock, serialized with all bus traffic.
func (f *fakeAmpBus) handleCommand(cmd string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.HasPrefix(cmd, "?") && len(cmd) == 3:
		id, err := ParseZoneID(cmd[1:3])
		if err != nil {
			return []string{string(rejectionChunk)}
		}
		var lines []string
		for _, zone := range id.Expand(nil) {
			values, ok := f.zones[zone]
			if !ok {
				continue
			}
			lines = append(lines, string(encodeStatusLine(zone, values)))
		}
		return lines

	case strings.HasPrefix(cmd, "<") && len(cmd) == 7:
		id, err := ParseZoneID(cmd[1:3])
		if err != nil || id.IsVirtual() {
			return []string{string(rejectionChunk)}
		}
		attr, ok := attrByKey(cmd[3:5])
		if !ok {
			return []string{string(rejectionChunk)}
		}
		value, err := decodeField([]byte(cmd[5:7]))
		if err != nil {
			return []string{string(rejectionChunk)}
		}
		values := f.zones[id]
		values[attr] = value
		f.zones[id] = values
		return nil

	default:
		return []string{string(rejectionChunk)}
	}
}

func (f *fakeAmpBus) value(zone ZoneID, attr Attribute) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.zones[zone][attr]
}

func attrByKey(key string) (Attribute, bool) {
	for a := Attribute(0); int(a) < NumAttributes; a++ {
		if a.commandKey() == key {
			return a, true
		}
	}
	return 0, false
}

// collectChanges wires a scheduler's change callback into a channel.
func collectChanges(s *Scheduler) <-chan Change {
	ch := make(chan Change, 256)
	s.SetOnChange(func(c Change) {
		select {
		case ch <- c:
		default:
		}
	})
	return ch
}

func waitConnected(t *testing.T, connected <-chan struct{}) {
	t.Helper()
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler never reported connected")
	}
}

func TestScheduler_InitialPoll(t *testing.T) {
	bus := newFakeAmpBus(1)
	conn := NewConn(bus.port)
	store := NewStore()

	s := NewScheduler(conn, store, []uint8{1}, 20*time.Millisecond, nil)
	changes := collectChanges(s)
	connected := make(chan struct{})
	s.SetOnConnected(func() { close(connected) })

	s.Start()
	defer s.Stop()

	waitConnected(t, connected)

	// The first round seeds every attribute of every zone.
	want := ZonesPerAmp * NumAttributes
	seen := 0
	deadline := time.After(2 * time.Second)
	for seen < want {
		select {
		case <-changes:
			seen++
		case <-deadline:
			t.Fatalf("saw %d changes, want %d", seen, want)
		}
	}

	if v, ok := store.Value(ZoneID{Amp: 1, Zone: 3}, AttrVolume); !ok || v != testValues()[AttrVolume] {
		t.Errorf("store volume = %d (ok=%v), want %d", v, ok, testValues()[AttrVolume])
	}
}

func TestScheduler_WriteRoundtrip(t *testing.T) {
	bus := newFakeAmpBus(1)
	conn := NewConn(bus.port)
	store := NewStore()

	s := NewScheduler(conn, store, []uint8{1}, 20*time.Millisecond, nil)
	changes := collectChanges(s)
	connected := make(chan struct{})
	s.SetOnConnected(func() { close(connected) })

	s.Start()
	defer s.Stop()
	waitConnected(t, connected)

	zone := ZoneID{Amp: 1, Zone: 2}
	if err := s.Submit(PendingWrite{Zone: zone, Attr: AttrVolume, Value: 30, Origin: OriginMQTT}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.Zone == zone && c.Attr == AttrVolume && c.Value == 30 {
				if c.Origin != OriginMQTT {
					t.Errorf("change origin = %q, want mqtt", c.Origin)
				}
				if got := bus.value(zone, AttrVolume); got != 30 {
					t.Errorf("amp volume = %d, want 30", got)
				}
				return
			}
		case <-deadline:
			t.Fatal("write change never observed")
		}
	}
}

func TestScheduler_SubmitValidation(t *testing.T) {
	s := NewScheduler(nil, nil, []uint8{1}, time.Second, nil)

	tests := []struct {
		name  string
		write PendingWrite
		want  error
	}{
		{
			name:  "invalid zone",
			write: PendingWrite{Zone: ZoneID{Amp: 4, Zone: 1}, Attr: AttrVolume, Value: 10},
			want:  ErrInvalidZone,
		},
		{
			name:  "read-only attribute",
			write: PendingWrite{Zone: ZoneID{Amp: 1, Zone: 1}, Attr: AttrKeypadConnected, Value: 1},
			want:  ErrReadOnlyAttribute,
		},
		{
			name:  "value out of range",
			write: PendingWrite{Zone: ZoneID{Amp: 1, Zone: 1}, Attr: AttrVolume, Value: 39},
			want:  ErrValueOutOfRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Submit(tt.write); !errors.Is(err, tt.want) {
				t.Errorf("Submit() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestScheduler_SubmitQueueFull(t *testing.T) {
	s := NewScheduler(nil, nil, []uint8{1}, time.Second, nil)
	w := PendingWrite{Zone: ZoneID{Amp: 1, Zone: 1}, Attr: AttrVolume, Value: 10}

	for i := 0; i < defaultWriteQueueSize; i++ {
		if err := s.Submit(w); err != nil {
			t.Fatalf("Submit() %d error = %v", i, err)
		}
	}
	if err := s.Submit(w); !errors.Is(err, ErrWriteQueueFull) {
		t.Errorf("Submit() error = %v, want ErrWriteQueueFull", err)
	}
}

func TestScheduler_SubmitAfterStop(t *testing.T) {
	s := NewScheduler(nil, nil, []uint8{1}, time.Second, nil)
	s.Stop()

	err := s.Submit(PendingWrite{Zone: ZoneID{Amp: 1, Zone: 1}, Attr: AttrVolume, Value: 10})
	if !errors.Is(err, ErrSchedulerStopped) {
		t.Errorf("Submit() error = %v, want ErrSchedulerStopped", err)
	}
}

func TestScheduler_CoalesceKeepsNewestValue(t *testing.T) {
	s := NewScheduler(nil, nil, []uint8{1}, time.Second, nil)
	zone := ZoneID{Amp: 1, Zone: 1}

	batch := []PendingWrite{
		{Zone: zone, Attr: AttrVolume, Value: 10, Origin: OriginMQTT},
		{Zone: zone, Attr: AttrVolume, Value: 20, Origin: OriginShairport},
		{Zone: zone, Attr: AttrPower, Value: 1, Origin: OriginMQTT},
		{Zone: zone, Attr: AttrVolume, Value: 30, Origin: OriginMQTT},
	}

	out := s.coalesceWrites(batch)
	if len(out) != 2 {
		t.Fatalf("coalesced to %d writes, want 2", len(out))
	}
	// First-seen order is preserved; the value is the newest.
	if out[0].Attr != AttrVolume || out[0].Value != 30 {
		t.Errorf("out[0] = %s=%d, want volume=30", out[0].Attr, out[0].Value)
	}
	if out[1].Attr != AttrPower || out[1].Value != 1 {
		t.Errorf("out[1] = %s=%d, want power=1", out[1].Attr, out[1].Value)
	}
}

func TestScheduler_CoalesceExpandsVirtualZones(t *testing.T) {
	s := NewScheduler(nil, nil, []uint8{1, 2}, time.Second, nil)

	out := s.coalesceWrites([]PendingWrite{
		{Zone: SystemZone, Attr: AttrPower, Value: 0, Origin: OriginMQTT},
	})
	if len(out) != 2*ZonesPerAmp {
		t.Fatalf("system zone expanded to %d writes, want %d", len(out), 2*ZonesPerAmp)
	}
	for _, w := range out {
		if w.Zone.IsVirtual() {
			t.Errorf("expanded write still virtual: %v", w.Zone)
		}
	}

	// A later physical write overrides the expanded one.
	out = s.coalesceWrites([]PendingWrite{
		{Zone: ZoneID{Amp: 1}, Attr: AttrVolume, Value: 10, Origin: OriginMQTT},
		{Zone: ZoneID{Amp: 1, Zone: 4}, Attr: AttrVolume, Value: 25, Origin: OriginMQTT},
	})
	if len(out) != ZonesPerAmp {
		t.Fatalf("amp zone expanded to %d writes, want %d", len(out), ZonesPerAmp)
	}
	for _, w := range out {
		want := 10
		if w.Zone == (ZoneID{Amp: 1, Zone: 4}) {
			want = 25
		}
		if w.Value != want {
			t.Errorf("zone %v value = %d, want %d", w.Zone, w.Value, want)
		}
	}
}

func TestScheduler_ConcurrentSubmitters(t *testing.T) {
	bus := newFakeAmpBus(1)
	conn := NewConn(bus.port)
	store := NewStore()

	s := NewScheduler(conn, store, []uint8{1}, 10*time.Millisecond, nil)
	connected := make(chan struct{})
	s.SetOnConnected(func() { close(connected) })

	s.Start()
	defer s.Stop()
	waitConnected(t, connected)

	// One producer per zone, racing to submit; the scheduler owns the
	// bus, so every exchange must still complete cleanly.
	var wg sync.WaitGroup
	for n := uint8(1); n <= ZonesPerAmp; n++ {
		wg.Add(1)
		go func(zone ZoneID, value int) {
			defer wg.Done()
			if err := s.Submit(PendingWrite{Zone: zone, Attr: AttrVolume, Value: value, Origin: OriginMQTT}); err != nil {
				t.Errorf("Submit(%v) error = %v", zone, err)
			}
		}(ZoneID{Amp: 1, Zone: n}, 20+int(n))
	}
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for {
		settled := true
		for n := uint8(1); n <= ZonesPerAmp; n++ {
			if bus.value(ZoneID{Amp: 1, Zone: n}, AttrVolume) != 20+int(n) {
				settled = false
			}
		}
		if settled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("concurrent writes never all reached the amp")
		}
		time.Sleep(5 * time.Millisecond)
	}

	exchanges, timeouts, rejections := conn.Stats()
	if timeouts != 0 || rejections != 0 {
		t.Errorf("bus stats = %d exchanges, %d timeouts, %d rejections; want clean exchanges",
			exchanges, timeouts, rejections)
	}
}

func TestScheduler_StaleRound(t *testing.T) {
	bus := newFakeAmpBus(1)
	bus.port.ampRate = 0 // amp never answers

	conn := NewConn(bus.port)
	s := NewScheduler(conn, NewStore(), []uint8{1}, 10*time.Millisecond, nil)
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, stale, _, _ := s.Stats(); stale > 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("stale round never counted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
